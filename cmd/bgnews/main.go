// Package main runs the bgnews publishing jobs: share re-posts monitored
// page posts to groups, scrape publishes fresh local news articles, weather
// posts the generated temperature map. Every job coordinates through the
// same file-based session lock so only one of them drives the remote browser
// at a time.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkirklewski/bgNews/pkg/config"
)

const version = "0.3.0"

type cliConfig struct {
	ConfigFile  string
	DryRun      bool
	ShowVersion bool
	Job         string
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("bgnews v%s\n", version)
		return
	}
	if cli.Job == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		cancel()
	}()
	defer cancel()

	if err := run(ctx, cli); err != nil {
		fmt.Fprintf(os.Stderr, "bgnews %s: %v\n", cli.Job, err)
		os.Exit(1)
	}
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "bgnews.yaml", "Path to configuration file (YAML)")
	flag.BoolVar(&cli.DryRun, "dry-run", false, "Run dedup and lock protocol without touching the browser")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bgnews - publishing jobs for the town's news page\n\n")
		fmt.Fprintf(os.Stderr, "Usage: bgnews [options] <job>\n\n")
		fmt.Fprintf(os.Stderr, "Jobs:\n")
		fmt.Fprintf(os.Stderr, "  share    re-share fresh page posts to local groups\n")
		fmt.Fprintf(os.Stderr, "  scrape   publish fresh local news articles to the page\n")
		fmt.Fprintf(os.Stderr, "  weather  publish the generated temperature map\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	cli.Job = flag.Arg(0)
	return cli
}

func run(ctx context.Context, cli *cliConfig) error {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.DryRun {
		cfg.DryRun = true
	}

	app, cleanup, err := newApp(cli.Job, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var job func(context.Context) error
	switch cli.Job {
	case "share":
		job = app.runShare
	case "scrape":
		job = app.runScrape
	case "weather":
		job = app.runWeather
	default:
		return fmt.Errorf("unknown job %q (want share, scrape or weather)", cli.Job)
	}

	return job(ctx)
}
