// Package config loads the bgnews configuration: a YAML file with
// environment variable overrides under the BGNEWS_ prefix.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/pkirklewski/bgNews/pkg/weather"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s"
// and from environment variables via envconfig.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.Decode(raw)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Backend configures the remote browser connection.
type Backend struct {
	// Endpoint is the CDP websocket or HTTP endpoint of the running browser.
	Endpoint          string   `yaml:"endpoint"`
	ConnectTimeout    Duration `yaml:"connect_timeout" split_words:"true"`
	ActionTimeout     Duration `yaml:"action_timeout" split_words:"true"`
	ReconnectAttempts int      `yaml:"reconnect_attempts" split_words:"true"`
}

// Dirs are the filesystem roots the jobs write under.
type Dirs struct {
	Data  string `yaml:"data"`
	Locks string `yaml:"locks"`
	Logs  string `yaml:"logs"`
	Debug string `yaml:"debug"`
}

// Page identifies the Facebook page the jobs publish to.
type Page struct {
	// Identity is the numeric profile id used for own-post matching.
	Identity string `yaml:"identity"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
}

// Lock configures the cross-process session lock.
type Lock struct {
	TTL Duration `yaml:"ttl"`
}

// ShareJob configures the monitored-page re-share job.
type ShareJob struct {
	StateFile      string   `yaml:"state_file"`
	MonitoredPages []string `yaml:"monitored_pages"`
	Groups         []string `yaml:"groups"`
	MaxPosts       int      `yaml:"max_posts"`
	Pacing         Duration `yaml:"pacing"`
}

// ScrapeJob configures the article scraping and publishing job.
type ScrapeJob struct {
	StateFile   string   `yaml:"state_file"`
	Sources     []string `yaml:"sources"`
	Keywords    []string `yaml:"keywords"`
	MaxArticles int      `yaml:"max_articles"`
	Pacing      Duration `yaml:"pacing"`
	PreviewWait Duration `yaml:"preview_wait"`
}

// WeatherJob configures the weather map job.
type WeatherJob struct {
	StateFile   string             `yaml:"state_file"`
	TownName    string             `yaml:"town_name"`
	Locative    string             `yaml:"locative"`
	Districts   []weather.District `yaml:"districts"`
	CenterIndex int                `yaml:"center_index"`
	Timezone    string             `yaml:"timezone"`
	ImagePath   string             `yaml:"image_path"`
	ProfileLink string             `yaml:"profile_link"`
	Hashtags    []string           `yaml:"hashtags"`
	Groups      []string           `yaml:"groups"`
	Pacing      Duration           `yaml:"pacing"`
}

// Config is the full bgnews configuration.
type Config struct {
	Backend Backend    `yaml:"backend"`
	Dirs    Dirs       `yaml:"dirs"`
	Page    Page       `yaml:"page"`
	Lock    Lock       `yaml:"lock"`
	Share   ShareJob   `yaml:"share"`
	Scrape  ScrapeJob  `yaml:"scrape"`
	Weather WeatherJob `yaml:"weather"`
	DryRun  bool       `yaml:"dry_run" split_words:"true"`
}

// Defaults returns a Config with every knob that has a sane default set.
func Defaults() Config {
	return Config{
		Backend: Backend{
			ConnectTimeout:    Duration(30 * time.Second),
			ActionTimeout:     Duration(90 * time.Second),
			ReconnectAttempts: 2,
		},
		Dirs: Dirs{
			Data:  "data",
			Locks: "data/locks",
			Logs:  "logs",
			Debug: "debug",
		},
		Lock: Lock{TTL: Duration(10 * time.Minute)},
		Share: ShareJob{
			StateFile: "share_state.json",
			MaxPosts:  3,
			Pacing:    Duration(20 * time.Second),
		},
		Scrape: ScrapeJob{
			StateFile:   "scrape_state.json",
			MaxArticles: 2,
			Pacing:      Duration(30 * time.Second),
			PreviewWait: Duration(8 * time.Second),
		},
		Weather: WeatherJob{
			StateFile: "weather_state.json",
			Timezone:  "Europe/Warsaw",
			Pacing:    Duration(20 * time.Second),
		},
	}
}

// Load reads the YAML file at path, applies BGNEWS_ environment overrides and
// validates the result. A missing file is an error; an empty path loads
// defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("bgnews", &cfg); err != nil {
		return Config{}, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants every job depends on.
func (c Config) Validate() error {
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend.endpoint is required")
	}
	if c.Page.Identity == "" {
		return fmt.Errorf("page.identity is required")
	}
	if c.Page.URL == "" {
		return fmt.Errorf("page.url is required")
	}
	if c.Lock.TTL.Std() <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.Backend.ReconnectAttempts < 0 {
		return fmt.Errorf("backend.reconnect_attempts must not be negative")
	}
	if c.Weather.CenterIndex < 0 || (len(c.Weather.Districts) > 0 && c.Weather.CenterIndex >= len(c.Weather.Districts)) {
		return fmt.Errorf("weather.center_index out of range")
	}
	return nil
}
