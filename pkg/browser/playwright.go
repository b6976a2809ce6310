package browser

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Options configures the connection to the remote browser endpoint.
type Options struct {
	// Endpoint is the CDP address of the remote browser (e.g. http://localhost:9222).
	// The remote browser owns the persisted, logged-in profile.
	Endpoint string

	// ConnectTimeout bounds the initial connection attempt
	ConnectTimeout time.Duration
}

// DefaultConnectTimeout is used when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 30 * time.Second

// playwrightBackend drives the remote browser over CDP via Playwright. It
// attaches to the endpoint's existing browser context so the logged-in
// profile is reused, and opens pages inside that context.
type playwrightBackend struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	context  playwright.BrowserContext
	page     playwright.Page
	endpoint string
	timeout  time.Duration
}

var _ Backend = (*playwrightBackend)(nil)

// Connect establishes a connection to the remote browser endpoint and returns
// a Backend bound to its first page.
func Connect(opts Options) (Backend, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("backend endpoint is required")
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	// Install only the driver; the browser lives in the remote container.
	runOpts := &playwright.RunOptions{
		SkipInstallBrowsers: true,
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright driver: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	b := &playwrightBackend{
		pw:       pw,
		endpoint: opts.Endpoint,
		timeout:  opts.ConnectTimeout,
	}
	if err := b.attach(); err != nil {
		pw.Stop()
		return nil, err
	}
	return b, nil
}

// attach connects to the endpoint and binds the existing context and page.
func (b *playwrightBackend) attach() error {
	browser, err := b.pw.Chromium.ConnectOverCDP(b.endpoint, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(float64(b.timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("%w: connect to %s: %v", ErrDisconnected, b.endpoint, err)
	}

	var browserCtx playwright.BrowserContext
	if contexts := browser.Contexts(); len(contexts) > 0 {
		browserCtx = contexts[0]
	} else {
		browserCtx, err = browser.NewContext()
		if err != nil {
			browser.Close()
			return fmt.Errorf("failed to create browser context: %w", err)
		}
	}

	var page playwright.Page
	if pages := browserCtx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = browserCtx.NewPage()
		if err != nil {
			browser.Close()
			return fmt.Errorf("failed to open page: %w", err)
		}
	}

	b.browser = browser
	b.context = browserCtx
	b.page = page
	return nil
}

func (b *playwrightBackend) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitUntil := playwright.WaitUntilStateDomcontentloaded
	_, err := b.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   opTimeout(ctx),
	})
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (b *playwrightBackend) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.page.Click(selector, playwright.PageClickOptions{Timeout: opTimeout(ctx)}); err != nil {
		return fmt.Errorf("click %q failed: %w", selector, err)
	}
	return nil
}

func (b *playwrightBackend) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.page.Fill(selector, value, playwright.PageFillOptions{Timeout: opTimeout(ctx)}); err != nil {
		return fmt.Errorf("fill %q failed: %w", selector, err)
	}
	return nil
}

func (b *playwrightBackend) Type(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.page.Type(selector, value, playwright.PageTypeOptions{Timeout: opTimeout(ctx)}); err != nil {
		return fmt.Errorf("type into %q failed: %w", selector, err)
	}
	return nil
}

func (b *playwrightBackend) Upload(ctx context.Context, selector, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read upload file: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	file := playwright.InputFile{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Buffer:   data,
	}
	err = b.page.SetInputFiles(selector, []playwright.InputFile{file}, playwright.PageSetInputFilesOptions{Timeout: opTimeout(ctx)})
	if err != nil {
		return fmt.Errorf("upload to %q failed: %w", selector, err)
	}
	return nil
}

func (b *playwrightBackend) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state := playwright.WaitForSelectorStateVisible
	_, err := b.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   state,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("wait for %q failed: %w", selector, err)
	}
	return nil
}

func (b *playwrightBackend) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	element, err := b.page.QuerySelector(selector)
	if err != nil {
		return false, fmt.Errorf("query %q failed: %w", selector, err)
	}
	return element != nil, nil
}

// loginWallSelector detects the login form shown when the profile's session
// expired.
const loginWallSelector = `input[name="email"]`

func (b *playwrightBackend) ReadState(ctx context.Context) (PageState, error) {
	if err := ctx.Err(); err != nil {
		return PageState{}, err
	}

	title, err := b.page.Title()
	if err != nil {
		return PageState{}, fmt.Errorf("%w: read title: %v", ErrDisconnected, err)
	}

	loginWall, err := b.Exists(ctx, loginWallSelector)
	if err != nil {
		return PageState{}, err
	}

	return PageState{
		URL:       b.page.URL(),
		Title:     title,
		LoginWall: loginWall,
	}, nil
}

func (b *playwrightBackend) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := b.page.Content()
	if err != nil {
		return "", fmt.Errorf("%w: read content: %v", ErrDisconnected, err)
	}
	return html, nil
}

func (b *playwrightBackend) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	return nil
}

// Reset drops the current CDP connection and reconnects to the endpoint. The
// remote browser and its profile are untouched.
func (b *playwrightBackend) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.browser != nil {
		_ = b.browser.Close() // disconnects only; remote browser keeps running
	}
	if err := b.attach(); err != nil {
		return err
	}
	return nil
}

func (b *playwrightBackend) Close() error {
	var firstErr error
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			firstErr = err
		}
		b.browser = nil
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.pw = nil
	}
	return firstErr
}

// opTimeout derives a Playwright timeout from the context deadline, so a
// bounded Execute window also bounds each underlying backend call.
func opTimeout(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	return playwright.Float(float64(remaining.Milliseconds()))
}
