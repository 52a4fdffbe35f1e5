// Package rod backs the browser interfaces with a real Chromium
// process driven over CDP.
package rod

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"scraperd/internal/browser"
)

var _ browser.Engine = (*Engine)(nil)

type EngineConfig struct {
	Headless   bool
	DevTools   bool
	NoSandbox  bool
	SlowMotion time.Duration
	// Timeout bounds every element lookup inside a single operation.
	Timeout time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Headless: true,
		Timeout:  10 * time.Second,
	}
}

// Engine owns one Chromium process. Contexts carved from it are
// incognito browser contexts, so they share the process but nothing
// else.
type Engine struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	timeout  time.Duration
}

func Launch(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEngineConfig().Timeout
	}

	l := launcher.New().
		Context(ctx).
		Headless(cfg.Headless).
		Devtools(cfg.DevTools).
		NoSandbox(cfg.NoSandbox).
		Delete("use-mock-keychain").
		Set("disable-web-security").
		Set("allow-running-insecure-content").
		Set("disable-setuid-sandbox")

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if cfg.SlowMotion > 0 {
		b = b.SlowMotion(cfg.SlowMotion)
	}
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}

	return &Engine{
		browser:  b,
		launcher: l,
		timeout:  cfg.Timeout,
	}, nil
}

// NewFactory adapts Launch to the pool's factory signature.
func NewFactory(cfg EngineConfig) browser.Factory {
	return func(ctx context.Context) (browser.Engine, error) {
		return Launch(ctx, cfg)
	}
}

func (e *Engine) NewContext(ctx context.Context) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incog, err := e.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}

	page, err := incog.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		proto.TargetDisposeBrowserContext{BrowserContextID: incog.BrowserContextID}.Call(incog)
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &Context{
		incog:   incog,
		page:    page,
		timeout: e.timeout,
	}, nil
}

// Close takes the whole Chromium process down, including every context
// carved from it.
func (e *Engine) Close() error {
	err := e.browser.Close()
	e.launcher.Kill()
	e.launcher.Cleanup()
	return err
}
