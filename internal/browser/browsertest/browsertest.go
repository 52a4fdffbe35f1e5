// Package browsertest provides in-memory fakes for the browser
// interfaces so pool and orchestration logic can be tested without a
// real engine process.
package browsertest

import (
	"context"
	"encoding/json"
	"sync"

	"scraperd/internal/browser"
)

var (
	_ browser.Engine  = (*Engine)(nil)
	_ browser.Context = (*Context)(nil)
)

// Engine is a fake browser process. Zero value is usable: every
// context it opens succeeds.
type Engine struct {
	NewContextFunc func(ctx context.Context) (browser.Context, error)
	CloseErr       error

	mu       sync.Mutex
	contexts int
	closes   int
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewContext(ctx context.Context) (browser.Context, error) {
	if e.NewContextFunc != nil {
		return e.NewContextFunc(ctx)
	}
	e.mu.Lock()
	e.contexts++
	e.mu.Unlock()
	return &Context{}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closes++
	e.mu.Unlock()
	return e.CloseErr
}

func (e *Engine) ContextCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contexts
}

func (e *Engine) CloseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// Context is a scriptable fake session. Hooks that are nil succeed with
// zero values.
type Context struct {
	NavigateFunc    func(ctx context.Context, url string) error
	WaitVisibleFunc func(ctx context.Context, selector string) error
	ClickFunc       func(ctx context.Context, selector string) error
	FillFunc        func(ctx context.Context, selector, value string) error
	PressEnterFunc  func(ctx context.Context, selector string) error
	TextFunc        func(ctx context.Context, selector string) (string, error)
	HTMLFunc        func(ctx context.Context) (string, error)
	EvalFunc        func(ctx context.Context, js string) (json.RawMessage, error)
	ScreenshotFunc  func(ctx context.Context) ([]byte, error)
	DisposeErr      error

	mu       sync.Mutex
	url      string
	visited  []string
	clicked  []string
	filled   map[string]string
	disposes int
}

func (c *Context) Navigate(ctx context.Context, url string) error {
	if c.NavigateFunc != nil {
		if err := c.NavigateFunc(ctx, url); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.url = url
	c.visited = append(c.visited, url)
	c.mu.Unlock()
	return nil
}

func (c *Context) WaitVisible(ctx context.Context, selector string) error {
	if c.WaitVisibleFunc != nil {
		return c.WaitVisibleFunc(ctx, selector)
	}
	return nil
}

func (c *Context) Click(ctx context.Context, selector string) error {
	if c.ClickFunc != nil {
		if err := c.ClickFunc(ctx, selector); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.clicked = append(c.clicked, selector)
	c.mu.Unlock()
	return nil
}

func (c *Context) Fill(ctx context.Context, selector, value string) error {
	if c.FillFunc != nil {
		if err := c.FillFunc(ctx, selector, value); err != nil {
			return err
		}
	}
	c.mu.Lock()
	if c.filled == nil {
		c.filled = make(map[string]string)
	}
	c.filled[selector] = value
	c.mu.Unlock()
	return nil
}

func (c *Context) PressEnter(ctx context.Context, selector string) error {
	if c.PressEnterFunc != nil {
		return c.PressEnterFunc(ctx, selector)
	}
	return nil
}

func (c *Context) Text(ctx context.Context, selector string) (string, error) {
	if c.TextFunc != nil {
		return c.TextFunc(ctx, selector)
	}
	return "", nil
}

func (c *Context) HTML(ctx context.Context) (string, error) {
	if c.HTMLFunc != nil {
		return c.HTMLFunc(ctx)
	}
	return "<html><body></body></html>", nil
}

func (c *Context) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	if c.EvalFunc != nil {
		return c.EvalFunc(ctx, js)
	}
	return json.RawMessage("null"), nil
}

func (c *Context) Screenshot(ctx context.Context) ([]byte, error) {
	if c.ScreenshotFunc != nil {
		return c.ScreenshotFunc(ctx)
	}
	return []byte{0xff, 0xd8, 0xff}, nil
}

func (c *Context) CurrentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *Context) Dispose() error {
	c.mu.Lock()
	c.disposes++
	c.mu.Unlock()
	return c.DisposeErr
}

func (c *Context) Visited() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.visited...)
}

func (c *Context) Clicked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.clicked...)
}

func (c *Context) Filled(selector string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filled[selector]
}

func (c *Context) DisposeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposes
}
