package browser

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrExhausted is returned by Acquire when no slot frees up within
	// the acquire timeout.
	ErrExhausted = errors.New("browser pool exhausted")
	// ErrPoolClosed is returned by Acquire once Shutdown has started.
	ErrPoolClosed = errors.New("browser pool closed")
	// ErrLaunchFailed wraps engine launch and context creation failures.
	ErrLaunchFailed = errors.New("browser launch failed")
)

// Context is one isolated browsing session. Sessions never share
// cookies, storage or cache with each other.
type Context interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	PressEnter(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	HTML(ctx context.Context) (string, error)
	Eval(ctx context.Context, js string) (json.RawMessage, error)
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL() string
	Dispose() error
}

// Engine is a running browser process that can carve out isolated
// contexts.
type Engine interface {
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

// Factory launches a fresh engine. The pool calls it at startup and
// again whenever a dead slot is checked out.
type Factory func(ctx context.Context) (Engine, error)

// Script is a unit of browser work executed against a leased context.
type Script interface {
	Run(ctx context.Context, bctx Context) (json.RawMessage, error)
}

// ScriptFunc adapts a plain function to the Script interface.
type ScriptFunc func(ctx context.Context, bctx Context) (json.RawMessage, error)

func (f ScriptFunc) Run(ctx context.Context, bctx Context) (json.RawMessage, error) {
	return f(ctx, bctx)
}
