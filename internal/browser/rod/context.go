package rod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"scraperd/internal/browser"
)

var _ browser.Context = (*Context)(nil)

// Context is one incognito browser context with a single page. The
// page is bound to the engine's lifetime, not the caller's, so Dispose
// still works after an attempt context has been cancelled.
type Context struct {
	incog   *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

func (c *Context) Navigate(ctx context.Context, url string) error {
	p := c.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	p.WaitIdle(5 * time.Second)
	return nil
}

func (c *Context) WaitVisible(ctx context.Context, selector string) error {
	el, err := c.element(ctx, selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("wait visible: %s: %w", selector, err)
	}
	return nil
}

func (c *Context) Click(ctx context.Context, selector string) error {
	el, err := c.element(ctx, selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	c.page.Context(ctx).WaitIdle(2 * time.Second)
	return nil
}

func (c *Context) Fill(ctx context.Context, selector, value string) error {
	el, err := c.element(ctx, selector)
	if err != nil {
		return fmt.Errorf("field not found: %s: %w", selector, err)
	}

	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}

	if err := el.Input(value); err != nil {
		return fmt.Errorf("input failed: %w", err)
	}
	return nil
}

func (c *Context) PressEnter(ctx context.Context, selector string) error {
	if selector == "" {
		selector = "body"
	}
	el, err := c.element(ctx, selector)
	if err != nil {
		return fmt.Errorf("element not found: %s: %w", selector, err)
	}
	if err := el.Input("\r"); err != nil {
		return fmt.Errorf("failed to press Enter: %w", err)
	}
	c.page.Context(ctx).WaitIdle(1 * time.Second)
	return nil
}

func (c *Context) Text(ctx context.Context, selector string) (string, error) {
	el, err := c.element(ctx, selector)
	if err != nil {
		return "", fmt.Errorf("element not found: %s: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("failed to get text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Context) HTML(ctx context.Context) (string, error) {
	html, err := c.page.Context(ctx).Timeout(c.timeout).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return html, nil
}

func (c *Context) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	obj, err := c.page.Context(ctx).Timeout(c.timeout).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("eval failed: %w", err)
	}
	data, err := json.Marshal(obj.Value)
	if err != nil {
		return nil, fmt.Errorf("encode eval result: %w", err)
	}
	return data, nil
}

func (c *Context) Screenshot(ctx context.Context) ([]byte, error) {
	imgBytes, err := c.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(80),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}

	if img.Bounds().Dx() > 1024 {
		img = imaging.Resize(img, 1024, 0, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Context) CurrentURL() string {
	info, err := c.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Dispose closes the page and drops the incognito context so nothing
// from this session survives into the next checkout.
func (c *Context) Dispose() error {
	if err := c.page.Close(); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	err := proto.TargetDisposeBrowserContext{
		BrowserContextID: c.incog.BrowserContextID,
	}.Call(c.incog)
	if err != nil {
		return fmt.Errorf("dispose browser context: %w", err)
	}
	return nil
}

func (c *Context) element(ctx context.Context, selector string) (*rod.Element, error) {
	p := c.page.Context(ctx).Timeout(c.timeout)
	if strings.HasPrefix(selector, "/") || strings.Contains(selector, "xpath") {
		return p.ElementX(selector)
	}
	return p.Element(selector)
}
