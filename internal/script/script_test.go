package script

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scraperd/internal/browser/browsertest"
	"scraperd/internal/entity"
)

func TestParse(t *testing.T) {
	steps, err := Parse([]byte(`[
		{"type": "navigate", "url": "https://example.com/login"},
		{"type": "wait_visible", "selector": "#password"},
		{"type": "fill", "selector": "#password", "value": "hunter2"},
		{"type": "press_enter"},
		{"type": "sleep", "duration_ms": 200},
		{"type": "extract_text", "selector": "h1", "name": "headline"}
	]`))
	require.NoError(t, err)
	require.Len(t, steps, 6)
	assert.Equal(t, StepNavigate, steps[0].Type)
	assert.Equal(t, "headline", steps[5].Name)
}

func TestParseRejectsInvalidScripts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type": "navigate"`},
		{"not an array", `{"type": "navigate", "url": "https://x"}`},
		{"empty script", `[]`},
		{"unknown step type", `[{"type": "teleport"}]`},
		{"navigate without url", `[{"type": "navigate"}]`},
		{"navigate with bad scheme", `[{"type": "navigate", "url": "ftp://example.com"}]`},
		{"navigate with javascript url", `[{"type": "navigate", "url": "javascript:alert(1)"}]`},
		{"click without selector", `[{"type": "click"}]`},
		{"wait_visible without selector", `[{"type": "wait_visible"}]`},
		{"fill without selector", `[{"type": "fill", "value": "x"}]`},
		{"extract_text without selector", `[{"type": "extract_text"}]`},
		{"eval without js", `[{"type": "eval"}]`},
		{"sleep without duration", `[{"type": "sleep"}]`},
		{"sleep with negative duration", `[{"type": "sleep", "duration_ms": -5}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestRunCollectsResults(t *testing.T) {
	bctx := &browsertest.Context{
		TextFunc: func(ctx context.Context, selector string) (string, error) {
			return "Hello World", nil
		},
		HTMLFunc: func(ctx context.Context) (string, error) {
			return `<html><body><h1 onclick="x()">Hi</h1><script>evil()</script></body></html>`, nil
		},
		EvalFunc: func(ctx context.Context, js string) (json.RawMessage, error) {
			return json.RawMessage(`{"count": 3}`), nil
		},
		ScreenshotFunc: func(ctx context.Context) ([]byte, error) {
			return []byte{0xff, 0xd8, 0xff, 0x00}, nil
		},
	}

	steps, err := Parse([]byte(`[
		{"type": "navigate", "url": "https://example.com"},
		{"type": "fill", "selector": "#q", "value": "golang"},
		{"type": "click", "selector": "#go"},
		{"type": "extract_text", "selector": "h1", "name": "headline"},
		{"type": "eval", "js": "() => window.stats", "name": "stats"},
		{"type": "extract_html"},
		{"type": "screenshot", "name": "shot"}
	]`))
	require.NoError(t, err)

	payload, err := steps.Run(context.Background(), bctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com"}, bctx.Visited())
	assert.Equal(t, "golang", bctx.Filled("#q"))
	assert.Equal(t, []string{"#go"}, bctx.Clicked())

	var results map[string]any
	require.NoError(t, json.Unmarshal(payload, &results))

	assert.Equal(t, "Hello World", results["headline"])
	assert.Equal(t, map[string]any{"count": float64(3)}, results["stats"])

	html, ok := results["html_5"].(string)
	require.True(t, ok, "unnamed extract gets a positional key")
	assert.Contains(t, html, "Hi")
	assert.NotContains(t, html, "script")
	assert.NotContains(t, html, "onclick")

	shot, ok := results["shot"].(string)
	require.True(t, ok, "screenshot travels as base64")
	decoded, err := base64.StdEncoding.DecodeString(shot)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0x00}, decoded)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	calls := 0
	bctx := &browsertest.Context{
		ClickFunc: func(ctx context.Context, selector string) error {
			return errors.New("element not found")
		},
		TextFunc: func(ctx context.Context, selector string) (string, error) {
			calls++
			return "", nil
		},
	}

	steps, err := Parse([]byte(`[
		{"type": "click", "selector": "#missing"},
		{"type": "extract_text", "selector": "h1"}
	]`))
	require.NoError(t, err)

	_, err = steps.Run(context.Background(), bctx)
	require.Error(t, err)
	assert.Equal(t, 0, calls, "steps after the failure must not run")

	var ce *entity.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entity.ErrorKindScript, ce.Kind)
	assert.Contains(t, ce.Error(), "step 0")
}

func TestRunClassifiesNavigationFailures(t *testing.T) {
	bctx := &browsertest.Context{
		NavigateFunc: func(ctx context.Context, url string) error {
			return errors.New("net::ERR_NAME_NOT_RESOLVED")
		},
	}

	steps, err := Parse([]byte(`[{"type": "navigate", "url": "https://bad.invalid"}]`))
	require.NoError(t, err)

	_, err = steps.Run(context.Background(), bctx)
	require.Error(t, err)

	var ce *entity.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, entity.ErrorKindNavigation, ce.Kind)
}

func TestRunSleepHonorsCancellation(t *testing.T) {
	steps, err := Parse([]byte(`[{"type": "sleep", "duration_ms": 5000}]`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = steps.Run(ctx, &browsertest.Context{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "cancel must interrupt the sleep")
}

func TestRunChecksContextBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	steps, err := Parse([]byte(`[{"type": "extract_html"}]`))
	require.NoError(t, err)

	_, err = steps.Run(ctx, &browsertest.Context{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSanitize(t *testing.T) {
	raw := `<html><head><title>T</title></head><body>
		<div style="color:red" data-track="1" onclick="steal()">
			<p>Visible text</p>
			<script>alert(1)</script>
			<style>.x{}</style>
			<noscript>no js</noscript>
			<iframe src="https://ads.example"></iframe>
			<svg><circle/></svg>
			<!-- internal note -->
			<a href="/next" tabindex="3">next</a>
		</div>
	</body></html>`

	clean := Sanitize(raw, nil)

	assert.Contains(t, clean, "Visible text")
	assert.Contains(t, clean, `href="/next"`)
	assert.NotContains(t, clean, "script")
	assert.NotContains(t, clean, "alert(1)")
	assert.NotContains(t, clean, "iframe")
	assert.NotContains(t, clean, "svg")
	assert.NotContains(t, clean, "onclick")
	assert.NotContains(t, clean, "style")
	assert.NotContains(t, clean, "data-track")
	assert.NotContains(t, clean, "tabindex")
	assert.NotContains(t, clean, "internal note")
}

func TestSanitizeTruncatesOversizedOutput(t *testing.T) {
	huge := "<html><body><p>" + longString(200) + "</p></body></html>"

	cfg := &SanitizeConfig{MaxOutputSize: 50}
	clean := Sanitize(huge, cfg)

	assert.LessOrEqual(t, len(clean), 50+len("\n<!-- truncated -->"))
	assert.Contains(t, clean, "truncated")
}

func longString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
