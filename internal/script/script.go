// Package script defines the declarative step language jobs are written
// in and executes parsed scripts against a browser context.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"scraperd/internal/browser"
	"scraperd/internal/entity"
)

const (
	StepNavigate    = "navigate"
	StepWaitVisible = "wait_visible"
	StepClick       = "click"
	StepFill        = "fill"
	StepPressEnter  = "press_enter"
	StepEval        = "eval"
	StepSleep       = "sleep"
	StepExtractText = "extract_text"
	StepExtractHTML = "extract_html"
	StepScreenshot  = "screenshot"
)

// Step is one instruction. Which fields are required depends on Type;
// Name labels the result of extracting steps in the job payload.
type Step struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	Selector   string `json:"selector,omitempty"`
	Value      string `json:"value,omitempty"`
	JS         string `json:"js,omitempty"`
	Name       string `json:"name,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

type Steps []Step

var _ browser.Script = Steps(nil)

// Parse decodes and validates a JSON array of steps. Validation is
// strict so a malformed script is rejected at submission instead of
// burning a browser attempt.
func Parse(data []byte) (Steps, error) {
	var steps Steps
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, errors.New("script has no steps")
	}
	for i, st := range steps {
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return steps, nil
}

func (s Step) validate() error {
	switch s.Type {
	case StepNavigate:
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("navigate requires an http(s) url, got %q", s.URL)
		}
	case StepWaitVisible, StepClick, StepExtractText:
		if s.Selector == "" {
			return fmt.Errorf("%s requires a selector", s.Type)
		}
	case StepFill:
		if s.Selector == "" {
			return errors.New("fill requires a selector")
		}
	case StepEval:
		if s.JS == "" {
			return errors.New("eval requires js")
		}
	case StepSleep:
		if s.DurationMs <= 0 {
			return errors.New("sleep requires a positive duration_ms")
		}
	case StepPressEnter, StepExtractHTML, StepScreenshot:
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// Run executes the steps in order against one browser context and
// returns the collected extractions as a JSON object. The first failing
// step aborts the run.
func (s Steps) Run(ctx context.Context, bctx browser.Context) (json.RawMessage, error) {
	results := make(map[string]any)
	for i, step := range s {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := runStep(ctx, bctx, i, step, results); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return nil, entity.Classified(entity.ErrorKindScript, fmt.Errorf("encode payload: %w", err))
	}
	return payload, nil
}

func runStep(ctx context.Context, bctx browser.Context, i int, step Step, results map[string]any) error {
	switch step.Type {
	case StepNavigate:
		if err := bctx.Navigate(ctx, step.URL); err != nil {
			return entity.Classified(entity.ErrorKindNavigation, fmt.Errorf("step %d: %w", i, err))
		}
	case StepWaitVisible:
		if err := bctx.WaitVisible(ctx, step.Selector); err != nil {
			return scriptErr(i, err)
		}
	case StepClick:
		if err := bctx.Click(ctx, step.Selector); err != nil {
			return scriptErr(i, err)
		}
	case StepFill:
		if err := bctx.Fill(ctx, step.Selector, step.Value); err != nil {
			return scriptErr(i, err)
		}
	case StepPressEnter:
		if err := bctx.PressEnter(ctx, step.Selector); err != nil {
			return scriptErr(i, err)
		}
	case StepEval:
		out, err := bctx.Eval(ctx, step.JS)
		if err != nil {
			return scriptErr(i, err)
		}
		results[resultKey(step, i, "eval")] = out
	case StepSleep:
		select {
		case <-time.After(time.Duration(step.DurationMs) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	case StepExtractText:
		text, err := bctx.Text(ctx, step.Selector)
		if err != nil {
			return scriptErr(i, err)
		}
		results[resultKey(step, i, "text")] = text
	case StepExtractHTML:
		raw, err := bctx.HTML(ctx)
		if err != nil {
			return scriptErr(i, err)
		}
		results[resultKey(step, i, "html")] = Sanitize(raw, nil)
	case StepScreenshot:
		img, err := bctx.Screenshot(ctx)
		if err != nil {
			return scriptErr(i, err)
		}
		// []byte marshals as base64, which is how screenshots travel
		// in the payload.
		results[resultKey(step, i, "screenshot")] = img
	}
	return nil
}

func scriptErr(i int, err error) error {
	return entity.Classified(entity.ErrorKindScript, fmt.Errorf("step %d: %w", i, err))
}

func resultKey(step Step, i int, prefix string) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("%s_%d", prefix, i)
}
