// File: internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/browser"
	"github.com/stitchqa/stitch/internal/config"
	"github.com/stitchqa/stitch/internal/healing"
	"github.com/stitchqa/stitch/internal/history"
	"github.com/stitchqa/stitch/internal/recovery"
)

// fakeBrowser is a scriptable browser.Capability. Override the *Func fields
// to control behavior; call logs let tests assert exactly what ran.
type fakeBrowser struct {
	mu sync.Mutex

	clickFunc       func(selector string) error
	extractFunc     func(selector string) (string, error)
	networkIdleFunc func(ctx context.Context) error

	url       string
	clicks    []string
	navigates []string
	typed     map[string]string
	snapshot  *browser.PageSnapshot
	snapshots int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{typed: make(map[string]string)}
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigates = append(f.navigates, url)
	f.url = url
	return nil
}

func (f *fakeBrowser) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeBrowser) Find(ctx context.Context, sel string) (int, error) { return 1, nil }

func (f *fakeBrowser) IsVisible(ctx context.Context, sel string) (bool, error) { return true, nil }

func (f *fakeBrowser) Click(ctx context.Context, sel string) error {
	f.mu.Lock()
	f.clicks = append(f.clicks, sel)
	f.mu.Unlock()
	if f.clickFunc != nil {
		return f.clickFunc(sel)
	}
	return nil
}

func (f *fakeBrowser) Type(ctx context.Context, sel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[sel] = text
	return nil
}

func (f *fakeBrowser) Extract(ctx context.Context, sel string) (string, error) {
	if f.extractFunc != nil {
		return f.extractFunc(sel)
	}
	return "", nil
}

func (f *fakeBrowser) WaitForSelector(ctx context.Context, sel string, d time.Duration) error {
	return nil
}

func (f *fakeBrowser) WaitForNetworkIdle(ctx context.Context, d time.Duration) error {
	if f.networkIdleFunc != nil {
		return f.networkIdleFunc(ctx)
	}
	return nil
}

func (f *fakeBrowser) Snapshot(ctx context.Context) (*browser.PageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	return &browser.PageSnapshot{}, nil
}

func (f *fakeBrowser) Close(ctx context.Context) error { return nil }

func (f *fakeBrowser) clickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clicks)
}

type harness struct {
	exec    *StepExecutor
	ec      *ExecutionContext
	browser *fakeBrowser
	store   history.Store
}

func newHarness(t *testing.T, fb *fakeBrowser, vars map[string]string) *harness {
	t.Helper()

	store, err := history.OpenFileStore(filepath.Join(t.TempDir(), "history.json"), 0, zap.NewNop())
	require.NoError(t, err)

	healCfg := config.HealingConfig{Enabled: true, MinConfidence: 0.6, EnableLearning: true}
	resolver := healing.NewResolver(store, healCfg, zap.NewNop())
	coordinator := recovery.NewCoordinator(fb, resolver, healCfg.Enabled, zap.NewNop())

	runnerCfg := config.RunnerConfig{
		DefaultStepTimeout: 2 * time.Second,
		DefaultRetryDelay:  5 * time.Millisecond,
		MaxBackoff:         50 * time.Millisecond,
	}
	exec := NewStepExecutor(runnerCfg, coordinator, resolver, zap.NewNop())
	ec := NewExecutionContext("run-test", fb, store, vars)
	return &harness{exec: exec, ec: ec, browser: fb, store: store}
}

func (h *harness) run(ctx context.Context, steps []schemas.TestStep) *schemas.TestRunResult {
	return h.exec.Run(ctx, "test", steps, h.ec)
}

func disabledButton(msg string) error {
	return &schemas.ActionExecutionError{Action: "click", Err: errors.New(msg)}
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	fb := newFakeBrowser()
	fb.clickFunc = func(string) error { return disabledButton("element is disabled") }
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{{
		Action:       schemas.ActionClick,
		Selector:     "#submit",
		RetryCount:   2,
		RetryDelayMs: 5,
	}})

	// retry_count 2 means exactly 3 attempts: no post-recovery extras for an
	// execution fault, which gets no remedy.
	assert.Equal(t, 3, fb.clickCount())
	assert.Equal(t, schemas.RunFailed, result.Status)
	require.Len(t, result.StepResults, 1)
	sr := result.StepResults[0]
	assert.Equal(t, schemas.StepFailed, sr.Status)
	assert.Equal(t, 2, sr.RetriesUsed)
	assert.Contains(t, sr.Error, "element is disabled")
}

func TestRun_RetrySucceedsOnFinalAttempt(t *testing.T) {
	fb := newFakeBrowser()
	var calls int
	fb.clickFunc = func(string) error {
		calls++
		if calls < 3 {
			return disabledButton("not ready")
		}
		return nil
	}
	h := newHarness(t, fb, nil)

	start := time.Now()
	result := h.run(context.Background(), []schemas.TestStep{{
		Action:       schemas.ActionClick,
		Selector:     "#submit",
		RetryCount:   2,
		RetryDelayMs: 10,
	}})

	assert.Equal(t, schemas.RunPassed, result.Status)
	sr := result.StepResults[0]
	assert.Equal(t, schemas.StepPassed, sr.Status)
	assert.Equal(t, 2, sr.RetriesUsed)
	// Exponential backoff: 10ms then 20ms before attempts 2 and 3.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRun_HealedStep(t *testing.T) {
	fb := newFakeBrowser()
	fb.snapshot = &browser.PageSnapshot{Elements: []browser.Element{
		{Tag: "button", TestID: "login-button", Text: "Sign in",
			XPath: "/html[1]/body[1]/button[1]", SiblingPos: 1},
	}}
	fb.clickFunc = func(sel string) error {
		if sel == "#login-btn" {
			return &schemas.ElementNotFoundError{Selector: sel}
		}
		return nil
	}
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{{
		Name:        "log in",
		Action:      schemas.ActionClick,
		Selector:    "#login-btn",
		Description: "Sign in",
	}})

	assert.Equal(t, schemas.RunPassed, result.Status)
	assert.Equal(t, 1, result.HealedSteps)
	assert.Equal(t, 1, result.PassedSteps, "a healed step still counts as passed")

	sr := result.StepResults[0]
	assert.Equal(t, schemas.StepHealed, sr.Status)
	assert.Equal(t, 0, sr.RetriesUsed, "the post-recovery retry does not consume the budget")
	require.NotNil(t, sr.Healing)
	assert.Equal(t, schemas.StrategyDataTestID, sr.Healing.StrategyUsed)
	assert.InDelta(t, 0.92, sr.Healing.Confidence, 1e-9)

	// First attempt with the original locator, one retry with the healed one.
	assert.Equal(t, []string{"#login-btn", `[data-testid="login-button"]`}, fb.clicks)

	entries := h.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].SuccessCount)
}

func TestRun_SecondRunServedFromHistory(t *testing.T) {
	fb := newFakeBrowser()
	fb.snapshot = &browser.PageSnapshot{Elements: []browser.Element{
		{Tag: "button", TestID: "login-button", Text: "Sign in",
			XPath: "/html[1]/body[1]/button[1]", SiblingPos: 1},
	}}
	fb.clickFunc = func(sel string) error {
		if sel == "#login-btn" {
			return &schemas.ElementNotFoundError{Selector: sel}
		}
		return nil
	}
	h := newHarness(t, fb, nil)

	step := schemas.TestStep{
		Action: schemas.ActionClick, Selector: "#login-btn", Description: "Sign in",
	}

	first := h.run(context.Background(), []schemas.TestStep{step})
	require.Equal(t, schemas.RunPassed, first.Status)

	second := h.run(context.Background(), []schemas.TestStep{step})
	require.Equal(t, schemas.RunPassed, second.Status)

	sr := second.StepResults[0]
	require.NotNil(t, sr.Healing)
	assert.Equal(t, schemas.StrategyCachedHistory, sr.Healing.StrategyUsed)
	assert.InDelta(t, schemas.ConfidenceCachedHistory, sr.Healing.Confidence, 1e-9)

	// Proven cached heal gets reinforced after the retry succeeds.
	entries := h.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].SuccessCount)
}

func TestRun_URLRecoveryBeforeHealing(t *testing.T) {
	fb := newFakeBrowser()
	fb.url = "https://app.example.com/session-expired"
	h := newHarness(t, fb, nil)
	h.ec.ExpectedURL = "https://app.example.com/dashboard"

	result := h.run(context.Background(), []schemas.TestStep{{
		Action:   schemas.ActionClick,
		Selector: "#menu",
	}})

	assert.Equal(t, schemas.RunPassed, result.Status)
	assert.Equal(t, schemas.StepPassed, result.StepResults[0].Status)
	assert.Equal(t, []string{"https://app.example.com/dashboard"}, fb.navigates)
	// Drift was caught by the precheck, so the click ran once, after recovery.
	assert.Equal(t, []string{"#menu"}, fb.clicks)
	assert.Zero(t, fb.snapshots, "URL drift must never consult the resolver")
}

func TestRun_NavigateSetsExpectedURL(t *testing.T) {
	fb := newFakeBrowser()
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{{
		Action: schemas.ActionNavigate,
		Params: map[string]string{"url": "https://app.example.com/login"},
	}})

	assert.Equal(t, schemas.RunPassed, result.Status)
	assert.Equal(t, "https://app.example.com/login", h.ec.ExpectedURL)
}

func TestRun_ContinueOnFailure(t *testing.T) {
	fb := newFakeBrowser()
	fb.clickFunc = func(string) error { return disabledButton("broken") }
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{
		{Action: schemas.ActionClick, Selector: "#broken", ContinueOnFailure: true},
		{Action: schemas.ActionWait, Params: map[string]string{"ms": "1"}},
	})

	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Equal(t, 1, result.FailedSteps)
	assert.Equal(t, 1, result.PassedSteps)
	assert.Equal(t, schemas.StepFailed, result.StepResults[0].Status)
	assert.Equal(t, schemas.StepPassed, result.StepResults[1].Status)
}

func TestRun_FailureAbortsRemainingSteps(t *testing.T) {
	fb := newFakeBrowser()
	fb.clickFunc = func(string) error { return disabledButton("broken") }
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{
		{Action: schemas.ActionClick, Selector: "#broken"},
		{Action: schemas.ActionWait, Params: map[string]string{"ms": "1"}},
		{Action: schemas.ActionWait, Params: map[string]string{"ms": "1"}},
	})

	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Equal(t, 2, result.SkippedSteps)
	assert.Equal(t, schemas.StepSkipped, result.StepResults[1].Status)
	assert.Equal(t, "run aborted", result.StepResults[1].SkipReason)
	assert.Equal(t, schemas.StepSkipped, result.StepResults[2].Status)
}

func TestRun_SkipIf(t *testing.T) {
	fb := newFakeBrowser()
	h := newHarness(t, fb, map[string]string{"mobile": "true"})

	result := h.run(context.Background(), []schemas.TestStep{{
		Action:   schemas.ActionClick,
		Selector: "#desktop-only",
		SkipIf:   "mobile",
	}})

	assert.Equal(t, schemas.RunPassed, result.Status)
	sr := result.StepResults[0]
	assert.Equal(t, schemas.StepSkipped, sr.Status)
	assert.Equal(t, "skip_if: mobile", sr.SkipReason)
	assert.Zero(t, sr.Duration, "skip checks contribute no duration")
	assert.Zero(t, fb.clickCount(), "skipped steps must not touch the browser")
}

func TestRun_CancellationMarksStepAndSkipsRest(t *testing.T) {
	fb := newFakeBrowser()
	h := newHarness(t, fb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := h.run(ctx, []schemas.TestStep{
		{Action: schemas.ActionWait, Params: map[string]string{"ms": "2000"}},
		{Action: schemas.ActionWait, Params: map[string]string{"ms": "1"}},
	})

	assert.Equal(t, schemas.RunCancelled, result.Status)
	assert.Equal(t, schemas.StepFailed, result.StepResults[0].Status)
	assert.Contains(t, result.StepResults[0].Error, "run cancelled")
	assert.Equal(t, schemas.StepSkipped, result.StepResults[1].Status)
}

func TestRun_ConditionalBranches(t *testing.T) {
	fb := newFakeBrowser()
	h := newHarness(t, fb, map[string]string{"env": "prod"})

	branch := schemas.TestStep{
		When: `env == "prod"`,
		Then: []schemas.TestStep{{Action: schemas.ActionClick, Selector: "#prod-banner"}},
		Else: []schemas.TestStep{{Action: schemas.ActionClick, Selector: "#dev-banner"}},
	}

	result := h.run(context.Background(), []schemas.TestStep{branch})
	assert.Equal(t, schemas.RunPassed, result.Status)
	assert.Equal(t, []string{"#prod-banner"}, fb.clicks)

	fb.clicks = nil
	h.ec.SetVar("env", "dev")
	result = h.run(context.Background(), []schemas.TestStep{branch})
	assert.Equal(t, schemas.RunPassed, result.Status)
	assert.Equal(t, []string{"#dev-banner"}, fb.clicks)
}

func TestRun_InvalidConditionFailsStep(t *testing.T) {
	fb := newFakeBrowser()
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{{
		When: "not a condition",
		Then: []schemas.TestStep{{Action: schemas.ActionWait, Params: map[string]string{"ms": "1"}}},
	}})

	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Contains(t, result.StepResults[0].Error, "condition evaluation failed")
}

func TestRun_InterpolationExtractAssert(t *testing.T) {
	fb := newFakeBrowser()
	fb.extractFunc = func(sel string) (string, error) {
		if sel == "#greeting" {
			return "Hello Ada", nil
		}
		return "", nil
	}
	h := newHarness(t, fb, map[string]string{
		"field": "email",
		"user":  "ada@example.com",
	})

	result := h.run(context.Background(), []schemas.TestStep{
		{Action: schemas.ActionTypeText, Selector: "#${field}",
			Params: map[string]string{"text": "${user}"}},
		{Action: schemas.ActionExtract, Selector: "#greeting",
			Params: map[string]string{"into": "greeting"}},
		{Action: schemas.ActionAssert,
			Params: map[string]string{"var": "greeting", "contains": "Ada"}},
	})

	assert.Equal(t, schemas.RunPassed, result.Status)
	assert.Equal(t, "ada@example.com", fb.typed["#email"])
	got, ok := h.ec.Var("greeting")
	assert.True(t, ok)
	assert.Equal(t, "Hello Ada", got)
}

func TestRun_AssertMismatchIsExecutionFault(t *testing.T) {
	fb := newFakeBrowser()
	fb.extractFunc = func(string) (string, error) { return "Goodbye", nil }
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{{
		Action:   schemas.ActionAssert,
		Selector: "#greeting",
		Params:   map[string]string{"equals": "Hello"},
	}})

	assert.Equal(t, schemas.RunFailed, result.Status)
	sr := result.StepResults[0]
	assert.Equal(t, schemas.StepFailed, sr.Status)
	assert.Contains(t, sr.Error, `expected "Hello", got "Goodbye"`)
	assert.Zero(t, fb.snapshots, "assert mismatches are not healing candidates")
}

func TestRun_TimeoutMapsToTimeoutError(t *testing.T) {
	fb := newFakeBrowser()
	fb.networkIdleFunc = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{{
		Action:    schemas.ActionWaitForNetwork,
		TimeoutMs: 20,
	}})

	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Contains(t, result.StepResults[0].Error, "timed out after")
}

func TestRun_InvalidWaitParam(t *testing.T) {
	fb := newFakeBrowser()
	h := newHarness(t, fb, nil)

	result := h.run(context.Background(), []schemas.TestStep{{
		Action: schemas.ActionWait,
		Params: map[string]string{"ms": "soon"},
	}})

	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Contains(t, result.StepResults[0].Error, "invalid ms param")
}
