// File: internal/runner/runner.go
//
// Package runner drives test steps through their lifecycle:
//
//	PENDING -> SKIP_CHECK -> {SKIPPED | READY} -> URL_PRECHECK -> EXECUTING
//	        -> {SUCCESS | RECOVERING} -> (RECOVERING loops back, bounded)
//	        -> {SUCCESS | FAILED}
//
// On failure it delegates to the recovery coordinator and bounds retries
// with exponential backoff. Cancellation is observed at every state
// transition boundary.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/config"
	"github.com/stitchqa/stitch/internal/healing"
	"github.com/stitchqa/stitch/internal/recovery"
)

const abortedReason = "run aborted"

// StepExecutor executes an ordered sequence of test steps against a browser
// capability, enforcing the lifecycle and recovery contracts.
type StepExecutor struct {
	cfg         config.RunnerConfig
	coordinator *recovery.Coordinator
	resolver    *healing.Resolver
	logger      *zap.Logger
	handlers    map[schemas.ActionType]actionHandler
}

// actionHandler performs one action attempt. selector is the (possibly
// healed) locator for this attempt.
type actionHandler func(ctx context.Context, ec *ExecutionContext, step *schemas.TestStep, selector string) error

func NewStepExecutor(cfg config.RunnerConfig, coordinator *recovery.Coordinator, resolver *healing.Resolver, logger *zap.Logger) *StepExecutor {
	e := &StepExecutor{
		cfg:         cfg,
		coordinator: coordinator,
		resolver:    resolver,
		logger:      logger.Named("runner"),
	}
	// Closed dispatch table over the action enum; the loader guarantees
	// every step's action is present here.
	e.handlers = map[schemas.ActionType]actionHandler{
		schemas.ActionNavigate:        e.doNavigate,
		schemas.ActionClick:           e.doClick,
		schemas.ActionTypeText:        e.doType,
		schemas.ActionWaitForSelector: e.doWaitForSelector,
		schemas.ActionWaitForNetwork:  e.doWaitForNetworkIdle,
		schemas.ActionWait:            e.doWait,
		schemas.ActionExtract:         e.doExtract,
		schemas.ActionAssert:          e.doAssert,
	}
	return e
}

// runState threads the abort/cancel flags through the depth-first walk of
// the step tree.
type runState struct {
	result    *schemas.TestRunResult
	index     int
	aborted   bool
	cancelled bool
}

// Run executes the steps and returns the aggregate result. The context
// carries the external cancellation signal (hard deadline, user abort).
func (e *StepExecutor) Run(ctx context.Context, name string, steps []schemas.TestStep, ec *ExecutionContext) *schemas.TestRunResult {
	result := &schemas.TestRunResult{
		RunID:     ec.RunID,
		Name:      name,
		Status:    schemas.RunPassed,
		StartedAt: time.Now().UTC(),
	}
	st := &runState{result: result}

	e.logger.Info("Run started",
		zap.String("run_id", ec.RunID), zap.String("name", name), zap.Int("steps", len(steps)))

	e.execList(ctx, steps, ec, st)

	result.FinishedAt = time.Now().UTC()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if st.cancelled {
		result.Status = schemas.RunCancelled
	} else if result.FailedSteps > 0 {
		result.Status = schemas.RunFailed
	}

	e.logger.Info("Run finished",
		zap.String("run_id", ec.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("passed", result.PassedSteps),
		zap.Int("failed", result.FailedSteps),
		zap.Int("healed", result.HealedSteps),
		zap.Int("skipped", result.SkippedSteps),
		zap.Duration("duration", result.Duration))
	return result
}

// execList walks a step list depth-first, expanding conditional branches.
func (e *StepExecutor) execList(ctx context.Context, steps []schemas.TestStep, ec *ExecutionContext, st *runState) {
	for i := range steps {
		step := &steps[i]

		if step.When != "" {
			branch, err := ec.EvalCondition(step.When)
			if err != nil {
				e.recordFailedCondition(step, err, st)
				continue
			}
			if branch {
				e.execList(ctx, step.Then, ec, st)
			} else {
				e.execList(ctx, step.Else, ec, st)
			}
			continue
		}

		sr := e.executeStep(ctx, step, ec, st)
		st.result.Record(sr)
		st.index++

		if sr.Status == schemas.StepFailed && !st.cancelled && !step.ContinueOnFailure {
			st.aborted = true
		}
	}
}

func (e *StepExecutor) recordFailedCondition(step *schemas.TestStep, err error, st *runState) {
	st.result.Record(schemas.StepResult{
		Index:  st.index,
		Name:   step.Name,
		Status: schemas.StepFailed,
		Error:  fmt.Sprintf("condition evaluation failed: %v", err),
	})
	st.index++
	if !step.ContinueOnFailure {
		st.aborted = true
	}
}

// executeStep runs one step through its full lifecycle and emits exactly one
// StepResult.
func (e *StepExecutor) executeStep(ctx context.Context, step *schemas.TestStep, ec *ExecutionContext, st *runState) schemas.StepResult {
	sr := schemas.StepResult{Index: st.index, Name: step.Name, Action: step.Action}
	log := e.logger.With(zap.String("run_id", ec.RunID), zap.Int("step", st.index), zap.String("action", string(step.Action)))

	// Remaining steps after an abort are skipped without side effects.
	if st.aborted || st.cancelled {
		sr.Status = schemas.StepSkipped
		sr.SkipReason = abortedReason
		return sr
	}

	// SKIP_CHECK: evaluated before any side effect, contributes no duration.
	if step.SkipIf != "" {
		skip, err := ec.EvalCondition(step.SkipIf)
		if err != nil {
			sr.Status = schemas.StepFailed
			sr.Error = fmt.Sprintf("skip_if evaluation failed: %v", err)
			return sr
		}
		if skip {
			log.Debug("Step skipped", zap.String("skip_if", step.SkipIf))
			sr.Status = schemas.StepSkipped
			sr.SkipReason = fmt.Sprintf("skip_if: %s", step.SkipIf)
			return sr
		}
	}

	if e.checkCancelled(ctx, &sr, st) {
		return sr
	}

	started := time.Now()
	defer func() { sr.Duration = time.Since(started) }()

	selector := ec.Interpolate(step.Selector)
	var healingApplied *schemas.HealingResult
	var lastErr error

	for attempt := 0; attempt <= step.RetryCount; attempt++ {
		if attempt > 0 {
			if !e.backoffWait(ctx, step, attempt) {
				e.markCancelled(&sr, ctx.Err(), st)
				return sr
			}
			log.Info("Retrying step", zap.Int("attempt", attempt+1), zap.Int("max_attempts", step.RetryCount+1))
		}
		sr.RetriesUsed = attempt

		attemptErr := e.attemptOnce(ctx, step, selector, ec)
		if e.checkCancelled(ctx, &sr, st) {
			return sr
		}
		if attemptErr == nil {
			e.finishSuccess(ctx, &sr, step, selector, healingApplied, ec)
			return sr
		}
		lastErr = attemptErr
		log.Warn("Step attempt failed", zap.Int("attempt", attempt+1), zap.Error(attemptErr))

		// RECOVERING: ask the coordinator for a remedy, then retry the
		// action once immediately if it produced one.
		outcome, recErr := e.coordinator.Recover(ctx, attemptErr, step, ec.ExpectedURL)
		if e.checkCancelled(ctx, &sr, st) {
			return sr
		}
		if outcome.Healing != nil {
			healingApplied = outcome.Healing
		}
		if recErr != nil {
			lastErr = recErr
			continue
		}
		if !outcome.Recovered {
			continue
		}

		if outcome.HealedSelector != "" {
			selector = outcome.HealedSelector
		}
		retryErr := e.attemptOnce(ctx, step, selector, ec)
		if e.checkCancelled(ctx, &sr, st) {
			return sr
		}
		if retryErr == nil {
			e.finishSuccess(ctx, &sr, step, selector, healingApplied, ec)
			return sr
		}
		lastErr = retryErr
		log.Warn("Post-recovery retry failed", zap.Error(retryErr))
	}

	sr.Status = schemas.StepFailed
	sr.Error = lastErr.Error()
	sr.Healing = healingApplied
	log.Error("Step failed after exhausting retries",
		zap.Int("attempts", step.RetryCount+1), zap.Error(lastErr))
	return sr
}

// attemptOnce performs a single bounded action attempt, including the URL
// precheck for page-dependent actions.
func (e *StepExecutor) attemptOnce(ctx context.Context, step *schemas.TestStep, selector string, ec *ExecutionContext) error {
	// URL_PRECHECK: navigation drift is a failure before the action runs.
	if step.Action.PageDependent() && ec.ExpectedURL != "" {
		current, err := ec.Browser.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if !recovery.URLMatches(ec.ExpectedURL, current) {
			return &schemas.NavigationMismatchError{Expected: ec.ExpectedURL, Actual: current}
		}
	}

	timeout := e.stepTimeout(step)
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := e.handlers[step.Action](attemptCtx, ec, step, selector)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &schemas.TimeoutError{Op: string(step.Action), Budget: timeout}
	}
	return err
}

func (e *StepExecutor) finishSuccess(ctx context.Context, sr *schemas.StepResult, step *schemas.TestStep, selector string, healingApplied *schemas.HealingResult, ec *ExecutionContext) {
	if healingApplied != nil && healingApplied.Success {
		sr.Status = schemas.StepHealed
		sr.Healing = healingApplied
		// Reinforce the history entry now that the healed selector is
		// proven against the live page. The request must mirror the one the
		// coordinator resolved with, or the signatures diverge.
		e.resolver.Confirm(ctx, healing.Request{
			OriginalSelector:   step.Selector,
			ActionContext:      string(step.Action),
			ElementDescription: step.Description,
		}, *healingApplied)
		return
	}
	sr.Status = schemas.StepPassed
}

// backoffWait sleeps the exponential backoff delay for the given attempt
// (doubling from the step's base delay, capped). Returns false when the run
// was cancelled mid-wait.
func (e *StepExecutor) backoffWait(ctx context.Context, step *schemas.TestStep, attempt int) bool {
	base := time.Duration(step.RetryDelayMs) * time.Millisecond
	if base <= 0 {
		base = e.cfg.DefaultRetryDelay
	}
	delay := base << (attempt - 1)
	if max := e.cfg.MaxBackoff; max > 0 && delay > max {
		delay = max
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *StepExecutor) stepTimeout(step *schemas.TestStep) time.Duration {
	if step.TimeoutMs > 0 {
		return time.Duration(step.TimeoutMs) * time.Millisecond
	}
	if e.cfg.DefaultStepTimeout > 0 {
		return e.cfg.DefaultStepTimeout
	}
	return 30 * time.Second
}

func (e *StepExecutor) checkCancelled(ctx context.Context, sr *schemas.StepResult, st *runState) bool {
	if ctx.Err() == nil {
		return false
	}
	e.markCancelled(sr, ctx.Err(), st)
	return true
}

func (e *StepExecutor) markCancelled(sr *schemas.StepResult, err error, st *runState) {
	sr.Status = schemas.StepFailed
	sr.Error = fmt.Sprintf("run cancelled: %v", err)
	st.cancelled = true
	st.aborted = true
}

// -- action handlers --

func (e *StepExecutor) doNavigate(ctx context.Context, ec *ExecutionContext, step *schemas.TestStep, _ string) error {
	url := ec.Interpolate(step.Param("url"))
	if url == "" {
		url = ec.Interpolate(step.Selector)
	}
	if url == "" {
		return &schemas.ActionExecutionError{Action: "navigate", Err: errors.New("navigate requires a url param")}
	}
	if err := ec.Browser.Navigate(ctx, url); err != nil {
		return err
	}
	// Expected-URL tracking: only a successful navigate moves the goalposts.
	ec.ExpectedURL = url
	return nil
}

func (e *StepExecutor) doClick(ctx context.Context, ec *ExecutionContext, _ *schemas.TestStep, selector string) error {
	return ec.Browser.Click(ctx, selector)
}

func (e *StepExecutor) doType(ctx context.Context, ec *ExecutionContext, step *schemas.TestStep, selector string) error {
	return ec.Browser.Type(ctx, selector, ec.Interpolate(step.Param("text")))
}

func (e *StepExecutor) doWaitForSelector(ctx context.Context, ec *ExecutionContext, step *schemas.TestStep, selector string) error {
	return ec.Browser.WaitForSelector(ctx, selector, e.stepTimeout(step))
}

func (e *StepExecutor) doWaitForNetworkIdle(ctx context.Context, ec *ExecutionContext, step *schemas.TestStep, _ string) error {
	return ec.Browser.WaitForNetworkIdle(ctx, e.stepTimeout(step))
}

func (e *StepExecutor) doWait(ctx context.Context, _ *ExecutionContext, step *schemas.TestStep, _ string) error {
	ms, err := strconv.Atoi(step.Param("ms"))
	if err != nil || ms < 0 {
		return &schemas.ActionExecutionError{Action: "wait", Err: fmt.Errorf("invalid ms param %q", step.Param("ms"))}
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *StepExecutor) doExtract(ctx context.Context, ec *ExecutionContext, step *schemas.TestStep, selector string) error {
	value, err := ec.Browser.Extract(ctx, selector)
	if err != nil {
		return err
	}
	into := step.Param("into")
	if into == "" {
		into = "extracted"
	}
	ec.SetVar(into, value)
	return nil
}

// doAssert compares element text or a run variable against an expected
// value. Deterministic comparisons only; a mismatch is an execution fault,
// not a locator problem.
func (e *StepExecutor) doAssert(ctx context.Context, ec *ExecutionContext, step *schemas.TestStep, selector string) error {
	var actual string
	if selector != "" {
		v, err := ec.Browser.Extract(ctx, selector)
		if err != nil {
			return err
		}
		actual = v
	} else if name := step.Param("var"); name != "" {
		actual, _ = ec.Var(name)
	} else {
		return &schemas.ActionExecutionError{Action: "assert", Err: errors.New("assert requires a selector or a var param")}
	}

	if want := ec.Interpolate(step.Param("equals")); step.Param("equals") != "" {
		if actual != want {
			return &schemas.ActionExecutionError{Action: "assert", Err: fmt.Errorf("expected %q, got %q", want, actual)}
		}
		return nil
	}
	if want := ec.Interpolate(step.Param("contains")); step.Param("contains") != "" {
		if !strings.Contains(actual, want) {
			return &schemas.ActionExecutionError{Action: "assert", Err: fmt.Errorf("expected to contain %q, got %q", want, actual)}
		}
		return nil
	}
	return &schemas.ActionExecutionError{Action: "assert", Err: errors.New("assert requires an equals or contains param")}
}
