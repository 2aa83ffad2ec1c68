// File: internal/recovery/coordinator.go
//
// Package recovery decides, on step failure, which remedy to try and in what
// order: URL recovery for navigation drift, selector healing for missing
// elements, nothing for interactability faults. It never retries the action
// itself; the runner owns the retry/backoff loop.
package recovery

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/browser"
	"github.com/stitchqa/stitch/internal/healing"
)

// Outcome reports what the coordinator managed to fix.
type Outcome struct {
	Recovered      bool
	URLRecovered   bool
	HealedSelector string
	Healing        *schemas.HealingResult
}

// Coordinator orchestrates remedies for a single run. It holds the run's
// browser handle; the resolver (and through it the history store) may be
// shared across runs.
type Coordinator struct {
	browser        browser.Capability
	resolver       *healing.Resolver
	healingEnabled bool
	logger         *zap.Logger
}

func NewCoordinator(cap browser.Capability, resolver *healing.Resolver, healingEnabled bool, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		browser:        cap,
		resolver:       resolver,
		healingEnabled: healingEnabled,
		logger:         logger.Named("recovery"),
	}
}

// Recover inspects the failure and attempts exactly one remedy.
//
// Navigation drift is always tried first and alone: once back on the right
// page the original selector is presumed valid again, so the resolver is
// deliberately not consulted. Element-not-found and timeout failures go to
// the selector resolver. Action execution faults get no remedy here; a
// healed locator would not fix an element that was found but unusable.
func (c *Coordinator) Recover(ctx context.Context, failure error, step *schemas.TestStep, expectedURL string) (Outcome, error) {
	var navErr *schemas.NavigationMismatchError
	if errors.As(failure, &navErr) {
		return c.recoverURL(ctx, navErr)
	}

	var notFound *schemas.ElementNotFoundError
	var timeout *schemas.TimeoutError
	if errors.As(failure, &notFound) || errors.As(failure, &timeout) {
		return c.healSelector(ctx, step)
	}

	// ActionExecutionError and anything unclassified: no remedy, the runner
	// falls back to its backoff loop.
	return Outcome{}, nil
}

func (c *Coordinator) recoverURL(ctx context.Context, navErr *schemas.NavigationMismatchError) (Outcome, error) {
	c.logger.Info("Attempting URL recovery",
		zap.String("expected", navErr.Expected),
		zap.String("actual", navErr.Actual))

	if err := c.browser.Navigate(ctx, navErr.Expected); err != nil {
		c.logger.Warn("URL recovery navigation failed", zap.Error(err))
		return Outcome{}, nil
	}

	current, err := c.browser.CurrentURL(ctx)
	if err != nil || !URLMatches(navErr.Expected, current) {
		c.logger.Warn("URL recovery did not land on expected page",
			zap.String("expected", navErr.Expected),
			zap.String("landed", current),
			zap.Error(err))
		return Outcome{}, nil
	}

	c.logger.Info("URL recovery succeeded", zap.String("url", navErr.Expected))
	return Outcome{Recovered: true, URLRecovered: true}, nil
}

func (c *Coordinator) healSelector(ctx context.Context, step *schemas.TestStep) (Outcome, error) {
	if !c.healingEnabled || step == nil || step.Selector == "" || !step.Action.RequiresSelector() {
		return Outcome{}, nil
	}

	snap, err := c.browser.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("Page snapshot for healing failed", zap.Error(err))
		return Outcome{}, nil
	}

	req := healing.Request{
		OriginalSelector:   step.Selector,
		ActionContext:      string(step.Action),
		ElementDescription: step.Description,
	}
	result, err := c.resolver.Resolve(ctx, req, snap)
	if err != nil {
		// HealingExhaustedError: terminal for this attempt, surfaced through
		// the result so the runner can report the best confidence found.
		return Outcome{Healing: &result}, err
	}

	return Outcome{
		Recovered:      true,
		HealedSelector: result.HealedSelector,
		Healing:        &result,
	}, nil
}

// URLMatches compares URLs for navigation-drift purposes, ignoring trailing
// slashes and fragments.
func URLMatches(expected, actual string) bool {
	return canonicalURL(expected) == canonicalURL(actual)
}

func canonicalURL(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimSuffix(u, "/")
}
