// File: internal/healing/resolver.go
//
// Package healing implements the deterministic self-healing selector engine:
// a history-cache check followed by a fixed-order cascade of heuristic
// strategies, each a pure function from (failed locator hints, page snapshot)
// to confidence-scored candidate locators. No model inference anywhere; the
// same inputs always heal to the same selector.
package healing

import (
	"context"

	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
	"github.com/stitchqa/stitch/internal/browser"
	"github.com/stitchqa/stitch/internal/config"
	"github.com/stitchqa/stitch/internal/history"
)

// Request describes one failed locator to resolve.
type Request struct {
	OriginalSelector   string
	ActionContext      string
	ElementDescription string
}

// Resolver is the self-healing engine. Safe for concurrent use; all mutable
// state lives in the history store.
type Resolver struct {
	store  history.Store
	cfg    config.HealingConfig
	logger *zap.Logger
}

func NewResolver(store history.Store, cfg config.HealingConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("healing"),
	}
}

// Resolve finds a replacement for a failed selector. The snapshot is the
// current page inventory supplied by the caller so resolution itself touches
// no browser state.
//
// On failure the returned HealingResult has Success=false and the error is a
// *schemas.HealingExhaustedError carrying the best confidence found.
func (r *Resolver) Resolve(ctx context.Context, req Request, snap *browser.PageSnapshot) (schemas.HealingResult, error) {
	result := schemas.HealingResult{
		OriginalSelector:   req.OriginalSelector,
		ElementDescription: req.ElementDescription,
	}

	sig := Signature(req.OriginalSelector, req.ActionContext, req.ElementDescription)

	// Cache first: a proven healing short-circuits the cascade entirely.
	if entry, ok := r.store.Lookup(sig); ok && entry.SuccessCount >= 1 {
		r.logger.Info("Healing resolved from history",
			zap.String("original_selector", req.OriginalSelector),
			zap.String("healed_selector", entry.HealedSelector),
			zap.Int("success_count", entry.SuccessCount))
		result.Success = true
		result.HealedSelector = entry.HealedSelector
		result.StrategyUsed = schemas.StrategyCachedHistory
		result.Confidence = schemas.ConfidenceCachedHistory
		return result, nil
	}

	best, found := r.evaluateCascade(req, snap)
	if !found || best.Confidence < r.cfg.MinConfidence {
		bestConf := 0.0
		if found {
			bestConf = best.Confidence
		}
		r.logger.Warn("Healing exhausted",
			zap.String("original_selector", req.OriginalSelector),
			zap.Float64("best_confidence", bestConf),
			zap.Float64("min_confidence", r.cfg.MinConfidence))
		result.Confidence = bestConf
		return result, &schemas.HealingExhaustedError{
			Selector:       req.OriginalSelector,
			BestConfidence: bestConf,
		}
	}

	result.Success = true
	result.HealedSelector = best.Selector
	result.StrategyUsed = best.Strategy
	result.Confidence = best.Confidence

	r.logger.Info("Selector healed",
		zap.String("original_selector", req.OriginalSelector),
		zap.String("healed_selector", best.Selector),
		zap.String("strategy", string(best.Strategy)),
		zap.Float64("confidence", best.Confidence))

	if r.cfg.EnableLearning {
		err := r.store.Record(ctx, schemas.HealingHistoryEntry{
			Signature:          sig,
			OriginalSelector:   req.OriginalSelector,
			ActionContext:      req.ActionContext,
			ElementDescription: req.ElementDescription,
			HealedSelector:     best.Selector,
			Confidence:         best.Confidence,
		})
		if err != nil {
			// Learning is best-effort; the heal itself already succeeded.
			r.logger.Error("Failed to record healing history", zap.Error(err))
		}
	}

	return result, nil
}

// Confirm reinforces a cached or fresh healing after the retried action
// actually succeeded with the healed selector.
func (r *Resolver) Confirm(ctx context.Context, req Request, res schemas.HealingResult) {
	if !r.cfg.EnableLearning || !res.Success || res.StrategyUsed != schemas.StrategyCachedHistory {
		return
	}
	sig := Signature(req.OriginalSelector, req.ActionContext, req.ElementDescription)
	err := r.store.Record(ctx, schemas.HealingHistoryEntry{
		Signature:          sig,
		OriginalSelector:   req.OriginalSelector,
		ActionContext:      req.ActionContext,
		ElementDescription: req.ElementDescription,
		HealedSelector:     res.HealedSelector,
		Confidence:         res.Confidence,
	})
	if err != nil {
		r.logger.Error("Failed to reinforce healing history", zap.Error(err))
	}
}

// evaluateCascade runs every strategy in fixed order and selects the single
// highest-confidence candidate. Ties break toward the earlier strategy, then
// toward the earlier element in document order.
func (r *Resolver) evaluateCascade(req Request, snap *browser.PageSnapshot) (candidate, bool) {
	if snap == nil || len(snap.Elements) == 0 {
		return candidate{}, false
	}
	hints := parseHints(req.OriginalSelector, req.ElementDescription)

	var best candidate
	found := false
	for prio, s := range cascade {
		for _, c := range s.Fn(hints, snap.Elements) {
			c.Strategy = s.Name
			c.priority = prio
			if !found || betterCandidate(c, best) {
				best = c
				found = true
			}
		}
	}
	return best, found
}

func betterCandidate(a, b candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.order < b.order
}
