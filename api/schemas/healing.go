// File: api/schemas/healing.go
package schemas

import "time"

// HealingStrategy identifies which heuristic produced a healed selector.
type HealingStrategy string

const (
	StrategyCachedHistory HealingStrategy = "CACHED_HISTORY"
	StrategyIDFallback    HealingStrategy = "ID_FALLBACK"
	StrategyDataTestID    HealingStrategy = "DATA_TESTID"
	StrategyNameFallback  HealingStrategy = "NAME_FALLBACK"
	StrategyAriaLabel     HealingStrategy = "ARIA_LABEL"
	StrategyPlaceholder   HealingStrategy = "PLACEHOLDER_FALLBACK"
	StrategyTextMatch     HealingStrategy = "TEXT_MATCH"
	StrategyXPathFallback HealingStrategy = "XPATH_FALLBACK"
	StrategyAttributeFuzz HealingStrategy = "ATTRIBUTE_FUZZY"
	StrategyDOMStructure  HealingStrategy = "DOM_STRUCTURE"
)

// ConfidenceCachedHistory is the fixed confidence for a history-store hit.
// It sits above every heuristic ceiling so a proven healing always wins.
const ConfidenceCachedHistory = 0.98

// HealingResult records the outcome of one selector resolution attempt.
// Consumed by the runner for telemetry and by the history store for learning.
type HealingResult struct {
	Success            bool            `json:"success"`
	OriginalSelector   string          `json:"original_selector"`
	HealedSelector     string          `json:"healed_selector,omitempty"`
	StrategyUsed       HealingStrategy `json:"strategy_used,omitempty"`
	Confidence         float64         `json:"confidence"`
	ElementDescription string          `json:"element_description,omitempty"`
}

// HealingHistoryEntry is the durable record of a proven healing, keyed by the
// signature of (original selector, action context, element description).
type HealingHistoryEntry struct {
	Signature          string    `json:"signature"`
	OriginalSelector   string    `json:"original_selector"`
	ActionContext      string    `json:"action_context"`
	ElementDescription string    `json:"element_description,omitempty"`
	HealedSelector     string    `json:"healed_selector"`
	Confidence         float64   `json:"confidence"`
	SuccessCount       int       `json:"success_count"`
	LastUsedAt         time.Time `json:"last_used_at"`
}
