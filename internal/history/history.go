// File: internal/history/history.go
//
// Package history implements the durable, cross-run cache of proven selector
// healings. All backends load their entries into memory at open time, answer
// lookups O(1) by signature, and serialize upserts so concurrent runs never
// lose a success_count increment.
package history

import (
	"context"
	"time"

	"github.com/stitchqa/stitch/api/schemas"
)

// Store is the healing-history contract consumed by the selector resolver.
// Implementations must be safe for concurrent use by multiple runs.
type Store interface {
	// Lookup returns the entry for a signature, if one exists and is fresh.
	Lookup(signature string) (schemas.HealingHistoryEntry, bool)
	// Record upserts a proven healing: a new signature creates an entry with
	// success_count 1, an existing one increments it and refreshes the
	// selector, confidence and last_used_at.
	Record(ctx context.Context, entry schemas.HealingHistoryEntry) error
	// Entries returns a point-in-time copy of all entries, for inspection.
	Entries() []schemas.HealingHistoryEntry
	Close(ctx context.Context) error
}

// merge applies the upsert semantics shared by both backends.
func merge(existing schemas.HealingHistoryEntry, ok bool, incoming schemas.HealingHistoryEntry, now time.Time) schemas.HealingHistoryEntry {
	if !ok {
		incoming.SuccessCount = 1
		incoming.LastUsedAt = now
		return incoming
	}
	existing.HealedSelector = incoming.HealedSelector
	existing.Confidence = incoming.Confidence
	existing.SuccessCount++
	existing.LastUsedAt = now
	return existing
}

// fresh reports whether an entry is usable under the staleness policy.
// maxAge <= 0 disables filtering.
func fresh(e schemas.HealingHistoryEntry, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return true
	}
	return now.Sub(e.LastUsedAt) <= maxAge
}
