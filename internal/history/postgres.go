// File: internal/history/postgres.go
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/stitchqa/stitch/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresStore keeps healing history in a shared database so concurrent
// runner processes learn from each other. The upsert is a single statement,
// so success_count increments are atomic at the database.
type PostgresStore struct {
	pool   DBPool
	maxAge time.Duration
	log    *zap.Logger

	mu      sync.RWMutex
	entries map[string]schemas.HealingHistoryEntry
}

var _ Store = (*PostgresStore)(nil)

const sqlSelectEntries = `
        SELECT signature, original_selector, action_context, element_description,
               healed_selector, confidence, success_count, last_used_at
        FROM healing_history;
    `

const sqlUpsertEntry = `
        INSERT INTO healing_history
            (signature, original_selector, action_context, element_description,
             healed_selector, confidence, success_count, last_used_at)
        VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
        ON CONFLICT (signature) DO UPDATE SET
            healed_selector = EXCLUDED.healed_selector,
            confidence = EXCLUDED.confidence,
            success_count = healing_history.success_count + 1,
            last_used_at = EXCLUDED.last_used_at;
    `

const sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS healing_history (
            signature TEXT PRIMARY KEY,
            original_selector TEXT NOT NULL,
            action_context TEXT NOT NULL,
            element_description TEXT NOT NULL DEFAULT '',
            healed_selector TEXT NOT NULL,
            confidence DOUBLE PRECISION NOT NULL,
            success_count INTEGER NOT NULL DEFAULT 1,
            last_used_at TIMESTAMPTZ NOT NULL
        );
    `

// EnsureSchema creates the healing_history table when it does not exist.
func EnsureSchema(ctx context.Context, pool DBPool) error {
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("failed to ensure healing_history schema: %w", err)
	}
	return nil
}

// NewPostgresStore verifies the connection and loads all entries.
func NewPostgresStore(ctx context.Context, pool DBPool, maxAge time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:    pool,
		maxAge:  maxAge,
		log:     logger.Named("history"),
		entries: make(map[string]schemas.HealingHistoryEntry),
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) load(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, sqlSelectEntries)
	if err != nil {
		return fmt.Errorf("failed to query healing history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e schemas.HealingHistoryEntry
		err := rows.Scan(
			&e.Signature, &e.OriginalSelector, &e.ActionContext, &e.ElementDescription,
			&e.HealedSelector, &e.Confidence, &e.SuccessCount, &e.LastUsedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan healing history row: %w", err)
		}
		s.entries[e.Signature] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during row iteration: %w", err)
	}

	s.log.Info("Loaded healing history from database", zap.Int("entries", len(s.entries)))
	return nil
}

func (s *PostgresStore) Lookup(signature string) (schemas.HealingHistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[signature]
	if !ok || !fresh(e, s.maxAge, time.Now()) {
		return schemas.HealingHistoryEntry{}, false
	}
	return e, true
}

func (s *PostgresStore) Record(ctx context.Context, entry schemas.HealingHistoryEntry) error {
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, sqlUpsertEntry,
		entry.Signature, entry.OriginalSelector, entry.ActionContext,
		entry.ElementDescription, entry.HealedSelector, entry.Confidence, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert healing history entry: %w", err)
	}

	s.mu.Lock()
	existing, ok := s.entries[entry.Signature]
	s.entries[entry.Signature] = merge(existing, ok, entry, now)
	s.mu.Unlock()
	return nil
}

func (s *PostgresStore) Entries() []schemas.HealingHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.HealingHistoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
