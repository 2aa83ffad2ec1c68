// File: internal/history/postgres_test.go
package history

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var historyColumns = []string{
	"signature", "original_selector", "action_context", "element_description",
	"healed_selector", "confidence", "success_count", "last_used_at",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresStore_LoadsEntriesOnOpen(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT signature, original_selector").
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow("sig-a", "#login-btn", "click", "Sign in",
				`[data-testid="login-button"]`, 0.92, 3, time.Now()))

	s, err := NewPostgresStore(context.Background(), mock, 0, zap.NewNop())
	require.NoError(t, err)

	got, ok := s.Lookup("sig-a")
	require.True(t, ok)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, `[data-testid="login-button"]`, got.HealedSelector)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PingFailure(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err := NewPostgresStore(context.Background(), mock, 0, zap.NewNop())
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestPostgresStore_RecordUpserts(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT signature").WillReturnRows(pgxmock.NewRows(historyColumns))

	s, err := NewPostgresStore(context.Background(), mock, 0, zap.NewNop())
	require.NoError(t, err)

	entry := sampleEntry("sig-a")
	mock.ExpectExec("INSERT INTO healing_history").
		WithArgs(entry.Signature, entry.OriginalSelector, entry.ActionContext,
			entry.ElementDescription, entry.HealedSelector, entry.Confidence,
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Record(context.Background(), entry))

	got, ok := s.Lookup("sig-a")
	require.True(t, ok)
	assert.Equal(t, 1, got.SuccessCount)

	// Second record for the same signature increments the in-memory mirror.
	mock.ExpectExec("INSERT INTO healing_history").
		WithArgs(entry.Signature, entry.OriginalSelector, entry.ActionContext,
			entry.ElementDescription, entry.HealedSelector, entry.Confidence,
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Record(context.Background(), entry))

	got, _ = s.Lookup("sig-a")
	assert.Equal(t, 2, got.SuccessCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordExecError(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT signature").WillReturnRows(pgxmock.NewRows(historyColumns))

	s, err := NewPostgresStore(context.Background(), mock, 0, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO healing_history").
		WillReturnError(errors.New("deadlock detected"))

	err = s.Record(context.Background(), sampleEntry("sig-a"))
	assert.ErrorContains(t, err, "failed to upsert")

	// A failed write must not poison the cache.
	_, ok := s.Lookup("sig-a")
	assert.False(t, ok)
}

func TestEnsureSchema(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS healing_history").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, EnsureSchema(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSemantics(t *testing.T) {
	now := time.Now()

	t.Run("new entry gets count 1", func(t *testing.T) {
		got := merge(sampleEntry("x"), false, sampleEntry("sig"), now)
		assert.Equal(t, 1, got.SuccessCount)
		assert.Equal(t, now, got.LastUsedAt)
	})

	t.Run("existing entry refreshed", func(t *testing.T) {
		existing := sampleEntry("sig")
		existing.SuccessCount = 4
		incoming := sampleEntry("sig")
		incoming.HealedSelector = "#newer"
		incoming.Confidence = 0.7

		got := merge(existing, true, incoming, now)
		assert.Equal(t, 5, got.SuccessCount)
		assert.Equal(t, "#newer", got.HealedSelector)
		assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	})
}
