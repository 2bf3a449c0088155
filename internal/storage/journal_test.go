package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/flyexit/internal/models"
)

func newJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestSQLiteJournal_RecordAndList(t *testing.T) {
	j := newJournal(t)
	fixed := time.Date(2025, 3, 21, 15, 30, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, j.RecordAttempt(ctx, &models.ExitResult{
		AttemptID: "a1", PositionID: "fly-1", ExitMethod: models.ExitMethodSplitVerticals,
		Success: true, ExitProceeds: 600, RealizedPnL: 450, TotalSlippage: 6,
		TotalLatencyMs: 120, TimeBetweenSpreadsMs: 60, Warnings: []string{"unbalanced"},
	}, "BASE_PROFIT"))
	require.NoError(t, j.RecordAttempt(ctx, &models.ExitResult{
		AttemptID: "a2", PositionID: "fly-2", ExitMethod: models.ExitMethodSplitVerticals,
		ErrorMessage: "failed to fill first vertical spread: no fill",
	}, "LOSS_CUT"))

	all, err := j.ListAttempts(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	first := all[0]
	assert.Equal(t, "a1", first.AttemptID)
	assert.True(t, first.Success)
	assert.Equal(t, 450.0, first.RealizedPnL)
	assert.Equal(t, []string{"unbalanced"}, first.Warnings)
	assert.Equal(t, "BASE_PROFIT", first.Reason)
	assert.True(t, first.RecordedAt.Equal(fixed))

	assert.False(t, all[1].Success)
	assert.Empty(t, all[1].Warnings)
	assert.Contains(t, all[1].ErrorMessage, "first vertical")

	only, err := j.ListAttempts(ctx, "fly-2")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "a2", only[0].AttemptID)
}

func TestSQLiteJournal_ReplacesSameAttempt(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	res := &models.ExitResult{AttemptID: "a1", PositionID: "fly-1"}
	require.NoError(t, j.RecordAttempt(ctx, res, "EXPIRY"))
	res.Success = true
	require.NoError(t, j.RecordAttempt(ctx, res, "EXPIRY"))

	rows, err := j.ListAttempts(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
}

func TestSQLiteJournal_Errors(t *testing.T) {
	_, err := NewSQLiteJournal("")
	assert.Error(t, err)

	j := newJournal(t)
	assert.Error(t, j.RecordAttempt(context.Background(), nil, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, j.RecordAttempt(ctx, &models.ExitResult{AttemptID: "x"}, ""))
}
