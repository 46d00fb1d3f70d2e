package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPosition(t *testing.T) {
	now := time.Now()
	pos := NewPosition("005930", "Samsung Electronics", 100, 10_000, now, 0.05)

	assert.Equal(t, int64(100), pos.Shares)
	assert.Equal(t, int64(100), pos.RemainingShares)
	assert.Equal(t, int64(9_500), pos.StopPrice)
	assert.Equal(t, int64(10_000), pos.HighestPrice)
	assert.Equal(t, PositionStatusOpen, pos.Status)
}

func TestApplyFillIdempotent(t *testing.T) {
	now := time.Now()
	pos := NewPosition("005930", "Samsung Electronics", 100, 10_000, now, 0.05)

	closed, err := pos.ApplyFill("instr-1", 30, 11_000, now)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, int64(70), pos.RemainingShares)

	// Replaying the same instruction must not decrement again.
	closed, err = pos.ApplyFill("instr-1", 30, 11_000, now)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, int64(70), pos.RemainingShares)
}

func TestApplyFillClosesAtZero(t *testing.T) {
	now := time.Now()
	pos := NewPosition("005930", "Samsung Electronics", 100, 10_000, now, 0.05)

	_, err := pos.ApplyFill("instr-1", 60, 11_000, now)
	require.NoError(t, err)

	closed, err := pos.ApplyFill("instr-2", 40, 11_500, now)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.ClosedAt)
	require.NotNil(t, pos.ExitPrice)
	assert.Equal(t, int64(11_500), *pos.ExitPrice)
}

func TestApplyFillRejectsOverfill(t *testing.T) {
	now := time.Now()
	pos := NewPosition("005930", "Samsung Electronics", 100, 10_000, now, 0.05)

	_, err := pos.ApplyFill("instr-1", 101, 11_000, now)
	assert.ErrorIs(t, err, ErrFillExceedsRemaining)

	_, err = pos.ApplyFill("instr-2", 0, 11_000, now)
	assert.ErrorIs(t, err, ErrFillExceedsRemaining)

	assert.Equal(t, int64(100), pos.RemainingShares)
}

func TestPositionMath(t *testing.T) {
	now := time.Now()
	pos := NewPosition("005930", "Samsung Electronics", 100, 10_000, now.AddDate(0, 0, -3), 0.05)
	pos.CurrentPrice = 11_000
	pos.RemainingShares = 70

	assert.InDelta(t, 0.10, pos.ProfitRate(), 1e-9)
	assert.Equal(t, int64(770_000), pos.Value())
	assert.Equal(t, int64(70_000), pos.Profit())
	assert.Equal(t, 3, pos.HoldingDays(now))
	assert.Equal(t, 0, pos.HoldingDays(now.AddDate(0, 0, -5)))
}
