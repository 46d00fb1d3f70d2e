package monitor

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seojin-dev/kisbot/internal/domain"
)

func testPosition(entry, shares int64, entryAt time.Time) *domain.Position {
	return domain.NewPosition("005930", "Samsung Electronics", shares, entry, entryAt, 0.05)
}

func tickAt(price int64, at time.Time) domain.PriceTick {
	return domain.PriceTick{Code: "005930", Price: price, Time: at}
}

func TestEvaluateStopLossFullExit(t *testing.T) {
	now := time.Now()
	rules := NewRules(DefaultRuleSettings())
	pos := testPosition(10_000, 100, now)

	require.Equal(t, int64(9_500), pos.StopPrice)

	instr := rules.Evaluate(pos, tickAt(9_500, now), now)
	require.NotNil(t, instr)
	assert.Equal(t, domain.ExitReasonStopLoss, instr.Reason)
	assert.Equal(t, int64(100), instr.Quantity)
	assert.Equal(t, int64(9_500), instr.Price)
	assert.NotEmpty(t, instr.ID)
}

func TestEvaluateTakeProfitStageOne(t *testing.T) {
	now := time.Now()
	rules := NewRules(DefaultRuleSettings())
	pos := testPosition(10_000, 100, now)

	instr := rules.Evaluate(pos, tickAt(11_000, now), now)
	require.NotNil(t, instr)
	assert.Equal(t, domain.ExitReasonTakeProfit1, instr.Reason)
	assert.Equal(t, int64(30), instr.Quantity, "stage 1 sells 30%% of the original shares")
	assert.True(t, pos.Stage1Done)
	assert.Equal(t, pos.EntryPrice, pos.StopPrice, "stage 1 lifts the stop to break-even")

	_, err := pos.ApplyFill(instr.ID, instr.Quantity, instr.Price, now)
	require.NoError(t, err)
	require.Equal(t, int64(70), pos.RemainingShares)

	// Same price again: the stage is retired and must not re-fire.
	assert.Nil(t, rules.Evaluate(pos, tickAt(11_000, now), now))
}

func TestEvaluateStageSkipRetiresLowerFlags(t *testing.T) {
	now := time.Now()
	rules := NewRules(DefaultRuleSettings())
	pos := testPosition(10_000, 100, now)

	// Gap straight to +15%: stage 2 fires and retires stage 1 with it.
	instr := rules.Evaluate(pos, tickAt(11_500, now), now)
	require.NotNil(t, instr)
	assert.Equal(t, domain.ExitReasonTakeProfit2, instr.Reason)
	assert.Equal(t, int64(30), instr.Quantity)
	assert.True(t, pos.Stage1Done)
	assert.True(t, pos.Stage2Done)

	_, err := pos.ApplyFill(instr.ID, instr.Quantity, instr.Price, now)
	require.NoError(t, err)

	// Pullback to +10% must not fire the retired stage 1.
	assert.Nil(t, rules.Evaluate(pos, tickAt(11_000, now), now))
}

func TestEvaluateStageThreeSellsRemainder(t *testing.T) {
	now := time.Now()
	rules := NewRules(DefaultRuleSettings())
	pos := testPosition(10_000, 100, now)

	for _, step := range []struct {
		price int64
		want  domain.ExitReason
		qty   int64
	}{
		{11_000, domain.ExitReasonTakeProfit1, 30},
		{11_500, domain.ExitReasonTakeProfit2, 30},
		{12_000, domain.ExitReasonTakeProfit3, 40},
	} {
		instr := rules.Evaluate(pos, tickAt(step.price, now), now)
		require.NotNil(t, instr, "price %d", step.price)
		assert.Equal(t, step.want, instr.Reason)
		assert.Equal(t, step.qty, instr.Quantity)
		_, err := pos.ApplyFill(instr.ID, instr.Quantity, instr.Price, now)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), pos.RemainingShares)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
}

func TestEvaluateTrailingActivationProtectsBreakEven(t *testing.T) {
	now := time.Now()
	rules := NewRules(DefaultRuleSettings())
	pos := testPosition(10_000, 100, now)

	// +8% arms level 1. No exit, stop moves to break-even only.
	require.Nil(t, rules.Evaluate(pos, tickAt(10_800, now), now))
	assert.Equal(t, 1, pos.TrailingLevel)
	assert.Equal(t, int64(10_000), pos.StopPrice)

	// Falling back through break-even exits the whole position.
	instr := rules.Evaluate(pos, tickAt(9_900, now), now)
	require.NotNil(t, instr)
	assert.Equal(t, domain.ExitReasonTrailingStop, instr.Reason)
	assert.Equal(t, int64(100), instr.Quantity)
	assert.Equal(t, 1, instr.TrailingLevel)
}

func TestEvaluateTrailingRatchet(t *testing.T) {
	now := time.Now()
	cfg := DefaultRuleSettings()
	// Push take-profit out of the way so only the trailing path runs.
	cfg.TakeProfit1Rate = 90
	cfg.TakeProfit2Rate = 91
	cfg.TakeProfit3Rate = 92
	rules := NewRules(cfg)
	pos := testPosition(10_000, 100, now)

	require.Nil(t, rules.Evaluate(pos, tickAt(10_800, now), now))
	require.Equal(t, 1, pos.TrailingLevel)
	require.Equal(t, int64(10_000), pos.StopPrice)

	// New high at +16%: level tightens to 2 and the stop ratchets to
	// high * (1 - 3%).
	require.Nil(t, rules.Evaluate(pos, tickAt(11_600, now), now))
	assert.Equal(t, 2, pos.TrailingLevel)
	assert.Equal(t, int64(11_252), pos.StopPrice)

	require.Nil(t, rules.Evaluate(pos, tickAt(11_700, now), now))
	assert.Equal(t, int64(11_349), pos.StopPrice)

	// Dip that stays above the stop: no exit, stop never moves down.
	require.Nil(t, rules.Evaluate(pos, tickAt(11_500, now), now))
	assert.Equal(t, int64(11_349), pos.StopPrice)
	assert.Equal(t, 2, pos.TrailingLevel)

	// Stop is always at most high * (1 - gap).
	assert.LessOrEqual(t, pos.StopPrice, int64(float64(pos.HighestPrice)*(1-cfg.TrailLevel2Gap)))

	instr := rules.Evaluate(pos, tickAt(11_300, now), now)
	require.NotNil(t, instr)
	assert.Equal(t, domain.ExitReasonTrailingStop, instr.Reason)
	assert.Equal(t, 2, instr.TrailingLevel)
	assert.Equal(t, int64(100), instr.Quantity)
}

func TestEvaluateHoldExpiry(t *testing.T) {
	now := time.Now()
	rules := NewRules(DefaultRuleSettings())

	t.Run("flat position expires after 7 days", func(t *testing.T) {
		pos := testPosition(10_000, 100, now.AddDate(0, 0, -8))
		instr := rules.Evaluate(pos, tickAt(10_000, now), now)
		require.NotNil(t, instr)
		assert.Equal(t, domain.ExitReasonHoldExpiry, instr.Reason)
		assert.Equal(t, int64(100), instr.Quantity)
	})

	t.Run("profitable position gets 14 days", func(t *testing.T) {
		pos := testPosition(10_000, 100, now.AddDate(0, 0, -8))
		assert.Nil(t, rules.Evaluate(pos, tickAt(10_600, now), now))
	})

	t.Run("profitable position still expires after 14 days", func(t *testing.T) {
		pos := testPosition(10_000, 100, now.AddDate(0, 0, -15))
		instr := rules.Evaluate(pos, tickAt(10_600, now), now)
		require.NotNil(t, instr)
		assert.Equal(t, domain.ExitReasonHoldExpiry, instr.Reason)
	})
}

func TestEvaluateIgnoresForeignAndClosed(t *testing.T) {
	now := time.Now()
	rules := NewRules(DefaultRuleSettings())

	pos := testPosition(10_000, 100, now)
	assert.Nil(t, rules.Evaluate(pos, domain.PriceTick{Code: "000660", Price: 1}, now))
	assert.Nil(t, rules.Evaluate(pos, tickAt(0, now), now))

	closed := testPosition(10_000, 100, now)
	closed.Status = domain.PositionStatusClosed
	assert.Nil(t, rules.Evaluate(closed, tickAt(9_000, now), now))
}

// Random tick walks must never move the stop or the trailing level down,
// and every emitted instruction must fit inside the remaining shares.
func TestEvaluateMonotoneUnderRandomTicks(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			rules := NewRules(DefaultRuleSettings())

			now := time.Now()
			pos := testPosition(10_000, 100, now)

			prevStop := pos.StopPrice
			prevLevel := pos.TrailingLevel
			for i := 0; i < 5_000 && pos.Status == domain.PositionStatusOpen; i++ {
				price := int64(8_000 + rng.Intn(5_000)) // -20% .. +30%
				instr := rules.Evaluate(pos, tickAt(price, now), now)

				require.GreaterOrEqual(t, pos.StopPrice, prevStop,
					"stop ratcheted down at tick %d (price %d)", i, price)
				require.GreaterOrEqual(t, pos.TrailingLevel, prevLevel,
					"trailing level dropped at tick %d (price %d)", i, price)
				if pos.TrailingLevel > 0 {
					gap := map[int]float64{1: 0.05, 2: 0.03, 3: 0.02}[pos.TrailingLevel]
					require.LessOrEqual(t, pos.StopPrice, int64(float64(pos.HighestPrice)*(1-gap))+1,
						"stop above the trailing band at tick %d", i)
				}

				if instr != nil {
					require.Positive(t, instr.Quantity)
					require.LessOrEqual(t, instr.Quantity, pos.RemainingShares)
					_, err := pos.ApplyFill(instr.ID, instr.Quantity, price, now)
					require.NoError(t, err)
				}

				prevStop = pos.StopPrice
				prevLevel = pos.TrailingLevel
				now = now.Add(time.Second)
			}
		})
	}
}
