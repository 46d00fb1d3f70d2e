package kis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seojin-dev/kisbot/internal/domain"
)

func TestSimulatedSellFillsAtLastPrice(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedGateway(1_000_000, testLogger())
	sim.Seed("005930", "Samsung Electronics", 100, 10_000)
	sim.SetPrice("005930", 11_000)

	out, err := sim.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindMarket, 30, 0)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, domain.OrderStatusFilled, out.Status)
	assert.Equal(t, int64(11_000), out.FillPrice)
	assert.Equal(t, int64(30), out.FillQty)
	assert.NotEmpty(t, out.OrderID)

	snap, err := sim.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_330_000), snap.Cash)
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, int64(70), snap.Holdings[0].Quantity)
}

func TestSimulatedSellClosesHolding(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedGateway(0, testLogger())
	sim.Seed("005930", "Samsung Electronics", 10, 10_000)

	// No explicit price: fills at the seeded average.
	out, err := sim.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindMarket, 10, 0)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, int64(10_000), out.FillPrice)

	snap, err := sim.Balance(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Holdings)
	assert.Equal(t, int64(100_000), snap.Cash)
}

func TestSimulatedRejections(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedGateway(50_000, testLogger())
	sim.Seed("005930", "Samsung Electronics", 10, 10_000)

	t.Run("oversell", func(t *testing.T) {
		out, err := sim.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindMarket, 11, 0)
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Equal(t, domain.OrderStatusRejected, out.Status)
	})

	t.Run("insufficient cash", func(t *testing.T) {
		out, err := sim.PlaceOrder(ctx, "005930", domain.OrderSideBuy, domain.OrderKindMarket, 100, 0)
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Contains(t, out.Message, domain.ErrInsufficientBalance.Error())
	})

	t.Run("unknown instrument", func(t *testing.T) {
		out, err := sim.PlaceOrder(ctx, "999999", domain.OrderSideBuy, domain.OrderKindMarket, 1, 0)
		require.NoError(t, err)
		assert.False(t, out.Success)
	})

	t.Run("invalid order", func(t *testing.T) {
		_, err := sim.PlaceOrder(ctx, "", domain.OrderSideSell, domain.OrderKindMarket, 1, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	})
}

func TestSimulatedBuyAveragesEntry(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedGateway(10_000_000, testLogger())
	sim.SetPrice("005930", 10_000)

	_, err := sim.PlaceOrder(ctx, "005930", domain.OrderSideBuy, domain.OrderKindMarket, 10, 0)
	require.NoError(t, err)

	sim.SetPrice("005930", 12_000)
	_, err = sim.PlaceOrder(ctx, "005930", domain.OrderSideBuy, domain.OrderKindMarket, 10, 0)
	require.NoError(t, err)

	snap, err := sim.Balance(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, int64(20), snap.Holdings[0].Quantity)
	assert.Equal(t, int64(11_000), snap.Holdings[0].AvgPrice)
}

func TestSimulatedOrderStatusFiltersByDay(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedGateway(0, testLogger())
	sim.Seed("005930", "Samsung Electronics", 10, 10_000)

	_, err := sim.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindMarket, 5, 0)
	require.NoError(t, err)

	today, err := sim.OrderStatus(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, domain.OrderSideSell, today[0].Side)
	assert.Equal(t, domain.OrderStatusFilled, today[0].Status)

	yesterday, err := sim.OrderStatus(ctx, time.Now().AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, yesterday)
}
