package kis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// SimulatedGateway is an in-process stand-in for the venue's order
// endpoints. Orders fill immediately at the last observed price (or the
// limit price), and the resulting ledger is served back through OrderStatus
// and Balance, so the rest of the system runs unchanged without touching a
// real account.
type SimulatedGateway struct {
	logger *slog.Logger

	mu       sync.Mutex
	prices   map[string]int64
	holdings map[string]*domain.Holding
	orders   []domain.OrderDetail
	cash     int64
	seq      int
}

// NewSimulatedGateway creates a simulator seeded with the given cash
// balance in KRW.
func NewSimulatedGateway(cash int64, logger *slog.Logger) *SimulatedGateway {
	return &SimulatedGateway{
		logger:   logger.With("component", "sim_gateway"),
		prices:   make(map[string]int64),
		holdings: make(map[string]*domain.Holding),
		cash:     cash,
	}
}

// SetPrice records the latest price for an instrument. Market orders fill
// at this price.
func (g *SimulatedGateway) SetPrice(code string, price int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[code] = price
}

// Seed installs a holding directly, bypassing a buy order. Used to start a
// session from a known book.
func (g *SimulatedGateway) Seed(code, name string, qty, avgPrice int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holdings[code] = &domain.Holding{
		Code: code, Name: name, Quantity: qty, AvgPrice: avgPrice,
	}
	if _, ok := g.prices[code]; !ok {
		g.prices[code] = avgPrice
	}
}

// PlaceOrder fills the order instantly against the last known price.
func (g *SimulatedGateway) PlaceOrder(ctx context.Context, code string, side domain.OrderSide, kind domain.OrderKind, qty, price int64) (domain.OrderOutcome, error) {
	if code == "" || qty <= 0 {
		return domain.OrderOutcome{}, fmt.Errorf("sim: place order: %w", domain.ErrInvalidOrder)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	fillPrice := price
	if kind == domain.OrderKindMarket || fillPrice <= 0 {
		fillPrice = g.prices[code]
	}
	if fillPrice <= 0 {
		return domain.OrderOutcome{
			Status:  domain.OrderStatusRejected,
			Message: "sim: no price for " + code,
		}, nil
	}

	switch side {
	case domain.OrderSideBuy:
		cost := fillPrice * qty
		if cost > g.cash {
			return domain.OrderOutcome{
				Status:  domain.OrderStatusRejected,
				Message: domain.ErrInsufficientBalance.Error(),
			}, nil
		}
		g.cash -= cost
		h := g.holdings[code]
		if h == nil {
			g.holdings[code] = &domain.Holding{Code: code, Quantity: qty, AvgPrice: fillPrice}
		} else {
			total := h.AvgPrice*h.Quantity + fillPrice*qty
			h.Quantity += qty
			h.AvgPrice = total / h.Quantity
		}
	case domain.OrderSideSell:
		h := g.holdings[code]
		if h == nil || h.Quantity < qty {
			return domain.OrderOutcome{
				Status:  domain.OrderStatusRejected,
				Message: "sim: insufficient holdings for " + code,
			}, nil
		}
		h.Quantity -= qty
		g.cash += fillPrice * qty
		if h.Quantity == 0 {
			delete(g.holdings, code)
		}
	default:
		return domain.OrderOutcome{}, fmt.Errorf("sim: place order: side %q: %w", side, domain.ErrInvalidOrder)
	}

	g.seq++
	orderID := "SIM" + strconv.Itoa(g.seq)
	g.orders = append(g.orders, domain.OrderDetail{
		OrderID:   orderID,
		Code:      code,
		Side:      side,
		Quantity:  qty,
		FilledQty: qty,
		AvgPrice:  fillPrice,
		Status:    domain.OrderStatusFilled,
		PlacedAt:  time.Now(),
	})

	g.logger.Info("simulated fill",
		"order_id", orderID, "code", code, "side", side, "qty", qty, "price", fillPrice)

	return domain.OrderOutcome{
		Success:   true,
		OrderID:   orderID,
		Status:    domain.OrderStatusFilled,
		FillQty:   qty,
		FillPrice: fillPrice,
	}, nil
}

// CancelOrder is a no-op: simulated orders fill instantly, so there is
// never an open remainder to cancel.
func (g *SimulatedGateway) CancelOrder(ctx context.Context, orderID, code string, qty int64) (domain.OrderOutcome, error) {
	return domain.OrderOutcome{
		Success: true,
		OrderID: orderID,
		Status:  domain.OrderStatusCancelled,
	}, nil
}

// OrderStatus returns every simulated order placed today.
func (g *SimulatedGateway) OrderStatus(ctx context.Context, day time.Time) ([]domain.OrderDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.OrderDetail, 0, len(g.orders))
	y, m, d := day.Date()
	for _, o := range g.orders {
		oy, om, od := o.PlacedAt.Date()
		if oy == y && om == m && od == d {
			out = append(out, o)
		}
	}
	return out, nil
}

// Balance returns the simulated account state, valuing holdings at the
// last observed prices.
func (g *SimulatedGateway) Balance(ctx context.Context) (domain.BalanceSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := domain.BalanceSnapshot{Cash: g.cash, TotalValue: g.cash, TakenAt: time.Now()}
	for _, h := range g.holdings {
		cur := g.prices[h.Code]
		if cur <= 0 {
			cur = h.AvgPrice
		}
		held := *h
		held.CurrentVal = cur * h.Quantity
		snap.Holdings = append(snap.Holdings, held)
		snap.TotalValue += held.CurrentVal
	}
	return snap, nil
}
