package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is the live exit-management state for one held instrument. All
// prices are integer KRW. Shares is the originally purchased quantity and
// never changes after entry; RemainingShares shrinks as staged exits fill.
//
// StopPrice only moves upward over the life of the position, and
// TrailingLevel only increases. Stage flags record take-profit stages that
// have already fired so a stage cannot fire twice.
type Position struct {
	Code            string
	Name            string
	Theme           string
	Shares          int64
	RemainingShares int64
	EntryPrice      int64
	EntryAt         time.Time
	StopPrice       int64
	HighestPrice    int64
	CurrentPrice    int64
	TrailingLevel   int // 0 = inactive, 1..3
	MaxProfitRate   float64
	Stage1Done      bool
	Stage2Done      bool
	Stage3Done      bool
	Status          PositionStatus
	ClosedAt        *time.Time
	ExitPrice       *int64

	// appliedFills records exit instruction IDs whose fills have already
	// been applied, so a replayed confirmation cannot double-decrement.
	appliedFills map[string]struct{}
}

// ProfitRate returns the fractional gain at the current price, for example
// 0.10 for +10%. Returns 0 when the entry price is unset.
func (p *Position) ProfitRate() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return float64(p.CurrentPrice-p.EntryPrice) / float64(p.EntryPrice)
}

// Value returns the market value of the remaining shares at the current price.
func (p *Position) Value() int64 {
	return p.CurrentPrice * p.RemainingShares
}

// Profit returns the unrealized profit of the remaining shares in KRW.
func (p *Position) Profit() int64 {
	return (p.CurrentPrice - p.EntryPrice) * p.RemainingShares
}

// HoldingDays returns the number of whole days elapsed since entry.
func (p *Position) HoldingDays(now time.Time) int {
	if now.Before(p.EntryAt) {
		return 0
	}
	return int(now.Sub(p.EntryAt).Hours() / 24)
}

// ApplyFill records a confirmed exit fill for the given instruction and
// decrements the remaining shares. A repeated call with the same instruction
// ID is a no-op, so a duplicated fill confirmation cannot double-decrement.
// It reports whether the position is fully closed after the fill.
func (p *Position) ApplyFill(instructionID string, quantity, fillPrice int64, at time.Time) (closed bool, err error) {
	if p.appliedFills == nil {
		p.appliedFills = make(map[string]struct{})
	}
	if _, seen := p.appliedFills[instructionID]; seen {
		return p.Status == PositionStatusClosed, nil
	}
	if quantity <= 0 || quantity > p.RemainingShares {
		return false, ErrFillExceedsRemaining
	}

	p.appliedFills[instructionID] = struct{}{}
	p.RemainingShares -= quantity
	if p.RemainingShares == 0 {
		p.Status = PositionStatusClosed
		t := at
		p.ClosedAt = &t
		px := fillPrice
		p.ExitPrice = &px
	}
	return p.Status == PositionStatusClosed, nil
}

// NewPosition builds an open position with the stop set stopLossRate below
// the entry price, for example 0.05 for a 5% initial stop.
func NewPosition(code, name string, shares, entryPrice int64, entryAt time.Time, stopLossRate float64) *Position {
	return &Position{
		Code:            code,
		Name:            name,
		Shares:          shares,
		RemainingShares: shares,
		EntryPrice:      entryPrice,
		EntryAt:         entryAt,
		StopPrice:       int64(float64(entryPrice) * (1 - stopLossRate)),
		HighestPrice:    entryPrice,
		CurrentPrice:    entryPrice,
		Status:          PositionStatusOpen,
	}
}
