// Package monitor implements the position exit engine: the per-tick rule
// state machine, the coordinator that turns rule output into venue orders,
// and the supervisor that runs the feed and evaluation loop together.
package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// RuleSettings holds the exit-rule thresholds. Rates and gaps are
// fractional, for example 0.05 for 5%.
type RuleSettings struct {
	StopLossRate float64

	TakeProfit1Rate  float64
	TakeProfit2Rate  float64
	TakeProfit3Rate  float64
	TakeProfit1Ratio float64
	TakeProfit2Ratio float64

	TrailActivateRate float64 // reaching this profit arms level 1
	TrailLevel2Rate   float64
	TrailLevel3Rate   float64
	TrailLevel1Gap    float64 // trailing distance below the high per level
	TrailLevel2Gap    float64
	TrailLevel3Gap    float64

	MaxHoldDaysProfit int
	MaxHoldDaysLoss   int
	LongHoldMinProfit float64
}

// DefaultRuleSettings returns the production thresholds: staged take-profit
// at +10/+15/+20%, trailing activation at +8% with tightening to 3% and 2%
// gaps at +15% and +25%, and hold expiry at 7 days (14 when up 5% or more).
func DefaultRuleSettings() RuleSettings {
	return RuleSettings{
		StopLossRate:      0.05,
		TakeProfit1Rate:   0.10,
		TakeProfit2Rate:   0.15,
		TakeProfit3Rate:   0.20,
		TakeProfit1Ratio:  0.30,
		TakeProfit2Ratio:  0.30,
		TrailActivateRate: 0.08,
		TrailLevel2Rate:   0.15,
		TrailLevel3Rate:   0.25,
		TrailLevel1Gap:    0.05,
		TrailLevel2Gap:    0.03,
		TrailLevel3Gap:    0.02,
		MaxHoldDaysProfit: 14,
		MaxHoldDaysLoss:   7,
		LongHoldMinProfit: 0.05,
	}
}

// Rules is the deterministic exit state machine. Evaluate mutates the
// position's monitoring state (current/highest price, stop, trailing level,
// stage flags) and emits at most one exit instruction per call; the first
// matching transition wins and later transitions wait for the next tick.
//
// Stop and trailing level only ever move in the position's favor: the stop
// ratchets up, never down, and the trailing level never decreases.
type Rules struct {
	cfg RuleSettings
}

// NewRules creates a Rules engine with the given thresholds.
func NewRules(cfg RuleSettings) *Rules {
	return &Rules{cfg: cfg}
}

// Settings returns the active thresholds.
func (r *Rules) Settings() RuleSettings {
	return r.cfg
}

// Evaluate applies one tick to one position. Transition priority:
//
//  1. stop hit (initial stop-loss or trailing stop, full remaining exit)
//  2. staged take-profit, highest unfired stage first
//  3. trailing maintenance (level arming and stop ratchet, no exit)
//  4. hold-period expiry (full remaining exit)
//
// Returns nil when no exit is due. Evaluate never emits an instruction for
// more shares than remain.
func (r *Rules) Evaluate(p *domain.Position, tick domain.PriceTick, now time.Time) *domain.ExitInstruction {
	if p == nil || p.Status != domain.PositionStatusOpen || p.RemainingShares <= 0 {
		return nil
	}
	if tick.Code != p.Code || tick.Price <= 0 {
		return nil
	}

	newHigh := tick.Price > p.HighestPrice
	if newHigh {
		p.HighestPrice = tick.Price
	}
	p.CurrentPrice = tick.Price
	rate := p.ProfitRate()
	if rate > p.MaxProfitRate {
		p.MaxProfitRate = rate
	}

	// 1. Stop hit.
	if p.StopPrice > 0 && tick.Price <= p.StopPrice {
		reason := domain.ExitReasonStopLoss
		if p.TrailingLevel > 0 {
			reason = domain.ExitReasonTrailingStop
		}
		return r.instruction(p, reason, p.RemainingShares, tick.Price, now)
	}

	// 2. Staged take-profit, highest stage first. A higher stage also
	// retires the lower flags so a pullback cannot re-trigger them.
	if instr := r.takeProfit(p, rate, tick.Price, now); instr != nil {
		return instr
	}

	// 3. Trailing maintenance.
	r.updateTrailing(p, rate, newHigh)

	// 4. Hold-period expiry.
	limit := r.cfg.MaxHoldDaysLoss
	if rate >= r.cfg.LongHoldMinProfit {
		limit = r.cfg.MaxHoldDaysProfit
	}
	if p.HoldingDays(now) >= limit {
		return r.instruction(p, domain.ExitReasonHoldExpiry, p.RemainingShares, tick.Price, now)
	}

	return nil
}

// takeProfit fires the highest eligible unfired stage. Stages 1 and 2 sell
// a fixed ratio of the ORIGINAL share count; stage 3 sells everything left.
// Stage 1 also lifts the stop to break-even.
func (r *Rules) takeProfit(p *domain.Position, rate float64, price int64, now time.Time) *domain.ExitInstruction {
	switch {
	case rate >= r.cfg.TakeProfit3Rate && !p.Stage3Done:
		p.Stage1Done, p.Stage2Done, p.Stage3Done = true, true, true
		return r.instruction(p, domain.ExitReasonTakeProfit3, p.RemainingShares, price, now)

	case rate >= r.cfg.TakeProfit2Rate && !p.Stage2Done:
		p.Stage1Done, p.Stage2Done = true, true
		qty := stageQty(p, r.cfg.TakeProfit2Ratio)
		if qty == 0 {
			return nil
		}
		return r.instruction(p, domain.ExitReasonTakeProfit2, qty, price, now)

	case rate >= r.cfg.TakeProfit1Rate && !p.Stage1Done:
		p.Stage1Done = true
		if p.StopPrice < p.EntryPrice {
			p.StopPrice = p.EntryPrice
		}
		qty := stageQty(p, r.cfg.TakeProfit1Ratio)
		if qty == 0 {
			return nil
		}
		return r.instruction(p, domain.ExitReasonTakeProfit1, qty, price, now)
	}
	return nil
}

// updateTrailing arms and tightens the trailing stop. Arming level 1 lifts
// the stop to break-even; once armed, every new high ratchets the stop to
// highest*(1-gap) for the current level. The stop never moves down.
func (r *Rules) updateTrailing(p *domain.Position, rate float64, newHigh bool) {
	prevLevel := p.TrailingLevel

	target := prevLevel
	switch {
	case rate >= r.cfg.TrailLevel3Rate:
		target = 3
	case rate >= r.cfg.TrailLevel2Rate:
		target = 2
	case rate >= r.cfg.TrailActivateRate:
		target = 1
	}
	if target > p.TrailingLevel {
		p.TrailingLevel = target
	}

	if prevLevel == 0 && p.TrailingLevel >= 1 {
		if p.StopPrice < p.EntryPrice {
			p.StopPrice = p.EntryPrice
		}
		return
	}

	if prevLevel >= 1 && newHigh {
		gap := r.trailGap(p.TrailingLevel)
		candidate := int64(float64(p.HighestPrice) * (1 - gap))
		if candidate > p.StopPrice {
			p.StopPrice = candidate
		}
	}
}

func (r *Rules) trailGap(level int) float64 {
	switch level {
	case 3:
		return r.cfg.TrailLevel3Gap
	case 2:
		return r.cfg.TrailLevel2Gap
	default:
		return r.cfg.TrailLevel1Gap
	}
}

// stageQty sizes a partial exit as a ratio of the original share count,
// clamped to what remains.
func stageQty(p *domain.Position, ratio float64) int64 {
	qty := int64(float64(p.Shares) * ratio)
	if qty > p.RemainingShares {
		qty = p.RemainingShares
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}

func (r *Rules) instruction(p *domain.Position, reason domain.ExitReason, qty, price int64, now time.Time) *domain.ExitInstruction {
	if qty <= 0 || qty > p.RemainingShares {
		return nil
	}
	return &domain.ExitInstruction{
		ID:            uuid.New().String(),
		Code:          p.Code,
		Quantity:      qty,
		Reason:        reason,
		TrailingLevel: p.TrailingLevel,
		Price:         price,
		RequestedAt:   now,
	}
}
