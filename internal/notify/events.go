package notify

import (
	"context"
	"fmt"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// Event type names used to filter exit notifications.
const (
	EventStopLoss     = "stop_loss"
	EventTakeProfit   = "take_profit"
	EventTrailingStop = "trailing_stop"
	EventHoldExpiry   = "hold_expiry"
	EventExitFailed   = "exit_failed"
	EventError        = "error"
)

// ExitEvents adapts the Notifier to the monitor's exit lifecycle callbacks.
// Delivery is best effort: sender failures are logged by the Notifier and
// never propagate into the evaluation loop.
type ExitEvents struct {
	notifier *Notifier
}

// NewExitEvents creates an ExitEvents adapter.
func NewExitEvents(notifier *Notifier) *ExitEvents {
	return &ExitEvents{notifier: notifier}
}

func (e *ExitEvents) OnStopLoss(pos domain.Position, rec domain.ExitRecord) {
	e.send(EventStopLoss, "Stop loss", pos, rec)
}

func (e *ExitEvents) OnTakeProfit(pos domain.Position, rec domain.ExitRecord, stage int) {
	e.send(EventTakeProfit, fmt.Sprintf("Take profit (stage %d)", stage), pos, rec)
}

func (e *ExitEvents) OnTrailingStop(pos domain.Position, rec domain.ExitRecord, level int) {
	e.send(EventTrailingStop, fmt.Sprintf("Trailing stop (level %d)", level), pos, rec)
}

func (e *ExitEvents) OnHoldExpiry(pos domain.Position, rec domain.ExitRecord) {
	e.send(EventHoldExpiry, "Hold period expired", pos, rec)
}

func (e *ExitEvents) OnExitFailed(pos domain.Position, instr domain.ExitInstruction, reason string) {
	msg := fmt.Sprintf("%s (%s)\nreason: %s\nqty: %d\ncause: %s",
		pos.Name, pos.Code, instr.Reason, instr.Quantity, reason)
	_ = e.notifier.Notify(context.Background(), EventExitFailed, "Exit FAILED", msg)
}

func (e *ExitEvents) send(event, title string, pos domain.Position, rec domain.ExitRecord) {
	pnl := (rec.FillPrice - rec.EntryPrice) * rec.Quantity
	ratePct := 0.0
	if rec.EntryPrice > 0 {
		ratePct = float64(rec.FillPrice-rec.EntryPrice) / float64(rec.EntryPrice) * 100
	}
	msg := fmt.Sprintf("%s (%s)\nsold %d @ %d KRW (%+.2f%%)\npnl: %+d KRW\nremaining: %d",
		pos.Name, pos.Code, rec.Quantity, rec.FillPrice, ratePct, pnl, pos.RemainingShares)
	_ = e.notifier.Notify(context.Background(), event, title, msg)
}
