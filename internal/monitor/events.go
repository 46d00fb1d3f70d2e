package monitor

import "github.com/seojin-dev/kisbot/internal/domain"

// EventHandler receives exit lifecycle callbacks. All methods are invoked
// synchronously from the evaluation loop, so implementations must return
// quickly; slow delivery belongs behind a queue or goroutine on the
// implementation side.
type EventHandler interface {
	OnStopLoss(pos domain.Position, rec domain.ExitRecord)
	OnTakeProfit(pos domain.Position, rec domain.ExitRecord, stage int)
	OnTrailingStop(pos domain.Position, rec domain.ExitRecord, level int)
	OnHoldExpiry(pos domain.Position, rec domain.ExitRecord)
	OnExitFailed(pos domain.Position, instr domain.ExitInstruction, reason string)
}

// NopEvents discards every event. Embed it to implement only the callbacks
// a handler cares about.
type NopEvents struct{}

func (NopEvents) OnStopLoss(domain.Position, domain.ExitRecord)                {}
func (NopEvents) OnTakeProfit(domain.Position, domain.ExitRecord, int)         {}
func (NopEvents) OnTrailingStop(domain.Position, domain.ExitRecord, int)       {}
func (NopEvents) OnHoldExpiry(domain.Position, domain.ExitRecord)              {}
func (NopEvents) OnExitFailed(domain.Position, domain.ExitInstruction, string) {}

var _ EventHandler = NopEvents{}
