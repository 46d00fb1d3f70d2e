package domain

import "time"

// ExitReason tags what triggered an exit instruction.
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "stop_loss"
	ExitReasonTakeProfit1  ExitReason = "take_profit_1"
	ExitReasonTakeProfit2  ExitReason = "take_profit_2"
	ExitReasonTakeProfit3  ExitReason = "take_profit_3"
	ExitReasonTrailingStop ExitReason = "trailing_stop"
	ExitReasonHoldExpiry   ExitReason = "hold_expiry"
)

// Stage returns the take-profit stage number for staged reasons, 0 otherwise.
func (r ExitReason) Stage() int {
	switch r {
	case ExitReasonTakeProfit1:
		return 1
	case ExitReasonTakeProfit2:
		return 2
	case ExitReasonTakeProfit3:
		return 3
	default:
		return 0
	}
}

// ExitInstruction is a request to sell part or all of a position's remaining
// shares. It is produced by the exit rules, consumed exactly once by the
// coordinator, and identified by ID so that a replayed fill confirmation can
// be detected and ignored.
type ExitInstruction struct {
	ID            string
	Code          string
	Quantity      int64
	Reason        ExitReason
	TrailingLevel int // set when Reason is trailing_stop
	Price         int64
	RequestedAt   time.Time
}

// ExitRecord is the durable record of one confirmed exit fill, kept in the
// daily journal and archived at end of session.
type ExitRecord struct {
	InstructionID string     `json:"instruction_id"`
	Code          string     `json:"code"`
	Name          string     `json:"name"`
	Reason        ExitReason `json:"reason"`
	Quantity      int64      `json:"quantity"`
	FillPrice     int64      `json:"fill_price"`
	EntryPrice    int64      `json:"entry_price"`
	OrderID       string     `json:"order_id"`
	FilledAt      time.Time  `json:"filled_at"`
}
