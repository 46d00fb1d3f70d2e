package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderKind selects the venue price condition for an order.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// OrderStatus tracks the order lifecycle as reported by the venue.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderOutcome is the structured result of one order submission attempt.
// A venue rejection is a non-success outcome, not a Go error; transport
// failures after the retry budget is exhausted also surface here so callers
// can distinguish "the venue said no" from "we do not know what happened".
type OrderOutcome struct {
	Success   bool
	OrderID   string
	Status    OrderStatus
	Message   string
	Retriable bool // transient failure worth another attempt
	Ambiguous bool // request may have reached the venue; reconcile before resubmitting
	FillPrice int64
	FillQty   int64
}

// OrderDetail is one row from the venue's daily order ledger, used to
// reconcile ambiguous submissions.
type OrderDetail struct {
	OrderID   string
	Code      string
	Side      OrderSide
	Quantity  int64
	FilledQty int64
	AvgPrice  int64
	Status    OrderStatus
	PlacedAt  time.Time
}

// Holding is one instrument row from the venue's balance inquiry.
type Holding struct {
	Code       string
	Name       string
	Quantity   int64
	AvgPrice   int64
	CurrentVal int64
}

// BalanceSnapshot is the venue account state at one moment.
type BalanceSnapshot struct {
	Cash       int64
	TotalValue int64
	Holdings   []Holding
	TakenAt    time.Time
}
