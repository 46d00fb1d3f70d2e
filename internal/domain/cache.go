package domain

import "context"

// TickCache mirrors the latest tick per instrument to shared storage so
// other processes (dashboards, scanners) can read live prices without their
// own feed connection. Implementations must be safe for concurrent use.
type TickCache interface {
	SetTick(ctx context.Context, tick PriceTick) error
	GetTick(ctx context.Context, code string) (PriceTick, error)
	GetTicks(ctx context.Context, codes []string) (map[string]PriceTick, error)
}
