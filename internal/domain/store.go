package domain

import "context"

// PositionStore persists position snapshots so open positions survive a
// process restart.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	MarkClosed(ctx context.Context, code string, exitPrice int64) error
	ListOpen(ctx context.Context) ([]Position, error)
	GetByCode(ctx context.Context, code string) (Position, error)
}

// ExitJournal records confirmed exit fills.
type ExitJournal interface {
	Append(ctx context.Context, rec ExitRecord) error
	ListSince(ctx context.Context, limit int) ([]ExitRecord, error)
}
