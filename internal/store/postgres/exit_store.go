package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// ExitStore implements domain.ExitJournal using PostgreSQL. Rows are
// append-only; the instruction ID is the primary key so a replayed fill
// confirmation cannot produce a duplicate row.
type ExitStore struct {
	pool *pgxpool.Pool
}

// NewExitStore creates a new ExitStore backed by the given connection pool.
func NewExitStore(pool *pgxpool.Pool) *ExitStore {
	return &ExitStore{pool: pool}
}

// Append records one confirmed exit fill. Re-appending the same instruction
// ID is a no-op.
func (s *ExitStore) Append(ctx context.Context, rec domain.ExitRecord) error {
	const query = `
		INSERT INTO exit_records (
			instruction_id, code, name, reason, quantity,
			fill_price, entry_price, order_id, filled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instruction_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.InstructionID, rec.Code, rec.Name, string(rec.Reason), rec.Quantity,
		rec.FillPrice, rec.EntryPrice, rec.OrderID, rec.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append exit record %s: %w", rec.InstructionID, err)
	}
	return nil
}

// ListSince returns the most recent exit records, newest first.
func (s *ExitStore) ListSince(ctx context.Context, limit int) ([]domain.ExitRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT instruction_id, code, name, reason, quantity,
		       fill_price, entry_price, order_id, filled_at
		FROM exit_records
		ORDER BY filled_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exit records: %w", err)
	}
	defer rows.Close()

	var records []domain.ExitRecord
	for rows.Next() {
		var rec domain.ExitRecord
		var reason string
		if err := rows.Scan(
			&rec.InstructionID, &rec.Code, &rec.Name, &reason, &rec.Quantity,
			&rec.FillPrice, &rec.EntryPrice, &rec.OrderID, &rec.FilledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan exit record: %w", err)
		}
		rec.Reason = domain.ExitReason(reason)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Compile-time interface check.
var _ domain.ExitJournal = (*ExitStore)(nil)
