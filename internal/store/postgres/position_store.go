package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. One row
// per instrument code; the row carries the full exit-management state so a
// restarted process resumes with the same stop, trailing level, and stage
// flags.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `code, name, theme, shares, remaining_shares,
	entry_price, entry_at, stop_price, highest_price, current_price,
	trailing_level, max_profit_rate, stage1_done, stage2_done, stage3_done,
	status, closed_at, exit_price`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.Code, &p.Name, &p.Theme, &p.Shares, &p.RemainingShares,
		&p.EntryPrice, &p.EntryAt, &p.StopPrice, &p.HighestPrice, &p.CurrentPrice,
		&p.TrailingLevel, &p.MaxProfitRate, &p.Stage1Done, &p.Stage2Done, &p.Stage3Done,
		&status, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts or replaces the snapshot for a position.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			code, name, theme, shares, remaining_shares,
			entry_price, entry_at, stop_price, highest_price, current_price,
			trailing_level, max_profit_rate, stage1_done, stage2_done, stage3_done,
			status, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, NOW()
		)
		ON CONFLICT (code) DO UPDATE SET
			name             = EXCLUDED.name,
			theme            = EXCLUDED.theme,
			shares           = EXCLUDED.shares,
			remaining_shares = EXCLUDED.remaining_shares,
			entry_price      = EXCLUDED.entry_price,
			entry_at         = EXCLUDED.entry_at,
			stop_price       = EXCLUDED.stop_price,
			highest_price    = EXCLUDED.highest_price,
			current_price    = EXCLUDED.current_price,
			trailing_level   = EXCLUDED.trailing_level,
			max_profit_rate  = EXCLUDED.max_profit_rate,
			stage1_done      = EXCLUDED.stage1_done,
			stage2_done      = EXCLUDED.stage2_done,
			stage3_done      = EXCLUDED.stage3_done,
			status           = EXCLUDED.status,
			closed_at        = EXCLUDED.closed_at,
			exit_price       = EXCLUDED.exit_price,
			updated_at       = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.Code, p.Name, p.Theme, p.Shares, p.RemainingShares,
		p.EntryPrice, p.EntryAt, p.StopPrice, p.HighestPrice, p.CurrentPrice,
		p.TrailingLevel, p.MaxProfitRate, p.Stage1Done, p.Stage2Done, p.Stage3Done,
		string(p.Status), p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Code, err)
	}
	return nil
}

// MarkClosed marks a position closed with the final fill price.
func (s *PositionStore) MarkClosed(ctx context.Context, code string, exitPrice int64) error {
	const query = `
		UPDATE positions SET
			status           = 'closed',
			remaining_shares = 0,
			exit_price       = $2,
			closed_at        = NOW(),
			updated_at       = NOW()
		WHERE code = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, code, exitPrice)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpen returns every open position, oldest entry first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY entry_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetByCode retrieves a single position by instrument code.
func (s *PositionStore) GetByCode(ctx context.Context, code string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE code = $1`, code)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", code, err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
