package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// FeedRunner is the market-data surface the supervisor drives.
type FeedRunner interface {
	Run(ctx context.Context) error
	Subscribe(ctx context.Context, codes []string) error
}

// SupervisorConfig wires a Supervisor.
type SupervisorConfig struct {
	Feed         FeedRunner
	Coordinator  *Coordinator
	Hours        *MarketHours
	EvalInterval time.Duration
	Logger       *slog.Logger
}

// Supervisor runs the two long-lived units of the monitoring core: the feed
// connection and the fixed-interval evaluation loop. Both run under one
// errgroup, so a fatal error in either tears the other down, and context
// cancellation shuts both down cleanly.
type Supervisor struct {
	feed     FeedRunner
	coord    *Coordinator
	hours    *MarketHours
	interval time.Duration
	logger   *slog.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	interval := cfg.EvalInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Supervisor{
		feed:     cfg.Feed,
		coord:    cfg.Coordinator,
		hours:    cfg.Hours,
		interval: interval,
		logger:   cfg.Logger.With("component", "supervisor"),
	}
}

// Track registers a position with the coordinator and subscribes its
// instrument on the feed.
func (s *Supervisor) Track(ctx context.Context, pos *domain.Position) error {
	if err := s.coord.Track(ctx, pos); err != nil {
		return err
	}
	if err := s.feed.Subscribe(ctx, []string{pos.Code}); err != nil {
		return fmt.Errorf("monitor: subscribe %s: %w", pos.Code, err)
	}
	return nil
}

// SubscribeTracked registers every currently tracked position's instrument
// on the feed. Called once after hydration, before Run.
func (s *Supervisor) SubscribeTracked(ctx context.Context) error {
	positions := s.coord.Positions()
	codes := make([]string, 0, len(positions))
	for _, p := range positions {
		codes = append(codes, p.Code)
	}
	if len(codes) == 0 {
		return nil
	}
	return s.feed.Subscribe(ctx, codes)
}

// Run blocks until ctx is cancelled or one of the units fails.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.feed.Run(ctx)
	})

	g.Go(func() error {
		return s.evalLoop(ctx)
	})

	s.logger.Info("monitoring started",
		"positions", len(s.coord.Positions()), "interval", s.interval.String())
	return g.Wait()
}

// statusEvery is how often the portfolio summary is logged while the market
// is open.
const statusEvery = time.Minute

// evalLoop drives EvaluateAll at the configured cadence while the market is
// open. Outside session hours the loop idles; positions and prices stay
// warm for the next session.
func (s *Supervisor) evalLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	marketWasOpen := false
	var lastStatus time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			open := s.hours == nil || s.hours.Open(now)
			if open != marketWasOpen {
				s.logger.Info("market session changed", "open", open)
				marketWasOpen = open
			}
			if !open {
				continue
			}
			s.coord.EvaluateAll(ctx, now)

			if now.Sub(lastStatus) >= statusEvery {
				st := s.coord.Status()
				s.logger.Info("portfolio status",
					"positions", st.Positions, "pending", st.Pending,
					"value", st.Value, "unrealized_pnl", st.Unrealized)
				lastStatus = now
			}
		}
	}
}
