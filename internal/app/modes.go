package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seojin-dev/kisbot/internal/config"
	"github.com/seojin-dev/kisbot/internal/domain"
	"github.com/seojin-dev/kisbot/internal/monitor"
	"github.com/seojin-dev/kisbot/internal/notify"
	"github.com/seojin-dev/kisbot/internal/platform/kis"
)

// archiveFlushTimeout bounds the end-of-session upload after the run context
// is already cancelled.
const archiveFlushTimeout = 30 * time.Second

// MonitorMode runs the live monitoring core: the real-time feed, the exit
// rule evaluation loop, and order execution through the KIS REST gateway.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runCore(ctx, deps, deps.KISClient, nil)
}

// SimMode runs the same monitoring core against an in-process fill
// simulator. With KIS credentials configured the real-time feed still
// supplies live prices; without them the core idles until positions are
// seeded programmatically.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")
	return a.runCore(ctx, deps, deps.SimGateway, deps.SimGateway)
}

// runCore builds the rules, coordinator, feed, and supervisor, hydrates the
// tracked set, and blocks until the context is cancelled. sim is non-nil in
// sim mode so live prices reach the fill simulator.
func (a *App) runCore(ctx context.Context, deps *Dependencies, gw monitor.Gateway, sim *kis.SimulatedGateway) error {
	rules := monitor.NewRules(ruleSettings(a.cfg.Exit))

	coord := monitor.NewCoordinator(monitor.CoordinatorConfig{
		Rules:   rules,
		Gateway: gw,
		Events:  a.buildEvents(deps),
		Store:   deps.PositionStore,
		Ticks:   deps.Ticks,
		Logger:  a.logger,
	})

	handler := func(tick domain.PriceTick) {
		if sim != nil {
			sim.SetPrice(tick.Code, tick.Price)
		}
		coord.UpdateTick(ctx, tick)
	}

	var feed monitor.FeedRunner
	if deps.KISClient != nil {
		feed = kis.NewFeed(kis.FeedConfig{
			URL:               a.cfg.Feed.URL,
			Paper:             a.cfg.KIS.Paper,
			MaxSubscriptions:  a.cfg.Feed.MaxSubscriptions,
			ReconnectAttempts: a.cfg.Feed.ReconnectAttempts,
			ReconnectDelay:    a.cfg.Feed.ReconnectDelay.Duration,
		}, deps.KISClient, handler, a.logger)
	} else {
		a.logger.WarnContext(ctx, "no KIS credentials, running without a live feed")
		feed = idleFeed{}
	}

	hours, err := monitor.NewMarketHours(a.cfg.Market.Timezone, a.cfg.Market.Open, a.cfg.Market.Close)
	if err != nil {
		return fmt.Errorf("app: market hours: %w", err)
	}

	sup := monitor.NewSupervisor(monitor.SupervisorConfig{
		Feed:         feed,
		Coordinator:  coord,
		Hours:        hours,
		EvalInterval: a.cfg.Exit.EvalInterval.Duration,
		Logger:       a.logger,
	})

	// Hydrate: persisted open positions first, then reconcile against the
	// account so the tracked set matches what is actually held.
	loaded, err := coord.LoadFromStore(ctx)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if loaded > 0 {
		a.logger.InfoContext(ctx, "hydrated positions from store", slog.Int("count", loaded))
	}
	a.logRecentExits(ctx, deps.ExitJournal)

	if sim != nil {
		for _, p := range coord.Positions() {
			sim.Seed(p.Code, p.Name, p.RemainingShares, p.EntryPrice)
		}
	}

	snap, err := coord.SyncBalance(ctx, time.Now())
	if err != nil {
		a.logger.WarnContext(ctx, "balance sync failed, continuing with stored positions",
			slog.String("error", err.Error()),
		)
	} else {
		a.logger.InfoContext(ctx, "account reconciled",
			slog.Int64("cash", snap.Cash),
			slog.Int("holdings", len(snap.Holdings)),
		)
	}

	if err := sup.SubscribeTracked(ctx); err != nil {
		return fmt.Errorf("app: subscribe tracked: %w", err)
	}

	runErr := sup.Run(ctx)

	a.flushArchive(deps, coord.Records())

	return runErr
}

// recentExitReport is how many journaled exits the startup summary covers.
const recentExitReport = 20

// logRecentExits summarizes the most recent journaled exits at startup, so an
// operator restarting the bot sees what it sold while they were away.
func (a *App) logRecentExits(ctx context.Context, journal domain.ExitJournal) {
	if journal == nil {
		return
	}
	records, err := journal.ListSince(ctx, recentExitReport)
	if err != nil {
		a.logger.WarnContext(ctx, "exit journal read failed", slog.String("error", err.Error()))
		return
	}
	if len(records) == 0 {
		return
	}
	var realized int64
	for _, rec := range records {
		realized += (rec.FillPrice - rec.EntryPrice) * rec.Quantity
	}
	a.logger.InfoContext(ctx, "recent exits",
		slog.Int("records", len(records)),
		slog.Int64("realized_pnl", realized),
		slog.String("last_code", records[0].Code),
	)
}

// flushArchive uploads the session's exit records to object storage, when an
// archiver is configured. The run context is already cancelled at this point,
// so the upload gets its own bounded context.
func (a *App) flushArchive(deps *Dependencies, records []domain.ExitRecord) {
	if deps.Archiver == nil || len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveFlushTimeout)
	defer cancel()

	key, n, err := deps.Archiver.ArchiveExits(ctx, time.Now(), records)
	if err != nil {
		a.logger.Error("exit archive upload failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("exit records archived", slog.String("key", key), slog.Int("records", n))
}

// buildEvents assembles the exit event chain: journal the record, then
// notify operators.
func (a *App) buildEvents(deps *Dependencies) monitor.EventHandler {
	return &journaledEvents{
		inner:   notify.NewExitEvents(deps.Notifier),
		journal: deps.ExitJournal,
		logger:  a.logger.With(slog.String("component", "events")),
	}
}

// journaledEvents appends each confirmed exit to the durable journal before
// forwarding the event to the notification chain. Journal failures are
// logged and never block the evaluation loop.
type journaledEvents struct {
	inner   monitor.EventHandler
	journal domain.ExitJournal
	logger  *slog.Logger
}

var _ monitor.EventHandler = (*journaledEvents)(nil)

func (j *journaledEvents) OnStopLoss(pos domain.Position, rec domain.ExitRecord) {
	j.record(rec)
	j.inner.OnStopLoss(pos, rec)
}

func (j *journaledEvents) OnTakeProfit(pos domain.Position, rec domain.ExitRecord, stage int) {
	j.record(rec)
	j.inner.OnTakeProfit(pos, rec, stage)
}

func (j *journaledEvents) OnTrailingStop(pos domain.Position, rec domain.ExitRecord, level int) {
	j.record(rec)
	j.inner.OnTrailingStop(pos, rec, level)
}

func (j *journaledEvents) OnHoldExpiry(pos domain.Position, rec domain.ExitRecord) {
	j.record(rec)
	j.inner.OnHoldExpiry(pos, rec)
}

func (j *journaledEvents) OnExitFailed(pos domain.Position, instr domain.ExitInstruction, reason string) {
	j.inner.OnExitFailed(pos, instr, reason)
}

func (j *journaledEvents) record(rec domain.ExitRecord) {
	if j.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.journal.Append(ctx, rec); err != nil {
		j.logger.Error("journal append failed",
			slog.String("code", rec.Code),
			slog.String("error", err.Error()),
		)
	}
}

// idleFeed satisfies the feed surface when no live connection is available.
// It accepts subscriptions and blocks until the context is cancelled.
type idleFeed struct{}

func (idleFeed) Subscribe(ctx context.Context, codes []string) error { return nil }

func (idleFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// ruleSettings maps the exit configuration onto the rule engine's thresholds.
func ruleSettings(cfg config.ExitConfig) monitor.RuleSettings {
	return monitor.RuleSettings{
		StopLossRate:      cfg.StopLossRate,
		TakeProfit1Rate:   cfg.TakeProfit1Rate,
		TakeProfit2Rate:   cfg.TakeProfit2Rate,
		TakeProfit3Rate:   cfg.TakeProfit3Rate,
		TakeProfit1Ratio:  cfg.TakeProfit1Ratio,
		TakeProfit2Ratio:  cfg.TakeProfit2Ratio,
		TrailActivateRate: cfg.TrailActivateRate,
		TrailLevel2Rate:   cfg.TrailLevel2Rate,
		TrailLevel3Rate:   cfg.TrailLevel3Rate,
		TrailLevel1Gap:    cfg.TrailLevel1Gap,
		TrailLevel2Gap:    cfg.TrailLevel2Gap,
		TrailLevel3Gap:    cfg.TrailLevel3Gap,
		MaxHoldDaysProfit: cfg.MaxHoldDaysProfit,
		MaxHoldDaysLoss:   cfg.MaxHoldDaysLoss,
		LongHoldMinProfit: cfg.LongHoldMinProfit,
	}
}
