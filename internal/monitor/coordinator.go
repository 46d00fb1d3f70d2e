package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// Gateway is the order-execution surface the coordinator drives. Both the
// live REST client and the in-process simulator satisfy it.
type Gateway interface {
	PlaceOrder(ctx context.Context, code string, side domain.OrderSide, kind domain.OrderKind, qty, price int64) (domain.OrderOutcome, error)
	OrderStatus(ctx context.Context, day time.Time) ([]domain.OrderDetail, error)
	Balance(ctx context.Context) (domain.BalanceSnapshot, error)
}

// CoordinatorConfig wires a Coordinator's collaborators. Store and Ticks
// are optional; Events defaults to NopEvents.
type CoordinatorConfig struct {
	Rules   *Rules
	Gateway Gateway
	Events  EventHandler
	Store   domain.PositionStore
	Ticks   domain.TickCache
	Logger  *slog.Logger
}

// Coordinator owns the tracked positions and the latest-price cache, and is
// the only component that talks to the order gateway for exits. Ticks enter
// through UpdateTick (the single synchronized write path for prices); the
// evaluation loop calls EvaluateAll. At most one exit per position is in
// flight at any time.
type Coordinator struct {
	rules  *Rules
	gw     Gateway
	events EventHandler
	store  domain.PositionStore
	ticks  domain.TickCache
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]*domain.Position
	lastTick  map[string]domain.PriceTick
	pending   map[string]string // code -> in-flight instruction ID
	records   []domain.ExitRecord
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	events := cfg.Events
	if events == nil {
		events = NopEvents{}
	}
	return &Coordinator{
		rules:     cfg.Rules,
		gw:        cfg.Gateway,
		events:    events,
		store:     cfg.Store,
		ticks:     cfg.Ticks,
		logger:    cfg.Logger.With("component", "coordinator"),
		positions: make(map[string]*domain.Position),
		lastTick:  make(map[string]domain.PriceTick),
		pending:   make(map[string]string),
	}
}

// Track registers a position for monitoring. An existing entry for the same
// code is replaced, unless an exit for it is mid-flight: replacing the
// position under a live order would detach the fill from its book entry.
func (c *Coordinator) Track(ctx context.Context, pos *domain.Position) error {
	if pos == nil || pos.Code == "" {
		return fmt.Errorf("monitor: track: %w", domain.ErrInvalidOrder)
	}

	c.mu.Lock()
	if _, inFlight := c.pending[pos.Code]; inFlight {
		c.mu.Unlock()
		return fmt.Errorf("monitor: track %s: %w", pos.Code, domain.ErrExitInFlight)
	}
	c.positions[pos.Code] = pos
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Upsert(ctx, *pos); err != nil {
			return fmt.Errorf("monitor: persist position %s: %w", pos.Code, err)
		}
	}
	c.logger.Info("position tracked",
		"code", pos.Code, "shares", pos.Shares, "entry", pos.EntryPrice, "stop", pos.StopPrice)
	return nil
}

// Forget drops a position from monitoring without trading it.
func (c *Coordinator) Forget(code string) {
	c.mu.Lock()
	delete(c.positions, code)
	delete(c.pending, code)
	c.mu.Unlock()
}

// Positions returns a snapshot of the tracked positions.
func (c *Coordinator) Positions() []domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, *p)
	}
	return out
}

// PortfolioStatus summarizes the tracked book at the latest known prices.
type PortfolioStatus struct {
	Positions  int
	Pending    int
	Value      int64
	CostBasis  int64
	Unrealized int64
}

// Status aggregates the open book from cached prices only; it never calls
// the gateway, so it is safe to poll for reporting.
func (c *Coordinator) Status() PortfolioStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := PortfolioStatus{Positions: len(c.positions), Pending: len(c.pending)}
	for _, p := range c.positions {
		st.Value += p.Value()
		st.CostBasis += p.EntryPrice * p.RemainingShares
		st.Unrealized += p.Profit()
	}
	return st
}

// Records returns the exit records confirmed so far this session.
func (c *Coordinator) Records() []domain.ExitRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ExitRecord, len(c.records))
	copy(out, c.records)
	return out
}

// UpdateTick is the single entry point for price updates. It stores the
// tick for the next evaluation pass and mirrors it to the shared tick cache
// when one is configured. Safe for concurrent use with EvaluateAll.
func (c *Coordinator) UpdateTick(ctx context.Context, tick domain.PriceTick) {
	c.mu.Lock()
	c.lastTick[tick.Code] = tick
	c.mu.Unlock()

	if c.ticks != nil {
		if err := c.ticks.SetTick(ctx, tick); err != nil {
			c.logger.Warn("tick mirror failed", "code", tick.Code, "error", err)
		}
	}
}

// EvaluateAll runs the exit rules over every tracked position that has a
// price and no exit already in flight, then submits the resulting
// instructions. Rule evaluation happens under the coordinator lock; gateway
// calls do not.
func (c *Coordinator) EvaluateAll(ctx context.Context, now time.Time) {
	type job struct {
		pos   *domain.Position
		instr *domain.ExitInstruction
		prev  stageFlags
	}

	c.mu.Lock()
	var jobs []job
	for code, pos := range c.positions {
		if _, inFlight := c.pending[code]; inFlight {
			continue
		}
		tick, ok := c.lastTick[code]
		if !ok {
			continue
		}
		prev := stageFlags{pos.Stage1Done, pos.Stage2Done, pos.Stage3Done}
		instr := c.rules.Evaluate(pos, tick, now)
		if instr == nil {
			continue
		}
		c.pending[code] = instr.ID
		jobs = append(jobs, job{pos: pos, instr: instr, prev: prev})
	}
	c.mu.Unlock()

	for _, j := range jobs {
		c.execute(ctx, j.pos, j.instr, j.prev)
	}
}

// stageFlags is the take-profit state captured before an evaluation, so a
// failed submission can hand the stage back for the next tick.
type stageFlags struct {
	s1, s2, s3 bool
}

// execute submits one exit instruction and settles its outcome: apply the
// fill, or reconcile an ambiguous submission against the venue's order
// ledger before any resubmit.
func (c *Coordinator) execute(ctx context.Context, pos *domain.Position, instr *domain.ExitInstruction, prev stageFlags) {
	defer func() {
		c.mu.Lock()
		delete(c.pending, instr.Code)
		c.mu.Unlock()
	}()

	c.logger.Info("exit triggered",
		"code", instr.Code, "reason", instr.Reason, "qty", instr.Quantity, "price", instr.Price)

	const maxSubmits = 2
	for submit := 0; submit < maxSubmits; submit++ {
		outcome, err := c.gw.PlaceOrder(ctx, instr.Code, domain.OrderSideSell, domain.OrderKindMarket, instr.Quantity, 0)
		if err != nil {
			c.fail(pos, instr, &prev, fmt.Sprintf("place order: %v", err))
			return
		}

		switch {
		case outcome.Success:
			c.applyFill(ctx, pos, instr, outcome)
			return

		case outcome.Ambiguous:
			detail, found := c.reconcile(ctx, instr)
			if found {
				c.logger.Warn("ambiguous submission resolved as filled",
					"code", instr.Code, "order_id", detail.OrderID)
				c.applyFill(ctx, pos, instr, domain.OrderOutcome{
					Success:   true,
					OrderID:   detail.OrderID,
					Status:    detail.Status,
					FillQty:   detail.FilledQty,
					FillPrice: detail.AvgPrice,
				})
				return
			}
			// Not on the ledger: the request never reached the venue, so
			// one resubmit is safe.
			c.logger.Warn("ambiguous submission not found on ledger, resubmitting",
				"code", instr.Code, "attempt", submit+1)

		default:
			c.fail(pos, instr, &prev, outcome.Message)
			return
		}
	}

	// The ledger proved nothing reached the venue, so the stage can be
	// handed back here too.
	c.fail(pos, instr, &prev, "submission remained ambiguous after reconciliation")
}

// reconcile checks the venue's daily ledger for a sell matching the
// instruction. Used only after an ambiguous submission.
func (c *Coordinator) reconcile(ctx context.Context, instr *domain.ExitInstruction) (domain.OrderDetail, bool) {
	details, err := c.gw.OrderStatus(ctx, instr.RequestedAt)
	if err != nil {
		c.logger.Error("ledger reconciliation failed", "code", instr.Code, "error", err)
		return domain.OrderDetail{}, false
	}
	for _, d := range details {
		if d.Code == instr.Code && d.Side == domain.OrderSideSell &&
			d.Quantity == instr.Quantity && !d.PlacedAt.Before(instr.RequestedAt.Add(-time.Minute)) {
			return d, true
		}
	}
	return domain.OrderDetail{}, false
}

// applyFill applies a confirmed fill to the position, persists the new
// state, journals the exit, and dispatches the matching event.
func (c *Coordinator) applyFill(ctx context.Context, pos *domain.Position, instr *domain.ExitInstruction, outcome domain.OrderOutcome) {
	fillPrice := outcome.FillPrice
	if fillPrice <= 0 {
		fillPrice = instr.Price
	}
	now := time.Now()

	c.mu.Lock()
	closed, err := pos.ApplyFill(instr.ID, instr.Quantity, fillPrice, now)
	if err != nil {
		c.mu.Unlock()
		// The order DID fill at the venue; restoring the stage here would
		// sell the same tranche twice.
		c.fail(pos, instr, nil, fmt.Sprintf("apply fill: %v", err))
		return
	}

	rec := domain.ExitRecord{
		InstructionID: instr.ID,
		Code:          pos.Code,
		Name:          pos.Name,
		Reason:        instr.Reason,
		Quantity:      instr.Quantity,
		FillPrice:     fillPrice,
		EntryPrice:    pos.EntryPrice,
		OrderID:       outcome.OrderID,
		FilledAt:      now,
	}
	c.records = append(c.records, rec)
	snapshot := *pos
	if closed {
		delete(c.positions, pos.Code)
	}
	c.mu.Unlock()

	if c.store != nil {
		var perr error
		if closed {
			perr = c.store.MarkClosed(ctx, pos.Code, fillPrice)
		} else {
			perr = c.store.Upsert(ctx, snapshot)
		}
		if perr != nil {
			c.logger.Error("persist after fill failed", "code", pos.Code, "error", perr)
		}
	}

	c.logger.Info("exit filled",
		"code", pos.Code, "reason", instr.Reason, "qty", instr.Quantity,
		"price", fillPrice, "remaining", snapshot.RemainingShares, "closed", closed)

	switch instr.Reason {
	case domain.ExitReasonStopLoss:
		c.events.OnStopLoss(snapshot, rec)
	case domain.ExitReasonTakeProfit1, domain.ExitReasonTakeProfit2, domain.ExitReasonTakeProfit3:
		c.events.OnTakeProfit(snapshot, rec, instr.Reason.Stage())
	case domain.ExitReasonTrailingStop:
		c.events.OnTrailingStop(snapshot, rec, instr.TrailingLevel)
	case domain.ExitReasonHoldExpiry:
		c.events.OnHoldExpiry(snapshot, rec)
	}
}

// fail reports a failed exit. When prev is non-nil the take-profit flags
// are restored to their pre-evaluation values so the stage fires again on
// the next tick; the stop ratchet is kept, it only ever moves up. prev must
// be nil when the venue did execute the order.
func (c *Coordinator) fail(pos *domain.Position, instr *domain.ExitInstruction, prev *stageFlags, reason string) {
	c.mu.Lock()
	if prev != nil {
		pos.Stage1Done, pos.Stage2Done, pos.Stage3Done = prev.s1, prev.s2, prev.s3
	}
	snapshot := *pos
	c.mu.Unlock()

	c.logger.Error("exit failed",
		"code", instr.Code, "reason", instr.Reason, "qty", instr.Quantity, "cause", reason)
	c.events.OnExitFailed(snapshot, *instr, reason)
}

// LoadFromStore hydrates the tracked set from persisted open positions.
func (c *Coordinator) LoadFromStore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	stored, err := c.store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("monitor: load positions: %w", err)
	}

	c.mu.Lock()
	for i := range stored {
		p := stored[i]
		c.positions[p.Code] = &p
	}
	n := len(stored)
	c.mu.Unlock()
	return n, nil
}

// SyncBalance reconciles the tracked set against the venue's account
// holdings: positions the account no longer holds are dropped, and
// untracked holdings are adopted with their average purchase price as the
// entry. Returns the snapshot used.
func (c *Coordinator) SyncBalance(ctx context.Context, now time.Time) (domain.BalanceSnapshot, error) {
	snap, err := c.gw.Balance(ctx)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("monitor: sync balance: %w", err)
	}

	held := make(map[string]domain.Holding, len(snap.Holdings))
	for _, h := range snap.Holdings {
		held[h.Code] = h
	}

	c.mu.Lock()
	for code := range c.positions {
		if _, ok := held[code]; !ok {
			c.logger.Warn("dropping position not present in account", "code", code)
			delete(c.positions, code)
		}
	}
	var adopted []*domain.Position
	for code, h := range held {
		if _, ok := c.positions[code]; ok {
			continue
		}
		pos := domain.NewPosition(code, h.Name, h.Quantity, h.AvgPrice, now, c.rules.Settings().StopLossRate)
		c.positions[code] = pos
		adopted = append(adopted, pos)
	}
	c.mu.Unlock()

	for _, pos := range adopted {
		c.logger.Info("adopted account holding",
			"code", pos.Code, "qty", pos.Shares, "avg_price", pos.EntryPrice)
		if c.store != nil {
			if err := c.store.Upsert(ctx, *pos); err != nil {
				c.logger.Error("persist adopted position failed", "code", pos.Code, "error", err)
			}
		}
	}
	return snap, nil
}
