package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seojin-dev/kisbot/internal/config"
	"github.com/seojin-dev/kisbot/internal/domain"
)

type recordingJournal struct {
	appended  []domain.ExitRecord
	listLimit int
	listErr   error
	records   []domain.ExitRecord
}

func (j *recordingJournal) Append(ctx context.Context, rec domain.ExitRecord) error {
	j.appended = append(j.appended, rec)
	return nil
}

func (j *recordingJournal) ListSince(ctx context.Context, limit int) ([]domain.ExitRecord, error) {
	j.listLimit = limit
	return j.records, j.listErr
}

func testApp() *App {
	return New(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLogRecentExitsReadsJournal(t *testing.T) {
	journal := &recordingJournal{records: []domain.ExitRecord{
		{Code: "005930", Quantity: 30, FillPrice: 11_000, EntryPrice: 10_000, FilledAt: time.Now()},
		{Code: "000660", Quantity: 10, FillPrice: 9_000, EntryPrice: 10_000, FilledAt: time.Now()},
	}}

	testApp().logRecentExits(context.Background(), journal)
	assert.Equal(t, recentExitReport, journal.listLimit)
}

func TestLogRecentExitsToleratesMissingOrBrokenJournal(t *testing.T) {
	app := testApp()

	// Without a durable journal the startup summary is simply skipped.
	app.logRecentExits(context.Background(), nil)

	// A broken journal must not stop startup either.
	journal := &recordingJournal{listErr: errors.New("connection refused")}
	app.logRecentExits(context.Background(), journal)
	assert.Equal(t, recentExitReport, journal.listLimit)
}

func TestJournaledEventsAppendsBeforeNotify(t *testing.T) {
	journal := &recordingJournal{}
	inner := &countingEvents{}
	ev := &journaledEvents{
		inner:   inner,
		journal: journal,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	pos := domain.Position{Code: "005930"}
	rec := domain.ExitRecord{Code: "005930", Quantity: 30, FillPrice: 11_000, EntryPrice: 10_000}

	ev.OnTakeProfit(pos, rec, 1)
	ev.OnStopLoss(pos, rec)
	ev.OnExitFailed(pos, domain.ExitInstruction{Code: "005930"}, "rejected")

	// Failures are notified but never journaled; only fills reach the journal.
	assert.Len(t, journal.appended, 2)
	assert.Equal(t, 3, inner.calls)
}

type countingEvents struct {
	calls int
}

func (c *countingEvents) OnStopLoss(domain.Position, domain.ExitRecord)             { c.calls++ }
func (c *countingEvents) OnTakeProfit(domain.Position, domain.ExitRecord, int)      { c.calls++ }
func (c *countingEvents) OnTrailingStop(domain.Position, domain.ExitRecord, int)    { c.calls++ }
func (c *countingEvents) OnHoldExpiry(domain.Position, domain.ExitRecord)           { c.calls++ }
func (c *countingEvents) OnExitFailed(domain.Position, domain.ExitInstruction, string) {
	c.calls++
}
