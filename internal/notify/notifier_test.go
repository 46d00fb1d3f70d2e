package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seojin-dev/kisbot/internal/domain"
)

type recordingSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventStopLoss}, testLogger())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventStopLoss, "t1", "m1"))
	require.NoError(t, n.Notify(ctx, EventTakeProfit, "t2", "m2"))

	assert.Equal(t, []string{"t1"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, EventStopLoss, "t1", "m1"))
	require.NoError(t, n.Notify(ctx, "anything", "t2", "m2"))

	assert.Len(t, sender.titles, 2)
}

func TestDispatchCollectsSenderErrors(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("boom")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	// The failing sender does not block delivery to the rest.
	assert.Len(t, healthy.titles, 1)
}

func TestExitEventsRendersRecord(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())
	ev := NewExitEvents(n)

	pos := domain.NewPosition("005930", "Samsung Electronics", 100, 10_000, time.Now(), 0.05)
	rec := domain.ExitRecord{
		InstructionID: "abc",
		Code:          "005930",
		Name:          "Samsung Electronics",
		Reason:        "take_profit_1",
		Quantity:      30,
		FillPrice:     11_000,
		EntryPrice:    10_000,
		FilledAt:      time.Now(),
	}
	pos.RemainingShares = 70

	ev.OnTakeProfit(*pos, rec, 1)

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "sold 30 @ 11000 KRW")
	assert.Contains(t, sender.messages[0], "pnl: +30000 KRW")
	assert.Contains(t, sender.messages[0], "remaining: 70")
}

func TestDiscordSenderPostsRenderedAlert(t *testing.T) {
	var got map[string]string
	var status atomic.Int32
	status.Store(http.StatusNoContent)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Stop loss", "005930 sold"))
	assert.Equal(t, "**Stop loss**\n005930 sold", got["content"])

	status.Store(http.StatusTooManyRequests)
	err := sender.Send(context.Background(), "Stop loss", "again")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
