package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seojin-dev/kisbot/internal/domain"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next message before the
	// connection is considered dead.
	wsPongWait = 60 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsHandshakeTimeout bounds the dial.
	wsHandshakeTimeout = 15 * time.Second

	// wsSubscribeSpacing paces subscribe frames so the feed's flow control
	// is not tripped when registering many instruments at once.
	wsSubscribeSpacing = 100 * time.Millisecond
)

// ApprovalSource issues the WebSocket connection approval key. *Client
// satisfies this.
type ApprovalSource interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// TickHandler is called for every decoded execution-price record.
type TickHandler func(domain.PriceTick)

// FeedConfig holds the parameters for the real-time feed.
type FeedConfig struct {
	URL               string // optional override; derived from Paper when empty
	Paper             bool
	MaxSubscriptions  int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// Feed is the real-time execution-price WebSocket client. It owns one
// connection, re-registers its tracked instruments after every reconnect,
// and pushes decoded ticks to the registered handler. Run is the single
// long-lived loop; it returns only when the context is cancelled or the
// reconnect budget is spent.
type Feed struct {
	url            string
	approval       ApprovalSource
	maxSubs        int
	maxAttempts    int
	reconnectDelay time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	codes   []string
	conn    *websocket.Conn
	handler TickHandler

	// writeMu serializes every write to the connection: the read loop's
	// PINGPONG echo, the keepalive ping, and live Subscribe registrations
	// all share one conn, and gorilla/websocket allows only one writer.
	writeMu sync.Mutex
}

// NewFeed creates a Feed. The handler is invoked from the read loop
// goroutine; it must not block.
func NewFeed(cfg FeedConfig, approval ApprovalSource, handler TickHandler, logger *slog.Logger) *Feed {
	url := cfg.URL
	if url == "" {
		url = realWSURL
		if cfg.Paper {
			url = paperWSURL
		}
	}
	maxSubs := cfg.MaxSubscriptions
	if maxSubs <= 0 || maxSubs > 40 {
		maxSubs = 40
	}
	attempts := cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	return &Feed{
		url:            url,
		approval:       approval,
		maxSubs:        maxSubs,
		maxAttempts:    attempts,
		reconnectDelay: delay,
		logger:         logger.With("component", "feed"),
		handler:        handler,
	}
}

// Subscribe adds instruments to the tracked set and, when connected,
// registers them on the live connection. The venue caps one session at 40
// registrations; adding beyond the cap fails.
func (f *Feed) Subscribe(ctx context.Context, codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := make(map[string]struct{}, len(f.codes))
	for _, c := range f.codes {
		existing[c] = struct{}{}
	}

	var added []string
	for _, c := range codes {
		if _, ok := existing[c]; ok {
			continue
		}
		if len(f.codes)+len(added) >= f.maxSubs {
			return fmt.Errorf("kis/ws: %w: cap is %d", domain.ErrSubscriptionLimit, f.maxSubs)
		}
		added = append(added, c)
	}

	if f.conn != nil {
		approvalKey, err := f.approval.ApprovalKey(ctx)
		if err != nil {
			return fmt.Errorf("kis/ws: subscribe: %w", err)
		}
		for _, c := range added {
			if err := f.sendSubscribe(f.conn, approvalKey, c); err != nil {
				return fmt.Errorf("kis/ws: subscribe %s: %w", c, err)
			}
		}
	}

	f.codes = append(f.codes, added...)
	return nil
}

// Codes returns the currently tracked instrument codes.
func (f *Feed) Codes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.codes))
	copy(out, f.codes)
	return out
}

// Run connects and consumes the feed until ctx is cancelled. Connection
// drops are retried up to the configured attempt budget; a successful
// session resets the counter. Returns ctx.Err() on clean shutdown.
func (f *Feed) Run(ctx context.Context) error {
	attempts := 0
	for {
		sessionOK, err := f.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sessionOK {
			attempts = 0
		}

		attempts++
		if attempts > f.maxAttempts {
			return fmt.Errorf("kis/ws: reconnect attempts exhausted: %w", err)
		}
		f.logger.Warn("feed disconnected, reconnecting",
			"attempt", attempts, "max", f.maxAttempts, "error", err)

		timer := time.NewTimer(f.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runSession dials, registers the tracked instruments, and reads until the
// connection fails. sessionOK reports whether the session got as far as a
// working subscription, which resets the reconnect budget.
func (f *Feed) runSession(ctx context.Context) (sessionOK bool, err error) {
	approvalKey, err := f.approval.ApprovalKey(ctx)
	if err != nil {
		return false, fmt.Errorf("approval key: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	f.mu.Lock()
	codes := make([]string, len(f.codes))
	copy(codes, f.codes)
	f.conn = conn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	for _, code := range codes {
		if err := f.sendSubscribe(conn, approvalKey, code); err != nil {
			return false, fmt.Errorf("subscribe %s: %w", code, err)
		}
		time.Sleep(wsSubscribeSpacing)
	}
	f.logger.Info("feed connected", "url", f.url, "subscriptions", len(codes))

	go f.pingLoop(conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		f.handleMessage(conn, message)
	}
}

// pingLoop keeps the connection alive between ticks.
func (f *Feed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := f.writeMessage(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage is the single write path to the connection.
func (f *Feed) writeMessage(conn *websocket.Conn, messageType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(messageType, data)
}

// sendSubscribe writes one registration frame.
func (f *Feed) sendSubscribe(conn *websocket.Conn, approvalKey, code string) error {
	frame := wsSubscribeFrame{
		Header: wsSubscribeHeader{
			ApprovalKey: approvalKey,
			CustType:    "P",
			TrType:      "1",
			ContentType: "utf-8",
		},
		Body: wsSubscribeBody{
			Input: wsSubscribeInput{TrID: trRealtimePrice, TrKey: code},
		},
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return f.writeMessage(conn, websocket.TextMessage, data)
}

// handleMessage routes one raw frame: JSON frames are control traffic,
// pipe-delimited frames carry price records. Malformed frames are dropped
// with a log line; they never take the session down.
func (f *Feed) handleMessage(conn *websocket.Conn, raw []byte) {
	if len(raw) == 0 {
		return
	}

	if raw[0] == '{' {
		var ctrl wsControlFrame
		if err := json.Unmarshal(raw, &ctrl); err != nil {
			f.logger.Debug("dropping malformed control frame", "error", err)
			return
		}
		switch {
		case strings.Contains(ctrl.Header.TrID, "PINGPONG"):
			_ = f.writeMessage(conn, websocket.TextMessage, raw)
		case ctrl.Body.RtCd == "0" || ctrl.Body.RtCd == "":
			f.logger.Debug("subscription acknowledged", "tr_id", ctrl.Header.TrID)
		default:
			f.logger.Warn("subscription refused",
				"tr_id", ctrl.Header.TrID, "rt_cd", ctrl.Body.RtCd, "msg", ctrl.Body.Msg1)
		}
		return
	}

	tick, err := ParseTick(string(raw))
	if err != nil {
		f.logger.Debug("dropping malformed tick", "error", err)
		return
	}
	if f.handler != nil {
		f.handler(tick)
	}
}

// ParseTick decodes one pipe-delimited execution-price record.
//
// Field positions: [0] TR code, [1] instrument code, [2] trade time HHMMSS,
// [3] price, [8] open, [9] high, [10] low, [14] cumulative volume.
func ParseTick(record string) (domain.PriceTick, error) {
	parts := strings.Split(record, "|")
	if len(parts) < 15 {
		return domain.PriceTick{}, fmt.Errorf("kis/ws: short record: %d fields", len(parts))
	}
	if !strings.Contains(parts[0], "STCNT") {
		return domain.PriceTick{}, fmt.Errorf("kis/ws: unexpected tr %q", parts[0])
	}

	code := parts[1]
	if code == "" {
		return domain.PriceTick{}, fmt.Errorf("kis/ws: empty instrument code")
	}
	price := parseWireInt(parts[3])
	if price <= 0 {
		return domain.PriceTick{}, fmt.Errorf("kis/ws: non-positive price %q for %s", parts[3], code)
	}

	tick := domain.PriceTick{
		Code:   code,
		Price:  price,
		Open:   parseWireInt(parts[8]),
		High:   parseWireInt(parts[9]),
		Low:    parseWireInt(parts[10]),
		Volume: parseWireInt(parts[14]),
		Time:   time.Now(),
	}
	if ts, err := time.Parse("150405", parts[2]); err == nil {
		now := tick.Time
		tick.Time = time.Date(now.Year(), now.Month(), now.Day(),
			ts.Hour(), ts.Minute(), ts.Second(), 0, now.Location())
	}
	return tick, nil
}
