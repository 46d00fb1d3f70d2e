package kis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seojin-dev/kisbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// venueStub is a minimal KIS REST stand-in: OAuth, hashkey, and one order
// endpoint whose responses are queued per test.
type venueStub struct {
	mu           sync.Mutex
	tokenCalls   int
	orderCalls   int
	lastOrderReq *http.Request
	lastBody     orderBody
	orderResps   []string
	orderDelay   time.Duration
}

func (v *venueStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		v.tokenCalls++
		v.mu.Unlock()
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":86400}`))
	})
	mux.HandleFunc("/uapi/hashkey", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"HASH":"test-hash"}`))
	})
	mux.HandleFunc("/uapi/domestic-stock/v1/trading/order-cash", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		v.orderCalls++
		v.lastOrderReq = r.Clone(r.Context())
		_ = json.NewDecoder(r.Body).Decode(&v.lastBody)
		resp := `{"rt_cd":"0","msg_cd":"APBK0013","msg1":"ok","output":{"ODNO":"12345","ORD_TMD":"093001"}}`
		if len(v.orderResps) > 0 {
			resp = v.orderResps[0]
			v.orderResps = v.orderResps[1:]
		}
		delay := v.orderDelay
		v.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		_, _ = w.Write([]byte(resp))
	})
	return mux
}

func newTestClient(t *testing.T, stub *venueStub, mutate func(*ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	cfg := ClientConfig{
		BaseURL:   srv.URL,
		AppKey:    "app-key",
		AppSecret: "app-secret",
		AccountNo: "12345678-01",
		Retry:     RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg, testLogger())
	require.NoError(t, err)
	return client
}

func TestSplitAccount(t *testing.T) {
	for _, tc := range []struct {
		in         string
		cano, prdt string
		ok         bool
	}{
		{"12345678-01", "12345678", "01", true},
		{"1234567801", "12345678", "01", true},
		{"1234-01", "", "", false},
		{"", "", "", false},
	} {
		cano, prdt, err := splitAccount(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.cano, cano)
		assert.Equal(t, tc.prdt, prdt)
	}
}

func TestPlaceOrderSuccess(t *testing.T) {
	stub := &venueStub{}
	client := newTestClient(t, stub, nil)

	out, err := client.PlaceOrder(context.Background(), "005930", domain.OrderSideSell, domain.OrderKindMarket, 30, 0)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "12345", out.OrderID)
	assert.Equal(t, domain.OrderStatusPending, out.Status)

	req := stub.lastOrderReq
	require.NotNil(t, req)
	assert.Equal(t, "Bearer test-token", req.Header.Get("authorization"))
	assert.Equal(t, "app-key", req.Header.Get("appkey"))
	assert.Equal(t, "TTTC0801U", req.Header.Get("tr_id"))
	assert.Equal(t, "test-hash", req.Header.Get("hashkey"))
	assert.Equal(t, "P", req.Header.Get("custtype"))

	assert.Equal(t, "12345678", stub.lastBody.CANO)
	assert.Equal(t, "01", stub.lastBody.AcntPrdtCd)
	assert.Equal(t, "005930", stub.lastBody.PDNO)
	assert.Equal(t, ordDvsnMarket, stub.lastBody.OrdDvsn)
	assert.Equal(t, "30", stub.lastBody.OrdQty)
	assert.Equal(t, "0", stub.lastBody.OrdUnpr)
}

func TestPlaceOrderPaperTrID(t *testing.T) {
	stub := &venueStub{}
	client := newTestClient(t, stub, func(cfg *ClientConfig) { cfg.Paper = true })

	_, err := client.PlaceOrder(context.Background(), "005930", domain.OrderSideBuy, domain.OrderKindLimit, 10, 71_000)
	require.NoError(t, err)

	assert.Equal(t, "VTTC0802U", stub.lastOrderReq.Header.Get("tr_id"))
	assert.Equal(t, ordDvsnLimit, stub.lastBody.OrdDvsn)
	assert.Equal(t, "71000", stub.lastBody.OrdUnpr)
}

func TestPlaceOrderTokenReused(t *testing.T) {
	stub := &venueStub{}
	client := newTestClient(t, stub, nil)

	ctx := context.Background()
	_, err := client.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindMarket, 1, 0)
	require.NoError(t, err)
	_, err = client.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindMarket, 2, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stub.tokenCalls, "token must be issued once and cached")
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	stub := &venueStub{orderResps: []string{
		`{"rt_cd":"1","msg_cd":"APBK0918","msg1":"insufficient balance"}`,
	}}
	client := newTestClient(t, stub, nil)

	out, err := client.PlaceOrder(context.Background(), "005930", domain.OrderSideBuy, domain.OrderKindMarket, 10, 0)
	require.NoError(t, err, "a venue rejection is an outcome, not an error")
	assert.False(t, out.Success)
	assert.Equal(t, domain.OrderStatusRejected, out.Status)
	assert.Contains(t, out.Message, "insufficient balance")
	assert.Equal(t, 1, stub.orderCalls, "non-retriable rejection must not be retried")
}

func TestPlaceOrderFlowControlRetried(t *testing.T) {
	stub := &venueStub{orderResps: []string{
		`{"rt_cd":"1","msg_cd":"EGW00201","msg1":"flow control"}`,
		`{"rt_cd":"0","msg_cd":"APBK0013","msg1":"ok","output":{"ODNO":"555","ORD_TMD":"093002"}}`,
	}}
	client := newTestClient(t, stub, nil)

	out, err := client.PlaceOrder(context.Background(), "005930", domain.OrderSideSell, domain.OrderKindMarket, 5, 0)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "555", out.OrderID)
	assert.Equal(t, 2, stub.orderCalls)
}

func TestPlaceOrderTimeoutIsAmbiguous(t *testing.T) {
	stub := &venueStub{orderDelay: 300 * time.Millisecond}
	client := newTestClient(t, stub, func(cfg *ClientConfig) { cfg.Timeout = 50 * time.Millisecond })

	out, err := client.PlaceOrder(context.Background(), "005930", domain.OrderSideSell, domain.OrderKindMarket, 5, 0)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.True(t, out.Ambiguous, "a timed-out send must not be blindly retried")
	assert.Equal(t, 1, stub.orderCalls)
}

func TestPlaceOrderValidation(t *testing.T) {
	client := newTestClient(t, &venueStub{}, nil)
	ctx := context.Background()

	_, err := client.PlaceOrder(ctx, "", domain.OrderSideSell, domain.OrderKindMarket, 5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = client.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindMarket, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = client.PlaceOrder(ctx, "005930", domain.OrderSideSell, domain.OrderKindLimit, 5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestOrderStatusParsesLedger(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":86400}`))
	})
	mux.HandleFunc("/uapi/domestic-stock/v1/trading/inquire-daily-ccld", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TTTC8001R", r.Header.Get("tr_id"))
		assert.Equal(t, "12345678", r.URL.Query().Get("CANO"))
		_, _ = w.Write([]byte(`{
			"rt_cd":"0","msg_cd":"","msg1":"",
			"output1":[
				{"odno":"7777","pdno":"005930","sll_buy_dvsn_cd":"01","ord_qty":"30","tot_ccld_qty":"30","avg_prvs":"71200","ord_dt":"20260824","ord_tmd":"101530"},
				{"odno":"7778","pdno":"000660","sll_buy_dvsn_cd":"02","ord_qty":"10","tot_ccld_qty":"4","avg_prvs":"201000.00","ord_dt":"20260824","ord_tmd":"102000"}
			]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		AppKey:    "k",
		AppSecret: "s",
		AccountNo: "12345678-01",
	}, testLogger())
	require.NoError(t, err)

	details, err := client.OrderStatus(context.Background(), time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, details, 2)

	sell := details[0]
	assert.Equal(t, "7777", sell.OrderID)
	assert.Equal(t, domain.OrderSideSell, sell.Side)
	assert.Equal(t, int64(30), sell.Quantity)
	assert.Equal(t, int64(71_200), sell.AvgPrice)
	assert.Equal(t, domain.OrderStatusFilled, sell.Status)
	assert.Equal(t, 2026, sell.PlacedAt.Year())
	assert.Equal(t, 10, sell.PlacedAt.Hour())

	partial := details[1]
	assert.Equal(t, domain.OrderSideBuy, partial.Side)
	assert.Equal(t, domain.OrderStatusPartial, partial.Status)
	assert.Equal(t, int64(201_000), partial.AvgPrice, "decimal tail is truncated")
}

func TestBalanceParsesHoldings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":86400}`))
	})
	mux.HandleFunc("/uapi/domestic-stock/v1/trading/inquire-balance", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TTTC8434R", r.Header.Get("tr_id"))
		_, _ = w.Write([]byte(`{
			"rt_cd":"0","msg_cd":"","msg1":"",
			"output1":[
				{"pdno":"005930","prdt_name":"Samsung Electronics","hldg_qty":"100","pchs_avg_pric":"70000.00","evlu_amt":"7150000"},
				{"pdno":"000660","prdt_name":"SK hynix","hldg_qty":"0","pchs_avg_pric":"0","evlu_amt":"0"}
			],
			"output2":[{"dnca_tot_amt":"2500000","tot_evlu_amt":"9650000"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		AppKey:    "k",
		AppSecret: "s",
		AccountNo: "12345678-01",
	}, testLogger())
	require.NoError(t, err)

	snap, err := client.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), snap.Cash)
	assert.Equal(t, int64(9_650_000), snap.TotalValue)
	require.Len(t, snap.Holdings, 1, "zero-quantity rows are skipped")
	assert.Equal(t, "005930", snap.Holdings[0].Code)
	assert.Equal(t, int64(70_000), snap.Holdings[0].AvgPrice)
}

func TestParseWireInt(t *testing.T) {
	assert.Equal(t, int64(0), parseWireInt(""))
	assert.Equal(t, int64(0), parseWireInt("  "))
	assert.Equal(t, int64(71200), parseWireInt("71200"))
	assert.Equal(t, int64(71200), parseWireInt("71200.50"))
	assert.Equal(t, int64(-3), parseWireInt("-3"))
	assert.Equal(t, int64(0), parseWireInt("abc"))
}
