package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seojin-dev/kisbot/internal/domain"
)

// tokenSafetyMargin is subtracted from the venue-reported token lifetime so
// we refresh before the venue starts rejecting calls.
const tokenSafetyMargin = time.Hour

// venue message codes that indicate per-second flow control rather than a
// real rejection.
const msgCdFlowControl = "EGW00201"

// ClientConfig holds the parameters for the REST client.
type ClientConfig struct {
	BaseURL         string // optional override; derived from Paper when empty
	AppKey          string
	AppSecret       string
	AccountNo       string // "CANO-ACNT_PRDT_CD" or the 10 digits joined
	Paper           bool
	Timeout         time.Duration
	MinCallInterval time.Duration
	Retry           RetryPolicy
}

// Client is the REST client for the KIS domestic stock order endpoints. It
// manages the OAuth token and per-body hashkeys internally and paces calls so
// the venue's per-second flow control is not tripped.
type Client struct {
	baseURL    string
	appKey     string
	appSecret  string
	cano       string
	acntPrdtCd string
	paper      bool
	httpClient *http.Client
	retry      RetryPolicy
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	hashkeys    map[string]string
	lastCall    time.Time
	minInterval time.Duration
}

// NewClient creates a new KIS REST client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	cano, prdtCd, err := splitAccount(cfg.AccountNo)
	if err != nil {
		return nil, fmt.Errorf("kis: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = realBaseURL
		if cfg.Paper {
			baseURL = paperBaseURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		appKey:      cfg.AppKey,
		appSecret:   cfg.AppSecret,
		cano:        cano,
		acntPrdtCd:  prdtCd,
		paper:       cfg.Paper,
		httpClient:  &http.Client{Timeout: timeout},
		retry:       retry,
		logger:      logger.With("component", "kis"),
		hashkeys:    make(map[string]string),
		minInterval: cfg.MinCallInterval,
	}, nil
}

// splitAccount separates an account number into CANO (8 digits) and product
// code (2 digits). Both "12345678-01" and "1234567801" are accepted.
func splitAccount(accountNo string) (cano, prdtCd string, err error) {
	if i := strings.IndexByte(accountNo, '-'); i >= 0 {
		cano, prdtCd = accountNo[:i], accountNo[i+1:]
	} else if len(accountNo) >= 10 {
		cano, prdtCd = accountNo[:8], accountNo[8:10]
	}
	if len(cano) != 8 || len(prdtCd) != 2 {
		return "", "", fmt.Errorf("malformed account number %q", accountNo)
	}
	return cano, prdtCd, nil
}

// --------------------------------------------------------------------------
// Gateway operations
// --------------------------------------------------------------------------

// PlaceOrder submits a cash order. Venue rejections come back as a
// non-success OrderOutcome, not an error; transient transport failures are
// retried within the client's RetryPolicy. When a send times out after the
// request may have reached the venue, the outcome is marked Ambiguous and no
// further attempt is made: the caller must reconcile via OrderStatus before
// resubmitting.
func (c *Client) PlaceOrder(ctx context.Context, code string, side domain.OrderSide, kind domain.OrderKind, qty, price int64) (domain.OrderOutcome, error) {
	if code == "" || qty <= 0 {
		return domain.OrderOutcome{}, fmt.Errorf("kis: place order: %w", domain.ErrInvalidOrder)
	}
	if kind == domain.OrderKindLimit && price <= 0 {
		return domain.OrderOutcome{}, fmt.Errorf("kis: place order: limit price required: %w", domain.ErrInvalidOrder)
	}

	body := orderBody{
		CANO:       c.cano,
		AcntPrdtCd: c.acntPrdtCd,
		PDNO:       code,
		OrdDvsn:    ordDvsnMarket,
		OrdQty:     strconv.FormatInt(qty, 10),
		OrdUnpr:    "0",
	}
	if kind == domain.OrderKindLimit {
		body.OrdDvsn = ordDvsnLimit
		body.OrdUnpr = strconv.FormatInt(price, 10)
	}

	trID := trSellReal
	switch {
	case side == domain.OrderSideBuy && c.paper:
		trID = trBuyPaper
	case side == domain.OrderSideBuy:
		trID = trBuyReal
	case c.paper:
		trID = trSellPaper
	}

	return c.submitOrder(ctx, "/uapi/domestic-stock/v1/trading/order-cash", trID, body, qty, price)
}

// CancelOrder cancels the unfilled remainder of an order.
func (c *Client) CancelOrder(ctx context.Context, orderID, code string, qty int64) (domain.OrderOutcome, error) {
	if orderID == "" {
		return domain.OrderOutcome{}, fmt.Errorf("kis: cancel order: %w", domain.ErrInvalidOrder)
	}

	body := orderBody{
		CANO:           c.cano,
		AcntPrdtCd:     c.acntPrdtCd,
		OrgnOdno:       orderID,
		OrdDvsn:        ordDvsnMarket,
		RvseCnclDvsnCd: "02",
		OrdQty:         strconv.FormatInt(qty, 10),
		OrdUnpr:        "0",
		QtyAllOrdYn:    "Y",
	}

	trID := trCancelReal
	if c.paper {
		trID = trCancelPaper
	}

	return c.submitOrder(ctx, "/uapi/domestic-stock/v1/trading/order-rvsecncl", trID, body, qty, 0)
}

// OrderStatus returns the venue's order ledger for the given day. This is
// the reconciliation source of truth after an ambiguous submission.
func (c *Client) OrderStatus(ctx context.Context, day time.Time) ([]domain.OrderDetail, error) {
	trID := trStatusReal
	if c.paper {
		trID = trStatusPaper
	}

	date := day.Format("20060102")
	params := url.Values{
		"CANO":             {c.cano},
		"ACNT_PRDT_CD":     {c.acntPrdtCd},
		"INQR_STRT_DT":     {date},
		"INQR_END_DT":      {date},
		"SLL_BUY_DVSN_CD":  {"00"},
		"INQR_DVSN":        {"00"},
		"PDNO":             {""},
		"CCLD_DVSN":        {"00"},
		"ORD_GNO_BRNO":     {""},
		"ODNO":             {""},
		"INQR_DVSN_3":      {"00"},
		"INQR_DVSN_1":      {""},
		"CTX_AREA_FK100":   {""},
		"CTX_AREA_NK100":   {""},
	}

	raw, err := c.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-daily-ccld?"+params.Encode(), trID, nil)
	if err != nil {
		return nil, fmt.Errorf("kis: order status: %w", err)
	}

	var resp dailyOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("kis: decode order status: %w", err)
	}
	if resp.RtCd != "0" {
		return nil, fmt.Errorf("kis: order status rejected: %s (%s)", resp.Msg1, resp.MsgCd)
	}

	details := make([]domain.OrderDetail, 0, len(resp.Output1))
	for _, row := range resp.Output1 {
		side := domain.OrderSideBuy
		if row.SllBuyDvsnCd == "01" {
			side = domain.OrderSideSell
		}

		ordQty := parseWireInt(row.OrdQty)
		filled := parseWireInt(row.TotCcldQty)
		status := domain.OrderStatusPending
		switch {
		case filled >= ordQty && ordQty > 0:
			status = domain.OrderStatusFilled
		case filled > 0:
			status = domain.OrderStatusPartial
		}

		placedAt, _ := time.Parse("20060102150405", row.OrdDt+row.OrdTmd)

		details = append(details, domain.OrderDetail{
			OrderID:   row.Odno,
			Code:      row.Pdno,
			Side:      side,
			Quantity:  ordQty,
			FilledQty: filled,
			AvgPrice:  parseWireInt(row.AvgPrvs),
			Status:    status,
			PlacedAt:  placedAt,
		})
	}
	return details, nil
}

// Balance returns the account's settled cash, total valuation, and holdings.
func (c *Client) Balance(ctx context.Context) (domain.BalanceSnapshot, error) {
	trID := trBalanceReal
	if c.paper {
		trID = trBalancePaper
	}

	params := url.Values{
		"CANO":                 {c.cano},
		"ACNT_PRDT_CD":         {c.acntPrdtCd},
		"AFHR_FLPR_YN":         {"N"},
		"OFL_YN":               {""},
		"INQR_DVSN":            {"02"},
		"UNPR_DVSN":            {"01"},
		"FUND_STTL_ICLD_YN":    {"N"},
		"FNCG_AMT_AUTO_RDPT_YN": {"N"},
		"PRCS_DVSN":            {"00"},
		"CTX_AREA_FK100":       {""},
		"CTX_AREA_NK100":       {""},
	}

	raw, err := c.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance?"+params.Encode(), trID, nil)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("kis: balance: %w", err)
	}

	var resp balanceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("kis: decode balance: %w", err)
	}
	if resp.RtCd != "0" {
		return domain.BalanceSnapshot{}, fmt.Errorf("kis: balance rejected: %s (%s)", resp.Msg1, resp.MsgCd)
	}

	snap := domain.BalanceSnapshot{TakenAt: time.Now()}
	for _, row := range resp.Output1 {
		if parseWireInt(row.HldgQty) == 0 {
			continue
		}
		snap.Holdings = append(snap.Holdings, domain.Holding{
			Code:       row.Pdno,
			Name:       row.PrdtName,
			Quantity:   parseWireInt(row.HldgQty),
			AvgPrice:   parseWireInt(row.PchsAvgPric),
			CurrentVal: parseWireInt(row.EvluAmt),
		})
	}
	if len(resp.Output2) > 0 {
		snap.Cash = parseWireInt(resp.Output2[0].DncaTotAmt)
		snap.TotalValue = parseWireInt(resp.Output2[0].TotEvluAmt)
	}
	return snap, nil
}

// ApprovalKey issues the WebSocket connection approval key for this app key.
func (c *Client) ApprovalKey(ctx context.Context) (string, error) {
	reqBody, err := json.Marshal(approvalRequest{
		GrantType: "client_credentials",
		AppKey:    c.appKey,
		SecretKey: c.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("kis: marshal approval request: %w", err)
	}

	raw, err := c.postJSON(ctx, c.baseURL+"/oauth2/Approval", nil, reqBody)
	if err != nil {
		return "", fmt.Errorf("kis: approval key: %w", err)
	}

	var resp approvalResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("kis: decode approval key: %w", err)
	}
	if resp.ApprovalKey == "" {
		return "", fmt.Errorf("kis: approval key: empty response")
	}
	return resp.ApprovalKey, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// submitOrder runs one order submission through the retry policy and
// classifies the result.
func (c *Client) submitOrder(ctx context.Context, path, trID string, body orderBody, qty, price int64) (domain.OrderOutcome, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("kis: marshal order: %w", err)
	}

	var lastOutcome domain.OrderOutcome
	for attempt := 0; ; attempt++ {
		outcome, err := c.sendOrderOnce(ctx, path, trID, reqBody, qty, price)
		if err != nil {
			return domain.OrderOutcome{}, err
		}
		if outcome.Success || outcome.Ambiguous || !outcome.Retriable {
			return outcome, nil
		}

		lastOutcome = outcome
		if attempt >= c.retry.MaxAttempts {
			break
		}
		c.logger.Warn("order attempt failed, retrying",
			"code", body.PDNO, "attempt", attempt+1, "reason", outcome.Message)
		if werr := c.retry.Wait(ctx, attempt); werr != nil {
			return domain.OrderOutcome{}, werr
		}
	}

	lastOutcome.Retriable = false
	return lastOutcome, nil
}

// sendOrderOnce performs a single order POST. Transport errors are folded
// into the outcome so the retry loop can classify them.
func (c *Client) sendOrderOnce(ctx context.Context, path, trID string, reqBody []byte, qty, price int64) (domain.OrderOutcome, error) {
	hash, err := c.hashkey(ctx, reqBody)
	if err != nil {
		return domain.OrderOutcome{Retriable: true, Message: err.Error()}, nil
	}

	raw, err := c.doRequest(ctx, http.MethodPost, path, trID, reqBody, header{"hashkey", hash})
	if err != nil {
		if isAmbiguous(err) {
			return domain.OrderOutcome{
				Ambiguous: true,
				Message:   fmt.Sprintf("send timed out: %v", err),
			}, nil
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			return domain.OrderOutcome{}, err
		}
		return domain.OrderOutcome{Retriable: true, Message: err.Error()}, nil
	}

	var resp apiEnvelope
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("kis: decode order response: %w", err)
	}

	if resp.RtCd != "0" {
		return domain.OrderOutcome{
			Status:    domain.OrderStatusRejected,
			Message:   fmt.Sprintf("%s (%s)", resp.Msg1, resp.MsgCd),
			Retriable: resp.MsgCd == msgCdFlowControl,
		}, nil
	}

	var out orderOutput
	_ = json.Unmarshal(resp.Output, &out)

	return domain.OrderOutcome{
		Success:   true,
		OrderID:   out.Odno,
		Status:    domain.OrderStatusPending,
		FillQty:   qty,
		FillPrice: price,
	}, nil
}

type header struct{ key, value string }

// doRequest sends one authenticated API call: throttle, token, standard
// headers, status check. Returns the raw response body.
func (c *Client) doRequest(ctx context.Context, method, path, trID string, body []byte, extra ...header) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.appKey)
	req.Header.Set("appsecret", c.appSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")
	for _, h := range extra {
		req.Header.Set(h.key, h.value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// ensureToken returns a valid access token, refreshing it when the cached
// one is near expiry. The venue invalidates older tokens on re-issue, so the
// refresh is serialized under the client mutex.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	reqBody, err := json.Marshal(tokenRequest{
		GrantType: "client_credentials",
		AppKey:    c.appKey,
		AppSecret: c.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("kis: marshal token request: %w", err)
	}

	raw, err := c.postJSON(ctx, c.baseURL+"/oauth2/tokenP", nil, reqBody)
	if err != nil {
		return "", fmt.Errorf("kis: issue token: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("kis: decode token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("kis: issue token: empty access_token: %w", domain.ErrUnauthorized)
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl > tokenSafetyMargin {
		ttl -= tokenSafetyMargin
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)
	c.mu.Unlock()

	c.logger.Info("access token issued", "expires_in", ttl.String())
	return resp.AccessToken, nil
}

// hashkey returns the venue hash for an order body, cached per distinct body
// so repeated identical orders do not burn extra calls.
func (c *Client) hashkey(ctx context.Context, body []byte) (string, error) {
	key := string(body)

	c.mu.Lock()
	if h, ok := c.hashkeys[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	headers := map[string]string{
		"appkey":    c.appKey,
		"appsecret": c.appSecret,
	}
	raw, err := c.postJSON(ctx, c.baseURL+"/uapi/hashkey", headers, body)
	if err != nil {
		return "", fmt.Errorf("kis: hashkey: %w", err)
	}

	var resp hashkeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("kis: decode hashkey: %w", err)
	}
	if resp.Hash == "" {
		return "", fmt.Errorf("kis: hashkey: empty response")
	}

	c.mu.Lock()
	c.hashkeys[key] = resp.Hash
	c.mu.Unlock()
	return resp.Hash, nil
}

// postJSON is the unauthenticated POST used by the OAuth and hashkey
// endpoints.
func (c *Client) postJSON(ctx context.Context, fullURL string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// throttle enforces the minimum spacing between venue calls.
func (c *Client) throttle(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}

	c.mu.Lock()
	wait := c.minInterval - time.Since(c.lastCall)
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiEnvelope
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("kis: %w: %s (%s)", domain.ErrUnauthorized, apiErr.Msg1, apiErr.MsgCd)
	case http.StatusTooManyRequests:
		return fmt.Errorf("kis: %w: %s (%s)", domain.ErrRateLimited, apiErr.Msg1, apiErr.MsgCd)
	case http.StatusNotFound:
		return fmt.Errorf("kis: %w: %s (%s)", domain.ErrNotFound, apiErr.Msg1, apiErr.MsgCd)
	default:
		return fmt.Errorf("kis: HTTP %d: %s (%s)", statusCode, apiErr.Msg1, apiErr.MsgCd)
	}
}

// isAmbiguous reports whether a transport error may have happened after the
// request reached the venue, so the order could exist despite the failure.
func isAmbiguous(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseWireInt parses the venue's decimal string fields, tolerating empty
// values and embedded decimal points.
func parseWireInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
