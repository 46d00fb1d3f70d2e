// Package kis implements the Korea Investment & Securities open API: the
// OAuth/hashkey plumbing, the domestic stock order REST endpoints, and the
// real-time execution-price WebSocket feed.
package kis

import "encoding/json"

// REST and WebSocket endpoints. The "paper" endpoints serve the mock trading
// environment with the same wire contract.
const (
	realBaseURL  = "https://openapi.koreainvestment.com:9443"
	paperBaseURL = "https://openapivts.koreainvestment.com:29443"
	realWSURL    = "ws://ops.koreainvestment.com:21000"
	paperWSURL   = "ws://ops.koreainvestment.com:31000"
)

// Transaction IDs for the domestic stock cash endpoints. The paper
// environment uses the V-prefixed variants.
const (
	trBuyReal      = "TTTC0802U"
	trBuyPaper     = "VTTC0802U"
	trSellReal     = "TTTC0801U"
	trSellPaper    = "VTTC0801U"
	trCancelReal   = "TTTC0803U"
	trCancelPaper  = "VTTC0803U"
	trStatusReal   = "TTTC8001R"
	trStatusPaper  = "VTTC8001R"
	trBalanceReal  = "TTTC8434R"
	trBalancePaper = "VTTC8434R"

	trRealtimePrice = "H0STCNT0"
)

// Order division codes (ORD_DVSN).
const (
	ordDvsnLimit  = "00"
	ordDvsnMarket = "01"
)

// --------------------------------------------------------------------------
// OAuth / hashkey
// --------------------------------------------------------------------------

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type approvalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

type hashkeyResponse struct {
	Hash string `json:"HASH"`
}

// --------------------------------------------------------------------------
// Orders
// --------------------------------------------------------------------------

// orderBody is the request payload for the cash order and cancel endpoints.
// Field names follow the venue's wire contract; quantities and prices are
// decimal strings.
type orderBody struct {
	CANO            string `json:"CANO"`
	AcntPrdtCd      string `json:"ACNT_PRDT_CD"`
	PDNO            string `json:"PDNO,omitempty"`
	OrdDvsn         string `json:"ORD_DVSN"`
	OrdQty          string `json:"ORD_QTY"`
	OrdUnpr         string `json:"ORD_UNPR"`
	KrxFwdgOrdOrgno string `json:"KRX_FWDG_ORD_ORGNO,omitempty"`
	OrgnOdno        string `json:"ORGN_ODNO,omitempty"`
	RvseCnclDvsnCd  string `json:"RVSE_CNCL_DVSN_CD,omitempty"`
	QtyAllOrdYn     string `json:"QTY_ALL_ORD_YN,omitempty"`
}

// apiEnvelope is the common response wrapper. rt_cd "0" means success;
// anything else is a venue rejection with the reason in msg1.
type apiEnvelope struct {
	RtCd   string          `json:"rt_cd"`
	MsgCd  string          `json:"msg_cd"`
	Msg1   string          `json:"msg1"`
	Output json.RawMessage `json:"output"`
}

type orderOutput struct {
	Odno   string `json:"ODNO"`
	OrdTmd string `json:"ORD_TMD"`
}

// --------------------------------------------------------------------------
// Inquiries
// --------------------------------------------------------------------------

// dailyOrderRow is one row from the daily order/execution inquiry
// (inquire-daily-ccld output1).
type dailyOrderRow struct {
	Odno         string `json:"odno"`
	Pdno         string `json:"pdno"`
	SllBuyDvsnCd string `json:"sll_buy_dvsn_cd"` // "01" sell, "02" buy
	OrdQty       string `json:"ord_qty"`
	TotCcldQty   string `json:"tot_ccld_qty"`
	AvgPrvs      string `json:"avg_prvs"`
	OrdTmd       string `json:"ord_tmd"`
	OrdDt        string `json:"ord_dt"`
}

type dailyOrderResponse struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output1 []dailyOrderRow `json:"output1"`
}

// balanceHoldingRow is one holding row from the balance inquiry
// (inquire-balance output1).
type balanceHoldingRow struct {
	Pdno         string `json:"pdno"`
	PrdtName     string `json:"prdt_name"`
	HldgQty      string `json:"hldg_qty"`
	PchsAvgPric  string `json:"pchs_avg_pric"`
	EvluAmt      string `json:"evlu_amt"`
	EvluPflsAmt  string `json:"evlu_pfls_amt"`
	EvluPflsRt   string `json:"evlu_pfls_rt"`
}

// balanceSummaryRow is the account summary from the balance inquiry
// (inquire-balance output2).
type balanceSummaryRow struct {
	DncaTotAmt  string `json:"dnca_tot_amt"` // settled cash
	TotEvluAmt  string `json:"tot_evlu_amt"` // total account valuation
	SctsEvluAmt string `json:"scts_evlu_amt"`
}

type balanceResponse struct {
	RtCd    string              `json:"rt_cd"`
	MsgCd   string              `json:"msg_cd"`
	Msg1    string              `json:"msg1"`
	Output1 []balanceHoldingRow `json:"output1"`
	Output2 []balanceSummaryRow `json:"output2"`
}

// --------------------------------------------------------------------------
// WebSocket frames
// --------------------------------------------------------------------------

// wsSubscribeFrame is the JSON frame that registers one instrument on the
// real-time feed.
type wsSubscribeFrame struct {
	Header wsSubscribeHeader `json:"header"`
	Body   wsSubscribeBody   `json:"body"`
}

type wsSubscribeHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"` // "1" subscribe, "2" unsubscribe
	ContentType string `json:"content-type"`
}

type wsSubscribeBody struct {
	Input wsSubscribeInput `json:"input"`
}

type wsSubscribeInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"`
}

// wsControlFrame is a JSON control message from the feed: PINGPONG
// keepalives and subscribe acks.
type wsControlFrame struct {
	Header struct {
		TrID string `json:"tr_id"`
	} `json:"header"`
	Body struct {
		RtCd string `json:"rt_cd"`
		Msg1 string `json:"msg1"`
	} `json:"body"`
}
