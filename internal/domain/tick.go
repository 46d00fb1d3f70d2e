package domain

import "time"

// PriceTick is one real-time trade record for one instrument, as decoded from
// the market-data feed. Prices are integer KRW; Volume is the cumulative
// traded volume for the session.
type PriceTick struct {
	Code   string
	Price  int64
	Open   int64
	High   int64
	Low    int64
	Volume int64
	Time   time.Time
}
