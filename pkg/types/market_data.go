package types

import "time"

type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

type Ticker struct {
	Symbol    string
	LastPrice float64
	BidPrice  float64
	AskPrice  float64
	Volume24h float64
	Timestamp time.Time
}

type Balance struct {
	Asset  string
	Total  float64
	Free   float64
	Locked float64
}

// ExchangePosition is a position as reported by the venue. The exchange is
// the source of truth for which positions exist; the ledger reconciles
// against this list on restart.
type ExchangePosition struct {
	Symbol        string
	Side          string // "long" or "short"
	Size          float64
	EntryPrice    float64
	Leverage      float64
	UnrealizedPnL float64
}
