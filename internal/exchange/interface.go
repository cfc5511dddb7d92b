package exchange

import (
	"context"
	"time"

	"github.com/ducle1408/futures-sentinel/pkg/types"
)

// MarketData reads market state. Implementations must be safe for
// concurrent use; the supervision and scanning loops call them in
// parallel.
type MarketData interface {
	// GetKlines returns up to limit candles for the interval, oldest
	// first.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error)
	// GetTicker returns the latest price snapshot for a symbol.
	GetTicker(ctx context.Context, symbol string) (*types.Ticker, error)
	// ServerTime returns the exchange clock, used to track skew against
	// the local clock.
	ServerTime(ctx context.Context) (time.Time, error)
}

// Trading places and manages orders and positions.
type Trading interface {
	// OpenMarket opens a leveraged market position and returns the fill
	// price.
	OpenMarket(ctx context.Context, symbol, side string, qty, leverage float64) (float64, error)
	// CloseMarket closes (or reduces) a position at market and returns
	// the fill price.
	CloseMarket(ctx context.Context, symbol, side string, qty float64) (float64, error)
	// SetTradingStop updates the exchange-side stop-loss and take-profit
	// for an open position.
	SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit float64) error
	// GetPositions returns all open positions on the exchange.
	GetPositions(ctx context.Context) ([]types.ExchangePosition, error)
	// GetBalance returns the available trading balance in USDT.
	GetBalance(ctx context.Context) (*types.Balance, error)
}

// Exchange is the full client surface the engine wires together.
type Exchange interface {
	MarketData
	Trading
}
