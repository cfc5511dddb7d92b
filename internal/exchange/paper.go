package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducle1408/futures-sentinel/pkg/types"
)

// PaperExchange simulates fills against injected market data. It backs dry
// runs and tests; the engine does not know the difference.
type PaperExchange struct {
	mu        sync.RWMutex
	klines    map[string][]types.OHLCV
	prices    map[string]float64
	positions map[string]types.ExchangePosition
	balance   float64
	clockSkew time.Duration
}

// NewPaperExchange creates a paper venue with the given starting balance.
func NewPaperExchange(balance float64) *PaperExchange {
	return &PaperExchange{
		klines:    make(map[string][]types.OHLCV),
		prices:    make(map[string]float64),
		positions: make(map[string]types.ExchangePosition),
		balance:   balance,
	}
}

// SetKlines injects candle history for a symbol. The last close becomes
// the current price.
func (p *PaperExchange) SetKlines(symbol string, data []types.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.klines[symbol] = data
	if len(data) > 0 {
		p.prices[symbol] = data[len(data)-1].Close
	}
}

// SetPrice injects the current price for a symbol.
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetClockSkew makes ServerTime drift from the local clock.
func (p *PaperExchange) SetClockSkew(skew time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clockSkew = skew
}

func (p *PaperExchange) GetKlines(_ context.Context, symbol, _ string, limit int) ([]types.OHLCV, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.klines[symbol]
	if !ok {
		return nil, fmt.Errorf("paper: no kline data for %s", symbol)
	}
	if limit > 0 && len(data) > limit {
		data = data[len(data)-limit:]
	}
	out := make([]types.OHLCV, len(data))
	copy(out, data)
	return out, nil
}

func (p *PaperExchange) GetTicker(_ context.Context, symbol string) (*types.Ticker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("paper: no price for %s", symbol)
	}
	return &types.Ticker{
		Symbol:    symbol,
		LastPrice: price,
		BidPrice:  price,
		AskPrice:  price,
		Timestamp: time.Now(),
	}, nil
}

func (p *PaperExchange) ServerTime(_ context.Context) (time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Now().Add(p.clockSkew), nil
}

func (p *PaperExchange) OpenMarket(_ context.Context, symbol, side string, qty, leverage float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: no price for %s", symbol)
	}
	p.positions[symbol] = types.ExchangePosition{
		Symbol:     symbol,
		Side:       side,
		Size:       qty,
		EntryPrice: price,
		Leverage:   leverage,
	}
	return price, nil
}

func (p *PaperExchange) CloseMarket(_ context.Context, symbol, _ string, _ float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: no price for %s", symbol)
	}
	delete(p.positions, symbol)
	return price, nil
}

func (p *PaperExchange) SetTradingStop(_ context.Context, _ string, _, _ float64) error {
	return nil
}

func (p *PaperExchange) GetPositions(_ context.Context) ([]types.ExchangePosition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.ExchangePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperExchange) GetBalance(_ context.Context) (*types.Balance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &types.Balance{Asset: "USDT", Free: p.balance, Total: p.balance}, nil
}
