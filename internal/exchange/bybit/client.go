// Package bybit adapts the Bybit v5 unified trading API to the exchange
// contracts the engine consumes.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducle1408/futures-sentinel/internal/config"
	boterrors "github.com/ducle1408/futures-sentinel/internal/errors"
	"github.com/ducle1408/futures-sentinel/internal/logger"
	"github.com/ducle1408/futures-sentinel/pkg/types"
)

const demoBaseURL = "https://api-demo.bybit.com"

// Client wraps the official Bybit SDK behind the exchange interfaces.
type Client struct {
	api      *bybit_api.Client
	category string
	log      *logger.Logger
}

// NewClient builds a client for mainnet, testnet, or the demo
// environment depending on configuration.
func NewClient(cfg config.ExchangeConfig, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, boterrors.NewBotError(boterrors.ErrorCategoryCredentials,
			"bybit", "init", "api key and secret are required")
	}

	baseURL := bybit_api.MAINNET
	switch {
	case cfg.Demo:
		baseURL = demoBaseURL
	case cfg.Testnet:
		baseURL = bybit_api.TESTNET
	}

	category := cfg.Category
	if category == "" {
		category = "linear"
	}

	return &Client{
		api:      bybit_api.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit_api.WithBaseURL(baseURL)),
		category: category,
		log:      log,
	}, nil
}

// asServerResponse asserts the SDK's generic return to the concrete
// response type.
func asServerResponse(response interface{}) (*bybit_api.ServerResponse, error) {
	resp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", response)
	}
	return resp, nil
}

// decodeResult re-marshals the SDK's generic Result into a typed view.
func decodeResult(response interface{}, out interface{}) error {
	resp, err := asServerResponse(response)
	if err != nil {
		return err
	}
	if resp.RetCode != 0 {
		return fmt.Errorf("bybit retCode %d: %s", resp.RetCode, resp.RetMsg)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("re-marshal result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// GetKlines returns candles oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}).GetMarketKline(ctx)
	if err != nil {
		return nil, boterrors.NewNetworkError("bybit", "get_klines", err)
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return nil, boterrors.CategorizeError(err, "bybit", "get_klines")
	}

	// Bybit returns newest first; each row is
	// [startTime, open, high, low, close, volume, turnover].
	out := make([]types.OHLCV, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		candle, err := parseKlineRow(row)
		if err != nil {
			return nil, boterrors.NewValidationError("bybit", "get_klines",
				fmt.Sprintf("malformed kline for %s: %v", symbol, err))
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseKlineRow(row []string) (types.OHLCV, error) {
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return types.OHLCV{}, fmt.Errorf("start time %q: %w", row[0], err)
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return types.OHLCV{}, fmt.Errorf("field %d %q: %w", i+1, row[i+1], err)
		}
		vals[i] = v
	}
	return types.OHLCV{
		Timestamp: time.UnixMilli(ms),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// GetTicker returns the latest price snapshot.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*types.Ticker, error) {
	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}).GetMarketTickers(ctx)
	if err != nil {
		return nil, boterrors.NewNetworkError("bybit", "get_ticker", err)
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			Volume24h string `json:"volume24h"`
		} `json:"list"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return nil, boterrors.CategorizeError(err, "bybit", "get_ticker")
	}
	if len(result.List) == 0 {
		return nil, boterrors.NewValidationError("bybit", "get_ticker", "empty ticker list for "+symbol)
	}

	t := result.List[0]
	last, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return nil, boterrors.NewValidationError("bybit", "get_ticker",
			fmt.Sprintf("bad last price %q for %s", t.LastPrice, symbol))
	}
	bid, _ := strconv.ParseFloat(t.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(t.Ask1Price, 64)
	vol, _ := strconv.ParseFloat(t.Volume24h, 64)

	return &types.Ticker{
		Symbol:    t.Symbol,
		LastPrice: last,
		BidPrice:  bid,
		AskPrice:  ask,
		Volume24h: vol,
		Timestamp: time.Now(),
	}, nil
}

// ServerTime reads the exchange clock from the timestamp every response
// carries, piggybacking on a cheap public ticker call.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	response, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category": c.category,
		"symbol":   "BTCUSDT",
	}).GetMarketTickers(ctx)
	if err != nil {
		return time.Time{}, boterrors.NewNetworkError("bybit", "server_time", err)
	}
	resp, err := asServerResponse(response)
	if err != nil {
		return time.Time{}, boterrors.CategorizeError(err, "bybit", "server_time")
	}
	if resp.Time <= 0 {
		return time.Time{}, boterrors.NewValidationError("bybit", "server_time",
			fmt.Sprintf("bad server timestamp %d", resp.Time))
	}
	return time.UnixMilli(resp.Time), nil
}

// OpenMarket opens a leveraged market position and returns the average
// fill price.
func (c *Client) OpenMarket(ctx context.Context, symbol, side string, qty, leverage float64) (float64, error) {
	orderSide := "Buy"
	if side == "short" {
		orderSide = "Sell"
	}

	if err := c.setLeverage(ctx, symbol, leverage); err != nil {
		return 0, err
	}

	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":  c.category,
		"symbol":    symbol,
		"side":      orderSide,
		"orderType": "Market",
		"qty":       strconv.FormatFloat(qty, 'f', -1, 64),
	}).PlaceOrder(ctx)
	if err != nil {
		return 0, boterrors.NewOrderError("bybit", "open_market", err)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return 0, boterrors.NewOrderError("bybit", "open_market", err)
	}

	c.log.Info("bybit order placed: %s %s qty=%s id=%s", orderSide, symbol,
		strconv.FormatFloat(qty, 'f', -1, 64), result.OrderID)

	return c.averageFillPrice(ctx, symbol)
}

// CloseMarket closes or reduces a position at market.
func (c *Client) CloseMarket(ctx context.Context, symbol, side string, qty float64) (float64, error) {
	// Closing a long sells, closing a short buys back.
	orderSide := "Sell"
	if side == "short" {
		orderSide = "Buy"
	}

	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":   c.category,
		"symbol":     symbol,
		"side":       orderSide,
		"orderType":  "Market",
		"qty":        strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly": true,
	}).PlaceOrder(ctx)
	if err != nil {
		return 0, boterrors.NewOrderError("bybit", "close_market", err)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return 0, boterrors.NewOrderError("bybit", "close_market", err)
	}

	ticker, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return ticker.LastPrice, nil
}

func (c *Client) setLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := strconv.FormatFloat(leverage, 'f', -1, 64)
	response, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":     c.category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}).SetPositionLeverage(ctx)
	if err != nil {
		return boterrors.NewNetworkError("bybit", "set_leverage", err)
	}
	resp, err := asServerResponse(response)
	if err != nil {
		return boterrors.CategorizeError(err, "bybit", "set_leverage")
	}
	// 110043 means leverage already set to this value.
	if resp.RetCode != 0 && resp.RetCode != 110043 {
		return boterrors.NewOrderError("bybit", "set_leverage",
			fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg))
	}
	return nil
}

// averageFillPrice reads the entry price from the position list after a
// market order; demo and mainnet fill fast enough that the position
// reflects the order by the time this call lands.
func (c *Client) averageFillPrice(ctx context.Context, symbol string) (float64, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Size > 0 {
			return p.EntryPrice, nil
		}
	}
	ticker, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return ticker.LastPrice, nil
}

// SetTradingStop pushes the protective levels to the exchange so stops
// survive a controller outage.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, stopLoss, takeProfit float64) error {
	params := map[string]interface{}{
		"category":    c.category,
		"symbol":      symbol,
		"positionIdx": 0,
	}
	if stopLoss > 0 {
		params["stopLoss"] = strconv.FormatFloat(stopLoss, 'f', -1, 64)
	}
	if takeProfit > 0 {
		params["takeProfit"] = strconv.FormatFloat(takeProfit, 'f', -1, 64)
	}

	response, err := c.api.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx)
	if err != nil {
		return boterrors.NewNetworkError("bybit", "set_trading_stop", err)
	}
	resp, err := asServerResponse(response)
	if err != nil {
		return boterrors.CategorizeError(err, "bybit", "set_trading_stop")
	}
	// 34040 means the stop is unchanged.
	if resp.RetCode != 0 && resp.RetCode != 34040 {
		return boterrors.NewOrderError("bybit", "set_trading_stop",
			fmt.Errorf("retCode %d: %s", resp.RetCode, resp.RetMsg))
	}
	return nil
}

// GetPositions returns all non-zero positions in the configured category.
func (c *Client) GetPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"category":   c.category,
		"settleCoin": "USDT",
	}).GetPositionList(ctx)
	if err != nil {
		return nil, boterrors.NewNetworkError("bybit", "get_positions", err)
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return nil, boterrors.CategorizeError(err, "bybit", "get_positions")
	}

	out := make([]types.ExchangePosition, 0, len(result.List))
	for _, p := range result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size <= 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPrice, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)

		side := "long"
		if p.Side == "Sell" {
			side = "short"
		}
		out = append(out, types.ExchangePosition{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			Leverage:      lev,
			UnrealizedPnL: pnl,
		})
	}
	return out, nil
}

// GetBalance returns the unified account USDT balance.
func (c *Client) GetBalance(ctx context.Context) (*types.Balance, error) {
	resp, err := c.api.NewUtaBybitServiceWithParams(map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}).GetAccountWallet(ctx)
	if err != nil {
		return nil, boterrors.NewNetworkError("bybit", "get_balance", err)
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				AvailableToDraw string `json:"availableToWithdraw"`
				Locked          string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := decodeResult(resp, &result); err != nil {
		return nil, boterrors.CategorizeError(err, "bybit", "get_balance")
	}

	for _, acct := range result.List {
		for _, coin := range acct.Coin {
			if coin.Coin != "USDT" {
				continue
			}
			total, _ := strconv.ParseFloat(coin.WalletBalance, 64)
			locked, _ := strconv.ParseFloat(coin.Locked, 64)
			return &types.Balance{
				Asset:  "USDT",
				Free:   total - locked,
				Locked: locked,
				Total:  total,
			}, nil
		}
	}
	return nil, boterrors.NewValidationError("bybit", "get_balance", "no USDT balance in wallet response")
}
