package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ducle1408/futures-sentinel/internal/monitoring"
	"github.com/ducle1408/futures-sentinel/internal/position"
	"github.com/ducle1408/futures-sentinel/internal/regime"
	"github.com/ducle1408/futures-sentinel/internal/reporting"
	"github.com/ducle1408/futures-sentinel/internal/risk"
	"github.com/ducle1408/futures-sentinel/internal/scanner"
	"github.com/ducle1408/futures-sentinel/internal/sizing"
	"github.com/ducle1408/futures-sentinel/internal/state"
)

// superviseTick refreshes every open position against fresh market data.
// One failing symbol never blocks the rest of the sweep.
func (e *Engine) superviseTick(ctx context.Context) error {
	if err := e.syncClock(ctx); err != nil {
		e.log.Warning("clock sync failed: %v", err)
	}

	if e.cfg.Risk.FlattenOnKillSwitch && e.riskSt.KillSwitchState().Active && e.ledger.Count() > 0 {
		return e.flattenAll(ctx)
	}

	symbols := e.ledger.Symbols()
	var failures int
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.superviseSymbol(ctx, symbol); err != nil {
			failures++
			e.log.Error("supervise %s: %v", symbol, err)
			monitoring.RecordError("supervision")
		}
	}

	e.updateRiskGauges()

	if failures > 0 && failures == len(symbols) {
		return fmt.Errorf("supervision failed for all %d positions", failures)
	}
	return nil
}

func (e *Engine) superviseSymbol(ctx context.Context, symbol string) error {
	data, err := e.exchange.GetKlines(ctx, symbol, e.cfg.Trading.KlineInterval, e.cfg.Trading.KlineLimit)
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty kline history")
	}

	ticker, err := e.exchange.GetTicker(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch ticker: %w", err)
	}

	closes := make([]float64, len(data))
	var volSum float64
	for i, c := range data {
		closes[i] = c.Close
		volSum += c.Volume
	}
	e.corr.Observe(symbol, closes)

	volRatio := 0.0
	if len(data) > 1 && volSum > 0 {
		avgVol := volSum / float64(len(data))
		if avgVol > 0 {
			volRatio = data[len(data)-1].Volume / avgVol
		}
	}

	tick := position.MarketTick{
		Price:         ticker.LastPrice,
		ATR:           regime.ATR(data, 14),
		TrendStrength: e.detector.TrendStrength(data),
		RSI:           regime.RSI(data, 14),
		VolumeRatio:   volRatio,
		At:            time.Now(),
	}

	trade, err := e.ledger.Refresh(symbol, tick)
	if err != nil {
		return err
	}
	if trade != nil {
		return e.settleClose(ctx, *trade)
	}

	if err := e.maybeScaleIn(ctx, symbol, tick.Price); err != nil {
		e.log.Warning("scale-in %s: %v", symbol, err)
	}
	if err := e.maybePartialTake(ctx, symbol, tick.Price); err != nil {
		e.log.Warning("partial take %s: %v", symbol, err)
	}

	// Mirror the advanced levels to the exchange so stops hold through
	// an outage.
	if pos, ok := e.ledger.Get(symbol); ok {
		if err := e.exchange.SetTradingStop(ctx, symbol, pos.StopLoss(), pos.TakeProfit()); err != nil {
			e.log.Warning("push trading stop for %s: %v", symbol, err)
		}
	}
	return nil
}

// flattenAll closes every open position at market after the kill switch
// trips. Failures are isolated so one stuck symbol cannot block the rest
// of the flatten.
func (e *Engine) flattenAll(ctx context.Context) error {
	symbols := e.ledger.Symbols()
	e.log.Critical("kill switch active, flattening %d positions", len(symbols))
	if err := e.notifier.SendAlert("error", fmt.Sprintf("kill switch tripped, flattening %d positions", len(symbols))); err != nil {
		e.log.Warning("notify failed: %v", err)
	}

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ticker, err := e.exchange.GetTicker(ctx, symbol)
		if err != nil {
			e.log.Error("flatten %s: fetch ticker: %v", symbol, err)
			monitoring.RecordError("flatten")
			continue
		}
		trade, err := e.ledger.Close(symbol, ticker.LastPrice, position.CloseKillSwitch)
		if err != nil {
			e.log.Error("flatten %s: %v", symbol, err)
			monitoring.RecordError("flatten")
			continue
		}
		if err := e.settleClose(ctx, *trade); err != nil {
			e.log.Error("flatten %s: settle: %v", symbol, err)
		}
	}
	return nil
}

// maybeScaleIn adds to a position when price has moved against the entry
// by one more adverse step than already bought into, funded as a share of
// the initial size and still subject to the guardrails.
func (e *Engine) maybeScaleIn(ctx context.Context, symbol string, price float64) error {
	pos, ok := e.ledger.Get(symbol)
	if !ok || price <= 0 {
		return nil
	}
	cfg := e.cfg.Position
	if pos.ScaleIns() >= cfg.MaxScaleIns || cfg.ScaleInStepPct <= 0 {
		return nil
	}

	adverse := (pos.EntryPrice() - price) / pos.EntryPrice() * 100
	if pos.Side == position.Short {
		adverse = -adverse
	}
	needed := cfg.ScaleInStepPct * float64(pos.ScaleIns()+1)
	if adverse < needed {
		return nil
	}

	// Adding to an existing position bypasses the per-position checks
	// but never the global ones.
	if e.riskSt.KillSwitchState().Active {
		return nil
	}
	if e.riskSt.DailyLossPct() >= e.cfg.Risk.DailyLossCapPct {
		return nil
	}

	addUSD := pos.InitialSize * cfg.ScaleInSizePct / 100

	qty := addUSD * pos.Leverage / price
	fill, err := e.exchange.OpenMarket(ctx, symbol, string(pos.Side), qty, pos.Leverage)
	if err != nil {
		return fmt.Errorf("exchange scale-in order: %w", err)
	}
	return e.ledger.ScaleIn(symbol, addUSD, fill)
}

// maybePartialTake banks a fraction of the position once its leveraged
// profit clears the partial-take level. At most one partial per position.
func (e *Engine) maybePartialTake(ctx context.Context, symbol string, price float64) error {
	cfg := e.cfg.Position
	if cfg.PartialTakePct <= 0 || cfg.PartialTakeFraction <= 0 {
		return nil
	}
	pos, ok := e.ledger.Get(symbol)
	if !ok || price <= 0 || pos.ScaleOuts() > 0 {
		return nil
	}
	if pos.PnLPct(price) < cfg.PartialTakePct {
		return nil
	}

	qty := pos.SizeUSD() * cfg.PartialTakeFraction * pos.Leverage / price
	if _, err := e.exchange.CloseMarket(ctx, symbol, string(pos.Side), qty); err != nil {
		return fmt.Errorf("exchange reduce order: %w", err)
	}
	realized, err := e.ledger.ScaleOut(symbol, cfg.PartialTakeFraction, price)
	if err != nil {
		return err
	}
	e.log.Trade("PARTIAL %s banked $%.2f at +%.2f%%", symbol, realized, pos.PnLPct(price))
	return nil
}

// settleClose executes the exchange close and feeds the realized trade to
// risk accounting, the journal, metrics, and alerting.
func (e *Engine) settleClose(ctx context.Context, trade position.RealizedTrade) error {
	qty := trade.SizeUSD * trade.Leverage / trade.Exit
	if _, err := e.exchange.CloseMarket(ctx, trade.Symbol, string(trade.Side), qty); err != nil {
		e.log.Error("exchange close %s failed, position may linger: %v", trade.Symbol, err)
		monitoring.RecordError("order")
	}

	e.riskSt.RecordTrade(trade.PnLUSD, trade.PnLPct)
	monitoring.RecordTrade(trade.Symbol, string(trade.Side), string(trade.Reason), trade.PnLPct)
	monitoring.SetOpenPositions(e.ledger.Count())

	if e.journal != nil {
		if err := e.journal.Record(trade); err != nil {
			e.log.Error("journal write failed: %v", err)
			monitoring.RecordError("journal")
		}
	}

	level := "success"
	if trade.PnLUSD < 0 {
		level = "warning"
	}
	msg := fmt.Sprintf("%s %s closed: $%+.2f (%+.2f%%) after %s, reason %s",
		trade.Side, trade.Symbol, trade.PnLUSD, trade.PnLPct,
		trade.Duration.Round(time.Second), trade.Reason)
	if err := e.notifier.SendAlert(level, msg); err != nil {
		e.log.Warning("notify failed: %v", err)
	}

	reporting.PrintClosedTrade(trade)
	return nil
}

// scanTick runs one universe sweep.
func (e *Engine) scanTick(ctx context.Context) error {
	return e.scanner.Scan(ctx)
}

// coordinateTick consumes fresh opportunities: guardrails first, sizing
// second, exchange order last. A stale cache means the cycle is skipped
// entirely.
func (e *Engine) coordinateTick(ctx context.Context) error {
	now := time.Now()
	opps := e.cache.Fresh(now)
	if opps == nil {
		e.log.Debug("coordinator: stale or empty opportunity cache (age %s), sitting out", e.cache.Age(now).Round(time.Second))
		return nil
	}

	threshold := e.confidenceThreshold()
	for _, opp := range opps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Once the position limit is reached the rest of the list cannot
		// open anything; stop instead of collecting guardrail denials.
		if e.ledger.Count() >= e.cfg.Risk.MaxOpenPositions {
			return nil
		}
		if opp.Confidence < threshold {
			continue
		}
		if e.ledger.Has(opp.Symbol) {
			continue
		}
		if err := e.tryOpen(ctx, opp); err != nil {
			e.log.Error("open %s: %v", opp.Symbol, err)
			monitoring.RecordError("coordinator")
		}
	}
	return nil
}

// confidenceThreshold adapts the entry bar to recent performance: every
// consecutive loss raises it, so a cold streak demands better setups.
func (e *Engine) confidenceThreshold() float64 {
	base := e.cfg.Scheduler.MinConfidence
	_, lossStreak := e.riskSt.Streaks()
	if lossStreak > 4 {
		lossStreak = 4
	}
	return base + 0.05*float64(lossStreak)
}

func (e *Engine) tryOpen(ctx context.Context, opp scanner.Opportunity) error {
	result := e.sizeFor(opp)
	if result.AmountUSD <= 0 {
		return nil
	}

	view := e.portfolioView()
	decision := e.guard.Evaluate(risk.ProposedTrade{
		Symbol:     opp.Symbol,
		Category:   opp.Category,
		ValueUSD:   result.AmountUSD,
		Confidence: opp.Confidence,
	}, view)
	if !decision.Allowed {
		monitoring.RecordDenial(opp.Symbol)
		return nil
	}

	qty := result.AmountUSD * result.Leverage / opp.Price
	fill, err := e.exchange.OpenMarket(ctx, opp.Symbol, string(opp.Direction), qty, result.Leverage)
	if err != nil {
		return fmt.Errorf("exchange order: %w", err)
	}

	pos, err := e.ledger.Open(position.OpenParams{
		Symbol:     opp.Symbol,
		Side:       position.Side(opp.Direction),
		Category:   opp.Category,
		EntryPrice: fill,
		SizeUSD:    result.AmountUSD,
		Leverage:   result.Leverage,
		ATR:        opp.ATR,
		Regime:     regime.ParseRegime(opp.Regime),
		Strategy:   result.Rationale,
		Now:        time.Now(),
	})
	if err != nil {
		return fmt.Errorf("ledger open after fill: %w", err)
	}

	if err := e.exchange.SetTradingStop(ctx, opp.Symbol, pos.StopLoss(), pos.TakeProfit()); err != nil {
		e.log.Warning("push initial stop for %s: %v", opp.Symbol, err)
	}

	monitoring.SetOpenPositions(e.ledger.Count())
	if err := e.notifier.SendAlert("trade", fmt.Sprintf("opened %s %s $%.2f @ %.4f (%s)",
		opp.Direction, opp.Symbol, result.AmountUSD, fill, opp.Rationale)); err != nil {
		e.log.Warning("notify failed: %v", err)
	}
	return nil
}

// sizeFor runs the strategy ladder and correlation adjustment for one
// opportunity.
func (e *Engine) sizeFor(opp scanner.Opportunity) sizing.Result {
	wins, losses := e.riskSt.WindowCounts()
	avgWin, avgLoss := e.riskSt.AvgWinLoss()

	sctx := sizing.Context{
		Balance:        e.riskSt.Balance(),
		WinRate:        e.riskSt.WinRate(),
		AvgWin:         avgWin,
		AvgLoss:        avgLoss,
		Confidence:     opp.Confidence,
		Regime:         regime.ParseRegime(opp.Regime),
		Volatility:     volatilityOf(opp),
		TradeCount:     e.riskSt.TotalTrades(),
		WindowWins:     wins,
		WindowLosses:   losses,
		AvgCorrelation: e.corr.AvgAbsCorrelation(opp.Symbol, e.ledger.Symbols()),
	}

	sizer := sizing.Select(e.cfg.Sizing, sctx.TradeCount)
	result := sizer.Size(sctx)
	result = sizing.ApplyCorrelationAdjustment(result, sctx.AvgCorrelation, e.cfg.Sizing, e.cfg.Risk)
	result.Rationale = sizer.Name() + ": " + result.Rationale

	e.log.Debug("sized %s via %s: $%.2f at %.0fx (%s)", opp.Symbol, sizer.Name(),
		result.AmountUSD, result.Leverage, result.Rationale)
	return result
}

func volatilityOf(opp scanner.Opportunity) float64 {
	if opp.Price <= 0 {
		return 0
	}
	return opp.ATR / opp.Price
}

// portfolioView copies the ledger context a guardrail evaluation needs.
func (e *Engine) portfolioView() risk.PortfolioView {
	open := e.ledger.Symbols()
	avgCorr := 0.0
	if len(open) > 1 {
		var sum float64
		var n int
		for i := range open {
			for j := i + 1; j < len(open); j++ {
				sum += absFloat(e.corr.Pairwise(open[i], open[j]))
				n++
			}
		}
		if n > 0 {
			avgCorr = sum / float64(n)
		}
	}

	heat := risk.PortfolioHeat(risk.HeatInputs{
		OpenPositions:  e.ledger.Count(),
		MaxPositions:   e.cfg.Risk.MaxOpenPositions,
		AvgLeverage:    e.ledger.AvgLeverage(),
		MaxLeverage:    e.cfg.Sizing.MaxLeverage,
		AvgCorrelation: avgCorr,
	})

	return risk.PortfolioView{
		Balance:        e.riskSt.Balance(),
		OpenPositions:  e.ledger.Count(),
		CategoryCounts: e.ledger.CategoryCounts(),
		Heat:           heat,
	}
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// persistTick saves the full controller snapshot atomically.
func (e *Engine) persistTick(_ context.Context) error {
	return e.store.Save(state.Snapshot{
		SavedAt:   time.Now(),
		Risk:      e.riskSt.Snapshot(),
		Positions: e.ledger.Snapshot(),
	})
}

// watchdogTick logs any loop that has gone silent past its allowance,
// mirrors risk state into the health endpoint, and prints the status
// board.
func (e *Engine) watchdogTick(_ context.Context) error {
	if name, age, stalled := e.health.Stalled(time.Now()); stalled {
		e.log.Critical("loop %s stalled: no beat for %s", name, age.Round(time.Second))
		monitoring.RecordError("watchdog")
	}
	e.health.SetKillSwitch(e.riskSt.KillSwitchState().Active)

	view := e.portfolioView()
	e.log.Status("open=%d exposure=$%.2f unrealized=$%+.2f heat=%.1f daily=%.2f%%",
		view.OpenPositions, e.ledger.TotalExposure(), e.ledger.UnrealizedPnL(),
		view.Heat, e.riskSt.DailyLossPct())
	reporting.PrintStatus(e.guard.SnapshotFor(view), e.positionRows())
	return nil
}

func (e *Engine) positionRows() []reporting.PositionRow {
	symbols := e.ledger.Symbols()
	rows := make([]reporting.PositionRow, 0, len(symbols))
	for _, symbol := range symbols {
		pos, ok := e.ledger.Get(symbol)
		if !ok {
			continue
		}
		last := pos.LastPrice()
		if last <= 0 {
			last = pos.EntryPrice()
		}
		rows = append(rows, reporting.PositionRow{
			Symbol:  symbol,
			Side:    pos.Side,
			Entry:   pos.EntryPrice(),
			Last:    last,
			Stop:    pos.StopLoss(),
			Target:  pos.TakeProfit(),
			SizeUSD: pos.SizeUSD(),
			PnLPct:  pos.PnLPct(last),
			HeldFor: time.Since(pos.EntryTime),
		})
	}
	return rows
}

// syncClock measures skew against the exchange clock and records the
// sync time for the staleness guardrail.
func (e *Engine) syncClock(ctx context.Context) error {
	serverTime, err := e.exchange.ServerTime(ctx)
	if err != nil {
		return err
	}
	skew := time.Since(serverTime).Milliseconds()
	e.riskSt.NoteClockSync(skew)
	return nil
}

func (e *Engine) updateRiskGauges() {
	view := e.portfolioView()
	monitoring.SetRiskGauges(view.Heat, e.riskSt.DailyLossPct(), e.riskSt.KillSwitchState().Active)
	monitoring.SetOpenPositions(view.OpenPositions)
}
