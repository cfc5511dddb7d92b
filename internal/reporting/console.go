// Package reporting renders controller status to the console as rounded
// tables: startup configuration, the periodic status board, and closed
// trade summaries.
package reporting

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/position"
	"github.com/ducle1408/futures-sentinel/internal/risk"
)

// PrintStartup renders the resolved configuration at boot.
func PrintStartup(cfg *config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("FUTURES SENTINEL")
	t.SetStyle(table.StyleRounded)

	env := "mainnet"
	if cfg.Exchange.Demo {
		env = "demo"
	} else if cfg.Exchange.Testnet {
		env = "testnet"
	}

	t.AppendRows([]table.Row{
		{"🏪 Exchange", fmt.Sprintf("%s (%s)", cfg.Exchange.Name, env)},
		{"📊 Universe", fmt.Sprintf("%v", cfg.Trading.Symbols)},
		{"⏰ Interval", cfg.Trading.KlineInterval + "m"},
		{"⚡ Leverage", fmt.Sprintf("%.0fx", cfg.Sizing.Leverage)},
		{"🛡️ Daily loss cap", fmt.Sprintf("%.1f%%", cfg.Risk.DailyLossCapPct)},
		{"🔥 Heat ceiling", fmt.Sprintf("%.0f", cfg.Risk.HeatCeiling)},
		{"📈 Max positions", fmt.Sprintf("%d", cfg.Risk.MaxOpenPositions)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 45, Align: text.AlignLeft},
	})

	t.Render()
	fmt.Println()
}

// PositionRow is one open position as shown on the status board.
type PositionRow struct {
	Symbol  string
	Side    position.Side
	Entry   float64
	Last    float64
	Stop    float64
	Target  float64
	SizeUSD float64
	PnLPct  float64
	HeldFor time.Duration
}

// PrintStatus renders the periodic status board: risk snapshot on top,
// open positions below.
func PrintStatus(snap risk.RiskSnapshot, rows []PositionRow) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("STATUS")
	t.SetStyle(table.StyleRounded)

	kill := "off"
	if snap.KillSwitch.Active {
		kill = "ACTIVE: " + snap.KillSwitch.Reason
	}

	t.AppendRows([]table.Row{
		{"💰 Balance", fmt.Sprintf("$%.2f", snap.Balance)},
		{"📉 Drawdown", fmt.Sprintf("%.2f%%", snap.Drawdown*100)},
		{"📅 Daily loss", fmt.Sprintf("%.2f%%", snap.DailyLossPct)},
		{"🔥 Heat", fmt.Sprintf("%.1f", snap.PortfolioHeat)},
		{"🎯 Win rate", fmt.Sprintf("%.1f%%", snap.WinRate*100)},
		{"🛑 Kill switch", kill},
	})
	t.Render()

	if len(rows) == 0 {
		fmt.Println("  no open positions")
		fmt.Println()
		return
	}

	pt := table.NewWriter()
	pt.SetOutputMirror(os.Stdout)
	pt.SetStyle(table.StyleRounded)
	pt.AppendHeader(table.Row{"Symbol", "Side", "Entry", "Last", "Stop", "Target", "Size", "PnL %", "Held"})
	for _, r := range rows {
		pt.AppendRow(table.Row{
			r.Symbol,
			r.Side,
			fmt.Sprintf("%.4f", r.Entry),
			fmt.Sprintf("%.4f", r.Last),
			fmt.Sprintf("%.4f", r.Stop),
			fmt.Sprintf("%.4f", r.Target),
			fmt.Sprintf("$%.0f", r.SizeUSD),
			fmt.Sprintf("%+.2f%%", r.PnLPct),
			r.HeldFor.Round(time.Minute),
		})
	}
	pt.SetColumnConfigs([]table.ColumnConfig{
		{Number: 8, Align: text.AlignRight},
	})
	pt.Render()
	fmt.Println()
}

// PrintClosedTrade renders a one-row summary when a position closes.
func PrintClosedTrade(trade position.RealizedTrade) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("TRADE CLOSED")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Side", "Entry", "Exit", "PnL", "PnL %", "Held", "Reason"})
	t.AppendRow(table.Row{
		trade.Symbol,
		trade.Side,
		fmt.Sprintf("%.4f", trade.Entry),
		fmt.Sprintf("%.4f", trade.Exit),
		fmt.Sprintf("$%+.2f", trade.PnLUSD),
		fmt.Sprintf("%+.2f%%", trade.PnLPct),
		trade.Duration.Round(time.Second),
		trade.Reason,
	})
	t.Render()
	fmt.Println()
}
