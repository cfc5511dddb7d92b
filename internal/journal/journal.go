// Package journal records every realized trade to a CSV append log and
// can export the full history as a formatted Excel workbook.
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ducle1408/futures-sentinel/internal/position"
)

var csvHeader = []string{
	"id", "entry_time", "exit_time", "symbol", "side", "entry", "exit",
	"size_usd", "leverage", "pnl_usd", "pnl_pct", "duration_sec",
	"strategy", "regime", "reason",
}

// Journal appends realized trades to trades.csv as they close. The CSV is
// the durable record; XLSX export is a convenience view over it.
type Journal struct {
	mu   sync.Mutex
	dir  string
	path string
}

// New opens (or creates) the journal in dir, writing the header on first
// use.
func New(dir string) (*Journal, error) {
	if dir == "" {
		dir = "journal"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir %s: %w", dir, err)
	}

	j := &Journal{dir: dir, path: filepath.Join(dir, "trades.csv")}
	if _, err := os.Stat(j.path); os.IsNotExist(err) {
		if err := j.writeHeader(); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (j *Journal) writeHeader() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create journal file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write journal header: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Record appends one realized trade.
func (j *Journal) Record(t position.RealizedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{
		t.ID,
		t.EntryTime.UTC().Format(time.RFC3339),
		t.ExitTime.UTC().Format(time.RFC3339),
		t.Symbol,
		string(t.Side),
		strconv.FormatFloat(t.Entry, 'f', -1, 64),
		strconv.FormatFloat(t.Exit, 'f', -1, 64),
		strconv.FormatFloat(t.SizeUSD, 'f', 2, 64),
		strconv.FormatFloat(t.Leverage, 'f', -1, 64),
		strconv.FormatFloat(t.PnLUSD, 'f', 2, 64),
		strconv.FormatFloat(t.PnLPct, 'f', 4, 64),
		strconv.FormatInt(int64(t.Duration.Seconds()), 10),
		t.Strategy,
		t.Regime,
		string(t.Reason),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("append journal row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Path returns the CSV file location.
func (j *Journal) Path() string { return j.path }

// ExportXLSX writes the given trades to a styled Excel workbook next to
// the CSV and returns its path.
func (j *Journal) ExportXLSX(trades []position.RealizedTrade) (string, error) {
	fx := excelize.NewFile()
	defer fx.Close()

	const sheet = "Trades"
	fx.SetSheetName(fx.GetSheetName(0), sheet)

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return "", fmt.Errorf("create header style: %w", err)
	}

	headers := []string{"Entry Time", "Exit Time", "Symbol", "Side", "Entry", "Exit",
		"Size USD", "Leverage", "PnL USD", "PnL %", "Held", "Strategy", "Regime", "Reason"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for r, t := range trades {
		row := r + 2
		vals := []interface{}{
			t.EntryTime.Format("2006-01-02 15:04:05"),
			t.ExitTime.Format("2006-01-02 15:04:05"),
			t.Symbol,
			string(t.Side),
			t.Entry,
			t.Exit,
			t.SizeUSD,
			t.Leverage,
			t.PnLUSD,
			t.PnLPct / 100,
			t.Duration.Round(time.Second).String(),
			t.Strategy,
			t.Regime,
			string(t.Reason),
		}
		for col, v := range vals {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			fx.SetCellValue(sheet, cell, v)
		}
	}

	fx.SetColWidth(sheet, "A", "B", 20)
	fx.SetColWidth(sheet, "C", "C", 12)
	fx.SetColWidth(sheet, "E", "J", 12)
	fx.SetColWidth(sheet, "K", "N", 16)

	path := filepath.Join(j.dir, fmt.Sprintf("trades_%s.xlsx", time.Now().Format("20060102_150405")))
	if err := fx.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}
