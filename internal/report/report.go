// Package report computes the run-level performance summary from a
// closed-trade ledger and writes it out as JSON/CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oddte/backtest-core/internal/backtest"
)

// RunReport is the run-level performance summary: aggregate P&L, fees,
// drawdown, and per-trade statistics.
type RunReport struct {
	Trades      []backtest.TradeResult
	NetPnl      float64
	GrossPnl    float64
	Fees        float64
	MaxDrawdown float64
	Sharpe      float64
	WinRate     float64
	AvgWin      float64
	AvgLoss     float64
}

// annualizationFactor converts the daily Sharpe to an annual figure
// over a 252-trading-day year.
const annualizationFactor = 252

// Compute folds a closed-trade ledger into a RunReport. Trades are folded
// in the order given; the loop produces them in the order they close.
func Compute(trades []backtest.TradeResult, feesPerTrade float64) RunReport {
	r := RunReport{Trades: trades}
	if len(trades) == 0 {
		return r
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range trades {
		r.NetPnl += t.ExitPnl
		r.GrossPnl += t.ExitPnl + feesPerTrade
		r.Fees += feesPerTrade
		if t.ExitPnl > 0 {
			wins++
			winSum += t.ExitPnl
		} else if t.ExitPnl < 0 {
			losses++
			lossSum += t.ExitPnl
		}
	}
	r.WinRate = float64(wins) / float64(len(trades))
	if wins > 0 {
		r.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		r.AvgLoss = lossSum / float64(losses)
	}

	r.MaxDrawdown = maxDrawdown(trades)
	r.Sharpe = sharpeRatio(dailyPnls(trades))
	return r
}

// maxDrawdown walks the cumulative P&L curve and returns the largest
// peak-to-trough decline.
func maxDrawdown(trades []backtest.TradeResult) float64 {
	var cumulative, peak, worst float64
	for _, t := range trades {
		cumulative += t.ExitPnl
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > worst {
			worst = dd
		}
	}
	return worst
}

// dailyPnls buckets trade P&L by the UTC calendar date of exit.
func dailyPnls(trades []backtest.TradeResult) []float64 {
	byDay := make(map[string]float64)
	for _, t := range trades {
		key := t.ExitTimestamp.UTC().Format("2006-01-02")
		byDay[key] += t.ExitPnl
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = byDay[d]
	}
	return out
}

// sharpeRatio computes the sqrt(252)-annualized Sharpe ratio of a daily
// P&L series.
func sharpeRatio(daily []float64) float64 {
	if len(daily) < 2 {
		return 0
	}
	var mean float64
	for _, v := range daily {
		mean += v
	}
	mean /= float64(len(daily))

	var variance float64
	for _, v := range daily {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(daily) - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev * math.Sqrt(annualizationFactor)
}

// WriteJSON writes the full report, including the trade ledger, to
// <outdir>/report.json.
func WriteJSON(r RunReport, outdir string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "report.json"), b, 0644)
}

// WriteCSV writes the trade ledger to <outdir>/trades.csv.
func WriteCSV(trades []backtest.TradeResult, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "trades.csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	headers := []string{"correlation_id", "symbol", "expiry", "right", "strike", "spread_type", "max_loss", "entry_ts", "exit_ts", "entry_price", "exit_price", "exit_pnl", "exit_reason", "market_regime"}
	if err := w.Write(headers); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.CorrelationID.String(),
			t.Symbol,
			t.Expiry.Format("2006-01-02"),
			string(t.Right),
			fmt.Sprintf("%.2f", t.Strike),
			t.SpreadType,
			fmt.Sprintf("%.2f", t.MaxLoss),
			t.EntryTimestamp.Format(time.RFC3339),
			t.ExitTimestamp.Format(time.RFC3339),
			fmt.Sprintf("%.2f", t.EntryPrice),
			fmt.Sprintf("%.2f", t.ExitPrice),
			fmt.Sprintf("%.2f", t.ExitPnl),
			t.ExitReason,
			t.MarketRegime,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
