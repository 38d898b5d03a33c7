package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oddte/backtest-core/internal/backtest"
	"github.com/oddte/backtest-core/internal/data"
)

func trade(ts time.Time, pnl float64) backtest.TradeResult {
	return backtest.TradeResult{
		CorrelationID:  uuid.New(),
		Symbol:         "XSP",
		Expiry:         ts,
		Right:          data.Put,
		Strike:         98,
		SpreadType:     "SingleSidePut",
		MaxLoss:        65,
		EntryTimestamp: ts.Add(-time.Hour),
		ExitTimestamp:  ts,
		EntryPrice:     0.35,
		ExitPrice:      0,
		ExitPnl:        pnl,
		ExitReason:     "PM cash settlement",
		MarketRegime:   "SingleSidePut",
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, EnsureBaseDir(dir))
	s := NewStore(dir)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndTradesForDayOrdersByTimestamp(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(trade(day.Add(16*time.Hour), 20)))
	require.NoError(t, s.Append(trade(day.Add(15*time.Hour), -10)))

	rows, err := s.TradesForDay(day)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].Timestamp.Before(rows[1].Timestamp))
}

func TestLosingTradesForDayFiltersAndOrdersAscending(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(trade(day.Add(15*time.Hour), 20)))
	require.NoError(t, s.Append(trade(day.Add(16*time.Hour), -10)))
	require.NoError(t, s.Append(trade(day.Add(17*time.Hour), -30)))

	rows, err := s.LosingTradesForDay(day, -1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, -30.0, rows[0].ExitPnl)
	require.Equal(t, -10.0, rows[1].ExitPnl)
}

func TestSummaryAggregatesDay(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(trade(day.Add(15*time.Hour), 20)))
	require.NoError(t, s.Append(trade(day.Add(16*time.Hour), -10)))

	summary, err := s.Summary(day)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Winning)
	require.InDelta(t, 0.5, summary.WinRate, 1e-9)
	require.InDelta(t, 10.0, summary.TotalPnl, 1e-9)
	require.Equal(t, -10.0, summary.Worst)
	require.Equal(t, 20.0, summary.Best)
}

func TestSummaryOnEmptyDayIsZeroValue(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	summary, err := s.Summary(day)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Total)
}

func TestAppendPartitionsByExitDay(t *testing.T) {
	s := newTestStore(t)
	day1 := time.Date(2024, 2, 1, 16, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 2, 2, 16, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(trade(day1, 5)))
	require.NoError(t, s.Append(trade(day2, 5)))

	rows1, err := s.TradesForDay(day1)
	require.NoError(t, err)
	require.Len(t, rows1, 1)

	rows2, err := s.TradesForDay(day2)
	require.NoError(t, err)
	require.Len(t, rows2, 1)
}
