package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddte/backtest-core/internal/data"
	"github.com/oddte/backtest-core/internal/regime"
	"github.com/oddte/backtest-core/internal/spread"
)

func at(t *testing.T, iso string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, iso)
	require.NoError(t, err)
	return ts
}

func putOrder(width, credit float64) spread.Order {
	return spread.Order{Short: spread.Leg{Right: data.Put}, Width: width, Credit: credit}
}

func callOrder(width, credit float64) spread.Order {
	return spread.Order{Short: spread.Leg{Right: data.Call}, Width: width, Credit: credit}
}

func TestCanAddDeniesAfterDailyLossStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossStop = 200
	m := NewManager(cfg)
	ts := at(t, "2024-02-01T16:00:00Z")

	m.RegisterOpen(ts, putOrder(1, 0.3))
	m.RegisterClose(ts, putOrder(1, 0.3), -250)

	require.False(t, m.CanAdd(ts, regime.Condor))
}

func TestCanAddResetsAcrossDayBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossStop = 200
	m := NewManager(cfg)
	day1 := at(t, "2024-02-01T16:00:00Z")
	day2 := at(t, "2024-02-02T15:00:00Z")

	m.RegisterOpen(day1, putOrder(1, 0.3))
	m.RegisterClose(day1, putOrder(1, 0.3), -250)
	require.False(t, m.CanAdd(day1, regime.Condor))

	require.True(t, m.CanAdd(day2, regime.Condor))
	require.Equal(t, 0.0, m.DailyRealizedPnl())
}

func TestCanAddDeniesInsideGammaHour(t *testing.T) {
	m := NewManager(DefaultConfig())
	// 15:05 ET == 20:05 UTC in winter; use a UTC timestamp 55 minutes to 21:00 close.
	ts := at(t, "2024-02-01T20:05:00Z")
	require.False(t, m.CanAdd(ts, regime.Condor))
}

func TestCanAddAllowsOutsideGammaHour(t *testing.T) {
	m := NewManager(DefaultConfig())
	ts := at(t, "2024-02-01T16:00:00Z")
	require.True(t, m.CanAdd(ts, regime.Condor))
}

func TestCanAddRequiresBothSidesForCondor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentPerSide = 1
	m := NewManager(cfg)
	ts := at(t, "2024-02-01T16:00:00Z")

	m.RegisterOpen(ts, putOrder(1, 0.3))
	require.False(t, m.CanAdd(ts, regime.Condor))
	require.True(t, m.CanAdd(ts, regime.SingleSideCall))
	require.False(t, m.CanAdd(ts, regime.SingleSidePut))
}

func TestCanAddOrderReverseFibonacciClampsAfterSixLossDays(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.consecutiveLossDays = 10 // beyond ladder length
	ts := at(t, "2024-02-01T16:00:00Z")
	m.ensureDay(ts)

	require.Equal(t, 75.0, m.budgetLevel())

	rejected := []spread.Order{putOrder(1.0, 0.20)} // worst-case (1.0-0.20)*100 = 80 > 75
	require.False(t, m.CanAddOrder(ts, regime.SingleSidePut, rejected))

	accepted := []spread.Order{putOrder(1.0, 0.30)} // worst-case 70 <= 75
	require.True(t, m.CanAddOrder(ts, regime.SingleSidePut, accepted))
}

func TestCanAddOrderCondorUsesCombinedCredit(t *testing.T) {
	m := NewManager(DefaultConfig())
	ts := at(t, "2024-02-01T16:00:00Z")
	orders := []spread.Order{putOrder(1.0, 0.20), callOrder(1.0, 0.20)}
	// worst-case = 1*100 - (0.20+0.20) = 99.6, well within the top 1200 rung.
	require.True(t, m.CanAddOrder(ts, regime.Condor, orders))
}

func TestRegisterCloseFoldsPnlAndActiveCountNeverNegative(t *testing.T) {
	m := NewManager(DefaultConfig())
	ts := at(t, "2024-02-01T16:00:00Z")

	m.RegisterClose(ts, putOrder(1, 0.3), -50)
	puts, _ := m.ActiveCounts()
	require.Equal(t, 0, puts)
	require.Equal(t, -50.0, m.DailyRealizedPnl())
}

func TestConsecutiveLossDaysIncrementsOnNetLossDayAndResetsOnWin(t *testing.T) {
	m := NewManager(DefaultConfig())
	day1 := at(t, "2024-02-01T16:00:00Z")
	day2 := at(t, "2024-02-02T16:00:00Z")
	day3 := at(t, "2024-02-03T16:00:00Z")

	m.RegisterClose(day1, putOrder(1, 0.3), -10)
	m.ensureDay(day2) // crosses into day2, day1 was a net loss
	require.Equal(t, 1, m.ConsecutiveLossDays())

	m.RegisterClose(day2, putOrder(1, 0.3), 20)
	m.ensureDay(day3) // day2 was a net win
	require.Equal(t, 0, m.ConsecutiveLossDays())
}

func TestEnsureDayIsIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig())
	ts := at(t, "2024-02-01T16:00:00Z")
	m.RegisterClose(ts, putOrder(1, 0.3), -10)
	m.ensureDay(ts)
	first := m.DailyRealizedPnl()
	m.ensureDay(ts)
	require.Equal(t, first, m.DailyRealizedPnl())
}
