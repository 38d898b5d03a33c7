// Package risk gates and budgets new positions: a daily loss stop, a
// gamma-hour window, per-side concurrency caps, and a reverse-Fibonacci
// per-trade loss budget that tightens after losing days.
package risk

import (
	"math"
	"time"

	"github.com/oddte/backtest-core/internal/data"
	"github.com/oddte/backtest-core/internal/regime"
	"github.com/oddte/backtest-core/internal/spread"
)

// settlementHourUTC mirrors quotes.SettlementHourUTC; kept as a local
// constant rather than an import so this package's only dependency on
// time-of-day is the gamma-hour gate itself.
const settlementHourUTC = 21

// reverseFibonacciBudget is indexed by consecutive_loss_days, clamped to
// the last element once exceeded.
var reverseFibonacciBudget = []float64{1200, 800, 500, 300, 150, 75}

// Config parameterizes the gates.
type Config struct {
	DailyLossStop           float64
	MaxConcurrentPerSide    int
	NoNewRiskMinutesToClose int
}

// DefaultConfig returns the standard gate thresholds.
func DefaultConfig() Config {
	return Config{
		DailyLossStop:           500,
		MaxConcurrentPerSide:    1,
		NoNewRiskMinutesToClose: 60,
	}
}

// Manager holds the single mutable risk state for one backtest run. It is
// not safe for concurrent use; the backtest loop is its only caller and
// is itself single-threaded.
type Manager struct {
	cfg Config

	currentDay          time.Time
	dayInitialized      bool
	dailyRealizedPnl    float64
	activePut           int
	activeCall          int
	consecutiveLossDays int
}

// NewManager builds a risk manager with the given gate configuration.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

func dateOf(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ensureDay applies the day-boundary reset. Calling it twice for the same
// timestamp is a no-op on the second call.
func (m *Manager) ensureDay(ts time.Time) {
	day := dateOf(ts)
	if !m.dayInitialized {
		m.currentDay = day
		m.dayInitialized = true
		return
	}
	if day.Equal(m.currentDay) {
		return
	}
	if m.dailyRealizedPnl < 0 {
		m.consecutiveLossDays++
	} else {
		m.consecutiveLossDays = 0
	}
	m.currentDay = day
	m.dailyRealizedPnl = 0
	m.activePut = 0
	m.activeCall = 0
}

// CanAdd runs the admission gates: daily loss, gamma hour, and
// concurrency (per the sides decision requires).
func (m *Manager) CanAdd(ts time.Time, decision regime.Decision) bool {
	m.ensureDay(ts)

	if m.dailyRealizedPnl <= -m.cfg.DailyLossStop {
		return false
	}

	settle := time.Date(ts.UTC().Year(), ts.UTC().Month(), ts.UTC().Day(), settlementHourUTC, 0, 0, 0, time.UTC)
	minutesToClose := settle.Sub(ts.UTC()).Minutes()
	if minutesToClose < float64(m.cfg.NoNewRiskMinutesToClose) {
		return false
	}

	switch decision {
	case regime.Condor:
		return m.activePut < m.cfg.MaxConcurrentPerSide && m.activeCall < m.cfg.MaxConcurrentPerSide
	case regime.SingleSidePut:
		return m.activePut < m.cfg.MaxConcurrentPerSide
	case regime.SingleSideCall:
		return m.activeCall < m.cfg.MaxConcurrentPerSide
	default:
		return false
	}
}

// budgetLevel returns the reverse-Fibonacci budget for the current
// consecutive-loss streak, clamped to the ladder's last rung.
func (m *Manager) budgetLevel() float64 {
	idx := m.consecutiveLossDays
	if idx >= len(reverseFibonacciBudget) {
		idx = len(reverseFibonacciBudget) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return reverseFibonacciBudget[idx]
}

// CanAddOrder checks a about-to-be-placed order set (one order for a
// single-sided decision, two sharing a correlation id for a Condor)
// against the reverse-Fibonacci per-trade budget.
func (m *Manager) CanAddOrder(ts time.Time, decision regime.Decision, orders []spread.Order) bool {
	m.ensureDay(ts)
	if len(orders) == 0 {
		return false
	}

	var worstCaseLoss float64
	if decision == regime.Condor {
		width := orders[0].Width
		var totalCredit float64
		for _, o := range orders {
			totalCredit += o.Credit
		}
		worstCaseLoss = width*100 - totalCredit
	} else {
		o := orders[0]
		worstCaseLoss = (o.Width - o.Credit) * 100
	}

	realizedLossSoFar := math.Max(0, -m.dailyRealizedPnl)
	allowance := math.Max(0, m.budgetLevel()-realizedLossSoFar)
	return worstCaseLoss <= allowance
}

// RegisterOpen increments the per-side active count for a newly opened
// position, identified by the right of its short leg.
func (m *Manager) RegisterOpen(ts time.Time, order spread.Order) {
	m.ensureDay(ts)
	m.adjustSide(order.Short.Right, 1)
}

// RegisterClose decrements the per-side active count (floored at 0) and
// folds pnl into the day's realized total.
func (m *Manager) RegisterClose(ts time.Time, order spread.Order, pnl float64) {
	m.ensureDay(ts)
	m.adjustSide(order.Short.Right, -1)
	m.dailyRealizedPnl += pnl
}

func (m *Manager) adjustSide(right data.Right, delta int) {
	switch right {
	case data.Put:
		m.activePut += delta
		if m.activePut < 0 {
			m.activePut = 0
		}
	case data.Call:
		m.activeCall += delta
		if m.activeCall < 0 {
			m.activeCall = 0
		}
	}
}

// DailyRealizedPnl reports the running realized P&L for the current
// trading day (post the most recent ensureDay call).
func (m *Manager) DailyRealizedPnl() float64 { return m.dailyRealizedPnl }

// ConsecutiveLossDays reports the current streak used to index the
// reverse-Fibonacci budget.
func (m *Manager) ConsecutiveLossDays() int { return m.consecutiveLossDays }

// ActiveCounts reports the current per-side open-position counts.
func (m *Manager) ActiveCounts() (puts, calls int) { return m.activePut, m.activeCall }
