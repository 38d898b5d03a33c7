// Package backtest walks a bar stream in session order, refreshing and
// exiting open positions, making cadence-gated entry decisions, and
// orchestrating the pricing, regime, spread, risk, and fill subsystems
// across simulated time.
package backtest

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oddte/backtest-core/internal/config"
	"github.com/oddte/backtest-core/internal/data"
	"github.com/oddte/backtest-core/internal/fill"
	"github.com/oddte/backtest-core/internal/logger"
	"github.com/oddte/backtest-core/internal/regime"
	"github.com/oddte/backtest-core/internal/risk"
	"github.com/oddte/backtest-core/internal/spread"
)

const (
	sessionStartMinute = 14*60 + 30 // 14:30 UTC
	sessionEndMinute   = 21 * 60    // 21:00 UTC
)

// TradeResult is one closed position's record, shaped for both the run
// report and the trade log store.
type TradeResult struct {
	CorrelationID  uuid.UUID
	Symbol         string
	Expiry         time.Time
	Right          data.Right
	Strike         float64
	SpreadType     string
	MaxLoss        float64
	EntryTimestamp time.Time
	ExitTimestamp  time.Time
	EntryPrice     float64
	ExitPrice      float64
	ExitPnl        float64
	ExitReason     string
	MarketRegime   string
}

// TradeStore is the durable append/query surface the loop writes closed
// trades to. Defined narrowly here so the loop doesn't depend on the
// store package's on-disk format.
type TradeStore interface {
	Append(TradeResult) error
}

// OpenPosition is a live SpreadOrder the loop is managing until exit.
type OpenPosition struct {
	Order          spread.Order
	Decision       regime.Decision
	EntryPrice     float64
	EntryTimestamp time.Time
	RegimeScore    int
}

// Loop couples the regime scorer, spread builder, risk manager, and fill
// engine across a bar stream. It is single-threaded and holds no
// concurrency primitives: the backtest advances a simulated clock
// bar-by-bar, strictly sequentially.
type Loop struct {
	Cfg     config.Config
	Bars    data.BarProvider
	Cal     data.CalendarProvider
	Options data.OptionsProvider
	Scorer  *regime.Scorer
	Builder *spread.Builder
	Risk    *risk.Manager
	Fill    *fill.Engine
	Store   TradeStore

	exitCfg fill.ExitConfig

	active         []*OpenPosition
	lastDecisionTS time.Time
	hasDecision    bool

	trades     []TradeResult
	errorCount map[string]int
	errorsVec  *prometheus.CounterVec
}

// New validates cfg and wires a Loop from its collaborators. reg may be
// nil; when non-nil, the loop's caught-error counts by category are
// exposed as backtest_errors_total{category}.
func New(cfg config.Config, bars data.BarProvider, cal data.CalendarProvider, options data.OptionsProvider, scorer *regime.Scorer, builder *spread.Builder, riskMgr *risk.Manager, fillEngine *fill.Engine, store TradeStore, reg prometheus.Registerer) (*Loop, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	errorsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oddte",
		Subsystem: "backtest",
		Name:      "errors_total",
		Help:      "Caught, non-fatal backtest errors by category.",
	}, []string{"category"})
	if reg != nil {
		reg.MustRegister(errorsVec)
	}
	return &Loop{
		Cfg:     cfg,
		Bars:    bars,
		Cal:     cal,
		Options: options,
		Scorer:  scorer,
		Builder: builder,
		Risk:    riskMgr,
		Fill:    fillEngine,
		Store:   store,
		exitCfg: fill.ExitConfig{
			CreditMultiple:      cfg.Stops.CreditMultiple,
			DeltaBreach:         cfg.Stops.DeltaBreach,
			ExitHalfSpreadTicks: cfg.Slippage.ExitHalfSpreadTicks,
			Tick:                data.Tick,
		},
		errorCount: make(map[string]int),
		errorsVec:  errorsVec,
	}, nil
}

func inSession(ts time.Time) bool {
	u := ts.UTC()
	sinceMidnight := u.Sub(time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC))
	return sinceMidnight >= sessionStartMinute*time.Minute && sinceMidnight <= sessionEndMinute*time.Minute
}

// Run walks bars in order, restricted to session bars, and returns the
// closed-trade ledger plus the count of caught (non-fatal) errors by
// category.
func (l *Loop) Run(bars []data.Bar) ([]TradeResult, map[string]int, error) {
	var sessionBars []data.Bar
	for _, b := range bars {
		if inSession(b.Timestamp) {
			sessionBars = append(sessionBars, b)
		}
	}

	for i, bar := range sessionBars {
		l.manageOpenPositions(bar.Timestamp)
		l.applyPMSettlement(bar.Timestamp)
		l.considerDecision(bar.Timestamp)

		if i == len(sessionBars)-1 {
			l.forceCloseAll(bar.Timestamp, fill.ForcedExpiryClose())
		}
	}

	return l.trades, l.errorCount, nil
}

func (l *Loop) recordError(category string, err error) {
	l.errorCount[category]++
	if l.errorsVec != nil {
		l.errorsVec.WithLabelValues(category).Inc()
	}
	logger.Errorf("backtest: %s error: %v", category, err)
}

// manageOpenPositions refreshes each active position's legs and consults
// the exit test, closing any position that trips it.
func (l *Loop) manageOpenPositions(ts time.Time) {
	var stillActive []*OpenPosition
	for _, pos := range l.active {
		quotes, err := l.Options.QuotesAt(ts)
		if err != nil {
			l.recordError("data", err)
			stillActive = append(stillActive, pos)
			continue
		}
		shortQ, shortOK := findQuote(quotes, pos.Order.Short.Strike, pos.Order.Short.Right)
		longQ, longOK := findQuote(quotes, pos.Order.Long.Strike, pos.Order.Long.Right)
		if !shortOK || !longOK {
			stillActive = append(stillActive, pos)
			continue
		}

		spreadValue := shortQ.Mid - longQ.Mid
		if spreadValue < 0 {
			spreadValue = 0
		}

		check := fill.EvaluateExit(pos.EntryPrice, spreadValue, shortQ.Delta, l.exitCfg)
		if check.Exit {
			l.closePosition(pos, ts, check.Price, check.Reason)
			continue
		}
		stillActive = append(stillActive, pos)
	}
	l.active = stillActive
}

func findQuote(quotes []data.OptionQuote, strike float64, right data.Right) (data.OptionQuote, bool) {
	for _, q := range quotes {
		if q.Strike == strike && q.Right == right {
			return q, true
		}
	}
	return data.OptionQuote{}, false
}

// applyPMSettlement force-closes any remaining position inside the
// 20:59-21:01 UTC settlement window.
func (l *Loop) applyPMSettlement(ts time.Time) {
	if !fill.InPMSettlementWindow(ts) {
		return
	}
	l.forceCloseAll(ts, fill.ForcedPMSettlementClose())
}

func (l *Loop) forceCloseAll(ts time.Time, check fill.ExitCheck) {
	for _, pos := range l.active {
		l.closePosition(pos, ts, check.Price, check.Reason)
	}
	l.active = nil
}

func (l *Loop) closePosition(pos *OpenPosition, ts time.Time, exitPrice float64, reason string) {
	fees := 2 * (l.Cfg.Fees.CommissionPerContract + l.Cfg.Fees.ExchangeFeesPerContract)
	if reason == fill.ReasonPMSettlement {
		fees = l.Cfg.Fees.CommissionPerContract + l.Cfg.Fees.ExchangeFeesPerContract
	}
	pnl := (pos.EntryPrice-exitPrice)*100 - fees

	result := TradeResult{
		CorrelationID:  pos.Order.CorrelationID,
		Symbol:         pos.Order.Underlying,
		Expiry:         pos.Order.Short.Expiry,
		Right:          pos.Order.Short.Right,
		Strike:         pos.Order.Short.Strike,
		SpreadType:     string(pos.Decision),
		MaxLoss:        (pos.Order.Width - pos.Order.Credit) * 100,
		EntryTimestamp: pos.EntryTimestamp,
		ExitTimestamp:  ts,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      exitPrice,
		ExitPnl:        pnl,
		ExitReason:     reason,
		MarketRegime:   string(pos.Decision),
	}
	l.trades = append(l.trades, result)

	if l.Store != nil {
		if err := l.Store.Append(result); err != nil {
			l.recordError("store", err)
		}
	}
	l.Risk.RegisterClose(ts, pos.Order, pnl)
}

// considerDecision fires the scorer/builder/risk/fill pipeline when the
// decision cadence has elapsed.
func (l *Loop) considerDecision(ts time.Time) {
	if l.hasDecision && ts.Sub(l.lastDecisionTS) < time.Duration(l.Cfg.CadenceSeconds)*time.Second {
		return
	}
	l.lastDecisionTS = ts
	l.hasDecision = true

	result, err := l.Scorer.Score(ts)
	if err != nil {
		l.recordError("data", err)
		return
	}
	decision := regime.Decide(result)
	if decision == regime.NoGo {
		return
	}
	if !l.Risk.CanAdd(ts, decision) {
		return
	}

	orders, err := l.Builder.Build(decision, ts)
	if err != nil {
		l.recordError("data", err)
		return
	}
	if len(orders) == 0 {
		return
	}
	if !l.Risk.CanAddOrder(ts, decision, orders) {
		return
	}

	for _, order := range orders {
		entryPrice, ok := l.tryEnter(ts, order)
		if !ok {
			continue
		}
		l.active = append(l.active, &OpenPosition{
			Order:          order,
			Decision:       decision,
			EntryPrice:     entryPrice,
			EntryTimestamp: ts,
		})
		l.Risk.RegisterOpen(ts, order)
	}
}

// tryEnter simulates the net-credit entry fill for one leg-pair order. A
// synthetic execution-side quote is built from the combined bid/ask width
// of the two legs since the spread itself, not either individual leg, is
// what's being sold for credit.
func (l *Loop) tryEnter(ts time.Time, order spread.Order) (float64, bool) {
	legWidth := (order.Short.Ask - order.Short.Bid) + (order.Long.Ask - order.Long.Bid)
	half := legWidth / 2
	bid := order.Credit - half
	if bid < data.Tick {
		bid = data.Tick
	}
	ask := order.Credit + half

	q := fill.Quote{Bid: bid, Ask: ask, Mid: order.Credit, TopOfBookSize: 1, Timestamp: ts}
	execOrder := fill.Order{ID: order.ID.String(), Side: fill.Sell, Quantity: 1}

	result := l.Fill.SimulateFill(execOrder, q, l.marketState(ts))
	if result.Failed {
		return 0, false
	}
	return result.AvgFillPrice, true
}

func (l *Loop) marketState(ts time.Time) fill.MarketState {
	state := fill.MarketState{}
	if evt, err := l.Cal.NextEventAfter(ts); err == nil && evt != nil {
		state.IsEventRisk = evt.Timestamp.Sub(ts) <= time.Hour && evt.Timestamp.Sub(ts) >= 0
	}
	return state
}
