package fill

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oddte/backtest-core/internal/logger"
)

const oneTick = 0.01

// ChildFill is one simulated partial execution of an Order.
type ChildFill struct {
	Price                float64
	Quantity             float64
	LatencyMS            float64
	MidAttempt           bool
	MidAccepted          bool
	Slippage             float64
	AdverseSelectionCost float64
	SizePenaltyCost      float64
}

// FillResult aggregates an order's child fills. Failed is set when no
// children could be produced; the loop treats that as "entry failed",
// never as an error.
type FillResult struct {
	Children            []ChildFill
	AvgFillPrice        float64
	WithinNBBO          bool
	MidOrBetter         bool
	SlippagePerContract float64
	TotalExecutionCost  float64
	Failed              bool
	FailureReason       string
}

// Engine simulates fills against a reconstructed NBBO quote. Its
// randomness is driven by a single seeded *rand.Rand so that a fixed
// seed reproduces bit-identical fills across runs.
type Engine struct {
	rng     *rand.Rand
	profile Profile

	mu   sync.Mutex
	days map[string]*DayMetrics

	fillsTotal     *prometheus.CounterVec
	midAcceptedVec *prometheus.CounterVec
	withinNBBOVec  *prometheus.CounterVec
	latencyMSVec   *prometheus.HistogramVec
	notionalVec    *prometheus.CounterVec
}

// NewEngine builds a fill engine seeded for determinism and registers its
// Prometheus collectors against reg (pass prometheus.NewRegistry() per
// run, or prometheus.DefaultRegisterer for a long-lived process).
func NewEngine(seed int64, profile Profile, reg prometheus.Registerer) *Engine {
	e := &Engine{
		rng:     rand.New(rand.NewSource(seed)),
		profile: profile,
		days:    make(map[string]*DayMetrics),
		fillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddte",
			Subsystem: "fill",
			Name:      "fills_total",
			Help:      "Total simulated child fills, by trading day.",
		}, []string{"day"}),
		midAcceptedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddte",
			Subsystem: "fill",
			Name:      "mid_accepted_total",
			Help:      "Child fills accepted at the mid price, by trading day.",
		}, []string{"day"}),
		withinNBBOVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddte",
			Subsystem: "fill",
			Name:      "within_nbbo_total",
			Help:      "Order fills landing within the quoted NBBO, by trading day.",
		}, []string{"day"}),
		latencyMSVec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oddte",
			Subsystem: "fill",
			Name:      "latency_ms",
			Help:      "Simulated per-child fill latency in milliseconds.",
			Buckets:   prometheus.LinearBuckets(10, 20, 12),
		}, []string{"day"}),
		notionalVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oddte",
			Subsystem: "fill",
			Name:      "notional_total",
			Help:      "Total simulated fill notional (price * quantity), by trading day.",
		}, []string{"day"})}

	if reg != nil {
		reg.MustRegister(e.fillsTotal, e.midAcceptedVec, e.withinNBBOVec, e.latencyMSVec, e.notionalVec)
	}
	return e
}

// DayMetrics is the per-trading-day execution-metrics record, returned
// to callers (e.g. the run report) independent of the Prometheus
// side-channel above.
type DayMetrics struct {
	TotalFills    int
	MidOrBetter   int
	WithinNBBO    int
	meanLatencyMS float64
	TotalNotional float64
}

// MeanLatencyMS returns the running mean latency across this day's fills.
func (d *DayMetrics) MeanLatencyMS() float64 { return d.meanLatencyMS }

func (e *Engine) dayMetrics(ts time.Time) *DayMetrics {
	key := ts.UTC().Format("2006-01-02")
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.days[key]
	if !ok {
		d = &DayMetrics{}
		e.days[key] = d
	}
	return d
}

// DayMetricsFor returns a snapshot of the accumulated metrics for the
// trading day containing ts.
func (e *Engine) DayMetricsFor(ts time.Time) DayMetrics {
	return *e.dayMetrics(ts)
}

// SimulateFill splits order across participation-limited children and
// simulates each child's execution against quote.
func (e *Engine) SimulateFill(order Order, quote Quote, state MarketState) FillResult {
	tobSize := quote.TopOfBookSize
	if tobSize < 1 {
		tobSize = 1
	}

	children := e.splitChildren(order.Quantity, tobSize)
	if len(children) == 0 {
		logger.Debugf("fill: %s order %s has no marketable quantity at %s", order.Side, order.ID, quote.Timestamp.Format(time.RFC3339))
		return FillResult{Failed: true, FailureReason: "no marketable quantity"}
	}

	var (
		fills              []ChildFill
		weightedPriceSum   float64
		weightedLatencySum float64
		totalQty           float64
		totalSlippage      float64
		totalCost          float64
	)

	originalSpread := quote.Spread()
	day := e.dayMetrics(quote.Timestamp)
	dayKey := quote.Timestamp.UTC().Format("2006-01-02")

	for _, qty := range children {
		cf := e.simulateChild(order, qty, quote, state, originalSpread, tobSize)
		fills = append(fills, cf)

		weightedPriceSum += cf.Price * qty
		weightedLatencySum += cf.LatencyMS * qty
		totalQty += qty
		totalSlippage += cf.Slippage * qty
		totalCost += (cf.Slippage + cf.AdverseSelectionCost + cf.SizePenaltyCost) * qty

		day.TotalNotional += cf.Price * qty
		e.notionalVec.WithLabelValues(dayKey).Add(cf.Price * qty)
		e.latencyMSVec.WithLabelValues(dayKey).Observe(cf.LatencyMS)
		if cf.MidAccepted {
			e.midAcceptedVec.WithLabelValues(dayKey).Inc()
		}
	}

	avgFill := weightedPriceSum / totalQty
	withinNBBO := avgFill >= quote.Bid-oneTick && avgFill <= quote.Ask+oneTick
	midOrBetter := avgFill >= quote.Mid

	avgLatency := weightedLatencySum / totalQty
	day.TotalFills++
	day.meanLatencyMS += (avgLatency - day.meanLatencyMS) / float64(day.TotalFills)
	if withinNBBO {
		day.WithinNBBO++
		e.withinNBBOVec.WithLabelValues(dayKey).Inc()
	}
	if midOrBetter {
		day.MidOrBetter++
	}
	e.fillsTotal.WithLabelValues(dayKey).Inc()

	return FillResult{
		Children:            fills,
		AvgFillPrice:        avgFill,
		WithinNBBO:          withinNBBO,
		MidOrBetter:         midOrBetter,
		SlippagePerContract: totalSlippage / totalQty,
		TotalExecutionCost:  totalCost,
	}
}

// splitChildren implements the participation-split: a single child if the
// cap is non-binding, otherwise equal-size children with the remainder on
// the last one.
func (e *Engine) splitChildren(quantity, tobSize float64) []float64 {
	if quantity <= 0 {
		return nil
	}
	maxChild := math.Floor(tobSize * e.profile.MaxTOBParticipation)
	if maxChild >= quantity || maxChild <= 0 {
		return []float64{quantity}
	}

	var children []float64
	remaining := quantity
	for remaining > maxChild {
		children = append(children, maxChild)
		remaining -= maxChild
	}
	if remaining > 0 {
		children = append(children, remaining)
	}
	return children
}

func (e *Engine) simulateChild(order Order, qty float64, quote Quote, state MarketState, originalSpread, tobSize float64) ChildFill {
	spreadCents := originalSpread * 100
	pMid := e.profile.MidFillProbability(spreadCents)
	if state.IsEventRisk {
		pMid *= 0.5
	}
	attemptMid := e.bernoulli(pMid)

	latency := e.truncatedLatency()

	updatedBid, updatedAsk := e.perturb(quote.Bid, quote.Ask, quote.Mid, state.StressLevel)
	updatedSpread := updatedAsk - updatedBid
	updatedMid := (updatedBid + updatedAsk) / 2

	cf := ChildFill{Quantity: qty, LatencyMS: latency, MidAttempt: attemptMid}

	if attemptMid && updatedSpread <= originalSpread && e.bernoulli(pMid) {
		cf.Price = updatedMid
		cf.MidAccepted = true
		cf.Price = math.Max(cf.Price, oneTick)
		return cf
	}

	var touch float64
	if order.Side == Buy {
		touch = updatedAsk
	} else {
		touch = updatedBid
	}

	slip := math.Max(e.profile.SlippageFloorPerContract, e.profile.SlippageFloorPctOfSpread*updatedSpread)
	if order.Side == Buy {
		touch += slip
	} else {
		touch -= slip
	}
	cf.Slippage = slip

	movedAgainst := (order.Side == Buy && updatedAsk > quote.Ask) || (order.Side == Sell && updatedBid < quote.Bid)
	if movedAgainst {
		cf.AdverseSelectionCost = e.profile.AdverseBps / 10000 * originalSpread
	}
	if qty > tobSize {
		cf.SizePenaltyCost = (qty/tobSize - 1) * e.profile.SizePenaltyBps / 10000 * originalSpread
	}
	if order.Side == Buy {
		touch += cf.AdverseSelectionCost + cf.SizePenaltyCost
	} else {
		touch -= cf.AdverseSelectionCost + cf.SizePenaltyCost
	}

	touch = math.Max(touch, oneTick)
	cf.Price = touch
	return cf
}

// WorstCaseFill returns the touch price adjusted by every penalty term at
// its worst allowable magnitude: the slippage floor, a full adverse move,
// the size penalty for the whole order, and the maximum 1%-of-mid quote
// perturbation. Risk gates can size against this without running the
// stochastic simulation.
func (e *Engine) WorstCaseFill(order Order, quote Quote) float64 {
	spread := quote.Spread()
	tobSize := quote.TopOfBookSize
	if tobSize < 1 {
		tobSize = 1
	}

	slip := math.Max(e.profile.SlippageFloorPerContract, e.profile.SlippageFloorPctOfSpread*spread)
	adverse := e.profile.AdverseBps / 10000 * spread
	var sizePenalty float64
	if order.Quantity > tobSize {
		sizePenalty = (order.Quantity/tobSize - 1) * e.profile.SizePenaltyBps / 10000 * spread
	}
	perturb := quote.Mid * 0.01

	total := slip + adverse + sizePenalty + perturb
	if order.Side == Buy {
		return math.Max(quote.Ask+total, oneTick)
	}
	return math.Max(quote.Bid-total, oneTick)
}

func (e *Engine) bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return e.rng.Float64() < p
}

// truncatedLatency samples latency ~ N(mean, 50ms), truncated at 10ms.
func (e *Engine) truncatedLatency() float64 {
	sample := e.rng.NormFloat64()*50 + e.profile.LatencyMeanMS
	if sample < 10 {
		sample = 10
	}
	return sample
}

// perturb applies a zero-mean shift proportional to stress level (at most
// 1% of mid at stress=1) to both sides of the quote, guaranteeing
// ask >= bid + one tick.
func (e *Engine) perturb(bid, ask, mid, stress float64) (float64, float64) {
	if stress < 0 {
		stress = 0
	}
	if stress > 1 {
		stress = 1
	}
	maxShift := mid * 0.01 * stress
	shift := (e.rng.Float64()*2 - 1) * maxShift

	newBid := bid + shift
	newAsk := ask + shift
	if newAsk < newBid+oneTick {
		newAsk = newBid + oneTick
	}
	if newBid < oneTick {
		newBid = oneTick
		if newAsk < newBid+oneTick {
			newAsk = newBid + oneTick
		}
	}
	return newBid, newAsk
}
