// Package regime classifies the prevailing market regime at a decision
// timestamp into an additive integer score plus calm/trend flags, and
// maps that tuple onto a trade decision.
package regime

import (
	"fmt"
	"math"
	"time"

	"github.com/Knetic/govaluate"

	"github.com/oddte/backtest-core/internal/data"
)

// Decision is the tagged outcome of applying the decision rule to a score.
type Decision string

const (
	NoGo           Decision = "NoGo"
	Condor         Decision = "Condor"
	SingleSidePut  Decision = "SingleSidePut"
	SingleSideCall Decision = "SingleSideCall"
)

// IVProxySource supplies short/30-day IV proxies for the stress term.
// Structurally identical to quotes.IVProxySource; kept as its own
// declaration so this package doesn't need to import quotes just to
// accept the same shape of collaborator.
type IVProxySource interface {
	ShortIVOnOrBefore(date time.Time) (float64, bool)
	ThirtyIVOnOrBefore(date time.Time) (float64, bool)
}

// Weights configures the additive scoring rule. DefaultWeights supplies
// the standard values. The scorer uses every field as given: a zero-valued
// field is not replaced by its default.
type Weights struct {
	BlockoutMinutes    int     // event proximity window that trips the event penalty
	EventPenalty       int     // score delta when an event is within BlockoutMinutes
	IVStressRatio      float64 // short_iv/thirty_iv ratio that trips the stress penalty
	IVStressPenalty    int     // score delta under IV stress
	CalmBonus          int     // score delta when the calm flag is set
	TrendBonus         int     // score delta when a trend flag matches its direction
	CalmRatioThreshold float64 // atr20/trueRange ratio at/above which the bar is "calm"
	VWAPWindow         time.Duration
	VWAPEpsilon        float64
}

// DefaultWeights returns the weights used when a caller doesn't supply its
// own configuration.
func DefaultWeights() Weights {
	return Weights{
		BlockoutMinutes:    60,
		EventPenalty:       -2,
		IVStressRatio:      1.1,
		IVStressPenalty:    -1,
		CalmBonus:          1,
		TrendBonus:         2,
		CalmRatioThreshold: 1.0,
		VWAPWindow:         30 * time.Minute,
		VWAPEpsilon:        0.05,
	}
}

// Scorer computes regime scores. It is pure aside from read-only calls
// into its collaborators: no state is retained between calls.
type Scorer struct {
	Bars    data.BarProvider
	Cal     data.CalendarProvider
	IV      IVProxySource
	Weights Weights

	formula *govaluate.EvaluableExpression
}

// NewScorer builds a scorer with the given collaborators and weights. If
// formula is non-empty, it is compiled as a govaluate expression and used
// in place of the built-in additive rule (see evalFormula); an
// invalid expression is a configuration error reported immediately.
func NewScorer(bars data.BarProvider, cal data.CalendarProvider, iv IVProxySource, weights Weights, formula string) (*Scorer, error) {
	s := &Scorer{Bars: bars, Cal: cal, IV: iv, Weights: weights}
	if formula != "" {
		expr, err := govaluate.NewEvaluableExpression(formula)
		if err != nil {
			return nil, fmt.Errorf("regime: invalid score formula: %w", err)
		}
		s.formula = expr
	}
	return s, nil
}

// Result is the full output of a Score call, plus the raw signals an
// override formula or a caller's diagnostics might want.
type Result struct {
	Score int
	Calm  bool
	Up    bool
	Dn    bool

	ATR20           float64
	TrueRange       float64
	Spot            float64
	VWAPNow         float64
	VWAPSlope       float64
	MinutesToEvent  float64
	ShortIV         float64
	ThirtyIV        float64
	IVStressTripped bool
	EventTripped    bool
}

// Score evaluates the regime at ts. A data error from any collaborator is
// non-fatal to the caller's bar loop; Score surfaces it so the caller can
// skip the bar rather than trade on partial signals.
func (s *Scorer) Score(ts time.Time) (Result, error) {
	var r Result
	w := s.Weights

	atr, err := s.Bars.ATR20(ts)
	if err != nil {
		return r, fmt.Errorf("regime: atr20: %w", err)
	}
	trueRange, err := s.trueRange(ts)
	if err != nil {
		return r, fmt.Errorf("regime: true range: %w", err)
	}
	spot, err := s.Bars.Spot(ts)
	if err != nil {
		return r, fmt.Errorf("regime: spot: %w", err)
	}
	vwapNow, err := s.Bars.VWAP(ts, w.VWAPWindow)
	if err != nil {
		return r, fmt.Errorf("regime: vwap: %w", err)
	}
	vwapPrev, err := s.Bars.VWAP(ts.Add(-w.VWAPWindow), w.VWAPWindow)
	if err != nil {
		return r, fmt.Errorf("regime: vwap prior window: %w", err)
	}

	r.ATR20 = atr
	r.TrueRange = trueRange
	r.Spot = spot
	r.VWAPNow = vwapNow
	r.VWAPSlope = vwapNow - vwapPrev

	if trueRange <= 0 {
		r.Calm = true
	} else {
		r.Calm = atr/trueRange >= w.CalmRatioThreshold
	}
	r.Up = spot > vwapNow+w.VWAPEpsilon && r.VWAPSlope > 0
	r.Dn = spot < vwapNow-w.VWAPEpsilon && r.VWAPSlope < 0

	score := 0

	if evt, err := s.Cal.NextEventAfter(ts); err != nil {
		return r, fmt.Errorf("regime: next event: %w", err)
	} else if evt != nil {
		minutes := evt.Timestamp.Sub(ts).Minutes()
		r.MinutesToEvent = minutes
		if minutes >= 0 && minutes <= float64(w.BlockoutMinutes) {
			score += w.EventPenalty
			r.EventTripped = true
		}
	}

	if s.IV != nil {
		shortIV, shortOK := s.IV.ShortIVOnOrBefore(ts)
		thirtyIV, thirtyOK := s.IV.ThirtyIVOnOrBefore(ts)
		if shortOK && thirtyOK {
			r.ShortIV, r.ThirtyIV = shortIV, thirtyIV
			if thirtyIV > 0 && shortIV > thirtyIV*w.IVStressRatio {
				score += w.IVStressPenalty
				r.IVStressTripped = true
			}
		}
	}

	if r.Calm {
		score += w.CalmBonus
	}
	if r.Up || r.Dn {
		score += w.TrendBonus
	}

	if s.formula != nil {
		override, err := s.evalFormula(r)
		if err != nil {
			return r, err
		}
		score = override
	}

	r.Score = score
	return r, nil
}

// evalFormula evaluates the optional override expression against the
// computed signals. Supported variables: ATR20, TrueRange, Spot, VWAPNow,
// VWAPSlope, MinutesToEvent, ShortIV, ThirtyIV, Calm, Up, Dn.
func (s *Scorer) evalFormula(r Result) (int, error) {
	params := map[string]interface{}{
		"ATR20":          r.ATR20,
		"TrueRange":      r.TrueRange,
		"Spot":           r.Spot,
		"VWAPNow":        r.VWAPNow,
		"VWAPSlope":      r.VWAPSlope,
		"MinutesToEvent": r.MinutesToEvent,
		"ShortIV":        r.ShortIV,
		"ThirtyIV":       r.ThirtyIV,
		"Calm":           r.Calm,
		"Up":             r.Up,
		"Dn":             r.Dn,
	}
	out, err := s.formula.Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("regime: score formula evaluation: %w", err)
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("regime: score formula must evaluate to a number, got %T", out)
	}
	return int(math.Round(f)), nil
}

// trueRange computes max(h-l, |h-prevClose|, |l-prevClose|) for the bar
// containing ts against the prior bar's close.
func (s *Scorer) trueRange(ts time.Time) (float64, error) {
	interval := s.Bars.BarInterval()
	lookback := interval * 3
	if lookback <= 0 {
		lookback = time.Hour
	}
	bars, err := s.Bars.Bars(ts.Add(-lookback), ts)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("no bars on or before %s", ts.Format(time.RFC3339))
	}
	cur := bars[len(bars)-1]
	if len(bars) == 1 {
		return cur.High - cur.Low, nil
	}
	prevClose := bars[len(bars)-2].Close
	tr := cur.High - cur.Low
	if v := math.Abs(cur.High - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(cur.Low - prevClose); v > tr {
		tr = v
	}
	return tr, nil
}

// Decide applies the fixed decision rule to a scored result.
func Decide(r Result) Decision {
	switch {
	case r.Score <= -1:
		return NoGo
	case r.Calm && r.Score >= 0:
		return Condor
	case r.Up && r.Score >= 2:
		return SingleSideCall
	case r.Dn && r.Score >= 2:
		return SingleSidePut
	default:
		return NoGo
	}
}
