// Package quotes synthesizes a same-day option chain from an underlying
// spot price and a pair of IV proxy series, producing tick-aligned
// bid/ask quotes with skew and time-to-close spread widening.
package quotes

import (
	"fmt"
	"math"
	"time"

	"github.com/oddte/backtest-core/internal/data"
	"github.com/oddte/backtest-core/internal/logger"
	"github.com/oddte/backtest-core/internal/pricing"
)

// SettlementHourUTC is the 0DTE cash-settlement hour (16:00 ET = 21:00 UTC).
const SettlementHourUTC = 21

// strikeOffsetRange bounds the integer strike offsets around ATM considered
// when building the chain (-15..+15 inclusive).
const strikeOffsetRange = 15

// IVProxySource supplies the short-dated and 30-day IV proxy series (e.g.
// VIX9D/VIX analogues) the synthesizer skews its surface from. Ingestion of
// the underlying series is an external collaborator; this interface is the
// only contract the synthesizer depends on.
type IVProxySource interface {
	// ShortIVOnOrBefore returns the most recent short-dated IV proxy value
	// on or before date, and whether one exists at all.
	ShortIVOnOrBefore(date time.Time) (float64, bool)
	// ThirtyIVOnOrBefore returns the most recent 30-day IV proxy value on
	// or before date, and whether one exists at all.
	ThirtyIVOnOrBefore(date time.Time) (float64, bool)
}

// Synthesizer implements data.OptionsProvider by computing Black-Scholes
// prices and deltas over a synthetic, skewed IV surface.
type Synthesizer struct {
	Bars data.BarProvider
	IV   IVProxySource
}

// NewSynthesizer builds a quote synthesizer over the given spot and IV proxy
// sources.
func NewSynthesizer(bars data.BarProvider, iv IVProxySource) *Synthesizer {
	return &Synthesizer{Bars: bars, IV: iv}
}

// TodayExpiry returns the same-calendar-date expiry for a 0DTE chain
// quoted at ts, truncated to UTC midnight.
func (s *Synthesizer) TodayExpiry(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func settlementTime(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), SettlementHourUTC, 0, 0, 0, time.UTC)
}

// IVProxies returns the (short, thirty) IV proxy pair effective at ts,
// applying the most-recent-on-or-before fallback and, when only one series
// has a value, using it for both.
func (s *Synthesizer) IVProxies(ts time.Time) (float64, float64, error) {
	shortIV, shortOK := s.IV.ShortIVOnOrBefore(ts)
	thirtyIV, thirtyOK := s.IV.ThirtyIVOnOrBefore(ts)

	switch {
	case shortOK && thirtyOK:
		return shortIV, thirtyIV, nil
	case shortOK:
		return shortIV, shortIV, nil
	case thirtyOK:
		return thirtyIV, thirtyIV, nil
	default:
		return 0, 0, fmt.Errorf("quotes: no iv proxy on or before %s", ts.Format(time.RFC3339))
	}
}

// QuotesAt synthesizes the full same-day chain at ts. An empty, nil-error
// result means "no trade today" (spot unavailable or non-positive): a
// skip signal for the caller's bar, never a fatal condition.
func (s *Synthesizer) QuotesAt(ts time.Time) ([]data.OptionQuote, error) {
	spot, err := s.Bars.Spot(ts)
	if err != nil {
		logger.Debugf("quotes: spot lookup failed at %s: %v", ts.Format(time.RFC3339), err)
		return nil, nil
	}
	if spot <= 0 {
		return nil, nil
	}
	// SPX -> XSP-style scale adjustment.
	if spot > 1000 {
		spot /= 10
	}

	settle := settlementTime(ts)
	tYears := math.Max(settle.Sub(ts).Hours()/24/365, pricing.MinT)
	minutesToSettle := settle.Sub(ts).Minutes()

	shortIV, _, err := s.IVProxies(ts)
	if err != nil {
		logger.Debugf("quotes: iv proxy lookup failed at %s: %v", ts.Format(time.RFC3339), err)
		return nil, nil
	}
	baseIV := clamp(shortIV/100, 0.05, 0.80)

	expiry := s.TodayExpiry(ts)
	atm := math.Round(spot)

	out := make([]data.OptionQuote, 0, (2*strikeOffsetRange+1)*2)
	for offset := -strikeOffsetRange; offset <= strikeOffsetRange; offset++ {
		strike := atm + float64(offset)
		if strike <= 0 {
			continue
		}
		for _, right := range []data.Right{data.Put, data.Call} {
			q := s.buildQuote(ts, expiry, strike, right, spot, baseIV, tYears, minutesToSettle)
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *Synthesizer) buildQuote(ts, expiry time.Time, strike float64, right data.Right, spot, baseIV, tYears, minutesToSettle float64) data.OptionQuote {
	moneyness := math.Abs(strike-spot) / spot

	var iv float64
	isCall := right == data.Call
	if isCall {
		iv = baseIV * (1 + moneyness)
	} else {
		iv = baseIV * (1 + 2*moneyness)
	}
	iv = clamp(iv, pricing.MinIV, pricing.MaxIV)

	delta := pricing.Delta(isCall, spot, strike, tYears, iv)
	mid := pricing.Price(isCall, spot, strike, tYears, iv)

	bid, ask := buildBidAsk(mid, minutesToSettle)
	mid = (bid + ask) / 2

	return data.OptionQuote{
		Timestamp: ts,
		Expiry:    expiry,
		Strike:    strike,
		Right:     right,
		Bid:       bid,
		Ask:       ask,
		Mid:       mid,
		Delta:     delta,
		IV:        iv,
	}
}

// buildBidAsk derives tick-aligned bid/ask around mid per the spread
// policy: wider relative spreads for cheaper options, and 1.5x widening
// inside the last 40 minutes before settlement.
func buildBidAsk(mid, minutesToSettle float64) (bid, ask float64) {
	var spreadPct float64
	switch {
	case mid >= 1.00:
		spreadPct = 0.05
	case mid >= 0.25:
		spreadPct = 0.10
	default:
		spreadPct = 0.20
	}
	if minutesToSettle < 40 {
		spreadPct *= 1.5
	}

	half := mid * spreadPct / 2
	bid = math.Max(0.05, floorToTick(mid-half))
	ask = math.Max(bid+data.Tick, ceilToTick(mid+half))
	return bid, ask
}

func floorToTick(v float64) float64 {
	return math.Floor(v/data.Tick) * data.Tick
}

func ceilToTick(v float64) float64 {
	return math.Ceil(v/data.Tick) * data.Tick
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
