// Package spread translates a regime decision into concrete two-leg
// credit-spread orders: short leg by delta band, long leg by configured
// width, credit computed conservatively from the quoted touch.
package spread

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oddte/backtest-core/internal/data"
	"github.com/oddte/backtest-core/internal/regime"
)

// Leg is one side of a two-leg order.
type Leg struct {
	Strike float64
	Right  data.Right
	Expiry time.Time
	Bid    float64
	Ask    float64
	Delta  float64
}

// Order is an immutable single-sided spread order. A Condor decision
// yields two Orders sharing CorrelationID, one per side, rather than a
// single composite record, so the risk manager and fill engine treat
// every order uniformly.
type Order struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	Timestamp     time.Time
	Underlying    string
	Decision      regime.Decision
	Short         Leg
	Long          Leg
	Width         float64
	Credit        float64
}

// Band is an inclusive [min, max] absolute-delta band.
type Band struct {
	Min float64
	Max float64
}

func (b Band) mid() float64 { return (b.Min + b.Max) / 2 }

// Config parameterizes leg selection. Width tolerances are fractions of
// the target width (default [0.8, 1.25]).
type Config struct {
	CondorBand       Band
	SingleSidedBand  Band
	Width            float64
	WidthToleranceLo float64
	WidthToleranceHi float64
	MinCredit        float64
}

// DefaultConfig returns the standard XSP leg-selection parameters.
func DefaultConfig() Config {
	return Config{
		CondorBand:       Band{Min: 0.07, Max: 0.15},
		SingleSidedBand:  Band{Min: 0.10, Max: 0.20},
		Width:            1.0,
		WidthToleranceLo: 0.8,
		WidthToleranceHi: 1.25,
		MinCredit:        0.05,
	}
}

// Builder constructs orders from same-expiry option chains.
type Builder struct {
	Options    data.OptionsProvider
	Underlying string
	Cfg        Config
}

// NewBuilder builds a spread order builder for the given underlying and
// options chain source.
func NewBuilder(options data.OptionsProvider, underlying string, cfg Config) *Builder {
	return &Builder{Options: options, Underlying: underlying, Cfg: cfg}
}

// Build returns the orders implied by decision at ts, or nil with no
// error when any required leg cannot be constructed. Builder failures
// are a silent no-trade outcome, never an error condition.
func (b *Builder) Build(decision regime.Decision, ts time.Time) ([]Order, error) {
	if decision == regime.NoGo {
		return nil, nil
	}

	quotes, err := b.Options.QuotesAt(ts)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, nil
	}

	switch decision {
	case regime.Condor:
		correlationID := uuid.New()
		put, ok := b.buildSide(quotes, ts, data.Put, b.Cfg.CondorBand, decision, correlationID)
		if !ok {
			return nil, nil
		}
		call, ok := b.buildSide(quotes, ts, data.Call, b.Cfg.CondorBand, decision, correlationID)
		if !ok {
			return nil, nil
		}
		return []Order{put, call}, nil

	case regime.SingleSideCall:
		order, ok := b.buildSide(quotes, ts, data.Call, b.Cfg.SingleSidedBand, decision, uuid.New())
		if !ok {
			return nil, nil
		}
		return []Order{order}, nil

	case regime.SingleSidePut:
		order, ok := b.buildSide(quotes, ts, data.Put, b.Cfg.SingleSidedBand, decision, uuid.New())
		if !ok {
			return nil, nil
		}
		return []Order{order}, nil

	default:
		return nil, nil
	}
}

func (b *Builder) buildSide(quotes []data.OptionQuote, ts time.Time, right data.Right, band Band, decision regime.Decision, correlationID uuid.UUID) (Order, bool) {
	var sameRight []data.OptionQuote
	for _, q := range quotes {
		if q.Right == right {
			sameRight = append(sameRight, q)
		}
	}
	if len(sameRight) == 0 {
		return Order{}, false
	}

	shortQuote, ok := pickShort(sameRight, band)
	if !ok {
		return Order{}, false
	}

	longQuote, ok := pickLong(sameRight, shortQuote, right, b.Cfg)
	if !ok {
		return Order{}, false
	}

	credit := shortQuote.Bid - longQuote.Ask
	if credit <= b.Cfg.MinCredit {
		return Order{}, false
	}

	order := Order{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		Timestamp:     ts,
		Underlying:    b.Underlying,
		Decision:      decision,
		Short:         legFromQuote(shortQuote),
		Long:          legFromQuote(longQuote),
		Width:         math.Abs(longQuote.Strike - shortQuote.Strike),
		Credit:        credit,
	}
	return order, true
}

// pickShort selects the quote whose absolute delta is nearest the band
// midpoint, breaking ties by higher absolute delta then higher mid price.
func pickShort(quotes []data.OptionQuote, band Band) (data.OptionQuote, bool) {
	var candidates []data.OptionQuote
	for _, q := range quotes {
		ad := math.Abs(q.Delta)
		if ad >= band.Min && ad <= band.Max {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return data.OptionQuote{}, false
	}

	mid := band.mid()
	sort.SliceStable(candidates, func(i, j int) bool {
		di := math.Abs(math.Abs(candidates[i].Delta) - mid)
		dj := math.Abs(math.Abs(candidates[j].Delta) - mid)
		if di != dj {
			return di < dj
		}
		if math.Abs(candidates[i].Delta) != math.Abs(candidates[j].Delta) {
			return math.Abs(candidates[i].Delta) > math.Abs(candidates[j].Delta)
		}
		return candidates[i].Mid > candidates[j].Mid
	})
	return candidates[0], true
}

// pickLong selects the farther-OTM strike closest to cfg.Width away from
// short, preferring an exact match and otherwise the nearest strike whose
// width falls within the configured tolerance band.
func pickLong(quotes []data.OptionQuote, short data.OptionQuote, right data.Right, cfg Config) (data.OptionQuote, bool) {
	isCall := right == data.Call

	var candidates []data.OptionQuote
	for _, q := range quotes {
		if isCall && q.Strike > short.Strike {
			candidates = append(candidates, q)
		} else if !isCall && q.Strike < short.Strike {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return data.OptionQuote{}, false
	}

	const exactEpsilon = 1e-6
	lo := cfg.Width * cfg.WidthToleranceLo
	hi := cfg.Width * cfg.WidthToleranceHi

	var best data.OptionQuote
	bestDiff := math.Inf(1)
	found := false
	for _, q := range candidates {
		width := math.Abs(q.Strike - short.Strike)
		if math.Abs(width-cfg.Width) <= exactEpsilon {
			return q, true
		}
		if width < lo || width > hi {
			continue
		}
		diff := math.Abs(width - cfg.Width)
		if diff < bestDiff {
			best, bestDiff, found = q, diff, true
		}
	}
	return best, found
}

func legFromQuote(q data.OptionQuote) Leg {
	return Leg{
		Strike: q.Strike,
		Right:  q.Right,
		Expiry: q.Expiry,
		Bid:    q.Bid,
		Ask:    q.Ask,
		Delta:  q.Delta,
	}
}
