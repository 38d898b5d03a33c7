package fill

import "time"

// Side is the direction of a child order.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Quote is the execution-side NBBO view a fill is simulated against.
// It is distinct from data.OptionQuote, which carries Greeks and belongs
// to the chain synthesizer, not the microstructure simulator.
type Quote struct {
	Bid           float64
	Ask           float64
	Mid           float64
	TopOfBookSize float64
	Timestamp     time.Time
}

// Spread returns the non-negative bid/ask spread.
func (q Quote) Spread() float64 {
	s := q.Ask - q.Bid
	if s < 0 {
		return 0
	}
	return s
}

// Order is the execution-side order a fill is simulated for.
type Order struct {
	ID         string
	Side       Side
	Quantity   float64
	LimitPrice *float64
	Symbol     string
}

// MarketState carries the conditions a fill attempt is exposed to:
// elevated event risk halves the mid-fill probability, and stress level
// scales the quote perturbation applied over the simulated latency.
type MarketState struct {
	IsEventRisk bool
	StressLevel float64 // 0 (calm) .. 1 (extreme)
}

// Profile parameterizes fill behavior. MidFillProbability maps a spread in
// cents to the probability of attempting (and, on a second independent
// draw, of completing) a mid-price fill.
type Profile struct {
	MaxTOBParticipation      float64
	LatencyMeanMS            float64
	SlippageFloorPerContract float64
	SlippageFloorPctOfSpread float64
	AdverseBps               float64
	SizePenaltyBps           float64
	MidFillProbability       func(spreadCents float64) float64
}

// ConservativeProfile never attempts a mid fill (p_mid = 0 always), which
// is what the within-NBBO and mid-acceptance audit contracts are checked
// against.
func ConservativeProfile() Profile {
	return Profile{
		MaxTOBParticipation:      0.25,
		LatencyMeanMS:            180,
		SlippageFloorPerContract: 0.005,
		SlippageFloorPctOfSpread: 0.05,
		AdverseBps:               5,
		SizePenaltyBps:           10,
		MidFillProbability:       func(float64) float64 { return 0 },
	}
}

// BalancedProfile occasionally attempts mid fills on tight spreads,
// tapering off as the spread widens. Useful for exercising the mid-fill
// path in tests and non-conservative runs.
func BalancedProfile() Profile {
	return Profile{
		MaxTOBParticipation:      0.35,
		LatencyMeanMS:            120,
		SlippageFloorPerContract: 0.005,
		SlippageFloorPctOfSpread: 0.10,
		AdverseBps:               5,
		SizePenaltyBps:           10,
		MidFillProbability: func(spreadCents float64) float64 {
			if spreadCents <= 5 {
				return 0.6
			}
			if spreadCents <= 10 {
				return 0.3
			}
			return 0.1
		},
	}
}
