package data

import (
	"math"
	"math/rand"
	"time"
)

// SyntheticBarProvider generates a deterministic one-minute random-walk bar
// series for an underlying, seeded once at construction. Useful for
// exercising the engine without a live feed.
type SyntheticBarProvider struct {
	bars []Bar
}

// NewSyntheticBarProvider generates minute bars covering [start, end] with
// the given starting price, seeded for reproducibility.
func NewSyntheticBarProvider(seed int64, start, end time.Time, startPrice float64) *SyntheticBarProvider {
	rng := rand.New(rand.NewSource(seed))
	price := startPrice
	var bars []Bar
	for cur := start; !cur.After(end); cur = cur.Add(time.Minute) {
		delta := rng.NormFloat64() * 0.02 * price
		open := price
		close := price + delta
		high := math.Max(open, close) + math.Abs(rng.NormFloat64()*0.03)
		low := math.Min(open, close) - math.Abs(rng.NormFloat64()*0.03)
		bars = append(bars, Bar{
			Timestamp: cur,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    float64(1000 + rng.Intn(5000)),
		})
		price = close
	}
	return &SyntheticBarProvider{bars: sortedBars(bars)}
}

func (p *SyntheticBarProvider) Bars(start, end time.Time) ([]Bar, error) {
	var out []Bar
	for _, b := range p.bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *SyntheticBarProvider) BarInterval() time.Duration { return time.Minute }

func (p *SyntheticBarProvider) ATR20(ts time.Time) (float64, error) { return computeATR20(p.bars, ts) }

func (p *SyntheticBarProvider) VWAP(ts time.Time, window time.Duration) (float64, error) {
	return computeVWAP(p.bars, ts, window)
}

func (p *SyntheticBarProvider) Spot(ts time.Time) (float64, error) { return computeSpot(p.bars, ts) }

// SyntheticCalendarProvider emits no economic events; use it when a run
// should be indifferent to event blockout penalties and gates.
type SyntheticCalendarProvider struct{}

func NewSyntheticCalendarProvider() SyntheticCalendarProvider { return SyntheticCalendarProvider{} }

func (SyntheticCalendarProvider) NextEventAfter(time.Time) (*EconEvent, error) { return nil, nil }

func (SyntheticCalendarProvider) Events(time.Time, time.Time) ([]EconEvent, error) { return nil, nil }

// SyntheticIVProxy returns fixed short/thirty-day IV proxies regardless of
// date, for callers that don't need a realistic term structure.
type SyntheticIVProxy struct {
	Short, Thirty float64
}

func NewSyntheticIVProxy(short, thirty float64) SyntheticIVProxy {
	return SyntheticIVProxy{Short: short, Thirty: thirty}
}

func (p SyntheticIVProxy) ShortIVOnOrBefore(time.Time) (float64, bool) { return p.Short, true }

func (p SyntheticIVProxy) ThirtyIVOnOrBefore(time.Time) (float64, bool) { return p.Thirty, true }
