// Package pricing implements the zero-rate, zero-dividend Black-Scholes
// model used to synthesize same-day option prices and deltas.
package pricing

import "math"

const sqrt2Pi = 2.5066282746310002

// MinT floors time-to-expiry (in years) to avoid singularities as expiry
// approaches; it corresponds to roughly 4.4 hours of calendar time.
const MinT = 5e-4

// MinIV and MaxIV bound volatility inputs accepted by Price and Delta.
const (
	MinIV = 0.05
	MaxIV = 1.0
)

// floorPrice is the minimum price an option is allowed to report.
const floorPrice = 0.05

// Price computes the Black-Scholes price of a European option under the
// simplifying assumption r = 0, q = 0.
//
// T is clamped to [MinT, +inf) and sigma to [MinIV, MaxIV] before the
// formula is evaluated, so callers never see NaN/Inf even at the edges.
// The result is floored at 0.05 per share.
func Price(isCall bool, spot, strike, t, sigma float64) float64 {
	t = clampT(t)
	sigma = clampIV(sigma)

	d1, d2 := d1d2(spot, strike, t, sigma)

	var price float64
	if isCall {
		price = spot*normCDF(d1) - strike*normCDF(d2)
	} else {
		price = strike*normCDF(-d2) - spot*normCDF(-d1)
	}
	if price < floorPrice {
		price = floorPrice
	}
	return price
}

// Delta computes the Black-Scholes delta of a European option under
// r = 0, q = 0, clipped to [-1, 1].
func Delta(isCall bool, spot, strike, t, sigma float64) float64 {
	t = clampT(t)
	sigma = clampIV(sigma)

	d1, _ := d1d2(spot, strike, t, sigma)

	var delta float64
	if isCall {
		delta = normCDF(d1)
	} else {
		delta = normCDF(d1) - 1
	}
	if delta > 1 {
		delta = 1
	}
	if delta < -1 {
		delta = -1
	}
	return delta
}

func d1d2(spot, strike, t, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + 0.5*sigma*sigma*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	return d1, d2
}

func clampT(t float64) float64 {
	if t < MinT {
		return MinT
	}
	return t
}

func clampIV(sigma float64) float64 {
	if sigma < MinIV {
		return MinIV
	}
	if sigma > MaxIV {
		return MaxIV
	}
	return sigma
}

// normCDF is the standard normal cumulative distribution function,
// accurate to better than 1e-6 via the standard library's erf.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
