package spread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddte/backtest-core/internal/data"
	"github.com/oddte/backtest-core/internal/regime"
)

type fakeOptions struct {
	quotes []data.OptionQuote
	err    error
}

func (f fakeOptions) QuotesAt(ts time.Time) ([]data.OptionQuote, error) { return f.quotes, f.err }
func (f fakeOptions) TodayExpiry(ts time.Time) time.Time               { return ts }
func (f fakeOptions) IVProxies(ts time.Time) (float64, float64, error) { return 0, 0, nil }

func q(strike float64, right data.Right, delta, bid, ask float64) data.OptionQuote {
	return data.OptionQuote{Strike: strike, Right: right, Delta: delta, Bid: bid, Ask: ask, Mid: (bid + ask) / 2}
}

func condorChain() []data.OptionQuote {
	return []data.OptionQuote{
		q(99, data.Put, -0.30, 1.40, 1.50),
		q(98, data.Put, -0.12, 0.55, 0.60),
		q(97, data.Put, -0.08, 0.15, 0.20),
		q(96, data.Put, -0.05, 0.08, 0.10),
		q(101, data.Call, 0.30, 1.40, 1.50),
		q(102, data.Call, 0.12, 0.50, 0.55),
		q(103, data.Call, 0.08, 0.12, 0.17),
		q(104, data.Call, 0.05, 0.07, 0.10),
	}
}

func TestBuildCondorPicksBandMidpointLegsAndSharesCorrelationID(t *testing.T) {
	b := NewBuilder(fakeOptions{quotes: condorChain()}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.Condor, time.Now())
	require.NoError(t, err)
	require.Len(t, orders, 2)

	put, call := orders[0], orders[1]
	if put.Short.Right != data.Put {
		put, call = call, put
	}
	require.Equal(t, 98.0, put.Short.Strike)
	require.Equal(t, 97.0, put.Long.Strike)
	require.InDelta(t, 0.35, put.Credit, 1e-9)

	require.Equal(t, 102.0, call.Short.Strike)
	require.Equal(t, 103.0, call.Long.Strike)
	require.InDelta(t, 0.33, call.Credit, 1e-9)

	require.Equal(t, put.CorrelationID, call.CorrelationID)
	require.NotEqual(t, put.ID, call.ID)
}

func TestBuildSingleSideCallUsesWiderBand(t *testing.T) {
	chain := []data.OptionQuote{
		q(101, data.Call, 0.25, 1.00, 1.10),
		q(102, data.Call, 0.15, 0.50, 0.55),
		q(103, data.Call, 0.08, 0.12, 0.17),
	}
	b := NewBuilder(fakeOptions{quotes: chain}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.SingleSideCall, time.Now())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, 102.0, orders[0].Short.Strike)
	require.Equal(t, 103.0, orders[0].Long.Strike)
}

func TestBuildLongLegFallsBackWithinToleranceWhenNoExactWidth(t *testing.T) {
	chain := []data.OptionQuote{
		q(98, data.Put, -0.12, 0.55, 0.60),
		// No strike exactly 1.0 away; 96.8 is 1.2 away, within [0.8,1.25].
		q(96.8, data.Put, -0.06, 0.10, 0.14),
	}
	b := NewBuilder(fakeOptions{quotes: chain}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.SingleSidePut, time.Now())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.InDelta(t, 96.8, orders[0].Long.Strike, 1e-9)
}

func TestBuildReturnsNilWhenLongLegOutsideTolerance(t *testing.T) {
	chain := []data.OptionQuote{
		q(98, data.Put, -0.12, 0.55, 0.60),
		q(90, data.Put, -0.02, 0.05, 0.06), // 8 points away, far outside tolerance
	}
	b := NewBuilder(fakeOptions{quotes: chain}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.SingleSidePut, time.Now())
	require.NoError(t, err)
	require.Nil(t, orders)
}

func TestBuildReturnsNilWhenCreditTooSmall(t *testing.T) {
	chain := []data.OptionQuote{
		q(98, data.Put, -0.12, 0.30, 0.32),
		q(97, data.Put, -0.08, 0.27, 0.30),
	}
	b := NewBuilder(fakeOptions{quotes: chain}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.SingleSidePut, time.Now())
	require.NoError(t, err)
	require.Nil(t, orders)
}

func TestBuildReturnsNilWhenNoGo(t *testing.T) {
	b := NewBuilder(fakeOptions{quotes: condorChain()}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.NoGo, time.Now())
	require.NoError(t, err)
	require.Nil(t, orders)
}

func TestBuildReturnsNilOnEmptyChain(t *testing.T) {
	b := NewBuilder(fakeOptions{quotes: nil}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.Condor, time.Now())
	require.NoError(t, err)
	require.Nil(t, orders)
}

func TestBuildCondorRequiresBothSidesToSucceed(t *testing.T) {
	// Only puts available; call side must fail, so the whole condor fails.
	chain := []data.OptionQuote{
		q(98, data.Put, -0.12, 0.55, 0.60),
		q(97, data.Put, -0.08, 0.15, 0.20),
	}
	b := NewBuilder(fakeOptions{quotes: chain}, "XSP", DefaultConfig())
	orders, err := b.Build(regime.Condor, time.Now())
	require.NoError(t, err)
	require.Nil(t, orders)
}
