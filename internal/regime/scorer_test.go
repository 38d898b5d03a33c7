package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddte/backtest-core/internal/data"
)

type fakeBars struct {
	bars      []data.Bar
	atr       float64
	vwapByTOD map[string]float64
	spot      float64
}

func (f fakeBars) Bars(start, end time.Time) ([]data.Bar, error) { return f.bars, nil }
func (f fakeBars) BarInterval() time.Duration                    { return time.Minute }
func (f fakeBars) ATR20(ts time.Time) (float64, error)            { return f.atr, nil }
func (f fakeBars) VWAP(ts time.Time, window time.Duration) (float64, error) {
	return f.vwapByTOD[ts.Format("15:04")], nil
}
func (f fakeBars) Spot(ts time.Time) (float64, error) { return f.spot, nil }

type fakeCal struct {
	next *data.EconEvent
}

func (f fakeCal) NextEventAfter(ts time.Time) (*data.EconEvent, error) { return f.next, nil }
func (f fakeCal) Events(start, end time.Time) ([]data.EconEvent, error) {
	return nil, nil
}

type fakeIV struct {
	short, thirty float64
	ok            bool
}

func (f fakeIV) ShortIVOnOrBefore(time.Time) (float64, bool)  { return f.short, f.ok }
func (f fakeIV) ThirtyIVOnOrBefore(time.Time) (float64, bool) { return f.thirty, f.ok }

func ts(t *testing.T, clock string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, "2026-02-01T"+clock+":00Z")
	require.NoError(t, err)
	return parsed
}

func barsAt(t *testing.T, highLowClose ...[3]float64) []data.Bar {
	t.Helper()
	bars := make([]data.Bar, len(highLowClose))
	for i, hlc := range highLowClose {
		bars[i] = data.Bar{High: hlc[0], Low: hlc[1], Close: hlc[2]}
	}
	return bars
}

func TestScoreCalmFlatDayProducesCondor(t *testing.T) {
	bars := fakeBars{
		bars:      barsAt(t, [3]float64{100.2, 99.8, 100.0}, [3]float64{100.1, 99.9, 100.0}),
		atr:       0.5,
		vwapByTOD: map[string]float64{"15:00": 100.0, "14:30": 100.0},
		spot:      100.0,
	}
	s, err := NewScorer(bars, fakeCal{}, fakeIV{short: 15, thirty: 16, ok: true}, DefaultWeights(), "")
	require.NoError(t, err)

	r, err := s.Score(ts(t, "15:00"))
	require.NoError(t, err)
	require.True(t, r.Calm)
	require.GreaterOrEqual(t, r.Score, 0)
	require.Equal(t, Condor, Decide(r))
}

func TestScoreEventBlockoutPenalizesAndForcesNoGo(t *testing.T) {
	bars := fakeBars{
		bars:      barsAt(t, [3]float64{100.2, 99.8, 100.0}, [3]float64{100.1, 99.9, 100.0}),
		atr:       0.5,
		vwapByTOD: map[string]float64{"15:00": 100.0, "14:30": 100.0},
		spot:      100.0,
	}
	event := ts(t, "15:30")
	s, err := NewScorer(bars, fakeCal{next: &data.EconEvent{Timestamp: event, Kind: "CPI"}}, fakeIV{}, DefaultWeights(), "")
	require.NoError(t, err)

	r, err := s.Score(ts(t, "15:00"))
	require.NoError(t, err)
	require.True(t, r.EventTripped)
	require.Equal(t, NoGo, Decide(r))
}

func TestScoreUptrendProducesSingleSideCall(t *testing.T) {
	bars := fakeBars{
		bars:      barsAt(t, [3]float64{101, 100, 100.5}, [3]float64{102, 101, 101.8}),
		atr:       0.3,
		vwapByTOD: map[string]float64{"15:00": 99.0, "14:30": 98.0},
		spot:      102.0,
	}
	s, err := NewScorer(bars, fakeCal{}, fakeIV{}, DefaultWeights(), "")
	require.NoError(t, err)

	r, err := s.Score(ts(t, "15:00"))
	require.NoError(t, err)
	require.True(t, r.Up)
	require.Equal(t, SingleSideCall, Decide(r))
}

func TestScoreIVStressTrips(t *testing.T) {
	bars := fakeBars{
		bars:      barsAt(t, [3]float64{100.2, 99.8, 100.0}),
		atr:       0.5,
		vwapByTOD: map[string]float64{"15:00": 100.0, "14:30": 100.0},
		spot:      100.0,
	}
	s, err := NewScorer(bars, fakeCal{}, fakeIV{short: 25, thirty: 20, ok: true}, DefaultWeights(), "")
	require.NoError(t, err)

	r, err := s.Score(ts(t, "15:00"))
	require.NoError(t, err)
	require.True(t, r.IVStressTripped)
}

func TestScoreWithFormulaOverridesBuiltInRule(t *testing.T) {
	bars := fakeBars{
		bars:      barsAt(t, [3]float64{100.2, 99.8, 100.0}),
		atr:       0.5,
		vwapByTOD: map[string]float64{"15:00": 100.0, "14:30": 100.0},
		spot:      100.0,
	}
	s, err := NewScorer(bars, fakeCal{}, fakeIV{}, DefaultWeights(), "-5")
	require.NoError(t, err)

	r, err := s.Score(ts(t, "15:00"))
	require.NoError(t, err)
	require.Equal(t, -5, r.Score)
	require.Equal(t, NoGo, Decide(r))
}

func TestNewScorerRejectsInvalidFormula(t *testing.T) {
	_, err := NewScorer(fakeBars{}, fakeCal{}, fakeIV{}, DefaultWeights(), "(((")
	require.Error(t, err)
}

func TestDecideCoversExactlyFourOutcomes(t *testing.T) {
	cases := []Result{
		{Score: -1},
		{Score: 0, Calm: true},
		{Score: 2, Up: true},
		{Score: 2, Dn: true},
		{Score: 5},
	}
	seen := map[Decision]bool{}
	for _, r := range cases {
		seen[Decide(r)] = true
	}
	require.Len(t, seen, 4)
	for d := range seen {
		require.Contains(t, []Decision{NoGo, Condor, SingleSideCall, SingleSidePut}, d)
	}
}
