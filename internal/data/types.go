// Package data defines the market-data and options-chain surfaces the core
// engine consumes, plus two reference implementations (synthetic and an
// HTTP-backed provider). Ingestion, timezone handling, and calendar feeds
// belong to external collaborators; the engine depends only on the
// interfaces here.
package data

import (
	"errors"
	"time"
)

// ErrNoBars marks a lookup that found no underlying bar to satisfy it.
// The backtest loop counts it, like any data error, under its "data"
// category and skips the bar rather than aborting the run.
var ErrNoBars = errors.New("no bars available")

// Right identifies an option's exercise right.
type Right string

const (
	Put  Right = "Put"
	Call Right = "Call"
)

// Bar is an ordered underlying price sample. Invariants enforced by
// providers: timestamps are strictly non-decreasing after load,
// High >= max(Open, Close, Low), Low <= min(Open, Close, High), Volume >= 0.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// EconEvent is an immutable economic-calendar entry.
type EconEvent struct {
	Timestamp time.Time
	Kind      string
}

// OptionQuote is an immutable synthesized quote snapshot.
//
// Invariants: 0 < Bid <= Mid <= Ask, (Ask-Bid) is a positive multiple of
// Tick (0.05), |Delta| <= 1, IV in [0.05, 1.0], Mid == (Bid+Ask)/2.
type OptionQuote struct {
	Timestamp time.Time
	Expiry    time.Time
	Strike    float64
	Right     Right
	Bid       float64
	Ask       float64
	Mid       float64
	Delta     float64
	IV        float64
}

// Tick is the minimum listed-option price increment used throughout the engine.
const Tick = 0.05

// BarProvider supplies underlying price history and derived technical series.
// Ingestion and timezone handling are external collaborators; this interface
// is all the core consumes.
type BarProvider interface {
	Bars(start, end time.Time) ([]Bar, error)
	BarInterval() time.Duration
	ATR20(ts time.Time) (float64, error)
	VWAP(ts time.Time, window time.Duration) (float64, error)
	Spot(ts time.Time) (float64, error)
}

// CalendarProvider supplies economic-calendar events.
type CalendarProvider interface {
	NextEventAfter(ts time.Time) (*EconEvent, error)
	Events(start, end time.Time) ([]EconEvent, error)
}

// OptionsProvider synthesizes same-day option chains and IV proxies.
type OptionsProvider interface {
	QuotesAt(ts time.Time) ([]OptionQuote, error)
	TodayExpiry(ts time.Time) time.Time
	IVProxies(ts time.Time) (shortIV, thirtyIV float64, err error)
}
