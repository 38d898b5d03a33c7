package data

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/oddte/backtest-core/internal/logger"
)

// HTTPBarProvider fetches minute bars from a Massive/Polygon-style
// aggregates endpoint and caches them in memory for the run.
type HTTPBarProvider struct {
	http       *resty.Client
	underlying string

	mu   sync.Mutex
	bars []Bar
}

// NewHTTPBarProvider builds a bar provider against baseURL, authenticated
// with apiKey. Requests are retried on 5xx with bounded backoff.
func NewHTTPBarProvider(baseURL, apiKey, underlying string) *HTTPBarProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetQueryParam("apiKey", apiKey)

	return &HTTPBarProvider{http: client, underlying: underlying}
}

type aggBarsResponse struct {
	Ticker  string `json:"ticker"`
	Results []struct {
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
		TimeMS int64   `json:"t"`
	} `json:"results"`
}

// Bars fetches the [start, end] range and merges it into the in-memory
// cache the technical lookups read. Every call issues a request; cached
// bars are not returned and do not prevent a refetch.
func (p *HTTPBarProvider) Bars(start, end time.Time) ([]Bar, error) {
	logger.Debugf("httpfeed: fetching bars %s..%s for %s", start, end, p.underlying)

	var body aggBarsResponse
	resp, err := p.http.R().
		SetPathParams(map[string]string{
			"ticker": p.underlying,
			"from":   start.Format("2006-01-02"),
			"to":     end.Format("2006-01-02"),
		}).
		SetQueryParams(map[string]string{"adjusted": "true", "sort": "asc", "limit": "50000"}).
		SetResult(&body).
		Get("/v2/aggs/ticker/{ticker}/range/1/minute/{from}/{to}")
	if err != nil {
		return nil, fmt.Errorf("httpfeed: bars request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("httpfeed: bars status %d: %s", resp.StatusCode(), resp.String())
	}

	fetched := make([]Bar, 0, len(body.Results))
	for _, r := range body.Results {
		fetched = append(fetched, Bar{
			Timestamp: time.UnixMilli(r.TimeMS).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}

	p.mu.Lock()
	p.bars = sortedBars(append(p.bars, fetched...))
	p.mu.Unlock()

	return fetched, nil
}

func (p *HTTPBarProvider) BarInterval() time.Duration { return time.Minute }

func (p *HTTPBarProvider) ATR20(ts time.Time) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return computeATR20(p.bars, ts)
}

func (p *HTTPBarProvider) VWAP(ts time.Time, window time.Duration) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return computeVWAP(p.bars, ts, window)
}

func (p *HTTPBarProvider) Spot(ts time.Time) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return computeSpot(p.bars, ts)
}

// HTTPCalendarProvider fetches economic-calendar events from a JSON feed.
type HTTPCalendarProvider struct {
	http *resty.Client
}

func NewHTTPCalendarProvider(baseURL, apiKey string) *HTTPCalendarProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetQueryParam("apiKey", apiKey)
	return &HTTPCalendarProvider{http: client}
}

type econEventResponse struct {
	Events []struct {
		TimeMS int64  `json:"t"`
		Kind   string `json:"kind"`
	} `json:"events"`
}

func (c *HTTPCalendarProvider) Events(start, end time.Time) ([]EconEvent, error) {
	var body econEventResponse
	resp, err := c.http.R().
		SetQueryParams(map[string]string{
			"from": start.Format(time.RFC3339),
			"to":   end.Format(time.RFC3339),
		}).
		SetResult(&body).
		Get("/v1/calendar/events")
	if err != nil {
		return nil, fmt.Errorf("httpfeed: calendar request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("httpfeed: calendar status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]EconEvent, 0, len(body.Events))
	for _, e := range body.Events {
		out = append(out, EconEvent{Timestamp: time.UnixMilli(e.TimeMS).UTC(), Kind: e.Kind})
	}
	return out, nil
}

func (c *HTTPCalendarProvider) NextEventAfter(ts time.Time) (*EconEvent, error) {
	events, err := c.Events(ts, ts.Add(7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.Timestamp.After(ts) {
			evt := e
			return &evt, nil
		}
	}
	return nil, nil
}

// HTTPIVProxy fetches the short-dated and 30-day IV proxy series from a
// JSON feed, caching the full series on first lookup.
type HTTPIVProxy struct {
	http *resty.Client

	mu     sync.Mutex
	loaded bool
	short  map[string]float64
	thirty map[string]float64
}

func NewHTTPIVProxy(baseURL, apiKey string) *HTTPIVProxy {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetQueryParam("apiKey", apiKey)
	return &HTTPIVProxy{http: client, short: map[string]float64{}, thirty: map[string]float64{}}
}

type ivSeriesResponse struct {
	Series []struct {
		Date   string  `json:"date"`
		Short  float64 `json:"iv_short"`
		Thirty float64 `json:"iv_30d"`
	} `json:"series"`
}

func (p *HTTPIVProxy) ensureLoaded() error {
	if p.loaded {
		return nil
	}
	var body ivSeriesResponse
	resp, err := p.http.R().SetResult(&body).Get("/v1/iv/series")
	if err != nil {
		return fmt.Errorf("httpfeed: iv series request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("httpfeed: iv series status %d: %s", resp.StatusCode(), resp.String())
	}
	for _, s := range body.Series {
		p.short[s.Date] = s.Short
		p.thirty[s.Date] = s.Thirty
	}
	p.loaded = true
	return nil
}

func (p *HTTPIVProxy) onOrBefore(series map[string]float64, date time.Time) (float64, bool) {
	for d := date; !d.Before(date.AddDate(0, 0, -30)); d = d.AddDate(0, 0, -1) {
		if v, ok := series[d.Format("2006-01-02")]; ok {
			return v, true
		}
	}
	return 0, false
}

func (p *HTTPIVProxy) ShortIVOnOrBefore(date time.Time) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		logger.Errorf("httpfeed: iv proxy load failed: %v", err)
		return 0, false
	}
	return p.onOrBefore(p.short, date)
}

func (p *HTTPIVProxy) ThirtyIVOnOrBefore(date time.Time) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLoaded(); err != nil {
		logger.Errorf("httpfeed: iv proxy load failed: %v", err)
		return 0, false
	}
	return p.onOrBefore(p.thirty, date)
}
