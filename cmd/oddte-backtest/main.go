package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oddte/backtest-core/internal/backtest"
	"github.com/oddte/backtest-core/internal/config"
	"github.com/oddte/backtest-core/internal/data"
	"github.com/oddte/backtest-core/internal/fill"
	"github.com/oddte/backtest-core/internal/logger"
	"github.com/oddte/backtest-core/internal/quotes"
	"github.com/oddte/backtest-core/internal/regime"
	"github.com/oddte/backtest-core/internal/report"
	"github.com/oddte/backtest-core/internal/risk"
	"github.com/oddte/backtest-core/internal/spread"
	"github.com/oddte/backtest-core/internal/store"
)

// runConfig is the on-disk JSON shape the CLI loads: the engine's own
// config.Config plus the run-level knobs (data source, output paths) that
// sit outside the core's scope.
type runConfig struct {
	Config config.Config `json:"config"`

	Provider        string  `json:"provider"` // "synthetic" or "http"
	APIKey          string  `json:"apiKey"`
	DataBaseURL     string  `json:"dataBaseURL"`
	CalendarBaseURL string  `json:"calendarBaseURL"`
	StartPrice      float64 `json:"startPrice"`

	RegimeFormula string `json:"regimeFormula"`
	FillProfile   string `json:"fillProfile"` // "conservative" or "balanced"

	ReportDir   string `json:"reportDir"`
	TradeLogDir string `json:"tradeLogDir"`

	FeesPerTrade float64 `json:"feesPerTrade"`
}

func main() {
	configPath := flag.String("config", filepath.Join("configs", "default.json"), "path to JSON run config")
	rest := flag.Bool("rest", false, "run as REST server instead of a single batch run")
	addr := flag.String("addr", ":8080", "REST server listen address")
	verbosity := flag.Int("v", 2, "log verbosity (0=error 1=warn 2=info 3=debug 4=trace)")
	flag.Parse()

	logger.SetVerbosity(*verbosity)

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Errorf("reading config %s: %v", *configPath, err)
		os.Exit(1)
	}
	var rc runConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		logger.Errorf("invalid config: %v", err)
		os.Exit(1)
	}

	if *rest {
		// Each /run gets its own collector registry so repeated runs don't
		// collide on registration; /metrics serves the most recent run's.
		var regMu sync.Mutex
		currentReg := prometheus.NewRegistry()

		mux := http.NewServeMux()
		mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
			reg := prometheus.NewRegistry()
			rep, _, err := runOnce(rc, reg)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			regMu.Lock()
			currentReg = reg
			regMu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(rep)
		})
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			regMu.Lock()
			reg := currentReg
			regMu.Unlock()
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
		})
		logger.Infof("starting REST server on %s", *addr)
		logger.Errorf("server exited: %v", http.ListenAndServe(*addr, mux))
		os.Exit(1)
	}

	start := time.Now()
	rep, errCounts, err := runOnce(rc, prometheus.NewRegistry())
	if err != nil {
		logger.Errorf("backtest failed: %v", err)
		os.Exit(1)
	}

	if rc.ReportDir != "" {
		if err := os.MkdirAll(rc.ReportDir, 0o755); err != nil {
			logger.Errorf("creating report dir %s: %v", rc.ReportDir, err)
		} else {
			if err := report.WriteJSON(rep, rc.ReportDir); err != nil {
				logger.Errorf("writing report.json: %v", err)
			}
			if err := report.WriteCSV(rep.Trades, rc.ReportDir); err != nil {
				logger.Errorf("writing trades.csv: %v", err)
			}
		}
	}
	logger.Infof("finished in %v: %d trades, net pnl %.2f", time.Since(start), len(rep.Trades), rep.NetPnl)

	totalCaught := 0
	for category, n := range errCounts {
		totalCaught += n
		logger.Warnf("caught %d non-fatal %s errors during run", n, category)
	}
	if totalCaught > 0 {
		os.Exit(2)
	}
}

// buildProviders wires either the synthetic or HTTP-backed reference data
// providers. Real ingestion/timezone handling stay external collaborators.
func buildProviders(rc runConfig) (data.BarProvider, data.CalendarProvider, quotes.IVProxySource) {
	switch rc.Provider {
	case "http":
		bars := data.NewHTTPBarProvider(rc.DataBaseURL, rc.APIKey, rc.Config.Underlying)
		cal := data.NewHTTPCalendarProvider(rc.CalendarBaseURL, rc.APIKey)
		iv := data.NewHTTPIVProxy(rc.DataBaseURL, rc.APIKey)
		logger.Infof("http data provider enabled for %s", rc.Config.Underlying)
		return bars, cal, iv
	default:
		startPrice := rc.StartPrice
		if startPrice == 0 {
			startPrice = 100
		}
		bars := data.NewSyntheticBarProvider(rc.Config.Seed, rc.Config.Start, rc.Config.End, startPrice)
		cal := data.NewSyntheticCalendarProvider()
		iv := data.NewSyntheticIVProxy(15, 18)
		logger.Infof("synthetic data provider enabled for %s", rc.Config.Underlying)
		return bars, cal, iv
	}
}

func fillProfile(name string) fill.Profile {
	if name == "balanced" {
		return fill.BalancedProfile()
	}
	return fill.ConservativeProfile()
}

func runOnce(rc runConfig, registry *prometheus.Registry) (report.RunReport, map[string]int, error) {
	bars, cal, iv := buildProviders(rc)
	synth := quotes.NewSynthesizer(bars, iv)

	scorer, err := regime.NewScorer(bars, cal, iv, regime.DefaultWeights(), rc.RegimeFormula)
	if err != nil {
		return report.RunReport{}, nil, fmt.Errorf("building regime scorer: %w", err)
	}
	builder := spread.NewBuilder(synth, rc.Config.Underlying, spread.DefaultConfig())
	riskMgr := risk.NewManager(risk.Config{
		DailyLossStop:           rc.Config.Risk.DailyLossStop,
		MaxConcurrentPerSide:    rc.Config.Risk.MaxConcurrentPerSide,
		NoNewRiskMinutesToClose: rc.Config.NoNewRiskMinutesToClose,
	})
	fillEngine := fill.NewEngine(rc.Config.Seed, fillProfile(rc.FillProfile), registry)

	var tradeStore backtest.TradeStore
	if rc.TradeLogDir != "" {
		if err := store.EnsureBaseDir(rc.TradeLogDir); err != nil {
			return report.RunReport{}, nil, fmt.Errorf("creating trade log dir: %w", err)
		}
		s := store.NewStore(rc.TradeLogDir)
		defer s.Close()
		tradeStore = s
	}

	loop, err := backtest.New(rc.Config, bars, cal, synth, scorer, builder, riskMgr, fillEngine, tradeStore, registry)
	if err != nil {
		return report.RunReport{}, nil, fmt.Errorf("building backtest loop: %w", err)
	}

	rawBars, err := bars.Bars(rc.Config.Start, rc.Config.End)
	if err != nil {
		return report.RunReport{}, nil, fmt.Errorf("loading underlying bars: %w", err)
	}

	trades, errCounts, err := loop.Run(rawBars)
	if err != nil {
		return report.RunReport{}, nil, fmt.Errorf("running backtest: %w", err)
	}

	return report.Compute(trades, rc.FeesPerTrade), errCounts, nil
}
