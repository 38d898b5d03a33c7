package fill

import (
	"fmt"
	"time"
)

// Reasons used by forced and triggered closes.
const (
	ReasonPMSettlement = "PM cash settlement"
	ReasonExpiry       = "Expiry"
)

// ExitConfig parameterizes the bar-by-bar exit checks consulted for every
// open position.
type ExitConfig struct {
	CreditMultiple      float64 // default 2.2
	DeltaBreach         float64 // default 0.33
	ExitHalfSpreadTicks float64
	Tick                float64
}

// DefaultExitConfig returns the standard stop thresholds.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{CreditMultiple: 2.2, DeltaBreach: 0.33, ExitHalfSpreadTicks: 1, Tick: 0.05}
}

// ExitCheck is the outcome of evaluating a position's exit conditions on
// one bar: Exit is false when neither the credit-multiple stop nor the
// delta breach has fired.
type ExitCheck struct {
	Exit   bool
	Price  float64
	Reason string
}

// EvaluateExit checks the credit-multiple stop and delta-breach
// conditions against the position's current mark. PM settlement and the
// end-of-run terminal close are time-driven rather than mark-driven, so
// they're handled by InPMSettlementWindow and ForcedExpiryClose instead.
func EvaluateExit(entryPrice, currentSpreadValue, shortDelta float64, cfg ExitConfig) ExitCheck {
	exitPrice := currentSpreadValue + cfg.ExitHalfSpreadTicks*cfg.Tick

	if currentSpreadValue >= entryPrice*cfg.CreditMultiple {
		return ExitCheck{Exit: true, Price: exitPrice, Reason: fmt.Sprintf("Stop credit x%.1f", cfg.CreditMultiple)}
	}
	if absFloat(shortDelta) >= cfg.DeltaBreach {
		return ExitCheck{Exit: true, Price: exitPrice, Reason: fmt.Sprintf("Delta>%.2f", cfg.DeltaBreach)}
	}
	return ExitCheck{}
}

// InPMSettlementWindow reports whether ts falls in the 20:59-21:01 UTC
// cash-settlement window.
func InPMSettlementWindow(ts time.Time) bool {
	u := ts.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 20, 59, 0, 0, time.UTC)
	end := time.Date(u.Year(), u.Month(), u.Day(), 21, 1, 0, 0, time.UTC)
	return !u.Before(start) && !u.After(end)
}

// ForcedExpiryClose is the terminal close applied to any position still
// open after the last session bar.
func ForcedExpiryClose() ExitCheck {
	return ExitCheck{Exit: true, Price: oneTick, Reason: ReasonExpiry}
}

// ForcedPMSettlementClose is the forced close applied to any position
// still open inside the PM settlement window.
func ForcedPMSettlementClose() ExitCheck {
	return ExitCheck{Exit: true, Price: 0, Reason: ReasonPMSettlement}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
