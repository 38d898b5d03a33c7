// Package config defines the run configuration record the engine is
// built from. Loading it from YAML/JSON files is an external
// collaborator's job; this package only defines the shape and validates
// it once populated.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid marks a malformed run configuration. Callers match it with
// errors.Is to route the failure to a fatal exit rather than the
// logged-and-continue path data errors take.
var ErrInvalid = errors.New("invalid run configuration")

// Slippage parameterizes entry/exit half-spread assumptions.
type Slippage struct {
	EntryHalfSpreadTicks  float64 `validate:"gte=0"`
	ExitHalfSpreadTicks   float64 `validate:"gte=0"`
	TickValue             float64 `validate:"gt=0"`
	LateSessionExtraTicks float64 `validate:"gte=0"`
}

// Fees parameterizes per-contract commission and exchange fees.
type Fees struct {
	CommissionPerContract   float64 `validate:"gte=0"`
	ExchangeFeesPerContract float64 `validate:"gte=0"`
}

// Risk parameterizes the daily loss stop and concurrency cap.
type Risk struct {
	DailyLossStop        float64 `validate:"gt=0"`
	MaxConcurrentPerSide int     `validate:"gte=1"`
}

// Stops parameterizes the credit-multiple and delta-breach exit triggers.
type Stops struct {
	CreditMultiple float64 `validate:"gt=1"`
	DeltaBreach    float64 `validate:"gt=0,lte=1"`
}

// Config is the single record all run knobs live on. No hidden globals,
// no environment lookups inside the core: everything the loop needs
// flows through this struct.
type Config struct {
	Start      time.Time `validate:"required"`
	End        time.Time `validate:"required,gtefield=Start"`
	Underlying string    `validate:"required"`
	Timezone   string    `validate:"required"`
	RTHOnly    bool

	CadenceSeconds          int `validate:"gt=0"`
	NoNewRiskMinutesToClose int `validate:"gte=0"`

	Slippage Slippage `validate:"required"`
	Fees     Fees     `validate:"required"`
	Risk     Risk     `validate:"required"`
	Stops    Stops    `validate:"required"`

	Seed int64
}

// Default returns a config with the standard knob values; callers still
// must set Start/End/Underlying.
func Default() Config {
	return Config{
		Timezone:                "America/New_York",
		RTHOnly:                 true,
		CadenceSeconds:          3600,
		NoNewRiskMinutesToClose: 60,
		Slippage: Slippage{
			EntryHalfSpreadTicks: 1,
			ExitHalfSpreadTicks:  1,
			TickValue:            0.05,
		},
		Fees: Fees{
			CommissionPerContract:   0.65,
			ExchangeFeesPerContract: 0.05,
		},
		Risk: Risk{
			DailyLossStop:        500,
			MaxConcurrentPerSide: 1,
		},
		Stops: Stops{
			CreditMultiple: 2.2,
			DeltaBreach:    0.33,
		},
	}
}

var validate = validator.New()

// Validate fails fast on a malformed configuration. Configuration errors
// are fatal and must surface before the run starts.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w: %v", ErrInvalid, err)
	}
	return nil
}
