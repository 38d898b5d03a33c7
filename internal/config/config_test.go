package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Start = time.Date(2024, 2, 1, 14, 30, 0, 0, time.UTC)
	cfg.End = time.Date(2024, 2, 1, 21, 0, 0, 0, time.UTC)
	cfg.Underlying = "XSP"
	return cfg
}

func TestValidateAcceptsDefaultsWithRunWindow(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsZeroValueConfig(t *testing.T) {
	err := Validate(Config{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidateRejectsEndBeforeStart(t *testing.T) {
	cfg := validConfig()
	cfg.End = cfg.Start.Add(-time.Hour)
	require.ErrorIs(t, Validate(cfg), ErrInvalid)
}

func TestValidateRejectsNonPositiveCadence(t *testing.T) {
	cfg := validConfig()
	cfg.CadenceSeconds = 0
	require.ErrorIs(t, Validate(cfg), ErrInvalid)
}

func TestValidateRejectsDeltaBreachAboveOne(t *testing.T) {
	cfg := validConfig()
	cfg.Stops.DeltaBreach = 1.5
	require.ErrorIs(t, Validate(cfg), ErrInvalid)
}

func TestDefaultCarriesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 3600, cfg.CadenceSeconds)
	require.Equal(t, 60, cfg.NoNewRiskMinutesToClose)
	require.Equal(t, 2.2, cfg.Stops.CreditMultiple)
	require.Equal(t, 0.33, cfg.Stops.DeltaBreach)
}
