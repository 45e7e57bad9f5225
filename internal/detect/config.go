package detect

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultContamination   = 0.01
	DefaultSeed            = 42
	DefaultSpikePercentile = 95.0
	DefaultOutlierMinTxns  = 10
	DefaultTrees           = 100
	DefaultSampleSize      = 256
)

// Rounding is the timestamp granularity used when matching duplicates.
type Rounding string

const (
	RoundingNone   Rounding = "none"
	RoundingMinute Rounding = "minute"
	RoundingHour   Rounding = "hour"
)

// ParseRounding accepts "none", "minute" or "hour". An empty string means none.
func ParseRounding(s string) (Rounding, error) {
	switch r := Rounding(strings.ToLower(strings.TrimSpace(s))); r {
	case "", RoundingNone:
		return RoundingNone, nil
	case RoundingMinute, RoundingHour:
		return r, nil
	default:
		return "", fmt.Errorf("ParseRounding: unknown rounding %q", s)
	}
}

// Apply rounds t to the nearest minute or hour with time.Round, so a
// timestamp exactly halfway (12:00:30 for minutes) always rounds up rather
// than to the even neighbour.
func (r Rounding) Apply(t time.Time) time.Time {
	switch r {
	case RoundingMinute:
		return t.Round(time.Minute)
	case RoundingHour:
		return t.Round(time.Hour)
	default:
		return t
	}
}

// Config holds the tunables of all three detectors.
type Config struct {
	// Contamination is the expected outlier fraction per user, in (0, 0.5].
	Contamination float64
	// Seed drives the isolation forest. Every user's model is seeded with it.
	Seed int64
	// SpikePercentile is in [0, 100].
	SpikePercentile   float64
	DuplicateRounding Rounding
	// OutlierMinTxns is the smallest per-user sample the outlier model is fit on.
	OutlierMinTxns int
	Trees          int
	SampleSize     int
}

// DefaultConfig returns the standard detector settings.
func DefaultConfig() Config {
	return Config{
		Contamination:     DefaultContamination,
		Seed:              DefaultSeed,
		SpikePercentile:   DefaultSpikePercentile,
		DuplicateRounding: RoundingNone,
		OutlierMinTxns:    DefaultOutlierMinTxns,
		Trees:             DefaultTrees,
		SampleSize:        DefaultSampleSize,
	}
}

// Validate reports every out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	if !(c.Contamination > 0 && c.Contamination <= 0.5) {
		errs = append(errs, fmt.Errorf("contamination must be in (0, 0.5], got %v", c.Contamination))
	}
	if !(c.SpikePercentile >= 0 && c.SpikePercentile <= 100) {
		errs = append(errs, fmt.Errorf("spike percentile must be in [0, 100], got %v", c.SpikePercentile))
	}
	if _, err := ParseRounding(string(c.DuplicateRounding)); err != nil {
		errs = append(errs, err)
	}
	if c.OutlierMinTxns < 2 {
		errs = append(errs, fmt.Errorf("outlier minimum transactions must be at least 2, got %d", c.OutlierMinTxns))
	}
	if c.Trees < 1 {
		errs = append(errs, fmt.Errorf("trees must be positive, got %d", c.Trees))
	}
	if c.SampleSize < 2 {
		errs = append(errs, fmt.Errorf("sample size must be at least 2, got %d", c.SampleSize))
	}
	return errors.Join(errs...)
}

func (c Config) forest() ForestConfig {
	return ForestConfig{
		Trees:         c.Trees,
		SampleSize:    c.SampleSize,
		Contamination: c.Contamination,
		Seed:          c.Seed,
	}
}
