// Package config collects the analysis settings shared by the CLI and the API
// server. Values start from Default and may be overridden from the
// environment and then by command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dvloznov/spend-analytics/internal/aggregate"
	"github.com/dvloznov/spend-analytics/internal/detect"
)

const (
	DefaultRollingWindowDays = 7
	DefaultLogLevel          = "info"
	DefaultCacheEntries      = 64
)

// Environment variable names.
const (
	EnvTopN                   = "ANALYTICS_TOP_N"
	EnvContamination          = "ANALYTICS_CONTAMINATION"
	EnvSeed                   = "ANALYTICS_SEED"
	EnvSpikePercentile        = "ANALYTICS_SPIKE_PERCENTILE"
	EnvDuplicateRounding      = "ANALYTICS_DUPLICATE_ROUNDING"
	EnvRecurringIntervalDays  = "ANALYTICS_RECURRING_INTERVAL_DAYS"
	EnvRecurringToleranceDays = "ANALYTICS_RECURRING_TOLERANCE_DAYS"
	EnvRollingWindowDays      = "ANALYTICS_ROLLING_WINDOW_DAYS"
	EnvOutlierMinTxns         = "ANALYTICS_OUTLIER_MIN_TXNS"
	EnvCacheEntries           = "ANALYTICS_CACHE_ENTRIES"
	EnvLogLevel               = "LOG_LEVEL"
	EnvBucket                 = "GCS_BUCKET"
	EnvProject                = "GOOGLE_CLOUD_PROJECT"
	EnvLedgerTable            = "ANALYTICS_LEDGER_TABLE"
	EnvAnomalyTable           = "ANALYTICS_ANOMALY_TABLE"
)

// Config is the full set of analysis tunables.
type Config struct {
	TopN              int
	Recurring         aggregate.RecurringOptions
	RollingWindowDays int
	Detect            detect.Config

	// CacheEntries bounds the analysis memo. Zero disables memoization.
	CacheEntries int

	LogLevel  string
	Bucket    string
	ProjectID string

	// LedgerTable and AnomalyTable are BigQuery references in
	// "project.dataset.table" form.
	LedgerTable  string
	AnomalyTable string
}

// Default returns the standard settings.
func Default() Config {
	return Config{
		TopN:              aggregate.DefaultTopN,
		Recurring:         aggregate.DefaultRecurringOptions(),
		RollingWindowDays: DefaultRollingWindowDays,
		Detect:            detect.DefaultConfig(),
		CacheEntries:      DefaultCacheEntries,
		LogLevel:          DefaultLogLevel,
	}
}

// FromEnv returns Default overridden by any set environment variables.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	setInt := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v, ok := lookup(name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	setInt(EnvTopN, &cfg.TopN)
	setFloat(EnvContamination, &cfg.Detect.Contamination)
	setFloat(EnvSpikePercentile, &cfg.Detect.SpikePercentile)
	setFloat(EnvRecurringIntervalDays, &cfg.Recurring.IntervalDays)
	setFloat(EnvRecurringToleranceDays, &cfg.Recurring.ToleranceDays)
	setInt(EnvRollingWindowDays, &cfg.RollingWindowDays)
	setInt(EnvOutlierMinTxns, &cfg.Detect.OutlierMinTxns)
	setInt(EnvCacheEntries, &cfg.CacheEntries)
	setString(EnvLogLevel, &cfg.LogLevel)
	setString(EnvBucket, &cfg.Bucket)
	setString(EnvProject, &cfg.ProjectID)
	setString(EnvLedgerTable, &cfg.LedgerTable)
	setString(EnvAnomalyTable, &cfg.AnomalyTable)

	if v, ok := lookup(EnvSeed); ok && v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvSeed, err))
		} else {
			cfg.Detect.Seed = seed
		}
	}
	if v, ok := lookup(EnvDuplicateRounding); ok {
		r, err := detect.ParseRounding(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvDuplicateRounding, err))
		} else {
			cfg.Detect.DuplicateRounding = r
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("FromEnv: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("FromEnv: %w", err)
	}
	return cfg, nil
}

// Validate reports every out-of-range setting.
func (c Config) Validate() error {
	var errs []error
	if c.TopN < 1 {
		errs = append(errs, fmt.Errorf("top_n must be positive, got %d", c.TopN))
	}
	if c.RollingWindowDays < 1 {
		errs = append(errs, fmt.Errorf("rolling window must be positive, got %d", c.RollingWindowDays))
	}
	if c.Recurring.IntervalDays <= 0 || c.Recurring.ToleranceDays < 0 {
		errs = append(errs, fmt.Errorf("recurring interval %v +/- %v is invalid", c.Recurring.IntervalDays, c.Recurring.ToleranceDays))
	}
	if c.CacheEntries < 0 {
		errs = append(errs, fmt.Errorf("cache entries cannot be negative, got %d", c.CacheEntries))
	}
	if err := c.Detect.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Key identifies the settings that change analysis output. Two configs with
// equal keys produce identical results for the same input.
func (c Config) Key() string {
	d := c.Detect
	return fmt.Sprintf("top=%d|rec=%g±%g|roll=%d|cont=%g|seed=%d|pct=%g|round=%s|min=%d|trees=%d|sample=%d",
		c.TopN, c.Recurring.IntervalDays, c.Recurring.ToleranceDays, c.RollingWindowDays,
		d.Contamination, d.Seed, d.SpikePercentile, d.DuplicateRounding, d.OutlierMinTxns, d.Trees, d.SampleSize)
}
