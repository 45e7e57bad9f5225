package config

import (
	"strings"
	"testing"

	"github.com/dvloznov/spend-analytics/internal/detect"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.TopN != 10 {
		t.Errorf("TopN = %d, want 10", cfg.TopN)
	}
	if cfg.Detect.Contamination != 0.01 || cfg.Detect.Seed != 42 || cfg.Detect.SpikePercentile != 95 {
		t.Errorf("Detect defaults = %+v", cfg.Detect)
	}
	if cfg.Detect.DuplicateRounding != detect.RoundingNone {
		t.Errorf("DuplicateRounding = %q, want none", cfg.Detect.DuplicateRounding)
	}
	if cfg.Recurring.IntervalDays != 30 || cfg.Recurring.ToleranceDays != 5 {
		t.Errorf("Recurring = %+v", cfg.Recurring)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}

func TestFromLookup(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg Config)
		wantErr string
	}{
		{
			name: "overrides",
			env: map[string]string{
				EnvTopN:              "5",
				EnvSeed:              "7",
				EnvContamination:     "0.05",
				EnvDuplicateRounding: "minute",
				EnvBucket:            "exports",
				EnvLedgerTable:       "proj.ds.ledger",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.TopN != 5 || cfg.Detect.Seed != 7 || cfg.Detect.Contamination != 0.05 {
					t.Errorf("Overrides not applied: %+v", cfg)
				}
				if cfg.Detect.DuplicateRounding != detect.RoundingMinute {
					t.Errorf("DuplicateRounding = %q, want minute", cfg.Detect.DuplicateRounding)
				}
				if cfg.Bucket != "exports" {
					t.Errorf("Bucket = %q, want exports", cfg.Bucket)
				}
				if cfg.LedgerTable != "proj.ds.ledger" {
					t.Errorf("LedgerTable = %q, want proj.ds.ledger", cfg.LedgerTable)
				}
			},
		},
		{
			name:  "empty values keep defaults",
			env:   map[string]string{EnvTopN: "", EnvLogLevel: ""},
			check: func(t *testing.T, cfg Config) {
				if cfg.TopN != 10 || cfg.LogLevel != "info" {
					t.Errorf("Expected defaults, got %+v", cfg)
				}
			},
		},
		{
			name:    "malformed number",
			env:     map[string]string{EnvTopN: "ten"},
			wantErr: EnvTopN,
		},
		{
			name:    "unknown rounding",
			env:     map[string]string{EnvDuplicateRounding: "day"},
			wantErr: EnvDuplicateRounding,
		},
		{
			name:    "out of range contamination",
			env:     map[string]string{EnvContamination: "0.9"},
			wantErr: "contamination",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := fromLookup(lookupFrom(tt.env))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestKeyChangesWithOutputSettings(t *testing.T) {
	a := Default()
	b := Default()
	if a.Key() != b.Key() {
		t.Error("Expected equal configs to share a key")
	}

	b.Detect.Seed = 43
	if a.Key() == b.Key() {
		t.Error("Expected seed to change the key")
	}

	c := Default()
	c.Bucket = "elsewhere"
	if a.Key() != c.Key() {
		t.Error("Expected bucket not to affect the key")
	}
}
