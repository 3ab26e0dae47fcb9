package enrichment

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(c *Config)
		errorMsg string
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "zero delays", modify: func(c *Config) {
			c.InterCallDelay, c.BatchPause, c.PagePause = 0, 0, 0
			c.RetryBaseDelay, c.RetryDelayStep, c.RetryMaxDelay, c.RetryPause = 0, 0, 0, 0
		}},
		{name: "fixed forbidden cooldown", modify: func(c *Config) { c.ForbiddenCooldownMax = c.ForbiddenCooldownMin }},
		{name: "zero page size", modify: func(c *Config) { c.PageSize = 0 }, errorMsg: "page size"},
		{name: "zero batch size", modify: func(c *Config) { c.BatchSize = 0 }, errorMsg: "batch size"},
		{name: "zero concurrency", modify: func(c *Config) { c.Concurrency = 0 }, errorMsg: "concurrency"},
		{name: "zero max attempts", modify: func(c *Config) { c.MaxAttempts = 0 }, errorMsg: "max attempts"},
		{name: "negative pause interval", modify: func(c *Config) { c.RetryPauseEvery = -1 }, errorMsg: "retry pause interval"},
		{name: "negative delay", modify: func(c *Config) { c.InterCallDelay = -time.Second }, errorMsg: "inter-call delay"},
		{name: "inverted cooldown bounds", modify: func(c *Config) { c.ForbiddenCooldownMax = time.Minute }, errorMsg: "forbidden cooldown max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Error = %q, want it to contain %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PagePause <= cfg.BatchPause {
		t.Errorf("PagePause %s should exceed BatchPause %s", cfg.PagePause, cfg.BatchPause)
	}
	if cfg.ForbiddenCooldownMin != 10*time.Minute || cfg.ForbiddenCooldownMax != 15*time.Minute {
		t.Errorf("forbidden cooldown = [%s, %s], want [10m, 15m]", cfg.ForbiddenCooldownMin, cfg.ForbiddenCooldownMax)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
}

func TestRunStats_Summary(t *testing.T) {
	s := RunStats{Total: 10, Successful: 8, Failed: 2, APICalls: 21, Cooldowns: 1, Duration: 90 * time.Second}
	want := "Enriched 8 of 10 companies (2 failed, 21 API calls, 1 cooldowns) in 1m30s"
	if got := s.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
