package ratelimit

import (
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "defaults", config: DefaultConfig(), expectError: false},
		{name: "zero limit", config: Config{Limit: 0, Window: time.Minute, Threshold: 0.9}, expectError: true},
		{name: "zero window", config: Config{Limit: 10, Window: 0, Threshold: 0.9}, expectError: true},
		{name: "threshold above one", config: Config{Limit: 10, Window: time.Minute, Threshold: 1.5}, expectError: true},
		{name: "threshold of one", config: Config{Limit: 10, Window: time.Minute, Threshold: 1}, expectError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestCredential_UsageRatio(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		limit    int
		expected float64
	}{
		{name: "unused", count: 0, limit: 600, expected: 0},
		{name: "half", count: 300, limit: 600, expected: 0.5},
		{name: "at limit", count: 2, limit: 2, expected: 1},
		{name: "over limit", count: 3, limit: 2, expected: 1.5},
		{name: "invalid limit", count: 1, limit: 0, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Credential{RequestCount: tt.count}
			if got := c.UsageRatio(tt.limit); got != tt.expected {
				t.Errorf("UsageRatio() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCredential_IsForbidden(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		until    time.Time
		expected bool
	}{
		{name: "never forbidden", until: time.Time{}, expected: false},
		{name: "cooldown in future", until: now.Add(time.Minute), expected: true},
		{name: "cooldown elapsed", until: now.Add(-time.Second), expected: false},
		{name: "cooldown ends now", until: now, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Credential{ForbiddenUntil: tt.until}
			if got := c.IsForbidden(now); got != tt.expected {
				t.Errorf("IsForbidden() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCredential_TimeUntilReset(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Credential{WindowStart: start}

	if got := c.TimeUntilReset(start.Add(2*time.Minute), 5*time.Minute); got != 3*time.Minute {
		t.Errorf("TimeUntilReset() = %v, want 3m", got)
	}
	if got := c.TimeUntilReset(start.Add(10*time.Minute), 5*time.Minute); got != 0 {
		t.Errorf("TimeUntilReset() after expiry = %v, want 0", got)
	}
}

func TestCredential_Label(t *testing.T) {
	if got := (Credential{ID: 2, Key: "secret"}).Label(); got != "key-2" {
		t.Errorf("Label() = %q, want %q", got, "key-2")
	}
}
