package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		interval string
		want     time.Duration
		wantErr  bool
	}{
		{"1m", time.Minute, false},
		{"5m", 5 * time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"30m", 30 * time.Minute, false},
		{"1h", time.Hour, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"2m", 0, true},
		{"1w", 0, true},
		{"", 0, true},
		{"5m ", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			got, err := domain.ParseInterval(tt.interval)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseInterval(%q) expected error", tt.interval)
				}
				if !errors.Is(err, domain.ErrUnknownInterval) {
					t.Errorf("ParseInterval(%q) error = %v, want ErrUnknownInterval", tt.interval, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInterval(%q) failed: %v", tt.interval, err)
			}
			if got != tt.want {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.interval, got, tt.want)
			}
		})
	}
}

func TestSignalStatusCanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from domain.SignalStatus
		to   domain.SignalStatus
		want bool
	}{
		{"new to watching", domain.SignalNew, domain.SignalWatching, true},
		{"watching to position_open", domain.SignalWatching, domain.SignalPositionOpen, true},
		{"watching to closed", domain.SignalWatching, domain.SignalClosed, true},
		{"position_open to closed", domain.SignalPositionOpen, domain.SignalClosed, true},
		{"watching to new", domain.SignalWatching, domain.SignalNew, false},
		{"closed is terminal", domain.SignalClosed, domain.SignalWatching, false},
		{"no self transition", domain.SignalWatching, domain.SignalWatching, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
				t.Errorf("CanAdvanceTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
