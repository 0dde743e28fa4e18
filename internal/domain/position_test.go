package domain_test

import (
	"testing"

	"github.com/vitos/crypto_trade_ai/internal/domain"
)

const epsilon = 0.000001

func floatEquals(a, b float64) bool {
	return (a-b) < epsilon && (b-a) < epsilon
}

func TestComputePNL(t *testing.T) {
	tests := []struct {
		name    string
		side    domain.Side
		entry   float64
		exit    float64
		size    float64
		wantPNL float64
		wantPct float64
	}{
		{"long profit", domain.SideLong, 100, 110, 2, 20, 10},
		{"short profit", domain.SideShort, 100, 90, 2, 20, 10},
		{"long loss", domain.SideLong, 100, 95, 2, -10, -5},
		{"short loss", domain.SideShort, 100, 105, 2, -10, -5},
		{"flat", domain.SideLong, 100, 100, 2, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &domain.Position{Side: tt.side, EntryPrice: tt.entry, Size: tt.size}
			pnl, pct := p.ComputePNL(tt.exit)
			if !floatEquals(pnl, tt.wantPNL) {
				t.Errorf("pnl = %f, want %f", pnl, tt.wantPNL)
			}
			if !floatEquals(pct, tt.wantPct) {
				t.Errorf("pnl%% = %f, want %f", pct, tt.wantPct)
			}
		})
	}
}

func TestStopLossTakeProfitTriggers(t *testing.T) {
	long := &domain.Position{Side: domain.SideLong, EntryPrice: 100, StopLoss: 95, TakeProfit: 110}
	short := &domain.Position{Side: domain.SideShort, EntryPrice: 100, StopLoss: 105, TakeProfit: 90}

	if !long.StopLossHit(94) {
		t.Error("long stop-loss should trigger at 94")
	}
	if long.StopLossHit(96) {
		t.Error("long stop-loss should not trigger at 96")
	}
	if !long.TakeProfitHit(110) {
		t.Error("long take-profit should trigger at 110")
	}
	if !short.StopLossHit(106) {
		t.Error("short stop-loss should trigger at 106")
	}
	if !short.TakeProfitHit(89) {
		t.Error("short take-profit should trigger at 89")
	}
	if short.TakeProfitHit(91) {
		t.Error("short take-profit should not trigger at 91")
	}

	// A zero stop/target never triggers.
	bare := &domain.Position{Side: domain.SideLong, EntryPrice: 100}
	if bare.StopLossHit(1) || bare.TakeProfitHit(1e9) {
		t.Error("unset stop/target must never trigger")
	}
}

func TestTrailedStop(t *testing.T) {
	// Long: stop only ever tightens upward.
	long := &domain.Position{Side: domain.SideLong, StopLoss: 95, TrailingStop: 2}
	stop, tightens := long.TrailedStop(110)
	if !tightens || !floatEquals(stop, 108) {
		t.Errorf("long trail at 110: got (%f, %v), want (108, true)", stop, tightens)
	}
	long.StopLoss = 108
	if _, tightens := long.TrailedStop(109); tightens {
		t.Error("long trail at 109 must not loosen stop below 108")
	}

	// Short: stop only ever tightens downward, or initializes when unset.
	short := &domain.Position{Side: domain.SideShort, StopLoss: 105, TrailingStop: 2}
	stop, tightens = short.TrailedStop(100)
	if !tightens || !floatEquals(stop, 102) {
		t.Errorf("short trail at 100: got (%f, %v), want (102, true)", stop, tightens)
	}
	unset := &domain.Position{Side: domain.SideShort, TrailingStop: 2}
	if _, tightens := unset.TrailedStop(100); !tightens {
		t.Error("short trail must initialize an unset stop")
	}

	// Disabled trailing never adjusts.
	fixed := &domain.Position{Side: domain.SideLong, StopLoss: 95}
	if _, tightens := fixed.TrailedStop(200); tightens {
		t.Error("trailing disabled: stop must not move")
	}
}

func TestDecisionFloatMeta(t *testing.T) {
	d := &domain.Decision{Metadata: map[string]interface{}{
		"stopLoss":   97.5,
		"confidence": 80,
		"note":       "n/a",
	}}

	if v, ok := d.FloatMeta("stopLoss"); !ok || !floatEquals(v, 97.5) {
		t.Errorf("FloatMeta(stopLoss) = (%f, %v)", v, ok)
	}
	if v, ok := d.FloatMeta("confidence"); !ok || !floatEquals(v, 80) {
		t.Errorf("FloatMeta(confidence) = (%f, %v)", v, ok)
	}
	if _, ok := d.FloatMeta("note"); ok {
		t.Error("non-numeric metadata must not parse")
	}
	if _, ok := d.FloatMeta("missing"); ok {
		t.Error("missing metadata must not parse")
	}
	var nilDecision *domain.Decision
	if _, ok := nilDecision.FloatMeta("x"); ok {
		t.Error("nil decision must not parse")
	}
}
