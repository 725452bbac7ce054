package align

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/mirror"
	"github.com/jvietorisz/BeamAlignment/internal/scan"
	"github.com/jvietorisz/BeamAlignment/internal/timeutil"
)

func testControllerConfig() Config {
	return Config{
		Scan: scan.Config{
			X:          scan.AxisRange{Min: 0, Max: 1, Steps: 10},
			Y:          scan.AxisRange{Min: 0, Max: 1, Steps: 10},
			Ordering:   scan.OrderRaster,
			SettleTime: 10 * time.Millisecond,
		},
		Analyzer: analysis.Config{
			Policy:            analysis.PolicyArgmax,
			SmoothRadius:      0.8,
			CentroidThreshold: 0.5,
			MinConfidence:     0.2,
		},
		ConfirmShrink:    0.3,
		ConfirmThreshold: 0.5,
		MaxCycles:        2,
	}
}

func tipSim(cfg mirror.SimConfig, clock timeutil.Clock) *mirror.Sim {
	if cfg.Lobes == nil {
		cfg.Lobes = []mirror.Lobe{{Center: scan.VoltagePair{X: 0.4, Y: 0.6}, Sigma: 0.1, AmpMW: 5}}
		cfg.BaselineMW = 0.1
		cfg.NoiseMW = 0.05
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return mirror.NewSim(cfg, clock)
}

func TestAlignConvergesOnTip(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	sim := tipSim(mirror.SimConfig{}, clock)

	ctrl, err := New(sim, clock, testControllerConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, records, err := ctrl.Align(context.Background())
	if err != nil {
		t.Fatalf("Align: %v", err)
	}

	if math.Abs(res.Voltage.X-0.4) > 0.1 || math.Abs(res.Voltage.Y-0.6) > 0.1 {
		t.Errorf("aligned at %s, want near (0.4, 0.6)", res.Voltage)
	}
	if res.LowConfidence {
		t.Errorf("clean alignment flagged low confidence: %s", res.Reason)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2 (scan + confirmation)", len(records))
	}

	// the mirror must be parked at the accepted voltage
	if sim.Position() != res.Voltage {
		t.Errorf("mirror parked at %s, want %s", sim.Position(), res.Voltage)
	}
	if ctrl.State() != StateIdle {
		t.Errorf("final state = %s, want idle", ctrl.State())
	}
}

func TestAlignStateSequence(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	ctrl, err := New(tipSim(mirror.SimConfig{}, clock), clock, testControllerConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := ctrl.Align(context.Background()); err != nil {
		t.Fatalf("Align: %v", err)
	}

	want := []State{StateIdle, StateScanning, StateAnalyzing, StateMoving, StateConfirming, StateIdle}
	got := ctrl.History()
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestAlignGivesUpAfterMaxCycles(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	// no beam at all: flat noise, nothing to confirm
	sim := mirror.NewSim(mirror.SimConfig{BaselineMW: 1.0, NoiseMW: 0.01, Seed: 1}, clock)

	ctrl, err := New(sim, clock, testControllerConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, records, err := ctrl.Align(context.Background())
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	if !res.LowConfidence {
		t.Error("missed-aperture run not flagged low confidence")
	}
	if len(records) != 4 {
		t.Errorf("got %d records, want 4 (2 cycles of scan + confirmation)", len(records))
	}
	if ctrl.State() != StateIdle {
		t.Errorf("final state = %s, want idle", ctrl.State())
	}
}

func TestScanHardwareFaultMarksPartial(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	sim := tipSim(mirror.SimConfig{
		Lobes:          []mirror.Lobe{{Center: scan.VoltagePair{X: 0.4, Y: 0.6}, Sigma: 0.1, AmpMW: 5}},
		FailAfterReads: 7,
		Seed:           1,
	}, clock)

	ctrl, err := New(sim, clock, testControllerConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, err := ctrl.Scan(context.Background(), testControllerConfig().Scan)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !rec.Partial() {
		t.Error("faulted scan not marked partial")
	}
	if !rec.Sealed() {
		t.Error("faulted scan not sealed")
	}
	if rec.Len() != 7 {
		t.Errorf("kept %d samples, want the 7 measured before the fault", rec.Len())
	}
}

func TestScanSettleWaitsPerPoint(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	ctrl, err := New(tipSim(mirror.SimConfig{}, clock), clock, testControllerConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := testControllerConfig().Scan
	cfg.X.Steps = 2
	cfg.Y.Steps = 2

	if _, err := ctrl.Scan(context.Background(), cfg); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got, want := len(clock.Sleeps()), cfg.Points(); got != want {
		t.Errorf("settled %d times, want once per point (%d)", got, want)
	}
}

func TestScanContextCancelled(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	ctrl, err := New(tipSim(mirror.SimConfig{}, clock), clock, testControllerConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ctrl.Scan(ctx, testControllerConfig().Scan); err == nil {
		t.Error("Scan with cancelled context succeeded")
	}
}

func TestNewControllerValidation(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	sim := tipSim(mirror.SimConfig{}, clock)

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad_scan_range", func(c *Config) { c.Scan.X.Min = 5 }},
		{"bad_shrink", func(c *Config) { c.ConfirmShrink = 1.5 }},
		{"bad_threshold", func(c *Config) { c.ConfirmThreshold = 0 }},
		{"bad_cycles", func(c *Config) { c.MaxCycles = 0 }},
		{"bad_analyzer", func(c *Config) { c.Analyzer.SmoothRadius = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testControllerConfig()
			tc.mutate(&cfg)
			if _, err := New(sim, clock, cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
