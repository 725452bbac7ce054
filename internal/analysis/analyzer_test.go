package analysis

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

func unitConfig() scan.Config {
	return scan.Config{
		X:        scan.AxisRange{Min: 0, Max: 1, Steps: 10},
		Y:        scan.AxisRange{Min: 0, Max: 1, Steps: 10},
		Ordering: scan.OrderRaster,
	}
}

func defaultAnalyzer(t *testing.T, policy Policy) *Analyzer {
	t.Helper()
	a, err := New(Config{
		Policy:            policy,
		SmoothRadius:      0.8,
		CentroidThreshold: 0.5,
		MinConfidence:     0.2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// synthScan walks a full schedule over cfg and records power(x, y) for each
// point, returning the sealed record.
func synthScan(t *testing.T, cfg scan.Config, power func(x, y float64) float64) *scan.Record {
	t.Helper()
	start := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	rec, err := scan.NewRecord(cfg, start)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	sched, err := scan.NewSchedule(cfg)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	i := 0
	for {
		p, ok := sched.Next()
		if !ok {
			break
		}
		s := scan.Sample{
			Voltage:   p,
			PowerMW:   power(p.X, p.Y),
			Timestamp: start.Add(time.Duration(i) * time.Millisecond),
		}
		if err := rec.Add(s); err != nil {
			t.Fatalf("Add: %v", err)
		}
		i++
	}
	rec.Seal()
	return rec
}

func gaussian(cx, cy, sigma, amp float64) func(x, y float64) float64 {
	return func(x, y float64) float64 {
		d2 := (x-cx)*(x-cx) + (y-cy)*(y-cy)
		return amp * math.Exp(-d2/(2*sigma*sigma))
	}
}

func TestAnalyzeGaussianArgmax(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	beam := gaussian(0.4, 0.6, 0.12, 5.0)
	rec := synthScan(t, unitConfig(), func(x, y float64) float64 {
		return beam(x, y) + 0.05*rng.Float64()
	})

	res, err := defaultAnalyzer(t, PolicyArgmax).Analyze(rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	step := unitConfig().X.StepSize()
	if math.Abs(res.Voltage.X-0.4) > step || math.Abs(res.Voltage.Y-0.6) > step {
		t.Errorf("peak at %s, want within one grid step of (0.4, 0.6)", res.Voltage)
	}
	if res.LowConfidence {
		t.Errorf("clean single-lobed scan flagged low confidence: %s", res.Reason)
	}
	if res.Lobes != 1 {
		t.Errorf("Lobes = %d, want 1", res.Lobes)
	}
}

func TestAnalyzeGaussianCentroid(t *testing.T) {
	beam := gaussian(0.4, 0.6, 0.12, 5.0)
	rec := synthScan(t, unitConfig(), beam)

	res, err := defaultAnalyzer(t, PolicyCentroid).Analyze(rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	// Noise-free symmetric lobe: the centroid should beat the grid
	// resolution, not just match it.
	if math.Abs(res.Voltage.X-0.4) > 0.05 || math.Abs(res.Voltage.Y-0.6) > 0.05 {
		t.Errorf("centroid at %s, want close to (0.4, 0.6)", res.Voltage)
	}
}

func TestAnalyzeBimodalFlagged(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	lobeA := gaussian(0.4, 0.6, 0.08, 5.0)
	lobeB := gaussian(0.9, 0.1, 0.08, 5.0)
	rec := synthScan(t, unitConfig(), func(x, y float64) float64 {
		return lobeA(x, y) + lobeB(x, y) + 0.02*rng.Float64()
	})

	res, err := defaultAnalyzer(t, PolicyArgmax).Analyze(rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.LowConfidence {
		t.Error("bimodal surface not flagged low confidence")
	}
	if res.Lobes < 2 {
		t.Errorf("Lobes = %d, want >= 2", res.Lobes)
	}
}

func TestAnalyzeFlatSurface(t *testing.T) {
	rec := synthScan(t, unitConfig(), func(x, y float64) float64 { return 1.0 })

	res, err := defaultAnalyzer(t, PolicyArgmax).Analyze(rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Confidence >= 0.2 {
		t.Errorf("flat surface confidence = %g, want below minimum 0.2", res.Confidence)
	}
	if !res.LowConfidence {
		t.Error("flat surface not flagged: no alignment signal to find")
	}
}

func TestAnalyzeEmptyScan(t *testing.T) {
	rec, err := scan.NewRecord(unitConfig(), time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	rec.Seal()

	_, err = defaultAnalyzer(t, PolicyArgmax).Analyze(rec)
	if !errors.Is(err, scan.ErrEmptyScan) {
		t.Errorf("Analyze = %v, want ErrEmptyScan", err)
	}
}

func TestAnalyzeUnsealedScan(t *testing.T) {
	rec, err := scan.NewRecord(unitConfig(), time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	_, err = defaultAnalyzer(t, PolicyArgmax).Analyze(rec)
	if !errors.Is(err, ErrUnsealedScan) {
		t.Errorf("Analyze = %v, want ErrUnsealedScan", err)
	}
}

func TestAnalyzeSingleSample(t *testing.T) {
	rec, err := scan.NewRecord(unitConfig(), time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	v := scan.VoltagePair{X: 0.3, Y: 0.7}
	if err := rec.Add(scan.Sample{Voltage: v, PowerMW: 4.2, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	rec.Seal()

	res, err := defaultAnalyzer(t, PolicyArgmax).Analyze(rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Voltage != v {
		t.Errorf("Voltage = %s, want %s", res.Voltage, v)
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence = %g, want 0 (minimum)", res.Confidence)
	}
	if !res.LowConfidence {
		t.Error("single-sample result not flagged")
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	beam := gaussian(0.4, 0.6, 0.12, 5.0)
	rec := synthScan(t, unitConfig(), func(x, y float64) float64 {
		return beam(x, y) + 0.05*rng.Float64()
	})

	a := defaultAnalyzer(t, PolicyCentroid)
	first, err := a.Analyze(rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := a.Analyze(rec)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if first != second {
		t.Errorf("repeated analysis differs:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestAnalyzePartialWidensNoiseFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	beam := gaussian(0.4, 0.6, 0.12, 5.0)
	power := func(x, y float64) float64 { return beam(x, y) + 0.3*rng.Float64() }

	complete := synthScan(t, unitConfig(), power)

	rng = rand.New(rand.NewSource(4))
	partial := synthScan(t, unitConfig(), power)
	partial.MarkPartial()

	a := defaultAnalyzer(t, PolicyArgmax)
	full, err := a.Analyze(complete)
	if err != nil {
		t.Fatalf("Analyze(complete): %v", err)
	}
	part, err := a.Analyze(partial)
	if err != nil {
		t.Fatalf("Analyze(partial): %v", err)
	}
	if part.Confidence > full.Confidence {
		t.Errorf("partial confidence %g exceeds complete confidence %g",
			part.Confidence, full.Confidence)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name      string
		cfg       Config
		expectErr bool
	}{
		{"valid", Config{Policy: PolicyArgmax, SmoothRadius: 1, CentroidThreshold: 0.5, MinConfidence: 0.1}, false},
		{"zero_radius", Config{Policy: PolicyArgmax, SmoothRadius: 0, CentroidThreshold: 0.5, MinConfidence: 0.1}, true},
		{"threshold_too_high", Config{Policy: PolicyArgmax, SmoothRadius: 1, CentroidThreshold: 1.0, MinConfidence: 0.1}, true},
		{"bad_policy", Config{Policy: "parabolic", SmoothRadius: 1, CentroidThreshold: 0.5, MinConfidence: 0.1}, true},
		{"negative_min_confidence", Config{Policy: PolicyCentroid, SmoothRadius: 1, CentroidThreshold: 0.5, MinConfidence: -0.1}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
