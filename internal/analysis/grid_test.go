package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

func TestSurfaceBinsAndAveragesDuplicates(t *testing.T) {
	cfg := scan.Config{
		X:        scan.AxisRange{Min: 0, Max: 1, Steps: 4},
		Y:        scan.AxisRange{Min: 0, Max: 1, Steps: 4},
		Ordering: scan.OrderRaster,
	}
	rec, err := scan.NewRecord(cfg, time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	// two samples into the same bin average; one in a second bin stands alone
	for _, s := range []scan.Sample{
		{Voltage: scan.VoltagePair{X: 0.5, Y: 0.5}, PowerMW: 2},
		{Voltage: scan.VoltagePair{X: 0.5, Y: 0.5}, PowerMW: 4},
		{Voltage: scan.VoltagePair{X: 0.75, Y: 0.25}, PowerMW: 6},
	} {
		if err := rec.Add(s); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	rec.Seal()

	sf := NewSurface(rec)
	if got := sf.Power[2][2]; got != 3 {
		t.Errorf("duplicate bin power = %g, want averaged 3", got)
	}
	if got := sf.Power[3][1]; got != 6 {
		t.Errorf("single bin power = %g, want 6", got)
	}
	if sf.ObservedCount() != 2 {
		t.Errorf("ObservedCount = %d, want 2", sf.ObservedCount())
	}
}

func TestSurfaceFillsUnobservedBins(t *testing.T) {
	cfg := scan.Config{
		X:        scan.AxisRange{Min: 0, Max: 1, Steps: 4},
		Y:        scan.AxisRange{Min: 0, Max: 1, Steps: 4},
		Ordering: scan.OrderRaster,
	}
	rec, err := scan.NewRecord(cfg, time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := rec.Add(scan.Sample{Voltage: scan.VoltagePair{X: 0, Y: 0}, PowerMW: 5}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	rec.Seal()

	sf := NewSurface(rec)
	for ix := 0; ix < sf.Nx(); ix++ {
		for iy := 0; iy < sf.Ny(); iy++ {
			if sf.Power[ix][iy] != 5 {
				t.Fatalf("cell (%d,%d) = %g, want nearest-neighbour fill 5",
					ix, iy, sf.Power[ix][iy])
			}
		}
	}
}

func TestSmoothSpreadsSpike(t *testing.T) {
	cfg := scan.Config{
		X:        scan.AxisRange{Min: 0, Max: 1, Steps: 8},
		Y:        scan.AxisRange{Min: 0, Max: 1, Steps: 8},
		Ordering: scan.OrderRaster,
	}
	rec := synthScan(t, cfg, func(x, y float64) float64 {
		if math.Abs(x-0.5) < 1e-9 && math.Abs(y-0.5) < 1e-9 {
			return 10
		}
		return 0
	})

	raw := NewSurface(rec)
	smoothed := raw.Smooth(1.0)

	if smoothed.Power[4][4] >= raw.Power[4][4] {
		t.Errorf("spike not attenuated: %g >= %g", smoothed.Power[4][4], raw.Power[4][4])
	}
	if smoothed.Power[4][5] <= raw.Power[4][5] {
		t.Errorf("neighbour not raised: %g <= %g", smoothed.Power[4][5], raw.Power[4][5])
	}
	// smoothing must not mutate its input
	if raw.Power[4][4] != 10 {
		t.Errorf("input surface mutated: %g", raw.Power[4][4])
	}
}

func TestSmoothZeroRadiusCopies(t *testing.T) {
	rec := synthScan(t, unitConfig(), gaussian(0.5, 0.5, 0.2, 3))
	raw := NewSurface(rec)
	copied := raw.Smooth(0)
	for ix := range raw.Power {
		for iy := range raw.Power[ix] {
			if copied.Power[ix][iy] != raw.Power[ix][iy] {
				t.Fatalf("cell (%d,%d) changed under zero-radius smooth", ix, iy)
			}
		}
	}
}
