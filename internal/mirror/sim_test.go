package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/scan"
	"github.com/jvietorisz/BeamAlignment/internal/timeutil"
)

func simAtTip(t *testing.T) *Sim {
	t.Helper()
	return NewSim(SimConfig{
		Lobes:      []Lobe{{Center: scan.VoltagePair{X: 0.4, Y: 0.6}, Sigma: 0.1, AmpMW: 5}},
		BaselineMW: 0.1,
		Seed:       1,
	}, timeutil.NewMockClock(time.Now()))
}

func TestSimPowerPeaksAtLobeCenter(t *testing.T) {
	s := simAtTip(t)
	ctx := context.Background()

	if err := s.Move(ctx, scan.VoltagePair{X: 0.4, Y: 0.6}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	atCenter, err := s.ReadPower(ctx)
	if err != nil {
		t.Fatalf("ReadPower: %v", err)
	}

	if err := s.Move(ctx, scan.VoltagePair{X: 0.0, Y: 0.0}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	offCenter, err := s.ReadPower(ctx)
	if err != nil {
		t.Fatalf("ReadPower: %v", err)
	}

	if atCenter <= offCenter {
		t.Errorf("power at lobe center %g not above off-center %g", atCenter, offCenter)
	}
}

func TestSimSettleUsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	s := NewSim(SimConfig{SettleTime: 40 * time.Millisecond, Seed: 1}, clock)

	if err := s.Move(context.Background(), scan.VoltagePair{X: 1, Y: 1}); err != nil {
		t.Fatalf("Move: %v", err)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 40*time.Millisecond {
		t.Errorf("Sleeps() = %v, want [40ms]", sleeps)
	}
}

func TestSimFaultInjection(t *testing.T) {
	s := NewSim(SimConfig{FailAfterReads: 2, Seed: 1}, timeutil.NewMockClock(time.Now()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.ReadPower(ctx); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	_, err := s.ReadPower(ctx)
	if !errors.Is(err, ErrHardwareFault) {
		t.Errorf("ReadPower = %v, want ErrHardwareFault", err)
	}
}

func TestSimClosed(t *testing.T) {
	s := simAtTip(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Move(context.Background(), scan.VoltagePair{}); !errors.Is(err, ErrHardwareFault) {
		t.Errorf("Move after Close = %v, want ErrHardwareFault", err)
	}
}

func TestSimContextCancelled(t *testing.T) {
	s := simAtTip(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Move(ctx, scan.VoltagePair{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Move = %v, want context.Canceled", err)
	}
}
