package mirror

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/scan"
	"github.com/jvietorisz/BeamAlignment/internal/timeutil"
)

// Lobe is one Gaussian transmission lobe of a simulated aperture response.
// The main lobe models the nanotip; extra lobes model diffraction side-lobes.
type Lobe struct {
	Center scan.VoltagePair
	Sigma  float64
	AmpMW  float64
}

// SimConfig configures a simulated mirror.
type SimConfig struct {
	Lobes      []Lobe
	BaselineMW float64
	NoiseMW    float64 // uniform noise amplitude added to each reading
	Seed       int64

	// SettleTime is simulated mechanical settling after each move.
	SettleTime time.Duration

	// FailAfterReads injects a hardware fault after this many successful
	// power readings. Zero disables fault injection.
	FailAfterReads int
}

// Sim is an in-process Mirror with a synthetic transmission surface. It
// stands in for the instrument layer in tests and in the CLI's offline mode,
// the same way the serial stack is exercised against mock ports.
type Sim struct {
	mu     sync.Mutex
	cfg    SimConfig
	rng    *rand.Rand
	clock  timeutil.Clock
	pos    scan.VoltagePair
	reads  int
	closed bool
}

// NewSim creates a simulated mirror. A nil clock uses the real one.
func NewSim(cfg SimConfig, clock timeutil.Clock) *Sim {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sim{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		clock: clock,
	}
}

// Move aims the simulated beam and waits out the settling time.
func (s *Sim) Move(ctx context.Context, v scan.VoltagePair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: device closed", ErrHardwareFault)
	}
	s.pos = v
	if s.cfg.SettleTime > 0 {
		s.clock.Sleep(s.cfg.SettleTime)
	}
	return nil
}

// ReadPower evaluates the lobe model at the current beam position and adds
// sensor noise.
func (s *Sim) ReadPower(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: device closed", ErrHardwareFault)
	}
	if s.cfg.FailAfterReads > 0 && s.reads >= s.cfg.FailAfterReads {
		return 0, fmt.Errorf("%w: sensor dropout after %d reads", ErrHardwareFault, s.reads)
	}
	s.reads++

	p := s.cfg.BaselineMW
	for _, l := range s.cfg.Lobes {
		dx := s.pos.X - l.Center.X
		dy := s.pos.Y - l.Center.Y
		p += l.AmpMW * math.Exp(-(dx*dx+dy*dy)/(2*l.Sigma*l.Sigma))
	}
	if s.cfg.NoiseMW > 0 {
		p += s.cfg.NoiseMW * s.rng.Float64()
	}
	if p < 0 {
		p = 0
	}
	return p, nil
}

// Position returns the last commanded voltage pair.
func (s *Sim) Position() scan.VoltagePair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Close releases the simulated device; subsequent calls fault.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
