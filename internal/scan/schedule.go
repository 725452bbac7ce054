package scan

import (
	"fmt"
	"math/rand"
	"time"
)

// Ordering selects how the schedule traverses the voltage grid.
//
// Raster minimizes mirror travel between consecutive points (fewer settling
// artifacts) at the cost of row-correlated noise. Shuffled decorrelates noise
// across the scan but makes large mirror excursions per step. SpaceFilling
// (Hilbert traversal) keeps consecutive points adjacent while breaking up
// strict row ordering.
type Ordering string

const (
	OrderRaster       Ordering = "raster"
	OrderShuffled     Ordering = "shuffled"
	OrderSpaceFilling Ordering = "space-filling"
)

// ParseOrdering converts a string (e.g. a flag or config value) to an Ordering.
func ParseOrdering(s string) (Ordering, error) {
	switch Ordering(s) {
	case OrderRaster, OrderShuffled, OrderSpaceFilling:
		return Ordering(s), nil
	case "":
		return OrderRaster, nil
	}
	return "", fmt.Errorf("unknown ordering %q (want raster, shuffled or space-filling)", s)
}

// Config describes one scan: the voltage rectangle, its resolution, the
// traversal ordering and the seed used for shuffled schedules. A zero Seed
// draws from the clock so repeated shuffled scans never silently reuse the
// same permutation; tests set Seed explicitly for reproducibility.
type Config struct {
	X        AxisRange `json:"x"`
	Y        AxisRange `json:"y"`
	Ordering Ordering  `json:"ordering"`
	Seed     int64     `json:"seed,omitempty"`

	// SettleTime is how long the mirror needs after a move before the
	// power reading is trustworthy. Consumed by the controller, recorded
	// here so a persisted scan documents how it was taken.
	SettleTime time.Duration `json:"settle_time,omitempty"`
}

// maxSchedulePoints bounds grid allocation for pathological configurations.
const maxSchedulePoints = 1 << 20

// Validate checks the configuration without generating anything.
func (c Config) Validate() error {
	if err := c.X.validate(); err != nil {
		return fmt.Errorf("x axis: %w", err)
	}
	if err := c.Y.validate(); err != nil {
		return fmt.Errorf("y axis: %w", err)
	}
	if n := c.X.Points() * c.Y.Points(); n > maxSchedulePoints {
		return fmt.Errorf("%w: %d points exceeds limit %d",
			ErrInfeasibleResolution, n, maxSchedulePoints)
	}
	if _, err := ParseOrdering(string(c.Ordering)); err != nil {
		return err
	}
	return nil
}

// Points returns the total number of voltage pairs one schedule will yield.
func (c Config) Points() int { return c.X.Points() * c.Y.Points() }

// Schedule is a finite, single-use iterator over distinct voltage pairs
// covering the configured rectangle. Each call to NewSchedule yields a fresh
// traversal; a consumed schedule is not restartable.
type Schedule struct {
	cfg   Config
	pairs []VoltagePair
	next  int
}

// NewSchedule validates cfg and builds the traversal. Range errors wrap
// ErrInvalidRange; resolution errors wrap ErrInfeasibleResolution. Both fail
// before any hardware interaction.
func NewSchedule(cfg Config) (*Schedule, error) {
	if cfg.Ordering == "" {
		cfg.Ordering = OrderRaster
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var pairs []VoltagePair
	switch cfg.Ordering {
	case OrderRaster:
		pairs = serpentine(cfg.X, cfg.Y)
	case OrderShuffled:
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		pairs = serpentine(cfg.X, cfg.Y)
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(pairs), func(i, j int) {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		})
	case OrderSpaceFilling:
		pairs = hilbert(cfg.X, cfg.Y)
	}

	return &Schedule{cfg: cfg, pairs: pairs}, nil
}

// Config returns the configuration the schedule was built from.
func (s *Schedule) Config() Config { return s.cfg }

// Len returns the total number of pairs the schedule yields.
func (s *Schedule) Len() int { return len(s.pairs) }

// Remaining returns how many pairs have not yet been consumed.
func (s *Schedule) Remaining() int { return len(s.pairs) - s.next }

// Next yields the next voltage pair. The second return is false once the
// schedule is exhausted.
func (s *Schedule) Next() (VoltagePair, bool) {
	if s.next >= len(s.pairs) {
		return VoltagePair{}, false
	}
	p := s.pairs[s.next]
	s.next++
	return p, true
}

// serpentine walks the grid column by column, zigzagging along y so that
// consecutive points are always one step apart. This is the traversal the
// scanning procedure has used since the LabVIEW days.
func serpentine(x, y AxisRange) []VoltagePair {
	pairs := make([]VoltagePair, 0, x.Points()*y.Points())
	for i := 0; i < x.Points(); i++ {
		vx := x.Voltage(i)
		if i%2 == 0 {
			for j := 0; j < y.Points(); j++ {
				pairs = append(pairs, VoltagePair{X: vx, Y: y.Voltage(j)})
			}
		} else {
			for j := y.Points() - 1; j >= 0; j-- {
				pairs = append(pairs, VoltagePair{X: vx, Y: y.Voltage(j)})
			}
		}
	}
	return pairs
}

// hilbert traverses the grid along a Hilbert curve. The curve is generated
// on the smallest power-of-two square covering the grid; cells outside the
// grid are skipped, so the result still visits every grid point exactly once.
func hilbert(x, y AxisRange) []VoltagePair {
	nx, ny := x.Points(), y.Points()
	order := 1
	for order < nx || order < ny {
		order <<= 1
	}
	pairs := make([]VoltagePair, 0, nx*ny)
	for d := 0; d < order*order; d++ {
		cx, cy := hilbertD2XY(order, d)
		if cx < nx && cy < ny {
			pairs = append(pairs, VoltagePair{X: x.Voltage(cx), Y: y.Voltage(cy)})
		}
	}
	return pairs
}

// hilbertD2XY converts a distance along the curve to cell coordinates for a
// curve of side n (a power of two).
func hilbertD2XY(n, d int) (x, y int) {
	t := d
	for s := 1; s < n; s *= 2 {
		rx := 1 & (t / 2)
		ry := 1 & (t ^ rx)
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
		x += s * rx
		y += s * ry
		t /= 4
	}
	return x, y
}
