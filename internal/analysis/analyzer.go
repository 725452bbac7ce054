package analysis

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

// Policy selects how the peak voltage is estimated from the smoothed surface.
type Policy string

const (
	// PolicyArgmax returns the grid point with the highest smoothed power.
	// Robust on broad single-lobed responses; resolution-limited.
	PolicyArgmax Policy = "argmax"
	// PolicyCentroid returns the power-weighted centroid of all points above
	// the threshold fraction of the maximum. Sub-grid precision on smooth
	// unimodal surfaces; unreliable on multi-lobed ones (which are flagged).
	PolicyCentroid Policy = "centroid"
)

// ParsePolicy converts a string (flag or config value) to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyArgmax, PolicyCentroid:
		return Policy(s), nil
	case "":
		return PolicyArgmax, nil
	}
	return "", fmt.Errorf("unknown policy %q (want argmax or centroid)", s)
}

// Config holds the analyzer's tuning. There are no hidden constants: the
// smoothing radius and thresholds depend on aperture size and sensor noise,
// so callers must supply them (normally from the tuning file).
type Config struct {
	Policy Policy `json:"policy"`

	// SmoothRadius is the Gaussian smoothing radius in grid-step units.
	SmoothRadius float64 `json:"smooth_radius"`

	// CentroidThreshold is the fraction of the smoothed maximum above which
	// cells contribute to the centroid and count toward lobe detection.
	CentroidThreshold float64 `json:"centroid_threshold"`

	// MinConfidence is the score below which a result is flagged as having
	// no usable alignment signal.
	MinConfidence float64 `json:"min_confidence"`
}

// Validate checks that all required knobs are set and sane.
func (c Config) Validate() error {
	if c.Policy != PolicyArgmax && c.Policy != PolicyCentroid {
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	if c.SmoothRadius <= 0 {
		return fmt.Errorf("smooth_radius must be positive, got %g", c.SmoothRadius)
	}
	if c.CentroidThreshold <= 0 || c.CentroidThreshold >= 1 {
		return fmt.Errorf("centroid_threshold must be in (0,1), got %g", c.CentroidThreshold)
	}
	if c.MinConfidence < 0 || c.MinConfidence >= 1 {
		return fmt.Errorf("min_confidence must be in [0,1), got %g", c.MinConfidence)
	}
	return nil
}

// Result is the terminal artifact of one scan: the estimated best alignment
// voltage, the smoothed power there, and a dimensionless confidence score.
// LowConfidence is a warning, not a failure: the voltage estimate is still
// returned and the operator decides whether to accept, rescan, or widen.
type Result struct {
	ScanID     string           `json:"scan_id"`
	Voltage    scan.VoltagePair `json:"voltage"`
	PowerMW    float64          `json:"power_mw"`
	Confidence float64          `json:"confidence"`

	LowConfidence bool   `json:"low_confidence"`
	Reason        string `json:"reason,omitempty"`

	Policy Policy `json:"policy"`
	Lobes  int    `json:"lobes"`
}

// ErrUnsealedScan is returned when a record is analyzed before Seal.
var ErrUnsealedScan = errors.New("scan record must be sealed before analysis")

// Analyzer turns sealed scan records into alignment results. It is a pure
// function over the reconstructed grid: analyzing the same sealed record
// twice with the same configuration yields an identical result.
type Analyzer struct {
	cfg Config
}

// New validates cfg and returns an Analyzer.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyArgmax
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("analyzer config: %w", err)
	}
	return &Analyzer{cfg: cfg}, nil
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze reduces rec to a Result. An empty record fails with
// scan.ErrEmptyScan; ambiguous or weak surfaces come back flagged rather
// than as errors.
func (a *Analyzer) Analyze(rec *scan.Record) (Result, error) {
	if !rec.Sealed() {
		return Result{}, ErrUnsealedScan
	}
	if rec.Len() == 0 {
		return Result{}, scan.ErrEmptyScan
	}

	if rec.Len() == 1 {
		s := rec.Samples()[0]
		return Result{
			ScanID:        rec.ScanID(),
			Voltage:       s.Voltage,
			PowerMW:       s.PowerMW,
			Confidence:    0,
			LowConfidence: true,
			Reason:        "single sample: no surface to estimate from",
			Policy:        a.cfg.Policy,
			Lobes:         1,
		}, nil
	}

	smoothed := NewSurface(rec).Smooth(a.cfg.SmoothRadius)
	peakX, peakY, peak := smoothed.Max()

	floor := noiseFloor(smoothed, peakX, peakY, rec.Partial())
	confidence := 0.0
	if peak > 0 && peak > floor {
		confidence = (peak - floor) / peak
	}

	lobes := countLobes(smoothed, peak*a.cfg.CentroidThreshold)

	res := Result{
		ScanID:  rec.ScanID(),
		PowerMW: peak,
		Policy:  a.cfg.Policy,
		Lobes:   lobes,
	}

	switch a.cfg.Policy {
	case PolicyCentroid:
		res.Voltage = centroid(smoothed, peak*a.cfg.CentroidThreshold)
	default:
		res.Voltage = smoothed.Voltage(peakX, peakY)
	}

	if lobes > 1 {
		// Physically only one lobe is the true nanotip alignment; the
		// operator must arbitrate, so the score is cut rather than the
		// ambiguity silently resolved.
		confidence /= 2
		res.LowConfidence = true
		res.Reason = fmt.Sprintf("%d disjoint lobes above threshold", lobes)
	}
	res.Confidence = confidence

	if confidence < a.cfg.MinConfidence && !res.LowConfidence {
		res.LowConfidence = true
		res.Reason = fmt.Sprintf("confidence %.3f below minimum %.3f: no alignment signal found",
			confidence, a.cfg.MinConfidence)
	}

	return res, nil
}

// noiseFloor estimates the baseline power from cells far from the peak
// (beyond a quarter of the grid span, Chebyshev). Complete scans use the
// median; partial scans widen the estimate to the 75th percentile since the
// far field may be undersampled.
func noiseFloor(sf *Surface, peakX, peakY int, partial bool) float64 {
	minDist := sf.Nx()
	if sf.Ny() > minDist {
		minDist = sf.Ny()
	}
	minDist /= 4

	var far []float64
	for ix := 0; ix < sf.Nx(); ix++ {
		for iy := 0; iy < sf.Ny(); iy++ {
			dx, dy := ix-peakX, iy-peakY
			if dx < 0 {
				dx = -dx
			}
			if dy < 0 {
				dy = -dy
			}
			d := dx
			if dy > d {
				d = dy
			}
			if d > minDist {
				far = append(far, sf.Power[ix][iy])
			}
		}
	}
	if len(far) == 0 {
		// Grid too small to exclude the peak neighbourhood; use everything.
		for ix := 0; ix < sf.Nx(); ix++ {
			far = append(far, sf.Power[ix]...)
		}
	}

	sort.Float64s(far)
	q := 0.5
	if partial {
		q = 0.75
	}
	return stat.Quantile(q, stat.Empirical, far, nil)
}

// countLobes counts disjoint 4-connected regions of cells at or above the
// threshold power. More than one region means the response is multi-lobed.
func countLobes(sf *Surface, threshold float64) int {
	nx, ny := sf.Nx(), sf.Ny()
	visited := makeBoolGrid(nx, ny)

	above := func(ix, iy int) bool { return sf.Power[ix][iy] >= threshold }

	lobes := 0
	for sx := 0; sx < nx; sx++ {
		for sy := 0; sy < ny; sy++ {
			if visited[sx][sy] || !above(sx, sy) {
				continue
			}
			lobes++
			stack := [][2]int{{sx, sy}}
			visited[sx][sy] = true
			for len(stack) > 0 {
				c := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					ix, iy := c[0]+d[0], c[1]+d[1]
					if ix < 0 || ix >= nx || iy < 0 || iy >= ny {
						continue
					}
					if visited[ix][iy] || !above(ix, iy) {
						continue
					}
					visited[ix][iy] = true
					stack = append(stack, [2]int{ix, iy})
				}
			}
		}
	}
	return lobes
}

// centroid returns the power-weighted centroid of all cells at or above the
// threshold power.
func centroid(sf *Surface, threshold float64) scan.VoltagePair {
	var sumW, sumX, sumY float64
	for ix := 0; ix < sf.Nx(); ix++ {
		for iy := 0; iy < sf.Ny(); iy++ {
			p := sf.Power[ix][iy]
			if p < threshold {
				continue
			}
			v := sf.Voltage(ix, iy)
			sumW += p
			sumX += p * v.X
			sumY += p * v.Y
		}
	}
	if sumW == 0 {
		ix, iy, _ := sf.Max()
		return sf.Voltage(ix, iy)
	}
	return scan.VoltagePair{X: sumX / sumW, Y: sumY / sumW}
}
