// Package scan provides the data model and scheduling for steering-mirror
// raster scans: voltage schedules, scan records, and their flat-file form.
package scan

import (
	"errors"
	"fmt"
)

// Sentinel errors for schedule and record validation. Configuration errors
// surface before any hardware interaction; ingestion errors surface on Add.
var (
	ErrInvalidRange         = errors.New("axis range min must be below max")
	ErrInfeasibleResolution = errors.New("requested resolution cannot be laid out on the device")
	ErrOutOfRange           = errors.New("sample voltage outside configured scan range")
	ErrSealed               = errors.New("scan record is sealed")
	ErrEmptyScan            = errors.New("scan record contains no samples")
)

// MinStepVolts is the smallest voltage increment the mirror driver resolves.
// Schedules requesting a finer grid fail with ErrInfeasibleResolution.
const MinStepVolts = 1e-4

// VoltagePair is one (x, y) steering-mirror command. Immutable once generated.
type VoltagePair struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v VoltagePair) String() string {
	return fmt.Sprintf("(%.4fV, %.4fV)", v.X, v.Y)
}

// AxisRange describes one scan axis: the voltage extrema and the number of
// steps between them. Steps of N yields N+1 distinct voltages per axis,
// matching the inclusive grid the scanning procedure has always produced.
type AxisRange struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Steps int     `json:"steps"`
}

// StepSize returns the voltage increment between adjacent grid lines.
func (a AxisRange) StepSize() float64 {
	if a.Steps <= 0 {
		return 0
	}
	return (a.Max - a.Min) / float64(a.Steps)
}

// Points returns the number of distinct voltages along the axis.
func (a AxisRange) Points() int { return a.Steps + 1 }

// Voltage returns the grid voltage at index i, clamped to the axis maximum
// to avoid floating point accumulation pushing the last point out of range.
func (a AxisRange) Voltage(i int) float64 {
	v := a.Min + float64(i)*a.StepSize()
	if v > a.Max {
		v = a.Max
	}
	return v
}

// Contains reports whether v lies within the axis range (inclusive), with a
// small tolerance for voltages reconstructed from serialized step indices.
func (a AxisRange) Contains(v float64) bool {
	const eps = 1e-9
	return v >= a.Min-eps && v <= a.Max+eps
}

func (a AxisRange) validate() error {
	if a.Min >= a.Max {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, a.Min, a.Max)
	}
	if a.Steps < 1 {
		return fmt.Errorf("%w: steps=%d", ErrInfeasibleResolution, a.Steps)
	}
	if a.StepSize() < MinStepVolts {
		return fmt.Errorf("%w: step %.2g V below device minimum %.2g V",
			ErrInfeasibleResolution, a.StepSize(), MinStepVolts)
	}
	return nil
}
