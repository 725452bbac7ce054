// Package analysis reduces a sealed scan record to an alignment result:
// surface reconstruction on the scan grid, noise smoothing, and peak or
// centroid estimation with a confidence score.
package analysis

import (
	"math"

	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

// Surface is the reconstructed power surface on the scan's regular grid.
// Power is indexed [ix][iy]; Observed marks bins that received at least one
// sample (the rest were filled by nearest-neighbour interpolation).
type Surface struct {
	X, Y     scan.AxisRange
	Power    [][]float64
	Observed [][]bool
}

// NewSurface bins the record's scattered samples onto the configured grid.
// Samples landing in the same bin are averaged; bins no sample reached are
// filled from their nearest observed neighbour so shuffled and partial scans
// still yield a complete surface.
func NewSurface(rec *scan.Record) *Surface {
	cfg := rec.Config()
	nx, ny := cfg.X.Points(), cfg.Y.Points()

	sf := &Surface{
		X:        cfg.X,
		Y:        cfg.Y,
		Power:    makeGrid(nx, ny),
		Observed: makeBoolGrid(nx, ny),
	}

	counts := makeGrid(nx, ny)
	for _, s := range rec.Samples() {
		ix := sf.binIndex(cfg.X, s.Voltage.X)
		iy := sf.binIndex(cfg.Y, s.Voltage.Y)
		sf.Power[ix][iy] += s.PowerMW
		counts[ix][iy]++
		sf.Observed[ix][iy] = true
	}
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			if counts[ix][iy] > 0 {
				sf.Power[ix][iy] /= counts[ix][iy]
			}
		}
	}

	sf.fillUnobserved()
	return sf
}

// Nx returns the number of grid columns (x voltages).
func (sf *Surface) Nx() int { return len(sf.Power) }

// Ny returns the number of grid rows (y voltages).
func (sf *Surface) Ny() int {
	if len(sf.Power) == 0 {
		return 0
	}
	return len(sf.Power[0])
}

// Voltage returns the voltage pair at grid cell (ix, iy).
func (sf *Surface) Voltage(ix, iy int) scan.VoltagePair {
	return scan.VoltagePair{X: sf.X.Voltage(ix), Y: sf.Y.Voltage(iy)}
}

// ObservedCount returns the number of bins that received at least one sample.
func (sf *Surface) ObservedCount() int {
	n := 0
	for ix := range sf.Observed {
		for iy := range sf.Observed[ix] {
			if sf.Observed[ix][iy] {
				n++
			}
		}
	}
	return n
}

func (sf *Surface) binIndex(a scan.AxisRange, v float64) int {
	i := int(math.Round((v - a.Min) / a.StepSize()))
	if i < 0 {
		i = 0
	}
	if i > a.Steps {
		i = a.Steps
	}
	return i
}

// fillUnobserved copies the nearest observed bin's power into each empty bin
// by breadth-first flood from all observed bins at once.
func (sf *Surface) fillUnobserved() {
	nx, ny := sf.Nx(), sf.Ny()

	type cell struct{ ix, iy int }
	queue := make([]cell, 0, nx*ny)
	filled := makeBoolGrid(nx, ny)
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			if sf.Observed[ix][iy] {
				queue = append(queue, cell{ix, iy})
				filled[ix][iy] = true
			}
		}
	}
	if len(queue) == 0 || len(queue) == nx*ny {
		return
	}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			ix, iy := c.ix+d[0], c.iy+d[1]
			if ix < 0 || ix >= nx || iy < 0 || iy >= ny || filled[ix][iy] {
				continue
			}
			sf.Power[ix][iy] = sf.Power[c.ix][c.iy]
			filled[ix][iy] = true
			queue = append(queue, cell{ix, iy})
		}
	}
}

// Smooth returns a new surface whose power values are a local Gaussian
// weighted average over the given radius, measured in grid-step units. The
// input surface is not modified. A non-positive radius returns a copy.
func (sf *Surface) Smooth(radius float64) *Surface {
	nx, ny := sf.Nx(), sf.Ny()
	out := &Surface{
		X:        sf.X,
		Y:        sf.Y,
		Power:    makeGrid(nx, ny),
		Observed: makeBoolGrid(nx, ny),
	}
	for ix := range sf.Observed {
		copy(out.Observed[ix], sf.Observed[ix])
	}

	if radius <= 0 {
		for ix := range sf.Power {
			copy(out.Power[ix], sf.Power[ix])
		}
		return out
	}

	// Kernel support extends to 2 radii; beyond that the Gaussian weight
	// is negligible.
	reach := int(math.Ceil(2 * radius))
	for ix := 0; ix < nx; ix++ {
		for iy := 0; iy < ny; iy++ {
			var sum, wsum float64
			for dx := -reach; dx <= reach; dx++ {
				for dy := -reach; dy <= reach; dy++ {
					jx, jy := ix+dx, iy+dy
					if jx < 0 || jx >= nx || jy < 0 || jy >= ny {
						continue
					}
					d2 := float64(dx*dx + dy*dy)
					w := math.Exp(-d2 / (2 * radius * radius))
					sum += w * sf.Power[jx][jy]
					wsum += w
				}
			}
			out.Power[ix][iy] = sum / wsum
		}
	}
	return out
}

// Max returns the grid cell with the highest power and its value.
func (sf *Surface) Max() (ix, iy int, power float64) {
	power = math.Inf(-1)
	for jx := range sf.Power {
		for jy := range sf.Power[jx] {
			if sf.Power[jx][jy] > power {
				power = sf.Power[jx][jy]
				ix, iy = jx, jy
			}
		}
	}
	return ix, iy, power
}

func makeGrid(nx, ny int) [][]float64 {
	g := make([][]float64, nx)
	for i := range g {
		g[i] = make([]float64, ny)
	}
	return g
}

func makeBoolGrid(nx, ny int) [][]bool {
	g := make([][]bool, nx)
	for i := range g {
		g[i] = make([]bool, ny)
	}
	return g
}
