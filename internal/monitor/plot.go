package monitor

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

// surfaceGrid adapts an analysis.Surface to plotter.GridXYZ.
type surfaceGrid struct {
	sf *analysis.Surface
}

func (g surfaceGrid) Dims() (int, int)   { return g.sf.Nx(), g.sf.Ny() }
func (g surfaceGrid) Z(c, r int) float64 { return g.sf.Power[c][r] }
func (g surfaceGrid) X(c int) float64    { return g.sf.X.Voltage(c) }
func (g surfaceGrid) Y(r int) float64    { return g.sf.Y.Voltage(r) }

// SaveSurfacePNG writes a heatmap of the record's reconstructed power
// surface to path, marking the alignment voltage when a result is given.
func SaveSurfacePNG(rec *scan.Record, res *analysis.Result, path string) error {
	sf := analysis.NewSurface(rec)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Scan %s", rec.ScanID())
	p.X.Label.Text = "Mirror X (V)"
	p.Y.Label.Text = "Mirror Y (V)"

	hm := plotter.NewHeatMap(surfaceGrid{sf}, palette.Heat(12, 1))
	p.Add(hm)

	if res != nil {
		pts := plotter.XYs{{X: res.Voltage.X, Y: res.Voltage.Y}}
		marker, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("building result marker: %w", err)
		}
		marker.Radius = vg.Points(4)
		p.Add(marker)
		p.Title.Text += fmt.Sprintf(" peak %s", res.Voltage)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("saving surface plot: %w", err)
	}
	return nil
}
