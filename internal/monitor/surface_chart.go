package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/httputil"
)

// viridis matches the palette used across the debug charts.
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// handleSurfaceChart renders the reconstructed power surface of one scan as
// an HTML chart. Debugging-only endpoint; the real UI consumes the JSON API.
// Query params: scan_id (required), smooth (optional radius in grid steps).
func (s *Server) handleSurfaceChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	scanID := r.URL.Query().Get("scan_id")
	if scanID == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "missing 'scan_id' parameter")
		return
	}
	rec, err := s.db.LoadScan(scanID)
	if err != nil {
		httputil.NotFound(w, "no such scan")
		return
	}

	sf := analysis.NewSurface(rec)
	if sm := r.URL.Query().Get("smooth"); sm != "" {
		var radius float64
		if _, err := fmt.Sscanf(sm, "%g", &radius); err != nil || radius < 0 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "invalid 'smooth' parameter")
			return
		}
		sf = sf.Smooth(radius)
	}

	data := make([]opts.ScatterData, 0, sf.Nx()*sf.Ny())
	maxPower := 0.0
	for ix := 0; ix < sf.Nx(); ix++ {
		for iy := 0; iy < sf.Ny(); iy++ {
			v := sf.Voltage(ix, iy)
			p := sf.Power[ix][iy]
			if p > maxPower {
				maxPower = p
			}
			data = append(data, opts.ScatterData{Value: []interface{}{v.X, v.Y, p}})
		}
	}
	if maxPower == 0 {
		maxPower = 1
	}

	subtitle := fmt.Sprintf("scan=%s points=%d", scanID, len(data))
	if res, err := s.db.LoadResult(scanID); err == nil {
		subtitle += fmt.Sprintf(" peak=%s confidence=%.3f", res.Voltage, res.Confidence)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan Power Surface", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Transmitted Power Surface", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: sf.X.Min, Max: sf.X.Max, Name: "Mirror X (V)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: sf.Y.Min, Max: sf.Y.Max, Name: "Mirror Y (V)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxPower),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("power", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
