// Command align drives the beam alignment pipeline offline: run a scan
// against the simulated mirror, analyze a stored or CSV scan, run the full
// closed loop, or render a surface plot. Results land in the same database
// the monitor server reads.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/align"
	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/config"
	"github.com/jvietorisz/BeamAlignment/internal/mirror"
	"github.com/jvietorisz/BeamAlignment/internal/monitor"
	"github.com/jvietorisz/BeamAlignment/internal/scan"
	"github.com/jvietorisz/BeamAlignment/internal/scandb"
	"github.com/jvietorisz/BeamAlignment/internal/timeutil"
)

var (
	mode     = flag.String("mode", "align", "Mode: scan, align, analyze, or plot")
	dbFile   = flag.String("db", "alignment_data.db", "Path to the scan database")
	tuning   = flag.String("tuning", "", "Optional tuning JSON file")
	csvFile  = flag.String("csv", "", "CSV file to read (analyze) or write (scan)")
	scanID   = flag.String("scan-id", "", "Stored scan to analyze or plot")
	plotFile = flag.String("out", "surface.png", "Output path for plot mode")

	xMin   = flag.Float64("xmin", -10, "X axis minimum voltage")
	xMax   = flag.Float64("xmax", 10, "X axis maximum voltage")
	xSteps = flag.Int("xsteps", 20, "X axis step count")
	yMin   = flag.Float64("ymin", -10, "Y axis minimum voltage")
	yMax   = flag.Float64("ymax", 10, "Y axis maximum voltage")
	ySteps = flag.Int("ysteps", 20, "Y axis step count")

	simX     = flag.Float64("sim-x", 2.5, "Simulated beam center X voltage")
	simY     = flag.Float64("sim-y", -1.5, "Simulated beam center Y voltage")
	simSigma = flag.Float64("sim-sigma", 2.0, "Simulated beam width in volts")
	simNoise = flag.Float64("sim-noise", 0.02, "Simulated sensor noise in mW")
)

func main() {
	flag.Parse()

	tc := config.EmptyTuningConfig()
	if *tuning != "" {
		var err error
		tc, err = config.LoadTuningConfig(*tuning)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	ctx := context.Background()

	var err error
	switch *mode {
	case "scan":
		err = runScan(ctx, tc)
	case "align":
		err = runAlign(ctx, tc)
	case "analyze":
		err = runAnalyze(tc)
	case "plot":
		err = runPlot()
	default:
		log.Fatalf("unknown mode %q (want scan, align, analyze, or plot)", *mode)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", *mode, err)
	}
}

func scanConfig(tc *config.TuningConfig) scan.Config {
	return scan.Config{
		X:          scan.AxisRange{Min: *xMin, Max: *xMax, Steps: *xSteps},
		Y:          scan.AxisRange{Min: *yMin, Max: *yMax, Steps: *ySteps},
		Ordering:   tc.GetOrdering(),
		Seed:       tc.GetSeed(),
		SettleTime: tc.GetSettleTime(),
	}
}

func simMirror(clock timeutil.Clock) *mirror.Sim {
	return mirror.NewSim(mirror.SimConfig{
		Lobes: []mirror.Lobe{{
			Center: scan.VoltagePair{X: *simX, Y: *simY},
			Sigma:  *simSigma,
			AmpMW:  4.0,
		}},
		BaselineMW: 0.01,
		NoiseMW:    *simNoise,
	}, clock)
}

func controller(tc *config.TuningConfig) (*align.Controller, *mirror.Sim, error) {
	clock := timeutil.RealClock{}
	sim := simMirror(clock)
	ctrl, err := align.New(sim, clock, align.Config{
		Scan:             scanConfig(tc),
		Analyzer:         tc.AnalyzerConfig(),
		ConfirmShrink:    tc.GetConfirmShrink(),
		ConfirmThreshold: tc.GetConfirmThreshold(),
		MaxCycles:        tc.GetMaxCycles(),
	})
	if err != nil {
		return nil, nil, err
	}
	return ctrl, sim, nil
}

func runScan(ctx context.Context, tc *config.TuningConfig) error {
	ctrl, sim, err := controller(tc)
	if err != nil {
		return err
	}
	defer sim.Close()

	rec, err := ctrl.Scan(ctx, scanConfig(tc))
	if err != nil {
		return err
	}
	log.Printf("scan %s complete: %d samples (partial=%v)", rec.ScanID(), rec.Len(), rec.Partial())

	if *csvFile != "" {
		f, err := os.Create(*csvFile)
		if err != nil {
			return fmt.Errorf("creating CSV file: %w", err)
		}
		defer f.Close()
		if err := scan.WriteRecord(f, rec); err != nil {
			return err
		}
	}
	return saveScan(rec)
}

func runAlign(ctx context.Context, tc *config.TuningConfig) error {
	ctrl, sim, err := controller(tc)
	if err != nil {
		return err
	}
	defer sim.Close()

	start := time.Now()
	res, records, err := ctrl.Align(ctx)
	if err != nil {
		return err
	}
	log.Printf("aligned at %s in %s over %d scans (confidence %.3f)",
		res.Voltage, time.Since(start).Round(time.Millisecond), len(records), res.Confidence)
	if res.LowConfidence {
		log.Printf("low confidence result: %s", res.Reason)
	}

	db, err := scandb.Open(*dbFile)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, rec := range records {
		if err := db.SaveScan(rec); err != nil {
			return err
		}
	}
	if err := db.SaveResult(res, time.Now()); err != nil {
		return err
	}
	return printJSON(res)
}

func runAnalyze(tc *config.TuningConfig) error {
	rec, err := loadRecord()
	if err != nil {
		return err
	}

	analyzer, err := analysis.New(tc.AnalyzerConfig())
	if err != nil {
		return err
	}
	res, err := analyzer.Analyze(rec)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runPlot() error {
	rec, err := loadRecord()
	if err != nil {
		return err
	}

	var res *analysis.Result
	if *scanID != "" {
		db, err := scandb.Open(*dbFile)
		if err != nil {
			return err
		}
		defer db.Close()
		if r, err := db.LoadResult(*scanID); err == nil {
			res = &r
		}
	}

	if err := monitor.SaveSurfacePNG(rec, res, *plotFile); err != nil {
		return err
	}
	log.Printf("wrote %s", *plotFile)
	return nil
}

// loadRecord reads a scan from the CSV file when -csv is set, otherwise
// from the database by -scan-id.
func loadRecord() (*scan.Record, error) {
	if *csvFile != "" {
		f, err := os.Open(*csvFile)
		if err != nil {
			return nil, fmt.Errorf("opening CSV file: %w", err)
		}
		defer f.Close()
		return scan.ReadRecord(f)
	}
	if *scanID == "" {
		return nil, fmt.Errorf("either -csv or -scan-id is required")
	}
	db, err := scandb.Open(*dbFile)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.LoadScan(*scanID)
}

func saveScan(rec *scan.Record) error {
	db, err := scandb.Open(*dbFile)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.SaveScan(rec)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
