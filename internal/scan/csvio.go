package scan

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Flat tabular scan format: a short key/value header carrying the scan
// configuration, a column header row, then one row per sample. The column
// order (index, voltages, elapsed time, power) follows the files the
// original LabVIEW scanning procedure emitted.

const csvFormatVersion = "1"

var csvColumns = []string{"index", "vx", "vy", "elapsed_ms", "power_mw", "timestamp"}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteRecord writes the record, header included, as delimited text.
func WriteRecord(w io.Writer, r *Record) error {
	cw := csv.NewWriter(w)
	cfg := r.Config()

	header := [][]string{
		{"beamalign_scan", csvFormatVersion},
		{"scan_id", r.ScanID()},
		{"started_at", r.StartedAt().Format(time.RFC3339Nano)},
		{"ordering", string(cfg.Ordering)},
		{"seed", strconv.FormatInt(cfg.Seed, 10)},
		{"settle_ms", strconv.FormatInt(cfg.SettleTime.Milliseconds(), 10)},
		{"x_range", formatFloat(cfg.X.Min), formatFloat(cfg.X.Max), strconv.Itoa(cfg.X.Steps)},
		{"y_range", formatFloat(cfg.Y.Min), formatFloat(cfg.Y.Max), strconv.Itoa(cfg.Y.Steps)},
		{"partial", strconv.FormatBool(r.Partial())},
		csvColumns,
	}
	for _, row := range header {
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	for i, s := range r.Samples() {
		elapsed := s.Timestamp.Sub(r.StartedAt()).Milliseconds()
		row := []string{
			strconv.Itoa(i),
			formatFloat(s.Voltage.X),
			formatFloat(s.Voltage.Y),
			strconv.FormatInt(elapsed, 10),
			formatFloat(s.PowerMW),
			s.Timestamp.Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadRecord parses a scan written by WriteRecord. The returned record is
// sealed: persisted scans are historical data, never open for more samples.
func ReadRecord(rd io.Reader) (*Record, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1

	var (
		id        string
		cfg       Config
		startedAt time.Time
		partial   bool
		samples   []Sample
	)

	first, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading scan header: %w", err)
	}
	if len(first) < 2 || first[0] != "beamalign_scan" {
		return nil, fmt.Errorf("not a scan file: missing beamalign_scan header")
	}
	if first[1] != csvFormatVersion {
		return nil, fmt.Errorf("unsupported scan format version %q", first[1])
	}

	inHeader := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading scan row: %w", err)
		}
		if len(row) == 0 {
			continue
		}

		if inHeader {
			switch row[0] {
			case "scan_id":
				id = row[1]
			case "started_at":
				startedAt, err = time.Parse(time.RFC3339Nano, row[1])
				if err != nil {
					return nil, fmt.Errorf("parsing started_at: %w", err)
				}
			case "ordering":
				cfg.Ordering, err = ParseOrdering(row[1])
				if err != nil {
					return nil, err
				}
			case "seed":
				cfg.Seed, err = strconv.ParseInt(row[1], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("parsing seed: %w", err)
				}
			case "settle_ms":
				ms, err := strconv.ParseInt(row[1], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("parsing settle_ms: %w", err)
				}
				cfg.SettleTime = time.Duration(ms) * time.Millisecond
			case "x_range":
				cfg.X, err = parseAxisRow(row)
				if err != nil {
					return nil, fmt.Errorf("parsing x_range: %w", err)
				}
			case "y_range":
				cfg.Y, err = parseAxisRow(row)
				if err != nil {
					return nil, fmt.Errorf("parsing y_range: %w", err)
				}
			case "partial":
				partial, err = strconv.ParseBool(row[1])
				if err != nil {
					return nil, fmt.Errorf("parsing partial: %w", err)
				}
			case "index":
				// column header row ends the metadata block
				inHeader = false
			default:
				// unknown header keys are skipped for forward compatibility
			}
			continue
		}

		s, err := parseSampleRow(row)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	if id == "" {
		return nil, fmt.Errorf("scan file missing scan_id")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scan file configuration: %w", err)
	}
	return RestoreRecord(id, cfg, startedAt, samples, partial), nil
}

func parseAxisRow(row []string) (AxisRange, error) {
	if len(row) != 4 {
		return AxisRange{}, fmt.Errorf("want 4 fields, got %d", len(row))
	}
	min, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return AxisRange{}, err
	}
	max, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return AxisRange{}, err
	}
	steps, err := strconv.Atoi(row[3])
	if err != nil {
		return AxisRange{}, err
	}
	return AxisRange{Min: min, Max: max, Steps: steps}, nil
}

func parseSampleRow(row []string) (Sample, error) {
	if len(row) != len(csvColumns) {
		return Sample{}, fmt.Errorf("sample row: want %d fields, got %d", len(csvColumns), len(row))
	}
	vx, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("parsing vx %q: %w", row[1], err)
	}
	vy, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("parsing vy %q: %w", row[2], err)
	}
	power, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("parsing power %q: %w", row[4], err)
	}
	ts, err := time.Parse(time.RFC3339Nano, row[5])
	if err != nil {
		return Sample{}, fmt.Errorf("parsing timestamp %q: %w", row[5], err)
	}
	return Sample{Voltage: VoltagePair{X: vx, Y: vy}, PowerMW: power, Timestamp: ts}, nil
}
