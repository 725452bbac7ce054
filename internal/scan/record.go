package scan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sample is one measurement: the voltage pair that was applied and the
// transmitted power (mW) the sensor reported. Read-only once recorded.
type Sample struct {
	Voltage   VoltagePair `json:"voltage"`
	PowerMW   float64     `json:"power_mw"`
	Timestamp time.Time   `json:"timestamp"`
}

// Record accumulates the samples of one scan in submission order and
// enforces the scan's range invariant. It is built incrementally while the
// hardware steps through the schedule, sealed when the scan completes, and
// read-only afterwards. No analysis logic lives here.
type Record struct {
	id        string
	cfg       Config
	startedAt time.Time
	samples   []Sample
	sealed    bool
	partial   bool
}

// NewRecord creates an empty record for one scan under cfg. The record gets
// a fresh scan id; startedAt stamps the beginning of hardware interaction.
func NewRecord(cfg Config, startedAt time.Time) (*Record, error) {
	if cfg.Ordering == "" {
		cfg.Ordering = OrderRaster
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Record{
		id:        uuid.NewString(),
		cfg:       cfg,
		startedAt: startedAt,
		samples:   make([]Sample, 0, cfg.Points()),
	}, nil
}

// RestoreRecord rebuilds a record from persisted state. Used by the CSV and
// sqlite loaders; the restored record comes back sealed.
func RestoreRecord(id string, cfg Config, startedAt time.Time, samples []Sample, partial bool) *Record {
	return &Record{
		id:        id,
		cfg:       cfg,
		startedAt: startedAt,
		samples:   samples,
		sealed:    true,
		partial:   partial,
	}
}

// Add appends a sample in submission order. It fails with ErrSealed after
// Seal and with ErrOutOfRange when the sample's voltage lies outside the
// configured rectangle.
func (r *Record) Add(s Sample) error {
	if r.sealed {
		return ErrSealed
	}
	if !r.cfg.X.Contains(s.Voltage.X) || !r.cfg.Y.Contains(s.Voltage.Y) {
		return fmt.Errorf("%w: %s not in [%g,%g]x[%g,%g]", ErrOutOfRange,
			s.Voltage, r.cfg.X.Min, r.cfg.X.Max, r.cfg.Y.Min, r.cfg.Y.Max)
	}
	r.samples = append(r.samples, s)
	return nil
}

// Seal transitions the record to read-only. Further Add calls fail.
func (r *Record) Seal() { r.sealed = true }

// MarkPartial flags an aborted scan. A partial record may still be analyzed;
// the analyzer widens its noise-floor estimate accordingly.
func (r *Record) MarkPartial() { r.partial = true }

// ScanID returns the record's unique identifier.
func (r *Record) ScanID() string { return r.id }

// Config returns the scan configuration the record was built under.
func (r *Record) Config() Config { return r.cfg }

// StartedAt returns the scan start time.
func (r *Record) StartedAt() time.Time { return r.startedAt }

// Sealed reports whether the record is read-only.
func (r *Record) Sealed() bool { return r.sealed }

// Partial reports whether the scan was aborted before completing.
func (r *Record) Partial() bool { return r.partial }

// Len returns the number of recorded samples.
func (r *Record) Len() int { return len(r.samples) }

// Samples returns the recorded samples in submission order. The returned
// slice is a copy; the record's own data never escapes mutation.
func (r *Record) Samples() []Sample {
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}
