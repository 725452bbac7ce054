// Package scandb persists scan records and alignment results to sqlite.
package scandb

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

// DB wraps the sqlite handle holding scans, samples and results.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db := &DB{sqlDB}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// SaveScan stores a sealed record and its samples in one transaction.
func (db *DB) SaveScan(rec *scan.Record) error {
	if !rec.Sealed() {
		return scan.ErrSealed
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cfg := rec.Config()
	_, err = tx.Exec(`
		INSERT INTO scans (scan_id, started_at, ordering, seed, settle_ms,
			x_min, x_max, x_steps, y_min, y_max, y_steps, partial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ScanID(),
		rec.StartedAt().Format(time.RFC3339Nano),
		string(cfg.Ordering),
		cfg.Seed,
		cfg.SettleTime.Milliseconds(),
		cfg.X.Min, cfg.X.Max, cfg.X.Steps,
		cfg.Y.Min, cfg.Y.Max, cfg.Y.Steps,
		boolToInt(rec.Partial()),
	)
	if err != nil {
		return fmt.Errorf("inserting scan %s: %w", rec.ScanID(), err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO samples (scan_id, idx, vx, vy, power_mw, measured_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, s := range rec.Samples() {
		if _, err := stmt.Exec(rec.ScanID(), i, s.Voltage.X, s.Voltage.Y,
			s.PowerMW, s.Timestamp.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting sample %d of scan %s: %w", i, rec.ScanID(), err)
		}
	}

	return tx.Commit()
}

// LoadScan rebuilds a sealed record from the database.
func (db *DB) LoadScan(scanID string) (*scan.Record, error) {
	var (
		cfg       scan.Config
		ordering  string
		startedAt string
		settleMS  int64
		partial   int
	)
	err := db.QueryRow(`
		SELECT started_at, ordering, seed, settle_ms,
			x_min, x_max, x_steps, y_min, y_max, y_steps, partial
		FROM scans WHERE scan_id = ?`, scanID).Scan(
		&startedAt, &ordering, &cfg.Seed, &settleMS,
		&cfg.X.Min, &cfg.X.Max, &cfg.X.Steps,
		&cfg.Y.Min, &cfg.Y.Max, &cfg.Y.Steps, &partial,
	)
	if err != nil {
		return nil, fmt.Errorf("loading scan %s: %w", scanID, err)
	}
	cfg.Ordering, err = scan.ParseOrdering(ordering)
	if err != nil {
		return nil, err
	}
	cfg.SettleTime = time.Duration(settleMS) * time.Millisecond
	start, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at of scan %s: %w", scanID, err)
	}

	rows, err := db.Query(`
		SELECT vx, vy, power_mw, measured_at
		FROM samples WHERE scan_id = ? ORDER BY idx`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []scan.Sample
	for rows.Next() {
		var s scan.Sample
		var measuredAt string
		if err := rows.Scan(&s.Voltage.X, &s.Voltage.Y, &s.PowerMW, &measuredAt); err != nil {
			return nil, err
		}
		s.Timestamp, err = time.Parse(time.RFC3339Nano, measuredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing sample timestamp: %w", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return scan.RestoreRecord(scanID, cfg, start, samples, partial != 0), nil
}

// ScanMeta summarises one stored scan for listings.
type ScanMeta struct {
	ScanID    string    `json:"scan_id"`
	StartedAt time.Time `json:"started_at"`
	Ordering  string    `json:"ordering"`
	Samples   int       `json:"samples"`
	Partial   bool      `json:"partial"`
}

// ListScans returns stored scans, most recent first.
func (db *DB) ListScans() ([]ScanMeta, error) {
	rows, err := db.Query(`
		SELECT s.scan_id, s.started_at, s.ordering, s.partial,
			(SELECT COUNT(*) FROM samples WHERE samples.scan_id = s.scan_id)
		FROM scans s ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanMeta
	for rows.Next() {
		var m ScanMeta
		var startedAt string
		var partial int
		if err := rows.Scan(&m.ScanID, &startedAt, &m.Ordering, &partial, &m.Samples); err != nil {
			return nil, err
		}
		m.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, err
		}
		m.Partial = partial != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveResult stores the alignment result for a scan.
func (db *DB) SaveResult(res analysis.Result, createdAt time.Time) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO results (scan_id, vx, vy, power_mw, confidence,
			low_confidence, reason, policy, lobes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ScanID, res.Voltage.X, res.Voltage.Y, res.PowerMW, res.Confidence,
		boolToInt(res.LowConfidence), res.Reason, string(res.Policy), res.Lobes,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting result for scan %s: %w", res.ScanID, err)
	}
	return nil
}

// LoadResult returns the stored alignment result for a scan.
func (db *DB) LoadResult(scanID string) (analysis.Result, error) {
	var (
		res     analysis.Result
		lowConf int
		policy  string
	)
	err := db.QueryRow(`
		SELECT scan_id, vx, vy, power_mw, confidence, low_confidence, reason, policy, lobes
		FROM results WHERE scan_id = ?`, scanID).Scan(
		&res.ScanID, &res.Voltage.X, &res.Voltage.Y, &res.PowerMW,
		&res.Confidence, &lowConf, &res.Reason, &policy, &res.Lobes,
	)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("loading result for scan %s: %w", scanID, err)
	}
	res.LowConfidence = lowConf != 0
	res.Policy = analysis.Policy(policy)
	return res, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
