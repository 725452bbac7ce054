// Package align closes the loop between scanning and the steering mirror:
// run a scan, analyze it, move to the estimated optimum, and verify with a
// narrower confirmation scan.
package align

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/mirror"
	"github.com/jvietorisz/BeamAlignment/internal/monitoring"
	"github.com/jvietorisz/BeamAlignment/internal/scan"
	"github.com/jvietorisz/BeamAlignment/internal/timeutil"
)

// State is the controller's position in its cycle.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateAnalyzing  State = "analyzing"
	StateMoving     State = "moving"
	StateConfirming State = "confirming"
)

// Config tunes one alignment run.
type Config struct {
	// Scan is the full-range scan configuration the run starts from and
	// retreats to when confirmation fails. Its rectangle is also the
	// device-safe envelope confirmation scans are clamped to.
	Scan scan.Config

	// Analyzer tunes the surface analysis for both scan stages.
	Analyzer analysis.Config

	// ConfirmShrink is the confirmation scan's span as a fraction of the
	// full range, centred on the candidate voltage.
	ConfirmShrink float64

	// ConfirmThreshold is the confirmation confidence required to accept
	// the alignment and return to Idle.
	ConfirmThreshold float64

	// MaxCycles bounds how many times the controller retreats to a full
	// scan before giving up and returning its best flagged result.
	MaxCycles int
}

func (c Config) validate() error {
	if err := c.Scan.Validate(); err != nil {
		return fmt.Errorf("scan config: %w", err)
	}
	if err := c.Analyzer.Validate(); err != nil {
		return err
	}
	if c.ConfirmShrink <= 0 || c.ConfirmShrink >= 1 {
		return fmt.Errorf("confirm_shrink must be in (0,1), got %g", c.ConfirmShrink)
	}
	if c.ConfirmThreshold <= 0 || c.ConfirmThreshold >= 1 {
		return fmt.Errorf("confirm_threshold must be in (0,1), got %g", c.ConfirmThreshold)
	}
	if c.MaxCycles < 1 {
		return fmt.Errorf("max_cycles must be at least 1, got %d", c.MaxCycles)
	}
	return nil
}

// Controller owns the mirror for the duration of a run. Cycles are strictly
// sequential; there is never more than one scan in flight against the device.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	mirror   mirror.Mirror
	clock    timeutil.Clock
	analyzer *analysis.Analyzer
	state    State
	history  []State
}

// New validates cfg and returns a Controller driving m. A nil clock uses the
// real one. The mirror handle is explicit: there is no ambient device state.
func New(m mirror.Mirror, clock timeutil.Clock, cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	analyzer, err := analysis.New(cfg.Analyzer)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:      cfg,
		mirror:   m,
		clock:    clock,
		analyzer: analyzer,
		state:    StateIdle,
		history:  []State{StateIdle},
	}, nil
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns every state the controller has passed through, in order.
func (c *Controller) History() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]State, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.history = append(c.history, s)
	c.mu.Unlock()
}

// Scan runs one scan under cfg and returns the sealed record. A hardware
// fault aborts the scan but keeps what was measured: the record comes back
// sealed and marked partial rather than discarded. Other errors (context
// cancellation, invalid configuration) are returned as errors.
func (c *Controller) Scan(ctx context.Context, cfg scan.Config) (*scan.Record, error) {
	sched, err := scan.NewSchedule(cfg)
	if err != nil {
		return nil, err
	}
	rec, err := scan.NewRecord(cfg, c.clock.Now())
	if err != nil {
		return nil, err
	}

	monitoring.Logf("scan %s: %d points over [%g,%g]x[%g,%g] (%s)",
		rec.ScanID(), sched.Len(), cfg.X.Min, cfg.X.Max, cfg.Y.Min, cfg.Y.Max, cfg.Ordering)

	for {
		v, ok := sched.Next()
		if !ok {
			break
		}
		if err := c.mirror.Move(ctx, v); err != nil {
			if errors.Is(err, mirror.ErrHardwareFault) {
				monitoring.Logf("scan %s: aborting on %v", rec.ScanID(), err)
				rec.MarkPartial()
				break
			}
			return nil, err
		}
		if cfg.SettleTime > 0 {
			c.clock.Sleep(cfg.SettleTime)
		}
		power, err := c.mirror.ReadPower(ctx)
		if err != nil {
			if errors.Is(err, mirror.ErrHardwareFault) {
				monitoring.Logf("scan %s: aborting on %v", rec.ScanID(), err)
				rec.MarkPartial()
				break
			}
			return nil, err
		}
		s := scan.Sample{Voltage: v, PowerMW: power, Timestamp: c.clock.Now()}
		if err := rec.Add(s); err != nil {
			return nil, err
		}
	}

	rec.Seal()
	return rec, nil
}

// Align runs the full cycle: scan, analyze, move, confirm, retreating to a
// full-range scan when confirmation confidence falls short. It returns the
// accepted result, or after MaxCycles the best flagged result seen. The
// records of every stage are returned for persistence and plotting.
func (c *Controller) Align(ctx context.Context) (analysis.Result, []*scan.Record, error) {
	defer c.setState(StateIdle)

	var (
		records []*scan.Record
		best    analysis.Result
		haveAny bool
	)

	for cycle := 0; cycle < c.cfg.MaxCycles; cycle++ {
		c.setState(StateScanning)
		rec, err := c.Scan(ctx, c.cfg.Scan)
		if err != nil {
			return analysis.Result{}, records, err
		}
		records = append(records, rec)

		c.setState(StateAnalyzing)
		res, err := c.analyzer.Analyze(rec)
		if err != nil {
			return analysis.Result{}, records, err
		}

		c.setState(StateMoving)
		if err := c.mirror.Move(ctx, res.Voltage); err != nil {
			return analysis.Result{}, records, err
		}

		c.setState(StateConfirming)
		confirmCfg := c.narrowedConfig(res.Voltage)
		confirmRec, err := c.Scan(ctx, confirmCfg)
		if err != nil {
			return analysis.Result{}, records, err
		}
		records = append(records, confirmRec)

		confirm, err := c.analyzer.Analyze(confirmRec)
		if err != nil {
			return analysis.Result{}, records, err
		}
		if !haveAny || confirm.Confidence > best.Confidence {
			best = confirm
			haveAny = true
		}

		if confirm.Confidence >= c.cfg.ConfirmThreshold && !confirm.LowConfidence {
			if err := c.mirror.Move(ctx, confirm.Voltage); err != nil {
				return analysis.Result{}, records, err
			}
			monitoring.Logf("alignment accepted at %s (confidence %.3f)",
				confirm.Voltage, confirm.Confidence)
			return confirm, records, nil
		}

		monitoring.Logf("confirmation confidence %.3f below %.3f, retreating to full-range scan",
			confirm.Confidence, c.cfg.ConfirmThreshold)
	}

	best.LowConfidence = true
	if best.Reason == "" {
		best.Reason = fmt.Sprintf("no confirmation above %.3f after %d cycles",
			c.cfg.ConfirmThreshold, c.cfg.MaxCycles)
	}
	return best, records, nil
}

// narrowedConfig builds the confirmation scan: the same grid resolution over
// a rectangle shrunk by ConfirmShrink, centred on v and clamped to the
// device-safe envelope of the full-range scan.
func (c *Controller) narrowedConfig(v scan.VoltagePair) scan.Config {
	cfg := c.cfg.Scan
	cfg.X = narrowAxis(cfg.X, v.X, c.cfg.ConfirmShrink)
	cfg.Y = narrowAxis(cfg.Y, v.Y, c.cfg.ConfirmShrink)

	// A very tight shrink on a fine grid can drop below the device's
	// minimum step; coarsen until the schedule is feasible again.
	for cfg.X.StepSize() < scan.MinStepVolts && cfg.X.Steps > 1 {
		cfg.X.Steps /= 2
	}
	for cfg.Y.StepSize() < scan.MinStepVolts && cfg.Y.Steps > 1 {
		cfg.Y.Steps /= 2
	}
	return cfg
}

func narrowAxis(a scan.AxisRange, center, shrink float64) scan.AxisRange {
	span := (a.Max - a.Min) * shrink
	min := center - span/2
	max := center + span/2
	if min < a.Min {
		min, max = a.Min, a.Min+span
	}
	if max > a.Max {
		min, max = a.Max-span, a.Max
	}
	return scan.AxisRange{Min: min, Max: max, Steps: a.Steps}
}
