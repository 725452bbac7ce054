package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jvietorisz/BeamAlignment/internal/analysis"
	"github.com/jvietorisz/BeamAlignment/internal/scan"
)

// TuningConfig holds the alignment tuning knobs loaded at startup. All
// fields are pointers so a partial JSON file only overrides what it names;
// the Get* methods supply defaults for everything else.
type TuningConfig struct {
	// Analyzer params
	Policy            *string  `json:"policy,omitempty"`
	SmoothRadius      *float64 `json:"smooth_radius,omitempty"`
	CentroidThreshold *float64 `json:"centroid_threshold,omitempty"`
	MinConfidence     *float64 `json:"min_confidence,omitempty"`

	// Scan params
	Ordering   *string `json:"ordering,omitempty"`
	SettleTime *string `json:"settle_time,omitempty"` // duration string like "5ms"
	Seed       *int64  `json:"seed,omitempty"`

	// Controller params
	ConfirmShrink    *float64 `json:"confirm_shrink,omitempty"`
	ConfirmThreshold *float64 `json:"confirm_threshold,omitempty"`
	MaxCycles        *int     `json:"max_cycles,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil, so
// every getter falls back to its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file retain their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.Policy != nil {
		if _, err := analysis.ParsePolicy(*c.Policy); err != nil {
			return err
		}
	}
	if c.Ordering != nil {
		if _, err := scan.ParseOrdering(*c.Ordering); err != nil {
			return err
		}
	}
	if c.SettleTime != nil && *c.SettleTime != "" {
		if _, err := time.ParseDuration(*c.SettleTime); err != nil {
			return fmt.Errorf("invalid settle_time '%s': %w", *c.SettleTime, err)
		}
	}
	if c.SmoothRadius != nil && *c.SmoothRadius <= 0 {
		return fmt.Errorf("smooth_radius must be positive, got %g", *c.SmoothRadius)
	}
	if c.CentroidThreshold != nil && (*c.CentroidThreshold <= 0 || *c.CentroidThreshold >= 1) {
		return fmt.Errorf("centroid_threshold must be in (0,1), got %g", *c.CentroidThreshold)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence >= 1) {
		return fmt.Errorf("min_confidence must be in [0,1), got %g", *c.MinConfidence)
	}
	if c.ConfirmShrink != nil && (*c.ConfirmShrink <= 0 || *c.ConfirmShrink >= 1) {
		return fmt.Errorf("confirm_shrink must be in (0,1), got %g", *c.ConfirmShrink)
	}
	if c.ConfirmThreshold != nil && (*c.ConfirmThreshold < 0 || *c.ConfirmThreshold >= 1) {
		return fmt.Errorf("confirm_threshold must be in [0,1), got %g", *c.ConfirmThreshold)
	}
	if c.MaxCycles != nil && *c.MaxCycles < 1 {
		return fmt.Errorf("max_cycles must be at least 1, got %d", *c.MaxCycles)
	}
	return nil
}

// GetPolicy returns the analysis policy or the default.
func (c *TuningConfig) GetPolicy() analysis.Policy {
	if c.Policy == nil {
		return analysis.PolicyArgmax
	}
	p, err := analysis.ParsePolicy(*c.Policy)
	if err != nil {
		return analysis.PolicyArgmax
	}
	return p
}

// GetSmoothRadius returns the smooth_radius value or the default.
func (c *TuningConfig) GetSmoothRadius() float64 {
	if c.SmoothRadius == nil {
		return 0.8
	}
	return *c.SmoothRadius
}

// GetCentroidThreshold returns the centroid_threshold value or the default.
func (c *TuningConfig) GetCentroidThreshold() float64 {
	if c.CentroidThreshold == nil {
		return 0.5
	}
	return *c.CentroidThreshold
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *TuningConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.2
	}
	return *c.MinConfidence
}

// GetOrdering returns the scan ordering or the default.
func (c *TuningConfig) GetOrdering() scan.Ordering {
	if c.Ordering == nil {
		return scan.OrderRaster
	}
	o, err := scan.ParseOrdering(*c.Ordering)
	if err != nil {
		return scan.OrderRaster
	}
	return o
}

// GetSettleTime parses and returns the SettleTime as a time.Duration.
func (c *TuningConfig) GetSettleTime() time.Duration {
	if c.SettleTime == nil || *c.SettleTime == "" {
		return 5 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.SettleTime)
	if err != nil {
		return 5 * time.Millisecond
	}
	return d
}

// GetSeed returns the schedule seed or 0 (meaning time-derived).
func (c *TuningConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetConfirmShrink returns the confirm_shrink value or the default.
func (c *TuningConfig) GetConfirmShrink() float64 {
	if c.ConfirmShrink == nil {
		return 0.3
	}
	return *c.ConfirmShrink
}

// GetConfirmThreshold returns the confirm_threshold value or the default.
func (c *TuningConfig) GetConfirmThreshold() float64 {
	if c.ConfirmThreshold == nil {
		return 0.5
	}
	return *c.ConfirmThreshold
}

// GetMaxCycles returns the max_cycles value or the default.
func (c *TuningConfig) GetMaxCycles() int {
	if c.MaxCycles == nil {
		return 3
	}
	return *c.MaxCycles
}

// AnalyzerConfig assembles the analysis tuning from this config.
func (c *TuningConfig) AnalyzerConfig() analysis.Config {
	return analysis.Config{
		Policy:            c.GetPolicy(),
		SmoothRadius:      c.GetSmoothRadius(),
		CentroidThreshold: c.GetCentroidThreshold(),
		MinConfidence:     c.GetMinConfidence(),
	}
}
