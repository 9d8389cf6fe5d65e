// Package config loads extraction job configuration from JSON files. The
// schema mirrors the masker's options so one file fully describes a run;
// omitted fields keep their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cortical-data/seedsig/internal/tsclean"
)

// JobConfig is the root configuration for one extraction job.
type JobConfig struct {
	// Seeds are world-space coordinate triplets, one per region.
	Seeds [][]float64 `json:"seeds"`

	// Extraction params
	RadiusMM        *float64 `json:"radius_mm,omitempty"`
	SmoothingFWHMMM *float64 `json:"smoothing_fwhm_mm,omitempty"`

	// Cleaning params
	Detrend     *bool    `json:"detrend,omitempty"`
	Standardize *bool    `json:"standardize,omitempty"`
	LowPassHz   *float64 `json:"low_pass_hz,omitempty"`
	HighPassHz  *float64 `json:"high_pass_hz,omitempty"`
	TRSeconds   *float64 `json:"t_r_seconds,omitempty"`
}

// LoadJobConfig loads a JobConfig from a JSON file. The file must have a
// .json extension and stay under the max file size.
func LoadJobConfig(path string) (*JobConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &JobConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks parameter ranges. Seed shape is validated by the masker
// at fit time; this only enforces what the masker cannot express.
func (c *JobConfig) Validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("at least one seed is required")
	}
	if c.RadiusMM != nil && *c.RadiusMM < 0 {
		return fmt.Errorf("radius_mm must be non-negative, got %g", *c.RadiusMM)
	}
	if c.SmoothingFWHMMM != nil && *c.SmoothingFWHMMM < 0 {
		return fmt.Errorf("smoothing_fwhm_mm must be non-negative, got %g", *c.SmoothingFWHMMM)
	}
	if c.LowPassHz != nil && *c.LowPassHz <= 0 {
		return fmt.Errorf("low_pass_hz must be positive when set, got %g", *c.LowPassHz)
	}
	if c.HighPassHz != nil && *c.HighPassHz <= 0 {
		return fmt.Errorf("high_pass_hz must be positive when set, got %g", *c.HighPassHz)
	}
	if (c.LowPassHz != nil || c.HighPassHz != nil) && c.TRSeconds == nil {
		return fmt.Errorf("t_r_seconds is required when band-pass filtering is enabled")
	}
	if c.TRSeconds != nil && *c.TRSeconds <= 0 {
		return fmt.Errorf("t_r_seconds must be positive, got %g", *c.TRSeconds)
	}
	if c.LowPassHz != nil && c.HighPassHz != nil && *c.HighPassHz >= *c.LowPassHz {
		return fmt.Errorf("high_pass_hz %g must lie below low_pass_hz %g", *c.HighPassHz, *c.LowPassHz)
	}
	return nil
}

// CleanOptions assembles the temporal cleaning options from the config.
func (c *JobConfig) CleanOptions() tsclean.Options {
	opts := tsclean.Options{}
	if c.Detrend != nil {
		opts.Detrend = *c.Detrend
	}
	if c.Standardize != nil {
		opts.Standardize = *c.Standardize
	}
	if c.LowPassHz != nil {
		opts.LowPassHz = *c.LowPassHz
	}
	if c.HighPassHz != nil {
		opts.HighPassHz = *c.HighPassHz
	}
	if c.TRSeconds != nil {
		opts.TRSeconds = *c.TRSeconds
	}
	return opts
}
