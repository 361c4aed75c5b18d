// Package config loads alignment settings from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"feature-align/internal/alignment"
	"feature-align/internal/features"
	"feature-align/internal/matching"
)

// Config is the root configuration.
type Config struct {
	Features   FeaturesConfig   `json:"features"`
	Matching   MatchingConfig   `json:"matching"`
	Estimation EstimationConfig `json:"estimation"`
	Processing ProcessingConfig `json:"processing"`
	Logging    LoggingConfig    `json:"logging"`
}

// FeaturesConfig selects and tunes the detector. Zero Levels or
// ScaleFactor keep the detector's own default.
type FeaturesConfig struct {
	Family        string  `json:"family"`  // binary or float
	Backend       string  `json:"backend"` // native or opencv
	MaxFeatures   int     `json:"max_features"`
	Preprocess    bool    `json:"preprocess"`
	Levels        int     `json:"levels"`
	ScaleFactor   float64 `json:"scale_factor"`
	FastThreshold int     `json:"fast_threshold"`
}

// MatchingConfig tunes descriptor matching.
type MatchingConfig struct {
	Strategy     string  `json:"strategy"` // exact or approximate
	Ratio        float64 `json:"ratio"`
	KeepFraction float64 `json:"keep_fraction"`
	MinKeep      int     `json:"min_keep"`
	Trees        int     `json:"trees"`
	Checks       int     `json:"checks"`
	Tables       int     `json:"tables"`
	KeyBits      int     `json:"key_bits"`
}

// EstimationConfig tunes RANSAC.
type EstimationConfig struct {
	ReprojectionThreshold float64 `json:"reprojection_threshold"`
	MinInliers            int     `json:"min_inliers"`
	MaxTrials             int     `json:"max_trials"`
	Confidence            float64 `json:"confidence"`
	Seed                  uint64  `json:"seed"`
}

// ProcessingConfig bounds parallelism. Zero Workers means one per CPU.
type ProcessingConfig struct {
	Workers int `json:"workers"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// maxFileSize bounds configuration files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Default returns the built-in configuration.
func Default() *Config {
	orb := features.DefaultORBParams()
	kd := matching.DefaultKDForestParams()
	lsh := matching.DefaultLSHParams()
	ransac := alignment.DefaultRANSACParams()
	return &Config{
		Features: FeaturesConfig{
			Family:        string(alignment.FamilyBinary),
			Backend:       string(alignment.BackendNative),
			MaxFeatures:   orb.MaxFeatures,
			FastThreshold: orb.FastThreshold,
		},
		Matching: MatchingConfig{
			Strategy:     string(alignment.StrategyExact),
			Ratio:        matching.DefaultRatio,
			KeepFraction: 1.0,
			MinKeep:      8,
			Trees:        kd.Trees,
			Checks:       kd.Checks,
			Tables:       lsh.Tables,
			KeyBits:      lsh.KeyBits,
		},
		Estimation: EstimationConfig{
			ReprojectionThreshold: ransac.Threshold,
			MinInliers:            ransac.MinInliers,
			MaxTrials:             ransac.MaxTrials,
			Confidence:            ransac.Confidence,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a JSON configuration file. Fields missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	f := c.Features
	switch alignment.Family(f.Family) {
	case alignment.FamilyBinary, alignment.FamilyFloat:
	default:
		return fmt.Errorf("features.family must be %q or %q, got %q",
			alignment.FamilyBinary, alignment.FamilyFloat, f.Family)
	}
	switch alignment.Backend(f.Backend) {
	case alignment.BackendNative, alignment.BackendOpenCV:
	default:
		return fmt.Errorf("features.backend must be %q or %q, got %q",
			alignment.BackendNative, alignment.BackendOpenCV, f.Backend)
	}
	if f.MaxFeatures <= 0 {
		return fmt.Errorf("features.max_features must be positive, got %d", f.MaxFeatures)
	}
	if f.Levels < 0 {
		return fmt.Errorf("features.levels must not be negative, got %d", f.Levels)
	}
	if f.ScaleFactor != 0 && f.ScaleFactor <= 1 {
		return fmt.Errorf("features.scale_factor must be greater than 1, got %v", f.ScaleFactor)
	}
	if f.FastThreshold < 0 || f.FastThreshold > 255 {
		return fmt.Errorf("features.fast_threshold must be in [0, 255], got %d", f.FastThreshold)
	}

	m := c.Matching
	switch alignment.Strategy(m.Strategy) {
	case alignment.StrategyExact, alignment.StrategyApproximate:
	default:
		return fmt.Errorf("matching.strategy must be %q or %q, got %q",
			alignment.StrategyExact, alignment.StrategyApproximate, m.Strategy)
	}
	if m.Ratio <= 0 || m.Ratio > 1 {
		return fmt.Errorf("matching.ratio must be in (0, 1], got %v", m.Ratio)
	}
	if m.KeepFraction <= 0 || m.KeepFraction > 1 {
		return fmt.Errorf("matching.keep_fraction must be in (0, 1], got %v", m.KeepFraction)
	}
	if m.MinKeep < 0 {
		return fmt.Errorf("matching.min_keep must not be negative, got %d", m.MinKeep)
	}
	if m.Trees < 0 || m.Checks < 0 || m.Tables < 0 || m.KeyBits < 0 {
		return fmt.Errorf("matching index sizes must not be negative")
	}

	e := c.Estimation
	if e.ReprojectionThreshold <= 0 {
		return fmt.Errorf("estimation.reprojection_threshold must be positive, got %v", e.ReprojectionThreshold)
	}
	if e.MinInliers < 4 {
		return fmt.Errorf("estimation.min_inliers must be at least 4, got %d", e.MinInliers)
	}
	if e.MaxTrials <= 0 {
		return fmt.Errorf("estimation.max_trials must be positive, got %d", e.MaxTrials)
	}
	if e.Confidence < 0 || e.Confidence >= 1 {
		return fmt.Errorf("estimation.confidence must be in [0, 1), got %v", e.Confidence)
	}

	if c.Processing.Workers < 0 {
		return fmt.Errorf("processing.workers must not be negative, got %d", c.Processing.Workers)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Options maps the configuration onto alignment options.
func (c *Config) Options() alignment.Options {
	opts := alignment.DefaultOptions()
	opts.Family = alignment.Family(c.Features.Family)
	opts.Backend = alignment.Backend(c.Features.Backend)
	opts.Strategy = alignment.Strategy(c.Matching.Strategy)
	opts.Preprocess = c.Features.Preprocess

	opts.ORB.MaxFeatures = c.Features.MaxFeatures
	opts.ORB.FastThreshold = c.Features.FastThreshold
	opts.Gradient.MaxFeatures = c.Features.MaxFeatures
	if c.Features.Levels > 0 {
		opts.ORB.Levels = c.Features.Levels
		opts.Gradient.Levels = c.Features.Levels
	}
	if c.Features.ScaleFactor > 0 {
		opts.ORB.ScaleFactor = c.Features.ScaleFactor
		opts.Gradient.ScaleFactor = c.Features.ScaleFactor
	}

	opts.Ratio = c.Matching.Ratio
	opts.KeepFraction = c.Matching.KeepFraction
	opts.MinKeep = c.Matching.MinKeep
	opts.KDForest.Trees = c.Matching.Trees
	opts.KDForest.Checks = c.Matching.Checks
	opts.LSH.Tables = c.Matching.Tables
	opts.LSH.KeyBits = c.Matching.KeyBits

	opts.RANSAC.Threshold = c.Estimation.ReprojectionThreshold
	opts.RANSAC.MinInliers = c.Estimation.MinInliers
	opts.RANSAC.MaxTrials = c.Estimation.MaxTrials
	opts.RANSAC.Confidence = c.Estimation.Confidence
	opts.RANSAC.Seed = c.Estimation.Seed

	opts.Workers = c.Processing.Workers
	return opts
}
