// Package config provides configuration loading and management for panostitch.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers bounds the goroutines used by each parallel stage
		NumWorkers int `yaml:"numWorkers" toml:"numWorkers"`

		// Projection is the panorama surface: cylindrical, spherical or planar
		Projection string `yaml:"projection" toml:"projection"`

		// TileHeight is the canvas band height owned by one blending task
		TileHeight int `yaml:"tileHeight" toml:"tileHeight"`
	} `yaml:"processing" toml:"processing"`

	// Rig layout defaults, overridden by a rig manifest
	Layout struct {
		// Overlap is the nominal horizontal overlap between neighbouring frames
		Overlap float64 `yaml:"overlap" toml:"overlap"`

		// VerticalOverlap is the nominal overlap between rows
		VerticalOverlap float64 `yaml:"verticalOverlap" toml:"verticalOverlap"`
	} `yaml:"layout" toml:"layout"`

	// Feature detection parameters used for focal estimation
	Features struct {
		MaxCorners  int     `yaml:"maxCorners" toml:"maxCorners"`
		HarrisK     float64 `yaml:"harrisK" toml:"harrisK"`
		Sigma       float64 `yaml:"sigma" toml:"sigma"`
		Threshold   float64 `yaml:"threshold" toml:"threshold"`
		PatchRadius int     `yaml:"patchRadius" toml:"patchRadius"`
		RatioTest   float64 `yaml:"ratioTest" toml:"ratioTest"`

		// DetectionMaxDim downsizes larger frames before detection
		DetectionMaxDim int `yaml:"detectionMaxDim" toml:"detectionMaxDim"`
	} `yaml:"features" toml:"features"`

	// Focal estimation parameters
	Focal struct {
		// MinMatches is the correspondence count below which a pair is unresolved
		MinMatches int `yaml:"minMatches" toml:"minMatches"`

		// MinFactor and MaxFactor bound the focal search as multiples of frame width
		MinFactor float64 `yaml:"minFactor" toml:"minFactor"`
		MaxFactor float64 `yaml:"maxFactor" toml:"maxFactor"`

		// Default is the rig-wide fallback focal in native pixels (0 derives it)
		Default float64 `yaml:"default" toml:"default"`

		// DefaultFOV is the horizontal field of view in degrees used when
		// nothing else is known
		DefaultFOV float64 `yaml:"defaultFOV" toml:"defaultFOV"`
	} `yaml:"focal" toml:"focal"`

	// Alignment parameters
	Alignment struct {
		MinOverlap       int     `yaml:"minOverlap" toml:"minOverlap"`
		MinPeak          float64 `yaml:"minPeak" toml:"minPeak"`
		MinVariance      float64 `yaml:"minVariance" toml:"minVariance"`
		MaxShiftFraction float64 `yaml:"maxShiftFraction" toml:"maxShiftFraction"`
		SpanWeight       float64 `yaml:"spanWeight" toml:"spanWeight"`
		PriorWeight      float64 `yaml:"priorWeight" toml:"priorWeight"`
	} `yaml:"alignment" toml:"alignment"`

	// Blending parameters
	Blending struct {
		// Mode is feather, twoband or average
		Mode          string  `yaml:"mode" toml:"mode"`
		FeatherRadius float64 `yaml:"featherRadius" toml:"featherRadius"`
		BandSigma     float64 `yaml:"bandSigma" toml:"bandSigma"`

		// Background is the #rrggbb colour of uncovered canvas pixels
		Background string `yaml:"background" toml:"background"`

		// GapTolerance is the uncovered fraction above which a coverage gap is reported
		GapTolerance float64 `yaml:"gapTolerance" toml:"gapTolerance"`
	} `yaml:"blending" toml:"blending"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether projected frames are written to the workspace
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults" toml:"saveIntermediaryResults"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose" toml:"verbose"`

		// JPEGQuality is used when the output file is a JPEG
		JPEGQuality int `yaml:"jpegQuality" toml:"jpegQuality"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Projection = "cylindrical"
	cfg.Processing.TileHeight = 64

	cfg.Layout.Overlap = 0.2
	cfg.Layout.VerticalOverlap = 0.2

	cfg.Features.MaxCorners = 1000
	cfg.Features.HarrisK = 0.04
	cfg.Features.Sigma = 1.5
	cfg.Features.Threshold = 0.01
	cfg.Features.PatchRadius = 7
	cfg.Features.RatioTest = 0.8
	cfg.Features.DetectionMaxDim = 1024

	cfg.Focal.MinMatches = 8
	cfg.Focal.MinFactor = 0.25
	cfg.Focal.MaxFactor = 8
	cfg.Focal.DefaultFOV = 60

	cfg.Alignment.MinOverlap = 8
	cfg.Alignment.MinPeak = 0.05
	cfg.Alignment.MinVariance = 1e-4
	cfg.Alignment.MaxShiftFraction = 0.25
	cfg.Alignment.SpanWeight = 0
	cfg.Alignment.PriorWeight = 1e-3

	cfg.Blending.Mode = "feather"
	cfg.Blending.FeatherRadius = 0
	cfg.Blending.BandSigma = 2
	cfg.Blending.Background = "#000000"
	cfg.Blending.GapTolerance = 0.01

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = false
	cfg.Output.JPEGQuality = 92

	return cfg
}

// Validate checks ranges that would otherwise surface as numeric failures
// deep inside a stage.
func (c *Config) Validate() error {
	switch {
	case c.Processing.NumWorkers < 1:
		return fmt.Errorf("processing.numWorkers must be positive, got %d", c.Processing.NumWorkers)
	case c.Processing.TileHeight < 1:
		return fmt.Errorf("processing.tileHeight must be positive, got %d", c.Processing.TileHeight)
	case c.Layout.Overlap < 0 || c.Layout.Overlap >= 0.95:
		return fmt.Errorf("layout.overlap must be in [0, 0.95), got %g", c.Layout.Overlap)
	case c.Layout.VerticalOverlap < 0 || c.Layout.VerticalOverlap >= 0.95:
		return fmt.Errorf("layout.verticalOverlap must be in [0, 0.95), got %g", c.Layout.VerticalOverlap)
	case c.Focal.MinMatches < 3:
		return fmt.Errorf("focal.minMatches must be at least 3, got %d", c.Focal.MinMatches)
	case c.Focal.MinFactor <= 0 || c.Focal.MaxFactor <= c.Focal.MinFactor:
		return fmt.Errorf("focal search range [%g, %g] is empty", c.Focal.MinFactor, c.Focal.MaxFactor)
	case c.Focal.DefaultFOV <= 0 || c.Focal.DefaultFOV >= 180:
		return fmt.Errorf("focal.defaultFOV must be in (0, 180), got %g", c.Focal.DefaultFOV)
	case c.Alignment.PriorWeight <= 0:
		return fmt.Errorf("alignment.priorWeight must be positive, got %g", c.Alignment.PriorWeight)
	case c.Alignment.SpanWeight < 0:
		return fmt.Errorf("alignment.spanWeight must be non-negative, got %g", c.Alignment.SpanWeight)
	case c.Blending.GapTolerance < 0 || c.Blending.GapTolerance > 1:
		return fmt.Errorf("blending.gapTolerance must be in [0, 1], got %g", c.Blending.GapTolerance)
	case c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100:
		return fmt.Errorf("output.jpegQuality must be in [1, 100], got %d", c.Output.JPEGQuality)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
