package config

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/anchorplace/internal/ar"
)

// DefaultConfigPath is the path to the canonical placement defaults file.
const DefaultConfigPath = "config/placement.defaults.json"

// Built-in defaults used when a field is absent from the loaded JSON.
const (
	DefaultModelPath        = "models/1.glb"
	DefaultMaxInstances     = 10
	DefaultScaleToUnits     = 0.5
	DefaultBoundingBoxColor = "#ffffff80" // white at 50% alpha
)

// maxConfigFileSize caps config files at 1MB.
const maxConfigFileSize = 1 * 1024 * 1024

// PlacementConfig is the root configuration for the placement core. Fields
// are pointers so that a partial JSON file keeps defaults for the rest.
type PlacementConfig struct {
	// Model asset
	ModelPath    *string `json:"model_path,omitempty"`
	MaxInstances *int    `json:"max_instances,omitempty"`

	// Placed object visuals
	ScaleToUnits     *float64 `json:"scale_to_units,omitempty"`      // largest model dimension after fit (world units)
	BoundingBoxColor *string  `json:"bounding_box_color,omitempty"` // #rrggbb or #rrggbbaa

	// Session feature policy, applied once at session configuration
	DepthMode            *string `json:"depth_mode,omitempty"` // auto, automatic, disabled
	InstantPlacementMode *string `json:"instant_placement_mode,omitempty"`
	LightEstimationMode  *string `json:"light_estimation_mode,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// EmptyPlacementConfig returns a PlacementConfig with all fields unset.
func EmptyPlacementConfig() *PlacementConfig {
	return &PlacementConfig{}
}

// DefaultPlacementConfig returns a fully populated config holding the
// built-in defaults.
func DefaultPlacementConfig() *PlacementConfig {
	return &PlacementConfig{
		ModelPath:            ptrString(DefaultModelPath),
		MaxInstances:         ptrInt(DefaultMaxInstances),
		ScaleToUnits:         ptrFloat64(DefaultScaleToUnits),
		BoundingBoxColor:     ptrString(DefaultBoundingBoxColor),
		DepthMode:            ptrString(string(ar.DepthAuto)),
		InstantPlacementMode: ptrString(string(ar.InstantPlacementLocalYUp)),
		LightEstimationMode:  ptrString(string(ar.LightEstimationEnvironmentalHDR)),
	}
}

// LoadPlacementConfig loads a PlacementConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPlacementConfig(path string) (*PlacementConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPlacementConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repo root. Panics if the file cannot
// be loaded; intended for test setup.
func MustLoadDefaultConfig() *PlacementConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/ar/arsim/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPlacementConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that set values are usable.
func (c *PlacementConfig) Validate() error {
	if c.ModelPath != nil && strings.TrimSpace(*c.ModelPath) == "" {
		return fmt.Errorf("model_path must not be empty")
	}
	if c.MaxInstances != nil && *c.MaxInstances < 1 {
		return fmt.Errorf("max_instances must be at least 1, got %d", *c.MaxInstances)
	}
	if c.ScaleToUnits != nil && *c.ScaleToUnits <= 0 {
		return fmt.Errorf("scale_to_units must be positive, got %f", *c.ScaleToUnits)
	}
	if c.BoundingBoxColor != nil {
		if _, err := ParseHexColor(*c.BoundingBoxColor); err != nil {
			return fmt.Errorf("invalid bounding_box_color: %w", err)
		}
	}
	if c.DepthMode != nil {
		if _, err := ar.ParseDepthMode(*c.DepthMode); err != nil {
			return fmt.Errorf("invalid depth_mode: %w", err)
		}
	}
	if c.InstantPlacementMode != nil {
		if _, err := ar.ParseInstantPlacementMode(*c.InstantPlacementMode); err != nil {
			return fmt.Errorf("invalid instant_placement_mode: %w", err)
		}
	}
	if c.LightEstimationMode != nil {
		if _, err := ar.ParseLightEstimationMode(*c.LightEstimationMode); err != nil {
			return fmt.Errorf("invalid light_estimation_mode: %w", err)
		}
	}
	return nil
}

// GetModelPath returns the model_path value or the default.
func (c *PlacementConfig) GetModelPath() string {
	if c.ModelPath == nil {
		return DefaultModelPath
	}
	return *c.ModelPath
}

// GetMaxInstances returns the max_instances value or the default.
func (c *PlacementConfig) GetMaxInstances() int {
	if c.MaxInstances == nil {
		return DefaultMaxInstances
	}
	return *c.MaxInstances
}

// GetScaleToUnits returns the scale_to_units value or the default.
func (c *PlacementConfig) GetScaleToUnits() float64 {
	if c.ScaleToUnits == nil {
		return DefaultScaleToUnits
	}
	return *c.ScaleToUnits
}

// GetBoundingBoxColor returns the parsed bounding_box_color or the default.
func (c *PlacementConfig) GetBoundingBoxColor() color.NRGBA {
	if c.BoundingBoxColor != nil {
		if col, err := ParseHexColor(*c.BoundingBoxColor); err == nil {
			return col
		}
	}
	col, _ := ParseHexColor(DefaultBoundingBoxColor)
	return col
}

// GetFeaturePolicy returns the session feature policy, falling back to
// ar.DefaultFeaturePolicy for unset or unparsable fields.
func (c *PlacementConfig) GetFeaturePolicy() ar.FeaturePolicy {
	p := ar.DefaultFeaturePolicy()
	if c.DepthMode != nil {
		if m, err := ar.ParseDepthMode(*c.DepthMode); err == nil {
			p.DepthMode = m
		}
	}
	if c.InstantPlacementMode != nil {
		if m, err := ar.ParseInstantPlacementMode(*c.InstantPlacementMode); err == nil {
			p.InstantPlacementMode = m
		}
	}
	if c.LightEstimationMode != nil {
		if m, err := ar.ParseLightEstimationMode(*c.LightEstimationMode); err == nil {
			p.LightEstimationMode = m
		}
	}
	return p
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa". A missing alpha is opaque.
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("color %q must be #rrggbb or #rrggbbaa", s)
	}
	if len(h) == 6 {
		h += "ff"
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}
