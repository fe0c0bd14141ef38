package ar

import "fmt"

// DepthMode selects how the tracking service estimates scene depth.
type DepthMode string

const (
	DepthDisabled  DepthMode = "disabled"
	DepthAutomatic DepthMode = "automatic"
	// DepthAuto is a configuration value, not a session mode: it resolves
	// to DepthAutomatic when supported and DepthDisabled otherwise.
	DepthAuto DepthMode = "auto"
)

// InstantPlacementMode controls placement before planes are established.
type InstantPlacementMode string

const (
	InstantPlacementDisabled InstantPlacementMode = "disabled"
	InstantPlacementLocalYUp InstantPlacementMode = "local_y_up"
)

// LightEstimationMode controls how scene lighting is estimated.
type LightEstimationMode string

const (
	LightEstimationDisabled         LightEstimationMode = "disabled"
	LightEstimationAmbientIntensity LightEstimationMode = "ambient_intensity"
	LightEstimationEnvironmentalHDR LightEstimationMode = "environmental_hdr"
)

// ParseDepthMode validates a configured depth mode.
func ParseDepthMode(s string) (DepthMode, error) {
	switch m := DepthMode(s); m {
	case DepthDisabled, DepthAutomatic, DepthAuto:
		return m, nil
	}
	return "", fmt.Errorf("unknown depth mode %q", s)
}

// ParseInstantPlacementMode validates a configured instant placement mode.
func ParseInstantPlacementMode(s string) (InstantPlacementMode, error) {
	switch m := InstantPlacementMode(s); m {
	case InstantPlacementDisabled, InstantPlacementLocalYUp:
		return m, nil
	}
	return "", fmt.Errorf("unknown instant placement mode %q", s)
}

// ParseLightEstimationMode validates a configured light estimation mode.
func ParseLightEstimationMode(s string) (LightEstimationMode, error) {
	switch m := LightEstimationMode(s); m {
	case LightEstimationDisabled, LightEstimationAmbientIntensity, LightEstimationEnvironmentalHDR:
		return m, nil
	}
	return "", fmt.Errorf("unknown light estimation mode %q", s)
}

// Capabilities is the part of a tracking session queried at configure time.
type Capabilities interface {
	IsDepthModeSupported(mode DepthMode) bool
}

// SessionSettings is the feature set applied to a session once, when it is
// configured. It is not re-evaluated per frame.
type SessionSettings struct {
	DepthMode            DepthMode            `json:"depth_mode"`
	InstantPlacementMode InstantPlacementMode `json:"instant_placement_mode"`
	LightEstimationMode  LightEstimationMode  `json:"light_estimation_mode"`
}

// FeaturePolicy is the requested configuration before it is resolved
// against device capabilities.
type FeaturePolicy struct {
	DepthMode            DepthMode
	InstantPlacementMode InstantPlacementMode
	LightEstimationMode  LightEstimationMode
}

// DefaultFeaturePolicy requests automatic depth when available, local-Y-up
// instant placement and environmental HDR lighting.
func DefaultFeaturePolicy() FeaturePolicy {
	return FeaturePolicy{
		DepthMode:            DepthAuto,
		InstantPlacementMode: InstantPlacementLocalYUp,
		LightEstimationMode:  LightEstimationEnvironmentalHDR,
	}
}

// Configure resolves the policy against caps. DepthAuto and DepthAutomatic
// both fall back to DepthDisabled when the device cannot provide depth.
func Configure(caps Capabilities, policy FeaturePolicy) SessionSettings {
	s := SessionSettings{
		DepthMode:            DepthDisabled,
		InstantPlacementMode: policy.InstantPlacementMode,
		LightEstimationMode:  policy.LightEstimationMode,
	}
	switch policy.DepthMode {
	case DepthAuto, DepthAutomatic:
		if caps != nil && caps.IsDepthModeSupported(DepthAutomatic) {
			s.DepthMode = DepthAutomatic
		}
	}
	return s
}
