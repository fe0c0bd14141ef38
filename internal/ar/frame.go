package ar

import (
	"fmt"

	"github.com/banshee-data/anchorplace/internal/geom"
)

// TrackingState is the tracking status of a trackable or anchor.
type TrackingState int

const (
	TrackingStopped TrackingState = iota
	TrackingPaused
	Tracking
)

func (s TrackingState) String() string {
	switch s {
	case Tracking:
		return "tracking"
	case TrackingPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// TrackingFailureReason explains why the camera is not tracking.
type TrackingFailureReason string

const (
	TrackingFailureNone                 TrackingFailureReason = "none"
	TrackingFailureBadState             TrackingFailureReason = "bad_state"
	TrackingFailureInsufficientLight    TrackingFailureReason = "insufficient_light"
	TrackingFailureExcessiveMotion      TrackingFailureReason = "excessive_motion"
	TrackingFailureInsufficientFeatures TrackingFailureReason = "insufficient_features"
	TrackingFailureCameraUnavailable    TrackingFailureReason = "camera_unavailable"
)

// ParseTrackingFailureReason accepts the names above; the empty string
// means TrackingFailureNone.
func ParseTrackingFailureReason(s string) (TrackingFailureReason, error) {
	if s == "" {
		return TrackingFailureNone, nil
	}
	switch r := TrackingFailureReason(s); r {
	case TrackingFailureNone, TrackingFailureBadState, TrackingFailureInsufficientLight,
		TrackingFailureExcessiveMotion, TrackingFailureInsufficientFeatures,
		TrackingFailureCameraUnavailable:
		return r, nil
	}
	return "", fmt.Errorf("unknown tracking failure reason %q", s)
}

// Anchor ties a world pose to the tracking state of the AR world. Anchors
// are owned by the tracking service.
type Anchor interface {
	ID() string
	Pose() geom.Pose
	TrackingState() TrackingState
	// Detach stops tracking the anchor. Calling it twice is harmless.
	Detach()
}

// Trackable is anything the tracking service can create anchors on.
type Trackable interface {
	CreateAnchor(pose geom.Pose) (Anchor, error)
}

// PlaneType is the orientation class of a detected plane.
type PlaneType string

const (
	PlaneHorizontalUpward   PlaneType = "horizontal_upward"
	PlaneHorizontalDownward PlaneType = "horizontal_downward"
	PlaneVertical           PlaneType = "vertical"
)

// Plane is a detected planar surface as reported in one frame.
type Plane struct {
	ID         string
	Type       PlaneType
	CenterPose geom.Pose
	Trackable  Trackable
}

// CreateAnchor anchors pose on the plane.
func (p Plane) CreateAnchor(pose geom.Pose) (Anchor, error) {
	if p.Trackable == nil {
		return nil, fmt.Errorf("plane %s has no trackable", p.ID)
	}
	return p.Trackable.CreateAnchor(pose)
}

// TrackableKind identifies what a hit test intersected.
type TrackableKind string

const (
	KindPlane            TrackableKind = "plane"
	KindPoint            TrackableKind = "point"
	KindDepthPoint       TrackableKind = "depth_point"
	KindInstantPlacement TrackableKind = "instant_placement"
	KindAugmentedImage   TrackableKind = "augmented_image"
)

// HitResult is one intersection of a screen ray with the physical scene.
type HitResult struct {
	Pose          geom.Pose
	Kind          TrackableKind
	TrackingState TrackingState
	// InPolygon is meaningful for plane hits only: whether the hit pose
	// lies inside the plane's detected polygon.
	InPolygon bool
	Distance  float64
	Trackable Trackable
}

// HitFilter selects which kinds of hit results count as valid.
type HitFilter struct {
	Plane            bool
	Point            bool
	DepthPoint       bool
	InstantPlacement bool
	AugmentedImage   bool
}

// SurfaceHitFilter accepts reconstructed surfaces only: planes and surface
// approximations, never depth samples or feature points.
func SurfaceHitFilter() HitFilter {
	return HitFilter{Plane: true, InstantPlacement: true, AugmentedImage: true}
}

// IsValid reports whether h is a tracked hit of an accepted kind. Plane
// hits must also fall inside the plane polygon.
func (h HitResult) IsValid(f HitFilter) bool {
	if h.TrackingState != Tracking || h.Trackable == nil {
		return false
	}
	switch h.Kind {
	case KindPlane:
		return f.Plane && h.InPolygon
	case KindPoint:
		return f.Point
	case KindDepthPoint:
		return f.DepthPoint
	case KindInstantPlacement:
		return f.InstantPlacement
	case KindAugmentedImage:
		return f.AugmentedImage
	}
	return false
}

// CreateAnchor anchors the hit pose on the intersected trackable.
func (h HitResult) CreateAnchor() (Anchor, error) {
	if h.Trackable == nil {
		return nil, fmt.Errorf("hit result of kind %s has no trackable", h.Kind)
	}
	return h.Trackable.CreateAnchor(h.Pose)
}

// FirstValidHit returns the first result in hit-test order accepted by f.
func FirstValidHit(hits []HitResult, f HitFilter) (HitResult, bool) {
	for _, h := range hits {
		if h.IsValid(f) {
			return h, true
		}
	}
	return HitResult{}, false
}

// Frame is the latest camera frame delivered by the tracking service.
type Frame interface {
	TimestampNanos() int64
	// UpdatedPlanes returns planes whose tracking changed in this frame.
	UpdatedPlanes() []Plane
	// HitTest casts a ray through screen coordinates (x, y), nearest hit first.
	HitTest(x, y float32) []HitResult
}

// TapEvent is a confirmed single tap from the gesture recognizer.
type TapEvent struct {
	X, Y float32
	// Node is the scene node under the tap, or nil for empty space.
	Node Node
	// Frame is the camera frame current when the tap was confirmed. It
	// may be nil before the first frame arrives.
	Frame Frame
}

// ParseTrackingState accepts "tracking", "paused" and "stopped". The empty
// string means Tracking.
func ParseTrackingState(s string) (TrackingState, error) {
	switch s {
	case "", "tracking":
		return Tracking, nil
	case "paused":
		return TrackingPaused, nil
	case "stopped":
		return TrackingStopped, nil
	}
	return TrackingStopped, fmt.Errorf("unknown tracking state %q", s)
}

// ParsePlaneType validates a plane type name.
func ParsePlaneType(s string) (PlaneType, error) {
	switch t := PlaneType(s); t {
	case PlaneHorizontalUpward, PlaneHorizontalDownward, PlaneVertical:
		return t, nil
	}
	return "", fmt.Errorf("unknown plane type %q", s)
}

// ParseTrackableKind validates a hit-result kind name.
func ParseTrackableKind(s string) (TrackableKind, error) {
	switch k := TrackableKind(s); k {
	case KindPlane, KindPoint, KindDepthPoint, KindInstantPlacement, KindAugmentedImage:
		return k, nil
	}
	return "", fmt.Errorf("unknown trackable kind %q", s)
}
