package ar

import (
	"testing"

	"github.com/banshee-data/anchorplace/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

type fakeCaps struct{ depth bool }

func (c fakeCaps) IsDepthModeSupported(DepthMode) bool { return c.depth }

type nopTrackable struct{}

func (nopTrackable) CreateAnchor(geom.Pose) (Anchor, error) { return nil, nil }

func TestConfigure(t *testing.T) {
	t.Parallel()

	policy := DefaultFeaturePolicy()

	t.Run("depth supported", func(t *testing.T) {
		s := Configure(fakeCaps{depth: true}, policy)
		assert.Equal(t, DepthAutomatic, s.DepthMode)
		assert.Equal(t, InstantPlacementLocalYUp, s.InstantPlacementMode)
		assert.Equal(t, LightEstimationEnvironmentalHDR, s.LightEstimationMode)
	})

	t.Run("depth unsupported", func(t *testing.T) {
		s := Configure(fakeCaps{depth: false}, policy)
		assert.Equal(t, DepthDisabled, s.DepthMode)
	})

	t.Run("depth disabled by policy", func(t *testing.T) {
		p := policy
		p.DepthMode = DepthDisabled
		s := Configure(fakeCaps{depth: true}, p)
		assert.Equal(t, DepthDisabled, s.DepthMode)
	})

	t.Run("nil capabilities", func(t *testing.T) {
		s := Configure(nil, policy)
		assert.Equal(t, DepthDisabled, s.DepthMode)
	})
}

func TestHitResultIsValid(t *testing.T) {
	t.Parallel()

	tr := nopTrackable{}
	surface := SurfaceHitFilter()

	tests := []struct {
		name string
		hit  HitResult
		want bool
	}{
		{"plane inside polygon", HitResult{Kind: KindPlane, InPolygon: true, TrackingState: Tracking, Trackable: tr}, true},
		{"plane outside polygon", HitResult{Kind: KindPlane, TrackingState: Tracking, Trackable: tr}, false},
		{"instant placement", HitResult{Kind: KindInstantPlacement, TrackingState: Tracking, Trackable: tr}, true},
		{"augmented image", HitResult{Kind: KindAugmentedImage, TrackingState: Tracking, Trackable: tr}, true},
		{"depth point excluded", HitResult{Kind: KindDepthPoint, TrackingState: Tracking, Trackable: tr}, false},
		{"feature point excluded", HitResult{Kind: KindPoint, TrackingState: Tracking, Trackable: tr}, false},
		{"paused plane", HitResult{Kind: KindPlane, InPolygon: true, TrackingState: TrackingPaused, Trackable: tr}, false},
		{"no trackable", HitResult{Kind: KindPlane, InPolygon: true, TrackingState: Tracking}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.hit.IsValid(surface))
		})
	}
}

func TestFirstValidHit(t *testing.T) {
	tr := nopTrackable{}
	hits := []HitResult{
		{Kind: KindDepthPoint, TrackingState: Tracking, Trackable: tr, Distance: 0.3},
		{Kind: KindPoint, TrackingState: Tracking, Trackable: tr, Distance: 0.4},
		{Kind: KindPlane, InPolygon: true, TrackingState: Tracking, Trackable: tr, Distance: 0.9,
			Pose: geom.NewPose(r3.Vec{X: 1})},
		{Kind: KindPlane, InPolygon: true, TrackingState: Tracking, Trackable: tr, Distance: 1.2},
	}

	got, ok := FirstValidHit(hits, SurfaceHitFilter())
	require.True(t, ok)
	assert.Equal(t, 0.9, got.Distance)

	_, ok = FirstValidHit(hits[:2], SurfaceHitFilter())
	assert.False(t, ok)
}

func TestEditTransform(t *testing.T) {
	e := ParseEditTransforms([]string{"move", "rotate", "bogus"})
	assert.True(t, e.Has(EditMove))
	assert.True(t, e.Has(EditRotate))
	assert.False(t, e.Has(EditScale))
	assert.False(t, e.Empty())
	assert.Equal(t, "move+rotate", e.String())
	assert.True(t, ParseEditTransforms(nil).Empty())
	assert.Equal(t, "none", EditNone.String())
}

func TestParseModes(t *testing.T) {
	_, err := ParseDepthMode("auto")
	assert.NoError(t, err)
	_, err = ParseDepthMode("raw")
	assert.Error(t, err)

	_, err = ParseInstantPlacementMode("local_y_up")
	assert.NoError(t, err)
	_, err = ParseLightEstimationMode("sunlight")
	assert.Error(t, err)

	r, err := ParseTrackingFailureReason("")
	require.NoError(t, err)
	assert.Equal(t, TrackingFailureNone, r)
}

func TestParseFrameNames(t *testing.T) {
	state, err := ParseTrackingState("")
	require.NoError(t, err)
	assert.Equal(t, Tracking, state)
	state, err = ParseTrackingState("paused")
	require.NoError(t, err)
	assert.Equal(t, TrackingPaused, state)
	_, err = ParseTrackingState("lost")
	assert.Error(t, err)

	typ, err := ParsePlaneType("vertical")
	require.NoError(t, err)
	assert.Equal(t, PlaneVertical, typ)
	_, err = ParsePlaneType("ceiling")
	assert.Error(t, err)

	kind, err := ParseTrackableKind("depth_point")
	require.NoError(t, err)
	assert.Equal(t, KindDepthPoint, kind)
	_, err = ParseTrackableKind("mesh")
	assert.Error(t, err)
}
