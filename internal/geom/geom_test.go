package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestFitScale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		size   r3.Vec
		target float64
		want   float64
	}{
		{"largest x", r3.Vec{X: 2, Y: 1, Z: 0.5}, 0.5, 0.25},
		{"largest z", r3.Vec{X: 0.1, Y: 0.2, Z: 0.25}, 0.5, 2},
		{"already fits exactly", r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, 0.5, 1},
		{"degenerate", r3.Vec{}, 0.5, 1},
		{"non-positive target", r3.Vec{X: 1}, 0, 1},
		{"non-finite", r3.Vec{X: math.Inf(1)}, 0.5, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FitScale(Extents{Size: tc.size}, tc.target)
			assert.InDelta(t, tc.want, got, 1e-12)
		})
	}
}

func TestScaledExtentsFitTarget(t *testing.T) {
	e := Extents{Size: r3.Vec{X: 3, Y: 1.5, Z: 0.75}, Center: r3.Vec{Y: 0.75}}
	s := FitScale(e, 0.5)
	scaled := e.Scaled(s)

	assert.InDelta(t, 0.5, scaled.MaxDimension(), 1e-12)
	// aspect ratio preserved
	assert.InDelta(t, e.Size.X/e.Size.Y, scaled.Size.X/scaled.Size.Y, 1e-12)
	assert.InDelta(t, 0.125, scaled.Center.Y, 1e-12)
}

func TestExtentsBoxRoundTrip(t *testing.T) {
	b := r3.Box{Min: r3.Vec{X: -1, Y: 0, Z: -2}, Max: r3.Vec{X: 1, Y: 3, Z: 2}}
	e := ExtentsFromBox(b)

	assert.Equal(t, r3.Vec{X: 2, Y: 3, Z: 4}, e.Size)
	assert.Equal(t, r3.Vec{X: 0, Y: 1.5, Z: 0}, e.Center)
	assert.Equal(t, b, e.Box())
}

func TestPoseValidate(t *testing.T) {
	require.NoError(t, NewPose(r3.Vec{X: 1, Y: 2, Z: 3}).Validate())
	require.NoError(t, NewPoseRotated(r3.Vec{}, math.Pi/3, r3.Vec{Y: 1}).Validate())

	bad := Pose{Position: r3.Vec{X: math.NaN()}, Rotation: IdentityRotation}
	assert.Error(t, bad.Validate())

	unnormalised := Pose{Rotation: quat.Number{Real: 2}}
	assert.Error(t, unnormalised.Validate())
}

func TestPoseTransformAndNormal(t *testing.T) {
	// Quarter turn about Z tips local +Y onto world -X.
	p := NewPoseRotated(r3.Vec{X: 1}, math.Pi/2, r3.Vec{Z: 1})

	n := p.YAxis()
	assert.InDelta(t, -1, n.X, 1e-9)
	assert.InDelta(t, 0, n.Y, 1e-9)

	w := p.Transform(r3.Vec{Y: 1})
	assert.InDelta(t, 0, w.X, 1e-9)
	assert.InDelta(t, 0, w.Y, 1e-9)
}
