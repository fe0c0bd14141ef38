// Package geom holds the small amount of 3D math the placement core needs:
// world poses, axis-aligned extents and uniform scale-to-fit.
//
// Vectors and rotations are gonum's spatial/r3 types so that backends can
// hand poses over without conversion.
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// poseUnitTolerance is the allowed deviation from a unit quaternion before
// a pose is considered invalid.
const poseUnitTolerance = 1e-3

// Pose is a rigid transform in AR world space: a position and a unit
// quaternion orientation. Poses are values and never mutated in place.
type Pose struct {
	Position r3.Vec
	Rotation quat.Number
}

// IdentityRotation is the "no rotation" quaternion.
var IdentityRotation = quat.Number{Real: 1}

// NewPose returns a pose at position p with identity orientation.
func NewPose(p r3.Vec) Pose {
	return Pose{Position: p, Rotation: IdentityRotation}
}

// NewPoseRotated returns a pose at p rotated by alpha radians around axis.
func NewPoseRotated(p r3.Vec, alpha float64, axis r3.Vec) Pose {
	return Pose{Position: p, Rotation: quat.Number(r3.NewRotation(alpha, axis))}
}

// Validate reports whether the pose is usable for anchoring: all
// components finite and the rotation a unit quaternion.
func (p Pose) Validate() error {
	for _, v := range []float64{p.Position.X, p.Position.Y, p.Position.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("pose position is not finite: %v", p.Position)
		}
	}
	if n := quat.Abs(p.Rotation); math.Abs(n-1) > poseUnitTolerance {
		return fmt.Errorf("pose rotation is not a unit quaternion (|q|=%.4f)", n)
	}
	return nil
}

// Transform maps a point from the pose's local frame into world space.
func (p Pose) Transform(local r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(p.Rotation).Rotate(local), p.Position)
}

// YAxis returns the pose's local +Y axis in world space. For a plane's
// centre pose this is the plane normal.
func (p Pose) YAxis() r3.Vec {
	return r3.Rotation(p.Rotation).Rotate(r3.Vec{Y: 1})
}

func (p Pose) String() string {
	return fmt.Sprintf("pos=(%.3f, %.3f, %.3f) rot=(%.3f, %.3f, %.3f, %.3f)",
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.Real, p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag)
}

// Extents describes an axis-aligned box by its full size along each axis
// and its centre, the form renderers report for a loaded model.
type Extents struct {
	Size   r3.Vec
	Center r3.Vec
}

// ExtentsFromBox converts a min/max box into size + centre form.
func ExtentsFromBox(b r3.Box) Extents {
	return Extents{
		Size:   r3.Sub(b.Max, b.Min),
		Center: r3.Scale(0.5, r3.Add(b.Min, b.Max)),
	}
}

// Box returns the min/max corners of the extents.
func (e Extents) Box() r3.Box {
	half := r3.Scale(0.5, e.Size)
	return r3.Box{Min: r3.Sub(e.Center, half), Max: r3.Add(e.Center, half)}
}

// MaxDimension is the largest of the three sizes.
func (e Extents) MaxDimension() float64 {
	return math.Max(e.Size.X, math.Max(e.Size.Y, e.Size.Z))
}

// Scaled returns the extents after a uniform scale about the origin.
func (e Extents) Scaled(s float64) Extents {
	return Extents{Size: r3.Scale(s, e.Size), Center: r3.Scale(s, e.Center)}
}

// FitScale returns the uniform scale factor that makes the largest
// dimension of e equal to target. Degenerate extents (zero, negative or
// non-finite) scale by 1.
func FitScale(e Extents, target float64) float64 {
	m := e.MaxDimension()
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) || target <= 0 {
		return 1
	}
	return target / m
}
