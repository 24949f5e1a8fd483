package core

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Vector3 is a translation in meters.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is a rotation stored in x, y, z, w order.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuaternion is the zero rotation.
func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func quaternionFromNumber(n quat.Number) Quaternion {
	return Quaternion{X: n.Imag, Y: n.Jmag, Z: n.Kmag, W: n.Real}
}

// Norm returns the Euclidean length of the quaternion.
func (q Quaternion) Norm() float64 {
	return quat.Abs(q.number())
}

// Normalized returns q scaled to unit length.
// A zero quaternion cannot be scaled and is returned as identity.
func (q Quaternion) Normalized() Quaternion {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return IdentityQuaternion()
	}
	return quaternionFromNumber(quat.Scale(1/n, q.number()))
}

// IsUnit reports whether the quaternion has unit norm within tol.
func (q Quaternion) IsUnit(tol float64) bool {
	return math.Abs(q.Norm()-1) <= tol
}

// Transform is a rigid transform from a child frame to its parent.
type Transform struct {
	Translation Vector3    `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

// IdentityTransform has no translation and no rotation.
func IdentityTransform() Transform {
	return Transform{Rotation: IdentityQuaternion()}
}

// Pose is a position and orientation expressed in some frame.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// IdentityPose sits at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: IdentityQuaternion()}
}

// Transform copies the pose verbatim into a transform.
func (p Pose) Transform() Transform {
	return Transform{
		Translation: p.Position,
		Rotation:    p.Orientation,
	}
}
