package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuaternion_Normalized(t *testing.T) {
	tests := []struct {
		name string
		in   Quaternion
		want Quaternion
	}{
		{"identity", IdentityQuaternion(), IdentityQuaternion()},
		{"x axis control", Quaternion{X: 1, W: 1}, Quaternion{X: 1 / math.Sqrt2, W: 1 / math.Sqrt2}},
		{"scaled", Quaternion{Z: 2}, Quaternion{Z: 1}},
		{"zero falls back to identity", Quaternion{}, IdentityQuaternion()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalized()
			assert.InDelta(t, tt.want.X, got.X, 1e-12)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-12)
			assert.InDelta(t, tt.want.Z, got.Z, 1e-12)
			assert.InDelta(t, tt.want.W, got.W, 1e-12)
			assert.True(t, got.IsUnit(1e-9))
		})
	}
}

func TestQuaternion_NormalizedNaN(t *testing.T) {
	got := Quaternion{X: math.NaN(), W: 1}.Normalized()
	assert.Equal(t, IdentityQuaternion(), got)
}

func TestQuaternion_Norm(t *testing.T) {
	assert.InDelta(t, 2.0, Quaternion{X: 1, Y: 1, Z: 1, W: 1}.Norm(), 1e-12)
	assert.False(t, Quaternion{X: 1, W: 1}.IsUnit(1e-6))
}

func TestPose_Transform(t *testing.T) {
	p := Pose{
		Position:    Vector3{X: 1, Y: 2, Z: 3},
		Orientation: Quaternion{X: 0.5, Y: 0.5, Z: 0.5, W: 0.5},
	}
	tf := p.Transform()
	assert.Equal(t, p.Position, tf.Translation)
	assert.Equal(t, p.Orientation, tf.Rotation)
}

func TestIdentities(t *testing.T) {
	assert.Equal(t, Quaternion{W: 1}, IdentityTransform().Rotation)
	assert.Equal(t, Vector3{}, IdentityTransform().Translation)
	assert.Equal(t, Quaternion{W: 1}, IdentityPose().Orientation)
}
