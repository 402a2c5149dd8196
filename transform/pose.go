// Package transform holds the rigid-transform algebra used to turn
// COLMAP's world-to-camera poses into camera-to-world transforms.
//
// All functions are pure and total over well-formed numeric input;
// NaN/Inf in, NaN/Inf out.
package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// QuatToMatrix converts a unit quaternion to a 3x3 rotation matrix.
// The input is trusted to be unit-norm and is not re-normalized.
func QuatToMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*y*y - 2*z*z, 2*x*y - 2*z*w, 2*x*z + 2*y*w,
		2*x*y + 2*z*w, 1 - 2*x*x - 2*z*z, 2*y*z - 2*x*w,
		2*x*z - 2*y*w, 2*y*z + 2*x*w, 1 - 2*x*x - 2*y*y,
	})
}

// MatrixToQuat converts a proper rotation matrix to a unit quaternion.
// It branches on the trace and then on the dominant diagonal entry so
// that the square root argument stays well away from zero near 180
// degree rotations.
func MatrixToQuat(r mat.Matrix) quat.Number {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1.0)
		return quat.Number{
			Real: 0.25 / s,
			Imag: (r.At(2, 1) - r.At(1, 2)) * s,
			Jmag: (r.At(0, 2) - r.At(2, 0)) * s,
			Kmag: (r.At(1, 0) - r.At(0, 1)) * s,
		}
	case r.At(0, 0) > r.At(1, 1) && r.At(0, 0) > r.At(2, 2):
		s := 2.0 * math.Sqrt(1.0+r.At(0, 0)-r.At(1, 1)-r.At(2, 2))
		return quat.Number{
			Real: (r.At(2, 1) - r.At(1, 2)) / s,
			Imag: 0.25 * s,
			Jmag: (r.At(0, 1) + r.At(1, 0)) / s,
			Kmag: (r.At(0, 2) + r.At(2, 0)) / s,
		}
	case r.At(1, 1) > r.At(2, 2):
		s := 2.0 * math.Sqrt(1.0+r.At(1, 1)-r.At(0, 0)-r.At(2, 2))
		return quat.Number{
			Real: (r.At(0, 2) - r.At(2, 0)) / s,
			Imag: (r.At(0, 1) + r.At(1, 0)) / s,
			Jmag: 0.25 * s,
			Kmag: (r.At(1, 2) + r.At(2, 1)) / s,
		}
	default:
		s := 2.0 * math.Sqrt(1.0+r.At(2, 2)-r.At(0, 0)-r.At(1, 1))
		return quat.Number{
			Real: (r.At(1, 0) - r.At(0, 1)) / s,
			Imag: (r.At(0, 2) + r.At(2, 0)) / s,
			Jmag: (r.At(1, 2) + r.At(2, 1)) / s,
			Kmag: 0.25 * s,
		}
	}
}

// InvertPose inverts a rigid transform. Rotation matrices are
// orthonormal, so the inverse rotation is the transpose and the
// inverse translation is -Rᵀ·t. Exact, no iterative solve.
func InvertPose(r mat.Matrix, t r3.Vector) (*mat.Dense, r3.Vector) {
	var rt mat.Dense
	rt.CloneFrom(r.T())

	var ti mat.VecDense
	ti.MulVec(&rt, mat.NewVecDense(3, []float64{t.X, t.Y, t.Z}))
	return &rt, r3.Vector{X: -ti.AtVec(0), Y: -ti.AtVec(1), Z: -ti.AtVec(2)}
}

// CameraToWorld builds the homogeneous 4x4 camera-to-world transform
// from a world-to-camera quaternion and translation.
func CameraToWorld(q quat.Number, t r3.Vector) *mat.Dense {
	r, tc := InvertPose(QuatToMatrix(q), t)

	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, r.At(i, j))
		}
	}
	out.Set(0, 3, tc.X)
	out.Set(1, 3, tc.Y)
	out.Set(2, 3, tc.Z)
	out.Set(3, 3, 1)
	return out
}

// Rotation returns the upper-left 3x3 block of a homogeneous transform.
func Rotation(m mat.Matrix) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out
}

// Translation returns the translation column of a homogeneous transform.
func Translation(m mat.Matrix) r3.Vector {
	return r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
}

// EulerZXY decomposes a rotation matrix into Z-X-Y order Euler angles
// (radians): R = Ry(y)·Rx(x)·Rz(z). Near the x = ±90° singularity the
// y angle is fixed to zero.
func EulerZXY(r mat.Matrix) (x, y, z float64) {
	sx := -r.At(1, 2)
	if math.Abs(sx) > 1-1e-9 {
		x = math.Asin(math.Max(-1, math.Min(1, sx)))
		z = math.Atan2(-r.At(0, 1), r.At(0, 0))
		return x, 0, z
	}
	x = math.Asin(sx)
	y = math.Atan2(r.At(0, 2), r.At(2, 2))
	z = math.Atan2(r.At(1, 0), r.At(1, 1))
	return x, y, z
}

// Rad2Deg converts radians to degrees.
func Rad2Deg(rad float64) float64 {
	return rad * 180 / math.Pi
}
