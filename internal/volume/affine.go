package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 4x4 homogeneous transform mapping integer voxel indices to
// physical-space (world) coordinates, stored row-major.
type Affine [16]float64

// Identity returns the identity affine (voxel indices are world
// coordinates).
func Identity() Affine {
	return Affine{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Scaling returns a diagonal affine with the given voxel sizes and zero
// translation. Used as the fallback when an image carries only pixel
// dimensions.
func Scaling(sx, sy, sz float64) Affine {
	return Affine{
		sx, 0, 0, 0,
		0, sy, 0, 0,
		0, 0, sz, 0,
		0, 0, 0, 1,
	}
}

// Apply maps a voxel index (i, j, k) to its world coordinate.
func (a Affine) Apply(i, j, k float64) (x, y, z float64) {
	x = a[0]*i + a[1]*j + a[2]*k + a[3]
	y = a[4]*i + a[5]*j + a[6]*k + a[7]
	z = a[8]*i + a[9]*j + a[10]*k + a[11]
	return x, y, z
}

// Mat returns the affine as a gonum 4x4 dense matrix.
func (a Affine) Mat() *mat.Dense {
	return mat.NewDense(4, 4, a[:])
}

// Inverse returns the inverse affine, used to pull world coordinates back
// into a source voxel grid when resampling. Returns an error for singular
// transforms.
func (a Affine) Inverse() (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.Mat()); err != nil {
		return Affine{}, fmt.Errorf("affine is not invertible: %w", err)
	}
	var out Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = inv.At(r, c)
		}
	}
	return out, nil
}

// VoxelSizes returns the physical size of one voxel step along each grid
// axis: the Euclidean norm of each of the affine's first three columns.
func (a Affine) VoxelSizes() [3]float64 {
	var sizes [3]float64
	for axis := 0; axis < 3; axis++ {
		sizes[axis] = math.Sqrt(a[axis]*a[axis] + a[4+axis]*a[4+axis] + a[8+axis]*a[8+axis])
	}
	return sizes
}

// Equal reports exact element-wise equality.
func (a Affine) Equal(b Affine) bool {
	return a == b
}
