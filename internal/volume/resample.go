package volume

import "fmt"

// ResampleError reports a failure to align a mask onto a target grid.
// It wraps the underlying cause (typically a singular source affine).
type ResampleError struct {
	Err error
}

func (e *ResampleError) Error() string {
	return fmt.Sprintf("mask resampling failed: %v", e.Err)
}

func (e *ResampleError) Unwrap() error { return e.Err }

// ResampleMaskNearest aligns a mask onto the target grid described by
// dstAffine and (nx, ny, nz) using nearest-neighbour interpolation.
//
// Each target voxel centre is mapped to world space through dstAffine, then
// pulled back into the source grid through the inverse of srcAffine. The
// nearest source voxel supplies the value; target voxels that land outside
// the source grid are unselected.
func ResampleMaskNearest(m *Mask, srcAffine, dstAffine Affine, nx, ny, nz int) (*Mask, error) {
	inv, err := srcAffine.Inverse()
	if err != nil {
		return nil, &ResampleError{Err: err}
	}

	out := NewMask(nx, ny, nz)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				wx, wy, wz := dstAffine.Apply(float64(i), float64(j), float64(k))
				si, sj, sk := inv.Apply(wx, wy, wz)

				x := int(roundHalfUp(si))
				y := int(roundHalfUp(sj))
				z := int(roundHalfUp(sk))
				if x < 0 || x >= m.NX || y < 0 || y >= m.NY || z < 0 || z >= m.NZ {
					continue
				}
				if m.At(x, y, z) {
					out.Set(i, j, k, true)
				}
			}
		}
	}
	return out, nil
}

// roundHalfUp rounds to the nearest integer with .5 going up, matching the
// rounding used when the source and target grids share voxel centres.
func roundHalfUp(v float64) float64 {
	if v >= 0 {
		return float64(int(v + 0.5))
	}
	return -float64(int(-v + 0.5))
}
