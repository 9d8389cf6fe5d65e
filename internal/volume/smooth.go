package volume

import "math"

// fwhmToSigma converts a full-width-half-maximum to a Gaussian sigma:
// fwhm = sigma * 2*sqrt(2*ln 2).
const fwhmToSigma = 2.3548200450309493

// SmoothGaussian applies an isotropic Gaussian blur of the given FWHM (in
// physical units) to every timepoint of the volume, returning a new volume.
// The blur is separable: one 1D pass per spatial axis, with the kernel
// width derived from the affine's per-axis voxel size. A non-positive FWHM
// returns an unmodified copy.
func SmoothGaussian(v *Volume, affine Affine, fwhm float64) *Volume {
	out := v.Clone()
	if fwhm <= 0 {
		return out
	}

	sizes := affine.VoxelSizes()
	var kernels [3][]float64
	for axis := 0; axis < 3; axis++ {
		sigmaVox := 0.0
		if sizes[axis] > 0 {
			sigmaVox = fwhm / fwhmToSigma / sizes[axis]
		}
		kernels[axis] = gaussianKernel(sigmaVox)
	}

	tmp := make([]float64, v.NumVoxels())
	for t := 0; t < v.NT; t++ {
		frame := out.Frame(t)
		smoothAxis(frame, tmp, v.NX, v.NY, v.NZ, 0, kernels[0])
		smoothAxis(frame, tmp, v.NX, v.NY, v.NZ, 1, kernels[1])
		smoothAxis(frame, tmp, v.NX, v.NY, v.NZ, 2, kernels[2])
	}
	return out
}

// gaussianKernel builds a normalized 1D Gaussian kernel truncated at three
// sigma. A sigma too small to spread beyond one voxel yields the identity
// kernel.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		return []float64{1}
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// smoothAxis convolves one spatial frame along the given axis in place,
// using tmp as scratch. Kernel taps falling outside the grid are dropped
// and the remaining weights renormalized, so border voxels keep the mean
// of what the kernel actually covered.
func smoothAxis(frame, tmp []float64, nx, ny, nz, axis int, kernel []float64) {
	if len(kernel) == 1 {
		return
	}
	radius := len(kernel) / 2

	dims := [3]int{nx, ny, nz}
	strides := [3]int{1, nx, nx * ny}
	n := dims[axis]
	stride := strides[axis]

	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				idx := (z*ny+y)*nx + x
				pos := [3]int{x, y, z}[axis]

				acc := 0.0
				wsum := 0.0
				for k := -radius; k <= radius; k++ {
					p := pos + k
					if p < 0 || p >= n {
						continue
					}
					w := kernel[k+radius]
					acc += w * frame[idx+(p-pos)*stride]
					wsum += w
				}
				tmp[idx] = acc / wsum
			}
		}
	}
	copy(frame, tmp)
}
