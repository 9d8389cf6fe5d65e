// Package volume holds the in-memory model for 4D scan data: the volume
// itself, binary spatial masks, and the voxel-to-world affine transform.
// Data is stored in flat slices indexed through Idx helpers so hot loops
// avoid nested slice lookups.
package volume

import "fmt"

// Volume is a 4D numeric array with three spatial axes and one temporal
// axis. Data is laid out time-major: all voxels for t=0, then t=1, and so
// on. Within a timepoint the x axis varies fastest.
type Volume struct {
	NX, NY, NZ, NT int
	Data           []float64
}

// New allocates a zero-filled volume with the given dimensions.
func New(nx, ny, nz, nt int) *Volume {
	return &Volume{
		NX: nx, NY: ny, NZ: nz, NT: nt,
		Data: make([]float64, nx*ny*nz*nt),
	}
}

// NumVoxels returns the number of voxels in one spatial frame.
func (v *Volume) NumVoxels() int { return v.NX * v.NY * v.NZ }

// SpatialIdx maps a spatial voxel index (x, y, z) to its flat offset
// within a single timepoint.
func (v *Volume) SpatialIdx(x, y, z int) int {
	return (z*v.NY+y)*v.NX + x
}

// Idx maps (x, y, z, t) to the flat offset in Data.
func (v *Volume) Idx(x, y, z, t int) int {
	return t*v.NumVoxels() + v.SpatialIdx(x, y, z)
}

// At returns the value at voxel (x, y, z) and timepoint t.
func (v *Volume) At(x, y, z, t int) float64 {
	return v.Data[v.Idx(x, y, z, t)]
}

// Set stores a value at voxel (x, y, z) and timepoint t.
func (v *Volume) Set(x, y, z, t int, value float64) {
	v.Data[v.Idx(x, y, z, t)] = value
}

// Frame returns the slice of Data covering timepoint t. The slice aliases
// the volume's backing array.
func (v *Volume) Frame(t int) []float64 {
	n := v.NumVoxels()
	return v.Data[t*n : (t+1)*n]
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{NX: v.NX, NY: v.NY, NZ: v.NZ, NT: v.NT, Data: make([]float64, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// CheckShape validates that the backing slice matches the declared
// dimensions.
func (v *Volume) CheckShape() error {
	want := v.NX * v.NY * v.NZ * v.NT
	if len(v.Data) != want {
		return fmt.Errorf("volume data length %d does not match dims (%d,%d,%d,%d) = %d",
			len(v.Data), v.NX, v.NY, v.NZ, v.NT, want)
	}
	return nil
}

// Mask is a 3D boolean selection over a volume's spatial grid, stored flat
// with the same spatial layout as Volume frames.
type Mask struct {
	NX, NY, NZ int
	Data       []bool
}

// NewMask allocates an all-false mask with the given spatial dimensions.
func NewMask(nx, ny, nz int) *Mask {
	return &Mask{NX: nx, NY: ny, NZ: nz, Data: make([]bool, nx*ny*nz)}
}

// SpatialIdx maps (x, y, z) to the flat offset in Data.
func (m *Mask) SpatialIdx(x, y, z int) int {
	return (z*m.NY+y)*m.NX + x
}

// At reports whether voxel (x, y, z) is selected.
func (m *Mask) At(x, y, z int) bool { return m.Data[m.SpatialIdx(x, y, z)] }

// Set marks voxel (x, y, z).
func (m *Mask) Set(x, y, z int, selected bool) {
	m.Data[m.SpatialIdx(x, y, z)] = selected
}

// Count returns the number of selected voxels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Data {
		if b {
			n++
		}
	}
	return n
}

// MatchesVolume reports whether the mask's spatial shape equals the
// volume's spatial shape. Resampling a mismatched mask is the resampler's
// job; extraction requires an exact match.
func (m *Mask) MatchesVolume(v *Volume) bool {
	return m.NX == v.NX && m.NY == v.NY && m.NZ == v.NZ
}

// MaskFromVolume builds a mask from the first timepoint of a volume,
// selecting every voxel with a non-zero value. This is how mask images
// loaded from disk become binary masks.
func MaskFromVolume(v *Volume) *Mask {
	m := NewMask(v.NX, v.NY, v.NZ)
	frame := v.Frame(0)
	for i, val := range frame {
		if val != 0 {
			m.Data[i] = true
		}
	}
	return m
}
