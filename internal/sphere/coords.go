// Package sphere implements seed-based signal extraction: mapping
// world-space seed coordinates onto voxel-grid membership and reducing a
// 4D volume to one averaged time-series per seed.
package sphere

import (
	"math"

	"github.com/cortical-data/seedsig/internal/volume"
)

// Seed is a world-space coordinate marking the centre of a region of
// interest.
type Seed [3]float64

// ParseSeeds validates raw coordinate lists and converts them to Seeds.
// Every entry must have exactly three coordinates; the first malformed
// entry is reported as a SeedShapeError with its 0-based index.
func ParseSeeds(raw [][]float64) ([]Seed, error) {
	seeds := make([]Seed, len(raw))
	for i, c := range raw {
		if len(c) != 3 {
			return nil, &SeedShapeError{Index: i, Len: len(c)}
		}
		seeds[i] = Seed{c[0], c[1], c[2]}
	}
	return seeds, nil
}

// CoordGrid holds the world-space coordinate of every voxel in a spatial
// grid, stored as one flat slice per axis with the same layout as Volume
// frames. It is computed once per extraction and shared read-only across
// all seeds.
type CoordGrid struct {
	NX, NY, NZ int
	X, Y, Z    []float64
}

// PhysicalCoords maps every voxel index of an (nx, ny, nz) grid through
// the affine. This is the homogeneous index grid multiplied by the 4x4
// transform with the homogeneous row dropped, unrolled to avoid
// materializing the index array.
func PhysicalCoords(nx, ny, nz int, affine volume.Affine) *CoordGrid {
	n := nx * ny * nz
	g := &CoordGrid{
		NX: nx, NY: ny, NZ: nz,
		X: make([]float64, n),
		Y: make([]float64, n),
		Z: make([]float64, n),
	}
	idx := 0
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				x, y, z := affine.Apply(float64(i), float64(j), float64(k))
				g.X[idx] = x
				g.Y[idx] = y
				g.Z[idx] = z
				idx++
			}
		}
	}
	return g
}

// Membership computes the boolean voxel selection for one seed.
//
// With a radius, every voxel whose centre lies within radius of the seed
// (inclusive boundary) is selected. Without a radius, or when the radius
// is too small to reach any voxel centre, the selection degrades to the
// nearest voxel: every grid position achieving the exact global minimum
// squared distance. Ties at the minimum are all included.
//
// This layer never fails: pre-mask, at least one voxel is always selected.
func (g *CoordGrid) Membership(seed Seed, radius *float64) []bool {
	n := len(g.X)
	dist := make([]float64, n)
	minDist := math.Inf(1)
	for i := 0; i < n; i++ {
		dx := g.X[i] - seed[0]
		dy := g.Y[i] - seed[1]
		dz := g.Z[i] - seed[2]
		d := dx*dx + dy*dy + dz*dz
		dist[i] = d
		if d < minDist {
			minDist = d
		}
	}

	sel := make([]bool, n)
	if radius == nil || *radius**radius < minDist {
		// Nearest voxel: exact comparison on purpose so that symmetric
		// grids include every tied voxel.
		for i, d := range dist {
			sel[i] = d == minDist
		}
		return sel
	}
	r2 := *radius * *radius
	for i, d := range dist {
		sel[i] = d <= r2
	}
	return sel
}
