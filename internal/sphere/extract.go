package sphere

import (
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/cortical-data/seedsig/internal/volume"
)

// Extract reduces a 4D volume to a (T x N) signal matrix: one averaged
// time-series per seed, in seed input order. radius is the shared sphere
// radius in world units; nil selects the single nearest voxel per seed.
// mask, when non-nil, restricts which voxels any sphere may include and
// must already match the volume's spatial shape.
//
// Column i is the per-timepoint unweighted mean over seed i's final
// membership set. A seed whose sphere intersected with the mask selects
// zero voxels aborts the whole call with an EmptyIntersectionError; when
// several seeds fail, the lowest-index one is reported regardless of
// internal scheduling.
//
// The input volume, affine, and mask are never mutated. An empty seed
// list is rejected with an error.
func Extract(seeds []Seed, vol *volume.Volume, affine volume.Affine, radius *float64, mask *volume.Mask) (*mat.Dense, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("at least one seed is required")
	}
	if err := vol.CheckShape(); err != nil {
		return nil, err
	}
	if mask != nil && !mask.MatchesVolume(vol) {
		return nil, fmt.Errorf("mask shape (%d,%d,%d) does not match volume shape (%d,%d,%d)",
			mask.NX, mask.NY, mask.NZ, vol.NX, vol.NY, vol.NZ)
	}
	if radius != nil && *radius < 0 {
		return nil, fmt.Errorf("radius must be non-negative, got %g", *radius)
	}

	// World coordinates of every voxel, computed once and shared
	// read-only across seeds.
	grid := PhysicalCoords(vol.NX, vol.NY, vol.NZ, affine)

	signals := mat.NewDense(vol.NT, len(seeds), nil)

	// Seeds are independent: fan the per-seed work out over a bounded
	// pool. Each worker writes only its own column and error slot.
	workers := runtime.GOMAXPROCS(0)
	if workers > len(seeds) {
		workers = len(seeds)
	}
	if workers < 1 {
		workers = 1
	}

	errs := make([]error, len(seeds))
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				errs[i] = extractSeed(i, seeds[i], grid, vol, radius, mask, signals)
			}
		}()
	}
	for i := range seeds {
		next <- i
	}
	close(next)
	wg.Wait()

	// Report the first failing seed in input order so behaviour does not
	// depend on scheduling.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return signals, nil
}

// extractSeed fills column i of signals with seed i's averaged series.
func extractSeed(i int, seed Seed, grid *CoordGrid, vol *volume.Volume, radius *float64, mask *volume.Mask, signals *mat.Dense) error {
	membership := grid.Membership(seed, radius)
	if mask != nil {
		for v := range membership {
			membership[v] = membership[v] && mask.Data[v]
		}
	}

	// Selected spatial offsets, gathered once so the time loop walks a
	// compact index list.
	var selected []int
	for v, in := range membership {
		if in {
			selected = append(selected, v)
		}
	}
	if len(selected) == 0 {
		return &EmptyIntersectionError{Seed: i}
	}

	inv := 1.0 / float64(len(selected))
	for t := 0; t < vol.NT; t++ {
		frame := vol.Frame(t)
		sum := 0.0
		for _, v := range selected {
			sum += frame[v]
		}
		signals.Set(t, i, sum*inv)
	}
	return nil
}
