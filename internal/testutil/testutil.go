// Package testutil provides shared test fixtures: synthetic volumes,
// affines, and in-memory image handles.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"testing"

	"github.com/cortical-data/seedsig/internal/volume"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// MakeVolume builds a volume whose value at (x, y, z, t) is fill(x, y, z, t).
func MakeVolume(nx, ny, nz, nt int, fill func(x, y, z, t int) float64) *volume.Volume {
	v := volume.New(nx, ny, nz, nt)
	for t := 0; t < nt; t++ {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					v.Set(x, y, z, t, fill(x, y, z, t))
				}
			}
		}
	}
	return v
}

// ConstantVolume builds a volume holding the same value everywhere.
func ConstantVolume(nx, ny, nz, nt int, value float64) *volume.Volume {
	return MakeVolume(nx, ny, nz, nt, func(_, _, _, _ int) float64 { return value })
}

// RampVolume builds a volume whose value encodes its own coordinates:
// x + 10*y + 100*z + 1000*t. Handy for asserting which voxels were
// averaged.
func RampVolume(nx, ny, nz, nt int) *volume.Volume {
	return MakeVolume(nx, ny, nz, nt, func(x, y, z, t int) float64 {
		return float64(x) + 10*float64(y) + 100*float64(z) + 1000*float64(t)
	})
}

// FullMask builds a mask selecting every voxel.
func FullMask(nx, ny, nz int) *volume.Mask {
	m := volume.NewMask(nx, ny, nz)
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}

// InMemoryImage is an image handle backed by data already in memory,
// satisfying the masker's Image interface without touching disk.
type InMemoryImage struct {
	Vol *volume.Volume
	Aff volume.Affine
}

// Volume returns the held volume and affine.
func (img *InMemoryImage) Volume() (*volume.Volume, volume.Affine, error) {
	return img.Vol, img.Aff, nil
}
