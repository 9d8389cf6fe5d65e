package masker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cortical-data/seedsig/internal/monitoring"
	"github.com/cortical-data/seedsig/internal/sphere"
	"github.com/cortical-data/seedsig/internal/testutil"
	"github.com/cortical-data/seedsig/internal/tsclean"
	"github.com/cortical-data/seedsig/internal/volume"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// countingImage wraps an in-memory image and counts resolutions, for
// asserting memoization behaviour.
type countingImage struct {
	inner testutil.InMemoryImage
	loads int
}

func (c *countingImage) Volume() (*volume.Volume, volume.Affine, error) {
	c.loads++
	return c.inner.Volume()
}

// failingImage always fails to resolve.
type failingImage struct{}

func (failingImage) Volume() (*volume.Volume, volume.Affine, error) {
	return nil, volume.Affine{}, fmt.Errorf("broken handle")
}

func TestFitRejectsMalformedSeeds(t *testing.T) {
	m := New([][]float64{{0, 0, 0}, {1, 2}})
	err := m.Fit()

	var shapeErr *sphere.SeedShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 1, shapeErr.Index)
}

func TestFitRejectsNoSeeds(t *testing.T) {
	assert.Error(t, New(nil).Fit())
}

func TestTransformBeforeFit(t *testing.T) {
	m := New([][]float64{{0, 0, 0}})
	img := &testutil.InMemoryImage{Vol: testutil.ConstantVolume(2, 2, 2, 2, 1), Aff: volume.Identity()}

	_, err := m.Transform(img, nil)
	assert.Error(t, err)
}

func TestFitTransformNearestVoxel(t *testing.T) {
	vol := testutil.RampVolume(4, 4, 4, 5)
	img := &testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}

	m := New([][]float64{{2, 2, 2}})
	sig, err := m.FitTransform(img, nil)
	require.NoError(t, err)

	rows, cols := sig.Dims()
	assert.Equal(t, 5, rows)
	assert.Equal(t, 1, cols)
	for ti := 0; ti < 5; ti++ {
		assert.Equal(t, vol.At(2, 2, 2, ti), sig.At(ti, 0))
	}
}

func TestTransformPropagatesLoadError(t *testing.T) {
	m := New([][]float64{{0, 0, 0}})
	require.NoError(t, m.Fit())

	_, err := m.Transform(failingImage{}, nil)
	assert.ErrorContains(t, err, "broken handle")
}

func TestTransformWithMask(t *testing.T) {
	vol := testutil.RampVolume(4, 4, 4, 2)

	// Mask image on the same grid selecting only voxel (0,0,0).
	maskVol := volume.New(4, 4, 4, 1)
	maskVol.Set(0, 0, 0, 0, 1)

	m := New(
		[][]float64{{0, 0, 0}},
		WithRadius(10), // sphere covers the whole grid; mask narrows it to one voxel
		WithMask(&testutil.InMemoryImage{Vol: maskVol, Aff: volume.Identity()}),
	)
	sig, err := m.FitTransform(&testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}, nil)
	require.NoError(t, err)

	for ti := 0; ti < 2; ti++ {
		assert.Equal(t, vol.At(0, 0, 0, ti), sig.At(ti, 0))
	}
}

func TestTransformMaskResampledToDataGrid(t *testing.T) {
	vol := testutil.RampVolume(4, 4, 4, 2)

	// Mask image on a coarser 2mm grid covering the same extent, fully
	// selected: after resampling nothing is excluded.
	maskVol := volume.New(2, 2, 2, 1)
	for i := range maskVol.Data {
		maskVol.Data[i] = 1
	}

	m := New(
		[][]float64{{1, 1, 1}},
		WithMask(&testutil.InMemoryImage{Vol: maskVol, Aff: volume.Scaling(2, 2, 2)}),
	)
	sig, err := m.FitTransform(&testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}, nil)
	require.NoError(t, err)
	assert.Equal(t, vol.At(1, 1, 1, 0), sig.At(0, 0))
}

func TestTransformEmptyIntersection(t *testing.T) {
	vol := testutil.ConstantVolume(4, 4, 4, 2, 1)
	maskVol := volume.New(4, 4, 4, 1)
	maskVol.Set(0, 0, 0, 0, 1)

	m := New(
		[][]float64{{0, 0, 0}, {500, 500, 500}},
		WithMask(&testutil.InMemoryImage{Vol: maskVol, Aff: volume.Identity()}),
	)
	_, err := m.FitTransform(&testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}, nil)

	var emptyErr *sphere.EmptyIntersectionError
	require.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, 1, emptyErr.Seed)
}

func TestTransformWithSmoothing(t *testing.T) {
	// An impulse at the seed: smoothing must lower the extracted value
	// below the raw one.
	vol := volume.New(7, 7, 7, 1)
	vol.Set(3, 3, 3, 0, 100)
	img := &testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}

	raw, err := New([][]float64{{3, 3, 3}}).FitTransform(img, nil)
	require.NoError(t, err)
	smoothed, err := New([][]float64{{3, 3, 3}}, WithSmoothing(3)).FitTransform(img, nil)
	require.NoError(t, err)

	assert.Equal(t, 100.0, raw.At(0, 0))
	assert.Less(t, smoothed.At(0, 0), 100.0)
	assert.Greater(t, smoothed.At(0, 0), 0.0)
}

func TestTransformAppliesCleaning(t *testing.T) {
	// Constant-per-timepoint volume: series 0,1,2,...,9 at every voxel.
	vol := testutil.MakeVolume(3, 3, 3, 10, func(_, _, _, t int) float64 { return float64(t) })
	img := &testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}

	m := New([][]float64{{1, 1, 1}}, WithClean(tsclean.Options{Detrend: true}))
	sig, err := m.FitTransform(img, nil)
	require.NoError(t, err)

	for ti := 0; ti < 10; ti++ {
		assert.InDelta(t, 0, sig.At(ti, 0), 1e-9)
	}
}

func TestTransformPassesConfounds(t *testing.T) {
	vol := testutil.MakeVolume(3, 3, 3, 8, func(_, _, _, t int) float64 { return float64(t % 2) })
	img := &testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}

	// Confound equal to the signal itself: regression leaves residual
	// zero.
	conf := mat.NewDense(8, 1, []float64{0, 1, 0, 1, 0, 1, 0, 1})

	sig, err := New([][]float64{{1, 1, 1}}).FitTransform(img, conf)
	require.NoError(t, err)
	for ti := 0; ti < 8; ti++ {
		assert.InDelta(t, 0, sig.At(ti, 0), 1e-9)
	}
}

func TestMemoizationSkipsRecomputation(t *testing.T) {
	vol := testutil.RampVolume(4, 4, 4, 3)
	img := &countingImage{inner: testutil.InMemoryImage{Vol: vol, Aff: volume.Identity()}}

	m := New([][]float64{{2, 2, 2}}, WithMemoization())
	require.NoError(t, m.Fit())

	first, err := m.Transform(img, nil)
	require.NoError(t, err)
	second, err := m.Transform(img, nil)
	require.NoError(t, err)

	assert.True(t, mat.Equal(first, second))

	// The image resolves on every call; only the extraction is cached.
	assert.Equal(t, 2, img.loads)

	// Mutating a returned matrix must not poison the cache.
	second.Set(0, 0, 1e9)
	third, err := m.Transform(img, nil)
	require.NoError(t, err)
	assert.True(t, mat.Equal(first, third))
}

func TestMemoizationDistinguishesData(t *testing.T) {
	volA := testutil.ConstantVolume(3, 3, 3, 2, 1)
	volB := testutil.ConstantVolume(3, 3, 3, 2, 2)

	m := New([][]float64{{1, 1, 1}}, WithMemoization())
	require.NoError(t, m.Fit())

	sigA, err := m.Transform(&testutil.InMemoryImage{Vol: volA, Aff: volume.Identity()}, nil)
	require.NoError(t, err)
	sigB, err := m.Transform(&testutil.InMemoryImage{Vol: volB, Aff: volume.Identity()}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, sigA.At(0, 0))
	assert.Equal(t, 2.0, sigB.At(0, 0))
}
