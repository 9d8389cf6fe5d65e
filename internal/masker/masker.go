// Package masker provides the high-level seed extraction pipeline: an
// estimator-style wrapper that validates seeds once, then turns image
// handles into cleaned per-seed time-series. The heavy lifting lives in
// the sphere, volume, and tsclean packages; this layer orchestrates them.
package masker

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/cortical-data/seedsig/internal/monitoring"
	"github.com/cortical-data/seedsig/internal/sphere"
	"github.com/cortical-data/seedsig/internal/tsclean"
	"github.com/cortical-data/seedsig/internal/volume"
)

// Image is an opaque handle resolving to a 4D volume and its affine.
// Resolution may hit the filesystem (nifti.File) or be a no-op for data
// already in memory.
type Image interface {
	Volume() (*volume.Volume, volume.Affine, error)
}

// Config collects the masker's tunables.
type Config struct {
	// RadiusMM is the sphere radius in world units; nil extracts the
	// single nearest voxel per seed.
	RadiusMM *float64
	// MaskImg optionally restricts extraction to voxels selected by a
	// binary mask image, resampled onto the data grid when needed.
	MaskImg Image
	// SmoothingFWHM applies a Gaussian blur of this full-width at half
	// maximum (world units) before extraction; 0 disables smoothing.
	SmoothingFWHM float64
	// Clean configures the temporal cleaning stage.
	Clean tsclean.Options
	// Memoize caches extraction results keyed by a fingerprint of the
	// inputs, so repeated Transform calls on identical data are free.
	Memoize bool
}

// Option mutates a Config.
type Option func(*Config)

// WithRadius sets the sphere radius in world units.
func WithRadius(radiusMM float64) Option {
	return func(cfg *Config) { cfg.RadiusMM = &radiusMM }
}

// WithMask restricts extraction to the given binary mask image.
func WithMask(img Image) Option {
	return func(cfg *Config) { cfg.MaskImg = img }
}

// WithSmoothing enables pre-extraction Gaussian smoothing.
func WithSmoothing(fwhmMM float64) Option {
	return func(cfg *Config) {
		if fwhmMM > 0 {
			cfg.SmoothingFWHM = fwhmMM
		}
	}
}

// WithClean configures the temporal cleaning stage.
func WithClean(opts tsclean.Options) Option {
	return func(cfg *Config) { cfg.Clean = opts }
}

// WithMemoization caches the extraction stage across Transform calls.
func WithMemoization() Option {
	return func(cfg *Config) { cfg.Memoize = true }
}

// SpheresMasker extracts one averaged, cleaned time-series per seed from
// 4D images. Construct with New, call Fit once to validate the seeds,
// then Transform for each image.
type SpheresMasker struct {
	rawSeeds [][]float64
	cfg      Config

	seeds []sphere.Seed // set by Fit
	cache *memoCache
}

// New builds a masker for the given seed coordinates. Seeds are not
// validated until Fit.
func New(seeds [][]float64, opts ...Option) *SpheresMasker {
	var cfg Config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	m := &SpheresMasker{rawSeeds: seeds, cfg: cfg}
	if cfg.Memoize {
		m.cache = newMemoCache()
	}
	return m
}

// Fit validates the seed list. It fails fast on the first seed that is
// not a coordinate triplet, naming its index.
func (m *SpheresMasker) Fit() error {
	seeds, err := sphere.ParseSeeds(m.rawSeeds)
	if err != nil {
		return fmt.Errorf("seeds must be triplets of world coordinates: %w", err)
	}
	if len(seeds) == 0 {
		return fmt.Errorf("at least one seed is required")
	}
	m.seeds = seeds
	return nil
}

// Transform extracts the (T x N) signal matrix from one image and applies
// the configured cleaning. confounds may be nil.
func (m *SpheresMasker) Transform(img Image, confounds *mat.Dense) (*mat.Dense, error) {
	if m.seeds == nil {
		return nil, fmt.Errorf("masker is not fitted; call Fit before Transform")
	}

	monitoring.Stagef("masker", "loading image")
	vol, affine, err := img.Volume()
	if err != nil {
		return nil, err
	}

	if m.cfg.SmoothingFWHM > 0 {
		monitoring.Stagef("masker", "smoothing image (fwhm=%g)", m.cfg.SmoothingFWHM)
		vol = volume.SmoothGaussian(vol, affine, m.cfg.SmoothingFWHM)
	}

	var mask *volume.Mask
	if m.cfg.MaskImg != nil {
		mask, err = m.resolveMask(vol, affine)
		if err != nil {
			return nil, err
		}
	}

	monitoring.Stagef("masker", "extracting signals for %d seeds", len(m.seeds))
	signals, err := m.extract(vol, affine, mask)
	if err != nil {
		return nil, err
	}

	monitoring.Stagef("masker", "cleaning extracted signals")
	opts := m.cfg.Clean
	opts.Confounds = confounds
	return tsclean.Clean(signals, opts)
}

// FitTransform is Fit followed by Transform.
func (m *SpheresMasker) FitTransform(img Image, confounds *mat.Dense) (*mat.Dense, error) {
	if err := m.Fit(); err != nil {
		return nil, err
	}
	return m.Transform(img, confounds)
}

// resolveMask loads the mask image, binarizes it, and resamples it onto
// the data grid when the shapes or affines differ.
func (m *SpheresMasker) resolveMask(vol *volume.Volume, affine volume.Affine) (*volume.Mask, error) {
	maskVol, maskAffine, err := m.cfg.MaskImg.Volume()
	if err != nil {
		return nil, err
	}
	mask := volume.MaskFromVolume(maskVol)

	if mask.MatchesVolume(vol) && maskAffine.Equal(affine) {
		return mask, nil
	}
	monitoring.Stagef("masker", "resampling mask (%d,%d,%d) onto data grid (%d,%d,%d)",
		mask.NX, mask.NY, mask.NZ, vol.NX, vol.NY, vol.NZ)
	return volume.ResampleMaskNearest(mask, maskAffine, affine, vol.NX, vol.NY, vol.NZ)
}

// extract runs the core extraction, via the memo cache when enabled.
func (m *SpheresMasker) extract(vol *volume.Volume, affine volume.Affine, mask *volume.Mask) (*mat.Dense, error) {
	if m.cache == nil {
		return sphere.Extract(m.seeds, vol, affine, m.cfg.RadiusMM, mask)
	}

	key := fingerprint(m.seeds, vol, affine, m.cfg.RadiusMM, mask)
	if cached, ok := m.cache.get(key); ok {
		monitoring.Stagef("masker", "extraction cache hit")
		return cached, nil
	}
	signals, err := sphere.Extract(m.seeds, vol, affine, m.cfg.RadiusMM, mask)
	if err != nil {
		return nil, err
	}
	m.cache.put(key, signals)
	return signals, nil
}
