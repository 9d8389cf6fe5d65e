// Package tsclean post-processes extracted signal matrices: confound
// regression, detrending, Butterworth band-pass filtering, and
// standardization. All operations work column-wise on (T x N) matrices
// and return new matrices; inputs are never modified.
package tsclean

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Options selects the cleaning stages. Zero values disable each stage.
type Options struct {
	// Detrend removes a per-column linear trend.
	Detrend bool
	// Standardize scales each column to zero mean and unit variance.
	Standardize bool
	// LowPassHz and HighPassHz are band edges in Hz; 0 disables the
	// corresponding filter. Any filtering requires TRSeconds.
	LowPassHz  float64
	HighPassHz float64
	// TRSeconds is the repetition time (sampling interval) in seconds.
	TRSeconds float64
	// Confounds is an optional (T x C) matrix of nuisance regressors
	// projected out of every column.
	Confounds *mat.Dense
}

// Clean applies the selected stages to a (T x N) signal matrix, in order:
// confound regression, detrending, band-pass filtering, standardization.
func Clean(sig *mat.Dense, opts Options) (*mat.Dense, error) {
	out := mat.DenseCopyOf(sig)

	if opts.Confounds != nil {
		cleaned, err := removeConfounds(out, opts.Confounds)
		if err != nil {
			return nil, err
		}
		out = cleaned
	}

	if opts.Detrend {
		detrendColumns(out)
	}

	if opts.LowPassHz > 0 || opts.HighPassHz > 0 {
		if opts.TRSeconds <= 0 {
			return nil, fmt.Errorf("band-pass filtering requires a positive repetition time, got %g", opts.TRSeconds)
		}
		if err := bandpassColumns(out, opts.LowPassHz, opts.HighPassHz, 1/opts.TRSeconds); err != nil {
			return nil, err
		}
	}

	if opts.Standardize {
		standardizeColumns(out)
	}
	return out, nil
}

// removeConfounds projects each signal column onto the span of the
// confound regressors (plus an intercept) and keeps the residual.
func removeConfounds(sig, confounds *mat.Dense) (*mat.Dense, error) {
	t, _ := sig.Dims()
	ct, cc := confounds.Dims()
	if ct != t {
		return nil, fmt.Errorf("confounds have %d rows, want %d (one per timepoint)", ct, t)
	}

	// Intercept column so the projection also absorbs column means.
	design := mat.NewDense(t, cc+1, nil)
	for r := 0; r < t; r++ {
		design.Set(r, 0, 1)
	}
	design.Slice(0, t, 1, cc+1).(*mat.Dense).Copy(confounds)

	var beta mat.Dense
	if err := beta.Solve(design, sig); err != nil {
		return nil, fmt.Errorf("confound regression failed: %w", err)
	}

	var fitted mat.Dense
	fitted.Mul(design, &beta)

	var resid mat.Dense
	resid.Sub(sig, &fitted)
	return &resid, nil
}

// detrendColumns removes the least-squares line from each column in place.
func detrendColumns(sig *mat.Dense) {
	t, n := sig.Dims()
	xs := make([]float64, t)
	for i := range xs {
		xs[i] = float64(i)
	}
	col := make([]float64, t)
	for j := 0; j < n; j++ {
		mat.Col(col, j, sig)
		alpha, beta := stat.LinearRegression(xs, col, nil, false)
		for i := 0; i < t; i++ {
			sig.Set(i, j, col[i]-alpha-beta*xs[i])
		}
	}
}

// standardizeColumns centres each column and scales it to unit variance in
// place. Columns with zero variance are left centred at zero.
func standardizeColumns(sig *mat.Dense) {
	t, n := sig.Dims()
	col := make([]float64, t)
	for j := 0; j < n; j++ {
		mat.Col(col, j, sig)
		mean, std := stat.MeanStdDev(col, nil)
		for i := 0; i < t; i++ {
			v := col[i] - mean
			if std > 0 {
				v /= std
			}
			sig.Set(i, j, v)
		}
	}
}
