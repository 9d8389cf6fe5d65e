package tsclean

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// butterworthQ is the quality factor of a second-order Butterworth
// section (1/sqrt 2), giving a maximally flat passband.
const butterworthQ = 1 / math.Sqrt2

// biquad holds normalized transfer-function coefficients for one
// second-order section (a0 folded into the others).
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// lowpassBiquad designs a second-order Butterworth lowpass at freq Hz.
func lowpassBiquad(freq, sampleRate float64) (biquad, error) {
	w0, err := normalizedW0(freq, sampleRate)
	if err != nil {
		return biquad{}, err
	}
	cw := math.Cos(w0)
	sw := math.Sin(w0)
	alpha := sw / (2 * butterworthQ)

	b1 := 1 - cw
	b0 := b1 / 2
	a0 := 1 + alpha
	return biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b0 / a0,
		a1: -2 * cw / a0,
		a2: (1 - alpha) / a0,
	}, nil
}

// highpassBiquad designs a second-order Butterworth highpass at freq Hz.
func highpassBiquad(freq, sampleRate float64) (biquad, error) {
	w0, err := normalizedW0(freq, sampleRate)
	if err != nil {
		return biquad{}, err
	}
	cw := math.Cos(w0)
	sw := math.Sin(w0)
	alpha := sw / (2 * butterworthQ)

	b1 := -(1 + cw)
	b0 := (1 + cw) / 2
	a0 := 1 + alpha
	return biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b0 / a0,
		a1: -2 * cw / a0,
		a2: (1 - alpha) / a0,
	}, nil
}

// normalizedW0 converts a cutoff to the normalized angular frequency,
// requiring it to sit strictly below Nyquist.
func normalizedW0(freq, sampleRate float64) (float64, error) {
	if freq <= 0 {
		return 0, fmt.Errorf("cutoff frequency must be positive, got %g Hz", freq)
	}
	if freq >= sampleRate/2 {
		return 0, fmt.Errorf("cutoff %g Hz is at or above the Nyquist frequency %g Hz", freq, sampleRate/2)
	}
	return 2 * math.Pi * freq / sampleRate, nil
}

// process runs the section over the buffer in place (direct form II
// transposed).
func (s biquad) process(buf []float64) {
	var d0, d1 float64
	for i, x := range buf {
		y := s.b0*x + d0
		d0 = s.b1*x - s.a1*y + d1
		d1 = s.b2*x - s.a2*y
		buf[i] = y
	}
}

// filtfilt applies the section forward and backward for zero phase shift.
func (s biquad) filtfilt(buf []float64) {
	s.process(buf)
	reverse(buf)
	s.process(buf)
	reverse(buf)
}

func reverse(buf []float64) {
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
}

// bandpassColumns filters every column of sig in place. lowHz bounds the
// band from above (lowpass), highHz from below (highpass); either may be
// zero to disable that edge.
func bandpassColumns(sig *mat.Dense, lowHz, highHz, sampleRate float64) error {
	var sections []biquad
	if highHz > 0 {
		hp, err := highpassBiquad(highHz, sampleRate)
		if err != nil {
			return fmt.Errorf("high-pass design: %w", err)
		}
		sections = append(sections, hp)
	}
	if lowHz > 0 {
		lp, err := lowpassBiquad(lowHz, sampleRate)
		if err != nil {
			return fmt.Errorf("low-pass design: %w", err)
		}
		sections = append(sections, lp)
	}
	if highHz > 0 && lowHz > 0 && highHz >= lowHz {
		return fmt.Errorf("high-pass edge %g Hz must lie below low-pass edge %g Hz", highHz, lowHz)
	}

	t, n := sig.Dims()
	col := make([]float64, t)
	for j := 0; j < n; j++ {
		mat.Col(col, j, sig)
		for _, s := range sections {
			s.filtfilt(col)
		}
		sig.SetCol(j, col)
	}
	return nil
}
