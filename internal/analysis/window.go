// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc selects the taper applied to each frame before the transform.
type WindowFunc int

// Available window functions. Rectangular is the "none" window.
const (
	Rectangular WindowFunc = iota
	Hann
	Hamming
)

// String returns the canonical lower-case name used in config files.
func (w WindowFunc) String() string {
	switch w {
	case Rectangular:
		return "none"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// ParseWindowFunc converts a name (case-insensitive) to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "none", "rectangular", "rect":
		return Rectangular, nil
	default:
		return Hann, fmt.Errorf("unknown window function name: '%s'", name)
	}
}

func (w WindowFunc) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *WindowFunc) UnmarshalText(text []byte) error {
	parsed, err := ParseWindowFunc(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Coefficients returns the size-length coefficient vector for kind. Unknown
// kinds fall back to Hann.
func Coefficients(kind WindowFunc, size int) []float64 {
	if size <= 0 {
		return nil
	}
	coeffs := make([]float64, size)
	applyWindow(coeffs, kind)
	return coeffs
}

// applyWindow fills coeffs with ones and lets gonum scale them in place, so
// the slice ends up holding the window itself.
func applyWindow(coeffs []float64, kind WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch kind {
	case Rectangular:
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	default:
		window.Hann(coeffs)
	}
}
