// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"specstream/pkg/bitint"

	"github.com/argusdusty/gofft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrTransform is returned when a frame cannot be transformed.
var ErrTransform = errors.New("transform failed")

// Backend selects the FFT implementation behind a Kernel.
type Backend int

const (
	// BackendGonum uses gonum's real FFT and accepts any frame length.
	BackendGonum Backend = iota
	// BackendGofft uses argusdusty/gofft and needs a power-of-two frame.
	BackendGofft
)

func (b Backend) String() string {
	switch b {
	case BackendGonum:
		return "gonum"
	case BackendGofft:
		return "gofft"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend converts a name to a Backend. The empty string means gonum.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gonum":
		return BackendGonum, nil
	case "gofft":
		return BackendGofft, nil
	default:
		return BackendGonum, fmt.Errorf("unknown fft backend: '%s'", name)
	}
}

func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// ColumnHeight is the number of magnitudes a real transform of windowSize
// samples produces.
func ColumnHeight(windowSize int) int {
	return windowSize/2 + 1
}

// Magnitudes windows frame with coeffs, transforms it and returns |X_k| for
// k = 0..N/2. It allocates a fresh plan on every call; use a Kernel on hot paths.
func Magnitudes(frame, coeffs []float64) ([]float64, error) {
	n := len(frame)
	if n == 0 || len(coeffs) != n {
		return nil, fmt.Errorf("%w: frame length %d, window length %d", ErrTransform, n, len(coeffs))
	}

	windowed := make([]float64, n)
	for i, s := range frame {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: non-finite sample at %d", ErrTransform, i)
		}
		windowed[i] = s * coeffs[i]
	}

	spectrum := fourier.NewFFT(n).Coefficients(nil, windowed)
	mags := make([]float64, len(spectrum))
	for i, c := range spectrum {
		mags[i] = cmplx.Abs(c)
	}
	return mags, nil
}

// Kernel computes magnitude columns with a reusable workspace. A Kernel is not
// safe for concurrent use.
type Kernel struct {
	windowSize int
	height     int
	window     WindowFunc
	backend    Backend
	coeffs     []float64

	fft      *fourier.FFT
	input    []float64
	spectrum []complex128
	scratch  []complex128 // gofft works in place on the full frame.
}

// NewKernel prepares a kernel for frames of windowSize samples.
func NewKernel(windowSize int, kind WindowFunc, backend Backend) (*Kernel, error) {
	if windowSize < 2 {
		return nil, fmt.Errorf("window size must be at least 2, got %d", windowSize)
	}

	k := &Kernel{
		windowSize: windowSize,
		height:     ColumnHeight(windowSize),
		window:     kind,
		backend:    backend,
		coeffs:     Coefficients(kind, windowSize),
		input:      make([]float64, windowSize),
	}

	switch backend {
	case BackendGonum:
		k.fft = fourier.NewFFT(windowSize)
		k.spectrum = make([]complex128, k.height)
	case BackendGofft:
		if !bitint.IsPowerOfTwo(windowSize) {
			return nil, fmt.Errorf("gofft backend needs a power-of-two window size, got %d (nearest %d)",
				windowSize, bitint.NextPowerOfTwo(windowSize))
		}
		if err := gofft.Prepare(windowSize); err != nil {
			return nil, fmt.Errorf("prepare gofft: %w", err)
		}
		k.scratch = make([]complex128, windowSize)
	default:
		return nil, fmt.Errorf("unsupported fft backend %v", backend)
	}

	return k, nil
}

func (k *Kernel) ColumnHeight() int { return k.height }
func (k *Kernel) WindowSize() int   { return k.windowSize }

// Window returns the configured window function.
func (k *Kernel) Window() WindowFunc { return k.window }

// Compute writes columns consecutive columns into dst. Column i is the frame
// samples[i*hop : i*hop+windowSize].
func (k *Kernel) Compute(samples []float64, hop, columns int, dst []float32) error {
	if columns <= 0 {
		return nil
	}
	if hop <= 0 {
		return fmt.Errorf("%w: hop must be positive, got %d", ErrTransform, hop)
	}
	need := (columns-1)*hop + k.windowSize
	if len(samples) < need {
		return fmt.Errorf("%w: need %d samples for %d columns, got %d", ErrTransform, need, columns, len(samples))
	}
	if len(dst) != columns*k.height {
		return fmt.Errorf("%w: destination holds %d values, want %d", ErrTransform, len(dst), columns*k.height)
	}

	for c := range columns {
		frame := samples[c*hop : c*hop+k.windowSize]
		for i, s := range frame {
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return fmt.Errorf("%w: non-finite sample at %d", ErrTransform, c*hop+i)
			}
			k.input[i] = s * k.coeffs[i]
		}
		k.column(dst[c*k.height : (c+1)*k.height])
	}
	return nil
}

// column transforms k.input into out.
func (k *Kernel) column(out []float32) {
	switch k.backend {
	case BackendGofft:
		for i, v := range k.input {
			k.scratch[i] = complex(v, 0)
		}
		// Prepare succeeded in NewKernel and the length is fixed, so FFT cannot fail.
		_ = gofft.FFT(k.scratch)
		for i := range out {
			out[i] = float32(cmplx.Abs(k.scratch[i]))
		}
	default:
		k.fft.Coefficients(k.spectrum, k.input)
		for i, c := range k.spectrum {
			out[i] = float32(cmplx.Abs(c))
		}
	}
}
