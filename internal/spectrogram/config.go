// SPDX-License-Identifier: MIT
package spectrogram

import (
	"fmt"
	"math"

	"specstream/internal/analysis"
	"specstream/pkg/bitint"
)

// STFT holds the frame parameters of the transform.
type STFT struct {
	WindowSize     int                 `json:"windowSize" yaml:"window_size"`
	HopLength      int                 `json:"hopLength" yaml:"hop_length"`
	WindowFunction analysis.WindowFunc `json:"windowFunction" yaml:"window_function"`
	Backend        analysis.Backend    `json:"backend" yaml:"backend"`
}

// Config is the engine configuration exposed to renderers.
type Config struct {
	STFT      STFT    `json:"stft" yaml:"stft"`
	StartTime float64 `json:"startTime" yaml:"start_time"`
}

// DefaultConfig returns a 1024/256 Hann configuration starting at zero.
func DefaultConfig() Config {
	return Config{
		STFT: STFT{
			WindowSize:     1024,
			HopLength:      256,
			WindowFunction: analysis.Hann,
			Backend:        analysis.BackendGonum,
		},
	}
}

// Validate checks window_size >= hop_length > 0 and backend constraints.
func (c Config) Validate() error {
	s := c.STFT
	if s.HopLength <= 0 {
		return fmt.Errorf("%w: hop_length must be positive, got %d", ErrInvalidConfig, s.HopLength)
	}
	if s.WindowSize < s.HopLength {
		return fmt.Errorf("%w: window_size %d is smaller than hop_length %d", ErrInvalidConfig, s.WindowSize, s.HopLength)
	}
	if s.WindowSize < 2 {
		return fmt.Errorf("%w: window_size must be at least 2, got %d", ErrInvalidConfig, s.WindowSize)
	}
	if s.Backend == analysis.BackendGofft && !bitint.IsPowerOfTwo(s.WindowSize) {
		return fmt.Errorf("%w: gofft backend needs a power-of-two window_size, got %d", ErrInvalidConfig, s.WindowSize)
	}
	if c.StartTime < 0 || math.IsNaN(c.StartTime) || math.IsInf(c.StartTime, 0) {
		return fmt.Errorf("%w: startTime must be a finite non-negative number, got %v", ErrInvalidConfig, c.StartTime)
	}
	return nil
}

// ColumnHeight is the number of magnitudes per column.
func (c Config) ColumnHeight() int {
	return analysis.ColumnHeight(c.STFT.WindowSize)
}

// Column maps a sample index to the column whose frame ends at or before it:
// max(0, floor((s - (W - H)) / H)). column(totalSamples) is the number of
// complete frames in the stream.
func (c Config) Column(sampleIndex int) int {
	offset := sampleIndex - (c.STFT.WindowSize - c.STFT.HopLength)
	if offset <= 0 {
		return 0
	}
	return offset / c.STFT.HopLength
}

// SampleIndex is the first sample of column's frame.
func (c Config) SampleIndex(column int) int {
	return column * c.STFT.HopLength
}

// FrameSpan returns the sample range [start, end) needed to compute count
// columns beginning at column.
func (c Config) FrameSpan(column, count int) (start, end int) {
	start = c.SampleIndex(column)
	end = c.SampleIndex(column+count-1) + c.STFT.WindowSize
	return start, end
}
