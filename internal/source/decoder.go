// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Decoder reads mono float64 samples in [-1, 1] from an audio container.
// Multi-channel input is downmixed by averaging.
type Decoder interface {
	// ReadChunk returns up to numSamples samples, or io.EOF at the end.
	ReadChunk(numSamples int) ([]float64, error)

	SampleRate() int

	// NumSamples is the total per-channel length, or 0 when unknown.
	NumSamples() int64

	NumChannels() int

	Close() error
}

// Open picks a decoder by file extension.
func Open(path string) (Decoder, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav", ".wave", ".mp3", ".flac":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var dec Decoder
	switch ext {
	case ".mp3":
		dec, err = NewMP3Decoder(f)
	case ".flac":
		dec, err = NewFLACDecoder(f)
	default:
		dec, err = NewWAVDecoder(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return dec, nil
}

// downmix averages interleaved frames into out and returns the number of
// complete frames written.
func downmix(out []float64, interleaved []int, channels int, scale float64) int {
	frames := len(interleaved) / channels
	for i := range frames {
		var sum int64
		for ch := range channels {
			sum += int64(interleaved[i*channels+ch])
		}
		out[i] = float64(sum) / float64(channels) / scale
	}
	return frames
}
