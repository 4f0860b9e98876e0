// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// FLACDecoder reads FLAC frames and keeps the unread tail of the last frame.
type FLACDecoder struct {
	stream  *flac.Stream
	closer  io.Closer
	pending []float64
	eof     bool
}

// NewFLACDecoder parses the stream signature and StreamInfo block.
func NewFLACDecoder(r io.Reader) (*FLACDecoder, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create FLAC decoder: %w", err)
	}
	d := &FLACDecoder{stream: stream}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	return d, nil
}

func (d *FLACDecoder) ReadChunk(numSamples int) ([]float64, error) {
	if numSamples <= 0 {
		return nil, nil
	}

	for len(d.pending) < numSamples && !d.eof {
		frame, err := d.stream.ParseNext()
		if err == io.EOF {
			d.eof = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}
		if len(frame.Subframes) == 0 {
			continue
		}

		maxVal := float64(int64(1) << (frame.BitsPerSample - 1))
		channels := len(frame.Subframes)
		for i := range len(frame.Subframes[0].Samples) {
			var sum int64
			for _, sub := range frame.Subframes {
				sum += int64(sub.Samples[i])
			}
			d.pending = append(d.pending, float64(sum)/float64(channels)/maxVal)
		}
	}

	if len(d.pending) == 0 {
		return nil, io.EOF
	}

	n := min(numSamples, len(d.pending))
	out := make([]float64, n)
	copy(out, d.pending[:n])
	d.pending = d.pending[n:]
	return out, nil
}

func (d *FLACDecoder) SampleRate() int   { return int(d.stream.Info.SampleRate) }
func (d *FLACDecoder) NumSamples() int64 { return int64(d.stream.Info.NSamples) }
func (d *FLACDecoder) NumChannels() int  { return int(d.stream.Info.NChannels) }

func (d *FLACDecoder) Close() error {
	d.stream.Close()
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
