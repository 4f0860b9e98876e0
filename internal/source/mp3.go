// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Decoder wraps go-mp3, which always yields 16-bit little-endian stereo.
type MP3Decoder struct {
	decoder *mp3.Decoder
	closer  io.Closer
	buf     []byte
}

// NewMP3Decoder reads the first frame header from r.
func NewMP3Decoder(r io.Reader) (*MP3Decoder, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}
	d := &MP3Decoder{decoder: decoder}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	return d, nil
}

func (d *MP3Decoder) ReadChunk(numSamples int) ([]float64, error) {
	if numSamples <= 0 {
		return nil, nil
	}
	if cap(d.buf) < numSamples*4 {
		d.buf = make([]byte, numSamples*4)
	}
	buf := d.buf[:numSamples*4]

	n, err := io.ReadFull(d.decoder, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read MP3 data: %w", err)
	}
	frames := n / 4
	if frames == 0 {
		return nil, io.EOF
	}

	out := make([]float64, frames)
	for i := range frames {
		left := int16(buf[i*4]) | int16(buf[i*4+1])<<8
		right := int16(buf[i*4+2]) | int16(buf[i*4+3])<<8
		out[i] = (float64(left) + float64(right)) / 2 / 32768.0
	}
	return out, nil
}

func (d *MP3Decoder) SampleRate() int { return d.decoder.SampleRate() }

// NumSamples is derived from the decoded byte length, which go-mp3 only
// knows when the input is seekable.
func (d *MP3Decoder) NumSamples() int64 {
	if l := d.decoder.Length(); l > 0 {
		return l / 4
	}
	return 0
}

func (d *MP3Decoder) NumChannels() int { return 2 }

func (d *MP3Decoder) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
