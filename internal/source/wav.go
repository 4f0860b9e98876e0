// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVDecoder reads integer PCM WAV data.
type WAVDecoder struct {
	decoder    *wav.Decoder
	closer     io.Closer
	sampleRate int
	bitDepth   int
	numChans   int
	numSamples int64

	intBuf  *audio.IntBuffer
	pending []int // samples of an incomplete trailing frame
}

// NewWAVDecoder parses the header and positions r at the PCM data. If r is
// an io.Closer it is closed by Close.
func NewWAVDecoder(r io.ReadSeeker) (*WAVDecoder, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}
	if decoder.NumChans == 0 || decoder.BitDepth == 0 {
		return nil, fmt.Errorf("invalid WAV format: %d channels, %d bits", decoder.NumChans, decoder.BitDepth)
	}

	bytesPerFrame := int64(decoder.BitDepth/8) * int64(decoder.NumChans)
	d := &WAVDecoder{
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		bitDepth:   int(decoder.BitDepth),
		numChans:   int(decoder.NumChans),
	}
	if bytesPerFrame > 0 {
		d.numSamples = decoder.PCMLen() / bytesPerFrame
	}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	return d, nil
}

func (d *WAVDecoder) ReadChunk(numSamples int) ([]float64, error) {
	if numSamples <= 0 {
		return nil, nil
	}

	want := numSamples * d.numChans
	if d.intBuf == nil || len(d.intBuf.Data) != want {
		d.intBuf = &audio.IntBuffer{
			Data:   make([]int, want),
			Format: &audio.Format{NumChannels: d.numChans, SampleRate: d.sampleRate},
		}
	}

	n, err := d.decoder.PCMBuffer(d.intBuf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}

	data := append(d.pending, d.intBuf.Data[:n]...)
	frames := len(data) / d.numChans
	d.pending = append(d.pending[:0:0], data[frames*d.numChans:]...)

	out := make([]float64, frames)
	downmix(out, data[:frames*d.numChans], d.numChans, float64(audio.IntMaxSignedValue(d.bitDepth)))
	return out, nil
}

func (d *WAVDecoder) SampleRate() int   { return d.sampleRate }
func (d *WAVDecoder) NumSamples() int64 { return d.numSamples }
func (d *WAVDecoder) NumChannels() int  { return d.numChans }

func (d *WAVDecoder) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
