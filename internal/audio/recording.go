// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"

	applog "specstream/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// StartRecording writes every captured block, interleaved and at the
// configured bit depth, to a WAV file at filename.
func (c *Capture) StartRecording(filename string) error {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	if c.isRecording.Load() {
		return errors.New("already recording")
	}

	bitDepth := c.rec.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	channels := max(c.cfg.InputChannels, 1)

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	c.outputFile = file
	c.wavEncoder = wav.NewEncoder(file, int(c.cfg.SampleRate), bitDepth, channels, 1)
	c.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  int(c.cfg.SampleRate),
		},
		Data:           make([]int, c.cfg.FramesPerBuffer*channels),
		SourceBitDepth: bitDepth,
	}

	c.isRecording.Store(true)
	return nil
}

// StopRecording finalizes the WAV header and closes the file. It is a no-op
// when not recording.
func (c *Capture) StopRecording() error {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	if !c.isRecording.Swap(false) {
		return nil
	}

	var errs []error
	if c.wavEncoder != nil {
		if err := c.wavEncoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finalizing wav: %w", err))
		}
		c.wavEncoder = nil
	}
	if c.outputFile != nil {
		if err := c.outputFile.Close(); err != nil {
			errs = append(errs, err)
		}
		c.outputFile = nil
	}
	return errors.Join(errs...)
}

// record converts one interleaved int32 block to the recording depth.
func (c *Capture) record(in []int32) {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	if c.wavEncoder == nil {
		return
	}

	shift := 32 - c.sampleBuf.SourceBitDepth
	n := min(len(in), cap(c.sampleBuf.Data))
	c.sampleBuf.Data = c.sampleBuf.Data[:n]
	for i, sample := range in[:n] {
		c.sampleBuf.Data[i] = int(sample >> shift)
	}

	if err := c.wavEncoder.Write(c.sampleBuf); err != nil {
		applog.Errorf("Capture: writing recording: %v", err)
	}
}
