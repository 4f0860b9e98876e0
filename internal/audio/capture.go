// SPDX-License-Identifier: MIT
/*
Package audio captures live input with PortAudio into a source.Buffer so the
spectrogram engine can follow a microphone the same way it follows a file.

The PortAudio callback downmixes each interleaved int32 block to mono float64
in a pre-allocated scratch slice and appends it to the buffer. When recording
is enabled the raw interleaved block is also written to a WAV file.
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"specstream/internal/config"
	applog "specstream/internal/log"
	"specstream/internal/source"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
)

// Capture streams one input device into a source.Buffer.
type Capture struct {
	cfg config.AudioConfig
	rec config.RecordingConfig
	buf *source.Buffer

	// Audio input handling.
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	mono         []float64 // downmix scratch, one block long
	dropped      atomic.Uint64

	// Recording state; recMu guards the encoder against the callback.
	isRecording atomic.Bool
	recMu       sync.Mutex
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer
}

// NewCapture resolves the configured input device. PortAudio must be
// initialized.
func NewCapture(cfg config.AudioConfig, rec config.RecordingConfig, buf *source.Buffer) (*Capture, error) {
	device, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	if cfg.InputChannels > device.MaxInputChannels {
		return nil, fmt.Errorf("device %s has %d input channels, %d requested",
			device.Name, device.MaxInputChannels, cfg.InputChannels)
	}

	c := newCapture(cfg, rec, buf)
	c.inputDevice = device
	if cfg.LowLatency {
		c.inputLatency = device.DefaultLowInputLatency
	} else {
		c.inputLatency = device.DefaultHighInputLatency
	}
	return c, nil
}

func newCapture(cfg config.AudioConfig, rec config.RecordingConfig, buf *source.Buffer) *Capture {
	return &Capture{
		cfg:  cfg,
		rec:  rec,
		buf:  buf,
		mono: make([]float64, cfg.FramesPerBuffer),
	}
}

// Start marks the buffer ready at the capture rate and opens the stream.
func (c *Capture) Start() error {
	if err := c.buf.SetFormat(c.cfg.SampleRate, 0); err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: c.cfg.InputChannels,
			Device:   c.inputDevice,
			Latency:  c.inputLatency,
		},
		FramesPerBuffer: c.cfg.FramesPerBuffer,
		SampleRate:      c.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, c.processInputStream)
	if err != nil {
		return fmt.Errorf("capture: opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("capture: starting stream: %w", err)
	}
	c.inputStream = stream

	applog.Infof("Capture: %s at %.0f Hz, %d channel(s), %d frames per buffer",
		c.inputDevice.Name, c.cfg.SampleRate, c.cfg.InputChannels, c.cfg.FramesPerBuffer)
	return nil
}

// Run starts the capture, optionally records it, and stops when ctx ends.
func (c *Capture) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		c.buf.Close()
		return err
	}

	if c.rec.Enabled {
		if err := os.MkdirAll(c.rec.OutputDir, 0o755); err != nil {
			applog.Errorf("Capture: recording disabled: %v", err)
		} else {
			name := filepath.Join(c.rec.OutputDir, fmt.Sprintf("capture-%s.wav", time.Now().Format("20060102-150405")))
			if err := c.StartRecording(name); err != nil {
				applog.Errorf("Capture: recording disabled: %v", err)
			} else {
				applog.Infof("Capture: recording to %s", name)
			}
		}
	}

	<-ctx.Done()
	return c.Close()
}

// Close stops the stream and any recording, then closes the buffer.
func (c *Capture) Close() error {
	var errs []error
	if c.inputStream != nil {
		if err := c.inputStream.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := c.inputStream.Close(); err != nil {
			errs = append(errs, err)
		}
		c.inputStream = nil
	}
	if err := c.StopRecording(); err != nil {
		errs = append(errs, err)
	}
	c.buf.Close()

	if n := c.dropped.Load(); n > 0 {
		applog.Warnf("Capture: %d blocks dropped", n)
	}
	return errors.Join(errs...)
}

// processInputStream is the PortAudio callback. It only touches
// pre-allocated scratch apart from the buffer append.
func (c *Capture) processInputStream(in []int32) {
	channels := max(c.cfg.InputChannels, 1)
	frames := min(len(in)/channels, len(c.mono))
	mono := c.mono[:frames]

	scale := 1 / (math.MaxInt32 * float64(channels))
	for i := range mono {
		var sum int64
		for ch := range channels {
			sum += int64(in[i*channels+ch])
		}
		mono[i] = float64(sum) * scale
	}

	if err := c.buf.Write(mono); err != nil {
		c.dropped.Add(1)
	}

	if c.isRecording.Load() {
		c.record(in[:frames*channels])
	}
}
