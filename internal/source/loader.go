// SPDX-License-Identifier: MIT
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	applog "specstream/internal/log"
)

// DefaultLoaderChunk is the number of samples decoded per step.
const DefaultLoaderChunk = 8192

// LoaderOptions tune how fast a Loader feeds its buffer.
type LoaderOptions struct {
	// ChunkSamples per ReadChunk call; DefaultLoaderChunk when zero.
	ChunkSamples int
	// Throttle is slept between chunks to emulate a progressively arriving file.
	Throttle time.Duration
}

// Loader pumps a Decoder into a Buffer until EOF or cancellation.
type Loader struct {
	dec  Decoder
	buf  *Buffer
	opts LoaderOptions
}

func NewLoader(dec Decoder, buf *Buffer, opts LoaderOptions) *Loader {
	if opts.ChunkSamples <= 0 {
		opts.ChunkSamples = DefaultLoaderChunk
	}
	return &Loader{dec: dec, buf: buf, opts: opts}
}

// Run sets the buffer format from the decoder, streams every chunk into it
// and closes both when done. The buffer is closed even on error so readers
// stop waiting for samples that will never come.
func (l *Loader) Run(ctx context.Context) error {
	defer l.buf.Close()
	defer func() {
		if err := l.dec.Close(); err != nil {
			applog.Warnf("Loader: closing decoder: %v", err)
		}
	}()

	if err := l.buf.SetFormat(float64(l.dec.SampleRate()), int(l.dec.NumSamples())); err != nil {
		return fmt.Errorf("loader: %w", err)
	}
	applog.Infof("Loader: streaming %d Hz, %d channel(s), %d samples expected",
		l.dec.SampleRate(), l.dec.NumChannels(), l.dec.NumSamples())

	var timer *time.Timer
	if l.opts.Throttle > 0 {
		timer = time.NewTimer(0)
		defer timer.Stop()
		<-timer.C
	}

	total := 0
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		samples, err := l.dec.ReadChunk(l.opts.ChunkSamples)
		if len(samples) > 0 {
			if werr := l.buf.Write(samples); werr != nil {
				return fmt.Errorf("loader: %w", werr)
			}
			total += len(samples)
		}
		if errors.Is(err, io.EOF) {
			applog.Infof("Loader: finished, %d samples in %s", total, time.Since(start).Round(time.Millisecond))
			return nil
		}
		if err != nil {
			return fmt.Errorf("loader: %w", err)
		}

		if timer != nil {
			timer.Reset(l.opts.Throttle)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
		}
	}
}
