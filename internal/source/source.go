// SPDX-License-Identifier: MIT

// Package source provides growing sample streams the spectrogram engine reads
// from, plus decoders that fill them from audio files.
package source

import "errors"

var (
	// ErrBufferClosed is returned when writing to a closed buffer.
	ErrBufferClosed = errors.New("buffer is closed")
	// ErrNotReady is returned when writing before the stream format is known.
	ErrNotReady = errors.New("stream format not set")
	// ErrNotReadable is returned when a range starts past the received samples.
	ErrNotReadable = errors.New("sample range not readable")
	// ErrUnsupportedFormat is returned by Open for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Source is an append-only, index-addressed mono sample stream.
type Source interface {
	// IsReady reports whether the format is known and reads may begin.
	IsReady() bool
	// IsDone reports whether no more samples will arrive.
	IsDone() bool
	// LastReadableIndex is the highest received index, or -1.
	LastReadableIndex() int
	CanRead(index int) bool
	// ReadRange copies samples [start, end) clamped to what has been received.
	ReadRange(start, end int) (Range, error)
	IndexForTime(seconds float64) int
	TimeForIndex(index int) float64
}

// Lengther is implemented by sources that know their final length before
// the last sample arrives, for example from a container header.
type Lengther interface {
	ExpectedLength() (int, bool)
}

// Range is the result of a sample range read.
type Range struct {
	Start   int
	End     int
	Samples []float64
}

// Len returns the number of samples in the range.
func (r Range) Len() int { return r.End - r.Start }
