// SPDX-License-Identifier: MIT
package source

import (
	"fmt"
	"math"
	"sync"
)

// Buffer is a thread-safe growing store of mono samples. A single producer
// appends with Write; any number of readers address it by index. It grows
// without bound, so for very long live captures the caller decides when to stop.
type Buffer struct {
	mu sync.RWMutex

	samples    []float64
	sampleRate float64
	expected   int // announced total length, 0 when unknown

	ready  bool
	closed bool
}

var (
	_ Source   = (*Buffer)(nil)
	_ Lengther = (*Buffer)(nil)
)

// NewBuffer creates an empty buffer. initialCapacity is a hint in samples.
func NewBuffer(initialCapacity int) *Buffer {
	if initialCapacity <= 0 {
		initialCapacity = 1 << 20 // ~23s at 44.1kHz
	}
	return &Buffer{samples: make([]float64, 0, initialCapacity)}
}

// SetFormat marks the stream ready. expectedLength <= 0 means unknown.
func (b *Buffer) SetFormat(sampleRate float64, expectedLength int) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) {
		return fmt.Errorf("sample rate must be positive, got %v", sampleRate)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sampleRate = sampleRate
	if expectedLength > 0 {
		b.expected = expectedLength
		if cap(b.samples) < expectedLength {
			grown := make([]float64, len(b.samples), expectedLength)
			copy(grown, b.samples)
			b.samples = grown
		}
	}
	b.ready = true
	return nil
}

// Write appends samples.
func (b *Buffer) Write(samples []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}
	if !b.ready {
		return ErrNotReady
	}
	b.samples = append(b.samples, samples...)
	return nil
}

// Close signals that no more samples will be written. Closing twice is a no-op.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *Buffer) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

func (b *Buffer) IsDone() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Buffer) LastReadableIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples) - 1
}

func (b *Buffer) CanRead(index int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return index >= 0 && index < len(b.samples)
}

// Len returns the number of samples received so far.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// SampleRate returns the rate given to SetFormat, or 0 before that.
func (b *Buffer) SampleRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sampleRate
}

// ExpectedLength returns the final length once it is known: either announced
// through SetFormat or fixed by Close.
func (b *Buffer) ExpectedLength() (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return len(b.samples), true
	}
	if b.expected > 0 {
		return b.expected, true
	}
	return 0, false
}

// ReadRange copies samples [start, end) clamped to the received data. A start
// past the last received sample fails with ErrNotReadable.
func (b *Buffer) ReadRange(start, end int) (Range, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if start < 0 {
		start = 0
	}
	if end > start && start >= len(b.samples) {
		return Range{Start: start, End: start}, fmt.Errorf("%w: start %d, received %d", ErrNotReadable, start, len(b.samples))
	}
	if end > len(b.samples) {
		end = len(b.samples)
	}
	if end <= start {
		return Range{Start: start, End: start}, nil
	}

	out := make([]float64, end-start)
	copy(out, b.samples[start:end])
	return Range{Start: start, End: end, Samples: out}, nil
}

// IndexForTime converts seconds to a sample index, never below zero.
func (b *Buffer) IndexForTime(seconds float64) int {
	b.mu.RLock()
	rate := b.sampleRate
	b.mu.RUnlock()

	if rate <= 0 || seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	idx := math.Floor(seconds * rate)
	if idx >= float64(math.MaxInt) {
		return math.MaxInt
	}
	return int(idx)
}

func (b *Buffer) TimeForIndex(index int) float64 {
	b.mu.RLock()
	rate := b.sampleRate
	b.mu.RUnlock()

	if rate <= 0 {
		return 0
	}
	return float64(index) / rate
}
