// SPDX-License-Identifier: MIT
package spectrogram

import (
	"fmt"
	"math"
)

// Unbounded is the column width used while the stream length is unknown.
const Unbounded = math.MaxInt

// Range is a half-open column interval [First, Last).
type Range struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

func (r Range) Len() int {
	if r.Last <= r.First {
		return 0
	}
	return r.Last - r.First
}

func (r Range) Empty() bool { return r.Last <= r.First }

func (r Range) Contains(column int) bool { return column >= r.First && column < r.Last }

// Covers reports whether every column of o lies inside r. Empty ranges are
// covered by anything.
func (r Range) Covers(o Range) bool {
	return o.Empty() || (o.First >= r.First && o.Last <= r.Last)
}

// Buffer is a fixed-capacity store of spectrogram columns addressed by global
// column index. Column c lives in slot c mod capacity, so moving the window
// never copies preserved columns. Buffer is not safe for concurrent use.
type Buffer struct {
	capacity int
	height   int
	data     []float32

	start    int
	width    int
	computed Range
}

// NewBuffer allocates capacity*height float32 values.
func NewBuffer(capacity, height int) (*Buffer, error) {
	if capacity <= 0 || height <= 0 {
		return nil, fmt.Errorf("buffer dimensions must be positive, got %d columns of height %d", capacity, height)
	}
	return &Buffer{
		capacity: capacity,
		height:   height,
		data:     make([]float32, capacity*height),
		width:    Unbounded,
	}, nil
}

func (b *Buffer) Capacity() int    { return b.capacity }
func (b *Buffer) Height() int      { return b.height }
func (b *Buffer) StartColumn() int { return b.start }

// EndColumn is min(StartColumn + Capacity, ColumnWidth), never below StartColumn.
func (b *Buffer) EndColumn() int {
	end := b.width
	if b.width-b.start > b.capacity {
		end = b.start + b.capacity
	}
	return max(end, b.start)
}

// Window returns [StartColumn, EndColumn).
func (b *Buffer) Window() Range { return Range{First: b.start, Last: b.EndColumn()} }

// ColumnWidth is the total number of columns in the stream, or Unbounded.
func (b *Buffer) ColumnWidth() int { return b.width }

// SetColumnWidth records the stream's total column count and trims the
// computed range to the resulting window.
func (b *Buffer) SetColumnWidth(width int) {
	if width < 0 {
		width = 0
	}
	b.width = width
	b.computed = b.clampToWindow(b.computed)
}

func (b *Buffer) Computed() Range { return b.computed }

// SetComputed replaces the computed range. It must lie inside the window.
func (b *Buffer) SetComputed(r Range) error {
	w := b.Window()
	if r.First < w.First || r.Last > w.Last || r.Last < r.First {
		return fmt.Errorf("%w: computed [%d, %d) not inside window [%d, %d)", ErrOutsideWindow, r.First, r.Last, w.First, w.Last)
	}
	b.computed = r
	return nil
}

func (b *Buffer) slot(column int) []float32 {
	off := (column % b.capacity) * b.height
	return b.data[off : off+b.height]
}

// Write stores len(data)/Height consecutive columns starting at column. It is
// a no-op returning ErrOutsideWindow unless every column is inside the window.
// Write does not touch the computed range.
func (b *Buffer) Write(column int, data []float32) error {
	if len(data) == 0 || len(data)%b.height != 0 {
		return fmt.Errorf("write of %d values is not a whole number of %d-value columns", len(data), b.height)
	}
	count := len(data) / b.height
	w := b.Window()
	if column < w.First || column+count > w.Last {
		return fmt.Errorf("%w: columns [%d, %d) outside [%d, %d)", ErrOutsideWindow, column, column+count, w.First, w.Last)
	}
	for i := range count {
		copy(b.slot(column+i), data[i*b.height:(i+1)*b.height])
	}
	return nil
}

// ReadRange copies the columns of [start, end) ∩ computed. The returned range
// is the clamped one: First = max(start, computed.First) and Last never below
// First, so an empty intersection yields First == Last.
func (b *Buffer) ReadRange(start, end int) (Range, []float32) {
	r := Range{First: max(start, b.computed.First), Last: min(end, b.computed.Last)}
	if r.Last <= r.First {
		return Range{First: r.First, Last: r.First}, nil
	}

	out := make([]float32, r.Len()*b.height)
	for c := r.First; c < r.Last; c++ {
		copy(out[(c-r.First)*b.height:], b.slot(c))
	}
	return r, out
}

// Shift moves the window by delta columns, clamping the new start to
// [0, ColumnWidth]. Columns present in both windows keep their slots; newly
// exposed slots are zeroed and the computed range is intersected with the new
// window, collapsing to {start, start} when nothing survives. It returns the
// delta actually applied.
func (b *Buffer) Shift(delta int) int {
	oldWindow := b.Window()

	newStart := b.start + delta
	if delta > 0 && newStart < b.start {
		newStart = b.width // overflow
	}
	newStart = min(max(newStart, 0), b.width)
	applied := newStart - b.start
	if applied == 0 {
		return 0
	}

	b.start = newStart
	newWindow := b.Window()

	for c := newWindow.First; c < newWindow.Last; c++ {
		if oldWindow.Contains(c) {
			continue
		}
		clear(b.slot(c))
	}

	b.computed = b.clampToWindow(b.computed)
	return applied
}

// Reset moves the window to start at column, zeroes storage and empties the
// computed range.
func (b *Buffer) Reset(column int) {
	b.start = min(max(column, 0), b.width)
	clear(b.data)
	b.computed = Range{First: b.start, Last: b.start}
}

func (b *Buffer) clampToWindow(r Range) Range {
	w := b.Window()
	r.First = max(r.First, w.First)
	r.Last = min(r.Last, w.Last)
	if r.Last <= r.First {
		return Range{First: w.First, Last: w.First}
	}
	return r
}
