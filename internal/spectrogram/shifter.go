// SPDX-License-Identifier: MIT
package spectrogram

// Shifter relocates the buffer window when a request falls into, or beyond,
// the guard band at either edge.
type Shifter struct {
	// Margin is the guard band in columns at each edge of the window.
	Margin int
	// Unit is the granularity of every shift in columns.
	Unit int
}

// margin never exceeds a quarter of the capacity so both guard bands fit.
func (s Shifter) margin(buf *Buffer) int {
	return max(0, min(s.Margin, buf.Capacity()/4))
}

func (s Shifter) unit() int { return max(s.Unit, 1) }

// ShouldShift reports whether [start, end) crosses a guard band and moving
// the window would change anything.
func (s Shifter) ShouldShift(buf *Buffer, start, end int) bool {
	return s.Delta(buf, start, end) != 0
}

// Delta returns the smallest multiple of Unit that brings the guard band over
// the request, clamped so the window stays inside [0, ColumnWidth-Capacity].
// Requests before the window are served first: a window that must move back
// never moves forward in the same call.
func (s Shifter) Delta(buf *Buffer, start, end int) int {
	m := s.margin(buf)
	u := s.unit()
	ws := buf.StartColumn()
	capacity := buf.Capacity()

	maxStart := 0
	if w := buf.ColumnWidth(); w > capacity {
		maxStart = w - capacity
	}

	var delta int
	switch {
	case start < ws+m:
		need := ws + m - start
		delta = -roundUp(need, u)
	case end > ws+capacity-m:
		need := end - (ws + capacity - m)
		delta = roundUp(need, u)
		// Keep the request start clear of the lower guard band.
		if limit := start - m - ws; delta > limit {
			delta = max(0, limit-limit%u)
		}
	default:
		return 0
	}

	newStart := ws + delta
	if delta < 0 {
		newStart = max(newStart, 0)
	} else {
		newStart = min(newStart, maxStart)
		if newStart < ws {
			return 0
		}
	}
	return newStart - ws
}

// Shift moves the window for a request at [start, end), re-anchors an emptied
// computed range at the request start and reopens forward filling. It returns
// the applied delta.
func (s Shifter) Shift(buf *Buffer, sched *Scheduler, start, end int) int {
	delta := s.Delta(buf, start, end)
	if delta == 0 {
		return 0
	}

	applied := buf.Shift(delta)
	if applied == 0 {
		return 0
	}

	if buf.Computed().Empty() {
		w := buf.Window()
		anchor := min(max(start, w.First), w.Last)
		buf.computed = Range{First: anchor, Last: anchor}
	}
	if sched != nil {
		sched.Shifted()
	}
	return applied
}

func roundUp(n, unit int) int {
	if n <= 0 {
		return 0
	}
	return ((n + unit - 1) / unit) * unit
}
