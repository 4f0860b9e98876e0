// SPDX-License-Identifier: MIT
package spectrogram

import "math"

// maxRequestColumn bounds resolved request columns so window arithmetic
// cannot overflow.
const maxRequestColumn = math.MaxInt / 4

// Request selects a column range. The start is StartColumn, else StartTime,
// else the window start. The end is EndColumn, else EndTime, else derived
// from the resolved start with DurationColumns or DurationTime, else the
// window end. Times are in seconds.
type Request struct {
	StartColumn     *int     `json:"startColumn,omitempty"`
	StartTime       *float64 `json:"startTime,omitempty"`
	EndColumn       *int     `json:"endColumn,omitempty"`
	EndTime         *float64 `json:"endTime,omitempty"`
	DurationColumns *int     `json:"durationColumns,omitempty"`
	DurationTime    *float64 `json:"durationTime,omitempty"`
}

// Columns builds a Request for [start, end).
func Columns(start, end int) Request {
	return Request{StartColumn: &start, EndColumn: &end}
}

// Times builds a Request for [start, end) in seconds.
func Times(start, end float64) Request {
	return Request{StartTime: &start, EndTime: &end}
}

// Result is a copy of the computed columns in [Start, End). Data holds
// (End-Start)*Height magnitudes, column-major. Start == End means nothing in
// the requested range has been computed yet.
type Result struct {
	Start    int       `json:"start"`
	End      int       `json:"end"`
	Height   int       `json:"height"`
	Data     []float32 `json:"data"`
	Computed Range     `json:"computed"`
}

// Column returns the magnitudes of column c, or nil if c is not in the result.
func (r Result) Column(c int) []float32 {
	if c < r.Start || c >= r.End || r.Height == 0 {
		return nil
	}
	off := (c - r.Start) * r.Height
	return r.Data[off : off+r.Height]
}

// resolve turns a request into [start, end) columns. timeToColumn maps seconds
// to a column; durationColumns maps a duration in seconds to a column count.
func (r Request) resolve(window Range, timeToColumn, durationColumns func(float64) int) (int, int) {
	start := window.First
	switch {
	case r.StartColumn != nil:
		start = *r.StartColumn
	case r.StartTime != nil:
		start = timeToColumn(*r.StartTime)
	}
	start = min(max(start, 0), maxRequestColumn)

	end := window.Last
	switch {
	case r.EndColumn != nil:
		end = *r.EndColumn
	case r.EndTime != nil:
		end = timeToColumn(*r.EndTime)
	case r.DurationColumns != nil:
		end = start + max(*r.DurationColumns, 0)
	case r.DurationTime != nil:
		end = start + durationColumns(*r.DurationTime)
	}
	end = min(max(end, start), maxRequestColumn)

	return start, end
}
