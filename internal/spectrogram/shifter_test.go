// SPDX-License-Identifier: MIT
package spectrogram

import "testing"

func TestShifter_RelocatesForwardRead(t *testing.T) {
	// Capacity 100 starting at 0 with 50 columns computed; a read of
	// [150, 160) lies past the window.
	buf := newTestBuffer(t, 100, 4)
	sched := NewScheduler(stftConfig(8, 4), 8)
	sched.Begin(buf, 0)
	_ = buf.SetComputed(Range{0, 50})
	sched.state = Done

	sh := Shifter{Margin: 10, Unit: 16}
	if !sh.ShouldShift(buf, 150, 160) {
		t.Fatal("ShouldShift(150, 160) = false, want true")
	}

	delta := sh.Shift(buf, sched, 150, 160)

	if delta <= 0 || delta%16 != 0 {
		t.Fatalf("delta = %d, want a positive multiple of 16", delta)
	}
	if buf.StartColumn() != delta {
		t.Errorf("StartColumn() = %d, want %d", buf.StartColumn(), delta)
	}
	w := buf.Window()
	if !w.Contains(150) || !w.Contains(159) {
		t.Errorf("window %+v does not contain the request", w)
	}
	if c := buf.Computed(); c.First < w.First || c.Last > w.Last {
		t.Errorf("computed %+v escapes window %+v", c, w)
	}
	if c := buf.Computed(); c != (Range{150, 150}) {
		t.Errorf("computed = %+v, want re-anchored at 150", c)
	}
	if sched.State() != ForwardFilling {
		t.Errorf("scheduler state = %v, want forward", sched.State())
	}
	if sh.ShouldShift(buf, 150, 160) {
		t.Error("second ShouldShift for the same range should be false")
	}
}

func TestShifter_Delta(t *testing.T) {
	tests := []struct {
		name       string
		start      int
		width      int
		reqStart   int
		reqEnd     int
		wantDelta  int
	}{
		{"Inside Window", 0, Unbounded, 20, 80, 0},
		{"Upper Guard Band", 0, Unbounded, 50, 95, 16},
		{"Far Ahead", 0, Unbounded, 500, 510, 432},
		{"Lower Guard Band", 160, Unbounded, 165, 200, -16},
		{"Far Behind", 480, Unbounded, 0, 10, -480},
		{"Clamped At Zero", 0, Unbounded, 0, 10, 0},
		{"Clamped At Width", 0, 150, 120, 149, 50},
		{"Request Wider Than Window", 0, Unbounded, 12, 400, 0},
	}

	sh := Shifter{Margin: 10, Unit: 16}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := newTestBuffer(t, 100, 1)
			buf.SetColumnWidth(tt.width)
			buf.Reset(tt.start)

			if got := sh.Delta(buf, tt.reqStart, tt.reqEnd); got != tt.wantDelta {
				t.Errorf("Delta(%d, %d) from start %d = %d, want %d", tt.reqStart, tt.reqEnd, tt.start, got, tt.wantDelta)
			}
		})
	}
}

func TestShifter_KeepsOverlap(t *testing.T) {
	buf := newTestBuffer(t, 100, 1)
	sched := NewScheduler(stftConfig(8, 4), 8)
	sched.Begin(buf, 0)
	_ = buf.Write(0, columnData(0, 100, 1))
	_ = buf.SetComputed(Range{0, 100})

	sh := Shifter{Margin: 10, Unit: 16}
	delta := sh.Shift(buf, sched, 60, 120)
	if delta != 32 {
		t.Fatalf("delta = %d, want 32", delta)
	}
	if buf.Computed() != (Range{32, 100}) {
		t.Errorf("computed = %+v, want {32 100}", buf.Computed())
	}
	r, data := buf.ReadRange(32, 100)
	for c := r.First; c < r.Last; c++ {
		if data[c-r.First] != float32(c) {
			t.Fatalf("column %d = %v after shift", c, data[c-r.First])
		}
	}
}
