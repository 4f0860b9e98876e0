// SPDX-License-Identifier: MIT
package source

import (
	"errors"
	"sync"
	"testing"
)

func TestBuffer_Readiness(t *testing.T) {
	buf := NewBuffer(0)

	if buf.IsReady() {
		t.Fatal("new buffer should not be ready")
	}
	if err := buf.Write([]float64{1}); !errors.Is(err, ErrNotReady) {
		t.Errorf("Write before SetFormat: error = %v, want ErrNotReady", err)
	}
	if err := buf.SetFormat(0, 0); err == nil {
		t.Error("SetFormat(0) expected error")
	}
	if err := buf.SetFormat(8000, 0); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if !buf.IsReady() || buf.IsDone() {
		t.Errorf("after SetFormat: ready=%v done=%v, want true false", buf.IsReady(), buf.IsDone())
	}
	if got := buf.LastReadableIndex(); got != -1 {
		t.Errorf("LastReadableIndex on empty buffer = %d, want -1", got)
	}
}

func TestBuffer_ReadRange(t *testing.T) {
	buf := NewBuffer(16)
	if err := buf.SetFormat(8000, 0); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := buf.Write([]float64{0, 1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	tests := []struct {
		name       string
		start, end int
		wantStart  int
		wantEnd    int
		wantErr    error
	}{
		{"Inside", 1, 3, 1, 3, nil},
		{"Clamped End", 3, 10, 3, 5, nil},
		{"Negative Start", -4, 2, 0, 2, nil},
		{"Empty", 2, 2, 2, 2, nil},
		{"Past Received", 5, 9, 5, 5, ErrNotReadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := buf.ReadRange(tt.start, tt.end)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadRange(%d, %d) error = %v, want %v", tt.start, tt.end, err, tt.wantErr)
			}
			if r.Start != tt.wantStart || r.End != tt.wantEnd || len(r.Samples) != r.Len() {
				t.Fatalf("ReadRange(%d, %d) = [%d, %d) with %d samples, want [%d, %d)",
					tt.start, tt.end, r.Start, r.End, len(r.Samples), tt.wantStart, tt.wantEnd)
			}
			for i, s := range r.Samples {
				if s != float64(r.Start+i) {
					t.Errorf("sample %d = %v, want %v", r.Start+i, s, float64(r.Start+i))
				}
			}
		})
	}

	r, _ := buf.ReadRange(0, 5)
	r.Samples[0] = 99
	if again, _ := buf.ReadRange(0, 1); again.Samples[0] != 0 {
		t.Error("ReadRange returned a view into internal storage")
	}

	if !buf.CanRead(4) || buf.CanRead(5) || buf.CanRead(-1) {
		t.Errorf("CanRead(4,5,-1) = %v %v %v, want true false false", buf.CanRead(4), buf.CanRead(5), buf.CanRead(-1))
	}
}

func TestBuffer_CloseAndLength(t *testing.T) {
	buf := NewBuffer(0)
	if err := buf.SetFormat(100, 10); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}

	if n, ok := buf.ExpectedLength(); !ok || n != 10 {
		t.Errorf("ExpectedLength() = %d, %v; want 10, true", n, ok)
	}

	_ = buf.Write(make([]float64, 4))
	buf.Close()
	buf.Close()

	if !buf.IsDone() {
		t.Error("IsDone() = false after Close")
	}
	if err := buf.Write([]float64{1}); !errors.Is(err, ErrBufferClosed) {
		t.Errorf("Write after Close: error = %v, want ErrBufferClosed", err)
	}
	if n, ok := buf.ExpectedLength(); !ok || n != 4 {
		t.Errorf("ExpectedLength() after Close = %d, %v; want 4, true", n, ok)
	}
}

func TestBuffer_TimeConversion(t *testing.T) {
	buf := NewBuffer(0)
	if got := buf.IndexForTime(1); got != 0 {
		t.Errorf("IndexForTime before format = %d, want 0", got)
	}
	_ = buf.SetFormat(44100, 0)

	tests := []struct {
		seconds float64
		want    int
	}{
		{0, 0},
		{-1, 0},
		{1, 44100},
		{0.5, 22050},
		{1.0 / 44100 * 0.99, 0},
	}
	for _, tt := range tests {
		if got := buf.IndexForTime(tt.seconds); got != tt.want {
			t.Errorf("IndexForTime(%v) = %d, want %d", tt.seconds, got, tt.want)
		}
	}
	if got := buf.TimeForIndex(22050); got != 0.5 {
		t.Errorf("TimeForIndex(22050) = %v, want 0.5", got)
	}
}

func TestBuffer_ConcurrentWriteRead(t *testing.T) {
	buf := NewBuffer(0)
	_ = buf.SetFormat(8000, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		chunk := make([]float64, 64)
		for range 100 {
			_ = buf.Write(chunk)
		}
		buf.Close()
	}()
	go func() {
		defer wg.Done()
		for !buf.IsDone() {
			last := buf.LastReadableIndex()
			if last >= 0 {
				if _, err := buf.ReadRange(0, last+1); err != nil {
					t.Errorf("ReadRange: %v", err)
					return
				}
			}
		}
	}()
	wg.Wait()

	if got := buf.Len(); got != 6400 {
		t.Errorf("Len() = %d, want 6400", got)
	}
}
