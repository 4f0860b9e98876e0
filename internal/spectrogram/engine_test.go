// SPDX-License-Identifier: MIT
package spectrogram

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"specstream/internal/analysis"
	"specstream/internal/source"
	"specstream/pkg/utils"
)

const (
	testRate   = 8000.0
	testWindow = 256
	testHop    = 64
)

func testConfig() Config {
	cfg := stftConfig(testWindow, testHop)
	cfg.STFT.WindowFunction = analysis.Hann
	return cfg
}

func testOptions() Options {
	return Options{
		ChunkColumns:  8,
		Margin:        4,
		ShiftUnit:     8,
		MaxColumns:    64,
		ReadyAttempts: 20,
		RangeAttempts: 5,
		PollInterval:  time.Millisecond,
	}
}

// loadedSource returns a finished source of n samples of a three-tone signal.
func loadedSource(t *testing.T, n int) (*source.Buffer, []float64) {
	t.Helper()
	samples := utils.GenerateComplexWave(n, testRate)
	src := source.NewBuffer(n)
	if err := src.SetFormat(testRate, 0); err != nil {
		t.Fatal(err)
	}
	if err := src.Write(samples); err != nil {
		t.Fatal(err)
	}
	src.Close()
	return src, samples
}

func startEngine(t *testing.T, src source.Source, cfg Config, opts Options) *Engine {
	t.Helper()
	e, err := New(src, cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// checkColumns compares every column of res with a direct transform of its frame.
func checkColumns(t *testing.T, res Result, samples []float64, cfg Config) {
	t.Helper()
	coeffs := analysis.Coefficients(cfg.STFT.WindowFunction, cfg.STFT.WindowSize)
	for c := res.Start; c < res.End; c++ {
		start := cfg.SampleIndex(c)
		want, err := analysis.Magnitudes(samples[start:start+cfg.STFT.WindowSize], coeffs)
		if err != nil {
			t.Fatalf("Magnitudes: %v", err)
		}
		got := res.Column(c)
		for k := range want {
			if diff := math.Abs(float64(got[k]) - want[k]); diff > 1e-3*math.Max(1, want[k]) {
				t.Fatalf("column %d bin %d = %v, want %v", c, k, got[k], want[k])
			}
		}
	}
}

func TestEngine_FillsWindow(t *testing.T) {
	src, samples := loadedSource(t, testHop*200)
	e := startEngine(t, src, testConfig(), testOptions())

	computed, err := e.Wait(waitCtx(t), 0, 64)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if computed != (Range{0, 64}) {
		t.Fatalf("computed = %+v, want {0 64}", computed)
	}

	res := e.ReadRange(0, 64)
	if res.Start != 0 || res.End != 64 || res.Height != testWindow/2+1 {
		t.Fatalf("ReadRange = [%d, %d) height %d", res.Start, res.End, res.Height)
	}
	if len(res.Data) != 64*res.Height {
		t.Fatalf("data length %d, want %d", len(res.Data), 64*res.Height)
	}
	checkColumns(t, res, samples, testConfig())

	stats := e.Stats()
	if stats.ColumnWidth != testConfig().Column(testHop*200) {
		t.Errorf("ColumnWidth = %d, want %d", stats.ColumnWidth, testConfig().Column(testHop*200))
	}
	if stats.Chunks == 0 || stats.Capacity != 64 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEngine_ReadShiftsAndRefills(t *testing.T) {
	src, samples := loadedSource(t, testHop*200)
	e := startEngine(t, src, testConfig(), testOptions())
	ctx := waitCtx(t)

	if _, err := e.Wait(ctx, 0, 64); err != nil {
		t.Fatal(err)
	}

	res := e.Read(Columns(150, 160))
	stats := e.Stats()
	if stats.Window.First == 0 || stats.Window.First%8 != 0 {
		t.Fatalf("window start %d after read, want a non-zero multiple of 8", stats.Window.First)
	}
	if !stats.Window.Contains(150) || !stats.Window.Contains(159) {
		t.Fatalf("window %+v does not cover the read", stats.Window)
	}
	if res.Start < 150 || res.End > 160 || res.End < res.Start {
		t.Fatalf("Read returned [%d, %d) outside the request", res.Start, res.End)
	}

	if _, err := e.Wait(ctx, 150, 160); err != nil {
		t.Fatal(err)
	}
	res = e.Read(Columns(150, 160))
	if res.Start != 150 || res.End != 160 {
		t.Fatalf("Read after fill = [%d, %d), want [150, 160)", res.Start, res.End)
	}
	checkColumns(t, res, samples, testConfig())
}

func TestEngine_ReadBounds(t *testing.T) {
	src, _ := loadedSource(t, testHop*200)
	e := startEngine(t, src, testConfig(), testOptions())
	if _, err := e.Wait(waitCtx(t), 0, 64); err != nil {
		t.Fatal(err)
	}

	requests := []Request{
		Columns(10, 20),
		Columns(-5, 3),
		Columns(60, 400),
		Columns(30, 30),
		Times(0.1, 0.2),
		{},
	}

	for _, req := range requests {
		start, end := e.Resolve(req)
		res := e.Read(req)
		if res.End < res.Start {
			t.Fatalf("Read(%d, %d) returned inverted range [%d, %d)", start, end, res.Start, res.End)
		}
		if res.End > res.Start {
			if res.Start < start || res.End > end {
				t.Errorf("Read(%d, %d) returned [%d, %d) outside the request", start, end, res.Start, res.End)
			}
			if res.Start < res.Computed.First || res.End > res.Computed.Last {
				t.Errorf("Read(%d, %d) returned [%d, %d) outside computed %+v", start, end, res.Start, res.End, res.Computed)
			}
		}
		if len(res.Data) != (res.End-res.Start)*res.Height {
			t.Errorf("Read(%d, %d) data length %d for %d columns", start, end, len(res.Data), res.End-res.Start)
		}
	}
}

func TestEngine_ReadIsIdempotent(t *testing.T) {
	src, _ := loadedSource(t, testHop*80)
	e := startEngine(t, src, testConfig(), testOptions())
	ctx := waitCtx(t)

	width, _ := e.WidthKnown()
	if _, err := e.Wait(ctx, 0, width); err != nil {
		t.Fatal(err)
	}
	waitForState(t, e, Done)

	first := e.Read(Columns(5, 40))
	second := e.Read(Columns(5, 40))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("consecutive reads differ: [%d, %d) vs [%d, %d)", first.Start, first.End, second.Start, second.End)
	}
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for e.Stats().State != want {
		if time.Now().After(deadline) {
			t.Fatalf("engine state = %v, want %v", e.Stats().State, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_Resolve(t *testing.T) {
	src, _ := loadedSource(t, testHop*200)
	e := startEngine(t, src, testConfig(), testOptions())

	intp := func(v int) *int { return &v }
	fp := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		req       Request
		wantStart int
		wantEnd   int
	}{
		// 0.1s = 800 samples, column((800-192)/64) = 9.
		{"Start Time", Request{StartTime: fp(0.1), EndColumn: intp(20)}, 9, 20},
		{"Column Beats Time", Request{StartColumn: intp(3), StartTime: fp(0.1), EndColumn: intp(20)}, 3, 20},
		{"Duration Columns", Request{StartColumn: intp(9), DurationColumns: intp(5)}, 9, 14},
		{"Duration Time", Request{StartColumn: intp(9), DurationTime: fp(0.016)}, 9, 11},
		{"End Beats Duration", Request{StartColumn: intp(9), EndColumn: intp(12), DurationColumns: intp(50)}, 9, 12},
		{"End Before Start", Columns(30, 10), 30, 30},
		{"Negative Start", Columns(-4, 2), 0, 2},
		{"Defaults To Window", Request{}, 0, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := e.Resolve(tt.req)
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("Resolve() = [%d, %d), want [%d, %d)", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}

	if got := e.ColumnForTime(0.1); got != 9 {
		t.Errorf("ColumnForTime(0.1) = %d, want 9", got)
	}
	if got := e.TimeForColumn(125); got != 1.0 {
		t.Errorf("TimeForColumn(125) = %v, want 1", got)
	}
}

func TestEngine_SetConfigRestarts(t *testing.T) {
	src, samples := loadedSource(t, testHop*200)
	e := startEngine(t, src, testConfig(), testOptions())
	ctx := waitCtx(t)

	if _, err := e.Wait(ctx, 0, 64); err != nil {
		t.Fatal(err)
	}
	genBefore := e.Stats().Generation

	next := testConfig()
	next.STFT.WindowSize = 128
	next.STFT.HopLength = 32
	next.STFT.WindowFunction = analysis.Hamming
	next.StartTime = 0.5
	if err := e.SetConfig(next); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if got := e.Config(); got != next {
		t.Fatalf("Config() = %+v, want %+v", got, next)
	}

	anchor := next.Column(4000) // 0.5s
	stats := e.Stats()
	if stats.Generation != genBefore+1 || stats.Height != 65 {
		t.Fatalf("after SetConfig: generation %d height %d", stats.Generation, stats.Height)
	}
	if stats.Computed.First != anchor {
		t.Fatalf("computed %+v does not start at the new anchor %d", stats.Computed, anchor)
	}

	if _, err := e.Wait(ctx, anchor, anchor+20); err != nil {
		t.Fatal(err)
	}
	res := e.ReadRange(anchor, anchor+20)
	if res.Start != anchor || res.End != anchor+20 {
		t.Fatalf("ReadRange after SetConfig = [%d, %d)", res.Start, res.End)
	}
	checkColumns(t, res, samples, next)

	bad := next
	bad.STFT.HopLength = 0
	if err := e.SetConfig(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("SetConfig(invalid) error = %v, want ErrInvalidConfig", err)
	}
	if e.Config() != next {
		t.Error("invalid SetConfig changed the active config")
	}
}

func TestEngine_SourceTimeout(t *testing.T) {
	src := source.NewBuffer(0) // never ready
	opts := testOptions()
	opts.ReadyAttempts = 3

	e, err := New(src, testConfig(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrSourceTimeout) {
		t.Fatalf("Start() error = %v, want ErrSourceTimeout", err)
	}

	if res := e.Read(Columns(0, 10)); res.Start != res.End || res.Data != nil {
		t.Errorf("Read before start = %+v, want empty", res)
	}
	if _, err := e.Wait(context.Background(), 0, 10); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Wait before start error = %v, want ErrNotStarted", err)
	}
}

func TestEngine_RangeTimeoutKeepsState(t *testing.T) {
	src := source.NewBuffer(0)
	_ = src.SetFormat(testRate, 0)
	_ = src.Write(make([]float64, testWindow+testHop*3)) // 4 columns, not done

	e := startEngine(t, src, testConfig(), testOptions())

	deadline := time.Now().Add(5 * time.Second)
	for e.Stats().RangeTimeouts == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no range timeout recorded")
		}
		time.Sleep(time.Millisecond)
	}

	stats := e.Stats()
	if stats.Computed.First != 0 || stats.Computed.Last != 0 {
		t.Errorf("computed = %+v, want empty at 0 while the first chunk waits", stats.Computed)
	}

	// More samples arrive and the stalled chunk goes through.
	_ = src.Write(make([]float64, testHop*60))
	src.Close()
	if _, err := e.Wait(waitCtx(t), 0, 8); err != nil {
		t.Fatal(err)
	}
	if c := e.Stats().Computed; c.Last < 8 {
		t.Errorf("computed = %+v after data arrived, want at least 8 columns", c)
	}
}

type failingTransformer struct{ height, window int }

func (f failingTransformer) ColumnHeight() int { return f.height }
func (f failingTransformer) WindowSize() int   { return f.window }
func (f failingTransformer) Compute([]float64, int, int, []float32) error {
	return analysis.ErrTransform
}

func TestEngine_TransformFailureContinues(t *testing.T) {
	src, _ := loadedSource(t, testHop*100)
	opts := testOptions()
	opts.NewTransformer = func(cfg Config) (analysis.Transformer, error) {
		return failingTransformer{height: cfg.ColumnHeight(), window: cfg.STFT.WindowSize}, nil
	}
	e := startEngine(t, src, testConfig(), opts)

	if _, err := e.Wait(waitCtx(t), 0, 64); err != nil {
		t.Fatal(err)
	}
	stats := e.Stats()
	if stats.TransformFailures == 0 {
		t.Error("TransformFailures = 0, want failures counted")
	}
	if stats.Computed != (Range{0, 64}) {
		t.Errorf("computed = %+v, want {0 64} despite failures", stats.Computed)
	}
	for i, v := range e.ReadRange(0, 64).Data {
		if v != 0 {
			t.Fatalf("value %d = %v, failed chunks should read as zero", i, v)
		}
	}
}

func TestEngine_ProgressiveSource(t *testing.T) {
	samples := utils.GenerateComplexWave(testHop*150, testRate)
	src := source.NewBuffer(0)

	opts := testOptions()
	opts.ReadyAttempts = 1000
	opts.RangeAttempts = 1000
	e, err := New(src, testConfig(), opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = src.SetFormat(testRate, 0)
		for off := 0; off < len(samples); off += 500 {
			_ = src.Write(samples[off:min(off+500, len(samples))])
			time.Sleep(time.Millisecond)
		}
		src.Close()
	}()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Close()

	if _, err := e.Wait(waitCtx(t), 0, 64); err != nil {
		t.Fatal(err)
	}
	res := e.ReadRange(0, 64)
	if res.End != 64 {
		t.Fatalf("ReadRange = [%d, %d), want [0, 64)", res.Start, res.End)
	}
	checkColumns(t, res, samples, testConfig())
}

func TestEngine_CloseStopsWorker(t *testing.T) {
	src, _ := loadedSource(t, testHop*100)
	e, err := New(src, testConfig(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("Start after Close should fail")
	}
}

func TestEngine_CloseUnblocksWait(t *testing.T) {
	src := source.NewBuffer(0)
	if err := src.SetFormat(testRate, 0); err != nil {
		t.Fatal(err)
	}
	// Enough samples for a few columns; the rest never arrives.
	if err := src.Write(utils.GenerateComplexWave(testHop*20, testRate)); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.RangeAttempts = 1000
	e := startEngine(t, src, testConfig(), opts)

	ctx := waitCtx(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Wait(ctx, 0, 64)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("Wait error = %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait still blocked after Close")
	}
}

func TestEngine_TransformFailureOnlyZeroesBadFrames(t *testing.T) {
	samples := utils.GenerateComplexWave(testHop*100, testRate)
	samples[1280] = math.NaN()

	src := source.NewBuffer(len(samples))
	if err := src.SetFormat(testRate, 0); err != nil {
		t.Fatal(err)
	}
	if err := src.Write(samples); err != nil {
		t.Fatal(err)
	}
	src.Close()

	cfg := testConfig()
	e := startEngine(t, src, cfg, testOptions())
	computed, err := e.Wait(waitCtx(t), 0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if computed != (Range{0, 64}) {
		t.Fatalf("computed = %+v, want {0 64}", computed)
	}

	// Frames c*64 <= 1280 < c*64+256 are columns 17 through 20.
	checkColumns(t, e.ReadRange(0, 17), samples, cfg)
	checkColumns(t, e.ReadRange(21, 64), samples, cfg)

	bad := e.ReadRange(17, 21)
	for c := 17; c < 21; c++ {
		for k, v := range bad.Column(c) {
			if v != 0 {
				t.Fatalf("column %d bin %d = %v, want zero for a non-finite frame", c, k, v)
			}
		}
	}
	if got := e.Stats().TransformFailures; got != 4 {
		t.Errorf("TransformFailures = %d, want 4", got)
	}
}

func TestEngine_WidthCorrectedWhenSourceEnds(t *testing.T) {
	cfg := testConfig()

	t.Run("longer than announced", func(t *testing.T) {
		samples := utils.GenerateComplexWave(testHop*100, testRate)
		src := source.NewBuffer(0)
		if err := src.SetFormat(testRate, testHop*50); err != nil {
			t.Fatal(err)
		}
		if err := src.Write(samples); err != nil {
			t.Fatal(err)
		}
		e := startEngine(t, src, cfg, testOptions())

		announced := cfg.Column(testHop * 50)
		if _, err := e.Wait(waitCtx(t), 0, 64); err != nil {
			t.Fatal(err)
		}
		if stats := e.Stats(); stats.ColumnWidth != announced || stats.Computed != (Range{0, announced}) {
			t.Fatalf("before close: width %d computed %+v, want %d and {0 %d}",
				stats.ColumnWidth, stats.Computed, announced, announced)
		}

		src.Close()
		computed, err := e.Wait(waitCtx(t), 0, 64)
		if err != nil {
			t.Fatal(err)
		}
		if computed != (Range{0, 64}) {
			t.Fatalf("computed = %+v, want {0 64} after the width grew", computed)
		}
		if got, want := e.Stats().ColumnWidth, cfg.Column(len(samples)); got != want {
			t.Errorf("ColumnWidth = %d, want %d", got, want)
		}
		checkColumns(t, e.ReadRange(0, 64), samples, cfg)
	})

	t.Run("shorter than announced", func(t *testing.T) {
		samples := utils.GenerateComplexWave(testHop*40, testRate)
		src := source.NewBuffer(0)
		if err := src.SetFormat(testRate, testHop*200); err != nil {
			t.Fatal(err)
		}
		if err := src.Write(samples); err != nil {
			t.Fatal(err)
		}
		e := startEngine(t, src, cfg, testOptions())
		if got := e.Stats().ColumnWidth; got != cfg.Column(testHop*200) {
			t.Fatalf("ColumnWidth = %d, want the announced %d", got, cfg.Column(testHop*200))
		}

		src.Close()
		final := cfg.Column(len(samples))
		computed, err := e.Wait(waitCtx(t), 0, 64)
		if err != nil {
			t.Fatal(err)
		}
		if computed != (Range{0, final}) {
			t.Fatalf("computed = %+v, want {0 %d}", computed, final)
		}
		if got := e.Stats().ColumnWidth; got != final {
			t.Errorf("ColumnWidth = %d, want %d", got, final)
		}
	})
}
