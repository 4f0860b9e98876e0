// SPDX-License-Identifier: MIT
package spectrogram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"specstream/internal/analysis"
	applog "specstream/internal/log"
	"specstream/internal/source"

	"github.com/cenkalti/backoff/v4"
)

// Options tune the engine. Zero fields take the DefaultOptions value.
type Options struct {
	// ChunkColumns is the number of columns computed per fill step.
	ChunkColumns int
	// Margin is the guard band, in columns, that triggers a shift.
	Margin int
	// ShiftUnit is the granularity of window shifts in columns.
	ShiftUnit int

	// MemoryBudget is the column storage budget in bytes.
	MemoryBudget int64
	// MemoryFraction caps the budget at this share of available host memory.
	// Zero disables the cap.
	MemoryFraction float64
	// MaxColumns caps the buffer capacity regardless of budget.
	MaxColumns int

	// ReadyAttempts and RangeAttempts bound the source waits; PollInterval
	// is the delay between checks.
	ReadyAttempts int
	RangeAttempts int
	PollInterval  time.Duration

	// NewTransformer builds the transform for a config. Defaults to an
	// analysis.Kernel.
	NewTransformer func(Config) (analysis.Transformer, error)
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		ChunkColumns:   16,
		Margin:         16,
		ShiftUnit:      16,
		MemoryBudget:   DefaultMemoryBudget,
		ReadyAttempts:  250,
		RangeAttempts:  50,
		PollInterval:   20 * time.Millisecond,
		NewTransformer: newKernel,
	}
}

func newKernel(cfg Config) (analysis.Transformer, error) {
	return analysis.NewKernel(cfg.STFT.WindowSize, cfg.STFT.WindowFunction, cfg.STFT.Backend)
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkColumns <= 0 {
		o.ChunkColumns = d.ChunkColumns
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	if o.ShiftUnit <= 0 {
		o.ShiftUnit = d.ShiftUnit
	}
	if o.MemoryBudget <= 0 {
		o.MemoryBudget = d.MemoryBudget
	}
	if o.ReadyAttempts <= 0 {
		o.ReadyAttempts = d.ReadyAttempts
	}
	if o.RangeAttempts <= 0 {
		o.RangeAttempts = d.RangeAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.NewTransformer == nil {
		o.NewTransformer = d.NewTransformer
	}
	return o
}

// Stats is a snapshot of the engine for monitors.
type Stats struct {
	State       State  `json:"state"`
	Generation  uint64 `json:"generation"`
	Window      Range  `json:"window"`
	Computed    Range  `json:"computed"`
	Capacity    int    `json:"capacity"`
	Height      int    `json:"height"`
	ColumnWidth int    `json:"columnWidth"` // -1 while unknown

	SamplesReceived int     `json:"samplesReceived"`
	SourceDone      bool    `json:"sourceDone"`
	SampleSeconds   float64 `json:"sampleSeconds"`

	Chunks            uint64 `json:"chunks"`
	Discarded         uint64 `json:"discarded"`
	RangeTimeouts     uint64 `json:"rangeTimeouts"`
	TransformFailures uint64 `json:"transformFailures"` // columns stored as zeros
	Shifts            uint64 `json:"shifts"`
}

type counters struct {
	chunks, discarded, rangeTimeouts, transformFailures, shifts uint64
}

var errStaleJob = errors.New("job superseded")

// Engine computes an STFT spectrogram of a growing source into a bounded
// sliding window of columns. One worker goroutine runs fill steps strictly in
// sequence; reads and config changes may come from any goroutine.
type Engine struct {
	src  source.Source
	opts Options

	mu      sync.Mutex
	cfg     Config
	gen     uint64
	buf     *Buffer
	sched   *Scheduler
	shifter Shifter
	count   counters
	changed chan struct{} // closed and replaced whenever the buffer changes

	// widthFinal is set once the width comes from a finished source.
	widthFinal bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and returns an engine that has not started yet.
func New(src source.Source, cfg Config, opts Options) (*Engine, error) {
	if src == nil {
		return nil, errors.New("engine: nil source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Engine{
		src:     src,
		opts:    opts,
		cfg:     cfg,
		shifter: Shifter{Margin: opts.Margin, Unit: opts.ShiftUnit},
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Start waits for the source to become ready, allocates the buffer and
// launches the fill worker. ErrSourceTimeout is returned if the source is not
// ready within ReadyAttempts polls. The worker stops when ctx is cancelled or
// Close is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.done != nil {
		e.mu.Unlock()
		return errors.New("engine: already started")
	}
	e.mu.Unlock()

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.PollInterval), uint64(e.opts.ReadyAttempts)),
		ctx)
	err := backoff.Retry(func() error {
		if e.src.IsReady() {
			return nil
		}
		return ErrSourceTimeout
	}, b)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w after %d attempts", ErrSourceTimeout, e.opts.ReadyAttempts)
	}

	e.mu.Lock()
	if err := e.resetLocked(e.cfg); err != nil {
		e.mu.Unlock()
		return err
	}
	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	applog.Infof("Engine: started (window %d, hop %d, %s, capacity %d columns of %d)",
		e.cfg.STFT.WindowSize, e.cfg.STFT.HopLength, e.cfg.STFT.WindowFunction, e.buf.Capacity(), e.buf.Height())
	e.mu.Unlock()

	go e.run(workerCtx)
	return nil
}

// Run starts the engine and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Close()
}

// Close stops the worker and waits for it to exit. It is safe to call more
// than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// resetLocked (re)allocates the buffer for cfg, anchors the window at
// cfg.StartTime and invalidates in-flight work.
func (e *Engine) resetLocked(cfg Config) error {
	height := cfg.ColumnHeight()
	capacity, err := Capacity(e.opts.MemoryBudget, e.opts.MemoryFraction, height, e.opts.MaxColumns)
	if err != nil {
		return err
	}

	buf := e.buf
	if buf == nil || buf.Capacity() != capacity || buf.Height() != height {
		if buf, err = NewBuffer(capacity, height); err != nil {
			return err
		}
	}

	e.cfg = cfg
	e.buf = buf
	e.gen++
	e.widthFinal = false
	buf.SetColumnWidth(Unbounded)
	e.refreshWidthLocked()

	anchor := cfg.Column(e.src.IndexForTime(cfg.StartTime))
	windowStart := anchor
	if w := buf.ColumnWidth(); w != Unbounded {
		windowStart = min(anchor, max(0, w-capacity))
	}
	buf.Reset(windowStart)

	e.sched = NewScheduler(cfg, e.opts.ChunkColumns)
	e.sched.Begin(buf, anchor)
	e.broadcastLocked()
	e.kick()
	return nil
}

// refreshWidthLocked records the column width once the stream length is
// known. A width announced by the container header is provisional: when the
// source finishes, the width is recomputed from the samples actually received.
func (e *Engine) refreshWidthLocked() {
	if e.widthFinal {
		return
	}
	current := e.buf.ColumnWidth()

	if e.src.IsDone() {
		total := e.src.LastReadableIndex() + 1
		width := e.cfg.Column(total)
		e.widthFinal = true
		if width == current {
			return
		}
		e.buf.SetColumnWidth(width)
		if current != Unbounded {
			applog.Infof("Engine: stream ended at %d samples, width corrected from %d to %d columns", total, current, width)
			// Columns past the old width may now be fillable.
			e.sched.Shifted()
			e.kick()
		} else {
			applog.Debugf("Engine: stream length %d samples, %d columns", total, width)
		}
		return
	}

	if current != Unbounded {
		return
	}
	l, ok := e.src.(source.Lengther)
	if !ok {
		return
	}
	total, known := l.ExpectedLength()
	if !known {
		return
	}
	width := e.cfg.Column(total)
	e.buf.SetColumnWidth(width)
	applog.Debugf("Engine: expected length %d samples, %d columns", total, width)
}

func (e *Engine) broadcastLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	var (
		transformer analysis.Transformer
		builtFor    uint64
	)

	for {
		if ctx.Err() != nil {
			return
		}

		e.mu.Lock()
		e.refreshWidthLocked()
		job, ok := e.sched.Next(e.buf, e.src)
		job.Generation = e.gen
		cfg := e.cfg
		if !ok {
			e.broadcastLocked()
		}
		e.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			}
			continue
		}

		if transformer == nil || builtFor != job.Generation {
			t, err := e.opts.NewTransformer(cfg)
			if err != nil {
				applog.Errorf("Engine: building transform: %v", err)
				t = nil
			}
			transformer, builtFor = t, job.Generation
		}

		samples, err := e.fetch(ctx, job)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, errStaleJob):
				e.mu.Lock()
				e.count.discarded++
				e.mu.Unlock()
			default:
				applog.Warnf("Engine: columns [%d, %d): %v", job.Column, job.Column+job.Count, err)
				e.mu.Lock()
				e.count.rangeTimeouts++
				e.mu.Unlock()
			}
			continue
		}

		data := make([]float32, job.Count*cfg.ColumnHeight())
		failed := job.Count
		if transformer != nil {
			failed = computeColumns(transformer, cfg, job, samples, data)
		}

		e.mu.Lock()
		e.count.transformFailures += uint64(failed)
		if job.Generation != e.gen {
			e.count.discarded++
		} else if err := e.sched.Complete(e.buf, job, data); err != nil {
			applog.Debugf("Engine: discarding %v", err)
			e.count.discarded++
		} else {
			e.count.chunks++
			e.broadcastLocked()
		}
		e.mu.Unlock()
	}
}

// computeColumns transforms a job's samples into data. When the chunk fails as
// a whole, each column is retried on its own frame so only the frames the
// kernel rejects are left as zeros. It returns the number of zeroed columns.
func computeColumns(t analysis.Transformer, cfg Config, job Job, samples []float64, data []float32) int {
	err := t.Compute(samples, cfg.STFT.HopLength, job.Count, data)
	if err == nil {
		return 0
	}

	hop, size, height := cfg.STFT.HopLength, cfg.STFT.WindowSize, cfg.ColumnHeight()
	failed := 0
	for i := range job.Count {
		col := data[i*height : (i+1)*height]
		if cerr := t.Compute(samples[i*hop:i*hop+size], hop, 1, col); cerr != nil {
			applog.Errorf("Engine: column %d: %v (stored as zeros)", job.Column+i, cerr)
			clear(col)
			failed++
		}
	}
	return failed
}

// fetch waits for the job's samples with bounded retries and reads them.
func (e *Engine) fetch(ctx context.Context, job Job) ([]float64, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.opts.PollInterval), uint64(e.opts.RangeAttempts)),
		ctx)

	err := backoff.Retry(func() error {
		if e.stale(job) {
			return backoff.Permanent(errStaleJob)
		}
		if e.src.CanRead(job.SampleEnd - 1) {
			return nil
		}
		if e.src.IsDone() {
			// The stream ended short of this chunk; the next step re-plans
			// against the final length.
			return backoff.Permanent(errStaleJob)
		}
		return ErrRangeTimeout
	}, b)
	if err != nil {
		return nil, err
	}

	r, err := e.src.ReadRange(job.SampleStart, job.SampleEnd)
	if err != nil {
		return nil, err
	}
	if r.Start != job.SampleStart || r.End != job.SampleEnd {
		return nil, fmt.Errorf("%w: got samples [%d, %d), want [%d, %d)", ErrRangeTimeout, r.Start, r.End, job.SampleStart, job.SampleEnd)
	}
	return r.Samples, nil
}

func (e *Engine) stale(job Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return job.Generation != e.gen || !e.sched.Valid(e.buf, job)
}

// Read resolves req, shifts the window if the range crosses a guard band and
// returns a copy of the computed columns inside the range. It never blocks on
// fill work and never fails; before Start it returns an empty Result.
func (e *Engine) Read(req Request) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.buf == nil {
		return Result{}
	}
	start, end := e.resolveLocked(req)
	e.ensureCoverageLocked(start, end)
	return e.readRangeLocked(start, end)
}

// Resolve converts req to a [start, end) column range without side effects.
func (e *Engine) Resolve(req Request) (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveLocked(req)
}

func (e *Engine) resolveLocked(req Request) (int, int) {
	window := Range{}
	if e.buf != nil {
		window = e.buf.Window()
	}
	hop := e.cfg.STFT.HopLength
	return req.resolve(window,
		func(t float64) int { return e.cfg.Column(e.src.IndexForTime(t)) },
		func(d float64) int {
			n := e.src.IndexForTime(d)
			return (n + hop - 1) / hop
		})
}

// EnsureCoverage shifts the window if [start, end) crosses a guard band. It
// reports whether a shift happened.
func (e *Engine) EnsureCoverage(start, end int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf == nil {
		return false
	}
	return e.ensureCoverageLocked(start, end)
}

func (e *Engine) ensureCoverageLocked(start, end int) bool {
	e.refreshWidthLocked()
	if !e.shifter.ShouldShift(e.buf, start, end) {
		return false
	}
	before := e.buf.Window()
	delta := e.shifter.Shift(e.buf, e.sched, start, end)
	if delta == 0 {
		return false
	}
	e.count.shifts++
	applog.Debugf("Engine: shifted window by %d, [%d, %d) -> [%d, %d)",
		delta, before.First, before.Last, e.buf.StartColumn(), e.buf.EndColumn())
	e.broadcastLocked()
	e.kick()
	return true
}

// ReadRange returns the computed columns of [start, end) without moving the window.
func (e *Engine) ReadRange(start, end int) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf == nil {
		return Result{}
	}
	return e.readRangeLocked(start, end)
}

func (e *Engine) readRangeLocked(start, end int) Result {
	r, data := e.buf.ReadRange(start, end)
	return Result{
		Start:    r.First,
		End:      r.Last,
		Height:   e.buf.Height(),
		Data:     data,
		Computed: e.buf.Computed(),
	}
}

// Wait shifts the window to cover [start, end) if needed and blocks until the
// part of the range inside the window is computed, or filling has nothing
// left to do. It returns the computed range at that point.
func (e *Engine) Wait(ctx context.Context, start, end int) (Range, error) {
	for {
		e.mu.Lock()
		if e.buf == nil {
			e.mu.Unlock()
			return Range{}, ErrNotStarted
		}
		e.ensureCoverageLocked(start, end)
		w := e.buf.Window()
		target := Range{First: max(start, w.First), Last: min(end, w.Last)}
		computed := e.buf.Computed()
		finished := computed.Covers(target) || e.sched.State() == Done
		changed, done := e.changed, e.done
		e.mu.Unlock()

		if finished {
			return computed, nil
		}

		select {
		case <-ctx.Done():
			return computed, ctx.Err()
		case <-done:
			return computed, ErrClosed
		case <-changed:
		}
	}
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetConfig replaces the configuration. Once started, the computed range is
// discarded and filling restarts from the new StartTime; any chunk in flight
// is dropped when it completes.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.buf == nil {
		e.cfg = cfg
		return nil
	}
	if err := e.resetLocked(cfg); err != nil {
		return err
	}
	applog.Infof("Engine: config changed (window %d, hop %d, %s, start %.3fs), generation %d",
		cfg.STFT.WindowSize, cfg.STFT.HopLength, cfg.STFT.WindowFunction, cfg.StartTime, e.gen)
	return nil
}

// Stats returns a snapshot for monitors.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Generation:        e.gen,
		ColumnWidth:       -1,
		Chunks:            e.count.chunks,
		Discarded:         e.count.discarded,
		RangeTimeouts:     e.count.rangeTimeouts,
		TransformFailures: e.count.transformFailures,
		Shifts:            e.count.shifts,
		SamplesReceived:   e.src.LastReadableIndex() + 1,
		SourceDone:        e.src.IsDone(),
	}
	s.SampleSeconds = e.src.TimeForIndex(s.SamplesReceived)
	if e.buf == nil {
		return s
	}

	s.State = e.sched.State()
	s.Window = e.buf.Window()
	s.Computed = e.buf.Computed()
	s.Capacity = e.buf.Capacity()
	s.Height = e.buf.Height()
	if w := e.buf.ColumnWidth(); w != Unbounded {
		s.ColumnWidth = w
	}
	return s
}

// ColumnForTime maps seconds to a column.
func (e *Engine) ColumnForTime(seconds float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Column(e.src.IndexForTime(seconds))
}

// TimeForColumn maps a column to the time of its first sample.
func (e *Engine) TimeForColumn(column int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src.TimeForIndex(e.cfg.SampleIndex(column))
}

// WidthKnown reports whether the stream's total column count is known, and
// returns it.
func (e *Engine) WidthKnown() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buf == nil || e.buf.ColumnWidth() == Unbounded {
		return 0, false
	}
	return e.buf.ColumnWidth(), true
}
