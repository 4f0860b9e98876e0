// SPDX-License-Identifier: MIT
package spectrogram

import (
	"fmt"

	"specstream/internal/source"
)

// State is the fill scheduler's position in its cycle.
type State int

const (
	Idle State = iota
	ForwardFilling
	BackwardFilling
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ForwardFilling:
		return "forward"
	case BackwardFilling:
		return "backward"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Done; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scheduler state %q", text)
}

// Direction of a fill job.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Job is one chunk of columns to compute. SampleStart and SampleEnd delimit
// the samples the transform needs.
type Job struct {
	Generation  uint64
	Direction   Direction
	Column      int
	Count       int
	SampleStart int
	SampleEnd   int
}

// Scheduler decides which chunk to compute next. It holds no samples and
// runs no transforms; the engine executes its jobs one at a time and reports
// back through Complete.
type Scheduler struct {
	cfg   Config
	chunk int
	state State
}

// NewScheduler returns an Idle scheduler producing chunks of up to chunk columns.
func NewScheduler(cfg Config, chunk int) *Scheduler {
	return &Scheduler{cfg: cfg, chunk: max(chunk, 1)}
}

func (s *Scheduler) State() State { return s.state }

// Begin moves Idle to ForwardFilling with an empty computed range at anchor,
// clamped into the window. Filling proceeds forward from the anchor first.
func (s *Scheduler) Begin(buf *Buffer, anchor int) {
	w := buf.Window()
	anchor = min(max(anchor, w.First), w.Last)
	buf.computed = Range{First: anchor, Last: anchor}
	s.state = ForwardFilling
}

// Shifted reopens forward filling after the window moved.
func (s *Scheduler) Shifted() {
	if s.state != Idle {
		s.state = ForwardFilling
	}
}

// Next returns the next job, advancing the state machine past exhausted
// phases. It returns false once the scheduler is Done (or still Idle).
func (s *Scheduler) Next(buf *Buffer, src source.Source) (Job, bool) {
	for {
		switch s.state {
		case ForwardFilling:
			if job, ok := s.nextForward(buf, src); ok {
				return job, true
			}
			s.state = BackwardFilling
		case BackwardFilling:
			if job, ok := s.nextBackward(buf); ok {
				return job, true
			}
			s.state = Done
		default:
			return Job{}, false
		}
	}
}

func (s *Scheduler) nextForward(buf *Buffer, src source.Source) (Job, bool) {
	last := buf.Computed().Last
	end := buf.EndColumn()

	if last >= end {
		return Job{}, false
	}
	if last-buf.StartColumn() >= buf.Capacity() {
		return Job{}, false
	}

	count := min(s.chunk, end-last)
	if src.IsDone() {
		// Shrink the chunk to what the finished stream can still supply.
		available := s.cfg.Column(src.LastReadableIndex()+1) - last
		if available <= 0 {
			return Job{}, false
		}
		count = min(count, available)
	}

	return s.job(Forward, last, count), true
}

func (s *Scheduler) nextBackward(buf *Buffer) (Job, bool) {
	first := buf.Computed().First
	start := buf.StartColumn()
	if first <= start {
		return Job{}, false
	}
	target := max(start, first-s.chunk)
	return s.job(Backward, target, first-target), true
}

func (s *Scheduler) job(dir Direction, column, count int) Job {
	sampleStart, sampleEnd := s.cfg.FrameSpan(column, count)
	return Job{
		Direction:   dir,
		Column:      column,
		Count:       count,
		SampleStart: sampleStart,
		SampleEnd:   sampleEnd,
	}
}

// Valid reports whether job still extends the computed frontier it was cut
// from and lies inside the window. A shift or reset in between invalidates it.
func (s *Scheduler) Valid(buf *Buffer, job Job) bool {
	computed := buf.Computed()
	w := buf.Window()
	if job.Column < w.First || job.Column+job.Count > w.Last {
		return false
	}
	switch job.Direction {
	case Forward:
		return job.Column == computed.Last
	case Backward:
		return job.Column+job.Count == computed.First
	}
	return false
}

// Complete writes a finished job's columns and extends the computed range.
// Stale jobs are rejected with ErrOutsideWindow and leave the buffer untouched.
func (s *Scheduler) Complete(buf *Buffer, job Job, data []float32) error {
	if !s.Valid(buf, job) {
		return fmt.Errorf("%w: stale job for columns [%d, %d)", ErrOutsideWindow, job.Column, job.Column+job.Count)
	}
	if err := buf.Write(job.Column, data); err != nil {
		return err
	}
	if job.Direction == Forward {
		buf.computed.Last += job.Count
	} else {
		buf.computed.First = job.Column
	}
	return nil
}
