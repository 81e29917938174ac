package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/local/pagetrans/internal/stage"
)

// ResourceMode selects how aggressively a run bounds peak memory.
type ResourceMode int

const (
	Normal ResourceMode = iota
	// LowResource defers Translate to a second pass after the other stages
	// have released their models.
	LowResource
)

func (m ResourceMode) String() string {
	if m == LowResource {
		return "low_resource"
	}
	return "normal"
}

// RunRequest is the immutable configuration of one run.
type RunRequest struct {
	Stages stage.Set
	// Pages is an ordered subset of project keys. Empty means every page in
	// project order.
	Pages []string
	Mode  ResourceMode
}

type Outcome int32

const (
	Running Outcome = iota
	Finished
	Stopped
)

func (o Outcome) String() string {
	switch o {
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	}
	return "running"
}

// RunHandle tracks a started run.
type RunHandle struct {
	id    string
	state *runState
	plan  plan
	log   zerolog.Logger

	done     chan struct{}
	outcome  atomic.Int32
	skipped  error
	stopOnce sync.Once
	stopFn   func()
}

func (h *RunHandle) ID() string { return h.id }

// Done is closed once the run emitted Finished or Stopped.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run ends and returns its outcome.
func (h *RunHandle) Wait() Outcome {
	<-h.done
	return h.Outcome()
}

func (h *RunHandle) Outcome() Outcome { return Outcome(h.outcome.Load()) }

// Skipped returns ErrNoPages or ErrNoStages when the run finished without
// doing any work, nil otherwise.
func (h *RunHandle) Skipped() error { return h.skipped }

// Counts returns the per stage completed counts of enabled stages.
func (h *RunHandle) Counts() map[stage.Kind]int {
	if h.state == nil {
		return map[stage.Kind]int{}
	}
	return h.state.snapshot()
}

// Watermark is the highest process index every enabled stage has finished,
// or -1.
func (h *RunHandle) Watermark() int {
	if h.state == nil {
		return -1
	}
	return int(h.state.watermark.Load())
}

// Total is the number of targeted pages.
func (h *RunHandle) Total() int {
	if h.state == nil {
		return 0
	}
	return h.state.total()
}

// LowResource reports whether the run defers Translate to a second pass.
func (h *RunHandle) LowResource() bool { return h.plan.lowResource }

// AsyncTranslate reports whether Translate runs in the background.
func (h *RunHandle) AsyncTranslate() bool { return h.plan.async }

// Stop requests cooperative cancellation. Safe to call more than once; a
// no-op once the run has ended.
func (h *RunHandle) Stop() {
	select {
	case <-h.done:
		return
	default:
	}
	h.stopOnce.Do(func() {
		if h.state != nil {
			h.state.stopped.Store(true)
		}
		if h.stopFn != nil {
			h.stopFn()
		}
	})
}

func (h *RunHandle) stopRequested() bool {
	return h.state != nil && h.state.stopped.Load()
}

func (h *RunHandle) end(o Outcome) {
	h.outcome.Store(int32(o))
	close(h.done)
}
