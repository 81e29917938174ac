package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/pagetrans/internal/logger"
	"github.com/local/pagetrans/internal/metrics"
	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

var (
	ErrNoStrategy  = errors.New("no strategy set")
	ErrUnsupported = errors.New("strategy does not implement stage")
)

// PanicError is a strategy panic recovered by RunPage.
type PanicError struct {
	Stage    stage.Kind
	Strategy string
	Value    any
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s strategy %s panicked: %v", e.Stage, e.Strategy, e.Value)
}

// Result carries what a single-page operation produced. Recognize and
// Translate mutate page regions in place and leave it empty.
type Result struct {
	Mask     *image.Gray
	Regions  []*page.Region
	Restored *image.RGBA
}

// Worker runs one stage kind with one active strategy. Model load and
// unload transitions are serialized through lock, which every worker of the
// process shares; page operations run without it.
type Worker struct {
	kind stage.Kind
	lock *sync.Mutex

	mu       sync.Mutex
	strategy stage.Model

	inflight atomic.Int32
	log      zerolog.Logger
}

func New(kind stage.Kind, lock *sync.Mutex) *Worker {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Worker{
		kind: kind,
		lock: lock,
		log:  logger.ForStage(logger.With("worker"), kind.String()),
	}
}

func (w *Worker) Kind() stage.Kind { return w.kind }

// Strategy returns the active strategy or nil.
func (w *Worker) Strategy() stage.Model {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.strategy
}

// SetStrategy makes m the active strategy. The previous strategy's model is
// released unless m is the same implementation, in which case nothing changes.
func (w *Worker) SetStrategy(m stage.Model) error {
	if m == nil {
		return ErrNoStrategy
	}
	if !stage.Supports(w.kind, m) {
		return fmt.Errorf("%w: %s is not a %s strategy", ErrUnsupported, m.Name(), w.kind)
	}
	w.mu.Lock()
	prev := w.strategy
	if same(prev, m) {
		w.mu.Unlock()
		return nil
	}
	w.strategy = m
	w.mu.Unlock()

	if prev != nil {
		w.release(prev)
	}
	w.log.Info().Str("strategy", m.Name()).Msg("strategy set")
	return nil
}

// same reports whether a and b are one implementation: the same instance, or
// two instances registered under the same name.
func same(a, b stage.Model) bool {
	if a == nil || b == nil {
		return false
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.TypeOf(a).Comparable() && a == b {
		return true
	}
	return a.Name() == b.Name()
}

// ReleaseModel unloads the active strategy's model. It reports whether
// anything was freed and is safe to call repeatedly.
func (w *Worker) ReleaseModel() bool {
	m := w.Strategy()
	if m == nil {
		return false
	}
	return w.release(m)
}

func (w *Worker) release(m stage.Model) bool {
	w.lock.Lock()
	freed := m.Unload()
	w.lock.Unlock()
	if freed {
		metrics.ModelReleased(w.kind.String())
		w.log.Info().Str("strategy", m.Name()).Msg("model released")
	}
	return freed
}

// Busy reports whether a page operation is in flight.
func (w *Worker) Busy() bool { return w.inflight.Load() > 0 }

func (w *Worker) ensureLoaded(ctx context.Context, m stage.Model) error {
	if m.Loaded() {
		return nil
	}
	start := time.Now()
	w.lock.Lock()
	defer w.lock.Unlock()
	if m.Loaded() {
		return nil
	}
	if err := m.Load(ctx); err != nil {
		return fmt.Errorf("load %s: %w", m.Name(), err)
	}
	dur := time.Since(start)
	metrics.ModelLoaded(w.kind.String(), m.Name(), dur)
	w.log.Info().Str("strategy", m.Name()).Dur("duration", dur).Msg("model loaded")
	return nil
}

// RunPage runs the active strategy's operation for p. The model is loaded
// first if needed. Errors and panics from the strategy are returned.
func (w *Worker) RunPage(ctx context.Context, p *page.Page) (res Result, err error) {
	w.inflight.Add(1)
	defer w.inflight.Add(-1)

	m := w.Strategy()
	if m == nil {
		return Result{}, ErrNoStrategy
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Stage: w.kind, Strategy: m.Name(), Value: r, Stack: debug.Stack()}
		}
	}()

	if err := w.ensureLoaded(ctx, m); err != nil {
		return Result{}, err
	}

	start := time.Now()
	res, err = w.invoke(ctx, m, p)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveStage(w.kind.String(), result, time.Since(start))
	w.log.Debug().Str("page", p.Key).Str("strategy", m.Name()).Dur("duration", time.Since(start)).Err(err).Msg("page done")
	return res, err
}

func (w *Worker) invoke(ctx context.Context, m stage.Model, p *page.Page) (Result, error) {
	switch w.kind {
	case stage.Detect:
		mask, regions, err := m.(stage.Detector).Detect(ctx, p)
		return Result{Mask: mask, Regions: regions}, err
	case stage.Recognize:
		img, err := p.Image()
		if err != nil {
			return Result{}, err
		}
		return Result{}, m.(stage.Recognizer).Recognize(ctx, img, p.Regions)
	case stage.Translate:
		return Result{}, m.(stage.Translator).Translate(ctx, p.Regions)
	case stage.Restore:
		img, err := p.Image()
		if err != nil {
			return Result{}, err
		}
		restored, err := m.(stage.Restorer).Restore(ctx, img, p.Mask, p.Regions)
		return Result{Restored: restored}, err
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, w.kind)
}
