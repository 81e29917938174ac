package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/local/pagetrans/internal/logger"
	"github.com/local/pagetrans/internal/metrics"
	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
	"github.com/local/pagetrans/internal/worker"
)

// Options are the policies a coordinator applies to every run.
type Options struct {
	// KeepExistingRegions merges detected regions with the ones a page
	// already has instead of replacing them.
	KeepExistingRegions bool
	// DiscardEmpty drops regions left without text after recognition.
	DiscardEmpty bool
	// RightToLeft sorts merged regions for right to left reading.
	RightToLeft bool

	// LowVRAM forces low resource mode for runs with Translate enabled.
	LowVRAM bool
	// AsyncTranslate lets a light translator run in the background.
	AsyncTranslate bool
	// DeferIntensiveTranslate switches runs to low resource mode when the
	// translator declares itself compute intensive.
	DeferIntensiveTranslate bool

	PollInterval time.Duration
	PollLimit    int
}

func DefaultOptions() Options {
	return Options{
		AsyncTranslate:          true,
		DeferIntensiveTranslate: true,
		PollInterval:            50 * time.Millisecond,
		PollLimit:               200,
	}
}

// Dependencies bundles the collaborators of a Coordinator. Only Project is
// required.
type Dependencies struct {
	Project   *page.Project
	Artifacts ArtifactStore
	Notifier  Notifier
	Reporter  Reporter
	// LoadLock is shared by every stage worker. A new one is made when nil.
	LoadLock *sync.Mutex
}

// Coordinator drives runs over a project. At most one run is active at a time.
type Coordinator struct {
	project   *page.Project
	artifacts ArtifactStore
	notifier  Notifier
	reporter  Reporter
	opts      Options

	workers   map[stage.Kind]*worker.Worker
	translate *worker.TranslateWorker

	mu     sync.Mutex
	active *RunHandle

	log zerolog.Logger
}

func New(deps Dependencies, opts Options) *Coordinator {
	if deps.Project == nil {
		deps.Project = page.NewProject()
	}
	if deps.Artifacts == nil {
		deps.Artifacts = nopArtifacts{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if deps.LoadLock == nil {
		deps.LoadLock = &sync.Mutex{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	if opts.PollLimit <= 0 {
		opts.PollLimit = 200
	}
	tw := worker.NewTranslate(deps.LoadLock)
	return &Coordinator{
		project:   deps.Project,
		artifacts: deps.Artifacts,
		notifier:  deps.Notifier,
		reporter:  deps.Reporter,
		opts:      opts,
		workers: map[stage.Kind]*worker.Worker{
			stage.Detect:    worker.New(stage.Detect, deps.LoadLock),
			stage.Recognize: worker.New(stage.Recognize, deps.LoadLock),
			stage.Translate: tw.Worker,
			stage.Restore:   worker.New(stage.Restore, deps.LoadLock),
		},
		translate: tw,
		log:       logger.With("pipeline"),
	}
}

// Worker returns the stage worker for kind.
func (c *Coordinator) Worker(kind stage.Kind) *worker.Worker { return c.workers[kind] }

// Translator returns the translate worker.
func (c *Coordinator) Translator() *worker.TranslateWorker { return c.translate }

// SetStrategy installs m on the worker for kind.
func (c *Coordinator) SetStrategy(kind stage.Kind, m stage.Model) error {
	w, ok := c.workers[kind]
	if !ok {
		return fmt.Errorf("unknown stage %s", kind)
	}
	return w.SetStrategy(m)
}

// Active returns the running run, or nil.
func (c *Coordinator) Active() *RunHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// RequestStop asks the active run to stop. It returns false when no run is
// active.
func (c *Coordinator) RequestStop() bool {
	h := c.Active()
	if h == nil {
		return false
	}
	h.Stop()
	return true
}

// TranslatePage translates a single page outside of a run.
func (c *Coordinator) TranslatePage(ctx context.Context, key string) error {
	p := c.project.Page(key)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPage, key)
	}
	if c.Active() != nil {
		return ErrRunActive
	}
	_, err := c.translate.RunPage(ctx, p)
	if err != nil {
		c.reporter.Report(stage.Translate, key, err)
	}
	return err
}

// resolve validates the requested page list and maps process indices to
// absolute page indices.
func (c *Coordinator) resolve(req RunRequest) ([]string, []int, error) {
	keys := req.Pages
	if len(keys) == 0 {
		keys = c.project.Keys()
	}
	abs := make([]int, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for i, k := range keys {
		idx, ok := c.project.Index(k)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPage, k)
		}
		if _, dup := seen[k]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicatePage, k)
		}
		seen[k] = struct{}{}
		abs[i] = idx
	}
	return append([]string(nil), keys...), abs, nil
}

// StartRun validates req and starts it in the background. Cancelling ctx
// has the same effect as RunHandle.Stop. A run with no pages or no enabled
// stages finishes immediately without notifying any page.
func (c *Coordinator) StartRun(ctx context.Context, req RunRequest) (*RunHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrRunActive
	}
	keys, abs, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	h := &RunHandle{id: uuid.NewString(), done: make(chan struct{})}
	h.log = logger.ForRun(c.log, h.id)

	switch {
	case len(keys) == 0:
		h.skipped = ErrNoPages
	case req.Stages.Empty():
		h.skipped = ErrNoStages
	}
	if h.skipped != nil {
		h.log.Info().Err(h.skipped).Msg("run finished without work")
		c.notifier.Finished(h.id)
		metrics.IncRun(Finished.String())
		h.end(Finished)
		return h, nil
	}
	for _, k := range req.Stages.Kinds() {
		if c.workers[k].Strategy() == nil {
			return nil, fmt.Errorf("%w for %s", worker.ErrNoStrategy, k)
		}
	}

	h.plan = c.plan(req)
	h.state = newRunState(h.id, req.Stages, keys, abs, c.notifier, c.project.Page)
	if h.plan.async {
		h.stopFn = c.translate.Begin(len(keys))
	}
	c.active = h
	metrics.SetWatermark(-1)
	if rs, ok := c.notifier.(RunStartNotifier); ok {
		rs.RunStarted(h.id, req.Stages, len(keys))
	}

	h.log.Info().
		Str("stages", req.Stages.String()).
		Int("pages", len(keys)).
		Str("mode", req.Mode.String()).
		Bool("low_resource", h.plan.lowResource).
		Bool("async_translate", h.plan.async).
		Msg("run started")

	go c.run(ctx, h)
	return h, nil
}

type plan struct {
	lowResource bool
	async       bool
}

// plan decides once per run where Translate runs. A compute intensive or low
// memory translator, or an explicit request, moves it to a second pass; a
// light one runs in the background unless async translation is off.
func (c *Coordinator) plan(req RunRequest) plan {
	if !req.Stages.Has(stage.Translate) {
		return plan{lowResource: req.Mode == LowResource}
	}
	tr := c.translate.Strategy()
	intensive := tr.ComputeIntensive()
	if req.Mode == LowResource || c.opts.LowVRAM || tr.LowVRAM() || (intensive && c.opts.DeferIntensiveTranslate) {
		return plan{lowResource: true}
	}
	return plan{async: !intensive && c.opts.AsyncTranslate}
}

func (c *Coordinator) run(ctx context.Context, h *RunHandle) {
	stopOnCancel := context.AfterFunc(ctx, h.Stop)
	defer stopOnCancel()

	// in-flight page operations finish even when the caller's context ends
	work := context.WithoutCancel(ctx)
	start := time.Now()

	var g errgroup.Group
	if h.plan.async {
		g.Go(func() error {
			c.translate.Drain(work, c.project.Page, func(key string, err error) {
				c.settle(h, stage.Translate, key, err)
			})
			return nil
		})
	}
	g.Go(func() error {
		if h.plan.lowResource {
			c.runLowResource(work, h)
		} else {
			c.runInterleaved(work, h, h.state.enabled, h.plan.async)
		}
		return nil
	})
	_ = g.Wait()

	outcome := Finished
	if !h.state.complete() {
		outcome = Stopped
		c.awaitIdle(h)
	}

	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()

	h.log.Info().
		Str("outcome", outcome.String()).
		Int("watermark", h.Watermark()).
		Interface("counts", h.Counts()).
		Dur("duration", time.Since(start)).
		Msg("run ended")
	metrics.IncRun(outcome.String())
	if outcome == Stopped {
		c.notifier.Stopped(h.id)
	} else {
		c.notifier.Finished(h.id)
	}
	h.end(outcome)
}

// awaitIdle polls the workers until none has a page in flight or the poll
// limit is reached.
func (c *Coordinator) awaitIdle(h *RunHandle) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for i := 0; i < c.opts.PollLimit; i++ {
		if !c.busy() {
			return
		}
		<-ticker.C
	}
	h.log.Warn().Int("polls", c.opts.PollLimit).Msg("workers still busy after stop")
}

func (c *Coordinator) busy() bool {
	for _, w := range c.workers {
		if w.Busy() {
			return true
		}
	}
	return false
}
