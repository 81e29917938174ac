package store

import (
    "context"
    "sync"
    "time"

    "github.com/rs/zerolog"

    "github.com/local/pagetrans/internal/logger"
    "github.com/local/pagetrans/internal/page"
    "github.com/local/pagetrans/internal/stage"
)

// StatusWriter is the part of RedisStatus the sink needs.
type StatusWriter interface {
    Set(ctx context.Context, runID string, st Status) error
    SetFields(ctx context.Context, runID string, fields map[string]interface{}) error
    SetStage(ctx context.Context, runID, stage string, count, progress int) error
}

// PageWriter is the part of PageStore the sink needs.
type PageWriter interface {
    SavePage(ctx context.Context, runID string, index int, pt PageText) error
    MarkStage(ctx context.Context, runID, key, stage string) error
}

// RunSink mirrors run notifications into Redis so another process can follow
// progress. Notifications only queue the writes; a single goroutine applies
// them in order. Write failures are logged and never reach the run, and a
// full queue drops the write.
type RunSink struct {
    status  StatusWriter
    pages   PageWriter
    timeout time.Duration
    log     zerolog.Logger

    mu     sync.Mutex
    totals map[string]*runTotals

    writes    chan sinkWrite
    quit      chan struct{}
    done      chan struct{}
    closeOnce sync.Once
}

type sinkWrite struct {
    runID string
    what  string
    fn    func(ctx context.Context) error
}

type runTotals struct {
    total     int
    stages    int
    completed int
    counts    map[stage.Kind]int
}

// NewRunSink starts the writer goroutine. Close flushes it.
func NewRunSink(status StatusWriter, pages PageWriter) *RunSink {
    s := &RunSink{
        status:  status,
        pages:   pages,
        timeout: 3 * time.Second,
        log:     logger.With("run_sink"),
        totals:  map[string]*runTotals{},
        writes:  make(chan sinkWrite, 1024),
        quit:    make(chan struct{}),
        done:    make(chan struct{}),
    }
    go s.loop()
    return s
}

// RunStarted writes the initial status of a run.
func (s *RunSink) RunStarted(runID string, stages stage.Set, total int) {
    s.mu.Lock()
    s.totals[runID] = &runTotals{total: total, stages: len(stages.Kinds()), counts: map[stage.Kind]int{}}
    s.mu.Unlock()

    now := time.Now()
    st := Status{Status: StatusRunning, Total: total, Watermark: -1, Start: &now, Stages: map[string]int{}}
    for _, k := range stages.Kinds() {
        st.Stages[k.String()] = 0
    }
    s.write(runID, "begin", func(ctx context.Context) error { return s.status.Set(ctx, runID, st) })
}

func (s *RunSink) PageComplete(runID string, index int, p *page.Page) {
    s.mu.Lock()
    rt := s.run(runID)
    rt.completed++
    watermark := rt.completed - 1
    s.mu.Unlock()
    s.write(runID, "watermark", func(ctx context.Context) error {
        return s.status.SetFields(ctx, runID, map[string]interface{}{"watermark": watermark, "last_page": index})
    })

    if p != nil && s.pages != nil {
        pt := NewPageText(p)
        s.write(runID, "page", func(ctx context.Context) error { return s.pages.SavePage(ctx, runID, index, pt) })
    }
}

func (s *RunSink) PageStageDone(runID string, kind stage.Kind, key string) {
    if s.pages == nil {
        return
    }
    s.write(runID, "page_stage", func(ctx context.Context) error { return s.pages.MarkStage(ctx, runID, key, kind.String()) })
}

func (s *RunSink) StageProgress(runID string, kind stage.Kind, count, total int) {
    progress := s.progress(runID, kind, count, total)
    s.write(runID, "stage", func(ctx context.Context) error {
        return s.status.SetStage(ctx, runID, kind.String(), count, progress)
    })
}

// run returns the totals of runID, creating them for runs this sink was not
// told about. Callers hold s.mu.
func (s *RunSink) run(runID string) *runTotals {
    rt, ok := s.totals[runID]
    if !ok {
        rt = &runTotals{counts: map[stage.Kind]int{}}
        s.totals[runID] = rt
    }
    return rt
}

// progress is the overall completion across enabled stages, 0-100.
func (s *RunSink) progress(runID string, kind stage.Kind, count, total int) int {
    s.mu.Lock()
    defer s.mu.Unlock()
    rt := s.run(runID)
    rt.counts[kind] = count
    if rt.total == 0 {
        rt.total = total
    }
    rt.stages = max(rt.stages, len(rt.counts))
    if rt.total <= 0 {
        return 0
    }
    sum := 0
    for _, n := range rt.counts {
        sum += n
    }
    return sum * 100 / (rt.total * rt.stages)
}

func (s *RunSink) Stopped(runID string) { s.end(runID, StatusStopped) }

func (s *RunSink) Finished(runID string) { s.end(runID, StatusFinished) }

func (s *RunSink) end(runID, status string) {
    s.mu.Lock()
    delete(s.totals, runID)
    s.mu.Unlock()
    fields := map[string]interface{}{"status": status, "end": time.Now().Format(time.RFC3339Nano)}
    if status == StatusFinished {
        fields["progress"] = 100
    }
    s.write(runID, "end", func(ctx context.Context) error { return s.status.SetFields(ctx, runID, fields) })
}

func (s *RunSink) write(runID, what string, fn func(ctx context.Context) error) {
    select {
    case <-s.quit:
        s.log.Debug().Str("run_id", runID).Str("write", what).Msg("sink closed, status write dropped")
        return
    default:
    }
    select {
    case s.writes <- sinkWrite{runID: runID, what: what, fn: fn}:
    default:
        s.log.Warn().Str("run_id", runID).Str("write", what).Msg("status queue full, write dropped")
    }
}

func (s *RunSink) loop() {
    defer close(s.done)
    for {
        select {
        case w := <-s.writes:
            s.apply(w)
        case <-s.quit:
            for {
                select {
                case w := <-s.writes:
                    s.apply(w)
                default:
                    return
                }
            }
        }
    }
}

func (s *RunSink) apply(w sinkWrite) {
    ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
    defer cancel()
    if err := w.fn(ctx); err != nil {
        s.log.Warn().Err(err).Str("run_id", w.runID).Str("write", w.what).Msg("status write failed")
    }
}

// Close applies the queued writes and stops the writer. Safe to call more
// than once.
func (s *RunSink) Close() {
    s.closeOnce.Do(func() { close(s.quit) })
    <-s.done
}
