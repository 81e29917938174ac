package report

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/local/pagetrans/internal/logger"
	"github.com/local/pagetrans/internal/stage"
	"github.com/local/pagetrans/internal/worker"
)

// StreamReporter appends failures to a Redis stream. Entries are written by
// a background goroutine so Report never blocks the run; when the buffer is
// full the entry is dropped and logged. Reports after Close are dropped.
type StreamReporter struct {
	client *redis.Client
	stream string
	maxLen int64
	runID  func() string

	ch        chan map[string]any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

// NewStreamReporter starts the writer. runID, when set, tags each entry with
// the active run.
func NewStreamReporter(c *redis.Client, stream string, runID func() string) *StreamReporter {
	if stream == "" {
		stream = "pagetrans:errors"
	}
	r := &StreamReporter{
		client: c,
		stream: stream,
		maxLen: 10000,
		runID:  runID,
		ch:     make(chan map[string]any, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    logger.With("error_stream"),
	}
	go r.loop()
	return r
}

// Entry builds the stream fields for a failure.
func Entry(kind stage.Kind, key string, err error) map[string]any {
	v := map[string]any{
		"stage":   kind.String(),
		"page":    key,
		"error":   err.Error(),
		"message": Message(kind, key, err),
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if mp, ok := stage.AsMissingParams(err); ok {
		v["kind"] = "missing_params"
		v["strategy"] = mp.Strategy
		v["param"] = mp.Param
	} else if pe := (*worker.PanicError)(nil); errors.As(err, &pe) {
		v["kind"] = "panic"
		v["strategy"] = pe.Strategy
	} else {
		v["kind"] = "stage"
	}
	return v
}

func (r *StreamReporter) Report(kind stage.Kind, key string, err error) {
	select {
	case <-r.quit:
		r.log.Debug().Str("stage", kind.String()).Str("page", key).Msg("error stream closed, report dropped")
		return
	default:
	}
	v := Entry(kind, key, err)
	if r.runID != nil {
		v["run_id"] = r.runID()
	}
	select {
	case r.ch <- v:
	default:
		r.log.Warn().Str("stage", kind.String()).Str("page", key).Msg("error stream buffer full, report dropped")
	}
}

func (r *StreamReporter) loop() {
	defer close(r.done)
	for {
		select {
		case v := <-r.ch:
			r.add(v)
		case <-r.quit:
			for {
				select {
				case v := <-r.ch:
					r.add(v)
				default:
					return
				}
			}
		}
	}
}

func (r *StreamReporter) add(v map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: v,
	}).Err()
	if err != nil {
		r.log.Warn().Err(err).Str("stream", r.stream).Msg("xadd failed")
	}
}

// Close flushes pending entries. Safe to call more than once; the channel is
// never closed so a late Report cannot panic.
func (r *StreamReporter) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
	<-r.done
}
