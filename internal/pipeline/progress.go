package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/local/pagetrans/internal/metrics"
	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

// runState holds the counters of one run. Counters only grow, one page at a
// time, and never pass total.
type runState struct {
	id      string
	enabled stage.Set
	keys    []string
	abs     []int

	counts    [4]atomic.Int64
	watermark atomic.Int64
	stopped   atomic.Bool

	// mu serializes watermark advancement and the notifications it emits.
	mu       sync.Mutex
	notifier Notifier
	pages    func(key string) *page.Page
}

func newRunState(id string, enabled stage.Set, keys []string, abs []int, n Notifier, pages func(string) *page.Page) *runState {
	s := &runState{id: id, enabled: enabled, keys: keys, abs: abs, notifier: n, pages: pages}
	s.watermark.Store(-1)
	return s
}

func (s *runState) total() int { return len(s.keys) }

func (s *runState) count(k stage.Kind) int { return int(s.counts[k].Load()) }

// low is the smallest counter among enabled stages.
func (s *runState) low() int {
	low := s.total()
	for _, k := range s.enabled.Kinds() {
		low = min(low, s.count(k))
	}
	return low
}

// advance records one more finished page for kind, recomputes the
// watermark and emits PageComplete for each newly crossed index, mapped to
// its absolute page index.
func (s *runState) advance(k stage.Kind, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int(s.counts[k].Add(1))
	s.notifier.StageProgress(s.id, k, n, s.total())
	if ps, ok := s.notifier.(PageStageNotifier); ok {
		ps.PageStageDone(s.id, k, key)
	}

	prev := int(s.watermark.Load())
	next := s.low() - 1
	if next <= prev {
		return
	}
	s.watermark.Store(int64(next))
	metrics.SetWatermark(next)
	for idx := prev + 1; idx <= next; idx++ {
		s.notifier.PageComplete(s.id, s.abs[idx], s.pages(s.keys[idx]))
	}
}

func (s *runState) complete() bool {
	return s.low() == s.total()
}

func (s *runState) snapshot() map[stage.Kind]int {
	out := make(map[stage.Kind]int, 4)
	for _, k := range s.enabled.Kinds() {
		out[k] = s.count(k)
	}
	return out
}
