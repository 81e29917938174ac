package worker

import (
	"context"
	"sync"
	"time"

	"github.com/local/pagetrans/internal/metrics"
	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

// TranslateWorker is the Translate stage worker with a FIFO queue of page
// keys for background translation during a run.
type TranslateWorker struct {
	*Worker

	qmu      sync.Mutex
	queue    chan string
	stop     chan struct{}
	stopOnce *sync.Once
	total    int

	delay    time.Duration
	hasDelay bool
}

func NewTranslate(lock *sync.Mutex) *TranslateWorker {
	return &TranslateWorker{Worker: New(stage.Translate, lock)}
}

// SetDelay overrides the inter-request delay declared by the strategy.
func (t *TranslateWorker) SetDelay(d time.Duration) {
	t.qmu.Lock()
	t.delay, t.hasDelay = d, true
	t.qmu.Unlock()
}

// Delay is the pause taken between two translated pages.
func (t *TranslateWorker) Delay() time.Duration {
	t.qmu.Lock()
	d, ok := t.delay, t.hasDelay
	t.qmu.Unlock()
	if ok {
		return d
	}
	if tr, ok := t.Strategy().(stage.Translator); ok {
		return tr.Delay()
	}
	return 0
}

// Begin prepares the queue for a run of total pages. Any previous queue is
// stopped and discarded. The returned stop closes this queue only, so a
// later Begin is never affected by it.
func (t *TranslateWorker) Begin(total int) (stop func()) {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if t.stop != nil {
		t.stopOnce.Do(func() { close(t.stop) })
	}
	ch, once := make(chan struct{}), &sync.Once{}
	t.queue = make(chan string, max(total, 1))
	t.stop, t.stopOnce = ch, once
	t.total = total
	metrics.SetTranslateQueue(0)
	return func() { once.Do(func() { close(ch) }) }
}

// Push enqueues key. It never blocks for the page count given to Begin.
func (t *TranslateWorker) Push(key string) {
	t.qmu.Lock()
	q, stop := t.queue, t.stop
	t.qmu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- key:
		metrics.SetTranslateQueue(len(q))
	case <-stop:
	}
}

// Stop stops the current queue: Drain returns after the page it is
// translating, if any.
func (t *TranslateWorker) Stop() {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if t.stop != nil {
		t.stopOnce.Do(func() { close(t.stop) })
	}
}

// Pending is the number of queued keys not yet taken by Drain.
func (t *TranslateWorker) Pending() int {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	return len(t.queue)
}

// Drain translates queued pages in FIFO order until the count given to Begin
// is reached or Stop is called. onDone is called once per dequeued page with
// the translation error, if any.
func (t *TranslateWorker) Drain(ctx context.Context, lookup func(key string) *page.Page, onDone func(key string, err error)) {
	t.qmu.Lock()
	q, stop, total := t.queue, t.stop, t.total
	t.qmu.Unlock()
	if q == nil {
		return
	}
	delay := t.Delay()

	for done := 0; done < total; {
		// a stop already requested wins over queued work
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case key := <-q:
			metrics.SetTranslateQueue(len(q))
			_, err := t.RunPage(ctx, lookup(key))
			done++
			onDone(key, err)
			if done < total && delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-stop:
					timer.Stop()
					return
				}
			}
		}
	}
	t.log.Debug().Int("pages", total).Msg("translate queue drained")
}
