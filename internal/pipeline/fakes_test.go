package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

type call struct {
	kind stage.Kind
	key  string
}

func (c call) String() string { return fmt.Sprintf("%s:%s", c.kind, c.key) }

// recorder keeps the invocation trace shared by all fake strategies and maps
// images and regions back to their page keys.
type recorder struct {
	mu      sync.Mutex
	calls   []call
	images  map[image.Image]string
	regions map[*page.Region]string
}

func newRecorder() *recorder {
	return &recorder{images: map[image.Image]string{}, regions: map[*page.Region]string{}}
}

func (r *recorder) add(kind stage.Kind, key string) {
	r.mu.Lock()
	r.calls = append(r.calls, call{kind, key})
	r.mu.Unlock()
}

func (r *recorder) own(key string, regions ...*page.Region) {
	r.mu.Lock()
	for _, reg := range regions {
		r.regions[reg] = key
	}
	r.mu.Unlock()
}

func (r *recorder) imageKey(img image.Image) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[img]
}

func (r *recorder) regionKey(regions []*page.Region) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range regions {
		if k, ok := r.regions[reg]; ok {
			return k
		}
	}
	return "?"
}

func (r *recorder) trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.String()
	}
	return out
}

func (r *recorder) keys(kind stage.Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.kind == kind {
			out = append(out, c.key)
		}
	}
	return out
}

type model struct {
	stage.Flags
	name string

	mu      sync.Mutex
	loaded  bool
	unloads int
}

func (m *model) Name() string { return m.name }

func (m *model) Load(context.Context) error {
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

func (m *model) Unload() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return false
	}
	m.loaded = false
	m.unloads++
	return true
}

func (m *model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *model) released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloads
}

type detector struct {
	model
	rec *recorder

	hold    string
	entered chan struct{}
	release chan struct{}
}

func (d *detector) Detect(_ context.Context, p *page.Page) (*image.Gray, []*page.Region, error) {
	d.rec.add(stage.Detect, p.Key)
	if p.Key == d.hold {
		close(d.entered)
		<-d.release
	}
	r := &page.Region{Bounds: image.Rect(2, 2, 12, 8)}
	d.rec.own(p.Key, r)
	return nil, []*page.Region{r}, nil
}

type recognizer struct {
	model
	rec   *recorder
	fail  map[string]error
	blank func(*page.Region) bool
}

func (o *recognizer) Recognize(_ context.Context, img image.Image, regions []*page.Region) error {
	key := o.rec.imageKey(img)
	o.rec.add(stage.Recognize, key)
	if err := o.fail[key]; err != nil {
		return err
	}
	for _, r := range regions {
		if o.blank != nil && o.blank(r) {
			r.Text = ""
			continue
		}
		r.Text = "text-" + key
	}
	return nil
}

type translator struct {
	model
	rec *recorder
}

func (t *translator) Delay() time.Duration { return 0 }

func (t *translator) Translate(_ context.Context, regions []*page.Region) error {
	t.rec.add(stage.Translate, t.rec.regionKey(regions))
	for _, r := range regions {
		r.Translation = "tr:" + r.Text
	}
	return nil
}

type restorer struct {
	model
	rec *recorder
}

func (r *restorer) Restore(_ context.Context, img image.Image, _ *image.Gray, _ []*page.Region) (*image.RGBA, error) {
	r.rec.add(stage.Restore, r.rec.imageKey(img))
	return page.ToRGBA(img), nil
}

// notes records notifications.
type notes struct {
	mu        sync.Mutex
	completes []int
	progress  map[stage.Kind][]int
	pageDone  map[string][]stage.Kind
	stopped   int
	finished  int

	onComplete func(index int)
}

func newNotes() *notes {
	return &notes{progress: map[stage.Kind][]int{}, pageDone: map[string][]stage.Kind{}}
}

func (n *notes) PageComplete(_ string, index int, _ *page.Page) {
	if n.onComplete != nil {
		n.onComplete(index)
	}
	n.mu.Lock()
	n.completes = append(n.completes, index)
	n.mu.Unlock()
}

func (n *notes) StageProgress(_ string, kind stage.Kind, count, _ int) {
	n.mu.Lock()
	n.progress[kind] = append(n.progress[kind], count)
	n.mu.Unlock()
}

func (n *notes) PageStageDone(_ string, kind stage.Kind, key string) {
	n.mu.Lock()
	n.pageDone[key] = append(n.pageDone[key], kind)
	n.mu.Unlock()
}

func (n *notes) Stopped(string) {
	n.mu.Lock()
	n.stopped++
	n.mu.Unlock()
}

func (n *notes) Finished(string) {
	n.mu.Lock()
	n.finished++
	n.mu.Unlock()
}

type report struct {
	kind stage.Kind
	key  string
	err  error
}

type reports struct {
	mu   sync.Mutex
	list []report
}

func (r *reports) Report(kind stage.Kind, key string, err error) {
	r.mu.Lock()
	r.list = append(r.list, report{kind, key, err})
	r.mu.Unlock()
}

func (r *reports) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.list...)
}

type memStore struct {
	mu       sync.Mutex
	masks    map[string]*image.Gray
	restored map[string]*image.RGBA
}

func newMemStore() *memStore {
	return &memStore{masks: map[string]*image.Gray{}, restored: map[string]*image.RGBA{}}
}

func (s *memStore) LoadMask(_ context.Context, key string) (*image.Gray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masks[key], nil
}

func (s *memStore) SaveMask(_ context.Context, key string, m *image.Gray) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masks[key] = m
	return nil
}

func (s *memStore) LoadRestored(_ context.Context, key string) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored[key], nil
}

func (s *memStore) SaveRestored(_ context.Context, key string, img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored[key] = img
	return nil
}

var (
	pageBounds = image.Rect(0, 0, 40, 40)
	sourceRed  = color.RGBA{R: 200, G: 20, B: 20, A: 255}
	white      = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(pageBounds)
	for y := pageBounds.Min.Y; y < pageBounds.Max.Y; y++ {
		for x := pageBounds.Min.X; x < pageBounds.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

type harness struct {
	rec     *recorder
	project *page.Project
	det     *detector
	ocr     *recognizer
	tr      *translator
	inp     *restorer
	notes   *notes
	reports *reports
	store   *memStore
	c       *Coordinator
}

func newHarness(t *testing.T, pages int, opts Options, trFlags stage.Flags) *harness {
	t.Helper()
	rec := newRecorder()
	h := &harness{
		rec:     rec,
		project: page.NewProject(),
		det:     &detector{model: model{name: "det"}, rec: rec},
		ocr:     &recognizer{model: model{name: "ocr"}, rec: rec},
		tr:      &translator{model: model{name: "tr", Flags: trFlags}, rec: rec},
		inp:     &restorer{model: model{name: "inp"}, rec: rec},
		notes:   newNotes(),
		reports: &reports{},
		store:   newMemStore(),
	}
	for i := 0; i < pages; i++ {
		key := fmt.Sprintf("p%d", i)
		img := solid(sourceRed)
		rec.images[img] = key
		p := page.New(key, img)
		r := &page.Region{Bounds: image.Rect(20, 20, 30, 30), Text: "old"}
		rec.regions[r] = key
		p.Regions = []*page.Region{r}
		require.NoError(t, h.project.Add(p))
	}
	opts.PollInterval = time.Millisecond
	h.c = New(Dependencies{
		Project:   h.project,
		Artifacts: h.store,
		Notifier:  h.notes,
		Reporter:  h.reports,
	}, opts)
	require.NoError(t, h.c.SetStrategy(stage.Detect, h.det))
	require.NoError(t, h.c.SetStrategy(stage.Recognize, h.ocr))
	require.NoError(t, h.c.SetStrategy(stage.Translate, h.tr))
	require.NoError(t, h.c.SetStrategy(stage.Restore, h.inp))
	return h
}

func (h *harness) start(t *testing.T, req RunRequest) *RunHandle {
	t.Helper()
	run, err := h.c.StartRun(context.Background(), req)
	require.NoError(t, err)
	return run
}

func wait(t *testing.T, run *RunHandle) Outcome {
	t.Helper()
	select {
	case <-run.Done():
		return run.Outcome()
	case <-time.After(5 * time.Second):
		t.Fatal("run did not end")
		return Running
	}
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
