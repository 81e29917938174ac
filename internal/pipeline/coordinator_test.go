package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
	"github.com/local/pagetrans/internal/worker"
)

func TestDetectRecognizeOnlyScenario(t *testing.T) {
	h := newHarness(t, 5, DefaultOptions(), stage.Flags{})
	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect, stage.Recognize)})

	require.Equal(t, Finished, wait(t, run))
	counts := run.Counts()
	assert.Equal(t, 5, counts[stage.Detect])
	assert.Equal(t, 5, counts[stage.Recognize])
	assert.Zero(t, counts[stage.Translate])
	assert.Zero(t, counts[stage.Restore])
	assert.Equal(t, 4, run.Watermark())
	assert.Equal(t, seq(5), h.notes.completes)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, h.notes.progress[stage.Detect])
	assert.Equal(t, 1, h.notes.finished)
	assert.Zero(t, h.notes.stopped)
	assert.Empty(t, h.rec.keys(stage.Translate))
	assert.Empty(t, h.rec.keys(stage.Restore))
	assert.Equal(t, []stage.Kind{stage.Detect, stage.Recognize}, h.notes.pageDone["p3"])
}

func TestAllStagesAsyncTranslate(t *testing.T) {
	h := newHarness(t, 4, DefaultOptions(), stage.Flags{})
	h.notes.onComplete = func(index int) {
		run := h.c.Active()
		if run == nil {
			return
		}
		for kind, n := range run.Counts() {
			assert.Greater(t, n, index, "%s counter behind watermark", kind)
		}
	}
	run := h.start(t, RunRequest{Stages: stage.All()})
	assert.True(t, run.AsyncTranslate())
	assert.False(t, run.LowResource())

	require.Equal(t, Finished, wait(t, run))
	for _, k := range stage.Kinds {
		assert.Equal(t, 4, run.Counts()[k], k.String())
	}
	assert.Equal(t, seq(4), h.notes.completes)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3"}, h.rec.keys(stage.Translate))
	assert.Empty(t, h.reports.all())

	trace := h.rec.trace()
	for _, key := range []string{"p0", "p1", "p2", "p3"} {
		det := indexOf(trace, "detect:"+key)
		ocr := indexOf(trace, "recognize:"+key)
		tr := indexOf(trace, "translate:"+key)
		inp := indexOf(trace, "restore:"+key)
		assert.Less(t, det, ocr)
		assert.Less(t, ocr, inp)
		assert.Less(t, ocr, tr)
	}
	p := h.project.Page("p2")
	assert.Equal(t, "tr:text-p2", p.Regions[0].Translation)
	assert.NotNil(t, h.store.restored["p2"])
	assert.NotNil(t, h.store.masks["p2"])
}

func TestSubsetMapsToAbsoluteIndices(t *testing.T) {
	h := newHarness(t, 5, DefaultOptions(), stage.Flags{})
	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect), Pages: []string{"p3", "p1", "p4"}})

	require.Equal(t, Finished, wait(t, run))
	assert.Equal(t, []int{3, 1, 4}, h.notes.completes)
	assert.Equal(t, []string{"p3", "p1", "p4"}, h.rec.keys(stage.Detect))
	assert.Equal(t, 3, run.Total())
	assert.Equal(t, 2, run.Watermark())
}

func TestLowResourceDefersTranslate(t *testing.T) {
	h := newHarness(t, 3, DefaultOptions(), stage.Flags{Intensive: true})
	run := h.start(t, RunRequest{Stages: stage.All(), Mode: LowResource})
	assert.True(t, run.LowResource())
	assert.False(t, run.AsyncTranslate())

	require.Equal(t, Finished, wait(t, run))
	assert.Equal(t, []string{
		"detect:p0", "recognize:p0", "restore:p0",
		"detect:p1", "recognize:p1", "restore:p1",
		"detect:p2", "recognize:p2", "restore:p2",
		"translate:p0", "translate:p1", "translate:p2",
	}, h.rec.trace())
	assert.Equal(t, 1, h.det.released())
	assert.Equal(t, 1, h.ocr.released())
	assert.Equal(t, 1, h.inp.released())
	assert.Zero(t, h.tr.released())
	assert.Equal(t, seq(3), h.notes.completes)
	assert.Equal(t, []int{1, 2, 3}, h.notes.progress[stage.Translate])
}

func TestPlanSelection(t *testing.T) {
	cases := []struct {
		name  string
		opts  func(*Options)
		flags stage.Flags
		low   bool
		async bool
	}{
		{name: "light translator runs in background", async: true},
		{name: "intensive translator deferred", flags: stage.Flags{Intensive: true}, low: true},
		{name: "intensive translator inline", flags: stage.Flags{Intensive: true}, opts: func(o *Options) { o.DeferIntensiveTranslate = false }},
		{name: "low vram translator", flags: stage.Flags{LowMemory: true}, low: true},
		{name: "low vram option", opts: func(o *Options) { o.LowVRAM = true }, low: true},
		{name: "async disabled", opts: func(o *Options) { o.AsyncTranslate = false }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			if tc.opts != nil {
				tc.opts(&opts)
			}
			h := newHarness(t, 2, opts, tc.flags)
			run := h.start(t, RunRequest{Stages: stage.All()})
			require.Equal(t, Finished, wait(t, run))
			assert.Equal(t, tc.low, run.LowResource())
			assert.Equal(t, tc.async, run.AsyncTranslate())
			assert.Equal(t, 2, run.Counts()[stage.Translate])
		})
	}
}

func TestInlineTranslateInterleaves(t *testing.T) {
	opts := DefaultOptions()
	opts.AsyncTranslate = false
	h := newHarness(t, 2, opts, stage.Flags{})
	run := h.start(t, RunRequest{Stages: stage.All()})
	require.Equal(t, Finished, wait(t, run))
	assert.Equal(t, []string{
		"detect:p0", "recognize:p0", "translate:p0", "restore:p0",
		"detect:p1", "recognize:p1", "translate:p1", "restore:p1",
	}, h.rec.trace())
}

func TestRecognizeFailureIsolated(t *testing.T) {
	h := newHarness(t, 3, DefaultOptions(), stage.Flags{})
	boom := errors.New("ocr exploded")
	h.ocr.fail = map[string]error{"p1": boom}

	run := h.start(t, RunRequest{Stages: stage.All()})
	require.Equal(t, Finished, wait(t, run))

	reps := h.reports.all()
	require.Len(t, reps, 1)
	assert.Equal(t, stage.Recognize, reps[0].kind)
	assert.Equal(t, "p1", reps[0].key)
	assert.ErrorIs(t, reps[0].err, boom)
	for _, k := range stage.Kinds {
		assert.Equal(t, 3, run.Counts()[k], k.String())
	}
	assert.Equal(t, seq(3), h.notes.completes)
	assert.Equal(t, 1, h.notes.finished)
}

func TestPanickingStrategyIsIsolated(t *testing.T) {
	h := newHarness(t, 2, DefaultOptions(), stage.Flags{})
	h.ocr.fail = nil
	h.ocr.blank = func(*page.Region) bool { panic("bad region") }

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect, stage.Recognize)})
	require.Equal(t, Finished, wait(t, run))

	reps := h.reports.all()
	require.Len(t, reps, 2)
	var pe *worker.PanicError
	assert.ErrorAs(t, reps[0].err, &pe)
	assert.Equal(t, 2, run.Counts()[stage.Recognize])
}

func TestStopHaltsAfterInFlightPage(t *testing.T) {
	h := newHarness(t, 5, DefaultOptions(), stage.Flags{})
	h.det.hold = "p2"
	h.det.entered = make(chan struct{})
	h.det.release = make(chan struct{})

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect, stage.Recognize)})
	<-h.det.entered
	assert.True(t, h.c.RequestStop())
	close(h.det.release)

	require.Equal(t, Stopped, wait(t, run))
	assert.Equal(t, []string{"p0", "p1", "p2"}, h.rec.keys(stage.Detect))
	assert.Equal(t, []string{"p0", "p1", "p2"}, h.rec.keys(stage.Recognize))
	assert.Equal(t, 3, run.Counts()[stage.Detect])
	assert.Equal(t, seq(3), h.notes.completes)
	assert.Equal(t, 1, h.notes.stopped)
	assert.Zero(t, h.notes.finished)
	assert.Nil(t, h.c.Active())
	assert.False(t, h.c.RequestStop())
}

func TestStopDuringAsyncTranslate(t *testing.T) {
	h := newHarness(t, 4, DefaultOptions(), stage.Flags{})
	h.det.hold = "p1"
	h.det.entered = make(chan struct{})
	h.det.release = make(chan struct{})

	run := h.start(t, RunRequest{Stages: stage.All()})
	<-h.det.entered
	run.Stop()
	close(h.det.release)

	require.Equal(t, Stopped, wait(t, run))
	assert.NotContains(t, h.rec.keys(stage.Detect), "p2")
	assert.NotContains(t, h.rec.keys(stage.Translate), "p2")
	assert.LessOrEqual(t, run.Counts()[stage.Translate], 2)
	assert.Equal(t, 1, h.notes.stopped)
}

func TestStopOnEndedRunLeavesNextRun(t *testing.T) {
	h := newHarness(t, 3, DefaultOptions(), stage.Flags{})
	first := h.start(t, RunRequest{Stages: stage.All()})
	require.Equal(t, Finished, wait(t, first))
	require.True(t, first.AsyncTranslate())

	h.det.hold = "p1"
	h.det.entered = make(chan struct{})
	h.det.release = make(chan struct{})
	second := h.start(t, RunRequest{Stages: stage.All()})
	<-h.det.entered
	first.Stop()
	close(h.det.release)

	require.Equal(t, Finished, wait(t, second))
	assert.Equal(t, 3, second.Counts()[stage.Translate])
	assert.Equal(t, 2, second.Watermark())
	assert.Zero(t, h.notes.stopped)
}

func TestContextCancelStopsRun(t *testing.T) {
	h := newHarness(t, 4, DefaultOptions(), stage.Flags{})
	h.det.hold = "p0"
	h.det.entered = make(chan struct{})
	h.det.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := h.c.StartRun(ctx, RunRequest{Stages: stage.NewSet(stage.Detect)})
	require.NoError(t, err)
	<-h.det.entered
	cancel()
	assert.Eventually(t, run.stopRequested, time.Second, time.Millisecond)
	close(h.det.release)

	require.Equal(t, Stopped, wait(t, run))
	assert.Equal(t, []string{"p0"}, h.rec.keys(stage.Detect))
	assert.Equal(t, 0, run.Watermark())
}

func TestDiscardEmptyReconciles(t *testing.T) {
	opts := DefaultOptions()
	opts.DiscardEmpty = true
	h := newHarness(t, 1, opts, stage.Flags{})

	p := h.project.Page("p0")
	keep := p.Regions[0]
	empty := &page.Region{Bounds: image.Rect(4, 4, 12, 12)}
	h.rec.own("p0", empty)
	p.Regions = append(p.Regions, empty)
	p.Mask = page.MaskFromRegions(pageBounds, p.Regions)
	p.Restored = solid(white)
	h.ocr.blank = func(r *page.Region) bool { return r == empty }

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Recognize)})
	require.Equal(t, Finished, wait(t, run))

	assert.Equal(t, []*page.Region{keep}, p.Regions)
	assert.True(t, empty.Discard)
	assert.Zero(t, page.Covered(p.Mask, empty.Bounds))
	assert.Equal(t, keep.Bounds.Dx()*keep.Bounds.Dy(), page.Covered(p.Mask, pageBounds))

	for y := pageBounds.Min.Y; y < pageBounds.Max.Y; y++ {
		for x := pageBounds.Min.X; x < pageBounds.Max.X; x++ {
			want := white
			if image.Pt(x, y).In(empty.Bounds) {
				want = sourceRed
			}
			require.Equal(t, want, p.Restored.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
	assert.Same(t, p.Mask, h.store.masks["p0"])
	assert.Same(t, p.Restored, h.store.restored["p0"])
}

func TestDiscardLoadsStoredRestoredImage(t *testing.T) {
	opts := DefaultOptions()
	opts.DiscardEmpty = true
	h := newHarness(t, 1, opts, stage.Flags{})

	p := h.project.Page("p0")
	h.store.masks["p0"] = page.MaskFromRegions(pageBounds, p.Regions)
	h.store.restored["p0"] = solid(white)
	h.ocr.blank = func(*page.Region) bool { return true }

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Recognize)})
	require.Equal(t, Finished, wait(t, run))

	assert.Empty(t, p.Regions)
	assert.Zero(t, page.Covered(h.store.masks["p0"], pageBounds))
	assert.Equal(t, sourceRed, h.store.restored["p0"].RGBAAt(25, 25))
	assert.Equal(t, white, h.store.restored["p0"].RGBAAt(1, 1))
}

func TestRestoreSkipsPagesWithoutMask(t *testing.T) {
	h := newHarness(t, 3, DefaultOptions(), stage.Flags{})
	h.store.masks["p1"] = page.MaskFromRegions(pageBounds, h.project.Page("p1").Regions)

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Restore)})
	require.Equal(t, Finished, wait(t, run))

	assert.Equal(t, []string{"p1"}, h.rec.keys(stage.Restore))
	assert.Equal(t, 3, run.Counts()[stage.Restore])
	assert.Equal(t, seq(3), h.notes.completes)
	assert.NotNil(t, h.project.Page("p1").Restored)
	assert.Nil(t, h.project.Page("p0").Restored)
}

func TestDetectOnlySavesMask(t *testing.T) {
	h := newHarness(t, 2, DefaultOptions(), stage.Flags{})
	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect)})
	require.Equal(t, Finished, wait(t, run))

	for _, key := range []string{"p0", "p1"} {
		p := h.project.Page(key)
		require.Len(t, p.Regions, 1)
		assert.Equal(t, image.Rect(2, 2, 12, 8), p.Regions[0].Bounds)
		assert.Same(t, p.Mask, h.store.masks[key])
		assert.Equal(t, 60, page.Covered(p.Mask, pageBounds))
	}
}

func TestKeepExistingRegionsMerges(t *testing.T) {
	opts := DefaultOptions()
	opts.KeepExistingRegions = true
	h := newHarness(t, 1, opts, stage.Flags{})
	stored := page.NewMask(pageBounds)
	page.Fill(stored, image.Rect(30, 0, 40, 5), page.MaskText)
	h.store.masks["p0"] = stored

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect)})
	require.Equal(t, Finished, wait(t, run))

	p := h.project.Page("p0")
	require.Len(t, p.Regions, 2)
	assert.Equal(t, image.Rect(2, 2, 12, 8), p.Regions[0].Bounds, "detected region sorts first")
	assert.Equal(t, "old", p.Regions[1].Text)
	assert.Equal(t, 60+50, page.Covered(p.Mask, pageBounds))
}

func TestDetectFailureKeepsExistingRegions(t *testing.T) {
	h := newHarness(t, 1, DefaultOptions(), stage.Flags{})
	require.NoError(t, h.c.SetStrategy(stage.Detect, &failingDetector{model: model{name: "broken"}}))

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect, stage.Recognize)})
	require.Equal(t, Finished, wait(t, run))

	p := h.project.Page("p0")
	require.Len(t, p.Regions, 1)
	assert.Equal(t, "text-p0", p.Regions[0].Text)
	require.Len(t, h.reports.all(), 1)
	assert.Equal(t, stage.Detect, h.reports.all()[0].kind)
}

type failingDetector struct{ model }

func (*failingDetector) Detect(context.Context, *page.Page) (*image.Gray, []*page.Region, error) {
	return nil, nil, errors.New("no detector weights")
}

type emptyDetector struct{ model }

func (*emptyDetector) Detect(context.Context, *page.Page) (*image.Gray, []*page.Region, error) {
	return nil, nil, nil
}

func TestEmptyDetectionReplacesStoredMask(t *testing.T) {
	h := newHarness(t, 1, DefaultOptions(), stage.Flags{})
	require.NoError(t, h.c.SetStrategy(stage.Detect, &emptyDetector{model: model{name: "empty"}}))
	h.store.masks["p0"] = page.MaskFromRegions(pageBounds, h.project.Page("p0").Regions)

	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect, stage.Restore)})
	require.Equal(t, Finished, wait(t, run))

	p := h.project.Page("p0")
	assert.Empty(t, p.Regions)
	require.NotNil(t, p.Mask)
	assert.Zero(t, page.Covered(p.Mask, pageBounds))
	assert.Same(t, p.Mask, h.store.masks["p0"])
}

func TestShortCircuitRuns(t *testing.T) {
	h := newHarness(t, 3, DefaultOptions(), stage.Flags{})
	run := h.start(t, RunRequest{})
	assert.Equal(t, Finished, wait(t, run))
	assert.ErrorIs(t, run.Skipped(), ErrNoStages)
	assert.Empty(t, h.notes.completes)
	assert.Equal(t, 1, h.notes.finished)
	assert.Equal(t, -1, run.Watermark())

	empty := New(Dependencies{}, DefaultOptions())
	run, err := empty.StartRun(context.Background(), RunRequest{Stages: stage.All()})
	require.NoError(t, err)
	assert.Equal(t, Finished, wait(t, run))
	assert.ErrorIs(t, run.Skipped(), ErrNoPages)
}

func TestStartRunValidation(t *testing.T) {
	h := newHarness(t, 3, DefaultOptions(), stage.Flags{})

	_, err := h.c.StartRun(context.Background(), RunRequest{Stages: stage.All(), Pages: []string{"p0", "nope"}})
	assert.ErrorIs(t, err, ErrUnknownPage)

	_, err = h.c.StartRun(context.Background(), RunRequest{Stages: stage.All(), Pages: []string{"p1", "p1"}})
	assert.ErrorIs(t, err, ErrDuplicatePage)

	bare := New(Dependencies{Project: h.project}, DefaultOptions())
	_, err = bare.StartRun(context.Background(), RunRequest{Stages: stage.NewSet(stage.Detect)})
	assert.ErrorIs(t, err, worker.ErrNoStrategy)

	h.det.hold = "p0"
	h.det.entered = make(chan struct{})
	h.det.release = make(chan struct{})
	run := h.start(t, RunRequest{Stages: stage.NewSet(stage.Detect)})
	<-h.det.entered

	_, err = h.c.StartRun(context.Background(), RunRequest{Stages: stage.NewSet(stage.Detect)})
	assert.ErrorIs(t, err, ErrRunActive)
	assert.ErrorIs(t, h.c.TranslatePage(context.Background(), "p0"), ErrRunActive)
	assert.Same(t, run, h.c.Active())

	close(h.det.release)
	assert.Equal(t, Finished, wait(t, run))
}

func TestTranslatePage(t *testing.T) {
	h := newHarness(t, 2, DefaultOptions(), stage.Flags{})
	require.NoError(t, h.c.TranslatePage(context.Background(), "p1"))
	assert.Equal(t, "tr:old", h.project.Page("p1").Regions[0].Translation)
	assert.Equal(t, []string{"p1"}, h.rec.keys(stage.Translate))

	assert.ErrorIs(t, h.c.TranslatePage(context.Background(), "zz"), ErrUnknownPage)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
