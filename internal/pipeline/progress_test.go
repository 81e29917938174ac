package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

func TestWatermarkFollowsSlowestStage(t *testing.T) {
	n := newNotes()
	keys := []string{"c", "a", "b"}
	s := newRunState("run", stage.NewSet(stage.Detect, stage.Translate), keys, []int{7, 2, 5}, n,
		func(string) *page.Page { return nil })

	assert.Equal(t, int64(-1), s.watermark.Load())
	for _, k := range keys {
		s.advance(stage.Detect, k)
	}
	assert.Empty(t, n.completes)
	assert.Equal(t, int64(-1), s.watermark.Load())

	s.advance(stage.Translate, "c")
	assert.Equal(t, []int{7}, n.completes)
	s.advance(stage.Translate, "a")
	s.advance(stage.Translate, "b")
	assert.Equal(t, []int{7, 2, 5}, n.completes)
	assert.Equal(t, int64(2), s.watermark.Load())
	assert.True(t, s.complete())
	assert.Equal(t, map[stage.Kind]int{stage.Detect: 3, stage.Translate: 3}, s.snapshot())
}

func TestWatermarkCrossesSeveralIndices(t *testing.T) {
	n := newNotes()
	keys := []string{"a", "b", "c"}
	s := newRunState("run", stage.NewSet(stage.Detect, stage.Restore), keys, []int{0, 1, 2}, n,
		func(string) *page.Page { return nil })

	for _, k := range keys {
		s.advance(stage.Restore, k)
	}
	s.advance(stage.Detect, "a")
	s.advance(stage.Detect, "b")
	assert.Equal(t, []int{0, 1}, n.completes)
	s.advance(stage.Detect, "c")
	assert.Equal(t, []int{0, 1, 2}, n.completes)
	assert.Equal(t, []int{1, 2, 3}, n.progress[stage.Restore])
}
