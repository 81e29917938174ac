package pipeline

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"runtime/debug"

	"github.com/local/pagetrans/internal/metrics"
	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

// settle closes one stage attempt: a failure is reported, then the stage
// counter advances whatever the result.
func (c *Coordinator) settle(h *RunHandle, kind stage.Kind, key string, err error) {
	if err != nil {
		c.fail(h, kind, key, err)
	}
	h.state.advance(kind, key)
}

func (c *Coordinator) fail(h *RunHandle, kind stage.Kind, key string, err error) {
	h.log.Warn().Str("stage", kind.String()).Str("page", key).Err(err).Msg("page stage failed")
	c.reporter.Report(kind, key, err)
}

// runInterleaved runs the enabled stages page by page in process order.
// Stop is checked before each page.
func (c *Coordinator) runInterleaved(ctx context.Context, h *RunHandle, stages stage.Set, async bool) {
	for i, key := range h.state.keys {
		if h.stopRequested() {
			h.log.Info().Int("index", i).Msg("stop requested, pipeline halted")
			return
		}
		c.processPage(ctx, h, key, stages, async)
	}
}

// runLowResource runs every stage but Translate over all pages, releases
// those models, then translates the pages in a second pass.
func (c *Coordinator) runLowResource(ctx context.Context, h *RunHandle) {
	c.runInterleaved(ctx, h, h.state.enabled.Without(stage.Translate), false)
	if !h.state.enabled.Has(stage.Translate) || h.stopRequested() {
		return
	}
	c.reclaim(h)

	for i, key := range h.state.keys {
		if h.stopRequested() {
			h.log.Info().Int("index", i).Msg("stop requested, translation halted")
			return
		}
		_, err := c.translate.RunPage(ctx, c.project.Page(key))
		c.settle(h, stage.Translate, key, err)
	}
}

// reclaim releases the detect, recognize and restore models and drops page
// images that can be reopened.
func (c *Coordinator) reclaim(h *RunHandle) {
	released := false
	for _, k := range []stage.Kind{stage.Detect, stage.Recognize, stage.Restore} {
		if c.workers[k].ReleaseModel() {
			released = true
		}
	}
	for _, key := range h.state.keys {
		c.project.Page(key).Drop()
	}
	if released {
		runtime.GC()
		debug.FreeOSMemory()
	}
	h.log.Info().Bool("released", released).Msg("models released before translation pass")
}

func (c *Coordinator) processPage(ctx context.Context, h *RunHandle, key string, stages stage.Set, async bool) {
	p := c.project.Page(key)
	saveMask := false

	if stages.Has(stage.Detect) {
		detected, err := c.detect(ctx, h, p)
		saveMask = detected
		if detected && !stages.Has(stage.Recognize) {
			c.persistMask(ctx, h, stage.Detect, p)
			saveMask = false
		}
		c.settle(h, stage.Detect, key, err)
	}

	if stages.Has(stage.Recognize) {
		_, err := c.workers[stage.Recognize].RunPage(ctx, p)
		if c.opts.DiscardEmpty && c.reconcile(ctx, h, p) {
			saveMask = true
		}
		if saveMask {
			c.persistMask(ctx, h, stage.Recognize, p)
		}
		c.settle(h, stage.Recognize, key, err)
	}

	if stages.Has(stage.Translate) {
		if async {
			c.translate.Push(key)
		} else {
			_, err := c.translate.RunPage(ctx, p)
			c.settle(h, stage.Translate, key, err)
		}
	}

	if stages.Has(stage.Restore) {
		c.settle(h, stage.Restore, key, c.restore(ctx, h, p))
	}
}

// detect replaces the page regions and mask with the detector output, or
// merges them when existing regions are kept. On success the page always
// has a mask, possibly empty.
func (c *Coordinator) detect(ctx context.Context, h *RunHandle, p *page.Page) (bool, error) {
	res, err := c.workers[stage.Detect].RunPage(ctx, p)
	if err != nil {
		return false, err
	}
	regions, mask := res.Regions, res.Mask
	// an empty result still replaces whatever mask an earlier run stored
	if mask == nil {
		img, err := p.Image()
		if err != nil {
			return false, err
		}
		mask = page.MaskFromRegions(img.Bounds(), regions)
	}
	if c.opts.KeepExistingRegions {
		merged := make([]*page.Region, 0, len(p.Regions)+len(regions))
		merged = append(merged, p.Regions...)
		regions = page.SortRegions(append(merged, regions...), c.opts.RightToLeft)

		stored, err := c.artifacts.LoadMask(ctx, p.Key)
		if err != nil {
			c.fail(h, stage.Detect, p.Key, fmt.Errorf("load mask: %w", err))
		}
		mask = page.UnionMask(mask, stored)
	}
	p.Regions, p.Mask = regions, mask
	return true, nil
}

// reconcile drops regions with empty text and clears their footprint from
// the mask and the restored image. It reports whether the mask changed.
func (c *Coordinator) reconcile(ctx context.Context, h *RunHandle, p *page.Page) bool {
	removed := p.DiscardEmpty()
	if len(removed) == 0 {
		return false
	}
	h.log.Debug().Str("page", p.Key).Int("discarded", len(removed)).Msg("empty regions discarded")

	if p.Mask == nil {
		p.Mask = c.loadMask(ctx, h, stage.Recognize, p.Key)
		if p.Mask == nil {
			return false
		}
	}

	// Restore overwrites the restored image later when it is enabled.
	restoreLater := h.state.enabled.Has(stage.Restore)
	restored := p.Restored
	if restored == nil && !restoreLater {
		var err error
		restored, err = c.artifacts.LoadRestored(ctx, p.Key)
		if err != nil {
			c.fail(h, stage.Recognize, p.Key, fmt.Errorf("load restored image: %w", err))
		}
	}

	var src image.Image
	if restored != nil {
		img, err := p.Image()
		if err != nil {
			c.fail(h, stage.Recognize, p.Key, err)
			restored = nil
		}
		src = img
	}

	changed := page.ClearFootprints(p.Mask, restored, src, removed)
	if restored != nil && changed {
		p.Restored = restored
		if !restoreLater {
			if err := c.artifacts.SaveRestored(ctx, p.Key, restored); err != nil {
				c.fail(h, stage.Recognize, p.Key, fmt.Errorf("save restored image: %w", err))
			}
		}
	}
	return changed
}

// restore repaints the page under its mask. A page without a mask in memory
// or in the store is skipped.
func (c *Coordinator) restore(ctx context.Context, h *RunHandle, p *page.Page) error {
	if p.Mask == nil {
		p.Mask = c.loadMask(ctx, h, stage.Restore, p.Key)
	}
	if p.Mask == nil {
		metrics.ObserveStage(stage.Restore.String(), "skipped", 0)
		h.log.Debug().Str("page", p.Key).Msg("no mask, restore skipped")
		return nil
	}
	res, err := c.workers[stage.Restore].RunPage(ctx, p)
	if err != nil {
		return err
	}
	if res.Restored == nil {
		return nil
	}
	p.Restored = res.Restored
	if err := c.artifacts.SaveRestored(ctx, p.Key, res.Restored); err != nil {
		c.fail(h, stage.Restore, p.Key, fmt.Errorf("save restored image: %w", err))
	}
	return nil
}

func (c *Coordinator) loadMask(ctx context.Context, h *RunHandle, kind stage.Kind, key string) *image.Gray {
	mask, err := c.artifacts.LoadMask(ctx, key)
	if err != nil {
		c.fail(h, kind, key, fmt.Errorf("load mask: %w", err))
		return nil
	}
	return mask
}

func (c *Coordinator) persistMask(ctx context.Context, h *RunHandle, kind stage.Kind, p *page.Page) {
	if p.Mask == nil {
		return
	}
	if err := c.artifacts.SaveMask(ctx, p.Key, p.Mask); err != nil {
		c.fail(h, kind, p.Key, fmt.Errorf("save mask: %w", err))
	}
}
