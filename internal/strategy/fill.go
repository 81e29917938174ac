package strategy

import (
	"context"
	"image"
	"image/color"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

func init() {
	Register(stage.Restore, "fill", func(p Params) (stage.Model, error) {
		return NewFill(p.Int("RESTORE_RING", 4)), nil
	})
}

// Fill paints masked pixels of each region with the average colour of the
// unmasked pixels around them. It suits flat backgrounds such as
// speech bubbles and captions.
type Fill struct {
	stage.Stateless
	stage.Flags
	ring int
}

func NewFill(ring int) *Fill { return &Fill{ring: max(1, ring)} }

func (f *Fill) Name() string { return "fill" }

func (f *Fill) Restore(ctx context.Context, img image.Image, mask *image.Gray, regions []*page.Region) (*image.RGBA, error) {
	out := page.ToRGBA(img)
	bounds := out.Bounds()
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		area := page.Enlarge(r.Bounds, bounds)
		c, ok := f.ringColor(out, mask, area)
		if !ok {
			continue
		}
		for y := area.Min.Y; y < area.Max.Y; y++ {
			for x := area.Min.X; x < area.Max.X; x++ {
				if masked(mask, x, y) {
					out.SetRGBA(x, y, c)
				}
			}
		}
	}
	return out, nil
}

// ringColor averages the unmasked pixels of area grown by f.ring pixels. It
// reports false when every pixel there is masked.
func (f *Fill) ringColor(img *image.RGBA, mask *image.Gray, area image.Rectangle) (color.RGBA, bool) {
	outer := area.Inset(-f.ring).Intersect(img.Bounds())
	var r, g, b, a, n uint64
	for y := outer.Min.Y; y < outer.Max.Y; y++ {
		for x := outer.Min.X; x < outer.Max.X; x++ {
			if masked(mask, x, y) {
				continue
			}
			px := img.RGBAAt(x, y)
			r += uint64(px.R)
			g += uint64(px.G)
			b += uint64(px.B)
			a += uint64(px.A)
			n++
		}
	}
	if n == 0 {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: uint8(a / n)}, true
}

func masked(mask *image.Gray, x, y int) bool {
	return mask != nil && image.Pt(x, y).In(mask.Bounds()) && mask.GrayAt(x, y).Y != page.MaskEmpty
}
