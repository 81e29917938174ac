package strategy

import (
	"context"
	"image"
	"image/color"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

const (
	// BinaryThreshold separates ink from background, 0-255. Higher keeps
	// lighter pixels as ink.
	BinaryThreshold = 160
	// MinComponentPixels filters specks.
	MinComponentPixels = 4
	// MergeGap joins glyph boxes closer than this into one region.
	MergeGap = 6
)

func init() {
	Register(stage.Detect, "blob", func(p Params) (stage.Model, error) {
		return NewBlob(p.Int("BLOB_THRESHOLD", BinaryThreshold), p.Int("BLOB_MIN_PIXELS", MinComponentPixels), p.Int("BLOB_GAP", MergeGap)), nil
	})
}

// Blob detects text as clusters of dark connected components. It needs no
// model and works on clean scans with dark text on a light background.
type Blob struct {
	stage.Stateless
	stage.Flags
	threshold uint8
	minPixels int
	gap       int
}

func NewBlob(threshold, minPixels, gap int) *Blob {
	return &Blob{
		threshold: uint8(max(1, min(threshold, 255))),
		minPixels: max(1, minPixels),
		gap:       max(0, gap),
	}
}

func (b *Blob) Name() string { return "blob" }

func (b *Blob) Detect(ctx context.Context, p *page.Page) (*image.Gray, []*page.Region, error) {
	img, err := p.Image()
	if err != nil {
		return nil, nil, err
	}
	ink := applyThreshold(toGrayscale(img), b.threshold)
	boxes := mergeBoxes(findComponents(ink, b.minPixels), b.gap)

	regions := make([]*page.Region, 0, len(boxes))
	for _, r := range boxes {
		regions = append(regions, &page.Region{Bounds: r})
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// mask only the ink inside the kept regions, grown by one pixel for
	// anti-aliased glyph edges
	mask := page.NewMask(img.Bounds())
	for _, r := range boxes {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if ink.GrayAt(x, y).Y != 0 {
					page.Fill(mask, image.Rect(x-1, y-1, x+2, y+2), page.MaskText)
				}
			}
		}
	}
	return mask, page.SortRegions(regions, false), nil
}

func toGrayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// applyThreshold marks ink pixels 255 and background 0.
func applyThreshold(img *image.Gray, threshold uint8) *image.Gray {
	bounds := img.Bounds()
	ink := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if img.GrayAt(x, y).Y < threshold {
				ink.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return ink
}

// findComponents returns the bounding boxes of 8-connected ink components
// with at least minPixels pixels.
func findComponents(ink *image.Gray, minPixels int) []image.Rectangle {
	bounds := ink.Bounds()
	visited := make([]bool, bounds.Dx()*bounds.Dy())
	at := func(x, y int) int { return (y-bounds.Min.Y)*bounds.Dx() + (x - bounds.Min.X) }

	var out []image.Rectangle
	var stack []image.Point
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if visited[at(x, y)] || ink.GrayAt(x, y).Y == 0 {
				continue
			}
			box := image.Rect(x, y, x+1, y+1)
			count := 0
			visited[at(x, y)] = true
			stack = append(stack[:0], image.Pt(x, y))
			for len(stack) > 0 {
				pt := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				count++
				box = box.Union(image.Rect(pt.X, pt.Y, pt.X+1, pt.Y+1))
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						n := image.Pt(pt.X+dx, pt.Y+dy)
						if !n.In(bounds) || visited[at(n.X, n.Y)] || ink.GrayAt(n.X, n.Y).Y == 0 {
							continue
						}
						visited[at(n.X, n.Y)] = true
						stack = append(stack, n)
					}
				}
			}
			if count >= minPixels {
				out = append(out, box)
			}
		}
	}
	return out
}

// mergeBoxes unions boxes that come within gap pixels of each other until
// no pair is left to merge.
func mergeBoxes(boxes []image.Rectangle, gap int) []image.Rectangle {
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(boxes); i++ {
			for j := i + 1; j < len(boxes); j++ {
				if boxes[i].Inset(-gap).Overlaps(boxes[j]) {
					boxes[i] = boxes[i].Union(boxes[j])
					boxes = append(boxes[:j], boxes[j+1:]...)
					merged = true
					j--
				}
			}
		}
	}
	return boxes
}
