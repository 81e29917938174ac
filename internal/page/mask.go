package page

import (
	"image"
	"image/color"
)

// Text pixels are 255 in a page mask, background is 0.
const (
	MaskText  uint8 = 255
	MaskEmpty uint8 = 0
)

// NewMask allocates an empty mask covering b.
func NewMask(b image.Rectangle) *image.Gray {
	return image.NewGray(b)
}

// MaskFromRegions rasterizes region footprints into a new mask.
func MaskFromRegions(b image.Rectangle, regions []*Region) *image.Gray {
	m := NewMask(b)
	for _, r := range regions {
		Fill(m, r.Bounds, MaskText)
	}
	return m
}

// Fill sets every mask pixel inside rect to v.
func Fill(m *image.Gray, rect image.Rectangle, v uint8) {
	rect = rect.Intersect(m.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

// UnionMask merges b into a copy of a, pixel-wise maximum. A nil side yields
// the other unchanged.
func UnionMask(a, b *image.Gray) *image.Gray {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := image.NewGray(a.Bounds())
	copy(out.Pix, a.Pix)
	rect := a.Bounds().Intersect(b.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if v := b.GrayAt(x, y).Y; v > out.GrayAt(x, y).Y {
				out.SetGray(x, y, color.Gray{Y: v})
			}
		}
	}
	return out
}

// Covered counts the non-empty mask pixels inside rect.
func Covered(m *image.Gray, rect image.Rectangle) int {
	n := 0
	rect = rect.Intersect(m.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if m.GrayAt(x, y).Y != MaskEmpty {
				n++
			}
		}
	}
	return n
}
