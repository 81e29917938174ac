package page

import (
	"image"
	"sort"
	"strings"
)

// Region is one detected text area on a page. Detect creates regions,
// Recognize and Translate fill the text fields, Restore only reads Bounds.
type Region struct {
	Bounds      image.Rectangle `json:"bounds"`
	Text        string          `json:"text,omitempty"`
	Translation string          `json:"translation,omitempty"`
	// Discard marks a region dropped because recognition produced no text.
	Discard bool `json:"discard,omitempty"`
}

// TextEmpty reports whether recognition left the region without visible text.
func (r *Region) TextEmpty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// SortRegions returns regions in reading order: rows top to bottom, and
// within a row left to right (right to left when rtl is set). Two regions
// share a row when their vertical overlap covers half of the shorter one.
func SortRegions(regions []*Region, rtl bool) []*Region {
	out := make([]*Region, len(regions))
	copy(out, regions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bounds.Min.Y < out[j].Bounds.Min.Y })

	var rows [][]*Region
	for _, r := range out {
		if n := len(rows); n > 0 && sameRow(rows[n-1][0].Bounds, r.Bounds) {
			rows[n-1] = append(rows[n-1], r)
			continue
		}
		rows = append(rows, []*Region{r})
	}

	out = out[:0]
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool {
			if rtl {
				return row[i].Bounds.Max.X > row[j].Bounds.Max.X
			}
			return row[i].Bounds.Min.X < row[j].Bounds.Min.X
		})
		out = append(out, row...)
	}
	return out
}

func sameRow(a, b image.Rectangle) bool {
	top, bottom := max(a.Min.Y, b.Min.Y), min(a.Max.Y, b.Max.Y)
	overlap := bottom - top
	if overlap <= 0 {
		return false
	}
	return overlap*2 >= min(a.Dy(), b.Dy())
}

// Enlarge grows r by a margin proportional to its short side and clips the
// result to bounds.
func Enlarge(r, bounds image.Rectangle) image.Rectangle {
	pad := min(r.Dx(), r.Dy()) * 15 / 100
	if pad < 3 {
		pad = 3
	}
	return r.Inset(-pad).Intersect(bounds)
}
