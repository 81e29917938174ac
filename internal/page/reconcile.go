package page

import "image"

// DiscardEmpty removes regions whose recognized text is empty from the page
// and returns them flagged as discarded. Order of the kept regions is preserved.
func (p *Page) DiscardEmpty() []*Region {
	var kept, removed []*Region
	for _, r := range p.Regions {
		if r.TextEmpty() {
			r.Discard = true
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) > 0 {
		p.Regions = kept
	}
	return removed
}

// ClearFootprints keeps mask and restored image consistent with a region list
// that lost the given regions. For each region the enlarged footprint is
// cleared in mask; where the mask marked text, restored pixels are reset to
// the source image. restored may be nil. Returns true when mask changed.
func ClearFootprints(mask *image.Gray, restored *image.RGBA, source image.Image, removed []*Region) bool {
	if mask == nil {
		return false
	}
	changed := false
	for _, r := range removed {
		win := Enlarge(r.Bounds, mask.Bounds())
		if win.Dx() <= 0 || win.Dy() <= 0 {
			continue
		}
		for y := win.Min.Y; y < win.Max.Y; y++ {
			for x := win.Min.X; x < win.Max.X; x++ {
				i := mask.PixOffset(x, y)
				if mask.Pix[i] == MaskEmpty {
					continue
				}
				if restored != nil && source != nil {
					pt := image.Pt(x, y)
					if pt.In(restored.Bounds()) && pt.In(source.Bounds()) {
						restored.Set(x, y, source.At(x, y))
					}
				}
			}
		}
		Fill(mask, win, MaskEmpty)
		changed = true
	}
	return changed
}
