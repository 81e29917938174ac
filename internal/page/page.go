package page

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// Page is the in-memory record for one page of a project. It owns its
// regions, mask and restored image. The source image is opened lazily.
type Page struct {
	Key      string
	Regions  []*Region
	Mask     *image.Gray
	Restored *image.RGBA

	open func() (image.Image, error)
	img  image.Image
}

// New returns a page backed by an image already in memory.
func New(key string, img image.Image) *Page {
	return &Page{Key: key, img: img}
}

// NewLazy returns a page whose image is opened on first use.
func NewLazy(key string, open func() (image.Image, error)) *Page {
	return &Page{Key: key, open: open}
}

// Image returns the original, unrestored page image.
func (p *Page) Image() (image.Image, error) {
	if p.img != nil {
		return p.img, nil
	}
	if p.open == nil {
		return nil, fmt.Errorf("page %s: no image source", p.Key)
	}
	img, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("page %s: open image: %w", p.Key, err)
	}
	p.img = img
	return img, nil
}

// Drop forgets a lazily opened image so it can be collected. In-memory pages
// keep theirs.
func (p *Page) Drop() {
	if p.open != nil {
		p.img = nil
	}
}

// ToRGBA copies img into a fresh RGBA image.
func ToRGBA(img image.Image) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

var ErrDuplicateKey = errors.New("duplicate page key")

// Project is an ordered page set. Insertion order is the dataset order.
type Project struct {
	keys  []string
	index map[string]int
	pages map[string]*Page
}

func NewProject() *Project {
	return &Project{index: map[string]int{}, pages: map[string]*Page{}}
}

func (pr *Project) Add(p *Page) error {
	if _, ok := pr.pages[p.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, p.Key)
	}
	pr.index[p.Key] = len(pr.keys)
	pr.keys = append(pr.keys, p.Key)
	pr.pages[p.Key] = p
	return nil
}

// Keys returns page keys in dataset order.
func (pr *Project) Keys() []string {
	out := make([]string, len(pr.keys))
	copy(out, pr.keys)
	return out
}

func (pr *Project) Page(key string) *Page { return pr.pages[key] }
func (pr *Project) Len() int              { return len(pr.keys) }

// Index returns the absolute dataset index of key.
func (pr *Project) Index(key string) (int, bool) {
	i, ok := pr.index[key]
	return i, ok
}
