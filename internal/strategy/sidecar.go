package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

func init() {
	Register(stage.Detect, "sidecar", func(p Params) (stage.Model, error) {
		return NewSidecar(p.String("SIDECAR_DIR", "")), nil
	})
}

// SidecarBox is one region in a sidecar file. Text is optional and lets an
// external OCR pass prefill recognition.
type SidecarBox struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	W    int    `json:"w"`
	H    int    `json:"h"`
	Text string `json:"text,omitempty"`
}

type sidecarFile struct {
	Regions []SidecarBox `json:"regions"`
}

// Sidecar reads regions produced by an external tool from
// <dir>/<page key without extension>.json. A page without a file has no
// regions.
type Sidecar struct {
	stage.Stateless
	stage.Flags
	dir string
}

func NewSidecar(dir string) *Sidecar { return &Sidecar{dir: dir} }

func (s *Sidecar) Name() string { return "sidecar" }

func (s *Sidecar) path(key string) string {
	return filepath.Join(s.dir, strings.TrimSuffix(key, filepath.Ext(key))+".json")
}

func (s *Sidecar) Detect(_ context.Context, p *page.Page) (*image.Gray, []*page.Region, error) {
	if s.dir == "" {
		return nil, nil, &stage.MissingParamsError{Strategy: s.Name(), Param: "SIDECAR_DIR", Hint: "point it at the directory holding <page>.json region files"}
	}
	img, err := p.Image()
	if err != nil {
		return nil, nil, err
	}
	bounds := img.Bounds()

	raw, err := os.ReadFile(s.path(p.Key))
	if errors.Is(err, fs.ErrNotExist) {
		return page.NewMask(bounds), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var f sidecarFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", s.path(p.Key), err)
	}

	regions := make([]*page.Region, 0, len(f.Regions))
	for _, b := range f.Regions {
		r := image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H).Intersect(bounds)
		if r.Empty() {
			continue
		}
		regions = append(regions, &page.Region{Bounds: r, Text: b.Text})
	}
	return page.MaskFromRegions(bounds, regions), regions, nil
}
