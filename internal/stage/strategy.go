package stage

import (
	"context"
	"image"
	"time"

	"github.com/local/pagetrans/internal/page"
)

// Model is the lifecycle every strategy shares. Load and Unload must be
// idempotent; Load may be slow.
type Model interface {
	Name() string
	Load(ctx context.Context) error
	// Unload releases loaded resources and reports whether anything was freed.
	Unload() bool
	Loaded() bool
	// ComputeIntensive and LowVRAM are advisory and consulted once per run.
	ComputeIntensive() bool
	LowVRAM() bool
}

// Detector finds text regions on a page and returns their raster mask.
type Detector interface {
	Model
	Detect(ctx context.Context, p *page.Page) (*image.Gray, []*page.Region, error)
}

// Recognizer fills Region.Text in place.
type Recognizer interface {
	Model
	Recognize(ctx context.Context, img image.Image, regions []*page.Region) error
}

// Translator fills Region.Translation in place.
type Translator interface {
	Model
	Translate(ctx context.Context, regions []*page.Region) error
	// Delay is the pause a rate limited service needs between pages.
	Delay() time.Duration
}

// Restorer paints over the masked text and returns the restored image.
type Restorer interface {
	Model
	Restore(ctx context.Context, img image.Image, mask *image.Gray, regions []*page.Region) (*image.RGBA, error)
}

// Flags carries the advisory flags for strategies that embed it.
type Flags struct {
	Intensive bool
	LowMemory bool
}

func (f Flags) ComputeIntensive() bool { return f.Intensive }
func (f Flags) LowVRAM() bool          { return f.LowMemory }

// Stateless implements the load lifecycle for strategies with nothing to load.
type Stateless struct{}

func (Stateless) Load(context.Context) error { return nil }
func (Stateless) Unload() bool               { return false }
func (Stateless) Loaded() bool               { return true }

// Supports reports whether m implements the operation for kind.
func Supports(kind Kind, m Model) bool {
	switch kind {
	case Detect:
		_, ok := m.(Detector)
		return ok
	case Recognize:
		_, ok := m.(Recognizer)
		return ok
	case Translate:
		_, ok := m.(Translator)
		return ok
	case Restore:
		_, ok := m.(Restorer)
		return ok
	}
	return false
}
