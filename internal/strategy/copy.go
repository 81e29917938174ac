package strategy

import (
	"context"
	"time"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

func init() {
	Register(stage.Translate, "copy", func(Params) (stage.Model, error) { return Copy{}, nil })
}

// Copy "translates" by copying the recognized text. Useful to run Restore
// and typesetting tools without a translation service.
type Copy struct {
	stage.Stateless
	stage.Flags
}

func (Copy) Name() string         { return "copy" }
func (Copy) Delay() time.Duration { return 0 }

func (Copy) Translate(_ context.Context, regions []*page.Region) error {
	for _, r := range regions {
		if !r.Discard {
			r.Translation = r.Text
		}
	}
	return nil
}
