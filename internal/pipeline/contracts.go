package pipeline

import (
	"context"
	"image"

	"github.com/local/pagetrans/internal/page"
	"github.com/local/pagetrans/internal/stage"
)

// Notifier receives run progress. Calls for one run are serialized, so
// implementations should return quickly.
type Notifier interface {
	// PageComplete fires once per page, in process order, when every enabled
	// stage has finished it. index is the absolute page index in the project.
	PageComplete(runID string, index int, p *page.Page)
	StageProgress(runID string, kind stage.Kind, count, total int)
	Stopped(runID string)
	Finished(runID string)
}

// RunStartNotifier is implemented by notifiers that want to know about a run
// before its first notification.
type RunStartNotifier interface {
	RunStarted(runID string, stages stage.Set, total int)
}

// PageStageNotifier is implemented by notifiers that track per page stage
// status in addition to the run counters.
type PageStageNotifier interface {
	PageStageDone(runID string, kind stage.Kind, key string)
}

// Reporter is the error channel for isolated page failures. Report must not
// block the run and never fails.
type Reporter interface {
	Report(kind stage.Kind, key string, err error)
}

// ArtifactStore persists page masks and restored images between runs.
// Loads return nil, nil when nothing is stored for key.
type ArtifactStore interface {
	LoadMask(ctx context.Context, key string) (*image.Gray, error)
	SaveMask(ctx context.Context, key string, mask *image.Gray) error
	LoadRestored(ctx context.Context, key string) (*image.RGBA, error)
	SaveRestored(ctx context.Context, key string, img *image.RGBA) error
}

// Notifiers fans every notification out to each member in order.
type Notifiers []Notifier

func (ns Notifiers) PageComplete(runID string, index int, p *page.Page) {
	for _, n := range ns {
		n.PageComplete(runID, index, p)
	}
}

func (ns Notifiers) StageProgress(runID string, kind stage.Kind, count, total int) {
	for _, n := range ns {
		n.StageProgress(runID, kind, count, total)
	}
}

func (ns Notifiers) Stopped(runID string) {
	for _, n := range ns {
		n.Stopped(runID)
	}
}

func (ns Notifiers) Finished(runID string) {
	for _, n := range ns {
		n.Finished(runID)
	}
}

func (ns Notifiers) RunStarted(runID string, stages stage.Set, total int) {
	for _, n := range ns {
		if rs, ok := n.(RunStartNotifier); ok {
			rs.RunStarted(runID, stages, total)
		}
	}
}

func (ns Notifiers) PageStageDone(runID string, kind stage.Kind, key string) {
	for _, n := range ns {
		if ps, ok := n.(PageStageNotifier); ok {
			ps.PageStageDone(runID, kind, key)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) PageComplete(string, int, *page.Page)        {}
func (nopNotifier) StageProgress(string, stage.Kind, int, int) {}
func (nopNotifier) Stopped(string)                             {}
func (nopNotifier) Finished(string)                            {}

type nopReporter struct{}

func (nopReporter) Report(stage.Kind, string, error) {}

type nopArtifacts struct{}

func (nopArtifacts) LoadMask(context.Context, string) (*image.Gray, error)     { return nil, nil }
func (nopArtifacts) SaveMask(context.Context, string, *image.Gray) error       { return nil }
func (nopArtifacts) LoadRestored(context.Context, string) (*image.RGBA, error) { return nil, nil }
func (nopArtifacts) SaveRestored(context.Context, string, *image.RGBA) error   { return nil }
