package pipeline

import "errors"

var (
	ErrNoPages       = errors.New("no pages to process")
	ErrNoStages      = errors.New("no stages enabled")
	ErrRunActive     = errors.New("a run is already active")
	ErrUnknownPage   = errors.New("page not in project")
	ErrDuplicatePage = errors.New("page listed twice")
)
