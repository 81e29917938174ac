package report

import (
	"github.com/rs/zerolog"

	"github.com/local/pagetrans/internal/logger"
	"github.com/local/pagetrans/internal/metrics"
	"github.com/local/pagetrans/internal/stage"
)

// Reporter receives isolated page failures.
type Reporter interface {
	Report(kind stage.Kind, key string, err error)
}

// Message renders a failure for people. A missing parameter gets its
// remediation text on a second line.
func Message(kind stage.Kind, key string, err error) string {
	msg := kind.String() + " failed on " + key + ": " + err.Error()
	if mp, ok := stage.AsMissingParams(err); ok {
		msg += "\n" + Remediation(mp)
	}
	return msg
}

// Remediation tells the operator which setting to provide.
func Remediation(mp *stage.MissingParamsError) string {
	return "Set " + mp.Param + " in the " + mp.Strategy + " settings and run the stage again."
}

// LogReporter writes each failure as a structured log line.
type LogReporter struct {
	log zerolog.Logger
}

func NewLogReporter() *LogReporter {
	return &LogReporter{log: logger.With("error_channel")}
}

func (r *LogReporter) Report(kind stage.Kind, key string, err error) {
	metrics.IncReported(kind.String())
	ev := r.log.Error().Str("stage", kind.String()).Str("page", key).Err(err)
	if mp, ok := stage.AsMissingParams(err); ok {
		ev = ev.Str("strategy", mp.Strategy).Str("missing_param", mp.Param).Str("remediation", Remediation(mp))
	}
	ev.Msg("page stage failed")
}

// Multi sends every report to each reporter in order.
type Multi []Reporter

func (m Multi) Report(kind stage.Kind, key string, err error) {
	for _, r := range m {
		r.Report(kind, key, err)
	}
}
