package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveStage(t *testing.T) {
	before := testutil.ToFloat64(stageAttempts.WithLabelValues("recognize", "ok"))
	ObserveStage("recognize", "ok", 20*time.Millisecond)
	ObserveStage("recognize", "skipped", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(stageAttempts.WithLabelValues("recognize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stageAttempts.WithLabelValues("recognize", "skipped")))
}

func TestGauges(t *testing.T) {
	SetWatermark(4)
	SetTranslateQueue(2)
	assert.Equal(t, 4.0, testutil.ToFloat64(watermark))
	assert.Equal(t, 2.0, testutil.ToFloat64(translateQueue))

	IncRun("stopped")
	assert.Equal(t, 1.0, testutil.ToFloat64(runs.WithLabelValues("stopped")))
}
