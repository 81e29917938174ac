package metrics

import (
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "pagetrans"

var (
    stageAttempts = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: Namespace,
            Name:      "stage_attempts_total",
            Help:      "Total stage attempts by stage and result (ok, error, skipped)",
        },
        []string{"stage", "result"},
    )

    stageLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: Namespace,
            Name:      "stage_duration_seconds",
            Help:      "Duration of single-page stage operations",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"stage"},
    )

    modelLoads = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: Namespace,
            Name:      "model_loads_total",
            Help:      "Model loads by stage and strategy",
        },
        []string{"stage", "strategy"},
    )

    modelLoadLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: Namespace,
            Name:      "model_load_duration_seconds",
            Help:      "Time spent loading a model, including the wait for the loading lock",
            Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 180},
        },
        []string{"stage"},
    )

    modelReleases = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: Namespace,
            Name:      "model_releases_total",
            Help:      "Models released by stage",
        },
        []string{"stage"},
    )

    watermark = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: Namespace,
            Name:      "run_watermark",
            Help:      "Highest process index completed by every enabled stage in the active run",
        },
    )

    translateQueue = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: Namespace,
            Name:      "translate_queue_depth",
            Help:      "Pages waiting for asynchronous translation",
        },
    )

    runs = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: Namespace,
            Name:      "runs_total",
            Help:      "Runs by outcome (finished, stopped)",
        },
        []string{"outcome"},
    )

    reported = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: Namespace,
            Name:      "stage_errors_reported_total",
            Help:      "Isolated page failures sent to the error channel",
        },
        []string{"stage"},
    )
)

// Init registers collectors.
func Init() {
    prometheus.MustRegister(stageAttempts, stageLatency, modelLoads, modelLoadLatency, modelReleases, watermark, translateQueue, runs, reported)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveStage(stage, result string, dur time.Duration) {
    stageAttempts.WithLabelValues(stage, result).Inc()
    if result != "skipped" {
        stageLatency.WithLabelValues(stage).Observe(dur.Seconds())
    }
}

func ModelLoaded(stage, strategy string, dur time.Duration) {
    modelLoads.WithLabelValues(stage, strategy).Inc()
    modelLoadLatency.WithLabelValues(stage).Observe(dur.Seconds())
}

func ModelReleased(stage string) { modelReleases.WithLabelValues(stage).Inc() }
func SetWatermark(v int)         { watermark.Set(float64(v)) }
func SetTranslateQueue(n int)    { translateQueue.Set(float64(n)) }
func IncRun(outcome string)      { runs.WithLabelValues(outcome).Inc() }
func IncReported(stage string)   { reported.WithLabelValues(stage).Inc() }
