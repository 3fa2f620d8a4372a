package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "executions_total",
			Help:      "Plan executions by mode (preview, commit) and result",
		},
		[]string{"mode", "result"},
	)

	executionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "splitmerge",
			Name:      "execution_duration_seconds",
			Help:      "Duration of plan executions by mode",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	outputPages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "output_pages_total",
			Help:      "Pages written into output documents",
		},
	)

	previewBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "preview_builds_total",
			Help:      "Preview builds issued by a session, by result",
		},
		[]string{"result"},
	)

	previewCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "preview_triggers_coalesced_total",
			Help:      "Preview triggers absorbed by the debounce window",
		},
	)

	commitJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitmerge",
			Name:      "commit_jobs_total",
			Help:      "Commit jobs handled by the worker, by result (success, dlq)",
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "splitmerge",
			Name:      "queue_depth",
			Help:      "Commit queue depth for stream and dlq",
		},
		[]string{"type"},
	)

	once sync.Once
)

// Init registers collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(executions, executionLatency, outputPages, previewBuilds, previewCoalesced, commitJobs, queueDepth)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveExecution(preview bool, result string, dur time.Duration) {
	mode := "commit"
	if preview {
		mode = "preview"
	}
	executions.WithLabelValues(mode, result).Inc()
	executionLatency.WithLabelValues(mode).Observe(dur.Seconds())
}

func AddOutputPages(n int)              { outputPages.Add(float64(n)) }
func IncPreviewBuild(result string)     { previewBuilds.WithLabelValues(result).Inc() }
func IncPreviewCoalesced()              { previewCoalesced.Inc() }
func IncCommitJob(result string)        { commitJobs.WithLabelValues(result).Inc() }
func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
