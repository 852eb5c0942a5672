package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalysesTotal counts analysis submissions by provider and outcome.
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "analyses_total",
		Help:      "Total number of video analyses, labeled by provider and result.",
	}, []string{"provider", "result"})

	// AnalysisDurationSeconds is end-to-end time per analysis including
	// upload, inference and parsing.
	AnalysisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end time of one video analysis.",
		// Keep buckets fairly coarse to avoid high-cardinality time series.
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	}, []string{"provider"})

	// ParseFailuresTotal counts model responses that could not be decoded
	// into the report schema.
	ParseFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "parse_failures_total",
		Help:      "Total number of model responses rejected by the response parser.",
	})

	// CapturesTotal counts thumbnail capture attempts by outcome.
	CapturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "captures_total",
		Help:      "Total number of still-frame capture attempts, labeled captured, soft_miss or hard_error.",
	}, []string{"result"})

	// RepairsTotal counts audio repair runs by mode and outcome.
	RepairsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "repairs_total",
		Help:      "Total number of container repair runs, labeled by mode (copy or force) and result.",
	}, []string{"mode", "result"})

	// VideosIngestedTotal counts uploads accepted into the store by outcome.
	VideosIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "videos_ingested_total",
		Help:      "Total number of uploaded videos run through ingest, labeled by result.",
	}, []string{"result"})

	// SessionActive is 1 when the operator session holds a live or
	// historical view.
	SessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "session_active",
		Help:      "Whether the operator session currently holds an analysis view.",
	})

	// BackfillReportsTotal counts saved reports the thumbnail backfill
	// worker has reprocessed.
	BackfillReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "siteguard",
		Subsystem: "analyzer",
		Name:      "backfill_reports_total",
		Help:      "Total number of reports picked up by the thumbnail backfill worker.",
	})
)

// Register registers analyzer metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesTotal,
			AnalysisDurationSeconds,
			ParseFailuresTotal,
			CapturesTotal,
			RepairsTotal,
			VideosIngestedTotal,
			SessionActive,
			BackfillReportsTotal,
		)
	})
}
