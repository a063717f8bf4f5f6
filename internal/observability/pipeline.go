package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the file-to-visit pipeline.
type PipelineMetrics struct {
	filesProcessedTotal    *prometheus.CounterVec
	fileProcessingDuration prometheus.Histogram
	visitsCreatedTotal     prometheus.Counter
	detectionsCreatedTotal prometheus.Counter
	claimConflictsTotal    prometheus.Counter

	duplicateChecksTotal          *prometheus.CounterVec
	duplicateRecommendationsTotal *prometheus.CounterVec

	annotationsTotal *prometheus.CounterVec

	syncEventsTotal *prometheus.CounterVec
	cursorAge       prometheus.Gauge

	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.filesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_files_processed_total",
			Help: "Total number of files that reached a terminal state",
		},
		[]string{"status"}, // success, failed, ignored
	)

	m.fileProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_file_processing_duration_seconds",
			Help:    "Time taken to process one file end to end",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5min
		},
	)

	m.visitsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_visits_created_total",
		Help: "Total number of visits assembled",
	})

	m.detectionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_detections_created_total",
		Help: "Total number of detections committed",
	})

	m.claimConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_claim_conflicts_total",
		Help: "Total number of file claims lost to another worker",
	})

	m.duplicateChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_duplicate_checks_total",
			Help: "Total number of duplicate checks performed",
		},
		[]string{"outcome"}, // none, below_threshold, recommended
	)

	m.duplicateRecommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_duplicate_recommendations_total",
			Help: "Total number of merge recommendations surfaced",
		},
		[]string{"ambiguous"},
	)

	m.annotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_annotations_total",
			Help: "Total number of annotation writes by source",
		},
		[]string{"source"}, // machine, human_confirmed, human_corrected, no_face
	)

	m.syncEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_sync_events_total",
			Help: "Total number of upstream events handled per poll result",
		},
		[]string{"result"}, // ingested, replayed, download_failed
	)

	m.cursorAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_sync_cursor_age_seconds",
		Help: "Age of the sync cursor relative to the last completed poll",
	})

	m.collectors = []prometheus.Collector{
		m.filesProcessedTotal,
		m.fileProcessingDuration,
		m.visitsCreatedTotal,
		m.detectionsCreatedTotal,
		m.claimConflictsTotal,
		m.duplicateChecksTotal,
		m.duplicateRecommendationsTotal,
		m.annotationsTotal,
		m.syncEventsTotal,
		m.cursorAge,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

func (m *PipelineMetrics) RecordFileProcessed(status string, duration time.Duration) {
	m.filesProcessedTotal.WithLabelValues(status).Inc()
	m.fileProcessingDuration.Observe(duration.Seconds())
}

func (m *PipelineMetrics) RecordVisits(visits, detections int) {
	m.visitsCreatedTotal.Add(float64(visits))
	m.detectionsCreatedTotal.Add(float64(detections))
}

func (m *PipelineMetrics) RecordClaimConflict() {
	m.claimConflictsTotal.Inc()
}

func (m *PipelineMetrics) RecordDuplicateCheck(outcome string) {
	m.duplicateChecksTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) RecordDuplicateRecommendation(ambiguous bool) {
	label := "false"
	if ambiguous {
		label = "true"
	}
	m.duplicateRecommendationsTotal.WithLabelValues(label).Inc()
}

func (m *PipelineMetrics) RecordAnnotation(source string) {
	m.annotationsTotal.WithLabelValues(source).Inc()
}

func (m *PipelineMetrics) RecordSyncEvent(result string) {
	m.syncEventsTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) SetCursorAge(age time.Duration) {
	m.cursorAge.Set(age.Seconds())
}
