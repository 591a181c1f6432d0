// Package metrics provides Prometheus instrumentation for the detector.
//
// Metrics exposed:
//   - framewatch_predict_seconds: Histogram of inference duration
//   - framewatch_score_seconds: Histogram of similarity scoring duration
//   - framewatch_sync_seconds: Histogram of weight sync duration
//   - framewatch_train_seconds: Histogram of training step duration
//   - framewatch_last_score: Gauge of the most recent similarity score
//   - framewatch_graph_nodes: Gauge of anomaly nodes in the knowledge graph
//   - framewatch_weight_staleness_frames: Gauge of frames since the last sync
//   - framewatch_detector_running: Gauge, 1 while the detector is running
//   - framewatch_frames_ingested_total / framewatch_frames_processed_total
//   - framewatch_frames_overflowed_total: Frames dropped because the score queue was full
//   - framewatch_anomalies_total / framewatch_syncs_total
//   - framewatch_errors_total: Counter of errors by component and reason
//
// All metrics carry the detector label.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one detector.
type Metrics struct {
	PredictSeconds prometheus.Histogram
	ScoreSeconds   prometheus.Histogram
	SyncSeconds    prometheus.Histogram
	TrainSeconds   prometheus.Histogram

	LastScore  prometheus.Gauge
	GraphNodes prometheus.Gauge
	Staleness  prometheus.Gauge
	Running    prometheus.Gauge

	FramesIngested   prometheus.Counter
	FramesProcessed  prometheus.Counter
	FramesOverflowed prometheus.Counter
	AnomaliesTotal   prometheus.Counter
	SyncsTotal       prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer, detector string) *Metrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"detector": detector}

	// Inference on a 256x256 window takes tens of milliseconds.
	durationBuckets := []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

	return &Metrics{
		PredictSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "framewatch_predict_seconds",
			Help:        "Time spent predicting future frames",
			ConstLabels: labels,
			Buckets:     durationBuckets,
		}),
		ScoreSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "framewatch_score_seconds",
			Help:        "Time spent computing the similarity score",
			ConstLabels: labels,
			Buckets:     durationBuckets,
		}),
		SyncSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "framewatch_sync_seconds",
			Help:        "Time spent copying training weights into the inference model",
			ConstLabels: labels,
			Buckets:     durationBuckets,
		}),
		TrainSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "framewatch_train_seconds",
			Help:        "Time spent in one training step",
			ConstLabels: labels,
			Buckets:     durationBuckets,
		}),

		LastScore: f.NewGauge(prometheus.GaugeOpts{
			Name:        "framewatch_last_score",
			Help:        "Most recent similarity score",
			ConstLabels: labels,
		}),
		GraphNodes: f.NewGauge(prometheus.GaugeOpts{
			Name:        "framewatch_graph_nodes",
			Help:        "Number of anomaly nodes in the knowledge graph",
			ConstLabels: labels,
		}),
		Staleness: f.NewGauge(prometheus.GaugeOpts{
			Name:        "framewatch_weight_staleness_frames",
			Help:        "Frames processed since the inference weights were last synced",
			ConstLabels: labels,
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name:        "framewatch_detector_running",
			Help:        "1 while the detector is running, 0 otherwise",
			ConstLabels: labels,
		}),

		FramesIngested: f.NewCounter(prometheus.CounterOpts{
			Name:        "framewatch_frames_ingested_total",
			Help:        "Frames pushed into the window",
			ConstLabels: labels,
		}),
		FramesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name:        "framewatch_frames_processed_total",
			Help:        "Frames that completed a detection step",
			ConstLabels: labels,
		}),
		FramesOverflowed: f.NewCounter(prometheus.CounterOpts{
			Name:        "framewatch_frames_overflowed_total",
			Help:        "Frames pushed into the window but not scored because the score queue was full",
			ConstLabels: labels,
		}),
		AnomaliesTotal: f.NewCounter(prometheus.CounterOpts{
			Name:        "framewatch_anomalies_total",
			Help:        "Frames scored below the anomaly threshold",
			ConstLabels: labels,
		}),
		SyncsTotal: f.NewCounter(prometheus.CounterOpts{
			Name:        "framewatch_syncs_total",
			Help:        "Successful weight syncs",
			ConstLabels: labels,
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "framewatch_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// RecordPredict records the time spent predicting.
func (m *Metrics) RecordPredict(seconds float64) {
	m.PredictSeconds.Observe(seconds)
}

// RecordScore records the time spent scoring and the resulting score.
func (m *Metrics) RecordScore(seconds, score float64) {
	m.ScoreSeconds.Observe(seconds)
	m.LastScore.Set(score)
	m.FramesProcessed.Inc()
}

// RecordSync records a successful weight sync.
func (m *Metrics) RecordSync(seconds float64) {
	m.SyncSeconds.Observe(seconds)
	m.SyncsTotal.Inc()
}

// RecordTrain records the time spent in a training step.
func (m *Metrics) RecordTrain(seconds float64) {
	m.TrainSeconds.Observe(seconds)
}

// RecordAnomaly counts an anomaly and sets the graph size.
func (m *Metrics) RecordAnomaly(graphNodes int) {
	m.AnomaliesTotal.Inc()
	m.GraphNodes.Set(float64(graphNodes))
}

// SetStaleness sets the inference weight staleness in frames.
func (m *Metrics) SetStaleness(frames int) {
	m.Staleness.Set(float64(frames))
}

// SetRunning sets the running gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
