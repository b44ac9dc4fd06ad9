package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediabot"

// Pipeline holds the collectors the worker and API expose.
type Pipeline struct {
	JobsStarted   prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    *prometheus.CounterVec
	JobsActive    prometheus.Gauge
	StageDuration *prometheus.HistogramVec
	DownloadBytes prometheus.Counter
	QueueDepth    prometheus.Gauge
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "jobs_started_total",
			Help:      "Jobs picked up by the pipeline driver.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "jobs_completed_total",
			Help:      "Jobs that reached DONE.",
		}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "jobs_failed_total",
			Help:      "Jobs that reached FAILED, by error code.",
		}, []string{"code"}),
		JobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "jobs_active",
			Help:      "Jobs currently being driven.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"stage"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes fetched by completed downloads.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs waiting in the submission queue.",
		}),
	}
}

// Register registers all collectors with reg.
func (p *Pipeline) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		p.JobsStarted, p.JobsCompleted, p.JobsFailed, p.JobsActive,
		p.StageDuration, p.DownloadBytes, p.QueueDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
