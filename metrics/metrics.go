package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PapersDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arxiv_papers_discovered_total",
			Help: "Total number of paper records returned by arXiv discovery.",
		},
	)
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_resolutions_total",
			Help: "Repository resolution attempts by outcome.",
		},
		[]string{"outcome"},
	)
	StarPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "star_polls_total",
			Help: "GitHub star polls by result.",
		},
		[]string{"result"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Duration of complete pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
	)
	LastRunSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_last_run_success_timestamp_seconds",
			Help: "Unix timestamp of the last pipeline run that finished without error.",
		},
	)
)

func init() {
	prometheus.MustRegister(PapersDiscovered, Resolutions, StarPolls, RunDuration, LastRunSuccess)
}
