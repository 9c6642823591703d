package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	SourcesSeen     prometheus.Counter
	SourcesIngested prometheus.Counter
	SourcesFiltered prometheus.Counter
	SourcesFailed   prometheus.Counter
	SourcesSkipped  *prometheus.CounterVec // labels: reason={too_old,outside_bounds,already_ingested,retries_exhausted}
	RunActive       prometheus.Gauge

	RunDuration    prometheus.Histogram
	SourceDuration prometheus.Histogram

	// Text-understanding service metrics.
	AIRequests    *prometheus.CounterVec   // labels: stage={split,categorize,extract}, outcome={success,error,invalid}
	AIDuration    *prometheus.HistogramVec // labels: stage
	SplitFanout   prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec   // labels: provider={address,street,cadastre}, outcome={success,error,empty}
	GeocodeCache    *prometheus.CounterVec   // labels: provider, result={hit,miss}
	GeocodeDuration *prometheus.HistogramVec // labels: provider

	SlugCollisions prometheus.Counter
	KafkaPublished prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.SourcesSeen,
		m.SourcesIngested,
		m.SourcesFiltered,
		m.SourcesFailed,
		m.SourcesSkipped,
		m.RunActive,
		m.RunDuration,
		m.SourceDuration,
		m.AIRequests,
		m.AIDuration,
		m.SplitFanout,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeDuration,
		m.SlugCollisions,
		m.KafkaPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SourcesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "sources_seen_total",
			Help:      "Total source documents considered by ingest runs.",
		}),
		SourcesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "sources_ingested_total",
			Help:      "Total source documents fully ingested and finalized.",
		}),
		SourcesFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "sources_filtered_total",
			Help:      "Total source documents whose splits were all irrelevant.",
		}),
		SourcesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "sources_failed_total",
			Help:      "Total source documents that failed this run and consumed a retry.",
		}),
		SourcesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "sources_skipped_total",
			Help:      "Source documents skipped before processing, by reason.",
		}, []string{"reason"}),
		RunActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "disruption_ingest",
			Name:      "run_active",
			Help:      "1 while an ingest run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disruption_ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete ingest run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		SourceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disruption_ingest",
			Name:      "source_duration_seconds",
			Help:      "End-to-end processing duration per source document.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "ai_requests_total",
			Help:      "Text-understanding service requests by stage and outcome.",
		}, []string{"stage", "outcome"}),
		AIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "disruption_ingest",
			Name:      "ai_request_duration_seconds",
			Help:      "Text-understanding service request duration by stage.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"stage"}),
		SplitFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disruption_ingest",
			Name:      "split_fanout",
			Help:      "Number of discrete messages produced per source by the split stage.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 12},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "geocode_requests_total",
			Help:      "Geocoding requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by provider and result.",
		}, []string{"provider", "result"}),
		GeocodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "disruption_ingest",
			Name:      "geocode_duration_seconds",
			Help:      "Geocoding provider request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		SlugCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "slug_collisions_total",
			Help:      "Slug candidates discarded because they already existed.",
		}),
		KafkaPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disruption_ingest",
			Name:      "kafka_published_total",
			Help:      "Finalized messages published to the sink topic.",
		}),
	}
}
