package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records aggregation and snapshot activity.
type PipelineMetrics struct {
	aggregation *prometheus.HistogramVec
	fallback    *prometheus.CounterVec
	cacheHit    *prometheus.CounterVec
	cacheMiss   *prometheus.CounterVec
	extracted   *prometheus.GaugeVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	aggregation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engagement_aggregation_duration_seconds",
		Help:    "Duration of metric aggregations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"family"})
	fallback := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_arr_window_fallback_total",
		Help: "Aggregations where the complete half-year window was empty.",
	}, []string{"family"})
	cacheHit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_snapshot_cache_hit_total",
		Help: "Dataset snapshot loads served from cache.",
	}, []string{"dataset", "tier"})
	cacheMiss := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_snapshot_cache_miss_total",
		Help: "Dataset snapshot loads that hit the warehouse.",
	}, []string{"dataset"})
	extracted := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engagement_extracted_rows",
		Help: "Rows in the most recent warehouse extraction.",
	}, []string{"dataset"})
	reg.MustRegister(aggregation, fallback, cacheHit, cacheMiss, extracted)
	return &PipelineMetrics{
		aggregation: aggregation,
		fallback:    fallback,
		cacheHit:    cacheHit,
		cacheMiss:   cacheMiss,
		extracted:   extracted,
	}
}

// ObserveAggregation records how long one metric family took to aggregate.
func (p *PipelineMetrics) ObserveAggregation(family string, duration time.Duration) {
	if p == nil || p.aggregation == nil {
		return
	}
	p.aggregation.WithLabelValues(normalizeLabel(family)).Observe(duration.Seconds())
}

// IncWindowFallback counts an ARR aggregation that fell back to the full range.
func (p *PipelineMetrics) IncWindowFallback(family string) {
	if p == nil || p.fallback == nil {
		return
	}
	p.fallback.WithLabelValues(normalizeLabel(family)).Inc()
}

// IncCacheHit counts a snapshot served from the memory or redis tier.
func (p *PipelineMetrics) IncCacheHit(dataset, tier string) {
	if p == nil || p.cacheHit == nil {
		return
	}
	p.cacheHit.WithLabelValues(normalizeLabel(dataset), normalizeLabel(tier)).Inc()
}

// IncCacheMiss counts a snapshot that had to be extracted.
func (p *PipelineMetrics) IncCacheMiss(dataset string) {
	if p == nil || p.cacheMiss == nil {
		return
	}
	p.cacheMiss.WithLabelValues(normalizeLabel(dataset)).Inc()
}

// SetExtractedRows records the row count of the latest extraction.
func (p *PipelineMetrics) SetExtractedRows(dataset string, rows int) {
	if p == nil || p.extracted == nil {
		return
	}
	p.extracted.WithLabelValues(normalizeLabel(dataset)).Set(float64(rows))
}
