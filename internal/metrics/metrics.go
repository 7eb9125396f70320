package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DiscoveryRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_discovery_requests_total",
		Help: "Total number of nearby discovery calls",
	})
	DiscoveryFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_discovery_failures_total",
		Help: "Total number of discovery calls failed by an interval query",
	})
	DiscoveryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spotapi_discovery_duration_ms",
		Help:    "Discovery call duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	IntervalQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_interval_queries_total",
		Help: "Total geohash range queries issued to the document store",
	})
	DiscoveryResultSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spotapi_discovery_result_size",
		Help:    "Number of live unique spots returned per discovery call",
		Buckets: []float64{0, 1, 5, 10, 20, 30, 60, 120, 270},
	})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_cache_hits_total",
		Help: "Total local cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_cache_misses_total",
		Help: "Total local cache misses (absent or expired)",
	})
	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_cache_evictions_total",
		Help: "Total local cache entries evicted",
	})
	CacheIOErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_cache_io_errors_total",
		Help: "Total local cache storage failures degraded to a miss",
	})
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_reports_total",
		Help: "Total status reports accepted",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotapi_rate_limited_total",
		Help: "Total requests rejected by the token bucket",
	})
	AbuseReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotapi_abuse_reports_total",
		Help: "Total abuse reports by reason",
	}, []string{"reason"})
	AbuseRemovalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotapi_abuse_removals_total",
		Help: "Total spots hidden by the abuse threshold, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(DiscoveryRequestsTotal)
	prometheus.MustRegister(DiscoveryFailuresTotal)
	prometheus.MustRegister(DiscoveryDurationMs)
	prometheus.MustRegister(IntervalQueriesTotal)
	prometheus.MustRegister(DiscoveryResultSize)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CacheIOErrorsTotal)
	prometheus.MustRegister(ReportsTotal)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(AbuseReportsTotal)
	prometheus.MustRegister(AbuseRemovalsTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
