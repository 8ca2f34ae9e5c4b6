package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Cache
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_cache_requests_total",
		Help: "The total number of cacheable reads by result",
	}, []string{"result"})

	CacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_cache_invalidations_total",
		Help: "The total number of cache entries dropped after writes",
	}, []string{"operation"})

	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stagehand_cache_entries",
		Help: "The current number of cached query results",
	})

	// Dispatch
	Claims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_claims_total",
		Help: "The total number of claim requests by stage and result",
	}, []string{"stage", "result"})

	Marks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_marks_total",
		Help: "The total number of mark requests by stage, outcome and result",
	}, []string{"stage", "outcome", "result"})

	OperationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stagehand_operation_duration_seconds",
		Help:    "The latency of dispatch operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Transports
	MQRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_mq_requests_total",
		Help: "The total number of message queue requests by type and reply status",
	}, []string{"type", "status"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagehand_http_requests_total",
		Help: "The total number of HTTP requests by route and status code",
	}, []string{"route", "code"})

	// Retention
	SweptDocuments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stagehand_swept_documents_total",
		Help: "The total number of archived documents removed by the retention sweeper",
	})
)

func init() {
	prometheus.MustRegister(CacheRequests)
	prometheus.MustRegister(CacheInvalidations)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(Claims)
	prometheus.MustRegister(Marks)
	prometheus.MustRegister(OperationLatency)
	prometheus.MustRegister(MQRequests)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(SweptDocuments)
}
