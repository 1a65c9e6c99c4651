package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for the console and platformd
type Metrics struct {
	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Subscription manager metrics
	ChannelsOpen          prometheus.Gauge
	ChannelOpensTotal     prometheus.Counter
	ChannelClosesTotal    prometheus.Counter
	ChannelFailuresTotal  prometheus.Counter
	EventsDispatchedTotal *prometheus.CounterVec
	CallbacksInvokedTotal *prometheus.CounterVec

	// Query cache metrics
	CacheOperations    *prometheus.CounterVec
	CacheFetchDuration *prometheus.HistogramVec

	// Synchronizer metrics
	ViewsMounted     prometheus.Gauge
	SyncAppliedTotal *prometheus.CounterVec
	SyncDroppedTotal *prometheus.CounterVec

	// Event hub metrics (platformd)
	HubSubscribersActive prometheus.Gauge
	HubEventsPublished   *prometheus.CounterVec
	HubEventsDropped     prometheus.Counter
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lighthouse_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "route"},
	)

	// Subscription manager metrics
	m.ChannelsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighthouse_event_channels_open",
			Help: "Number of live event channels",
		},
	)

	m.ChannelOpensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lighthouse_event_channel_opens_total",
			Help: "Total number of event channels created",
		},
	)

	m.ChannelClosesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lighthouse_event_channel_closes_total",
			Help: "Total number of event channels torn down",
		},
	)

	m.ChannelFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lighthouse_event_channel_failures_total",
			Help: "Total number of event channels that failed to connect or dropped",
		},
	)

	m.EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_events_dispatched_total",
			Help: "Total number of events received on channels",
		},
		[]string{"event_type"},
	)

	m.CallbacksInvokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_event_callbacks_invoked_total",
			Help: "Total number of event callback invocations",
		},
		[]string{"event_type"},
	)

	// Query cache metrics
	m.CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_cache_operations_total",
			Help: "Query cache operations by kind and operation",
		},
		[]string{"kind", "operation"},
	)

	m.CacheFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lighthouse_cache_fetch_duration_seconds",
			Help:    "Time spent fetching cache entries from the platform",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind"},
	)

	// Synchronizer metrics
	m.ViewsMounted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighthouse_views_mounted",
			Help: "Number of mounted synchronizer views",
		},
	)

	m.SyncAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_sync_applied_total",
			Help: "Events applied to the query cache by strategy",
		},
		[]string{"strategy"},
	)

	m.SyncDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_sync_dropped_total",
			Help: "Events ignored by the synchronizer by reason",
		},
		[]string{"reason"},
	)

	// Event hub metrics
	m.HubSubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lighthouse_hub_subscribers_active",
			Help: "Number of SSE subscribers connected to the event hub",
		},
	)

	m.HubEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lighthouse_hub_events_published_total",
			Help: "Events published by the event hub",
		},
		[]string{"event_type"},
	)

	m.HubEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lighthouse_hub_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	return m
}
