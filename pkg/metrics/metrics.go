package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ClientsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftb_clients_connected",
			Help: "Number of connected clients",
		},
	)

	ClientsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ftb_clients_evicted_total",
			Help: "Total number of clients disconnected for inactivity",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftb_subscriptions_active",
			Help: "Number of active subscriptions",
		},
	)

	DeclarationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftb_declarations",
			Help: "Number of publishable event declarations across event spaces",
		},
	)

	EventSpacesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftb_event_spaces",
			Help: "Number of event spaces holding declarations",
		},
	)

	// Pipeline metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftb_events_published_total",
			Help: "Total number of published events by event type",
		},
		[]string{"event_type"},
	)

	PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftb_publish_errors_total",
			Help: "Total number of rejected publish calls by error kind",
		},
		[]string{"kind"},
	)

	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ftb_publish_duration_seconds",
			Help:    "Time taken to validate, sequence and fan out one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	FanoutSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ftb_publish_fanout_subscribers",
			Help:    "Number of subscriptions matched by one published event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// Delivery metrics
	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftb_events_delivered_total",
			Help: "Total number of events handed to subscribers by style",
		},
		[]string{"style"},
	)

	QueueOverflows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ftb_queue_overflows_total",
			Help: "Total number of events dropped on full delivery queues",
		},
	)

	CallbackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ftb_callback_failures_total",
			Help: "Total number of failed or skipped subscriber callbacks",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftb_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftb_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	APIStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftb_api_streams_active",
			Help: "Number of open event streams",
		},
	)

	// Watchdog metrics
	WatchdogCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftb_watchdog_cycles_total",
			Help: "Total number of watchdog publish/poll cycles by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ClientsConnected)
	prometheus.MustRegister(ClientsEvicted)
	prometheus.MustRegister(SubscriptionsActive)
	prometheus.MustRegister(DeclarationsTotal)
	prometheus.MustRegister(EventSpacesTotal)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PublishErrors)
	prometheus.MustRegister(PublishDuration)
	prometheus.MustRegister(FanoutSize)
	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(QueueOverflows)
	prometheus.MustRegister(CallbackFailures)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(APIStreamsActive)
	prometheus.MustRegister(WatchdogCycles)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
