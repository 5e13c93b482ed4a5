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

// Metrics holds Prometheus metrics for idled
type Metrics struct {
	// API metrics
	APIRequestsTotal     *prometheus.CounterVec
	APIRequestDuration   *prometheus.HistogramVec
	APIErrorsTotal       *prometheus.CounterVec
	APIActiveConnections prometheus.Gauge

	// Registry metrics
	TransitionsTotal     *prometheus.CounterVec
	SubscriptionsCreated prometheus.Counter
	SubscriptionsDeleted *prometheus.CounterVec
	Subscriptions        *prometheus.GaugeVec
	FireLateness         prometheus.Histogram

	// Tracker metrics
	ActivityEventsTotal *prometheus.CounterVec
	CommandsTotal       *prometheus.CounterVec
	CommandDuration     prometheus.Histogram
	SchedulerDepth      prometheus.Gauge
	Seats               prometheus.Gauge

	// Inhibitor metrics
	InhibitorsActive   prometheus.Gauge
	InhibitorsAcquired prometheus.Counter
	InhibitorsReleased prometheus.Counter

	// Notifier metrics
	SessionsActive      prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
	DispatcherQueueSize prometheus.Gauge

	// Journal metrics
	JournalOperations   *prometheus.CounterVec
	JournalBatchSize    prometheus.Histogram
	JournalSyncDuration prometheus.Histogram
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
			Name: "idled_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idled_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "path"},
	)

	m.APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idled_api_errors_total",
			Help: "Total number of API errors",
		},
		[]string{"method", "path", "error_type"},
	)

	m.APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idled_api_active_connections",
			Help: "Number of in-flight API requests",
		},
	)

	// Registry metrics
	m.TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idled_transitions_total",
			Help: "Total number of subscription state transitions",
		},
		[]string{"kind"}, // idled, resumed
	)

	m.SubscriptionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idled_subscriptions_created_total",
			Help: "Total number of idle notifications created",
		},
	)

	m.SubscriptionsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idled_subscriptions_destroyed_total",
			Help: "Total number of idle notifications destroyed",
		},
		[]string{"reason"}, // request, session_end, seat_removed
	)

	m.Subscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "idled_subscriptions",
			Help: "Current number of idle notifications by state",
		},
		[]string{"state"},
	)

	m.FireLateness = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idled_fire_lateness_seconds",
			Help:    "Delay between a deadline and the moment it was evaluated",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // from 0.1ms to ~0.8s
		},
	)

	// Tracker metrics
	m.ActivityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idled_activity_events_total",
			Help: "Total number of activity events received",
		},
		[]string{"result"}, // accepted, unknown_seat
	)

	m.CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idled_tracker_commands_total",
			Help: "Total number of commands processed by the tracker loop",
		},
		[]string{"command"},
	)

	m.CommandDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idled_tracker_command_duration_seconds",
			Help:    "Duration of command processing in the tracker loop in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // from 10us to ~20ms
		},
	)

	m.SchedulerDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idled_scheduler_depth",
			Help: "Number of pending deadlines",
		},
	)

	m.Seats = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idled_seats",
			Help: "Number of known seats",
		},
	)

	// Inhibitor metrics
	m.InhibitorsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idled_inhibitors_active",
			Help: "Number of currently held idle inhibitors",
		},
	)

	m.InhibitorsAcquired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idled_inhibitors_acquired_total",
			Help: "Total number of idle inhibitors acquired",
		},
	)

	m.InhibitorsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idled_inhibitors_released_total",
			Help: "Total number of idle inhibitors released",
		},
	)

	// Notifier metrics
	m.SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idled_sessions_active",
			Help: "Number of connected protocol sessions",
		},
	)

	m.EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idled_events_published_total",
			Help: "Total number of events written to clients",
		},
		[]string{"kind"},
	)

	m.DispatcherQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "idled_dispatcher_queue_size",
			Help: "Number of events queued for delivery across all sessions",
		},
	)

	// Journal metrics
	m.JournalOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idled_journal_operations_total",
			Help: "Total number of journal operations",
		},
		[]string{"operation", "success"},
	)

	m.JournalBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idled_journal_batch_size",
			Help:    "Number of transitions written per journal batch",
			Buckets: prometheus.LinearBuckets(1, 8, 8), // from 1 to 57 in steps of 8
		},
	)

	m.JournalSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idled_journal_sync_duration_seconds",
			Help:    "Duration of journal batch writes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10), // from 0.1ms to ~51ms
		},
	)

	return m
}
