package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_published_total",
			Help: "Total domain events published, by event type.",
		},
		[]string{"event_type"},
	)
	eventsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_handled_total",
			Help: "Total domain event handler invocations that succeeded.",
		},
		[]string{"event_type"},
	)
	eventHandlerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_event_handler_retries_total",
			Help: "Total retries of failing event handlers.",
		},
		[]string{"event_type"},
	)
	eventsDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_dead_lettered_total",
			Help: "Total envelopes dropped after handler retries were exhausted.",
		},
		[]string{"event_type"},
	)
	registryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_registry_calls_total",
			Help: "Total synchronous service registry calls, by target module and outcome.",
		},
		[]string{"module", "outcome"},
	)
	jobOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutting_job_operations_total",
			Help: "Cutting job lifecycle operations, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	outboxDispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_dispatch_failures_total",
			Help: "Total outbox relay dispatch failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Pending tasks in an asynq queue.",
		},
		[]string{"queue"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB telemetry write failures.",
		},
	)
	optimizerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "optimizer_request_failures_total",
			Help: "Total optimizer service request failures.",
		},
	)
	optimizerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "optimizer_request_latency_seconds",
			Help:    "Optimizer service request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		eventsPublished, eventsHandled, eventHandlerRetries, eventsDeadLettered,
		registryCalls, jobOperations,
		kafkaConsumerLag, outboxDispatchFailures, asynqQueueDepth,
		influxWriteFailures, optimizerFailures, optimizerLatency,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

func IncEventHandled(eventType string) {
	eventsHandled.WithLabelValues(eventType).Inc()
}

func IncEventHandlerRetry(eventType string) {
	eventHandlerRetries.WithLabelValues(eventType).Inc()
}

func IncEventDeadLettered(eventType string) {
	eventsDeadLettered.WithLabelValues(eventType).Inc()
}

func IncRegistryCall(module string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	registryCalls.WithLabelValues(module, outcome).Inc()
}

func IncJobOperation(operation string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	jobOperations.WithLabelValues(operation, outcome).Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncOutboxDispatchFailure() {
	outboxDispatchFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncOptimizerFailure() {
	optimizerFailures.Inc()
}

func ObserveOptimizerLatency(d time.Duration) {
	optimizerLatency.Observe(d.Seconds())
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
