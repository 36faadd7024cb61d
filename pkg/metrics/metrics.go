package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 慢查询
	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the tracer threshold",
		},
		[]string{"operation"},
	)

	DBSlowQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12s
		},
		[]string{"operation"},
	)

	// 单次 SMTP 投递延迟（毫秒）
	SendAttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendgate_send_attempt_latency_ms",
			Help:    "Latency of a single provider send attempt in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10), // 50ms to ~25s
		},
		[]string{"provider", "outcome"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_emails_sent_total",
			Help: "Send jobs by terminal outcome",
		},
		[]string{"provider", "outcome"}, // outcome: sent, failed
	)

	ProvisioningCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_provisioning_total",
			Help: "Credential provisioning attempts by outcome",
		},
		[]string{"provider", "outcome"}, // outcome: success, error
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_webhook_events_total",
			Help: "Inbound provider webhook events",
		},
		[]string{"provider", "event", "result"},
	)

	CreditChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_credit_checks_total",
			Help: "Credit gate decisions",
		},
		[]string{"result"}, // result: allowed, denied
	)

	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_jobs_submitted_total",
			Help: "Background jobs submitted to the queue",
		},
		[]string{"kind", "mode"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询，按 SQL 首个关键字聚合
func IncrementSlowQuery(sql string, duration time.Duration) {
	op := "unknown"
	if fields := strings.Fields(sql); len(fields) > 0 {
		op = strings.ToLower(fields[0])
	}
	DBSlowQueryCount.WithLabelValues(op).Inc()
	DBSlowQueryDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordSendAttempt(provider, outcome string, duration time.Duration) {
	SendAttemptLatency.WithLabelValues(provider, outcome).Observe(float64(duration.Milliseconds()))
}

func IncrementEmailsSent(provider, outcome string) {
	EmailsSent.WithLabelValues(provider, outcome).Inc()
}

func IncrementProvisioning(provider, outcome string) {
	ProvisioningCount.WithLabelValues(provider, outcome).Inc()
}

func IncrementWebhookEvent(provider, event, result string) {
	WebhookEvents.WithLabelValues(provider, event, result).Inc()
}

func IncrementCreditCheck(result string) {
	CreditChecks.WithLabelValues(result).Inc()
}

func IncrementJobSubmitted(kind, mode string) {
	JobsSubmitted.WithLabelValues(kind, mode).Inc()
}
