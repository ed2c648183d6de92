package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	gaugesOnce   sync.Once

	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "Inbound WebSocket messages by type.",
		},
		[]string{"type"},
	)
	errorReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "ws",
			Name:      "errors_total",
			Help:      "Error replies sent to clients by kind.",
		},
		[]string{"kind"},
	)
	evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "ws",
			Name:      "evictions_total",
			Help:      "Connections evicted by the relay.",
		},
		[]string{"reason"},
	)
	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "artifact",
			Name:      "uploads_total",
			Help:      "Artifact uploads by result.",
		},
		[]string{"result"},
	)
	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "artifact",
			Name:      "upload_bytes",
			Help:      "Size of accepted artifact uploads.",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 8),
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(messages, errorReplies, evictions, uploads, uploadBytes, httpRequests, httpDuration)
	})
}

// RegisterGauges exposes live session and connection counts. Only the
// first call in a process takes effect.
func RegisterGauges(sessions, connections func() int) {
	gaugesOnce.Do(func() {
		prometheus.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "relay",
				Name:      "sessions",
				Help:      "Live sessions.",
			}, func() float64 { return float64(sessions()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "relay",
				Name:      "connections",
				Help:      "Open client connections.",
			}, func() float64 { return float64(connections()) }),
		)
	})
}

func RecordMessage(msgType string) {
	RegisterMetrics()
	messages.WithLabelValues(msgType).Inc()
}

func RecordError(kind string) {
	RegisterMetrics()
	errorReplies.WithLabelValues(kind).Inc()
}

func RecordEviction(reason string) {
	RegisterMetrics()
	evictions.WithLabelValues(reason).Inc()
}

func RecordUpload(ok bool, size int) {
	RegisterMetrics()
	if !ok {
		uploads.WithLabelValues("rejected").Inc()
		return
	}
	uploads.WithLabelValues("accepted").Inc()
	uploadBytes.Observe(float64(size))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
