package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceivedTotal counts every message handed to the bridge, labelled by topic.
	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpuploader_messages_received_total",
		Help: "Total number of messages received on subscribed topics",
	}, []string{"topic"})

	// DecodeErrorsTotal counts undecodable payloads by payload.Reason* value.
	DecodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpuploader_decode_errors_total",
		Help: "Total number of messages dropped because the payload was not valid UTF-8 JSON",
	}, []string{"reason"})

	// DeliveriesTotal counts webhook POSTs. outcome is delivered or failed;
	// status_class is 2xx..5xx, or none when no response arrived.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpuploader_deliveries_total",
		Help: "Total number of webhook delivery attempts by outcome and HTTP status class",
	}, []string{"outcome", "status_class"})

	// DeliveryDuration observes the wall time of each POST, failures included.
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "httpuploader_delivery_duration_seconds",
		Help:    "Duration of webhook delivery attempts",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// DeliveryDroppedTotal counts messages the delivery pool refused.
	DeliveryDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "httpuploader_delivery_dropped_total",
		Help: "Total number of decoded messages dropped because the delivery queue was full",
	})

	// StatusPublishedTotal counts registration and heartbeat publishes by kind and result.
	StatusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "httpuploader_status_published_total",
		Help: "Total number of registration and heartbeat messages published to the broker by result",
	}, []string{"kind", "result"})
)

// ObserveDelivery records a finished delivery attempt. A statusCode of 0
// means the request never produced a response.
func ObserveDelivery(statusCode int, seconds float64, delivered bool) {
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	DeliveriesTotal.WithLabelValues(outcome, StatusClass(statusCode)).Inc()
	DeliveryDuration.Observe(seconds)
}

// StatusClass maps an HTTP status to "2xx", "5xx" etc, or "none" for transport failures.
func StatusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "none"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}

// IncDecodeError records a dropped undecodable message.
func IncDecodeError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	DecodeErrorsTotal.WithLabelValues(reason).Inc()
}

// IncStatusPublished records a registration or heartbeat publish attempt.
func IncStatusPublished(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StatusPublishedTotal.WithLabelValues(kind, result).Inc()
}
