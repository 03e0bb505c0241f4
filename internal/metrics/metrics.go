// Package metrics holds the Prometheus collectors exposed on /metrics
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwoot_relay",
		Name:      "webhooks_received_total",
		Help:      "Chatwoot webhook calls by handling outcome.",
	}, []string{"outcome"})

	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwoot_relay",
		Name:      "messages_sent_total",
		Help:      "Outgoing bot messages relayed to Chatwoot by message type and result.",
	}, []string{"type", "result"})

	actionsInvoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatwoot_relay",
		Name:      "actions_invoked_total",
		Help:      "Handoff and contact actions by name and result.",
	}, []string{"action", "result"})

	chatwootRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatwoot_relay",
		Name:      "chatwoot_request_duration_seconds",
		Help:      "Latency of Chatwoot REST calls by method and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})

	webhookLogsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatwoot_relay",
		Name:      "webhook_logs_purged_total",
		Help:      "Webhook audit rows deleted by the watchdog.",
	})
)

// RecordWebhook counts one webhook call by outcome label
func RecordWebhook(outcome string) {
	webhooksReceived.WithLabelValues(outcome).Inc()
}

func RecordMessageSent(msgType string, err error) {
	messagesSent.WithLabelValues(msgType, result(err)).Inc()
}

func RecordAction(action string, err error) {
	actionsInvoked.WithLabelValues(action, result(err)).Inc()
}

// ObserveChatwootRequest records a REST call; status 0 means the request never got a response
func ObserveChatwootRequest(method string, status int, started time.Time) {
	chatwootRequests.WithLabelValues(method, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}

func RecordPurge(count int64) {
	if count > 0 {
		webhookLogsPurged.Add(float64(count))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
