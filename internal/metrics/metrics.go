package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	disconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_disconnects_total",
			Help: "Total number of connection-closed events across all accounts.",
		},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_reconnects_total",
			Help: "Total number of reconnect attempts.",
		},
	)
	failoverSwaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_failover_swaps_total",
			Help: "Total number of backup-connection promotions.",
		},
	)
	messageLoss = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_message_loss_total",
			Help: "Messages dropped after exhausted retries or buffer overflow.",
		},
	)
	rateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_rate_limit_hits_total",
			Help: "Provider-side rate limit detections.",
		},
	)
	messagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_messages_processed_total",
			Help: "Inbound messages accepted into the persistence pipeline.",
		},
	)
	messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_messages_sent_total",
			Help: "Outbound messages accepted by the provider.",
		},
	)
	messagesQueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_messages_queued_total",
			Help: "Outbound messages deferred to the durable queue.",
		},
	)
	circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"to"},
	)
	incidents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_incidents_total",
			Help: "Terminal per-account incidents by kind.",
		},
		[]string{"kind"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		disconnects,
		reconnects,
		failoverSwaps,
		messageLoss,
		rateLimitHits,
		messagesProcessed,
		messagesSent,
		messagesQueued,
		circuitTransitions,
		incidents,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

func IncDisconnects()       { disconnects.Inc() }
func IncReconnects()        { reconnects.Inc() }
func IncFailoverSwaps()     { failoverSwaps.Inc() }
func IncMessageLoss()       { messageLoss.Inc() }
func IncRateLimitHits()     { rateLimitHits.Inc() }
func IncMessagesProcessed() { messagesProcessed.Inc() }
func IncMessagesSent()      { messagesSent.Inc() }
func IncMessagesQueued()    { messagesQueued.Inc() }

func IncCircuitTransition(to string) { circuitTransitions.WithLabelValues(to).Inc() }
func IncIncident(kind string)        { incidents.WithLabelValues(kind).Inc() }
