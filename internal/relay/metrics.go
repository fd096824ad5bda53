package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_relayed_messages_total",
		Help: "Messages mirrored across the relay, by direction.",
	}, []string{"direction"})

	selfHeals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_thread_self_heals_total",
		Help: "Stale thread mappings deleted and reprovisioned.",
	})

	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_dropped_messages_total",
		Help: "Messages the platform refused to copy, dropped by design.",
	})
)
