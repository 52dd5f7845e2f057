package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the controller's Prometheus collectors: three gauges
// read on scrape directly from the registries/pool (no separate
// bookkeeping needed) and two counters driven by Broadcast and the
// per-channel message-received hook.
type metrics struct {
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, c *Controller) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p",
			Name:      "messages_sent_total",
			Help:      "Messages sent across all open channels via Broadcast.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2p",
			Name:      "messages_received_total",
			Help:      "Messages successfully dispatched from any open channel.",
		}),
	}

	openChannels := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "p2p",
		Name:      "open_channels",
		Help:      "Number of channels currently past handshake.",
	}, func() float64 { return float64(c.open.Count()) })

	pendingHandshake := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "p2p",
		Name:      "pending_handshake_channels",
		Help:      "Number of channels currently mid-handshake.",
	}, func() float64 { return float64(c.pendingHandshake.Count()) })

	addressPoolSize := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "p2p",
		Name:      "address_pool_size",
		Help:      "Number of addresses currently held in the pool.",
	}, func() float64 { return float64(c.pool.Count()) })

	reg.MustRegister(m.messagesSent, m.messagesReceived, openChannels, pendingHandshake, addressPoolSize)
	return m
}
