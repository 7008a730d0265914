// Package metrics exposes prometheus counters for the signaling and media
// paths. Counters are registered with the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sipptt"

var (
	SIPRetransmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "retransmissions_total",
		Help:      "Requests and responses sent again by the transaction layer.",
	}, []string{"method"})

	SIPTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "timeouts_total",
		Help:      "Transactions that expired without a final response or ACK.",
	}, []string{"method"})

	SIPDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sip",
		Name:      "dropped_total",
		Help:      "Inbound signaling datagrams dropped at the boundary.",
	}, []string{"reason"})

	RTPPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rtp",
		Name:      "packets_total",
		Help:      "RTP packets sent and received.",
	}, []string{"direction"})

	RTPDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rtp",
		Name:      "dropped_total",
		Help:      "Inbound RTP packets dropped before the jitter buffer.",
	}, []string{"reason"})

	JitterEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jitter",
		Name:      "events_total",
		Help:      "Jitter buffer late drops, evictions, duplicates and underruns.",
	}, []string{"event"})

	BusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Events discarded because a queue was full.",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(
		SIPRetransmissions,
		SIPTimeouts,
		SIPDropped,
		RTPPackets,
		RTPDropped,
		JitterEvents,
		BusDropped,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
