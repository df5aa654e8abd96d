// Package metrics defines prometheus metric types and provides
// convenience methods to add accounting to various parts of the
// simulator.
//
// When defining new operations or metrics, these are helpful values to
// track:
//   - things coming into or out of the fabric: packets sent, dropped,
//     trimmed, marked.
//   - transport recovery activity: retransmissions, timeouts, fast
//     recovery entries.
//   - the distribution of run sizes: events dispatched, queue depth.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketDropTotal counts packets dropped, by queue and reason.
	// Example usage:
	//   metrics.PacketDropTotal.WithLabelValues(q.Nodename(), "overflow").Inc()
	PacketDropTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcsim_packet_drop_total",
			Help: "The total number of packets dropped by queues.",
		}, []string{"queue", "reason"})

	// ECNMarkTotal counts ECN-CE marks applied by queues.
	ECNMarkTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcsim_ecn_mark_total",
			Help: "The total number of packets ECN-marked by queues.",
		}, []string{"queue"})

	// TrimTotal counts data packets trimmed to headers by composite
	// queues.
	TrimTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcsim_trim_total",
			Help: "The total number of packets trimmed to headers.",
		}, []string{"queue"})

	// RetransmitTotal counts TCP retransmissions, by cause.
	//
	// Example usage:
	//   metrics.RetransmitTotal.WithLabelValues("rto").Inc()
	RetransmitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcsim_tcp_retransmit_total",
			Help: "The total number of TCP retransmissions.",
		}, []string{"cause"})

	// FastRecoveryTotal counts fast-recovery entries.
	FastRecoveryTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcsim_tcp_fast_recovery_total",
			Help: "Number of times senders entered fast recovery.",
		},
	)

	// EventTotal counts dispatched scheduler events per run loop.
	EventTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dcsim_event_total",
			Help: "Number of scheduler events dispatched.",
		},
	)

	// QueueDepthHistogram tracks instantaneous queue depth in packets,
	// observed at service completion.
	QueueDepthHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "dcsim_queue_depth_histogram",
			Help: "queue depth distribution (packets)",
			Buckets: []float64{
				0, 1, 2, 3, 4, 5, 6, 8,
				10, 12.5, 16, 20, 25, 32, 40, 50, 63, 79,
				100, 125, 160, 200, 250, 320, 400, 500, 630, 790,
				1000,
			},
		})

	// FlowCompletionHistogram tracks flow completion times in seconds.
	FlowCompletionHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dcsim_flow_completion_histogram",
			Help:    "flow completion time distribution (seconds)",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 24),
		})
)

// init() prints a log message to let the user know that the package has
// been loaded and the metrics registered.  The metrics are
// auto-registered, which means they are registered as soon as this
// package is loaded, and the exact time this occurs (and whether this
// occurs at all in a given context) can be opaque.
func init() {
	log.Println("Prometheus metrics in dcsim.metrics are registered.")
}
