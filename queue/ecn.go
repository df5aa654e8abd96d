package queue

import (
	"fmt"

	"github.com/m-lab/dcsim/metrics"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// ECN is a drop-tail queue that sets ECN-CE on arriving packets once
// its occupancy reaches the marking threshold.
type ECN struct {
	FIFO
	markThreshold int64
	marked        int64
}

// NewECN creates an ECN marking queue.  A zero threshold defaults to
// half the capacity.
func NewECN(bitrate sim.LinkSpeed, maxsize, markThreshold int64, eventlist *sim.EventList, logger Logger) *ECN {
	if markThreshold <= 0 {
		markThreshold = maxsize / 2
	}
	q := &ECN{
		FIFO: FIFO{
			baseQueue: newBaseQueue(bitrate, eventlist, logger),
			maxsize:   maxsize,
			enqueued:  newPktRing(),
		},
		markThreshold: markThreshold,
	}
	q.nodename = fmt.Sprintf("ecnqueue(%dMb/s,%dbytes,mark@%dbytes)", bitrate/sim.Mbps, maxsize, markThreshold)
	q.impl = q
	return q
}

// PacketsMarked returns how many packets received an ECN-CE mark.
func (q *ECN) PacketsMarked() int64 {
	return q.marked
}

// ReceivePacket marks the packet if the queue is over threshold, then
// applies drop-tail admission.
func (q *ECN) ReceivePacket(p *packet.Packet) {
	if q.queuesize >= q.markThreshold {
		p.SetFlags(p.Flags() | packet.FlagECNCE)
		q.marked++
		metrics.ECNMarkTotal.WithLabelValues(q.nodename).Inc()
	}
	q.FIFO.ReceivePacket(p)
}
