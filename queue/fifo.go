package queue

import (
	"fmt"

	"github.com/m-lab/dcsim/metrics"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// FIFO is the basic drop-tail queue: admit while there is room, drop
// otherwise.
type FIFO struct {
	baseQueue
	maxsize   int64
	queuesize int64
	enqueued  *pktRing
	numDrops  int
}

// NewFIFO creates a drop-tail queue with the given service rate and
// capacity in bytes.
func NewFIFO(bitrate sim.LinkSpeed, maxsize int64, eventlist *sim.EventList, logger Logger) *FIFO {
	q := &FIFO{
		baseQueue: newBaseQueue(bitrate, eventlist, logger),
		maxsize:   maxsize,
		enqueued:  newPktRing(),
	}
	q.nodename = fmt.Sprintf("queue(%dMb/s,%dbytes)", bitrate/sim.Mbps, maxsize)
	q.impl = q
	return q
}

// Queuesize returns the bytes currently enqueued.
func (q *FIFO) Queuesize() int64 {
	return q.queuesize
}

// Maxsize returns the queue capacity in bytes.
func (q *FIFO) Maxsize() int64 {
	return q.maxsize
}

// NumDrops returns the packets dropped so far.
func (q *FIFO) NumDrops() int {
	return q.numDrops
}

// ResetDrops zeroes the drop counter.
func (q *FIFO) ResetDrops() {
	q.numDrops = 0
}

// ServiceTime returns how long the current backlog takes to drain.
func (q *FIFO) ServiceTime() sim.Time {
	return sim.Time(q.queuesize) * q.psPerByte
}

// ReceivePacket admits or drops the packet; admitting into an empty
// queue begins service.
func (q *FIFO) ReceivePacket(p *packet.Packet) {
	if q.queuesize+p.Size() > q.maxsize {
		q.drop(p, "overflow")
		return
	}
	p.Flow().LogTraffic(p, q.nodename, packet.PktArrive)
	q.enqueue(p)
}

func (q *FIFO) enqueue(p *packet.Packet) {
	q.enqueued.push(p)
	q.queuesize += p.Size()
	q.logQueue(q, PktEnqueue, p)
	if q.enqueued.size() == 1 {
		q.beginService()
	}
}

func (q *FIFO) drop(p *packet.Packet, reason string) {
	q.logQueue(q, PktDrop, p)
	p.Flow().LogTraffic(p, q.nodename, packet.PktDrop)
	metrics.PacketDropTotal.WithLabelValues(q.nodename, reason).Inc()
	p.Free()
	q.numDrops++
}

func (q *FIFO) beginService() {
	q.eventlist.ScheduleRel(q, q.DrainTime(q.enqueued.front()))
}

// DoNextEvent completes service of the head packet.
func (q *FIFO) DoNextEvent(now sim.Time) {
	q.completeService()
}

func (q *FIFO) completeService() {
	p := q.enqueued.pop()
	q.queuesize -= p.Size()
	p.Flow().LogTraffic(p, q.nodename, packet.PktDepart)
	q.logQueue(q, PktService, p)
	q.logPacketSend(q.DrainTime(p))
	metrics.QueueDepthHistogram.Observe(float64(q.enqueued.size()))
	p.SendOn()
	if !q.enqueued.empty() {
		q.beginService()
	}
}
