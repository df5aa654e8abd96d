package queue

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/m-lab/dcsim/metrics"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// Class indices for the two-class queues.
const (
	classLo = 0
	classHi = 1
)

// ECNPrio is a two-class (HI, LO) priority queue with per-class
// capacities and ECN thresholds.  Admission drops with a coin flip on
// the last slot to reduce phase effects; when service begins on a class
// whose occupancy exceeds its threshold, the packet being sent is
// ECN-marked on completion.
type ECNPrio struct {
	baseQueue
	enqueued   [2]*pktRing
	queuesize  [2]int64
	maxsize    [2]int64
	ecnThresh  [2]int64
	serving    int // class being served, -1 when idle
	markOnSend bool
	numDrops   int
	numPackets int64
	rng        *rand.Rand
}

// NewECNPrio creates an ECN priority queue with separate capacity and
// marking threshold per class.
func NewECNPrio(bitrate sim.LinkSpeed, maxsizeLo, maxsizeHi, ecnThreshLo, ecnThreshHi int64, eventlist *sim.EventList, logger Logger, rng *rand.Rand) *ECNPrio {
	q := &ECNPrio{
		baseQueue: newBaseQueue(bitrate, eventlist, logger),
		serving:   -1,
		rng:       rng,
	}
	q.enqueued[classLo] = newPktRing()
	q.enqueued[classHi] = newPktRing()
	q.maxsize[classLo] = maxsizeLo
	q.maxsize[classHi] = maxsizeHi
	q.ecnThresh[classLo] = ecnThreshLo
	q.ecnThresh[classHi] = ecnThreshHi
	q.nodename = fmt.Sprintf("ecnprioqueue(%dMb/s,%dbytes_L,%dbytes_H)", bitrate/sim.Mbps, maxsizeLo, maxsizeHi)
	q.impl = q
	return q
}

func (q *ECNPrio) classOf(p *packet.Packet) int {
	switch p.Priority() {
	case packet.PrioLo:
		return classLo
	case packet.PrioHi:
		return classHi
	case packet.PrioMid:
		log.Panicf("queue: %s supports two priorities only", q.nodename)
	}
	log.Panicf("queue: packet with PRIO_NONE arrived at %s", q.nodename)
	return -1
}

// Queuesize returns the bytes enqueued across both classes.
func (q *ECNPrio) Queuesize() int64 {
	return q.queuesize[classLo] + q.queuesize[classHi]
}

// LoQueuesize returns the low-class occupancy in bytes.
func (q *ECNPrio) LoQueuesize() int64 {
	return q.queuesize[classLo]
}

// HiQueuesize returns the high-class occupancy in bytes.
func (q *ECNPrio) HiQueuesize() int64 {
	return q.queuesize[classHi]
}

// Maxsize returns the total capacity.
func (q *ECNPrio) Maxsize() int64 {
	return q.maxsize[classLo] + q.maxsize[classHi]
}

// NumDrops returns the packets dropped so far.
func (q *ECNPrio) NumDrops() int {
	return q.numDrops
}

// NumPackets returns the packets served so far.
func (q *ECNPrio) NumPackets() int64 {
	return q.numPackets
}

// ReceivePacket admits the packet into its class.  A full class drops;
// a class with exactly one slot left drops on a coin flip.
func (q *ECNPrio) ReceivePacket(p *packet.Packet) {
	p.Flow().LogTraffic(p, q.nodename, packet.PktArrive)
	c := q.classOf(p)
	full := q.queuesize[c]+p.Size() > q.maxsize[c]
	lastSlot := q.queuesize[c]+2*p.Size() > q.maxsize[c]
	if full || (lastSlot && q.rng.Intn(2) == 1) {
		q.logQueue(q, PktDrop, p)
		p.Flow().LogTraffic(p, q.nodename, packet.PktDrop)
		metrics.PacketDropTotal.WithLabelValues(q.nodename, "overflow").Inc()
		p.Free()
		q.numDrops++
		return
	}
	q.enqueued[c].push(p)
	q.queuesize[c] += p.Size()
	q.logQueue(q, PktEnqueue, p)
	if q.serving < 0 {
		q.beginService()
	}
}

// beginService serves HI before LO and latches the ECN decision from
// the chosen class's occupancy at service start.
func (q *ECNPrio) beginService() {
	q.markOnSend = false
	var c int
	switch {
	case !q.enqueued[classHi].empty():
		c = classHi
	case !q.enqueued[classLo].empty():
		c = classLo
	default:
		log.Panicf("queue: beginService with both classes empty")
	}
	q.serving = c
	if q.queuesize[c] > q.ecnThresh[c] {
		q.markOnSend = true
	}
	q.eventlist.ScheduleRel(q, q.DrainTime(q.enqueued[c].front()))
}

// DoNextEvent completes service, applying the latched ECN mark.
func (q *ECNPrio) DoNextEvent(now sim.Time) {
	if q.serving < 0 {
		log.Panicf("queue: service completion while idle")
	}
	c := q.serving
	p := q.enqueued[c].pop()
	q.queuesize[c] -= p.Size()
	q.serving = -1
	q.numPackets++

	if q.markOnSend {
		p.SetFlags(p.Flags() | packet.FlagECNCE)
		metrics.ECNMarkTotal.WithLabelValues(q.nodename).Inc()
	}

	p.Flow().LogTraffic(p, q.nodename, packet.PktDepart)
	q.logQueue(q, PktService, p)
	q.logPacketSend(q.DrainTime(p))
	p.SendOn()

	if !q.enqueued[classLo].empty() || !q.enqueued[classHi].empty() {
		q.beginService()
	}
}
