package queue

import (
	"fmt"
	"log"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// Prio is a strict priority queue: each class has its own FIFO and
// capacity, admission is by the packet's priority class, and service
// always drains the highest-priority non-empty class.
type Prio struct {
	baseQueue
	classes  []prioClass
	serving  int // class index being served, -1 when idle
	numDrops int
}

type prioClass struct {
	enqueued  *pktRing
	queuesize int64
	maxsize   int64
}

// NewPrio creates a priority queue with one class per capacity given,
// lowest priority first.
func NewPrio(bitrate sim.LinkSpeed, capacities []int64, eventlist *sim.EventList, logger Logger) *Prio {
	if len(capacities) < 2 {
		log.Panicf("queue: priority queue needs at least two classes, got %d", len(capacities))
	}
	q := &Prio{
		baseQueue: newBaseQueue(bitrate, eventlist, logger),
		serving:   -1,
	}
	for _, c := range capacities {
		q.classes = append(q.classes, prioClass{enqueued: newPktRing(), maxsize: c})
	}
	q.nodename = fmt.Sprintf("prioqueue(%dMb/s,%dclasses)", bitrate/sim.Mbps, len(capacities))
	q.impl = q
	return q
}

// classOf maps a packet's priority onto a class index.  PRIO_NONE
// packets do not expect to meet a priority queue.
func (q *Prio) classOf(p *packet.Packet) int {
	switch p.Priority() {
	case packet.PrioLo:
		return 0
	case packet.PrioMid:
		if len(q.classes) < 3 {
			log.Panicf("queue: %s cannot hold PRIO_MID packets", q.nodename)
		}
		return 1
	case packet.PrioHi:
		return len(q.classes) - 1
	}
	log.Panicf("queue: packet with PRIO_NONE arrived at %s", q.nodename)
	return -1
}

// Queuesize returns the bytes enqueued across all classes.
func (q *Prio) Queuesize() int64 {
	var total int64
	for i := range q.classes {
		total += q.classes[i].queuesize
	}
	return total
}

// Maxsize returns the total capacity across all classes.
func (q *Prio) Maxsize() int64 {
	var total int64
	for i := range q.classes {
		total += q.classes[i].maxsize
	}
	return total
}

// NumDrops returns the packets dropped so far.
func (q *Prio) NumDrops() int {
	return q.numDrops
}

// ClassQueuesize returns the bytes enqueued in one class.
func (q *Prio) ClassQueuesize(class int) int64 {
	return q.classes[class].queuesize
}

// ReceivePacket admits the packet into its priority class or drops it
// if that class is full.
func (q *Prio) ReceivePacket(p *packet.Packet) {
	p.Flow().LogTraffic(p, q.nodename, packet.PktArrive)
	c := q.classOf(p)
	cls := &q.classes[c]
	if cls.queuesize+p.Size() > cls.maxsize {
		q.logQueue(q, PktDrop, p)
		p.Flow().LogTraffic(p, q.nodename, packet.PktDrop)
		p.Free()
		q.numDrops++
		return
	}
	cls.enqueued.push(p)
	cls.queuesize += p.Size()
	q.logQueue(q, PktEnqueue, p)
	if q.serving < 0 {
		q.beginService()
	}
}

// beginService picks the highest-priority non-empty class and schedules
// the drain of its head packet.
func (q *Prio) beginService() {
	for c := len(q.classes) - 1; c >= 0; c-- {
		if !q.classes[c].enqueued.empty() {
			q.serving = c
			q.eventlist.ScheduleRel(q, q.DrainTime(q.classes[c].enqueued.front()))
			return
		}
	}
	log.Panicf("queue: beginService with all classes empty")
}

// DoNextEvent completes service of the class chosen at beginService.
func (q *Prio) DoNextEvent(now sim.Time) {
	if q.serving < 0 {
		log.Panicf("queue: service completion while idle")
	}
	cls := &q.classes[q.serving]
	p := cls.enqueued.pop()
	cls.queuesize -= p.Size()
	q.serving = -1

	p.Flow().LogTraffic(p, q.nodename, packet.PktDepart)
	q.logQueue(q, PktService, p)
	q.logPacketSend(q.DrainTime(p))
	p.SendOn()

	for i := range q.classes {
		if !q.classes[i].enqueued.empty() {
			q.beginService()
			return
		}
	}
}
