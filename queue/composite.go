package queue

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/m-lab/dcsim/metrics"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// MaxPathLen bounds the path_len histogram the composite queue keeps.
const MaxPathLen = 20

// Composite service states.
const (
	servNone = iota
	servLow
	servHigh
)

// CompositePrio is the trimming queue: full data packets ride the LOW
// class, headers (ACKs, NACKs, PULLs, trimmed data) ride the HIGH
// class.  When LOW is full, an arriving data packet with a shorter
// path_len than the longest queued displaces (trims) a longer-path
// packet instead of being dropped; otherwise the arrival itself is
// stripped to a header.  HIGH and LOW share the link under a weighted
// round-robin.
type CompositePrio struct {
	baseQueue
	maxsize int64

	enqueuedLow   *pktRing
	enqueuedHigh  *pktRing
	queuesizeLow  int64
	queuesizeHigh int64

	ratioHigh int
	ratioLow  int
	crt       int
	serving   int

	pathLens         [MaxPathLen + 1]int
	maxPathLenQueued int
	maxPathLenSeen   int

	numDrops    int
	numStripped int
	numHeaders  int
	numAcks     int
	numNacks    int
	numPulls    int
	numPackets  int

	rng *rand.Rand
}

// NewCompositePrio creates a composite priority queue.  maxsize bounds
// each class in bytes.
func NewCompositePrio(bitrate sim.LinkSpeed, maxsize int64, eventlist *sim.EventList, logger Logger, rng *rand.Rand) *CompositePrio {
	q := &CompositePrio{
		baseQueue:    newBaseQueue(bitrate, eventlist, logger),
		maxsize:      maxsize,
		enqueuedLow:  newPktRing(),
		enqueuedHigh: newPktRing(),
		ratioHigh:    10,
		ratioLow:     1,
		serving:      servNone,
		rng:          rng,
	}
	q.nodename = fmt.Sprintf("compqueue(%dMb/s,%dbytes)", bitrate/sim.Mbps, maxsize)
	q.impl = q
	return q
}

// SetServiceRatio configures the HIGH:LOW weighted round-robin.
func (q *CompositePrio) SetServiceRatio(hi, lo int) {
	q.ratioHigh = hi
	q.ratioLow = lo
}

// Queuesize returns the bytes enqueued across both classes.
func (q *CompositePrio) Queuesize() int64 {
	return q.queuesizeLow + q.queuesizeHigh
}

// Maxsize returns the per-class capacity in bytes.
func (q *CompositePrio) Maxsize() int64 {
	return q.maxsize
}

// NumDrops returns headers dropped because HIGH was also full.
func (q *CompositePrio) NumDrops() int {
	return q.numDrops
}

// NumStripped returns data packets trimmed to headers.
func (q *CompositePrio) NumStripped() int {
	return q.numStripped
}

// NumLowQueued and NumHighQueued return the per-class packet counts.
func (q *CompositePrio) NumLowQueued() int  { return q.enqueuedLow.size() }
func (q *CompositePrio) NumHighQueued() int { return q.enqueuedHigh.size() }

// MaxPathLenQueued returns the longest path_len among LOW contents.
func (q *CompositePrio) MaxPathLenQueued() int {
	return q.maxPathLenQueued
}

// ReceivePacket admits, trims, or strips the packet per the composite
// discipline.
func (q *CompositePrio) ReceivePacket(p *packet.Packet) {
	p.Flow().LogTraffic(p, q.nodename, packet.PktArrive)

	if !p.IsHeader() {
		fits := q.queuesizeLow+p.Size() <= q.maxsize
		tieBreak := !q.enqueuedLow.empty() &&
			p.PathLen() == q.maxPathLenQueued &&
			q.rng.Intn(2) == 0
		shorter := p.PathLen() < q.maxPathLenQueued

		if fits || tieBreak || shorter {
			if q.queuesizeLow+p.Size() > q.maxsize {
				// Make room by trimming a longer-path packet.
				if shorter {
					q.trimLowPriorityPacket(p.PathLen())
				} else {
					q.trimLowPriorityPacket(p.PathLen() - 1)
				}
			}
			if q.queuesizeLow+p.Size() > q.maxsize {
				log.Panicf("queue: %s trim failed to make room", q.nodename)
			}
			q.enqueueLow(p)
			q.logQueue(q, PktEnqueue, p)
			if q.serving == servNone {
				q.beginService()
			}
			return
		}
		// LOW is full and the arrival does not win a slot: strip it.
		p.StripPayload()
		q.numStripped++
		metrics.TrimTotal.WithLabelValues(q.nodename).Inc()
		p.Flow().LogTraffic(p, q.nodename, packet.PktTrim)
		q.logQueue(q, PktTrim, p)
	}

	// Header admission.
	if q.queuesizeHigh+p.Size() > q.maxsize {
		q.logQueue(q, PktDrop, p)
		p.Flow().LogTraffic(p, q.nodename, packet.PktDrop)
		metrics.PacketDropTotal.WithLabelValues(q.nodename, "header-overflow").Inc()
		p.Free()
		q.numDrops++
		return
	}
	q.enqueuedHigh.push(p)
	q.queuesizeHigh += p.Size()
	if q.serving == servNone {
		q.beginService()
	}
}

func (q *CompositePrio) enqueueLow(p *packet.Packet) {
	q.enqueuedLow.push(p)
	q.queuesizeLow += p.Size()
	pl := p.PathLen()
	if pl > MaxPathLen {
		log.Panicf("queue: path_len %d exceeds histogram bound %d", pl, MaxPathLen)
	}
	if q.maxPathLenQueued < pl {
		q.maxPathLenQueued = pl
		if q.maxPathLenSeen < pl {
			q.maxPathLenSeen = pl
		}
	}
	q.pathLens[pl]++
}

func (q *CompositePrio) unaccountLow(p *packet.Packet) {
	q.queuesizeLow -= p.Size()
	pl := p.PathLen()
	if q.pathLens[pl] <= 0 {
		log.Panicf("queue: path_len histogram inconsistent at %d", pl)
	}
	q.pathLens[pl]--
	if pl == q.maxPathLenQueued && q.pathLens[pl] == 0 {
		q.findMaxPathLenQueued()
	}
}

// findMaxPathLenQueued recomputes the longest queued path_len after the
// last packet at the previous maximum left.
func (q *CompositePrio) findMaxPathLenQueued() {
	q.maxPathLenQueued = 0
	if q.enqueuedLow.empty() {
		return
	}
	for i := q.maxPathLenSeen; i >= 0; i-- {
		if q.pathLens[i] > 0 {
			q.maxPathLenQueued = i
			return
		}
	}
}

// trimLowPriorityPacket strips one queued data packet with path_len >
// prio and moves it to HIGH (or drops it if HIGH is full too).
func (q *CompositePrio) trimLowPriorityPacket(prio int) {
	if prio >= q.maxPathLenQueued {
		log.Panicf("queue: trim threshold %d >= max queued path_len %d", prio, q.maxPathLenQueued)
	}
	for i := 0; i < q.enqueuedLow.size(); i++ {
		if q.enqueuedLow.at(i).PathLen() <= prio {
			continue
		}
		booted := q.enqueuedLow.removeAt(i)
		q.unaccountLow(booted)
		booted.StripPayload()

		if q.queuesizeHigh+booted.Size() > q.maxsize {
			q.numDrops++
			booted.Flow().LogTraffic(booted, q.nodename, packet.PktDrop)
			q.logQueue(q, PktDrop, booted)
			metrics.PacketDropTotal.WithLabelValues(q.nodename, "trim-overflow").Inc()
			booted.Free()
			return
		}
		q.numStripped++
		metrics.TrimTotal.WithLabelValues(q.nodename).Inc()
		booted.Flow().LogTraffic(booted, q.nodename, packet.PktTrim)
		q.logQueue(q, PktTrim, booted)
		q.enqueuedHigh.push(booted)
		q.queuesizeHigh += booted.Size()
		return
	}
	log.Panicf("queue: %s found no packet with path_len > %d to trim", q.nodename, prio)
}

// beginService picks a class by the weighted round-robin when both are
// backlogged, or the only non-empty class otherwise.
func (q *CompositePrio) beginService() {
	if !q.enqueuedHigh.empty() && !q.enqueuedLow.empty() {
		q.crt++
		if q.crt >= q.ratioHigh+q.ratioLow {
			q.crt = 0
		}
		if q.crt < q.ratioHigh {
			q.serving = servHigh
			q.eventlist.ScheduleRel(q, q.DrainTime(q.enqueuedHigh.front()))
		} else {
			q.serving = servLow
			q.eventlist.ScheduleRel(q, q.DrainTime(q.enqueuedLow.front()))
		}
		return
	}
	switch {
	case !q.enqueuedHigh.empty():
		q.serving = servHigh
		q.eventlist.ScheduleRel(q, q.DrainTime(q.enqueuedHigh.front()))
	case !q.enqueuedLow.empty():
		q.serving = servLow
		q.eventlist.ScheduleRel(q, q.DrainTime(q.enqueuedLow.front()))
	default:
		log.Panicf("queue: beginService with both classes empty")
	}
}

// DoNextEvent completes service of the class chosen at beginService.
func (q *CompositePrio) DoNextEvent(now sim.Time) {
	var p *packet.Packet
	switch q.serving {
	case servLow:
		p = q.enqueuedLow.pop()
		q.unaccountLow(p)
		q.numPackets++
	case servHigh:
		p = q.enqueuedHigh.pop()
		q.queuesizeHigh -= p.Size()
		switch p.Kind() {
		case packet.NDPACK:
			q.numAcks++
		case packet.NDPNACK:
			q.numNacks++
		case packet.NDPPULL:
			q.numPulls++
		default:
			q.numHeaders++
		}
	default:
		log.Panicf("queue: service completion while idle")
	}
	q.serving = servNone

	p.Flow().LogTraffic(p, q.nodename, packet.PktDepart)
	q.logQueue(q, PktService, p)
	q.logPacketSend(q.DrainTime(p))
	p.SendOn()

	if !q.enqueuedHigh.empty() || !q.enqueuedLow.empty() {
		q.beginService()
	}
}
