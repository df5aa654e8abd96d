// Package queue implements the simulator's queue variants: drop-tail
// FIFO, random-early-drop, ECN marking, strict priority, ECN priority,
// and the composite priority queue that trims data packets to headers
// under pressure.
//
// Every queue serves one packet at a time: when it becomes non-empty it
// schedules itself one drain time ahead, and on each completion it
// forwards the head packet and schedules the next.
package queue

import (
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// Event is what a queue logger records about one packet.
type Event int

// Queue events.
const (
	PktEnqueue Event = iota
	PktDrop
	PktService
	PktTrim
)

var eventName = map[Event]string{
	PktEnqueue: "ENQUEUE",
	PktDrop:    "DROP",
	PktService: "SERVICE",
	PktTrim:    "TRIM",
}

func (e Event) String() string {
	return eventName[e]
}

// Logger records queue events.  Implementations live outside the core
// (see the trace package).
type Logger interface {
	LogQueueEvent(q Queue, ev Event, p *packet.Packet)
}

// Queue is the contract every queue variant satisfies.  Switch routing
// strategies read the quantized state to compare candidate ports.
type Queue interface {
	packet.Sink
	sim.EventSource
	Queuesize() int64
	Maxsize() int64
	Bitrate() sim.LinkSpeed
	QuantizedQueuesize() uint8
	QuantizedUtilization() uint8
	IsPaused() bool
	NumDrops() int
}

// updatePeriod bounds how often the quantized views recompute.
const updatePeriod = sim.Time(100_000) // 0.1us

// utilizationWindow is the sliding window the busy tracker averages
// over.
const utilizationWindow = sim.Time(30_000_000) // 30us

// sizer lets baseQueue read the concrete variant's totals.
type sizer interface {
	Queuesize() int64
	Maxsize() int64
}

// baseQueue carries what all variants share: the link rate, the
// eventlist, the busy-time tracker feeding the quantized utilization
// and queue-size views, and the logger hook.
type baseQueue struct {
	eventlist *sim.EventList
	bitrate   sim.LinkSpeed
	psPerByte sim.Time
	nodename  string
	logger    Logger
	impl      sizer

	busy      sim.Time
	busyStart *timeRing
	busyEnd   *timeRing

	lastUpdateQS   sim.Time
	lastUpdateUtil sim.Time
	lastQS         uint8
	lastUtil       uint8
}

func newBaseQueue(bitrate sim.LinkSpeed, eventlist *sim.EventList, logger Logger) baseQueue {
	return baseQueue{
		eventlist: eventlist,
		bitrate:   bitrate,
		psPerByte: sim.PsPerByte(bitrate),
		logger:    logger,
		busyStart: newTimeRing(),
		busyEnd:   newTimeRing(),
	}
}

// Nodename returns the queue's display name.
func (q *baseQueue) Nodename() string {
	return q.nodename
}

// ForceName overrides the display name.
func (q *baseQueue) ForceName(name string) {
	q.nodename = name
}

// SetLogger attaches a queue logger.
func (q *baseQueue) SetLogger(l Logger) {
	q.logger = l
}

// Bitrate returns the service rate in bits per second.
func (q *baseQueue) Bitrate() sim.LinkSpeed {
	return q.bitrate
}

// IsPaused reports lossless back-pressure; the standard variants never
// pause.
func (q *baseQueue) IsPaused() bool {
	return false
}

// DrainTime returns how long the queue takes to serialize p.
func (q *baseQueue) DrainTime(p *packet.Packet) sim.Time {
	return sim.Time(p.Size()) * q.psPerByte
}

// ServiceCapacity returns how many bytes the link serves in t.
func (q *baseQueue) ServiceCapacity(t sim.Time) int64 {
	return int64(sim.AsSec(t) * float64(q.bitrate) / 8)
}

// logPacketSend records one served packet in the busy tracker.
func (q *baseQueue) logPacketSend(duration sim.Time) {
	end := q.eventlist.Now()
	q.busyStart.push(uint64(end - duration))
	q.busyEnd.push(uint64(end))
	q.busy += duration
	q.expireBusy(end)
}

func (q *baseQueue) expireBusy(now sim.Time) {
	var cutoff sim.Time
	if now > utilizationWindow {
		cutoff = now - utilizationWindow
	}
	for !q.busyEnd.empty() && sim.Time(q.busyEnd.front()) < cutoff {
		start := sim.Time(q.busyStart.pop())
		end := sim.Time(q.busyEnd.pop())
		q.busy -= end - start
	}
}

// AverageUtilization returns the percentage of the sliding window the
// link spent serving packets.
func (q *baseQueue) AverageUtilization() int64 {
	q.expireBusy(q.eventlist.Now())
	return int64(q.busy * 100 / utilizationWindow)
}

// QuantizedUtilization maps the average utilization onto two bits for
// adaptive routing; it is recomputed at most once per update period.
func (q *baseQueue) QuantizedUtilization() uint8 {
	now := q.eventlist.Now()
	if now-q.lastUpdateUtil > updatePeriod {
		q.lastUpdateUtil = now
		avg := q.AverageUtilization()
		switch {
		case avg == 0:
			q.lastUtil = 0
		case avg < 15:
			q.lastUtil = 1
		case avg < 50:
			q.lastUtil = 2
		default:
			q.lastUtil = 3
		}
	}
	return q.lastUtil
}

// QuantizedQueuesize maps the occupancy fraction onto two bits for
// adaptive routing; it is recomputed at most once per update period.
func (q *baseQueue) QuantizedQueuesize() uint8 {
	now := q.eventlist.Now()
	if now-q.lastUpdateQS > updatePeriod {
		q.lastUpdateQS = now
		qs := q.impl.Queuesize()
		max := q.impl.Maxsize()
		switch {
		case qs*20 < max: // <5%
			q.lastQS = 0
		case qs*10 < max: // <10%
			q.lastQS = 1
		case qs*5 < max: // <20%
			q.lastQS = 2
		default:
			q.lastQS = 3
		}
	}
	return q.lastQS
}

func (q *baseQueue) logQueue(self Queue, ev Event, p *packet.Packet) {
	if q.logger != nil {
		q.logger.LogQueueEvent(self, ev, p)
	}
}
