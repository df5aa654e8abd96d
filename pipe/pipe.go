// Package pipe models fixed propagation delay: every packet that
// enters a pipe leaves it exactly the pipe's delay later.  There is no
// queueing inside a pipe.
package pipe

import (
	"fmt"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

type pktRecord struct {
	departure sim.Time
	pkt       *packet.Packet
}

// Pipe delays packets by a fixed amount.  In-flight packets live in a
// growable ring ordered by departure time (arrivals are FIFO, so
// departures are too).
type Pipe struct {
	eventlist *sim.EventList
	delay     sim.Time
	nodename  string

	inflight []pktRecord
	count    int
	insert   int
	pop      int
}

// New creates a pipe with the given propagation delay.
func New(delay sim.Time, eventlist *sim.EventList) *Pipe {
	return &Pipe{
		eventlist: eventlist,
		delay:     delay,
		nodename:  fmt.Sprintf("pipe(%dus)", delay/sim.Microsecond),
		inflight:  make([]pktRecord, 16),
	}
}

// Delay returns the propagation delay.
func (p *Pipe) Delay() sim.Time {
	return p.delay
}

// Nodename returns the pipe's display name.
func (p *Pipe) Nodename() string {
	return p.nodename
}

// ForceName overrides the display name.
func (p *Pipe) ForceName(name string) {
	p.nodename = name
}

// ReceivePacket records the packet's departure time and, if the pipe
// was idle, schedules the first departure.
func (p *Pipe) ReceivePacket(pkt *packet.Packet) {
	if p.count == 0 {
		// No packets in flight; the eventlist must learn we are pending.
		p.eventlist.ScheduleRel(p, p.delay)
	}
	p.count++
	if p.count == len(p.inflight) {
		p.grow()
	}
	p.inflight[p.insert] = pktRecord{departure: p.eventlist.Now() + p.delay, pkt: pkt}
	p.insert = (p.insert + 1) % len(p.inflight)
}

// DoNextEvent pops the head packet, forwards it, and schedules the next
// departure if any packets remain in flight.
func (p *Pipe) DoNextEvent(now sim.Time) {
	if p.count == 0 {
		return
	}
	rec := p.inflight[p.pop]
	p.inflight[p.pop].pkt = nil
	p.pop = (p.pop + 1) % len(p.inflight)
	p.count--

	rec.pkt.Flow().LogTraffic(rec.pkt, p.nodename, packet.PktDepart)
	rec.pkt.SendOn()

	if p.count > 0 {
		p.eventlist.Schedule(p, p.inflight[p.pop].departure)
	}
}

// grow doubles the ring, relocating the wrapped prefix into the new
// space so ring order is preserved.
func (p *Pipe) grow() {
	old := len(p.inflight)
	p.inflight = append(p.inflight, make([]pktRecord, old)...)
	if p.insert < p.pop {
		for i := 0; i < p.insert; i++ {
			p.inflight[old+i] = p.inflight[i]
			p.inflight[i] = pktRecord{}
		}
		p.insert += old
	}
}
