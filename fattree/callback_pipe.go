package fattree

import (
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

type cbRecord struct {
	departure sim.Time
	pkt       *packet.Packet
}

// callbackPipe models the switch's pipeline latency: packets re-enter
// the owning switch after a fixed delay instead of following their
// route.
type callbackPipe struct {
	eventlist *sim.EventList
	delay     sim.Time
	sw        *Switch

	inflight []cbRecord
	count    int
	insert   int
	pop      int
}

func newCallbackPipe(delay sim.Time, eventlist *sim.EventList, sw *Switch) *callbackPipe {
	return &callbackPipe{
		eventlist: eventlist,
		delay:     delay,
		sw:        sw,
		inflight:  make([]cbRecord, 16),
	}
}

func (p *callbackPipe) receivePacket(pkt *packet.Packet) {
	if p.count == 0 {
		p.eventlist.ScheduleRel(p, p.delay)
	}
	p.count++
	if p.count == len(p.inflight) {
		p.grow()
	}
	p.inflight[p.insert] = cbRecord{departure: p.eventlist.Now() + p.delay, pkt: pkt}
	p.insert = (p.insert + 1) % len(p.inflight)
}

func (p *callbackPipe) DoNextEvent(now sim.Time) {
	if p.count == 0 {
		return
	}
	rec := p.inflight[p.pop]
	p.inflight[p.pop].pkt = nil
	p.pop = (p.pop + 1) % len(p.inflight)
	p.count--

	p.sw.ReceivePacket(rec.pkt)

	if p.count > 0 {
		p.eventlist.Schedule(p, p.inflight[p.pop].departure)
	}
}

func (p *callbackPipe) grow() {
	old := len(p.inflight)
	p.inflight = append(p.inflight, make([]cbRecord, old)...)
	if p.insert < p.pop {
		for i := 0; i < p.insert; i++ {
			p.inflight[old+i] = p.inflight[i]
			p.inflight[i] = cbRecord{}
		}
		p.insert += old
	}
}
