package tcp

import (
	"fmt"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// Sink is the TCP receiver: it tracks the cumulative ACK point, keeps
// out-of-order arrivals in a sorted hole list, and answers every data
// packet with an ACK on the return route.
type Sink struct {
	src   *Src
	route *packet.Route

	cumulativeAck uint64
	received      []uint64 // out-of-order seqnos, ascending
	packets       int64
	drops         int

	mSink MultipathSink
	dst   int

	paths   []*packet.Route
	crtPath int

	nodename string
}

// NewSink creates a TCP receiver.
func NewSink() *Sink {
	return &Sink{dst: -1, nodename: "tcpsink"}
}

// Nodename returns the receiver's display name.
func (s *Sink) Nodename() string { return s.nodename }

// SetName overrides the display name.
func (s *Sink) SetName(name string) { s.nodename = name }

// SetDst tags outgoing ACKs with a destination address.
func (s *Sink) SetDst(d int) { s.dst = d }

// CumulativeAck returns the highest in-order byte received.
func (s *Sink) CumulativeAck() uint64 { return s.cumulativeAck }

// DataAck returns the cumulative ack the receiver advertises (the TCP
// sequence space; MPTCP data acks come from the multipath sink).
func (s *Sink) DataAck() uint64 { return s.cumulativeAck }

// Drops returns the receiver's own loss estimate: the first packet past
// a hole counts the hole's size in segments.
func (s *Sink) Drops() int {
	return s.drops
}

// BytesReceived returns the total payload bytes delivered.
func (s *Sink) BytesReceived() int64 { return s.packets }

// JoinMultipathConnection attaches the receiver to an MPTCP sink; data
// packets are forwarded there for data-level reassembly.
func (s *Sink) JoinMultipathConnection(m MultipathSink) {
	s.mSink = m
}

// SetPaths enables ACK scattering over the given return routes.
func (s *Sink) SetPaths(paths []*packet.Route) {
	s.paths = nil
	for _, rt := range paths {
		t := packet.CloneRoute(rt)
		t.PushBack(s.src)
		s.paths = append(s.paths, t)
	}
}

// connect binds the receiver to its sender and return route.
func (s *Sink) connect(src *Src, route *packet.Route) {
	s.src = src
	s.route = route
	s.cumulativeAck = 0
	s.drops = 0
	s.nodename = fmt.Sprintf("tcpsink(%d)", src.flow.ID())
}

// SetRoute replaces the return route.
func (s *Sink) SetRoute(route *packet.Route) {
	s.route = route
}

// ReceivePacket handles one data packet and responds with an ACK.
func (s *Sink) ReceivePacket(p *packet.Packet) {
	if p.Kind() != packet.TCP {
		p.Free()
		return
	}
	seqno := p.Seqno
	ts := p.TS
	marked := p.Flags()&packet.FlagECNCE != 0
	size := p.Size()

	if s.mSink != nil {
		s.mSink.ReceivePacket(p)
	}
	p.Flow().LogTraffic(p, s.nodename, packet.PktRcvDestroy)
	p.Free()

	s.packets += size

	switch {
	case seqno == s.cumulativeAck+1:
		s.cumulativeAck = seqno + uint64(size) - 1
		// Advance over any previously received out-of-order segments
		// that are now contiguous.
		for len(s.received) > 0 && s.received[0] == s.cumulativeAck+1 {
			s.received = s.received[1:]
			s.cumulativeAck += uint64(size)
		}
	case seqno <= s.cumulativeAck:
		// Stale retransmission; ignore.
	default:
		s.receiveOutOfOrder(seqno, uint64(size))
	}
	s.sendAck(ts, marked)
}

func (s *Sink) receiveOutOfOrder(seqno, size uint64) {
	if len(s.received) == 0 {
		s.received = append(s.received, seqno)
		// The first packet of a hole: in this simulator reordering
		// does not happen, so the gap is loss.
		s.drops += int((seqno - s.cumulativeAck - 1) / size)
		return
	}
	if seqno > s.received[len(s.received)-1] {
		// The common case.
		s.received = append(s.received, seqno)
		return
	}
	// Uncommon case: fill a hole, skipping duplicates.
	for i, v := range s.received {
		if seqno == v {
			return
		}
		if seqno < v {
			s.received = append(s.received, 0)
			copy(s.received[i+1:], s.received[i:])
			s.received[i] = seqno
			return
		}
	}
}

func (s *Sink) sendAck(ts sim.Time, marked bool) {
	rt := s.route
	if s.paths != nil {
		rt = s.paths[s.crtPath]
		s.crtPath = (s.crtPath + 1) % len(s.paths)
	}
	var dataAck uint64
	if s.mSink != nil {
		dataAck = s.mSink.DataAck()
	}
	ack := s.src.pool.Alloc(packet.TCPACK)
	ack.SetRouteFull(s.src.flow, rt, ackSize, s.cumulativeAck)
	ack.Seqno = 0
	ack.Ackno = s.cumulativeAck
	ack.DataAckno = dataAck
	ack.Syn = false
	if s.dst >= 0 {
		ack.SetDst(s.dst)
	}
	ack.Flow().LogTraffic(ack, s.nodename, packet.PktCreateSend)
	ack.TS = ts
	if marked {
		ack.SetFlags(packet.FlagECNEcho)
	} else {
		ack.SetFlags(0)
	}
	ack.SendOn()
}
