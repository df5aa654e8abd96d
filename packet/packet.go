package packet

import (
	"log"

	"github.com/m-lab/dcsim/sim"
)

// Flag bits carried in a packet header.
const (
	FlagECNCE   uint32 = 0x01 // congestion experienced, set by queues
	FlagECNEcho uint32 = 0x02 // CE echo, set by receivers on ACKs
	FlagSYN     uint32 = 0x04
	FlagACK     uint32 = 0x08
)

// HeaderSize is the size of a header-only packet in bytes.
const HeaderSize int64 = 64

// Direction tracks a packet's position in a tiered topology.  A packet
// goes NONE→UP at most once and UP→DOWN at most once, never back.
type Direction int

// Directions.
const (
	DirNone Direction = iota
	DirUp
	DirDown
)

var defaultDataPacketSize int64 = 1500
var dataPacketSizeRead bool

// DataPacketSize returns the run's data packet size (the MTU payload
// convention transports use for MSS).  The first read locks the value
// for the rest of the run.
func DataPacketSize() int64 {
	dataPacketSizeRead = true
	return defaultDataPacketSize
}

// SetDataPacketSize configures the data packet size.  Calling it after
// the size has been read is a programming error.
func SetDataPacketSize(n int64) {
	if dataPacketSizeRead {
		log.Panicf("packet: data packet size already read; cannot change to %d", n)
	}
	defaultDataPacketSize = n
}

// Packet is one simulated packet.  Every kind shares the common header
// fields; the transport-specific fields below them are only meaningful
// for the kinds that use them.
//
// Packets come from a Pool.  A warm reuse preserves stale fields, so
// allocation sites must set everything they rely on (SetAttrs /
// SetRoute reset the routing state).
type Packet struct {
	kind     Kind
	flags    uint32
	size     int64
	id       uint64
	flow     *Flow
	route    *Route
	nextHop  int
	isHeader bool
	bounced  bool
	dir      Direction
	pathID   int
	pathLen  int
	dst      int

	refCount int
	pool     *Pool
	origSize int64 // size before StripPayload; Unbounce takes its size as an argument instead

	// Transport fields (TCP and friends).
	Seqno     uint64
	Ackno     uint64
	DataSeqno uint64
	DataAckno uint64
	Syn       bool
	TS        sim.Time // send timestamp
}

// Kind returns the packet kind.
func (p *Packet) Kind() Kind { return p.kind }

// Flags returns the header flag bits.
func (p *Packet) Flags() uint32 { return p.flags }

// SetFlags replaces the header flag bits.
func (p *Packet) SetFlags(f uint32) { p.flags = f }

// Size returns the packet size in bytes.
func (p *Packet) Size() int64 { return p.size }

// SetSize sets the packet size in bytes.
func (p *Packet) SetSize(n int64) { p.size = n }

// ID returns the packet ID.
func (p *Packet) ID() uint64 { return p.id }

// Flow returns the owning flow.
func (p *Packet) Flow() *Flow { return p.flow }

// FlowID returns the owning flow's ID, or zero without a flow.
func (p *Packet) FlowID() uint64 {
	if p.flow == nil {
		return 0
	}
	return p.flow.ID()
}

// Route returns the packet's route.
func (p *Packet) Route() *Route { return p.route }

// NextHop returns the index of the next hop on the route.
func (p *Packet) NextHop() int { return p.nextHop }

// IsHeader reports whether the payload has been stripped.
func (p *Packet) IsHeader() bool { return p.isHeader }

// Bounced reports whether the packet has been bounced.
func (p *Packet) Bounced() bool { return p.bounced }

// PathID returns the multipath path identifier used by ECMP hashing.
func (p *Packet) PathID() int { return p.pathID }

// SetPathID sets the multipath path identifier.
func (p *Packet) SetPathID(id int) { p.pathID = id }

// PathLen returns the hops-travelled counter used by composite queues.
func (p *Packet) PathLen() int { return p.pathLen }

// SetPathLen sets the hops-travelled counter.  Topologies that do not
// maintain it leave every packet at zero.
func (p *Packet) SetPathLen(n int) { p.pathLen = n }

// Dst returns the destination address, or -1 when unset.
func (p *Packet) Dst() int { return p.dst }

// SetDst sets the destination address.
func (p *Packet) SetDst(d int) { p.dst = d }

// Direction returns the packet's topology direction.
func (p *Packet) Direction() Direction { return p.dir }

// GoUp moves the packet into the upward phase.  Only legal from NONE.
func (p *Packet) GoUp() {
	if p.dir != DirNone {
		log.Panicf("packet: direction NONE->UP violated (current %d)", p.dir)
	}
	p.dir = DirUp
}

// GoDown moves the packet into the downward phase.  Only legal from UP.
func (p *Packet) GoDown() {
	if p.dir != DirUp {
		log.Panicf("packet: direction UP->DOWN violated (current %d)", p.dir)
	}
	p.dir = DirDown
}

// SetAttrs resets flow, size and id for reuse and clears the route, hop
// index, flags, header/bounce state and direction left by a previous
// life.  The transport fields, path ID, path length and destination
// keep their previous values.
func (p *Packet) SetAttrs(flow *Flow, size int64, id uint64) {
	p.flow = flow
	p.size = size
	p.id = id
	p.route = nil
	p.nextHop = 0
	p.flags = 0
	p.isHeader = false
	p.bounced = false
	p.dir = DirNone
	p.origSize = size
}

// SetRoute associates a route and rewinds the hop index.
func (p *Packet) SetRoute(route *Route) {
	p.route = route
	p.nextHop = 0
}

// SetRouteFull is SetAttrs plus SetRoute in one call: the usual way a
// transport stamps a pooled packet.
func (p *Packet) SetRouteFull(flow *Flow, route *Route, size int64, id uint64) {
	p.SetAttrs(flow, size, id)
	p.route = route
}

// SendOn delivers the packet to the next hop on its route, advancing
// the hop index, and returns that sink.  It returns nil at the end of
// the route.
func (p *Packet) SendOn() Sink {
	if p.route == nil || p.nextHop >= p.route.Len() {
		return nil
	}
	s := p.route.At(p.nextHop)
	p.nextHop++
	s.ReceivePacket(p)
	return s
}

// StripPayload turns the packet into a header-only packet.
func (p *Packet) StripPayload() {
	if !p.isHeader {
		p.origSize = p.size
		p.isHeader = true
		p.size = HeaderSize
	}
}

// Bounce reverses the packet at its current position: it becomes a
// header, switches to the route's reverse view, and its hop index maps
// to the complementary position.  Bouncing twice is a programming
// error.
func (p *Packet) Bounce() {
	if p.bounced {
		log.Panicf("packet: bounced twice")
	}
	if p.route == nil || p.route.Reverse() == nil {
		log.Panicf("packet: bounce without a reverse route")
	}
	p.StripPayload()
	p.bounced = true
	n := p.route.Len()
	p.route = p.route.Reverse()
	p.nextHop = n - p.nextHop
	if p.nextHop > p.route.Len() {
		p.nextHop = p.route.Len()
	}
}

// Unbounce restores a bounced packet to a fresh full-size packet at the
// start of its (current) route.
func (p *Packet) Unbounce(size int64) {
	if !p.bounced {
		log.Panicf("packet: unbounce of a packet that was not bounced")
	}
	p.size = size
	p.origSize = size
	p.isHeader = false
	p.bounced = false
	p.nextHop = 0
}

// Priority returns the packet's queueing class.
func (p *Packet) Priority() Priority {
	return KindPriority(p.kind)
}

// RefCount returns the current reference count.
func (p *Packet) RefCount() int { return p.refCount }

// IncRef adds a reference.
func (p *Packet) IncRef() { p.refCount++ }

// Free drops one reference and returns the packet to its pool when the
// count reaches zero.
func (p *Packet) Free() {
	if p.refCount <= 0 {
		log.Panicf("packet: Free with refCount=%d", p.refCount)
	}
	p.refCount--
	if p.refCount == 0 && p.pool != nil {
		p.pool.put(p)
	}
}
