package mptcp

import (
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/tcp"
)

// Sink is the MPTCP connection sink: subflow receivers forward their
// data packets here, and it reassembles the shared data sequence space.
// Subflow ACKs carry its cumulative data ACK back to the source.
type Sink struct {
	subflows []*tcp.Sink

	cumulativeDataAck uint64
	received          []uint64 // out-of-order data seqnos, ascending
	bytesReceived     int64
	nodename          string
}

// NewSink creates an MPTCP sink.
func NewSink() *Sink {
	return &Sink{nodename: "mptcpsink"}
}

// Nodename returns the sink's display name.
func (m *Sink) Nodename() string { return m.nodename }

// SetName overrides the display name.
func (m *Sink) SetName(name string) { m.nodename = name }

// AddSubflow attaches a subflow receiver: its data packets will be
// forwarded here and its ACKs will carry the data-level cumulative ACK.
func (m *Sink) AddSubflow(s *tcp.Sink) {
	s.JoinMultipathConnection(m)
	m.subflows = append(m.subflows, s)
}

// DataAck returns the cumulative ACK over the data sequence space.
func (m *Sink) DataAck() uint64 {
	return m.cumulativeDataAck
}

// BytesReceived returns total payload bytes seen at the data level.
func (m *Sink) BytesReceived() int64 {
	return m.bytesReceived
}

// ReceivePacket folds one subflow data packet into the data sequence
// space.  The caller (the subflow sink) retains ownership of the
// packet.
func (m *Sink) ReceivePacket(p *packet.Packet) {
	seqno := p.DataSeqno
	if seqno == 0 {
		// SYNs and non-multipath segments carry no data seqno.
		return
	}
	size := uint64(p.Size())
	m.bytesReceived += p.Size()

	switch {
	case seqno == m.cumulativeDataAck+1:
		m.cumulativeDataAck = seqno + size - 1
		for len(m.received) > 0 && m.received[0] == m.cumulativeDataAck+1 {
			m.received = m.received[1:]
			m.cumulativeDataAck += size
		}
	case seqno <= m.cumulativeDataAck:
		// Duplicate at the data level (e.g. a subflow retransmission).
	default:
		m.insertOutOfOrder(seqno)
	}
}

func (m *Sink) insertOutOfOrder(seqno uint64) {
	if n := len(m.received); n == 0 || seqno > m.received[n-1] {
		m.received = append(m.received, seqno)
		return
	}
	for i, v := range m.received {
		if seqno == v {
			return
		}
		if seqno < v {
			m.received = append(m.received, 0)
			copy(m.received[i+1:], m.received[i:])
			m.received[i] = seqno
			return
		}
	}
}
