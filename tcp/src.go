// Package tcp implements the simulated TCP transport: a sender with
// NewReno-style congestion control and fast recovery, a receiver that
// generates cumulative ACKs, a retransmission-timer scanner, and the
// DCTCP sender extension.
package tcp

import (
	"fmt"

	"github.com/m-lab/dcsim/metrics"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// Event is what a TCP logger records about a sender.
type Event int

// TCP logger events.
const (
	EvRcv Event = iota
	EvRcvFREnd
	EvRcvFR
	EvRcvDupFR
	EvRcvDup
	EvRcvDupNoFR
	EvRcvDupFastXmit
	EvTimeout
)

var eventName = map[Event]string{
	EvRcv:            "RCV",
	EvRcvFREnd:       "RCV_FR_END",
	EvRcvFR:          "RCV_FR",
	EvRcvDupFR:       "RCV_DUP_FR",
	EvRcvDup:         "RCV_DUP",
	EvRcvDupNoFR:     "RCV_3DUPNOFR",
	EvRcvDupFastXmit: "RCV_DUP_FASTXMIT",
	EvTimeout:        "TIMEOUT",
}

func (e Event) String() string {
	return eventName[e]
}

// Logger records sender state transitions.  Implementations live
// outside the core (see the trace package).
type Logger interface {
	LogTCP(src *Src, ev Event)
}

// MultipathSource is the coupling interface an MPTCP connection exposes
// to its subflows.
type MultipathSource interface {
	InflateWindow(cwnd, newlyAcked, mss int64) int64
	DeflateWindow(cwnd, mss int64) int64
	GetDataSeq(sub *Src) (uint64, bool)
	WindowChanged()
}

// MultipathSink is the data-level receiver an MPTCP connection exposes
// to its subflow sinks.
type MultipathSink interface {
	ReceivePacket(p *packet.Packet)
	DataAck() uint64
}

// ackSize is the wire size of an ACK packet.
const ackSize int64 = 40

// minRTO is the floor for the retransmission timeout.
const minRTO = 250 * sim.Millisecond

// Src is the TCP sender.
type Src struct {
	eventlist *sim.EventList
	pool      *packet.Pool
	logger    Logger
	flow      *packet.Flow
	nodename  string

	mss     int64
	maxcwnd int64

	highestSent uint64 // bytes; seqnos count bytes from 1
	packetsSent int64
	lastAcked   uint64

	cwnd     int64
	ssthresh int64
	dupacks  int
	unacked  int64
	effcwnd  int64

	rtt     sim.Time
	rto     sim.Time
	mdev    sim.Time
	baseRTT sim.Time

	established    bool
	inFastRecovery bool
	cap            bool
	appLimited     int64 // packets per second, -1 when off

	flowSize uint64
	recoverq uint64
	drops    int

	sink  *Sink
	route *packet.Route
	dst   int

	mSrc      MultipathSource
	subflowID int

	rtoDeadline sim.Time // TimeInf when no unacked data
	rtxPending  bool

	// Per-packet scattering state.
	paths    []*packet.Route
	crtPath  int
	dupAckTh int

	retransmits int

	// variantDeflate, when set, runs after the shared deflate logic.
	// The DCTCP extension uses it to reset its marking counters.
	variantDeflate func()
}

// NewSrc creates a TCP sender.  logger and pktLogger may be nil.
func NewSrc(logger Logger, pktLogger packet.TrafficLogger, eventlist *sim.EventList, pool *packet.Pool, ids *packet.FlowIDs) *Src {
	mss := packet.DataPacketSize()
	s := &Src{
		eventlist:  eventlist,
		pool:       pool,
		logger:     logger,
		flow:       packet.NewFlow(ids, pktLogger),
		mss:        mss,
		maxcwnd:    0xffffffff,
		cwnd:       10 * mss,
		ssthresh:   100 * mss,
		rto:        3 * sim.Second,
		baseRTT:    sim.TimeInf,
		appLimited: -1,
		flowSize:   1 << 62,
		dst:        -1,
		subflowID:  -1,
		dupAckTh:   3,
	}
	s.nodename = fmt.Sprintf("tcpsrc(%d)", s.flow.ID())
	return s
}

// Nodename returns the sender's display name.
func (s *Src) Nodename() string { return s.nodename }

// SetName overrides the display name.
func (s *Src) SetName(name string) { s.nodename = name }

// Flow returns the sender's packet flow.
func (s *Src) Flow() *packet.Flow { return s.flow }

// Cwnd returns the congestion window in bytes.
func (s *Src) Cwnd() int64 { return s.cwnd }

// SetCwnd sets the congestion window in bytes.
func (s *Src) SetCwnd(w int64) { s.cwnd = w }

// Ssthresh returns the slow-start threshold in bytes.
func (s *Src) Ssthresh() int64 { return s.ssthresh }

// SetSsthresh sets the slow-start threshold in bytes.
func (s *Src) SetSsthresh(t int64) { s.ssthresh = t }

// SetCap enables the bandwidth-cap heuristic used with coupled MPTCP.
func (s *Src) SetCap(on bool) { s.cap = on }

// MSS returns the sender's segment size in bytes.
func (s *Src) MSS() int64 { return s.mss }

// RTT returns the smoothed round-trip estimate.
func (s *Src) RTT() sim.Time { return s.rtt }

// RTO returns the current retransmission timeout.
func (s *Src) RTO() sim.Time { return s.rto }

// BaseRTT returns the minimum RTT observed.
func (s *Src) BaseRTT() sim.Time { return s.baseRTT }

// LastAcked returns the highest cumulatively acknowledged byte.
func (s *Src) LastAcked() uint64 { return s.lastAcked }

// HighestSent returns the highest byte sent so far.
func (s *Src) HighestSent() uint64 { return s.highestSent }

// Established reports whether the SYN has been acknowledged.
func (s *Src) Established() bool { return s.established }

// InFastRecovery reports whether the sender is in fast recovery.
func (s *Src) InFastRecovery() bool { return s.inFastRecovery }

// PacketsSent returns the total bytes of data sent, retransmissions
// included.
func (s *Src) PacketsSent() int64 { return s.packetsSent }

// Retransmits returns how many segments were retransmitted.
func (s *Src) Retransmits() int { return s.retransmits }

// Drops returns how many loss episodes the sender has reacted to.
func (s *Src) Drops() int { return s.drops }

// RtoDeadline returns the pending RTO deadline (TimeInf when idle).
func (s *Src) RtoDeadline() sim.Time { return s.rtoDeadline }

// SetDst tags outgoing packets with a destination address for switch
// FIB lookups.
func (s *Src) SetDst(d int) { s.dst = d }

// Dst returns the destination address (-1 when unset).
func (s *Src) Dst() int { return s.dst }

// SetFlowSize bounds how many bytes the flow sends.
func (s *Src) SetFlowSize(bytes uint64) {
	s.flowSize = bytes + uint64(s.mss)
}

// SetAppLimit caps the send rate at pktps packets per second.  A
// limit of zero parks the flow; restoring a limit restarts it.
func (s *Src) SetAppLimit(pktps int64) {
	if s.appLimited == 0 && pktps != 0 {
		s.cwnd = s.mss
	}
	s.ssthresh = 100 * s.mss
	s.appLimited = pktps
	s.sendPackets()
}

// EffectiveWindow returns ssthresh during fast recovery, cwnd
// otherwise.
func (s *Src) EffectiveWindow() int64 {
	if s.inFastRecovery {
		return s.ssthresh
	}
	return s.cwnd
}

// JoinMultipathConnection attaches the sender to an MPTCP connection;
// window inflation and deflation defer to its coupling rule from then
// on.
func (s *Src) JoinMultipathConnection(m MultipathSource) {
	s.mSrc = m
}

// SetSubflowID records the subflow index within the MPTCP connection.
func (s *Src) SetSubflowID(id int) { s.subflowID = id }

// SetPaths enables per-packet scattering over the given routes.  The
// dup-ACK threshold grows with the path count so reordering is not
// mistaken for loss.
func (s *Src) SetPaths(paths []*packet.Route) {
	s.paths = nil
	for _, rt := range paths {
		t := packet.CloneRoute(rt)
		t.PushBack(s.sink)
		s.paths = append(s.paths, t)
	}
	s.dupAckTh = 3 + len(paths)
}

// Connect binds the sender to its forward route, return route and
// sink, and schedules the flow start.
func (s *Src) Connect(routeOut, routeBack *packet.Route, sink *Sink, startTime sim.Time) {
	s.route = routeOut
	s.sink = sink
	sink.connect(s, routeBack)
	s.eventlist.ScheduleRel(s, startTime)
}

// startFlow begins the flow; it runs as the sender's first scheduled
// event.
func (s *Src) startFlow() {
	s.unacked = s.cwnd
	s.established = false
	s.sendPackets()
}

// ReceivePacket handles an incoming ACK.
func (s *Src) ReceivePacket(p *packet.Packet) {
	if p.Kind() != packet.TCPACK {
		p.Free()
		return
	}
	ts := p.TS
	seqno := p.Ackno
	p.Flow().LogTraffic(p, s.nodename, packet.PktRcvDestroy)
	p.Free()

	if seqno < s.lastAcked {
		// Treat it as a very old duplicate.
		return
	}
	if seqno == 1 {
		s.established = true
	}

	now := s.eventlist.Now()
	m := now - ts
	if m != 0 {
		if s.rtt > 0 {
			var absDiff sim.Time
			if m > s.rtt {
				absDiff = m - s.rtt
			} else {
				absDiff = s.rtt - m
			}
			s.mdev = 3*s.mdev/4 + absDiff/4
			s.rtt = 7*s.rtt/8 + m/8
		} else {
			s.rtt = m
			s.mdev = m / 2
		}
		s.rto = s.rtt + 4*s.mdev
		if s.baseRTT == sim.TimeInf || m < s.baseRTT {
			s.baseRTT = m
		}
	}
	if s.rto < minRTO {
		s.rto = minRTO
	}

	if seqno > s.lastAcked {
		s.handleNewAck(seqno, now)
		return
	}
	s.handleDupAck()
}

func (s *Src) handleNewAck(seqno uint64, now sim.Time) {
	s.rtoDeadline = now + s.rto
	if seqno >= s.highestSent {
		s.highestSent = seqno
		s.rtoDeadline = sim.TimeInf
	}

	if !s.inFastRecovery {
		// Best behaviour: proper ack of a new packet.
		s.lastAcked = seqno
		s.dupacks = 0
		s.inflateWindow()
		if s.cwnd > s.maxcwnd {
			s.cwnd = s.maxcwnd
		}
		s.unacked = s.cwnd
		s.effcwnd = s.cwnd
		s.logTCP(EvRcv)
		s.sendPackets()
		return
	}
	if seqno >= s.recoverq {
		// This ACK ends the fast recovery episode.
		flightsize := s.highestSent - seqno
		s.cwnd = min64(s.ssthresh, int64(flightsize)+s.mss)
		s.unacked = s.cwnd
		s.effcwnd = s.cwnd
		s.lastAcked = seqno
		s.dupacks = 0
		s.inFastRecovery = false
		s.logTCP(EvRcvFREnd)
		s.sendPackets()
		return
	}
	// A partial ACK: deflate by the newly acked data and retransmit
	// the next hole.
	newData := seqno - s.lastAcked
	s.lastAcked = seqno
	if int64(newData) < s.cwnd {
		s.cwnd -= int64(newData)
	} else {
		s.cwnd = 0
	}
	s.cwnd += s.mss
	s.logTCP(EvRcvFR)
	s.retransmitPacket("partial-ack")
	s.sendPackets()
}

func (s *Src) handleDupAck() {
	if s.inFastRecovery {
		// Dup-ACK inflation keeps the pipe full while recovering.
		s.cwnd += s.mss
		if s.cwnd > s.maxcwnd {
			s.cwnd = s.maxcwnd
		}
		s.unacked = min64(s.ssthresh, int64(s.highestSent-s.recoverq)+s.mss)
		if s.lastAcked+uint64(s.cwnd) >= s.highestSent+uint64(s.mss) {
			s.effcwnd = s.unacked
		}
		s.logTCP(EvRcvDupFR)
		s.sendPackets()
		return
	}
	s.dupacks++
	if s.dupacks != s.dupAckTh {
		s.logTCP(EvRcvDup)
		s.sendPackets()
		return
	}
	if s.lastAcked < s.recoverq {
		// See RFC 3782: if we haven't recovered from timeouts etc.
		// don't do fast recovery.
		s.logTCP(EvRcvDupNoFR)
		return
	}
	// Fast retransmit.
	s.drops++
	s.deflateWindow()
	s.retransmitPacket("dupack")
	s.cwnd = s.ssthresh + 3*s.mss
	s.unacked = s.ssthresh
	s.effcwnd = 0
	s.inFastRecovery = true
	s.recoverq = s.highestSent
	metrics.FastRecoveryTotal.Inc()
	s.logTCP(EvRcvDupFastXmit)
}

// deflateWindow performs the multiplicative decrease, delegating to the
// MPTCP coupling rule when the sender is a subflow.
func (s *Src) deflateWindow() {
	if s.mSrc == nil {
		s.ssthresh = max64(s.cwnd/2, 2*s.mss)
	} else {
		s.ssthresh = s.mSrc.DeflateWindow(s.cwnd, s.mss)
	}
	if s.variantDeflate != nil {
		s.variantDeflate()
	}
}

// inflateWindow grows cwnd: slow start below ssthresh, then one MSS per
// RTT (bytewise), with the growth delegated to the MPTCP coupling rule
// for subflows.
func (s *Src) inflateWindow() {
	newlyAcked := int64(s.lastAcked) + s.cwnd - int64(s.highestSent)
	// Be very conservative: possibly cwnd is already inflated by a
	// burst of returning ACKs.
	if newlyAcked > s.mss {
		newlyAcked = s.mss
	}
	if newlyAcked < 0 {
		return
	}
	if s.cwnd < s.ssthresh {
		increase := min64(s.ssthresh-s.cwnd, newlyAcked)
		s.cwnd += increase
		newlyAcked -= increase
		return
	}
	// Congestion avoidance.
	if s.rtt > 0 && s.mSrc != nil && s.cap {
		queuedFraction := 1 - float64(s.baseRTT)/float64(s.rtt)
		if queuedFraction >= 0.5 {
			return
		}
	}
	if s.mSrc == nil {
		s.cwnd += newlyAcked * s.mss / s.cwnd
	} else {
		s.cwnd = s.mSrc.InflateWindow(s.cwnd, newlyAcked, s.mss)
	}
}

// sendPackets pushes data while the window allows.  An unestablished
// sender sends (only) the SYN.
func (s *Src) sendPackets() {
	c := s.cwnd
	if !s.established {
		p := s.pool.Alloc(packet.TCP)
		p.SetRouteFull(s.flow, s.route, 1, 1)
		p.Seqno = 1
		p.DataSeqno = 0
		p.Syn = true
		p.SetFlags(packet.FlagSYN)
		if s.dst >= 0 {
			p.SetDst(s.dst)
		}
		p.TS = s.eventlist.Now()
		s.highestSent = 1
		s.flow.LogTraffic(p, s.nodename, packet.PktCreateSend)
		p.SendOn()
		if s.rtoDeadline == sim.TimeInf {
			s.rtoDeadline = s.eventlist.Now() + s.rto
		}
		return
	}

	if s.appLimited >= 0 && s.rtt > 0 {
		d := int64(float64(s.appLimited)*sim.AsSec(s.rtt)) * s.mss
		if c > d {
			c = d
		}
	}

	for s.lastAcked+uint64(c) >= s.highestSent+uint64(s.mss) &&
		s.highestSent <= s.flowSize+1 {
		var dataSeq uint64
		if s.mSrc != nil {
			ds, ok := s.mSrc.GetDataSeq(s)
			if !ok {
				// Send window blocked by the multipath receive window.
				break
			}
			dataSeq = ds
		}
		p := s.pool.Alloc(packet.TCP)
		p.SetRouteFull(s.flow, s.pickRoute(), s.mss, s.highestSent+uint64(s.mss))
		p.Seqno = s.highestSent + 1
		p.DataSeqno = dataSeq
		p.Syn = false
		if s.dst >= 0 {
			p.SetDst(s.dst)
		}
		p.TS = s.eventlist.Now()
		s.flow.LogTraffic(p, s.nodename, packet.PktCreateSend)
		p.SendOn()
		s.highestSent += uint64(s.mss)
		s.packetsSent += s.mss
		if s.rtoDeadline == sim.TimeInf {
			s.rtoDeadline = s.eventlist.Now() + s.rto
		}
	}
}

func (s *Src) pickRoute() *packet.Route {
	if s.paths == nil {
		return s.route
	}
	rt := s.paths[s.crtPath]
	s.crtPath = (s.crtPath + 1) % len(s.paths)
	return rt
}

// retransmitPacket resends from the cumulative ACK point (or the SYN).
func (s *Src) retransmitPacket(cause string) {
	s.retransmits++
	metrics.RetransmitTotal.WithLabelValues(cause).Inc()

	if !s.established {
		p := s.pool.Alloc(packet.TCP)
		p.SetRouteFull(s.flow, s.route, 1, 1)
		p.Seqno = 1
		p.Syn = true
		p.SetFlags(packet.FlagSYN)
		if s.dst >= 0 {
			p.SetDst(s.dst)
		}
		p.TS = s.eventlist.Now()
		s.flow.LogTraffic(p, s.nodename, packet.PktCreateSend)
		p.SendOn()
		return
	}

	p := s.pool.Alloc(packet.TCP)
	p.SetRouteFull(s.flow, s.pickRoute(), s.mss, s.lastAcked+uint64(s.mss))
	p.Seqno = s.lastAcked + 1
	p.DataSeqno = 0
	p.Syn = false
	if s.dst >= 0 {
		p.SetDst(s.dst)
	}
	p.TS = s.eventlist.Now()
	s.flow.LogTraffic(p, s.nodename, packet.PktCreateSend)
	p.SendOn()
	s.packetsSent += s.mss
	if s.rtoDeadline == sim.TimeInf {
		s.rtoDeadline = s.eventlist.Now() + s.rto
	}
}

// RtxTimerHook is called by the scanner each period.  When the RTO
// deadline has passed it schedules the sender at a sub-period offset,
// doubles the RTO and arms the next deadline (RFC 2988 5.5, 5.6).
func (s *Src) RtxTimerHook(now, period sim.Time) {
	if s.rtoDeadline == sim.TimeInf || now <= s.rtoDeadline {
		return
	}
	if s.highestSent == 0 {
		return
	}
	if s.rtxPending {
		return
	}
	s.rtxPending = true
	tooLate := now - s.rtoDeadline
	// Shift down to avoid scheduling in the past when the scanner fell
	// far behind the deadline.
	for tooLate > period {
		tooLate >>= 1
	}
	s.eventlist.ScheduleRel(s, (period-tooLate)/200)
	s.rto *= 2
	s.rtoDeadline = now + s.rto
}

// DoNextEvent runs either the pending retransmission timeout or the
// initial flow start.
func (s *Src) DoNextEvent(now sim.Time) {
	if !s.rtxPending {
		s.startFlow()
		return
	}
	s.rtxPending = false
	s.logTCP(EvTimeout)

	if s.inFastRecovery {
		flightsize := s.highestSent - s.lastAcked
		s.cwnd = min64(s.ssthresh, int64(flightsize)+s.mss)
	}
	s.deflateWindow()

	s.cwnd = s.mss
	s.unacked = s.cwnd
	s.effcwnd = s.cwnd
	s.inFastRecovery = false
	s.recoverq = s.highestSent

	if s.established {
		s.highestSent = s.lastAcked + uint64(s.mss)
	}
	s.dupacks = 0
	s.retransmitPacket("rto")

	if s.mSrc != nil {
		s.mSrc.WindowChanged()
	}
}

func (s *Src) logTCP(ev Event) {
	if s.logger != nil {
		s.logger.LogTCP(s, ev)
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
