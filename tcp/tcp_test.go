package tcp_test

import (
	"testing"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/pipe"
	"github.com/m-lab/dcsim/queue"
	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
)

// evRecord captures logged sender events with their timestamps.
type evRecord struct {
	ev   tcp.Event
	when sim.Time
}

type testLogger struct {
	e   *sim.EventList
	log []evRecord
}

func (l *testLogger) LogTCP(src *tcp.Src, ev tcp.Event) {
	l.log = append(l.log, evRecord{ev, l.e.Now()})
}

func (l *testLogger) count(ev tcp.Event) int {
	n := 0
	for _, r := range l.log {
		if r.ev == ev {
			n++
		}
	}
	return n
}

func (l *testLogger) first(ev tcp.Event) (sim.Time, bool) {
	for _, r := range l.log {
		if r.ev == ev {
			return r.when, true
		}
	}
	return 0, false
}

// dumbbell is one sender and one receiver over a bottleneck queue and a
// pair of delay pipes.
type dumbbell struct {
	e       *sim.EventList
	pool    *packet.Pool
	src     *tcp.Src
	snk     *tcp.Sink
	q       queue.Queue
	logger  *testLogger
	scanner *tcp.RtxTimerScanner
}

func buildDumbbell(t *testing.T, rate sim.LinkSpeed, rtt sim.Time, qBytes int64, flowBytes uint64) *dumbbell {
	t.Helper()
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	logger := &testLogger{e: e}

	src := tcp.NewSrc(logger, nil, e, pool, ids)
	snk := tcp.NewSink()
	q := queue.NewFIFO(rate, qBytes, e, nil)
	fwd := pipe.New(rtt/2, e)
	back := pipe.New(rtt/2, e)

	routeOut := packet.NewRoute()
	routeOut.PushBack(q)
	routeOut.PushBack(fwd)
	routeOut.PushBack(snk)
	routeBack := packet.NewRoute()
	routeBack.PushBack(back)
	routeBack.PushBack(src)

	scanner := tcp.NewRtxTimerScanner(sim.FromMs(10), e)
	scanner.RegisterTcp(src)

	src.SetFlowSize(flowBytes)
	src.Connect(routeOut, routeBack, snk, 0)
	return &dumbbell{e: e, pool: pool, src: src, snk: snk, q: q, logger: logger, scanner: scanner}
}

func (d *dumbbell) run() {
	for d.e.DoNextEvent() {
	}
}

// A clean 100KB flow over a fast bottleneck finishes with no
// retransmissions and a monotone cumulative ACK.
func TestSingleFlowHappyPath(t *testing.T) {
	d := buildDumbbell(t, 10*sim.Gbps, sim.FromUs(100), 100*1500, 100_000)
	d.e.SetEndTime(sim.FromSec(2))

	last := uint64(0)
	for d.e.DoNextEvent() {
		if d.snk.CumulativeAck() < last {
			t.Fatal("cumulative ACK went backwards")
		}
		last = d.snk.CumulativeAck()
	}
	if d.src.Retransmits() != 0 {
		t.Error("happy path must not retransmit, got", d.src.Retransmits())
	}
	if !d.src.Established() {
		t.Error("connection never established")
	}
	if d.snk.CumulativeAck() < 100_001 {
		t.Error("flow did not complete: cumulative ack", d.snk.CumulativeAck())
	}
	if d.q.NumDrops() != 0 {
		t.Error("bottleneck dropped packets on the happy path")
	}
}

// With a 10s RTT nothing comes back before the 3s initial RTO; the
// scanner must fire exactly one retransmission near t=3s and double the
// RTO.
func TestRTOTriggersAndDoubles(t *testing.T) {
	d := buildDumbbell(t, 10*sim.Mbps, sim.FromSec(10), 1000*1500, 100_000)
	d.e.SetEndTime(sim.FromSec(5))
	d.run()

	if d.src.Retransmits() != 1 {
		t.Fatal("expected exactly one retransmission before t=5s, got", d.src.Retransmits())
	}
	when, ok := d.logger.first(tcp.EvTimeout)
	if !ok {
		t.Fatal("no timeout logged")
	}
	// The scanner sweeps every 10ms and then reschedules the sender
	// with a sub-period offset.
	if when < sim.FromSec(3) || when > sim.FromSec(3)+sim.FromMs(11) {
		t.Errorf("timeout at %v, want 3s + at most ~10ms", sim.AsMs(when))
	}
	if d.src.RTO() < sim.FromSec(6) {
		t.Error("RTO must have doubled to >= 6s, got", sim.AsMs(d.src.RTO()), "ms")
	}
	if dl := d.src.RtoDeadline(); dl != sim.TimeInf && dl < when+sim.FromSec(6) {
		t.Error("next deadline should be now + doubled RTO")
	}
}

// dropOnce forwards packets but silently discards the first data
// packet at or beyond a target sequence number.
type dropOnce struct {
	target  uint64
	dropped bool
}

func (dr *dropOnce) ReceivePacket(p *packet.Packet) {
	if !dr.dropped && p.Kind() == packet.TCP && !p.Syn && p.Seqno >= dr.target {
		dr.dropped = true
		p.Free()
		return
	}
	p.SendOn()
}

func (dr *dropOnce) Nodename() string { return "droponce" }

// Dropping one mid-flow packet produces three duplicate ACKs, a
// fast-recovery episode, and a clean exit once the hole is repaired.
func TestFastRecoveryOnTripleDupAck(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	logger := &testLogger{e: e}

	src := tcp.NewSrc(logger, nil, e, pool, ids)
	snk := tcp.NewSink()
	rate := 100 * sim.Mbps
	q := queue.NewFIFO(rate, 1000*1500, e, nil)
	fwd := pipe.New(sim.FromMs(1), e)
	back := pipe.New(sim.FromMs(1), e)
	dropper := &dropOnce{target: 1 + 10*1500}

	routeOut := packet.NewRoute()
	routeOut.PushBack(dropper)
	routeOut.PushBack(q)
	routeOut.PushBack(fwd)
	routeOut.PushBack(snk)
	routeBack := packet.NewRoute()
	routeBack.PushBack(back)
	routeBack.PushBack(src)

	scanner := tcp.NewRtxTimerScanner(sim.FromMs(10), e)
	scanner.RegisterTcp(src)
	src.SetFlowSize(300_000)
	src.Connect(routeOut, routeBack, snk, 0)
	e.SetEndTime(sim.FromSec(10))
	for e.DoNextEvent() {
	}

	if !dropper.dropped {
		t.Fatal("the dropper never fired")
	}
	if logger.count(tcp.EvRcvDupFastXmit) == 0 {
		t.Error("sender never entered fast recovery")
	}
	if logger.count(tcp.EvRcvFREnd) == 0 {
		t.Error("sender never exited fast recovery")
	}
	if src.InFastRecovery() {
		t.Error("sender stuck in fast recovery at end of run")
	}
	if src.Drops() != 1 {
		t.Error("expected one loss episode, got", src.Drops())
	}
	if snk.CumulativeAck() < 300_001 {
		t.Error("flow did not complete after recovery: ack", snk.CumulativeAck())
	}
}

// devnull terminates a route, freeing everything it receives.
type devnull struct{}

func (devnull) ReceivePacket(p *packet.Packet) { p.Free() }
func (devnull) Nodename() string               { return "devnull" }

// Feeding a DCTCP sender ACKs marked with probability 1/4 drives
// alpha to ~0.25.
func TestDCTCPAlphaTracksMarkingRate(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()

	src := tcp.NewDCTCPSrc(nil, nil, e, pool, ids)
	snk := tcp.NewSink()
	routeOut := packet.NewRoute()
	routeOut.PushBack(devnull{})
	routeBack := packet.NewRoute()
	routeBack.PushBack(devnull{})
	src.Connect(routeOut, routeBack, snk, 0)
	e.DoNextEvent() // flow start: SYN into the void

	feed := func(ackno uint64, marked bool) {
		ack := pool.Alloc(packet.TCPACK)
		ack.SetRouteFull(src.Flow(), nil, 40, ackno)
		ack.Ackno = ackno
		ack.TS = e.Now()
		if marked {
			ack.SetFlags(packet.FlagECNEcho)
		} else {
			ack.SetFlags(0)
		}
		src.ReceivePacket(ack)
	}

	feed(1, false) // SYN-ACK establishes
	mss := uint64(src.MSS())
	ackno := uint64(1)
	for i := 0; i < 4000; i++ {
		ackno += mss
		feed(ackno, i%4 == 0)
		if a := src.Alpha(); a < 0 || a > 1 {
			t.Fatal("alpha left [0,1]:", a)
		}
		if src.Cwnd() < src.MSS() {
			t.Fatal("cwnd fell below one MSS")
		}
	}
	if a := src.Alpha(); a < 0.20 || a > 0.30 {
		t.Errorf("alpha = %v, want ~0.25", a)
	}
}

// The DCTCP sender must clamp ssthresh to cwnd on a marked ACK while in
// slow start.
func TestDCTCPMarkExitsSlowStart(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	src := tcp.NewDCTCPSrc(nil, nil, e, pool, ids)
	snk := tcp.NewSink()
	routeOut := packet.NewRoute()
	routeOut.PushBack(devnull{})
	routeBack := packet.NewRoute()
	routeBack.PushBack(devnull{})
	src.Connect(routeOut, routeBack, snk, 0)
	e.DoNextEvent()

	if src.Ssthresh() <= src.Cwnd() {
		t.Fatal("precondition: sender should start in slow start")
	}
	ack := pool.Alloc(packet.TCPACK)
	ack.SetRouteFull(src.Flow(), nil, 40, 1)
	ack.Ackno = 1
	ack.SetFlags(packet.FlagECNEcho)
	src.ReceivePacket(ack)
	if src.Ssthresh() > src.Cwnd() {
		t.Error("a marked ACK in slow start must clamp ssthresh to cwnd")
	}
}

func TestSinkOutOfOrderAssembly(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	src := tcp.NewSrc(nil, nil, e, pool, ids)
	snk := tcp.NewSink()
	routeOut := packet.NewRoute()
	routeOut.PushBack(devnull{})
	routeBack := packet.NewRoute()
	routeBack.PushBack(devnull{})
	src.Connect(routeOut, routeBack, snk, 0)
	e.DoNextEvent()

	deliver := func(seqno uint64, size int64) {
		p := pool.Alloc(packet.TCP)
		p.SetRouteFull(src.Flow(), nil, size, seqno)
		p.Seqno = seqno
		snk.ReceivePacket(p)
	}

	deliver(1, 1) // SYN-equivalent byte
	if snk.CumulativeAck() != 1 {
		t.Fatal("ack should be 1 after the first byte")
	}
	deliver(2, 1500)
	if snk.CumulativeAck() != 1501 {
		t.Fatal("in-order data should advance the ack, got", snk.CumulativeAck())
	}
	// Lose [1502..3001]; deliver the two following packets.
	deliver(3002, 1500)
	deliver(4502, 1500)
	if snk.CumulativeAck() != 1501 {
		t.Error("out-of-order data must not advance the ack")
	}
	if snk.Drops() != 1 {
		t.Error("one-packet hole should count one drop, got", snk.Drops())
	}
	// Duplicate of an out-of-order packet is ignored.
	deliver(3002, 1500)
	// The retransmission fills the hole and the ack jumps.
	deliver(1502, 1500)
	if snk.CumulativeAck() != 6001 {
		t.Error("filling the hole should advance over the buffered packets, got", snk.CumulativeAck())
	}
}

func TestEffectiveWindow(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	src := tcp.NewSrc(nil, nil, e, pool, ids)
	if src.EffectiveWindow() != src.Cwnd() {
		t.Error("outside fast recovery the effective window is cwnd")
	}
}
