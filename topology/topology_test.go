package topology_test

import (
	"math/rand"
	"testing"

	"github.com/m-lab/dcsim/mptcp"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
	"github.com/m-lab/dcsim/topology"
)

// A single flow over a clean dumbbell path completes without loss.
func TestDumbbellSingleFlow(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	rng := rand.New(rand.NewSource(1))

	d := topology.NewDumbbell(e, 100*sim.Mbps)
	rate := 10 * sim.Mbps
	// Buffer far above BDP so the random-drop region never engages.
	i := d.AddPath(topology.NewPath(e, rate, sim.FromMs(5), sim.MemFromPkt(1000), nil, rng))

	src := tcp.NewSrc(nil, nil, e, pool, ids)
	snk := tcp.NewSink()
	scanner := tcp.NewRtxTimerScanner(sim.FromMs(10), e)
	scanner.RegisterTcp(src)
	src.SetFlowSize(200_000)
	d.Connect(i, src, snk, 0)

	e.SetEndTime(sim.FromSec(10))
	for e.DoNextEvent() {
	}
	if snk.CumulativeAck() < 200_001 {
		t.Error("flow did not complete, ack =", snk.CumulativeAck())
	}
	if src.Retransmits() != 0 {
		t.Error("clean path should not retransmit, got", src.Retransmits())
	}
}

// A flow across the star traverses the switch in both directions.
func TestStarFlowThroughSwitch(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	rng := rand.New(rand.NewSource(2))

	star := topology.NewStar(e, 4, 1*sim.Gbps, sim.FromUs(10), sim.MemFromPkt(100), sim.FromNs(100), rng)
	src := tcp.NewSrc(nil, nil, e, pool, ids)
	snk := tcp.NewSink()
	scanner := tcp.NewRtxTimerScanner(sim.FromMs(10), e)
	scanner.RegisterTcp(src)
	src.SetFlowSize(150_000)
	star.Connect(0, 2, src, snk, 0)

	e.SetEndTime(sim.FromSec(5))
	for e.DoNextEvent() {
	}
	if snk.CumulativeAck() < 150_001 {
		t.Error("flow through the switch did not complete, ack =", snk.CumulativeAck())
	}
	if star.Switch.Dropped() != 0 {
		t.Error("switch dropped routed packets:", star.Switch.Dropped())
	}
}

// A two-path fully coupled MPTCP
// connection moves data on both subflows and never lets allocated data
// overrun the receive-window bound.
func TestDumbbellMPTCPTwoPaths(t *testing.T) {
	e := sim.NewEventList()
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()
	rng := rand.New(rand.NewSource(7))

	d := topology.NewDumbbell(e, 100*sim.Mbps)
	// Path A: slow with a long RTT; path B: faster, short RTT.
	pa := d.AddPath(topology.NewPath(e, sim.SpeedFromPktps(166), sim.FromMs(75), sim.MemFromPkt(40), nil, rng))
	pb := d.AddPath(topology.NewPath(e, sim.SpeedFromPktps(400), sim.FromMs(5), sim.MemFromPkt(20), nil, rng))

	rwnd := int64(254)
	m := mptcp.NewSrc(mptcp.CoupledEpsilon, e, nil, rwnd)
	m.SetEpsilon(1.0)
	msink := mptcp.NewSink()

	scanner := tcp.NewRtxTimerScanner(sim.FromMs(10), e)
	var subs []*tcp.Src
	var sinks []*tcp.Sink
	for i := 0; i < 2; i++ {
		s := tcp.NewSrc(nil, nil, e, pool, ids)
		s.SetCap(true)
		k := tcp.NewSink()
		scanner.RegisterTcp(s)
		m.AddSubflow(s)
		msink.AddSubflow(k)
		subs = append(subs, s)
		sinks = append(sinks, k)
	}
	m.Connect(msink)
	d.Connect(pa, subs[0], sinks[0], 0)
	d.Connect(pb, subs[1], sinks[1], sim.FromMs(3))

	e.SetEndTime(sim.FromSec(20))
	mss := subs[0].MSS()
	for e.DoNextEvent() {
		// At every step, allocated data never exceeds the
		// advertised window.
		if out := int64(m.HighestDataSeq() - msink.DataAck()); out > rwnd*mss {
			t.Fatal("outstanding data exceeded rwnd*mss:", out)
		}
	}

	if sinks[0].BytesReceived() == 0 || sinks[1].BytesReceived() == 0 {
		t.Error("both subflows should carry data:",
			sinks[0].BytesReceived(), sinks[1].BytesReceived())
	}
	if msink.BytesReceived() == 0 {
		t.Error("the data level saw nothing")
	}
}
