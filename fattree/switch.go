package fattree

import (
	"log"
	"math/rand"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/pipe"
	"github.com/m-lab/dcsim/queue"
	"github.com/m-lab/dcsim/sim"
)

// SwitchType is the tier a switch occupies in the fat tree.
type SwitchType int

// Switch tiers.
const (
	ToR SwitchType = iota + 1
	Agg
	Core
)

// defaultStickyDelta is the flowlet idle gap.
const defaultStickyDelta = 50 * sim.Microsecond

type flowletInfo struct {
	egress int
	last   sim.Time
}

// Switch is a fat-tree switch.  Forwarding is two-phase: the ingress
// phase picks an egress route via the FIB and the configured strategy
// and runs the packet through an internal pipeline-latency pipe; the
// egress phase sends it on its rewritten route.
type Switch struct {
	eventlist *sim.EventList
	name      string
	typ       SwitchType
	id        int
	fib       *RouteTable
	ports     []queue.Queue
	inflight  map[*packet.Packet]struct{}
	pipe      *callbackPipe
	rng       *rand.Rand

	strategy    Strategy
	arSticky    StickyChoice
	stickyDelta sim.Time
	cmp         CompareFn

	hashSalt   uint32
	crtRoute   int
	flowlets   map[uint64]*flowletInfo
	lastChoice sim.Time

	flowCounts map[queue.Queue]int

	dropped int
}

// NewSwitch creates a fat-tree switch.  switchDelay is the internal
// pipeline latency; rng seeds the per-switch hash salt, so egress
// choices are deterministic per run.
func NewSwitch(eventlist *sim.EventList, name string, typ SwitchType, id int, switchDelay sim.Time, rng *rand.Rand) *Switch {
	sw := &Switch{
		eventlist:   eventlist,
		name:        name,
		typ:         typ,
		id:          id,
		fib:         NewRouteTable(),
		inflight:    make(map[*packet.Packet]struct{}),
		rng:         rng,
		strategy:    ECMP,
		arSticky:    PerPacket,
		stickyDelta: defaultStickyDelta,
		cmp:         CompareQueuesize,
		hashSalt:    rng.Uint32(),
		flowlets:    make(map[uint64]*flowletInfo),
		flowCounts:  make(map[queue.Queue]int),
	}
	sw.pipe = newCallbackPipe(switchDelay, eventlist, sw)
	return sw
}

// Nodename returns the switch's display name.
func (sw *Switch) Nodename() string { return sw.name }

// Type returns the switch tier.
func (sw *Switch) Type() SwitchType { return sw.typ }

// ID returns the switch ID.
func (sw *Switch) ID() int { return sw.id }

// FIB returns the switch's route table for topology construction.
func (sw *Switch) FIB() *RouteTable { return sw.fib }

// Dropped returns packets freed because no route existed.
func (sw *Switch) Dropped() int { return sw.dropped }

// SetStrategy selects the egress selection strategy.
func (sw *Switch) SetStrategy(s Strategy) { sw.strategy = s }

// SetSticky selects per-packet or per-flowlet adaptive choices.
func (sw *Switch) SetSticky(s StickyChoice) { sw.arSticky = s }

// SetStickyDelta sets the flowlet idle gap.
func (sw *Switch) SetStickyDelta(d sim.Time) { sw.stickyDelta = d }

// SetCompare installs the adaptive-routing comparator.
func (sw *Switch) SetCompare(cmp CompareFn) { sw.cmp = cmp }

// AddPort registers an egress queue and returns its port number.
func (sw *Switch) AddPort(q queue.Queue) int {
	sw.ports = append(sw.ports, q)
	return len(sw.ports) - 1
}

// AddHostPort pins a flow's path to a directly attached host: the
// egress route is the port queue, the host link pipe, then the
// transport endpoint.
func (sw *Switch) AddHostPort(addr int, flowID uint64, transport packet.Sink, q queue.Queue, pp *pipe.Pipe) {
	rt := packet.NewRoute()
	rt.PushBack(q)
	rt.PushBack(pp)
	rt.PushBack(transport)
	sw.fib.AddHostRoute(addr, rt, flowID)
	sw.flowCounts[q]++
}

func (sw *Switch) flowCount(q queue.Queue) int {
	if q == nil {
		return 0
	}
	return sw.flowCounts[q]
}

// ReceivePacket implements the two-phase forwarding.
func (sw *Switch) ReceivePacket(pkt *packet.Packet) {
	if pkt.Kind() == packet.ETHPAUSE {
		// Lossless back-pressure goes straight to the paused port.
		sw.receivePause(pkt)
		return
	}
	if _, ok := sw.inflight[pkt]; !ok {
		// Ingress phase.
		sw.inflight[pkt] = struct{}{}
		nh := sw.GetNextHop(pkt, nil)
		if nh == nil {
			delete(sw.inflight, pkt)
			pkt.Flow().LogTraffic(pkt, sw.name, packet.PktDrop)
			pkt.Free()
			sw.dropped++
			return
		}
		pkt.SetRoute(nh)
		sw.pipe.receivePacket(pkt)
		return
	}
	// Egress phase.
	delete(sw.inflight, pkt)
	pkt.SendOn()
}

func (sw *Switch) receivePause(pkt *packet.Packet) {
	if d := pkt.Dst(); d >= 0 && d < len(sw.ports) {
		sw.ports[d].ReceivePacket(pkt)
		return
	}
	pkt.Free()
}

// GetNextHop picks the egress route for a packet: the host FIB wins
// for pinned flows, a single candidate short-circuits, and otherwise
// the configured strategy decides.
func (sw *Switch) GetNextHop(pkt *packet.Packet, inPort queue.Queue) *packet.Route {
	dst := pkt.Dst()
	if h := sw.fib.GetHostRoute(dst, pkt.FlowID()); h != nil {
		return h.EgressPort()
	}
	candidates := sw.fib.GetRoutes(dst)
	if len(candidates) == 0 {
		return nil
	}
	choice := 0
	if len(candidates) > 1 {
		choice = sw.choose(pkt, candidates)
	}
	return candidates[choice].EgressPort()
}

func (sw *Switch) choose(pkt *packet.Packet, candidates []*FibEntry) int {
	n := len(candidates)
	switch sw.strategy {
	case Nix:
		log.Panicf("fattree: %s has multiple candidates but no strategy", sw.name)
	case ECMP:
		return sw.ecmpChoice(pkt, n)
	case AdaptiveRouting:
		if sw.arSticky == PerPacket {
			return sw.adaptiveRoute(candidates)
		}
		return sw.flowletChoice(pkt, candidates)
	case ECMPAdaptive:
		choice := sw.ecmpChoice(pkt, n)
		// Half the time, bail out of a choice that is currently among
		// the worst.
		if sw.rng.Intn(100) < 50 {
			choice = sw.replaceWorstChoice(candidates, choice)
		}
		return choice
	case RoundRobin:
		return sw.roundRobinChoice(candidates)
	case RoundRobinECMP:
		if sw.typ == ToR {
			return sw.roundRobinChoice(candidates)
		}
		return sw.ecmpChoice(pkt, n)
	}
	return 0
}

func (sw *Switch) ecmpChoice(pkt *packet.Packet, n int) int {
	return int(freebsdHash(uint32(pkt.FlowID()), uint32(pkt.PathID()), sw.hashSalt) % uint32(n))
}

func (sw *Switch) roundRobinChoice(candidates []*FibEntry) int {
	if sw.crtRoute >= 5*len(candidates) {
		sw.crtRoute = 0
		sw.permutePaths(candidates)
	}
	choice := sw.crtRoute % len(candidates)
	sw.crtRoute++
	return choice
}

func (sw *Switch) flowletChoice(pkt *packet.Packet, candidates []*FibEntry) int {
	now := sw.eventlist.Now()
	f, ok := sw.flowlets[pkt.FlowID()]
	if !ok {
		choice := sw.adaptiveRoute(candidates)
		sw.flowlets[pkt.FlowID()] = &flowletInfo{egress: choice, last: now}
		sw.lastChoice = now
		return choice
	}
	if now-f.last > sw.stickyDelta && sw.rng.Intn(2) == 0 {
		// The flowlet gap elapsed and a coin flip came up: reconsider,
		// but only move to a strictly better egress.
		next := sw.adaptiveRoute(candidates)
		if sw.cmp(sw, candidates[f.egress], candidates[next]) < 0 {
			f.egress = next
			sw.lastChoice = now
		}
	}
	f.last = now
	return f.egress
}

// adaptiveRoute returns the best candidate under the comparator.
func (sw *Switch) adaptiveRoute(candidates []*FibEntry) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if sw.cmp(sw, candidates[i], candidates[best]) > 0 {
			best = i
		}
	}
	return best
}

// replaceWorstChoice keeps myChoice unless it ties with the worst
// candidate, in which case it returns a random best candidate.
func (sw *Switch) replaceWorstChoice(candidates []*FibEntry, myChoice int) int {
	best := 0
	bestSet := []int{0}
	worst := 0
	for i := 1; i < len(candidates); i++ {
		c := sw.cmp(sw, candidates[i], candidates[best])
		if c > 0 {
			best = i
			bestSet = bestSet[:0]
			bestSet = append(bestSet, i)
		} else if c == 0 {
			bestSet = append(bestSet, i)
		}
		if sw.cmp(sw, candidates[i], candidates[worst]) < 0 {
			worst = i
		}
	}
	if sw.cmp(sw, candidates[myChoice], candidates[worst]) == 0 {
		return bestSet[sw.rng.Intn(len(bestSet))]
	}
	return myChoice
}

// permutePaths reshuffles the candidate order in place.
func (sw *Switch) permutePaths(candidates []*FibEntry) {
	sw.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
}
