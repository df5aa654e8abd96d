package topology

import (
	"fmt"
	"math/rand"

	"github.com/m-lab/dcsim/fattree"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/pipe"
	"github.com/m-lab/dcsim/queue"
	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
)

// Star is N hosts hanging off a single switch.  Each host has an
// uplink queue+pipe into the switch and a downlink queue+pipe pinned
// into the switch's host FIB per flow.
type Star struct {
	E      *sim.EventList
	Switch *fattree.Switch

	upQueues   []*queue.FIFO
	upPipes    []*pipe.Pipe
	downQueues []*queue.FIFO
	downPipes  []*pipe.Pipe
}

// NewStar builds a star with n hosts, per-link rate and one-way delay,
// and a per-link buffer in bytes.
func NewStar(e *sim.EventList, n int, rate sim.LinkSpeed, delay sim.Time, bufBytes int64, switchDelay sim.Time, rng *rand.Rand) *Star {
	s := &Star{
		E:      e,
		Switch: fattree.NewSwitch(e, "star-switch", fattree.ToR, 0, switchDelay, rng),
	}
	for i := 0; i < n; i++ {
		up := queue.NewFIFO(rate, bufBytes, e, nil)
		up.ForceName(fmt.Sprintf("up-queue(%d)", i))
		down := queue.NewFIFO(rate, bufBytes, e, nil)
		down.ForceName(fmt.Sprintf("down-queue(%d)", i))
		s.upQueues = append(s.upQueues, up)
		s.upPipes = append(s.upPipes, pipe.New(delay, e))
		s.downQueues = append(s.downQueues, down)
		s.downPipes = append(s.downPipes, pipe.New(delay, e))
		s.Switch.AddPort(down)
	}
	return s
}

// Hosts returns the host count.
func (s *Star) Hosts() int {
	return len(s.upQueues)
}

// DownQueue returns host i's downlink queue.
func (s *Star) DownQueue(i int) *queue.FIFO {
	return s.downQueues[i]
}

// Connect runs a TCP connection from host a to host b through the
// switch, pinning both directions in the host FIB.
func (s *Star) Connect(a, b int, src *tcp.Src, snk *tcp.Sink, start sim.Time) {
	flowID := src.Flow().ID()
	src.SetDst(b)
	snk.SetDst(a)

	// Data path: host a's uplink into the switch; the switch forwards
	// over host b's pinned downlink to the receiver.
	routeOut := packet.NewRoute()
	routeOut.PushBack(s.upQueues[a])
	routeOut.PushBack(s.upPipes[a])
	routeOut.PushBack(s.Switch)
	s.Switch.AddHostPort(b, flowID, snk, s.downQueues[b], s.downPipes[b])

	// ACK path: host b's uplink back through the switch to host a.
	routeBack := packet.NewRoute()
	routeBack.PushBack(s.upQueues[b])
	routeBack.PushBack(s.upPipes[b])
	routeBack.PushBack(s.Switch)
	s.Switch.AddHostPort(a, flowID, src, s.downQueues[a], s.downPipes[a])

	src.Connect(routeOut, routeBack, snk, start)
}
