// Package topology wires hosts, queues, pipes and switches into the
// small reference topologies the example programs and end-to-end tests
// run on.
package topology

import (
	"math/rand"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/pipe"
	"github.com/m-lab/dcsim/queue"
	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
)

// Feeder and return-path buffer sizes in packets.
const (
	feederBuffer = 2000
	backBuffer   = 1000
	randomRegion = 3
)

// Path is one direction of a dumbbell: a generously sized feeder queue
// in front of a random-drop bottleneck and a propagation pipe.
type Path struct {
	Feeder     *queue.FIFO
	Bottleneck *queue.Random
	Pipe       *pipe.Pipe
}

// NewPath builds a path with the given bottleneck rate, one-way
// delay and bottleneck buffer.
func NewPath(e *sim.EventList, rate sim.LinkSpeed, delay sim.Time, bufBytes int64, logger queue.Logger, rng *rand.Rand) *Path {
	return &Path{
		Feeder:     queue.NewFIFO(2*rate, sim.MemFromPkt(feederBuffer), e, nil),
		Bottleneck: queue.NewRandom(rate, bufBytes, sim.MemFromPkt(randomRegion), e, logger, rng),
		Pipe:       pipe.New(delay, e),
	}
}

// Dumbbell is one or two independent paths between a sender side and a
// receiver side, plus a fat shared return queue for ACKs.  ACKs ride
// each path's own pipe back, so a connection's RTT is twice its path
// delay.
type Dumbbell struct {
	E     *sim.EventList
	Paths []*Path

	BackQueue *queue.FIFO
}

// NewDumbbell builds the return queue; forward paths are added with
// AddPath.
func NewDumbbell(e *sim.EventList, backRate sim.LinkSpeed) *Dumbbell {
	return &Dumbbell{
		E:         e,
		BackQueue: queue.NewFIFO(backRate, sim.MemFromPkt(backBuffer), e, nil),
	}
}

// AddPath appends a forward path and returns its index.
func (d *Dumbbell) AddPath(p *Path) int {
	d.Paths = append(d.Paths, p)
	return len(d.Paths) - 1
}

// Connect runs a TCP connection over path i, starting at start.
func (d *Dumbbell) Connect(i int, src *tcp.Src, snk *tcp.Sink, start sim.Time) {
	p := d.Paths[i]
	routeOut := packet.NewRoute()
	routeOut.PushBack(p.Feeder)
	routeOut.PushBack(p.Bottleneck)
	routeOut.PushBack(p.Pipe)
	routeOut.PushBack(snk)

	routeBack := packet.NewRoute()
	routeBack.PushBack(d.BackQueue)
	routeBack.PushBack(p.Pipe)
	routeBack.PushBack(src)

	src.Connect(routeOut, routeBack, snk, start)
}
