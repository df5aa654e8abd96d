package queue

import (
	"fmt"
	"math/rand"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// Random is a drop-tail queue with a random-drop region at the top of
// the buffer: once occupancy enters the region, arrivals are dropped
// with a probability that rises linearly to 1 at full occupancy.
type Random struct {
	FIFO
	dropRegion int64
	rng        *rand.Rand
}

// NewRandom creates a random-drop queue.  dropRegion is the size in
// bytes of the probabilistic region below maxsize.  The caller seeds
// rng once per run, which keeps drop decisions reproducible.
func NewRandom(bitrate sim.LinkSpeed, maxsize, dropRegion int64, eventlist *sim.EventList, logger Logger, rng *rand.Rand) *Random {
	q := &Random{
		FIFO: FIFO{
			baseQueue: newBaseQueue(bitrate, eventlist, logger),
			maxsize:   maxsize,
			enqueued:  newPktRing(),
		},
		dropRegion: dropRegion,
		rng:        rng,
	}
	q.nodename = fmt.Sprintf("randomqueue(%dMb/s,%dbytes)", bitrate/sim.Mbps, maxsize)
	q.impl = q
	return q
}

// SetRandomDrop resizes the probabilistic drop region.
func (q *Random) SetRandomDrop(dropRegion int64) {
	q.dropRegion = dropRegion
}

// ReceivePacket applies the random-drop rule, then drop-tail admission.
func (q *Random) ReceivePacket(p *packet.Packet) {
	if q.dropRegion > 0 && q.queuesize >= q.maxsize-q.dropRegion {
		prob := float64(q.queuesize-(q.maxsize-q.dropRegion)) / float64(q.dropRegion)
		if q.rng.Float64() < prob {
			q.drop(p, "random")
			return
		}
	}
	if q.queuesize+p.Size() > q.maxsize {
		q.drop(p, "overflow")
		return
	}
	p.Flow().LogTraffic(p, q.nodename, packet.PktArrive)
	q.enqueue(p)
}
