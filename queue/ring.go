package queue

import "github.com/m-lab/dcsim/packet"

// pktRing is a growable FIFO ring of packets: push at the tail, pop at
// the head.
type pktRing struct {
	buf   []*packet.Packet
	head  int
	count int
}

func newPktRing() *pktRing {
	return &pktRing{buf: make([]*packet.Packet, 16)}
}

func (r *pktRing) size() int {
	return r.count
}

func (r *pktRing) empty() bool {
	return r.count == 0
}

func (r *pktRing) push(p *packet.Packet) {
	if r.count == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.count)%len(r.buf)] = p
	r.count++
}

// front returns the oldest packet without removing it.
func (r *pktRing) front() *packet.Packet {
	return r.buf[r.head]
}

func (r *pktRing) pop() *packet.Packet {
	p := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return p
}

// removeAt removes the i-th oldest packet (0 is the head), preserving
// order.  Composite queues use it to trim from the middle.
func (r *pktRing) removeAt(i int) *packet.Packet {
	n := len(r.buf)
	idx := (r.head + i) % n
	p := r.buf[idx]
	for j := i; j > 0; j-- {
		dst := (r.head + j) % n
		src := (r.head + j - 1) % n
		r.buf[dst] = r.buf[src]
	}
	r.buf[r.head] = nil
	r.head = (r.head + 1) % n
	r.count--
	return p
}

// at returns the i-th oldest packet.
func (r *pktRing) at(i int) *packet.Packet {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *pktRing) grow() {
	old := make([]*packet.Packet, r.count)
	for i := 0; i < r.count; i++ {
		old[i] = r.at(i)
	}
	r.buf = make([]*packet.Packet, 2*len(r.buf))
	copy(r.buf, old)
	r.head = 0
}

// timeRing is a growable FIFO ring of timestamps used by the busy-time
// tracker.
type timeRing struct {
	buf   []uint64
	head  int
	count int
}

func newTimeRing() *timeRing {
	return &timeRing{buf: make([]uint64, 32)}
}

func (r *timeRing) empty() bool {
	return r.count == 0
}

func (r *timeRing) push(v uint64) {
	if r.count == len(r.buf) {
		old := make([]uint64, r.count)
		for i := 0; i < r.count; i++ {
			old[i] = r.buf[(r.head+i)%len(r.buf)]
		}
		r.buf = make([]uint64, 2*len(r.buf))
		copy(r.buf, old)
		r.head = 0
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
}

func (r *timeRing) front() uint64 {
	return r.buf[r.head]
}

func (r *timeRing) pop() uint64 {
	v := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v
}
