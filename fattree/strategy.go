package fattree

import "github.com/m-lab/dcsim/queue"

// Strategy selects among equal-cost egress candidates.
type Strategy int

// Routing strategies.
const (
	Nix Strategy = iota
	ECMP
	AdaptiveRouting
	ECMPAdaptive
	RoundRobin
	RoundRobinECMP
)

// StickyChoice controls how often adaptive routing reconsiders.
type StickyChoice int

// Sticky choices.
const (
	PerPacket StickyChoice = iota
	PerFlowlet
)

// CompareFn ranks two FIB entries by the state of their egress queues:
// positive when left is the better choice, negative when right is, zero
// on a tie.
type CompareFn func(sw *Switch, l, r *FibEntry) int

// egressQueue returns the first hop of an entry's route if it is a
// queue.
func egressQueue(f *FibEntry) queue.Queue {
	rt := f.EgressPort()
	if rt == nil || rt.Len() == 0 {
		return nil
	}
	q, _ := rt.At(0).(queue.Queue)
	return q
}

// ComparePause prefers unpaused egress ports.
func ComparePause(sw *Switch, l, r *FibEntry) int {
	lq, rq := egressQueue(l), egressQueue(r)
	lp := lq != nil && lq.IsPaused()
	rp := rq != nil && rq.IsPaused()
	switch {
	case !lp && rp:
		return 1
	case lp && !rp:
		return -1
	}
	return 0
}

// CompareQueuesize prefers the shorter quantized queue.
func CompareQueuesize(sw *Switch, l, r *FibEntry) int {
	var ls, rs uint8
	if q := egressQueue(l); q != nil {
		ls = q.QuantizedQueuesize()
	}
	if q := egressQueue(r); q != nil {
		rs = q.QuantizedQueuesize()
	}
	switch {
	case ls < rs:
		return 1
	case ls > rs:
		return -1
	}
	return 0
}

// CompareBandwidth prefers the lower quantized utilization.
func CompareBandwidth(sw *Switch, l, r *FibEntry) int {
	var lu, ru uint8
	if q := egressQueue(l); q != nil {
		lu = q.QuantizedUtilization()
	}
	if q := egressQueue(r); q != nil {
		ru = q.QuantizedUtilization()
	}
	switch {
	case lu < ru:
		return 1
	case lu > ru:
		return -1
	}
	return 0
}

// CompareFlowCount prefers the egress with fewer pinned flows.
func CompareFlowCount(sw *Switch, l, r *FibEntry) int {
	lc := sw.flowCount(egressQueue(l))
	rc := sw.flowCount(egressQueue(r))
	switch {
	case lc < rc:
		return 1
	case lc > rc:
		return -1
	}
	return 0
}

// ComparePQB chains pause, then queue size, then bandwidth.
func ComparePQB(sw *Switch, l, r *FibEntry) int {
	if c := ComparePause(sw, l, r); c != 0 {
		return c
	}
	if c := CompareQueuesize(sw, l, r); c != 0 {
		return c
	}
	return CompareBandwidth(sw, l, r)
}

// ComparePQ chains pause, then queue size.
func ComparePQ(sw *Switch, l, r *FibEntry) int {
	if c := ComparePause(sw, l, r); c != 0 {
		return c
	}
	return CompareQueuesize(sw, l, r)
}

// ComparePB chains pause, then bandwidth.
func ComparePB(sw *Switch, l, r *FibEntry) int {
	if c := ComparePause(sw, l, r); c != 0 {
		return c
	}
	return CompareBandwidth(sw, l, r)
}

// CompareQB chains queue size, then bandwidth.
func CompareQB(sw *Switch, l, r *FibEntry) int {
	if c := CompareQueuesize(sw, l, r); c != 0 {
		return c
	}
	return CompareBandwidth(sw, l, r)
}

// freebsdHash is the FreeBSD-style 3-input hash used for ECMP egress
// selection.
func freebsdHash(a, b, c uint32) uint32 {
	const golden = 0x9e3779b9
	x := uint32(golden) + a
	y := uint32(golden) + b
	z := c

	x -= y
	x -= z
	x ^= z >> 13
	y -= z
	y -= x
	y ^= x << 8
	z -= x
	z -= y
	z ^= y >> 13
	x -= y
	x -= z
	x ^= z >> 12
	y -= z
	y -= x
	y ^= x << 16
	z -= x
	z -= y
	z ^= y >> 5
	x -= y
	x -= z
	x ^= z >> 3
	y -= z
	y -= x
	y ^= x << 10
	z -= x
	z -= y
	z ^= y >> 15

	return z
}
