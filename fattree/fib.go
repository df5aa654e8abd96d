// Package fattree implements the fat-tree switch: a per-destination
// FIB with up/down entries, per-flow host-pinned routes, and the
// ECMP/adaptive/round-robin egress selection strategies.
package fattree

import (
	"log"

	"github.com/m-lab/dcsim/packet"
)

// FibDirection orients a FIB entry within the tree.
type FibDirection int

// FIB entry directions.
const (
	FibUp FibDirection = iota
	FibDown
)

// FibEntry maps (part of) a destination's traffic onto one egress
// port route.
type FibEntry struct {
	egress    *packet.Route
	cost      uint32
	direction FibDirection
}

// NewFibEntry creates a FIB entry.  An invalid direction is fatal.
func NewFibEntry(egress *packet.Route, cost uint32, direction FibDirection) *FibEntry {
	if direction != FibUp && direction != FibDown {
		log.Panicf("fattree: invalid FIB direction %d", direction)
	}
	return &FibEntry{egress: egress, cost: cost, direction: direction}
}

// EgressPort returns the entry's egress route.
func (f *FibEntry) EgressPort() *packet.Route { return f.egress }

// Cost returns the entry's path cost.
func (f *FibEntry) Cost() uint32 { return f.cost }

// Direction returns the entry's direction.
func (f *FibEntry) Direction() FibDirection { return f.direction }

// HostFibEntry pins one flow to a specific egress route towards a
// directly attached host.
type HostFibEntry struct {
	egress *packet.Route
	flowID uint64
}

// EgressPort returns the pinned route.
func (f *HostFibEntry) EgressPort() *packet.Route { return f.egress }

type hostKey struct {
	dst    int
	flowID uint64
}

// RouteTable is a switch's FIB: destination to candidate egress
// entries, plus (destination, flow) pinned host routes.  Tables are
// built at topology construction.  During events the round-robin
// strategy reshuffles a destination's candidate list in place.
type RouteTable struct {
	fib     map[int][]*FibEntry
	hostFib map[hostKey]*HostFibEntry
}

// NewRouteTable creates an empty table.
func NewRouteTable() *RouteTable {
	return &RouteTable{
		fib:     make(map[int][]*FibEntry),
		hostFib: make(map[hostKey]*HostFibEntry),
	}
}

// AddRoute adds a candidate egress for a destination.
func (t *RouteTable) AddRoute(dst int, egress *packet.Route, cost uint32, direction FibDirection) {
	t.fib[dst] = append(t.fib[dst], NewFibEntry(egress, cost, direction))
}

// GetRoutes returns the candidate entries for a destination (nil when
// unknown).
func (t *RouteTable) GetRoutes(dst int) []*FibEntry {
	return t.fib[dst]
}

// AddHostRoute pins a flow towards a directly attached host.
func (t *RouteTable) AddHostRoute(dst int, egress *packet.Route, flowID uint64) {
	t.hostFib[hostKey{dst, flowID}] = &HostFibEntry{egress: egress, flowID: flowID}
}

// GetHostRoute returns the pinned route for (dst, flow), or nil.
func (t *RouteTable) GetHostRoute(dst int, flowID uint64) *HostFibEntry {
	return t.hostFib[hostKey{dst, flowID}]
}
