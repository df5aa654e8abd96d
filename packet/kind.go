// Package packet implements the simulator's packet model: typed packet
// kinds, per-kind pooling with reference counts, flows, and routes.
package packet

import "fmt"

// Kind enumerates the packet types the fabric can carry.  The core
// gives full semantics to TCP data and ACK packets; the other kinds are
// opaque tags the queues and switches classify by priority.
type Kind int

// All of these constants' names make the linter complain, but we
// inherited them from the protocols they model, so we will keep them.
const (
	IP        Kind = 0
	TCP       Kind = 1
	TCPACK    Kind = 2
	TCPNACK   Kind = 3
	NDP       Kind = 4
	NDPACK    Kind = 5
	NDPNACK   Kind = 6
	NDPPULL   Kind = 7
	NDPRTS    Kind = 8
	ETHPAUSE  Kind = 9
	TOFINO    Kind = 10
	ROCE      Kind = 11
	ROCEACK   Kind = 12
	ROCENACK  Kind = 13
	HPCC      Kind = 14
	HPCCACK   Kind = 15
	HPCCNACK  Kind = 16
	EQDSDATA  Kind = 17
	EQDSPULL  Kind = 18
	EQDSACK   Kind = 19
	EQDSNACK  Kind = 20
	EQDSRTS   Kind = 21
	STRACK    Kind = 22
	STRACKACK Kind = 23
)

// STRACK renders as SWIFT: the name predates the protocol rename and
// downstream log parsers depend on it.
var kindName = map[Kind]string{
	IP:        "IP",
	TCP:       "TCP",
	TCPACK:    "TCPACK",
	TCPNACK:   "TCPNACK",
	NDP:       "NDP",
	NDPACK:    "NDPACK",
	NDPNACK:   "NDPNACK",
	NDPPULL:   "NDPPULL",
	NDPRTS:    "NDPRTS",
	ETHPAUSE:  "ETHPAUSE",
	TOFINO:    "TOFINO",
	ROCE:      "ROCE",
	ROCEACK:   "ROCEACK",
	ROCENACK:  "ROCENACK",
	HPCC:      "HPCC",
	HPCCACK:   "HPCCACK",
	HPCCNACK:  "HPCCNACK",
	EQDSDATA:  "EQDSDATA",
	EQDSPULL:  "EQDSPULL",
	EQDSACK:   "EQDSACK",
	EQDSNACK:  "EQDSNACK",
	EQDSRTS:   "EQDSRTS",
	STRACK:    "SWIFT",
	STRACKACK: "SWIFTACK",
}

func (k Kind) String() string {
	s, ok := kindName[k]
	if !ok {
		return fmt.Sprintf("UNKNOWN_KIND_%d", int(k))
	}
	return s
}

// Priority is the class a queue with priority levels assigns a packet.
type Priority int

// Priority levels, highest last.
const (
	PrioNone Priority = iota
	PrioLo
	PrioMid
	PrioHi
)

var prioByKind = map[Kind]Priority{
	TCP:       PrioLo,
	TCPACK:    PrioHi,
	TCPNACK:   PrioHi,
	NDP:       PrioLo,
	NDPACK:    PrioHi,
	NDPNACK:   PrioHi,
	NDPPULL:   PrioHi,
	NDPRTS:    PrioHi,
	ETHPAUSE:  PrioHi,
	ROCE:      PrioLo,
	ROCEACK:   PrioHi,
	ROCENACK:  PrioHi,
	HPCC:      PrioLo,
	HPCCACK:   PrioHi,
	HPCCNACK:  PrioHi,
	EQDSDATA:  PrioLo,
	EQDSPULL:  PrioHi,
	EQDSACK:   PrioHi,
	EQDSNACK:  PrioHi,
	EQDSRTS:   PrioHi,
	STRACK:    PrioLo,
	STRACKACK: PrioHi,
}

// KindPriority returns the queueing class for a packet kind.
func KindPriority(k Kind) Priority {
	p, ok := prioByKind[k]
	if !ok {
		return PrioNone
	}
	return p
}
