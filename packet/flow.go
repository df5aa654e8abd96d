package packet

import "log"

// TrafficEvent is the lifecycle event a traffic logger records.
type TrafficEvent int

// Traffic events, in rough lifecycle order.
const (
	PktCreateSend TrafficEvent = iota
	PktArrive
	PktEnqueue
	PktDepart
	PktDrop
	PktTrim
	PktBounce
	PktRcvDestroy
)

var trafficEventName = map[TrafficEvent]string{
	PktCreateSend: "CREATESEND",
	PktArrive:     "ARRIVE",
	PktEnqueue:    "ENQUEUE",
	PktDepart:     "DEPART",
	PktDrop:       "DROP",
	PktTrim:       "TRIM",
	PktBounce:     "BOUNCE",
	PktRcvDestroy: "RCVDESTROY",
}

func (e TrafficEvent) String() string {
	return trafficEventName[e]
}

// TrafficLogger records per-packet lifecycle events.  Implementations
// live outside the core (see the trace package).
type TrafficLogger interface {
	LogTraffic(p *Packet, location string, ev TrafficEvent)
}

// DynamicFlowIDBase is the first flow ID handed out automatically.
// User-assigned IDs must stay below it.
const DynamicFlowIDBase uint64 = 1 << 20

// FlowIDs allocates flow IDs for one simulation run.  It is owned by
// the host, not a process-wide global, so independent runs do not share
// state.
type FlowIDs struct {
	next uint64
}

// NewFlowIDs creates an allocator starting at DynamicFlowIDBase.
func NewFlowIDs() *FlowIDs {
	return &FlowIDs{next: DynamicFlowIDBase}
}

// Next returns a fresh dynamically-allocated flow ID.
func (f *FlowIDs) Next() uint64 {
	id := f.next
	f.next++
	return id
}

// Flow identifies one packet flow and carries its optional traffic
// logger.
type Flow struct {
	id     uint64
	logger TrafficLogger
}

// NewFlow creates a flow with a dynamically allocated ID.
func NewFlow(ids *FlowIDs, logger TrafficLogger) *Flow {
	return &Flow{id: ids.Next(), logger: logger}
}

// ID returns the flow ID.
func (f *Flow) ID() uint64 {
	return f.id
}

// SetID assigns a user-chosen flow ID.  User IDs live below the
// dynamic range.
func (f *Flow) SetID(id uint64) {
	if id >= DynamicFlowIDBase {
		log.Panicf("packet: user flow ID %d collides with the dynamic range", id)
	}
	f.id = id
}

// LogMe reports whether the flow has a traffic logger attached.
func (f *Flow) LogMe() bool {
	return f != nil && f.logger != nil
}

// LogTraffic records ev for p at the named location, if a logger is
// attached.
func (f *Flow) LogTraffic(p *Packet, location string, ev TrafficEvent) {
	if f != nil && f.logger != nil {
		f.logger.LogTraffic(p, location, ev)
	}
}
