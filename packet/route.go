package packet

// Sink consumes packets.  Pipes, queues, switches and transport
// endpoints all implement it.
type Sink interface {
	ReceivePacket(p *Packet)
	Nodename() string
}

// Route is an ordered list of sinks a packet traverses.  Routes are
// immutable from the transport's perspective once built; a route may
// carry a pointer to its reverse for bounced packets.
type Route struct {
	hops    []Sink
	reverse *Route
}

// NewRoute creates an empty route.
func NewRoute() *Route {
	return &Route{}
}

// CloneRoute copies the hop list of r into a fresh route (the reverse
// pointer is not copied).
func CloneRoute(r *Route) *Route {
	n := &Route{hops: make([]Sink, len(r.hops))}
	copy(n.hops, r.hops)
	return n
}

// PushBack appends a hop.
func (r *Route) PushBack(s Sink) {
	r.hops = append(r.hops, s)
}

// PushFront prepends a hop.
func (r *Route) PushFront(s Sink) {
	r.hops = append([]Sink{s}, r.hops...)
}

// Len returns the number of hops.
func (r *Route) Len() int {
	return len(r.hops)
}

// At returns the i-th hop.
func (r *Route) At(i int) Sink {
	return r.hops[i]
}

// SetReverse records the route packets bounced off this route follow.
func (r *Route) SetReverse(rev *Route) {
	r.reverse = rev
}

// Reverse returns the reverse route, or nil.
func (r *Route) Reverse() *Route {
	return r.reverse
}
