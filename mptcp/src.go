// Package mptcp implements the multipath TCP connection level: a
// source that owns TCP subflows and couples their congestion windows,
// and a sink that reassembles the shared data sequence space and
// advertises the data-level cumulative ACK.
package mptcp

import (
	"fmt"
	"log"
	"math"

	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
)

// Algorithm selects the window coupling rule.
type Algorithm int

// Coupling algorithms.
const (
	Uncoupled Algorithm = iota + 1
	FullyCoupled
	CoupledInc
	CoupledTCP
	CoupledEpsilon
)

var algorithmName = map[Algorithm]string{
	Uncoupled:      "UNCOUPLED",
	FullyCoupled:   "FULLY_COUPLED",
	CoupledInc:     "COUPLED_INC",
	CoupledTCP:     "COUPLED_TCP",
	CoupledEpsilon: "COUPLED_EPSILON",
}

func (a Algorithm) String() string {
	s, ok := algorithmName[a]
	if !ok {
		return fmt.Sprintf("UNKNOWN_ALGORITHM_%d", int(a))
	}
	return s
}

// ParseAlgorithm maps a command-line name onto an Algorithm.
func ParseAlgorithm(name string) (Algorithm, bool) {
	for a, n := range algorithmName {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

// Event is what a multipath logger records.
type Event int

// Multipath logger events.
const (
	EvWindowChanged Event = iota
	EvRwndBlocked
)

// Logger records connection-level events.
type Logger interface {
	LogMultipath(src *Src, ev Event)
}

// Src is the MPTCP connection source.  Subflows delegate their window
// inflation and deflation here, and ask it for data sequence numbers,
// which it allocates subject to the receive window.
type Src struct {
	eventlist *sim.EventList
	logger    Logger
	algo      Algorithm
	epsilon   float64
	subflows  []*tcp.Src
	sink      *Sink
	rwnd      int64 // packets
	nodename  string

	highestSent uint64 // bytes of data sequence space handed out
	rwndBlocked int64
}

// NewSrc creates an MPTCP source.  rwnd is the receive window in
// packets; logger may be nil.
func NewSrc(algo Algorithm, eventlist *sim.EventList, logger Logger, rwnd int64) *Src {
	return &Src{
		eventlist: eventlist,
		logger:    logger,
		algo:      algo,
		epsilon:   1.0,
		rwnd:      rwnd,
		nodename:  "mptcpsrc",
	}
}

// Nodename returns the connection's display name.
func (m *Src) Nodename() string { return m.nodename }

// SetName overrides the display name.
func (m *Src) SetName(name string) { m.nodename = name }

// Algorithm returns the coupling rule in use.
func (m *Src) Algorithm() Algorithm { return m.algo }

// SetEpsilon tunes COUPLED_EPSILON's aggressiveness in [0,1]: 1 is
// FULLY_COUPLED, 0 is UNCOUPLED.
func (m *Src) SetEpsilon(e float64) {
	if e < 0 || e > 1 {
		log.Panicf("mptcp: epsilon %v outside [0,1]", e)
	}
	m.epsilon = e
}

// Subflows returns the subflow senders.
func (m *Src) Subflows() []*tcp.Src { return m.subflows }

// HighestDataSeq returns the bytes of data sequence space handed out.
func (m *Src) HighestDataSeq() uint64 { return m.highestSent }

// RwndBlocked returns how often GetDataSeq refused for lack of receive
// window.
func (m *Src) RwndBlocked() int64 { return m.rwndBlocked }

// AddSubflow attaches a TCP sender as a subflow.  All subflows must be
// added before Connect.
func (m *Src) AddSubflow(s *tcp.Src) {
	s.JoinMultipathConnection(m)
	s.SetSubflowID(len(m.subflows))
	m.subflows = append(m.subflows, s)
}

// Connect binds the connection-level sink.  Call after every subflow
// has been added.
func (m *Src) Connect(sink *Sink) {
	if len(m.subflows) == 0 {
		log.Panicf("mptcp: Connect before any subflow was added")
	}
	m.sink = sink
}

// ComputeTotalCwnd sums the subflow congestion windows.
func (m *Src) ComputeTotalCwnd() int64 {
	var total int64
	for _, s := range m.subflows {
		total += s.Cwnd()
	}
	return total
}

// ComputeTotalBytes sums bytes sent across subflows, for external rate
// observation.
func (m *Src) ComputeTotalBytes() int64 {
	var total int64
	for _, s := range m.subflows {
		total += s.PacketsSent()
	}
	return total
}

// InflateWindow grows a subflow's window by the coupling rule and
// returns the new cwnd.
func (m *Src) InflateWindow(cwnd, newlyAcked, mss int64) int64 {
	total := m.ComputeTotalCwnd()
	if total < cwnd {
		total = cwnd
	}
	perSubflow := newlyAcked * mss / cwnd
	shared := newlyAcked * mss / total

	switch m.algo {
	case Uncoupled, CoupledTCP:
		// COUPLED_TCP grows like Reno here, and DeflateWindow halves
		// it per subflow as well: no rule couples its subflows.
		return cwnd + perSubflow
	case FullyCoupled:
		return cwnd + shared
	case CoupledInc:
		a := m.computeA()
		inc := int64(a * float64(newlyAcked) * float64(mss) / float64(total))
		if inc > perSubflow {
			inc = perSubflow
		}
		return cwnd + inc
	case CoupledEpsilon:
		// epsilon interpolates between the uncoupled and fully
		// coupled increments.
		inc := int64((1-m.epsilon)*float64(perSubflow) + m.epsilon*float64(shared))
		return cwnd + inc
	}
	log.Panicf("mptcp: unknown algorithm %d", m.algo)
	return cwnd
}

// DeflateWindow computes a subflow's new ssthresh on a loss event.
func (m *Src) DeflateWindow(cwnd, mss int64) int64 {
	floor := 2 * mss
	switch m.algo {
	case Uncoupled, CoupledTCP, CoupledInc:
		// The decrease is per-subflow.  COUPLED_INC couples through its
		// increase rule; UNCOUPLED and COUPLED_TCP are not coupled.
		return maxInt64(cwnd/2, floor)
	case FullyCoupled:
		// The flow that lost absorbs the halving of the aggregate.
		total := m.ComputeTotalCwnd()
		return maxInt64(cwnd-total/2, floor)
	case CoupledEpsilon:
		total := m.ComputeTotalCwnd()
		d := int64(m.epsilon*float64(total)/2 + (1-m.epsilon)*float64(cwnd)/2)
		return maxInt64(cwnd-d, floor)
	}
	log.Panicf("mptcp: unknown algorithm %d", m.algo)
	return floor
}

// computeA is the COUPLED_INC aggressiveness parameter: it equalizes
// aggregate throughput with a single-path flow on the best path.
func (m *Src) computeA() float64 {
	var sumWOverRtt float64
	var best float64
	for _, s := range m.subflows {
		rtt := sim.AsSec(s.RTT())
		if rtt <= 0 {
			// No sample yet; behave like fully coupled until RTTs
			// arrive.
			return 1.0
		}
		w := float64(s.Cwnd())
		sumWOverRtt += w / rtt
		if v := w / (rtt * rtt); v > best {
			best = v
		}
	}
	if sumWOverRtt == 0 {
		return 1.0
	}
	a := float64(m.ComputeTotalCwnd()) * best / (sumWOverRtt * sumWOverRtt)
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 1.0
	}
	return a
}

// GetDataSeq allocates the next data sequence number for a subflow, or
// refuses when the receive window is exhausted.
func (m *Src) GetDataSeq(sub *tcp.Src) (uint64, bool) {
	var dataAck uint64
	if m.sink != nil {
		dataAck = m.sink.DataAck()
	}
	outstanding := int64(m.highestSent - dataAck)
	if outstanding+sub.MSS() > m.rwnd*sub.MSS() {
		m.rwndBlocked++
		if m.logger != nil {
			m.logger.LogMultipath(m, EvRwndBlocked)
		}
		return 0, false
	}
	seq := m.highestSent + 1
	m.highestSent += uint64(sub.MSS())
	return seq, true
}

// WindowChanged is the subflows' notification hook for drastic window
// changes (timeouts).
func (m *Src) WindowChanged() {
	if m.logger != nil {
		m.logger.LogMultipath(m, EvWindowChanged)
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
