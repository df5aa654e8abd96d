package tcp

import (
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/sim"
)

// DCTCPSrc extends the TCP sender with DCTCP's ECN reaction: it tracks
// the fraction of marked ACKs per window, folds it into the EWMA α, and
// scales cwnd by 1−α/2 once per RTT.
type DCTCPSrc struct {
	*Src

	pktsSeen   int64
	pktsMarked int64
	alpha      float64
	pastCwnd   int64
}

// NewDCTCPSrc creates a DCTCP sender.  The RTO starts at the datacenter
// value of 10ms rather than TCP's 3s.
func NewDCTCPSrc(logger Logger, pktLogger packet.TrafficLogger, eventlist *sim.EventList, pool *packet.Pool, ids *packet.FlowIDs) *DCTCPSrc {
	d := &DCTCPSrc{Src: NewSrc(logger, pktLogger, eventlist, pool, ids)}
	d.pastCwnd = 2 * d.mss
	d.rto = sim.FromMs(10)
	d.nodename = "dctcpsrc"
	d.variantDeflate = d.resetWindowTracking
	return d
}

// resetWindowTracking runs after the shared multiplicative decrease, on
// a 3-dup-ACK episode and on a retransmission timeout.
func (d *DCTCPSrc) resetWindowTracking() {
	d.pktsSeen = 0
	d.pktsMarked = 0
	d.pastCwnd = d.cwnd
}

// Alpha returns the current marking estimate, in [0,1].
func (d *DCTCPSrc) Alpha() float64 {
	return d.alpha
}

// ReceivePacket applies the DCTCP marking bookkeeping, then the
// standard TCP ACK processing.
func (d *DCTCPSrc) ReceivePacket(p *packet.Packet) {
	d.pktsSeen++
	if p.Flags()&packet.FlagECNEcho != 0 {
		d.pktsMarked++
		// We are causing congestion: exit slow start.
		if d.ssthresh > d.cwnd {
			d.ssthresh = d.cwnd
		}
	}

	if d.pktsSeen*d.mss >= d.pastCwnd {
		// One notional RTT's worth of ACKs: update the window.
		f := float64(d.pktsMarked) / float64(d.pktsSeen)
		d.alpha = 15.0/16.0*d.alpha + 1.0/16.0*f
		d.pktsSeen = 0
		d.pktsMarked = 0

		if d.alpha > 0 {
			d.cwnd = int64(float64(d.cwnd) * (1 - d.alpha/2))
			if d.cwnd < d.mss {
				d.cwnd = d.mss
			}
			d.ssthresh = d.cwnd
		}
		d.pastCwnd = d.cwnd
	}

	d.Src.ReceivePacket(p)
}
