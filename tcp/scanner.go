package tcp

import "github.com/m-lab/dcsim/sim"

// timerHooked is what the scanner polls.  Src and DCTCPSrc satisfy it.
type timerHooked interface {
	RtxTimerHook(now, period sim.Time)
}

// RtxTimerScanner periodically sweeps every registered sender's
// retransmission timer.  One scanner serves a whole run.
type RtxTimerScanner struct {
	eventlist  *sim.EventList
	scanPeriod sim.Time
	tcps       []timerHooked
}

// NewRtxTimerScanner creates a scanner and schedules its first sweep
// one period from now.
func NewRtxTimerScanner(scanPeriod sim.Time, eventlist *sim.EventList) *RtxTimerScanner {
	t := &RtxTimerScanner{eventlist: eventlist, scanPeriod: scanPeriod}
	eventlist.ScheduleRel(t, scanPeriod)
	return t
}

// RegisterTcp adds a sender to the sweep.
func (t *RtxTimerScanner) RegisterTcp(src timerHooked) {
	t.tcps = append(t.tcps, src)
}

// DoNextEvent sweeps all senders and schedules the next period.
func (t *RtxTimerScanner) DoNextEvent(now sim.Time) {
	for _, src := range t.tcps {
		src.RtxTimerHook(now, t.scanPeriod)
	}
	t.eventlist.ScheduleRel(t, t.scanPeriod)
}
