package trace

import (
	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
)

// SinkSample is one periodic observation of a receiver.
type SinkSample struct {
	TimePs        uint64 `csv:"Time.Ps"`
	Sink          string `csv:"Sink"`
	CumulativeAck uint64 `csv:"TCP.CumulativeAck"`
	Bytes         int64  `csv:"Bytes.Received"`
	RateBps       int64  `csv:"Rate.Bps"`
}

// SinkSampler periodically samples monitored receivers, deriving a
// goodput rate from consecutive samples.
type SinkSampler struct {
	eventlist *sim.EventList
	period    sim.Time
	sinks     []*tcp.Sink
	lastBytes []int64
	samples   []*SinkSample
}

// NewSinkSampler creates a sampler firing every period, starting one
// period from now.
func NewSinkSampler(period sim.Time, eventlist *sim.EventList) *SinkSampler {
	s := &SinkSampler{eventlist: eventlist, period: period}
	eventlist.ScheduleRel(s, period)
	return s
}

// Monitor adds a receiver to the sample set.
func (s *SinkSampler) Monitor(snk *tcp.Sink) {
	s.sinks = append(s.sinks, snk)
	s.lastBytes = append(s.lastBytes, 0)
}

// Samples returns the collected rows.
func (s *SinkSampler) Samples() []*SinkSample { return s.samples }

// DoNextEvent samples every monitored sink and reschedules.
func (s *SinkSampler) DoNextEvent(now sim.Time) {
	for i, snk := range s.sinks {
		bytes := snk.BytesReceived()
		delta := bytes - s.lastBytes[i]
		s.lastBytes[i] = bytes
		var rate int64
		if sec := sim.AsSec(s.period); sec > 0 {
			rate = int64(float64(delta*8) / sec)
		}
		s.samples = append(s.samples, &SinkSample{
			TimePs:        uint64(now),
			Sink:          snk.Nodename(),
			CumulativeAck: snk.CumulativeAck(),
			Bytes:         bytes,
			RateBps:       rate,
		})
	}
	s.eventlist.ScheduleRel(s, s.period)
}
