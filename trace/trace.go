// Package trace contains all logic for recording simulation events and
// writing them to files.
//  1. Implements the traffic, queue and TCP logger hooks the core
//     exposes.
//  2. Buffers typed records in memory during the run (the simulator is
//     single-threaded; there is nothing to synchronize).
//  3. Writes CSV files via gocsv when the run finishes.
//  4. Keeps a registry of component display names dumped alongside the
//     data.
package trace

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/queue"
	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
)

// TrafficRecord is one packet lifecycle event.
type TrafficRecord struct {
	TimePs   uint64 `csv:"Time.Ps"`
	Event    string `csv:"Event"`
	Location string `csv:"Location"`
	FlowID   uint64 `csv:"Flow.ID"`
	Kind     string `csv:"Packet.Kind"`
	PacketID uint64 `csv:"Packet.ID"`
	Size     int64  `csv:"Packet.Size"`
	Seqno    uint64 `csv:"TCP.Seqno"`
	Ackno    uint64 `csv:"TCP.Ackno"`
	Header   bool   `csv:"Packet.Header"`
}

// TCPRecord is one sender state transition.
type TCPRecord struct {
	TimePs      uint64 `csv:"Time.Ps"`
	Src         string `csv:"TCP.Src"`
	Event       string `csv:"Event"`
	Cwnd        int64  `csv:"TCP.Cwnd"`
	Ssthresh    int64  `csv:"TCP.Ssthresh"`
	RTTPs       uint64 `csv:"TCP.RTT.Ps"`
	RTOPs       uint64 `csv:"TCP.RTO.Ps"`
	LastAcked   uint64 `csv:"TCP.LastAcked"`
	HighestSent uint64 `csv:"TCP.HighestSent"`
	FastRecov   bool   `csv:"TCP.InFastRecovery"`
}

// QueueRecord is one queue event.
type QueueRecord struct {
	TimePs    uint64 `csv:"Time.Ps"`
	Queue     string `csv:"Queue"`
	Event     string `csv:"Event"`
	Kind      string `csv:"Packet.Kind"`
	Size      int64  `csv:"Packet.Size"`
	Queuesize int64  `csv:"Queue.Bytes"`
}

// NameRecord maps a component index to its display name.
type NameRecord struct {
	Index int    `csv:"Index"`
	Name  string `csv:"Name"`
}

// Logfile buffers run records and writes them as CSV.  It implements
// packet.TrafficLogger, queue.Logger and tcp.Logger.
type Logfile struct {
	eventlist *sim.EventList
	startTime sim.Time

	traffic []*TrafficRecord
	tcps    []*TCPRecord
	queues  []*QueueRecord
	names   []*NameRecord
}

// NewLogfile creates a logfile bound to the run's scheduler.
func NewLogfile(eventlist *sim.EventList) *Logfile {
	return &Logfile{eventlist: eventlist}
}

// SetStartTime suppresses records before t, so warm-up noise stays out
// of the data.
func (l *Logfile) SetStartTime(t sim.Time) {
	l.startTime = t
}

func (l *Logfile) active() bool {
	return l.eventlist.Now() >= l.startTime
}

// WriteName registers a component's display name.
func (l *Logfile) WriteName(n interface{ Nodename() string }) {
	l.names = append(l.names, &NameRecord{Index: len(l.names), Name: n.Nodename()})
}

// LogTraffic implements packet.TrafficLogger.
func (l *Logfile) LogTraffic(p *packet.Packet, location string, ev packet.TrafficEvent) {
	if !l.active() {
		return
	}
	l.traffic = append(l.traffic, &TrafficRecord{
		TimePs:   uint64(l.eventlist.Now()),
		Event:    ev.String(),
		Location: location,
		FlowID:   p.FlowID(),
		Kind:     p.Kind().String(),
		PacketID: p.ID(),
		Size:     p.Size(),
		Seqno:    p.Seqno,
		Ackno:    p.Ackno,
		Header:   p.IsHeader(),
	})
}

// LogQueueEvent implements queue.Logger.
func (l *Logfile) LogQueueEvent(q queue.Queue, ev queue.Event, p *packet.Packet) {
	if !l.active() {
		return
	}
	l.queues = append(l.queues, &QueueRecord{
		TimePs:    uint64(l.eventlist.Now()),
		Queue:     q.Nodename(),
		Event:     ev.String(),
		Kind:      p.Kind().String(),
		Size:      p.Size(),
		Queuesize: q.Queuesize(),
	})
}

// LogTCP implements tcp.Logger.
func (l *Logfile) LogTCP(src *tcp.Src, ev tcp.Event) {
	if !l.active() {
		return
	}
	l.tcps = append(l.tcps, &TCPRecord{
		TimePs:      uint64(l.eventlist.Now()),
		Src:         src.Nodename(),
		Event:       ev.String(),
		Cwnd:        src.Cwnd(),
		Ssthresh:    src.Ssthresh(),
		RTTPs:       uint64(src.RTT()),
		RTOPs:       uint64(src.RTO()),
		LastAcked:   src.LastAcked(),
		HighestSent: src.HighestSent(),
		FastRecov:   src.InFastRecovery(),
	})
}

// TrafficRecords returns the buffered traffic rows.
func (l *Logfile) TrafficRecords() []*TrafficRecord { return l.traffic }

// TCPRecords returns the buffered TCP rows.
func (l *Logfile) TCPRecords() []*TCPRecord { return l.tcps }

// QueueRecords returns the buffered queue rows.
func (l *Logfile) QueueRecords() []*QueueRecord { return l.queues }

// WriteTraffic writes the traffic rows as CSV.
func (l *Logfile) WriteTraffic(w io.Writer) error {
	return gocsv.Marshal(&l.traffic, w)
}

// WriteTCP writes the TCP rows as CSV.
func (l *Logfile) WriteTCP(w io.Writer) error {
	return gocsv.Marshal(&l.tcps, w)
}

// WriteQueues writes the queue rows as CSV.
func (l *Logfile) WriteQueues(w io.Writer) error {
	return gocsv.Marshal(&l.queues, w)
}

// WriteNames writes the name registry as CSV.
func (l *Logfile) WriteNames(w io.Writer) error {
	return gocsv.Marshal(&l.names, w)
}

// DumpDir writes traffic.csv, tcp.csv, queue.csv and names.csv into
// dir, creating it if needed.
func (l *Logfile) DumpDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, f := range []struct {
		name  string
		write func(io.Writer) error
	}{
		{"traffic.csv", l.WriteTraffic},
		{"tcp.csv", l.WriteTCP},
		{"queue.csv", l.WriteQueues},
		{"names.csv", l.WriteNames},
	} {
		file, err := os.Create(filepath.Join(dir, f.name))
		if err != nil {
			return err
		}
		err = f.write(file)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
