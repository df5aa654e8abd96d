// dcsim runs the two-path multipath transport experiment: one MPTCP
// connection with a subflow over a slow long-RTT path and a subflow
// over a configurable second path, both feeding random-drop bottleneck
// queues.
//
// For comparison with the expected coupling behaviour, try
//
//	dcsim -algorithm FULLY_COUPLED -rate2 400 -rtt2 10 -rwnd 254
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/dcsim/metrics"
	"github.com/m-lab/dcsim/mptcp"
	"github.com/m-lab/dcsim/packet"
	"github.com/m-lab/dcsim/queue"
	"github.com/m-lab/dcsim/sim"
	"github.com/m-lab/dcsim/tcp"
	"github.com/m-lab/dcsim/topology"
	"github.com/m-lab/dcsim/trace"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	algorithm = flag.String("algorithm", "UNCOUPLED", "Coupling algorithm: UNCOUPLED|FULLY_COUPLED|COUPLED_INC|COUPLED_TCP|COUPLED_EPSILON")
	epsilon   = flag.Float64("epsilon", 1.0, "Aggressiveness for COUPLED_EPSILON, in [0,1]")
	rate2     = flag.Int64("rate2", 400, "Second path rate in packets/second")
	rtt2      = flag.Float64("rtt2", 10, "Second path RTT in milliseconds")
	rwnd      = flag.Int64("rwnd", 0, "Receive window in packets, 0 computes 3*maxRTT*aggregate rate")
	runPaths  = flag.Int("paths", 2, "0: path 1 only, 1: path 2 only, 2: both")
	duration  = flag.Float64("duration", 60, "Simulated seconds")
	seed      = flag.Int64("seed", 1, "RNG seed; runs are deterministic per seed")
	outputDir = flag.String("output", "", "Directory for CSV trace output. Empty disables tracing.")
	promPort  = flag.String("prom", ":9090", "Prometheus metrics export address and port")

	ctx, cancel = context.WithCancel(context.Background())
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from environment")

	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)
	defer cancel()

	algo, ok := mptcp.ParseAlgorithm(*algorithm)
	if !ok {
		log.Fatalf("Unknown algorithm %q", *algorithm)
	}

	e := sim.NewEventList()
	e.SetEndTime(sim.FromSec(*duration))
	rng := rand.New(rand.NewSource(*seed))
	pool := packet.NewPool()
	ids := packet.NewFlowIDs()

	var logfile *trace.Logfile
	var queueLogger *trace.Logfile
	if *outputDir != "" {
		logfile = trace.NewLogfile(e)
		logfile.SetStartTime(sim.FromSec(0.5))
		queueLogger = logfile
	}

	// Path 1 is the slow, long-RTT leg.
	service1 := sim.SpeedFromPktps(166)
	rtt1 := sim.FromMs(150)
	buf1 := sim.MemFromPkt(3 + int64(sim.AsSec(rtt1)*float64(sim.SpeedAsPktps(service1))*12))

	service2 := sim.SpeedFromPktps(*rate2)
	rttB := sim.FromMs(*rtt2)
	buf2pkts := int64(sim.AsSec(rttB) * float64(sim.SpeedAsPktps(service2)) * 4)
	if buf2pkts < 10 {
		buf2pkts = 10
	}
	buf2 := sim.MemFromPkt(3 + buf2pkts)

	window := *rwnd
	if window == 0 {
		maxRTT := rtt1
		if rttB > maxRTT {
			maxRTT = rttB
		}
		window = int64(3 * sim.AsSec(maxRTT) *
			float64(sim.SpeedAsPktps(service1)+sim.SpeedAsPktps(service2)))
	}

	log.Printf("path1: %d pkt/s rtt %v ms buffer %d bytes", sim.SpeedAsPktps(service1), sim.AsMs(rtt1), buf1)
	log.Printf("path2: %d pkt/s rtt %v ms buffer %d bytes", sim.SpeedAsPktps(service2), sim.AsMs(rttB), buf2)
	log.Printf("algorithm %s rwnd %d packets", algo, window)

	d := topology.NewDumbbell(e, 4*maxSpeed(service1, service2))
	p1 := d.AddPath(topology.NewPath(e, service1, rtt1/2, buf1, asQueueLogger(queueLogger), rng))
	p2 := d.AddPath(topology.NewPath(e, service2, rttB/2, buf2, asQueueLogger(queueLogger), rng))

	m := mptcp.NewSrc(algo, e, nil, window)
	if algo == mptcp.CoupledEpsilon {
		m.SetEpsilon(*epsilon)
	}
	m.SetName("MPTCPFlow")
	msink := mptcp.NewSink()

	scanner := tcp.NewRtxTimerScanner(sim.FromMs(10), e)
	sampler := trace.NewSinkSampler(sim.FromMs(1000), e)
	clock := sim.NewClock(sim.FromSec(0.5), e)

	connect := func(path int, name string, ssthreshPkts int64) *tcp.Sink {
		src := tcp.NewSrc(asTCPLogger(logfile), asTrafficLogger(logfile), e, pool, ids)
		src.SetName(name)
		src.SetSsthresh(ssthreshPkts * src.MSS())
		src.SetCap(true)
		snk := tcp.NewSink()
		snk.SetName(name + "Sink")
		scanner.RegisterTcp(src)
		m.AddSubflow(src)
		msink.AddSubflow(snk)
		sampler.Monitor(snk)
		start := sim.FromMs(50 * rng.Float64())
		d.Connect(path, src, snk, start)
		return snk
	}

	var sinks []*tcp.Sink
	if *runPaths != 1 {
		sinks = append(sinks, connect(p1, "Subflow1", int64(sim.AsSec(rtt1)*float64(sim.SpeedAsPktps(service1)))))
	}
	if *runPaths != 0 {
		sinks = append(sinks, connect(p2, "Subflow2", int64(sim.AsSec(rttB)*float64(sim.SpeedAsPktps(service2)))))
	}
	m.Connect(msink)

	events := int64(0)
	for e.DoNextEvent() {
		metrics.EventTotal.Inc()
		events++
	}

	log.Printf("run complete: %d events, %d clock ticks, now=%vs", events, clock.Ticks(), sim.AsSec(e.Now()))
	log.Printf("data level: acked %d bytes, window blocked %d times", msink.DataAck(), m.RwndBlocked())
	for i, snk := range sinks {
		log.Printf("subflow %d: %d bytes received, cumulative ack %d", i+1, snk.BytesReceived(), snk.CumulativeAck())
	}
	for i, p := range d.Paths {
		log.Printf("path %d bottleneck: %d drops, %d bytes queued", i+1, p.Bottleneck.NumDrops(), p.Bottleneck.Queuesize())
	}

	if logfile != nil {
		rtx.Must(logfile.DumpDir(*outputDir), "Could not write traces to %q", *outputDir)
		log.Printf("traces written to %s", *outputDir)
	}
}

func maxSpeed(a, b sim.LinkSpeed) sim.LinkSpeed {
	if a > b {
		return a
	}
	return b
}

// The nil-interface wrappers keep a nil *trace.Logfile from turning
// into a non-nil interface value inside the core.
func asQueueLogger(l *trace.Logfile) queue.Logger {
	if l == nil {
		return nil
	}
	return l
}

func asTCPLogger(l *trace.Logfile) tcp.Logger {
	if l == nil {
		return nil
	}
	return l
}

func asTrafficLogger(l *trace.Logfile) packet.TrafficLogger {
	if l == nil {
		return nil
	}
	return l
}
