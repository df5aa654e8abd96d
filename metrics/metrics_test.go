package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/m-lab/dcsim/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestCountersIncrement(t *testing.T) {
	c := metrics.PacketDropTotal.WithLabelValues("q0", "overflow")
	before := counterValue(t, c)
	c.Inc()
	if counterValue(t, c) != before+1 {
		t.Error("PacketDropTotal did not increment")
	}

	r := metrics.RetransmitTotal.WithLabelValues("rto")
	before = counterValue(t, r)
	r.Inc()
	if counterValue(t, r) != before+1 {
		t.Error("RetransmitTotal did not increment")
	}
}

func TestGatherIncludesSimulatorFamilies(t *testing.T) {
	metrics.EventTotal.Inc()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "dcsim_event_total" {
			found = true
		}
	}
	if !found {
		t.Error("dcsim_event_total not registered")
	}
}
