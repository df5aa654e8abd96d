package sim_test

import (
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/dcsim/sim"
)

func TestSingleShotTrigger(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	tr := sim.NewSingleShotTrigger(e, 1)
	tr.AddTarget(&trigRec{"x", &got})
	tr.AddTarget(&trigRec{"y", &got})
	tr.Activate()
	for e.DoNextEvent() {
	}
	// Trigger stack is LIFO.
	if diff := deep.Equal(got, []string{"y", "x"}); diff != nil {
		t.Error(diff)
	}
	defer func() {
		if recover() == nil {
			t.Error("second activation must panic")
		}
	}()
	tr.Activate()
}

func TestMultiShotTrigger(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	tr := sim.NewMultiShotTrigger(e, 2)
	tr.AddTarget(&trigRec{"x", &got})
	tr.AddTarget(&trigRec{"y", &got})
	tr.Activate()
	tr.Activate()
	tr.Activate() // past the end: no-op
	for e.DoNextEvent() {
	}
	if diff := deep.Equal(got, []string{"y", "x"}); diff != nil {
		t.Error(diff)
	}
}

func TestBarrierTrigger(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	tr := sim.NewBarrierTrigger(e, 3, 3)
	tr.AddTarget(&trigRec{"x", &got})
	tr.Activate()
	tr.Activate()
	if len(got) != 0 {
		t.Fatal("barrier fired early")
	}
	tr.Activate()
	for e.DoNextEvent() {
	}
	if diff := deep.Equal(got, []string{"x"}); diff != nil {
		t.Error(diff)
	}
}
