package sim_test

import (
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/dcsim/sim"
)

// recorder appends its tag to a shared log on every dispatch.
type recorder struct {
	tag string
	out *[]string
}

func (r *recorder) DoNextEvent(now sim.Time) {
	*r.out = append(*r.out, r.tag)
}

func TestDispatchOrder(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	a := &recorder{"a", &got}
	b := &recorder{"b", &got}
	c := &recorder{"c", &got}

	// Same timestamp preserves insertion order; earlier time wins.
	e.Schedule(a, 200)
	e.Schedule(b, 200)
	e.Schedule(c, 100)

	for e.DoNextEvent() {
	}
	if diff := deep.Equal(got, []string{"c", "a", "b"}); diff != nil {
		t.Error(diff)
	}
	if e.Now() != 200 {
		t.Error("now should be 200, got", e.Now())
	}
}

func TestMonotonicTime(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	var last sim.Time
	for i := 0; i < 10; i++ {
		e.Schedule(&recorder{"x", &got}, sim.Time(1000-i*100))
	}
	for e.DoNextEvent() {
		if e.Now() < last {
			t.Fatal("time went backwards")
		}
		last = e.Now()
	}
}

func TestPastScheduleClampsToNow(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	a := &recorder{"a", &got}
	e.Schedule(a, 500)
	e.DoNextEvent()
	// Schedule in the past: runs at now, not before.
	e.Schedule(a, 100)
	e.DoNextEvent()
	if e.Now() != 500 {
		t.Error("clamped event should dispatch at now=500, got", e.Now())
	}
}

func TestEndTime(t *testing.T) {
	e := sim.NewEventList()
	e.SetEndTime(1000)
	var got []string
	e.Schedule(&recorder{"in", &got}, 999)
	e.Schedule(&recorder{"out", &got}, 1000)
	e.Schedule(&recorder{"beyond", &got}, 5000)
	for e.DoNextEvent() {
	}
	if diff := deep.Equal(got, []string{"in"}); diff != nil {
		t.Error(diff)
	}
}

type trigRec struct {
	tag string
	out *[]string
}

func (r *trigRec) Activate() {
	*r.out = append(*r.out, r.tag)
}

func TestTriggersFireLIFOBeforeEvents(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	e.Schedule(&recorder{"timed", &got}, 10)
	e.ActivateTrigger(&trigRec{"t1", &got})
	e.ActivateTrigger(&trigRec{"t2", &got})
	for e.DoNextEvent() {
	}
	if diff := deep.Equal(got, []string{"t2", "t1", "timed"}); diff != nil {
		t.Error(diff)
	}
	if e.Now() != 10 {
		t.Error("triggers must not advance time")
	}
}

func TestCancelRemovesFirstPending(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	a := &recorder{"a", &got}
	e.Schedule(a, 100)
	e.Schedule(a, 200)
	e.Cancel(a)
	for e.DoNextEvent() {
	}
	if len(got) != 1 || e.Now() != 200 {
		t.Error("cancel should remove the earliest entry only:", got, e.Now())
	}
	// Cancelling a source with nothing pending is a no-op.
	e.Cancel(a)
}

func TestCancelByHandleRoundTrip(t *testing.T) {
	// schedule; cancel by handle; schedule again == single schedule.
	e := sim.NewEventList()
	var got []string
	a := &recorder{"a", &got}
	h := e.ScheduleHandle(a, 300)
	e.CancelByHandle(a, h)
	if e.PendingCount() != 0 {
		t.Fatal("handle cancellation left a pending event")
	}
	e.Schedule(a, 300)
	for e.DoNextEvent() {
	}
	if diff := deep.Equal(got, []string{"a"}); diff != nil {
		t.Error(diff)
	}
}

func TestCancelAtMissPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("CancelAt on a missing entry must panic")
		}
	}()
	e := sim.NewEventList()
	e.CancelAt(&recorder{"a", nil}, 100)
}

func TestStaleHandlePanics(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	a := &recorder{"a", &got}
	h := e.ScheduleHandle(a, 10)
	b := &recorder{"b", &got}
	e.Schedule(b, 20)
	e.DoNextEvent() // a runs, time=10
	e.DoNextEvent() // b runs, time=20
	defer func() {
		if recover() == nil {
			t.Error("cancelling an expired handle must panic")
		}
	}()
	e.CancelByHandle(a, h)
}

func TestSelfScheduleAtNowRunsAfterPending(t *testing.T) {
	e := sim.NewEventList()
	var got []string
	b := &recorder{"b", &got}
	a := &selfScheduler{e: e, out: &got, peer: b}
	e.Schedule(a, 100)
	e.Schedule(b, 100)
	for e.DoNextEvent() {
	}
	if diff := deep.Equal(got, []string{"a", "b", "a2"}); diff != nil {
		t.Error(diff)
	}
}

type selfScheduler struct {
	e     *sim.EventList
	out   *[]string
	peer  sim.EventSource
	fired bool
}

func (s *selfScheduler) DoNextEvent(now sim.Time) {
	if s.fired {
		*s.out = append(*s.out, "a2")
		return
	}
	s.fired = true
	*s.out = append(*s.out, "a")
	// New event at the current time goes after already-pending ones.
	s.e.Schedule(s, now)
}

func TestClock(t *testing.T) {
	e := sim.NewEventList()
	e.SetEndTime(sim.FromMs(10.5))
	c := sim.NewClock(sim.FromMs(1), e)
	for e.DoNextEvent() {
	}
	if c.Ticks() != 10 {
		t.Error("expected 10 ticks, got", c.Ticks())
	}
}
