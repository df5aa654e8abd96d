package sim

import "log"

// TriggerID identifies a trigger in logs.
type TriggerID int

// trigger holds the state shared by all trigger variants.
type trigger struct {
	eventlist *EventList
	id        TriggerID
	targets   []TriggerTarget
}

func (t *trigger) AddTarget(target TriggerTarget) {
	t.targets = append(t.targets, target)
}

func (t *trigger) ID() TriggerID {
	return t.id
}

// SingleShotTrigger activates all of its targets the first time it
// fires.  Most targets cannot be restarted, so firing twice is a
// programming error.
type SingleShotTrigger struct {
	trigger
	done bool
}

// NewSingleShotTrigger creates a single-shot trigger.
func NewSingleShotTrigger(eventlist *EventList, id TriggerID) *SingleShotTrigger {
	return &SingleShotTrigger{trigger: trigger{eventlist: eventlist, id: id}}
}

// Activate fires the trigger, enqueueing every target on the
// scheduler's trigger stack.
func (t *SingleShotTrigger) Activate() {
	if t.done {
		log.Panicf("sim: single-shot trigger %d fired twice", t.id)
	}
	if len(t.targets) == 0 {
		log.Panicf("sim: single-shot trigger %d has no targets", t.id)
	}
	for _, target := range t.targets {
		t.eventlist.ActivateTrigger(target)
	}
	t.done = true
}

// MultiShotTrigger activates the next target, in order, on each firing.
type MultiShotTrigger struct {
	trigger
	next int
}

// NewMultiShotTrigger creates a multi-shot trigger.
func NewMultiShotTrigger(eventlist *EventList, id TriggerID) *MultiShotTrigger {
	return &MultiShotTrigger{trigger: trigger{eventlist: eventlist, id: id}}
}

// Activate fires the next target.  Firing past the last target is a
// no-op.
func (t *MultiShotTrigger) Activate() {
	if t.next >= len(t.targets) {
		return
	}
	t.eventlist.ActivateTrigger(t.targets[t.next])
	t.next++
}

// BarrierTrigger fires all of its targets on the Nth activation;
// earlier activations only count down.
type BarrierTrigger struct {
	trigger
	remaining int
}

// NewBarrierTrigger creates a barrier trigger needing count
// activations.
func NewBarrierTrigger(eventlist *EventList, id TriggerID, count int) *BarrierTrigger {
	return &BarrierTrigger{trigger: trigger{eventlist: eventlist, id: id}, remaining: count}
}

// Activate counts down; on reaching zero it enqueues every target.
func (t *BarrierTrigger) Activate() {
	if t.remaining <= 0 {
		log.Panicf("sim: barrier trigger %d activated too many times", t.id)
	}
	t.remaining--
	if t.remaining > 0 {
		return
	}
	if len(t.targets) == 0 {
		log.Panicf("sim: barrier trigger %d has no targets", t.id)
	}
	for _, target := range t.targets {
		t.eventlist.ActivateTrigger(target)
	}
}
