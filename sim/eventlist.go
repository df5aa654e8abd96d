package sim

import (
	"log"
	"sort"
)

// EventSource is anything that can be scheduled on an EventList.  The
// scheduler delivers the current simulation time with each callback.
type EventSource interface {
	DoNextEvent(now Time)
}

// TriggerTarget is activated immediately, with no simulated time
// passing, when a trigger fires.
type TriggerTarget interface {
	Activate()
}

// Handle identifies one pending (time, source) entry so it can be
// cancelled precisely even when the same source is scheduled at several
// times.
type Handle struct {
	when Time
	src  EventSource
}

// NullHandle returns an invalid handle.
func NullHandle() Handle {
	return Handle{}
}

// Valid reports whether h references a pending entry.
func (h Handle) Valid() bool {
	return h.src != nil
}

// When returns the scheduled time of the handle's entry.
func (h Handle) When() Time {
	return h.when
}

// EventList is the event scheduler.  It keeps a time-ordered multimap
// of pending sources (FIFO within a timestamp), a LIFO stack of pending
// trigger targets, and the current simulation time.
//
// EventList is not threadsafe: the simulation is single-threaded and
// all work happens inside DoNextEvent callbacks.
type EventList struct {
	endTime       Time
	lastEventTime Time
	triggers      []TriggerTarget
	pending       map[Time][]EventSource
	times         []Time // sorted ascending, keys of pending
}

// NewEventList creates an empty scheduler starting at time zero.
func NewEventList() *EventList {
	return &EventList{pending: make(map[Time][]EventSource)}
}

// SetEndTime stops event dispatch at end: events at or after it are
// silently not scheduled.  Zero means no end time.
func (e *EventList) SetEndTime(end Time) {
	e.endTime = end
}

// EndTime returns the configured end time (zero if none).
func (e *EventList) EndTime() Time {
	return e.endTime
}

// Now returns the current simulation time.
func (e *EventList) Now() Time {
	return e.lastEventTime
}

// PendingCount returns the number of pending timed events.
func (e *EventList) PendingCount() int {
	n := 0
	for _, srcs := range e.pending {
		n += len(srcs)
	}
	return n
}

func (e *EventList) insert(src EventSource, when Time) {
	slot, ok := e.pending[when]
	if !ok {
		i := sort.Search(len(e.times), func(i int) bool { return e.times[i] >= when })
		e.times = append(e.times, 0)
		copy(e.times[i+1:], e.times[i:])
		e.times[i] = when
	}
	e.pending[when] = append(slot, src)
}

func (e *EventList) removeTime(when Time) {
	delete(e.pending, when)
	i := sort.Search(len(e.times), func(i int) bool { return e.times[i] >= when })
	if i < len(e.times) && e.times[i] == when {
		e.times = append(e.times[:i], e.times[i+1:]...)
	}
}

// Schedule adds src to the pending set at time when.  A when in the
// past is clamped to now.  If an end time is set and when falls at or
// beyond it, the event is dropped.
func (e *EventList) Schedule(src EventSource, when Time) {
	if when < e.lastEventTime {
		when = e.lastEventTime
	}
	if e.endTime != 0 && when >= e.endTime {
		return
	}
	e.insert(src, when)
}

// ScheduleRel schedules src delta picoseconds from now.
func (e *EventList) ScheduleRel(src EventSource, delta Time) {
	e.Schedule(src, e.lastEventTime+delta)
}

// ScheduleHandle schedules src at when and returns a handle for precise
// cancellation.  Scheduling in the past is a programming error.
func (e *EventList) ScheduleHandle(src EventSource, when Time) Handle {
	if when < e.lastEventTime {
		log.Panicf("sim: cannot schedule event in the past (when=%d now=%d)", when, e.lastEventTime)
	}
	if e.endTime != 0 && when >= e.endTime {
		return NullHandle()
	}
	e.insert(src, when)
	return Handle{when: when, src: src}
}

// Cancel removes the first pending entry for src, scanning time slots
// in time order.  A src with no pending entry is a silent no-op.
func (e *EventList) Cancel(src EventSource) {
	for _, when := range e.times {
		slot := e.pending[when]
		for i, s := range slot {
			if s == src {
				slot = append(slot[:i], slot[i+1:]...)
				if len(slot) == 0 {
					e.removeTime(when)
				} else {
					e.pending[when] = slot
				}
				return
			}
		}
	}
}

// CancelAt removes one pending entry for src at exactly when.  The
// entry must exist; a miss is a programming error.
func (e *EventList) CancelAt(src EventSource, when Time) {
	slot, ok := e.pending[when]
	if ok {
		for i, s := range slot {
			if s == src {
				slot = append(slot[:i], slot[i+1:]...)
				if len(slot) == 0 {
					e.removeTime(when)
				} else {
					e.pending[when] = slot
				}
				return
			}
		}
	}
	log.Panicf("sim: CancelAt: no pending event for source at t=%d", when)
}

// CancelByHandle removes the entry h refers to.  The handle must be
// valid, must belong to src, and must reference a future time.
func (e *EventList) CancelByHandle(src EventSource, h Handle) {
	if !h.Valid() {
		log.Panicf("sim: CancelByHandle: invalid handle")
	}
	if h.src != src {
		log.Panicf("sim: CancelByHandle: handle source mismatch")
	}
	if h.when < e.lastEventTime {
		log.Panicf("sim: CancelByHandle: handle time %d is in the past (now=%d)", h.when, e.lastEventTime)
	}
	e.CancelAt(src, h.when)
}

// Reschedule cancels src's first pending entry (if any) and schedules
// it again at when.
func (e *EventList) Reschedule(src EventSource, when Time) {
	e.Cancel(src)
	e.Schedule(src, when)
}

// ActivateTrigger pushes target onto the trigger stack.  Pending
// triggers fire, LIFO, before the next timed event, with no simulated
// time passing.
func (e *EventList) ActivateTrigger(target TriggerTarget) {
	e.triggers = append(e.triggers, target)
}

// DoNextEvent dispatches one pending trigger or the earliest timed
// event.  It returns false when nothing is pending.
func (e *EventList) DoNextEvent() bool {
	if n := len(e.triggers); n > 0 {
		target := e.triggers[n-1]
		e.triggers = e.triggers[:n-1]
		target.Activate()
		return true
	}
	if len(e.times) == 0 {
		return false
	}
	when := e.times[0]
	slot := e.pending[when]
	src := slot[0]
	if len(slot) == 1 {
		e.removeTime(when)
	} else {
		e.pending[when] = slot[1:]
	}
	if when < e.lastEventTime {
		log.Panicf("sim: time went backwards: %d < %d", when, e.lastEventTime)
	}
	e.lastEventTime = when
	src.DoNextEvent(when)
	return true
}
