package sim

// Clock is a periodic event source.  It does no work of its own beyond
// counting ticks; hosts use it to pace progress reporting.
type Clock struct {
	eventlist *EventList
	period    Time
	ticks     int64
}

// NewClock creates a clock and schedules its first tick one period from
// now.
func NewClock(period Time, eventlist *EventList) *Clock {
	c := &Clock{eventlist: eventlist, period: period}
	eventlist.ScheduleRel(c, period)
	return c
}

// DoNextEvent counts the tick and schedules the next one.
func (c *Clock) DoNextEvent(now Time) {
	c.ticks++
	c.eventlist.Schedule(c, now+c.period)
}

// Ticks returns how many times the clock has fired.
func (c *Clock) Ticks() int64 {
	return c.ticks
}
