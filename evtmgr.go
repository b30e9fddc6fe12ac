package nqsim

// evtmgr.go holds the event manager, the discrete-event engine that
// advances the virtual clock.  Every component that needs delayed or
// periodic behavior (device transmissions, AQM probability updates,
// traffic arrivals) schedules an event handler here and is called back
// when the clock reaches the event's time.

import (
	"container/heap"
	"fmt"
)

// EventHandlerFunction is the signature of every scheduled callback.
// The first argument is the event manager executing the event, so the
// handler can schedule follow-on events.  context carries the object
// the event concerns, data whatever the scheduling call wanted returned
type EventHandlerFunction func(*EventManager, any, any) any

// EventID identifies a scheduled event, and is the caller's handle for
// cancelling it or asking about it later.  An EventID stays valid after
// the event fires or is cancelled, it just reports as expired
type EventID int64

// event is the scheduler's internal record of one pending callback
type event struct {
	evtID     EventID
	time      Time  // virtual time at which the event fires
	seq       int64 // insertion sequence, breaks ties among equal times
	context   any
	data      any
	handler   EventHandlerFunction
	cancelled bool
}

// eventHeap and its methods implement a min-priority heap ordered by
// (tick count, time priority, insertion sequence).  The sequence
// component guarantees FIFO execution among events scheduled for the
// same instant, which deterministic replay depends on
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].time.EQ(h[j].time) {
		return h[i].time.LT(h[j].time)
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// EventManager holds the totally-ordered multiset of pending events and
// the current virtual time.  Execution is single-threaded and
// cooperative: a handler runs to completion before the next event pops
type EventManager struct {
	now     Time
	pending eventHeap
	live    map[EventID]*event // events scheduled but not yet fired or cancelled
	nxtID   EventID
	nxtSeq  int64
	running bool
	stopSet bool
	stopAt  Time
}

// CreateEventManager is a constructor
func CreateEventManager() *EventManager {
	evtMgr := new(EventManager)
	evtMgr.now = ZeroTime
	evtMgr.pending = make(eventHeap, 0)
	evtMgr.live = make(map[EventID]*event)
	heap.Init(&evtMgr.pending)
	return evtMgr
}

// CurrentTime returns the clock value as of the most recently fired
// event (or the stop time, once a stop threshold has been crossed)
func (evtMgr *EventManager) CurrentTime() Time {
	return evtMgr.now
}

// CurrentSeconds returns the current virtual time in seconds
func (evtMgr *EventManager) CurrentSeconds() float64 {
	return evtMgr.now.Seconds()
}

// CurrentTicks returns the current virtual time in ticks
func (evtMgr *EventManager) CurrentTicks() int64 {
	return evtMgr.now.Ticks()
}

// Schedule arranges for handler to be called at the current time plus
// the given offset, and returns an EventID usable for cancellation.
// A negative offset is a programming error and panics
func (evtMgr *EventManager) Schedule(context any, data any, handler EventHandlerFunction, offset Time) EventID {
	if offset.Ticks() < 0 {
		panic(fmt.Sprintf("negative schedule offset %d ticks", offset.Ticks()))
	}

	evtMgr.nxtID += 1
	evtMgr.nxtSeq += 1

	evt := &event{
		evtID:   evtMgr.nxtID,
		time:    Time{TickCnt: evtMgr.now.Ticks() + offset.Ticks(), Priority: offset.Pri()},
		seq:     evtMgr.nxtSeq,
		context: context,
		data:    data,
		handler: handler,
	}

	heap.Push(&evtMgr.pending, evt)
	evtMgr.live[evt.evtID] = evt
	return evt.evtID
}

// ScheduleNow schedules handler for the current virtual time.  The
// event goes behind any event already scheduled for this instant
// because the insertion sequence breaks the tie
func (evtMgr *EventManager) ScheduleNow(context any, data any, handler EventHandlerFunction) EventID {
	return evtMgr.Schedule(context, data, handler, SecondsToTime(0.0))
}

// CancelEvent marks the identified event inert.  After this call
// returns the handler is guaranteed not to run.  Cancelling an expired
// event is a no-op
func (evtMgr *EventManager) CancelEvent(evtID EventID) {
	evt, present := evtMgr.live[evtID]
	if !present {
		return
	}
	evt.cancelled = true
	delete(evtMgr.live, evtID)
}

// IsExpired reports whether the identified event has already fired or
// been cancelled
func (evtMgr *EventManager) IsExpired(evtID EventID) bool {
	_, present := evtMgr.live[evtID]
	return !present
}

// DelayLeft returns the virtual time remaining before the identified
// event fires.  Calling it on an expired event is a programming error
func (evtMgr *EventManager) DelayLeft(evtID EventID) Time {
	evt, present := evtMgr.live[evtID]
	if !present {
		panic(fmt.Sprintf("DelayLeft called on expired event %d", evtID))
	}
	return CreateTime(evt.time.Ticks()-evtMgr.now.Ticks(), evt.time.Pri())
}

// Stop sets a virtual time past which Run will not advance.  It may be
// called before Run or from inside an executing event handler
func (evtMgr *EventManager) Stop(at Time) {
	evtMgr.stopSet = true
	evtMgr.stopAt = at
}

// Run pops events in (time, sequence) order and executes their
// handlers until the pending set is empty or the stop threshold is
// reached.  A handler may schedule new events, including events for
// the current instant, which run after everything already ahead of
// them in the ordering
func (evtMgr *EventManager) Run() {
	if evtMgr.running {
		panic("Run called recursively on EventManager")
	}
	evtMgr.running = true
	defer func() { evtMgr.running = false }()

	for evtMgr.pending.Len() > 0 {
		evt := heap.Pop(&evtMgr.pending).(*event)

		// cancelled events were already removed from the live map,
		// they just linger in the heap until popped
		if evt.cancelled {
			continue
		}

		if evtMgr.stopSet && evtMgr.stopAt.LT(evt.time) {
			// push the event back so a later Run can resume, and
			// advance the clock to the stop threshold
			heap.Push(&evtMgr.pending, evt)
			evtMgr.now = evtMgr.stopAt
			return
		}

		evtMgr.now = evt.time
		delete(evtMgr.live, evt.evtID)
		evt.handler(evtMgr, evt.context, evt.data)
	}

	if evtMgr.stopSet && evtMgr.now.LT(evtMgr.stopAt) {
		evtMgr.now = evtMgr.stopAt
	}
}

// RunToTime sets the stop threshold and runs
func (evtMgr *EventManager) RunToTime(stop Time) {
	evtMgr.Stop(stop)
	evtMgr.Run()
}
