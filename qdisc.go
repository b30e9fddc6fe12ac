package nqsim

// qdisc.go holds the generic queue discipline machinery: the QueueDisc
// interface every discipline implements, the occupancy and total
// counters they share, the monitor hooks external code observes them
// through, and the root driver that drains a disc into a device
// transmit queue.

import (
	"fmt"
	"strconv"
	"strings"
)

// QueueDisc is the call shape shared by every queueing discipline.
// Methods that can consult or advance per-packet state take the event
// manager so the disc can read the virtual clock
type QueueDisc interface {
	// Enqueue offers an item to the disc.  A false return means the
	// disc dropped it (and already reported the drop to its monitor)
	Enqueue(evtMgr *EventManager, item *QueueDiscItem) bool

	// Dequeue removes and returns the next item the discipline
	// selects, or nil when it has nothing to give
	Dequeue(evtMgr *EventManager) *QueueDiscItem

	// Peek returns the item Dequeue would consider next without
	// removing it, or nil
	Peek(evtMgr *EventManager) *QueueDiscItem

	// Evict removes the head item without running the discipline's
	// admission or control laws.  Overload eviction uses it
	Evict() *QueueDiscItem

	NPckts() int
	NBytes() int
}

// QueueDiscMonitor is the observability surface of a disc.  Each field
// is optional; a nil field costs nothing.  The disc calls these hooks
// synchronously, so handlers must not re-enter the disc
type QueueDiscMonitor struct {
	EnqueueF func(item *QueueDiscItem, vrt Time)
	DequeueF func(item *QueueDiscItem, vrt Time)
	DropF    func(item *QueueDiscItem, reason DropReason, vrt Time)
	MarkF    func(item *QueueDiscItem, reason MarkReason, vrt Time)
}

func (mon *QueueDiscMonitor) enqueue(item *QueueDiscItem, vrt Time) {
	if mon != nil && mon.EnqueueF != nil {
		mon.EnqueueF(item, vrt)
	}
}

func (mon *QueueDiscMonitor) dequeue(item *QueueDiscItem, vrt Time) {
	if mon != nil && mon.DequeueF != nil {
		mon.DequeueF(item, vrt)
	}
}

func (mon *QueueDiscMonitor) drop(item *QueueDiscItem, reason DropReason, vrt Time) {
	if mon != nil && mon.DropF != nil {
		mon.DropF(item, reason, vrt)
	}
}

func (mon *QueueDiscMonitor) mark(item *QueueDiscItem, reason MarkReason, vrt Time) {
	if mon != nil && mon.MarkF != nil {
		mon.MarkF(item, reason, vrt)
	}
}

// SizeUnit selects whether a QueueSize counts packets or bytes
type SizeUnit int

const (
	PcktsUnit SizeUnit = iota
	BytesUnit
)

// QueueSize is an admission ceiling, in packets or in bytes
type QueueSize struct {
	Unit  SizeUnit
	Value int
}

// ParseQueueSize turns the configuration form of a queue size, e.g.
// "100p" or "65536b", into a QueueSize.  A malformed size is a
// configuration error and panics
func ParseQueueSize(qs string) QueueSize {
	qs = strings.TrimSpace(qs)
	if len(qs) < 2 {
		panic(fmt.Sprintf("malformed queue size %q", qs))
	}
	value, err := strconv.Atoi(qs[:len(qs)-1])
	if err != nil || value <= 0 {
		panic(fmt.Sprintf("malformed queue size %q", qs))
	}
	switch qs[len(qs)-1] {
	case 'p', 'P':
		return QueueSize{Unit: PcktsUnit, Value: value}
	case 'b', 'B':
		return QueueSize{Unit: BytesUnit, Value: value}
	}
	panic(fmt.Sprintf("malformed queue size %q", qs))
}

// queueDiscState holds the counters every disc maintains.  nPckts and
// nBytes track current occupancy and move both directions; the totals
// only ever increase
type queueDiscState struct {
	nPckts int
	nBytes int

	totalRcvdPckts int
	totalRcvdBytes int
	totalDropPckts int
	totalDropBytes int
	totalMarkPckts int

	maxSize QueueSize
	monitor *QueueDiscMonitor
}

// over reports whether current occupancy exceeds the admission ceiling
func (qds *queueDiscState) over() bool {
	if qds.maxSize.Unit == BytesUnit {
		return qds.nBytes > qds.maxSize.Value
	}
	return qds.nPckts > qds.maxSize.Value
}

// full reports whether one more item of the given size would exceed
// the admission ceiling
func (qds *queueDiscState) full(item *QueueDiscItem) bool {
	if qds.maxSize.Unit == BytesUnit {
		return qds.nBytes+item.Size() > qds.maxSize.Value
	}
	return qds.nPckts+1 > qds.maxSize.Value
}

// received counts every item offered to the disc, admitted or not
func (qds *queueDiscState) received(item *QueueDiscItem) {
	qds.totalRcvdPckts += 1
	qds.totalRcvdBytes += item.Size()
}

func (qds *queueDiscState) admitted(item *QueueDiscItem) {
	qds.nPckts += 1
	qds.nBytes += item.Size()
}

func (qds *queueDiscState) removed(item *QueueDiscItem) {
	qds.nPckts -= 1
	qds.nBytes -= item.Size()
}

func (qds *queueDiscState) dropped(item *QueueDiscItem) {
	qds.totalDropPckts += 1
	qds.totalDropBytes += item.Size()
}

// droppedBelow folds packets a child disc shed internally into this
// disc's occupancy and drop totals, keeping aggregate accounting
// closed when the child drops on its own
func (qds *queueDiscState) droppedBelow(pckts, bytes int) {
	qds.nPckts -= pckts
	qds.nBytes -= bytes
	qds.totalDropPckts += pckts
	qds.totalDropBytes += bytes
}

// RootQueueDisc drives a queue disc into a device transmit queue.  It
// owns the single requeue slot for items the device refused, bounds
// the work done per Run call by a quota, and guards against re-entrant
// runs triggered from inside its own event handlers
type RootQueueDisc struct {
	name     string
	disc     QueueDisc
	dev      *NetDevQueue
	quota    int
	requeued *QueueDiscItem
	running  bool

	// totals for the driver itself
	transmitted   int
	requeueEvents int
}

// DefaultQuota bounds dequeue-and-transmit attempts per Run call
const DefaultQuota int = 64

// CreateRootQueueDisc is a constructor.  It registers itself for the
// device's wake callback so a stalled run resumes when the device
// transmit queue reopens
func CreateRootQueueDisc(name string, disc QueueDisc, dev *NetDevQueue, quota int) *RootQueueDisc {
	if quota <= 0 {
		quota = DefaultQuota
	}
	rqd := new(RootQueueDisc)
	rqd.name = name
	rqd.disc = disc
	rqd.dev = dev
	rqd.quota = quota
	dev.setWake(rqd, reawakenRootDisc)
	return rqd
}

// Disc returns the queue disc under the driver
func (rqd *RootQueueDisc) Disc() QueueDisc {
	return rqd.disc
}

// Transmitted returns the number of items handed to the device
func (rqd *RootQueueDisc) Transmitted() int {
	return rqd.transmitted
}

// RequeueEvents returns the number of transmit failures that parked an
// item in the requeue slot
func (rqd *RootQueueDisc) RequeueEvents() int {
	return rqd.requeueEvents
}

// Enqueue offers an item to the underlying disc and starts a run to
// push work toward the device
func (rqd *RootQueueDisc) Enqueue(evtMgr *EventManager, item *QueueDiscItem) bool {
	ok := rqd.disc.Enqueue(evtMgr, item)
	rqd.Run(evtMgr)
	return ok
}

// Run drains up to quota items from the disc into the device.  A
// transmit refusal parks the item in the requeue slot and ends the
// run; the device's wake callback restarts it.  Re-entry from a
// handler fired inside the run is ignored
func (rqd *RootQueueDisc) Run(evtMgr *EventManager) {
	if !rqd.runBegin() {
		return
	}
	defer rqd.runEnd()

	for quota := rqd.quota; quota > 0; quota -= 1 {
		if !rqd.restart(evtMgr) {
			break
		}
	}
}

// runBegin returns false if a run is already in progress
func (rqd *RootQueueDisc) runBegin() bool {
	if rqd.running {
		return false
	}
	rqd.running = true
	return true
}

func (rqd *RootQueueDisc) runEnd() {
	rqd.running = false
}

// restart performs one dequeue-and-transmit step, reporting whether
// the run should continue
func (rqd *RootQueueDisc) restart(evtMgr *EventManager) bool {
	item := rqd.dequeuePacket(evtMgr)
	if item == nil {
		return false
	}
	return rqd.transmit(evtMgr, item)
}

// dequeuePacket prefers a previously requeued item over a fresh
// dequeue, and skips the fresh dequeue entirely while the device
// transmit queue is stopped
func (rqd *RootQueueDisc) dequeuePacket(evtMgr *EventManager) *QueueDiscItem {
	if rqd.requeued != nil {
		item := rqd.requeued
		rqd.requeued = nil
		return item
	}
	if rqd.dev.IsStopped() {
		return nil
	}
	return rqd.disc.Dequeue(evtMgr)
}

// requeue parks an item the device refused.  The slot holds exactly
// one item; the driver never dequeues a second before the slot clears
func (rqd *RootQueueDisc) requeue(item *QueueDiscItem) {
	if rqd.requeued != nil {
		panic("requeue slot occupied")
	}
	rqd.requeued = item
	rqd.requeueEvents += 1
}

// transmit hands an item to the device.  A refusal, or the device
// queue stopping as a side effect of the send, requeues the item and
// ends the run
func (rqd *RootQueueDisc) transmit(evtMgr *EventManager, item *QueueDiscItem) bool {
	if !rqd.dev.Send(evtMgr, item) {
		rqd.requeue(item)
		return false
	}
	rqd.transmitted += 1

	// the send may have filled the device ring
	if rqd.dev.IsStopped() {
		return false
	}
	return true
}

// reawakenRootDisc is the event handler the device schedules when its
// transmit queue reopens
func reawakenRootDisc(evtMgr *EventManager, context any, data any) any {
	rqd := context.(*RootQueueDisc)
	rqd.Run(evtMgr)
	return nil
}
