package nqsim

// device.go holds the model of a network device transmit queue.  The
// device accepts items from the root queue disc driver, holds them in
// a bounded ring while their serialization delay elapses on the
// virtual clock, and wakes the driver when a stopped ring reopens.

import (
	"fmt"
	"github.com/iti/rngstream"
)

// NetDevQueue models the transmit side of a network device.  bndwdth
// is in Mbits/sec, the unit used throughout the configuration files
type NetDevQueue struct {
	name    string
	bndwdth float64 // Mbits/sec
	mtu     int
	ring    int // items accepted and not yet serialized
	limit   int // ring occupancy at which the queue stops
	stopped bool

	// probability an offered item is refused outright, exercising the
	// driver's requeue path.  Zero in ordinary experiments
	prRefuse float64
	rngstrm  *rngstream.RngStream

	wakeCxt  any
	wakeFunc EventHandlerFunction

	delivered      int
	deliveredBytes int
}

// CreateNetDevQueue is a constructor
func CreateNetDevQueue(name string, bndwdth float64, mtu int, limit int) *NetDevQueue {
	if bndwdth <= 0.0 {
		panic(fmt.Sprintf("device %s configured with non-positive bandwidth", name))
	}
	if limit < 1 {
		panic(fmt.Sprintf("device %s configured with ring limit %d", name, limit))
	}
	ndq := new(NetDevQueue)
	ndq.name = name
	ndq.bndwdth = bndwdth
	ndq.mtu = mtu
	ndq.limit = limit
	ndq.rngstrm = rngstream.New(name)
	return ndq
}

// SetRefuseProb sets the probability an offered item is refused
func (ndq *NetDevQueue) SetRefuseProb(prRefuse float64) {
	ndq.prRefuse = prRefuse
}

// MTU returns the device MTU, used to derive a DRR quantum when the
// configuration leaves it unset
func (ndq *NetDevQueue) MTU() int {
	return ndq.mtu
}

// Name returns the device name
func (ndq *NetDevQueue) Name() string {
	return ndq.name
}

// Delivered returns the count of items whose serialization completed
func (ndq *NetDevQueue) Delivered() int {
	return ndq.delivered
}

// DeliveredBytes returns the byte count of completed serializations
func (ndq *NetDevQueue) DeliveredBytes() int {
	return ndq.deliveredBytes
}

// IsStopped reports whether the transmit queue has stopped accepting
func (ndq *NetDevQueue) IsStopped() bool {
	return ndq.stopped
}

// setWake registers the handler scheduled when a stopped queue reopens
func (ndq *NetDevQueue) setWake(cxt any, wake EventHandlerFunction) {
	ndq.wakeCxt = cxt
	ndq.wakeFunc = wake
}

// Send offers an item to the device.  A false return is a transient
// refusal the caller recovers from by requeueing.  On acceptance the
// item occupies the ring until its serialization delay elapses
func (ndq *NetDevQueue) Send(evtMgr *EventManager, item *QueueDiscItem) bool {
	if ndq.stopped {
		return false
	}
	if ndq.prRefuse > 0.0 && ndq.rngstrm.RandU01() < ndq.prRefuse {
		return false
	}

	ndq.ring += 1
	if ndq.ring >= ndq.limit {
		ndq.stopped = true
	}

	// serialization time of the frame at the device bandwidth
	frameLenMbits := float64(item.Size()*8) / 1e6
	serviceTime := frameLenMbits / ndq.bndwdth
	evtMgr.Schedule(ndq, item, serializationComplete, SecondsToTime(serviceTime))
	return true
}

// serializationComplete fires when an item finishes leaving the
// device.  Reopening a stopped ring wakes the root disc driver
func serializationComplete(evtMgr *EventManager, context any, data any) any {
	ndq := context.(*NetDevQueue)
	item := data.(*QueueDiscItem)

	ndq.ring -= 1
	ndq.delivered += 1
	ndq.deliveredBytes += item.Size()

	if ndq.stopped && ndq.ring < ndq.limit {
		ndq.stopped = false
		if ndq.wakeFunc != nil {
			evtMgr.ScheduleNow(ndq.wakeCxt, nil, ndq.wakeFunc)
		}
	}
	return nil
}
