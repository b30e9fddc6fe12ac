package nqsim

// cobalt.go holds the CoDel+BLUE hybrid AQM disc.  The CoDel side
// watches how long packets sojourn in the queue and, once the delay
// has stayed above target for a full interval, enters a dropping state
// whose drop spacing tightens as interval/sqrt(count).  The BLUE side
// keeps a marking probability that rises when the queue overflows and
// decays when it drains empty.  Either signal firing drops the packet,
// or marks it instead when ECN applies.

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
)

// recInvSqrtCache holds exact 1/sqrt(count) for small counts.  A
// single Newton step is too inaccurate at these values to seed the
// running approximation from, so they are computed outright
var recInvSqrtCache [17]float64

func init() {
	for count := 1; count <= 16; count += 1 {
		recInvSqrtCache[count] = 1.0 / math.Sqrt(float64(count))
	}
}

// CobaltParams is the serializable configuration of a Cobalt disc.
// Durations are seconds
type CobaltParams struct {
	MaxSize     string  `json:"maxsize" yaml:"maxsize"`
	Target      float64 `json:"target" yaml:"target"`
	Interval    float64 `json:"interval" yaml:"interval"`
	Increment   float64 `json:"increment" yaml:"increment"`
	Decrement   float64 `json:"decrement" yaml:"decrement"`
	UseEcn      bool    `json:"useecn" yaml:"useecn"`
	CeThreshold float64 `json:"cethreshold" yaml:"cethreshold"`
	Mtu         int     `json:"mtu" yaml:"mtu"`
}

// DefaultCobaltParams returns the parameter values an empty
// configuration stanza gets
func DefaultCobaltParams() CobaltParams {
	return CobaltParams{
		MaxSize:   "1024p",
		Target:    5e-3,
		Interval:  100e-3,
		Increment: 1.0 / 256.0,
		Decrement: 1.0 / 4096.0,
		Mtu:       1500,
	}
}

// CobaltQueueDisc is a single-queue AQM disc
type CobaltQueueDisc struct {
	queueDiscState
	name string

	q []*QueueDiscItem

	targetTicks      int64
	intervalTicks    int64
	ceThresholdTicks int64 // zero disables CE threshold marking
	useEcn           bool
	mtu              int

	// CoDel control law state
	count      int64
	lastCount  int64
	recInvSqrt float64
	dropping   bool
	dropNext   int64
	firstAbove int64 // zero means sojourn is not above target

	// BLUE control law state
	pDrop          float64
	increment      float64
	decrement      float64
	lastUpdateBlue int64

	rngstrm *rngstream.RngStream
}

// CreateCobaltQueueDisc is a constructor
func CreateCobaltQueueDisc(name string, params CobaltParams, monitor *QueueDiscMonitor) *CobaltQueueDisc {
	if params.Target <= 0.0 || params.Interval <= 0.0 {
		panic(fmt.Sprintf("disc %s configured with non-positive target or interval", name))
	}
	if params.Increment < 0.0 || params.Decrement < 0.0 ||
		params.Increment > 1.0 || params.Decrement > 1.0 {
		panic(fmt.Sprintf("disc %s BLUE increment/decrement outside [0,1]", name))
	}

	cob := new(CobaltQueueDisc)
	cob.name = name
	cob.maxSize = ParseQueueSize(params.MaxSize)
	cob.monitor = monitor
	cob.q = make([]*QueueDiscItem, 0)
	cob.targetTicks = SecondsToTime(params.Target).Ticks()
	cob.intervalTicks = SecondsToTime(params.Interval).Ticks()
	cob.ceThresholdTicks = SecondsToTime(params.CeThreshold).Ticks()
	cob.useEcn = params.UseEcn
	cob.mtu = params.Mtu
	if cob.mtu == 0 {
		cob.mtu = 1500
	}
	cob.recInvSqrt = 1.0
	cob.increment = params.Increment
	cob.decrement = params.Decrement
	cob.rngstrm = rngstream.New(name)
	return cob
}

// NPckts returns current packet occupancy
func (cob *CobaltQueueDisc) NPckts() int {
	return cob.nPckts
}

// NBytes returns current byte occupancy
func (cob *CobaltQueueDisc) NBytes() int {
	return cob.nBytes
}

// Pdrop returns the BLUE marking probability
func (cob *CobaltQueueDisc) Pdrop() float64 {
	return cob.pDrop
}

// InDroppingState reports whether the CoDel law is in its dropping state
func (cob *CobaltQueueDisc) InDroppingState() bool {
	return cob.dropping
}

// updateInvSqrt refreshes the cached reciprocal square root of count.
// Small counts read the exact table; larger ones take one Newton step
// from the previous approximation, which stays accurate because count
// only moves by one between steps
func (cob *CobaltQueueDisc) updateInvSqrt() {
	if cob.count <= 0 {
		cob.recInvSqrt = 1.0
		return
	}
	if cob.count <= 16 {
		cob.recInvSqrt = recInvSqrtCache[cob.count]
		return
	}
	r := cob.recInvSqrt
	cob.recInvSqrt = r * (1.5 - 0.5*float64(cob.count)*r*r)
}

// controlLaw gives the next drop time after t
func (cob *CobaltQueueDisc) controlLaw(t int64) int64 {
	return t + int64(float64(cob.intervalTicks)*cob.recInvSqrt)
}

// blueFull reacts to the queue hitting its ceiling.  Updates are
// spaced at least a target apart so one burst counts once
func (cob *CobaltQueueDisc) blueFull(now int64) {
	if now-cob.lastUpdateBlue <= cob.targetTicks {
		return
	}
	cob.pDrop = math.Min(1.0, cob.pDrop+cob.increment)
	cob.lastUpdateBlue = now
}

// blueEmpty reacts to the queue draining empty
func (cob *CobaltQueueDisc) blueEmpty(now int64) {
	if cob.pDrop == 0.0 || now-cob.lastUpdateBlue <= cob.targetTicks {
		return
	}
	cob.pDrop = math.Max(0.0, cob.pDrop-cob.decrement)
	cob.lastUpdateBlue = now
}

// Enqueue admits the item unless the queue is at its ceiling.  An
// overflow drop is also the BLUE "queue became full" event
func (cob *CobaltQueueDisc) Enqueue(evtMgr *EventManager, item *QueueDiscItem) bool {
	cob.received(item)

	if cob.full(item) {
		cob.blueFull(evtMgr.CurrentTicks())
		cob.dropped(item)
		cob.monitor.drop(item, QueueFullDrop, evtMgr.CurrentTime())
		return false
	}

	item.SetTimestamp(evtMgr.CurrentTime())
	cob.q = append(cob.q, item)
	cob.admitted(item)
	cob.monitor.enqueue(item, evtMgr.CurrentTime())
	return true
}

// doDequeue pops the head and reports whether its sojourn time has
// been above target long enough that dropping is justified
func (cob *CobaltQueueDisc) doDequeue(now int64) (*QueueDiscItem, bool) {
	if len(cob.q) == 0 {
		cob.firstAbove = 0
		return nil, false
	}

	item := cob.q[0]
	cob.q = cob.q[1:]
	cob.removed(item)

	sojourn := now - item.Timestamp().Ticks()
	okToDrop := false
	if sojourn < cob.targetTicks || cob.nBytes < cob.mtu {
		// went below target, forget the episode
		cob.firstAbove = 0
	} else {
		if cob.firstAbove == 0 {
			// just went above from below; only after staying above
			// for a full interval is dropping justified
			cob.firstAbove = now + cob.intervalTicks
		} else if now >= cob.firstAbove {
			okToDrop = true
		}
	}
	return item, okToDrop
}

// Dequeue removes the next admitted packet, applying the CoDel and
// BLUE control laws on the way out.  With ECN enabled a capable packet
// is marked and delivered where an incapable one would have dropped
func (cob *CobaltQueueDisc) Dequeue(evtMgr *EventManager) *QueueDiscItem {
	now := evtMgr.CurrentTicks()
	vrt := evtMgr.CurrentTime()

	item, okToDrop := cob.doDequeue(now)
	if item == nil {
		cob.dropping = false
		cob.blueEmpty(now)
		return nil
	}

	if cob.dropping {
		if !okToDrop {
			// sojourn fell below target, leave the dropping state
			cob.dropping = false
		}
		for cob.dropping && now >= cob.dropNext {
			if cob.useEcn && item.Pckt.EcnCapable {
				item.Mark()
				cob.totalMarkPckts += 1
				cob.monitor.mark(item, TargetExceededMark, vrt)
				cob.count += 1
				cob.updateInvSqrt()
				cob.dropNext = cob.controlLaw(cob.dropNext)
				break
			}

			cob.dropped(item)
			cob.monitor.drop(item, TargetExceededDrop, vrt)
			cob.count += 1
			cob.updateInvSqrt()

			item, okToDrop = cob.doDequeue(now)
			if item == nil {
				cob.dropping = false
				cob.blueEmpty(now)
				return nil
			}
			if !okToDrop {
				cob.dropping = false
			} else {
				cob.dropNext = cob.controlLaw(cob.dropNext)
			}
		}
	} else if okToDrop {
		// entering the dropping state.  If the last episode ended
		// recently, resume near its drop rate rather than starting
		// the control law over from one
		if cob.useEcn && item.Pckt.EcnCapable {
			item.Mark()
			cob.totalMarkPckts += 1
			cob.monitor.mark(item, TargetExceededMark, vrt)
		} else {
			cob.dropped(item)
			cob.monitor.drop(item, TargetExceededDrop, vrt)
			item, okToDrop = cob.doDequeue(now)
			if item == nil {
				cob.blueEmpty(now)
				return nil
			}
		}
		cob.dropping = true
		delta := cob.count - cob.lastCount
		cob.count = 1
		if delta > 1 && now-cob.dropNext < 16*cob.intervalTicks {
			cob.count = delta
		}
		cob.updateInvSqrt()
		cob.dropNext = cob.controlLaw(now)
		cob.lastCount = cob.count
	}

	// BLUE: with probability pDrop the packet goes regardless of what
	// the delay law decided
	if cob.pDrop > 0.0 && cob.rngstrm.RandU01() < cob.pDrop {
		if cob.useEcn && item.Pckt.EcnCapable {
			item.Mark()
			cob.totalMarkPckts += 1
			cob.monitor.mark(item, ForcedMark, vrt)
		} else {
			cob.dropped(item)
			cob.monitor.drop(item, ForcedDrop, vrt)
			return cob.Dequeue(evtMgr)
		}
	}

	// L4S style marking on a shallow delay threshold
	if cob.ceThresholdTicks > 0 && now-item.Timestamp().Ticks() > cob.ceThresholdTicks {
		if item.Mark() {
			cob.totalMarkPckts += 1
			cob.monitor.mark(item, CeThresholdMark, vrt)
		}
	}

	cob.monitor.dequeue(item, vrt)
	return item
}

// Peek returns the head item without removing it
func (cob *CobaltQueueDisc) Peek(evtMgr *EventManager) *QueueDiscItem {
	if len(cob.q) == 0 {
		return nil
	}
	return cob.q[0]
}

// Evict removes the head item without consulting the control laws.
// Overload eviction in a parent disc uses it; the parent owns the
// drop accounting
func (cob *CobaltQueueDisc) Evict() *QueueDiscItem {
	if len(cob.q) == 0 {
		return nil
	}
	item := cob.q[0]
	cob.q = cob.q[1:]
	cob.removed(item)
	return item
}
