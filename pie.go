package nqsim

// pie.go holds the PIE (Proportional Integral controller Enhanced)
// AQM disc.  Every Tupdate the disc recomputes a drop probability from
// the level and trend of measured queueing delay; arrivals are then
// dropped (or ECN marked) at random with that probability.  A burst
// allowance suppresses early drops for short bursts, and an optional
// dequeue-rate estimator infers queueing delay from drain rate instead
// of per-packet timestamps.

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
)

// PieParams is the serializable configuration of a PIE disc.
// Durations are seconds
type PieParams struct {
	MaxSize                 string  `json:"maxsize" yaml:"maxsize"`
	A                       float64 `json:"a" yaml:"a"`
	B                       float64 `json:"b" yaml:"b"`
	Tupdate                 float64 `json:"tupdate" yaml:"tupdate"`
	QueueDelayReference     float64 `json:"queuedelayreference" yaml:"queuedelayreference"`
	MaxBurstAllowance       float64 `json:"maxburstallowance" yaml:"maxburstallowance"`
	UseEcn                  bool    `json:"useecn" yaml:"useecn"`
	MarkEcnThreshold        float64 `json:"markecnthreshold" yaml:"markecnthreshold"`
	UseDequeueRateEstimator bool    `json:"usedequeuerateestimator" yaml:"usedequeuerateestimator"`
	MeanPcktSize            int     `json:"meanpcktsize" yaml:"meanpcktsize"`
}

// DefaultPieParams returns the parameter values an empty configuration
// stanza gets, following RFC 8033 recommendations
func DefaultPieParams() PieParams {
	return PieParams{
		MaxSize:             "1024p",
		A:                   0.125,
		B:                   1.25,
		Tupdate:             15e-3,
		QueueDelayReference: 15e-3,
		MaxBurstAllowance:   150e-3,
		MarkEcnThreshold:    0.1,
		MeanPcktSize:        1000,
	}
}

// dqThresholdBytes is the byte count a measurement cycle of the
// dequeue rate estimator spans
const dqThresholdBytes int = 16384

// PieQueueDisc is a single-queue AQM disc
type PieQueueDisc struct {
	queueDiscState
	name string

	q []*QueueDiscItem

	a, b               float64
	tUpdate            float64
	qDelayRef          float64
	maxBurst           float64
	useEcn             bool
	markEcnTh          float64
	useDqRateEstimator bool
	meanPcktSize       int

	dropProb       float64
	qDelay         float64
	qDelayOld      float64
	burstAllowance float64

	// dequeue rate estimator state
	inMeasurement bool
	dqCount       int
	dqStart       float64
	avgDqRate     float64 // bytes per second

	rngstrm   *rngstream.RngStream
	updateEvt EventID
	stopped   bool
}

// CreatePieQueueDisc is a constructor.  It schedules the first
// probability update on the event manager; the update then reschedules
// itself every Tupdate until StopUpdates cancels it
func CreatePieQueueDisc(evtMgr *EventManager, name string, params PieParams, monitor *QueueDiscMonitor) *PieQueueDisc {
	if params.Tupdate <= 0.0 {
		panic(fmt.Sprintf("disc %s configured with non-positive Tupdate", name))
	}
	if params.QueueDelayReference <= 0.0 {
		panic(fmt.Sprintf("disc %s configured with non-positive queue delay reference", name))
	}

	pie := new(PieQueueDisc)
	pie.name = name
	pie.maxSize = ParseQueueSize(params.MaxSize)
	pie.monitor = monitor
	pie.q = make([]*QueueDiscItem, 0)
	pie.a = params.A
	pie.b = params.B
	pie.tUpdate = params.Tupdate
	pie.qDelayRef = params.QueueDelayReference
	pie.maxBurst = params.MaxBurstAllowance
	pie.useEcn = params.UseEcn
	pie.markEcnTh = params.MarkEcnThreshold
	pie.useDqRateEstimator = params.UseDequeueRateEstimator
	pie.meanPcktSize = params.MeanPcktSize
	if pie.meanPcktSize <= 0 {
		pie.meanPcktSize = 1000
	}
	pie.burstAllowance = params.MaxBurstAllowance
	pie.rngstrm = rngstream.New(name)

	pie.updateEvt = evtMgr.Schedule(pie, nil, pieUpdateTimer, SecondsToTime(pie.tUpdate))
	return pie
}

// StopUpdates cancels the periodic probability recomputation
func (pie *PieQueueDisc) StopUpdates(evtMgr *EventManager) {
	pie.stopped = true
	evtMgr.CancelEvent(pie.updateEvt)
}

// NPckts returns current packet occupancy
func (pie *PieQueueDisc) NPckts() int {
	return pie.nPckts
}

// NBytes returns current byte occupancy
func (pie *PieQueueDisc) NBytes() int {
	return pie.nBytes
}

// DropProb returns the current early-drop probability
func (pie *PieQueueDisc) DropProb() float64 {
	return pie.dropProb
}

// pieUpdateTimer is the event handler for the periodic recomputation
func pieUpdateTimer(evtMgr *EventManager, context any, data any) any {
	pie := context.(*PieQueueDisc)
	if pie.stopped {
		return nil
	}
	pie.calculateP(evtMgr)
	pie.updateEvt = evtMgr.Schedule(pie, nil, pieUpdateTimer, SecondsToTime(pie.tUpdate))
	return nil
}

// currentQDelay estimates the queueing delay, from the drain rate when
// the estimator is on and has a sample, otherwise from the head
// packet's sojourn time
func (pie *PieQueueDisc) currentQDelay(evtMgr *EventManager) float64 {
	if pie.useDqRateEstimator && pie.avgDqRate > 0.0 {
		return float64(pie.nBytes) / pie.avgDqRate
	}
	if len(pie.q) > 0 {
		return evtMgr.CurrentSeconds() - pie.q[0].Timestamp().Seconds()
	}
	return 0.0
}

// calculateP is the PI controller step run every Tupdate
func (pie *PieQueueDisc) calculateP(evtMgr *EventManager) {
	qDelay := pie.currentQDelay(evtMgr)

	p := pie.a*(qDelay-pie.qDelayRef) + pie.b*(qDelay-pie.qDelayOld)

	// auto-tune the adjustment to the operating region so the
	// controller neither crawls at tiny probabilities nor slams at
	// large ones
	switch {
	case pie.dropProb < 0.000001:
		p /= 2048.0
	case pie.dropProb < 0.00001:
		p /= 512.0
	case pie.dropProb < 0.0001:
		p /= 128.0
	case pie.dropProb < 0.001:
		p /= 32.0
	case pie.dropProb < 0.01:
		p /= 8.0
	case pie.dropProb < 0.1:
		p /= 2.0
	}

	pie.dropProb += p

	// decay the probability while the queue stays idle
	if qDelay == 0.0 && pie.qDelayOld == 0.0 {
		pie.dropProb *= 0.98
	}

	pie.dropProb = math.Max(0.0, math.Min(1.0, pie.dropProb))
	pie.qDelayOld = pie.qDelay
	pie.qDelay = qDelay

	pie.burstAllowance = math.Max(0.0, pie.burstAllowance-pie.tUpdate)

	// re-arm the burst allowance once the queue has settled
	if pie.dropProb == 0.0 && qDelay < pie.qDelayRef/2.0 && pie.qDelayOld < pie.qDelayRef/2.0 {
		pie.burstAllowance = pie.maxBurst
	}
}

// dropEarly decides whether an arrival is dropped ahead of queue
// overflow.  Several guards keep early drops from firing on bursts,
// nearly idle queues, or nearly empty queues
func (pie *PieQueueDisc) dropEarly(item *QueueDiscItem) bool {
	if pie.burstAllowance > 0.0 {
		return false
	}
	if pie.qDelayOld < pie.qDelayRef/2.0 && pie.dropProb < 0.2 {
		return false
	}
	if pie.nPckts <= 2 {
		return false
	}

	// weight the probability by packet size so small packets survive
	// congestion better than full frames
	p := pie.dropProb * float64(item.Size()) / float64(pie.meanPcktSize)
	p = math.Min(p, 1.0)
	return pie.rngstrm.RandU01() < p
}

// Enqueue admits the item unless the queue is at its ceiling or the
// random early drop fires.  With ECN on and the probability still
// moderate, the early drop becomes a mark and the packet is admitted
func (pie *PieQueueDisc) Enqueue(evtMgr *EventManager, item *QueueDiscItem) bool {
	pie.received(item)
	vrt := evtMgr.CurrentTime()

	if pie.full(item) {
		pie.dropped(item)
		pie.monitor.drop(item, QueueFullDrop, vrt)
		return false
	}

	if pie.dropEarly(item) {
		if pie.useEcn && pie.dropProb < pie.markEcnTh && item.Mark() {
			pie.totalMarkPckts += 1
			pie.monitor.mark(item, UnforcedMark, vrt)
		} else {
			pie.dropped(item)
			pie.monitor.drop(item, UnforcedDrop, vrt)
			return false
		}
	}

	item.SetTimestamp(vrt)
	pie.q = append(pie.q, item)
	pie.admitted(item)
	pie.monitor.enqueue(item, vrt)
	return true
}

// Dequeue removes the head item and feeds the dequeue rate estimator
func (pie *PieQueueDisc) Dequeue(evtMgr *EventManager) *QueueDiscItem {
	if len(pie.q) == 0 {
		return nil
	}

	item := pie.q[0]
	pie.q = pie.q[1:]
	pie.removed(item)

	if pie.useDqRateEstimator {
		pie.estimateRate(evtMgr.CurrentSeconds(), item.Size())
	}

	pie.monitor.dequeue(item, evtMgr.CurrentTime())
	return item
}

// estimateRate runs one step of the dequeue rate estimator.  A
// measurement cycle starts when the backlog is deep enough to sustain
// one and closes after a threshold of bytes has drained
func (pie *PieQueueDisc) estimateRate(now float64, size int) {
	if !pie.inMeasurement && pie.nBytes >= dqThresholdBytes {
		pie.inMeasurement = true
		pie.dqStart = now
		pie.dqCount = 0
	}
	if !pie.inMeasurement {
		return
	}

	pie.dqCount += size
	if pie.dqCount < dqThresholdBytes {
		return
	}

	dqInt := now - pie.dqStart
	if dqInt > 0.0 {
		rate := float64(pie.dqCount) / dqInt
		if pie.avgDqRate == 0.0 {
			pie.avgDqRate = rate
		} else {
			pie.avgDqRate = 0.9*pie.avgDqRate + 0.1*rate
		}
	}
	pie.inMeasurement = false
}

// Peek returns the head item without removing it
func (pie *PieQueueDisc) Peek(evtMgr *EventManager) *QueueDiscItem {
	if len(pie.q) == 0 {
		return nil
	}
	return pie.q[0]
}

// Evict removes the head item without consulting the controller
func (pie *PieQueueDisc) Evict() *QueueDiscItem {
	if len(pie.q) == 0 {
		return nil
	}
	item := pie.q[0]
	pie.q = pie.q[1:]
	pie.removed(item)
	return item
}
