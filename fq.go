package nqsim

// fq.go holds the fair-queueing queue disc.  Arriving items are
// classified into flows, each flow owns a child AQM disc, and a
// deficit round robin scheduler over New and Old flow lists decides
// whose packet leaves next.  When aggregate occupancy passes the
// configured ceiling the disc evicts from the fattest flow.

import (
	"fmt"
)

// FlowStatus is the scheduling state of one flow
type FlowStatus int

const (
	// FlowInactive flows hold no packets and sit on neither list
	FlowInactive FlowStatus = iota

	// FlowNew flows get scheduling priority until their first
	// quantum is spent
	FlowNew

	// FlowOld flows round robin behind the new ones
	FlowOld
)

// fqFlow is the per-flow bookkeeping the DRR scheduler works with.
// The structure is reused when a flow goes inactive and its bucket is
// hit again later
type fqFlow struct {
	index    int
	flowHash uint32
	deficit  int
	status   FlowStatus
	disc     QueueDisc // the flow's child AQM disc
}

// createFqFlow is a constructor
func createFqFlow(index int, flowHash uint32, disc QueueDisc) *fqFlow {
	return &fqFlow{index: index, flowHash: flowHash, status: FlowInactive, disc: disc}
}

// FqParams is the serializable configuration of a fair-queueing disc
type FqParams struct {
	MaxSize            string  `json:"maxsize" yaml:"maxsize"`
	Flows              int     `json:"flows" yaml:"flows"`
	Quantum            int     `json:"quantum" yaml:"quantum"`
	Perturbation       uint32  `json:"perturbation" yaml:"perturbation"`
	DropBatchSize      int     `json:"dropbatchsize" yaml:"dropbatchsize"`
	SetAssociativeHash bool    `json:"setassociativehash" yaml:"setassociativehash"`
	SetWays            int     `json:"setways" yaml:"setways"`
	UseEcn             bool    `json:"useecn" yaml:"useecn"`
	UseL4s             bool    `json:"usel4s" yaml:"usel4s"`
	CeThreshold        float64 `json:"cethreshold" yaml:"cethreshold"`
}

// DefaultFqParams returns the parameter values an empty configuration
// stanza gets
func DefaultFqParams() FqParams {
	return FqParams{MaxSize: "10240p", Flows: 1024, DropBatchSize: 64, SetWays: 8}
}

// FqQueueDisc is the fair-queueing discipline
type FqQueueDisc struct {
	queueDiscState
	name string

	quantum        int
	perturbation   uint32
	dropBatchSize  int
	setAssociative bool
	setWays        int
	useEcn         bool
	useL4s         bool

	flows    []*fqFlow // one slot per hash bucket, nil until first use
	newFlows []*fqFlow
	oldFlows []*fqFlow

	filters  []PacketFilter
	newChild func() QueueDisc
}

// CreateFqQueueDisc is a constructor.  The configuration is validated
// here; a violation aborts setup rather than being silently defaulted,
// since a repaired configuration would not reproduce the experiment
// the user described.  dev supplies the MTU-derived quantum when the
// configuration leaves Quantum zero, and may be nil when Quantum is set
func CreateFqQueueDisc(name string, params FqParams, dev *NetDevQueue,
	filters []PacketFilter, newChild func() QueueDisc, monitor *QueueDiscMonitor) *FqQueueDisc {

	if params.Flows <= 0 {
		panic(fmt.Sprintf("disc %s configured with %d flows", name, params.Flows))
	}
	if params.Quantum < 0 {
		panic(fmt.Sprintf("disc %s configured with negative quantum %d", name, params.Quantum))
	}
	if newChild == nil {
		panic(fmt.Sprintf("disc %s has no child disc factory", name))
	}

	quantum := params.Quantum
	if quantum == 0 {
		if dev == nil || dev.MTU() == 0 {
			panic(fmt.Sprintf("disc %s has no quantum and no device MTU to derive one", name))
		}
		quantum = dev.MTU()
	}

	if params.SetAssociativeHash {
		if params.SetWays <= 0 {
			panic(fmt.Sprintf("disc %s enables set-associative hashing with setways %d", name, params.SetWays))
		}
		if params.Flows%params.SetWays != 0 {
			panic(fmt.Sprintf("disc %s flows %d not a multiple of setways %d",
				name, params.Flows, params.SetWays))
		}
	}

	if params.UseL4s && params.CeThreshold <= 0.0 {
		panic(fmt.Sprintf("disc %s requests L4S marking without a CE threshold", name))
	}

	dropBatchSize := params.DropBatchSize
	if dropBatchSize <= 0 {
		dropBatchSize = 64
	}

	fq := new(FqQueueDisc)
	fq.name = name
	fq.maxSize = ParseQueueSize(params.MaxSize)
	fq.monitor = monitor
	fq.quantum = quantum
	fq.perturbation = params.Perturbation
	fq.dropBatchSize = dropBatchSize
	fq.setAssociative = params.SetAssociativeHash
	fq.setWays = params.SetWays
	fq.useEcn = params.UseEcn
	fq.useL4s = params.UseL4s
	fq.flows = make([]*fqFlow, params.Flows)
	fq.newFlows = make([]*fqFlow, 0)
	fq.oldFlows = make([]*fqFlow, 0)
	fq.filters = filters
	fq.newChild = newChild
	return fq
}

// NPckts returns current packet occupancy across all flows
func (fq *FqQueueDisc) NPckts() int {
	return fq.nPckts
}

// NBytes returns current byte occupancy across all flows
func (fq *FqQueueDisc) NBytes() int {
	return fq.nBytes
}

// TotalRcvdPckts returns the count of items ever offered to the disc
func (fq *FqQueueDisc) TotalRcvdPckts() int {
	return fq.totalRcvdPckts
}

// TotalDropPckts returns the count of items dropped for any reason
func (fq *FqQueueDisc) TotalDropPckts() int {
	return fq.totalDropPckts
}

// FlowBacklog returns the byte backlog of the flow in the given
// bucket, zero if the bucket is unused
func (fq *FqQueueDisc) FlowBacklog(idx int) int {
	if fq.flows[idx] == nil {
		return 0
	}
	return fq.flows[idx].disc.NBytes()
}

// setAssociativeIdx maps a flow hash to a bucket by searching one set
// of setWays contiguous slots.  A slot is reusable when it is empty,
// already tagged with this hash, or inactive.  When the whole set is
// busy with other flows the first slot of the set absorbs the
// collision, so the search never examines more than setWays slots
func (fq *FqQueueDisc) setAssociativeIdx(flowHash uint32) int {
	h := int(flowHash % uint32(len(fq.flows)))
	innerHash := h % fq.setWays
	outerHash := h - innerHash

	for idx := outerHash; idx < outerHash+fq.setWays; idx += 1 {
		flow := fq.flows[idx]
		if flow == nil || flow.flowHash == flowHash || flow.status == FlowInactive {
			return idx
		}
	}
	return outerHash
}

// classify produces the flow hash for an item.  With no filters
// installed the salted five-tuple hash applies; otherwise the filter
// chain decides and a chain-wide NoMatch is reported as such
func (fq *FqQueueDisc) classify(item *QueueDiscItem) (uint32, bool) {
	if len(fq.filters) == 0 {
		return hashTuple(item.Pckt, fq.perturbation), true
	}
	ret := classifyItem(fq.filters, item)
	if ret == PcktFilterNoMatch {
		return 0, false
	}
	return uint32(ret), true
}

// Enqueue classifies the item into a flow, pushes it into that flow's
// child disc, and runs overload eviction if aggregate occupancy passed
// the ceiling.  The occupancy check follows admission, so one enqueue
// can push the aggregate over the limit before eviction corrects it
func (fq *FqQueueDisc) Enqueue(evtMgr *EventManager, item *QueueDiscItem) bool {
	fq.received(item)

	flowHash, ok := fq.classify(item)
	if !ok {
		fq.dropped(item)
		fq.monitor.drop(item, UnclassifiedDrop, evtMgr.CurrentTime())
		return false
	}

	var h int
	if fq.setAssociative {
		h = fq.setAssociativeIdx(flowHash)
	} else {
		h = int(flowHash % uint32(len(fq.flows)))
	}

	flow := fq.flows[h]
	if flow == nil {
		flow = createFqFlow(h, flowHash, fq.newChild())
		fq.flows[h] = flow
	}
	flow.flowHash = flowHash

	if flow.status == FlowInactive {
		flow.status = FlowNew
		flow.deficit = fq.quantum
		fq.newFlows = append(fq.newFlows, flow)
	}

	admitted := flow.disc.Enqueue(evtMgr, item)
	if !admitted {
		// the child already reported its drop; fold it into this
		// disc's totals so aggregate accounting stays closed
		fq.dropped(item)
		return false
	}

	fq.admitted(item)
	fq.monitor.enqueue(item, evtMgr.CurrentTime())

	if fq.over() {
		fq.fqDrop(evtMgr)
	}
	return true
}

// Dequeue runs deficit round robin over the New and Old flow lists.
// A flow whose deficit is spent is replenished one quantum and rotated
// to the back of the Old list; a flow whose child turns up empty is
// demoted to Old while new flows wait, or retired to Inactive
func (fq *FqQueueDisc) Dequeue(evtMgr *EventManager) *QueueDiscItem {
	for {
		var flow *fqFlow
		fromNew := false
		found := false

		for !found && len(fq.newFlows) > 0 {
			flow = fq.newFlows[0]
			if flow.deficit <= 0 {
				flow.deficit += fq.quantum
				flow.status = FlowOld
				fq.newFlows = fq.newFlows[1:]
				fq.oldFlows = append(fq.oldFlows, flow)
				continue
			}
			found = true
			fromNew = true
		}

		for !found && len(fq.oldFlows) > 0 {
			flow = fq.oldFlows[0]
			if flow.deficit <= 0 {
				flow.deficit += fq.quantum
				fq.oldFlows = fq.oldFlows[1:]
				fq.oldFlows = append(fq.oldFlows, flow)
				continue
			}
			found = true
		}

		if !found {
			return nil
		}

		// the child disc may shed packets of its own while selecting
		// what to hand up (its control laws run on the dequeue path).
		// Reconcile by occupancy difference so the aggregate counters
		// track the real backlog
		beforePckts := flow.disc.NPckts()
		beforeBytes := flow.disc.NBytes()
		item := flow.disc.Dequeue(evtMgr)
		shedPckts := beforePckts - flow.disc.NPckts()
		shedBytes := beforeBytes - flow.disc.NBytes()
		if item != nil {
			shedPckts -= 1
			shedBytes -= item.Size()
		}
		if shedPckts > 0 {
			fq.droppedBelow(shedPckts, shedBytes)
		}

		if item == nil {
			// the selected flow turned up empty.  Demoting it to the
			// back of the Old list before retiring it keeps a flow
			// that reappears immediately from starving the others
			if fromNew {
				fq.newFlows = fq.newFlows[1:]
			} else {
				fq.oldFlows = fq.oldFlows[1:]
			}
			if len(fq.newFlows) > 0 {
				flow.status = FlowOld
				fq.oldFlows = append(fq.oldFlows, flow)
			} else {
				flow.status = FlowInactive
			}
			continue
		}

		flow.deficit -= item.Size()
		fq.removed(item)
		fq.monitor.dequeue(item, evtMgr.CurrentTime())
		return item
	}
}

// Peek returns the head of the flow the scheduler would serve next,
// without rotating the lists or spending deficit
func (fq *FqQueueDisc) Peek(evtMgr *EventManager) *QueueDiscItem {
	for _, flow := range fq.newFlows {
		if item := flow.disc.Peek(evtMgr); item != nil {
			return item
		}
	}
	for _, flow := range fq.oldFlows {
		if item := flow.disc.Peek(evtMgr); item != nil {
			return item
		}
	}
	return nil
}

// Evict removes one item from the head of the fattest flow
func (fq *FqQueueDisc) Evict() *QueueDiscItem {
	fat := fq.fattestFlow()
	if fat == nil {
		return nil
	}
	item := fat.disc.Evict()
	if item != nil {
		fq.removed(item)
	}
	return item
}

// fattestFlow scans every existing flow for the largest byte backlog.
// The scan is linear in the number of buckets and reruns on every
// overload event; occupancy checks bound how often that happens
func (fq *FqQueueDisc) fattestFlow() *fqFlow {
	var fat *fqFlow
	maxBacklog := 0
	for _, flow := range fq.flows {
		if flow == nil {
			continue
		}
		if flow.disc.NBytes() > maxBacklog {
			maxBacklog = flow.disc.NBytes()
			fat = flow
		}
	}
	return fat
}

// fqDrop is the overload eviction routine.  It concentrates the drops
// on the flow most responsible for the overload, removing head items
// until half that flow's backlog at scan time is gone or the per-call
// batch cap is reached
func (fq *FqQueueDisc) fqDrop(evtMgr *EventManager) {
	fat := fq.fattestFlow()
	if fat == nil {
		return
	}

	threshold := fat.disc.NBytes() / 2
	count := 0
	removedBytes := 0

	for {
		item := fat.disc.Evict()
		if item == nil {
			break
		}
		count += 1
		removedBytes += item.Size()
		fq.removed(item)
		fq.dropped(item)
		fq.monitor.drop(item, OverlimitDrop, evtMgr.CurrentTime())

		if count >= fq.dropBatchSize || removedBytes >= threshold {
			break
		}
	}
}
