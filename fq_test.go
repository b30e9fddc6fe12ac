package nqsim

// tests of the fair-queueing disc: deficit round robin fairness,
// set-associative bucket selection, overload eviction, classification
// failure, and configuration validation

import (
	"fmt"
	"testing"
)

// portFilter classifies by source port, giving tests direct control
// over bucket placement
type portFilter struct{}

func (pf *portFilter) CheckProtocol(item *QueueDiscItem) bool { return true }
func (pf *portFilter) Classify(item *QueueDiscItem) int32 {
	return int32(item.Pckt.SrcPort)
}

func mkItem(pcktLen int, srcPort uint16, ecn bool) *QueueDiscItem {
	pckt := CreatePacket(pcktLen, 0x0a000001, 0x0a000002, srcPort, 80, 6, ecn)
	return CreateQueueDiscItem(pckt, pckt.DstAddr, uint16(pckt.Protocol), 0)
}

// cobaltChildFactory returns a factory making a fresh Cobalt child disc
// per flow bucket
func cobaltChildFactory() func() QueueDisc {
	nxt := 0
	return func() QueueDisc {
		nxt += 1
		return CreateCobaltQueueDisc(fmt.Sprintf("child-%d", nxt), DefaultCobaltParams(), nil)
	}
}

func TestFqDrrFairness(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("fq")

	params := DefaultFqParams()
	params.Quantum = 1500
	fq := CreateFqQueueDisc("fq", params, nil, []PacketFilter{&portFilter{}},
		cobaltChildFactory(), stats.Monitor(nil))

	// two flows, ten 1000 byte packets each, arrivals interleaved
	for i := 0; i < 10; i += 1 {
		if !fq.Enqueue(evtMgr, mkItem(1000, 1, false)) {
			t.Fatalf("flow 1 packet %d refused", i)
		}
		if !fq.Enqueue(evtMgr, mkItem(1000, 2, false)) {
			t.Fatalf("flow 2 packet %d refused", i)
		}
	}

	bytesOut := map[uint16]int{}
	lastID := map[uint16]int{}
	flowSeq := make([]uint16, 0)

	for {
		item := fq.Dequeue(evtMgr)
		if item == nil {
			break
		}
		port := item.Pckt.SrcPort
		flowSeq = append(flowSeq, port)
		bytesOut[port] += item.Size()

		// per-flow FIFO order
		if item.Pckt.PcktID <= lastID[port] {
			t.Errorf("flow %d dequeued packet %d after %d", port, item.Pckt.PcktID, lastID[port])
		}
		lastID[port] = item.Pckt.PcktID

		// no prefix of the schedule lets either flow get more than a
		// quantum plus one packet ahead of the other
		diff := bytesOut[1] - bytesOut[2]
		if diff < 0 {
			diff = -diff
		}
		if diff > 1500+1000 {
			t.Errorf("flow byte imbalance %d exceeds quantum plus one packet", diff)
		}
	}

	if bytesOut[1] != 10000 || bytesOut[2] != 10000 {
		t.Errorf("flows drained %d/%d bytes, expected 10000 each", bytesOut[1], bytesOut[2])
	}
	if fq.NPckts() != 0 || fq.NBytes() != 0 {
		t.Errorf("disc not empty after drain: %d packets %d bytes", fq.NPckts(), fq.NBytes())
	}
	if stats.Dequeued != 20 || stats.Enqueued != 20 || stats.Drops() != 0 {
		t.Errorf("stats enqueued %d dequeued %d drops %d, expected 20/20/0",
			stats.Enqueued, stats.Dequeued, stats.Drops())
	}

	// a new flow gets scheduling priority for its first quantum, so the
	// schedule opens with a quantum's worth from each flow in turn
	expected := []uint16{1, 1, 2, 2}
	for idx, port := range expected {
		if flowSeq[idx] != port {
			t.Errorf("dequeue %d came from flow %d, expected %d", idx, flowSeq[idx], port)
		}
	}
}

func TestFqSetAssociativeHash(t *testing.T) {
	evtMgr := CreateEventManager()

	params := DefaultFqParams()
	params.Quantum = 1500
	params.SetAssociativeHash = true
	fq := CreateFqQueueDisc("fq", params, nil, []PacketFilter{&portFilter{}},
		cobaltChildFactory(), nil)

	// flow hashes 0..7 fill the eight ways of set zero in order, hash 8
	// lands in the next set
	for port := uint16(0); port <= 8; port += 1 {
		fq.Enqueue(evtMgr, mkItem(1000, port, false))
	}
	for idx := 0; idx <= 8; idx += 1 {
		if fq.FlowBacklog(idx) != 1000 {
			t.Errorf("bucket %d backlog %d, expected 1000", idx, fq.FlowBacklog(idx))
		}
	}

	// a ninth flow colliding into the full set absorbs into its first slot
	fq.Enqueue(evtMgr, mkItem(1000, 1024, false))
	if fq.FlowBacklog(0) != 2000 {
		t.Errorf("collision bucket backlog %d, expected 2000", fq.FlowBacklog(0))
	}
	for idx := 1; idx <= 8; idx += 1 {
		if fq.FlowBacklog(idx) != 1000 {
			t.Errorf("bucket %d backlog %d after collision, expected 1000", idx, fq.FlowBacklog(idx))
		}
	}

	// drain, then a new flow reuses the now-inactive first slot
	for fq.Dequeue(evtMgr) != nil {
	}
	fq.Enqueue(evtMgr, mkItem(1000, 2048, false))
	if fq.FlowBacklog(0) != 1000 {
		t.Errorf("inactive slot not reused, bucket 0 backlog %d", fq.FlowBacklog(0))
	}
	if fq.FlowBacklog(1) != 0 {
		t.Errorf("bucket 1 backlog %d, expected 0", fq.FlowBacklog(1))
	}
}

func TestFqOverloadEviction(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("fq")

	params := DefaultFqParams()
	params.Quantum = 1500
	params.MaxSize = "10p"
	fq := CreateFqQueueDisc("fq", params, nil, []PacketFilter{&portFilter{}},
		cobaltChildFactory(), stats.Monitor(nil))

	// a modest flow, then a flood from a fat one.  Eviction should
	// concentrate entirely on the fat flow
	for i := 0; i < 3; i += 1 {
		fq.Enqueue(evtMgr, mkItem(1000, 2, false))
	}
	for i := 0; i < 15; i += 1 {
		fq.Enqueue(evtMgr, mkItem(1000, 1, false))
	}

	// occupancy passes 10 twice, each time shedding half the fat flow's
	// backlog: 4 packets at 11 items, 4 more the second time around
	if stats.DropsByReason["Overlimit drop"] != 8 {
		t.Errorf("overlimit drops %d, expected 8", stats.DropsByReason["Overlimit drop"])
	}
	if fq.NPckts() != 10 {
		t.Errorf("occupancy %d after eviction, expected 10", fq.NPckts())
	}
	if fq.FlowBacklog(1) != 7000 {
		t.Errorf("fat flow backlog %d, expected 7000", fq.FlowBacklog(1))
	}
	if fq.FlowBacklog(2) != 3000 {
		t.Errorf("modest flow backlog %d, untouched would be 3000", fq.FlowBacklog(2))
	}

	// accounting stays closed: everything offered is dropped, queued,
	// or was dequeued
	if fq.TotalRcvdPckts() != fq.TotalDropPckts()+fq.NPckts() {
		t.Errorf("accounting open: received %d, dropped %d, queued %d",
			fq.TotalRcvdPckts(), fq.TotalDropPckts(), fq.NPckts())
	}
}

func TestFqChildDropAccounting(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("fq")

	params := DefaultFqParams()
	params.Quantum = 1500
	fq := CreateFqQueueDisc("fq", params, nil, []PacketFilter{&portFilter{}},
		cobaltChildFactory(), stats.Monitor(nil))

	// a standing queue the child's control law acts on: the dequeues
	// at 0.35s and 0.5s each make the Cobalt child shed one packet of
	// its own before handing one up
	for i := 0; i < 20; i += 1 {
		fq.Enqueue(evtMgr, mkItem(1000, 1, false))
	}
	dequeued := 0
	for _, at := range []float64{0.2, 0.35, 0.5} {
		evtMgr.Schedule(nil, nil, func(evtMgr *EventManager, context any, data any) any {
			if fq.Dequeue(evtMgr) != nil {
				dequeued += 1
			}
			return nil
		}, SecondsToTime(at))
	}
	evtMgr.Run()

	if dequeued != 3 {
		t.Fatalf("dequeued %d, expected 3", dequeued)
	}
	if fq.TotalDropPckts() != 2 {
		t.Errorf("parent drop total %d, expected the child's 2 shed packets", fq.TotalDropPckts())
	}

	// aggregate occupancy agrees with the flow's real backlog
	if fq.NPckts() != 15 || fq.NBytes() != 15000 {
		t.Errorf("parent occupancy %d packets %d bytes, expected 15/15000", fq.NPckts(), fq.NBytes())
	}
	if fq.FlowBacklog(1) != 15000 {
		t.Errorf("flow backlog %d bytes, expected 15000", fq.FlowBacklog(1))
	}

	// accounting stays closed across the child's internal drops
	if fq.TotalRcvdPckts() != fq.TotalDropPckts()+dequeued+fq.NPckts() {
		t.Errorf("accounting open: received %d, dropped %d, dequeued %d, queued %d",
			fq.TotalRcvdPckts(), fq.TotalDropPckts(), dequeued, fq.NPckts())
	}
}

func TestFqUnclassifiedDrop(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("fq")

	params := DefaultFqParams()
	params.Quantum = 1500

	// the only installed filter covers UDP, the arrival is TCP
	udpOnly := CreateFlowTupleFilter(17, 0)
	fq := CreateFqQueueDisc("fq", params, nil, []PacketFilter{udpOnly},
		cobaltChildFactory(), stats.Monitor(nil))

	if fq.Enqueue(evtMgr, mkItem(1000, 1, false)) {
		t.Errorf("unclassifiable item was admitted")
	}
	if stats.DropsByReason["Unclassified drop"] != 1 {
		t.Errorf("unclassified drops %d, expected 1", stats.DropsByReason["Unclassified drop"])
	}
	if fq.NPckts() != 0 {
		t.Errorf("occupancy %d after refusal, expected 0", fq.NPckts())
	}
}

func TestFqConfigPanics(t *testing.T) {
	factory := cobaltChildFactory()

	expectPanic(t, "zero flows", func() {
		params := DefaultFqParams()
		params.Flows = 0
		CreateFqQueueDisc("fq", params, nil, nil, factory, nil)
	})

	expectPanic(t, "negative quantum", func() {
		params := DefaultFqParams()
		params.Quantum = -100
		CreateFqQueueDisc("fq", params, nil, nil, factory, nil)
	})

	expectPanic(t, "missing child factory", func() {
		params := DefaultFqParams()
		params.Quantum = 1500
		CreateFqQueueDisc("fq", params, nil, nil, nil, nil)
	})

	expectPanic(t, "no quantum and no device", func() {
		CreateFqQueueDisc("fq", DefaultFqParams(), nil, nil, factory, nil)
	})

	expectPanic(t, "flows not a multiple of setways", func() {
		params := DefaultFqParams()
		params.Quantum = 1500
		params.SetAssociativeHash = true
		params.Flows = 1022
		CreateFqQueueDisc("fq", params, nil, nil, factory, nil)
	})

	expectPanic(t, "L4S without CE threshold", func() {
		params := DefaultFqParams()
		params.Quantum = 1500
		params.UseL4s = true
		CreateFqQueueDisc("fq", params, nil, nil, factory, nil)
	})
}
