package nqsim

// tests of the shared queue disc machinery: queue size parsing, the
// drop and mark reason vocabulary, and the root driver's quota,
// requeue slot, and device wake handling

import (
	"testing"
)

func TestParseQueueSize(t *testing.T) {
	qs := ParseQueueSize("100p")
	if qs.Unit != PcktsUnit || qs.Value != 100 {
		t.Errorf("parsed %v from \"100p\"", qs)
	}
	qs = ParseQueueSize("65536b")
	if qs.Unit != BytesUnit || qs.Value != 65536 {
		t.Errorf("parsed %v from \"65536b\"", qs)
	}

	for _, bad := range []string{"", "p", "100", "-5p", "0p", "tenp"} {
		expectPanic(t, "queue size "+bad, func() {
			ParseQueueSize(bad)
		})
	}
}

func TestDropAndMarkReasonNames(t *testing.T) {
	dropNames := map[DropReason]string{
		OverlimitDrop:      "Overlimit drop",
		UnclassifiedDrop:   "Unclassified drop",
		TargetExceededDrop: "Target exceeded drop",
		ForcedDrop:         "Forced drop",
		UnforcedDrop:       "Unforced drop",
		QueueFullDrop:      "Queue full drop",
	}
	for reason, name := range dropNames {
		if reason.String() != name {
			t.Errorf("drop reason %d renders %q, expected %q", reason, reason.String(), name)
		}
	}

	markNames := map[MarkReason]string{
		TargetExceededMark: "Target exceeded mark",
		ForcedMark:         "Forced mark",
		UnforcedMark:       "Unforced mark",
		CeThresholdMark:    "CE threshold mark",
	}
	for reason, name := range markNames {
		if reason.String() != name {
			t.Errorf("mark reason %d renders %q, expected %q", reason, reason.String(), name)
		}
	}
}

func TestItemMark(t *testing.T) {
	plain := mkItem(1000, 1, false)
	if plain.Mark() {
		t.Errorf("marked a packet that is not ECN capable")
	}
	if plain.Pckt.CongExp {
		t.Errorf("CE bit set on a refusal")
	}

	capable := mkItem(1000, 1, true)
	if !capable.Mark() || !capable.Pckt.CongExp {
		t.Errorf("failed to mark an ECN capable packet")
	}
}

func TestRootDiscQuota(t *testing.T) {
	evtMgr := CreateEventManager()
	dev := CreateNetDevQueue("dev", 1000.0, 1500, 100)
	disc := CreateCobaltQueueDisc("cob", DefaultCobaltParams(), nil)
	rqd := CreateRootQueueDisc("root", disc, dev, 4)

	for i := 0; i < 10; i += 1 {
		disc.Enqueue(evtMgr, mkItem(1000, 1, false))
	}

	rqd.Run(evtMgr)
	if rqd.Transmitted() != 4 {
		t.Errorf("one run transmitted %d, quota was 4", rqd.Transmitted())
	}
	if disc.NPckts() != 6 {
		t.Errorf("disc holds %d after quota run, expected 6", disc.NPckts())
	}
}

func TestRootDiscRequeue(t *testing.T) {
	evtMgr := CreateEventManager()
	dev := CreateNetDevQueue("dev", 1000.0, 1500, 100)
	disc := CreateCobaltQueueDisc("cob", DefaultCobaltParams(), nil)
	rqd := CreateRootQueueDisc("root", disc, dev, 0)

	for i := 0; i < 3; i += 1 {
		disc.Enqueue(evtMgr, mkItem(1000, 1, false))
	}

	// the device refuses everything: the first dequeue parks in the
	// requeue slot and the run ends
	dev.SetRefuseProb(1.0)
	rqd.Run(evtMgr)
	if rqd.RequeueEvents() != 1 {
		t.Errorf("requeue events %d, expected 1", rqd.RequeueEvents())
	}
	if rqd.Transmitted() != 0 {
		t.Errorf("transmitted %d through a refusing device", rqd.Transmitted())
	}
	if disc.NPckts() != 2 {
		t.Errorf("disc holds %d with one parked, expected 2", disc.NPckts())
	}

	// once the device relents the parked item goes first
	dev.SetRefuseProb(0.0)
	rqd.Run(evtMgr)
	if rqd.Transmitted() != 3 {
		t.Errorf("transmitted %d after recovery, expected 3", rqd.Transmitted())
	}
	if disc.NPckts() != 0 {
		t.Errorf("disc holds %d after recovery, expected 0", disc.NPckts())
	}

	evtMgr.Run()
	if dev.Delivered() != 3 {
		t.Errorf("device delivered %d, expected 3", dev.Delivered())
	}
}

func TestRootDiscStopAndWake(t *testing.T) {
	evtMgr := CreateEventManager()

	// 1 Mbit/s serializes a 1000 byte frame in 8ms, and a ring limit of
	// two stops the device after two sends
	dev := CreateNetDevQueue("dev", 1.0, 1500, 2)
	disc := CreateCobaltQueueDisc("cob", DefaultCobaltParams(), nil)
	rqd := CreateRootQueueDisc("root", disc, dev, 0)

	for i := 0; i < 5; i += 1 {
		disc.Enqueue(evtMgr, mkItem(1000, 1, false))
	}

	rqd.Run(evtMgr)
	if rqd.Transmitted() != 2 {
		t.Errorf("transmitted %d before the ring filled, expected 2", rqd.Transmitted())
	}
	if !dev.IsStopped() {
		t.Errorf("device not stopped at its ring limit")
	}

	// each serialization completion reopens the ring and wakes the
	// driver, which feeds the next item, until everything drains
	evtMgr.Run()
	if rqd.Transmitted() != 5 {
		t.Errorf("transmitted %d after wake cycles, expected 5", rqd.Transmitted())
	}
	if dev.Delivered() != 5 {
		t.Errorf("device delivered %d, expected 5", dev.Delivered())
	}
	if disc.NPckts() != 0 {
		t.Errorf("disc holds %d after drain, expected 0", disc.NPckts())
	}
	if dev.IsStopped() {
		t.Errorf("device still stopped after drain")
	}
	if dev.DeliveredBytes() != 5000 {
		t.Errorf("device delivered %d bytes, expected 5000", dev.DeliveredBytes())
	}
}

func TestDeviceConfigPanics(t *testing.T) {
	expectPanic(t, "non-positive bandwidth", func() {
		CreateNetDevQueue("dev", 0.0, 1500, 10)
	})
	expectPanic(t, "zero ring limit", func() {
		CreateNetDevQueue("dev", 100.0, 1500, 0)
	})
}
