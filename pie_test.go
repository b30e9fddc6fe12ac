package nqsim

// tests of the PIE disc: the self-renewing update timer and its
// cancellation, burst allowance, probability growth under sustained
// delay, ECN marking, and the dequeue rate estimator

import (
	"testing"
)

func TestPieUpdateTimerCancellation(t *testing.T) {
	evtMgr := CreateEventManager()
	pie := CreatePieQueueDisc(evtMgr, "pie", DefaultPieParams(), nil)

	if evtMgr.IsExpired(pie.updateEvt) {
		t.Errorf("freshly scheduled update timer reports expired")
	}

	pie.StopUpdates(evtMgr)
	if !evtMgr.IsExpired(pie.updateEvt) {
		t.Errorf("cancelled update timer does not report expired")
	}

	// with the timer cancelled nothing reschedules, so the run drains
	evtMgr.RunToTime(SecondsToTime(1.0))
	if evtMgr.CurrentSeconds() != 1.0 {
		t.Errorf("clock at %f, expected 1.0", evtMgr.CurrentSeconds())
	}
	if pie.DropProb() != 0.0 {
		t.Errorf("drop probability moved to %v with updates stopped", pie.DropProb())
	}
}

func TestPieBurstAllowance(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("pie")
	pie := CreatePieQueueDisc(evtMgr, "pie", DefaultPieParams(), stats.Monitor(nil))

	// a burst arriving inside the allowance is never dropped early
	for i := 0; i < 100; i += 1 {
		if !pie.Enqueue(evtMgr, mkItem(1000, 1, false)) {
			t.Fatalf("burst packet %d refused inside the allowance", i)
		}
	}
	if stats.Drops() != 0 {
		t.Errorf("burst produced %d drops", stats.Drops())
	}
	pie.StopUpdates(evtMgr)
}

func TestPieProbabilityRisesUnderDelay(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("pie")
	pie := CreatePieQueueDisc(evtMgr, "pie", DefaultPieParams(), stats.Monitor(nil))

	// a standing queue nobody drains: measured delay grows every
	// Tupdate, the burst allowance expires, and the controller pushes
	// the probability up
	for i := 0; i < 50; i += 1 {
		pie.Enqueue(evtMgr, mkItem(1000, 1, false))
	}
	evtMgr.RunToTime(SecondsToTime(1.0))

	if pie.DropProb() < 0.5 {
		t.Fatalf("drop probability %v after 1s of standing queue, expected near saturation", pie.DropProb())
	}

	// arrivals now face the early drop
	for i := 0; i < 50; i += 1 {
		pie.Enqueue(evtMgr, mkItem(1000, 1, false))
	}
	if stats.DropsByReason["Unforced drop"] == 0 {
		t.Errorf("no early drops at probability %v", pie.DropProb())
	}
	pie.StopUpdates(evtMgr)
}

func TestPieEcnMarking(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("pie")
	params := DefaultPieParams()
	params.UseEcn = true

	// with the mark threshold above any reachable probability, every
	// early drop decision becomes a mark
	params.MarkEcnThreshold = 2.0
	pie := CreatePieQueueDisc(evtMgr, "pie", params, stats.Monitor(nil))

	for i := 0; i < 50; i += 1 {
		pie.Enqueue(evtMgr, mkItem(1000, 1, true))
	}
	evtMgr.RunToTime(SecondsToTime(1.0))

	for i := 0; i < 50; i += 1 {
		pie.Enqueue(evtMgr, mkItem(1000, 1, true))
	}
	if stats.Marked == 0 {
		t.Errorf("no marks at probability %v", pie.DropProb())
	}
	if stats.DropsByReason["Unforced drop"] != 0 {
		t.Errorf("early drops %d with marking available", stats.DropsByReason["Unforced drop"])
	}
	pie.StopUpdates(evtMgr)
}

func TestPieQueueFullDrop(t *testing.T) {
	evtMgr := CreateEventManager()
	stats := CreateDiscStats("pie")
	params := DefaultPieParams()
	params.MaxSize = "2p"
	pie := CreatePieQueueDisc(evtMgr, "pie", params, stats.Monitor(nil))

	pie.Enqueue(evtMgr, mkItem(1000, 1, false))
	pie.Enqueue(evtMgr, mkItem(1000, 1, false))
	if pie.Enqueue(evtMgr, mkItem(1000, 1, false)) {
		t.Errorf("arrival into a full queue was admitted")
	}
	if stats.DropsByReason["Queue full drop"] != 1 {
		t.Errorf("queue full drops %d, expected 1", stats.DropsByReason["Queue full drop"])
	}
	pie.StopUpdates(evtMgr)
}

func TestPieDequeueRateEstimator(t *testing.T) {
	evtMgr := CreateEventManager()
	params := DefaultPieParams()
	params.UseDequeueRateEstimator = true
	pie := CreatePieQueueDisc(evtMgr, "pie", params, nil)

	// backlog deep enough to open a measurement cycle, drained one
	// packet per millisecond so the cycle spans real virtual time
	for i := 0; i < 40; i += 1 {
		pie.Enqueue(evtMgr, mkItem(1000, 1, false))
	}
	for i := 0; i < 20; i += 1 {
		evtMgr.Schedule(nil, nil, func(evtMgr *EventManager, context any, data any) any {
			pie.Dequeue(evtMgr)
			return nil
		}, SecondsToTime(0.1+float64(i)*0.001))
	}
	pie.StopUpdates(evtMgr)
	evtMgr.Run()

	if pie.avgDqRate <= 0.0 {
		t.Errorf("estimator produced no rate sample")
	}
}

func TestPieConfigPanics(t *testing.T) {
	evtMgr := CreateEventManager()
	expectPanic(t, "non-positive Tupdate", func() {
		params := DefaultPieParams()
		params.Tupdate = 0.0
		CreatePieQueueDisc(evtMgr, "pie", params, nil)
	})
	expectPanic(t, "non-positive delay reference", func() {
		params := DefaultPieParams()
		params.QueueDelayReference = -1.0
		CreatePieQueueDisc(evtMgr, "pie", params, nil)
	})
}
