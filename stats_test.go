package nqsim

// tests of the statistics collectors: sample summarization, drop
// bookkeeping by reason, and monitor chaining

import (
	"testing"
)

func TestSampleSetSummarize(t *testing.T) {
	ss := CreateSampleSet("delays")
	for _, v := range []float64{4.0, 1.0, 3.0, 2.0} {
		ss.Add(v)
	}

	smry := ss.Summarize()
	if smry.N != 4 {
		t.Errorf("summary counts %d samples, expected 4", smry.N)
	}
	if smry.Mean != 2.5 {
		t.Errorf("mean %v, expected 2.5", smry.Mean)
	}
	if smry.Min != 1.0 || smry.Max != 4.0 {
		t.Errorf("min/max %v/%v, expected 1/4", smry.Min, smry.Max)
	}
	if smry.Median < smry.Min || smry.Median > smry.Max {
		t.Errorf("median %v outside the sample range", smry.Median)
	}

	empty := CreateSampleSet("empty").Summarize()
	if empty.N != 0 || empty.Mean != 0.0 {
		t.Errorf("empty set summarized to %v", empty)
	}
}

func TestDiscStatsCollection(t *testing.T) {
	ds := CreateDiscStats("disc")
	mon := ds.Monitor(nil)

	item := mkItem(1000, 1, false)
	item.SetTimestamp(SecondsToTime(1.0))

	mon.enqueue(item, SecondsToTime(1.0))
	mon.dequeue(item, SecondsToTime(1.5))
	mon.drop(item, OverlimitDrop, SecondsToTime(2.0))
	mon.drop(item, QueueFullDrop, SecondsToTime(2.0))
	mon.mark(item, UnforcedMark, SecondsToTime(2.0))

	if ds.Enqueued != 1 || ds.Dequeued != 1 || ds.Marked != 1 {
		t.Errorf("counts enq %d deq %d mark %d, expected 1 each", ds.Enqueued, ds.Dequeued, ds.Marked)
	}
	if ds.DropsByReason["Overlimit drop"] != 1 || ds.DropsByReason["Queue full drop"] != 1 {
		t.Errorf("drop map %v missing a reason", ds.DropsByReason)
	}
	if ds.Drops() != 2 {
		t.Errorf("total drops %d, expected 2", ds.Drops())
	}

	rpt := ds.Report()
	if rpt.Sojourn.N != 1 || rpt.Sojourn.Mean != 0.5 {
		t.Errorf("sojourn summary %v, expected one sample of 0.5", rpt.Sojourn)
	}
}

func TestDiscStatsChaining(t *testing.T) {
	ds := CreateDiscStats("disc")
	chained := 0
	tail := &QueueDiscMonitor{
		EnqueueF: func(item *QueueDiscItem, vrt Time) { chained += 1 },
		DropF:    func(item *QueueDiscItem, reason DropReason, vrt Time) { chained += 1 },
	}
	mon := ds.Monitor(tail)

	item := mkItem(1000, 1, false)
	mon.enqueue(item, ZeroTime)
	mon.drop(item, OverlimitDrop, ZeroTime)

	if chained != 2 {
		t.Errorf("chained monitor saw %d events, expected 2", chained)
	}
	if ds.Enqueued != 1 || ds.Drops() != 1 {
		t.Errorf("stats saw enq %d drops %d, expected 1 each", ds.Enqueued, ds.Drops())
	}
}
