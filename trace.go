package nqsim

// trace.go holds the trace manager, the observability surface of an
// experiment.  Queue discs report enqueue, dequeue, drop, and mark
// events through QueueDiscMonitor hooks; the adapter built here turns
// those into trace records gathered per experiment and written out as
// yaml or json for post-run analysis.

import (
	"encoding/json"
	"gopkg.in/yaml.v3"
	"os"
	"path"
	"strconv"
)

// TraceInst is one gathered trace record
type TraceInst struct {
	TraceTime string
	TraceType string
	TraceStr  string
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// TraceManager gathers information about an execution of an
// experiment.  By testing the InUse flag we can inhibit the activity
// of gathering a trace when we don't want it, while embedding calls to
// its methods everywhere we need them when it is
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, keyed by object id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the trace manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace creates a record of the trace using its calling arguments, and stores it
func (tm *TraceManager) AddTrace(vrt Time, objID int, trace TraceInst) {
	if !tm.InUse {
		return
	}

	_, present := tm.Traces[objID]
	if !present {
		tm.Traces[objID] = make([]TraceInst, 0)
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) bool {
	if !tm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()
	return true
}

// QueueTrace saves information about one queue disc event, saved for
// post-run analysis
type QueueTrace struct {
	Time     float64 // time in float64
	Ticks    int64   // ticks variable of time
	Priority int64   // priority field of time-stamp
	ObjID    int     // integer id for the disc being referenced
	Op       string  // "enqueue", "dequeue", "drop", "mark"
	Reason   string  // drop or mark reason, empty otherwise
	PcktID   int     // packet identifier
	PcktLen  int     // packet length in bytes
}

func (qtr *QueueTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*qtr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddQueueTrace creates a record of a queue disc event and stores it
func AddQueueTrace(tm *TraceManager, vrt Time, item *QueueDiscItem, objID int, op string, reason string) {
	qtr := new(QueueTrace)
	qtr.Time = vrt.Seconds()
	qtr.Ticks = vrt.Ticks()
	qtr.Priority = vrt.Pri()
	qtr.ObjID = objID
	qtr.Op = op
	qtr.Reason = reason
	qtr.PcktID = item.Pckt.PcktID
	qtr.PcktLen = item.Pckt.PcktLen

	qtrStr := qtr.Serialize()
	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)

	trcInst := TraceInst{TraceTime: traceTime, TraceType: "queue", TraceStr: qtrStr}
	tm.AddTrace(vrt, objID, trcInst)
}

// CreateTraceMonitor builds the QueueDiscMonitor that feeds a disc's
// events into the trace manager under the given object id
func CreateTraceMonitor(tm *TraceManager, objID int) *QueueDiscMonitor {
	return &QueueDiscMonitor{
		EnqueueF: func(item *QueueDiscItem, vrt Time) {
			AddQueueTrace(tm, vrt, item, objID, "enqueue", "")
		},
		DequeueF: func(item *QueueDiscItem, vrt Time) {
			AddQueueTrace(tm, vrt, item, objID, "dequeue", "")
		},
		DropF: func(item *QueueDiscItem, reason DropReason, vrt Time) {
			AddQueueTrace(tm, vrt, item, objID, "drop", reason.String())
		},
		MarkF: func(item *QueueDiscItem, reason MarkReason, vrt Time) {
			AddQueueTrace(tm, vrt, item, objID, "mark", reason.String())
		},
	}
}
