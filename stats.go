package nqsim

// stats.go holds the statistics gathered alongside a trace: per-disc
// sojourn time samples and event counts, summarized after the run into
// a report that can be written as yaml or json.

import (
	"encoding/json"
	"os"
	"path"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// SampleSet accumulates one named series of float64 samples
type SampleSet struct {
	Name    string
	Samples []float64
}

// CreateSampleSet is a constructor
func CreateSampleSet(name string) *SampleSet {
	return &SampleSet{Name: name, Samples: make([]float64, 0)}
}

// Add appends one sample
func (ss *SampleSet) Add(v float64) {
	ss.Samples = append(ss.Samples, v)
}

// N returns the sample count
func (ss *SampleSet) N() int {
	return len(ss.Samples)
}

// Summarize reduces the samples to the summary form used in reports
func (ss *SampleSet) Summarize() SampleSummary {
	smry := SampleSummary{Name: ss.Name, N: len(ss.Samples)}
	if len(ss.Samples) == 0 {
		return smry
	}

	sorted := make([]float64, len(ss.Samples))
	copy(sorted, ss.Samples)
	sort.Float64s(sorted)

	smry.Mean = stat.Mean(sorted, nil)
	smry.StdDev = stat.StdDev(sorted, nil)
	smry.Min = sorted[0]
	smry.Max = sorted[len(sorted)-1]
	smry.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	smry.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	smry.P99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	return smry
}

// SampleSummary is the serializable reduction of a SampleSet
type SampleSummary struct {
	Name   string  `json:"name" yaml:"name"`
	N      int     `json:"n" yaml:"n"`
	Mean   float64 `json:"mean" yaml:"mean"`
	StdDev float64 `json:"stddev" yaml:"stddev"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Median float64 `json:"median" yaml:"median"`
	P95    float64 `json:"p95" yaml:"p95"`
	P99    float64 `json:"p99" yaml:"p99"`
}

// DiscStats counts disc events and accumulates sojourn samples for one
// disc.  It fills the QueueDiscMonitor role, alongside or instead of
// the trace manager
type DiscStats struct {
	DiscName string

	Enqueued      int
	Dequeued      int
	Marked        int
	DropsByReason map[string]int

	sojourn *SampleSet
}

// CreateDiscStats is a constructor
func CreateDiscStats(discName string) *DiscStats {
	return &DiscStats{
		DiscName:      discName,
		DropsByReason: make(map[string]int),
		sojourn:       CreateSampleSet(discName + ":sojourn"),
	}
}

// Monitor builds the QueueDiscMonitor feeding this collector.  chain
// is an optional further monitor to forward every event to, so stats
// and trace gathering stack
func (ds *DiscStats) Monitor(chain *QueueDiscMonitor) *QueueDiscMonitor {
	return &QueueDiscMonitor{
		EnqueueF: func(item *QueueDiscItem, vrt Time) {
			ds.Enqueued += 1
			chain.enqueue(item, vrt)
		},
		DequeueF: func(item *QueueDiscItem, vrt Time) {
			ds.Dequeued += 1
			ds.sojourn.Add(vrt.Seconds() - item.Timestamp().Seconds())
			chain.dequeue(item, vrt)
		},
		DropF: func(item *QueueDiscItem, reason DropReason, vrt Time) {
			ds.DropsByReason[reason.String()] += 1
			chain.drop(item, reason, vrt)
		},
		MarkF: func(item *QueueDiscItem, reason MarkReason, vrt Time) {
			ds.Marked += 1
			chain.mark(item, reason, vrt)
		},
	}
}

// Drops returns the total dropped across all reasons
func (ds *DiscStats) Drops() int {
	total := 0
	for _, n := range ds.DropsByReason {
		total += n
	}
	return total
}

// DiscReport is the serializable per-disc section of a report
type DiscReport struct {
	Name          string         `json:"name" yaml:"name"`
	Enqueued      int            `json:"enqueued" yaml:"enqueued"`
	Dequeued      int            `json:"dequeued" yaml:"dequeued"`
	Marked        int            `json:"marked" yaml:"marked"`
	DropsByReason map[string]int `json:"dropsbyreason" yaml:"dropsbyreason"`
	Sojourn       SampleSummary  `json:"sojourn" yaml:"sojourn"`
}

// ExperimentReport is the serializable summary of a whole run
type ExperimentReport struct {
	ExpName   string       `json:"expname" yaml:"expname"`
	StopTime  float64      `json:"stoptime" yaml:"stoptime"`
	Discs     []DiscReport `json:"discs" yaml:"discs"`
	Delivered map[string]int `json:"delivered" yaml:"delivered"`
}

// Report reduces the collector to its serializable form
func (ds *DiscStats) Report() DiscReport {
	return DiscReport{
		Name:          ds.DiscName,
		Enqueued:      ds.Enqueued,
		Dequeued:      ds.Dequeued,
		Marked:        ds.Marked,
		DropsByReason: ds.DropsByReason,
		Sojourn:       ds.sojourn.Summarize(),
	}
}

// WriteToFile stores the report to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension
// of this name.
func (rpt *ExperimentReport) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*rpt)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*rpt, "", "\t")
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
	return werr
}
