package nqsim

// gen.go holds the traffic source, which feeds a root queue disc with
// synthetic packet arrivals.  Each source owns an rng stream and an
// inter-arrival sampling function; an arrival event enqueues one item
// and schedules the next arrival, so a source is just a self-renewing
// chain of events on the virtual clock.

import (
	"fmt"
	"math"

	"github.com/iti/rngstream"
)

// TrafficSrcParams is the serializable configuration of one source
type TrafficSrcParams struct {
	Name     string  `json:"name" yaml:"name"`
	Rate     float64 `json:"rate" yaml:"rate"`         // packets per second
	Dist     string  `json:"dist" yaml:"dist"`         // "exponential" or "constant"
	PcktLen  int     `json:"pcktlen" yaml:"pcktlen"`   // bytes
	Count    int     `json:"count" yaml:"count"`       // packets to emit, 0 means unbounded
	SrcAddr  uint32  `json:"srcaddr" yaml:"srcaddr"`
	DstAddr  uint32  `json:"dstaddr" yaml:"dstaddr"`
	SrcPort  uint16  `json:"srcport" yaml:"srcport"`
	DstPort  uint16  `json:"dstport" yaml:"dstport"`
	Protocol uint8   `json:"protocol" yaml:"protocol"`
	Ecn      bool    `json:"ecn" yaml:"ecn"`
}

// TrafficSrc generates a stream of packets into a root queue disc
type TrafficSrc struct {
	name    string
	rate    float64
	pcktLen int
	count   int // packets still to emit, negative means unbounded
	emitted int

	srcAddr  uint32
	dstAddr  uint32
	srcPort  uint16
	dstPort  uint16
	protocol uint8
	ecn      bool

	root    *RootQueueDisc
	rngstrm *rngstream.RngStream

	// function that computes inter-arrival times.  First argument is a
	// U01 random number, second a vector of distribution parameters
	sampleNxtArrival func(float64, []float64) float64

	arrivalEvt EventID
	running    bool
}

// CreateTrafficSrc is a constructor
func CreateTrafficSrc(params TrafficSrcParams, root *RootQueueDisc) *TrafficSrc {
	if params.Rate <= 0.0 {
		panic(fmt.Sprintf("source %s configured with non-positive rate", params.Name))
	}
	if params.PcktLen <= 0 {
		panic(fmt.Sprintf("source %s configured with non-positive packet length", params.Name))
	}

	ts := new(TrafficSrc)
	ts.name = params.Name
	ts.rate = params.Rate
	ts.pcktLen = params.PcktLen
	ts.count = params.Count
	if ts.count == 0 {
		ts.count = -1
	}
	ts.srcAddr = params.SrcAddr
	ts.dstAddr = params.DstAddr
	ts.srcPort = params.SrcPort
	ts.dstPort = params.DstPort
	ts.protocol = params.Protocol
	ts.ecn = params.Ecn
	ts.root = root
	ts.rngstrm = rngstream.New(params.Name)

	// make poisson arrivals the default
	ts.sampleNxtArrival = sampleExpRV
	switch params.Dist {
	case "constant", "const":
		ts.sampleNxtArrival = sampleConst
	case "exponential", "exp", "expon", "":
		ts.sampleNxtArrival = sampleExpRV
	default:
		panic(fmt.Sprintf("source %s names unknown distribution %s", params.Name, params.Dist))
	}
	return ts
}

// Name returns the source name
func (ts *TrafficSrc) Name() string {
	return ts.name
}

// Emitted returns the number of packets generated so far
func (ts *TrafficSrc) Emitted() int {
	return ts.emitted
}

// Start schedules the source's first arrival
func (ts *TrafficSrc) Start(evtMgr *EventManager) {
	if ts.running {
		return
	}
	ts.running = true
	offset := ts.sampleNxtArrival(ts.rngstrm.RandU01(), []float64{ts.rate})
	ts.arrivalEvt = evtMgr.Schedule(ts, nil, trafficArrival, SecondsToTime(offset))
}

// Stop cancels the pending arrival, ending the chain
func (ts *TrafficSrc) Stop(evtMgr *EventManager) {
	if !ts.running {
		return
	}
	ts.running = false
	evtMgr.CancelEvent(ts.arrivalEvt)
}

// trafficArrival generates one packet, offers it to the root disc, and
// schedules the next arrival
func trafficArrival(evtMgr *EventManager, context any, data any) any {
	ts := context.(*TrafficSrc)
	if !ts.running {
		return nil
	}

	pckt := CreatePacket(ts.pcktLen, ts.srcAddr, ts.dstAddr, ts.srcPort, ts.dstPort, ts.protocol, ts.ecn)
	item := CreateQueueDiscItem(pckt, ts.dstAddr, uint16(ts.protocol), 0)
	ts.root.Enqueue(evtMgr, item)
	ts.emitted += 1

	if ts.count > 0 {
		ts.count -= 1
		if ts.count == 0 {
			ts.running = false
			return nil
		}
	}

	offset := ts.sampleNxtArrival(ts.rngstrm.RandU01(), []float64{ts.rate})
	ts.arrivalEvt = evtMgr.Schedule(ts, nil, trafficArrival, SecondsToTime(offset))
	return nil
}

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV has the function signature expected by a traffic source
// for computing a next interarrival time
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst has the function signature expected by a traffic source
// for computing a next interarrival time, here, a constant
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}
