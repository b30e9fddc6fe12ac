package nqsim

// experiment.go assembles the runtime structures of an experiment from
// its configuration: the event manager, the devices, the queue discs
// and their drivers, the traffic sources, and the trace and statistics
// collectors that observe them.

import (
	"fmt"
)

// Experiment holds a fully assembled simulation ready to run
type Experiment struct {
	Name     string
	EvtMgr   *EventManager
	TraceMgr *TraceManager

	cfg *ExpCfg

	devByName   map[string]*NetDevQueue
	rootByName  map[string]*RootQueueDisc
	statsByName map[string]*DiscStats
	srcs        []*TrafficSrc

	nxtObjID int
}

// nxtID creates an id for objects created within the experiment that
// is unique among those objects
func (ex *Experiment) nxtID() int {
	ex.nxtObjID += 1
	return ex.nxtObjID
}

// BuildExperiment is called from the module that runs a simulation.
// It validates the configuration, then creates and wires the runtime
// representation of every configured object
func BuildExperiment(xc *ExpCfg) *Experiment {
	xc.validate()

	ex := new(Experiment)
	ex.Name = xc.Name
	ex.cfg = xc
	ex.EvtMgr = CreateEventManager()
	ex.TraceMgr = CreateTraceManager(xc.Name, xc.Trace)
	ex.devByName = make(map[string]*NetDevQueue)
	ex.rootByName = make(map[string]*RootQueueDisc)
	ex.statsByName = make(map[string]*DiscStats)
	ex.srcs = make([]*TrafficSrc, 0)

	for _, devCfg := range xc.Devices {
		dev := CreateNetDevQueue(devCfg.Name, devCfg.Bndwdth, devCfg.MTU, devCfg.Limit)
		ex.devByName[devCfg.Name] = dev

		discName := devCfg.Disc.Name
		if discName == "" {
			discName = devCfg.Name + ":disc"
		}

		objID := ex.nxtID()
		ex.TraceMgr.AddName(objID, discName, "queuedisc")

		stats := CreateDiscStats(discName)
		ex.statsByName[devCfg.Name] = stats
		monitor := stats.Monitor(CreateTraceMonitor(ex.TraceMgr, objID))

		disc := ex.createQueueDisc(discName, devCfg.Disc, dev, monitor)
		ex.rootByName[devCfg.Name] = CreateRootQueueDisc(discName, disc, dev, devCfg.Quota)
	}

	for _, srcCfg := range xc.Srcs {
		root := ex.rootByName[srcCfg.Device]
		ex.srcs = append(ex.srcs, CreateTrafficSrc(srcCfg.Src, root))
	}

	return ex
}

// createQueueDisc builds the disc a configuration stanza names
func (ex *Experiment) createQueueDisc(name string, cfg QueueDiscCfg, dev *NetDevQueue,
	monitor *QueueDiscMonitor) QueueDisc {

	switch cfg.DiscType {
	case "cobalt":
		return CreateCobaltQueueDisc(name, mergeCobaltParams(cfg.Cobalt, dev), monitor)

	case "pie":
		return CreatePieQueueDisc(ex.EvtMgr, name, mergePieParams(cfg.Pie), monitor)

	case "fq":
		fqParams := mergeFqParams(cfg.Fq)
		childType := cfg.ChildType
		if childType == "" {
			childType = "cobalt"
		}

		// per-flow child discs inherit the marking policy configured
		// on the fair-queueing disc.  They report drops and marks to
		// the same monitor, but not enqueues and dequeues, which the
		// parent already reports once per admitted item
		childMonitor := &QueueDiscMonitor{DropF: monitor.DropF, MarkF: monitor.MarkF}
		nxtChild := 0
		var newChild func() QueueDisc
		switch childType {
		case "cobalt":
			childParams := mergeCobaltParams(cfg.Cobalt, dev)
			childParams.UseEcn = fqParams.UseEcn
			childParams.CeThreshold = fqParams.CeThreshold
			newChild = func() QueueDisc {
				nxtChild += 1
				return CreateCobaltQueueDisc(fmt.Sprintf("%s:flow-%d", name, nxtChild), childParams, childMonitor)
			}
		case "pie":
			childParams := mergePieParams(cfg.Pie)
			childParams.UseEcn = fqParams.UseEcn
			evtMgr := ex.EvtMgr
			newChild = func() QueueDisc {
				nxtChild += 1
				return CreatePieQueueDisc(evtMgr, fmt.Sprintf("%s:flow-%d", name, nxtChild), childParams, childMonitor)
			}
		}
		return CreateFqQueueDisc(name, fqParams, dev, nil, newChild, monitor)
	}

	panic(fmt.Sprintf("disc %s names unknown type %s", name, cfg.DiscType))
}

// mergeFqParams fills unset fields of a configuration stanza with the defaults
func mergeFqParams(params FqParams) FqParams {
	def := DefaultFqParams()
	if params.MaxSize == "" {
		params.MaxSize = def.MaxSize
	}
	if params.Flows == 0 {
		params.Flows = def.Flows
	}
	if params.DropBatchSize == 0 {
		params.DropBatchSize = def.DropBatchSize
	}
	if params.SetWays == 0 {
		params.SetWays = def.SetWays
	}
	return params
}

// mergeCobaltParams fills unset fields of a configuration stanza with
// the defaults, taking the MTU from the device when available
func mergeCobaltParams(params CobaltParams, dev *NetDevQueue) CobaltParams {
	def := DefaultCobaltParams()
	if params.MaxSize == "" {
		params.MaxSize = def.MaxSize
	}
	if params.Target == 0.0 {
		params.Target = def.Target
	}
	if params.Interval == 0.0 {
		params.Interval = def.Interval
	}
	if params.Increment == 0.0 {
		params.Increment = def.Increment
	}
	if params.Decrement == 0.0 {
		params.Decrement = def.Decrement
	}
	if params.Mtu == 0 {
		if dev != nil && dev.MTU() > 0 {
			params.Mtu = dev.MTU()
		} else {
			params.Mtu = def.Mtu
		}
	}
	return params
}

// mergePieParams fills unset fields of a configuration stanza with the defaults
func mergePieParams(params PieParams) PieParams {
	def := DefaultPieParams()
	if params.MaxSize == "" {
		params.MaxSize = def.MaxSize
	}
	if params.A == 0.0 {
		params.A = def.A
	}
	if params.B == 0.0 {
		params.B = def.B
	}
	if params.Tupdate == 0.0 {
		params.Tupdate = def.Tupdate
	}
	if params.QueueDelayReference == 0.0 {
		params.QueueDelayReference = def.QueueDelayReference
	}
	if params.MaxBurstAllowance == 0.0 {
		params.MaxBurstAllowance = def.MaxBurstAllowance
	}
	if params.MarkEcnThreshold == 0.0 {
		params.MarkEcnThreshold = def.MarkEcnThreshold
	}
	if params.MeanPcktSize == 0 {
		params.MeanPcktSize = def.MeanPcktSize
	}
	return params
}

// Run starts every source and advances the virtual clock to the
// configured stop time
func (ex *Experiment) Run() {
	for _, src := range ex.srcs {
		src.Start(ex.EvtMgr)
	}
	ex.EvtMgr.RunToTime(SecondsToTime(ex.cfg.StopTime))
}

// Report summarizes the run
func (ex *Experiment) Report() *ExperimentReport {
	rpt := new(ExperimentReport)
	rpt.ExpName = ex.Name
	rpt.StopTime = ex.cfg.StopTime
	rpt.Discs = make([]DiscReport, 0)
	rpt.Delivered = make(map[string]int)

	for _, devCfg := range ex.cfg.Devices {
		rpt.Discs = append(rpt.Discs, ex.statsByName[devCfg.Name].Report())
		rpt.Delivered[devCfg.Name] = ex.devByName[devCfg.Name].Delivered()
	}
	return rpt
}

// WriteTrace stores the gathered trace, if tracing was enabled
func (ex *Experiment) WriteTrace(filename string) bool {
	return ex.TraceMgr.WriteToFile(filename)
}
