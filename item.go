package nqsim

// item.go holds the packet representation and the QueueDiscItem
// wrapper that unites a packet with the routing metadata the queueing
// layer needs.  An item has a single owner at any moment and moves,
// never shared, between the classifier, a flow's child disc, and the
// device.

// Packet carries the fields of a simulated packet the queueing layer
// can observe.  The five tuple fields feed flow classification, the
// ECN bits feed the AQM mark-or-drop decision
type Packet struct {
	PcktID   int
	PcktLen  int // bytes, including headers
	SrcAddr  uint32
	DstAddr  uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8

	EcnCapable bool // sender negotiated ECN
	CongExp    bool // congestion experienced mark
}

// unique identifier for each packet created
var nxtPcktID int = 0

// CreatePacket is a constructor
func CreatePacket(pcktLen int, srcAddr, dstAddr uint32, srcPort, dstPort uint16,
	protocol uint8, ecnCapable bool) *Packet {

	nxtPcktID += 1
	return &Packet{PcktID: nxtPcktID, PcktLen: pcktLen, SrcAddr: srcAddr, DstAddr: dstAddr,
		SrcPort: srcPort, DstPort: dstPort, Protocol: protocol, EcnCapable: ecnCapable}
}

// QueueDiscItem wraps a packet with the metadata a queue disc keys on
type QueueDiscItem struct {
	Pckt     *Packet
	DstAddr  uint32
	Protocol uint16
	TxQueue  uint8

	// virtual time the item entered the disc, for sojourn measurement
	tstamp Time
}

// CreateQueueDiscItem is a constructor
func CreateQueueDiscItem(pckt *Packet, dstAddr uint32, protocol uint16, txQueue uint8) *QueueDiscItem {
	return &QueueDiscItem{Pckt: pckt, DstAddr: dstAddr, Protocol: protocol, TxQueue: txQueue}
}

// Size returns the byte length of the wrapped packet
func (item *QueueDiscItem) Size() int {
	return item.Pckt.PcktLen
}

// Timestamp returns the virtual time recorded when the item entered
// its current disc
func (item *QueueDiscItem) Timestamp() Time {
	return item.tstamp
}

// SetTimestamp records the virtual time the item entered a disc
func (item *QueueDiscItem) SetTimestamp(vrt Time) {
	item.tstamp = vrt
}

// Mark sets the congestion experienced bit if the packet is ECN
// capable, and reports whether the mark was applied
func (item *QueueDiscItem) Mark() bool {
	if !item.Pckt.EcnCapable {
		return false
	}
	item.Pckt.CongExp = true
	return true
}

// DropReason distinguishes why a disc let go of a packet.  Downstream
// analysis separates drops by reason, so the set of reasons and their
// names are part of the disc's external contract
type DropReason int

const (
	// OverlimitDrop marks eviction because aggregate occupancy passed MaxSize
	OverlimitDrop DropReason = iota

	// UnclassifiedDrop marks an item no packet filter matched
	UnclassifiedDrop

	// TargetExceededDrop marks a CoDel control law drop
	TargetExceededDrop

	// ForcedDrop marks a BLUE occupancy-probability drop
	ForcedDrop

	// UnforcedDrop marks a PIE random early drop
	UnforcedDrop

	// QueueFullDrop marks arrival at a disc whose own queue is at capacity
	QueueFullDrop
)

var dropReasonToStr map[DropReason]string = map[DropReason]string{
	OverlimitDrop:      "Overlimit drop",
	UnclassifiedDrop:   "Unclassified drop",
	TargetExceededDrop: "Target exceeded drop",
	ForcedDrop:         "Forced drop",
	UnforcedDrop:       "Unforced drop",
	QueueFullDrop:      "Queue full drop",
}

func (dr DropReason) String() string {
	return dropReasonToStr[dr]
}

// MarkReason distinguishes why a disc set the CE bit on a packet
type MarkReason int

const (
	// TargetExceededMark is the ECN form of a CoDel control law drop
	TargetExceededMark MarkReason = iota

	// ForcedMark is the ECN form of a BLUE probability drop
	ForcedMark

	// UnforcedMark is the ECN form of a PIE random early drop
	UnforcedMark

	// CeThresholdMark marks sojourn time past the configured CE threshold
	CeThresholdMark
)

var markReasonToStr map[MarkReason]string = map[MarkReason]string{
	TargetExceededMark: "Target exceeded mark",
	ForcedMark:         "Forced mark",
	UnforcedMark:       "Unforced mark",
	CeThresholdMark:    "CE threshold mark",
}

func (mr MarkReason) String() string {
	return markReasonToStr[mr]
}
