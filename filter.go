package nqsim

// filter.go holds packet classification: the PacketFilter interface,
// the chain evaluation rule (first match wins), and the salted
// five-tuple hash used both by the default classifier and by the
// tuple filter.

// PcktFilterNoMatch is the sentinel a filter returns when it declines
// to classify an item.  It is not an error; the caller tries the next
// filter in the chain
const PcktFilterNoMatch int32 = -1

// PacketFilter maps a queue disc item to a flow identifier
type PacketFilter interface {
	// CheckProtocol reports whether the filter applies to the item's
	// protocol at all.  An inapplicable filter never classifies
	CheckProtocol(item *QueueDiscItem) bool

	// Classify returns a non-negative flow hash, or PcktFilterNoMatch
	Classify(item *QueueDiscItem) int32
}

// classifyItem runs the filter chain.  The first filter that applies
// and matches decides; an empty chain or all-NoMatch yields NoMatch
func classifyItem(filters []PacketFilter, item *QueueDiscItem) int32 {
	for _, filter := range filters {
		if !filter.CheckProtocol(item) {
			continue
		}
		hash := filter.Classify(item)
		if hash != PcktFilterNoMatch {
			return hash
		}
	}
	return PcktFilterNoMatch
}

// hashTuple mixes the packet five tuple with a perturbation salt.
// Changing the salt redistributes flows across buckets, which defeats
// adversarial bucket collisions between experiments
func hashTuple(pckt *Packet, perturbation uint32) uint32 {
	h := perturbation
	h = mix(h, pckt.SrcAddr)
	h = mix(h, pckt.DstAddr)
	h = mix(h, uint32(pckt.SrcPort)<<16|uint32(pckt.DstPort))
	h = mix(h, uint32(pckt.Protocol))
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// mix folds one word into the running hash
func mix(h, k uint32) uint32 {
	k *= 0xcc9e2d51
	k = k<<15 | k>>17
	k *= 0x1b873593
	h ^= k
	h = h<<13 | h>>19
	h = h*5 + 0xe6546b64
	return h
}

// FlowTupleFilter classifies items of one IP protocol (or any, when
// protocol is zero) by their salted five-tuple hash
type FlowTupleFilter struct {
	protocol     uint8 // 0 matches any protocol
	perturbation uint32
}

// CreateFlowTupleFilter is a constructor
func CreateFlowTupleFilter(protocol uint8, perturbation uint32) *FlowTupleFilter {
	return &FlowTupleFilter{protocol: protocol, perturbation: perturbation}
}

// CheckProtocol reports whether the filter's protocol covers the item
func (ftf *FlowTupleFilter) CheckProtocol(item *QueueDiscItem) bool {
	return ftf.protocol == 0 || ftf.protocol == item.Pckt.Protocol
}

// Classify hashes the five tuple.  The sign bit is cleared so the
// result can never collide with the NoMatch sentinel
func (ftf *FlowTupleFilter) Classify(item *QueueDiscItem) int32 {
	return int32(hashTuple(item.Pckt, ftf.perturbation) & 0x7fffffff)
}
