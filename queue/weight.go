package queue

// Weight is the composite scheduling priority for one missing chunk.
// Ordering is defined solely by the descending Value() comparator; two
// Weights are never compared for equality — value ties are broken by
// stable insertion order instead.
type Weight struct {
	Clustered      bool
	Immediate      bool
	OwnedBy        uint32
	RemotesCount   uint32
	OverallRemotes uint32
}

const (
	clusteredCoefficient = 10.0
	immediateCoefficient = 20.0
	rarityCoefficient    = 25.0
)

// Value computes the composite scheduling weight:
//
//	value = owned_by + clustered*K_c + immediate*K_i + (1 - remotes/overall)*K_r
//
// with the rarity term clamped to [0,1] and zero when there are no
// connected peers at all.
func (w Weight) Value() float64 {
	value := float64(w.OwnedBy)
	if w.Clustered {
		value += clusteredCoefficient
	}
	if w.Immediate {
		value += immediateCoefficient
	}
	value += w.rarity() * rarityCoefficient
	return value
}

func (w Weight) rarity() float64 {
	if w.OverallRemotes == 0 {
		return 0
	}
	r := 1 - float64(w.RemotesCount)/float64(w.OverallRemotes)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
