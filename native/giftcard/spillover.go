package giftcard

// Spillover placement.
//
// Candidates are every identity that appears in the referral ledger, ordered by
// first appearance with a relationship's sponsor ahead of its buyer. A
// candidate is eligible while its direct referral count is below capacity and
// it is not the buyer being placed.

// Resolve is the reference linear scan over the ledger. It returns the
// requested sponsor when it still has room, otherwise the earliest eligible
// candidate. The boolean is false when no candidate has room.
func Resolve(relationships []Relationship, requested, requester [20]byte, capacity uint64) ([20]byte, bool) {
	counts := make(map[[20]byte]uint64, len(relationships))
	for _, rel := range relationships {
		counts[rel.Sponsor]++
	}
	if counts[requested] < capacity {
		return requested, true
	}
	for _, rel := range relationships {
		for _, candidate := range [2][20]byte{rel.Sponsor, rel.Buyer} {
			if candidate == requester {
				continue
			}
			if counts[candidate] < capacity {
				return candidate, true
			}
		}
	}
	return [20]byte{}, false
}

// SponsorSlot is the occupancy of a single identity.
type SponsorSlot struct {
	Identity  [20]byte
	Referrals uint64
}

// Occupancy is the per-identity referral index kept next to the ledger. Slots
// are in first-appearance order so resolution gives the same answer as
// Resolve without walking every relationship.
type Occupancy struct {
	Slots []SponsorSlot
	index map[[20]byte]int
}

// NewOccupancy rebuilds the index from a full ledger.
func NewOccupancy(relationships []Relationship) *Occupancy {
	occ := &Occupancy{}
	for _, rel := range relationships {
		occ.Record(rel.Buyer, rel.Sponsor)
	}
	return occ
}

func (o *Occupancy) ensureIndex() {
	if o.index != nil && len(o.index) == len(o.Slots) {
		return
	}
	o.index = make(map[[20]byte]int, len(o.Slots))
	for i, slot := range o.Slots {
		o.index[slot.Identity] = i
	}
}

func (o *Occupancy) slot(id [20]byte) int {
	o.ensureIndex()
	if i, ok := o.index[id]; ok {
		return i
	}
	o.Slots = append(o.Slots, SponsorSlot{Identity: id})
	o.index[id] = len(o.Slots) - 1
	return len(o.Slots) - 1
}

// Referrals returns the direct referral count of id.
func (o *Occupancy) Referrals(id [20]byte) uint64 {
	if o == nil {
		return 0
	}
	o.ensureIndex()
	if i, ok := o.index[id]; ok {
		return o.Slots[i].Referrals
	}
	return 0
}

// Record registers a new relationship.
func (o *Occupancy) Record(buyer, sponsor [20]byte) {
	i := o.slot(sponsor)
	o.Slots[i].Referrals++
	o.slot(buyer)
}

// Resolve mirrors the package level Resolve over the index.
func (o *Occupancy) Resolve(requested, requester [20]byte, capacity uint64) ([20]byte, bool) {
	if o.Referrals(requested) < capacity {
		return requested, true
	}
	if o == nil {
		return [20]byte{}, false
	}
	for _, slot := range o.Slots {
		if slot.Identity == requester {
			continue
		}
		if slot.Referrals < capacity {
			return slot.Identity, true
		}
	}
	return [20]byte{}, false
}

// Clone returns an independent copy of the index.
func (o *Occupancy) Clone() *Occupancy {
	if o == nil {
		return &Occupancy{}
	}
	return &Occupancy{Slots: append([]SponsorSlot(nil), o.Slots...)}
}
