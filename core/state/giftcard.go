package state

import (
	"fmt"

	"solbox/native/giftcard"
)

// GiftcardStoreGet loads the store record.
func (m *Manager) GiftcardStoreGet() (*giftcard.Store, bool, error) {
	var store giftcard.Store
	ok, err := m.KVGet(giftcardStoreKey, &store)
	if err != nil {
		return nil, false, fmt.Errorf("state: load giftcard store: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &store, true, nil
}

// GiftcardStorePut persists the store record.
func (m *Manager) GiftcardStorePut(store *giftcard.Store) error {
	if store == nil {
		return fmt.Errorf("state: nil giftcard store")
	}
	return m.KVPut(giftcardStoreKey, store)
}

// GiftcardRelationshipAppend stores rel under its sequence. Sequences are
// write-once.
func (m *Manager) GiftcardRelationshipAppend(rel *giftcard.Relationship) error {
	if rel == nil {
		return fmt.Errorf("state: nil relationship")
	}
	key := giftcardRelationshipKey(rel.Sequence)
	exists, err := m.KVGet(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("state: relationship %d already recorded", rel.Sequence)
	}
	return m.KVPut(key, rel)
}

// GiftcardRelationship loads a single relationship by sequence.
func (m *Manager) GiftcardRelationship(sequence uint64) (*giftcard.Relationship, bool, error) {
	var rel giftcard.Relationship
	ok, err := m.KVGet(giftcardRelationshipKey(sequence), &rel)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &rel, true, nil
}

// GiftcardRelationships returns up to limit relationships starting at offset.
// A zero limit returns the rest of the ledger.
func (m *Manager) GiftcardRelationships(offset, limit uint64) ([]giftcard.Relationship, error) {
	store, ok, err := m.GiftcardStoreGet()
	if err != nil || !ok {
		return nil, err
	}
	end := store.ReferralCount
	if limit > 0 && offset+limit > offset && offset+limit < end {
		end = offset + limit
	}
	if offset >= end {
		return []giftcard.Relationship{}, nil
	}
	out := make([]giftcard.Relationship, 0, end-offset)
	for seq := offset; seq < end; seq++ {
		rel, ok, err := m.GiftcardRelationship(seq)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("state: relationship %d missing", seq)
		}
		out = append(out, *rel)
	}
	return out, nil
}

// GiftcardOccupancyGet loads the sponsor occupancy index. A missing index is
// returned empty.
func (m *Manager) GiftcardOccupancyGet() (*giftcard.Occupancy, error) {
	var slots []giftcard.SponsorSlot
	if _, err := m.KVGet(giftcardOccupancyKey, &slots); err != nil {
		return nil, fmt.Errorf("state: load occupancy: %w", err)
	}
	return &giftcard.Occupancy{Slots: slots}, nil
}

// GiftcardOccupancyPut persists the sponsor occupancy index.
func (m *Manager) GiftcardOccupancyPut(occ *giftcard.Occupancy) error {
	if occ == nil {
		return m.KVDelete(giftcardOccupancyKey)
	}
	slots := occ.Slots
	if slots == nil {
		slots = []giftcard.SponsorSlot{}
	}
	return m.KVPut(giftcardOccupancyKey, slots)
}

// GiftcardRebuildOccupancy recomputes the occupancy index from the ledger.
func (m *Manager) GiftcardRebuildOccupancy() (*giftcard.Occupancy, error) {
	rels, err := m.GiftcardRelationships(0, 0)
	if err != nil {
		return nil, err
	}
	occ := giftcard.NewOccupancy(rels)
	if err := m.GiftcardOccupancyPut(occ); err != nil {
		return nil, err
	}
	return occ, nil
}
