package entity

import "github.com/RoaringBitmap/roaring"

// Provenance tracks which record ordinals contributed to each instance.
// Instances are interned to dense uint32 ids so the per-instance record sets
// stay compact as bitmaps.
type Provenance struct {
	intID map[string]uint32 // instance uid → dense id
	uids  []string          // reverse: dense id → uid
	recs  []*roaring.Bitmap // dense id → record ordinals
}

// NewProvenance creates an empty index.
func NewProvenance() *Provenance {
	return &Provenance{intID: make(map[string]uint32)}
}

// Touch records that the given record ordinal contributed to the instance.
func (p *Provenance) Touch(uid string, record uint32) {
	id, ok := p.intID[uid]
	if !ok {
		id = uint32(len(p.uids))
		p.intID[uid] = id
		p.uids = append(p.uids, uid)
		p.recs = append(p.recs, roaring.New())
	}
	p.recs[id].Add(record)
}

// Records returns the sorted record ordinals that touched the instance.
func (p *Provenance) Records(uid string) []uint32 {
	id, ok := p.intID[uid]
	if !ok {
		return nil
	}
	return p.recs[id].ToArray()
}

// Bitmap returns the raw record set for an instance, nil when untracked.
// Callers must not mutate it.
func (p *Provenance) Bitmap(uid string) *roaring.Bitmap {
	id, ok := p.intID[uid]
	if !ok {
		return nil
	}
	return p.recs[id]
}

// Adopt installs a persisted record set for an instance, replacing any
// existing set. Snapshot loading only.
func (p *Provenance) Adopt(uid string, bm *roaring.Bitmap) {
	id, ok := p.intID[uid]
	if !ok {
		id = uint32(len(p.uids))
		p.intID[uid] = id
		p.uids = append(p.uids, uid)
		p.recs = append(p.recs, roaring.New())
	}
	p.recs[id] = bm
}

// Merge folds the loser's record set into the winner's. Used when two
// independently created instances are discovered to share one identity.
func (p *Provenance) Merge(winnerUID, loserUID string) {
	loserID, ok := p.intID[loserUID]
	if !ok {
		return
	}
	winnerID, ok := p.intID[winnerUID]
	if !ok {
		p.intID[winnerUID] = loserID
		p.uids[loserID] = winnerUID
		delete(p.intID, loserUID)
		return
	}
	p.recs[winnerID].Or(p.recs[loserID])
	p.recs[loserID].Clear()
	delete(p.intID, loserUID)
}
