// Package queue implements the weighted download queue: a bijection
// between missing chunks and their composite priority Weight, ordered by
// descending Value() so the scheduler can snapshot chunks from highest to
// lowest priority.
//
// It's an index map keyed by ct_hash (as a ChunkID) to a Weight value,
// with the Downloader looking up the actual *chunk.MissingChunk by id
// wherever it needs one. Chunks() recomputes a sorted snapshot via
// sort.Slice on demand rather than maintaining an ordered structure
// incrementally.
package queue

import "sort"

// ChunkID is the queue's notion of chunk identity — a ct_hash, as a string
// so it can key a map.
type ChunkID string

type entry struct {
	id       ChunkID
	weight   Weight
	sequence uint64 // insertion order, for stable ties
}

// Queue is the WeightedDownloadQueue.
type Queue struct {
	entries        map[ChunkID]*entry
	overallRemotes uint32
	nextSequence   uint64
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{entries: make(map[ChunkID]*entry)}
}

// AddChunk inserts id with the initial weight (all flags/counts zero). A
// no-op if id is already present.
func (q *Queue) AddChunk(id ChunkID) {
	if _, ok := q.entries[id]; ok {
		return
	}
	q.entries[id] = &entry{
		id:       id,
		weight:   Weight{OverallRemotes: q.overallRemotes},
		sequence: q.nextSequence,
	}
	q.nextSequence++
}

// RemoveChunk removes id. A no-op if absent.
func (q *Queue) RemoveChunk(id ChunkID) {
	delete(q.entries, id)
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id ChunkID) bool {
	_, ok := q.entries[id]
	return ok
}

// Len reports the number of queued chunks.
func (q *Queue) Len() int { return len(q.entries) }

// Weight returns the current weight stored for id.
func (q *Queue) Weight(id ChunkID) (Weight, bool) {
	e, ok := q.entries[id]
	if !ok {
		return Weight{}, false
	}
	return e.weight, true
}

// SetOverallRemotesCount updates the rarity term's denominator and
// reweights every queued chunk.
func (q *Queue) SetOverallRemotesCount(n uint32) {
	q.overallRemotes = n
	for _, e := range q.entries {
		e.weight.OverallRemotes = n
	}
}

// SetChunkRemotesCount updates id's remotes_count and reweights only id.
func (q *Queue) SetChunkRemotesCount(id ChunkID, n uint32) {
	if e, ok := q.entries[id]; ok {
		e.weight.RemotesCount = n
	}
}

// SetOwnedBy updates id's owned_by term directly — used when a request is
// issued, completed, or canceled.
func (q *Queue) SetOwnedBy(id ChunkID, n uint32) {
	if e, ok := q.entries[id]; ok {
		e.weight.OwnedBy = n
	}
}

// MarkClustered sets id's clustered flag. One-way: never cleared within a
// chunk's lifetime in the queue.
func (q *Queue) MarkClustered(id ChunkID) {
	if e, ok := q.entries[id]; ok {
		e.weight.Clustered = true
	}
}

// MarkImmediate sets id's immediate flag. One-way, like Clustered.
func (q *Queue) MarkImmediate(id ChunkID) {
	if e, ok := q.entries[id]; ok {
		e.weight.Immediate = true
	}
}

// Chunks returns a snapshot of queued chunk ids in descending weight order.
// Ties are broken by insertion order: weights are never compared for
// equality, so ties are "incomparable" rather than interchangeable.
func (q *Queue) Chunks() []ChunkID {
	entries := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		vi, vj := entries[i].weight.Value(), entries[j].weight.Value()
		if vi != vj {
			return vi > vj
		}
		return entries[i].sequence < entries[j].sequence
	})
	ids := make([]ChunkID, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}
