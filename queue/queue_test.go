package queue

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddChunkIdempotent(t *testing.T) {
	q := New()
	q.AddChunk("a")
	q.AddChunk("a")
	assert.Equal(t, 1, q.Len())
}

func TestRemoveChunkNoop(t *testing.T) {
	q := New()
	q.RemoveChunk("missing") // must not panic
	assert.Equal(t, 0, q.Len())
}

func TestChunksSortedDescendingByValue(t *testing.T) {
	q := New()
	q.AddChunk("x")
	q.AddChunk("y")
	q.AddChunk("z")
	q.SetOverallRemotesCount(3)
	q.SetChunkRemotesCount("x", 3) // common, rarity 0
	q.SetChunkRemotesCount("y", 2)
	q.SetChunkRemotesCount("z", 1) // rarest

	ordered := q.Chunks()
	assert.Equal(t, []ChunkID{"z", "y", "x"}, ordered)

	weights := make([]float64, len(ordered))
	for i, id := range ordered {
		w, _ := q.Weight(id)
		weights[i] = w.Value()
	}
	assert.True(t, sort.SliceIsSorted(weights, func(i, j int) bool { return weights[i] > weights[j] }))
}

func TestOwnedByRaisesWeight(t *testing.T) {
	q := New()
	q.AddChunk("a")
	before, _ := q.Weight("a")
	q.SetOwnedBy("a", 3)
	after, _ := q.Weight("a")
	assert.Greater(t, after.Value(), before.Value())
}

func TestClusteredAndImmediateAreOneWay(t *testing.T) {
	q := New()
	q.AddChunk("a")
	q.MarkClustered("a")
	w, _ := q.Weight("a")
	assert.True(t, w.Clustered)

	// Nothing in this package ever clears the flag back; simulate a second
	// mark and confirm it stays set.
	q.MarkClustered("a")
	w, _ = q.Weight("a")
	assert.True(t, w.Clustered)

	q.MarkImmediate("a")
	w, _ = q.Weight("a")
	assert.True(t, w.Immediate)

	q.MarkImmediate("a")
	w, _ = q.Weight("a")
	assert.True(t, w.Immediate)
}

func TestSetOverallRemotesCountReweightsEveryChunk(t *testing.T) {
	q := New()
	q.AddChunk("a")
	q.AddChunk("b")
	q.SetChunkRemotesCount("a", 1)
	q.SetChunkRemotesCount("b", 1)
	q.SetOverallRemotesCount(10)

	wa, _ := q.Weight("a")
	wb, _ := q.Weight("b")
	assert.Equal(t, uint32(10), wa.OverallRemotes)
	assert.Equal(t, uint32(10), wb.OverallRemotes)
}

func TestRarityClampedWhenNoRemotes(t *testing.T) {
	w := Weight{}
	assert.Equal(t, 0.0, w.Value())
}
