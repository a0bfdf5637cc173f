// Package interest implements the InterestGuard pattern: an explicit,
// per-peer reference count whose zero-to-one and one-to-zero
// transitions emit interest()/uninterest() to the peer. A MissingChunk holds
// at most one Token per peer; the Tracker aggregates across every chunk that
// currently holds a Token for that peer, so the peer only sees a single
// interest() the first time any chunk needs it and a single uninterest()
// once none do.
package interest

import (
	"sync"

	"github.com/Sceptive/librevault/remote"
)

// Tracker owns the per-peer interest refcount for one folder's swarm.
type Tracker struct {
	mu    sync.Mutex
	count map[remote.PeerID]int
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{count: make(map[remote.PeerID]int)}
}

// Token is the scoped handle returned by Acquire. Release is idempotent;
// releasing a zero-value Token is a no-op.
type Token struct {
	tracker *Tracker
	peer    remote.Peer
	live    bool
}

// Acquire takes an interest reference on peer. If this is the first live
// reference for peer across all chunks, peer.Interest() is emitted.
func (t *Tracker) Acquire(peer remote.Peer) Token {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := peer.ID()
	t.count[id]++
	if t.count[id] == 1 {
		peer.Interest()
	}
	return Token{tracker: t, peer: peer, live: true}
}

// Release drops this reference. If it was the last live reference for the
// peer, peer.Uninterest() is emitted.
func (tok *Token) Release() {
	if !tok.live {
		return
	}
	tok.live = false

	t := tok.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	id := tok.peer.ID()
	t.count[id]--
	if t.count[id] <= 0 {
		delete(t.count, id)
		tok.peer.Uninterest()
	}
}

// Count reports the current refcount for peer, for tests and invariant
// checks.
func (t *Tracker) Count(id remote.PeerID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count[id]
}
