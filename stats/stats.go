// Package stats tracks per-peer download throughput for logging and
// diagnostics. This is observability only: the Downloader
// never reads a Tracker when computing a chunk's Weight or selecting a
// peer to request from.
package stats

import (
	"sync"

	underscore "github.com/ahl5esoft/golang-underscore"

	"github.com/Sceptive/librevault/remote"
)

// windowSize is how many Tick calls the rolling sum spans, matching the
// reference client's PONDERATION_TIME.
const windowSize = 10

type peerStat struct {
	activity [windowSize]int
	current  int
	i        int
	rate     int
}

// Tracker accumulates received-byte counts per peer for one folder.
type Tracker struct {
	mu    sync.Mutex
	peers map[remote.PeerID]*peerStat
	total int64
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{peers: make(map[remote.PeerID]*peerStat)}
}

// RecordBlock accounts n received bytes from peer.
func (t *Tracker) RecordBlock(peer remote.PeerID, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.peers[peer]
	if !ok {
		ps = &peerStat{}
		t.peers[peer] = ps
	}
	ps.current += n
	t.total += int64(n)
}

func sumReduce(acc int, x, _ int) int { return acc + x }

// Tick rolls the per-peer windows forward, the way stats.GetPeerStats does
// once per ponderation period, and returns the current download rate
// (bytes per tick window) for each peer.
func (t *Tracker) Tick() map[remote.PeerID]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rates := make(map[remote.PeerID]int, len(t.peers))
	for id, ps := range t.peers {
		ps.activity[ps.i] = ps.current
		underscore.Chain(ps.activity).Reduce(sumReduce, 0).Value(&ps.rate)
		ps.i = (ps.i + 1) % windowSize
		ps.current = 0
		rates[id] = ps.rate
	}
	return rates
}

// TotalReceived returns the cumulative byte count received across all
// peers since the Tracker was created.
func (t *Tracker) TotalReceived() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
