// Package chunk implements MissingChunk: a chunk under reconstruction, with
// its sparse backing file, its availability map, and the per-peer
// outstanding-request and interest-guard bookkeeping. Backing-file access
// goes through afero.Fs so tests can run entirely against
// afero.NewMemMapFs() instead of a real filesystem.
package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Sceptive/librevault/availability"
	"github.com/Sceptive/librevault/interest"
	"github.com/Sceptive/librevault/remote"
)

// BlockRequest is one outstanding request for a byte range of a chunk.
type BlockRequest struct {
	Offset    uint32
	Size      uint32
	StartedAt time.Time
}

// MissingChunk is a chunk under reconstruction: ct_hash, total size, a
// sparse backing file, and per-peer request/interest bookkeeping.
type MissingChunk struct {
	mu sync.Mutex

	ctHash   []byte
	filePath string
	file     afero.File
	fileMap  *availability.Map[uint32]

	requests map[remote.PeerID][]BlockRequest
	ownedBy  map[remote.PeerID]interest.Token

	released bool
}

// New allocates the backing file inside scratchDir, truncated to size
// bytes, and returns an empty MissingChunk for ctHash.
func New(fs afero.Fs, scratchDir string, ctHash []byte, size uint32) (*MissingChunk, error) {
	if err := fs.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("missingchunk: create scratch dir: %w", err)
	}
	path := filepath.Join(scratchDir, fmt.Sprintf("%x.part", ctHash))

	file, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("missingchunk: open backing file: %w", err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("missingchunk: truncate backing file: %w", err)
	}

	return &MissingChunk{
		ctHash:   ctHash,
		filePath: path,
		file:     file,
		fileMap:  availability.New(size),
		requests: make(map[remote.PeerID][]BlockRequest),
		ownedBy:  make(map[remote.PeerID]interest.Token),
	}, nil
}

// CtHash returns the chunk's ciphertext hash.
func (c *MissingChunk) CtHash() []byte { return c.ctHash }

// Size returns the chunk's total ciphertext size.
func (c *MissingChunk) Size() uint32 { return c.fileMap.SizeOriginal() }

// Complete reports whether every byte of the chunk has been received.
func (c *MissingChunk) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileMap.Full()
}

// FirstGap returns the first unfilled byte range, used by the scheduler to
// pick the next block to request.
func (c *MissingChunk) FirstGap() (availability.Gap[uint32], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileMap.FirstGap()
}

// ErrWriteExceedsSize is returned by PutBlock when offset+len(content) would
// write past the chunk's declared size — a PeerMisbehavior condition.
var ErrWriteExceedsSize = fmt.Errorf("missingchunk: write exceeds chunk size")

// PutBlock writes content at offset into the backing file and marks that
// range filled. Overlapping writes are idempotent at the byte level; the
// availability map coalesces regardless of write order.
func (c *MissingChunk) PutBlock(offset uint32, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return fmt.Errorf("missingchunk: put_block on released chunk")
	}
	end := uint64(offset) + uint64(len(content))
	if end > uint64(c.fileMap.SizeOriginal()) {
		return ErrWriteExceedsSize
	}

	if _, err := c.file.WriteAt(content, int64(offset)); err != nil {
		return fmt.Errorf("missingchunk: write block: %w", err)
	}
	c.fileMap.Insert(offset, uint32(len(content)))
	return nil
}

// ReleaseChunk flushes and relinquishes the backing file to the caller.
// Precondition: Complete(). Ownership of the file transfers to the caller
// (the chunk store); further operations on this MissingChunk are undefined.
func (c *MissingChunk) ReleaseChunk() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fileMap.Full() {
		return "", fmt.Errorf("missingchunk: release_chunk called before completion")
	}
	if err := c.file.Sync(); err != nil {
		return "", fmt.Errorf("missingchunk: sync backing file: %w", err)
	}
	if err := c.file.Close(); err != nil {
		return "", fmt.Errorf("missingchunk: close backing file: %w", err)
	}
	c.released = true
	return c.filePath, nil
}

// AddRequest records a new outstanding BlockRequest for peer. The first
// request for peer on this chunk acquires an InterestGuard token from
// tracker, which the chunk holds until peer's last request is cleared;
// later requests reuse it.
func (c *MissingChunk) AddRequest(tracker *interest.Tracker, peer remote.Peer, offset, size uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[peer.ID()] = append(c.requests[peer.ID()], BlockRequest{
		Offset:    offset,
		Size:      size,
		StartedAt: time.Now(),
	})
	if _, ok := c.ownedBy[peer.ID()]; !ok {
		c.ownedBy[peer.ID()] = tracker.Acquire(peer)
	}
}

// HasOutstandingRequest reports whether peer already has an outstanding
// request for this exact (offset, size) on this chunk.
func (c *MissingChunk) HasOutstandingRequest(peerID remote.PeerID, offset, size uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.requests[peerID] {
		if r.Offset == offset && r.Size == size {
			return true
		}
	}
	return false
}

// OutstandingCount returns the number of outstanding requests held by peer
// on this chunk.
func (c *MissingChunk) OutstandingCount(peerID remote.PeerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests[peerID])
}

// TotalOutstanding returns the number of outstanding requests across all
// peers on this chunk — the weight's owned_by term.
func (c *MissingChunk) TotalOutstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, reqs := range c.requests {
		n += len(reqs)
	}
	return n
}

// ClearRequest removes the matching outstanding BlockRequest, if any, and
// reports whether one was found. If it was the peer's last outstanding
// request on this chunk, the peer's InterestGuard token is released.
func (c *MissingChunk) ClearRequest(peerID remote.PeerID, offset, size uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearRequestLocked(peerID, offset, size)
}

func (c *MissingChunk) clearRequestLocked(peerID remote.PeerID, offset, size uint32) bool {
	reqs := c.requests[peerID]
	found := false
	for i, r := range reqs {
		if r.Offset == offset && r.Size == size {
			reqs = append(reqs[:i], reqs[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	c.setRequestsLocked(peerID, reqs)
	return true
}

// ClearPeer removes every outstanding BlockRequest owned by peer (choke, or
// peer departure), releasing its InterestGuard token.
func (c *MissingChunk) ClearPeer(peerID remote.PeerID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.requests[peerID])
	if n == 0 {
		return 0
	}
	c.setRequestsLocked(peerID, nil)
	return n
}

func (c *MissingChunk) setRequestsLocked(peerID remote.PeerID, reqs []BlockRequest) {
	if len(reqs) == 0 {
		delete(c.requests, peerID)
		if tok, ok := c.ownedBy[peerID]; ok {
			tok.Release()
			delete(c.ownedBy, peerID)
		}
		return
	}
	c.requests[peerID] = reqs
}

// ExpireOlderThan clears every outstanding BlockRequest started before the
// given deadline, across all peers, releasing their InterestGuard tokens.
// Returns the number of requests expired per peer, so the caller can keep
// its own per-peer outstanding-request counters in sync.
func (c *MissingChunk) ExpireOlderThan(deadline time.Time) map[remote.PeerID]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := make(map[remote.PeerID]int)
	for peerID, reqs := range c.requests {
		kept := reqs[:0:0]
		n := 0
		for _, r := range reqs {
			if r.StartedAt.Before(deadline) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		if n > 0 {
			expired[peerID] = n
		}
		c.setRequestsLocked(peerID, kept)
	}
	return expired
}

// Teardown releases every outstanding BlockRequest and InterestGuard token
// held by this chunk, across all peers. Used when the chunk is superseded
// or explicitly canceled rather than completed.
func (c *MissingChunk) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for peerID := range c.requests {
		c.setRequestsLocked(peerID, nil)
	}
}

// Peers returns the set of peers with at least one live BlockRequest on
// this chunk.
func (c *MissingChunk) Peers() []remote.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers := make([]remote.PeerID, 0, len(c.requests))
	for id := range c.requests {
		peers = append(peers, id)
	}
	return peers
}
