// Package downloader implements the per-folder download coordination
// driver: it reacts to local/remote meta and chunk notifications and to
// choke/unchoke/peer-departure events, maintains the weighted download
// queue, issues block requests, commits replies, and promotes completed
// chunks to the ChunkStore.
//
// Each subsystem (missing chunks, the peer set, the queue) is guarded by
// one mutex rather than routed through channels: a single sync.Mutex
// serializes every mutation, giving one writer at a time without an
// explicit actor loop.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/Sceptive/librevault/bitfield"
	"github.com/Sceptive/librevault/chunk"
	"github.com/Sceptive/librevault/chunkstore"
	"github.com/Sceptive/librevault/interest"
	"github.com/Sceptive/librevault/meta"
	"github.com/Sceptive/librevault/queue"
	"github.com/Sceptive/librevault/remote"
	"github.com/Sceptive/librevault/stats"
)

// Downloader is the per-folder download coordination driver.
type Downloader struct {
	mu sync.Mutex

	cfg        Config
	metaStore  meta.Store
	chunkStore chunkstore.Store
	fs         afero.Fs
	scratchDir string
	logger     zerolog.Logger
	stats      *stats.Tracker

	missing         map[queue.ChunkID]*chunk.MissingChunk
	dq              *queue.Queue
	interestTracker *interest.Tracker

	remotes         map[remote.PeerID]remote.Peer
	choking         map[remote.PeerID]bool
	advertised      map[remote.PeerID]map[queue.ChunkID]bool
	remotesCount    map[queue.ChunkID]uint32
	peerOutstanding map[remote.PeerID]int
	banned          mapset.Set

	maintaining  bool
	redoMaintain bool

	ioSem chan struct{}
}

// New constructs a Downloader for one folder.
func New(cfg Config, metaStore meta.Store, chunkStore chunkstore.Store, fs afero.Fs, scratchDir string, logger zerolog.Logger) *Downloader {
	if cfg.IOWorkers <= 0 {
		cfg.IOWorkers = 1
	}
	return &Downloader{
		cfg:             cfg,
		metaStore:       metaStore,
		chunkStore:      chunkStore,
		fs:              fs,
		scratchDir:      scratchDir,
		logger:          logger,
		stats:           stats.NewTracker(),
		missing:         make(map[queue.ChunkID]*chunk.MissingChunk),
		dq:              queue.New(),
		interestTracker: interest.NewTracker(),
		remotes:         make(map[remote.PeerID]remote.Peer),
		choking:         make(map[remote.PeerID]bool),
		advertised:      make(map[remote.PeerID]map[queue.ChunkID]bool),
		remotesCount:    make(map[queue.ChunkID]uint32),
		peerOutstanding: make(map[remote.PeerID]int),
		banned:          mapset.NewSet(),
		ioSem:           make(chan struct{}, cfg.IOWorkers),
	}
}

// Run drives the periodic maintainer until ctx is canceled: each tick
// sweeps expired requests and tops up in-flight requests.
func (d *Downloader) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.MaintainPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepExpired()
			d.maintainRequests()
		}
	}
}

// AddRemote registers peer as connected to this folder. Peers start
// choking us until an explicit Unchoke, matching the initial
// connState{peerChoking: true} a freshly handshaked torrent connection
// gets.
func (d *Downloader) AddRemote(peer remote.Peer) {
	d.mu.Lock()
	d.remotes[peer.ID()] = peer
	d.choking[peer.ID()] = true
	d.dq.SetOverallRemotesCount(uint32(len(d.remotes)))
	d.mu.Unlock()
}

// EraseRemote removes peer from the folder's swarm: every BlockRequest and
// InterestGuard it held is released, and every chunk weight it contributed
// a remotes_count to is decremented.
func (d *Downloader) EraseRemote(peer remote.Peer) {
	id := peer.ID()

	d.mu.Lock()
	delete(d.remotes, id)
	delete(d.choking, id)

	for cid, mc := range d.missing {
		n := mc.ClearPeer(id)
		if n > 0 {
			d.peerOutstanding[id] -= n
			d.dq.SetOwnedBy(cid, uint32(mc.TotalOutstanding()))
		}
	}
	delete(d.peerOutstanding, id)

	for cid := range d.advertised[id] {
		if d.remotesCount[cid] > 0 {
			d.remotesCount[cid]--
		}
		d.dq.SetChunkRemotesCount(cid, d.remotesCount[cid])
	}
	delete(d.advertised, id)
	d.banned.Remove(id)

	d.dq.SetOverallRemotesCount(uint32(len(d.remotes)))
	d.mu.Unlock()
}

// HandleChoke clears every outstanding BlockRequest held by peer across
// every missing chunk and releases the corresponding InterestGuards.
func (d *Downloader) HandleChoke(peer remote.Peer) {
	id := peer.ID()

	d.mu.Lock()
	d.choking[id] = true
	for cid, mc := range d.missing {
		n := mc.ClearPeer(id)
		if n > 0 {
			d.peerOutstanding[id] -= n
			d.dq.SetOwnedBy(cid, uint32(mc.TotalOutstanding()))
		}
	}
	d.mu.Unlock()
}

// HandleUnchoke records that peer no longer chokes us and schedules a
// maintenance pass; it otherwise changes no state.
func (d *Downloader) HandleUnchoke(peer remote.Peer) {
	d.mu.Lock()
	d.choking[peer.ID()] = false
	d.mu.Unlock()
	d.maintainRequests()
}

// NotifyLocalMeta ensures a MissingChunk exists for every chunk the local
// bitfield marks absent, and removes any MissingChunk for chunks the
// bitfield marks present.
func (d *Downloader) NotifyLocalMeta(rev meta.PathRevision, bf bitfield.Bitfield) error {
	m, err := d.metaStore.GetMeta(rev)
	if err != nil {
		return wrapErr(Fatal, fmt.Errorf("notify_local_meta: get_meta %+v: %w", rev, err))
	}
	for i, c := range m.Chunks {
		if bf.Has(i) {
			d.removeChunk(queue.ChunkID(c.CtHash))
			continue
		}
		d.ensureMissingChunk(c.CtHash, c.Size)
	}
	d.maintainRequests()
	return nil
}

// NotifyLocalChunk removes any MissingChunk for ctHash: the chunk is now
// locally complete via some other path (a sibling meta revision, a manual
// repair, etc).
func (d *Downloader) NotifyLocalChunk(ctHash []byte) {
	d.removeChunk(queue.ChunkID(ctHash))
}

// NotifyRemoteMeta fans out to NotifyRemoteChunk for every chunk peer's
// bitfield marks present.
func (d *Downloader) NotifyRemoteMeta(peer remote.Peer, rev meta.PathRevision, bf bitfield.Bitfield) error {
	m, err := d.metaStore.GetMeta(rev)
	if err != nil {
		return wrapErr(Fatal, fmt.Errorf("notify_remote_meta: get_meta %+v: %w", rev, err))
	}
	for i, c := range m.Chunks {
		if bf.Has(i) {
			d.NotifyRemoteChunk(peer, c.CtHash)
		}
	}
	return nil
}

// NotifyRemoteChunk records that peer advertises ctHash. If we have no
// MissingChunk for it, the advertisement is ignored — we have no need for
// it. Applying the same (peer, ctHash) pair twice is indistinguishable
// from applying it once.
func (d *Downloader) NotifyRemoteChunk(peer remote.Peer, ctHash []byte) {
	id := queue.ChunkID(ctHash)

	d.mu.Lock()
	if _, ok := d.missing[id]; !ok {
		d.mu.Unlock()
		return
	}
	peerID := peer.ID()
	if d.advertised[peerID] == nil {
		d.advertised[peerID] = make(map[queue.ChunkID]bool)
	}
	if d.advertised[peerID][id] {
		d.mu.Unlock()
		return
	}
	d.advertised[peerID][id] = true
	d.remotesCount[id]++

	d.dq.AddChunk(id)
	d.dq.SetChunkRemotesCount(id, d.remotesCount[id])
	d.mu.Unlock()

	d.maintainRequests()
}

// PutBlock writes data at offset into the MissingChunk for ctHash, clears
// the matching outstanding BlockRequest from fromPeer, and — on
// completion — hands the chunk off to the ChunkStore.
func (d *Downloader) PutBlock(ctHash []byte, offset uint32, data []byte, fromPeer remote.Peer) {
	id := queue.ChunkID(ctHash)

	d.mu.Lock()
	mc, ok := d.missing[id]
	if !ok {
		d.mu.Unlock()
		d.logger.Debug().Str("ct_hash", fmt.Sprintf("%x", ctHash)).Msg("put_block for a chunk we no longer need, dropping")
		return
	}

	if mc.Complete() {
		d.mu.Unlock()
		d.logger.Debug().Str("ct_hash", fmt.Sprintf("%x", ctHash)).Msg("put_block for an already complete chunk, dropping")
		return
	}

	size := uint32(len(data))
	if err := mc.PutBlock(offset, data); err != nil {
		if !errors.Is(err, chunk.ErrWriteExceedsSize) {
			d.mu.Unlock()
			d.logger.Error().Err(wrapErr(IoError, err)).Str("ct_hash", fmt.Sprintf("%x", ctHash)).Msg("failed to write block, dropping reply")
			return
		}
		d.banned.Add(fromPeer.ID())
		if n := mc.ClearPeer(fromPeer.ID()); n > 0 {
			d.peerOutstanding[fromPeer.ID()] -= n
			d.dq.SetOwnedBy(id, uint32(mc.TotalOutstanding()))
		}
		d.mu.Unlock()
		d.logger.Warn().Err(wrapErr(PeerMisbehavior, err)).Str("peer", string(fromPeer.ID())).
			Msg("peer sent an out-of-bounds block, banning and dropping reply")
		return
	}

	if mc.ClearRequest(fromPeer.ID(), offset, size) {
		d.peerOutstanding[fromPeer.ID()]--
	}
	d.dq.SetOwnedBy(id, uint32(mc.TotalOutstanding()))
	d.stats.RecordBlock(fromPeer.ID(), len(data))
	complete := mc.Complete()
	d.mu.Unlock()

	if complete {
		d.finishChunk(id, mc)
		return
	}
	d.maintainRequests()
}

// RequestsOverall returns the number of outstanding BlockRequests across
// every MissingChunk in this folder.
func (d *Downloader) RequestsOverall() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requestsOverallLocked()
}

func (d *Downloader) requestsOverallLocked() int {
	n := 0
	for _, mc := range d.missing {
		n += mc.TotalOutstanding()
	}
	return n
}

// IsBanned reports whether peer has been banned for misbehavior (currently:
// sending a block that would overflow its chunk's declared size). Banned
// peers are skipped by the scheduler but are not otherwise disconnected —
// that decision belongs to the transport layer.
func (d *Downloader) IsBanned(id remote.PeerID) bool {
	return d.banned.Contains(id)
}

// ensureMissingChunk creates a MissingChunk for ctHash if one doesn't
// already exist, and adds it to the queue.
func (d *Downloader) ensureMissingChunk(ctHash []byte, size uint32) {
	id := queue.ChunkID(ctHash)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.missing[id]; ok {
		return
	}
	mc, err := chunk.New(d.fs, d.scratchDir, ctHash, size)
	if err != nil {
		d.logger.Error().Err(wrapErr(IoError, err)).Str("ct_hash", fmt.Sprintf("%x", ctHash)).Msg("failed to allocate backing file for missing chunk")
		return
	}
	d.missing[id] = mc
	d.dq.AddChunk(id)
}

// removeChunk tears down and discards the MissingChunk for id, if any:
// every outstanding BlockRequest and InterestGuard it held is released.
func (d *Downloader) removeChunk(id queue.ChunkID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeChunkLocked(id)
}

func (d *Downloader) removeChunkLocked(id queue.ChunkID) {
	if mc, ok := d.missing[id]; ok {
		for _, peerID := range mc.Peers() {
			d.peerOutstanding[peerID] -= mc.OutstandingCount(peerID)
		}
		mc.Teardown()
		delete(d.missing, id)
	}
	d.dq.RemoveChunk(id)
	delete(d.remotesCount, id)
	for _, ads := range d.advertised {
		delete(ads, id)
	}
}

// finishChunk flushes the completed chunk's backing file and hands it to
// the ChunkStore off the Downloader's lock, dispatched through a bounded
// worker pool since both calls can block on disk I/O.
func (d *Downloader) finishChunk(id queue.ChunkID, mc *chunk.MissingChunk) {
	d.ioSem <- struct{}{}
	go func() {
		defer func() { <-d.ioSem }()

		path, err := mc.ReleaseChunk()
		if err != nil {
			d.logger.Error().Err(wrapErr(Fatal, err)).Msg("release_chunk on a chunk that reported complete")
			return
		}
		if err := d.chunkStore.PutChunk(mc.CtHash(), path); err != nil {
			d.logger.Error().Err(wrapErr(StoreError, err)).Str("ct_hash", fmt.Sprintf("%x", mc.CtHash())).
				Msg("chunk store rejected completed chunk; abandoning for this meta")
		}

		d.mu.Lock()
		d.removeChunkLocked(id)
		d.mu.Unlock()

		d.maintainRequests()
	}()
}

// sweepExpired clears outstanding BlockRequests older than RequestTimeout,
// freeing their blocks to be re-requested on the next maintenance pass.
func (d *Downloader) sweepExpired() {
	deadline := time.Now().Add(-d.cfg.RequestTimeout)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, mc := range d.missing {
		perPeer := mc.ExpireOlderThan(deadline)
		if len(perPeer) == 0 {
			continue
		}
		for peerID, n := range perPeer {
			d.peerOutstanding[peerID] -= n
		}
		d.dq.SetOwnedBy(id, uint32(mc.TotalOutstanding()))
	}
}

// maintainRequests runs request_one in a loop until the in-flight cap is
// hit or no chunk yields a request. A reentrancy guard protects it: if
// already running, set a redo flag and return; the outer invocation
// re-runs once more when it notices the flag.
func (d *Downloader) maintainRequests() {
	d.mu.Lock()
	if d.maintaining {
		d.redoMaintain = true
		d.mu.Unlock()
		return
	}
	d.maintaining = true
	d.mu.Unlock()

	for {
		d.runMaintainPass()

		d.mu.Lock()
		if d.redoMaintain {
			d.redoMaintain = false
			d.mu.Unlock()
			continue
		}
		d.maintaining = false
		d.mu.Unlock()
		return
	}
}

func (d *Downloader) runMaintainPass() {
	for {
		d.mu.Lock()
		if d.requestsOverallLocked() >= d.cfg.MaxInFlight {
			d.mu.Unlock()
			return
		}
		ok := d.requestOneLocked()
		d.mu.Unlock()
		if !ok {
			return
		}
	}
}

// requestOneLocked walks the queue highest-weight first and issues at most
// one new BlockRequest. Callers must hold d.mu.
func (d *Downloader) requestOneLocked() bool {
	for _, id := range d.dq.Chunks() {
		mc, ok := d.missing[id]
		if !ok {
			continue
		}
		gap, ok := mc.FirstGap()
		if !ok {
			// Complete but not yet harvested; finishChunk is in flight.
			continue
		}
		size := gap.Len
		if size > d.cfg.MaxBlockSize {
			size = d.cfg.MaxBlockSize
		}

		peer := d.findNodeForRequestLocked(id, mc, gap.Offset, size)
		if peer == nil {
			continue
		}

		mc.AddRequest(d.interestTracker, peer, gap.Offset, size)
		d.peerOutstanding[peer.ID()]++
		d.dq.SetOwnedBy(id, uint32(mc.TotalOutstanding()))
		peer.RequestBlock(mc.CtHash(), gap.Offset, size)

		for otherID := range d.advertised[peer.ID()] {
			if otherID != id {
				d.dq.MarkClustered(otherID)
			}
		}
		return true
	}
	return false
}

// findNodeForRequestLocked picks a peer to send the next BlockRequest to:
// any connected peer that advertised ctHash, isn't choking us, and doesn't
// already have this exact (offset, size) outstanding on this chunk —
// tie-broken by fewest outstanding requests across all chunks.
func (d *Downloader) findNodeForRequestLocked(id queue.ChunkID, mc *chunk.MissingChunk, offset, size uint32) remote.Peer {
	var candidates []remote.Peer
	for peerID, peer := range d.remotes {
		if d.banned.Contains(peerID) {
			continue
		}
		if !d.advertised[peerID][id] {
			continue
		}
		if d.choking[peerID] {
			continue
		}
		if mc.HasOutstandingRequest(peerID, offset, size) {
			continue
		}
		candidates = append(candidates, peer)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i].ID(), candidates[j].ID()
		oi, oj := d.peerOutstanding[pi], d.peerOutstanding[pj]
		if oi != oj {
			return oi < oj
		}
		return pi < pj
	})
	return candidates[0]
}
