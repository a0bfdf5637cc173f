// Command downloaderd is a minimal demo wiring one Downloader against
// in-memory MetaStore/ChunkStore implementations and a single loopback
// RemotePeer stand-in, enough to exercise a full meta-advertise /
// block-request / chunk-complete cycle without a real transport.
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/Sceptive/librevault/bitfield"
	"github.com/Sceptive/librevault/chunkstore"
	"github.com/Sceptive/librevault/downloader"
	"github.com/Sceptive/librevault/folder"
	"github.com/Sceptive/librevault/meta"
	"github.com/Sceptive/librevault/remote"
)

// memMetaStore is a fixed, in-memory MetaStore: real deployments back this
// with the daemon's signed meta database, out of scope here.
type memMetaStore struct {
	mu    sync.Mutex
	metas map[string]meta.SignedMeta
}

func newMemMetaStore() *memMetaStore { return &memMetaStore{metas: make(map[string]meta.SignedMeta)} }

func (s *memMetaStore) put(m meta.SignedMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[m.Revision.PathID] = m
}

func (s *memMetaStore) HaveMeta(rev meta.PathRevision) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.metas[rev.PathID]
	return ok
}

func (s *memMetaStore) GetMeta(rev meta.PathRevision) (meta.SignedMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metas[rev.PathID]
	if !ok {
		return meta.SignedMeta{}, fmt.Errorf("downloaderd: no meta for %+v", rev)
	}
	return m, nil
}

// memChunkStore ingests completed chunks into an afero filesystem keyed by
// ct_hash, standing in for the daemon's real content-addressed chunk store.
type memChunkStore struct {
	mu     sync.Mutex
	fs     afero.Fs
	held   map[string]bool
	logger zerolog.Logger
}

func newMemChunkStore(fs afero.Fs, logger zerolog.Logger) *memChunkStore {
	return &memChunkStore{fs: fs, held: make(map[string]bool), logger: logger}
}

func (s *memChunkStore) HaveChunk(ctHash []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[string(ctHash)]
}

func (s *memChunkStore) PutChunk(ctHash []byte, filePath string) error {
	data, err := afero.ReadFile(s.fs, filePath)
	if err != nil {
		return fmt.Errorf("downloaderd: read completed chunk: %w", err)
	}
	sum := sha256.Sum256(data)
	s.logger.Info().Str("ct_hash", fmt.Sprintf("%x", ctHash)).Str("sha256", fmt.Sprintf("%x", sum)).
		Int("size", len(data)).Msg("chunk ingested")

	s.mu.Lock()
	s.held[string(ctHash)] = true
	s.mu.Unlock()
	return nil
}

func (s *memChunkStore) MakeBitfield(chunks []chunkstore.MetaChunk) bitfield.Bitfield {
	s.mu.Lock()
	defer s.mu.Unlock()
	bf := bitfield.New(len(chunks))
	for i, c := range chunks {
		if s.held[string(c.CtHash)] {
			bf.Set(i)
		}
	}
	return bf
}

// loopbackPeer is a RemotePeer whose RequestBlock immediately serves from a
// fixed in-memory blob, simulating a remote that already holds everything
// it advertises.
type loopbackPeer struct {
	id   remote.PeerID
	dl   *downloader.Downloader
	blob []byte
}

func (p *loopbackPeer) ID() remote.PeerID { return p.id }

func (p *loopbackPeer) RequestBlock(ctHash []byte, offset, size uint32) {
	go p.dl.PutBlock(ctHash, offset, p.blob[offset:offset+size], p)
}

func (p *loopbackPeer) Interest()   {}
func (p *loopbackPeer) Uninterest() {}

func main() {
	logger := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	fs := afero.NewMemMapFs()
	metaStore := newMemMetaStore()
	chunkStore := newMemChunkStore(fs, logger)

	dl := downloader.New(downloader.DefaultConfig(), metaStore, chunkStore, fs, "/scratch", logger)
	group := folder.New(metaStore, chunkStore, dl)

	blob := make([]byte, 64*1024)
	for i := range blob {
		blob[i] = byte(i)
	}
	ctHash := sha256.Sum256(blob)
	rev := meta.PathRevision{PathID: "demo-file", Revision: time.Now().Unix()}
	metaStore.put(meta.SignedMeta{
		Revision: rev,
		Chunks:   []meta.Chunk{{CtHash: ctHash[:], Size: uint32(len(blob))}},
	})

	peer := &loopbackPeer{id: remote.NewPeerID(), dl: dl, blob: blob}
	dl.AddRemote(peer)

	if err := group.AdvertiseLocal(rev); err != nil {
		logger.Fatal().Err(err).Msg("advertise_local failed")
	}
	dl.NotifyRemoteChunk(peer, ctHash[:])
	dl.HandleUnchoke(peer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dl.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deadline := time.NewTimer(5 * time.Second)
	select {
	case <-sigCh:
	case <-deadline.C:
	}
	logger.Info().Bool("have_chunk", chunkStore.HaveChunk(ctHash[:])).Msg("shutting down")
}
