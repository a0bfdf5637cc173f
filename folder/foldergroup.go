// Package folder implements the thin layer above a Downloader that turns a
// freshly indexed meta into the local advertisement the Downloader
// actually consumes — composing a Bitfield from the ChunkStore and feeding
// it to NotifyLocalMeta.
package folder

import (
	"fmt"

	"github.com/Sceptive/librevault/chunkstore"
	"github.com/Sceptive/librevault/downloader"
	"github.com/Sceptive/librevault/meta"
)

// Group wires one folder's MetaStore, ChunkStore, and Downloader together.
type Group struct {
	metaStore  meta.Store
	chunkStore chunkstore.Store
	dl         *downloader.Downloader
}

// New returns a Group for a folder already served by dl.
func New(metaStore meta.Store, chunkStore chunkstore.Store, dl *downloader.Downloader) *Group {
	return &Group{metaStore: metaStore, chunkStore: chunkStore, dl: dl}
}

// AdvertiseLocal composes the local Bitfield for rev from the ChunkStore's
// current holdings and notifies the Downloader. Called on every meta index
// or local chunk ingest.
func (g *Group) AdvertiseLocal(rev meta.PathRevision) error {
	m, err := g.metaStore.GetMeta(rev)
	if err != nil {
		return fmt.Errorf("advertise_local: get_meta %+v: %w", rev, err)
	}

	chunks := make([]chunkstore.MetaChunk, len(m.Chunks))
	for i, c := range m.Chunks {
		chunks[i] = chunkstore.MetaChunk{CtHash: c.CtHash, Size: c.Size}
	}
	bf := g.chunkStore.MakeBitfield(chunks)

	return g.dl.NotifyLocalMeta(rev, bf)
}

// AdvertiseLocalChunk notifies the Downloader that ctHash is now held
// locally, independent of which meta revision(s) reference it — e.g. after
// a chunk completes under one revision but is also referenced by another
// revision's meta that hasn't been re-scanned yet.
func (g *Group) AdvertiseLocalChunk(ctHash []byte) {
	g.dl.NotifyLocalChunk(ctHash)
}
