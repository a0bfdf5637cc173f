// Package chunkstore defines the ChunkStore contract consumed by the
// downloader: the collaborator that owns the canonical, content-addressed
// store of complete encrypted chunks on disk.
package chunkstore

import "github.com/Sceptive/librevault/bitfield"

// CtHashString is the string form of a ct_hash, usable as a map key.
// Callers derive it with CtHashKey. The downloader keys its own maps by
// queue.ChunkID instead.
type CtHashString string

// CtHashKey converts a raw ct_hash into its CtHashString map-key form.
func CtHashKey(ctHash []byte) CtHashString { return CtHashString(ctHash) }

// MetaChunk is the minimal shape the chunk store needs to build a bitfield
// for a meta, avoiding a dependency on the meta package's SignedMeta type in
// either direction.
type MetaChunk struct {
	CtHash []byte
	Size   uint32
}

// Store is the ChunkStore contract: have_chunk / put_chunk / make_bitfield.
type Store interface {
	HaveChunk(ctHash []byte) bool
	// PutChunk atomically ingests filePath as the canonical encrypted chunk
	// identified by ctHash. Implementations own the move/rename.
	PutChunk(ctHash []byte, filePath string) error
	// MakeBitfield reports, for each chunk in chunks (in order), whether it
	// is already held locally. Used by FolderGroup to compose local
	// advertisements; not used directly by the Downloader.
	MakeBitfield(chunks []MetaChunk) bitfield.Bitfield
}
