// Package meta defines the MetaStore contract consumed by the downloader: a
// collaborator that knows how to resolve a file revision to its ordered list
// of encrypted chunks. Meta parsing, signing, and persistent storage are
// handled elsewhere in the daemon; this package only states the contract.
package meta

// PathRevision identifies one version of one file: a path id paired with the
// revision timestamp that produced it.
type PathRevision struct {
	PathID   string
	Revision int64
}

// Chunk is one entry in a SignedMeta's chunk list.
type Chunk struct {
	CtHash []byte
	Size   uint32
}

// SignedMeta is a signed manifest of one file revision. Signature
// verification and on-disk representation are out of scope for the
// download coordination core; only the chunk list matters here.
type SignedMeta struct {
	Revision PathRevision
	Chunks   []Chunk
}

// Store is the MetaStore contract: have_meta / get_meta.
type Store interface {
	HaveMeta(rev PathRevision) bool
	GetMeta(rev PathRevision) (SignedMeta, error)
}
