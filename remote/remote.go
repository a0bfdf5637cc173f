// Package remote defines the RemotePeer contract consumed by the
// downloader. Handshake, choke/unchoke framing, and transport are handled
// elsewhere in the daemon; the downloader only needs to call request_block
// and interest/uninterest, and to receive choke/unchoke/block-reply events.
package remote

import "github.com/google/uuid"

// PeerID identifies a connected remote within one folder's swarm.
type PeerID string

// NewPeerID returns a fresh random peer id, used by the cmd/downloaderd demo
// to stand in for a real handshake-derived id.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// Peer is the RemotePeer contract: request_block and interest/uninterest.
// Both interest methods must be idempotent.
type Peer interface {
	ID() PeerID
	RequestBlock(ctHash []byte, offset, size uint32)
	Interest()
	Uninterest()
}
