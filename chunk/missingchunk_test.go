package chunk

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sceptive/librevault/interest"
	"github.com/Sceptive/librevault/remote"
)

type fakePeer struct {
	id          remote.PeerID
	interested  int
	uninterested int
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: remote.PeerID(id)} }

func (p *fakePeer) ID() remote.PeerID                               { return p.id }
func (p *fakePeer) RequestBlock(ctHash []byte, offset, size uint32) {}
func (p *fakePeer) Interest()                                       { p.interested++ }
func (p *fakePeer) Uninterest()                                     { p.uninterested++ }

func newTestChunk(t *testing.T, size uint32) *MissingChunk {
	t.Helper()
	fs := afero.NewMemMapFs()
	c, err := New(fs, "/scratch", []byte{0xAB, 0xCD}, size)
	require.NoError(t, err)
	return c
}

func TestPutBlockFillsAvailabilityAndCompletes(t *testing.T) {
	c := newTestChunk(t, 100*1024)

	require.NoError(t, c.PutBlock(0, make([]byte, 32*1024)))
	assert.False(t, c.Complete())
	require.NoError(t, c.PutBlock(32*1024, make([]byte, 32*1024)))
	require.NoError(t, c.PutBlock(64*1024, make([]byte, 32*1024)))
	assert.False(t, c.Complete())
	require.NoError(t, c.PutBlock(96*1024, make([]byte, 4*1024)))
	assert.True(t, c.Complete())
}

func TestPutBlockExceedingSizeIsRejected(t *testing.T) {
	c := newTestChunk(t, 10)
	err := c.PutBlock(5, make([]byte, 10))
	assert.ErrorIs(t, err, ErrWriteExceedsSize)
}

func TestReleaseChunkRequiresCompletion(t *testing.T) {
	c := newTestChunk(t, 10)
	_, err := c.ReleaseChunk()
	assert.Error(t, err)

	require.NoError(t, c.PutBlock(0, make([]byte, 10)))
	path, err := c.ReleaseChunk()
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestAddRequestAcquiresGuardOnce(t *testing.T) {
	c := newTestChunk(t, 100)
	tracker := interest.NewTracker()
	peer := newFakePeer("peerA")

	c.AddRequest(tracker, peer, 0, 32)
	c.AddRequest(tracker, peer, 32, 32)

	assert.Equal(t, 1, peer.interested, "interest() should fire once across both requests")
	assert.Equal(t, 2, c.OutstandingCount(peer.ID()))
	assert.Equal(t, 1, tracker.Count(peer.ID()))
}

func TestClearRequestReleasesGuardOnLastRequest(t *testing.T) {
	c := newTestChunk(t, 100)
	tracker := interest.NewTracker()
	peer := newFakePeer("peerA")

	c.AddRequest(tracker, peer, 0, 32)
	c.AddRequest(tracker, peer, 32, 32)

	assert.True(t, c.ClearRequest(peer.ID(), 0, 32))
	assert.Equal(t, 0, peer.uninterested, "one request still outstanding")

	assert.True(t, c.ClearRequest(peer.ID(), 32, 32))
	assert.Equal(t, 1, peer.uninterested, "last request cleared must drop interest")
}

func TestClearRequestUnknownIsBenign(t *testing.T) {
	c := newTestChunk(t, 100)
	assert.False(t, c.ClearRequest(remote.PeerID("ghost"), 0, 32))
}

func TestExpireOlderThanFreesStaleRequests(t *testing.T) {
	c := newTestChunk(t, 100)
	tracker := interest.NewTracker()
	peer := newFakePeer("peerA")

	c.AddRequest(tracker, peer, 0, 32)
	time.Sleep(time.Millisecond)
	deadline := time.Now()

	expired := c.ExpireOlderThan(deadline)
	assert.Equal(t, 1, expired[peer.ID()])
	assert.Equal(t, 0, c.OutstandingCount(peer.ID()))
	assert.Equal(t, 1, peer.uninterested)
}

func TestClearPeerDropsAllRequests(t *testing.T) {
	c := newTestChunk(t, 100)
	tracker := interest.NewTracker()
	peer := newFakePeer("peerA")

	c.AddRequest(tracker, peer, 0, 32)
	c.AddRequest(tracker, peer, 32, 32)

	n := c.ClearPeer(peer.ID())
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, c.TotalOutstanding())
	assert.Equal(t, 1, peer.uninterested)
}

func TestTeardownReleasesEveryPeer(t *testing.T) {
	c := newTestChunk(t, 100)
	tracker := interest.NewTracker()
	peerA := newFakePeer("peerA")
	peerB := newFakePeer("peerB")

	c.AddRequest(tracker, peerA, 0, 32)
	c.AddRequest(tracker, peerB, 32, 32)

	c.Teardown()
	assert.Equal(t, 1, peerA.uninterested)
	assert.Equal(t, 1, peerB.uninterested)
	assert.Equal(t, 0, c.TotalOutstanding())
}

func TestHasOutstandingRequestDedup(t *testing.T) {
	c := newTestChunk(t, 100)
	tracker := interest.NewTracker()
	peer := newFakePeer("peerA")

	c.AddRequest(tracker, peer, 0, 32)
	assert.True(t, c.HasOutstandingRequest(peer.ID(), 0, 32))
	assert.False(t, c.HasOutstandingRequest(peer.ID(), 32, 32))
}
