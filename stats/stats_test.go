package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sceptive/librevault/remote"
)

func TestRecordBlockAccumulatesTotal(t *testing.T) {
	tr := NewTracker()
	tr.RecordBlock("peerA", 100)
	tr.RecordBlock("peerA", 50)
	tr.RecordBlock("peerB", 10)

	assert.EqualValues(t, 160, tr.TotalReceived())
}

func TestTickReportsPerPeerRate(t *testing.T) {
	tr := NewTracker()
	tr.RecordBlock(remote.PeerID("peerA"), 1000)

	rates := tr.Tick()
	assert.Equal(t, 1000, rates["peerA"])

	// current byte counter resets after a tick
	rates = tr.Tick()
	assert.Equal(t, 1000, rates["peerA"], "windowed sum still includes the prior tick's bucket")
}

func TestTickOnUnknownPeerIsEmpty(t *testing.T) {
	tr := NewTracker()
	rates := tr.Tick()
	assert.Empty(t, rates)
}
