package folder

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Sceptive/librevault/bitfield"
	"github.com/Sceptive/librevault/chunkstore"
	"github.com/Sceptive/librevault/downloader"
	"github.com/Sceptive/librevault/meta"
)

type fakeMetaStore struct {
	metas map[string]meta.SignedMeta
}

func (s *fakeMetaStore) HaveMeta(rev meta.PathRevision) bool {
	_, ok := s.metas[rev.PathID]
	return ok
}

func (s *fakeMetaStore) GetMeta(rev meta.PathRevision) (meta.SignedMeta, error) {
	return s.metas[rev.PathID], nil
}

type mockChunkStore struct {
	mock.Mock
}

func (m *mockChunkStore) HaveChunk(ctHash []byte) bool {
	args := m.Called(ctHash)
	return args.Bool(0)
}

func (m *mockChunkStore) PutChunk(ctHash []byte, filePath string) error {
	args := m.Called(ctHash, filePath)
	return args.Error(0)
}

func (m *mockChunkStore) MakeBitfield(chunks []chunkstore.MetaChunk) bitfield.Bitfield {
	args := m.Called(chunks)
	return args.Get(0).(bitfield.Bitfield)
}

func TestAdvertiseLocalComposesBitfieldAndNotifiesDownloader(t *testing.T) {
	rev := meta.PathRevision{PathID: "file1"}
	ctHash := []byte("chunk-a")
	ms := &fakeMetaStore{metas: map[string]meta.SignedMeta{
		"file1": {Revision: rev, Chunks: []meta.Chunk{{CtHash: ctHash, Size: 4}}},
	}}
	cs := &mockChunkStore{}

	have := bitfield.New(1)
	have.Set(0)
	cs.On("MakeBitfield", []chunkstore.MetaChunk{{CtHash: ctHash, Size: 4}}).Return(have)

	dl := downloader.New(downloader.DefaultConfig(), ms, cs, afero.NewMemMapFs(), "/scratch", zerolog.Nop())
	g := New(ms, cs, dl)

	require.NoError(t, g.AdvertiseLocal(rev))
	assert.Equal(t, 0, dl.RequestsOverall(), "chunk already marked present, nothing to request")
	cs.AssertExpectations(t)
}

func TestAdvertiseLocalChunkNotifiesDownloader(t *testing.T) {
	rev := meta.PathRevision{PathID: "file1"}
	ctHash := []byte("chunk-a")
	ms := &fakeMetaStore{metas: map[string]meta.SignedMeta{
		"file1": {Revision: rev, Chunks: []meta.Chunk{{CtHash: ctHash, Size: 4}}},
	}}
	cs := &mockChunkStore{}

	absent := bitfield.New(1)
	cs.On("MakeBitfield", []chunkstore.MetaChunk{{CtHash: ctHash, Size: 4}}).Return(absent)

	dl := downloader.New(downloader.DefaultConfig(), ms, cs, afero.NewMemMapFs(), "/scratch", zerolog.Nop())
	g := New(ms, cs, dl)

	require.NoError(t, g.AdvertiseLocal(rev))

	assert.NotPanics(t, func() {
		g.AdvertiseLocalChunk(ctHash)
		g.AdvertiseLocalChunk(ctHash) // idempotent: no missing chunk left to remove
	})
}
