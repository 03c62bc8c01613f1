package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func withClock(r *Registry, start time.Time) {
	now := start
	r.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func record(user, orig, prot string) *ContentRecord {
	return &ContentRecord{
		UserID:            user,
		Filename:          "photo.png",
		OriginalHash:      orig,
		ProtectedHash:     prot,
		Signature:         "c2ln",
		PublicKey:         "-----BEGIN PUBLIC KEY-----",
		ManipulationScore: 12.5,
		CloakingScore:     40,
		CloakingLevel:     "high",
		OriginalLocator:   "cas://bafk/photo.png",
		ProtectedLocator:  "cas://bafk2/photo.png",
	}
}

func TestPutGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rec := record("alice", "aa", "bb")
	require.NoError(t, r.Put(ctx, rec))
	assert.Len(t, rec.ID, 26, "ULID assigned")
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.UserID, got.UserID)
	assert.Equal(t, rec.OriginalHash, got.OriginalHash)
	assert.Equal(t, rec.ProtectedLocator, got.ProtectedLocator)
	assert.Equal(t, rec.ManipulationScore, got.ManipulationScore)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPut_DuplicateID(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	rec := record("alice", "aa", "bb")
	require.NoError(t, r.Put(ctx, rec))
	dup := record("alice", "cc", "dd")
	dup.ID = rec.ID
	assert.Error(t, r.Put(ctx, dup))
}

func TestFindByHash(t *testing.T) {
	r := newTestRegistry(t)
	withClock(r, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first := record("alice", "orig", "prot1")
	second := record("bob", "orig", "prot2")
	require.NoError(t, r.Put(ctx, first))
	require.NoError(t, r.Put(ctx, second))

	got, err := r.FindByHash(ctx, "orig")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "earliest record wins")

	got, err = r.FindByHash(ctx, "prot2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = r.FindByHash(ctx, "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByUser(t *testing.T) {
	r := newTestRegistry(t)
	withClock(r, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a1 := record("alice", "a1", "p1")
	b1 := record("bob", "b1", "p2")
	a2 := record("alice", "a2", "p3")
	for _, rec := range []*ContentRecord{a1, b1, a2} {
		require.NoError(t, r.Put(ctx, rec))
	}

	got, err := r.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a2.ID, got[0].ID, "newest first")
	assert.Equal(t, a1.ID, got[1].ID)

	none, err := r.ListByUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVerifications(t *testing.T) {
	r := newTestRegistry(t)
	withClock(r, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	rec := record("alice", "orig", "prot")
	require.NoError(t, r.Put(ctx, rec))

	v1, err := r.RecordVerification(ctx, rec.ID, "orig")
	require.NoError(t, err)
	v2, err := r.RecordVerification(ctx, rec.ID, "prot")
	require.NoError(t, err)

	got, err := r.Verifications(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, v1.ID, got[0].ID)
	assert.Equal(t, v2.ID, got[1].ID)
	assert.Equal(t, "prot", got[1].QueriedHash)
	assert.True(t, v2.VerifiedAt.Equal(got[1].VerifiedAt))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(path)
	require.NoError(t, err)
	rec := record("alice", "orig", "prot")
	require.NoError(t, r.Put(context.Background(), rec))
	require.NoError(t, r.Close())

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.FindByHash(context.Background(), "prot")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestOpen_InMemory(t *testing.T) {
	r, err := Open(":memory:")
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Put(context.Background(), record("alice", "a", "b")))
	_, err = r.FindByHash(context.Background(), "a")
	assert.NoError(t, err)
}
