package graft

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/graft/internal/store"
)

func newImportGraph(t *testing.T) *Graph {
	t.Helper()

	g, err := Open("test/import:main", WithInMemory(), WithDataDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	return g
}

func TestImportRecords(t *testing.T) {
	g := newImportGraph(t)
	ctx := context.Background()

	parent := []byte("parent content")
	child := []byte("child content")

	inserted, err := g.importRecords(ctx, []store.Record{
		{Hash: HashContent(parent), Content: parent},
		{Hash: HashContent(child), Content: child, Parents: []string{HashContent(parent)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	parentID, ok, err := g.Lookup(ctx, HashContent(parent))
	require.NoError(t, err)
	require.True(t, ok)
	childID, ok, err := g.Lookup(ctx, HashContent(child))
	require.NoError(t, err)
	require.True(t, ok)

	isAnc, err := g.IsAncestor(ctx, parentID, childID)
	require.NoError(t, err)
	assert.True(t, isAnc)
}

func TestImportRecordsRejectsLyingHash(t *testing.T) {
	g := newImportGraph(t)
	ctx := context.Background()

	// local content a remote record tries to shadow under the same hash
	original := []byte("the real content")
	id, err := g.InsertChange(ctx, original)
	require.NoError(t, err)

	_, err = g.importRecords(ctx, []store.Record{
		{Hash: HashContent(original), Content: []byte("forged content")},
	})
	assert.ErrorIs(t, err, ErrHashMismatch)

	change, err := g.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original, change.Content)
}

func TestImportRecordsRejectsCorruptRecordBeforeWriting(t *testing.T) {
	g := newImportGraph(t)
	ctx := context.Background()

	good := []byte("good content")
	_, err := g.importRecords(ctx, []store.Record{
		{Hash: HashContent(good), Content: good},
		{Hash: HashContent([]byte("claimed")), Content: []byte("actual")},
	})
	assert.ErrorIs(t, err, ErrHashMismatch)

	// the batch was rejected up front, including its valid records
	_, ok, err := g.Lookup(ctx, HashContent(good))
	require.NoError(t, err)
	assert.False(t, ok)
}
