package graft_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/graft"
)

func newTestGraph(t *testing.T, opts ...graft.Option) *graft.Graph {
	t.Helper()

	opts = append([]graft.Option{
		graft.WithInMemory(),
		graft.WithDataDir(t.TempDir()),
	}, opts...)

	g, err := graft.Open("test/graph:main", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	return g
}

func TestInsertChangeIdempotent(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	first, err := g.InsertChange(ctx, []byte("same content"))
	require.NoError(t, err)

	second, err := g.InsertChange(ctx, []byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := g.InsertChange(ctx, []byte("different content"))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestGetRoundTrip(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	content := []byte("round trip payload")
	id, err := g.InsertChange(ctx, content)
	require.NoError(t, err)

	change, err := g.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, change.ID)
	assert.Equal(t, content, change.Content)
	assert.Equal(t, graft.HashContent(content), change.Hash)
}

func TestGetMissing(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.Get(context.Background(), 42)
	assert.ErrorIs(t, err, graft.ErrNotFound)
}

func TestLookup(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	content := []byte("lookup me")
	id, err := g.InsertChange(ctx, content)
	require.NoError(t, err)

	found, ok, err := g.Lookup(ctx, graft.HashContent(content))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, found)

	_, ok, err = g.Lookup(ctx, graft.HashContent([]byte("never stored")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkRejectsCycles(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	a, err := g.InsertChange(ctx, []byte("a"))
	require.NoError(t, err)
	b, err := g.InsertChange(ctx, []byte("b"))
	require.NoError(t, err)
	c, err := g.InsertChange(ctx, []byte("c"))
	require.NoError(t, err)

	require.NoError(t, g.Link(ctx, a, b))
	require.NoError(t, g.Link(ctx, b, c))

	// direct, transitive and self cycles all fail
	assert.ErrorIs(t, g.Link(ctx, b, a), graft.ErrCycle)
	assert.ErrorIs(t, g.Link(ctx, c, a), graft.ErrCycle)
	assert.ErrorIs(t, g.Link(ctx, a, a), graft.ErrCycle)

	// the rejected edges wrote nothing
	ok, err := g.IsAncestor(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkIdempotent(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	a, err := g.InsertChange(ctx, []byte("a"))
	require.NoError(t, err)
	b, err := g.InsertChange(ctx, []byte("b"))
	require.NoError(t, err)

	require.NoError(t, g.Link(ctx, a, b))
	require.NoError(t, g.Link(ctx, a, b))

	count := 0
	for _, err := range g.Ancestors(ctx, b) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 1, count)
}

func TestLinkDanglingReference(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	a, err := g.InsertChange(ctx, []byte("a"))
	require.NoError(t, err)

	assert.ErrorIs(t, g.Link(ctx, a, 99), graft.ErrDanglingReference)
	assert.ErrorIs(t, g.Link(ctx, 99, a), graft.ErrDanglingReference)
}

func TestAncestors(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	a, err := g.InsertChange(ctx, []byte("change A"))
	require.NoError(t, err)
	b, err := g.InsertChange(ctx, []byte("change B"))
	require.NoError(t, err)
	require.NoError(t, g.Link(ctx, a, b))

	var got []graft.ChangeID
	for id, err := range g.Ancestors(ctx, b) {
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []graft.ChangeID{a}, got)

	// roots have no ancestors
	for range g.Ancestors(ctx, a) {
		t.Fatal("root change must not have ancestors")
	}

	ok, err := g.IsAncestor(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsAncestor(ctx, b, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAncestorsYieldsEachOnce(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	// diamond: root precedes left and right, both precede tip
	root, err := g.InsertChange(ctx, []byte("root"))
	require.NoError(t, err)
	left, err := g.InsertChange(ctx, []byte("left"))
	require.NoError(t, err)
	right, err := g.InsertChange(ctx, []byte("right"))
	require.NoError(t, err)
	tip, err := g.InsertChange(ctx, []byte("tip"))
	require.NoError(t, err)

	require.NoError(t, g.Link(ctx, root, left))
	require.NoError(t, g.Link(ctx, root, right))
	require.NoError(t, g.Link(ctx, left, tip))
	require.NoError(t, g.Link(ctx, right, tip))

	seen := make(map[graft.ChangeID]int)
	for id, err := range g.Ancestors(ctx, tip) {
		require.NoError(t, err)
		seen[id]++
	}

	assert.Equal(t, map[graft.ChangeID]int{root: 1, left: 1, right: 1}, seen)
}

func TestAncestorsDeterministicOrder(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	p1, err := g.InsertChange(ctx, []byte("parent one"))
	require.NoError(t, err)
	p2, err := g.InsertChange(ctx, []byte("parent two"))
	require.NoError(t, err)
	child, err := g.InsertChange(ctx, []byte("child"))
	require.NoError(t, err)

	require.NoError(t, g.Link(ctx, p1, child))
	require.NoError(t, g.Link(ctx, p2, child))

	want := []graft.ChangeID{p1, p2}
	if graft.HashContent([]byte("parent two")) < graft.HashContent([]byte("parent one")) {
		want = []graft.ChangeID{p2, p1}
	}

	for range 3 {
		var got []graft.ChangeID
		for id, err := range g.Ancestors(ctx, child) {
			require.NoError(t, err)
			got = append(got, id)
		}
		assert.Equal(t, want, got)
	}
}

func TestAncestorsSeeLaterLinks(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	a, err := g.InsertChange(ctx, []byte("a"))
	require.NoError(t, err)
	b, err := g.InsertChange(ctx, []byte("b"))
	require.NoError(t, err)
	c, err := g.InsertChange(ctx, []byte("c"))
	require.NoError(t, err)

	require.NoError(t, g.Link(ctx, b, c))

	// warm the parent cache for c, then grow its history
	for _, err := range g.Ancestors(ctx, c) {
		require.NoError(t, err)
	}
	require.NoError(t, g.Link(ctx, a, c))

	seen := make(map[graft.ChangeID]bool)
	for id, err := range g.Ancestors(ctx, c) {
		require.NoError(t, err)
		seen[id] = true
	}
	assert.True(t, seen[a])
	assert.True(t, seen[b])
}

func TestConcurrentIdenticalInsert(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	const n = 16
	content := []byte("raced content")

	ids := make([]graft.ChangeID, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = g.InsertChange(ctx, content)
		}()
	}
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}
