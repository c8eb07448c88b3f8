package graft_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/graft"
)

func TestCreateRepository(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "first project")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, repo.UUID)

	got, err := g.Repository(ctx, repo.UUID)
	require.NoError(t, err)
	assert.Equal(t, repo.ID, got.ID)
	assert.Equal(t, "first project", got.Descr)

	repos, err := g.Repositories(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}

func TestCreateRepositoryDuplicateUUID(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	id := uuid.New()
	_, err := g.CreateRepository(ctx, id, "original")
	require.NoError(t, err)

	_, err = g.CreateRepository(ctx, id, "impostor")
	assert.ErrorIs(t, err, graft.ErrDuplicateUUID)
}

func TestRepositoryNotFound(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.Repository(context.Background(), uuid.New())
	assert.ErrorIs(t, err, graft.ErrNotFound)
}

func TestCreateBranch(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)
	head, err := g.InsertChange(ctx, []byte("initial"))
	require.NoError(t, err)

	branch, err := g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", head)
	require.NoError(t, err)
	assert.Equal(t, head, branch.Head)

	got, err := g.Branch(ctx, repo.ID, branch.UUID)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, got.ID)
	assert.Equal(t, head, got.Head)

	branches, err := g.Branches(ctx, repo.ID)
	require.NoError(t, err)
	assert.Len(t, branches, 1)
}

func TestCreateBranchDanglingHead(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)

	_, err = g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", 99)
	assert.ErrorIs(t, err, graft.ErrDanglingReference)
}

func TestCreateBranchDuplicateUUID(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)
	head, err := g.InsertChange(ctx, []byte("initial"))
	require.NoError(t, err)

	id := uuid.New()
	_, err = g.CreateBranch(ctx, repo.ID, id, "main", head)
	require.NoError(t, err)

	_, err = g.CreateBranch(ctx, repo.ID, id, "again", head)
	assert.ErrorIs(t, err, graft.ErrDuplicateUUID)
}

func TestAdvanceHead(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)
	first, err := g.InsertChange(ctx, []byte("first"))
	require.NoError(t, err)
	second, err := g.InsertChange(ctx, []byte("second"))
	require.NoError(t, err)

	branch, err := g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", first)
	require.NoError(t, err)

	require.NoError(t, g.AdvanceHead(ctx, branch.ID, second))

	got, err := g.Branch(ctx, repo.ID, branch.UUID)
	require.NoError(t, err)
	assert.Equal(t, second, got.Head)

	// rewinding to an unrelated change is allowed by default
	require.NoError(t, g.AdvanceHead(ctx, branch.ID, first))
}

func TestAdvanceHeadMissingChangeKeepsOldHead(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)
	head, err := g.InsertChange(ctx, []byte("initial"))
	require.NoError(t, err)

	branch, err := g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", head)
	require.NoError(t, err)

	err = g.AdvanceHead(ctx, branch.ID, 99)
	assert.ErrorIs(t, err, graft.ErrDanglingReference)

	got, err := g.Branch(ctx, repo.ID, branch.UUID)
	require.NoError(t, err)
	assert.Equal(t, head, got.Head)
}

func TestAdvanceHeadStrict(t *testing.T) {
	g := newTestGraph(t, graft.WithStrictAdvance())
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)

	base, err := g.InsertChange(ctx, []byte("base"))
	require.NoError(t, err)
	next, err := g.InsertChange(ctx, []byte("next"))
	require.NoError(t, err)
	require.NoError(t, g.Link(ctx, base, next))
	stray, err := g.InsertChange(ctx, []byte("stray"))
	require.NoError(t, err)

	branch, err := g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", base)
	require.NoError(t, err)

	// fast-forward is fine, jumping to an unrelated change is not
	require.NoError(t, g.AdvanceHead(ctx, branch.ID, next))
	assert.ErrorIs(t, g.AdvanceHead(ctx, branch.ID, stray), graft.ErrHeadNotDescendant)

	got, err := g.Branch(ctx, repo.ID, branch.UUID)
	require.NoError(t, err)
	assert.Equal(t, next, got.Head)
}

func TestCommit(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)
	base, err := g.InsertChange(ctx, []byte("base"))
	require.NoError(t, err)
	branch, err := g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", base)
	require.NoError(t, err)

	id, err := g.Commit(ctx, branch, []byte("next revision"))
	require.NoError(t, err)
	assert.Equal(t, id, branch.Head)

	got, err := g.Branch(ctx, repo.ID, branch.UUID)
	require.NoError(t, err)
	assert.Equal(t, id, got.Head)

	ok, err := g.IsAncestor(ctx, base, id)
	require.NoError(t, err)
	assert.True(t, ok)

	// committing the head's own content moves nothing
	again, err := g.Commit(ctx, branch, []byte("next revision"))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, id, branch.Head)
}

func TestCommitAncestorContentIsNoOp(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repo, err := g.CreateRepository(ctx, uuid.Nil, "project")
	require.NoError(t, err)
	base, err := g.InsertChange(ctx, []byte("base"))
	require.NoError(t, err)
	branch, err := g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", base)
	require.NoError(t, err)

	head, err := g.Commit(ctx, branch, []byte("second revision"))
	require.NoError(t, err)

	// re-committing content that dedups to an ancestor must not try to
	// link history back under the head
	again, err := g.Commit(ctx, branch, []byte("base"))
	require.NoError(t, err)
	assert.Equal(t, base, again)
	assert.Equal(t, head, branch.Head)

	got, err := g.Branch(ctx, repo.ID, branch.UUID)
	require.NoError(t, err)
	assert.Equal(t, head, got.Head)
}

func TestBranchesPerRepository(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	repoA, err := g.CreateRepository(ctx, uuid.Nil, "project a")
	require.NoError(t, err)
	repoB, err := g.CreateRepository(ctx, uuid.Nil, "project b")
	require.NoError(t, err)
	head, err := g.InsertChange(ctx, []byte("shared head"))
	require.NoError(t, err)

	// same branch UUID may exist in different repositories
	id := uuid.New()
	_, err = g.CreateBranch(ctx, repoA.ID, id, "main", head)
	require.NoError(t, err)
	_, err = g.CreateBranch(ctx, repoB.ID, id, "main", head)
	require.NoError(t, err)

	branches, err := g.Branches(ctx, repoA.ID)
	require.NoError(t, err)
	assert.Len(t, branches, 1)
	assert.Equal(t, repoA.ID, branches[0].Repo)
}
