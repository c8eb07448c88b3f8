package graft

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateRepository registers a repository under the given UUID. Pass
// uuid.Nil to have one generated. Fails with ErrDuplicateUUID when the UUID
// is already registered.
func (g *Graph) CreateRepository(ctx context.Context, id uuid.UUID, descr string) (*Repository, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	repoID, err := g.backend.CreateRepository(ctx, id, descr)
	if err != nil {
		return nil, err
	}
	g.log.Debug("repository created", zap.String("uuid", id.String()), zap.Int64("id", int64(repoID)))
	return &Repository{ID: repoID, UUID: id, Descr: descr}, nil
}

// Repository looks a repository up by UUID.
func (g *Graph) Repository(ctx context.Context, id uuid.UUID) (*Repository, error) {
	return g.backend.GetRepository(ctx, id)
}

// Repositories lists all repositories.
func (g *Graph) Repositories(ctx context.Context) ([]Repository, error) {
	return g.backend.ListRepositories(ctx)
}

// CreateBranch creates a branch in a repository with an initial head. Pass
// uuid.Nil to have the branch UUID generated. The UUID must be unique
// within the repository; the head must be an existing change.
func (g *Graph) CreateBranch(ctx context.Context, repo RepoID, id uuid.UUID, descr string, head ChangeID) (*Branch, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	branchID, err := g.backend.CreateBranch(ctx, repo, id, descr, head)
	if err != nil {
		return nil, err
	}
	return &Branch{ID: branchID, UUID: id, Repo: repo, Head: head, Descr: descr}, nil
}

// Branch looks a branch up by repository and UUID.
func (g *Graph) Branch(ctx context.Context, repo RepoID, id uuid.UUID) (*Branch, error) {
	return g.backend.GetBranch(ctx, repo, id)
}

// Branches lists the branches of a repository.
func (g *Graph) Branches(ctx context.Context, repo RepoID) ([]Branch, error) {
	return g.backend.ListBranches(ctx, repo)
}

// AdvanceHead points a branch at newHead atomically: concurrent readers see
// the old head or the new one, never an intermediate state. Concurrent
// advances race and the last committed write wins. With WithStrictAdvance
// the new head must descend from the current one.
func (g *Graph) AdvanceHead(ctx context.Context, branch BranchID, newHead ChangeID) error {
	return g.backend.AdvanceHead(ctx, branch, newHead, g.strict)
}

// Commit stores content as a new change on top of the branch head: insert,
// link to the current head, advance. Committing content already on the
// branch's line of history (the head itself or any ancestor of it) is a
// no-op that returns the existing id.
func (g *Graph) Commit(ctx context.Context, branch *Branch, content []byte) (ChangeID, error) {
	id, err := g.InsertChange(ctx, content)
	if err != nil {
		return 0, err
	}
	if id == branch.Head {
		return id, nil
	}
	// Deduplicated content may resolve to an ancestor of the head; linking
	// that back under the head would close a cycle.
	isAnc, err := g.IsAncestor(ctx, id, branch.Head)
	if err != nil {
		return 0, err
	}
	if isAnc {
		return id, nil
	}
	if err := g.Link(ctx, branch.Head, id); err != nil {
		return 0, err
	}
	if err := g.AdvanceHead(ctx, branch.ID, id); err != nil {
		return 0, err
	}
	branch.Head = id
	return id, nil
}
