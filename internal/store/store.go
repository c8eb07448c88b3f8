// Package store implements the persistence layer for the change graph.
//
// The Backend interface is the transactional contract the graph is built on:
// - content-addressed, append-only change records with dense ids
// - parent/child edges that stay acyclic (checked inside the edge insert)
// - repositories and branches with UUID uniqueness and a single head pointer
//
// Mutations that span a check and a write (edge insert, head advance) commit
// as one unit so concurrent callers cannot interleave between them.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors shared by all backends. The root package re-exports them.
var (
	ErrNotFound          = errors.New("graft: not found")
	ErrDuplicateUUID     = errors.New("graft: uuid already registered")
	ErrDanglingReference = errors.New("graft: referenced record does not exist")
	ErrCycle             = errors.New("graft: edge would create a cycle")
	ErrHeadNotDescendant = errors.New("graft: new head does not descend from current head")
	ErrStorage           = errors.New("graft: storage failure")
)

// ChangeID is the dense internal identifier of a change record.
type ChangeID int64

// RepoID is the dense internal identifier of a repository.
type RepoID int64

// BranchID is the dense internal identifier of a branch.
type BranchID int64

// Change is an immutable change record. Hash is the lowercase hex sha256 of
// Content; re-inserting identical content resolves to the existing record.
type Change struct {
	ID      ChangeID
	Hash    string
	Content []byte
}

// Repository groups branches under a globally unique UUID.
type Repository struct {
	ID    RepoID
	UUID  uuid.UUID
	Descr string
}

// Branch points a name at a single head change. UUID is unique within the
// owning repository, not globally.
type Branch struct {
	ID    BranchID
	UUID  uuid.UUID
	Repo  RepoID
	Head  ChangeID
	Descr string
}

// Record is the export form of a change: content plus parent hashes, as
// pushed to and pulled from a remote.
type Record struct {
	Hash    string   `json:"hash"`
	Content []byte   `json:"content"`
	Parents []string `json:"parents,omitempty"`
}

// Backend handles durable storage for changes, edges, repositories and
// branches.
type Backend interface {
	// InsertChange stores a change record, deduplicating by hash.
	// Returns the id and whether a new row was created.
	InsertChange(ctx context.Context, hash string, content []byte) (ChangeID, bool, error)

	// ChangeByHash resolves a content hash to an id.
	ChangeByHash(ctx context.Context, hash string) (ChangeID, bool, error)

	// GetChange retrieves a change by id. ErrNotFound if absent.
	GetChange(ctx context.Context, id ChangeID) (*Change, error)

	// LinkChanges inserts the directed edge parent->child if absent.
	// ErrDanglingReference if either endpoint is missing, ErrCycle if the
	// edge would make child an ancestor of itself. Check and insert are
	// one transaction.
	LinkChanges(ctx context.Context, parent, child ChangeID) error

	// Parents returns the direct parents of child in ascending hash order.
	Parents(ctx context.Context, child ChangeID) ([]ChangeID, error)

	// IsAncestor reports whether anc is a transitive parent of id.
	IsAncestor(ctx context.Context, anc, id ChangeID) (bool, error)

	// ExportChanges returns every change with its parent hashes.
	ExportChanges(ctx context.Context) ([]Record, error)

	// CreateRepository registers a repository. ErrDuplicateUUID if the
	// UUID is taken.
	CreateRepository(ctx context.Context, id uuid.UUID, descr string) (RepoID, error)

	// GetRepository looks a repository up by UUID. ErrNotFound if absent.
	GetRepository(ctx context.Context, id uuid.UUID) (*Repository, error)

	// ListRepositories returns all repositories in insertion order.
	ListRepositories(ctx context.Context) ([]Repository, error)

	// CreateBranch creates a branch with an initial head.
	// ErrDanglingReference if repo or head is missing, ErrDuplicateUUID if
	// (uuid, repo) is taken.
	CreateBranch(ctx context.Context, repo RepoID, id uuid.UUID, descr string, head ChangeID) (BranchID, error)

	// GetBranch looks a branch up by repository and UUID.
	GetBranch(ctx context.Context, repo RepoID, id uuid.UUID) (*Branch, error)

	// ListBranches returns all branches of a repository in insertion order.
	ListBranches(ctx context.Context, repo RepoID) ([]Branch, error)

	// AdvanceHead points a branch at newHead. ErrDanglingReference if the
	// change is missing. With requireDescendant set, the current head must
	// be an ancestor of newHead (ErrHeadNotDescendant otherwise). The swap
	// is atomic: readers see the old head or the new one, never neither.
	AdvanceHead(ctx context.Context, branch BranchID, newHead ChangeID, requireDescendant bool) error

	Close() error
}
