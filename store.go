package graft

import (
	"github.com/aweris/graft/internal/remote"
	"github.com/aweris/graft/internal/store"
)

// Core storage types, re-exported from internal/store for convenience.
type (
	ChangeID   = store.ChangeID
	RepoID     = store.RepoID
	BranchID   = store.BranchID
	Change     = store.Change
	Repository = store.Repository
	Branch     = store.Branch
)

// Backend is the transactional persistence contract the graph runs on.
// Re-exported so callers can supply their own.
type Backend = store.Backend

// Authenticator provides credentials for remote registries.
type Authenticator = remote.Authenticator
