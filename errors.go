package graft

import (
	"errors"

	"github.com/aweris/graft/internal/store"
)

// Sentinel errors. Backend failures carry these in their chains, so callers
// match with errors.Is.
var (
	ErrNotFound          = store.ErrNotFound
	ErrDuplicateUUID     = store.ErrDuplicateUUID
	ErrDanglingReference = store.ErrDanglingReference
	ErrCycle             = store.ErrCycle
	ErrHeadNotDescendant = store.ErrHeadNotDescendant
	ErrStorage           = store.ErrStorage

	ErrNoRemote     = errors.New("graft: no remote configured")
	ErrHashMismatch = errors.New("graft: content does not match declared hash")
)
