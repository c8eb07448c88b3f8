package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory implements Backend with in-process state. Used for tests and for
// ephemeral stores that never touch disk.
//
// A single mutex serializes every operation, which gives edge inserts and
// head advances the same check-then-write atomicity the sqlite backend gets
// from its transactions. Dense ids are slice indexes plus one.
type Memory struct {
	mu sync.Mutex

	changes []Change
	byHash  map[string]ChangeID
	parents map[ChangeID][]ChangeID // ordered by parent hash

	repos      []Repository
	repoByUUID map[uuid.UUID]RepoID

	branches  []Branch
	branchKey map[branchKey]BranchID
}

type branchKey struct {
	repo RepoID
	uuid uuid.UUID
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		byHash:     make(map[string]ChangeID),
		parents:    make(map[ChangeID][]ChangeID),
		repoByUUID: make(map[uuid.UUID]RepoID),
		branchKey:  make(map[branchKey]BranchID),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) InsertChange(_ context.Context, hash string, content []byte) (ChangeID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byHash[hash]; ok {
		return id, false, nil
	}
	id := ChangeID(len(m.changes) + 1)
	m.changes = append(m.changes, Change{ID: id, Hash: hash, Content: slices.Clone(content)})
	m.byHash[hash] = id
	return id, true, nil
}

func (m *Memory) ChangeByHash(_ context.Context, hash string) (ChangeID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[hash]
	return id, ok, nil
}

func (m *Memory) GetChange(_ context.Context, id ChangeID) (*Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.change(id)
	if !ok {
		return nil, fmt.Errorf("change %d: %w", id, ErrNotFound)
	}
	out := *c
	out.Content = slices.Clone(c.Content)
	return &out, nil
}

func (m *Memory) LinkChanges(_ context.Context, parent, child ChangeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if parent == child {
		return fmt.Errorf("link %d->%d: %w", parent, child, ErrCycle)
	}
	pc, ok := m.change(parent)
	if !ok {
		return fmt.Errorf("link %d->%d: %w", parent, child, ErrDanglingReference)
	}
	if _, ok := m.change(child); !ok {
		return fmt.Errorf("link %d->%d: %w", parent, child, ErrDanglingReference)
	}
	if slices.Contains(m.parents[child], parent) {
		return nil
	}
	if m.reachable(parent, child) {
		return fmt.Errorf("link %d->%d: %w", parent, child, ErrCycle)
	}

	// Keep parents ordered by hash so traversal order is deterministic.
	ps := m.parents[child]
	idx, _ := slices.BinarySearchFunc(ps, parent, func(a, _ ChangeID) int {
		ca, _ := m.change(a)
		return strings.Compare(ca.Hash, pc.Hash)
	})
	m.parents[child] = slices.Insert(ps, idx, parent)
	return nil
}

func (m *Memory) Parents(_ context.Context, child ChangeID) ([]ChangeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.parents[child]), nil
}

func (m *Memory) IsAncestor(_ context.Context, anc, id ChangeID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reachable(id, anc), nil
}

func (m *Memory) ExportChanges(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, 0, len(m.changes))
	for _, c := range m.changes {
		rec := Record{Hash: c.Hash, Content: slices.Clone(c.Content)}
		for _, p := range m.parents[c.ID] {
			pc, _ := m.change(p)
			rec.Parents = append(rec.Parents, pc.Hash)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (m *Memory) CreateRepository(_ context.Context, id uuid.UUID, descr string) (RepoID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.repoByUUID[id]; ok {
		return 0, fmt.Errorf("repository %s: %w", id, ErrDuplicateUUID)
	}
	repoID := RepoID(len(m.repos) + 1)
	m.repos = append(m.repos, Repository{ID: repoID, UUID: id, Descr: descr})
	m.repoByUUID[id] = repoID
	return repoID, nil
}

func (m *Memory) GetRepository(_ context.Context, id uuid.UUID) (*Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	repoID, ok := m.repoByUUID[id]
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", id, ErrNotFound)
	}
	r := m.repos[repoID-1]
	return &r, nil
}

func (m *Memory) ListRepositories(_ context.Context) ([]Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.repos), nil
}

func (m *Memory) CreateBranch(_ context.Context, repo RepoID, id uuid.UUID, descr string, head ChangeID) (BranchID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if repo < 1 || int(repo) > len(m.repos) {
		return 0, fmt.Errorf("branch %s: %w", id, ErrDanglingReference)
	}
	if _, ok := m.change(head); !ok {
		return 0, fmt.Errorf("branch %s: %w", id, ErrDanglingReference)
	}
	key := branchKey{repo: repo, uuid: id}
	if _, ok := m.branchKey[key]; ok {
		return 0, fmt.Errorf("branch %s: %w", id, ErrDuplicateUUID)
	}
	branchID := BranchID(len(m.branches) + 1)
	m.branches = append(m.branches, Branch{ID: branchID, UUID: id, Repo: repo, Head: head, Descr: descr})
	m.branchKey[key] = branchID
	return branchID, nil
}

func (m *Memory) GetBranch(_ context.Context, repo RepoID, id uuid.UUID) (*Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	branchID, ok := m.branchKey[branchKey{repo: repo, uuid: id}]
	if !ok {
		return nil, fmt.Errorf("branch %s: %w", id, ErrNotFound)
	}
	b := m.branches[branchID-1]
	return &b, nil
}

func (m *Memory) ListBranches(_ context.Context, repo RepoID) ([]Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var branches []Branch
	for _, b := range m.branches {
		if b.Repo == repo {
			branches = append(branches, b)
		}
	}
	return branches, nil
}

func (m *Memory) AdvanceHead(_ context.Context, branch BranchID, newHead ChangeID, requireDescendant bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if branch < 1 || int(branch) > len(m.branches) {
		return fmt.Errorf("branch %d: %w", branch, ErrNotFound)
	}
	if _, ok := m.change(newHead); !ok {
		return fmt.Errorf("change %d: %w", newHead, ErrDanglingReference)
	}
	b := &m.branches[branch-1]
	if requireDescendant && b.Head != newHead && !m.reachable(newHead, b.Head) {
		return fmt.Errorf("branch %d: %w", branch, ErrHeadNotDescendant)
	}
	b.Head = newHead
	return nil
}

func (m *Memory) change(id ChangeID) (*Change, bool) {
	if id < 1 || int(id) > len(m.changes) {
		return nil, false
	}
	return &m.changes[id-1], true
}

// reachable reports whether anc is a transitive parent of from.
// Caller holds the lock.
func (m *Memory) reachable(from, anc ChangeID) bool {
	seen := make(map[ChangeID]bool)
	stack := slices.Clone(m.parents[from])
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == anc {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, m.parents[id]...)
	}
	return false
}

var _ Backend = (*Memory)(nil)
