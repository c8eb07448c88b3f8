package graft

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/aweris/graft/internal/store"
)

// history walks change ancestry lazily, memoizing parent lookups. Edges are
// append-only, so a cached parent list only goes stale when a new edge lands
// on that child; Link invalidates the entry.
type history struct {
	backend store.Backend

	mu      sync.RWMutex
	parents map[store.ChangeID][]store.ChangeID
}

func newHistory(backend store.Backend) *history {
	return &history{
		backend: backend,
		parents: make(map[store.ChangeID][]store.ChangeID),
	}
}

func (h *history) parentsOf(ctx context.Context, id store.ChangeID) ([]store.ChangeID, error) {
	h.mu.RLock()
	if ps, ok := h.parents[id]; ok {
		h.mu.RUnlock()
		return ps, nil
	}
	h.mu.RUnlock()

	ps, err := h.backend.Parents(ctx, id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.parents[id] = ps
	h.mu.Unlock()

	return ps, nil
}

func (h *history) invalidate(id store.ChangeID) {
	h.mu.Lock()
	delete(h.parents, id)
	h.mu.Unlock()
}

// ancestors yields every transitive parent of id exactly once, breadth-first.
// The backend returns parents in ascending hash order, which makes the walk
// deterministic for a given graph state. A lookup failure ends the sequence
// with the error as the second value.
func (h *history) ancestors(ctx context.Context, id store.ChangeID) iter.Seq2[store.ChangeID, error] {
	return func(yield func(store.ChangeID, error) bool) {
		queue, err := h.parentsOf(ctx, id)
		if err != nil {
			yield(0, err)
			return
		}
		queue = slices.Clone(queue)

		seen := map[store.ChangeID]bool{id: true}
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if seen[next] {
				continue
			}
			seen[next] = true

			if !yield(next, nil) {
				return
			}

			ps, err := h.parentsOf(ctx, next)
			if err != nil {
				yield(0, err)
				return
			}
			queue = append(queue, ps...)
		}
	}
}
