// Package graft provides a versioned-change graph store with OCI registry sync.
//
// Graft stores immutable change records by content digest and links them into
// an append-only DAG. Repositories and branches are layered on top: a branch
// is a named head pointer that moves atomically across the graph.
//
// Basic usage (local only):
//
//	g, _ := graft.Open("myproject:main")
//
//	// Store content, deduplicated by digest
//	a, _ := g.InsertChange(ctx, data)
//	b, _ := g.InsertChange(ctx, moreData)
//
//	// Record that a precedes b; cycles are rejected
//	g.Link(ctx, a, b)
//
//	// Walk history lazily
//	for id, err := range g.Ancestors(ctx, b) { ... }
//
//	// Repositories and branches
//	repo, _ := g.CreateRepository(ctx, uuid.Nil, "my project")
//	branch, _ := g.CreateBranch(ctx, repo.ID, uuid.Nil, "main", a)
//	g.Commit(ctx, branch, nextData)
//
// With remote sync:
//
//	g, _ := graft.Open("ttl.sh/myorg/graph:main")
//	g.Push(ctx)
//	g.Pull(ctx)
package graft
