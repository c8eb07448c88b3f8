package graft

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aweris/graft/internal/remote"
	"github.com/aweris/graft/internal/store"
)

const digestPrefix = "sha256:"

// Graph is a versioned-change graph store: content-addressed, append-only
// change records linked into a DAG, with repositories and branch head
// pointers layered on top.
type Graph struct {
	backend store.Backend
	remote  *remote.OCIRemote
	history *history
	log     *zap.Logger
	strict  bool

	dataDir string

	// prefix fingerprints from the last push/pull, persisted next to the
	// database so incremental sync survives restarts
	mu            sync.Mutex
	prefixes      map[string]remote.PrefixInfo
	prefixesDirty bool
}

// Open creates or opens the graph store for the given image ref (e.g.
// "ttl.sh/team/graph:main"). Local-only usage: use a ref without a registry
// like "team/graph:main".
func Open(ref string, opts ...Option) (*Graph, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	dataDir := expandPath(options.DataDir)

	var backend store.Backend
	if options.InMemory {
		backend = store.NewMemory()
	} else {
		dbPath := filepath.Join(dataDir, "db", sanitizeRef(ref)+".db")
		var err error
		backend, err = store.OpenSQLite(dbPath, options.CompressionLevel, options.Logger)
		if err != nil {
			return nil, err
		}
	}

	auth := options.Auth
	if auth == nil {
		auth = remote.NewKeychainAuthenticator()
	}

	ociRemote, err := remote.NewOCIRemote(ref, auth, options.Logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	ociRemote.SetConcurrency(options.Concurrency)

	g := &Graph{
		backend:  backend,
		remote:   ociRemote,
		history:  newHistory(backend),
		log:      options.Logger,
		strict:   options.StrictAdvance,
		dataDir:  dataDir,
		prefixes: make(map[string]remote.PrefixInfo),
	}

	g.loadState()

	return g, nil
}

// HashContent returns the content hash a payload would be stored under.
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// InsertChange stores content as an immutable change record and returns its
// id. Inserting identical content again returns the existing id.
func (g *Graph) InsertChange(ctx context.Context, content []byte) (ChangeID, error) {
	hash := HashContent(content)
	id, created, err := g.backend.InsertChange(ctx, hash, content)
	if err != nil {
		return 0, err
	}
	if created {
		g.log.Debug("change inserted", zap.String("hash", hash), zap.Int64("id", int64(id)))
	}
	return id, nil
}

// Lookup resolves a content hash to a change id.
func (g *Graph) Lookup(ctx context.Context, hash string) (ChangeID, bool, error) {
	return g.backend.ChangeByHash(ctx, hash)
}

// Get retrieves a change record by id.
func (g *Graph) Get(ctx context.Context, id ChangeID) (*Change, error) {
	return g.backend.GetChange(ctx, id)
}

// Link records that parent precedes child. Inserting an existing edge is a
// no-op; an edge that would close a cycle fails with ErrCycle and writes
// nothing.
func (g *Graph) Link(ctx context.Context, parent, child ChangeID) error {
	if err := g.backend.LinkChanges(ctx, parent, child); err != nil {
		return err
	}
	g.history.invalidate(child)
	return nil
}

// Ancestors walks all transitive parents of id, breadth-first, each yielded
// once. Parents of every node are visited in ascending hash order, so the
// sequence is deterministic for a given graph state.
func (g *Graph) Ancestors(ctx context.Context, id ChangeID) iter.Seq2[ChangeID, error] {
	return g.history.ancestors(ctx, id)
}

// IsAncestor reports whether anc is a transitive parent of id.
func (g *Graph) IsAncestor(ctx context.Context, anc, id ChangeID) (bool, error) {
	return g.backend.IsAncestor(ctx, anc, id)
}

// Sync persists the remote sync state locally.
func (g *Graph) Sync() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.prefixesDirty {
		return nil
	}

	path := g.statePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.Marshal(g.prefixes)
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	g.prefixesDirty = false
	return nil
}

// Close flushes sync state and closes the backend.
func (g *Graph) Close() error {
	if err := g.Sync(); err != nil {
		return err
	}
	return g.backend.Close()
}

func (g *Graph) statePath() string {
	return filepath.Join(g.dataDir, "remote", sanitizeRef(g.remote.String())+".json")
}

func (g *Graph) loadState() {
	data, err := os.ReadFile(g.statePath())
	if err != nil {
		return
	}
	var prefixes map[string]remote.PrefixInfo
	if err := json.Unmarshal(data, &prefixes); err != nil {
		return
	}
	g.prefixes = prefixes
}

func (g *Graph) prefixSnapshot() map[string]remote.PrefixInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := make(map[string]remote.PrefixInfo, len(g.prefixes))
	for k, v := range g.prefixes {
		snapshot[k] = v
	}
	return snapshot
}

func (g *Graph) setPrefixes(prefixes map[string]remote.PrefixInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prefixes = prefixes
	g.prefixesDirty = true
}

// sanitizeRef turns a ref into a filename: / and : become _.
func sanitizeRef(ref string) string {
	name := strings.ReplaceAll(ref, "/", "_")
	return strings.ReplaceAll(name, ":", "_")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
