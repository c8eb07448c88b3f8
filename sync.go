package graft

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aweris/graft/internal/store"
)

// registryIndex is the blob that carries repositories and branch heads on
// the remote. Heads reference changes by content hash, never by internal id.
type registryIndex struct {
	Repositories []repoEntry `json:"repositories"`
}

type repoEntry struct {
	UUID     string        `json:"uuid"`
	Descr    string        `json:"descr"`
	Branches []branchEntry `json:"branches,omitempty"`
}

type branchEntry struct {
	UUID  string `json:"uuid"`
	Descr string `json:"descr"`
	Head  string `json:"head"`
}

// Push uploads the change graph and registry index to the given tags. If no
// tags are provided, the current ref's tag is used.
func (g *Graph) Push(ctx context.Context, tags ...string) error {
	if g.remote == nil {
		return ErrNoRemote
	}
	if len(tags) == 0 {
		tags = []string{g.remote.Tag()}
	}

	objects, indexDigest, err := g.exportObjects(ctx)
	if err != nil {
		return err
	}

	for _, tag := range tags {
		r, err := g.remote.WithTag(tag)
		if err != nil {
			return fmt.Errorf("invalid tag %q: %w", tag, err)
		}
		newPrefixes, err := r.Push(ctx, indexDigest, objects, g.prefixSnapshot())
		if err != nil {
			return fmt.Errorf("push to %s: %w", tag, err)
		}
		g.setPrefixes(newPrefixes)
	}

	return g.Sync()
}

// Pull downloads remote changes and replays them through the normal insert
// and link path, so the DAG invariants hold for remote data too. Remote
// registry state wins: existing branches move to the pulled head.
func (g *Graph) Pull(ctx context.Context) error {
	if g.remote == nil {
		return ErrNoRemote
	}

	indexDigest, objects, prefixes, err := g.remote.Pull(ctx, g.prefixSnapshot())
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	records := make([]store.Record, 0, len(objects))
	for digest, data := range objects {
		if digest == indexDigest {
			continue
		}
		var rec store.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode change %s: %w", digest, err)
		}
		records = append(records, rec)
	}

	inserted, err := g.importRecords(ctx, records)
	if err != nil {
		return err
	}

	// The index blob keys on its own digest, so a changed registry always
	// lands in a re-downloaded prefix group. Absence means it is unchanged.
	if indexData, ok := objects[indexDigest]; ok {
		if err := g.applyIndex(ctx, indexData); err != nil {
			return err
		}
	}

	g.setPrefixes(prefixes)
	g.log.Info("pull applied", zap.Int("changes", inserted))
	return g.Sync()
}

// importRecords replays remote change records through the normal insert and
// link path. A record whose content does not hash to its declared hash is
// rejected before anything is written: the hash is the identity every local
// reader dedups and links on, so a lying record must never land.
func (g *Graph) importRecords(ctx context.Context, records []store.Record) (int, error) {
	for _, rec := range records {
		if HashContent(rec.Content) != rec.Hash {
			return 0, fmt.Errorf("record %s: %w", rec.Hash, ErrHashMismatch)
		}
	}

	inserted := 0
	for _, rec := range records {
		_, created, err := g.backend.InsertChange(ctx, rec.Hash, rec.Content)
		if err != nil {
			return inserted, fmt.Errorf("import change %s: %w", rec.Hash, err)
		}
		if created {
			inserted++
		}
	}

	// Edges in a second pass, once every endpoint exists locally.
	for _, rec := range records {
		child, ok, err := g.backend.ChangeByHash(ctx, rec.Hash)
		if err != nil {
			return inserted, err
		}
		if !ok {
			return inserted, fmt.Errorf("import change %s: %w", rec.Hash, ErrDanglingReference)
		}
		for _, parentHash := range rec.Parents {
			parent, ok, err := g.backend.ChangeByHash(ctx, parentHash)
			if err != nil {
				return inserted, err
			}
			if !ok {
				return inserted, fmt.Errorf("import edge %s->%s: %w", parentHash, rec.Hash, ErrDanglingReference)
			}
			if err := g.Link(ctx, parent, child); err != nil {
				return inserted, fmt.Errorf("import edge %s->%s: %w", parentHash, rec.Hash, err)
			}
		}
	}

	return inserted, nil
}

func (g *Graph) exportObjects(ctx context.Context) (map[string][]byte, string, error) {
	records, err := g.backend.ExportChanges(ctx)
	if err != nil {
		return nil, "", err
	}

	objects := make(map[string][]byte, len(records)+1)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, "", fmt.Errorf("encode change %s: %w", rec.Hash, err)
		}
		objects[digestPrefix+rec.Hash] = data
	}

	index, err := g.buildIndex(ctx)
	if err != nil {
		return nil, "", err
	}
	indexData, err := json.Marshal(index)
	if err != nil {
		return nil, "", fmt.Errorf("encode index: %w", err)
	}

	sum := sha256.Sum256(indexData)
	indexDigest := digestPrefix + hex.EncodeToString(sum[:])
	objects[indexDigest] = indexData

	return objects, indexDigest, nil
}

func (g *Graph) buildIndex(ctx context.Context) (*registryIndex, error) {
	repos, err := g.backend.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	index := &registryIndex{}
	for _, repo := range repos {
		entry := repoEntry{UUID: repo.UUID.String(), Descr: repo.Descr}
		branches, err := g.backend.ListBranches(ctx, repo.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range branches {
			head, err := g.backend.GetChange(ctx, b.Head)
			if err != nil {
				return nil, fmt.Errorf("branch %s head: %w", b.UUID, err)
			}
			entry.Branches = append(entry.Branches, branchEntry{
				UUID:  b.UUID.String(),
				Descr: b.Descr,
				Head:  head.Hash,
			})
		}
		index.Repositories = append(index.Repositories, entry)
	}
	return index, nil
}

func (g *Graph) applyIndex(ctx context.Context, data []byte) error {
	var index registryIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}

	for _, entry := range index.Repositories {
		repoUUID, err := uuid.Parse(entry.UUID)
		if err != nil {
			return fmt.Errorf("index repository %q: %w", entry.UUID, err)
		}

		repo, err := g.backend.GetRepository(ctx, repoUUID)
		if errors.Is(err, ErrNotFound) {
			repoID, cerr := g.backend.CreateRepository(ctx, repoUUID, entry.Descr)
			if cerr != nil {
				return cerr
			}
			repo = &Repository{ID: repoID, UUID: repoUUID, Descr: entry.Descr}
		} else if err != nil {
			return err
		}

		for _, be := range entry.Branches {
			branchUUID, err := uuid.Parse(be.UUID)
			if err != nil {
				return fmt.Errorf("index branch %q: %w", be.UUID, err)
			}
			head, ok, err := g.backend.ChangeByHash(ctx, be.Head)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("index branch %s head %s: %w", be.UUID, be.Head, ErrDanglingReference)
			}

			branch, err := g.backend.GetBranch(ctx, repo.ID, branchUUID)
			if errors.Is(err, ErrNotFound) {
				if _, err := g.backend.CreateBranch(ctx, repo.ID, branchUUID, be.Descr, head); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if branch.Head != head {
				// remote wins, even if that rewinds the local branch
				if err := g.backend.AdvanceHead(ctx, branch.ID, head, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
