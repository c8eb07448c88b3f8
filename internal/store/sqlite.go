package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/aweris/graft/internal/compression"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite implements Backend on a single sqlite database file.
//
// Transactions open with an immediate write lock (_txlock=immediate), so a
// cycle check and the edge insert it guards cannot interleave with another
// writer's. Content is zstd-compressed at rest; hashes are always computed
// by the caller over the uncompressed bytes.
type SQLite struct {
	db         *sql.DB
	compressor *compression.Compressor
	log        *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string, compressionLevel int, log *zap.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	compressor, err := compression.NewCompressor(compressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	log.Debug("sqlite backend ready", zap.String("path", path))
	return &SQLite{db: db, compressor: compressor, log: log}, nil
}

func (s *SQLite) Close() error {
	s.compressor.Close()
	return s.db.Close()
}

// InsertChange stores a change, resolving to the existing row when the hash
// is already present. A concurrent identical insert loses the conflict and
// degrades to the lookup, so both callers agree on the id.
func (s *SQLite) InsertChange(ctx context.Context, hash string, content []byte) (ChangeID, bool, error) {
	stored := s.compressor.Compress(content)

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO changes (hash, content) VALUES (?, ?) ON CONFLICT(hash) DO NOTHING RETURNING id`,
		hash, stored,
	).Scan(&id)
	if err == nil {
		return ChangeID(id), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, storageErr("insert change", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT id FROM changes WHERE hash = ?`, hash).Scan(&id)
	if err != nil {
		return 0, false, storageErr("lookup change by hash", err)
	}
	return ChangeID(id), false, nil
}

func (s *SQLite) ChangeByHash(ctx context.Context, hash string) (ChangeID, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM changes WHERE hash = ?`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storageErr("lookup change by hash", err)
	}
	return ChangeID(id), true, nil
}

func (s *SQLite) GetChange(ctx context.Context, id ChangeID) (*Change, error) {
	var c Change
	var stored []byte
	err := s.db.QueryRowContext(ctx, `SELECT id, hash, content FROM changes WHERE id = ?`, int64(id)).
		Scan(&c.ID, &c.Hash, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get change", err)
	}
	if c.Content, err = s.compressor.Decompress(stored); err != nil {
		return nil, storageErr("decode content", err)
	}
	return &c, nil
}

// ancestorQuery walks the parent edges from a starting change. Bound twice:
// start id, candidate ancestor id.
const ancestorQuery = `
	WITH RECURSIVE anc(id) AS (
		SELECT parent FROM change_rels WHERE child = ?
		UNION
		SELECT cr.parent FROM change_rels cr JOIN anc ON cr.child = anc.id
	)
	SELECT EXISTS(SELECT 1 FROM anc WHERE id = ?)`

func (s *SQLite) LinkChanges(ctx context.Context, parent, child ChangeID) error {
	if parent == child {
		return ErrCycle
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin link", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range []ChangeID{parent, child} {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM changes WHERE id = ?`, int64(id)).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("link %d->%d: %w", parent, child, ErrDanglingReference)
		}
		if err != nil {
			return storageErr("link", err)
		}
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM change_rels WHERE parent = ? AND child = ?`,
		int64(parent), int64(child),
	).Scan(&exists)
	if err == nil {
		return nil // edge already present, idempotent
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return storageErr("link", err)
	}

	// The edge is legal unless parent already descends from child.
	var reachable bool
	if err := tx.QueryRowContext(ctx, ancestorQuery, int64(parent), int64(child)).Scan(&reachable); err != nil {
		return storageErr("cycle check", err)
	}
	if reachable {
		return fmt.Errorf("link %d->%d: %w", parent, child, ErrCycle)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO change_rels (parent, child) VALUES (?, ?) ON CONFLICT(parent, child) DO NOTHING`,
		int64(parent), int64(child),
	); err != nil {
		return storageErr("insert edge", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit link", err)
	}
	return nil
}

func (s *SQLite) Parents(ctx context.Context, child ChangeID) ([]ChangeID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cr.parent FROM change_rels cr JOIN changes c ON cr.parent = c.id
		 WHERE cr.child = ? ORDER BY c.hash ASC`,
		int64(child),
	)
	if err != nil {
		return nil, storageErr("list parents", err)
	}
	defer rows.Close()

	var parents []ChangeID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan parent", err)
		}
		parents = append(parents, ChangeID(id))
	}
	return parents, rows.Err()
}

func (s *SQLite) IsAncestor(ctx context.Context, anc, id ChangeID) (bool, error) {
	var reachable bool
	if err := s.db.QueryRowContext(ctx, ancestorQuery, int64(id), int64(anc)).Scan(&reachable); err != nil {
		return false, storageErr("ancestor check", err)
	}
	return reachable, nil
}

func (s *SQLite) ExportChanges(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, hash, content FROM changes ORDER BY id`)
	if err != nil {
		return nil, storageErr("export changes", err)
	}
	defer rows.Close()

	var records []Record
	var ids []int64
	for rows.Next() {
		var id int64
		var rec Record
		var stored []byte
		if err := rows.Scan(&id, &rec.Hash, &stored); err != nil {
			return nil, storageErr("scan change", err)
		}
		if rec.Content, err = s.compressor.Decompress(stored); err != nil {
			return nil, storageErr("decode content", err)
		}
		records = append(records, rec)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("export changes", err)
	}

	for i, id := range ids {
		hashes, err := s.parentHashes(ctx, id)
		if err != nil {
			return nil, err
		}
		records[i].Parents = hashes
	}
	return records, nil
}

func (s *SQLite) parentHashes(ctx context.Context, child int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.hash FROM change_rels cr JOIN changes c ON cr.parent = c.id
		 WHERE cr.child = ? ORDER BY c.hash ASC`,
		child,
	)
	if err != nil {
		return nil, storageErr("list parent hashes", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, storageErr("scan parent hash", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *SQLite) CreateRepository(ctx context.Context, id uuid.UUID, descr string) (RepoID, error) {
	var repoID int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO repositories (uuid, descr) VALUES (?, ?) RETURNING id`,
		id.String(), descr,
	).Scan(&repoID)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("repository %s: %w", id, ErrDuplicateUUID)
	}
	if err != nil {
		return 0, storageErr("create repository", err)
	}
	return RepoID(repoID), nil
}

func (s *SQLite) GetRepository(ctx context.Context, id uuid.UUID) (*Repository, error) {
	var r Repository
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, descr FROM repositories WHERE uuid = ?`, id.String(),
	).Scan(&r.ID, &raw, &r.Descr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get repository", err)
	}
	r.UUID, err = uuid.Parse(raw)
	if err != nil {
		return nil, storageErr("parse repository uuid", err)
	}
	return &r, nil
}

func (s *SQLite) ListRepositories(ctx context.Context) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uuid, descr FROM repositories ORDER BY id`)
	if err != nil {
		return nil, storageErr("list repositories", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		var r Repository
		var raw string
		if err := rows.Scan(&r.ID, &raw, &r.Descr); err != nil {
			return nil, storageErr("scan repository", err)
		}
		if r.UUID, err = uuid.Parse(raw); err != nil {
			return nil, storageErr("parse repository uuid", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *SQLite) CreateBranch(ctx context.Context, repo RepoID, id uuid.UUID, descr string, head ChangeID) (BranchID, error) {
	var branchID int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO branch (uuid, repo, head, descr) VALUES (?, ?, ?, ?) RETURNING id`,
		id.String(), int64(repo), int64(head), descr,
	).Scan(&branchID)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("branch %s: %w", id, ErrDuplicateUUID)
	}
	if isForeignKeyViolation(err) {
		return 0, fmt.Errorf("branch %s: %w", id, ErrDanglingReference)
	}
	if err != nil {
		return 0, storageErr("create branch", err)
	}
	return BranchID(branchID), nil
}

func (s *SQLite) GetBranch(ctx context.Context, repo RepoID, id uuid.UUID) (*Branch, error) {
	var b Branch
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uuid, repo, head, descr FROM branch WHERE repo = ? AND uuid = ?`,
		int64(repo), id.String(),
	).Scan(&b.ID, &raw, &b.Repo, &b.Head, &b.Descr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("branch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get branch", err)
	}
	if b.UUID, err = uuid.Parse(raw); err != nil {
		return nil, storageErr("parse branch uuid", err)
	}
	return &b, nil
}

func (s *SQLite) ListBranches(ctx context.Context, repo RepoID) ([]Branch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uuid, repo, head, descr FROM branch WHERE repo = ? ORDER BY id`, int64(repo),
	)
	if err != nil {
		return nil, storageErr("list branches", err)
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		var b Branch
		var raw string
		if err := rows.Scan(&b.ID, &raw, &b.Repo, &b.Head, &b.Descr); err != nil {
			return nil, storageErr("scan branch", err)
		}
		if b.UUID, err = uuid.Parse(raw); err != nil {
			return nil, storageErr("parse branch uuid", err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *SQLite) AdvanceHead(ctx context.Context, branch BranchID, newHead ChangeID, requireDescendant bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin advance", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldHead int64
	err = tx.QueryRowContext(ctx, `SELECT head FROM branch WHERE id = ?`, int64(branch)).Scan(&oldHead)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("branch %d: %w", branch, ErrNotFound)
	}
	if err != nil {
		return storageErr("advance head", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM changes WHERE id = ?`, int64(newHead)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("change %d: %w", newHead, ErrDanglingReference)
	}
	if err != nil {
		return storageErr("advance head", err)
	}

	if requireDescendant && ChangeID(oldHead) != newHead {
		var reachable bool
		if err := tx.QueryRowContext(ctx, ancestorQuery, int64(newHead), oldHead).Scan(&reachable); err != nil {
			return storageErr("descendant check", err)
		}
		if !reachable {
			return fmt.Errorf("branch %d: %w", branch, ErrHeadNotDescendant)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE branch SET head = ? WHERE id = ?`, int64(newHead), int64(branch)); err != nil {
		return storageErr("update head", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit advance", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorage, err))
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

var _ Backend = (*SQLite)(nil)
