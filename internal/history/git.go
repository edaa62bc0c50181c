package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

const snapshotFile = "snapshot.json"

var mainBranch = plumbing.NewBranchReferenceName("main")

// GitLog keeps one git repository per page under baseDir. Every snapshot is
// one commit on main replacing snapshot.json.
type GitLog struct {
	baseDir string
	reg     *schema.Registry
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitLog(baseDir string, reg *schema.Registry) *GitLog {
	return &GitLog{
		baseDir: baseDir,
		reg:     reg,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (g *GitLog) Append(ctx context.Context, pageID string, doc doctree.Document, authorID string, at time.Time) (Snapshot, error) {
	if err := checkPageID(pageID); err != nil {
		return Snapshot{}, err
	}
	lock := g.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, fresh, err := g.openOrInit(pageID)
	if err != nil {
		return Snapshot{}, err
	}

	version := 1
	if !fresh {
		head, err := headCommit(repo)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Snapshot{}, err
		}
		if head != nil {
			info, err := commitInfo(pageID, head)
			if err != nil {
				return Snapshot{}, err
			}
			version = info.Version + 1
		}
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{PageID: pageID, Version: version, AuthorID: authorID, CreatedAt: at.UTC(), Doc: doc}
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return Snapshot{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), payload, 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Snapshot{}, fmt.Errorf("git add snapshot: %w", err)
	}
	name := authorID
	if name == "" {
		name = "unknown"
	}
	hash, err := worktree.Commit(commitMessage(version, authorID), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  name,
			Email: fmt.Sprintf("%s@users.folio.local", sanitizeEmail(authorID)),
			When:  snap.CreatedAt,
		},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(mainBranch, hash)); err != nil {
			return Snapshot{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, mainBranch)); err != nil {
			return Snapshot{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}
	snap.Ref = shortHash(hash)
	return snap, nil
}

func (g *GitLog) Latest(ctx context.Context, pageID string) (Snapshot, error) {
	if err := checkPageID(pageID); err != nil {
		return Snapshot{}, err
	}
	lock := g.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := g.open(pageID)
	if err != nil {
		return Snapshot{}, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return Snapshot{}, err
	}
	return g.readSnapshot(head)
}

func (g *GitLog) Get(ctx context.Context, pageID string, version int) (Snapshot, error) {
	if err := checkPageID(pageID); err != nil {
		return Snapshot{}, err
	}
	lock := g.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := g.open(pageID)
	if err != nil {
		return Snapshot{}, err
	}
	var match *object.Commit
	err = g.walk(repo, func(c *object.Commit) error {
		info, err := commitInfo(pageID, c)
		if err != nil {
			return err
		}
		if info.Version == version {
			match = c
			return io.EOF
		}
		if info.Version < version {
			return io.EOF
		}
		return ctx.Err()
	})
	if err != nil {
		return Snapshot{}, err
	}
	if match == nil {
		return Snapshot{}, fmt.Errorf("%w: page %s version %d", ErrNotFound, pageID, version)
	}
	return g.readSnapshot(match)
}

func (g *GitLog) List(ctx context.Context, pageID string, limit int) ([]SnapshotInfo, error) {
	if err := checkPageID(pageID); err != nil {
		return nil, err
	}
	lock := g.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := g.open(pageID)
	if errors.Is(err, ErrNotFound) {
		return []SnapshotInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	items := make([]SnapshotInfo, 0)
	err = g.walk(repo, func(c *object.Commit) error {
		info, err := commitInfo(pageID, c)
		if err != nil {
			return err
		}
		items = append(items, info)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (g *GitLog) walk(repo *git.Repository, fn func(*object.Commit) error) error {
	head, err := headCommit(repo)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()
	if err := iter.ForEach(fn); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("iterate log: %w", err)
	}
	return nil
}

func (g *GitLog) readSnapshot(c *object.Commit) (Snapshot, error) {
	file, err := c.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	snap, err := decodeSnapshot(g.reg, data)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Ref = shortHash(c.Hash)
	return snap, nil
}

func (g *GitLog) open(pageID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(g.repoPath(pageID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: page %s", ErrNotFound, pageID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (g *GitLog) openOrInit(pageID string) (*git.Repository, bool, error) {
	path := g.repoPath(pageID)
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, false, fmt.Errorf("open repo: %w", err)
		}
		return repo, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (g *GitLog) repoPath(pageID string) string {
	return filepath.Join(g.baseDir, pageID)
}

func (g *GitLog) pageLock(pageID string) *sync.Mutex {
	g.lockMu.Lock()
	defer g.lockMu.Unlock()
	lock, ok := g.locks[pageID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	g.locks[pageID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	c, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return c, nil
}

func commitMessage(version int, authorID string) string {
	return fmt.Sprintf("snapshot %d\n\nauthor: %s\n", version, authorID)
}

func commitInfo(pageID string, c *object.Commit) (SnapshotInfo, error) {
	var version int
	if _, err := fmt.Sscanf(c.Message, "snapshot %d", &version); err != nil {
		return SnapshotInfo{}, fmt.Errorf("parse commit %s message: %w", shortHash(c.Hash), err)
	}
	return SnapshotInfo{
		PageID:    pageID,
		Version:   version,
		AuthorID:  c.Author.Name,
		CreatedAt: c.Author.When.UTC(),
		Ref:       shortHash(c.Hash),
	}, nil
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
