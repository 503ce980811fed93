package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/workspace"
)

// Roots resolves a project id to its root directory.
type Roots interface {
	Root(ctx context.Context, projectID string) (string, error)
}

// Ledger keeps an append-only commit history per project, persisted to
// .gitinfo.json in the project root.
type Ledger struct {
	roots     Roots
	logger    *slog.Logger
	now       func() time.Time
	writeFile func(path string, data []byte) error

	mu    sync.Mutex
	books map[string]*book
}

type book struct {
	mu   sync.Mutex
	path string
	info domain.GitInfo
	ids  map[string]struct{}
}

// New returns a ledger resolving project roots through roots.
func New(roots Roots, logger *slog.Logger) *Ledger {
	return &Ledger{
		roots:     roots,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		writeFile: workspace.WriteFileAtomic,
		books:     make(map[string]*book),
	}
}

// Init creates an empty ledger for the project. An existing ledger is
// loaded and left untouched.
func (l *Ledger) Init(ctx context.Context, projectID string) error {
	root, err := l.roots.Root(ctx, projectID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.books[projectID]; ok {
		return nil
	}

	path := filepath.Join(root, workspace.LedgerFile)
	b, err := loadBook(path)
	if err == nil {
		l.books[projectID] = b
		l.logger.Debug("ledger loaded", "project_id", projectID, "commits", len(b.info.Commits))
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	b = &book{
		path: path,
		info: domain.GitInfo{Initialized: true, Commits: []domain.Commit{}, Branches: []string{domain.DefaultBranch}},
		ids:  make(map[string]struct{}),
	}
	if err := l.persist(b); err != nil {
		return err
	}
	l.books[projectID] = b
	l.logger.Info("ledger initialized", "project_id", projectID)
	return nil
}

// Forget drops the in-memory ledger for a project whose root is gone.
func (l *Ledger) Forget(projectID string) {
	l.mu.Lock()
	delete(l.books, projectID)
	l.mu.Unlock()
}

func loadBook(path string) (*book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, domain.StorageError("read ledger", err)
	}
	var info domain.GitInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, domain.StorageError("decode ledger", err)
	}
	if info.Commits == nil {
		info.Commits = []domain.Commit{}
	}
	if len(info.Branches) == 0 {
		info.Branches = []string{domain.DefaultBranch}
	}
	info.Initialized = true
	ids := make(map[string]struct{}, len(info.Commits))
	for _, c := range info.Commits {
		ids[c.ID] = struct{}{}
	}
	return &book{path: path, info: info, ids: ids}, nil
}

// book returns the ledger for a project, loading it from disk when the
// process has not seen it yet.
func (l *Ledger) book(ctx context.Context, projectID string) (*book, error) {
	l.mu.Lock()
	b, ok := l.books[projectID]
	l.mu.Unlock()
	if ok {
		return b, nil
	}

	root, err := l.roots.Root(ctx, projectID)
	if err != nil {
		return nil, err
	}
	loaded, err := loadBook(filepath.Join(root, workspace.LedgerFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ledger for project %s: %w", projectID, domain.ErrNotFound)
		}
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[projectID]; ok {
		return b, nil
	}
	l.books[projectID] = loaded
	return loaded, nil
}

func (l *Ledger) persist(b *book) error {
	data, err := json.MarshalIndent(b.info, "", "  ")
	if err != nil {
		return domain.StorageError("encode ledger", err)
	}
	if err := l.writeFile(b.path, data); err != nil {
		return domain.StorageError("write ledger", err)
	}
	return nil
}

// Commit appends a commit snapshotting the current project files.
func (l *Ledger) Commit(ctx context.Context, projectID, message, author string) (*domain.Commit, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.Invalid("commit message is required")
	}
	author = strings.TrimSpace(author)
	if author == "" {
		author = domain.DefaultAuthor
	}

	b, err := l.book(ctx, projectID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	root := filepath.Dir(b.path)
	files, err := workspace.ListFiles(root)
	if err != nil {
		return nil, err
	}
	tree, err := treeHash(root, files)
	if err != nil {
		return nil, domain.StorageError("hash tree", err)
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	parent := ""
	if n := len(b.info.Commits); n > 0 {
		parent = b.info.Commits[n-1].ID
	}
	now := l.now()
	id := commitID(projectID, parent, len(b.info.Commits), message, author, tree, uuid.NewString(), now)
	for {
		if _, dup := b.ids[id]; !dup {
			break
		}
		id = commitID(projectID, parent, len(b.info.Commits), message, author, tree, uuid.NewString(), now)
	}

	commit := domain.Commit{
		ID:        id,
		ProjectID: projectID,
		Message:   message,
		Author:    author,
		Timestamp: now,
		TreeHash:  tree,
		Files:     paths,
	}
	b.info.Commits = append(b.info.Commits, commit)
	if err := l.persist(b); err != nil {
		b.info.Commits = b.info.Commits[:len(b.info.Commits)-1]
		return nil, err
	}
	b.ids[id] = struct{}{}

	l.logger.Info("commit recorded", "project_id", projectID, "commit_id", id, "files", len(paths))
	return &commit, nil
}

// WorkingTreeHash hashes the project files as they are now, for comparison
// with the TreeHash of the latest commit.
func (l *Ledger) WorkingTreeHash(ctx context.Context, projectID string) (string, error) {
	b, err := l.book(ctx, projectID)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	root := filepath.Dir(b.path)
	files, err := workspace.ListFiles(root)
	if err != nil {
		return "", err
	}
	tree, err := treeHash(root, files)
	if err != nil {
		return "", domain.StorageError("hash tree", err)
	}
	return tree, nil
}

// History returns commits oldest first.
func (l *Ledger) History(ctx context.Context, projectID string) ([]domain.Commit, error) {
	b, err := l.book(ctx, projectID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Commit, len(b.info.Commits))
	copy(out, b.info.Commits)
	return out, nil
}

// Branches returns the branch names tracked by the ledger.
func (l *Ledger) Branches(ctx context.Context, projectID string) ([]string, error) {
	b, err := l.book(ctx, projectID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.info.Branches...), nil
}
