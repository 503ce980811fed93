package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// Platform-owned files inside each project root.
const (
	MetadataFile = "project.json"
	LedgerFile   = ".gitinfo.json"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Manager owns project directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// ValidName reports whether name is usable as a single directory segment.
func ValidName(name string) bool {
	return nameRe.MatchString(name) && name != "." && name != ".."
}

// Create makes a fresh directory for name. It fails with
// domain.ErrProjectExists when the directory is already present.
func (m *Manager) Create(name string) (string, error) {
	if !ValidName(name) {
		return "", domain.Invalid("project name must be 1-64 characters of letters, digits, '.', '_' or '-'")
	}
	dir := filepath.Join(m.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrProjectExists, name)
		}
		return "", domain.StorageError("create project root", err)
	}
	return dir, nil
}

// Resolve joins rel onto dir and verifies the result stays inside dir.
func Resolve(dir, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", domain.Invalid("path is required")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", fmt.Errorf("%w: %s", domain.ErrPathViolation, rel)
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	full := filepath.Join(dir, cleaned)
	back, err := filepath.Rel(dir, full)
	if err != nil || back == "." || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", domain.ErrPathViolation, rel)
	}
	return full, nil
}

// Cleanup removes a directory created by this manager.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Only remove directories within the configured root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// Entries lists the directory names directly under the root.
func (m *Manager) Entries() ([]string, error) {
	items, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("read workspace root: %w", err)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() {
			names = append(names, item.Name())
		}
	}
	return names, nil
}

// WriteFileAtomic writes data to a temp file beside path and renames it
// into place, creating parent directories as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Reserved reports whether full names a platform-owned file of root.
func Reserved(root, full string) bool {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return false
	}
	return rel == MetadataFile || rel == LedgerFile
}

// ListFiles lists regular files under root sorted by path, skipping
// platform files and temp files left by interrupted writes.
func ListFiles(root string) ([]domain.File, error) {
	files := make([]domain.File, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if Reserved(root, path) || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, domain.File{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, domain.StorageError("list files", err)
	}
	return files, nil
}
