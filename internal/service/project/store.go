package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/templates"
	"github.com/Sasha125a/sphere-dev-network/internal/workspace"
)

// Platform-owned files inside each project root.
const (
	MetadataFile = workspace.MetadataFile
	LedgerFile   = workspace.LedgerFile
)

const domainLifetime = 365 * 24 * time.Hour

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name        string
	Type        string
	Template    string
	Domain      string
	Description string
}

// Store owns project roots, metadata and domain registrations.
type Store struct {
	ws        *workspace.Manager
	catalog   *templates.Catalog
	tld       string
	logger    *slog.Logger
	now       func() time.Time
	writeFile func(path string, data []byte) error

	mu       sync.RWMutex
	projects map[string]*entry
	names    map[string]string
	domains  map[string]domain.DomainRecord
}

type entry struct {
	mu      sync.RWMutex
	project domain.Project
}

// New returns a project store rooted at ws.
func New(ws *workspace.Manager, catalog *templates.Catalog, tld string, logger *slog.Logger) *Store {
	tld = strings.Trim(strings.TrimSpace(tld), ".")
	if tld == "" {
		tld = "spheredev"
	}
	return &Store{
		ws:        ws,
		catalog:   catalog,
		tld:       tld,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		writeFile: workspace.WriteFileAtomic,
		projects:  make(map[string]*entry),
		names:     make(map[string]string),
		domains:   make(map[string]domain.DomainRecord),
	}
}

// NormalizeDomain appends the store TLD unless already present.
func (s *Store) NormalizeDomain(name string) string {
	name = strings.ToLower(strings.Trim(strings.TrimSpace(name), "."))
	if name == "" {
		return ""
	}
	if name == s.tld || strings.HasSuffix(name, "."+s.tld) {
		return name
	}
	return name + "." + s.tld
}

// Create allocates a project root, materializes template files and writes
// project metadata. A failure leaves no partial root behind.
func (s *Store) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domain.Invalid("project name is required")
	}
	if !workspace.ValidName(name) {
		return nil, domain.Invalid("project name must be 1-64 characters of letters, digits, '.', '_' or '-'")
	}
	projectType := domain.ProjectType(strings.ToLower(strings.TrimSpace(input.Type)))
	if projectType == "" {
		projectType = domain.ProjectTypeWebsite
	}
	if !projectType.Valid() {
		return nil, domain.Invalid("project type must be website, webapp, api or microservice")
	}
	fqdn := s.NormalizeDomain(input.Domain)

	now := s.now()
	project := domain.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        projectType,
		Domain:      fqdn,
		Description: strings.TrimSpace(input.Description),
		Status:      domain.ProjectStatusActive,
		CreatedAt:   now,
	}

	if err := s.reserve(name, fqdn, now); err != nil {
		return nil, err
	}

	dir, err := s.ws.Create(name)
	if err != nil {
		s.unreserve(name, fqdn)
		return nil, err
	}
	project.Path = dir

	if err := s.materialize(&project, input.Template); err != nil {
		if cleanupErr := s.ws.Cleanup(dir); cleanupErr != nil {
			s.logger.Error("failed to remove partial project root", "project_id", project.ID, "path", dir, "error", cleanupErr)
		}
		s.unreserve(name, fqdn)
		return nil, err
	}

	s.mu.Lock()
	s.projects[project.ID] = &entry{project: project}
	s.names[name] = project.ID
	if fqdn != "" {
		rec := s.domains[fqdn]
		rec.ProjectID = project.ID
		s.domains[fqdn] = rec
	}
	s.mu.Unlock()

	s.logger.Info("project created", "project_id", project.ID, "name", name, "template", project.Template, "domain", fqdn)
	return &project, nil
}

func (s *Store) reserve(name, fqdn string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.names[name]; taken {
		return fmt.Errorf("%w: %s", domain.ErrProjectExists, name)
	}
	if fqdn != "" {
		if _, taken := s.domains[fqdn]; taken {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateDomain, fqdn)
		}
		s.domains[fqdn] = domain.DomainRecord{Domain: fqdn, RegisteredAt: now, ExpiresAt: now.Add(domainLifetime)}
	}
	// Placeholder until the root exists.
	s.names[name] = ""
	return nil
}

func (s *Store) unreserve(name, fqdn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names[name] == "" {
		delete(s.names, name)
	}
	if fqdn != "" && s.domains[fqdn].ProjectID == "" {
		delete(s.domains, fqdn)
	}
}

func (s *Store) materialize(project *domain.Project, templateID string) error {
	tpl := s.catalog.Resolve(templateID, project.Type)
	project.Template = tpl.ID
	files, err := s.catalog.Render(tpl, templates.Data{Name: project.Name, Description: project.Description})
	if err != nil {
		return domain.StorageError("render template", err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		full, err := workspace.Resolve(project.Path, name)
		if err != nil {
			return domain.StorageError("resolve template file", err)
		}
		if err := s.writeFile(full, []byte(files[name])); err != nil {
			return domain.StorageError("write "+name, err)
		}
	}
	return s.persist(*project)
}

func (s *Store) persist(project domain.Project) error {
	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return domain.StorageError("encode project metadata", err)
	}
	if err := s.writeFile(filepath.Join(project.Path, MetadataFile), data); err != nil {
		return domain.StorageError("write "+MetadataFile, err)
	}
	return nil
}

func (s *Store) lookup(projectID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.projects[strings.TrimSpace(projectID)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	return e, nil
}

// Get returns the project record.
func (s *Store) Get(ctx context.Context, projectID string) (*domain.Project, error) {
	e, err := s.lookup(projectID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.project
	return &p, nil
}

// List returns all projects, oldest first.
func (s *Store) List(ctx context.Context) []domain.Project {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.projects))
	for _, e := range s.projects {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Project, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, e.project)
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Root returns the root directory of a project.
func (s *Store) Root(ctx context.Context, projectID string) (string, error) {
	e, err := s.lookup(projectID)
	if err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.project.Path, nil
}

// ReadFile returns the content of a file inside the project root.
func (s *Store) ReadFile(ctx context.Context, projectID, path string) (string, error) {
	e, err := s.lookup(projectID)
	if err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	full, err := workspace.Resolve(e.project.Path, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file %s: %w", path, domain.ErrNotFound)
		}
		return "", domain.StorageError("stat "+path, err)
	}
	if info.IsDir() {
		return "", domain.Invalid(path + " is a directory")
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", domain.StorageError("read "+path, err)
	}
	return string(data), nil
}

// WriteFile creates or overwrites a file inside the project root.
func (s *Store) WriteFile(ctx context.Context, projectID, path, content string) error {
	e, err := s.lookup(projectID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	full, err := workspace.Resolve(e.project.Path, path)
	if err != nil {
		return err
	}
	if workspace.Reserved(e.project.Path, full) {
		return domain.Invalid(path + " is managed by the platform")
	}
	if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
		return domain.Invalid(path + " is a directory")
	}
	if err := s.writeFile(full, []byte(content)); err != nil {
		return domain.StorageError("write "+path, err)
	}
	s.logger.Debug("file written", "project_id", projectID, "path", path, "bytes", len(content))
	return nil
}

// ListFiles returns the user files in a project, sorted by path.
func (s *Store) ListFiles(ctx context.Context, projectID string) ([]domain.File, error) {
	e, err := s.lookup(projectID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	root := e.project.Path
	e.mu.RUnlock()
	return workspace.ListFiles(root)
}

// SetStatus updates and persists the project status.
func (s *Store) SetStatus(ctx context.Context, projectID string, status domain.ProjectStatus) (*domain.Project, error) {
	return s.update(projectID, func(p *domain.Project) { p.Status = status })
}

// SetDescription updates and persists the project description.
func (s *Store) SetDescription(ctx context.Context, projectID, description string) (*domain.Project, error) {
	return s.update(projectID, func(p *domain.Project) { p.Description = strings.TrimSpace(description) })
}

func (s *Store) update(projectID string, mutate func(*domain.Project)) (*domain.Project, error) {
	e, err := s.lookup(projectID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.project
	mutate(&next)
	if err := s.persist(next); err != nil {
		return nil, err
	}
	e.project = next
	p := next
	return &p, nil
}

// Remove deletes a project root and releases its name and domain.
func (s *Store) Remove(ctx context.Context, projectID string) error {
	e, err := s.lookup(projectID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.ws.Cleanup(e.project.Path); err != nil {
		return domain.StorageError("remove project root", err)
	}
	s.mu.Lock()
	delete(s.projects, e.project.ID)
	delete(s.names, e.project.Name)
	if e.project.Domain != "" {
		delete(s.domains, e.project.Domain)
	}
	s.mu.Unlock()
	s.logger.Info("project removed", "project_id", e.project.ID, "name", e.project.Name)
	return nil
}

// ResolveDomain looks up a registered domain.
func (s *Store) ResolveDomain(ctx context.Context, name string) (*domain.DomainRecord, error) {
	fqdn := s.NormalizeDomain(name)
	s.mu.RLock()
	rec, ok := s.domains[fqdn]
	s.mu.RUnlock()
	if !ok || rec.ProjectID == "" {
		return nil, fmt.Errorf("domain %s: %w", fqdn, domain.ErrNotFound)
	}
	return &rec, nil
}

// Domains lists registered domains sorted by name.
func (s *Store) Domains(ctx context.Context) []domain.DomainRecord {
	s.mu.RLock()
	out := make([]domain.DomainRecord, 0, len(s.domains))
	for _, rec := range s.domains {
		if rec.ProjectID != "" {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Restore rebuilds the index from project.json files under the root.
// Unreadable entries are logged and skipped.
func (s *Store) Restore(ctx context.Context) (int, error) {
	names, err := s.ws.Entries()
	if err != nil {
		return 0, domain.StorageError("restore projects", err)
	}
	restored := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		dir := filepath.Join(s.ws.Root(), name)
		data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
		if err != nil {
			s.logger.Warn("skipping directory without metadata", "path", dir, "error", err)
			continue
		}
		var p domain.Project
		if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
			s.logger.Warn("skipping unreadable project metadata", "path", dir, "error", err)
			continue
		}
		p.Path = dir
		p.Name = name

		s.mu.Lock()
		_, dupID := s.projects[p.ID]
		_, dupDomain := s.domains[p.Domain]
		if dupID || (p.Domain != "" && dupDomain) {
			s.mu.Unlock()
			s.logger.Warn("skipping conflicting project", "project_id", p.ID, "domain", p.Domain)
			continue
		}
		s.projects[p.ID] = &entry{project: p}
		s.names[name] = p.ID
		if p.Domain != "" {
			s.domains[p.Domain] = domain.DomainRecord{
				Domain:       p.Domain,
				ProjectID:    p.ID,
				RegisteredAt: p.CreatedAt,
				ExpiresAt:    p.CreatedAt.Add(domainLifetime),
			}
		}
		s.mu.Unlock()
		restored++
	}
	if restored > 0 {
		s.logger.Info("projects restored", "count", restored)
	}
	return restored, nil
}
