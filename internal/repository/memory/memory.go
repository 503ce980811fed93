package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/repository"
)

// Repository keeps deployment history and logs in process memory.
type Repository struct {
	mu          sync.RWMutex
	deployments map[string]domain.Deployment
	order       []string
	logs        map[string][]domain.ProjectLog
	nextLogID   int64
	logLimit    int
}

var (
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.LogRepository        = (*Repository)(nil)
)

// New returns an empty Repository. logLimit caps retained log lines per
// project; zero keeps everything.
func New(logLimit int) *Repository {
	return &Repository{
		deployments: make(map[string]domain.Deployment),
		logs:        make(map[string][]domain.ProjectLog),
		logLimit:    logLimit,
	}
}

// SaveDeployment inserts or replaces a deployment by id.
func (r *Repository) SaveDeployment(ctx context.Context, deployment domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deployments[deployment.ID]; !ok {
		r.order = append(r.order, deployment.ID)
	}
	r.deployments[deployment.ID] = deployment
	return nil
}

// GetDeploymentByID returns a deployment or repository.ErrNotFound.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deployments[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

// ListDeploymentsByProject returns newest-first deployments for a project.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Deployment, 0)
	for i := len(r.order) - 1; i >= 0; i-- {
		d := r.deployments[r.order[i]]
		if d.ProjectID != projectID {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CloseActiveDeployments closes active deployments not listed in keep.
func (r *Repository) CloseActiveDeployments(ctx context.Context, at time.Time, keep []string) (int, error) {
	held := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		held[id] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := 0
	for id, d := range r.deployments {
		if _, ok := held[id]; ok || !d.Active() {
			continue
		}
		r.deployments[id] = d.Close(at)
		closed++
	}
	return closed, nil
}

// AppendLog stores a log line, assigning a monotonically increasing id.
func (r *Repository) AppendLog(ctx context.Context, log domain.ProjectLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextLogID++
	log.ID = r.nextLogID
	entries := append(r.logs[log.ProjectID], log)
	if r.logLimit > 0 && len(entries) > r.logLimit {
		entries = append([]domain.ProjectLog(nil), entries[len(entries)-r.logLimit:]...)
	}
	r.logs[log.ProjectID] = entries
	return nil
}

// ListLogsByProject returns newest-first log lines.
func (r *Repository) ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error) {
	r.mu.RLock()
	entries := append([]domain.ProjectLog(nil), r.logs[projectID]...)
	r.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	if offset > 0 {
		if offset >= len(entries) {
			return []domain.ProjectLog{}, nil
		}
		entries = entries[offset:]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
