package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/repository"
	"github.com/Sasha125a/sphere-dev-network/pkg/config"
)

// DefaultServer is used when a deploy request names no server.
const DefaultServer = "development"

// LogSink receives pipeline stage logs.
type LogSink interface {
	Append(ctx context.Context, entry domain.ProjectLog) error
}

// Options tunes the allocator.
type Options struct {
	StageDelay time.Duration
	Timeout    time.Duration
	Registerer prometheus.Registerer
}

// Allocator admits deployments onto a fixed pool of servers. Every change
// to a server's reservations happens under that server's lock; the
// pipeline itself runs unlocked against a tentative reservation.
type Allocator struct {
	servers    map[string]*server
	order      []string
	quantum    domain.Resources
	stageDelay time.Duration
	timeout    time.Duration
	history    repository.DeploymentRepository
	logs       LogSink
	logger     *slog.Logger
	metrics    *metrics
	now        func() time.Time
	stageHook  func(ctx context.Context, stage string, d domain.Deployment) error

	mu     sync.RWMutex
	latest map[string]domain.Deployment
}

type server struct {
	mu        sync.Mutex
	key       string
	name      string
	host      string
	capacity  int
	budget    domain.Resources
	available domain.Resources
	deployed  map[string]domain.Deployment
	pending   map[string]string
}

// New builds an allocator over pool. logs may be nil.
func New(pool config.ServerPool, history repository.DeploymentRepository, logs LogSink, logger *slog.Logger, opts Options) (*Allocator, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	if history == nil {
		return nil, errors.New("deployment history repository is required")
	}
	q := pool.EffectiveQuantum()
	a := &Allocator{
		servers:    make(map[string]*server, len(pool.Servers)),
		quantum:    domain.Resources{CPU: q.CPU, Memory: q.Memory, Storage: q.Storage},
		stageDelay: opts.StageDelay,
		timeout:    opts.Timeout,
		history:    history,
		logs:       logs,
		logger:     logger,
		metrics:    newMetrics(opts.Registerer),
		now:        func() time.Time { return time.Now().UTC() },
		latest:     make(map[string]domain.Deployment),
	}
	if a.timeout <= 0 {
		a.timeout = 60 * time.Second
	}
	for _, spec := range pool.Servers {
		key := strings.TrimSpace(spec.Key)
		budget := domain.Resources{CPU: spec.Resources.CPU, Memory: spec.Resources.Memory, Storage: spec.Resources.Storage}
		a.servers[key] = &server{
			key:       key,
			name:      spec.Name,
			host:      spec.Host,
			capacity:  spec.Capacity,
			budget:    budget,
			available: budget,
			deployed:  make(map[string]domain.Deployment),
			pending:   make(map[string]string),
		}
		a.order = append(a.order, key)
	}
	for _, key := range a.order {
		a.metrics.observeServer(a.servers[key].snapshot())
	}
	return a, nil
}

// Quantum returns the per-deployment reservation.
func (a *Allocator) Quantum() domain.Resources {
	return a.quantum
}

func (a *Allocator) server(key string) (*server, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultServer
	}
	s, ok := a.servers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownServer, key)
	}
	return s, nil
}

// Deploy admits projectID onto the named server, runs the pipeline and
// commits or rolls back the reservation.
func (a *Allocator) Deploy(ctx context.Context, projectID, serverKey string) (*domain.Deployment, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.Invalid("project id is required")
	}
	srv, err := a.server(serverKey)
	if err != nil {
		return nil, err
	}

	dep := domain.Deployment{
		ID:        "dep_" + uuid.NewString(),
		ProjectID: projectID,
		Server:    srv.key,
		URL:       projectID + "." + srv.host,
		Status:    domain.DeploymentStatusPending,
		Resources: a.quantum,
		CreatedAt: a.now(),
	}

	if err := a.reserve(srv, dep); err != nil {
		a.metrics.recordOutcome(srv.key, domain.Code(err))
		a.logger.Info("deployment rejected", "project_id", projectID, "server", srv.key, "error", err)
		return nil, err
	}
	a.logger.Info("deployment admitted", "deployment_id", dep.ID, "project_id", projectID, "server", srv.key)

	// Bookkeeping must survive the caller going away mid-pipeline.
	bg := context.WithoutCancel(ctx)
	a.record(bg, dep)

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	stage, pipeErr := a.runPipeline(runCtx, dep)
	cancel()

	finished := a.now()
	dep.CompletedAt = &finished
	dep.Stage = stage
	if pipeErr != nil {
		a.rollback(srv, dep)
		dep.Status = domain.DeploymentStatusFailed
		dep.Error = pipeErr.Error()
		a.record(bg, dep)
		a.metrics.recordOutcome(srv.key, domain.CodeDeploymentFailed)
		a.emit(bg, dep, "error", fmt.Sprintf("Deployment failed at %s: %v", stage, pipeErr))
		a.logger.Warn("deployment failed", "deployment_id", dep.ID, "project_id", projectID, "server", srv.key, "stage", stage, "error", pipeErr)
		return nil, &domain.DeploymentError{DeploymentID: dep.ID, Stage: stage, Err: pipeErr}
	}

	dep.Status = domain.DeploymentStatusDeployed
	a.commit(srv, dep)
	a.record(bg, dep)
	a.metrics.recordOutcome(srv.key, "deployed")
	a.emit(bg, dep, "info", "Deployment successful: "+dep.URL)
	a.logger.Info("deployment completed", "deployment_id", dep.ID, "project_id", projectID, "server", srv.key, "url", dep.URL)
	out := dep
	return &out, nil
}

// reserve performs the admission check and takes a tentative reservation
// in one critical section. Nothing is mutated on rejection.
func (a *Allocator) reserve(srv *server, dep domain.Deployment) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if _, ok := srv.deployed[dep.ProjectID]; ok {
		return fmt.Errorf("%w: %s on %s", domain.ErrAlreadyDeployed, dep.ProjectID, srv.key)
	}
	for _, pid := range srv.pending {
		if pid == dep.ProjectID {
			return fmt.Errorf("%w: %s on %s", domain.ErrAlreadyDeployed, dep.ProjectID, srv.key)
		}
	}
	if len(srv.deployed)+len(srv.pending) >= srv.capacity {
		return fmt.Errorf("%w: %s", domain.ErrCapacityExceeded, srv.key)
	}
	if !srv.available.Covers(a.quantum) {
		return fmt.Errorf("%w: %s", domain.ErrInsufficientResources, srv.key)
	}
	srv.available = srv.available.Sub(a.quantum)
	srv.pending[dep.ID] = dep.ProjectID
	a.metrics.observeServer(srv.snapshotLocked())
	return nil
}

func (a *Allocator) commit(srv *server, dep domain.Deployment) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.pending, dep.ID)
	srv.deployed[dep.ProjectID] = dep
	a.metrics.observeServer(srv.snapshotLocked())
}

func (a *Allocator) rollback(srv *server, dep domain.Deployment) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, ok := srv.pending[dep.ID]; !ok {
		return
	}
	delete(srv.pending, dep.ID)
	srv.available = srv.available.Add(dep.Resources)
	a.metrics.observeServer(srv.snapshotLocked())
}

// Release returns a deployed project's reservation to its server. An
// empty serverKey releases the project from the first server holding it.
func (a *Allocator) Release(ctx context.Context, projectID, serverKey string) (*domain.Deployment, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.Invalid("project id is required")
	}
	candidates := a.order
	if strings.TrimSpace(serverKey) != "" {
		srv, err := a.server(serverKey)
		if err != nil {
			return nil, err
		}
		candidates = []string{srv.key}
	}

	for _, key := range candidates {
		srv := a.servers[key]
		srv.mu.Lock()
		dep, ok := srv.deployed[projectID]
		if ok {
			delete(srv.deployed, projectID)
			srv.available = srv.available.Add(dep.Resources)
			a.metrics.observeServer(srv.snapshotLocked())
		}
		srv.mu.Unlock()
		if !ok {
			continue
		}

		released := a.now()
		dep.Status = domain.DeploymentStatusReleased
		dep.ReleasedAt = &released
		a.record(ctx, dep)
		a.metrics.recordOutcome(srv.key, "released")
		a.emit(ctx, dep, "info", "Deployment released from "+srv.name)
		a.logger.Info("deployment released", "deployment_id", dep.ID, "project_id", projectID, "server", srv.key)
		return &dep, nil
	}
	return nil, fmt.Errorf("active deployment for project %s: %w", projectID, domain.ErrNotFound)
}

// Reconcile closes history records left active by a previous process: no
// server in this pool holds them, so they can never be released. Records
// for deployments this allocator holds are kept.
func (a *Allocator) Reconcile(ctx context.Context) (int, error) {
	keep := make([]string, 0)
	for _, key := range a.order {
		srv := a.servers[key]
		srv.mu.Lock()
		for id := range srv.pending {
			keep = append(keep, id)
		}
		for _, dep := range srv.deployed {
			keep = append(keep, dep.ID)
		}
		srv.mu.Unlock()
	}
	closed, err := a.history.CloseActiveDeployments(ctx, a.now(), keep)
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		a.logger.Info("stale deployments closed", "count", closed)
	}
	return closed, nil
}

// Status returns the most recent deployment of a project.
func (a *Allocator) Status(ctx context.Context, projectID string) (*domain.Deployment, error) {
	a.mu.RLock()
	dep, ok := a.latest[projectID]
	a.mu.RUnlock()
	if ok {
		return &dep, nil
	}
	recent, err := a.history.ListDeploymentsByProject(ctx, projectID, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, fmt.Errorf("deployment for project %s: %w", projectID, domain.ErrNotFound)
	}
	return &recent[0], nil
}

// History returns recent deployments of a project, newest first.
func (a *Allocator) History(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	return a.history.ListDeploymentsByProject(ctx, projectID, limit)
}

// Active lists the deployments currently holding resources for projectID.
func (a *Allocator) Active(projectID string) []domain.Deployment {
	out := make([]domain.Deployment, 0)
	for _, key := range a.order {
		srv := a.servers[key]
		srv.mu.Lock()
		if dep, ok := srv.deployed[projectID]; ok {
			out = append(out, dep)
		}
		srv.mu.Unlock()
	}
	return out
}

// Servers returns a snapshot of every server in pool order.
func (a *Allocator) Servers() []domain.Server {
	out := make([]domain.Server, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.servers[key].snapshot())
	}
	return out
}

// Server returns a snapshot of one server.
func (a *Allocator) Server(key string) (domain.Server, error) {
	srv, err := a.server(key)
	if err != nil {
		return domain.Server{}, err
	}
	return srv.snapshot(), nil
}

func (a *Allocator) record(ctx context.Context, dep domain.Deployment) {
	a.mu.Lock()
	current, ok := a.latest[dep.ProjectID]
	if !ok || current.ID == dep.ID || !dep.CreatedAt.Before(current.CreatedAt) {
		a.latest[dep.ProjectID] = dep
	}
	a.mu.Unlock()

	if err := a.history.SaveDeployment(ctx, dep); err != nil {
		a.logger.Warn("save deployment failed", "deployment_id", dep.ID, "error", err)
	}
}

func (s *server) snapshot() domain.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *server) snapshotLocked() domain.Server {
	projects := make([]string, 0, len(s.deployed))
	for pid := range s.deployed {
		projects = append(projects, pid)
	}
	sort.Strings(projects)
	return domain.Server{
		Key:              s.key,
		Name:             s.name,
		Host:             s.host,
		Capacity:         s.capacity,
		Budget:           s.budget,
		Available:        s.available,
		DeployedProjects: projects,
		Pending:          len(s.pending),
	}
}
