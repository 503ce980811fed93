package lifecycle

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/service/deploy"
	"github.com/Sasha125a/sphere-dev-network/internal/service/project"
)

// Ledgers is the part of the version ledger provisioning drives.
type Ledgers interface {
	Init(ctx context.Context, projectID string) error
	Forget(projectID string)
}

// Databases is the part of the data registry provisioning drives.
type Databases interface {
	Provision(ctx context.Context, dbID string, kind domain.DatabaseKind) (*domain.DatabaseStats, error)
	Stats(ctx context.Context, dbID string) (*domain.DatabaseStats, error)
}

// Service sequences project provisioning across the stores and keeps the
// project status in step with its deployments.
type Service struct {
	projects  *project.Store
	ledger    Ledgers
	registry  Databases
	allocator *deploy.Allocator
	logger    *slog.Logger
}

// New constructs a lifecycle service.
func New(projects *project.Store, l Ledgers, reg Databases, allocator *deploy.Allocator, logger *slog.Logger) Service {
	return Service{projects: projects, ledger: l, registry: reg, allocator: allocator, logger: logger}
}

// CreateProject creates the project root, its ledger and its database.
// A failing step undoes the ones before it.
func (s Service) CreateProject(ctx context.Context, input project.CreateInput, kind domain.DatabaseKind) (*domain.Project, error) {
	if kind != "" && !kind.Valid() {
		return nil, domain.Invalid("database kind must be relational or document")
	}
	p, err := s.projects.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Init(ctx, p.ID); err != nil {
		s.undo(p.ID, "ledger init", err)
		return nil, err
	}
	if _, err := s.registry.Provision(ctx, p.ID, kind); err != nil {
		s.ledger.Forget(p.ID)
		s.undo(p.ID, "database provision", err)
		return nil, err
	}
	return p, nil
}

func (s Service) undo(projectID, step string, cause error) {
	s.logger.Warn("rolling back project creation", "project_id", projectID, "step", step, "error", cause)
	if err := s.projects.Remove(context.Background(), projectID); err != nil {
		s.logger.Error("rollback failed", "project_id", projectID, "error", err)
	}
}

// Restore reloads projects from disk and re-provisions their databases.
func (s Service) Restore(ctx context.Context) (int, error) {
	n, err := s.projects.Restore(ctx)
	if err != nil {
		return n, err
	}
	if _, err := s.allocator.Reconcile(ctx); err != nil {
		s.logger.Warn("deployment history reconcile failed", "error", err)
	}
	for _, p := range s.projects.List(ctx) {
		if err := s.ledger.Init(ctx, p.ID); err != nil {
			s.logger.Warn("ledger restore failed", "project_id", p.ID, "error", err)
		}
		if _, err := s.registry.Stats(ctx, p.ID); errors.Is(err, domain.ErrNotFound) {
			if _, err := s.registry.Provision(ctx, p.ID, domain.DatabaseKindRelational); err != nil {
				s.logger.Warn("database restore failed", "project_id", p.ID, "error", err)
			}
		}
		// Deployments do not survive a restart.
		if p.Status == domain.ProjectStatusDeployed {
			if _, err := s.projects.SetStatus(ctx, p.ID, domain.ProjectStatusActive); err != nil {
				s.logger.Warn("status reset failed", "project_id", p.ID, "error", err)
			}
		}
	}
	return n, nil
}

// Deploy runs a deployment for an existing project and records the
// outcome on the project.
func (s Service) Deploy(ctx context.Context, projectID, server string) (*domain.Deployment, error) {
	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return nil, err
	}
	dep, err := s.allocator.Deploy(ctx, projectID, server)
	if err != nil {
		var depErr *domain.DeploymentError
		if errors.As(err, &depErr) && len(s.allocator.Active(projectID)) == 0 {
			s.setStatus(projectID, domain.ProjectStatusError)
		}
		return nil, err
	}
	s.setStatus(projectID, domain.ProjectStatusDeployed)
	return dep, nil
}

// Release tears a deployment down and marks the project active again once
// nothing remains deployed.
func (s Service) Release(ctx context.Context, projectID, server string) (*domain.Deployment, error) {
	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return nil, err
	}
	dep, err := s.allocator.Release(ctx, projectID, server)
	if err != nil {
		return nil, err
	}
	if len(s.allocator.Active(projectID)) == 0 {
		s.setStatus(projectID, domain.ProjectStatusActive)
	}
	return dep, nil
}

func (s Service) setStatus(projectID string, status domain.ProjectStatus) {
	if _, err := s.projects.SetStatus(context.Background(), projectID, status); err != nil {
		s.logger.Warn("project status update failed", "project_id", projectID, "status", status, "error", err)
	}
}
