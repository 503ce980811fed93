package repository

import (
	"context"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	SaveDeployment(ctx context.Context, deployment domain.Deployment) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	// CloseActiveDeployments closes every pending or deployed record whose
	// id is not in keep and returns how many changed.
	CloseActiveDeployments(ctx context.Context, at time.Time, keep []string) (int, error)
}

// LogRepository handles log persistence and retrieval.
type LogRepository interface {
	AppendLog(ctx context.Context, log domain.ProjectLog) error
	ListLogsByProject(ctx context.Context, projectID string, limit, offset int) ([]domain.ProjectLog, error)
}
