package domain

import "time"

// DeploymentStatus enumerates deployment states.
type DeploymentStatus string

const (
	DeploymentStatusPending  DeploymentStatus = "pending"
	DeploymentStatusDeployed DeploymentStatus = "deployed"
	DeploymentStatusFailed   DeploymentStatus = "failed"
	DeploymentStatusReleased DeploymentStatus = "released"
)

// InterruptedError is recorded on pending deployments that were cut off by
// a process restart.
const InterruptedError = "interrupted by restart"

// Deployment binds one project to one server.
type Deployment struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"projectId"`
	Server      string           `json:"server"`
	URL         string           `json:"url"`
	Status      DeploymentStatus `json:"status"`
	Stage       string           `json:"stage"`
	Error       string           `json:"error,omitempty"`
	Resources   Resources        `json:"resources"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	ReleasedAt  *time.Time       `json:"releasedAt,omitempty"`
}

// Active reports whether the deployment currently holds a reservation.
func (d Deployment) Active() bool {
	return d.Status == DeploymentStatusPending || d.Status == DeploymentStatusDeployed
}

// Close ends an active deployment that no server holds any more: a pending
// one failed, a deployed one is released.
func (d Deployment) Close(at time.Time) Deployment {
	switch d.Status {
	case DeploymentStatusPending:
		d.Status = DeploymentStatusFailed
		d.Error = InterruptedError
		d.CompletedAt = &at
	case DeploymentStatusDeployed:
		d.Status = DeploymentStatusReleased
		d.ReleasedAt = &at
	}
	return d
}
