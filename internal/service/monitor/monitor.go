package monitor

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// Projects confirms a project exists.
type Projects interface {
	Get(ctx context.Context, projectID string) (*domain.Project, error)
}

// Deployments lists deployments holding resources for a project.
type Deployments interface {
	Active(projectID string) []domain.Deployment
}

// Service produces synthetic runtime samples. Values are stable within a
// sampling window so repeated polls agree.
type Service struct {
	projects    Projects
	deployments Deployments
	window      time.Duration
	now         func() time.Time
}

// New constructs a monitor sampling in two second windows.
func New(projects Projects, deployments Deployments) Service {
	return Service{projects: projects, deployments: deployments, window: 2 * time.Second, now: time.Now}
}

// Sample returns the current metrics for a project.
func (s Service) Sample(ctx context.Context, projectID string) (domain.ProjectMetrics, error) {
	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return domain.ProjectMetrics{}, err
	}
	now := s.now().UTC()
	m := domain.ProjectMetrics{ProjectID: projectID, Status: "idle", SampledAt: now}

	active := s.deployments.Active(projectID)
	if len(active) == 0 {
		return m, nil
	}
	var since time.Time
	for _, d := range active {
		if d.CompletedAt != nil && (since.IsZero() || d.CompletedAt.Before(since)) {
			since = *d.CompletedAt
		}
	}

	h := fnv.New64a()
	h.Write([]byte(projectID))
	tick := uint64(now.UnixNano() / int64(s.window))
	rng := rand.New(rand.NewPCG(h.Sum64(), tick))

	replicas := float64(len(active))
	m.Status = "running"
	m.CPUPercent = round(5 + rng.Float64()*60)
	m.MemoryMB = round(replicas * (48 + rng.Float64()*80))
	m.TrafficKBps = round(replicas * rng.Float64() * 512)
	m.RequestsPerS = round(replicas * rng.Float64() * 120)
	m.ResponseMS = round(20 + rng.Float64()*180)
	if !since.IsZero() {
		m.UptimeSeconds = int64(now.Sub(since) / time.Second)
	}
	return m, nil
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
