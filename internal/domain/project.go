package domain

import "time"

// ProjectType enumerates supported project kinds.
type ProjectType string

const (
	ProjectTypeWebsite      ProjectType = "website"
	ProjectTypeWebapp       ProjectType = "webapp"
	ProjectTypeAPI          ProjectType = "api"
	ProjectTypeMicroservice ProjectType = "microservice"
)

// Valid reports whether t is a known project type.
func (t ProjectType) Valid() bool {
	switch t {
	case ProjectTypeWebsite, ProjectTypeWebapp, ProjectTypeAPI, ProjectTypeMicroservice:
		return true
	}
	return false
}

// ProjectStatus tracks the coarse lifecycle of a project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusDeployed ProjectStatus = "deployed"
	ProjectStatusError    ProjectStatus = "error"
)

// Project describes a user-created unit of work.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        ProjectType   `json:"type"`
	Template    string        `json:"template"`
	Domain      string        `json:"domain,omitempty"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	Path        string        `json:"path"`
}

// File is a single project file listing entry.
type File struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// DomainRecord is a registered project domain.
type DomainRecord struct {
	Domain       string    `json:"domain"`
	ProjectID    string    `json:"projectId"`
	RegisteredAt time.Time `json:"registeredAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
