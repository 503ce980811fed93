package domain

import "time"

// ProjectLog represents a log line emitted by the deployment pipeline.
type ProjectLog struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"projectId"`
	Source    string    `json:"source"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
