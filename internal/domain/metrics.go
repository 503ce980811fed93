package domain

import "time"

// ProjectMetrics is a synthetic instantaneous runtime sample.
type ProjectMetrics struct {
	ProjectID     string    `json:"projectId"`
	Status        string    `json:"status"`
	CPUPercent    float64   `json:"cpu"`
	MemoryMB      float64   `json:"memory"`
	TrafficKBps   float64   `json:"traffic"`
	RequestsPerS  float64   `json:"requests"`
	ResponseMS    float64   `json:"responseTime"`
	UptimeSeconds int64     `json:"uptime"`
	SampledAt     time.Time `json:"sampledAt"`
}
