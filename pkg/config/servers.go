package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// ResourceSpec is a compute/memory/storage triple.
type ResourceSpec struct {
	CPU     int `json:"cpu"`
	Memory  int `json:"memory"`
	Storage int `json:"storage"`
}

// ServerSpec describes one virtual deployment target in the pool.
type ServerSpec struct {
	Key       string       `json:"key"`
	Name      string       `json:"name"`
	Host      string       `json:"host"`
	Capacity  int          `json:"capacity"`
	Resources ResourceSpec `json:"resources"`
}

// ServerPool is the on-disk shape of SERVER_POOL_FILE.
type ServerPool struct {
	Servers []ServerSpec  `json:"servers"`
	Quantum *ResourceSpec `json:"quantum,omitempty"`
}

// DefaultQuantum is the per-deployment reservation.
var DefaultQuantum = ResourceSpec{CPU: 100, Memory: 128, Storage: 50}

// DefaultServerPool returns the built-in development/production pool.
func DefaultServerPool() ServerPool {
	return ServerPool{
		Servers: []ServerSpec{
			{
				Key:       "development",
				Name:      "Development Server",
				Host:      "dev.spheredev.net",
				Capacity:  10,
				Resources: ResourceSpec{CPU: 1000, Memory: 2048, Storage: 10240},
			},
			{
				Key:       "production",
				Name:      "Production Server",
				Host:      "app.spheredev.net",
				Capacity:  5,
				Resources: ResourceSpec{CPU: 2000, Memory: 4096, Storage: 20480},
			},
		},
	}
}

// LoadServerPool reads a JSONC pool definition. An empty path yields the
// default pool.
func LoadServerPool(path string) (ServerPool, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultServerPool(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerPool{}, fmt.Errorf("reading %s: %w", path, err)
	}
	pool, err := ParseServerPool(data)
	if err != nil {
		return ServerPool{}, fmt.Errorf("%s: %w", path, err)
	}
	return pool, nil
}

// ParseServerPool strips JSONC comments and trailing commas, then decodes
// and validates the pool.
func ParseServerPool(data []byte) (ServerPool, error) {
	var pool ServerPool
	if err := json.Unmarshal(jsonc.ToJSON(data), &pool); err != nil {
		return ServerPool{}, fmt.Errorf("parsing server pool: %w", err)
	}
	if err := pool.Validate(); err != nil {
		return ServerPool{}, err
	}
	return pool, nil
}

// Validate checks keys are unique and all quantities are non-negative.
func (p ServerPool) Validate() error {
	if len(p.Servers) == 0 {
		return errors.New("server pool is empty")
	}
	seen := make(map[string]struct{}, len(p.Servers))
	for i, s := range p.Servers {
		key := strings.TrimSpace(s.Key)
		if key == "" {
			return fmt.Errorf("servers[%d]: key is required", i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("servers[%d]: duplicate key %q", i, key)
		}
		seen[key] = struct{}{}
		if s.Capacity < 0 {
			return fmt.Errorf("server %q: capacity must be >= 0", key)
		}
		if s.Resources.CPU < 0 || s.Resources.Memory < 0 || s.Resources.Storage < 0 {
			return fmt.Errorf("server %q: resources must be >= 0", key)
		}
	}
	if q := p.Quantum; q != nil && (q.CPU < 0 || q.Memory < 0 || q.Storage < 0) {
		return errors.New("quantum must be >= 0")
	}
	return nil
}

// EffectiveQuantum returns the configured quantum or DefaultQuantum.
func (p ServerPool) EffectiveQuantum() ResourceSpec {
	if p.Quantum != nil {
		return *p.Quantum
	}
	return DefaultQuantum
}
