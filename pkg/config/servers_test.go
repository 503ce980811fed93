package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseServerPoolAcceptsJSONC(t *testing.T) {
	data := []byte(`{
		// staging only
		"servers": [
			{"key": "staging", "name": "Staging", "host": "stg.example", "capacity": 2,
			 "resources": {"cpu": 300, "memory": 512, "storage": 200},},
		],
		/* smaller quantum */
		"quantum": {"cpu": 50, "memory": 64, "storage": 10},
	}`)
	pool, err := ParseServerPool(data)
	if err != nil {
		t.Fatalf("ParseServerPool returned error: %v", err)
	}
	if len(pool.Servers) != 1 || pool.Servers[0].Key != "staging" {
		t.Fatalf("unexpected servers: %+v", pool.Servers)
	}
	if q := pool.EffectiveQuantum(); q.CPU != 50 || q.Memory != 64 || q.Storage != 10 {
		t.Fatalf("unexpected quantum: %+v", q)
	}
}

func TestParseServerPoolRejectsDuplicateKeys(t *testing.T) {
	data := []byte(`{"servers": [{"key": "a", "capacity": 1}, {"key": "a", "capacity": 1}]}`)
	_, err := ParseServerPool(data)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestParseServerPoolRejectsNegativeResources(t *testing.T) {
	data := []byte(`{"servers": [{"key": "a", "capacity": 1, "resources": {"cpu": -1}}]}`)
	if _, err := ParseServerPool(data); err == nil {
		t.Fatal("expected validation error for negative cpu")
	}
}

func TestLoadServerPoolDefaultsWhenPathEmpty(t *testing.T) {
	pool, err := LoadServerPool("")
	if err != nil {
		t.Fatalf("LoadServerPool returned error: %v", err)
	}
	if len(pool.Servers) != 2 {
		t.Fatalf("expected default pool of 2 servers, got %d", len(pool.Servers))
	}
	if pool.EffectiveQuantum() != DefaultQuantum {
		t.Fatalf("expected default quantum, got %+v", pool.EffectiveQuantum())
	}
}

func TestLoadServerPoolReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.jsonc")
	if err := os.WriteFile(path, []byte(`{"servers": [{"key": "edge", "capacity": 3}]}`), 0o644); err != nil {
		t.Fatalf("write pool: %v", err)
	}
	pool, err := LoadServerPool(path)
	if err != nil {
		t.Fatalf("LoadServerPool returned error: %v", err)
	}
	if pool.Servers[0].Capacity != 3 {
		t.Fatalf("unexpected capacity %d", pool.Servers[0].Capacity)
	}
}
