package registry

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// Registry holds one lightweight table store per project.
type Registry struct {
	logger *slog.Logger
	now    func() time.Time

	mu  sync.RWMutex
	dbs map[string]*database
}

type database struct {
	mu        sync.Mutex
	id        string
	kind      domain.DatabaseKind
	createdAt time.Time
	tables    map[string][]domain.Record
	queries   int64
}

// New returns an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		dbs:    make(map[string]*database),
	}
}

// Provision creates an empty store for dbID, replacing any existing one.
func (r *Registry) Provision(ctx context.Context, dbID string, kind domain.DatabaseKind) (*domain.DatabaseStats, error) {
	dbID = strings.TrimSpace(dbID)
	if dbID == "" {
		return nil, domain.Invalid("database id is required")
	}
	if kind == "" {
		kind = domain.DatabaseKindRelational
	}
	if !kind.Valid() {
		return nil, domain.Invalid("database kind must be relational or document")
	}
	db := &database{
		id:        dbID,
		kind:      kind,
		createdAt: r.now(),
		tables:    make(map[string][]domain.Record),
	}

	r.mu.Lock()
	_, replaced := r.dbs[dbID]
	r.dbs[dbID] = db
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("database re-provisioned", "database_id", dbID, "kind", kind)
	} else {
		r.logger.Info("database provisioned", "database_id", dbID, "kind", kind)
	}
	stats := db.stats()
	return &stats, nil
}

// Drop removes a store. Missing stores are ignored.
func (r *Registry) Drop(ctx context.Context, dbID string) {
	r.mu.Lock()
	delete(r.dbs, dbID)
	r.mu.Unlock()
}

func (r *Registry) get(dbID string) (*database, error) {
	r.mu.RLock()
	db, ok := r.dbs[strings.TrimSpace(dbID)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database %s: %w", dbID, domain.ErrNotFound)
	}
	return db, nil
}

// CreateTable adds an empty table. Creating an existing table is a no-op.
func (r *Registry) CreateTable(ctx context.Context, dbID, table string) error {
	table = strings.TrimSpace(table)
	if table == "" {
		return domain.Invalid("table name is required")
	}
	db, err := r.get(dbID)
	if err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.tables[table]; ok {
		return nil
	}
	db.tables[table] = make([]domain.Record, 0)
	r.logger.Debug("table created", "database_id", dbID, "table", table)
	return nil
}

// Insert stores a copy of record with a generated id and createdAt.
func (r *Registry) Insert(ctx context.Context, dbID, table string, record domain.Record) (domain.Record, error) {
	db, err := r.get(dbID)
	if err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, ok := db.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", table, domain.ErrNotFound)
	}
	stored := make(domain.Record, len(record)+2)
	for k, v := range record {
		stored[k] = v
	}
	stored["id"] = uuid.NewString()
	stored["createdAt"] = r.now()
	db.tables[table] = append(rows, stored)
	db.queries++
	return clone(stored), nil
}

// Query returns records whose fields equal every entry of where.
func (r *Registry) Query(ctx context.Context, dbID, table string, where map[string]any) ([]domain.Record, error) {
	db, err := r.get(dbID)
	if err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, ok := db.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", table, domain.ErrNotFound)
	}
	db.queries++

	out := make([]domain.Record, 0)
	for _, row := range rows {
		if matches(row, where) {
			out = append(out, clone(row))
		}
	}
	return out, nil
}

// Stats summarises a store.
func (r *Registry) Stats(ctx context.Context, dbID string) (*domain.DatabaseStats, error) {
	db, err := r.get(dbID)
	if err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	stats := db.stats()
	return &stats, nil
}

// Tables lists table names with their record counts.
func (r *Registry) Tables(ctx context.Context, dbID string) (map[string]int, error) {
	db, err := r.get(dbID)
	if err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make(map[string]int, len(db.tables))
	for name, rows := range db.tables {
		out[name] = len(rows)
	}
	return out, nil
}

// stats must be called with db.mu held or before db is shared.
func (db *database) stats() domain.DatabaseStats {
	records := 0
	for _, rows := range db.tables {
		records += len(rows)
	}
	label := "SQL"
	if db.kind == domain.DatabaseKindDocument {
		label = "NoSQL"
	}
	return domain.DatabaseStats{
		ID:        db.id,
		Kind:      db.kind,
		Label:     label,
		Tables:    len(db.tables),
		Records:   records,
		Queries:   db.queries,
		CreatedAt: db.createdAt,
	}
}

func clone(rec domain.Record) domain.Record {
	out := make(domain.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func matches(row domain.Record, where map[string]any) bool {
	for key, want := range where {
		got, ok := row[key]
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// number widens Go and JSON numeric values so 1, int64(1) and 1.0 compare equal.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

