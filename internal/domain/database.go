package domain

import "time"

// DatabaseKind selects the flavour of a project store.
type DatabaseKind string

const (
	DatabaseKindRelational DatabaseKind = "relational"
	DatabaseKindDocument   DatabaseKind = "document"
)

// Valid reports whether k is a known kind.
func (k DatabaseKind) Valid() bool {
	return k == DatabaseKindRelational || k == DatabaseKindDocument
}

// Record is a stored row or document.
type Record map[string]any

// DatabaseStats summarises a project store.
type DatabaseStats struct {
	ID        string       `json:"id"`
	Kind      DatabaseKind `json:"kind"`
	Label     string       `json:"type"`
	Tables    int          `json:"tables"`
	Records   int          `json:"records"`
	Queries   int64        `json:"queries"`
	CreatedAt time.Time    `json:"createdAt"`
}
