package domain

import "time"

// DefaultAuthor is used when a commit names no author.
const DefaultAuthor = "Virtual Developer"

// DefaultBranch is the only branch a ledger tracks.
const DefaultBranch = "main"

// Commit is an immutable ledger entry.
type Commit struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	TreeHash  string    `json:"treeHash"`
	Files     []string  `json:"files"`
}

// GitInfo is the persisted shape of a project's .gitinfo.json.
type GitInfo struct {
	Initialized bool     `json:"initialized"`
	Commits     []Commit `json:"commits"`
	Branches    []string `json:"branches"`
}
