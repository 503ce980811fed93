package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/service/project"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, r.svc.Projects.List(req.Context()))
	case http.MethodPost:
		r.handleCreateProject(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name        string              `json:"name"`
		Type        string              `json:"type"`
		Template    string              `json:"template"`
		Domain      string              `json:"domain"`
		Description string              `json:"description"`
		Database    domain.DatabaseKind `json:"database"`
	}
	if !r.decode(w, req, &payload, false) {
		return
	}
	p, err := r.svc.Lifecycle.CreateProject(req.Context(), project.CreateInput{
		Name:        payload.Name,
		Type:        payload.Type,
		Template:    payload.Template,
		Domain:      payload.Domain,
		Description: payload.Description,
	}, payload.Database)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/projects/"), "/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if len(parts) == 1 {
		r.handleProject(w, req, projectID)
		return
	}
	switch parts[1] {
	case "files":
		if len(parts) == 2 {
			r.handleFiles(w, req, projectID)
			return
		}
	case "tree":
		if len(parts) == 2 {
			r.handleTree(w, req, projectID)
			return
		}
	case "commit":
		if len(parts) == 2 {
			r.handleCommit(w, req, projectID)
			return
		}
	case "commits":
		if len(parts) == 2 {
			r.handleCommits(w, req, projectID)
			return
		}
	case "deploy":
		if len(parts) == 2 {
			r.handleDeploy(w, req, projectID)
			return
		}
	case "deployments":
		if len(parts) == 2 {
			r.handleDeployments(w, req, projectID)
			return
		}
	case "logs":
		if len(parts) == 2 {
			r.handleLogs(w, req, projectID)
			return
		}
		if len(parts) == 3 && parts[2] == "stream" {
			r.handleLogStream(w, req, projectID)
			return
		}
	case "metrics":
		if len(parts) == 2 {
			r.handleMetrics(w, req, projectID)
			return
		}
	case "database":
		r.handleDatabase(w, req, projectID, parts[2:])
		return
	}
	r.notFound(w)
}

func (r *Router) handleProject(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		p, err := r.svc.Projects.Get(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPatch:
		var payload struct {
			Description *string `json:"description"`
		}
		if !r.decode(w, req, &payload, false) {
			return
		}
		if payload.Description == nil {
			writeError(w, http.StatusBadRequest, "description is required")
			return
		}
		p, err := r.svc.Projects.SetDescription(req.Context(), projectID, *payload.Description)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleFiles(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		path := req.URL.Query().Get("path")
		if path == "" {
			writeError(w, http.StatusBadRequest, "path query parameter required")
			return
		}
		content, err := r.svc.Projects.ReadFile(req.Context(), projectID, path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(content))
	case http.MethodPut:
		var payload struct {
			Path    string  `json:"path"`
			Content *string `json:"content"`
		}
		if !r.decode(w, req, &payload, false) {
			return
		}
		if payload.Content == nil {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}
		if err := r.svc.Projects.WriteFile(req.Context(), projectID, payload.Path, *payload.Content); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTree(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	files, err := r.svc.Projects.ListFiles(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (r *Router) handleCommit(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Message string `json:"message"`
		Author  string `json:"author"`
	}
	if !r.decode(w, req, &payload, false) {
		return
	}
	commit, err := r.svc.Ledger.Commit(req.Context(), projectID, payload.Message, payload.Author)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commit)
}

func (r *Router) handleCommits(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	history, err := r.svc.Ledger.History(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	branches, err := r.svc.Ledger.Branches(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": history, "branches": branches})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Server string `json:"server"`
		}
		if !r.decode(w, req, &payload, true) {
			return
		}
		dep, err := r.svc.Lifecycle.Deploy(req.Context(), projectID, payload.Server)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dep)
	case http.MethodGet:
		dep, err := r.svc.Allocator.Status(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dep)
	case http.MethodDelete:
		dep, err := r.svc.Lifecycle.Release(req.Context(), projectID, req.URL.Query().Get("server"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dep)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := pageParams(req)
	history, err := r.svc.Allocator.History(req.Context(), projectID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, offset := pageParams(req)
	entries, err := r.svc.Logs.List(req.Context(), projectID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sample, err := r.svc.Monitor.Sample(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"current": sample})
}

func (r *Router) handleDatabase(w http.ResponseWriter, req *http.Request, projectID string, rest []string) {
	switch {
	case len(rest) == 0:
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		stats, err := r.svc.Registry.Stats(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		tables, err := r.svc.Registry.Tables(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "tables": tables})
	case len(rest) == 1 && rest[0] == "tables":
		r.handleCreateTable(w, req, projectID)
	case len(rest) == 3 && rest[0] == "tables" && rest[2] == "records":
		r.handleRecords(w, req, projectID, rest[1])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleCreateTable(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if !r.decode(w, req, &payload, false) {
		return
	}
	if err := r.svc.Registry.CreateTable(req.Context(), projectID, payload.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"table": payload.Name})
}

func (r *Router) handleRecords(w http.ResponseWriter, req *http.Request, projectID, table string) {
	switch req.Method {
	case http.MethodPost:
		var record domain.Record
		if !r.decode(w, req, &record, false) {
			return
		}
		stored, err := r.svc.Registry.Insert(req.Context(), projectID, table, record)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	case http.MethodGet:
		where, err := whereClause(req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		rows, err := r.svc.Registry.Query(req.Context(), projectID, table, where)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	default:
		r.methodNotAllowed(w)
	}
}

// whereClause reads equality filters from a JSON "where" parameter, or
// from plain query parameters as strings.
func whereClause(req *http.Request) (map[string]any, error) {
	query := req.URL.Query()
	if raw := query.Get("where"); raw != "" {
		var where map[string]any
		if err := json.Unmarshal([]byte(raw), &where); err != nil {
			return nil, domain.Invalid("where must be a JSON object")
		}
		return where, nil
	}
	where := make(map[string]any, len(query))
	for key, values := range query {
		if len(values) > 0 {
			where[key] = values[0]
		}
	}
	return where, nil
}

func pageParams(req *http.Request) (limit, offset int) {
	query := req.URL.Query()
	limit = defaultPageSize
	if v, err := strconv.Atoi(query.Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(query.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
