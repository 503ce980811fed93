package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sasha125a/sphere-dev-network/internal/service/deploy"
	"github.com/Sasha125a/sphere-dev-network/internal/service/ledger"
	"github.com/Sasha125a/sphere-dev-network/internal/service/lifecycle"
	"github.com/Sasha125a/sphere-dev-network/internal/service/logs"
	"github.com/Sasha125a/sphere-dev-network/internal/service/monitor"
	"github.com/Sasha125a/sphere-dev-network/internal/service/project"
	"github.com/Sasha125a/sphere-dev-network/internal/service/registry"
	"github.com/Sasha125a/sphere-dev-network/internal/service/terminal"
	"github.com/Sasha125a/sphere-dev-network/internal/templates"
	"github.com/Sasha125a/sphere-dev-network/internal/ws"
)

// Services bundles the collaborators the router exposes.
type Services struct {
	Lifecycle lifecycle.Service
	Projects  *project.Store
	Ledger    *ledger.Ledger
	Registry  *registry.Registry
	Allocator *deploy.Allocator
	Logs      logs.Service
	Monitor   monitor.Service
	Terminal  *terminal.Interpreter
	Templates *templates.Catalog
}

// Options carries optional router dependencies.
type Options struct {
	Environment string
	Limiter     RateLimiter
	// DBHealth is checked by /healthz when deployment history lives in Postgres.
	DBHealth   func(context.Context) error
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	svc         Services
	environment string
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	dbHealth    func(context.Context) error
	metrics     *httpMetrics
	gatherer    prometheus.Gatherer
	heartbeat   time.Duration
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 240
	rateLimitWrite     = 60
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	maxBodyBytes       = 4 << 20
	apiVersion         = "1.0.0"

	routeWebsocket = "/ws/logs"
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc Services, opts Options) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		svc:         svc,
		environment: opts.Environment,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  opts.Limiter,
		dbHealth: opts.DBHealth,
		metrics:  newHTTPMetrics(opts.Registerer),
		gatherer: opts.Gatherer,
	}
	if r.environment == "" {
		r.environment = "development"
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	if r.gatherer != nil {
		r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	}
	r.handle("/api", r.handleBanner)
	r.handle("/api/projects", r.handleProjects)
	r.handle("/api/projects/", r.handleProjectSubroutes)
	r.handle("/api/servers", r.handleServers)
	r.handle("/api/templates", r.handleTemplates)
	r.handle("/api/domains", r.handleDomains)
	r.handle("/api/domains/", r.handleDomain)
	r.handle("/api/terminal/execute", r.handleTerminal)
	r.handle(routeWebsocket, r.handleLogsWS)
}

func (r *Router) handle(route string, next http.HandlerFunc) {
	r.mux.HandleFunc(route, r.audit(route, r.withRateLimit(route, next)))
}

func (r *Router) handleBanner(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "SphereDev Network API",
		"version":     apiVersion,
		"environment": r.environment,
	})
}

func (r *Router) handleServers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": r.svc.Allocator.Servers(),
		"quantum": r.svc.Allocator.Quantum(),
	})
}

func (r *Router) handleTemplates(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.svc.Templates.List())
}

func (r *Router) handleDomains(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.svc.Projects.Domains(req.Context()))
}

func (r *Router) handleDomain(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(req.URL.Path, "/api/domains/")
	if name == "" || strings.Contains(name, "/") {
		r.notFound(w)
		return
	}
	record, err := r.svc.Projects.ResolveDomain(req.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleTerminal(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Command   string `json:"command"`
		ProjectID string `json:"projectId"`
	}
	if !r.decode(w, req, &payload, false) {
		return
	}
	if strings.TrimSpace(payload.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	result, err := r.svc.Terminal.Execute(req.Context(), payload.ProjectID, payload.Command)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLogsWS streams pipeline logs for one project, or every project when
// project_id is omitted.
func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	projectID := strings.TrimSpace(req.URL.Query().Get("project_id"))
	if projectID == "" {
		projectID = ws.AllProjects
	} else if _, err := r.svc.Projects.Get(req.Context(), projectID); err != nil {
		writeServiceError(w, err)
		return
	}
	hub := r.svc.Logs.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "log stream unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(projectID, client)
	go func() {
		defer func() {
			hub.Unregister(projectID, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := map[string]any{
		"projects": map[string]any{"status": "up", "count": len(r.svc.Projects.List(req.Context()))},
	}
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// decode reads a JSON body into v. An empty body is accepted when
// allowEmpty is set.
func (r *Router) decode(w http.ResponseWriter, req *http.Request, v any, allowEmpty bool) bool {
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required by the websocket upgrader.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
