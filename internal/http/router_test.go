package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
	"github.com/Sasha125a/sphere-dev-network/internal/repository/memory"
	"github.com/Sasha125a/sphere-dev-network/internal/service/deploy"
	"github.com/Sasha125a/sphere-dev-network/internal/service/ledger"
	"github.com/Sasha125a/sphere-dev-network/internal/service/lifecycle"
	"github.com/Sasha125a/sphere-dev-network/internal/service/logs"
	"github.com/Sasha125a/sphere-dev-network/internal/service/monitor"
	"github.com/Sasha125a/sphere-dev-network/internal/service/project"
	"github.com/Sasha125a/sphere-dev-network/internal/service/registry"
	"github.com/Sasha125a/sphere-dev-network/internal/service/terminal"
	"github.com/Sasha125a/sphere-dev-network/internal/templates"
	"github.com/Sasha125a/sphere-dev-network/internal/workspace"
	"github.com/Sasha125a/sphere-dev-network/internal/ws"
	"github.com/Sasha125a/sphere-dev-network/pkg/config"
)

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []string
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.mu.Unlock()
	if s.allowFn != nil {
		return s.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1}
}

func (s *rateLimiterStub) Close() {}

type routerFixture struct {
	router   *Router
	hub      *ws.Hub
	registry *prometheus.Registry
}

func setupRouter(t *testing.T, pool config.ServerPool, opts Options) routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	space, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	catalog, err := templates.Load()
	if err != nil {
		t.Fatalf("templates.Load: %v", err)
	}
	reg := prometheus.NewRegistry()
	repo := memory.New(100)
	hub := ws.NewHub(64)
	t.Cleanup(hub.Close)

	projects := project.New(space, catalog, "spheredev", logger)
	l := ledger.New(projects, logger)
	dbs := registry.New(logger)
	logSvc := logs.New(repo, hub, logger)
	allocator, err := deploy.New(pool, repo, logSvc, logger, deploy.Options{Timeout: 5 * time.Second, Registerer: reg})
	if err != nil {
		t.Fatalf("deploy.New: %v", err)
	}
	if opts.Limiter == nil {
		opts.Limiter = &rateLimiterStub{}
	}
	opts.Registerer = reg
	opts.Gatherer = reg
	router := NewRouter(logger, Services{
		Lifecycle: lifecycle.New(projects, l, dbs, allocator, logger),
		Projects:  projects,
		Ledger:    l,
		Registry:  dbs,
		Allocator: allocator,
		Logs:      logSvc,
		Monitor:   monitor.New(projects, allocator),
		Terminal:  terminal.New(projects, l, allocator),
		Templates: catalog,
	}, opts)
	t.Cleanup(router.Close)
	return routerFixture{router: router, hub: hub, registry: reg}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode payload: %v (body %q)", err, rr.Body.String())
	}
}

func createProject(t *testing.T, h http.Handler, name string) domain.Project {
	t.Helper()
	return createProjectWith(t, h, map[string]string{"name": name, "type": "website"})
}

func createProjectWith(t *testing.T, h http.Handler, body map[string]string) domain.Project {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/projects", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", rr.Code, rr.Body.String())
	}
	var p domain.Project
	decodeBody(t, rr, &p)
	return p
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rr.Code, rr.Body.String())
	}
	var payload map[string]string
	decodeBody(t, rr, &payload)
	if payload["code"] != code {
		t.Fatalf("expected code %q, got %q", code, payload["code"])
	}
}

func TestBannerAndHealthz(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{Environment: "test"})

	rr := do(t, f.router, http.MethodGet, "/api", nil)
	var banner map[string]string
	decodeBody(t, rr, &banner)
	if banner["message"] != "SphereDev Network API" || banner["version"] != "1.0.0" || banner["environment"] != "test" {
		t.Fatalf("unexpected banner %v", banner)
	}

	rr = do(t, f.router, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rr.Code)
	}

	degraded := setupRouter(t, config.DefaultServerPool(), Options{
		DBHealth: func(context.Context) error { return errors.New("connection refused") },
	})
	rr = do(t, degraded.router, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing database, got %d", rr.Code)
	}
}

func TestProjectFilesRoundTrip(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProject(t, f.router, "site")
	if p.Name != "site" || p.Status != domain.ProjectStatusActive {
		t.Fatalf("unexpected project %+v", p)
	}

	rr := do(t, f.router, http.MethodPut, "/api/projects/"+p.ID+"/files", map[string]string{
		"path":    "src/app.js",
		"content": "console.log('hi')",
	})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"success":true`) {
		t.Fatalf("write file: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID+"/files?path=src/app.js", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "console.log('hi')" {
		t.Fatalf("read file: %d %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}

	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID+"/files?path=missing.txt", nil)
	expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)

	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID+"/files?path=../../etc/passwd", nil)
	expectCode(t, rr, http.StatusBadRequest, domain.CodePathViolation)

	rr = do(t, f.router, http.MethodPut, "/api/projects/"+p.ID+"/files", map[string]string{
		"path":    "../escape.txt",
		"content": "nope",
	})
	expectCode(t, rr, http.StatusBadRequest, domain.CodePathViolation)

	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID+"/tree", nil)
	var files []domain.File
	decodeBody(t, rr, &files)
	found := false
	for _, file := range files {
		if file.Path == "src/app.js" {
			found = true
		}
	}
	if !found {
		t.Fatalf("tree missing written file: %+v", files)
	}
}

func TestCreateProjectConflicts(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProjectWith(t, f.router, map[string]string{"name": "site", "domain": "site"})
	if p.Domain != "site.spheredev" {
		t.Fatalf("unexpected domain %q", p.Domain)
	}

	rr := do(t, f.router, http.MethodPost, "/api/projects", map[string]string{"name": "site"})
	expectCode(t, rr, http.StatusConflict, domain.CodeProjectExists)

	rr = do(t, f.router, http.MethodPost, "/api/projects", map[string]string{"name": "other", "domain": "site"})
	expectCode(t, rr, http.StatusConflict, domain.CodeDuplicateDomain)

	rr = do(t, f.router, http.MethodPost, "/api/projects", map[string]string{"name": "bad/name"})
	expectCode(t, rr, http.StatusBadRequest, domain.CodeInvalidInput)

	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestCommitDeployAndMetrics(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProject(t, f.router, "app")

	rr := do(t, f.router, http.MethodPost, "/api/projects/"+p.ID+"/commit", map[string]string{"message": "Initial commit"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("commit: %d %s", rr.Code, rr.Body.String())
	}
	var commit domain.Commit
	decodeBody(t, rr, &commit)
	if commit.Author != domain.DefaultAuthor || commit.ID == "" {
		t.Fatalf("unexpected commit %+v", commit)
	}

	rr = do(t, f.router, http.MethodPost, "/api/projects/"+p.ID+"/commit", map[string]string{})
	expectCode(t, rr, http.StatusBadRequest, domain.CodeInvalidInput)

	rr = do(t, f.router, http.MethodPost, "/api/projects/"+p.ID+"/deploy", map[string]string{"server": "development"})
	if rr.Code != http.StatusOK {
		t.Fatalf("deploy: %d %s", rr.Code, rr.Body.String())
	}
	var dep domain.Deployment
	decodeBody(t, rr, &dep)
	if dep.Status != domain.DeploymentStatusDeployed || dep.URL != p.ID+".dev.spheredev.net" {
		t.Fatalf("unexpected deployment %+v", dep)
	}

	rr = do(t, f.router, http.MethodPost, "/api/projects/"+p.ID+"/deploy", map[string]string{"server": "development"})
	expectCode(t, rr, http.StatusConflict, domain.CodeAlreadyDeployed)

	rr = do(t, f.router, http.MethodPost, "/api/projects/"+p.ID+"/deploy", map[string]string{"server": "mars"})
	expectCode(t, rr, http.StatusBadRequest, domain.CodeUnknownServer)

	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID+"/metrics", nil)
	var metrics struct {
		Current domain.ProjectMetrics `json:"current"`
	}
	decodeBody(t, rr, &metrics)
	if metrics.Current.Status != "running" || metrics.Current.ProjectID != p.ID {
		t.Fatalf("unexpected metrics %+v", metrics.Current)
	}

	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID+"/logs?limit=100", nil)
	var entries []domain.ProjectLog
	decodeBody(t, rr, &entries)
	if len(entries) == 0 {
		t.Fatal("expected pipeline logs")
	}

	rr = do(t, f.router, http.MethodDelete, "/api/projects/"+p.ID+"/deploy", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("release: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID+"/deploy", nil)
	decodeBody(t, rr, &dep)
	if dep.Status != domain.DeploymentStatusReleased {
		t.Fatalf("expected released status, got %s", dep.Status)
	}
}

func TestDeployAdmissionErrors(t *testing.T) {
	pool := config.ServerPool{Servers: []config.ServerSpec{
		{Key: "tiny", Name: "Tiny", Host: "tiny.test", Capacity: 1, Resources: config.ResourceSpec{CPU: 1000, Memory: 1000, Storage: 1000}},
		{Key: "starved", Name: "Starved", Host: "starved.test", Capacity: 5, Resources: config.ResourceSpec{CPU: 10, Memory: 10, Storage: 10}},
	}}
	f := setupRouter(t, pool, Options{})
	a := createProject(t, f.router, "alpha")
	b := createProject(t, f.router, "beta")

	rr := do(t, f.router, http.MethodPost, "/api/projects/"+a.ID+"/deploy", map[string]string{"server": "tiny"})
	if rr.Code != http.StatusOK {
		t.Fatalf("first deploy: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, f.router, http.MethodPost, "/api/projects/"+b.ID+"/deploy", map[string]string{"server": "tiny"})
	expectCode(t, rr, http.StatusConflict, domain.CodeCapacityExceeded)

	rr = do(t, f.router, http.MethodPost, "/api/projects/"+b.ID+"/deploy", map[string]string{"server": "starved"})
	expectCode(t, rr, http.StatusServiceUnavailable, domain.CodeInsufficientResources)

	rr = do(t, f.router, http.MethodGet, "/api/servers", nil)
	var payload struct {
		Servers []domain.Server `json:"servers"`
	}
	decodeBody(t, rr, &payload)
	for _, s := range payload.Servers {
		if s.Key == "tiny" && len(s.DeployedProjects) != 1 {
			t.Fatalf("expected one project on tiny, got %+v", s)
		}
		if s.Key == "starved" && s.Available.CPU != 10 {
			t.Fatalf("starved server budget changed: %+v", s)
		}
	}
}

func TestUnknownProjectRoutes(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	for _, target := range []string{
		"/api/projects/nope",
		"/api/projects/nope/files?path=index.html",
		"/api/projects/nope/metrics",
		"/api/projects/nope/database",
	} {
		rr := do(t, f.router, http.MethodGet, target, nil)
		expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)
	}
	rr := do(t, f.router, http.MethodGet, "/api/projects/nope/unknown", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown subroute, got %d", rr.Code)
	}
	rr = do(t, f.router, http.MethodPatch, "/api/projects", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestDatabaseRoutes(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProject(t, f.router, "shop")
	base := "/api/projects/" + p.ID + "/database"

	rr := do(t, f.router, http.MethodPost, base+"/tables", map[string]string{"name": "users"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create table: %d %s", rr.Code, rr.Body.String())
	}
	for _, name := range []string{"ada", "linus"} {
		rr = do(t, f.router, http.MethodPost, base+"/tables/users/records", map[string]any{"name": name, "age": 36})
		if rr.Code != http.StatusCreated {
			t.Fatalf("insert: %d %s", rr.Code, rr.Body.String())
		}
	}

	rr = do(t, f.router, http.MethodGet, base+"/tables/users/records?name=ada", nil)
	var rows []map[string]any
	decodeBody(t, rr, &rows)
	if len(rows) != 1 || rows[0]["name"] != "ada" || rows[0]["id"] == nil {
		t.Fatalf("unexpected rows %v", rows)
	}

	rr = do(t, f.router, http.MethodGet, base+"/tables/users/records?where="+url.QueryEscape(`{"age":36}`), nil)
	decodeBody(t, rr, &rows)
	if len(rows) != 2 {
		t.Fatalf("expected numeric filter to match both rows, got %v", rows)
	}

	rr = do(t, f.router, http.MethodGet, base+"/tables/orders/records", nil)
	expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)

	rr = do(t, f.router, http.MethodGet, base, nil)
	var summary struct {
		Stats  domain.DatabaseStats `json:"stats"`
		Tables map[string]int       `json:"tables"`
	}
	decodeBody(t, rr, &summary)
	if summary.Stats.Label != "SQL" || summary.Tables["users"] != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestTerminalExecute(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProject(t, f.router, "term")

	rr := do(t, f.router, http.MethodPost, "/api/terminal/execute", map[string]string{"command": "ls", "projectId": p.ID})
	var result terminal.Result
	decodeBody(t, rr, &result)
	if !strings.Contains(result.Output, "index.html") {
		t.Fatalf("ls output missing index.html: %q", result.Output)
	}

	rr = do(t, f.router, http.MethodPost, "/api/terminal/execute", map[string]string{"command": "rm -rf /"})
	decodeBody(t, rr, &result)
	if !strings.HasPrefix(result.Output, "Command not found: rm -rf /") {
		t.Fatalf("unexpected output %q", result.Output)
	}

	rr = do(t, f.router, http.MethodPost, "/api/terminal/execute", map[string]string{"command": "ls", "projectId": "ghost"})
	expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)

	rr = do(t, f.router, http.MethodPost, "/api/terminal/execute", map[string]string{"command": "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty command, got %d", rr.Code)
	}
}

func TestDomainsAndTemplates(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProjectWith(t, f.router, map[string]string{"name": "blog", "domain": "Blog"})

	rr := do(t, f.router, http.MethodGet, "/api/domains/blog", nil)
	var record domain.DomainRecord
	decodeBody(t, rr, &record)
	if record.ProjectID != p.ID || record.Domain != "blog.spheredev" {
		t.Fatalf("unexpected record %+v", record)
	}
	rr = do(t, f.router, http.MethodGet, "/api/domains/ghost.spheredev", nil)
	expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)

	rr = do(t, f.router, http.MethodGet, "/api/templates", nil)
	var list []templates.Template
	decodeBody(t, rr, &list)
	if len(list) < 3 {
		t.Fatalf("expected catalog templates, got %+v", list)
	}
}

func TestRateLimitedRequest(t *testing.T) {
	reset := time.Unix(1_960_000_000, 0)
	limiter := &rateLimiterStub{allowFn: func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}}
	f := setupRouter(t, config.DefaultServerPool(), Options{Limiter: limiter})

	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(`{"name":"x"}`))
	req.RemoteAddr = "10.0.0.7:4242"
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "60" {
		t.Fatalf("unexpected limit header %q", rr.Header().Get("X-RateLimit-Limit"))
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected remaining header %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if rr.Header().Get("X-RateLimit-Reset") != "1960000000" {
		t.Fatalf("unexpected reset header %q", rr.Header().Get("X-RateLimit-Reset"))
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.calls) != 1 || limiter.calls[0] != "write:ip:10.0.0.7" {
		t.Fatalf("unexpected limiter calls %v", limiter.calls)
	}
	rr = do(t, f.router, http.MethodGet, "/api/projects", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected reads limited too, got %d", rr.Code)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer rl.Close()
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if d := rl.Allow("k", 2, time.Minute); !d.allowed {
			t.Fatalf("request %d rejected", i)
		}
	}
	if d := rl.Allow("k", 2, time.Minute); d.allowed {
		t.Fatal("third request in window allowed")
	}
	now = now.Add(2 * time.Minute)
	if d := rl.Allow("k", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
	rl.cleanup(now.Add(time.Hour))
	rl.mu.Lock()
	left := len(rl.entries)
	rl.mu.Unlock()
	if left != 0 {
		t.Fatalf("expected expired entries swept, %d left", left)
	}
}

func TestMetricsEndpointExposesRequests(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	do(t, f.router, http.MethodGet, "/api", nil)

	rr := do(t, f.router, http.MethodGet, "/metrics", nil)
	body := rr.Body.String()
	if !strings.Contains(body, `sphere_api_http_requests_total{method="GET",route="/api",status="200"} 1`) {
		t.Fatalf("request counter missing from metrics output:\n%s", body)
	}
	if !strings.Contains(body, "sphere_allocator_available_resources") {
		t.Fatalf("allocator gauges missing from metrics output")
	}
}

func TestLogsWebsocketStreamsPipeline(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProject(t, f.router, "live")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/logs?project_id=" + p.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Subscribers(p.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rr := do(t, f.router, http.MethodPost, "/api/projects/"+p.ID+"/deploy", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("deploy: %d %s", rr.Code, rr.Body.String())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg["projectId"] != p.ID {
			t.Fatalf("message for wrong project: %v", msg)
		}
		if msg["message"] == "Checking project structure..." {
			return
		}
	}
}

func TestLogsWebsocketRejectsUnknownProject(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	rr := do(t, f.router, http.MethodGet, "/ws/logs?project_id=ghost", nil)
	expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)
}

type streamRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: http.Header{}}
}

func (s *streamRecorder) Header() http.Header { return s.header }

func (s *streamRecorder) WriteHeader(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

func (s *streamRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.buf.Write(b)
}

func (s *streamRecorder) Flush() {}

func (s *streamRecorder) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogStreamEmitsHeartbeatBackfillAndLiveLogs(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	f.router.heartbeat = 10 * time.Millisecond
	p := createProject(t, f.router, "streamed")

	ctx := context.Background()
	if err := f.router.svc.Logs.Append(ctx, domain.ProjectLog{ProjectID: p.ID, Source: "pipeline", Level: "info", Message: "earlier entry"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+p.ID+"/logs/stream", nil).WithContext(reqCtx)
	rec := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.router.ServeHTTP(rec, req)
	}()

	waitFor(t, "backfill", func() bool { return strings.Contains(rec.String(), "earlier entry") })
	if !strings.HasPrefix(rec.String(), ": ping\n\n") {
		t.Fatalf("stream should open with a heartbeat, got %q", rec.String())
	}
	waitFor(t, "subscription", func() bool { return f.hub.Subscribers(p.ID) == 1 })

	if err := f.router.svc.Logs.Append(ctx, domain.ProjectLog{ProjectID: p.ID, Source: "pipeline", Level: "info", Message: "live entry"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	waitFor(t, "live log", func() bool { return strings.Contains(rec.String(), "live entry") })
	waitFor(t, "repeat heartbeat", func() bool { return strings.Count(rec.String(), ": ping") > 1 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not exit after cancel")
	}
	if got := rec.header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.header.Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("unexpected cache control %q", got)
	}
	waitFor(t, "unsubscribe", func() bool { return f.hub.Subscribers(p.ID) == 0 })
}

func TestLogStreamUnknownProject(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	rr := do(t, f.router, http.MethodGet, "/api/projects/ghost/logs/stream", nil)
	expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)
}

func TestPatchProjectDescription(t *testing.T) {
	f := setupRouter(t, config.DefaultServerPool(), Options{})
	p := createProject(t, f.router, "described")

	rr := do(t, f.router, http.MethodPatch, "/api/projects/"+p.ID, map[string]string{"description": "  landing page  "})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rr.Code, rr.Body.String())
	}
	var updated domain.Project
	decodeBody(t, rr, &updated)
	if updated.Description != "landing page" {
		t.Fatalf("unexpected description %q", updated.Description)
	}

	rr = do(t, f.router, http.MethodGet, "/api/projects/"+p.ID, nil)
	var fetched domain.Project
	decodeBody(t, rr, &fetched)
	if fetched.Description != "landing page" {
		t.Fatalf("description not persisted: %q", fetched.Description)
	}

	rr = do(t, f.router, http.MethodPatch, "/api/projects/"+p.ID, map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without description, got %d", rr.Code)
	}
	rr = do(t, f.router, http.MethodPatch, "/api/projects/ghost", map[string]string{"description": "x"})
	expectCode(t, rr, http.StatusNotFound, domain.CodeNotFound)
}
