package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

type fakeProjects struct {
	projects map[string]domain.Project
	files    map[string]map[string]string
}

func (f fakeProjects) Get(_ context.Context, id string) (*domain.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (f fakeProjects) List(context.Context) []domain.Project {
	out := make([]domain.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out
}

func (f fakeProjects) ListFiles(_ context.Context, id string) ([]domain.File, error) {
	out := make([]domain.File, 0)
	for path, content := range f.files[id] {
		out = append(out, domain.File{Path: path, Size: int64(len(content))})
	}
	return out, nil
}

func (f fakeProjects) ReadFile(_ context.Context, id, path string) (string, error) {
	if strings.HasPrefix(path, "..") {
		return "", domain.ErrPathViolation
	}
	content, ok := f.files[id][path]
	if !ok {
		return "", domain.ErrNotFound
	}
	return content, nil
}

type fakeLedger struct {
	commits []domain.Commit
	tree    string
}

func (f fakeLedger) History(context.Context, string) ([]domain.Commit, error) {
	return f.commits, nil
}

func (f fakeLedger) WorkingTreeHash(context.Context, string) (string, error) {
	return f.tree, nil
}

type fakeDeployments struct {
	dep *domain.Deployment
}

func (f fakeDeployments) Status(context.Context, string) (*domain.Deployment, error) {
	if f.dep == nil {
		return nil, domain.ErrNotFound
	}
	return f.dep, nil
}

func newTestInterpreter() *Interpreter {
	projects := fakeProjects{
		projects: map[string]domain.Project{
			"p1": {ID: "p1", Name: "shop", Type: domain.ProjectTypeWebapp, Status: domain.ProjectStatusActive, CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		},
		files: map[string]map[string]string{
			"p1": {
				"package.json": `{"dependencies":{"react":"^18"},"scripts":{"build":"vite build"}}`,
				"index.html":   "<div id=root></div>",
			},
		},
	}
	ledger := fakeLedger{
		commits: []domain.Commit{{ID: "abcdef0123456789abcdef0123456789abcdef01", Message: "init", Author: "me", TreeHash: "t1"}},
		tree:    "t1",
	}
	return New(projects, ledger, fakeDeployments{})
}

func run(t *testing.T, in *Interpreter, projectID, line string) string {
	t.Helper()
	res, err := in.Execute(context.Background(), projectID, line)
	if err != nil {
		t.Fatalf("Execute(%q): %v", line, err)
	}
	return res.Output
}

func TestUnknownCommandsAreNeverExecuted(t *testing.T) {
	in := newTestInterpreter()
	for _, line := range []string{"rm -rf /", "echo $(id)", "git push", "npm run start; ls"} {
		out := run(t, in, "p1", line)
		if !strings.HasPrefix(out, "Command not found: ") {
			t.Fatalf("%q produced %q", line, out)
		}
	}
}

func TestProjectCommands(t *testing.T) {
	in := newTestInterpreter()
	cases := map[string]string{
		"pwd":            "/home/spheredev/projects/shop",
		"status":         "Project: shop",
		"ls":             "package.json",
		"cat index.html": "<div id=root></div>",
		"git status":     "working tree clean",
		"git log":        "commit abcdef0123456789",
		"npm install":    "added 1 packages",
		"npm run build":  "> vite build",
		"deploy":         "No deployments yet",
		"projects":       "shop (webapp)",
		"HELP":           "Available commands",
	}
	for line, want := range cases {
		if out := run(t, in, "p1", line); !strings.Contains(out, want) {
			t.Fatalf("%q output %q does not contain %q", line, out, want)
		}
	}
}

func TestCommandsWithoutProject(t *testing.T) {
	in := newTestInterpreter()
	if out := run(t, in, "", "pwd"); out != "/home/spheredev" {
		t.Fatalf("pwd = %q", out)
	}
	if out := run(t, in, "", "ls"); out != noProject {
		t.Fatalf("ls = %q", out)
	}
}

func TestCatGuardsPaths(t *testing.T) {
	in := newTestInterpreter()
	if out := run(t, in, "p1", "cat ../../etc/passwd"); !strings.Contains(out, "Permission denied") {
		t.Fatalf("cat traversal = %q", out)
	}
	if out := run(t, in, "p1", "cat missing.txt"); !strings.Contains(out, "No such file") {
		t.Fatalf("cat missing = %q", out)
	}
}

func TestClearAndUnknownProject(t *testing.T) {
	in := newTestInterpreter()
	res, err := in.Execute(context.Background(), "p1", "clear")
	if err != nil || !res.Clear {
		t.Fatalf("clear = %+v, %v", res, err)
	}
	if _, err := in.Execute(context.Background(), "ghost", "ls"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeployShowsLatestDeployment(t *testing.T) {
	in := newTestInterpreter()
	in.deployments = fakeDeployments{dep: &domain.Deployment{ID: "dep_1", Server: "development", Status: domain.DeploymentStatusDeployed, Stage: "start_services", URL: "p1.dev.spheredev.net"}}
	if out := run(t, in, "p1", "deploy"); !strings.Contains(out, "p1.dev.spheredev.net") {
		t.Fatalf("deploy = %q", out)
	}
}
