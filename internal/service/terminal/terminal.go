package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// Projects is the project view the interpreter reads from.
type Projects interface {
	Get(ctx context.Context, projectID string) (*domain.Project, error)
	List(ctx context.Context) []domain.Project
	ListFiles(ctx context.Context, projectID string) ([]domain.File, error)
	ReadFile(ctx context.Context, projectID, path string) (string, error)
}

// Ledger is the commit view the interpreter reads from.
type Ledger interface {
	History(ctx context.Context, projectID string) ([]domain.Commit, error)
	WorkingTreeHash(ctx context.Context, projectID string) (string, error)
}

// Deployments reports the latest deployment of a project.
type Deployments interface {
	Status(ctx context.Context, projectID string) (*domain.Deployment, error)
}

// Result is the outcome of one command line.
type Result struct {
	Output string `json:"output"`
	Clear  bool   `json:"clear,omitempty"`
}

const (
	homeDir      = "/home/spheredev"
	noProject    = "No project selected"
	maxCatOutput = 64 * 1024
)

const helpText = `Available commands:
help             Show this help message
projects         List all projects
status           Show project status
ls               List project files
pwd              Print working directory
cat <file>       Print a project file
git status       Show working tree status
git log          Show commit history
npm install      Install dependencies
npm run build    Build project
deploy           Show the latest deployment
whoami           Print the current user
date             Print the current date
clear            Clear terminal`

type handler func(ctx context.Context, projectID string, args []string) (Result, error)

// Interpreter is a closed command set over the project stores. Input is
// never handed to a host shell.
type Interpreter struct {
	projects    Projects
	ledger      Ledger
	deployments Deployments
	now         func() time.Time
	commands    map[string]handler
}

// New returns an interpreter reading from the given stores.
func New(projects Projects, ledger Ledger, deployments Deployments) *Interpreter {
	in := &Interpreter{
		projects:    projects,
		ledger:      ledger,
		deployments: deployments,
		now:         time.Now,
	}
	in.commands = map[string]handler{
		"help":          in.help,
		"projects":      in.listProjects,
		"status":        in.status,
		"ls":            in.ls,
		"pwd":           in.pwd,
		"cat":           in.cat,
		"git status":    in.gitStatus,
		"git log":       in.gitLog,
		"npm install":   in.npmInstall,
		"npm run build": in.npmBuild,
		"deploy":        in.deploy,
		"whoami":        in.whoami,
		"date":          in.date,
		"clear":         in.clear,
	}
	return in
}

// Execute interprets one command line in the context of projectID, which
// may be empty. Unknown commands produce output, not errors.
func (in *Interpreter) Execute(ctx context.Context, projectID, line string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{}, nil
	}
	projectID = strings.TrimSpace(projectID)
	if projectID != "" {
		if _, err := in.projects.Get(ctx, projectID); err != nil {
			return Result{}, err
		}
	}

	// Longest command prefix wins, so "git log" beats "git".
	for n := min(len(fields), 3); n > 0; n-- {
		name := strings.ToLower(strings.Join(fields[:n], " "))
		if h, ok := in.commands[name]; ok {
			return h(ctx, projectID, fields[n:])
		}
	}
	return Result{Output: fmt.Sprintf("Command not found: %s\nType \"help\" for available commands", strings.TrimSpace(line))}, nil
}

func (in *Interpreter) help(context.Context, string, []string) (Result, error) {
	return Result{Output: helpText}, nil
}

func (in *Interpreter) listProjects(ctx context.Context, _ string, _ []string) (Result, error) {
	projects := in.projects.List(ctx)
	if len(projects) == 0 {
		return Result{Output: "No projects found. Create one first!"}, nil
	}
	lines := make([]string, 0, len(projects))
	for _, p := range projects {
		lines = append(lines, fmt.Sprintf("📁 %s (%s) - %s", p.Name, p.Type, p.Status))
	}
	return Result{Output: strings.Join(lines, "\n")}, nil
}

func (in *Interpreter) status(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: noProject}, nil
	}
	p, err := in.projects.Get(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	dom := p.Domain
	if dom == "" {
		dom = "auto"
	}
	return Result{Output: fmt.Sprintf("Project: %s\nType: %s\nStatus: %s\nDomain: %s\nCreated: %s",
		p.Name, p.Type, p.Status, dom, p.CreatedAt.Format("2006-01-02"))}, nil
}

func (in *Interpreter) ls(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: noProject}, nil
	}
	files, err := in.projects.ListFiles(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{Output: "(empty)"}, nil
	}
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%8d  %s", f.Size, f.Path))
	}
	return Result{Output: strings.Join(lines, "\n")}, nil
}

func (in *Interpreter) pwd(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: homeDir}, nil
	}
	p, err := in.projects.Get(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: homeDir + "/projects/" + p.Name}, nil
}

func (in *Interpreter) cat(ctx context.Context, projectID string, args []string) (Result, error) {
	if projectID == "" {
		return Result{Output: noProject}, nil
	}
	if len(args) != 1 {
		return Result{Output: "usage: cat <file>"}, nil
	}
	content, err := in.projects.ReadFile(ctx, projectID, args[0])
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Result{Output: fmt.Sprintf("cat: %s: No such file or directory", args[0])}, nil
	case errors.Is(err, domain.ErrPathViolation):
		return Result{Output: fmt.Sprintf("cat: %s: Permission denied", args[0])}, nil
	case errors.Is(err, domain.ErrInvalidInput):
		return Result{Output: fmt.Sprintf("cat: %s: Is a directory", args[0])}, nil
	case err != nil:
		return Result{}, err
	}
	if len(content) > maxCatOutput {
		content = content[:maxCatOutput] + "\n... (truncated)"
	}
	return Result{Output: content}, nil
}

func (in *Interpreter) gitStatus(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: "fatal: not a git repository"}, nil
	}
	history, err := in.ledger.History(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{Output: "fatal: not a git repository"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	var b strings.Builder
	b.WriteString("On branch " + domain.DefaultBranch + "\n")
	if len(history) == 0 {
		b.WriteString("\nNo commits yet\n\nnothing committed yet")
		return Result{Output: b.String()}, nil
	}
	tree, err := in.ledger.WorkingTreeHash(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	last := history[len(history)-1]
	if tree == last.TreeHash {
		b.WriteString("nothing to commit, working tree clean")
	} else {
		b.WriteString("Changes not committed since " + last.ID[:7])
	}
	return Result{Output: b.String()}, nil
}

func (in *Interpreter) gitLog(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: "fatal: not a git repository"}, nil
	}
	history, err := in.ledger.History(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{Output: "fatal: not a git repository"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if len(history) == 0 {
		return Result{Output: "fatal: your current branch 'main' does not have any commits yet"}, nil
	}
	entries := make([]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		c := history[i]
		entries = append(entries, fmt.Sprintf("commit %s\nAuthor: %s\nDate:   %s\n\n    %s",
			c.ID, c.Author, c.Timestamp.Format(time.RFC1123Z), c.Message))
	}
	return Result{Output: strings.Join(entries, "\n\n")}, nil
}

type packageManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

func (in *Interpreter) manifest(ctx context.Context, projectID string) (*packageManifest, string, error) {
	raw, err := in.projects.ReadFile(ctx, projectID, "package.json")
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "npm ERR! enoent Could not read package.json", nil
	}
	if err != nil {
		return nil, "", err
	}
	var m packageManifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, "npm ERR! JSON.parse Failed to parse package.json", nil
	}
	return &m, "", nil
}

func (in *Interpreter) npmInstall(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: noProject}, nil
	}
	m, failure, err := in.manifest(ctx, projectID)
	if err != nil || m == nil {
		return Result{Output: failure}, err
	}
	total := len(m.Dependencies) + len(m.DevDependencies)
	return Result{Output: fmt.Sprintf("📦 Installing dependencies...\nadded %d packages\n✅ Dependencies installed successfully", total)}, nil
}

func (in *Interpreter) npmBuild(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: noProject}, nil
	}
	m, failure, err := in.manifest(ctx, projectID)
	if err != nil || m == nil {
		return Result{Output: failure}, err
	}
	script, ok := m.Scripts["build"]
	if !ok {
		return Result{Output: "npm ERR! Missing script: \"build\""}, nil
	}
	return Result{Output: fmt.Sprintf("> build\n> %s\n\n🔨 Building...\n✅ Build completed successfully", script)}, nil
}

func (in *Interpreter) deploy(ctx context.Context, projectID string, _ []string) (Result, error) {
	if projectID == "" {
		return Result{Output: "No project to deploy"}, nil
	}
	dep, err := in.deployments.Status(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{Output: "No deployments yet. Deploy with POST /api/projects/" + projectID + "/deploy"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	out := fmt.Sprintf("Deployment %s\nServer: %s\nStatus: %s\nStage: %s", dep.ID, dep.Server, dep.Status, dep.Stage)
	if dep.Status == domain.DeploymentStatusDeployed {
		out += "\n🌍 " + dep.URL
	}
	if dep.Error != "" {
		out += "\nError: " + dep.Error
	}
	return Result{Output: out}, nil
}

func (in *Interpreter) whoami(context.Context, string, []string) (Result, error) {
	return Result{Output: "spheredev"}, nil
}

func (in *Interpreter) date(context.Context, string, []string) (Result, error) {
	return Result{Output: in.now().Format(time.UnixDate)}, nil
}

func (in *Interpreter) clear(context.Context, string, []string) (Result, error) {
	return Result{Clear: true}, nil
}
