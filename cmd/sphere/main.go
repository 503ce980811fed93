package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	apiclient "github.com/Sasha125a/sphere-dev-network/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
	Project    string `json:"project,omitempty"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "use":
		err = commandUse(args)
	case "project":
		err = commandProject(args)
	case "files":
		err = commandFiles(args)
	case "commit":
		err = commandCommit(args)
	case "log":
		err = commandLog(args)
	case "deploy":
		err = commandDeploy(args)
	case "servers":
		err = commandServers(args)
	case "metrics":
		err = commandMetrics(args)
	case "shell":
		err = commandShell(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// session holds what every subcommand needs after flag parsing.
type session struct {
	cfg     cliConfig
	client  *apiclient.Client
	project string
}

// newFlagSet registers the flags shared by every subcommand.
func newFlagSet(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	api := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	project := fs.StringP("project", "p", "", "Project identifier (default from 'sphere use')")
	return fs, api, project
}

func openSession(api, project string, needProject bool) (session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return session{}, err
	}
	if strings.TrimSpace(api) != "" {
		cfg.APIBaseURL = api
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return session{}, err
	}
	s := session{cfg: cfg, client: client, project: strings.TrimSpace(project)}
	if s.project == "" {
		s.project = cfg.Project
	}
	if needProject && s.project == "" {
		return session{}, errors.New("--project is required (or select one with 'sphere use <id>')")
	}
	return s, nil
}

func commandUse(args []string) error {
	fs, api, _ := newFlagSet("use")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: sphere use <project-id>")
	}
	s, err := openSession(*api, "", false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	p, err := s.client.GetProject(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	s.cfg.Project = p.ID
	if strings.TrimSpace(*api) != "" {
		s.cfg.APIBaseURL = *api
	}
	if err := saveConfig(s.cfg); err != nil {
		return err
	}
	fmt.Printf("using project %s (%s)\n", p.Name, p.ID)
	return nil
}

func commandProject(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: sphere project [list|create|show]")
	}
	switch args[0] {
	case "list":
		return projectList(args[1:])
	case "create":
		return projectCreate(args[1:])
	case "show":
		return projectShow(args[1:])
	default:
		return fmt.Errorf("unknown project command: %s", args[0])
	}
}

func projectList(args []string) error {
	fs, api, _ := newFlagSet("project list")
	fs.Parse(args)
	s, err := openSession(*api, "", false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	projects, err := s.client.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("No projects found. Create one first!")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tDOMAIN")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Type, p.Status, p.Domain)
	}
	return tw.Flush()
}

func projectCreate(args []string) error {
	fs, api, _ := newFlagSet("project create")
	name := fs.String("name", "", "Project name")
	projType := fs.String("type", "website", "Project type (website|webapp|api|microservice)")
	template := fs.String("template", "", "Template id (defaults by type)")
	domain := fs.String("domain", "", "Domain to register under the platform TLD")
	description := fs.String("description", "", "Project description")
	database := fs.String("database", "", "Database kind (relational|document)")
	use := fs.Bool("use", true, "Select the new project for later commands")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	s, err := openSession(*api, "", false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p, err := s.client.CreateProject(ctx, apiclient.CreateProjectInput{
		Name:        *name,
		Type:        *projType,
		Template:    *template,
		Domain:      *domain,
		Description: *description,
		Database:    *database,
	})
	if err != nil {
		return err
	}
	fmt.Printf("project created: %s (%s)\n", p.ID, p.Name)
	if *use {
		s.cfg.Project = p.ID
		return saveConfig(s.cfg)
	}
	return nil
}

func projectShow(args []string) error {
	fs, api, project := newFlagSet("project show")
	fs.Parse(args)
	s, err := openSession(*api, *project, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	p, err := s.client.GetProject(ctx, s.project)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, p)
}

func commandFiles(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: sphere files [ls|cat|put]")
	}
	fs, api, project := newFlagSet("files " + args[0])
	path := fs.String("path", "", "File path inside the project")
	source := fs.String("from", "", "Local file to upload (default stdin)")
	fs.Parse(args[1:])
	s, err := openSession(*api, *project, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "ls":
		files, err := s.client.ListFiles(ctx, s.project)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Path, f.Size, f.ModTime.Format(time.RFC3339))
		}
		return tw.Flush()
	case "cat":
		if *path == "" {
			return errors.New("--path is required")
		}
		content, err := s.client.ReadFile(ctx, s.project, *path)
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	case "put":
		if *path == "" {
			return errors.New("--path is required")
		}
		var data []byte
		if *source != "" {
			data, err = os.ReadFile(*source)
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return err
		}
		if err := s.client.WriteFile(ctx, s.project, *path, string(data)); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", *path, len(data))
		return nil
	default:
		return fmt.Errorf("unknown files command: %s", args[0])
	}
}

func commandCommit(args []string) error {
	fs, api, project := newFlagSet("commit")
	message := fs.StringP("message", "m", "", "Commit message")
	author := fs.String("author", "", "Commit author")
	fs.Parse(args)
	if strings.TrimSpace(*message) == "" {
		return errors.New("--message is required")
	}
	s, err := openSession(*api, *project, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c, err := s.client.Commit(ctx, s.project, *message, *author)
	if err != nil {
		return err
	}
	fmt.Printf("[main %s] %s (%d files)\n", shortID(c.ID), c.Message, len(c.Files))
	return nil
}

func commandLog(args []string) error {
	fs, api, project := newFlagSet("log")
	fs.Parse(args)
	s, err := openSession(*api, *project, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	commits, err := s.client.ListCommits(ctx, s.project)
	if err != nil {
		return err
	}
	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		fmt.Printf("%s %s %s  %s\n", shortID(c.ID), c.Timestamp.Format(time.RFC3339), c.Author, c.Message)
	}
	return nil
}

func commandDeploy(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: sphere deploy [run|status|release|list]")
	}
	fs, api, project := newFlagSet("deploy " + args[0])
	server := fs.StringP("server", "s", "", "Target server key (default development)")
	limit := fs.Int("limit", 5, "Maximum number of deployments")
	fs.Parse(args[1:])
	s, err := openSession(*api, *project, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch args[0] {
	case "run":
		dep, err := s.client.Deploy(ctx, s.project, *server)
		if err != nil {
			var apiErr apiclient.APIError
			if errors.As(err, &apiErr) && apiErr.Stage != "" {
				return fmt.Errorf("deployment failed at %s: %w", apiErr.Stage, err)
			}
			return err
		}
		fmt.Printf("deployed %s to %s: https://%s\n", dep.ID, dep.Server, dep.URL)
		return nil
	case "status":
		dep, err := s.client.DeploymentStatus(ctx, s.project)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, dep)
	case "release":
		dep, err := s.client.Release(ctx, s.project, *server)
		if err != nil {
			return err
		}
		fmt.Printf("released %s from %s\n", dep.ID, dep.Server)
		return nil
	case "list":
		deployments, err := s.client.ListDeployments(ctx, s.project, *limit)
		if err != nil {
			return err
		}
		for _, dep := range deployments {
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", dep.ID, dep.Server, dep.Status, dep.Stage, dep.CreatedAt.Format(time.RFC3339))
		}
		return nil
	default:
		return fmt.Errorf("unknown deploy command: %s", args[0])
	}
}

func commandServers(args []string) error {
	fs, api, _ := newFlagSet("servers")
	fs.Parse(args)
	s, err := openSession(*api, "", false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	servers, err := s.client.ListServers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tHOST\tSLOTS\tCPU\tMEMORY\tSTORAGE")
	for _, srv := range servers {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d/%d\t%d/%d\t%d/%d\n",
			srv.Key, srv.Host,
			len(srv.DeployedProjects)+srv.Pending, srv.Capacity,
			srv.Available.CPU, srv.Budget.CPU,
			srv.Available.Memory, srv.Budget.Memory,
			srv.Available.Storage, srv.Budget.Storage)
	}
	return tw.Flush()
}

func commandMetrics(args []string) error {
	fs, api, project := newFlagSet("metrics")
	fs.Parse(args)
	s, err := openSession(*api, *project, true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	m, err := s.client.Metrics(ctx, s.project)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, m)
}

func commandShell(args []string) error {
	fs, api, project := newFlagSet("shell")
	fs.Parse(args)
	s, err := openSession(*api, *project, false)
	if err != nil {
		return err
	}
	prompt := "spheredev:~$ "
	if s.project != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		p, err := s.client.GetProject(ctx, s.project)
		cancel()
		if err != nil {
			return err
		}
		prompt = "spheredev:~/projects/" + p.Name + "$ "
	}
	return runShell(context.Background(), s.client, s.project, prompt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "sphere", "config.json"), nil
}

func printUsage() {
	fmt.Printf("sphere CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	sphere use <project-id>
	sphere project list
	sphere project create --name <name> [--type website|webapp|api|microservice] [--template id] [--domain name] [--database relational|document]
	sphere project show [--project id]
	sphere files ls|cat|put [--project id] [--path file] [--from local-file]
	sphere commit -m <message> [--author name]
	sphere log
	sphere deploy run|status|release|list [--server key] [--limit N]
	sphere servers
	sphere metrics
	sphere shell [--project id]
	sphere version

Every command accepts --api <url> (default ` + apiclient.DefaultBaseURL + `).
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
