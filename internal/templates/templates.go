package templates

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

//go:embed catalog.yaml
var catalogYAML []byte

// DefaultID is used when neither the template id nor the project type match.
const DefaultID = "static-site"

// Template is a named starter file set.
type Template struct {
	ID    string             `yaml:"id" json:"id"`
	Name  string             `yaml:"name" json:"name"`
	Type  domain.ProjectType `yaml:"type" json:"type"`
	Files map[string]string  `yaml:"files" json:"-"`
}

// Data feeds placeholders inside template files.
type Data struct {
	Name        string
	Description string
}

// Catalog is an immutable set of templates.
type Catalog struct {
	byID  map[string]Template
	order []string
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]Template, len(file.Templates))}
	for _, t := range file.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template without id")
		}
		if !t.Type.Valid() {
			return nil, fmt.Errorf("template %s: unknown type %q", t.ID, t.Type)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template %s", t.ID)
		}
		if len(t.Files) == 0 {
			return nil, fmt.Errorf("template %s has no files", t.ID)
		}
		c.byID[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	if _, ok := c.byID[DefaultID]; !ok {
		return nil, fmt.Errorf("catalog is missing default template %s", DefaultID)
	}
	return c, nil
}

// List returns templates in catalog order.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Resolve picks a template by id, then by project type, then the default.
func (c *Catalog) Resolve(id string, projectType domain.ProjectType) Template {
	if t, ok := c.byID[strings.TrimSpace(id)]; ok {
		return t
	}
	for _, tid := range c.order {
		if c.byID[tid].Type == projectType {
			return c.byID[tid]
		}
	}
	if projectType == domain.ProjectTypeMicroservice {
		if t, ok := c.byID["node-api"]; ok {
			return t
		}
	}
	return c.byID[DefaultID]
}

// Render expands placeholders in every file of t.
func (c *Catalog) Render(t Template, data Data) (map[string]string, error) {
	if data.Description == "" {
		data.Description = "Your new website on SphereDev Network"
	}
	names := make([]string, 0, len(t.Files))
	for name := range t.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		tpl, err := template.New(name).Option("missingkey=error").Parse(t.Files[name])
		if err != nil {
			return nil, fmt.Errorf("template %s/%s: %w", t.ID, name, err)
		}
		var b strings.Builder
		if err := tpl.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render %s/%s: %w", t.ID, name, err)
		}
		out[name] = b.String()
	}
	return out, nil
}
