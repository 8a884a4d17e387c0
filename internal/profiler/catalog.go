package profiler

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

//go:embed templates/*
var templates embed.FS

type catalogFile struct {
	Tools map[string]config.ToolSpec `yaml:"tools"`
}

// Catalog holds the collector tool specs known to a session.
type Catalog struct {
	tools map[string]config.ToolSpec
}

// LoadCatalog parses the bundled tool catalog and merges overrides over it.
// Overrides for unknown names add new tools.
func LoadCatalog(overrides map[string]config.ToolSpec) (*Catalog, error) {
	data, err := templates.ReadFile("templates/tools.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading bundled catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing bundled catalog: %w", err)
	}

	c := &Catalog{tools: make(map[string]config.ToolSpec, len(file.Tools)+len(overrides))}
	for name, spec := range file.Tools {
		spec.Name = name
		c.tools[name] = spec
	}
	for name, o := range overrides {
		spec := c.tools[name].Merge(o)
		spec.Name = name
		c.tools[name] = spec
	}
	return c, nil
}

// Tool returns the spec registered under name.
func (c *Catalog) Tool(name string) (config.ToolSpec, error) {
	spec, ok := c.tools[name]
	if !ok {
		return config.ToolSpec{}, core.ErrNotFound("tool", name)
	}
	return spec, nil
}

// Names returns the known tool names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template returns the bundled template file called name.
func Template(name string) ([]byte, error) {
	data, err := fs.ReadFile(templates, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("bundled template %s: %w", name, err)
	}
	return data, nil
}
