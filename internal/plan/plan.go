// Package plan reads strategy plan files.
package plan

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/ContentForge/internal/database"
)

// File is the YAML layout of a strategy plan.
type File struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Audience    string   `yaml:"audience"`
	Feeds       []string `yaml:"feeds"`
	Sources     []string `yaml:"sources"`
	Pillars     []Pillar `yaml:"pillars"`
}

// Pillar is a pillar title with its cluster titles.
type Pillar struct {
	Title    string   `yaml:"title"`
	Clusters []string `yaml:"clusters"`
}

// Load reads and validates a plan file.
func Load(path string) (*database.NewStrategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates plan YAML and converts it into a strategy to create.
func Parse(data []byte) (*database.NewStrategy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return nil, errors.New("plan: name is required")
	}
	if len(f.Pillars) == 0 {
		return nil, errors.New("plan: at least one pillar is required")
	}

	seen := make(map[string]bool)
	ns := &database.NewStrategy{
		Name:        f.Name,
		Description: strings.TrimSpace(f.Description),
		Audience:    strings.TrimSpace(f.Audience),
		Feeds:       f.Feeds,
		Sources:     f.Sources,
	}
	for i, p := range f.Pillars {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			return nil, fmt.Errorf("plan: pillar %d has no title", i+1)
		}
		np := database.NewPillar{Title: title}
		for _, c := range p.Clusters {
			c = strings.TrimSpace(c)
			if c == "" {
				return nil, fmt.Errorf("plan: pillar %q has an empty cluster title", title)
			}
			np.Clusters = append(np.Clusters, c)
		}
		for _, t := range append([]string{title}, np.Clusters...) {
			key := strings.ToLower(t)
			if seen[key] {
				return nil, fmt.Errorf("plan: duplicate article title %q", t)
			}
			seen[key] = true
		}
		ns.Pillars = append(ns.Pillars, np)
	}
	return ns, nil
}
