package source

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

// Static is an in-memory Reader over fixed data, keyed by project ID.
type Static struct {
	projects map[string]*ProjectData
}

// NewStatic returns a Reader over the given projects.
func NewStatic(projects ...*ProjectData) *Static {
	s := &Static{projects: make(map[string]*ProjectData, len(projects))}
	for _, p := range projects {
		s.projects[p.Project.ID] = p
	}
	return s
}

type exportFile struct {
	Projects []struct {
		Project     `yaml:",inline"`
		Tasks       []Task       `yaml:"tasks"`
		Links       []TaskLink   `yaml:"links"`
		Resources   []Resource   `yaml:"resources"`
		Assignments []Assignment `yaml:"assignments"`
	} `yaml:"projects"`
}

// LoadFile reads a YAML (or JSON) export with a top-level "projects" list.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}

	var f exportFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse source file %s: %w", path, err)
	}

	data := make([]*ProjectData, 0, len(f.Projects))
	for _, p := range f.Projects {
		data = append(data, &ProjectData{
			Project:     p.Project,
			Tasks:       p.Tasks,
			Links:       p.Links,
			Resources:   p.Resources,
			Assignments: p.Assignments,
		})
	}
	return NewStatic(data...), nil
}

func (s *Static) lookup(id string) (*ProjectData, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "source project", ID: id}
	}
	return p, nil
}

func (s *Static) ListProjects(ctx context.Context) ([]Project, error) {
	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Static) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	cp := p.Project
	return &cp, nil
}

func (s *Static) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	p, err := s.lookup(projectID)
	if err != nil {
		return nil, err
	}
	return append([]Task(nil), p.Tasks...), nil
}

func (s *Static) ListTaskLinks(ctx context.Context, projectID string) ([]TaskLink, error) {
	p, err := s.lookup(projectID)
	if err != nil {
		return nil, err
	}
	return append([]TaskLink(nil), p.Links...), nil
}

func (s *Static) ListResources(ctx context.Context, projectID string) ([]Resource, error) {
	p, err := s.lookup(projectID)
	if err != nil {
		return nil, err
	}
	return append([]Resource(nil), p.Resources...), nil
}

func (s *Static) ListAssignments(ctx context.Context, projectID string) ([]Assignment, error) {
	p, err := s.lookup(projectID)
	if err != nil {
		return nil, err
	}
	return append([]Assignment(nil), p.Assignments...), nil
}
