// Package source defines the Project Online entities the importer reads and
// the read-only collaborator that supplies them.
package source

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ResourceType decides which assignment column family a resource lands in.
type ResourceType string

const (
	ResourceWork     ResourceType = "Work"
	ResourceMaterial ResourceType = "Material"
	ResourceCost     ResourceType = "Cost"
)

// ResourceTypes lists the valid resource types in catalog order.
var ResourceTypes = []ResourceType{ResourceWork, ResourceMaterial, ResourceCost}

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	return t == ResourceWork || t == ResourceMaterial || t == ResourceCost
}

// LinkType is a predecessor relationship.
type LinkType string

const (
	FinishToFinish LinkType = "FF"
	FinishToStart  LinkType = "FS"
	StartToFinish  LinkType = "SF"
	StartToStart   LinkType = "SS"
)

// Project is a Project Online project.
type Project struct {
	ID              string  `yaml:"id" validate:"required"`
	Name            string  `yaml:"name" validate:"required"`
	Description     string  `yaml:"description,omitempty"`
	OwnerName       string  `yaml:"ownerName,omitempty"`
	OwnerEmail      string  `yaml:"ownerEmail,omitempty" validate:"omitempty,email"`
	StartDate       string  `yaml:"startDate,omitempty"`
	FinishDate      string  `yaml:"finishDate,omitempty"`
	Status          string  `yaml:"status,omitempty"`
	Priority        int     `yaml:"priority,omitempty"`
	PercentComplete float64 `yaml:"percentComplete,omitempty" validate:"gte=0,lte=100"`
}

// Task is one project task. TaskIndex orders tasks within the project;
// OutlineLevel is the depth (1 for top-level, 0 for the project summary).
type Task struct {
	ID              string  `yaml:"id" validate:"required"`
	ProjectID       string  `yaml:"projectId,omitempty"`
	ParentID        string  `yaml:"parentId,omitempty"`
	Name            string  `yaml:"name" validate:"required"`
	TaskIndex       int     `yaml:"taskIndex" validate:"gte=0"`
	OutlineLevel    int     `yaml:"outlineLevel" validate:"gte=0"`
	OutlineNumber   string  `yaml:"outlineNumber,omitempty"`
	StartDate       string  `yaml:"startDate,omitempty"`
	FinishDate      string  `yaml:"finishDate,omitempty"`
	Duration        string  `yaml:"duration,omitempty"`
	Work            string  `yaml:"work,omitempty"`
	PercentComplete float64 `yaml:"percentComplete,omitempty" validate:"gte=0,lte=100"`
	Priority        int     `yaml:"priority,omitempty"`
	ConstraintType  int     `yaml:"constraintType,omitempty" validate:"gte=0,lte=7"`
	ConstraintDate  string  `yaml:"constraintDate,omitempty"`
	Deadline        string  `yaml:"deadline,omitempty"`
	IsMilestone     bool    `yaml:"isMilestone,omitempty"`
	Notes           string  `yaml:"notes,omitempty"`
}

// TaskLink is a predecessor relationship between two tasks.
type TaskLink struct {
	ID            string   `yaml:"id,omitempty"`
	PredecessorID string   `yaml:"predecessorId" validate:"required"`
	SuccessorID   string   `yaml:"successorId" validate:"required"`
	Type          LinkType `yaml:"type" validate:"oneof=FF FS SF SS"`
	Lag           string   `yaml:"lag,omitempty"`
}

// Resource is a person, material or cost.
type Resource struct {
	ID           string       `yaml:"id" validate:"required"`
	Name         string       `yaml:"name" validate:"required"`
	Email        string       `yaml:"email,omitempty" validate:"omitempty,email"`
	Type         ResourceType `yaml:"type" validate:"oneof=Work Material Cost"`
	MaxUnits     float64      `yaml:"maxUnits,omitempty" validate:"gte=0"`
	StandardRate float64      `yaml:"standardRate,omitempty" validate:"gte=0"`
	Department   string       `yaml:"department,omitempty"`
	IsActive     bool         `yaml:"isActive,omitempty"`
}

// Assignment links one task to one resource.
type Assignment struct {
	ID         string  `yaml:"id" validate:"required"`
	TaskID     string  `yaml:"taskId" validate:"required"`
	ResourceID string  `yaml:"resourceId" validate:"required"`
	Work       string  `yaml:"work,omitempty"`
	Units      float64 `yaml:"units,omitempty" validate:"gte=0"`
	Cost       float64 `yaml:"cost,omitempty" validate:"gte=0"`
}

// Reader is the read-only source collaborator. Pagination is handled by the
// implementation.
type Reader interface {
	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListTasks(ctx context.Context, projectID string) ([]Task, error)
	ListTaskLinks(ctx context.Context, projectID string) ([]TaskLink, error)
	ListResources(ctx context.Context, projectID string) ([]Resource, error)
	ListAssignments(ctx context.Context, projectID string) ([]Assignment, error)
}

// ProjectData is everything read for one project.
type ProjectData struct {
	Project     Project
	Tasks       []Task
	Links       []TaskLink
	Resources   []Resource
	Assignments []Assignment
}

// ResourceByID indexes the resources.
func (d *ProjectData) ResourceByID() map[string]Resource {
	m := make(map[string]Resource, len(d.Resources))
	for _, r := range d.Resources {
		m[r.ID] = r
	}
	return m
}

// Fetch reads a project and its collections. The collections are independent
// and read concurrently.
func Fetch(ctx context.Context, r Reader, projectID string) (*ProjectData, error) {
	project, err := r.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}

	data := &ProjectData{Project: *project}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tasks, err := r.ListTasks(gctx, projectID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		data.Tasks = tasks
		return nil
	})
	g.Go(func() error {
		links, err := r.ListTaskLinks(gctx, projectID)
		if err != nil {
			return fmt.Errorf("list task links: %w", err)
		}
		data.Links = links
		return nil
	})
	g.Go(func() error {
		resources, err := r.ListResources(gctx, projectID)
		if err != nil {
			return fmt.Errorf("list resources: %w", err)
		}
		data.Resources = resources
		return nil
	})
	g.Go(func() error {
		assignments, err := r.ListAssignments(gctx, projectID)
		if err != nil {
			return fmt.Errorf("list assignments: %w", err)
		}
		data.Assignments = assignments
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}
