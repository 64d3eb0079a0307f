package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

func sampleData() *ProjectData {
	return &ProjectData{
		Project: Project{ID: "p1", Name: "Bridge Retrofit", PercentComplete: 10},
		Tasks: []Task{
			{ID: "t1", Name: "Design", TaskIndex: 1, OutlineLevel: 1},
			{ID: "t2", Name: "Build", TaskIndex: 2, OutlineLevel: 1},
			{ID: "bad", Name: "", TaskIndex: 3, OutlineLevel: 1},
		},
		Links: []TaskLink{
			{ID: "l1", PredecessorID: "t1", SuccessorID: "t2", Type: FinishToStart},
			{ID: "l2", PredecessorID: "t1", SuccessorID: "bad", Type: FinishToStart},
		},
		Resources: []Resource{
			{ID: "r1", Name: "Ada", Email: "ada@example.com", Type: ResourceWork},
			{ID: "r2", Name: "Steel", Type: "Gadget"},
		},
		Assignments: []Assignment{
			{ID: "a1", TaskID: "t1", ResourceID: "r1"},
			{ID: "a2", TaskID: "t1", ResourceID: "r2"},
			{ID: "a3", TaskID: "missing", ResourceID: "r1"},
		},
	}
}

// ----------------------------------------------------------------------------
// Validation
// ----------------------------------------------------------------------------

func TestValidate_SkipsInvalidEntities(t *testing.T) {
	clean, rep, err := Validate(sampleData())
	require.NoError(t, err)

	assert.Len(t, clean.Tasks, 2)
	assert.Len(t, clean.Resources, 1)
	assert.Len(t, clean.Links, 1)
	require.Len(t, clean.Assignments, 1)
	assert.Equal(t, "a1", clean.Assignments[0].ID)

	entities := map[string]int{}
	for _, s := range rep.Skipped {
		entities[s.Entity]++
	}
	assert.Equal(t, map[string]int{"task": 1, "resource": 1, "link": 1, "assignment": 2}, entities)
}

func TestValidate_InvalidProjectAborts(t *testing.T) {
	d := sampleData()
	d.Project.Name = ""

	_, _, err := Validate(d)
	require.Error(t, err)

	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "project", ve.Entity)
	assert.Equal(t, "Name", ve.Field)
}

func TestValidate_ResourceTypeMessage(t *testing.T) {
	_, rep, err := Validate(sampleData())
	require.NoError(t, err)

	for _, s := range rep.Skipped {
		if s.Entity == "resource" {
			assert.Contains(t, s.Message, "must be one of Work Material Cost")
			return
		}
	}
	t.Fatal("resource skip not reported")
}

// ----------------------------------------------------------------------------
// Reading
// ----------------------------------------------------------------------------

func TestFetch_ReadsAllCollections(t *testing.T) {
	r := NewStatic(sampleData())

	data, err := Fetch(context.Background(), r, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Bridge Retrofit", data.Project.Name)
	assert.Len(t, data.Tasks, 3)
	assert.Len(t, data.Links, 2)
	assert.Len(t, data.Resources, 2)
	assert.Len(t, data.Assignments, 3)
}

func TestFetch_UnknownProject(t *testing.T) {
	_, err := Fetch(context.Background(), NewStatic(), "nope")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "SRC002", apperr.MapError(err).Code)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.yaml")
	doc := `
projects:
  - id: p1
    name: Bridge Retrofit
    tasks:
      - {id: t1, name: Design, taskIndex: 1, outlineLevel: 1, duration: PT16H}
    resources:
      - {id: r1, name: Ada, type: Work, email: ada@example.com}
    assignments:
      - {id: a1, taskId: t1, resourceId: r1}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)

	projects, err := s.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "p1", projects[0].ID)

	tasks, err := s.ListTasks(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "PT16H", tasks[0].Duration)
}
