package source

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/poimport/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Report lists the entities dropped by Validate.
type Report struct {
	Skipped []*apperr.ValidationError
}

// Validate checks every entity. An invalid project is returned as an error.
// Invalid tasks, links, resources and assignments are removed from the
// returned copy and listed in the report, as are links and assignments that
// reference a missing task or resource.
func Validate(d *ProjectData) (*ProjectData, Report, error) {
	var rep Report

	if err := check("project", d.Project.ID, d.Project); err != nil {
		return nil, rep, err
	}

	out := &ProjectData{Project: d.Project}

	taskIDs := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if err := check("task", t.ID, t); err != nil {
			rep.Skipped = append(rep.Skipped, err)
			continue
		}
		taskIDs[t.ID] = true
		out.Tasks = append(out.Tasks, t)
	}

	resourceIDs := make(map[string]bool, len(d.Resources))
	for _, r := range d.Resources {
		if err := check("resource", r.ID, r); err != nil {
			rep.Skipped = append(rep.Skipped, err)
			continue
		}
		resourceIDs[r.ID] = true
		out.Resources = append(out.Resources, r)
	}

	for _, l := range d.Links {
		if err := check("link", l.ID, l); err != nil {
			rep.Skipped = append(rep.Skipped, err)
			continue
		}
		if !taskIDs[l.PredecessorID] || !taskIDs[l.SuccessorID] {
			rep.Skipped = append(rep.Skipped, &apperr.ValidationError{
				Entity: "link", ID: l.ID, Field: "PredecessorID", Message: "references a task that was not imported",
			})
			continue
		}
		out.Links = append(out.Links, l)
	}

	for _, a := range d.Assignments {
		if err := check("assignment", a.ID, a); err != nil {
			rep.Skipped = append(rep.Skipped, err)
			continue
		}
		switch {
		case !taskIDs[a.TaskID]:
			rep.Skipped = append(rep.Skipped, &apperr.ValidationError{
				Entity: "assignment", ID: a.ID, Field: "TaskID", Message: "unknown task " + a.TaskID,
			})
			continue
		case !resourceIDs[a.ResourceID]:
			rep.Skipped = append(rep.Skipped, &apperr.ValidationError{
				Entity: "assignment", ID: a.ID, Field: "ResourceID", Message: "unknown resource " + a.ResourceID,
			})
			continue
		}
		out.Assignments = append(out.Assignments, a)
	}

	return out, rep, nil
}

// check runs the struct tags and converts the first failure.
func check(entity, id string, v any) *apperr.ValidationError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fe.Field()+" "+describe(fe))
		}
		return &apperr.ValidationError{
			Entity:  entity,
			ID:      id,
			Field:   fieldErrs[0].Field(),
			Message: strings.Join(fields, "; "),
		}
	}
	return &apperr.ValidationError{Entity: entity, ID: id, Message: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "is not an email address"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	}
	return "failed " + fe.Tag()
}
