package odata

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/JonMunkholm/poimport/internal/source"
)

// number accepts JSON numbers and the quoted decimals verbose OData v3 emits.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = number(f)
	return nil
}

// duration accepts an ISO 8601 duration string or a number of hours, which
// is what the reporting feed stores for durations and work.
type duration string

func (d *duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		s = strings.Trim(s, `"`)
		if strings.HasPrefix(s, "P") || s == "" {
			*d = duration(s)
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Unparseable text is kept and left for the transformer to reject.
		*d = duration(s)
		return nil
	}
	*d = duration("PT" + strconv.FormatFloat(f, 'f', -1, 64) + "H")
	return nil
}

type projectRow struct {
	ProjectID          string `json:"ProjectId"`
	ProjectName        string `json:"ProjectName"`
	ProjectDescription string `json:"ProjectDescription"`
	ProjectOwnerName   string `json:"ProjectOwnerName"`
	ProjectOwnerEmail  string `json:"ProjectOwnerEmail"`
	ProjectStartDate   string `json:"ProjectStartDate"`
	ProjectFinishDate  string `json:"ProjectFinishDate"`
	ProjectStatus      string `json:"ProjectStatus"`
	ProjectPriority    number `json:"ProjectPriority"`
	ProjectPercent     number `json:"ProjectPercentCompleted"`
}

func (r projectRow) toSource() source.Project {
	return source.Project{
		ID:              r.ProjectID,
		Name:            r.ProjectName,
		Description:     r.ProjectDescription,
		OwnerName:       r.ProjectOwnerName,
		OwnerEmail:      r.ProjectOwnerEmail,
		StartDate:       r.ProjectStartDate,
		FinishDate:      r.ProjectFinishDate,
		Status:          r.ProjectStatus,
		Priority:        int(r.ProjectPriority),
		PercentComplete: float64(r.ProjectPercent),
	}
}

type taskRow struct {
	TaskID             string   `json:"TaskId"`
	ProjectID          string   `json:"ProjectId"`
	ParentTaskID       string   `json:"ParentTaskId"`
	TaskName           string   `json:"TaskName"`
	TaskIndex          number   `json:"TaskIndex"`
	TaskOutlineLevel   number   `json:"TaskOutlineLevel"`
	TaskOutlineNumber  string   `json:"TaskOutlineNumber"`
	TaskStartDate      string   `json:"TaskStartDate"`
	TaskFinishDate     string   `json:"TaskFinishDate"`
	TaskDuration       duration `json:"TaskDuration"`
	TaskWork           duration `json:"TaskWork"`
	TaskPercent        number   `json:"TaskPercentCompleted"`
	TaskPriority       number   `json:"TaskPriority"`
	TaskConstraintType number   `json:"TaskConstraintType"`
	TaskConstraintDate string   `json:"TaskConstraintDate"`
	TaskDeadline       string   `json:"TaskDeadline"`
	TaskIsMilestone    bool     `json:"TaskIsMilestone"`
	TaskNotes          string   `json:"TaskNotes"`
}

func (r taskRow) toSource() source.Task {
	parent := r.ParentTaskID
	if parent == r.TaskID {
		parent = ""
	}
	return source.Task{
		ID:              r.TaskID,
		ProjectID:       r.ProjectID,
		ParentID:        parent,
		Name:            r.TaskName,
		TaskIndex:       int(r.TaskIndex),
		OutlineLevel:    int(r.TaskOutlineLevel),
		OutlineNumber:   r.TaskOutlineNumber,
		StartDate:       r.TaskStartDate,
		FinishDate:      r.TaskFinishDate,
		Duration:        string(r.TaskDuration),
		Work:            string(r.TaskWork),
		PercentComplete: float64(r.TaskPercent),
		Priority:        int(r.TaskPriority),
		ConstraintType:  int(r.TaskConstraintType),
		ConstraintDate:  r.TaskConstraintDate,
		Deadline:        r.TaskDeadline,
		IsMilestone:     r.TaskIsMilestone,
		Notes:           r.TaskNotes,
	}
}

type linkRow struct {
	LinkID            string   `json:"LinkId"`
	PredecessorTaskID string   `json:"PredecessorTaskId"`
	SuccessorTaskID   string   `json:"SuccessorTaskId"`
	LinkType          number   `json:"LinkType"`
	LinkLag           duration `json:"LinkLagDuration"`
}

// linkTypes maps the numeric Project link type.
var linkTypes = map[int]source.LinkType{
	0: source.FinishToFinish,
	1: source.FinishToStart,
	2: source.StartToFinish,
	3: source.StartToStart,
}

func (r linkRow) toSource() source.TaskLink {
	lt, ok := linkTypes[int(r.LinkType)]
	if !ok {
		lt = source.FinishToStart
	}
	return source.TaskLink{
		ID:            r.LinkID,
		PredecessorID: r.PredecessorTaskID,
		SuccessorID:   r.SuccessorTaskID,
		Type:          lt,
		Lag:           string(r.LinkLag),
	}
}

type resourceRow struct {
	ResourceID           string `json:"ResourceId"`
	ResourceName         string `json:"ResourceName"`
	ResourceEmailAddress string `json:"ResourceEmailAddress"`
	ResourceType         number `json:"ResourceType"`
	ResourceMaxUnits     number `json:"ResourceMaxUnits"`
	ResourceStandardRate number `json:"ResourceStandardRate"`
	ResourceDepartments  string `json:"ResourceDepartments"`
	ResourceIsActive     bool   `json:"ResourceIsActive"`
}

// resourceTypes maps the numeric Project resource type.
var resourceTypes = map[int]source.ResourceType{
	1: source.ResourceWork,
	2: source.ResourceMaterial,
	3: source.ResourceCost,
}

func (r resourceRow) toSource() source.Resource {
	return source.Resource{
		ID:           r.ResourceID,
		Name:         r.ResourceName,
		Email:        r.ResourceEmailAddress,
		Type:         resourceTypes[int(r.ResourceType)],
		MaxUnits:     float64(r.ResourceMaxUnits),
		StandardRate: float64(r.ResourceStandardRate),
		Department:   r.ResourceDepartments,
		IsActive:     r.ResourceIsActive,
	}
}

type assignmentRow struct {
	AssignmentID    string   `json:"AssignmentId"`
	TaskID          string   `json:"TaskId"`
	ResourceID      string   `json:"ResourceId"`
	AssignmentWork  duration `json:"AssignmentWork"`
	AssignmentUnits number   `json:"AssignmentUnits"`
	AssignmentCost  number   `json:"AssignmentCost"`
}

func (r assignmentRow) toSource() source.Assignment {
	return source.Assignment{
		ID:         r.AssignmentID,
		TaskID:     r.TaskID,
		ResourceID: r.ResourceID,
		Work:       string(r.AssignmentWork),
		Units:      float64(r.AssignmentUnits),
		Cost:       float64(r.AssignmentCost),
	}
}
