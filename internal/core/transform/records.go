package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/poimport/internal/source"
	"github.com/JonMunkholm/poimport/internal/target"
)

// Record is one row ready to be written, keyed by column title. Values are
// scalars (string, float64, bool) or *target.ObjectValue. Empty fields are
// omitted rather than written as blanks.
type Record struct {
	SourceID       string
	ParentSourceID string
	Depth          int
	Values         map[string]any
}

type values map[string]any

func (v values) text(title, s string) {
	if s = strings.TrimSpace(s); s != "" {
		v[title] = s
	}
}

func (v values) number(title string, f float64) {
	v[title] = f
}

func (v values) object(title string, o *target.ObjectValue) {
	if o != nil {
		v[title] = o
	}
}

// contactValue returns a CONTACT value, or nil when there is nothing to
// address. Contact list cells need an email.
func contactValue(name, email string) *target.ObjectValue {
	c, ok := ContactOf(name, email)
	if !ok || c.Email == "" {
		return nil
	}
	return &target.ObjectValue{Type: target.ObjectContact, Contact: &c}
}

// ProjectRecord renders the summary row.
func ProjectRecord(p source.Project) Record {
	v := values{}
	v.text(ColProjectName, p.Name)
	v.text(ColDescription, p.Description)
	v.object(ColOwner, contactValue(p.OwnerName, p.OwnerEmail))
	v.text(ColStartDate, Date(p.StartDate))
	v.text(ColFinishDate, Date(p.FinishDate))
	v.text(ColProjectStatus, ProjectStatus(p.Status, p.PercentComplete))
	v.text(ColProjectPriority, Priority(p.Priority))
	v.number(ColPercentComplete, p.PercentComplete)
	v.text(ColSourceProjectID, p.ID)
	return Record{SourceID: p.ID, Values: v}
}

// TaskRecords renders every task in flattened order.
func TaskRecords(d *source.ProjectData) []Record {
	nodes := Flatten(d.Tasks)
	rows := RowNumbers(nodes)
	resources := d.ResourceByID()

	byTask := map[string][]source.Assignment{}
	for _, a := range d.Assignments {
		byTask[a.TaskID] = append(byTask[a.TaskID], a)
	}
	preds := map[string][]source.TaskLink{}
	for _, l := range d.Links {
		preds[l.SuccessorID] = append(preds[l.SuccessorID], l)
	}

	out := make([]Record, 0, len(nodes))
	for _, n := range nodes {
		t := n.Task
		v := values{}
		v.text(ColTaskName, t.Name)
		v.text(ColStartDate, Date(t.StartDate))
		v.text(ColEndDate, Date(t.FinishDate))
		if days, ok := DurationDays(t.Duration); ok {
			v.number(ColDuration, days)
		}
		if hours, ok := DurationHours(t.Work); ok {
			v.text(ColWork, hours)
		}
		v.number(ColPercentComplete, t.PercentComplete)
		v.text(ColStatus, TaskStatus(t.PercentComplete))
		v.text(ColPriority, Priority(t.Priority))
		v.text(ColPredecessors, Predecessors(preds[t.ID], rows))
		v.text(ColConstraintType, Constraint(t.ConstraintType))
		v.text(ColConstraintDate, Date(t.ConstraintDate))
		v.text(ColDeadline, Date(t.Deadline))
		if t.IsMilestone {
			v[ColMilestone] = true
		}
		for title, obj := range AssignmentValues(byTask[t.ID], resources) {
			v.object(title, obj)
		}
		v.text(ColNotes, t.Notes)
		v.text(ColSourceTaskID, t.ID)

		out = append(out, Record{
			SourceID:       t.ID,
			ParentSourceID: n.ParentID,
			Depth:          n.Depth,
			Values:         v,
		})
	}
	return out
}

// ResourceRecords renders the resource rows in name order.
func ResourceRecords(resources []source.Resource) []Record {
	sorted := append([]source.Resource(nil), resources...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	out := make([]Record, 0, len(sorted))
	for _, r := range sorted {
		v := values{}
		v.text(ColResourceName, r.Name)
		v.object(ColEmail, contactValue(r.Name, r.Email))
		v.text(ColResourceType, string(r.Type))
		if r.MaxUnits > 0 {
			v.number(ColMaxUnits, r.MaxUnits)
		}
		if r.StandardRate > 0 {
			v.number(ColStandardRate, r.StandardRate)
		}
		v.text(ColDepartment, r.Department)
		v[ColActive] = r.IsActive
		v.text(ColSourceResourceID, r.ID)
		out = append(out, Record{SourceID: r.ID, Values: v})
	}
	return out
}

// Predecessors renders links into a row-number expression such as
// "2FS, 3SS +1d". Links to tasks without a row are dropped.
func Predecessors(links []source.TaskLink, rows map[string]int) string {
	type pred struct {
		row  int
		text string
	}
	var ps []pred
	for _, l := range links {
		row, ok := rows[l.PredecessorID]
		if !ok {
			continue
		}
		lt := l.Type
		if lt == "" {
			lt = source.FinishToStart
		}
		s := fmt.Sprintf("%d%s", row, lt)
		if lag, ok := DurationDays(l.Lag); ok && lag != 0 {
			sign := "+"
			if lag < 0 {
				sign = "-"
				lag = -lag
			}
			s += " " + sign + strconv.FormatFloat(lag, 'f', -1, 64) + "d"
		}
		ps = append(ps, pred{row, s})
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].row < ps[j].row })

	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.text
	}
	return strings.Join(parts, ", ")
}
