package transform

import "github.com/JonMunkholm/poimport/internal/target"

// Sheet name suffixes appended to the project name.
const (
	SuffixSummary   = "Summary"
	SuffixTasks     = "Tasks"
	SuffixResources = "Resources"
)

// Column titles shared by the sheet schemas and the row builders.
const (
	ColProjectName     = "Project Name"
	ColDescription     = "Description"
	ColOwner           = "Owner"
	ColStartDate       = "Start Date"
	ColFinishDate      = "Finish Date"
	ColProjectStatus   = "Project Status"
	ColProjectPriority = "Project Priority"
	ColPercentComplete = "% Complete"
	ColSourceProjectID = "Project Online Project ID"

	ColTaskName       = "Task Name"
	ColEndDate        = "End Date"
	ColDuration       = "Duration"
	ColWork           = "Work"
	ColStatus         = "Status"
	ColPriority       = "Priority"
	ColPredecessors   = "Predecessors"
	ColConstraintType = "Constraint Type"
	ColConstraintDate = "Constraint Date"
	ColDeadline       = "Deadline"
	ColMilestone      = "Milestone"
	ColNotes          = "Notes"
	ColSourceTaskID   = "Project Online Task ID"
	ColCreated        = "Created"
	ColModified       = "Modified"

	ColResourceName     = "Resource Name"
	ColEmail            = "Email"
	ColResourceType     = "Resource Type"
	ColMaxUnits         = "Max Units"
	ColStandardRate     = "Standard Rate"
	ColDepartment       = "Department"
	ColActive           = "Active"
	ColSourceResourceID = "Project Online Resource ID"

	ColAssignedTo    = "Assigned To"
	ColMaterials     = "Materials"
	ColCostResources = "Cost Resources"
)

// Schema is the column layout of one sheet. Columns[0] is the primary column.
type Schema struct {
	Suffix  string
	Columns []target.ColumnSpec
	// SourceIDColumn holds the hidden column keyed by source identity.
	SourceIDColumn string
}

// Primary returns the primary column spec.
func (s Schema) Primary() target.ColumnSpec {
	return s.Columns[0]
}

// Rest returns every column after the primary.
func (s Schema) Rest() []target.ColumnSpec {
	return s.Columns[1:]
}

func col(title string, t target.ColumnType, width int) target.ColumnSpec {
	return target.ColumnSpec{Title: title, Type: t, Width: width}
}

func hidden(title string) target.ColumnSpec {
	return target.ColumnSpec{Title: title, Type: target.TextNumber, Hidden: true}
}

func system(title string, t target.ColumnType) target.ColumnSpec {
	return target.ColumnSpec{Title: title, Type: t, SystemColumnType: string(t)}
}

func primary(title string) target.ColumnSpec {
	return target.ColumnSpec{Title: title, Type: target.TextNumber, Primary: true, Width: 300}
}

// SummarySchema is the one-row project summary sheet.
func SummarySchema() Schema {
	return Schema{
		Suffix: SuffixSummary,
		Columns: []target.ColumnSpec{
			primary(ColProjectName),
			col(ColDescription, target.TextNumber, 300),
			col(ColOwner, target.ContactList, 150),
			col(ColStartDate, target.Date, 100),
			col(ColFinishDate, target.Date, 100),
			col(ColProjectStatus, target.Picklist, 120),
			col(ColProjectPriority, target.Picklist, 120),
			col(ColPercentComplete, target.TextNumber, 90),
			hidden(ColSourceProjectID),
		},
		SourceIDColumn: ColSourceProjectID,
	}
}

// TaskSchema is the hierarchical task sheet. The three assignment families
// come from AssignmentColumn so the sheet and the rows always agree.
func TaskSchema() Schema {
	cols := []target.ColumnSpec{
		primary(ColTaskName),
		col(ColStartDate, target.Date, 100),
		col(ColEndDate, target.Date, 100),
		col(ColDuration, target.Duration, 80),
		col(ColWork, target.TextNumber, 80),
		col(ColPercentComplete, target.TextNumber, 90),
		col(ColStatus, target.Picklist, 110),
		col(ColPriority, target.Picklist, 110),
		col(ColPredecessors, target.Predecessor, 110),
		col(ColConstraintType, target.Picklist, 160),
		col(ColConstraintDate, target.Date, 100),
		col(ColDeadline, target.Date, 100),
		col(ColMilestone, target.Checkbox, 80),
	}
	for _, f := range AssignmentFamilies() {
		cols = append(cols, f.Spec())
	}
	cols = append(cols,
		col(ColNotes, target.TextNumber, 250),
		hidden(ColSourceTaskID),
		system(ColCreated, target.CreatedDate),
		system(ColModified, target.ModifiedDate),
	)
	return Schema{Suffix: SuffixTasks, Columns: cols, SourceIDColumn: ColSourceTaskID}
}

// ResourceSchema is the flat resource sheet.
func ResourceSchema() Schema {
	return Schema{
		Suffix: SuffixResources,
		Columns: []target.ColumnSpec{
			primary(ColResourceName),
			col(ColEmail, target.ContactList, 200),
			col(ColResourceType, target.Picklist, 110),
			col(ColMaxUnits, target.TextNumber, 90),
			col(ColStandardRate, target.TextNumber, 100),
			col(ColDepartment, target.TextNumber, 150),
			col(ColActive, target.Checkbox, 70),
			hidden(ColSourceResourceID),
		},
		SourceIDColumn: ColSourceResourceID,
	}
}

// Schemas returns the three project sheets in creation order.
func Schemas() []Schema {
	return []Schema{SummarySchema(), TaskSchema(), ResourceSchema()}
}
