package transform

import (
	"strings"

	"github.com/JonMunkholm/poimport/internal/source"
	"github.com/JonMunkholm/poimport/internal/target"
)

// Family is the assignment column a resource type renders into.
type Family struct {
	Resource source.ResourceType
	Title    string
	Type     target.ColumnType
}

// Spec returns the column spec for the family.
func (f Family) Spec() target.ColumnSpec {
	return target.ColumnSpec{Title: f.Title, Type: f.Type, Width: 200}
}

var families = map[source.ResourceType]Family{
	source.ResourceWork:     {source.ResourceWork, ColAssignedTo, target.MultiContactList},
	source.ResourceMaterial: {source.ResourceMaterial, ColMaterials, target.MultiPicklist},
	source.ResourceCost:     {source.ResourceCost, ColCostResources, target.MultiPicklist},
}

// FamilyFor returns the column family for a resource type. Every call site
// that renders an assignment goes through here.
func FamilyFor(t source.ResourceType) (Family, bool) {
	f, ok := families[t]
	return f, ok
}

// AssignmentFamilies returns the families in resource type order.
func AssignmentFamilies() []Family {
	out := make([]Family, 0, len(source.ResourceTypes))
	for _, t := range source.ResourceTypes {
		out = append(out, families[t])
	}
	return out
}

// ContactOf builds a contact from the available fields. ok is false when
// both are empty; callers must then leave the cell out entirely.
func ContactOf(name, email string) (c target.Contact, ok bool) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" && email == "" {
		return target.Contact{}, false
	}
	return target.Contact{Name: name, Email: email}, true
}

// AssignmentValues renders the resources assigned to one task, keyed by
// family column title. Work resources become a MULTI_CONTACT value and
// Material and Cost resources a MULTI_PICKLIST value. Unknown resource ids,
// unknown types and contactless people are dropped; duplicates collapse.
func AssignmentValues(assignments []source.Assignment, resources map[string]source.Resource) map[string]*target.ObjectValue {
	contacts := map[string][]target.Contact{}
	labels := map[string][]string{}
	seen := map[string]bool{}

	for _, a := range assignments {
		r, ok := resources[a.ResourceID]
		if !ok || seen[r.ID] {
			continue
		}
		f, ok := FamilyFor(r.Type)
		if !ok {
			continue
		}
		seen[r.ID] = true

		switch f.Type {
		case target.MultiContactList:
			if c, ok := ContactOf(r.Name, r.Email); ok {
				contacts[f.Title] = append(contacts[f.Title], c)
			}
		case target.MultiPicklist:
			if name := strings.TrimSpace(r.Name); name != "" {
				labels[f.Title] = append(labels[f.Title], name)
			}
		}
	}

	out := make(map[string]*target.ObjectValue, len(contacts)+len(labels))
	for title, cs := range contacts {
		out[title] = target.MultiContact(cs...)
	}
	for title, ls := range labels {
		out[title] = target.MultiPicklistValue(ls...)
	}
	return out
}
