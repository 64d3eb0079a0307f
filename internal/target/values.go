package target

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// ColumnType is the fixed set of column types the target accepts.
type ColumnType string

const (
	TextNumber       ColumnType = "TEXT_NUMBER"
	ContactList      ColumnType = "CONTACT_LIST"
	MultiContactList ColumnType = "MULTI_CONTACT_LIST"
	Date             ColumnType = "DATE"
	Picklist         ColumnType = "PICKLIST"
	MultiPicklist    ColumnType = "MULTI_PICKLIST"
	Checkbox         ColumnType = "CHECKBOX"
	Predecessor      ColumnType = "PREDECESSOR"
	Duration         ColumnType = "DURATION"
	AutoNumber       ColumnType = "AUTO_NUMBER"
	CreatedDate      ColumnType = "CREATED_DATE"
	ModifiedDate     ColumnType = "MODIFIED_DATE"
	CreatedBy        ColumnType = "CREATED_BY"
	ModifiedBy       ColumnType = "MODIFIED_BY"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TextNumber, ContactList, MultiContactList, Date, Picklist, MultiPicklist,
		Checkbox, Predecessor, Duration, AutoNumber, CreatedDate, ModifiedDate,
		CreatedBy, ModifiedBy:
		return true
	}
	return false
}

// System reports whether the target fills t itself.
func (t ColumnType) System() bool {
	switch t {
	case AutoNumber, CreatedDate, ModifiedDate, CreatedBy, ModifiedBy:
		return true
	}
	return false
}

// CellLink identifies a column in another sheet. Picklist columns bound to
// the reference catalog carry exactly one option holding a CellLink.
type CellLink struct {
	SheetID  int64 `json:"sheetId"`
	ColumnID int64 `json:"columnId"`
}

func (l CellLink) String() string {
	return fmt.Sprintf("sheet %d column %d", l.SheetID, l.ColumnID)
}

// PicklistOption is either a literal label or a cell-link reference.
type PicklistOption struct {
	Label string
	Link  *CellLink
}

// LinkOption returns a picklist option sourced from ref.
func LinkOption(ref CellLink) PicklistOption {
	return PicklistOption{Link: &ref}
}

type cellLinkValue struct {
	ObjectType string `json:"objectType"`
	SheetID    int64  `json:"sheetId"`
	ColumnID   int64  `json:"columnId"`
}

type linkOptionWire struct {
	Value cellLinkValue `json:"value"`
}

// MarshalJSON encodes literals as strings and links as
// {"value":{"objectType":"CELL_LINK","sheetId":..,"columnId":..}}.
func (o PicklistOption) MarshalJSON() ([]byte, error) {
	if o.Link == nil {
		return sonic.Marshal(o.Label)
	}
	return sonic.Marshal(linkOptionWire{Value: cellLinkValue{
		ObjectType: "CELL_LINK",
		SheetID:    o.Link.SheetID,
		ColumnID:   o.Link.ColumnID,
	}})
}

func (o *PicklistOption) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		o.Link = nil
		return sonic.Unmarshal(b, &o.Label)
	}
	var w linkOptionWire
	if err := sonic.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Value.ObjectType != "CELL_LINK" {
		return fmt.Errorf("unsupported picklist option object type %q", w.Value.ObjectType)
	}
	o.Label = ""
	o.Link = &CellLink{SheetID: w.Value.SheetID, ColumnID: w.Value.ColumnID}
	return nil
}

// ObjectType tags an ObjectValue.
type ObjectType string

const (
	ObjectContact       ObjectType = "CONTACT"
	ObjectMultiContact  ObjectType = "MULTI_CONTACT"
	ObjectMultiPicklist ObjectType = "MULTI_PICKLIST"
)

// Contact is a person reference.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ObjectValue is a structured cell value.
type ObjectValue struct {
	Type     ObjectType
	Contact  *Contact  // CONTACT
	Contacts []Contact // MULTI_CONTACT
	Labels   []string  // MULTI_PICKLIST
}

// MultiContact returns a MULTI_CONTACT value.
func MultiContact(contacts ...Contact) *ObjectValue {
	return &ObjectValue{Type: ObjectMultiContact, Contacts: contacts}
}

// MultiPicklistValue returns a MULTI_PICKLIST value.
func MultiPicklistValue(labels ...string) *ObjectValue {
	return &ObjectValue{Type: ObjectMultiPicklist, Labels: labels}
}

type contactWire struct {
	ObjectType ObjectType `json:"objectType"`
	Name       string     `json:"name,omitempty"`
	Email      string     `json:"email,omitempty"`
}

type objectWire struct {
	ObjectType ObjectType        `json:"objectType"`
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	Values     []json.RawMessage `json:"values,omitempty"`
}

func (v ObjectValue) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ObjectContact:
		c := Contact{}
		if v.Contact != nil {
			c = *v.Contact
		}
		return sonic.Marshal(contactWire{ObjectType: ObjectContact, Name: c.Name, Email: c.Email})
	case ObjectMultiContact:
		values := make([]contactWire, len(v.Contacts))
		for i, c := range v.Contacts {
			values[i] = contactWire{ObjectType: ObjectContact, Name: c.Name, Email: c.Email}
		}
		return sonic.Marshal(struct {
			ObjectType ObjectType    `json:"objectType"`
			Values     []contactWire `json:"values"`
		}{ObjectMultiContact, values})
	case ObjectMultiPicklist:
		return sonic.Marshal(struct {
			ObjectType ObjectType `json:"objectType"`
			Values     []string   `json:"values"`
		}{ObjectMultiPicklist, v.Labels})
	}
	return nil, fmt.Errorf("unsupported object value type %q", v.Type)
}

func (v *ObjectValue) UnmarshalJSON(b []byte) error {
	var w objectWire
	if err := sonic.Unmarshal(b, &w); err != nil {
		return err
	}
	*v = ObjectValue{Type: w.ObjectType}
	switch w.ObjectType {
	case ObjectContact:
		v.Contact = &Contact{Name: w.Name, Email: w.Email}
	case ObjectMultiContact:
		for _, raw := range w.Values {
			var c contactWire
			if err := sonic.Unmarshal(raw, &c); err != nil {
				return err
			}
			v.Contacts = append(v.Contacts, Contact{Name: c.Name, Email: c.Email})
		}
	case ObjectMultiPicklist:
		for _, raw := range w.Values {
			var s string
			if err := sonic.Unmarshal(raw, &s); err != nil {
				return err
			}
			v.Labels = append(v.Labels, s)
		}
	}
	return nil
}

// Cell is a single cell value. Value holds scalars; ObjectValue holds
// structured values and takes precedence when set.
type Cell struct {
	ColumnID     int64        `json:"columnId"`
	Value        any          `json:"value,omitempty"`
	ObjectValue  *ObjectValue `json:"objectValue,omitempty"`
	DisplayValue string       `json:"displayValue,omitempty"`
	Strict       *bool        `json:"strict,omitempty"`
}

// Text returns the cell's display text.
func (c *Cell) Text() string {
	if c.DisplayValue != "" {
		return c.DisplayValue
	}
	if c.ObjectValue != nil {
		switch c.ObjectValue.Type {
		case ObjectMultiPicklist:
			return strings.Join(c.ObjectValue.Labels, ", ")
		case ObjectMultiContact:
			names := make([]string, len(c.ObjectValue.Contacts))
			for i, ct := range c.ObjectValue.Contacts {
				names[i] = ct.Name
				if names[i] == "" {
					names[i] = ct.Email
				}
			}
			return strings.Join(names, ", ")
		}
	}
	switch v := c.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
