package core

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/retry"
	"github.com/JonMunkholm/poimport/internal/target"
)

// CatalogNameColumn is the primary column of every catalog sheet.
const CatalogNameColumn = "Name"

//go:embed standards.yaml
var defaultCatalogYAML []byte

// StandardSheet defines one reference catalog sheet.
type StandardSheet struct {
	Name    string   `yaml:"name" toml:"name" validate:"required"`
	Values  []string `yaml:"values" toml:"values" validate:"required,min=1,dive,required"`
	Columns []string `yaml:"columns" toml:"columns" validate:"dive,required"`
}

// CatalogDefinition is the full set of standard sheets.
type CatalogDefinition struct {
	Workspace string          `yaml:"workspace" toml:"workspace"`
	Sheets    []StandardSheet `yaml:"sheets" toml:"sheets" validate:"required,min=1,dive"`
}

// DefaultCatalog returns the built-in catalog definition.
func DefaultCatalog() CatalogDefinition {
	def, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return def
}

// LoadCatalog reads a catalog definition from path, or returns the built-in
// one when path is empty. Files ending in .toml are read as TOML, anything
// else as YAML.
func LoadCatalog(path string) (CatalogDefinition, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return CatalogDefinition{}, apperr.NewConfigurationError("CATALOG_FILE", "read %s: %v", path, err)
	}
	parse := ParseCatalog
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseCatalogTOML
	}
	def, err := parse(b)
	if err != nil {
		return CatalogDefinition{}, apperr.NewConfigurationError("CATALOG_FILE", "%s: %v", path, err)
	}
	return def, nil
}

// ParseCatalog decodes and validates a YAML catalog definition. Sheet names
// must be unique and each project column may be bound to one sheet only.
func ParseCatalog(b []byte) (CatalogDefinition, error) {
	var def CatalogDefinition
	if err := yaml.Unmarshal(b, &def); err != nil {
		return CatalogDefinition{}, fmt.Errorf("decode catalog: %w", err)
	}
	return checkCatalog(def)
}

// ParseCatalogTOML is ParseCatalog for a TOML document with [[sheets]]
// tables.
func ParseCatalogTOML(b []byte) (CatalogDefinition, error) {
	var def CatalogDefinition
	if err := toml.Unmarshal(b, &def); err != nil {
		return CatalogDefinition{}, fmt.Errorf("decode catalog: %w", err)
	}
	return checkCatalog(def)
}

func checkCatalog(def CatalogDefinition) (CatalogDefinition, error) {
	if err := validator.New().Struct(def); err != nil {
		return CatalogDefinition{}, fmt.Errorf("invalid catalog: %w", err)
	}

	sheets := map[string]bool{}
	bound := map[string]string{}
	for _, s := range def.Sheets {
		if sheets[s.Name] {
			return CatalogDefinition{}, fmt.Errorf("duplicate catalog sheet %q", s.Name)
		}
		sheets[s.Name] = true
		for _, c := range s.Columns {
			if prev, ok := bound[c]; ok {
				return CatalogDefinition{}, fmt.Errorf("column %q bound to both %q and %q", c, prev, s.Name)
			}
			bound[c] = s.Name
		}
	}
	return def, nil
}

// CatalogSheet is the reconciled identity of one catalog sheet.
type CatalogSheet struct {
	Name    string          `json:"name"`
	SheetID int64           `json:"sheetId"`
	Link    target.CellLink `json:"link"`
	Outcome Outcome         `json:"-"`
	Added   int             `json:"added"`
}

// Catalog is the reconciled reference catalog. Link identities are the same
// for every project workspace bound against it.
type Catalog struct {
	WorkspaceID   int64          `json:"workspaceId"`
	WorkspaceName string         `json:"workspaceName"`
	Sheets        []CatalogSheet `json:"sheets"`
	links         map[string]target.CellLink
}

// LinkFor returns the catalog reference a project column binds to.
func (c *Catalog) LinkFor(columnTitle string) (target.CellLink, bool) {
	if c == nil {
		return target.CellLink{}, false
	}
	l, ok := c.links[columnTitle]
	return l, ok
}

// Sheet returns the reconciled sheet named name.
func (c *Catalog) Sheet(name string) (CatalogSheet, bool) {
	for _, s := range c.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return CatalogSheet{}, false
}

// CatalogManager maintains the shared reference catalog workspace.
type CatalogManager struct {
	rec           *Reconciler
	def           CatalogDefinition
	workspaceName string
	workspaceID   *int64
}

// NewCatalogManager returns a manager for def. A non-nil workspaceID reuses
// that workspace; otherwise the workspace is found or created by name.
func NewCatalogManager(rec *Reconciler, def CatalogDefinition, workspaceName string, workspaceID *int64) *CatalogManager {
	if workspaceName == "" {
		workspaceName = def.Workspace
	}
	if workspaceName == "" {
		workspaceName = "PMO Standards"
	}
	return &CatalogManager{rec: rec, def: def, workspaceName: workspaceName, workspaceID: workspaceID}
}

// Definition returns the catalog definition in use.
func (m *CatalogManager) Definition() CatalogDefinition { return m.def }

// Ensure reconciles the catalog workspace and every standard sheet.
func (m *CatalogManager) Ensure(ctx context.Context) (*Catalog, error) {
	ws, err := m.workspace(ctx)
	if err != nil {
		return nil, err
	}

	cat := &Catalog{WorkspaceID: ws.ID, WorkspaceName: ws.Name, links: map[string]target.CellLink{}}
	for _, s := range m.def.Sheets {
		cs, err := m.EnsureStandardSheet(ctx, ws.ID, s.Name, s.Values)
		if err != nil {
			return nil, fmt.Errorf("ensure catalog sheet %q: %w", s.Name, err)
		}
		cat.Sheets = append(cat.Sheets, cs)
		for _, c := range s.Columns {
			cat.links[c] = cs.Link
		}
	}
	return cat, nil
}

func (m *CatalogManager) workspace(ctx context.Context) (*target.Workspace, error) {
	if m.workspaceID != nil {
		ws, err := m.rec.GetWorkspace(ctx, *m.workspaceID)
		if apperr.IsNotFound(err) {
			return nil, apperr.NewConfigurationError("STANDARDS_WORKSPACE_ID", "workspace %d not found", *m.workspaceID)
		}
		return ws, err
	}
	ws, _, err := m.rec.GetOrCreateWorkspace(ctx, m.workspaceName)
	return ws, err
}

// EnsureStandardSheet makes sure the sheet named name exists in the
// workspace and holds every value. Existing rows are never removed or
// reordered; only missing values are appended, one row at a time, so a
// partial failure leaves the values added so far in place.
func (m *CatalogManager) EnsureStandardSheet(ctx context.Context, workspaceID int64, name string, values []string) (CatalogSheet, error) {
	log := logging.FromContext(ctx).With(zap.String("catalog_sheet", name))

	sh, outcome, err := m.rec.GetOrCreateSheet(ctx, workspaceID, target.SheetSpec{
		Name: name,
		Columns: []target.ColumnSpec{{
			Title:   CatalogNameColumn,
			Type:    target.TextNumber,
			Primary: true,
			Width:   250,
		}},
	})
	if err != nil {
		return CatalogSheet{}, err
	}
	primary, ok := sh.PrimaryColumn()
	if !ok {
		return CatalogSheet{}, fmt.Errorf("catalog sheet %q has no primary column", name)
	}

	present := map[string]bool{}
	for _, v := range sh.ColumnValues(primary.ID) {
		present[strings.TrimSpace(v)] = true
	}

	cs := CatalogSheet{
		Name:    name,
		SheetID: sh.ID,
		Link:    target.CellLink{SheetID: sh.ID, ColumnID: primary.ID},
		Outcome: outcome,
	}

	var errs []error
	for _, v := range values {
		if present[v] {
			continue
		}
		row := target.RowSpec{ToBottom: true, Cells: []target.Cell{{ColumnID: primary.ID, Value: v}}}
		_, err := retry.Run(ctx, m.rec.Retry(), "add catalog row", func(ctx context.Context) ([]target.Row, error) {
			return m.rec.API().AddRows(ctx, sh.ID, []target.RowSpec{row})
		})
		if err != nil {
			log.Warn("catalog value not added", zap.String("value", v), zap.Error(err))
			errs = append(errs, fmt.Errorf("add %q: %w", v, err))
			continue
		}
		present[v] = true
		cs.Added++
	}

	if cs.Added > 0 {
		log.Info("catalog values added", zap.Int("added", cs.Added), zap.Stringer("outcome", outcome))
	}
	return cs, errors.Join(errs...)
}
