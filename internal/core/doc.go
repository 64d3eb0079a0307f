// Package core provides the load reconciliation engine that moves a Project
// Online project into Smartsheet.
//
// The package holds all domain logic independent of the CLI or HTTP layer.
// It talks to the target only through [target.API] and to the source only
// through [source.Reader], so tests run it against in-memory fakes.
//
// # Architecture
//
//   - Reconciler: find-or-create primitives for workspaces, sheets and
//     columns. Every call goes through the retry executor and reports
//     whether the object was Existing or Created.
//   - CatalogManager: the shared reference catalog workspace holding one
//     sheet per enumeration (status, priority, constraint type, resource
//     type). Missing values are appended; existing rows are never touched.
//   - WorkspaceStrategy: how project workspaces are organized. Standalone
//     is implemented; Portfolio fails before doing any work.
//   - StrategyRegistry: resolves a configured strategy name once and reuses
//     the instance.
//   - Orchestrator: runs the pipeline for one project.
//
// # Pipeline
//
// Every import walks the same stages, forward only:
//
//	EnsureCatalog → EnsureProjectContainer → EnsureSheets →
//	TransformAndWriteRows → BindPicklistColumns → Done
//
// No stage position is persisted. A failed run is repeated from the start
// and each stage finds the work earlier runs already did: containers by
// exact name, rows by the hidden source id column.
//
// # Background Imports
//
// Serve mode starts imports with [Orchestrator.StartImport], bounded by an
// [ImportLimiter]. Progress is read with [Orchestrator.Progress] or streamed
// with [Orchestrator.Subscribe].
package core
