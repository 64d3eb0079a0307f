package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/ledger"
)

// StrategyFactory builds a strategy. It runs at most once per registry.
type StrategyFactory func() (WorkspaceStrategy, error)

// StrategyDeps are the optional collaborators handed to strategies.
type StrategyDeps struct {
	Ledger ledger.Store
	Prompt TemplatePrompter
}

// StrategyRegistry resolves a configured strategy name to a strategy,
// building each one on first use and returning the same instance after.
// Create one per configuration; there is no package-level registry.
type StrategyRegistry struct {
	mu        sync.RWMutex
	factories map[StrategyKind]StrategyFactory
	built     map[StrategyKind]WorkspaceStrategy
}

// NewStrategyRegistry returns a registry with Standalone and Portfolio
// registered.
func NewStrategyRegistry(rec *Reconciler, catalog *CatalogManager, deps StrategyDeps) *StrategyRegistry {
	r := &StrategyRegistry{
		factories: make(map[StrategyKind]StrategyFactory),
		built:     make(map[StrategyKind]WorkspaceStrategy),
	}
	r.Register(Standalone, func() (WorkspaceStrategy, error) {
		return NewStandaloneStrategy(rec, catalog, deps.Ledger, deps.Prompt), nil
	})
	r.Register(Portfolio, func() (WorkspaceStrategy, error) {
		return PortfolioStrategy{}, nil
	})
	return r
}

// Register adds or replaces the factory for kind. A strategy already built
// for kind is discarded.
func (r *StrategyRegistry) Register(kind StrategyKind, f StrategyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	delete(r.built, kind)
}

// Get returns the strategy for name. Matching ignores case and surrounding
// space; "grouped" is accepted for portfolio and "" means standalone.
func (r *StrategyRegistry) Get(name string) (WorkspaceStrategy, error) {
	kind := ParseStrategyKind(name)

	r.mu.RLock()
	s, ok := r.built[kind]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have built it while we waited for the lock.
	if s, ok := r.built[kind]; ok {
		return s, nil
	}
	f, ok := r.factories[kind]
	if !ok {
		return nil, apperr.NewConfigurationError("WORKSPACE_STRATEGY",
			"unknown strategy %q (valid: %s)", name, strings.Join(r.kindsLocked(), ", "))
	}
	s, err := f()
	if err != nil {
		return nil, fmt.Errorf("build %s strategy: %w", kind, err)
	}
	r.built[kind] = s
	return s, nil
}

// Kinds returns the registered strategy names, sorted.
func (r *StrategyRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.kindsLocked()
}

func (r *StrategyRegistry) kindsLocked() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// ParseStrategyKind normalizes a configured strategy name.
func ParseStrategyKind(name string) StrategyKind {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "":
		return Standalone
	case "grouped":
		return Portfolio
	default:
		return StrategyKind(n)
	}
}
