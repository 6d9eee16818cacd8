package factory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Ramsey-B/fern/pkg/graph"
)

// Definition describes one target entity class: the graph label it persists
// under and the metadata fields the class permits. Fields outside the
// permitted set are dropped silently during transform.
type Definition struct {
	Class           string
	PermittedFields []string
}

// Registry resolves target class names to definitions. Names resolve through
// a fallback chain: explicit name, then suffix convention (a name ending in a
// registered name resolves to it), then the default class.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
	defaultName string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{
		definitions: make(map[string]Definition),
		defaultName: strings.ToLower(defaultName),
	}
}

// Register adds a class definition under a name. Names are case-insensitive.
func (r *Registry) Register(name string, def Definition) error {
	if name == "" {
		return fmt.Errorf("class name is required")
	}
	if def.Class == "" {
		return fmt.Errorf("class %q has no graph class", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := r.definitions[key]; exists {
		return fmt.Errorf("class %q already registered", name)
	}
	r.definitions[key] = def
	return nil
}

// Resolve maps a requested class name to a definition. An empty name goes
// straight to the default class.
func (r *Registry) Resolve(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))

	if key != "" {
		if def, ok := r.definitions[key]; ok {
			return def, nil
		}

		// Suffix convention: "ImageWork" resolves to "work". Longest suffix
		// wins so "subcollection" beats "collection" when both exist.
		names := make([]string, 0, len(r.definitions))
		for n := range r.definitions {
			names = append(names, n)
		}
		sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
		for _, n := range names {
			if strings.HasSuffix(key, n) {
				return r.definitions[n], nil
			}
		}
	}

	if def, ok := r.definitions[r.defaultName]; ok {
		return def, nil
	}
	return Definition{}, fmt.Errorf("no definition for class %q and no default registered", name)
}

// DefaultRegistry registers the standard work/collection/file_set classes.
func DefaultRegistry() *Registry {
	registry := NewRegistry("work")

	registry.Register("work", Definition{
		Class: graph.ClassWork,
		PermittedFields: []string{
			"title", "creator", "contributor", "description", "subject",
			"keyword", "language", "publisher", "date_created", "identifier",
			"rights_statement", "license", "resource_type", "visibility",
			"admin_set_id", "depositor", "source",
		},
	})
	registry.Register("collection", Definition{
		Class: graph.ClassCollection,
		PermittedFields: []string{
			"title", "creator", "description", "subject", "keyword",
			"language", "identifier", "visibility", "depositor",
		},
	})
	registry.Register("file_set", Definition{
		Class: graph.ClassFileSet,
		PermittedFields: []string{
			"title", "creator", "identifier", "visibility", "depositor",
			"license",
		},
	})

	return registry
}
