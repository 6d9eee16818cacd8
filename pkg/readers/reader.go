// Package readers defines the source-record reader boundary and the format
// registry through which tabular, XML, OAI and linked-data readers plug in.
package readers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Record is one raw source record: multi-valued fields keyed by source field
// name, plus the identifier the source designates for it.
type Record struct {
	Identifier string
	Fields     map[string][]string
}

// RecordIterator walks a finite sequence of records. Next returns io.EOF
// when the sequence is exhausted.
type RecordIterator interface {
	Next(ctx context.Context) (*Record, error)
	Close() error
}

// Reader produces the records of one configured source. Records may be
// called more than once; every call restarts from the first record.
type Reader interface {
	// Records opens a fresh iteration over the source.
	Records(ctx context.Context) (RecordIterator, error)

	// Total reports the number of records the source declares, or -1 when
	// the source cannot know without a full read.
	Total() int
}

// Factory builds a reader from an importer's reader_config JSON.
type Factory func(config json.RawMessage) (Reader, error)

// Registry maps format names to reader factories. Formats register at
// startup; lookups at run time are read-only.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a reader format. Re-registering a format is an error.
func (r *Registry) Register(format string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[format]; exists {
		return fmt.Errorf("reader format %q already registered", format)
	}
	r.factories[format] = factory
	return nil
}

// New builds a reader for the given format.
func (r *Registry) New(format string, config json.RawMessage) (Reader, error) {
	r.mu.RLock()
	factory, ok := r.factories[format]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown reader format %q", format)
	}
	return factory(config)
}

// Formats lists the registered format names, sorted.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]string, 0, len(r.factories))
	for f := range r.factories {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}
