// Package factory is the idempotent persistence layer: it creates-or-updates
// one target repository entity per logical identifier, no matter how many
// times a build is retried.
package factory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/files"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/mapping"
)

// ErrSaveRejected wraps a target-store rejection. Terminal for the attempt.
var ErrSaveRejected = errors.New("target store rejected save")

// ResourceStore is the slice of the graph API the factory needs.
type ResourceStore interface {
	Find(ctx context.Context, tenantID string, id string) (*graph.Resource, error)
	FindByAlternateIdentifier(ctx context.Context, tenantID string, class string, identifier string) (*graph.Resource, error)
	Save(ctx context.Context, resource *graph.Resource) error
}

// FileAttacher applies fetched files to a resource inside the same logical
// write as the metadata, honoring the attach policy.
type FileAttacher interface {
	Attach(ctx context.Context, resource *graph.Resource, urls []string, policy files.AttachPolicy) error
}

// Factory persists normalized metadata as repository entities
type Factory struct {
	registry *Registry
	store    ResourceStore
	attacher FileAttacher
	defaults mapping.Defaults
	policy   files.AttachPolicy
	logger   ectologger.Logger
}

// NewFactory creates a persistence factory. attacher may be nil when file
// handling is disabled.
func NewFactory(
	registry *Registry,
	store ResourceStore,
	attacher FileAttacher,
	defaults mapping.Defaults,
	policy files.AttachPolicy,
	logger ectologger.Logger,
) *Factory {
	return &Factory{
		registry: registry,
		store:    store,
		attacher: attacher,
		defaults: defaults,
		policy:   policy,
		logger:   logger,
	}
}

// Run finds-or-creates the entity for one normalized record.
//
// Lookup precedence: an explicit repository id carried in the metadata wins
// when that id currently exists; otherwise the alternate-identifier search
// for the resolved class. When neither finds a node a new entity is created.
// The returned bool reports whether a create happened. Repeated invocations
// for the same identifier converge on one entity; only simultaneous creates
// for a brand-new identifier can race (accepted, see DESIGN.md).
func (f *Factory) Run(ctx context.Context, tenantID string, identifier string, metadata mapping.Metadata, targetClass string) (*graph.Resource, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "factory.Factory.Run")
	defer span.End()

	log := f.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":    tenantID,
		"identifier":   identifier,
		"target_class": targetClass,
	})

	if identifier == "" {
		return nil, false, fmt.Errorf("identifier is required")
	}

	class := targetClass
	if class == "" {
		class = metadata.First(mapping.KeyModel)
	}
	def, err := f.registry.Resolve(class)
	if err != nil {
		return nil, false, err
	}

	existing, err := f.find(ctx, tenantID, identifier, metadata, def)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		if err := f.update(ctx, existing, identifier, metadata, def); err != nil {
			log.WithError(err).Error("Failed to update entity")
			return nil, false, err
		}
		log.WithFields(map[string]any{"entity_id": existing.ID}).Debug("Updated entity")
		return existing, false, nil
	}

	created, err := f.create(ctx, tenantID, identifier, metadata, def)
	if err != nil {
		log.WithError(err).Error("Failed to create entity")
		return nil, false, err
	}
	log.WithFields(map[string]any{"entity_id": created.ID}).Debug("Created entity")
	return created, true, nil
}

// find applies the lookup precedence. A stale explicit id falls through to
// the alternate-identifier search instead of failing.
func (f *Factory) find(ctx context.Context, tenantID string, identifier string, metadata mapping.Metadata, def Definition) (*graph.Resource, error) {
	if explicitID := metadata.First(mapping.KeyID); explicitID != "" {
		resource, err := f.store.Find(ctx, tenantID, explicitID)
		if err != nil {
			return nil, err
		}
		if resource != nil {
			return resource, nil
		}
	}

	return f.store.FindByAlternateIdentifier(ctx, tenantID, def.Class, identifier)
}

func (f *Factory) update(ctx context.Context, resource *graph.Resource, identifier string, metadata mapping.Metadata, def Definition) error {
	props := Transform(metadata, def)
	for k, v := range props {
		resource.Properties[k] = v
	}
	if !containsString(resource.AlternateIDs, identifier) {
		resource.AlternateIDs = append(resource.AlternateIDs, identifier)
	}

	if err := f.store.Save(ctx, resource); err != nil {
		return fmt.Errorf("%w: %s", ErrSaveRejected, err)
	}
	return f.attach(ctx, resource, metadata)
}

func (f *Factory) create(ctx context.Context, tenantID string, identifier string, metadata mapping.Metadata, def Definition) (*graph.Resource, error) {
	props := Transform(metadata, def)

	// Default ownership/deposit metadata for brand-new entities.
	if _, ok := props[mapping.KeyDepositor]; !ok && f.defaults.Depositor != "" {
		props[mapping.KeyDepositor] = f.defaults.Depositor
	}
	if _, ok := props[mapping.KeyAdminSet]; !ok && f.defaults.AdminSetID != "" {
		props[mapping.KeyAdminSet] = f.defaults.AdminSetID
	}

	resource := &graph.Resource{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Class:        def.Class,
		AlternateIDs: []string{identifier},
		Properties:   props,
	}

	if err := f.store.Save(ctx, resource); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSaveRejected, err)
	}
	if err := f.attach(ctx, resource, metadata); err != nil {
		return nil, err
	}
	return resource, nil
}

// attach hands remote file URLs to the file service within the same logical
// write as the metadata application.
func (f *Factory) attach(ctx context.Context, resource *graph.Resource, metadata mapping.Metadata) error {
	if f.attacher == nil {
		return nil
	}
	urls := metadata["remote_files"]
	if len(urls) == 0 {
		return nil
	}
	return f.attacher.Attach(ctx, resource, urls, f.policy)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
