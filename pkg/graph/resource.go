package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Target repository node classes.
const (
	ClassWork       = "Work"
	ClassCollection = "Collection"
	ClassFileSet    = "FileSet"
)

// Classes lists every known node class, in lookup order.
var Classes = []string{ClassWork, ClassCollection, ClassFileSet}

// Resource is a persisted node in the target repository.
type Resource struct {
	ID       string
	TenantID string
	Class    string

	// AlternateIDs holds the source identifiers this resource is known by.
	AlternateIDs []string

	Properties map[string]any
}

// ResourceService performs find/save operations against repository nodes
type ResourceService struct {
	client *Client
	logger ectologger.Logger
}

// NewResourceService creates a new resource service
func NewResourceService(client *Client, logger ectologger.Logger) *ResourceService {
	return &ResourceService{
		client: client,
		logger: logger,
	}
}

// Find returns the resource with the given repository id, across all known
// classes. Returns nil when no node matches.
func (s *ResourceService) Find(ctx context.Context, tenantID string, id string) (*Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.ResourceService.Find")
	defer span.End()

	cypher := `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		WHERE e.deleted_at IS NULL
		RETURN e, labels(e) AS classes
		LIMIT 1
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":        id,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, nil
		}
		return resourceFromRecord(result.Record())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find resource: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	return result.(*Resource), nil
}

// FindByAlternateIdentifier searches one class for a node whose alternate
// identifier set contains the given identifier exactly. Substring matches
// never qualify: containment is checked against the list membership, not a
// pattern.
func (s *ResourceService) FindByAlternateIdentifier(ctx context.Context, tenantID string, class string, identifier string) (*Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.ResourceService.FindByAlternateIdentifier")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (e:%s {tenant_id: $tenant_id})
		WHERE e.deleted_at IS NULL AND $identifier IN e.alternate_ids
		RETURN e, labels(e) AS classes
		LIMIT 1
	`, sanitizeLabel(class))

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"tenant_id":  tenantID,
			"identifier": identifier,
		})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, nil
		}
		return resourceFromRecord(result.Record())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find resource by alternate identifier: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	return result.(*Resource), nil
}

// ListByClass returns live nodes of one class, oldest first. limit of zero
// falls back to 1000.
func (s *ResourceService) ListByClass(ctx context.Context, tenantID string, class string, limit int) ([]*Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.ResourceService.ListByClass")
	defer span.End()

	if limit < 1 {
		limit = 1000
	}

	cypher := fmt.Sprintf(`
		MATCH (e:%s {tenant_id: $tenant_id})
		WHERE e.deleted_at IS NULL
		RETURN e, labels(e) AS classes
		ORDER BY e.id
		LIMIT $limit
	`, sanitizeLabel(class))

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"tenant_id": tenantID,
			"limit":     limit,
		})
		if err != nil {
			return nil, err
		}
		var resources []*Resource
		for result.Next(ctx) {
			r, err := resourceFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			if r != nil {
				resources = append(resources, r)
			}
		}
		return resources, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	return result.([]*Resource), nil
}

// Save creates or updates a resource node. MERGE keys on (id, tenant_id);
// properties and alternate identifiers are replaced wholesale.
func (s *ResourceService) Save(ctx context.Context, resource *Resource) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ResourceService.Save")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"resource_id": resource.ID,
		"class":       resource.Class,
		"tenant_id":   resource.TenantID,
	})

	props := map[string]any{
		"id":            resource.ID,
		"tenant_id":     resource.TenantID,
		"alternate_ids": resource.AlternateIDs,
	}
	for k, v := range resource.Properties {
		props[k] = v
	}

	cypher := fmt.Sprintf(`
		MERGE (e:%s {id: $id, tenant_id: $tenant_id})
		SET e = $props
		RETURN e
	`, sanitizeLabel(resource.Class))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":        resource.ID,
			"tenant_id": resource.TenantID,
			"props":     props,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("Failed to save resource in graph")
		return fmt.Errorf("failed to save resource: %w", err)
	}

	log.Debug("Saved resource in graph")
	return nil
}

// Delete soft-deletes a resource by stamping deleted_at.
func (s *ResourceService) Delete(ctx context.Context, tenantID string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ResourceService.Delete")
	defer span.End()

	cypher := `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		SET e.deleted_at = datetime()
		RETURN e
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":        id,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to delete resource in graph")
		return fmt.Errorf("failed to delete resource: %w", err)
	}

	return nil
}

func resourceFromRecord(record *neo4j.Record) (*Resource, error) {
	node, ok := record.Get("e")
	if !ok {
		return nil, nil
	}
	n, ok := node.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected record shape: %T", node)
	}

	resource := &Resource{
		Properties: make(map[string]any, len(n.Props)),
	}
	for k, v := range n.Props {
		switch k {
		case "id":
			resource.ID, _ = v.(string)
		case "tenant_id":
			resource.TenantID, _ = v.(string)
		case "alternate_ids":
			resource.AlternateIDs = toStringSlice(v)
		default:
			resource.Properties[k] = v
		}
	}

	if classes, ok := record.Get("classes"); ok {
		if labels := toStringSlice(classes); len(labels) > 0 {
			resource.Class = labels[0]
		}
	}

	return resource, nil
}

// sanitizeLabel ensures the label is safe for Cypher
func sanitizeLabel(label string) string {
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return ClassWork
	}
	return result
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
