package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Membership edge types.
const (
	EdgeHasMember          = "HAS_MEMBER"
	EdgeMemberOfCollection = "MEMBER_OF_COLLECTION"
)

// MembershipService writes membership edges between repository nodes
type MembershipService struct {
	client *Client
	logger ectologger.Logger
}

// NewMembershipService creates a new membership service
func NewMembershipService(client *Client, logger ectologger.Logger) *MembershipService {
	return &MembershipService{
		client: client,
		logger: logger,
	}
}

// AddMember records parent-[:HAS_MEMBER]->child with an order hint. Used for
// work→work member lists and collection→collection nesting.
func (s *MembershipService) AddMember(ctx context.Context, tenantID string, parentID string, childID string, order int) error {
	ctx, span := tracing.StartSpan(ctx, "graph.MembershipService.AddMember")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (parent {id: $parent_id, tenant_id: $tenant_id})
		MATCH (child {id: $child_id, tenant_id: $tenant_id})
		MERGE (parent)-[r:%s]->(child)
		SET r.order = $order
		RETURN r
	`, EdgeHasMember)

	return s.mergeEdge(ctx, cypher, map[string]any{
		"parent_id": parentID,
		"child_id":  childID,
		"tenant_id": tenantID,
		"order":     order,
	})
}

// AddToCollection records member-[:MEMBER_OF_COLLECTION]->collection. Used
// when a collection parent adopts a work child.
func (s *MembershipService) AddToCollection(ctx context.Context, tenantID string, memberID string, collectionID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.MembershipService.AddToCollection")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (member {id: $member_id, tenant_id: $tenant_id})
		MATCH (collection:%s {id: $collection_id, tenant_id: $tenant_id})
		MERGE (member)-[r:%s]->(collection)
		RETURN r
	`, ClassCollection, EdgeMemberOfCollection)

	return s.mergeEdge(ctx, cypher, map[string]any{
		"member_id":     memberID,
		"collection_id": collectionID,
		"tenant_id":     tenantID,
	})
}

// Members returns the ids of a node's direct members, ordered by the member
// order hint.
func (s *MembershipService) Members(ctx context.Context, tenantID string, parentID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.MembershipService.Members")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH (parent {id: $parent_id, tenant_id: $tenant_id})-[r:%s]->(child)
		WHERE child.deleted_at IS NULL
		RETURN child.id AS id
		ORDER BY r.order
	`, EdgeHasMember)

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"parent_id": parentID,
			"tenant_id": tenantID,
		})
		if err != nil {
			return nil, err
		}

		var ids []string
		for result.Next(ctx) {
			if id, ok := result.Record().Get("id"); ok {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		return ids, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return result.([]string), nil
}

// mergeEdge runs a MERGE edge write. Endpoint existence is the caller's
// concern; the resolver only dispatches edges whose endpoints it has already
// resolved.
func (s *MembershipService) mergeEdge(ctx context.Context, cypher string, params map[string]any) error {
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to write membership edge")
		return fmt.Errorf("failed to write membership edge: %w", err)
	}
	return nil
}
