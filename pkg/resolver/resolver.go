// Package resolver realizes pending relationships once both endpoints exist
// in the target repository. Unresolved endpoints put the whole edge back on
// the queue with a fixed delay, bounded by a per-edge attempt cap.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/internal/repositories/entry"
	"github.com/Ramsey-B/fern/internal/repositories/pendingrelationship"
	"github.com/Ramsey-B/fern/internal/repositories/run"
	"github.com/Ramsey-B/fern/internal/repositories/status"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
)

// ErrNotReady marks an endpoint that cannot be resolved yet. Edges failing
// on it are rescheduled, not failed.
var ErrNotReady = errors.New("relationship endpoint not ready")

// ErrInvalidPairing marks a work parent declared over a collection child.
// That shape is never valid, so the edge fails immediately.
var ErrInvalidPairing = errors.New("a collection cannot be a member of a work")

// Config holds resolver retry behavior
type Config struct {
	// RetryDelay is the fixed delay before an unresolved edge is retried.
	RetryDelay time.Duration

	// MaxAttempts caps reschedules per edge before the failure is terminal.
	MaxAttempts int
}

// Service resolves pending relationships into graph edges
type Service struct {
	rels        *pendingrelationship.Repository
	entries     *entry.Repository
	resources   *graph.ResourceService
	memberships *graph.MembershipService
	runs        *run.Repository
	statuses    *status.Repository
	enqueuer    *queue.Enqueuer
	emitter     *events.Emitter
	config      Config
	logger      ectologger.Logger
}

// NewService creates a new resolver service
func NewService(
	rels *pendingrelationship.Repository,
	entries *entry.Repository,
	resources *graph.ResourceService,
	memberships *graph.MembershipService,
	runs *run.Repository,
	statuses *status.Repository,
	enqueuer *queue.Enqueuer,
	emitter *events.Emitter,
	config Config,
	logger ectologger.Logger,
) *Service {
	if config.RetryDelay <= 0 {
		config.RetryDelay = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	return &Service{
		rels:        rels,
		entries:     entries,
		resources:   resources,
		memberships: memberships,
		runs:        runs,
		statuses:    statuses,
		enqueuer:    enqueuer,
		emitter:     emitter,
		config:      config,
		logger:      logger,
	}
}

// CreateRelationship resolves both endpoints of one pending edge and writes
// the membership. An endpoint that is not persisted yet reschedules the whole
// edge; attempts past the cap fail it terminally against the child's entry.
func (s *Service) CreateRelationship(ctx context.Context, tenantID, relID string) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.CreateRelationship")
	defer span.End()

	rel, err := s.rels.Get(ctx, tenantID, relID)
	if err != nil {
		return err
	}
	if rel.State == models.RelationshipStateResolved {
		return nil
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"relationship_id": rel.ID,
		"run_id":          rel.ImporterRunID,
		"parent":          rel.ParentIdentifier,
		"child":           rel.ChildIdentifier,
	})

	parent, err := s.resolveEndpoint(ctx, tenantID, rel.ParentIdentifier)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return s.reschedule(ctx, rel, fmt.Sprintf("parent %s not ready", rel.ParentIdentifier))
		}
		return err
	}
	child, err := s.resolveEndpoint(ctx, tenantID, rel.ChildIdentifier)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return s.reschedule(ctx, rel, fmt.Sprintf("child %s not ready", rel.ChildIdentifier))
		}
		return err
	}

	if err := s.writeEdge(ctx, tenantID, rel, parent, child); err != nil {
		if errors.Is(err, ErrInvalidPairing) {
			return s.fail(ctx, rel, err)
		}
		// Graph write failures are transient; the queue retries the job.
		return err
	}

	if err := s.rels.MarkResolved(ctx, tenantID, rel.ID); err != nil {
		return err
	}
	err = s.runs.Adjust(ctx, tenantID, run.KindImporter, rel.ImporterRunID, []models.CounterDelta{
		{Column: run.ColProcessedRels, Delta: 1},
	})
	if err != nil {
		return err
	}

	if err := s.emitter.EmitRelationshipCreated(ctx, rel); err != nil {
		log.WithError(err).Warn("Relationship created but event emission failed")
	}

	log.Info("Resolved relationship")
	return nil
}

// resolveEndpoint maps an identifier to a persisted resource: through its
// entry first, else as a direct repository id, else as an alternate
// identifier across known classes.
func (s *Service) resolveEndpoint(ctx context.Context, tenantID, identifier string) (*graph.Resource, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.resolveEndpoint")
	defer span.End()

	e, err := s.entries.FindByIdentifier(ctx, tenantID, identifier)
	if err != nil {
		return nil, err
	}
	if e != nil {
		if e.EntityID == nil || *e.EntityID == "" {
			// The entry exists but its build has not persisted an entity yet.
			return nil, ErrNotReady
		}
		resource, err := s.resources.Find(ctx, tenantID, *e.EntityID)
		if err != nil {
			return nil, err
		}
		if resource == nil {
			return nil, ErrNotReady
		}
		return resource, nil
	}

	resource, err := s.resources.Find(ctx, tenantID, identifier)
	if err != nil {
		return nil, err
	}
	if resource != nil {
		return resource, nil
	}

	for _, class := range graph.Classes {
		resource, err = s.resources.FindByAlternateIdentifier(ctx, tenantID, class, identifier)
		if err != nil {
			return nil, err
		}
		if resource != nil {
			return resource, nil
		}
	}

	return nil, ErrNotReady
}

// writeEdge dispatches on the endpoint class pairing
func (s *Service) writeEdge(ctx context.Context, tenantID string, rel *models.PendingRelationship, parent, child *graph.Resource) error {
	switch {
	case parent.Class == graph.ClassCollection && child.Class == graph.ClassCollection:
		return s.memberships.AddMember(ctx, tenantID, parent.ID, child.ID, rel.OrderHint)
	case parent.Class == graph.ClassCollection:
		return s.memberships.AddToCollection(ctx, tenantID, child.ID, parent.ID)
	case child.Class == graph.ClassCollection:
		return ErrInvalidPairing
	default:
		return s.memberships.AddMember(ctx, tenantID, parent.ID, child.ID, rel.OrderHint)
	}
}

// reschedule puts the edge back on the queue after the fixed delay, failing
// it terminally once attempts hit the cap.
func (s *Service) reschedule(ctx context.Context, rel *models.PendingRelationship, detail string) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.reschedule")
	defer span.End()

	attempts, err := s.rels.MarkRescheduled(ctx, rel.TenantID, rel.ID, detail)
	if err != nil {
		return err
	}

	if attempts >= s.config.MaxAttempts {
		return s.fail(ctx, rel, fmt.Errorf("%s after %d attempts", detail, attempts))
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"relationship_id": rel.ID,
		"attempts":        attempts,
		"detail":          detail,
	}).Info("Rescheduled relationship")

	return s.enqueuer.EnqueueIn(ctx, s.config.RetryDelay, rel.TenantID, queue.JobTypeCreateRelationship, queue.CreateRelationshipJob{
		PendingRelationshipID: rel.ID,
		RunID:                 rel.ImporterRunID,
	}, attempts)
}

// fail marks the edge terminally failed, records it against the child's
// entry, and bumps the failed relationship counter.
func (s *Service) fail(ctx context.Context, rel *models.PendingRelationship, cause error) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.fail")
	defer span.End()

	log := s.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"relationship_id": rel.ID,
		"run_id":          rel.ImporterRunID,
	})
	log.Error("Relationship failed terminally")

	if err := s.rels.MarkFailed(ctx, rel.TenantID, rel.ID, cause.Error()); err != nil {
		return err
	}

	// The failure lands on the child's entry when one exists; the edge was
	// declared by that record.
	if e, err := s.entries.FindByIdentifier(ctx, rel.TenantID, rel.ChildIdentifier); err == nil && e != nil {
		errClass := fmt.Sprintf("%T", cause)
		errMsg := cause.Error()
		_, err = s.statuses.Append(ctx, rel.TenantID, models.CreateStatusRequest{
			OwnerType:    models.StatusOwnerEntry,
			OwnerID:      e.ID,
			RunID:        &rel.ImporterRunID,
			Message:      models.StatusFailed,
			ErrorClass:   &errClass,
			ErrorMessage: &errMsg,
		})
		if err != nil {
			log.WithError(err).Error("Failed to append relationship failure status")
		}
	}

	err := s.runs.Adjust(ctx, rel.TenantID, run.KindImporter, rel.ImporterRunID, []models.CounterDelta{
		{Column: run.ColFailedRels, Delta: 1},
	})
	if err != nil {
		return err
	}

	if err := s.emitter.EmitRelationshipFailed(ctx, rel, cause.Error()); err != nil {
		log.WithError(err).Warn("Failure recorded but event emission failed")
	}
	return nil
}
