package resolver

import (
	"context"

	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
)

// ScheduleRelationships drives a run's edge phase. While entries are still
// draining it re-polls itself on the retry delay. Once they settle it enqueues
// one CreateRelationship job per pending edge, then keeps polling until the
// edges drain too and the run can be finalized.
//
// Reschedules are unbounded here: this job waits on work the run itself
// enqueued, it is not retrying a failed operation.
func (s *Service) ScheduleRelationships(ctx context.Context, tenantID string, job queue.ScheduleRelationshipsJob) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.ScheduleRelationships")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"importer_id": job.ImporterID,
		"run_id":      job.RunID,
	})

	r, err := s.runs.GetImporterRun(ctx, tenantID, job.RunID)
	if err != nil {
		return err
	}

	if !job.EdgesEnqueued {
		settled, err := s.statuses.CountSettledEntries(ctx, tenantID, job.RunID)
		if err != nil {
			return err
		}
		if settled < r.Enqueued {
			log.WithFields(map[string]any{"settled": settled, "enqueued": r.Enqueued}).Debug("Entries still draining, repolling")
			return s.repoll(ctx, tenantID, job)
		}

		pending, err := s.rels.ListByRun(ctx, tenantID, job.RunID, []string{models.RelationshipStatePending})
		if err != nil {
			return err
		}
		for _, rel := range pending {
			err := s.enqueuer.Enqueue(ctx, tenantID, queue.JobTypeCreateRelationship, queue.CreateRelationshipJob{
				PendingRelationshipID: rel.ID,
				RunID:                 job.RunID,
			})
			if err != nil {
				return err
			}
		}
		log.WithFields(map[string]any{"edges": len(pending)}).Info("Enqueued relationship jobs")

		job.EdgesEnqueued = true
		return s.repoll(ctx, tenantID, job)
	}

	unsettled, err := s.rels.CountUnsettledByRun(ctx, tenantID, job.RunID)
	if err != nil {
		return err
	}
	if unsettled > 0 {
		log.WithFields(map[string]any{"unsettled": unsettled}).Debug("Edges still draining, repolling")
		return s.repoll(ctx, tenantID, job)
	}

	return s.finalize(ctx, tenantID, job)
}

func (s *Service) repoll(ctx context.Context, tenantID string, job queue.ScheduleRelationshipsJob) error {
	return s.enqueuer.EnqueueIn(ctx, s.config.RetryDelay, tenantID, queue.JobTypeScheduleRelationships, job, 0)
}

// finalize derives the run's aggregate status from its drained counters,
// appends it to the ledger, and emits the completion event.
func (s *Service) finalize(ctx context.Context, tenantID string, job queue.ScheduleRelationshipsJob) error {
	ctx, span := tracing.StartSpan(ctx, "resolver.Service.finalize")
	defer span.End()

	r, err := s.runs.GetImporterRun(ctx, tenantID, job.RunID)
	if err != nil {
		return err
	}
	derived := r.RunCounters.Status()

	_, err = s.statuses.Append(ctx, tenantID, models.CreateStatusRequest{
		OwnerType: models.StatusOwnerImporterRun,
		OwnerID:   job.RunID,
		RunID:     &job.RunID,
		Message:   derived,
	})
	if err != nil {
		return err
	}

	err = s.emitter.EmitRunCompleted(ctx, tenantID, job.RunID, models.OwnerTypeImporter, job.ImporterID, derived)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Run finalized but event emission failed")
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": job.RunID,
		"status": derived,
	}).Info("Finalized importer run")
	return nil
}
