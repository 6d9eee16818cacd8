package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunCountersStatus(t *testing.T) {
	t.Run("should report running while enqueued work is outstanding", func(t *testing.T) {
		c := &RunCounters{Enqueued: 10, ProcessedRecs: 4, FailedRecs: 1}
		assert.Equal(t, RunStatusRunning, c.Status())
	})

	t.Run("should report complete when everything processed cleanly", func(t *testing.T) {
		c := &RunCounters{Enqueued: 5, ProcessedRecs: 5}
		assert.Equal(t, RunStatusComplete, c.Status())
	})

	t.Run("should count deletions toward settled work", func(t *testing.T) {
		c := &RunCounters{Enqueued: 5, ProcessedRecs: 3, DeletedRecs: 2}
		assert.Equal(t, RunStatusComplete, c.Status())
	})

	t.Run("should report partial completion when some records failed", func(t *testing.T) {
		c := &RunCounters{Enqueued: 5, ProcessedRecs: 3, FailedRecs: 2}
		assert.Equal(t, RunStatusCompleteWithFailures, c.Status())
	})

	t.Run("should report partial completion when a relationship failed", func(t *testing.T) {
		c := &RunCounters{Enqueued: 5, ProcessedRecs: 5, FailedRels: 1}
		assert.Equal(t, RunStatusCompleteWithFailures, c.Status())
	})

	t.Run("should report failed when nothing succeeded", func(t *testing.T) {
		c := &RunCounters{Enqueued: 3, FailedRecs: 3}
		assert.Equal(t, RunStatusFailed, c.Status())
	})

	t.Run("should report complete for an empty run", func(t *testing.T) {
		c := &RunCounters{}
		assert.Equal(t, RunStatusComplete, c.Status())
	})
}

func TestStatusIsFailure(t *testing.T) {
	t.Run("should treat a Failed message as a failure", func(t *testing.T) {
		s := &Status{Message: StatusFailed}
		assert.True(t, s.IsFailure())
	})

	t.Run("should treat any status carrying an error class as a failure", func(t *testing.T) {
		errClass := "mapping.ValidationError"
		s := &Status{Message: StatusComplete, ErrorClass: &errClass}
		assert.True(t, s.IsFailure())
	})

	t.Run("should not treat a clean complete as a failure", func(t *testing.T) {
		s := &Status{Message: StatusComplete}
		assert.False(t, s.IsFailure())
	})
}
