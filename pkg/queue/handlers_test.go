package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/redis"
)

type fakeBuilds struct {
	built   []string
	deleted []string
	runIDs  []string
}

func (f *fakeBuilds) Build(_ context.Context, _, entryID, runID string) error {
	f.built = append(f.built, entryID)
	f.runIDs = append(f.runIDs, runID)
	return nil
}

func (f *fakeBuilds) Delete(_ context.Context, _, entryID, runID string) error {
	f.deleted = append(f.deleted, entryID)
	return nil
}

type fakeResolver struct {
	created   []string
	scheduled []ScheduleRelationshipsJob
}

func (f *fakeResolver) CreateRelationship(_ context.Context, _, relationshipID string) error {
	f.created = append(f.created, relationshipID)
	return nil
}

func (f *fakeResolver) ScheduleRelationships(_ context.Context, _ string, job ScheduleRelationshipsJob) error {
	f.scheduled = append(f.scheduled, job)
	return nil
}

type fakeRunner struct {
	imports []string
	exports []string
	updates []bool
}

func (f *fakeRunner) RunImporter(_ context.Context, _, importerID string, onlyUpdates bool) error {
	f.imports = append(f.imports, importerID)
	f.updates = append(f.updates, onlyUpdates)
	return nil
}

func (f *fakeRunner) RunExporter(_ context.Context, _, exporterID string) error {
	f.exports = append(f.exports, exporterID)
	return nil
}

func newTestProcessor(t *testing.T) (*Processor, *fakeBuilds, *fakeResolver, *fakeRunner) {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	p := NewProcessor(nil, nil, DefaultProcessorConfig(), logger)

	builds := &fakeBuilds{}
	resolver := &fakeResolver{}
	runner := &fakeRunner{}
	require.NoError(t, RegisterHandlers(p, builds, resolver, runner))
	return p, builds, resolver, runner
}

func testJob(t *testing.T, jobType string, payload any) *redis.JobMessage {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &redis.JobMessage{TenantID: "t1", Type: jobType, Payload: raw}
}

func TestRegisterHandlers(t *testing.T) {
	t.Run("should register a handler for every job type", func(t *testing.T) {
		p, _, _, _ := newTestProcessor(t)

		for _, jobType := range []string{
			JobTypeEntryBuild,
			JobTypeEntryDelete,
			JobTypeCreateRelationship,
			JobTypeScheduleRelationships,
			JobTypeImporterRun,
			JobTypeExporterRun,
		} {
			assert.Contains(t, p.handlers, jobType)
		}
	})

	t.Run("should dispatch entry builds to the build service", func(t *testing.T) {
		p, builds, _, _ := newTestProcessor(t)

		job := testJob(t, JobTypeEntryBuild, EntryBuildJob{EntryID: "e1", RunID: "r1"})
		require.NoError(t, p.handlers[JobTypeEntryBuild](context.Background(), job))
		assert.Equal(t, []string{"e1"}, builds.built)
		assert.Equal(t, []string{"r1"}, builds.runIDs)
	})

	t.Run("should dispatch entry deletes to the build service", func(t *testing.T) {
		p, builds, _, _ := newTestProcessor(t)

		job := testJob(t, JobTypeEntryDelete, EntryDeleteJob{EntryID: "e2", RunID: "r1"})
		require.NoError(t, p.handlers[JobTypeEntryDelete](context.Background(), job))
		assert.Equal(t, []string{"e2"}, builds.deleted)
	})

	t.Run("should dispatch relationship jobs to the resolver", func(t *testing.T) {
		p, _, resolver, _ := newTestProcessor(t)

		job := testJob(t, JobTypeCreateRelationship, CreateRelationshipJob{PendingRelationshipID: "rel1", RunID: "r1"})
		require.NoError(t, p.handlers[JobTypeCreateRelationship](context.Background(), job))
		assert.Equal(t, []string{"rel1"}, resolver.created)
	})

	t.Run("should carry the edges-enqueued flag through scheduling payloads", func(t *testing.T) {
		p, _, resolver, _ := newTestProcessor(t)

		job := testJob(t, JobTypeScheduleRelationships, ScheduleRelationshipsJob{ImporterID: "i1", RunID: "r1", EdgesEnqueued: true})
		require.NoError(t, p.handlers[JobTypeScheduleRelationships](context.Background(), job))
		require.Len(t, resolver.scheduled, 1)
		assert.True(t, resolver.scheduled[0].EdgesEnqueued)
		assert.Equal(t, "r1", resolver.scheduled[0].RunID)
	})

	t.Run("should dispatch run jobs to the runner", func(t *testing.T) {
		p, _, _, runner := newTestProcessor(t)

		job := testJob(t, JobTypeImporterRun, ImporterRunJob{ImporterID: "i1", OnlyUpdates: true})
		require.NoError(t, p.handlers[JobTypeImporterRun](context.Background(), job))
		assert.Equal(t, []string{"i1"}, runner.imports)
		assert.Equal(t, []bool{true}, runner.updates)

		job = testJob(t, JobTypeExporterRun, ExporterRunJob{ExporterID: "x1"})
		require.NoError(t, p.handlers[JobTypeExporterRun](context.Background(), job))
		assert.Equal(t, []string{"x1"}, runner.exports)
	})

	t.Run("should error on an undecodable payload", func(t *testing.T) {
		p, builds, _, _ := newTestProcessor(t)

		job := &redis.JobMessage{TenantID: "t1", Type: JobTypeEntryBuild, Payload: json.RawMessage(`{broken`)}
		err := p.handlers[JobTypeEntryBuild](context.Background(), job)
		assert.Error(t, err)
		assert.Empty(t, builds.built)
	})
}
