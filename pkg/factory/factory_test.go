package factory

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/files"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/mapping"
)

type fakeStore struct {
	resources map[string]*graph.Resource
	saveErr   error
	saves     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{resources: make(map[string]*graph.Resource)}
}

func (s *fakeStore) Find(_ context.Context, tenantID string, id string) (*graph.Resource, error) {
	r, ok := s.resources[id]
	if !ok || r.TenantID != tenantID {
		return nil, nil
	}
	return r, nil
}

func (s *fakeStore) FindByAlternateIdentifier(_ context.Context, tenantID string, class string, identifier string) (*graph.Resource, error) {
	for _, r := range s.resources {
		if r.TenantID != tenantID || r.Class != class {
			continue
		}
		for _, alt := range r.AlternateIDs {
			if alt == identifier {
				return r, nil
			}
		}
	}
	return nil, nil
}

func (s *fakeStore) Save(_ context.Context, resource *graph.Resource) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.resources[resource.ID] = resource
	return nil
}

type fakeAttacher struct {
	calls  int
	urls   []string
	policy files.AttachPolicy
}

func (a *fakeAttacher) Attach(_ context.Context, _ *graph.Resource, urls []string, policy files.AttachPolicy) error {
	a.calls++
	a.urls = urls
	a.policy = policy
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testMetadata() mapping.Metadata {
	return mapping.Metadata{
		"title":             {"A Title"},
		"subject":           {"history", "art"},
		"visibility":        {"open"},
		"source_identifier": {"rec-1"},
		"unpermitted_field": {"dropped"},
	}
}

func newTestFactory(store ResourceStore, attacher FileAttacher) *Factory {
	return NewFactory(
		DefaultRegistry(),
		store,
		attacher,
		mapping.Defaults{Depositor: "batch@example.org", AdminSetID: "admin-set-1"},
		files.AttachPolicy{ReplaceFiles: true},
		testLogger(),
	)
}

func TestFactoryRun(t *testing.T) {
	t.Run("should create a new entity when nothing matches", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		resource, created, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "work")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, graph.ClassWork, resource.Class)
		assert.Contains(t, resource.AlternateIDs, "rec-1")
		assert.Equal(t, []string{"A Title"}, resource.Properties["title"])
	})

	t.Run("should update rather than duplicate on a second run with the same identifier", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		first, created, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "work")
		require.NoError(t, err)
		require.True(t, created)

		md := testMetadata()
		md["title"] = []string{"Updated Title"}
		second, created, err := f.Run(context.Background(), "t1", "rec-1", md, "work")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, store.resources, 1)
		assert.Equal(t, []string{"Updated Title"}, second.Properties["title"])
	})

	t.Run("should prefer an explicit repository id that exists", func(t *testing.T) {
		store := newFakeStore()
		store.resources["existing-id"] = &graph.Resource{
			ID:           "existing-id",
			TenantID:     "t1",
			Class:        graph.ClassWork,
			AlternateIDs: []string{"other"},
			Properties:   map[string]any{},
		}
		f := newTestFactory(store, nil)

		md := testMetadata()
		md["id"] = []string{"existing-id"}

		resource, created, err := f.Run(context.Background(), "t1", "rec-1", md, "work")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "existing-id", resource.ID)
		assert.Contains(t, resource.AlternateIDs, "rec-1")
	})

	t.Run("should fall through to alternate identifier search for a stale explicit id", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		_, created, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "work")
		require.NoError(t, err)
		require.True(t, created)

		md := testMetadata()
		md["id"] = []string{"gone"}

		_, created, err = f.Run(context.Background(), "t1", "rec-1", md, "work")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Len(t, store.resources, 1)
	})

	t.Run("should drop fields outside the permitted set silently", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		resource, _, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "work")
		require.NoError(t, err)
		_, ok := resource.Properties["unpermitted_field"]
		assert.False(t, ok)
	})

	t.Run("should assign default deposit metadata on create only when absent", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		resource, _, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "work")
		require.NoError(t, err)
		assert.Equal(t, "batch@example.org", resource.Properties["depositor"])
		assert.Equal(t, "admin-set-1", resource.Properties["admin_set_id"])

		md := testMetadata()
		md["depositor"] = []string{"curator@example.org"}
		resource, _, err = f.Run(context.Background(), "t1", "rec-2", md, "work")
		require.NoError(t, err)
		assert.Equal(t, "curator@example.org", resource.Properties["depositor"])
	})

	t.Run("should resolve the class through the model field when no hint is given", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		md := testMetadata()
		md["model"] = []string{"collection"}

		resource, _, err := f.Run(context.Background(), "t1", "rec-1", md, "")
		require.NoError(t, err)
		assert.Equal(t, graph.ClassCollection, resource.Class)
	})

	t.Run("should resolve unknown class names by suffix convention", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		resource, _, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "ImageWork")
		require.NoError(t, err)
		assert.Equal(t, graph.ClassWork, resource.Class)
	})

	t.Run("should fall back to the default class for unresolvable names", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		resource, _, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "mystery")
		require.NoError(t, err)
		assert.Equal(t, graph.ClassWork, resource.Class)
	})

	t.Run("should hand remote files to the attacher with the configured policy", func(t *testing.T) {
		store := newFakeStore()
		attacher := &fakeAttacher{}
		f := newTestFactory(store, attacher)

		md := testMetadata()
		md["remote_files"] = []string{"http://example.org/file.pdf"}

		_, _, err := f.Run(context.Background(), "t1", "rec-1", md, "work")
		require.NoError(t, err)
		assert.Equal(t, 1, attacher.calls)
		assert.Equal(t, []string{"http://example.org/file.pdf"}, attacher.urls)
		assert.True(t, attacher.policy.ReplaceFiles)
	})

	t.Run("should surface save rejections as terminal errors", func(t *testing.T) {
		store := newFakeStore()
		store.saveErr = fmt.Errorf("validation failed")
		f := newTestFactory(store, nil)

		_, _, err := f.Run(context.Background(), "t1", "rec-1", testMetadata(), "work")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSaveRejected)
	})

	t.Run("should require an identifier", func(t *testing.T) {
		store := newFakeStore()
		f := newTestFactory(store, nil)

		_, _, err := f.Run(context.Background(), "t1", "", testMetadata(), "work")
		assert.Error(t, err)
	})
}

func TestRegistryResolve(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedClass string
	}{
		{name: "explicit work", input: "work", expectedClass: graph.ClassWork},
		{name: "explicit collection", input: "Collection", expectedClass: graph.ClassCollection},
		{name: "suffix convention", input: "PamphletCollection", expectedClass: graph.ClassCollection},
		{name: "file set", input: "file_set", expectedClass: graph.ClassFileSet},
		{name: "empty falls back to default", input: "", expectedClass: graph.ClassWork},
		{name: "unknown falls back to default", input: "widget", expectedClass: graph.ClassWork},
	}

	registry := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := registry.Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedClass, def.Class)
		})
	}
}
