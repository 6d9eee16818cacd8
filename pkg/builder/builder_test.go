package builder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/run"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
)

func TestDecodeRaw(t *testing.T) {
	t.Run("should wrap scalar strings in single-element lists", func(t *testing.T) {
		fields, err := decodeRaw(json.RawMessage(`{"title": "Ecology of Ferns"}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"Ecology of Ferns"}, fields["title"])
	})

	t.Run("should keep list values as lists", func(t *testing.T) {
		fields, err := decodeRaw(json.RawMessage(`{"creator": ["Smith, J.", "Doe, A."]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"Smith, J.", "Doe, A."}, fields["creator"])
	})

	t.Run("should stringify non-string values", func(t *testing.T) {
		fields, err := decodeRaw(json.RawMessage(`{"pages": 7, "mixed": ["a", 2]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"7"}, fields["pages"])
		assert.Equal(t, []string{"a", "2"}, fields["mixed"])
	})

	t.Run("should skip null values", func(t *testing.T) {
		fields, err := decodeRaw(json.RawMessage(`{"title": "kept", "rights": null}`))
		require.NoError(t, err)
		assert.Contains(t, fields, "title")
		assert.NotContains(t, fields, "rights")
	})

	t.Run("should error on invalid raw metadata", func(t *testing.T) {
		_, err := decodeRaw(json.RawMessage(`{not json`))
		assert.Error(t, err)
	})
}

func TestKindFor(t *testing.T) {
	t.Run("should map owner types onto run kinds", func(t *testing.T) {
		assert.Equal(t, run.KindExporter, kindFor(models.OwnerTypeExporter))
		assert.Equal(t, run.KindImporter, kindFor(models.OwnerTypeImporter))
	})
}

func TestCounterColumnsByClass(t *testing.T) {
	t.Run("should pick the processed column for each class", func(t *testing.T) {
		assert.Equal(t, run.ColProcessedWorks, processedColumn(graph.ClassWork))
		assert.Equal(t, run.ColProcessedColls, processedColumn(graph.ClassCollection))
		assert.Equal(t, run.ColProcessedFiles, processedColumn(graph.ClassFileSet))
		assert.Empty(t, processedColumn("Unknown"))
	})

	t.Run("should pick the failed column for each class", func(t *testing.T) {
		assert.Equal(t, run.ColFailedWorks, failedColumn(graph.ClassWork))
		assert.Equal(t, run.ColFailedColls, failedColumn(graph.ClassCollection))
		assert.Equal(t, run.ColFailedFiles, failedColumn(graph.ClassFileSet))
		assert.Empty(t, failedColumn("Unknown"))
	})
}
