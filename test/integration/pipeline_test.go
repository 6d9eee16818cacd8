package integration

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/factory"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/mapping"
	"github.com/Ramsey-B/fern/pkg/readers"
)

const sourceCSV = `source_identifier,title,creator,subjects,internal_note
w1,Ecology of Ferns,"Smith, J.; Doe, A.","History; Botany",draft
w2,Fern Atlas,"Lee, K.",Botany,
`

const fieldMappings = `{
	"creator": {"split": ";"},
	"subject": {"from": ["subjects"], "split": true},
	"internal_note": {"excluded": true}
}`

func writeSourceFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sourceCSV), 0o600))
	return path
}

func readAll(t *testing.T, reader readers.Reader) []*readers.Record {
	t.Helper()

	it, err := reader.Records(context.Background())
	require.NoError(t, err)
	defer it.Close()

	var records []*readers.Record
	for {
		rec, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records
}

// TestCSVIngestPipeline walks one record from a tabular source through the
// reader, the mapping table, and the class transform, the same path a build
// job takes.
func TestCSVIngestPipeline(t *testing.T) {
	reader, err := readers.NewCSVReader(readers.CSVConfig{Path: writeSourceFile(t)}, nil)
	require.NoError(t, err)

	table, err := mapping.ParseTable(readers.FormatCSV, "work", json.RawMessage(fieldMappings))
	require.NoError(t, err)

	defaults := mapping.Defaults{
		IdentifierColumn: "source_identifier",
		Visibility:       "open",
		RightsStatement:  []string{"http://rightsstatements.org/vocab/InC/1.0/"},
	}

	records := readAll(t, reader)
	require.Len(t, records, 2)

	t.Run("reader designates the identifier column", func(t *testing.T) {
		assert.Equal(t, "w1", records[0].Identifier)
		assert.Equal(t, "w2", records[1].Identifier)
	})

	t.Run("mapping splits, excludes and fills defaults", func(t *testing.T) {
		md, err := mapping.Normalize(records[0].Fields, table, defaults)
		require.NoError(t, err)

		assert.Equal(t, []string{"Smith, J.", "Doe, A."}, md["creator"])
		assert.Equal(t, []string{"History", "Botany"}, md["subject"])
		assert.Equal(t, "w1", md.First(mapping.KeyIdentifier))
		assert.Equal(t, "open", md.First(mapping.KeyVisibility))
		assert.NotContains(t, md, "internal_note")
	})

	t.Run("transform keeps only the fields the class permits", func(t *testing.T) {
		md, err := mapping.Normalize(records[0].Fields, table, defaults)
		require.NoError(t, err)

		def, err := factory.DefaultRegistry().Resolve("work")
		require.NoError(t, err)

		props := factory.Transform(md, def)
		assert.Equal(t, []string{"Ecology of Ferns"}, props["title"])
		assert.Equal(t, "open", props["visibility"])
		assert.NotContains(t, props, "subjects")
		assert.NotContains(t, props, mapping.KeyIdentifier)
	})

	t.Run("rereading the source yields the same fingerprints", func(t *testing.T) {
		again := readAll(t, reader)
		require.Len(t, again, 2)

		for i := range records {
			first, err := json.Marshal(records[i].Fields)
			require.NoError(t, err)
			second, err := json.Marshal(again[i].Fields)
			require.NoError(t, err)

			fp1, err := fingerprint.GenerateFromJSON(first)
			require.NoError(t, err)
			fp2, err := fingerprint.GenerateFromJSON(second)
			require.NoError(t, err)
			assert.Equal(t, fp1, fp2)
		}
	})
}

// TestCSVIngestPipeline_MissingTitle exercises the terminal validation path:
// a record without a title never reaches persistence.
func TestCSVIngestPipeline_MissingTitle(t *testing.T) {
	table, err := mapping.ParseTable(readers.FormatCSV, "work", nil)
	require.NoError(t, err)

	raw := map[string][]string{
		"source_identifier": {"w9"},
		"creator":           {"Nobody"},
	}

	_, err = mapping.Normalize(raw, table, mapping.Defaults{IdentifierColumn: "source_identifier"})
	require.Error(t, err)
	assert.True(t, mapping.IsValidationError(err))
}
