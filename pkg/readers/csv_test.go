package readers

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVReader(t *testing.T) {
	t.Run("should read records keyed by header columns", func(t *testing.T) {
		path := writeCSV(t, "source_identifier,title,subject\nrec-1,First,history\nrec-2,Second,art\n")

		reader, err := NewCSVReader(CSVConfig{Path: path}, nil)
		require.NoError(t, err)

		it, err := reader.Records(context.Background())
		require.NoError(t, err)
		defer it.Close()

		first, err := it.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "rec-1", first.Identifier)
		assert.Equal(t, []string{"First"}, first.Fields["title"])

		second, err := it.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "rec-2", second.Identifier)

		_, err = it.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})

	t.Run("should restart from the first record on every Records call", func(t *testing.T) {
		path := writeCSV(t, "source_identifier,title\nrec-1,First\n")

		reader, err := NewCSVReader(CSVConfig{Path: path}, nil)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			it, err := reader.Records(context.Background())
			require.NoError(t, err)

			record, err := it.Next(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "rec-1", record.Identifier)
			require.NoError(t, it.Close())
		}
	})

	t.Run("should use a custom identifier column", func(t *testing.T) {
		path := writeCSV(t, "record_id,title\nabc,First\n")

		reader, err := NewCSVReader(CSVConfig{Path: path, IdentifierColumn: "record_id"}, nil)
		require.NoError(t, err)

		it, err := reader.Records(context.Background())
		require.NoError(t, err)
		defer it.Close()

		record, err := it.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", record.Identifier)
	})

	t.Run("should use a custom delimiter", func(t *testing.T) {
		path := writeCSV(t, "source_identifier|title\nrec-1|First\n")

		reader, err := NewCSVReader(CSVConfig{Path: path, Delimiter: "|"}, nil)
		require.NoError(t, err)

		it, err := reader.Records(context.Background())
		require.NoError(t, err)
		defer it.Close()

		record, err := it.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"First"}, record.Fields["title"])
	})

	t.Run("should skip empty cells", func(t *testing.T) {
		path := writeCSV(t, "source_identifier,title,subject\nrec-1,First,\n")

		reader, err := NewCSVReader(CSVConfig{Path: path}, nil)
		require.NoError(t, err)

		it, err := reader.Records(context.Background())
		require.NoError(t, err)
		defer it.Close()

		record, err := it.Next(context.Background())
		require.NoError(t, err)
		_, ok := record.Fields["subject"]
		assert.False(t, ok)
	})

	t.Run("should reject a config without a source", func(t *testing.T) {
		_, err := NewCSVReader(CSVConfig{}, nil)
		assert.Error(t, err)
	})

	t.Run("should reject a config with both path and url", func(t *testing.T) {
		_, err := NewCSVReader(CSVConfig{Path: "a.csv", URL: "http://example.com/a.csv"}, nil)
		assert.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("should build readers for registered formats", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, RegisterCSV(registry, nil))

		path := writeCSV(t, "source_identifier,title\nrec-1,First\n")
		reader, err := registry.New(FormatCSV, []byte(`{"path": "`+path+`"}`))
		require.NoError(t, err)
		assert.Equal(t, -1, reader.Total())
	})

	t.Run("should error for an unknown format", func(t *testing.T) {
		registry := NewRegistry()
		_, err := registry.New("oai", nil)
		assert.Error(t, err)
	})

	t.Run("should reject duplicate format registration", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register("csv", func(_ json.RawMessage) (Reader, error) { return nil, nil }))
		assert.Error(t, registry.Register("csv", func(_ json.RawMessage) (Reader, error) { return nil, nil }))
	})
}
