package readers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Ramsey-B/fern/pkg/files"
)

// FormatCSV is the registry name of the tabular reader.
const FormatCSV = "csv"

// CSVConfig is the reader_config shape for tabular sources. Exactly one of
// Path or URL must be set.
type CSVConfig struct {
	Path             string `json:"path,omitempty"`
	URL              string `json:"url,omitempty"`
	Delimiter        string `json:"delimiter,omitempty"`
	IdentifierColumn string `json:"identifier_column,omitempty"`
}

// CSVReader reads one tabular source. The first row is the header; every
// later row becomes one Record. Iteration restarts from the first row on
// every Records call.
type CSVReader struct {
	config  CSVConfig
	fetcher files.Fetcher
}

// NewCSVReader creates a CSV reader. The fetcher is only used for URL
// sources and may be nil for local paths.
func NewCSVReader(config CSVConfig, fetcher files.Fetcher) (*CSVReader, error) {
	if config.Path == "" && config.URL == "" {
		return nil, fmt.Errorf("csv reader requires a path or url")
	}
	if config.Path != "" && config.URL != "" {
		return nil, fmt.Errorf("csv reader accepts a path or a url, not both")
	}
	if config.IdentifierColumn == "" {
		config.IdentifierColumn = "source_identifier"
	}
	return &CSVReader{config: config, fetcher: fetcher}, nil
}

// RegisterCSV adds the csv format to a registry.
func RegisterCSV(registry *Registry, fetcher files.Fetcher) error {
	return registry.Register(FormatCSV, func(raw json.RawMessage) (Reader, error) {
		var config CSVConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, fmt.Errorf("parse csv reader config: %w", err)
		}
		return NewCSVReader(config, fetcher)
	})
}

func (r *CSVReader) Records(ctx context.Context) (RecordIterator, error) {
	source, err := r.open(ctx)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(source)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if r.config.Delimiter != "" {
		reader.Comma = rune(r.config.Delimiter[0])
	}

	header, err := reader.Read()
	if err != nil {
		source.Close()
		if err == io.EOF {
			return &csvIterator{source: source, done: true}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(col)
	}

	return &csvIterator{
		source:           source,
		reader:           reader,
		columns:          columns,
		identifierColumn: r.config.IdentifierColumn,
	}, nil
}

func (r *CSVReader) Total() int {
	// Row count is unknowable without a full read.
	return -1
}

func (r *CSVReader) open(ctx context.Context) (io.ReadCloser, error) {
	if r.config.Path != "" {
		f, err := os.Open(r.config.Path)
		if err != nil {
			return nil, fmt.Errorf("open csv source: %w", err)
		}
		return f, nil
	}

	if r.fetcher == nil {
		return nil, fmt.Errorf("csv reader has a url source but no fetcher")
	}
	return r.fetcher.Fetch(ctx, r.config.URL)
}

type csvIterator struct {
	source           io.ReadCloser
	reader           *csv.Reader
	columns          []string
	identifierColumn string
	done             bool
}

func (it *csvIterator) Next(ctx context.Context) (*Record, error) {
	if it.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row, err := it.reader.Read()
	if err != nil {
		if err == io.EOF {
			it.done = true
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv row: %w", err)
	}

	record := &Record{
		Fields: make(map[string][]string, len(it.columns)),
	}
	for i, value := range row {
		if i >= len(it.columns) {
			break
		}
		column := it.columns[i]
		if column == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		record.Fields[column] = append(record.Fields[column], value)
		if column == it.identifierColumn && record.Identifier == "" {
			record.Identifier = value
		}
	}

	return record, nil
}

func (it *csvIterator) Close() error {
	return it.source.Close()
}
