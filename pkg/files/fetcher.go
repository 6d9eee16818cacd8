// Package files retrieves remote file content for entry derivatives.
package files

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
)

// AttachPolicy controls how fetched files apply to an existing entity.
type AttachPolicy struct {
	// ReplaceFiles removes existing file sets before attaching.
	ReplaceFiles bool
	// UpdateFiles overwrites file sets that share a file name.
	UpdateFiles bool
}

// Fetcher retrieves a remote file as a byte stream.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher fetches files over HTTP(S) with a byte-size cap
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   ectologger.Logger
}

// NewHTTPFetcher creates an HTTP fetcher. maxBytes of zero means no cap.
func NewHTTPFetcher(client *http.Client, maxBytes int64, logger ectologger.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{
		client:   client,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Fetch downloads the given URL. The caller owns the returned body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	ctx, span := tracing.StartSpan(ctx, "files.HTTPFetcher.Fetch")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"url":            url,
		"content_length": resp.ContentLength,
	}).Debug("Fetched remote file")

	if f.maxBytes > 0 {
		return &cappedReader{reader: resp.Body, remaining: f.maxBytes, url: url}, nil
	}
	return resp.Body, nil
}

// cappedReader errors once more than the configured cap has been read.
type cappedReader struct {
	reader    io.ReadCloser
	remaining int64
	url       string
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, fmt.Errorf("fetch %s: file exceeds size cap", c.url)
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.reader.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, fmt.Errorf("fetch %s: file exceeds size cap", c.url)
	}
	return n, err
}

func (c *cappedReader) Close() error {
	return c.reader.Close()
}
