package files

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestHTTPFetcher(t *testing.T) {
	t.Run("should return the full body when under the cap", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("hello fern"))
		}))
		defer server.Close()

		fetcher := NewHTTPFetcher(server.Client(), 1024, testLogger())
		body, err := fetcher.Fetch(context.Background(), server.URL+"/file.txt")
		require.NoError(t, err)
		defer body.Close()

		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Equal(t, "hello fern", string(data))
	})

	t.Run("should error once the body exceeds the cap", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write(make([]byte, 64))
		}))
		defer server.Close()

		fetcher := NewHTTPFetcher(server.Client(), 16, testLogger())
		body, err := fetcher.Fetch(context.Background(), server.URL+"/big.bin")
		require.NoError(t, err)
		defer body.Close()

		_, err = io.ReadAll(body)
		assert.ErrorContains(t, err, "exceeds size cap")
	})

	t.Run("should not cap the body when maxBytes is zero", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write(make([]byte, 2048))
		}))
		defer server.Close()

		fetcher := NewHTTPFetcher(server.Client(), 0, testLogger())
		body, err := fetcher.Fetch(context.Background(), server.URL+"/big.bin")
		require.NoError(t, err)
		defer body.Close()

		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Len(t, data, 2048)
	})

	t.Run("should error on a non-200 response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		fetcher := NewHTTPFetcher(server.Client(), 0, testLogger())
		_, err := fetcher.Fetch(context.Background(), server.URL+"/missing.txt")
		assert.ErrorContains(t, err, "unexpected status 404")
	})
}

func TestFileNameFromURL(t *testing.T) {
	t.Run("should take the last path segment", func(t *testing.T) {
		assert.Equal(t, "image.tiff", fileNameFromURL("https://repo.example.org/files/image.tiff"))
	})

	t.Run("should fall back to the raw value when there is no path", func(t *testing.T) {
		assert.Equal(t, "https://repo.example.org", fileNameFromURL("https://repo.example.org"))
		assert.Equal(t, "https://repo.example.org/", fileNameFromURL("https://repo.example.org/"))
	})

	t.Run("should drop query strings", func(t *testing.T) {
		assert.Equal(t, "scan.pdf", fileNameFromURL("https://repo.example.org/dl/scan.pdf?token=abc"))
	})
}
