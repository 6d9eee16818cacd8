package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Run("should produce the same fingerprint regardless of key order", func(t *testing.T) {
		a := Generate(map[string]any{"title": "x", "creator": "y"})
		b := Generate(map[string]any{"creator": "y", "title": "x"})
		assert.Equal(t, a, b)
	})

	t.Run("should produce different fingerprints for different values", func(t *testing.T) {
		a := Generate(map[string]any{"title": "x"})
		b := Generate(map[string]any{"title": "y"})
		assert.NotEqual(t, a, b)
	})

	t.Run("should canonicalize nested maps", func(t *testing.T) {
		a := Generate(map[string]any{"meta": map[string]any{"a": 1, "b": 2}})
		b := Generate(map[string]any{"meta": map[string]any{"b": 2, "a": 1}})
		assert.Equal(t, a, b)
	})
}

func TestGenerateFromJSON(t *testing.T) {
	t.Run("should fingerprint equivalent documents identically", func(t *testing.T) {
		a, err := GenerateFromJSON(json.RawMessage(`{"title":"x","creator":"y"}`))
		require.NoError(t, err)
		b, err := GenerateFromJSON(json.RawMessage(`{"creator":"y","title":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("should error on invalid json", func(t *testing.T) {
		_, err := GenerateFromJSON(json.RawMessage(`{broken`))
		assert.Error(t, err)
	})
}

func TestHasChanged(t *testing.T) {
	t.Run("should report changed when fingerprints differ", func(t *testing.T) {
		assert.True(t, HasChanged("abc", "def"))
	})

	t.Run("should report unchanged for equal fingerprints", func(t *testing.T) {
		assert.False(t, HasChanged("abc", "abc"))
	})

	t.Run("should report changed when there is no previous fingerprint", func(t *testing.T) {
		assert.True(t, HasChanged("", "abc"))
	})
}
