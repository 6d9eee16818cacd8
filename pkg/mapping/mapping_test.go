package mapping

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefaults() Defaults {
	return Defaults{
		IdentifierColumn: "source_identifier",
		Visibility:       "open",
		RightsStatement:  []string{"http://rightsstatements.org/vocab/InC/1.0/"},
	}
}

func TestMatcherResult(t *testing.T) {
	t.Run("should return raw values trimmed when no rules configured", func(t *testing.T) {
		m := &Matcher{TargetField: "title"}

		values, err := m.Result([]string{"  A Title  "})
		assert.NoError(t, err)
		assert.Equal(t, []string{"A Title"}, values)
	})

	t.Run("should split on the default delimiter", func(t *testing.T) {
		m := &Matcher{TargetField: "subject", Split: &SplitRule{}}

		values, err := m.Result([]string{"history; art ;science"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"history", "art", "science"}, values)
	})

	t.Run("should split on a custom delimiter", func(t *testing.T) {
		m := &Matcher{TargetField: "subject", Split: &SplitRule{Delimiter: "|"}}

		values, err := m.Result([]string{"a|b|c"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, values)
	})

	t.Run("should return a single element list when the delimiter is absent", func(t *testing.T) {
		m := &Matcher{TargetField: "subject", Split: &SplitRule{Delimiter: "|"}}

		values, err := m.Result([]string{"alone"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"alone"}, values)
	})

	t.Run("should split on a regex pattern", func(t *testing.T) {
		m := &Matcher{TargetField: "subject", Split: &SplitRule{Pattern: regexp.MustCompile(`\s*[;,]\s*`)}}

		values, err := m.Result([]string{"a; b, c"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, values)
	})

	t.Run("should skip values failing the condition", func(t *testing.T) {
		m := &Matcher{
			TargetField: "doi",
			Condition:   func(v string) bool { return strings.HasPrefix(v, "10.") },
		}

		values, err := m.Result([]string{"10.1234/abc", "not-a-doi"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"10.1234/abc"}, values)
	})

	t.Run("should apply the parse step to each split value", func(t *testing.T) {
		m := &Matcher{
			TargetField: "creator",
			Split:       &SplitRule{},
			Parsed:      true,
			Parse: func(v string) ([]string, error) {
				return []string{strings.ToUpper(v)}, nil
			},
		}

		values, err := m.Result([]string{"smith; jones"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"SMITH", "JONES"}, values)
	})

	t.Run("should drop excluded fields entirely", func(t *testing.T) {
		m := &Matcher{TargetField: "internal_note", Excluded: true}

		values, err := m.Result([]string{"secret"})
		assert.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("should default source fields to the target name", func(t *testing.T) {
		m := &Matcher{TargetField: "title"}
		assert.Equal(t, []string{"title"}, m.Sources())

		m.SourceFields = []string{"dc_title", "alt_title"}
		assert.Equal(t, []string{"dc_title", "alt_title"}, m.Sources())
	})
}

func TestNormalize(t *testing.T) {
	t.Run("should normalize a record through the table", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title", SourceFields: []string{"dc_title"}}))
		require.NoError(t, table.Add(&Matcher{TargetField: "subject", Split: &SplitRule{}}))

		raw := map[string][]string{
			"dc_title":          {"A Title"},
			"subject":           {"history;art"},
			"source_identifier": {"rec-1"},
		}

		md, err := Normalize(raw, table, testDefaults())
		require.NoError(t, err)
		assert.Equal(t, []string{"A Title"}, md["title"])
		assert.Equal(t, []string{"history", "art"}, md["subject"])
		assert.Equal(t, []string{"rec-1"}, md[KeyIdentifier])
	})

	t.Run("should be deterministic for the same inputs", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))

		raw := map[string][]string{
			"title":             {"T"},
			"source_identifier": {"rec-1"},
			"zeta":              {" z "},
			"alpha":             {"a"},
		}

		first, err := Normalize(raw, table, testDefaults())
		require.NoError(t, err)
		second, err := Normalize(raw, table, testDefaults())
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("should append unmatched fields trimmed", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))

		raw := map[string][]string{
			"title":             {"T"},
			"source_identifier": {"rec-1"},
			"extra":             {"  keep me  ", ""},
		}

		md, err := Normalize(raw, table, testDefaults())
		require.NoError(t, err)
		assert.Equal(t, []string{"keep me"}, md["extra"])
	})

	t.Run("should accumulate values from multiple matchers targeting the same field", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title", SourceFields: []string{"title", "alt_title"}}))

		raw := map[string][]string{
			"title":             {"Main"},
			"alt_title":         {"Alternate"},
			"source_identifier": {"rec-1"},
		}

		md, err := Normalize(raw, table, testDefaults())
		require.NoError(t, err)
		assert.Equal(t, []string{"Main", "Alternate"}, md["title"])
	})

	t.Run("should stamp the identifier from the configured column", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))

		defaults := testDefaults()
		defaults.IdentifierColumn = "record_id"

		raw := map[string][]string{
			"title":     {"T"},
			"record_id": {"abc-123"},
		}

		md, err := Normalize(raw, table, defaults)
		require.NoError(t, err)
		assert.Equal(t, "abc-123", md.First(KeyIdentifier))
	})

	t.Run("should apply visibility and rights defaults when absent", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))

		raw := map[string][]string{
			"title":             {"T"},
			"source_identifier": {"rec-1"},
		}

		md, err := Normalize(raw, table, testDefaults())
		require.NoError(t, err)
		assert.Equal(t, "open", md.First(KeyVisibility))
		assert.Equal(t, []string{"http://rightsstatements.org/vocab/InC/1.0/"}, md[KeyRightsStatement])
	})

	t.Run("should not override visibility supplied by the source", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))

		raw := map[string][]string{
			"title":             {"T"},
			"source_identifier": {"rec-1"},
			"visibility":        {"restricted"},
		}

		md, err := Normalize(raw, table, testDefaults())
		require.NoError(t, err)
		assert.Equal(t, []string{"restricted"}, md[KeyVisibility])
	})

	t.Run("should fail with a validation error when the title is missing", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))

		raw := map[string][]string{
			"source_identifier": {"rec-1"},
		}

		_, err := Normalize(raw, table, testDefaults())
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("should fail with a validation error when the identifier is missing", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))

		raw := map[string][]string{
			"title": {"T"},
		}

		_, err := Normalize(raw, table, testDefaults())
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}

func TestParseTable(t *testing.T) {
	t.Run("should build matchers from field mapping JSON", func(t *testing.T) {
		raw := []byte(`{
			"title": {"from": ["dc_title"]},
			"subject": {"split": true},
			"keywords": {"split": "|"},
			"creator": {"split": "/\\s*;\\s*/"},
			"internal": {"excluded": true}
		}`)

		table, err := ParseTable("csv", "work", raw)
		require.NoError(t, err)
		assert.Equal(t, 5, table.Len())

		title, ok := table.Get("title")
		require.True(t, ok)
		assert.Equal(t, []string{"dc_title"}, title.SourceFields)

		subject, ok := table.Get("subject")
		require.True(t, ok)
		require.NotNil(t, subject.Split)
		assert.Equal(t, []string{"a", "b"}, subject.Split.Apply("a;b"))

		keywords, ok := table.Get("keywords")
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, keywords.Split.Apply("a|b"))

		creator, ok := table.Get("creator")
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, creator.Split.Apply("a ; b"))

		internal, ok := table.Get("internal")
		require.True(t, ok)
		assert.True(t, internal.Excluded)
	})

	t.Run("should return an empty table for empty JSON", func(t *testing.T) {
		table, err := ParseTable("csv", "work", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, table.Len())
	})

	t.Run("should reject an invalid split pattern", func(t *testing.T) {
		_, err := ParseTable("csv", "work", []byte(`{"a": {"split": "/(/"}}`))
		assert.Error(t, err)
	})

	t.Run("should reject a split rule that is neither bool nor string", func(t *testing.T) {
		_, err := ParseTable("csv", "work", []byte(`{"a": {"split": 5}}`))
		assert.Error(t, err)
	})

	t.Run("should reject duplicate registration through Add", func(t *testing.T) {
		table := NewTable("csv", "work")
		require.NoError(t, table.Add(&Matcher{TargetField: "title"}))
		assert.Error(t, table.Add(&Matcher{TargetField: "title"}))
	})
}
