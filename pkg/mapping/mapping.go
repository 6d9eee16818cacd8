// Package mapping provides the field-matching engine that turns raw,
// heterogeneous source records into normalized metadata.
//
// # Overview
//
// A Table holds an ordered set of Matchers for one (source format, entity
// kind) pair. Each Matcher is a declarative rule: which raw field(s) to pull
// from, whether to split values on a delimiter, whether to run a
// structure-aware parse step, and an optional predicate that filters raw
// values before they are accepted.
//
// Normalize applies a Table to one raw record. Values always accumulate into
// lists so that multiple matchers (or multi-valued raw fields) targeting the
// same name never overwrite each other. Raw fields with no matcher are
// carried over trimmed. The system identifier is stamped from the configured
// identifier column, and visibility / rights / collection membership fall
// back to configured defaults when the source record omits them.
//
// Normalize is a pure function of (raw record, table, defaults): the same
// inputs always produce the same output.
package mapping

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Gobusters/ectolinq"
)

// DefaultDelimiter splits multi-valued fields when a matcher enables
// splitting without naming its own delimiter.
const DefaultDelimiter = ";"

// Well-known normalized metadata keys.
const (
	KeyIdentifier      = "source_identifier"
	KeyID              = "id"
	KeyModel           = "model"
	KeyTitle           = "title"
	KeyVisibility      = "visibility"
	KeyRightsStatement = "rights_statement"
	KeyCollections     = "collections"
	KeyParents         = "parents"
	KeyChildren        = "children"
	KeyAdminSet        = "admin_set_id"
	KeyDepositor       = "depositor"
)

// ParseFunc extracts structured values from a raw string value. Matchers with
// Parsed set run their ParseFunc on every accepted value.
type ParseFunc func(value string) ([]string, error)

// SplitRule configures how a matcher splits raw values. A zero Delimiter with
// no Pattern means the default delimiter.
type SplitRule struct {
	Delimiter string
	Pattern   *regexp.Regexp
}

// Apply splits a single raw value. Empty segments are dropped and the rest
// trimmed.
func (r *SplitRule) Apply(value string) []string {
	var parts []string
	if r.Pattern != nil {
		parts = r.Pattern.Split(value, -1)
	} else {
		delim := r.Delimiter
		if delim == "" {
			delim = DefaultDelimiter
		}
		parts = strings.Split(value, delim)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Matcher converts raw values from one or more source fields into normalized
// values for a single target field.
type Matcher struct {
	// TargetField is the normalized metadata key this matcher produces.
	TargetField string

	// SourceFields are the raw field names to pull from. Defaults to the
	// target field name when empty.
	SourceFields []string

	// Split, when non-nil, splits each raw value into multiple values.
	Split *SplitRule

	// Parsed marks values that need structure-aware extraction via Parse.
	Parsed bool
	Parse  ParseFunc

	// Condition filters raw values before they are accepted.
	Condition func(value string) bool

	// Excluded drops the field entirely.
	Excluded bool
}

// Sources returns the raw field names this matcher reads, defaulting to the
// target field name.
func (m *Matcher) Sources() []string {
	if len(m.SourceFields) == 0 {
		return []string{m.TargetField}
	}
	return m.SourceFields
}

// Result produces the normalized values for a set of raw values. The result
// is always a list, possibly empty.
func (m *Matcher) Result(rawValues []string) ([]string, error) {
	if m.Excluded {
		return nil, nil
	}

	accepted := rawValues
	if m.Condition != nil {
		accepted = ectolinq.Filter(rawValues, m.Condition)
	}

	values := make([]string, 0, len(accepted))
	for _, raw := range accepted {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		split := []string{raw}
		if m.Split != nil {
			split = m.Split.Apply(raw)
		}

		for _, v := range split {
			if m.Parsed && m.Parse != nil {
				parsed, err := m.Parse(v)
				if err != nil {
					return nil, fmt.Errorf("parse %s: %w", m.TargetField, err)
				}
				values = append(values, parsed...)
				continue
			}
			values = append(values, v)
		}
	}

	return values, nil
}

// Defaults carries the configuration-driven fallback values applied when a
// source record omits them. Constructed once at startup, never mutated.
type Defaults struct {
	// IdentifierColumn is the raw field holding the source identifier.
	IdentifierColumn string

	Visibility      string
	RightsStatement []string
	CollectionIDs   []string
	AdminSetID      string
	Depositor       string
}

// Metadata is a normalized record: every value is a list.
type Metadata map[string][]string

// Add appends values to a key, never overwriting existing ones.
func (md Metadata) Add(key string, values ...string) {
	if len(values) == 0 {
		return
	}
	md[key] = append(md[key], values...)
}

// First returns the first value for a key, or "".
func (md Metadata) First(key string) string {
	if vals := md[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Has reports whether the key has at least one non-empty value.
func (md Metadata) Has(key string) bool {
	return len(ectolinq.Filter(md[key], func(v string) bool { return v != "" })) > 0
}

// Normalize applies a mapping table to one raw record.
//
// Matched target fields are produced in table order; raw fields no matcher
// claims are appended trimmed, in sorted order for determinism. The system
// identifier is stamped from the defaults' identifier column, and
// visibility / rights / collection defaults fill in absent values. A missing
// title or source identifier is a terminal validation error.
func Normalize(raw map[string][]string, table *Table, defaults Defaults) (Metadata, error) {
	md := make(Metadata, len(raw))
	claimed := make(map[string]bool, len(raw))

	for _, target := range table.TargetFields() {
		matcher, _ := table.Get(target)

		var rawValues []string
		for _, source := range matcher.Sources() {
			claimed[source] = true
			rawValues = append(rawValues, raw[source]...)
		}

		values, err := matcher.Result(rawValues)
		if err != nil {
			return nil, err
		}
		md.Add(target, values...)
	}

	unclaimed := make([]string, 0, len(raw))
	for field := range raw {
		if !claimed[field] {
			unclaimed = append(unclaimed, field)
		}
	}
	sort.Strings(unclaimed)
	for _, field := range unclaimed {
		for _, v := range raw[field] {
			v = strings.TrimSpace(v)
			if v != "" {
				md.Add(field, v)
			}
		}
	}

	stampIdentifier(md, raw, defaults)
	applyDefaults(md, defaults)

	if !md.Has(KeyIdentifier) {
		return nil, NewValidationError(KeyIdentifier)
	}
	if !md.Has(KeyTitle) {
		return nil, NewValidationError(KeyTitle)
	}

	return md, nil
}

func stampIdentifier(md Metadata, raw map[string][]string, defaults Defaults) {
	if md.Has(KeyIdentifier) {
		return
	}

	column := defaults.IdentifierColumn
	if column == "" {
		column = KeyIdentifier
	}
	for _, v := range raw[column] {
		v = strings.TrimSpace(v)
		if v != "" {
			md.Add(KeyIdentifier, v)
			return
		}
	}
}

func applyDefaults(md Metadata, defaults Defaults) {
	if !md.Has(KeyVisibility) && defaults.Visibility != "" {
		md.Add(KeyVisibility, defaults.Visibility)
	}
	if !md.Has(KeyRightsStatement) && len(defaults.RightsStatement) > 0 {
		md.Add(KeyRightsStatement, defaults.RightsStatement...)
	}
	if !md.Has(KeyCollections) && len(defaults.CollectionIDs) > 0 {
		md.Add(KeyCollections, defaults.CollectionIDs...)
	}
	if !md.Has(KeyAdminSet) && defaults.AdminSetID != "" {
		md.Add(KeyAdminSet, defaults.AdminSetID)
	}
	if !md.Has(KeyDepositor) && defaults.Depositor != "" {
		md.Add(KeyDepositor, defaults.Depositor)
	}
}
