package mapping

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// Table is an ordered target-field → Matcher collection for one
// (source format, entity kind) pair. Tables are built at startup and
// immutable at run time.
type Table struct {
	Format string
	Kind   string

	order    []string
	matchers map[string]*Matcher
}

func NewTable(format, kind string) *Table {
	return &Table{
		Format:   format,
		Kind:     kind,
		matchers: make(map[string]*Matcher),
	}
}

// Add registers a matcher. Exactly one matcher may resolve per target field;
// adding a second for the same target is an error.
func (t *Table) Add(m *Matcher) error {
	if m.TargetField == "" {
		return fmt.Errorf("matcher has no target field")
	}
	if _, exists := t.matchers[m.TargetField]; exists {
		return fmt.Errorf("duplicate matcher for target field %q", m.TargetField)
	}
	t.order = append(t.order, m.TargetField)
	t.matchers[m.TargetField] = m
	return nil
}

// Get returns the matcher for a target field.
func (t *Table) Get(target string) (*Matcher, bool) {
	m, ok := t.matchers[target]
	return m, ok
}

// TargetFields returns the target fields in registration order.
func (t *Table) TargetFields() []string {
	return t.order
}

// Len returns the number of registered matchers.
func (t *Table) Len() int {
	return len(t.order)
}

// matcherConfig is the persisted form of a matcher in an importer's
// field_mappings JSON. Split accepts a bool (default delimiter), a literal
// delimiter string, or a "/regex/" pattern.
type matcherConfig struct {
	From     []string        `json:"from,omitempty"`
	Split    json.RawMessage `json:"split,omitempty"`
	Parsed   bool            `json:"parsed,omitempty"`
	Excluded bool            `json:"excluded,omitempty"`
}

// ParseTable builds a Table from an importer's field_mappings JSON: an
// object of target field → matcher config. JSON object order is not
// recoverable, so targets compile in sorted order to keep Normalize
// deterministic.
func ParseTable(format, kind string, raw json.RawMessage) (*Table, error) {
	table := NewTable(format, kind)
	if len(raw) == 0 {
		return table, nil
	}

	var configs map[string]matcherConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("parse field mappings: %w", err)
	}

	// Deterministic compile order.
	targets := make([]string, 0, len(configs))
	for target := range configs {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		cfg := configs[target]
		matcher := &Matcher{
			TargetField:  target,
			SourceFields: cfg.From,
			Parsed:       cfg.Parsed,
			Excluded:     cfg.Excluded,
		}

		split, err := parseSplit(cfg.Split)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", target, err)
		}
		matcher.Split = split

		if err := table.Add(matcher); err != nil {
			return nil, err
		}
	}

	return table, nil
}

func parseSplit(raw json.RawMessage) (*SplitRule, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err == nil {
		if !enabled {
			return nil, nil
		}
		return &SplitRule{}, nil
	}

	var literal string
	if err := json.Unmarshal(raw, &literal); err != nil {
		return nil, fmt.Errorf("invalid split rule: %s", string(raw))
	}

	if len(literal) > 2 && literal[0] == '/' && literal[len(literal)-1] == '/' {
		pattern, err := regexp.Compile(literal[1 : len(literal)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid split pattern: %w", err)
		}
		return &SplitRule{Pattern: pattern}, nil
	}

	return &SplitRule{Delimiter: literal}, nil
}
