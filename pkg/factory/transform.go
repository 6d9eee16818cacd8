package factory

import "github.com/Ramsey-B/fern/pkg/mapping"

// singleValued metadata keys flatten to their first value; everything else
// stays a list.
var singleValued = map[string]bool{
	mapping.KeyVisibility: true,
	mapping.KeyAdminSet:   true,
	mapping.KeyDepositor:  true,
	mapping.KeyModel:      true,
}

// Transform filters normalized metadata down to the fields the definition
// permits. Fields outside the permitted set are dropped silently; the
// reserved id/model keys never pass through as properties.
func Transform(metadata mapping.Metadata, def Definition) map[string]any {
	permitted := make(map[string]bool, len(def.PermittedFields))
	for _, field := range def.PermittedFields {
		permitted[field] = true
	}

	props := make(map[string]any, len(def.PermittedFields))
	for key, values := range metadata {
		if key == mapping.KeyID || key == mapping.KeyModel {
			continue
		}
		if !permitted[key] {
			continue
		}
		if len(values) == 0 {
			continue
		}
		if singleValued[key] {
			props[key] = values[0]
			continue
		}
		props[key] = values
	}
	return props
}
