package textutil

import (
	"slices"
	"strings"
)

// CompactFields lower-cases and trims keys, trims values, and drops entries whose key or value is
// empty. When allowed is non-empty, keys outside it are dropped as well. It returns nil when
// nothing remains.
func CompactFields(values map[string]string, allowed ...string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	var result map[string]string
	for key, value := range values {
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if len(allowed) > 0 && !slices.Contains(allowed, key) {
			continue
		}
		if result == nil {
			result = make(map[string]string, len(values))
		}
		result[key] = value
	}
	return result
}
