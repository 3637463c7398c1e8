package redisstore

import "strings"

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "gallery"

// Key builds the Redis key for a scope.
// Format: prefix:scope:scopeID
//
// Example:
//
//	gallery:scope:previews:2231187
func Key(prefix, scopeID string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, ":"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, "scope", strings.TrimSpace(scopeID))
	return strings.Join(parts, ":")
}
