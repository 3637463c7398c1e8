// Package merge provides the deduplicating merge rules used when fetch
// results arrive in arbitrary order.
//
// Keyed caches never overwrite an entry that is already present: the first
// value observed for a key wins. Ordered lists are identity-unique: Replace
// installs a fresh page, Append adds only items whose identity is absent.
package merge

// Keyed merges incoming into existing and returns existing. Keys already
// present keep their value. A nil existing map is allocated.
func Keyed[K comparable, V any](existing, incoming map[K]V) map[K]V {
	if existing == nil {
		existing = make(map[K]V, len(incoming))
	}
	for k, v := range incoming {
		if _, ok := existing[k]; ok {
			continue
		}
		existing[k] = v
	}
	return existing
}

// Replace returns a copy of incoming as the new canonical list, dropping any
// repeated identity after its first occurrence.
func Replace[T any, ID comparable](incoming []T, id func(T) ID) []T {
	out := make([]T, 0, len(incoming))
	seen := make(map[ID]struct{}, len(incoming))
	for _, item := range incoming {
		key := id(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Append adds each incoming item whose identity is not yet in list, in
// response order, and reports how many were added. Existing items keep their
// relative order.
func Append[T any, ID comparable](list, incoming []T, id func(T) ID) ([]T, int) {
	seen := make(map[ID]struct{}, len(list)+len(incoming))
	for _, item := range list {
		seen[id(item)] = struct{}{}
	}

	added := 0
	for _, item := range incoming {
		key := id(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		list = append(list, item)
		added++
	}
	return list, added
}
