// Package decode normalizes raw store trees into record lists without ever failing.
//
// Raw values are JSON-shaped: map[string]any, []any, string, float64, bool or nil.
package decode

import (
	"sort"
	"strconv"
	"strings"
)

// ToRecordList returns raw as a sequence of records.
// A slice is returned as-is, a keyed mapping yields its values ordered by key,
// anything else (nil included) yields an empty, non-nil slice.
func ToRecordList(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, v[k])
		}
		return out
	default:
		return []any{}
	}
}

// FilterValid keeps records that are non-nil mappings with every required
// dotted path resolving to a non-empty value.
func FilterValid(records []any, required []string) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok || m == nil {
			continue
		}
		if Valid(m, required) {
			out = append(out, m)
		}
	}
	return out
}

// Valid reports whether every required path of rec is non-empty.
func Valid(rec map[string]any, required []string) bool {
	for _, p := range required {
		if IsEmpty(SafeGet(rec, p, nil)) {
			return false
		}
	}
	return true
}

// SafeGet resolves a dot-separated path against nested mappings.
// Numeric segments index into slices. The fallback is returned as soon as a
// segment is missing or nil, and when the target itself is nil.
func SafeGet(obj any, path string, fallback any) any {
	if obj == nil {
		return fallback
	}
	cur := obj
	if path != "" {
		for _, seg := range strings.Split(path, ".") {
			switch node := cur.(type) {
			case map[string]any:
				next, ok := node[seg]
				if !ok {
					return fallback
				}
				cur = next
			case []any:
				i, err := strconv.Atoi(seg)
				if err != nil || i < 0 || i >= len(node) {
					return fallback
				}
				cur = node[i]
			default:
				return fallback
			}
			if cur == nil {
				return fallback
			}
		}
	}
	if cur == nil {
		return fallback
	}
	return cur
}

// IsEmpty reports whether v counts as absent: nil, "", or an empty slice/map.
// false and 0 are present values.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// AttachIDs returns raw with each mapping child carrying its key under field
// when the child does not already have a non-empty value there. Children are
// shallow-copied; raw itself is left untouched. Non-mapping input is returned as-is.
func AttachIDs(raw any, field string) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		child, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		if !IsEmpty(child[field]) {
			out[k] = child
			continue
		}
		cp := make(map[string]any, len(child)+1)
		for ck, cv := range child {
			cp[ck] = cv
		}
		cp[field] = k
		out[k] = cp
	}
	return out
}
