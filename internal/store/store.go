// Package store defines the hosted hierarchical store contract consumed by the
// collection client, plus helpers shared by its backends.
package store

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"
)

// Store is a hierarchical key-value tree addressed by slash-separated paths.
// Values are JSON-shaped trees. Writes are last-write-wins.
type Store interface {
	// Get returns the value at path, or nil when nothing is stored there.
	Get(ctx context.Context, path string) (any, error)
	// Set replaces the value at path.
	Set(ctx context.Context, path string, value any) error
	// Update merges the given children into the value at path (shallow). A nil
	// child is removed.
	Update(ctx context.Context, path string, patch map[string]any) error
	// Remove deletes the value at path. Removing an absent path is not an error.
	Remove(ctx context.Context, path string) error
	// PushKey returns a new unique, time-ordered child key for path without writing.
	PushKey(ctx context.Context, path string) (string, error)
	// QueryEqual returns the children of path whose field equals value, keyed
	// like Get. It fails with errs.ErrMissingIndex when the field is unindexed.
	QueryEqual(ctx context.Context, path, field string, value any) (any, error)
	// Watch delivers the current value at path and then a full snapshot after
	// every change. Only the latest undelivered snapshot is retained. The
	// channel is closed once ctx is done.
	Watch(ctx context.Context, path string) (<-chan any, error)
	// Close releases the backend.
	Close() error
}

// Join builds a store path from segments, ignoring empty ones.
func Join(segs ...string) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Related reports whether a change at one path can alter the value at the
// other, i.e. one is an ancestor of (or equal to) the other.
func Related(a, b string) bool {
	as, bs := Split(a), Split(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Normalize converts v into its JSON tree form (maps, slices, float64,
// string, bool, nil) by a marshal round trip. It also deep-copies v.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal reports whether two JSON-shaped values are the same tree.
func Equal(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
