// Package memory implements store.Store as an in-process JSON tree. It backs
// tests and serves as the local fallback when the hosted store is unreachable.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/and161185/toursync/internal/decode"
	"github.com/and161185/toursync/internal/errs"
	"github.com/and161185/toursync/internal/store"
	"github.com/and161185/toursync/internal/store/pushid"
)

// Op names passed to a Fault hook.
const (
	OpGet    = "get"
	OpSet    = "set"
	OpUpdate = "update"
	OpRemove = "remove"
	OpPush   = "push"
	OpQuery  = "query"
	OpWatch  = "watch"
)

// Fault may return an error to fail an operation before it runs.
type Fault func(op, path string) error

type watcher struct {
	path string
	box  *store.Mailbox[any]
}

// Store is a mutex-guarded tree. Values are cloned on the way in and out.
type Store struct {
	mu       sync.Mutex
	root     map[string]any
	indexes  map[string]map[string]struct{}
	watchers map[*watcher]struct{}
	keys     *pushid.Generator
	fault    Fault
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithIndex declares field as indexed under path, enabling QueryEqual on it.
func WithIndex(path, field string) Option {
	return func(s *Store) {
		p := store.Join(path)
		if s.indexes[p] == nil {
			s.indexes[p] = make(map[string]struct{})
		}
		s.indexes[p][field] = struct{}{}
	}
}

// WithFault installs a hook that can fail operations.
func WithFault(f Fault) Option { return func(s *Store) { s.fault = f } }

// WithKeys overrides the push-key generator.
func WithKeys(g *pushid.Generator) Option { return func(s *Store) { s.keys = g } }

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		root:     make(map[string]any),
		indexes:  make(map[string]map[string]struct{}),
		watchers: make(map[*watcher]struct{}),
		keys:     pushid.New(nil),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) check(op, path string) error {
	if s.closed {
		return errs.ErrUnavailable
	}
	if s.fault != nil {
		if err := s.fault(op, path); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the value at path.
func (s *Store) Get(_ context.Context, path string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpGet, path); err != nil {
		return nil, err
	}
	return store.Normalize(s.lookup(store.Split(path)))
}

// Set replaces the value at path. A nil value removes it.
func (s *Store) Set(_ context.Context, path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpSet, path); err != nil {
		return err
	}
	v, err := store.Normalize(value)
	if err != nil {
		return fmt.Errorf("memory set %s: %w", path, err)
	}
	s.put(store.Split(path), v)
	s.notify(path)
	return nil
}

// Update merges patch into the mapping at path, creating it when absent.
func (s *Store) Update(_ context.Context, path string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpUpdate, path); err != nil {
		return err
	}
	if len(patch) == 0 {
		return fmt.Errorf("memory update %s: empty patch", path)
	}
	segs := store.Split(path)
	cur, _ := s.lookup(segs).(map[string]any)
	merged := make(map[string]any, len(cur)+len(patch))
	for k, v := range cur {
		merged[k] = v
	}
	for k, v := range patch {
		nv, err := store.Normalize(v)
		if err != nil {
			return fmt.Errorf("memory update %s.%s: %w", path, k, err)
		}
		if nv == nil {
			delete(merged, k)
			continue
		}
		merged[k] = nv
	}
	s.put(segs, merged)
	s.notify(path)
	return nil
}

// Remove deletes the value at path.
func (s *Store) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpRemove, path); err != nil {
		return err
	}
	s.put(store.Split(path), nil)
	s.notify(path)
	return nil
}

// PushKey returns a push id. Nothing is written.
func (s *Store) PushKey(_ context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpPush, path); err != nil {
		return "", err
	}
	return s.keys.Next(), nil
}

// QueryEqual filters the children of path on an indexed field.
func (s *Store) QueryEqual(_ context.Context, path, field string, value any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpQuery, path); err != nil {
		return nil, err
	}
	p := store.Join(path)
	if _, ok := s.indexes[p][field]; !ok {
		return nil, fmt.Errorf("memory query %s by %q: %w", p, field, errs.ErrMissingIndex)
	}
	want, err := store.Normalize(value)
	if err != nil {
		return nil, err
	}
	children, _ := s.lookup(store.Split(p)).(map[string]any)
	out := make(map[string]any)
	for k, child := range children {
		if got := decode.SafeGet(child, field, nil); got != nil && store.Equal(got, want) {
			out[k] = child
		}
	}
	return store.Normalize(out)
}

// Watch registers a live listener on path.
func (s *Store) Watch(ctx context.Context, path string) (<-chan any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(OpWatch, path); err != nil {
		return nil, err
	}
	w := &watcher{path: store.Join(path), box: store.NewMailbox[any]()}
	s.watchers[w] = struct{}{}
	s.deliver(w)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
		w.box.Close()
	}()
	return w.box.C(), nil
}

// Close marks the store unavailable and closes every watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for w := range s.watchers {
		w.box.Close()
		delete(s.watchers, w)
	}
	return nil
}

// Watchers returns the number of live listeners.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *Store) lookup(segs []string) any {
	var cur any = s.root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// put writes v at segs, pruning empty parents when v is nil.
func (s *Store) put(segs []string, v any) {
	if len(segs) == 0 {
		m, _ := v.(map[string]any)
		if m == nil {
			m = make(map[string]any)
		}
		s.root = m
		return
	}
	s.root = putAt(s.root, segs, v)
}

func putAt(node map[string]any, segs []string, v any) map[string]any {
	if node == nil {
		if v == nil {
			return nil
		}
		node = make(map[string]any)
	}
	key := segs[0]
	if len(segs) == 1 {
		if v == nil {
			delete(node, key)
		} else {
			node[key] = v
		}
	} else {
		child, _ := node[key].(map[string]any)
		child = putAt(child, segs[1:], v)
		if len(child) == 0 {
			delete(node, key)
		} else {
			node[key] = child
		}
	}
	return node
}

func (s *Store) notify(path string) {
	for w := range s.watchers {
		if store.Related(w.path, path) {
			s.deliver(w)
		}
	}
}

func (s *Store) deliver(w *watcher) {
	v, err := store.Normalize(s.lookup(store.Split(w.path)))
	if err != nil {
		return
	}
	w.box.Offer(v)
}
