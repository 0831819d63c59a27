// Package firestore implements store.Store on Cloud Firestore.
//
// Paths map as follows: "coll" is a collection, "coll/id" a document, and a
// name registered as a singleton lives in the document "singletons/{name}".
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/toursync/internal/errs"
	"github.com/and161185/toursync/internal/store"
)

// SingletonCollection holds documents for singleton paths.
const SingletonCollection = "singletons"

// Options tune the backend.
type Options struct {
	// Singletons lists top-level paths stored as a single document.
	Singletons []string
	Logger     *zap.Logger
}

// Store wraps a Firestore client.
type Store struct {
	client     *firestore.Client
	singletons map[string]struct{}
	log        *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an initialized client. Close closes it.
func New(client *firestore.Client, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Store{client: client, singletons: make(map[string]struct{}), log: opts.Logger}
	for _, n := range opts.Singletons {
		s.singletons[store.Join(n)] = struct{}{}
	}
	return s
}

type target struct {
	coll *firestore.CollectionRef
	doc  *firestore.DocumentRef
}

func (s *Store) resolve(path string) (target, error) {
	segs := store.Split(path)
	switch len(segs) {
	case 1:
		if _, ok := s.singletons[segs[0]]; ok {
			return target{doc: s.client.Collection(SingletonCollection).Doc(segs[0])}, nil
		}
		return target{coll: s.client.Collection(segs[0])}, nil
	case 2:
		return target{doc: s.client.Collection(segs[0]).Doc(segs[1])}, nil
	default:
		return target{}, fmt.Errorf("firestore: unsupported path %q", path)
	}
}

// Get reads a document, or every document of a collection keyed by id.
func (s *Store) Get(ctx context.Context, path string) (any, error) {
	t, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if t.doc != nil {
		snap, err := t.doc.Get(ctx)
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		if err != nil {
			return nil, classify("get", path, err)
		}
		return store.Normalize(snap.Data())
	}
	docs, err := t.coll.Documents(ctx).GetAll()
	if err != nil {
		return nil, classify("get", path, err)
	}
	return keyed(docs)
}

// Set replaces a document.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	t, err := s.resolve(path)
	if err != nil {
		return err
	}
	if t.doc == nil {
		return fmt.Errorf("firestore set %s: cannot replace a collection", path)
	}
	if value == nil {
		return s.Remove(ctx, path)
	}
	if _, err := t.doc.Set(ctx, value); err != nil {
		return classify("set", path, err)
	}
	return nil
}

// Update merges patch into a document, creating it when absent. Nil values
// delete their field.
func (s *Store) Update(ctx context.Context, path string, patch map[string]any) error {
	t, err := s.resolve(path)
	if err != nil {
		return err
	}
	if t.doc == nil {
		return fmt.Errorf("firestore update %s: cannot merge into a collection", path)
	}
	if _, err := t.doc.Set(ctx, mergeFields(patch), firestore.MergeAll); err != nil {
		return classify("update", path, err)
	}
	return nil
}

// mergeFields swaps nil values for firestore.Delete, which MergeAll treats as
// a field removal rather than a stored null.
func mergeFields(patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		if v == nil {
			v = firestore.Delete
		}
		out[k] = v
	}
	return out
}

// Remove deletes a document.
func (s *Store) Remove(ctx context.Context, path string) error {
	t, err := s.resolve(path)
	if err != nil {
		return err
	}
	if t.doc == nil {
		return fmt.Errorf("firestore remove %s: cannot delete a collection", path)
	}
	if _, err := t.doc.Delete(ctx); err != nil {
		return classify("remove", path, err)
	}
	return nil
}

// PushKey returns a fresh auto-id for the collection at path.
func (s *Store) PushKey(_ context.Context, path string) (string, error) {
	t, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if t.coll == nil {
		return "", fmt.Errorf("firestore push %s: not a collection", path)
	}
	return t.coll.NewDoc().ID, nil
}

// QueryEqual runs a where-equal query; dotted fields address nested maps.
func (s *Store) QueryEqual(ctx context.Context, path, field string, value any) (any, error) {
	t, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if t.coll == nil {
		return nil, fmt.Errorf("firestore query %s: not a collection", path)
	}
	docs, err := t.coll.Where(field, "==", value).Documents(ctx).GetAll()
	if err != nil {
		return nil, classify("query", path, err)
	}
	return keyed(docs)
}

// Watch streams snapshots from Firestore's realtime listeners.
func (s *Store) Watch(ctx context.Context, path string) (<-chan any, error) {
	t, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	box := store.NewMailbox[any]()

	if t.doc != nil {
		it := t.doc.Snapshots(ctx)
		go func() {
			defer box.Close()
			defer it.Stop()
			for {
				snap, err := it.Next()
				if err != nil {
					s.stopped(path, err)
					return
				}
				var v any
				if snap.Exists() {
					if v, err = store.Normalize(snap.Data()); err != nil {
						s.log.Warn("firestore snapshot decode", zap.String("path", path), zap.Error(err))
						continue
					}
				}
				box.Offer(v)
			}
		}()
		return box.C(), nil
	}

	it := t.coll.Snapshots(ctx)
	go func() {
		defer box.Close()
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				s.stopped(path, err)
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				s.log.Warn("firestore snapshot read", zap.String("path", path), zap.Error(err))
				continue
			}
			v, err := keyed(docs)
			if err != nil {
				s.log.Warn("firestore snapshot decode", zap.String("path", path), zap.Error(err))
				continue
			}
			box.Offer(v)
		}
	}()
	return box.C(), nil
}

func (s *Store) stopped(path string, err error) {
	if errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
		return
	}
	s.log.Warn("firestore listener stopped", zap.String("path", path), zap.Error(err))
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// keyed converts documents into an id-keyed JSON tree; nil when empty.
func keyed(docs []*firestore.DocumentSnapshot) (any, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(docs))
	for _, d := range docs {
		out[d.Ref.ID] = d.Data()
	}
	return store.Normalize(out)
}

// classify maps gRPC status codes onto errs sentinels.
func classify(op, path string, err error) error {
	switch status.Code(err) {
	case codes.FailedPrecondition:
		return fmt.Errorf("firestore %s %s: %w: %v", op, path, errs.ErrMissingIndex, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("firestore %s %s: %w: %v", op, path, errs.ErrPermission, err)
	case codes.Unavailable:
		return fmt.Errorf("firestore %s %s: %w: %v", op, path, errs.ErrUnavailable, err)
	default:
		return fmt.Errorf("firestore %s %s: %w", op, path, err)
	}
}
