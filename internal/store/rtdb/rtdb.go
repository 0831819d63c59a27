// Package rtdb implements store.Store on the Firebase Realtime Database.
//
// The Admin SDK has no streaming listeners, so Watch polls with ETags and only
// emits when the server reports a change.
package rtdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"firebase.google.com/go/v4/db"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/and161185/toursync/internal/errs"
	"github.com/and161185/toursync/internal/store"
	"github.com/and161185/toursync/internal/store/pushid"
)

// DefaultPollInterval is used when Options.PollInterval is not positive.
const DefaultPollInterval = 2 * time.Second

// Options tune the backend.
type Options struct {
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Store wraps a Realtime Database client.
type Store struct {
	client *db.Client
	keys   *pushid.Generator
	poll   time.Duration
	log    *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an initialized database client.
func New(client *db.Client, opts Options) *Store {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{client: client, keys: pushid.New(nil), poll: opts.PollInterval, log: opts.Logger}
}

func (s *Store) ref(path string) *db.Ref { return s.client.NewRef(store.Join(path)) }

// Get reads the value at path.
func (s *Store) Get(ctx context.Context, path string) (any, error) {
	var v any
	if err := s.ref(path).Get(ctx, &v); err != nil {
		return nil, classify("get", path, err)
	}
	return v, nil
}

// Set replaces the value at path.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	if err := s.ref(path).Set(ctx, value); err != nil {
		return classify("set", path, err)
	}
	return nil
}

// Update merges patch into the node at path.
func (s *Store) Update(ctx context.Context, path string, patch map[string]any) error {
	if err := s.ref(path).Update(ctx, patch); err != nil {
		return classify("update", path, err)
	}
	return nil
}

// Remove deletes the node at path.
func (s *Store) Remove(ctx context.Context, path string) error {
	if err := s.ref(path).Delete(ctx); err != nil {
		return classify("remove", path, err)
	}
	return nil
}

// PushKey generates a push id locally, the way the Firebase clients do.
func (s *Store) PushKey(_ context.Context, _ string) (string, error) {
	return s.keys.Next(), nil
}

// QueryEqual runs orderByChild/equalTo. Unindexed children are reported as
// errs.ErrMissingIndex.
func (s *Store) QueryEqual(ctx context.Context, path, field string, value any) (any, error) {
	var v any
	child := strings.ReplaceAll(field, ".", "/")
	if err := s.ref(path).OrderByChild(child).EqualTo(value).Get(ctx, &v); err != nil {
		return nil, classify("query", path, err)
	}
	return v, nil
}

// Watch polls path and emits a snapshot whenever its ETag changes.
func (s *Store) Watch(ctx context.Context, path string) (<-chan any, error) {
	ref := s.ref(path)
	var first any
	etag, err := ref.GetWithETag(ctx, &first)
	if err != nil {
		return nil, classify("watch", path, err)
	}
	box := store.NewMailbox[any]()
	box.Offer(first)

	go func() {
		defer box.Close()
		b := s.pollBackOff()
		wait := s.poll
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			var v any
			changed, next, err := ref.GetIfChanged(ctx, etag, &v)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				wait = b.NextBackOff()
				s.log.Warn("rtdb poll failed", zap.String("path", path), zap.Duration("retry_in", wait), zap.Error(err))
				continue
			}
			b.Reset()
			wait = s.poll
			if changed {
				etag = next
				box.Offer(v)
			}
		}
	}()
	return box.C(), nil
}

// pollBackOff spaces out polls after failures, starting from the poll interval.
func (s *Store) pollBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.poll
	b.MaxInterval = 30 * s.poll
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Close is a no-op; the database client holds no closable resources.
func (s *Store) Close() error { return nil }

// classify maps RTDB REST errors onto errs sentinels.
func classify(op, path string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Index not defined"):
		return fmt.Errorf("rtdb %s %s: %w: %s", op, path, errs.ErrMissingIndex, msg)
	case strings.Contains(msg, "Permission denied"), strings.Contains(msg, "permission_denied"):
		return fmt.Errorf("rtdb %s %s: %w: %s", op, path, errs.ErrPermission, msg)
	default:
		return fmt.Errorf("rtdb %s %s: %w", op, path, err)
	}
}
