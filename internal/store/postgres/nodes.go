package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/and161185/toursync/internal/errs"
	"github.com/and161185/toursync/internal/store"
)

// Channel is the NOTIFY channel the nodes trigger publishes collection names on.
const Channel = "toursync_nodes"

// Resync is delivered by a Notifier after a reconnect; every watcher reloads.
const Resync = "*"

// Notifier delivers NOTIFY payloads for a channel until ctx is done.
type Notifier interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}

// Store keeps one row per record in table nodes(collection, key, value).
// A top-level singleton lives in the row with an empty key.
type Store struct {
	db       *DB
	notifier Notifier
	log      *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New constructs the store. A nil notifier disables Watch.
func New(db *DB, notifier Notifier, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, notifier: notifier, log: log}
}

// split maps a path to (collection, key). Deeper paths are rejected.
func split(path string) (string, string, error) {
	segs := store.Split(path)
	switch len(segs) {
	case 1:
		return segs[0], "", nil
	case 2:
		return segs[0], segs[1], nil
	default:
		return "", "", fmt.Errorf("postgres: unsupported path %q", path)
	}
}

// Get returns a record, a singleton, or an id-keyed collection.
func (s *Store) Get(ctx context.Context, path string) (any, error) {
	coll, key, err := split(path)
	if err != nil {
		return nil, err
	}
	if key != "" {
		const q = `SELECT value FROM nodes WHERE collection=$1 AND key=$2`
		var raw []byte
		if err := s.db.Pool.QueryRow(ctx, q, coll, key).Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, classify("get", path, err)
		}
		return unmarshal(raw)
	}

	const q = `SELECT key, value FROM nodes WHERE collection=$1`
	rows, err := s.db.Pool.Query(ctx, q, coll)
	if err != nil {
		return nil, classify("get", path, err)
	}
	out, single, err := scanKeyed(rows)
	if err != nil {
		return nil, classify("get", path, err)
	}
	if single != nil {
		return single, nil
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Set upserts a whole record (or singleton). A nil value removes it.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	if value == nil {
		return s.Remove(ctx, path)
	}
	coll, key, err := split(path)
	if err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("postgres set %s: %w", path, err)
	}
	const q = `
INSERT INTO nodes (collection, key, value, updated_at) VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (collection, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.db.Pool.Exec(ctx, q, coll, key, string(b)); err != nil {
		return classify("set", path, err)
	}
	return nil
}

// Update merges patch into the stored object (top-level keys), creating it when absent.
func (s *Store) Update(ctx context.Context, path string, patch map[string]any) error {
	if len(patch) == 0 {
		return fmt.Errorf("postgres update %s: empty patch", path)
	}
	coll, key, err := split(path)
	if err != nil {
		return err
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("postgres update %s: %w", path, err)
	}
	const q = `
INSERT INTO nodes (collection, key, value, updated_at) VALUES ($1, $2, jsonb_strip_nulls($3::jsonb), now())
ON CONFLICT (collection, key) DO UPDATE SET value = jsonb_strip_nulls(nodes.value || EXCLUDED.value), updated_at = now()`
	if _, err := s.db.Pool.Exec(ctx, q, coll, key, string(b)); err != nil {
		return classify("update", path, err)
	}
	return nil
}

// Remove deletes a record, or every row of a collection.
func (s *Store) Remove(ctx context.Context, path string) error {
	coll, key, err := split(path)
	if err != nil {
		return err
	}
	if key == "" {
		const q = `DELETE FROM nodes WHERE collection=$1`
		_, err = s.db.Pool.Exec(ctx, q, coll)
	} else {
		const q = `DELETE FROM nodes WHERE collection=$1 AND key=$2`
		_, err = s.db.Pool.Exec(ctx, q, coll, key)
	}
	if err != nil {
		return classify("remove", path, err)
	}
	return nil
}

// PushKey returns a UUIDv7, which sorts by creation time.
func (s *Store) PushKey(_ context.Context, _ string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// QueryEqual matches a (dotted) field with jsonb equality.
func (s *Store) QueryEqual(ctx context.Context, path, field string, value any) (any, error) {
	coll, key, err := split(path)
	if err != nil {
		return nil, err
	}
	if key != "" {
		return nil, fmt.Errorf("postgres query %s: not a collection", path)
	}
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("postgres query %s: %w", path, err)
	}
	const q = `SELECT key, value FROM nodes WHERE collection=$1 AND key<>'' AND value #> $2 = $3::jsonb`
	rows, err := s.db.Pool.Query(ctx, q, coll, store.Split(pathOf(field)), string(want))
	if err != nil {
		return nil, classify("query", path, err)
	}
	out, _, err := scanKeyed(rows)
	if err != nil {
		return nil, classify("query", path, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Watch reloads path whenever the nodes trigger reports its collection.
func (s *Store) Watch(ctx context.Context, path string) (<-chan any, error) {
	if s.notifier == nil {
		return nil, fmt.Errorf("postgres watch %s: %w", path, errs.ErrUnavailable)
	}
	coll, _, err := split(path)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancel(ctx)
	events, err := s.notifier.Listen(lctx, Channel)
	if err != nil {
		cancel()
		return nil, classify("watch", path, err)
	}
	first, err := s.Get(ctx, path)
	if err != nil {
		cancel()
		return nil, err
	}
	box := store.NewMailbox[any]()
	box.Offer(first)

	go func() {
		defer box.Close()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-events:
				if !ok {
					return
				}
				if payload != coll && payload != Resync {
					continue
				}
				v, err := s.Get(ctx, path)
				if err != nil {
					if ctx.Err() == nil {
						s.log.Warn("postgres watch reload", zap.String("path", path), zap.Error(err))
					}
					continue
				}
				box.Offer(v)
			}
		}
	}()
	return box.C(), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// pathOf turns a dotted field into a slash path so it splits like a store path.
func pathOf(field string) string { return strings.ReplaceAll(field, ".", "/") }

func unmarshal(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidRecord, err)
	}
	return v, nil
}

// scanKeyed reads (key, value) rows. The row with an empty key is returned
// separately as the singleton value.
func scanKeyed(rows pgx.Rows) (map[string]any, any, error) {
	defer rows.Close()
	out := make(map[string]any)
	var single any
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, nil, err
		}
		v, err := unmarshal(raw)
		if err != nil {
			continue
		}
		if key == "" {
			single = v
			continue
		}
		out[key] = v
	}
	return out, single, rows.Err()
}

// classify maps Postgres errors onto errs sentinels.
func classify(op, path string, err error) error {
	var pg *pgconn.PgError
	if errors.As(err, &pg) && (pg.Code == "42501" || pg.Code == "28000") {
		return fmt.Errorf("postgres %s %s: %w: %v", op, path, errs.ErrPermission, err)
	}
	return fmt.Errorf("postgres %s %s: %w", op, path, err)
}
