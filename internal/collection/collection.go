// Package collection implements typed CRUD and live subscriptions over one
// path of a hierarchical store.
//
// Client methods never return errors. A nil store is reported as unavailable,
// a failing call as an operation error; both are logged and degrade to an
// empty list, nil, or false.
package collection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/and161185/toursync/internal/decode"
	"github.com/and161185/toursync/internal/errs"
	"github.com/and161185/toursync/internal/metrics"
	"github.com/and161185/toursync/internal/status"
	"github.com/and161185/toursync/internal/store"
)

// Record field names written by the client.
const (
	FieldID        = "id"
	FieldStatus    = "status"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Schema describes the records kept under one path.
type Schema struct {
	// Path is the collection path in the store.
	Path string
	// Required lists dotted paths that must be non-empty for a record to be listed.
	Required []string
	// DefaultStatus is assigned by Add when the record has none.
	DefaultStatus string
	// Singleton marks a path holding one object instead of keyed records. Such
	// a client only serves Load and Store; keyed clients refuse them.
	Singleton bool
	// Transitions, if set, is consulted by Update to log off-table status changes.
	Transitions *status.Table
}

// Patch is a partial record. Nil values are dropped before writing; a
// top-level key set to Delete is removed from the stored record.
type Patch map[string]any

type deleteField struct{}

// Delete marks a Patch key for removal.
var Delete any = deleteField{}

type options struct {
	log *zap.Logger
	now func() time.Time
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides the clock used for createdAt and updatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Client reads and writes records of type T under one store path.
type Client[T any] struct {
	st     store.Store
	schema Schema
	log    *zap.Logger
	now    func() time.Time
}

// New binds a client to st and schema. st may be nil, in which case every
// operation reports the store as unavailable.
func New[T any](st store.Store, schema Schema, opts ...Option) *Client[T] {
	o := options{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client[T]{
		st:     st,
		schema: schema,
		log:    o.log.With(zap.String("collection", schema.Path)),
		now:    o.now,
	}
}

// Schema returns the schema the client was built with.
func (c *Client[T]) Schema() Schema { return c.schema }

// Now returns the current timestamp in the format the client writes.
func (c *Client[T]) Now() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

func (c *Client[T]) available(op string) bool {
	if c.st != nil {
		return true
	}
	c.log.Warn("store unavailable", zap.String("op", op))
	metrics.Op(c.schema.Path, op, metrics.OutcomeUnavailable)
	return false
}

// shape reports whether op fits the path. Keyed operations are refused on a
// singleton and Load/Store on a keyed collection.
func (c *Client[T]) shape(op string, singleton bool) bool {
	if c.schema.Singleton == singleton {
		return true
	}
	c.log.Warn("operation does not fit path", zap.String("op", op), zap.Bool("singleton", c.schema.Singleton))
	metrics.Op(c.schema.Path, op, metrics.OutcomeError)
	return false
}

func (c *Client[T]) failed(op string, err error, fields ...zap.Field) {
	if errors.Is(err, errs.ErrNotFound) {
		c.log.Info("record not found", append(fields, zap.String("op", op))...)
		metrics.Op(c.schema.Path, op, metrics.OutcomeNotFound)
		return
	}
	outcome := metrics.OutcomeError
	if errors.Is(err, errs.ErrUnavailable) {
		outcome = metrics.OutcomeUnavailable
	}
	c.log.Error("store operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
	metrics.Op(c.schema.Path, op, outcome)
}

func (c *Client[T]) ok(op string) { metrics.Op(c.schema.Path, op, metrics.OutcomeOK) }

func (c *Client[T]) key(id string) string { return store.Join(c.schema.Path, id) }

// existing reads the record under id, failing with errs.ErrNotFound when absent.
func (c *Client[T]) existing(ctx context.Context, id string) (any, error) {
	raw, err := c.st.Get(ctx, c.key(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errs.ErrNotFound
	}
	return raw, nil
}

// ListAll returns every valid record. Invalid records are skipped.
func (c *Client[T]) ListAll(ctx context.Context) []T {
	const op = "list"
	if !c.shape(op, false) || !c.available(op) {
		return []T{}
	}
	raw, err := c.st.Get(ctx, c.schema.Path)
	if err != nil {
		c.failed(op, err)
		return []T{}
	}
	c.ok(op)
	return c.decodeList(raw)
}

// GetByID returns the record stored under id, or nil.
func (c *Client[T]) GetByID(ctx context.Context, id string) *T {
	const op = "get"
	if id == "" || !c.shape(op, false) || !c.available(op) {
		return nil
	}
	raw, err := c.st.Get(ctx, c.key(id))
	if err != nil {
		c.failed(op, err, zap.String("id", id))
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		metrics.Op(c.schema.Path, op, metrics.OutcomeNotFound)
		return nil
	}
	if decode.IsEmpty(m[FieldID]) {
		m[FieldID] = id
	}
	rec, skipped, err := fromMap[T](m)
	if err != nil {
		c.failed(op, err, zap.String("id", id))
		return nil
	}
	if len(skipped) > 0 {
		c.log.Debug("fields ignored", zap.String("id", id), zap.Strings("fields", skipped))
	}
	c.ok(op)
	return &rec
}

// Add stores rec under a new key. The id, default status and both
// timestamps are filled in. It returns the stored record, or nil.
func (c *Client[T]) Add(ctx context.Context, rec T) *T {
	const op = "add"
	if !c.shape(op, false) || !c.available(op) {
		return nil
	}
	m, err := toMap(rec)
	if err != nil {
		c.failed(op, err)
		return nil
	}
	id, err := c.st.PushKey(ctx, c.schema.Path)
	if err != nil {
		c.failed(op, err)
		return nil
	}
	ts := c.Now()
	m[FieldID] = id
	if c.schema.DefaultStatus != "" && decode.IsEmpty(m[FieldStatus]) {
		m[FieldStatus] = c.schema.DefaultStatus
	}
	m[FieldCreatedAt] = ts
	m[FieldUpdatedAt] = ts
	clean, _ := StripUndefined(m).(map[string]any)

	if err := c.st.Set(ctx, c.key(id), clean); err != nil {
		c.failed(op, err, zap.String("id", id))
		return nil
	}
	out, _, err := fromMap[T](clean)
	if err != nil {
		c.failed(op, err, zap.String("id", id))
		return nil
	}
	c.ok(op)
	return &out
}

// Update merges patch into the record under id and refreshes updatedAt.
// Keys set to Delete are removed; the backend receives them as nil.
// It reports false when the record does not exist or the write fails.
func (c *Client[T]) Update(ctx context.Context, id string, patch Patch) bool {
	const op = "update"
	if id == "" || !c.shape(op, false) || !c.available(op) {
		return false
	}
	cur, err := c.existing(ctx, id)
	if err != nil {
		c.failed(op, err, zap.String("id", id))
		return false
	}

	var drop []string
	fields := make(map[string]any, len(patch))
	for k, v := range patch {
		if v == Delete {
			drop = append(drop, k)
			continue
		}
		fields[k] = v
	}
	norm, err := store.Normalize(fields)
	if err != nil {
		c.failed(op, err, zap.String("id", id))
		return false
	}
	p, _ := StripUndefined(norm).(map[string]any)
	if p == nil {
		p = make(map[string]any)
	}
	for _, k := range drop {
		p[k] = nil
	}
	delete(p, FieldID)
	p[FieldUpdatedAt] = c.Now()
	c.checkTransition(id, cur, p)

	if err := c.st.Update(ctx, c.key(id), p); err != nil {
		c.failed(op, err, zap.String("id", id))
		return false
	}
	c.ok(op)
	return true
}

func (c *Client[T]) checkTransition(id string, cur any, patch map[string]any) {
	to, ok := patch[FieldStatus].(string)
	if !ok || c.schema.Transitions == nil {
		return
	}
	from, _ := decode.SafeGet(cur, FieldStatus, "").(string)
	if !c.schema.Transitions.CanTransition(from, to) {
		c.log.Warn("status change outside transition table",
			zap.String("id", id), zap.String("from", from), zap.String("to", to))
	}
}

// Remove deletes the record under id. It reports false when the record does
// not exist or the delete fails.
func (c *Client[T]) Remove(ctx context.Context, id string) bool {
	const op = "remove"
	if id == "" || !c.shape(op, false) || !c.available(op) {
		return false
	}
	if _, err := c.existing(ctx, id); err != nil {
		c.failed(op, err, zap.String("id", id))
		return false
	}
	if err := c.st.Remove(ctx, c.key(id)); err != nil {
		c.failed(op, err, zap.String("id", id))
		return false
	}
	c.ok(op)
	return true
}

// QueryEqual returns valid records whose field equals value. When the store
// has no index for field, the whole collection is fetched and filtered here.
func (c *Client[T]) QueryEqual(ctx context.Context, field string, value any) []T {
	const op = "query"
	if !c.shape(op, false) || !c.available(op) {
		return []T{}
	}
	raw, err := c.st.QueryEqual(ctx, c.schema.Path, field, value)
	if err == nil {
		c.ok(op)
		return c.decodeList(raw)
	}
	if !errors.Is(err, errs.ErrMissingIndex) {
		c.failed(op, err, zap.String("field", field))
		return []T{}
	}

	c.log.Warn("index missing, filtering client-side", zap.String("field", field))
	metrics.Op(c.schema.Path, op, metrics.OutcomeFallback)
	raw, err = c.st.Get(ctx, c.schema.Path)
	if err != nil {
		c.failed(op, err, zap.String("field", field))
		return []T{}
	}
	want, err := store.Normalize(value)
	if err != nil {
		c.failed(op, err, zap.String("field", field))
		return []T{}
	}
	return c.decodeList(filterEqual(raw, field, want))
}

func filterEqual(raw any, field string, want any) any {
	out := make([]any, 0)
	for _, rec := range decode.ToRecordList(decode.AttachIDs(raw, FieldID)) {
		got := decode.SafeGet(rec, field, nil)
		if got != nil && store.Equal(got, want) {
			out = append(out, rec)
		}
	}
	return out
}

// Where returns the listed records accepted by keep.
func (c *Client[T]) Where(ctx context.Context, keep func(T) bool) []T {
	all := c.ListAll(ctx)
	out := all[:0]
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Subscribe delivers the full decoded collection now and after every change.
// Only the newest undelivered snapshot is kept. The channel is closed when
// ctx is done or the returned function is called; calling it again is a no-op.
func (c *Client[T]) Subscribe(ctx context.Context) (<-chan []T, func()) {
	const op = "subscribe"
	box := store.NewMailbox[[]T]()
	if !c.shape(op, false) || !c.available(op) {
		box.Close()
		return box.C(), func() {}
	}

	wctx, cancel := context.WithCancel(ctx)
	events, err := c.st.Watch(wctx, c.schema.Path)
	if err != nil {
		cancel()
		c.failed(op, err)
		box.Close()
		return box.C(), func() {}
	}
	c.ok(op)
	metrics.Subscribed(c.schema.Path, 1)

	go func() {
		defer metrics.Subscribed(c.schema.Path, -1)
		defer box.Close()
		for {
			select {
			case <-wctx.Done():
				return
			case raw, ok := <-events:
				if !ok {
					return
				}
				if box.Offer(c.decodeList(raw)) {
					metrics.Snapshot(c.schema.Path)
				}
			}
		}
	}()

	var once sync.Once
	return box.C(), func() {
		once.Do(func() {
			cancel()
			box.Discard()
		})
	}
}

// OnChange calls fn with every snapshot Subscribe would deliver, one call at
// a time. Once the returned function returns, fn is not started again; a call
// already running is allowed to finish. It may be called from fn.
func (c *Client[T]) OnChange(ctx context.Context, fn func([]T)) func() {
	ch, unsubscribe := c.Subscribe(ctx)
	var (
		mu      sync.Mutex
		stopped atomic.Bool
		inside  atomic.Bool
	)
	go func() {
		for recs := range ch {
			mu.Lock()
			if stopped.Load() {
				mu.Unlock()
				return
			}
			inside.Store(true)
			fn(recs)
			inside.Store(false)
			mu.Unlock()
		}
	}()
	return func() {
		stopped.Store(true)
		// Wait out a dispatch that passed the stopped check but has not
		// reached fn yet. Skipped inside fn, which holds mu.
		if !inside.Load() {
			mu.Lock()
			mu.Unlock()
		}
		unsubscribe()
	}
}

// Load returns the singleton object at the path, or nil.
func (c *Client[T]) Load(ctx context.Context) *T {
	const op = "load"
	if !c.shape(op, true) || !c.available(op) {
		return nil
	}
	raw, err := c.st.Get(ctx, c.schema.Path)
	if err != nil {
		c.failed(op, err)
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		metrics.Op(c.schema.Path, op, metrics.OutcomeNotFound)
		return nil
	}
	rec, _, err := fromMap[T](m)
	if err != nil {
		c.failed(op, err)
		return nil
	}
	c.ok(op)
	return &rec
}

// Store replaces the singleton object at the path and stamps updatedAt.
func (c *Client[T]) Store(ctx context.Context, rec T) bool {
	const op = "store"
	if !c.shape(op, true) || !c.available(op) {
		return false
	}
	m, err := toMap(rec)
	if err != nil {
		c.failed(op, err)
		return false
	}
	m[FieldUpdatedAt] = c.Now()
	if err := c.st.Set(ctx, c.schema.Path, StripUndefined(m)); err != nil {
		c.failed(op, err)
		return false
	}
	c.ok(op)
	return true
}

func (c *Client[T]) decodeList(raw any) []T {
	recs := decode.ToRecordList(decode.AttachIDs(raw, FieldID))
	valid := decode.FilterValid(recs, c.schema.Required)
	out := make([]T, 0, len(valid))
	for _, m := range valid {
		rec, skipped, err := fromMap[T](m)
		if err != nil {
			c.log.Debug("skipping undecodable record", zap.Any("id", m[FieldID]), zap.Error(err))
			continue
		}
		if len(skipped) > 0 {
			c.log.Debug("fields ignored", zap.Any("id", m[FieldID]), zap.Strings("fields", skipped))
		}
		out = append(out, rec)
	}
	if n := len(recs) - len(out); n > 0 {
		c.log.Debug("records excluded", zap.Int("count", n))
		metrics.Dropped(c.schema.Path, n)
	}
	return out
}

// StripUndefined removes nil values from maps, recursively. Slices keep
// their length and order: elements are stripped in place and a nil element
// stays nil.
func StripUndefined(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if child == nil {
				continue
			}
			out[k] = StripUndefined(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = StripUndefined(child)
		}
		return out
	default:
		return v
	}
}

func toMap(rec any) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errs.ErrInvalidRecord
	}
	return m, nil
}

// fromMap decodes m into T, converting mismatched scalars the way a browser
// client would have meant them: numbers into string fields, numeric strings
// into number fields, "true" into bools. Fields that still do not fit are
// left at their zero value and their keys are returned in skipped.
func fromMap[T any](m map[string]any) (rec T, skipped []string, err error) {
	if rec, err = weakDecode[T](m); err == nil {
		return rec, nil, nil
	}
	kept := make(map[string]any, len(m))
	for k, v := range m {
		if _, ferr := weakDecode[T](map[string]any{k: v}); ferr != nil {
			skipped = append(skipped, k)
			continue
		}
		kept[k] = v
	}
	sort.Strings(skipped)
	rec, err = weakDecode[T](kept)
	return rec, skipped, err
}

func weakDecode[T any](m map[string]any) (T, error) {
	var rec T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &rec,
	})
	if err != nil {
		return rec, err
	}
	err = dec.Decode(m)
	return rec, err
}
