package collection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/toursync/internal/errs"
	"github.com/and161185/toursync/internal/status"
	"github.com/and161185/toursync/internal/store/memory"
)

type tour struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Location  string `json:"location,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

var tourSchema = Schema{Path: "tours", Required: []string{"name", "location"}, DefaultStatus: "active"}

// stepClock advances one second per call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTours(t *testing.T, st *memory.Store) *Client[tour] {
	t.Helper()
	return New[tour](st, tourSchema, WithLogger(zaptest.NewLogger(t)), WithClock(newClock().Now))
}

func TestAdd_GetByID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New[map[string]any](memory.New(), Schema{Path: "items", DefaultStatus: "pending"},
		WithLogger(zaptest.NewLogger(t)), WithClock(newClock().Now))

	added := c.Add(ctx, map[string]any{"name": "X"})
	require.NotNil(t, added)
	id, _ := (*added)["id"].(string)
	require.NotEmpty(t, id)

	got := c.GetByID(ctx, id)
	require.NotNil(t, got)
	require.Equal(t, map[string]any{
		"name":      "X",
		"id":        id,
		"status":    "pending",
		"createdAt": "2024-05-01T10:00:01Z",
		"updatedAt": "2024-05-01T10:00:01Z",
	}, *got)
	require.Equal(t, *added, *got)
}

func TestAdd_KeepsExplicitStatus(t *testing.T) {
	c := newTours(t, memory.New())
	got := c.Add(context.Background(), tour{Name: "Lake", Location: "North", Status: "inactive"})
	require.NotNil(t, got)
	require.Equal(t, "inactive", got.Status)
	require.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestAdd_StripsUndefined(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := New[map[string]any](st, Schema{Path: "items"}, WithLogger(zaptest.NewLogger(t)))

	added := c.Add(ctx, map[string]any{
		"name":   "X",
		"note":   nil,
		"tags":   []any{nil, "a"},
		"nested": map[string]any{"keep": 1, "drop": nil},
	})
	require.NotNil(t, added)

	raw, err := st.Get(ctx, "items/"+(*added)["id"].(string))
	require.NoError(t, err)
	rec := raw.(map[string]any)
	require.NotContains(t, rec, "note")
	require.Equal(t, []any{nil, "a"}, rec["tags"], "slices keep their length")
	require.Equal(t, map[string]any{"keep": 1.0}, rec["nested"])
}

func TestStripUndefined(t *testing.T) {
	in := map[string]any{
		"a": nil,
		"b": []any{map[string]any{"x": nil, "y": 1}, nil},
		"c": "s",
	}
	require.Equal(t, map[string]any{
		"b": []any{map[string]any{"y": 1}, nil},
		"c": "s",
	}, StripUndefined(in))
	require.Contains(t, in, "a", "input untouched")
	require.Equal(t, 5, StripUndefined(5))
	require.Nil(t, StripUndefined(nil))
}

func TestListAll_SkipsInvalid(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Set(ctx, "tours", map[string]any{
		"b": map[string]any{"name": "B", "location": "South"},
		"a": map[string]any{"name": "A", "location": "North"},
		"c": map[string]any{"name": "C"},
		"d": map[string]any{"name": "  ", "location": "West"},
		"e": "garbage",
		"f": map[string]any{"name": 12, "location": "East"},
	}))

	got := newTours(t, st).ListAll(ctx)
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "b", got[1].ID)
	require.Equal(t, "f", got[2].ID)
	require.Equal(t, "12", got[2].Name)
}

func TestDecode_MismatchedScalars(t *testing.T) {
	type booking struct {
		ID     string   `json:"id,omitempty"`
		TourID string   `json:"tourId"`
		Guests int      `json:"guests,omitempty"`
		Price  float64  `json:"price,omitempty"`
		Paid   bool     `json:"paid"`
		Tags   []string `json:"tags,omitempty"`
	}
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Set(ctx, "bookings", map[string]any{
		"b1": map[string]any{"tourId": 1, "guests": "3", "price": "1500.5", "paid": "true"},
		"b2": map[string]any{"tourId": "t2", "price": "a lot", "tags": map[string]any{"x": 1}},
	}))
	c := New[booking](st, Schema{Path: "bookings", Required: []string{"tourId"}}, WithLogger(zaptest.NewLogger(t)))

	got := c.ListAll(ctx)
	require.Len(t, got, 2)
	require.Equal(t, booking{ID: "b1", TourID: "1", Guests: 3, Price: 1500.5, Paid: true}, got[0])
	require.Equal(t, booking{ID: "b2", TourID: "t2"}, got[1], "fields that cannot be converted are left unset")

	one := c.GetByID(ctx, "b1")
	require.NotNil(t, one)
	require.Equal(t, got[0], *one)
}

func TestListAll_Empty(t *testing.T) {
	got := newTours(t, memory.New()).ListAll(context.Background())
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newTours(t, st)

	require.False(t, c.Update(ctx, "missing", Patch{"name": "Y"}))
	require.False(t, c.Update(ctx, "", Patch{"name": "Y"}))

	added := c.Add(ctx, tour{Name: "Lake", Location: "North"})
	require.NotNil(t, added)

	require.True(t, c.Update(ctx, added.ID, Patch{"status": "inactive", "location": nil, "id": "other"}))
	got := c.GetByID(ctx, added.ID)
	require.NotNil(t, got)
	require.Equal(t, "inactive", got.Status)
	require.Equal(t, "North", got.Location, "nil patch values are dropped")
	require.Equal(t, added.ID, got.ID)
	require.Equal(t, added.CreatedAt, got.CreatedAt)
	require.NotEqual(t, added.UpdatedAt, got.UpdatedAt)
}

func TestUpdate_OffTableTransitionStillWrites(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	schema := Schema{Path: "bookings", Required: []string{"tourId"}, DefaultStatus: "pending", Transitions: status.Bookings}
	c := New[map[string]any](memory.New(), schema, WithLogger(zap.New(core)))

	added := c.Add(ctx, map[string]any{"tourId": "t1"})
	require.NotNil(t, added)
	id := (*added)["id"].(string)

	require.True(t, c.Update(ctx, id, Patch{"status": "confirmed"}))
	require.Equal(t, 0, logs.FilterMessage("status change outside transition table").Len())

	require.True(t, c.Update(ctx, id, Patch{"status": "pending"}))
	require.Equal(t, 1, logs.FilterMessage("status change outside transition table").Len())
	require.Equal(t, "pending", (*c.GetByID(ctx, id))["status"])
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c := newTours(t, memory.New())

	require.False(t, c.Remove(ctx, "missing"))
	added := c.Add(ctx, tour{Name: "Lake", Location: "North"})
	require.True(t, c.Remove(ctx, added.ID))
	require.Nil(t, c.GetByID(ctx, added.ID))
	require.False(t, c.Remove(ctx, added.ID))
}

func TestNilStore(t *testing.T) {
	ctx := context.Background()
	c := New[tour](nil, tourSchema, WithLogger(zaptest.NewLogger(t)))

	require.Empty(t, c.ListAll(ctx))
	require.NotNil(t, c.ListAll(ctx))
	require.Nil(t, c.GetByID(ctx, "a"))
	require.Nil(t, c.Add(ctx, tour{Name: "A", Location: "B"}))
	require.False(t, c.Update(ctx, "a", Patch{"name": "x"}))
	require.False(t, c.Remove(ctx, "a"))
	require.Empty(t, c.QueryEqual(ctx, "name", "A"))
	require.Nil(t, c.Load(ctx))
	require.False(t, c.Store(ctx, tour{}))

	ch, unsubscribe := c.Subscribe(ctx)
	_, ok := <-ch
	require.False(t, ok)
	unsubscribe()
	unsubscribe()
}

func TestOperationErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("permission denied")
	var failing atomic.Value
	failing.Store("")
	st := memory.New(memory.WithFault(func(op, _ string) error {
		if op == failing.Load().(string) {
			return boom
		}
		return nil
	}))
	c := newTours(t, st)
	added := c.Add(ctx, tour{Name: "Lake", Location: "North"})
	require.NotNil(t, added)

	failing.Store(memory.OpGet)
	require.Empty(t, c.ListAll(ctx))
	require.Nil(t, c.GetByID(ctx, added.ID))
	require.False(t, c.Update(ctx, added.ID, Patch{"name": "x"}))
	require.False(t, c.Remove(ctx, added.ID))

	failing.Store(memory.OpSet)
	require.Nil(t, c.Add(ctx, tour{Name: "Other", Location: "South"}))

	failing.Store(memory.OpUpdate)
	require.False(t, c.Update(ctx, added.ID, Patch{"name": "x"}))

	failing.Store(memory.OpRemove)
	require.False(t, c.Remove(ctx, added.ID))

	failing.Store(memory.OpPush)
	require.Nil(t, c.Add(ctx, tour{Name: "Other", Location: "South"}))

	failing.Store(memory.OpWatch)
	ch, unsubscribe := c.Subscribe(ctx)
	defer unsubscribe()
	_, ok := <-ch
	require.False(t, ok)

	failing.Store("")
	require.Len(t, c.ListAll(ctx), 1)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	st := memory.New()
	c := newTours(t, st)
	require.NoError(t, st.Close())
	require.Empty(t, c.ListAll(context.Background()))
	require.Nil(t, c.Add(context.Background(), tour{Name: "A", Location: "B"}))
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		var zero T
		return zero
	}
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newTours(t, st)

	ch, unsubscribe := c.Subscribe(ctx)
	require.Empty(t, recv(t, ch))

	added := c.Add(ctx, tour{Name: "Lake", Location: "North"})
	snap := recv(t, ch)
	require.Len(t, snap, 1)
	require.Equal(t, added.ID, snap[0].ID)

	require.NoError(t, st.Set(ctx, "tours/bad", map[string]any{"name": "no location"}))
	require.Len(t, recv(t, ch), 1, "invalid records are excluded from snapshots")

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	require.False(t, ok)
	require.Eventually(t, func() bool { return st.Watchers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_ContextCancel(t *testing.T) {
	st := memory.New()
	c := newTours(t, st)
	ctx, cancel := context.WithCancel(context.Background())

	ch, unsubscribe := c.Subscribe(ctx)
	defer unsubscribe()
	recv(t, ch)
	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOnChange_StopsAfterUnsubscribe(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newTours(t, st)

	var calls atomic.Int32
	seen := make(chan int, 16)
	unsubscribe := c.OnChange(ctx, func(recs []tour) {
		calls.Add(1)
		seen <- len(recs)
	})
	require.Equal(t, 0, recv(t, seen))

	c.Add(ctx, tour{Name: "Lake", Location: "North"})
	require.Equal(t, 1, recv(t, seen))

	unsubscribe()
	unsubscribe()
	n := calls.Load()
	c.Add(ctx, tour{Name: "Sea", Location: "South"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, calls.Load())
}

func TestOnChange_UnsubscribeFromCallback(t *testing.T) {
	ctx := context.Background()
	c := newTours(t, memory.New())

	done := make(chan struct{})
	var unsubscribe func()
	var mu sync.Mutex
	mu.Lock()
	unsubscribe = c.OnChange(ctx, func([]tour) {
		mu.Lock()
		defer mu.Unlock()
		unsubscribe()
		close(done)
	})
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
}

func TestQueryEqual_IndexedAndFallbackAgree(t *testing.T) {
	ctx := context.Background()
	seed := map[string]any{
		"n1": map[string]any{"userId": "u1", "title": "A"},
		"n2": map[string]any{"userId": "u2", "title": "B"},
		"n3": map[string]any{"userId": "u1", "title": "C"},
		"n4": map[string]any{"userId": "u1"},
	}
	schema := Schema{Path: "notifications", Required: []string{"userId", "title"}}

	indexed := memory.New(memory.WithIndex("notifications", "userId"))
	plain := memory.New()
	require.NoError(t, indexed.Set(ctx, "notifications", seed))
	require.NoError(t, plain.Set(ctx, "notifications", seed))

	core, logs := observer.New(zapcore.WarnLevel)
	a := New[map[string]any](indexed, schema, WithLogger(zap.New(core))).QueryEqual(ctx, "userId", "u1")
	require.Equal(t, 0, logs.Len())
	b := New[map[string]any](plain, schema, WithLogger(zap.New(core))).QueryEqual(ctx, "userId", "u1")
	require.Equal(t, 1, logs.FilterMessage("index missing, filtering client-side").Len())

	require.Len(t, a, 2)
	require.Equal(t, a, b)
	require.Equal(t, "n1", a[0]["id"])
	require.Equal(t, "n3", a[1]["id"])
}

func TestQueryEqual_OtherErrorsDoNotFallBack(t *testing.T) {
	ctx := context.Background()
	var gets atomic.Int32
	st := memory.New(memory.WithFault(func(op, _ string) error {
		switch op {
		case memory.OpQuery:
			return errs.ErrPermission
		case memory.OpGet:
			gets.Add(1)
		}
		return nil
	}))
	c := New[map[string]any](st, Schema{Path: "notifications"}, WithLogger(zaptest.NewLogger(t)))
	require.Empty(t, c.QueryEqual(ctx, "userId", "u1"))
	require.Equal(t, int32(0), gets.Load())
}

func TestWhere(t *testing.T) {
	ctx := context.Background()
	c := newTours(t, memory.New())
	c.Add(ctx, tour{Name: "A", Location: "N"})
	c.Add(ctx, tour{Name: "B", Location: "S", Status: "inactive"})

	got := c.Where(ctx, func(r tour) bool { return r.Status == "active" })
	require.Len(t, got, 1)
	require.Equal(t, "A", got[0].Name)
}

func TestSingleton(t *testing.T) {
	type settings struct {
		SiteName  string `json:"siteName,omitempty"`
		UpdatedAt string `json:"updatedAt,omitempty"`
	}
	ctx := context.Background()
	st := memory.New()
	c := New[settings](st, Schema{Path: "settings", Singleton: true},
		WithLogger(zaptest.NewLogger(t)), WithClock(newClock().Now))

	require.Nil(t, c.Load(ctx))
	require.True(t, c.Store(ctx, settings{SiteName: "Tours"}))
	got := c.Load(ctx)
	require.NotNil(t, got)
	require.Equal(t, "Tours", got.SiteName)
	require.Equal(t, "2024-05-01T10:00:01Z", got.UpdatedAt)

	require.True(t, c.Store(ctx, settings{}))
	raw, err := st.Get(ctx, "settings")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"updatedAt": "2024-05-01T10:00:02Z"}, raw, "store replaces the whole object")
}

func TestSingleton_RefusesKeyedOperations(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.Set(ctx, "settings", map[string]any{"siteName": "Tours"}))

	core, logs := observer.New(zapcore.WarnLevel)
	c := New[map[string]any](st, Schema{Path: "settings", Singleton: true}, WithLogger(zap.New(core)))

	require.Nil(t, c.Add(ctx, map[string]any{"siteName": "x"}))
	require.False(t, c.Update(ctx, "siteName", Patch{"x": 1}))
	require.False(t, c.Remove(ctx, "siteName"))
	require.Empty(t, c.ListAll(ctx))
	require.Nil(t, c.GetByID(ctx, "siteName"))
	require.Empty(t, c.QueryEqual(ctx, "siteName", "Tours"))
	ch, unsubscribe := c.Subscribe(ctx)
	_, ok := <-ch
	require.False(t, ok)
	unsubscribe()
	require.Equal(t, 7, logs.FilterMessage("operation does not fit path").Len())

	raw, err := st.Get(ctx, "settings")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"siteName": "Tours"}, raw)
	require.NotNil(t, c.Load(ctx))

	tours := newTours(t, st)
	require.Nil(t, tours.Load(ctx))
	require.False(t, tours.Store(ctx, tour{Name: "x"}))
	raw, err = st.Get(ctx, "tours")
	require.NoError(t, err)
	require.Nil(t, raw)
}

func TestOnChange_NoCallAfterUnsubscribeReturns(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		st := memory.New()
		c := newTours(t, st)

		var returned, late atomic.Bool
		unsubscribe := c.OnChange(ctx, func([]tour) {
			if returned.Load() {
				late.Store(true)
			}
		})
		for j := 0; j < 5; j++ {
			c.Add(ctx, tour{Name: "Lake", Location: "North"})
		}
		unsubscribe()
		returned.Store(true)
		c.Add(ctx, tour{Name: "Sea", Location: "South"})
		time.Sleep(5 * time.Millisecond)
		require.False(t, late.Load(), "callback started after unsubscribe returned (run %d)", i)
	}
}

func TestUpdate_DeleteField(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newTours(t, st)
	added := c.Add(ctx, tour{Name: "Lake", Location: "North"})
	require.NotNil(t, added)

	require.True(t, c.Update(ctx, added.ID, Patch{"location": Delete, "name": "Lake Tour"}))
	raw, err := st.Get(ctx, "tours/"+added.ID)
	require.NoError(t, err)
	rec := raw.(map[string]any)
	require.NotContains(t, rec, "location")
	require.Equal(t, "Lake Tour", rec["name"])
	require.Empty(t, c.ListAll(ctx), "required location is gone")
}
