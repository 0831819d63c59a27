package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/toursync/internal/errs"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.FailedPrecondition, errs.ErrMissingIndex},
		{codes.PermissionDenied, errs.ErrPermission},
		{codes.Unauthenticated, errs.ErrPermission},
		{codes.Unavailable, errs.ErrUnavailable},
	}
	for _, tc := range cases {
		err := classify("query", "notifications", status.Error(tc.code, "x"))
		require.ErrorIs(t, err, tc.want, tc.code.String())
	}

	plain := errors.New("boom")
	err := classify("get", "tours", plain)
	require.ErrorIs(t, err, plain)
	require.False(t, errors.Is(err, errs.ErrMissingIndex))
}

func TestKeyed_Empty(t *testing.T) {
	t.Parallel()
	v, err := keyed(nil)
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestResolve(t *testing.T) {
	// The emulator setting makes NewClient skip credentials; nothing is dialed here.
	t.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:1")
	client, err := firestore.NewClient(context.Background(), "demo")
	require.NoError(t, err)
	s := New(client, Options{Singletons: []string{"settings"}})
	defer s.Close()

	tg, err := s.resolve("tours")
	require.NoError(t, err)
	require.NotNil(t, tg.coll)
	require.Equal(t, "tours", tg.coll.ID)

	tg, err = s.resolve("/tours/t1/")
	require.NoError(t, err)
	require.NotNil(t, tg.doc)
	require.Equal(t, "t1", tg.doc.ID)
	require.Equal(t, "tours", tg.doc.Parent.ID)

	tg, err = s.resolve("settings")
	require.NoError(t, err)
	require.NotNil(t, tg.doc)
	require.Equal(t, "settings", tg.doc.ID)
	require.Equal(t, SingletonCollection, tg.doc.Parent.ID)

	_, err = s.resolve("tours/t1/extra")
	require.Error(t, err)
}

func TestMergeFields(t *testing.T) {
	t.Parallel()
	got := mergeFields(map[string]any{"status": "queued", "error": nil})
	require.Equal(t, "queued", got["status"])
	require.Equal(t, firestore.Delete, got["error"])
}
