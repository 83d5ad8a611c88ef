// Package storetest runs the same behaviour checks against every
// tokenstore.Store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andrebq/lockboard/board/tokenstore"
	"github.com/stretchr/testify/require"
)

type (
	Harness struct {
		Store tokenstore.Store
		// CreatePost is called before view tokens for postID are stored.
		// Stores without a post table can leave it nil.
		CreatePost func(t *testing.T, postID string)
	}

	Factory func(t *testing.T, now tokenstore.Clock) Harness

	clock struct {
		sync.Mutex
		t time.Time
	}
)

var (
	Epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
)

func (c *clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.Lock()
	c.t = t
	c.Unlock()
}

func Run(t *testing.T, factory Factory) {
	for _, tc := range []struct {
		name string
		fn   func(*testing.T, Factory)
	}{
		{"PutGet", testPutGet},
		{"MissingToken", testMissing},
		{"ExpiryIsMonotonic", testExpiry},
		{"LookupByHash", testLookupByHash},
		{"Delete", testDelete},
		{"DeleteByPost", testDeleteByPost},
		{"DeleteExpired", testDeleteExpired},
		{"ConcurrentPut", testConcurrentPut},
		{"RejectsInvalid", testRejectsInvalid},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, factory) })
	}
}

func setup(t *testing.T, factory Factory) (Harness, *clock) {
	c := &clock{t: Epoch}
	h := factory(t, c.Now)
	if h.CreatePost == nil {
		h.CreatePost = func(*testing.T, string) {}
	}
	return h, c
}

func viewRecord(hash, postID string, ttl time.Duration) tokenstore.Record {
	return tokenstore.Record{
		Hash:      hash,
		Salt:      "salt-" + hash,
		Kind:      tokenstore.KindView,
		PostID:    postID,
		CreatedAt: Epoch,
		ExpiresAt: Epoch.Add(ttl),
	}
}

func adminRecord(hash string, ttl time.Duration) tokenstore.Record {
	return tokenstore.Record{
		Hash:      hash,
		Salt:      "salt-" + hash,
		Kind:      tokenstore.KindAdmin,
		CreatedAt: Epoch,
		ExpiresAt: Epoch.Add(ttl),
	}
}

func requireSame(t *testing.T, expected, actual tokenstore.Record) {
	t.Helper()
	require.Equal(t, expected.Hash, actual.Hash)
	require.Equal(t, expected.Salt, actual.Salt)
	require.Equal(t, expected.Kind, actual.Kind)
	require.Equal(t, expected.PostID, actual.PostID)
	require.True(t, expected.CreatedAt.Equal(actual.CreatedAt), "created at %v got %v", expected.CreatedAt, actual.CreatedAt)
	require.True(t, expected.ExpiresAt.Equal(actual.ExpiresAt), "expires at %v got %v", expected.ExpiresAt, actual.ExpiresAt)
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, tokenstore.ErrNotFound) {
		t.Fatalf("Error should be ErrNotFound got %#v", err)
	}
}

func testPutGet(t *testing.T, factory Factory) {
	ctx := context.Background()
	h, _ := setup(t, factory)
	h.CreatePost(t, "post-1")

	view := viewRecord("hash-view", "post-1", time.Hour)
	admin := adminRecord("hash-admin", 24*time.Hour)
	require.NoError(t, h.Store.Put(ctx, view))
	require.NoError(t, h.Store.Put(ctx, admin))

	got, err := h.Store.Get(ctx, view.Hash)
	require.NoError(t, err)
	requireSame(t, view, got)

	got, err = h.Store.Get(ctx, admin.Hash)
	require.NoError(t, err)
	requireSame(t, admin, got)
}

func testMissing(t *testing.T, factory Factory) {
	h, _ := setup(t, factory)
	_, err := h.Store.Get(context.Background(), "does-not-exist")
	requireNotFound(t, err)
}

func testExpiry(t *testing.T, factory Factory) {
	ctx := context.Background()
	h, c := setup(t, factory)
	h.CreatePost(t, "post-1")
	r := viewRecord("hash-expiry", "post-1", time.Hour)
	require.NoError(t, h.Store.Put(ctx, r))

	for _, offset := range []time.Duration{0, time.Minute, 59 * time.Minute, time.Hour - time.Nanosecond} {
		c.Set(Epoch.Add(offset))
		_, err := h.Store.Get(ctx, r.Hash)
		require.NoError(t, err, "token should be valid %v after issue", offset)
	}
	for _, offset := range []time.Duration{time.Hour, time.Hour + time.Nanosecond, 48 * time.Hour} {
		c.Set(Epoch.Add(offset))
		_, err := h.Store.Get(ctx, r.Hash)
		requireNotFound(t, err)
		_, err = h.Store.LookupByHash(ctx, r.Hash, nil)
		requireNotFound(t, err)
	}
}

func testLookupByHash(t *testing.T, factory Factory) {
	ctx := context.Background()
	h, _ := setup(t, factory)
	h.CreatePost(t, "post-1")
	h.CreatePost(t, "post-2")
	r := viewRecord("hash-lookup", "post-1", time.Hour)
	require.NoError(t, h.Store.Put(ctx, r))

	got, err := h.Store.LookupByHash(ctx, r.Hash, tokenstore.ForPost("post-1"))
	require.NoError(t, err)
	requireSame(t, r, got)

	_, err = h.Store.LookupByHash(ctx, r.Hash, tokenstore.ForPost("post-2"))
	requireNotFound(t, err)
	_, err = h.Store.LookupByHash(ctx, r.Hash, tokenstore.IsAdmin)
	requireNotFound(t, err)
}

func testDelete(t *testing.T, factory Factory) {
	ctx := context.Background()
	h, _ := setup(t, factory)
	r := adminRecord("hash-delete", time.Hour)
	require.NoError(t, h.Store.Put(ctx, r))
	require.NoError(t, h.Store.Delete(ctx, r.Hash))
	_, err := h.Store.Get(ctx, r.Hash)
	requireNotFound(t, err)
	require.NoError(t, h.Store.Delete(ctx, r.Hash), "deleting twice should not fail")
}

func testDeleteByPost(t *testing.T, factory Factory) {
	ctx := context.Background()
	h, _ := setup(t, factory)
	h.CreatePost(t, "post-1")
	h.CreatePost(t, "post-2")
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Store.Put(ctx, viewRecord(fmt.Sprintf("p1-%v", i), "post-1", time.Hour)))
	}
	keep := viewRecord("p2-0", "post-2", time.Hour)
	require.NoError(t, h.Store.Put(ctx, keep))
	admin := adminRecord("admin-0", time.Hour)
	require.NoError(t, h.Store.Put(ctx, admin))

	require.NoError(t, h.Store.DeleteByPost(ctx, "post-1"))
	for i := 0; i < 3; i++ {
		_, err := h.Store.Get(ctx, fmt.Sprintf("p1-%v", i))
		requireNotFound(t, err)
	}
	_, err := h.Store.Get(ctx, keep.Hash)
	require.NoError(t, err)
	_, err = h.Store.Get(ctx, admin.Hash)
	require.NoError(t, err)
}

func testDeleteExpired(t *testing.T, factory Factory) {
	ctx := context.Background()
	h, c := setup(t, factory)
	h.CreatePost(t, "post-1")
	require.NoError(t, h.Store.Put(ctx, viewRecord("short-1", "post-1", time.Minute)))
	require.NoError(t, h.Store.Put(ctx, viewRecord("short-2", "post-1", time.Minute)))
	require.NoError(t, h.Store.Put(ctx, adminRecord("long", time.Hour)))

	n, err := h.Store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	c.Set(Epoch.Add(time.Minute))
	n, err = h.Store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = h.Store.Get(ctx, "long")
	require.NoError(t, err)
}

func testConcurrentPut(t *testing.T, factory Factory) {
	ctx := context.Background()
	h, _ := setup(t, factory)
	h.CreatePost(t, "post-1")
	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- h.Store.Put(ctx, viewRecord(fmt.Sprintf("concurrent-%v", i), "post-1", time.Hour))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for i := 0; i < workers; i++ {
		r, err := h.Store.LookupByHash(ctx, fmt.Sprintf("concurrent-%v", i), tokenstore.ForPost("post-1"))
		require.NoError(t, err)
		require.Equal(t, "post-1", r.PostID)
	}
}

func testRejectsInvalid(t *testing.T, factory Factory) {
	h, _ := setup(t, factory)
	bad := adminRecord("bad", time.Hour)
	bad.Kind = "superuser"
	var invalid tokenstore.InvalidRecord
	require.ErrorAs(t, h.Store.Put(context.Background(), bad), &invalid)
}
