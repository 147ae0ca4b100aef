package redisq

import (
	"context"
	"graceq/internal/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.October, 19, 10, 0, 0, 0, time.UTC)

func pendingAction(id string) domain.Action {
	return domain.Action{
		ID:            id,
		State:         domain.StatePending,
		CreatedAt:     t0,
		FireAt:        t0.Add(time.Minute),
		Delay:         time.Minute,
		SourceEnabled: true,
		UpdatedAt:     t0,
		Payload: domain.Payload{
			SessionID:   "s-1",
			Scope:       "mail/*",
			DocumentRef: "draft-9",
			Mode:        domain.ModeOrigin,
			Meta:        map[string]string{"has_subject": "true"},
		},
	}
}

func TestStorePutGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	a := pendingAction("a1")
	require.NoError(t, c.Put(ctx, a))

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, domain.StatePending, got.State)
	assert.True(t, a.FireAt.Equal(got.FireAt))
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, time.Minute, got.Delay)
	assert.True(t, got.SourceEnabled)
	assert.False(t, got.Claimed())
	assert.Equal(t, a.Payload, got.Payload)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreCancelIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, pendingAction("a1")))

	ok, err := c.MarkCancelled(ctx, "a1", t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.MarkCancelled(ctx, "a1", t0.Add(11*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.MarkCancelled(ctx, "missing", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, got.State)

	// a terminal action never re-enters pending via another transition
	ok, err = c.MarkFired(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := c.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStoreClaimBlocksCancel(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, pendingAction("a1")))

	claimed, ok, err := c.Claim(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, claimed.Claimed())

	_, ok, err = c.Claim(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	ok, err = c.MarkCancelled(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.MarkExpired(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.MarkFired(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.MarkFired(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreRelease(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, pendingAction("a1")))

	ok, err := c.Release(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok, "nothing to release")

	_, ok, err = c.Claim(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Release(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, got.Claimed())
	assert.Equal(t, domain.StatePending, got.State)

	// released actions can be cancelled again
	ok, err = c.MarkCancelled(ctx, "a1", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Release(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok, "terminal actions are left alone")
}

func TestStoreExpireStale(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, pendingAction("a1")))
	require.NoError(t, c.Put(ctx, pendingAction("a2")))

	ok, err := c.ExpireStale(ctx, "a2", t0.Add(time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "unclaimed action is not stale")

	_, ok, err = c.Claim(ctx, "a1", t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.ExpireStale(ctx, "a1", t0, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "claim is newer than cutoff")

	ok, err = c.ExpireStale(ctx, "a1", t0.Add(5*time.Minute), t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := c.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, got.State)
}

func TestStoreListsAndRemove(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, c.Put(ctx, pendingAction(id)))
	}

	_, err := c.MarkCancelled(ctx, "a1", t0.Add(time.Second))
	require.NoError(t, err)
	_, err = c.MarkExpired(ctx, "a2", t0.Add(time.Hour))
	require.NoError(t, err)

	pending, err := c.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a3", pending[0].ID)

	ids, err := c.ListTerminalBefore(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)

	ids, err = c.ListTerminalBefore(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)

	require.NoError(t, c.Remove(ctx, "a1"))
	_, err = c.Get(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, mr.Exists("test:action:a1"))

	// pending index entry without a hash is dropped on listing
	mr.Del("test:action:a3")
	pending, err = c.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStoreUnavailable(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	err := c.Put(context.Background(), pendingAction("a1"))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = c.MarkCancelled(context.Background(), "a1", t0)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
