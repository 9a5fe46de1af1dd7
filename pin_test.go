// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cascadedb/cascade/metastore/memstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestPinBelowSafeEpoch(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 100, 90)

	_, err := c.Pin(ctx, "reader-1", 80)
	require.True(t, errors.Is(err, ErrEpochTooOld))

	h, err := c.Pin(ctx, "reader-1", 95)
	require.NoError(t, err)
	require.Equal(t, base.Epoch(95), h.Epoch)
}

func TestMinPinnedEpoch(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 100, 90)

	_, ok := c.MinPinnedEpoch()
	require.False(t, ok)

	h1, err := c.Pin(ctx, "reader-1", 95)
	require.NoError(t, err)
	h2, err := c.Pin(ctx, "reader-2", 92)
	require.NoError(t, err)

	min, ok := c.MinPinnedEpoch()
	require.True(t, ok)
	require.Equal(t, base.Epoch(92), min)
	require.Len(t, c.ListPinnedSnapshots(), 2)

	require.NoError(t, c.ReleasePin(ctx, h2))
	min, ok = c.MinPinnedEpoch()
	require.True(t, ok)
	require.Equal(t, base.Epoch(95), min)

	require.NoError(t, c.ReleasePin(ctx, h1))
	_, ok = c.MinPinnedEpoch()
	require.False(t, ok)
}

func TestPinLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 100, 90)

	now := time.Now()
	c.pins.now = func() time.Time { return now }

	h, err := c.Pin(ctx, "reader-1", 95)
	require.NoError(t, err)
	_, ok := c.MinPinnedEpoch()
	require.True(t, ok)

	// Past the lease the pin stops holding the floor and renewal fails.
	now = now.Add(c.opts.PinLeaseDuration + time.Second)
	_, ok = c.MinPinnedEpoch()
	require.False(t, ok)
	require.True(t, errors.Is(c.RenewPin(ctx, h), ErrNotFound))

	var expired []PinExpiredInfo
	c.listener.PinExpired = func(info PinExpiredInfo) { expired = append(expired, info) }
	require.NoError(t, c.pins.expireStale(ctx))
	require.Len(t, expired, 1)
	require.Equal(t, "reader-1", expired[0].Holder)
}

func TestPinRenewExtendsLease(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 100, 90)

	now := time.Now()
	c.pins.now = func() time.Time { return now }

	h, err := c.Pin(ctx, "reader-1", 95)
	require.NoError(t, err)

	now = now.Add(c.opts.PinLeaseDuration / 2)
	require.NoError(t, c.RenewPin(ctx, h))

	now = now.Add(c.opts.PinLeaseDuration - time.Second)
	min, ok := c.MinPinnedEpoch()
	require.True(t, ok)
	require.Equal(t, base.Epoch(95), min)
}

func TestSubscriptionPinFollowsCommittedEpoch(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 100, 50)

	h, err := c.PinSubscription(ctx, "sub-1", 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, base.Epoch(80), h.Epoch)

	advanceEpochs(t, c, 200, 50)
	min, ok := c.MinPinnedEpoch()
	require.True(t, ok)
	require.Equal(t, base.Epoch(180), min)
}

// commitHookStore wraps a metastore and runs a callback before each
// transaction commit.
type commitHookStore struct {
	metastore.Store

	mu   sync.Mutex
	hook func(metastore.Txn)
}

func (s *commitHookStore) setHook(fn func(metastore.Txn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *commitHookStore) Commit(ctx context.Context, txn metastore.Txn) error {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(txn)
	}
	return s.Store.Commit(ctx, txn)
}

func TestSubscriptionAdvanceKeepsConcurrentRenewal(t *testing.T) {
	ctx := context.Background()
	hs := &commitHookStore{Store: memstore.New()}
	c, _ := newTestControllerWithMeta(t, hs)
	advanceEpochs(t, c, 100, 50)

	now := time.Now()
	c.pins.now = func() time.Time { return now }
	h, err := c.PinSubscription(ctx, "sub-1", 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, base.Epoch(80), h.Epoch)

	// Renew between the floor advance's read of the pin record and its
	// write. The advance must lose the race and retry, not overwrite the
	// fresh lease.
	now = now.Add(5 * time.Second)
	renewed := false
	hs.setHook(func(txn metastore.Txn) {
		if renewed || len(txn.Compares) == 0 {
			return
		}
		for _, cmp := range txn.Compares {
			if cmp.Key == metastore.PinKey("sub-1") {
				renewed = true
				require.NoError(t, c.RenewPin(ctx, h))
			}
		}
	})
	advanceEpochs(t, c, 200, 50)
	require.True(t, renewed)

	kv, err := hs.Get(ctx, metastore.PinKey("sub-1"))
	require.NoError(t, err)
	rec := &pinRecord{}
	require.NoError(t, json.Unmarshal(kv.Value, rec))
	require.Equal(t, base.Epoch(180), rec.Epoch)
	require.True(t, rec.ExpiresAt.Equal(now.Add(c.opts.PinLeaseDuration)))
}

func TestPinsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	meta := memstore.New()
	c, _ := newTestControllerWithMeta(t, meta)
	advanceEpochs(t, c, 100, 90)
	_, err := c.Pin(ctx, "reader-1", 95)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c2, _ := newTestControllerWithMeta(t, meta)
	min, ok := c2.MinPinnedEpoch()
	require.True(t, ok)
	require.Equal(t, base.Epoch(95), min)
}
