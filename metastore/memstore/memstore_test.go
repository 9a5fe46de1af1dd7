// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package memstore

import (
	"context"
	"testing"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCommitCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Create-if-absent.
	require.NoError(t, s.Commit(ctx, metastore.Txn{
		Compares: []metastore.Compare{{Key: "a", Revision: 0}},
		Puts:     []metastore.Put{{Key: "a", Value: []byte("1")}},
	}))
	kv, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), kv.Value)

	// Re-creating fails.
	err = s.Commit(ctx, metastore.Txn{
		Compares: []metastore.Compare{{Key: "a", Revision: 0}},
		Puts:     []metastore.Put{{Key: "a", Value: []byte("2")}},
	})
	require.True(t, errors.Is(err, base.ErrConflict))

	// CAS with the observed revision succeeds once.
	txn := metastore.Txn{
		Compares: []metastore.Compare{{Key: "a", Revision: kv.Revision}},
		Puts:     []metastore.Put{{Key: "a", Value: []byte("2")}},
	}
	require.NoError(t, s.Commit(ctx, txn))
	err = s.Commit(ctx, txn)
	require.True(t, errors.Is(err, base.ErrConflict))
}

func TestCommitAtomicity(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, metastore.PutBlind(ctx, s, "a", []byte("1")))

	// A failing compare must leave every put unapplied.
	err := s.Commit(ctx, metastore.Txn{
		Compares: []metastore.Compare{{Key: "a", Revision: 999}},
		Puts:     []metastore.Put{{Key: "b", Value: []byte("x")}},
		Deletes:  []string{"a"},
	})
	require.True(t, errors.Is(err, base.ErrConflict))
	_, err = s.Get(ctx, "b")
	require.True(t, metastore.IsNotFound(err))
	_, err = s.Get(ctx, "a")
	require.NoError(t, err)
}

func TestScanOrdered(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"version/3", "version/1", "version/2", "pin/x"} {
		require.NoError(t, metastore.PutBlind(ctx, s, k, []byte(k)))
	}
	kvs, err := s.Scan(ctx, "version/")
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	require.Equal(t, "version/1", kvs[0].Key)
	require.Equal(t, "version/3", kvs[2].Key)
}

func TestVersionKeyRoundTrip(t *testing.T) {
	key := metastore.VersionKey(base.VersionID(42))
	id, err := metastore.ParseVersionKey(key)
	require.NoError(t, err)
	require.Equal(t, base.VersionID(42), id)

	// Padded keys scan in id order.
	require.Less(t, metastore.VersionKey(9), metastore.VersionKey(10))
}
