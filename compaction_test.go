// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"testing"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cascadedb/cascade/internal/sstable"
	"github.com/stretchr/testify/require"
)

// readObject decodes an sstable object from the controller's data store.
func readObject(t *testing.T, c *Controller, id base.SstableID) []sstable.Entry {
	t.Helper()
	data, err := c.stores.Data.Get(context.Background(), id.String())
	require.NoError(t, err)
	entries, err := sstable.Decode(data)
	require.NoError(t, err)
	return entries
}

func TestManualCompactionMergesLevelZero(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	f1 := ingestFile(t, c, []sstable.Entry{entry("a", 10, "a1"), entry("b", 10, "b1")})
	commitIngest(t, c, 10, 10, f1)
	f2 := ingestFile(t, c, []sstable.Entry{entry("a", 20, "a2"), entry("c", 20, "c1")})
	commitIngest(t, c, 20, 20, f2)

	ids, err := c.TriggerManualCompaction(ctx, base.DefaultGroupID, 0, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	info, err := c.CompactionTask(ids[0])
	require.NoError(t, err)
	require.Equal(t, TaskSucceeded, info.State)

	v := c.Current()
	ls := v.Groups[base.DefaultGroupID]
	require.Empty(t, ls.Levels[0])
	require.Len(t, ls.Levels[1], 1)

	out := ls.Levels[1][0]
	_, stillThere := v.Lookup(f1.ID)
	require.False(t, stillThere)

	// Retain floor was 20, so the shadowed epoch-10 value of "a" is gone
	// while the live rows survive.
	entries := readObject(t, c, out.ID)
	got, ok := sstable.Visible(entries, base.MakeTableKey(testTable, []byte("a")), 20)
	require.True(t, ok)
	require.Equal(t, []byte("a2"), got.Value)
	_, ok = sstable.Visible(entries, base.MakeTableKey(testTable, []byte("a")), 10)
	require.False(t, ok)
	got, ok = sstable.Visible(entries, base.MakeTableKey(testTable, []byte("b")), 20)
	require.True(t, ok)
	require.Equal(t, []byte("b1"), got.Value)
}

func TestCompactionRetainsPinnedHistory(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	f1 := ingestFile(t, c, []sstable.Entry{entry("a", 10, "a1")})
	commitIngest(t, c, 10, 10, f1)
	f2 := ingestFile(t, c, []sstable.Entry{entry("a", 20, "a2")})
	// Safe epoch advances to 20, but a pin at 10 holds history open.
	_, err := c.Pin(ctx, "reader-1", 10)
	require.NoError(t, err)
	commitIngest(t, c, 20, 20, f2)

	_, err = c.TriggerManualCompaction(ctx, base.DefaultGroupID, 0, 1)
	require.NoError(t, err)

	out := c.Current().Groups[base.DefaultGroupID].Levels[1][0]
	entries := readObject(t, c, out.ID)
	got, ok := sstable.Visible(entries, base.MakeTableKey(testTable, []byte("a")), 10)
	require.True(t, ok)
	require.Equal(t, []byte("a1"), got.Value)
	got, ok = sstable.Visible(entries, base.MakeTableKey(testTable, []byte("a")), 25)
	require.True(t, ok)
	require.Equal(t, []byte("a2"), got.Value)
}

func TestCompactionReclaimsDroppedTableRows(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	f1 := ingestFile(t, c, []sstable.Entry{entry("a", 10, "a1"), entry("b", 10, "b1")})
	commitIngest(t, c, 10, 10, f1)

	// Drop the table, then compact: its rows must not survive the rewrite.
	cur := c.Current()
	_, err := c.Commit(ctx, &manifest.VersionDelta{
		BaseID:         cur.ID,
		CommittedEpoch: 20,
		SafeEpoch:      20,
		RemovedTables:  []base.TableID{testTable},
	})
	require.NoError(t, err)

	_, err = c.TriggerManualCompaction(ctx, base.DefaultGroupID, 0, 1)
	require.NoError(t, err)

	v := c.Current()
	ls := v.Groups[base.DefaultGroupID]
	require.Empty(t, ls.Levels[0])
	require.Empty(t, ls.Levels[1])
}

func TestManualCompactionEmptyLevelNoop(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	ids, err := c.TriggerManualCompaction(ctx, base.DefaultGroupID, 0, 2)
	require.NoError(t, err)
	require.Empty(t, ids)
}
