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
	"github.com/cascadedb/cascade/metastore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCommitPublishesVersionAndArena(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	f := ingestFile(t, c, []sstable.Entry{entry("a", 10, "v1"), entry("b", 10, "v1")})
	v := commitIngest(t, c, 10, 5, f)

	require.EqualValues(t, 2, v.ID)
	require.Equal(t, base.Epoch(10), v.CommittedEpoch)
	require.Equal(t, base.Epoch(5), v.SafeEpoch)
	require.Equal(t, manifest.TableState{
		CommittedEpoch: 10, SafeEpoch: 5, Group: base.DefaultGroupID,
	}, v.Tables[testTable])

	got, err := c.At(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, v.ID, got.ID)

	arena, err := scanArena(ctx, c.stores.Meta)
	require.NoError(t, err)
	require.Contains(t, arena, f.ID)

	// The bootstrap version is still retained.
	versions, err := c.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
}

func TestCommitStaleBaseConflicts(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	base1 := c.Current()

	mk := func() *manifest.VersionDelta {
		return &manifest.VersionDelta{
			BaseID:         base1.ID,
			CommittedEpoch: 10,
			SafeEpoch:      0,
		}
	}
	_, err := c.Commit(ctx, mk())
	require.NoError(t, err)
	_, err = c.Commit(ctx, mk())
	require.True(t, errors.Is(err, ErrConflict))
}

func TestCommitEpochRegressInvalid(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 20, 10)
	_, err := c.Commit(ctx, &manifest.VersionDelta{
		BaseID:         c.Current().ID,
		CommittedEpoch: 15,
		SafeEpoch:      10,
	})
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestCommitConcurrentCommittersSerialize(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	start := c.Current()

	const committers = 8
	files := make([]*manifest.SstableInfo, committers)
	for i := range files {
		files[i] = ingestFile(t, c, []sstable.Entry{
			entry(string(rune('a'+i)), base.Epoch(100+i), "v"),
		})
	}

	var g errgroup.Group
	for i := 0; i < committers; i++ {
		f := files[i]
		g.Go(func() error {
			for {
				cur := c.Current()
				_, err := c.Commit(ctx, &manifest.VersionDelta{
					BaseID:         cur.ID,
					CommittedEpoch: cur.CommittedEpoch + 1,
					SafeEpoch:      cur.SafeEpoch,
					Groups: map[base.GroupID]*manifest.GroupDelta{
						base.DefaultGroupID: {
							Added: []manifest.NewTableEntry{{Level: 0, Table: f}},
						},
					},
				})
				if IsConflict(err) {
					continue
				}
				return err
			}
		})
	}
	require.NoError(t, g.Wait())

	// Every committer won exactly one revision and the ids are gapless.
	final := c.Current()
	require.Equal(t, start.ID+committers, final.ID)
	require.Equal(t, start.CommittedEpoch+committers, final.CommittedEpoch)
	for _, f := range files {
		_, ok := final.Lookup(f.ID)
		require.True(t, ok)
	}
	versions, err := c.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, committers+1)
	for i, v := range versions {
		require.Equal(t, start.ID+base.VersionID(i), v.ID)
	}
}

func TestCommitSignalsBackgroundWork(t *testing.T) {
	c := newTestController(t)
	// Drain any bootstrap signals first.
	select {
	case <-c.vs.compactionSignal:
	default:
	}
	select {
	case <-c.vs.gcSignal:
	default:
	}
	advanceEpochs(t, c, 10, 5)
	select {
	case <-c.vs.compactionSignal:
	default:
		t.Fatal("expected compaction signal after publish")
	}
	select {
	case <-c.vs.gcSignal:
	default:
		t.Fatal("expected gc signal after publish")
	}
}

func TestNextSstableIDsContiguous(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	first, err := c.NextSstableIDs(ctx, 3)
	require.NoError(t, err)
	second, err := c.NextSstableIDs(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, first+3, second)
}

func TestTrimBelowKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 10, 5)
	advanceEpochs(t, c, 20, 10)
	cur := c.Current()

	n, err := c.vs.trimBelow(ctx, cur.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	versions, err := c.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, cur.ID, versions[0].ID)

	_, err = c.At(ctx, base.FirstVersionID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCurrentPointerSurvivesDirectWrite(t *testing.T) {
	// A competing control plane advancing the pointer out from under the
	// cached version must surface as ErrConflict, then succeed on rebase.
	ctx := context.Background()
	c := newTestController(t)
	cur := c.Current()

	// Simulate a foreign commit by writing version and pointer directly.
	foreign := &manifest.VersionDelta{BaseID: cur.ID, CommittedEpoch: 5}
	next := foreign.Apply(cur)
	data, err := next.Encode()
	require.NoError(t, err)
	require.NoError(t, metastore.PutBlind(ctx, c.stores.Meta, metastore.VersionKey(next.ID), data))
	require.NoError(t, metastore.PutBlind(ctx, c.stores.Meta, metastore.CurrentVersionKey,
		encodeVersionID(next.ID)))

	_, err = c.Commit(ctx, &manifest.VersionDelta{BaseID: cur.ID, CommittedEpoch: 10})
	require.True(t, errors.Is(err, ErrConflict))

	// After the conflict the cache reflects the foreign commit.
	require.Equal(t, next.ID, c.Current().ID)
	_, err = c.Commit(ctx, &manifest.VersionDelta{BaseID: next.ID, CommittedEpoch: 10})
	require.NoError(t, err)
}
