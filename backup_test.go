// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"testing"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/sstable"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cascadedb/cascade/metastore/memstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestBackupRestoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)

	f1 := ingestFile(t, c, []sstable.Entry{entry("a", 10, "a1"), entry("b", 10, "b1")})
	commitIngest(t, c, 10, 5, f1)
	rec, err := c.Backup(ctx, "nightly")
	require.NoError(t, err)
	require.Equal(t, base.BackupID("nightly"), rec.ID)
	require.Equal(t, base.Epoch(10), rec.CommittedEpoch)
	require.ElementsMatch(t, []base.SstableID{f1.ID}, rec.Objects)

	// The backup pin is transient.
	_, pinned := c.MinPinnedEpoch()
	require.False(t, pinned)

	// Restore into a brand-new metadata store.
	restored := memstore.New()
	require.NoError(t, Restore(ctx, RestoreOptions{
		Meta:     restored,
		Data:     c.stores.Data,
		Backups:  c.stores.Backups,
		BackupID: "nightly",
	}))

	c2, err := Open(ctx, Stores{
		Meta: restored, Data: c.stores.Data, Backups: c.stores.Backups,
	}, &Options{DisableAutomaticCompactions: true})
	require.NoError(t, err)
	v := c2.Current()
	require.Equal(t, rec.VersionID, v.ID)
	require.Equal(t, base.Epoch(10), v.CommittedEpoch)
	require.Equal(t, base.Epoch(5), v.SafeEpoch)
	_, ok := v.Lookup(f1.ID)
	require.True(t, ok)

	// The arena and id allocator came back too.
	arena, err := scanArena(ctx, restored)
	require.NoError(t, err)
	require.Contains(t, arena, f1.ID)
	next, err := c2.NextSstableIDs(ctx, 1)
	require.NoError(t, err)
	require.Greater(t, next, f1.ID)

	require.NoError(t, c2.Close())
}

func TestRestoreIntoUsedStore(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	c, _ := newTestControllerWithMeta(t, mem)

	f1 := ingestFile(t, c, []sstable.Entry{entry("a", 10, "a1")})
	commitIngest(t, c, 10, 5, f1)
	rec, err := c.Backup(ctx, "nightly")
	require.NoError(t, err)

	// State published after the backup must not survive the restore.
	f2 := ingestFile(t, c, []sstable.Entry{entry("b", 20, "b1")})
	commitIngest(t, c, 20, 15, f2)
	_, err = c.Pin(ctx, "reader-1", 20)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// Restore into the very store the controller was using. Keys being
	// rewritten (current pointer, version record, arena) already exist here.
	require.NoError(t, Restore(ctx, RestoreOptions{
		Meta:     mem,
		Data:     c.stores.Data,
		Backups:  c.stores.Backups,
		BackupID: "nightly",
	}))

	c2, err := Open(ctx, Stores{
		Meta: mem, Data: c.stores.Data, Backups: c.stores.Backups,
	}, &Options{DisableAutomaticCompactions: true})
	require.NoError(t, err)
	v := c2.Current()
	require.Equal(t, rec.VersionID, v.ID)
	require.Equal(t, base.Epoch(10), v.CommittedEpoch)
	_, ok := v.Lookup(f1.ID)
	require.True(t, ok)
	_, ok = v.Lookup(f2.ID)
	require.False(t, ok)

	// Post-backup leftovers are gone: no pins, no stray arena entries.
	require.Empty(t, c2.ListPinnedSnapshots())
	arena, err := scanArena(ctx, mem)
	require.NoError(t, err)
	require.Contains(t, arena, f1.ID)
	require.NotContains(t, arena, f2.ID)
	require.NoError(t, c2.Close())
}

func TestBackupDuplicateID(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 10, 5)
	_, err := c.Backup(ctx, "b-1")
	require.NoError(t, err)
	_, err = c.Backup(ctx, "b-1")
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestBackupGeneratesID(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 10, 5)
	rec, err := c.Backup(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	recs, err := c.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, rec.ID, recs[0].ID)
}

func TestBackupMissingObjectIncomplete(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	f1 := ingestFile(t, c, []sstable.Entry{entry("a", 10, "a1")})
	commitIngest(t, c, 10, 5, f1)
	require.NoError(t, c.stores.Data.Delete(ctx, f1.ID.String()))

	_, err := c.Backup(ctx, "broken")
	require.True(t, errors.Is(err, ErrIncomplete))
}

func TestRestoreMissingObjectLeavesMarker(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	f1 := ingestFile(t, c, []sstable.Entry{entry("a", 10, "a1")})
	commitIngest(t, c, 10, 5, f1)
	_, err := c.Backup(ctx, "nightly")
	require.NoError(t, err)

	require.NoError(t, c.stores.Data.Delete(ctx, f1.ID.String()))

	restored := memstore.New()
	err = Restore(ctx, RestoreOptions{
		Meta:     restored,
		Data:     c.stores.Data,
		Backups:  c.stores.Backups,
		BackupID: "nightly",
	})
	require.True(t, errors.Is(err, ErrIncomplete))

	// The incomplete marker stays, and Open refuses the store.
	_, err = restored.Get(ctx, metastore.RestoreMarkerKey)
	require.NoError(t, err)
	data := c.stores.Data
	_, err = Open(ctx, Stores{Meta: restored, Data: data}, nil)
	require.True(t, errors.Is(err, ErrIncomplete))
}

func TestDeleteBackupRemovesManifest(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t)
	advanceEpochs(t, c, 10, 5)
	_, err := c.Backup(ctx, "b-1")
	require.NoError(t, err)

	require.NoError(t, c.DeleteBackup(ctx, "b-1"))
	recs, err := c.ListBackups(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)
	_, err = c.stores.Backups.Get(ctx, backupManifestName("b-1"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.True(t, errors.Is(c.DeleteBackup(ctx, "b-1"), ErrNotFound))
}
