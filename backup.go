// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// backupVerifyParallelism bounds concurrent object existence checks during
// backup and restore.
const backupVerifyParallelism = 8

// BackupManifest is the durable, self-contained description of a backup. It
// embeds the full version snapshot, so a restore needs nothing but the
// manifest and the data objects it names.
type BackupManifest struct {
	ID        base.BackupID `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	// Version is the version snapshot the backup captured.
	Version *manifest.Version `json:"version"`
	// NextSstableID restores the id allocator so post-restore commits never
	// reuse an id named by the manifest.
	NextSstableID base.SstableID `json:"next_sstable_id"`
}

// BackupRecord is the metastore-resident summary of a backup. The garbage
// collector consults these records; the manifest itself lives in the backup
// object store.
type BackupRecord struct {
	ID             base.BackupID  `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	VersionID      base.VersionID `json:"version_id"`
	CommittedEpoch base.Epoch     `json:"committed_epoch"`
	SafeEpoch      base.Epoch     `json:"safe_epoch"`
	// Objects lists the data files the backup references. They stay pinned
	// against reclamation until the record is deleted.
	Objects []base.SstableID `json:"objects"`
}

// backupManifestName returns the object name of a backup manifest within the
// backup store.
func backupManifestName(id base.BackupID) string {
	return fmt.Sprintf("backups/%s/manifest.json", id)
}

// backupOrchestrator implements backup creation, deletion and restore.
// Backups are shared-object: they reference the data files in place rather
// than copying them, and deletion removes only the manifest, leaving actual
// reclamation to the garbage collector.
type backupOrchestrator struct {
	logger   Logger
	vs       *versionSet
	pins     *pinRegistry
	meta     metastore.Store
	data     objstore.Store
	backups  objstore.Store
	metrics  *Metrics
	listener *EventListener
}

// backup captures the current version as a backup. The version's safe epoch
// is pinned for the duration so no concurrent GC cycle can reclaim a
// referenced object between the snapshot and the record write.
func (b *backupOrchestrator) backup(ctx context.Context, id base.BackupID) (rec *BackupRecord, err error) {
	if id == "" {
		id = base.BackupID(uuid.New().String())
	}
	defer func() {
		info := BackupInfo{BackupID: id, Err: err}
		if rec != nil {
			info.CommittedEpoch = rec.CommittedEpoch
			info.Objects = len(rec.Objects)
		}
		b.listener.BackupCreated(info)
	}()

	if _, err := b.meta.Get(ctx, metastore.BackupKey(id)); err == nil {
		return nil, errors.Mark(errors.Newf("cascade: backup %s already exists", id), ErrInvalid)
	} else if !metastore.IsNotFound(err) {
		return nil, err
	}

	v := b.vs.current()
	holder := "backup-" + string(id)
	pin, err := b.pins.pin(ctx, holder, v.SafeEpoch, v.SafeEpoch)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := b.pins.release(ctx, pin); rerr != nil {
			b.logger.Errorf("cascade: releasing backup pin: %v", rerr)
		}
	}()

	referenced := v.Referenced()
	objects := make([]base.SstableID, 0, len(referenced))
	for sid := range referenced {
		objects = append(objects, sid)
	}
	if err := b.verifyObjects(ctx, b.data, objects); err != nil {
		return nil, err
	}

	nextID, err := b.currentNextSstableID(ctx)
	if err != nil {
		return nil, err
	}
	man := &BackupManifest{
		ID:            id,
		CreatedAt:     time.Now().UTC(),
		Version:       v,
		NextSstableID: nextID,
	}
	data, err := json.Marshal(man)
	if err != nil {
		return nil, errors.Wrapf(err, "cascade: encoding backup manifest %s", id)
	}
	// Manifest first, record second. A crash in between leaves an orphan
	// manifest with no record, which delete-backup or a fresh backup under
	// the same id cleans up; the record is the only thing GC honors.
	if err := b.backups.Put(ctx, backupManifestName(id), data); err != nil {
		return nil, err
	}

	rec = &BackupRecord{
		ID:             id,
		CreatedAt:      man.CreatedAt,
		VersionID:      v.ID,
		CommittedEpoch: v.CommittedEpoch,
		SafeEpoch:      v.SafeEpoch,
		Objects:        objects,
	}
	recData, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrapf(err, "cascade: encoding backup record %s", id)
	}
	err = b.meta.Commit(ctx, metastore.Txn{
		Compares: []metastore.Compare{{Key: metastore.BackupKey(id), Revision: 0}},
		Puts:     []metastore.Put{{Key: metastore.BackupKey(id), Value: recData}},
	})
	if err != nil {
		return nil, err
	}
	b.metrics.BackupsCreated.Inc()
	return rec, nil
}

// listBackups returns the backup records sorted by id.
func (b *backupOrchestrator) listBackups(ctx context.Context) ([]*BackupRecord, error) {
	kvs, err := b.meta.Scan(ctx, metastore.BackupPrefix)
	if err != nil {
		return nil, err
	}
	recs := make([]*BackupRecord, 0, len(kvs))
	for _, kv := range kvs {
		rec := &BackupRecord{}
		if err := json.Unmarshal(kv.Value, rec); err != nil {
			return nil, errors.Wrapf(err, "cascade: decoding backup record %q", kv.Key)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// deleteBackup removes the backup's record and manifest. The data objects it
// referenced become reclaimable on the next GC cycle unless another backup
// or version still references them.
func (b *backupOrchestrator) deleteBackup(ctx context.Context, id base.BackupID) error {
	if _, err := b.meta.Get(ctx, metastore.BackupKey(id)); err != nil {
		return errors.Wrapf(err, "cascade: backup %s", id)
	}
	// Record before manifest: once the record is gone GC stops honoring the
	// backup, and a dangling manifest is harmless.
	if err := metastore.DeleteBlind(ctx, b.meta, metastore.BackupKey(id)); err != nil {
		return err
	}
	if err := b.backups.Delete(ctx, backupManifestName(id)); err != nil {
		return err
	}
	b.metrics.BackupsDeleted.Inc()
	b.listener.BackupDeleted(BackupInfo{BackupID: id})
	return nil
}

// restore rebuilds the metastore state from a backup manifest. It is
// destructive: all current metadata is replaced by the backup's snapshot.
// The restore-incomplete marker is set for the duration; a crashed restore
// leaves the marker behind and Open refuses to start until the restore is
// re-run to completion.
func (b *backupOrchestrator) restore(ctx context.Context, id base.BackupID) (err error) {
	start := time.Now()
	defer func() {
		b.listener.RestoreEnd(RestoreInfo{BackupID: id, Duration: elapsedSince(start), Err: err})
	}()

	data, err := b.backups.Get(ctx, backupManifestName(id))
	if err != nil {
		return errors.Wrapf(err, "cascade: backup manifest %s", id)
	}
	man := &BackupManifest{}
	if err := json.Unmarshal(data, man); err != nil {
		return errors.Wrapf(err, "cascade: decoding backup manifest %s", id)
	}
	if man.Version == nil {
		return errors.Mark(errors.Newf("cascade: backup manifest %s has no version", id), ErrIncomplete)
	}

	// Marker first: from here until the final transaction commits, the
	// store is unusable and Open refuses it.
	if err := metastore.PutBlind(ctx, b.meta, metastore.RestoreMarkerKey, []byte(id)); err != nil {
		return err
	}

	referenced := man.Version.Referenced()
	objects := make([]base.SstableID, 0, len(referenced))
	for sid := range referenced {
		objects = append(objects, sid)
	}
	if err := b.verifyObjects(ctx, b.data, objects); err != nil {
		return err
	}

	// One atomic transaction replaces everything: stale keys deleted, the
	// backup's snapshot written, the marker cleared. The store never holds
	// a mix of old and restored state.
	txn := metastore.Txn{}
	versionData, err := man.Version.Encode()
	if err != nil {
		return err
	}
	txn.Puts = append(txn.Puts,
		metastore.Put{Key: metastore.VersionKey(man.Version.ID), Value: versionData},
		metastore.Put{Key: metastore.CurrentVersionKey, Value: encodeVersionID(man.Version.ID)},
		metastore.Put{Key: metastore.NextSstableIDKey,
			Value: []byte(strconv.FormatUint(uint64(man.NextSstableID), 10))},
	)
	for sid := range referenced {
		t, ok := man.Version.Lookup(sid)
		if !ok {
			continue
		}
		rec, err := encodeSstableInfo(t)
		if err != nil {
			return err
		}
		txn.Puts = append(txn.Puts, metastore.Put{Key: metastore.SstableKey(sid), Value: rec})
	}
	// Backends apply puts before deletes, so a key both restored and
	// pre-existing must not appear in the delete set or the put is undone.
	replaced := make(map[string]struct{}, len(txn.Puts))
	for _, p := range txn.Puts {
		replaced[p.Key] = struct{}{}
	}
	existing, err := b.meta.Scan(ctx, "")
	if err != nil {
		return err
	}
	for _, kv := range existing {
		if _, ok := replaced[kv.Key]; ok {
			continue
		}
		txn.Deletes = append(txn.Deletes, kv.Key)
	}
	return b.meta.Commit(ctx, txn)
}

// verifyObjects checks that every named object exists in the store. A
// missing object fails the whole operation with ErrIncomplete.
func (b *backupOrchestrator) verifyObjects(
	ctx context.Context, store objstore.Store, objects []base.SstableID,
) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(backupVerifyParallelism)
	for _, sid := range objects {
		g.Go(func() error {
			if _, err := store.Stat(ctx, sid.String()); err != nil {
				if errors.Is(err, ErrNotFound) {
					return errors.Mark(errors.Newf(
						"cascade: object %s is missing", sid), ErrIncomplete)
				}
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *backupOrchestrator) currentNextSstableID(ctx context.Context) (base.SstableID, error) {
	kv, err := b.meta.Get(ctx, metastore.NextSstableIDKey)
	if metastore.IsNotFound(err) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(string(kv.Value), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "cascade: malformed sstable id counter")
	}
	return base.SstableID(id), nil
}
