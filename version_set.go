// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"strconv"
	"sync"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cockroachdb/errors"
)

// versionSet manages the canonical, append-only sequence of versions. A new
// version is created from the current one by applying a VersionDelta. The
// metastore is the single serialization point: publication is an atomic
// compare-and-swap of the current-version pointer, so concurrent committers
// race and retry but never block each other.
//
// Version records are immutable once written. The set keeps a cached copy of
// the current version; the cache can only be stale when another control
// plane process commits, and every stale commit attempt fails the CAS and
// refreshes it.
type versionSet struct {
	logger   Logger
	store    metastore.Store
	listener *EventListener
	metrics  *Metrics

	mu struct {
		sync.Mutex
		current *manifest.Version
		// currentRev is the metastore revision of the current-version
		// pointer, the value the next commit's compare runs against.
		currentRev int64
	}

	// compactionSignal and gcSignal carry the non-blocking wake-ups emitted
	// on every publish.
	compactionSignal chan struct{}
	gcSignal         chan struct{}
}

func newVersionSet(
	logger Logger, store metastore.Store, listener *EventListener, metrics *Metrics,
) *versionSet {
	return &versionSet{
		logger:           logger,
		store:            store,
		listener:         listener,
		metrics:          metrics,
		compactionSignal: make(chan struct{}, 1),
		gcSignal:         make(chan struct{}, 1),
	}
}

// load initializes the set from the metastore, bootstrapping a fresh store
// with an empty first version if none exists.
func (vs *versionSet) load(ctx context.Context) error {
	kv, err := vs.store.Get(ctx, metastore.CurrentVersionKey)
	if metastore.IsNotFound(err) {
		v := manifest.NewVersion()
		data, err := v.Encode()
		if err != nil {
			return err
		}
		err = vs.store.Commit(ctx, metastore.Txn{
			Compares: []metastore.Compare{{Key: metastore.CurrentVersionKey, Revision: 0}},
			Puts: []metastore.Put{
				{Key: metastore.VersionKey(v.ID), Value: data},
				{Key: metastore.CurrentVersionKey, Value: encodeVersionID(v.ID)},
			},
		})
		// Another control plane may have bootstrapped concurrently; fall
		// through to read whatever won.
		if err != nil && !errors.Is(err, ErrConflict) {
			return errors.Wrap(err, "cascade: bootstrapping version set")
		}
		kv, err = vs.store.Get(ctx, metastore.CurrentVersionKey)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return vs.install(ctx, kv)
}

// refresh re-reads the current version from the metastore.
func (vs *versionSet) refresh(ctx context.Context) error {
	kv, err := vs.store.Get(ctx, metastore.CurrentVersionKey)
	if err != nil {
		return err
	}
	return vs.install(ctx, kv)
}

func (vs *versionSet) install(ctx context.Context, pointer metastore.KeyValue) error {
	id, err := decodeVersionID(pointer.Value)
	if err != nil {
		return err
	}
	rec, err := vs.store.Get(ctx, metastore.VersionKey(id))
	if err != nil {
		return errors.Wrapf(err, "cascade: current pointer names version %d", id)
	}
	v, err := manifest.DecodeVersion(rec.Value)
	if err != nil {
		return err
	}
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.mu.current == nil || v.ID >= vs.mu.current.ID {
		vs.mu.current = v
		vs.mu.currentRev = pointer.Revision
		vs.updateVersionMetricsLocked()
	}
	return nil
}

// current returns the cached current version. The returned version is
// immutable.
func (vs *versionSet) current() *manifest.Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.mu.current
}

// at returns the retained version with the given id, or ErrNotFound if it
// was never published or has been trimmed.
func (vs *versionSet) at(ctx context.Context, id base.VersionID) (*manifest.Version, error) {
	rec, err := vs.store.Get(ctx, metastore.VersionKey(id))
	if err != nil {
		return nil, err
	}
	return manifest.DecodeVersion(rec.Value)
}

// listVersions returns every retained version in id order.
func (vs *versionSet) listVersions(ctx context.Context) ([]*manifest.Version, error) {
	kvs, err := vs.store.Scan(ctx, metastore.VersionPrefix)
	if err != nil {
		return nil, err
	}
	versions := make([]*manifest.Version, 0, len(kvs))
	for _, kv := range kvs {
		v, err := manifest.DecodeVersion(kv.Value)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// commit validates delta against the current version and atomically
// publishes the successor. On ErrConflict the caller must recompute the
// delta against the new current version and retry; commit itself never
// blocks on other writers. The new version record, the current pointer
// advance, and the arena records of added sstables are one atomic
// transaction: readers never observe a partially committed publish.
func (vs *versionSet) commit(
	ctx context.Context, delta *manifest.VersionDelta,
) (*manifest.Version, error) {
	vs.mu.Lock()
	cur := vs.mu.current
	rev := vs.mu.currentRev
	vs.mu.Unlock()

	if delta.BaseID != cur.ID {
		// The cache may lag behind another control plane's commit; one
		// refresh keeps a lagging caller from spinning on a stale cache.
		if err := vs.refresh(ctx); err != nil {
			return nil, err
		}
		vs.mu.Lock()
		cur = vs.mu.current
		rev = vs.mu.currentRev
		vs.mu.Unlock()
		if delta.BaseID != cur.ID {
			vs.metrics.VersionConflicts.Inc()
			return nil, errors.Mark(errors.Newf(
				"cascade: delta base %d is not current version %d", delta.BaseID, cur.ID),
				ErrConflict)
		}
	}
	if err := delta.Validate(cur); err != nil {
		return nil, err
	}

	newVersion := delta.Apply(cur)
	data, err := newVersion.Encode()
	if err != nil {
		return nil, err
	}
	txn := metastore.Txn{
		Compares: []metastore.Compare{{Key: metastore.CurrentVersionKey, Revision: rev}},
		Puts: []metastore.Put{
			{Key: metastore.VersionKey(newVersion.ID), Value: data},
			{Key: metastore.CurrentVersionKey, Value: encodeVersionID(newVersion.ID)},
		},
	}
	for _, t := range delta.AddedTables() {
		rec, err := encodeSstableInfo(t)
		if err != nil {
			return nil, err
		}
		txn.Puts = append(txn.Puts, metastore.Put{Key: metastore.SstableKey(t.ID), Value: rec})
	}
	if err := vs.store.Commit(ctx, txn); err != nil {
		if errors.Is(err, ErrConflict) {
			vs.metrics.VersionConflicts.Inc()
			// Refresh so the caller's retry sees the winning version.
			if rerr := vs.refresh(ctx); rerr != nil {
				vs.logger.Errorf("cascade: refreshing after commit conflict: %v", rerr)
			}
		}
		return nil, err
	}

	vs.mu.Lock()
	if vs.mu.current == nil || newVersion.ID > vs.mu.current.ID {
		vs.mu.current = newVersion
		// The pointer revision advanced with our commit; re-reading it
		// lazily on the next conflict is cheaper than a read here, but a
		// stale revision would fail every subsequent CAS. Read it back.
		if kv, err := vs.store.Get(ctx, metastore.CurrentVersionKey); err == nil {
			vs.mu.currentRev = kv.Revision
			if id, derr := decodeVersionID(kv.Value); derr == nil && id != newVersion.ID {
				// Someone else already committed on top of us.
				vs.mu.Unlock()
				if err := vs.refresh(ctx); err != nil {
					return nil, err
				}
				vs.mu.Lock()
			}
		}
		vs.updateVersionMetricsLocked()
	}
	vs.mu.Unlock()

	vs.metrics.VersionCommits.Inc()
	vs.listener.VersionPublished(VersionPublishInfo{
		VersionID:      newVersion.ID,
		CommittedEpoch: newVersion.CommittedEpoch,
		SafeEpoch:      newVersion.SafeEpoch,
	})
	// Publishing a version re-evaluates compaction debt and wakes the
	// garbage collector. Both signals are non-blocking.
	signal(vs.compactionSignal)
	signal(vs.gcSignal)
	return newVersion, nil
}

// trimBelow deletes retained version records with id < keep. The current
// version is never trimmed.
func (vs *versionSet) trimBelow(ctx context.Context, keep base.VersionID) (int, error) {
	cur := vs.current()
	if keep > cur.ID {
		keep = cur.ID
	}
	kvs, err := vs.store.Scan(ctx, metastore.VersionPrefix)
	if err != nil {
		return 0, err
	}
	var deletes []string
	for _, kv := range kvs {
		id, err := metastore.ParseVersionKey(kv.Key)
		if err != nil {
			return 0, err
		}
		if id < keep {
			deletes = append(deletes, kv.Key)
		}
	}
	if len(deletes) == 0 {
		return 0, nil
	}
	if err := vs.store.Commit(ctx, metastore.Txn{Deletes: deletes}); err != nil {
		return 0, err
	}
	return len(deletes), nil
}

// nextSstableIDs atomically allocates n fresh sstable ids and returns the
// first of the contiguous run.
func (vs *versionSet) nextSstableIDs(ctx context.Context, n uint64) (base.SstableID, error) {
	for {
		var next uint64 = 1
		var rev int64
		kv, err := vs.store.Get(ctx, metastore.NextSstableIDKey)
		if err == nil {
			next, err = strconv.ParseUint(string(kv.Value), 10, 64)
			if err != nil {
				return 0, errors.Wrap(err, "cascade: malformed sstable id counter")
			}
			rev = kv.Revision
		} else if !metastore.IsNotFound(err) {
			return 0, err
		}
		err = vs.store.Commit(ctx, metastore.Txn{
			Compares: []metastore.Compare{{Key: metastore.NextSstableIDKey, Revision: rev}},
			Puts: []metastore.Put{{
				Key:   metastore.NextSstableIDKey,
				Value: []byte(strconv.FormatUint(next+n, 10)),
			}},
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return base.SstableID(next), nil
	}
}

func (vs *versionSet) updateVersionMetricsLocked() {
	v := vs.mu.current
	vs.metrics.CurrentVersionID.Set(float64(v.ID))
	vs.metrics.CommittedEpoch.Set(float64(v.CommittedEpoch))
	vs.metrics.SafeEpoch.Set(float64(v.SafeEpoch))
}

func encodeVersionID(id base.VersionID) []byte {
	return []byte(strconv.FormatUint(uint64(id), 10))
}

func decodeVersionID(data []byte) (base.VersionID, error) {
	id, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "cascade: malformed current-version pointer")
	}
	return base.VersionID(id), nil
}

// signal performs a non-blocking send on a capacity-1 wake-up channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
