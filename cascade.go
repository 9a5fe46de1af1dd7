// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package cascade implements the storage control core of a distributed
// streaming SQL database: a versioned LSM manifest with optimistic commit,
// epoch-pinned snapshots, background compaction, garbage collection and
// shared-object backup. The control core manages metadata only; row data
// lives in an object store and is written by compute nodes and the
// compaction executor.
package cascade

import (
	"context"
	"sync"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cockroachdb/errors"
)

// Core identifier types, re-exported for callers.
type (
	Epoch     = base.Epoch
	VersionID = base.VersionID
	SstableID = base.SstableID
	GroupID   = base.GroupID
	TableID   = base.TableID
	TaskID    = base.TaskID
	BackupID  = base.BackupID
)

// DefaultGroupID is the compaction group tables belong to unless split out.
const DefaultGroupID = base.DefaultGroupID

// Stores bundles the persistence backends a Controller runs against. The
// Controller takes ownership and closes them on Close.
type Stores struct {
	// Meta is the transactional metadata store holding versions, pins and
	// backup records.
	Meta metastore.Store
	// Data is the object store holding sstable objects.
	Data objstore.Store
	// Backups is the object store holding backup manifests. May be the
	// same store as Data.
	Backups objstore.Store
}

// Controller is the storage control core. All methods are safe for
// concurrent use.
type Controller struct {
	opts     *Options
	logger   Logger
	listener *EventListener
	metrics  *Metrics
	stores   Stores

	vs     *versionSet
	pins   *pinRegistry
	sched  *compactionScheduler
	gc     *garbageCollector
	backup *backupOrchestrator

	bgCancel context.CancelFunc
	bgWait   sync.WaitGroup

	mu struct {
		sync.Mutex
		closed bool
	}
}

// Open initializes the control core against the given stores, bootstrapping
// a fresh store when no version exists yet. Open fails with ErrIncomplete if
// an interrupted restore left the metadata store in a partial state; the
// restore must be re-run to completion first.
func Open(ctx context.Context, stores Stores, opts *Options) (*Controller, error) {
	if stores.Meta == nil || stores.Data == nil {
		return nil, errors.Mark(errors.New("cascade: meta and data stores are required"), ErrInvalid)
	}
	if stores.Backups == nil {
		stores.Backups = stores.Data
	}
	if opts == nil {
		opts = &Options{}
	}
	opts.EnsureDefaults()
	opts.EventListener.EnsureDefaults()

	if kv, err := stores.Meta.Get(ctx, metastore.RestoreMarkerKey); err == nil {
		return nil, errors.Mark(errors.Newf(
			"cascade: interrupted restore of backup %s; re-run restore", string(kv.Value)),
			ErrIncomplete)
	} else if !metastore.IsNotFound(err) {
		return nil, err
	}

	c := &Controller{
		opts:     opts,
		logger:   opts.Logger,
		listener: &opts.EventListener,
		metrics:  newMetrics(opts.MetricsRegisterer),
		stores:   stores,
	}
	c.vs = newVersionSet(c.logger, stores.Meta, c.listener, c.metrics)
	if err := c.vs.load(ctx); err != nil {
		return nil, err
	}
	c.pins = newPinRegistry(c.logger, stores.Meta, c.listener, c.metrics, opts.PinLeaseDuration)
	if err := c.pins.load(ctx); err != nil {
		return nil, err
	}
	c.backup = &backupOrchestrator{
		logger:   c.logger,
		vs:       c.vs,
		pins:     c.pins,
		meta:     stores.Meta,
		data:     stores.Data,
		backups:  stores.Backups,
		metrics:  c.metrics,
		listener: c.listener,
	}
	c.sched = newCompactionScheduler(
		c.logger, c.vs, stores.Data, c.pins, opts, c.metrics, c.listener)
	c.gc = newGarbageCollector(
		c.logger, c.vs, c.pins, stores.Meta, stores.Data, c.backup, opts,
		c.metrics, c.listener)

	bgCtx, cancel := context.WithCancel(context.Background())
	c.bgCancel = cancel
	c.bgWait.Add(2)
	go func() {
		defer c.bgWait.Done()
		c.sched.runLoop(bgCtx)
	}()
	go func() {
		defer c.bgWait.Done()
		c.gc.runLoop(bgCtx)
	}()
	return c, nil
}

// Close stops the background loops, waits for in-flight tasks to stop, and
// closes the stores.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.mu.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.closed = true
	c.mu.Unlock()

	c.bgCancel()
	c.sched.close()
	c.bgWait.Wait()

	err := c.stores.Meta.Close()
	if derr := c.stores.Data.Close(); err == nil {
		err = derr
	}
	if c.stores.Backups != c.stores.Data {
		if berr := c.stores.Backups.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// Commit validates and atomically publishes a version delta: new data files,
// epoch advances, table registrations and drops. ErrConflict means the delta
// was computed against a version that is no longer current; the caller
// recomputes against Current and retries.
func (c *Controller) Commit(ctx context.Context, delta *manifest.VersionDelta) (*manifest.Version, error) {
	v, err := c.vs.commit(ctx, delta)
	if err != nil {
		return nil, err
	}
	// Subscription pin floors follow the committed epoch.
	if err := c.pins.advanceEpoch(ctx, v.CommittedEpoch); err != nil {
		c.logger.Errorf("cascade: advancing subscription pins: %v", err)
	}
	return v, nil
}

// Current returns the current version. The returned version is immutable.
func (c *Controller) Current() *manifest.Version {
	return c.vs.current()
}

// At returns the retained version with the given id, or ErrNotFound if it
// was never published or has been trimmed.
func (c *Controller) At(ctx context.Context, id base.VersionID) (*manifest.Version, error) {
	return c.vs.at(ctx, id)
}

// ListVersions returns every retained version in id order.
func (c *Controller) ListVersions(ctx context.Context) ([]*manifest.Version, error) {
	return c.vs.listVersions(ctx)
}

// NextSstableIDs allocates a contiguous run of n fresh sstable ids for
// ingest writers and returns the first.
func (c *Controller) NextSstableIDs(ctx context.Context, n uint64) (base.SstableID, error) {
	return c.vs.nextSstableIDs(ctx, n)
}

// Pin registers holder as reading at epoch, protecting the data visible at
// that epoch from reclamation until released or the lease lapses.
// ErrEpochTooOld if epoch is below the current safe epoch.
func (c *Controller) Pin(ctx context.Context, holder string, epoch base.Epoch) (*PinHandle, error) {
	return c.pins.pin(ctx, holder, epoch, c.vs.current().SafeEpoch)
}

// PinSubscription registers a change-feed subscription needing the last
// retention window of history. The pin's floor advances automatically with
// the committed epoch.
func (c *Controller) PinSubscription(
	ctx context.Context, holder string, retention time.Duration,
) (*PinHandle, error) {
	v := c.vs.current()
	return c.pins.pinSubscription(ctx, holder, v.CommittedEpoch, retention, v.SafeEpoch)
}

// RenewPin extends a pin's lease. ErrNotFound once the lease has lapsed.
func (c *Controller) RenewPin(ctx context.Context, h *PinHandle) error {
	return c.pins.renew(ctx, h)
}

// ReleasePin drops a pin. Releasing an already-expired pin is a no-op.
func (c *Controller) ReleasePin(ctx context.Context, h *PinHandle) error {
	return c.pins.release(ctx, h)
}

// ListPinnedSnapshots returns the live pins.
func (c *Controller) ListPinnedSnapshots() []PinHandle {
	return c.pins.listPins()
}

// MinPinnedEpoch returns the lowest epoch any live pin holds, and false if
// nothing is pinned.
func (c *Controller) MinPinnedEpoch() (base.Epoch, bool) {
	return c.pins.minPinnedEpoch()
}

// TriggerManualCompaction compacts the levels [startLevel, endLevel) of a
// group downward one at a time, each level's output feeding the next pick.
// Empty levels are skipped. Returns the ids of the tasks it ran; the call
// blocks until the last task reaches a terminal state.
func (c *Controller) TriggerManualCompaction(
	ctx context.Context, g base.GroupID, startLevel, endLevel int,
) ([]base.TaskID, error) {
	if startLevel < 0 || endLevel > manifest.NumLevels || startLevel >= endLevel {
		return nil, errors.Mark(errors.Newf(
			"cascade: bad level range %d..%d", startLevel, endLevel), ErrInvalid)
	}
	var ids []base.TaskID
	for level := startLevel; level < endLevel && level < manifest.NumLevels-1; level++ {
		info, done, err := c.sched.triggerManual(g, level)
		if errors.Is(err, ErrInvalid) {
			// Nothing at this level.
			continue
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, info.ID)
		select {
		case <-done:
		case <-ctx.Done():
			return ids, ctx.Err()
		}
		final, err := c.sched.taskInfo(info.ID)
		if err != nil {
			return ids, err
		}
		if final.State != TaskSucceeded {
			return ids, final.Err
		}
	}
	return ids, nil
}

// CompactionTask returns the record of a scheduled task.
func (c *Controller) CompactionTask(id base.TaskID) (TaskInfo, error) {
	return c.sched.taskInfo(id)
}

// RunGCCycle runs one incremental garbage collection cycle and reports what
// it reclaimed.
func (c *Controller) RunGCCycle(ctx context.Context) (GCInfo, error) {
	if err := c.pins.expireStale(ctx); err != nil {
		return GCInfo{}, err
	}
	return c.gc.runCycle(ctx, false)
}

// RunFullGC runs a full collection cycle, additionally sweeping the object
// store for untracked orphans older than the grace period.
func (c *Controller) RunFullGC(ctx context.Context) (GCInfo, error) {
	if err := c.pins.expireStale(ctx); err != nil {
		return GCInfo{}, err
	}
	return c.gc.runCycle(ctx, true)
}

// Backup captures the current version as a shared-object backup. An empty id
// gets a generated one.
func (c *Controller) Backup(ctx context.Context, id base.BackupID) (*BackupRecord, error) {
	return c.backup.backup(ctx, id)
}

// ListBackups returns the recorded backups.
func (c *Controller) ListBackups(ctx context.Context) ([]*BackupRecord, error) {
	return c.backup.listBackups(ctx)
}

// DeleteBackup removes a backup's record and manifest. Its objects become
// reclaimable on the next GC cycle unless still referenced elsewhere.
func (c *Controller) DeleteBackup(ctx context.Context, id base.BackupID) error {
	return c.backup.deleteBackup(ctx, id)
}

// Metrics returns the controller's metrics handle.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// RestoreOptions configures an offline restore.
type RestoreOptions struct {
	// Meta is the metadata store to restore into. Its existing contents are
	// destroyed.
	Meta metastore.Store
	// Data is the object store holding the data files the backup references.
	Data objstore.Store
	// Backups is the object store holding the backup manifest.
	Backups objstore.Store
	// BackupID names the backup to restore.
	BackupID base.BackupID

	Logger        Logger
	EventListener EventListener
}

// Restore rebuilds a metadata store from a backup manifest. It runs offline,
// against a store no controller has open, and is destructive: the store's
// previous contents are replaced in full. A failed or interrupted restore
// leaves the store marked incomplete; Open refuses such a store until a
// restore succeeds.
func Restore(ctx context.Context, opts RestoreOptions) error {
	if opts.Meta == nil || opts.Data == nil || opts.Backups == nil {
		return errors.Mark(errors.New("cascade: restore requires meta, data and backup stores"), ErrInvalid)
	}
	if opts.BackupID == "" {
		return errors.Mark(errors.New("cascade: restore requires a backup id"), ErrInvalid)
	}
	if opts.Logger == nil {
		opts.Logger = base.DefaultLogger
	}
	opts.EventListener.EnsureDefaults()
	b := &backupOrchestrator{
		logger:   opts.Logger,
		meta:     opts.Meta,
		data:     opts.Data,
		backups:  opts.Backups,
		metrics:  newMetrics(nil),
		listener: &opts.EventListener,
	}
	return b.restore(ctx, opts.BackupID)
}
