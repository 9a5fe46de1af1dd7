// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cockroachdb/tokenbucket"
	"github.com/hashicorp/go-multierror"
)

// garbageCollector reclaims data files no longer needed by any version, pin
// or backup. Reclamation is two-phase and crash-safe: the arena record is
// removed first, then the physical object. A crash in between leaves an
// untracked object, which only the full scan's orphan pass touches, and only
// after the grace period.
type garbageCollector struct {
	logger   Logger
	vs       *versionSet
	pins     *pinRegistry
	meta     metastore.Store
	data     objstore.Store
	backups  *backupOrchestrator
	opts     *Options
	metrics  *Metrics
	listener *EventListener

	// pacer throttles physical deletions so GC never saturates the object
	// store during foreground traffic. Nil means unpaced.
	pacer *tokenbucket.TokenBucket
}

func newGarbageCollector(
	logger Logger, vs *versionSet, pins *pinRegistry, meta metastore.Store,
	data objstore.Store, backups *backupOrchestrator, opts *Options,
	metrics *Metrics, listener *EventListener,
) *garbageCollector {
	gc := &garbageCollector{
		logger:   logger,
		vs:       vs,
		pins:     pins,
		meta:     meta,
		data:     data,
		backups:  backups,
		opts:     opts,
		metrics:  metrics,
		listener: listener,
	}
	if opts.GCDeleteRate > 0 {
		gc.pacer = &tokenbucket.TokenBucket{}
		gc.pacer.Init(
			tokenbucket.TokensPerSecond(opts.GCDeleteRate),
			tokenbucket.Tokens(opts.GCDeleteRate))
	}
	return gc
}

// runLoop is the background collection loop: an incremental cycle on every
// publish signal and on a periodic tick. Full scans are on-demand only.
func (gc *garbageCollector) runLoop(ctx context.Context) {
	ticker := time.NewTicker(gc.opts.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.vs.gcSignal:
		case <-ticker.C:
		}
		if err := gc.pins.expireStale(ctx); err != nil {
			gc.logger.Errorf("cascade: expiring stale pins: %v", err)
		}
		if _, err := gc.runCycle(ctx, false); err != nil {
			gc.logger.Errorf("cascade: gc cycle: %v", err)
		}
	}
}

// gcPlan is the retention state one cycle operates against, computed once up
// front so the cycle is consistent even while commits land concurrently.
type gcPlan struct {
	// floor is the reclamation epoch floor: min of the safe epoch, the
	// lowest pinned epoch and the lowest backup safe epoch. Objects whose
	// MaxEpoch is at or above the floor are never reclaimed, so every read
	// at an epoch >= floor stays answerable.
	floor base.Epoch
	// protected is the set of reachable objects: referenced by a retained
	// version or by a backup.
	protected map[base.SstableID]struct{}
}

// plan snapshots the retention floor and the backup-protected set. Order
// matters: the safe epoch is read before the pins and backups, so a pin
// taken mid-plan can only make the floor lower than necessary, never too
// high. Version references are collected separately, after trimming, so the
// reachable set reflects only versions that stay retained.
func (gc *garbageCollector) plan(ctx context.Context) (*gcPlan, error) {
	p := &gcPlan{
		floor:     gc.vs.current().SafeEpoch,
		protected: make(map[base.SstableID]struct{}),
	}

	if pinned, ok := gc.pins.minPinnedEpoch(); ok && pinned < p.floor {
		p.floor = pinned
	}

	recs, err := gc.backups.listBackups(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.SafeEpoch < p.floor {
			p.floor = rec.SafeEpoch
		}
		for _, sid := range rec.Objects {
			p.protected[sid] = struct{}{}
		}
	}
	return p, nil
}

// runCycle performs one collection cycle. Incremental cycles walk the arena;
// a full cycle additionally lists the object store to find untracked
// orphans. Both are idempotent: rerunning a cycle after any crash deletes
// nothing it should not.
func (gc *garbageCollector) runCycle(ctx context.Context, full bool) (info GCInfo, err error) {
	start := time.Now()
	defer func() {
		info.Full = full
		info.Duration = elapsedSince(start)
		info.Err = err
		gc.metrics.GCCycles.Inc()
		gc.listener.GCEnd(info)
	}()

	p, err := gc.plan(ctx)
	if err != nil {
		return info, err
	}
	info.Floor = p.floor

	// Historical version records are only needed for introspection: backup
	// manifests are self-contained and pinned reads resolve through the
	// current version. Trim them first so the reachable set below reflects
	// the final retained window.
	if _, err := gc.vs.trimBelow(ctx, gc.vs.current().ID); err != nil {
		return info, err
	}
	versions, err := gc.vs.listVersions(ctx)
	if err != nil {
		return info, err
	}
	for _, v := range versions {
		v.AddReferenced(p.protected)
	}

	arena, err := scanArena(ctx, gc.meta)
	if err != nil {
		return info, err
	}

	var errs *multierror.Error
	for sid, t := range arena {
		if cerr := ctx.Err(); cerr != nil {
			return info, multierror.Append(errs, cerr).ErrorOrNil()
		}
		if _, ok := p.protected[sid]; ok {
			continue
		}
		if t.MaxEpoch >= p.floor {
			// Unreferenced but still potentially visible to a pinned or
			// backed-up read. Left tracked for a later cycle.
			continue
		}
		if derr := gc.deleteTracked(ctx, sid); derr != nil {
			errs = multierror.Append(errs, derr)
			continue
		}
		info.ObjectsDeleted++
		info.BytesReclaimed += t.Size
	}

	if full {
		deleted, bytes, ferr := gc.sweepOrphans(ctx, arena, p)
		info.ObjectsDeleted += deleted
		info.BytesReclaimed += bytes
		if ferr != nil {
			errs = multierror.Append(errs, ferr)
		}
	}

	gc.metrics.GCObjectsDeleted.Add(float64(info.ObjectsDeleted))
	gc.metrics.GCBytesReclaimed.Add(float64(info.BytesReclaimed))
	return info, errs.ErrorOrNil()
}

// deleteTracked removes one tracked object: arena record first, physical
// object second. If the physical delete fails the object is merely orphaned
// and the full scan will retry it.
func (gc *garbageCollector) deleteTracked(ctx context.Context, sid base.SstableID) error {
	if err := gc.pace(ctx); err != nil {
		return err
	}
	if err := metastore.DeleteBlind(ctx, gc.meta, metastore.SstableKey(sid)); err != nil {
		return err
	}
	return gc.data.Delete(ctx, sid.String())
}

// sweepOrphans lists the data store and deletes objects that are neither
// tracked in the arena nor protected, provided they are older than the
// orphan grace period. The grace period keeps in-flight compaction and
// backup uploads, which write objects before publishing references, out of
// reach.
func (gc *garbageCollector) sweepOrphans(
	ctx context.Context, arena map[base.SstableID]*manifest.SstableInfo, p *gcPlan,
) (deleted int, bytes uint64, err error) {
	objects, err := gc.data.List(ctx, "")
	if err != nil {
		return 0, 0, err
	}
	cutoff := time.Now().Add(-gc.opts.OrphanGracePeriod)
	var errs *multierror.Error
	for _, obj := range objects {
		if cerr := ctx.Err(); cerr != nil {
			return deleted, bytes, multierror.Append(errs, cerr).ErrorOrNil()
		}
		sid, ok := parseSstableName(obj.Name)
		if !ok {
			continue
		}
		if _, tracked := arena[sid]; tracked {
			continue
		}
		if _, protected := p.protected[sid]; protected {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if perr := gc.pace(ctx); perr != nil {
			errs = multierror.Append(errs, perr)
			break
		}
		if derr := gc.data.Delete(ctx, obj.Name); derr != nil {
			errs = multierror.Append(errs, derr)
			continue
		}
		deleted++
		bytes += obj.Size
	}
	return deleted, bytes, errs.ErrorOrNil()
}

func (gc *garbageCollector) pace(ctx context.Context) error {
	if gc.pacer == nil {
		return nil
	}
	for {
		ok, wait := gc.pacer.TryToFulfill(1)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseSstableName extracts the sstable id from an object name of the form
// produced by SstableID.String.
func parseSstableName(name string) (base.SstableID, bool) {
	s, ok := strings.CutSuffix(name, ".sst")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return base.SstableID(id), true
}
