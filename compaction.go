// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cascadedb/cascade/internal/sstable"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cockroachdb/errors"
)

// compaction executes one picked compaction: read inputs, merge, write
// outputs, publish the swap. The executor holds no locks while doing IO;
// only the final publish serializes through the version set.
type compaction struct {
	vs      *versionSet
	data    objstore.Store
	opts    *Options
	metrics *Metrics

	pc *pickedCompaction
	// retainFloor is the epoch below which shadowed entries may be dropped.
	// Entries at or above the floor stay byte-for-byte visible, so reads at
	// any epoch >= floor return the same rows before and after the swap.
	retainFloor base.Epoch
}

// compactionResult carries the outputs of the merge phase into the publish
// phase.
type compactionResult struct {
	outputs      []*manifest.SstableInfo
	bytesRead    uint64
	bytesWritten uint64
}

// run executes the compaction end to end. Cancellation is honored between
// files: a canceled task leaves at most some unreferenced output objects,
// which the orphan scan reclaims later.
func (c *compaction) run(ctx context.Context) (*compactionResult, error) {
	inputs, bytesRead, err := c.readInputs(ctx)
	if err != nil {
		return nil, err
	}
	merged := sstable.Merge(inputs, c.retainFloor)
	merged = c.dropRemovedTables(merged)
	res, err := c.writeOutputs(ctx, merged)
	if err != nil {
		return nil, err
	}
	res.bytesRead = bytesRead
	if err := c.publish(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// dropRemovedTables discards entries owned by state tables no longer in the
// table registry, reclaiming the space of dropped tables. Keys without a
// decodable table prefix are kept.
func (c *compaction) dropRemovedTables(entries []sstable.Entry) []sstable.Entry {
	live := c.vs.current().Tables
	out := entries[:0]
	for _, e := range entries {
		if id, _, ok := base.DecodeTableKey(e.Key); ok {
			if _, present := live[id]; !present {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func (c *compaction) readInputs(ctx context.Context) ([][]sstable.Entry, uint64, error) {
	tables := c.pc.inputTables()
	inputs := make([][]sstable.Entry, 0, len(tables))
	var bytesRead uint64
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		data, err := c.data.Get(ctx, t.ID.String())
		if err != nil {
			return nil, 0, errors.Wrapf(err, "cascade: reading compaction input %s", t.ID)
		}
		entries, err := sstable.Decode(data)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "cascade: decoding compaction input %s", t.ID)
		}
		inputs = append(inputs, entries)
		bytesRead += uint64(len(data))
	}
	return inputs, bytesRead, nil
}

// writeOutputs cuts the merged entries into files of roughly TargetFileSize
// and uploads them. Output objects are written before the swap is published;
// a crash in between leaves orphans, never a version referencing a missing
// object.
func (c *compaction) writeOutputs(
	ctx context.Context, merged []sstable.Entry,
) (*compactionResult, error) {
	res := &compactionResult{}
	if len(merged) == 0 {
		// All input rows were reclaimable. The swap removes the inputs and
		// adds nothing.
		return res, nil
	}

	var chunks [][]sstable.Entry
	var cur []sstable.Entry
	var curSize uint64
	for _, e := range merged {
		cur = append(cur, e)
		curSize += uint64(len(e.Key) + len(e.Value) + 16)
		if curSize >= c.opts.TargetFileSize {
			chunks = append(chunks, cur)
			cur, curSize = nil, 0
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}

	firstID, err := c.vs.nextSstableIDs(ctx, uint64(len(chunks)))
	if err != nil {
		return nil, err
	}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := firstID + base.SstableID(i)
		data := sstable.Encode(chunk)
		if err := c.data.Put(ctx, id.String(), data); err != nil {
			return nil, errors.Wrapf(err, "cascade: writing compaction output %s", id)
		}
		smallest, largest, minEpoch, maxEpoch := sstable.Bounds(chunk)
		res.outputs = append(res.outputs, &manifest.SstableInfo{
			ID:       id,
			Smallest: smallest,
			Largest:  largest,
			Level:    c.pc.outputLevel,
			Size:     uint64(len(data)),
			TableIDs: chunkTableIDs(chunk),
			MinEpoch: minEpoch,
			MaxEpoch: maxEpoch,
		})
		res.bytesWritten += uint64(len(data))
	}
	return res, nil
}

// publish commits the input-for-output swap. On pointer conflict the delta
// is rebased onto the new current version: the swap is still valid as long
// as every input file remains at its level, which holds for any interleaved
// commit that did not touch these files (epoch advances, other groups,
// disjoint compactions).
func (c *compaction) publish(ctx context.Context, res *compactionResult) error {
	for {
		cur := c.vs.current()
		delta, err := c.buildDelta(cur, res)
		if err != nil {
			return err
		}
		_, err = c.vs.commit(ctx, delta)
		if err == nil {
			return nil
		}
		if !IsConflict(err) {
			return err
		}
		if err := c.vs.refresh(ctx); err != nil {
			return err
		}
	}
}

func (c *compaction) buildDelta(
	cur *manifest.Version, res *compactionResult,
) (*manifest.VersionDelta, error) {
	ls, ok := cur.Groups[c.pc.group]
	if !ok {
		return nil, errors.Mark(errors.Newf(
			"cascade: compaction group %d vanished", c.pc.group), ErrConflict)
	}
	gd := &manifest.GroupDelta{}
	for _, t := range c.pc.inputTables() {
		if !levelContains(ls, t) {
			// Another actor moved or removed an input since the pick. The
			// task result is stale and must be abandoned.
			return nil, errors.Mark(errors.Newf(
				"cascade: compaction input %s no longer at L%d", t.ID, t.Level),
				ErrConflict)
		}
		gd.Removed = append(gd.Removed, t.ID)
	}
	for _, t := range res.outputs {
		gd.Added = append(gd.Added, manifest.NewTableEntry{Level: c.pc.outputLevel, Table: t})
	}
	return &manifest.VersionDelta{
		BaseID:         cur.ID,
		CommittedEpoch: cur.CommittedEpoch,
		SafeEpoch:      cur.SafeEpoch,
		Groups:         map[base.GroupID]*manifest.GroupDelta{c.pc.group: gd},
	}, nil
}

func levelContains(ls *manifest.LevelState, t *manifest.SstableInfo) bool {
	for _, cand := range ls.Levels[t.Level] {
		if cand.ID == t.ID {
			return true
		}
	}
	return false
}

// chunkTableIDs lists the state tables owning rows in the chunk. Entries are
// key-sorted, so equal table ids are contiguous.
func chunkTableIDs(entries []sstable.Entry) []base.TableID {
	var out []base.TableID
	for _, e := range entries {
		id, _, ok := base.DecodeTableKey(e.Key)
		if !ok {
			continue
		}
		if n := len(out); n == 0 || out[n-1] != id {
			out = append(out, id)
		}
	}
	return out
}

// elapsedSince exists so tests can pin durations.
var elapsedSince = func(t time.Time) time.Duration { return time.Since(t) }
