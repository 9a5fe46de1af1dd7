// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package manifest

import (
	"encoding/json"
	"slices"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/errors"
)

// NewTableEntry holds a table being added to a level by a delta.
type NewTableEntry struct {
	Level int          `json:"level"`
	Table *SstableInfo `json:"table"`
}

// GroupDelta is the per-compaction-group portion of a VersionDelta.
type GroupDelta struct {
	Added   []NewTableEntry  `json:"added,omitempty"`
	Removed []base.SstableID `json:"removed,omitempty"`
}

// TableStateDelta updates one state table's epochs within a delta.
type TableStateDelta struct {
	CommittedEpoch base.Epoch   `json:"committed_epoch"`
	SafeEpoch      base.Epoch   `json:"safe_epoch"`
	Group          base.GroupID `json:"compaction_group_id"`
}

// VersionDelta describes the transition from a base version to its
// successor: files added and removed per group, epoch advances, and state
// table changes. A delta is applied atomically by the version set; it either
// produces the successor in full or is rejected.
type VersionDelta struct {
	// BaseID names the version the delta was computed against. Commit fails
	// with ErrConflict if it is no longer current.
	BaseID         base.VersionID `json:"base_id"`
	CommittedEpoch base.Epoch     `json:"committed_epoch"`
	SafeEpoch      base.Epoch     `json:"safe_epoch"`

	Groups        map[base.GroupID]*GroupDelta     `json:"groups,omitempty"`
	Tables        map[base.TableID]TableStateDelta `json:"tables,omitempty"`
	RemovedTables []base.TableID                   `json:"removed_tables,omitempty"`
}

// AddedTables returns every SstableInfo introduced by the delta.
func (d *VersionDelta) AddedTables() []*SstableInfo {
	var tables []*SstableInfo
	for _, gd := range d.Groups {
		for _, e := range gd.Added {
			tables = append(tables, e.Table)
		}
	}
	return tables
}

// Encode serializes the delta.
func (d *VersionDelta) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeVersionDelta deserializes a delta produced by Encode.
func DecodeVersionDelta(data []byte) (*VersionDelta, error) {
	d := &VersionDelta{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, errors.Wrap(err, "manifest: decoding delta")
	}
	return d, nil
}

// Validate checks the delta against the version it would be applied to.
// Violations are marked ErrInvalid: epoch regressions, removed ids absent
// from the base, duplicate or malformed additions.
func (d *VersionDelta) Validate(v *Version) error {
	if d.CommittedEpoch < v.CommittedEpoch {
		return errors.Mark(errors.Newf(
			"committed epoch regresses: %d < %d", d.CommittedEpoch, v.CommittedEpoch),
			base.ErrInvalid)
	}
	safe := d.SafeEpoch
	if safe == base.InvalidEpoch {
		safe = v.SafeEpoch
	}
	if safe < v.SafeEpoch {
		return errors.Mark(errors.Newf(
			"safe epoch regresses: %d < %d", safe, v.SafeEpoch), base.ErrInvalid)
	}
	if safe > d.CommittedEpoch {
		return errors.Mark(errors.Newf(
			"safe epoch %d exceeds committed epoch %d", safe, d.CommittedEpoch),
			base.ErrInvalid)
	}
	seen := make(map[base.SstableID]struct{})
	for gid, gd := range d.Groups {
		ls := v.Groups[gid]
		for _, id := range gd.Removed {
			if ls == nil {
				return errors.Mark(errors.Newf(
					"removal from unknown group %d", gid), base.ErrInvalid)
			}
			if !levelStateContains(ls, id) {
				return errors.Mark(errors.Newf(
					"removed table %s not present in base version %d", id, v.ID),
					base.ErrInvalid)
			}
		}
		for _, e := range gd.Added {
			if e.Table == nil {
				return errors.Mark(errors.Newf("added entry with nil table"), base.ErrInvalid)
			}
			if e.Level < 0 || e.Level >= NumLevels {
				return errors.Mark(errors.Newf(
					"added table %s targets invalid level %d", e.Table.ID, e.Level),
					base.ErrInvalid)
			}
			if _, ok := seen[e.Table.ID]; ok {
				return errors.Mark(errors.Newf(
					"table %s added twice", e.Table.ID), base.ErrInvalid)
			}
			seen[e.Table.ID] = struct{}{}
			if ls != nil && levelStateContains(ls, e.Table.ID) {
				return errors.Mark(errors.Newf(
					"added table %s already present in base version %d", e.Table.ID, v.ID),
					base.ErrInvalid)
			}
			if e.Table.MaxEpoch > d.CommittedEpoch {
				return errors.Mark(errors.Newf(
					"added table %s has max epoch %d beyond committed epoch %d",
					e.Table.ID, e.Table.MaxEpoch, d.CommittedEpoch), base.ErrInvalid)
			}
		}
	}
	for tid, ts := range d.Tables {
		prev, ok := v.Tables[tid]
		if !ok {
			continue
		}
		if ts.CommittedEpoch < prev.CommittedEpoch || ts.SafeEpoch < prev.SafeEpoch {
			return errors.Mark(errors.Newf(
				"state table %d epochs regress", tid), base.ErrInvalid)
		}
	}
	return nil
}

// Apply produces the successor version. The delta must have been validated
// against v; Apply does not re-check. v is not modified.
func (d *VersionDelta) Apply(v *Version) *Version {
	nv := &Version{
		ID:             v.ID + 1,
		CommittedEpoch: d.CommittedEpoch,
		SafeEpoch:      v.SafeEpoch,
		Groups:         make(map[base.GroupID]*LevelState, len(v.Groups)),
		Tables:         make(map[base.TableID]TableState, len(v.Tables)),
	}
	if d.SafeEpoch != base.InvalidEpoch {
		nv.SafeEpoch = d.SafeEpoch
	}
	for gid, ls := range v.Groups {
		nv.Groups[gid] = ls.clone()
	}
	for tid, ts := range v.Tables {
		nv.Tables[tid] = ts
	}

	for gid, gd := range d.Groups {
		ls := nv.Groups[gid]
		if ls == nil {
			ls = &LevelState{}
			nv.Groups[gid] = ls
		}
		if len(gd.Removed) > 0 {
			removed := make(map[base.SstableID]struct{}, len(gd.Removed))
			for _, id := range gd.Removed {
				removed[id] = struct{}{}
			}
			for i := range ls.Levels {
				ls.Levels[i] = slices.DeleteFunc(ls.Levels[i], func(t *SstableInfo) bool {
					_, ok := removed[t.ID]
					return ok
				})
			}
		}
		for _, e := range gd.Added {
			t := e.Table.clone()
			t.Level = e.Level
			ls.Levels[e.Level] = append(ls.Levels[e.Level], t)
		}
		for i := 1; i < NumLevels; i++ {
			sortLevel(ls.Levels[i])
		}
	}

	for _, tid := range d.RemovedTables {
		delete(nv.Tables, tid)
	}
	for tid, ts := range d.Tables {
		nv.Tables[tid] = TableState{
			CommittedEpoch: ts.CommittedEpoch,
			SafeEpoch:      ts.SafeEpoch,
			Group:          ts.Group,
		}
	}
	return nv
}

func levelStateContains(ls *LevelState, id base.SstableID) bool {
	for i := range ls.Levels {
		for _, t := range ls.Levels[i] {
			if t.ID == id {
				return true
			}
		}
	}
	return false
}
