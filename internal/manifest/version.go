// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package manifest defines the immutable Version, the VersionDelta applied
// to produce a successor version, and the SstableInfo records shared between
// them. A Version is a point-in-time manifest of which data files constitute
// the database state; it is never mutated after publication.
package manifest

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// NumLevels is the number of levels in a compaction group's level structure.
// Level 0 holds freshly committed, possibly overlapping files; deeper levels
// are sorted and non-overlapping.
const NumLevels = 7

// TableState carries the per-state-table epochs tracked inside a version.
type TableState struct {
	CommittedEpoch base.Epoch   `json:"committed_epoch"`
	SafeEpoch      base.Epoch   `json:"safe_epoch"`
	Group          base.GroupID `json:"compaction_group_id"`
}

// LevelState is the level structure of one compaction group.
type LevelState struct {
	// Levels[0] may contain overlapping files ordered by commit time.
	// Levels[1..] are sorted by Smallest and non-overlapping.
	Levels [NumLevels][]*SstableInfo `json:"levels"`
}

// NumFiles returns the total file count across all levels.
func (ls *LevelState) NumFiles() int {
	var n int
	for i := range ls.Levels {
		n += len(ls.Levels[i])
	}
	return n
}

// Size returns the total byte size across all levels.
func (ls *LevelState) Size() uint64 {
	var size uint64
	for i := range ls.Levels {
		size += totalSize(ls.Levels[i])
	}
	return size
}

func (ls *LevelState) clone() *LevelState {
	c := &LevelState{}
	for i := range ls.Levels {
		c.Levels[i] = slices.Clone(ls.Levels[i])
	}
	return c
}

// Version is an immutable manifest of the database state at a point in time.
// Versions form a total order by ID with non-decreasing CommittedEpoch.
type Version struct {
	ID base.VersionID `json:"id"`
	// CommittedEpoch is the newest fully durable point of consistency.
	CommittedEpoch base.Epoch `json:"committed_epoch"`
	// SafeEpoch is the oldest point still guaranteed readable.
	// SafeEpoch <= CommittedEpoch always holds.
	SafeEpoch base.Epoch                   `json:"safe_epoch"`
	Groups    map[base.GroupID]*LevelState `json:"groups"`
	Tables    map[base.TableID]TableState  `json:"tables"`
}

// NewVersion returns the bootstrap version of a fresh store.
func NewVersion() *Version {
	return &Version{
		ID: base.FirstVersionID,
		Groups: map[base.GroupID]*LevelState{
			base.DefaultGroupID: {},
		},
		Tables: map[base.TableID]TableState{},
	}
}

// Referenced returns the set of sstable ids reachable from the version's
// level structures.
func (v *Version) Referenced() map[base.SstableID]struct{} {
	m := make(map[base.SstableID]struct{})
	v.AddReferenced(m)
	return m
}

// AddReferenced adds the version's reachable sstable ids to m.
func (v *Version) AddReferenced(m map[base.SstableID]struct{}) {
	for _, ls := range v.Groups {
		for i := range ls.Levels {
			for _, t := range ls.Levels[i] {
				m[t.ID] = struct{}{}
			}
		}
	}
}

// Lookup returns the SstableInfo for id if it is referenced by the version.
func (v *Version) Lookup(id base.SstableID) (*SstableInfo, bool) {
	for _, ls := range v.Groups {
		for i := range ls.Levels {
			for _, t := range ls.Levels[i] {
				if t.ID == id {
					return t, true
				}
			}
		}
	}
	return nil, false
}

// GroupIDs returns the group ids in ascending order.
func (v *Version) GroupIDs() []base.GroupID {
	ids := make([]base.GroupID, 0, len(v.Groups))
	for id := range v.Groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Encode serializes the version for metastore persistence.
func (v *Version) Encode() ([]byte, error) {
	return json.Marshal(v)
}

// DecodeVersion deserializes a version previously produced by Encode.
func DecodeVersion(data []byte) (*Version, error) {
	v := &Version{}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, errors.Wrap(err, "manifest: decoding version")
	}
	if v.Groups == nil {
		v.Groups = map[base.GroupID]*LevelState{}
	}
	if v.Tables == nil {
		v.Tables = map[base.TableID]TableState{}
	}
	return v, nil
}

// SafeFormat implements redact.SafeFormatter.
func (v *Version) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("version %d (committed=%d safe=%d groups=%d)",
		redact.SafeUint(uint64(v.ID)), redact.SafeUint(uint64(v.CommittedEpoch)),
		redact.SafeUint(uint64(v.SafeEpoch)), redact.SafeInt(len(v.Groups)))
}

func (v *Version) String() string {
	return redact.StringWithoutMarkers(v)
}

// sortLevel restores the Smallest ordering invariant of a non-zero level.
func sortLevel(tables []*SstableInfo) {
	slices.SortFunc(tables, func(a, b *SstableInfo) int {
		if c := bytes.Compare(a.Smallest, b.Smallest); c != 0 {
			return c
		}
		return bytes.Compare(a.Largest, b.Largest)
	})
}
