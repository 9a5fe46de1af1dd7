// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package manifest

import (
	"testing"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func tbl(id base.SstableID, smallest, largest string, minEpoch, maxEpoch base.Epoch) *SstableInfo {
	return &SstableInfo{
		ID:       id,
		Smallest: []byte(smallest),
		Largest:  []byte(largest),
		Size:     100,
		MinEpoch: minEpoch,
		MaxEpoch: maxEpoch,
	}
}

func TestDeltaApply(t *testing.T) {
	v := NewVersion()
	d := &VersionDelta{
		BaseID:         v.ID,
		CommittedEpoch: 10,
		Groups: map[base.GroupID]*GroupDelta{
			base.DefaultGroupID: {
				Added: []NewTableEntry{
					{Level: 0, Table: tbl(1, "a", "m", 1, 10)},
					{Level: 0, Table: tbl(2, "n", "z", 1, 10)},
				},
			},
		},
	}
	require.NoError(t, d.Validate(v))
	nv := d.Apply(v)
	require.Equal(t, v.ID+1, nv.ID)
	require.Equal(t, base.Epoch(10), nv.CommittedEpoch)
	require.Len(t, nv.Groups[base.DefaultGroupID].Levels[0], 2)
	// The base version is untouched.
	require.Len(t, v.Groups[base.DefaultGroupID].Levels[0], 0)

	// Compaction-shaped delta: move both files to L1 outputs.
	d2 := &VersionDelta{
		BaseID:         nv.ID,
		CommittedEpoch: 10,
		Groups: map[base.GroupID]*GroupDelta{
			base.DefaultGroupID: {
				Added:   []NewTableEntry{{Level: 1, Table: tbl(3, "a", "z", 1, 10)}},
				Removed: []base.SstableID{1, 2},
			},
		},
	}
	require.NoError(t, d2.Validate(nv))
	nv2 := d2.Apply(nv)
	require.Len(t, nv2.Groups[base.DefaultGroupID].Levels[0], 0)
	require.Len(t, nv2.Groups[base.DefaultGroupID].Levels[1], 1)
	require.Equal(t, 1, nv2.Groups[base.DefaultGroupID].Levels[1][0].Level)

	_, ok := nv2.Lookup(3)
	require.True(t, ok)
	_, ok = nv2.Lookup(1)
	require.False(t, ok)
}

func TestDeltaValidate(t *testing.T) {
	v := NewVersion()
	v.CommittedEpoch = 100
	v.SafeEpoch = 90
	v.Groups[base.DefaultGroupID].Levels[0] = []*SstableInfo{tbl(7, "a", "z", 80, 100)}

	testCases := []struct {
		name  string
		delta *VersionDelta
	}{
		{
			name:  "committed epoch regresses",
			delta: &VersionDelta{BaseID: v.ID, CommittedEpoch: 99},
		},
		{
			name:  "safe epoch regresses",
			delta: &VersionDelta{BaseID: v.ID, CommittedEpoch: 100, SafeEpoch: 80},
		},
		{
			name:  "safe epoch beyond committed",
			delta: &VersionDelta{BaseID: v.ID, CommittedEpoch: 100, SafeEpoch: 110},
		},
		{
			name: "removed table not in base",
			delta: &VersionDelta{
				BaseID: v.ID, CommittedEpoch: 100,
				Groups: map[base.GroupID]*GroupDelta{
					base.DefaultGroupID: {Removed: []base.SstableID{42}},
				},
			},
		},
		{
			name: "added table already present",
			delta: &VersionDelta{
				BaseID: v.ID, CommittedEpoch: 100,
				Groups: map[base.GroupID]*GroupDelta{
					base.DefaultGroupID: {
						Added: []NewTableEntry{{Level: 0, Table: tbl(7, "a", "z", 80, 100)}},
					},
				},
			},
		},
		{
			name: "added table beyond committed epoch",
			delta: &VersionDelta{
				BaseID: v.ID, CommittedEpoch: 100,
				Groups: map[base.GroupID]*GroupDelta{
					base.DefaultGroupID: {
						Added: []NewTableEntry{{Level: 0, Table: tbl(8, "a", "z", 90, 120)}},
					},
				},
			},
		},
		{
			name: "invalid target level",
			delta: &VersionDelta{
				BaseID: v.ID, CommittedEpoch: 100,
				Groups: map[base.GroupID]*GroupDelta{
					base.DefaultGroupID: {
						Added: []NewTableEntry{{Level: NumLevels, Table: tbl(8, "a", "z", 90, 100)}},
					},
				},
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.delta.Validate(v)
			require.Error(t, err)
			require.True(t, errors.Is(err, base.ErrInvalid))
		})
	}
}

func TestVersionEncodeDecode(t *testing.T) {
	v := NewVersion()
	v.CommittedEpoch = 42
	v.SafeEpoch = 40
	v.Groups[base.DefaultGroupID].Levels[1] = []*SstableInfo{
		tbl(1, "a", "f", 1, 40), tbl(2, "g", "z", 1, 42),
	}
	v.Tables[17] = TableState{CommittedEpoch: 42, SafeEpoch: 40, Group: base.DefaultGroupID}

	data, err := v.Encode()
	require.NoError(t, err)
	got, err := DecodeVersion(data)
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestSstableOverlaps(t *testing.T) {
	s := tbl(1, "f", "m", 1, 10)
	require.True(t, s.Overlaps([]byte("a"), []byte("g")))
	require.True(t, s.Overlaps([]byte("g"), []byte("h")))
	require.True(t, s.Overlaps([]byte("m"), []byte("z")))
	require.False(t, s.Overlaps([]byte("n"), []byte("z")))
	require.False(t, s.Overlaps([]byte("a"), []byte("e")))
	// Unbounded sides.
	require.True(t, s.Overlaps(nil, []byte("g")))
	require.True(t, s.Overlaps([]byte("g"), nil))
}
