// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"testing"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	entries := []Entry{
		{Key: []byte("a"), Epoch: 10, Value: []byte("v10")},
		{Key: []byte("a"), Epoch: 5, Value: []byte("v5")},
		{Key: []byte("b"), Epoch: 7, Tombstone: true},
		{Key: []byte("c"), Epoch: 3, Value: nil},
	}
	data := Encode(entries)
	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestDecodeCorrupt(t *testing.T) {
	data := Encode([]Entry{{Key: []byte("a"), Epoch: 1, Value: []byte("v")}})
	data[len(data)/2] ^= 0xff
	_, err := Decode(data)
	require.ErrorContains(t, err, "checksum")

	_, err = Decode(data[:10])
	require.ErrorContains(t, err, "truncated")
}

func TestMergeLastWriterWins(t *testing.T) {
	in1 := []Entry{
		{Key: []byte("a"), Epoch: 10, Value: []byte("a10")},
		{Key: []byte("b"), Epoch: 8, Value: []byte("b8")},
	}
	in2 := []Entry{
		{Key: []byte("a"), Epoch: 12, Value: []byte("a12")},
		// Duplicate (key, epoch) across inputs.
		{Key: []byte("b"), Epoch: 8, Value: []byte("b8")},
	}
	out := Merge([][]Entry{in1, in2}, 0)
	require.Equal(t, []Entry{
		{Key: []byte("a"), Epoch: 12, Value: []byte("a12")},
		{Key: []byte("a"), Epoch: 10, Value: []byte("a10")},
		{Key: []byte("b"), Epoch: 8, Value: []byte("b8")},
	}, out)
}

func TestMergePreservesVisibility(t *testing.T) {
	inputs := [][]Entry{
		{
			{Key: []byte("k"), Epoch: 100, Value: []byte("v100")},
			{Key: []byte("k"), Epoch: 95, Value: []byte("v95")},
		},
		{
			{Key: []byte("k"), Epoch: 90, Value: []byte("v90")},
			{Key: []byte("k"), Epoch: 80, Value: []byte("v80")},
		},
	}
	out := Merge(inputs, 90)

	// Reads at every epoch >= the retain floor see the same values as
	// before the merge.
	for _, tc := range []struct {
		at   base.Epoch
		want string
	}{
		{at: 100, want: "v100"},
		{at: 97, want: "v95"},
		{at: 95, want: "v95"},
		{at: 92, want: "v90"},
		{at: 90, want: "v90"},
	} {
		e, ok := Visible(out, []byte("k"), tc.at)
		require.True(t, ok, "epoch %d", tc.at)
		require.Equal(t, tc.want, string(e.Value), "epoch %d", tc.at)
	}

	// The epoch-80 entry is shadowed by the epoch-90 entry for every reader
	// at or above the floor, so it is reclaimed.
	_, ok := Visible(out, []byte("k"), 85)
	require.False(t, ok)
	require.Len(t, out, 3)
}

func TestBounds(t *testing.T) {
	entries := []Entry{
		{Key: []byte("m"), Epoch: 5},
		{Key: []byte("a"), Epoch: 9},
		{Key: []byte("z"), Epoch: 2},
	}
	smallest, largest, minEpoch, maxEpoch := Bounds(entries)
	require.Equal(t, []byte("a"), smallest)
	require.Equal(t, []byte("z"), largest)
	require.Equal(t, base.Epoch(2), minEpoch)
	require.Equal(t, base.Epoch(9), maxEpoch)
}
