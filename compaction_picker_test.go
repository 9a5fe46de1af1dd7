// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"testing"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func testPickerVersion(l0Files int, l1Bytes uint64) *manifest.Version {
	v := manifest.NewVersion()
	ls := v.Groups[base.DefaultGroupID]
	var id base.SstableID = 1
	for i := 0; i < l0Files; i++ {
		ls.Levels[0] = append(ls.Levels[0], &manifest.SstableInfo{
			ID:       id,
			Smallest: []byte{byte('a' + i)},
			Largest:  []byte{byte('a' + i), 0xff},
			Size:     1 << 20,
			MinEpoch: base.Epoch(10 * (i + 1)),
			MaxEpoch: base.Epoch(10*(i+1) + 5),
		})
		id++
	}
	if l1Bytes > 0 {
		ls.Levels[1] = append(ls.Levels[1], &manifest.SstableInfo{
			ID:       id,
			Smallest: []byte("a"),
			Largest:  []byte("z"),
			Level:    1,
			Size:     l1Bytes,
			MinEpoch: 1,
			MaxEpoch: 5,
		})
	}
	return v
}

func TestPickerL0Threshold(t *testing.T) {
	opts := (&Options{}).EnsureDefaults()
	p := &compactionPicker{opts: opts}

	// Below the threshold nothing is picked.
	v := testPickerVersion(opts.L0CompactionThreshold-1, 0)
	require.Nil(t, p.pickAuto(v, nil))

	v = testPickerVersion(opts.L0CompactionThreshold, 1<<20)
	pc := p.pickAuto(v, nil)
	require.NotNil(t, pc)
	require.Equal(t, 0, pc.startLevel)
	require.Equal(t, 1, pc.outputLevel)
	// Every L0 file joins, plus the overlapping L1 file.
	require.Len(t, pc.inputs[0], opts.L0CompactionThreshold)
	require.Len(t, pc.inputs[1], 1)
	require.GreaterOrEqual(t, pc.score, 1.0)
}

func TestPickerSkipsBusyInputs(t *testing.T) {
	opts := (&Options{}).EnsureDefaults()
	p := &compactionPicker{opts: opts}
	v := testPickerVersion(opts.L0CompactionThreshold, 0)

	busy := map[base.SstableID]struct{}{1: {}}
	require.Nil(t, p.pickAuto(v, busy))
}

func TestPickerLevelSizeScore(t *testing.T) {
	opts := (&Options{}).EnsureDefaults()
	p := &compactionPicker{opts: opts}

	v := testPickerVersion(0, opts.LBaseMaxBytes*2)
	scores := p.scores(v)
	require.Len(t, scores, 1)
	require.Equal(t, 1, scores[0].level)
	require.InDelta(t, 2.0, scores[0].score, 0.01)

	pc := p.pickAuto(v, nil)
	require.NotNil(t, pc)
	require.Equal(t, 1, pc.startLevel)
	require.Equal(t, 2, pc.outputLevel)
}

func TestPickerSeedPrefersWidestEpochSpread(t *testing.T) {
	p := &compactionPicker{opts: (&Options{}).EnsureDefaults()}
	tables := []*manifest.SstableInfo{
		{ID: 1, MinEpoch: 10, MaxEpoch: 20, Size: 100},
		{ID: 2, MinEpoch: 5, MaxEpoch: 90, Size: 100},
		{ID: 3, MinEpoch: 5, MaxEpoch: 90, Size: 50},
	}
	seed := p.pickSeed(tables, nil, nil)
	require.EqualValues(t, 3, seed.ID)
}

func TestPickerSeedTieBreaksOnFewestFiles(t *testing.T) {
	p := &compactionPicker{opts: (&Options{}).EnsureDefaults()}
	// Equal spread; seed 1 drags in three output files, seed 2 only one.
	// The smaller size of seed 1 must not outweigh the file count.
	tables := []*manifest.SstableInfo{
		{ID: 1, Smallest: []byte("a"), Largest: []byte("m"),
			MinEpoch: 5, MaxEpoch: 90, Size: 50},
		{ID: 2, Smallest: []byte("n"), Largest: []byte("p"),
			MinEpoch: 5, MaxEpoch: 90, Size: 100},
	}
	output := []*manifest.SstableInfo{
		{ID: 10, Smallest: []byte("a"), Largest: []byte("d")},
		{ID: 11, Smallest: []byte("e"), Largest: []byte("h")},
		{ID: 12, Smallest: []byte("i"), Largest: []byte("m")},
		{ID: 13, Smallest: []byte("n"), Largest: []byte("z")},
	}
	seed := p.pickSeed(tables, output, nil)
	require.EqualValues(t, 2, seed.ID)
}

func TestPickManualValidation(t *testing.T) {
	p := &compactionPicker{opts: (&Options{}).EnsureDefaults()}
	v := testPickerVersion(2, 0)

	_, err := p.pickManual(v, base.GroupID(99), 0, nil)
	require.True(t, errors.Is(err, ErrInvalid))

	_, err = p.pickManual(v, base.DefaultGroupID, 1, nil)
	require.True(t, errors.Is(err, ErrInvalid))

	_, err = p.pickManual(v, base.DefaultGroupID, manifest.NumLevels-1, nil)
	require.True(t, errors.Is(err, ErrInvalid))

	pc, err := p.pickManual(v, base.DefaultGroupID, 0, nil)
	require.NoError(t, err)
	require.Len(t, pc.inputs[0], 2)
}

func TestPickReclaimTargetsDroppedTables(t *testing.T) {
	p := &compactionPicker{opts: (&Options{}).EnsureDefaults()}
	v := testPickerVersion(1, 0)
	ls := v.Groups[base.DefaultGroupID]
	ls.Levels[0][0].TableIDs = []base.TableID{7}
	// Table 7 is not registered, so its file is a reclaim candidate.
	pc := p.pickReclaim(v, nil)
	require.NotNil(t, pc)
	require.True(t, pc.reclaimOnly)
	require.EqualValues(t, 1, pc.inputs[0][0].ID)

	v.Tables[7] = manifest.TableState{CommittedEpoch: 15, Group: base.DefaultGroupID}
	require.Nil(t, p.pickReclaim(v, nil))
}
