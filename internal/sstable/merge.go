// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package sstable

import (
	"bytes"
	"slices"

	"github.com/cascadedb/cascade/internal/base"
)

// Merge combines the entries of several input files into one sorted run.
// Within a key, the highest epoch wins: entries that carry the same (key,
// epoch) across inputs are deduplicated, and entries made unobservable by
// retainFloor are dropped. An entry is unobservable if a newer entry for the
// same key exists at or below retainFloor: no reader at any epoch >=
// retainFloor can see past that newer entry. Entries above retainFloor are
// always kept, so a read at any protected epoch returns the same value
// before and after the merge.
func Merge(inputs [][]Entry, retainFloor base.Epoch) []Entry {
	var n int
	for _, in := range inputs {
		n += len(in)
	}
	all := make([]Entry, 0, n)
	for _, in := range inputs {
		all = append(all, in...)
	}
	slices.SortFunc(all, Compare)

	out := all[:0]
	for i := 0; i < len(all); i++ {
		e := all[i]
		if len(out) > 0 {
			prev := out[len(out)-1]
			if bytes.Equal(prev.Key, e.Key) {
				// Same (key, epoch) in two inputs: one copy suffices.
				if prev.Epoch == e.Epoch {
					continue
				}
				// prev is newer (epoch-descending order). If prev is already at
				// or below the floor, no protected reader can see e.
				if prev.Epoch <= retainFloor {
					continue
				}
			}
		}
		out = append(out, e)
	}
	return slices.Clip(out)
}

// Visible returns the newest entry for key visible at the given epoch, i.e.
// the entry with the largest epoch <= at. The boolean is false if the key
// has no visible entry (absent or only newer).
func Visible(entries []Entry, key []byte, at base.Epoch) (Entry, bool) {
	for _, e := range entries {
		if bytes.Equal(e.Key, key) && e.Epoch <= at {
			return e, true
		}
	}
	return Entry{}, false
}

// Bounds returns the smallest key, largest key, minimum epoch and maximum
// epoch across the entries. Entries must be non-empty.
func Bounds(entries []Entry) (smallest, largest []byte, minEpoch, maxEpoch base.Epoch) {
	smallest = entries[0].Key
	largest = entries[0].Key
	minEpoch = entries[0].Epoch
	maxEpoch = entries[0].Epoch
	for _, e := range entries[1:] {
		if bytes.Compare(e.Key, smallest) < 0 {
			smallest = e.Key
		}
		if bytes.Compare(e.Key, largest) > 0 {
			largest = e.Key
		}
		if e.Epoch < minEpoch {
			minEpoch = e.Epoch
		}
		if e.Epoch > maxEpoch {
			maxEpoch = e.Epoch
		}
	}
	return smallest, largest, minEpoch, maxEpoch
}
