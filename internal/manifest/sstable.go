// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package manifest

import (
	"bytes"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/redact"
)

// SstableInfo describes an immutable data file referenced by version level
// structures. The file itself lives in the object store under
// SstableID.String(). An SstableInfo is shared by reference across versions,
// pins and backups; the record in the metastore arena outlives any single
// version and is removed only by the garbage collector.
type SstableInfo struct {
	ID       base.SstableID `json:"id"`
	Smallest []byte         `json:"smallest"`
	Largest  []byte         `json:"largest"`
	// Level is the level the table currently resides at within its group.
	Level int `json:"level"`
	// Size is the byte size of the encoded file.
	Size uint64 `json:"size"`
	// TableIDs lists the state tables owning rows in this file.
	TableIDs []base.TableID `json:"table_ids"`
	MinEpoch base.Epoch     `json:"min_epoch"`
	MaxEpoch base.Epoch     `json:"max_epoch"`
}

// Overlaps reports whether the table's key range overlaps [smallest,
// largest], both bounds inclusive.
func (s *SstableInfo) Overlaps(smallest, largest []byte) bool {
	if len(largest) > 0 && bytes.Compare(s.Smallest, largest) > 0 {
		return false
	}
	if len(smallest) > 0 && bytes.Compare(s.Largest, smallest) < 0 {
		return false
	}
	return true
}

// OverlapsTable reports whether the key ranges of s and o overlap.
func (s *SstableInfo) OverlapsTable(o *SstableInfo) bool {
	return s.Overlaps(o.Smallest, o.Largest)
}

// SafeFormat implements redact.SafeFormatter.
func (s *SstableInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d:[L%d size=%d epochs=%d-%d]",
		redact.SafeUint(uint64(s.ID)), redact.SafeInt(s.Level),
		redact.SafeUint(s.Size), redact.SafeUint(uint64(s.MinEpoch)),
		redact.SafeUint(uint64(s.MaxEpoch)))
}

func (s *SstableInfo) String() string {
	return redact.StringWithoutMarkers(s)
}

// clone returns a shallow copy. Key bounds and table id slices are immutable
// once published and may be shared.
func (s *SstableInfo) clone() *SstableInfo {
	c := *s
	return &c
}

// totalSize sums the byte sizes of the given tables.
func totalSize(tables []*SstableInfo) uint64 {
	var size uint64
	for _, t := range tables {
		size += t.Size
	}
	return size
}

// TotalSize sums the byte sizes of the given tables.
func TotalSize(tables []*SstableInfo) uint64 {
	return totalSize(tables)
}
