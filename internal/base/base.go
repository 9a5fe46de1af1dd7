// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package base holds the identifier and epoch types shared by every layer of
// the storage control core, along with the logging and error primitives they
// depend on. It must not import any other cascade package.
package base

import (
	"encoding/binary"
	"fmt"
)

// Epoch is a monotonically increasing logical timestamp marking a point of
// consistency. An epoch of zero is never assigned to committed data.
type Epoch uint64

// InvalidEpoch is the zero value of Epoch.
const InvalidEpoch Epoch = 0

// EpochMax is the largest representable epoch.
const EpochMax Epoch = ^Epoch(0)

// VersionID identifies a published version. Version ids are strictly
// increasing and totally order the version sequence.
type VersionID uint64

// FirstVersionID is the id assigned to the bootstrap version of a fresh
// store.
const FirstVersionID VersionID = 1

// SstableID is the globally unique id of an immutable data file. The id
// doubles as the object name in the object store.
type SstableID uint64

// String returns the object-store name for the sstable.
func (id SstableID) String() string {
	return fmt.Sprintf("%06d.sst", uint64(id))
}

// GroupID identifies a compaction group. Each group carries its own level
// structure and is scheduled independently.
type GroupID uint64

// DefaultGroupID is the compaction group tables are placed in unless they
// have been explicitly split out.
const DefaultGroupID GroupID = 2

// TableID identifies a state table or materialized view whose rows are
// stored in the LSM.
type TableID uint32

// TableKeyLen is the length of the table-id prefix every user key carries.
const TableKeyLen = 4

// MakeTableKey prefixes key with the big-endian table id. Rows of a table
// form one contiguous key range, which is what lets compaction attribute
// and reclaim them per table.
func MakeTableKey(table TableID, key []byte) []byte {
	out := make([]byte, TableKeyLen+len(key))
	binary.BigEndian.PutUint32(out, uint32(table))
	copy(out[TableKeyLen:], key)
	return out
}

// DecodeTableKey splits a prefixed key into its table id and suffix. The
// boolean is false for keys shorter than the prefix.
func DecodeTableKey(key []byte) (TableID, []byte, bool) {
	if len(key) < TableKeyLen {
		return 0, nil, false
	}
	return TableID(binary.BigEndian.Uint32(key)), key[TableKeyLen:], true
}

// TaskID identifies a compaction task.
type TaskID uint64

// BackupID identifies a backup manifest.
type BackupID string
