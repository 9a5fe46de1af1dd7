// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package metastore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/errors"
)

// Key layout of the control core. Version records are zero-padded so that
// prefix scans return them in id order.
const (
	CurrentVersionKey = "meta/current"
	NextSstableIDKey  = "meta/next-sst-id"
	RestoreMarkerKey  = "meta/restore-incomplete"

	VersionPrefix = "version/"
	SstablePrefix = "sst/"
	PinPrefix     = "pin/"
	BackupPrefix  = "backup/"
)

// VersionKey returns the record key for a version id.
func VersionKey(id base.VersionID) string {
	return fmt.Sprintf("%s%020d", VersionPrefix, uint64(id))
}

// ParseVersionKey extracts the version id from a version record key.
func ParseVersionKey(key string) (base.VersionID, error) {
	s, ok := strings.CutPrefix(key, VersionPrefix)
	if !ok {
		return 0, errors.Newf("metastore: %q is not a version key", key)
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "metastore: malformed version key %q", key)
	}
	return base.VersionID(id), nil
}

// SstableKey returns the arena record key for an sstable id.
func SstableKey(id base.SstableID) string {
	return fmt.Sprintf("%s%020d", SstablePrefix, uint64(id))
}

// PinKey returns the record key for a pin holder.
func PinKey(holder string) string {
	return PinPrefix + holder
}

// BackupKey returns the record key for a backup id.
func BackupKey(id base.BackupID) string {
	return BackupPrefix + string(id)
}
