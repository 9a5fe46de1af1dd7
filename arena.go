// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"context"
	"encoding/json"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/internal/manifest"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cockroachdb/errors"
)

// The sstable arena is the authoritative index of every data file the store
// has ever committed and not yet reclaimed: one metastore record per
// SstableInfo, keyed by id. Versions, pins and backups all share these
// records by reference; the garbage collector computes reachability over
// the arena instead of maintaining per-object counters, which keeps
// reclamation auditable and idempotent.

func encodeSstableInfo(t *manifest.SstableInfo) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrapf(err, "cascade: encoding sstable %s", t.ID)
	}
	return data, nil
}

func decodeSstableInfo(data []byte) (*manifest.SstableInfo, error) {
	t := &manifest.SstableInfo{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "cascade: decoding sstable record")
	}
	return t, nil
}

// scanArena returns every tracked SstableInfo record indexed by id.
func scanArena(
	ctx context.Context, store metastore.Store,
) (map[base.SstableID]*manifest.SstableInfo, error) {
	kvs, err := store.Scan(ctx, metastore.SstablePrefix)
	if err != nil {
		return nil, err
	}
	arena := make(map[base.SstableID]*manifest.SstableInfo, len(kvs))
	for _, kv := range kvs {
		t, err := decodeSstableInfo(kv.Value)
		if err != nil {
			return nil, err
		}
		arena[t.ID] = t
	}
	return arena, nil
}
