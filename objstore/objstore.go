// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package objstore defines the content-addressed blob interface immutable
// data files are stored through, with an S3-compatible backend (s3store) and
// a local-filesystem backend (filestore). Objects are written once and never
// mutated; deletion is exclusively the garbage collector's job.
package objstore

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Name         string
	Size         uint64
	LastModified time.Time
}

// Store is the blob storage contract. Implementations retry transient
// backend failures internally with bounded backoff; exhausted retries
// surface marked ErrTransientIO.
type Store interface {
	// Put writes an object in full. Overwriting an existing name with
	// identical content is permitted (uploads are idempotent).
	Put(ctx context.Context, name string, data []byte) error
	// Get reads an object in full, or fails with ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Stat returns object metadata, or fails with ErrNotFound.
	Stat(ctx context.Context, name string) (ObjectInfo, error)
	// Delete removes an object. Deleting an absent object is not an error.
	Delete(ctx context.Context, name string) error
	// List returns every object under prefix in ascending name order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Close() error
}

// URL describes an object store location as scheme://bucket/prefix.
type URL struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseURL splits an object storage URL of the form s3://bucket/prefix or
// file:///abs/path.
func ParseURL(raw string) (URL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return URL{}, errors.Newf("objstore: malformed storage URL %q", raw)
	}
	var u URL
	u.Scheme = scheme
	switch scheme {
	case "file":
		u.Prefix = rest
	default:
		u.Bucket, u.Prefix, _ = strings.Cut(rest, "/")
		if u.Bucket == "" {
			return URL{}, errors.Newf("objstore: storage URL %q has no bucket", raw)
		}
	}
	return u, nil
}
