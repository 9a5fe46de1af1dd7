// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package metastore defines the transactional, linearizable key-value
// interface the control core persists its manifests and control metadata
// through. Two interchangeable backends implement it: a consensus-replicated
// store (etcdstore) and a relational store (sqlstore), plus an in-memory
// store for tests (memstore). All core components exercise the backends
// identically; optimistic concurrency is expressed as revision compares
// inside a single atomic Txn.
package metastore

import (
	"context"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/errors"
)

// KeyValue is a single versioned record. Revision increases on every write
// of the key and is what Txn compares are made against.
type KeyValue struct {
	Key      string
	Value    []byte
	Revision int64
}

// Compare asserts the current revision of a key inside a Txn. A Revision of
// zero asserts the key does not exist.
type Compare struct {
	Key      string
	Revision int64
}

// Put writes a key inside a Txn.
type Put struct {
	Key   string
	Value []byte
}

// Txn is an atomic read-validate-write unit: if every Compare holds, all
// Puts and Deletes are applied; otherwise nothing is applied and Commit
// returns ErrConflict.
type Txn struct {
	Compares []Compare
	Puts     []Put
	Deletes  []string
}

// Store is the metadata persistence contract. Implementations must be safe
// for concurrent use. Transient backend failures are retried internally with
// bounded backoff and surface as ErrTransientIO only once retries are
// exhausted.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (KeyValue, error)
	// Scan returns all records whose key has the given prefix, in ascending
	// key order.
	Scan(ctx context.Context, prefix string) ([]KeyValue, error)
	// Commit atomically applies txn, or fails with ErrConflict if any
	// compare does not hold.
	Commit(ctx context.Context, txn Txn) error
	Close() error
}

// PutBlind writes key without any revision compare.
func PutBlind(ctx context.Context, s Store, key string, value []byte) error {
	return s.Commit(ctx, Txn{Puts: []Put{{Key: key, Value: value}}})
}

// DeleteBlind removes key without any revision compare. Deleting an absent
// key is not an error.
func DeleteBlind(ctx context.Context, s Store, key string) error {
	return s.Commit(ctx, Txn{Deletes: []string{key}})
}

// IsNotFound reports whether err is the store's missing-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, base.ErrNotFound)
}
