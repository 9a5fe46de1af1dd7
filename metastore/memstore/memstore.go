// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package memstore is an in-memory metastore backend with the same
// transactional semantics as the durable backends. It backs unit tests and
// single-process experiments.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cockroachdb/errors"
)

// Store implements metastore.Store on a mutex-guarded map.
type Store struct {
	mu       sync.RWMutex
	records  map[string]metastore.KeyValue
	revision int64
}

var _ metastore.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]metastore.KeyValue)}
}

// Get implements metastore.Store.
func (s *Store) Get(_ context.Context, key string) (metastore.KeyValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kv, ok := s.records[key]
	if !ok {
		return metastore.KeyValue{}, errors.Mark(
			errors.Newf("memstore: key %q", key), base.ErrNotFound)
	}
	return kv, nil
}

// Scan implements metastore.Store.
func (s *Store) Scan(_ context.Context, prefix string) ([]metastore.KeyValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var kvs []metastore.KeyValue
	for k, kv := range s.records {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, kv)
		}
	}
	slices.SortFunc(kvs, func(a, b metastore.KeyValue) int {
		return strings.Compare(a.Key, b.Key)
	})
	return kvs, nil
}

// Commit implements metastore.Store.
func (s *Store) Commit(_ context.Context, txn metastore.Txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range txn.Compares {
		kv, ok := s.records[c.Key]
		rev := int64(0)
		if ok {
			rev = kv.Revision
		}
		if rev != c.Revision {
			return errors.Mark(errors.Newf(
				"memstore: compare failed on %q: revision %d != %d", c.Key, rev, c.Revision),
				base.ErrConflict)
		}
	}
	for _, p := range txn.Puts {
		s.revision++
		s.records[p.Key] = metastore.KeyValue{
			Key:      p.Key,
			Value:    slices.Clone(p.Value),
			Revision: s.revision,
		}
	}
	for _, k := range txn.Deletes {
		delete(s.records, k)
	}
	return nil
}

// Close implements metastore.Store.
func (s *Store) Close() error { return nil }

// Len returns the number of stored records. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
