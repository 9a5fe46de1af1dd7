// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package etcdstore implements the metastore contract on a
// consensus-replicated etcd cluster. Revision compares map directly onto
// etcd's ModRevision/CreateRevision transaction primitives, so Commit is a
// single linearizable etcd transaction.
package etcdstore

import (
	"context"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 10 * time.Second
	maxRetries     = 4
)

// Store implements metastore.Store on etcd.
type Store struct {
	cli *clientv3.Client
}

var _ metastore.Store = (*Store)(nil)

// Open dials the etcd cluster at the given endpoints.
func Open(endpoints []string) (*Store, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "etcdstore: dialing")
	}
	return &Store{cli: cli}, nil
}

// retry runs op with bounded exponential backoff. Conflict and not-found are
// permanent; anything else from etcd is treated as transient until retries
// are exhausted, at which point it surfaces marked ErrTransientIO.
func retry(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	err := backoff.Retry(func() error {
		opCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		err := op(opCtx)
		if err == nil ||
			errors.Is(err, base.ErrConflict) || errors.Is(err, base.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil &&
		!errors.Is(err, base.ErrConflict) && !errors.Is(err, base.ErrNotFound) {
		return base.MarkTransient(err)
	}
	return err
}

// Get implements metastore.Store.
func (s *Store) Get(ctx context.Context, key string) (metastore.KeyValue, error) {
	var kv metastore.KeyValue
	err := retry(ctx, func(ctx context.Context) error {
		resp, err := s.cli.Get(ctx, key)
		if err != nil {
			return err
		}
		if len(resp.Kvs) == 0 {
			return errors.Mark(errors.Newf("etcdstore: key %q", key), base.ErrNotFound)
		}
		kv = metastore.KeyValue{
			Key:      string(resp.Kvs[0].Key),
			Value:    resp.Kvs[0].Value,
			Revision: resp.Kvs[0].ModRevision,
		}
		return nil
	})
	return kv, err
}

// Scan implements metastore.Store.
func (s *Store) Scan(ctx context.Context, prefix string) ([]metastore.KeyValue, error) {
	var kvs []metastore.KeyValue
	err := retry(ctx, func(ctx context.Context) error {
		resp, err := s.cli.Get(ctx, prefix, clientv3.WithPrefix(),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
		if err != nil {
			return err
		}
		kvs = make([]metastore.KeyValue, 0, len(resp.Kvs))
		for _, kv := range resp.Kvs {
			kvs = append(kvs, metastore.KeyValue{
				Key:      string(kv.Key),
				Value:    kv.Value,
				Revision: kv.ModRevision,
			})
		}
		return nil
	})
	return kvs, err
}

// Commit implements metastore.Store.
func (s *Store) Commit(ctx context.Context, txn metastore.Txn) error {
	cmps := make([]clientv3.Cmp, 0, len(txn.Compares))
	for _, c := range txn.Compares {
		if c.Revision == 0 {
			cmps = append(cmps, clientv3.Compare(clientv3.CreateRevision(c.Key), "=", 0))
		} else {
			cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(c.Key), "=", c.Revision))
		}
	}
	ops := make([]clientv3.Op, 0, len(txn.Puts)+len(txn.Deletes))
	for _, p := range txn.Puts {
		ops = append(ops, clientv3.OpPut(p.Key, string(p.Value)))
	}
	for _, k := range txn.Deletes {
		ops = append(ops, clientv3.OpDelete(k))
	}
	return retry(ctx, func(ctx context.Context) error {
		resp, err := s.cli.Txn(ctx).If(cmps...).Then(ops...).Commit()
		if err != nil {
			return err
		}
		if !resp.Succeeded {
			return errors.Mark(errors.New("etcdstore: transaction compare failed"),
				base.ErrConflict)
		}
		return nil
	})
}

// Close implements metastore.Store.
func (s *Store) Close() error {
	return s.cli.Close()
}
