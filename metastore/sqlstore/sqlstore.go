// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package sqlstore implements the metastore contract on a relational
// database via pgx. Records live in a single key/value/revision table;
// Commit runs one database transaction that locks the compared rows,
// verifies their revisions and applies the writes, giving the same
// optimistic-concurrency semantics as the consensus backend.
package sqlstore

import (
	"context"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/metastore"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxRetries     = 4
	requestTimeout = 10 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS cascade_meta (
	key      TEXT PRIMARY KEY,
	value    BYTEA NOT NULL,
	revision BIGINT NOT NULL
);
CREATE SEQUENCE IF NOT EXISTS cascade_meta_rev;
`

// Store implements metastore.Store on a SQL database.
type Store struct {
	pool *pgxpool.Pool
}

var _ metastore.Store = (*Store)(nil)

// Open connects to the database at the given endpoint (a pgx connection
// string) and creates the schema if needed.
func Open(ctx context.Context, endpoint string) (*Store, error) {
	pool, err := pgxpool.New(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "sqlstore: connecting")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "sqlstore: creating schema")
	}
	return &Store{pool: pool}, nil
}

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
		row := s.pool.QueryRow(ctx,
			`SELECT key, value, revision FROM cascade_meta WHERE key = $1`, key)
		if err := row.Scan(&kv.Key, &kv.Value, &kv.Revision); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.Mark(errors.Newf("sqlstore: key %q", key), base.ErrNotFound)
			}
			return err
		}
		return nil
	})
	return kv, err
}

// Scan implements metastore.Store.
func (s *Store) Scan(ctx context.Context, prefix string) ([]metastore.KeyValue, error) {
	var kvs []metastore.KeyValue
	err := retry(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT key, value, revision FROM cascade_meta
			 WHERE key >= $1 AND key < $2 ORDER BY key`,
			prefix, prefixEnd(prefix))
		if err != nil {
			return err
		}
		defer rows.Close()
		kvs = kvs[:0]
		for rows.Next() {
			var kv metastore.KeyValue
			if err := rows.Scan(&kv.Key, &kv.Value, &kv.Revision); err != nil {
				return err
			}
			kvs = append(kvs, kv)
		}
		return rows.Err()
	})
	return kvs, err
}

// Commit implements metastore.Store.
func (s *Store) Commit(ctx context.Context, txn metastore.Txn) error {
	return retry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, c := range txn.Compares {
			var rev int64
			row := tx.QueryRow(ctx,
				`SELECT revision FROM cascade_meta WHERE key = $1 FOR UPDATE`, c.Key)
			if err := row.Scan(&rev); err != nil {
				if !errors.Is(err, pgx.ErrNoRows) {
					return err
				}
				rev = 0
			}
			if rev != c.Revision {
				return errors.Mark(errors.Newf(
					"sqlstore: compare failed on %q: revision %d != %d",
					c.Key, rev, c.Revision), base.ErrConflict)
			}
		}
		for _, p := range txn.Puts {
			if _, err := tx.Exec(ctx,
				`INSERT INTO cascade_meta (key, value, revision)
				 VALUES ($1, $2, nextval('cascade_meta_rev'))
				 ON CONFLICT (key) DO UPDATE
				 SET value = EXCLUDED.value, revision = EXCLUDED.revision`,
				p.Key, p.Value); err != nil {
				return err
			}
		}
		for _, k := range txn.Deletes {
			if _, err := tx.Exec(ctx,
				`DELETE FROM cascade_meta WHERE key = $1`, k); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

// Close implements metastore.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return "\xff"
}
