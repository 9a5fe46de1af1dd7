// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package s3store implements the object store contract on any S3-compatible
// service via the minio client. Object names are placed under a configurable
// key prefix so several clusters can share one bucket.
package s3store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxRetries = 4

// Config carries the connection parameters of an S3-compatible endpoint.
type Config struct {
	Endpoint string
	Bucket   string
	Prefix   string
	UseSSL   bool
}

// Store implements objstore.Store on an S3-compatible service.
type Store struct {
	client *minio.Client
	cfg    Config
}

var _ objstore.Store = (*Store)(nil)

// Open connects to the endpoint using credentials from the environment
// (AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY et al).
func Open(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("AWS_ENDPOINT")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewEnvAWS(),
		Region: os.Getenv("AWS_REGION"),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "s3store: create client")
	}
	return &Store{client: client, cfg: cfg}, nil
}

func (s *Store) objectName(name string) string {
	return path.Join(s.cfg.Prefix, name)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

func retry(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	err := backoff.Retry(func() error {
		err := op(ctx)
		if err == nil || errors.Is(err, base.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil && !errors.Is(err, base.ErrNotFound) {
		return base.MarkTransient(err)
	}
	return err
}

// Put implements objstore.Store.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	return retry(ctx, func(ctx context.Context) error {
		reader := bytes.NewReader(data)
		_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectName(name),
			reader, int64(reader.Len()),
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		return errors.Wrapf(err, "s3store: put %q", name)
	})
}

// Get implements objstore.Store.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := retry(ctx, func(ctx context.Context) error {
		obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectName(name),
			minio.GetObjectOptions{})
		if err != nil {
			return errors.Wrapf(err, "s3store: get %q", name)
		}
		defer obj.Close()
		data, err = io.ReadAll(obj)
		if err != nil {
			if isNotFound(err) {
				return errors.Mark(errors.Newf("s3store: object %q", name), base.ErrNotFound)
			}
			return errors.Wrapf(err, "s3store: read %q", name)
		}
		return nil
	})
	return data, err
}

// Stat implements objstore.Store.
func (s *Store) Stat(ctx context.Context, name string) (objstore.ObjectInfo, error) {
	var info objstore.ObjectInfo
	err := retry(ctx, func(ctx context.Context) error {
		oi, err := s.client.StatObject(ctx, s.cfg.Bucket, s.objectName(name),
			minio.StatObjectOptions{})
		if err != nil {
			if isNotFound(err) {
				return errors.Mark(errors.Newf("s3store: object %q", name), base.ErrNotFound)
			}
			return errors.Wrapf(err, "s3store: stat %q", name)
		}
		info = objstore.ObjectInfo{
			Name:         name,
			Size:         uint64(oi.Size),
			LastModified: oi.LastModified,
		}
		return nil
	})
	return info, err
}

// Delete implements objstore.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	return retry(ctx, func(ctx context.Context) error {
		err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectName(name),
			minio.RemoveObjectOptions{})
		if err != nil && !isNotFound(err) {
			return errors.Wrapf(err, "s3store: delete %q", name)
		}
		return nil
	})
}

// List implements objstore.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	var infos []objstore.ObjectInfo
	err := retry(ctx, func(ctx context.Context) error {
		infos = infos[:0]
		listCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		for oi := range s.client.ListObjects(listCtx, s.cfg.Bucket, minio.ListObjectsOptions{
			Prefix:    s.objectName(prefix),
			Recursive: true,
		}) {
			if oi.Err != nil {
				return errors.Wrap(oi.Err, "s3store: listing")
			}
			name := oi.Key
			if s.cfg.Prefix != "" {
				name = name[len(s.cfg.Prefix)+1:]
			}
			infos = append(infos, objstore.ObjectInfo{
				Name:         name,
				Size:         uint64(oi.Size),
				LastModified: oi.LastModified,
			})
		}
		return nil
	})
	return infos, err
}

// Close implements objstore.Store.
func (s *Store) Close() error { return nil }
