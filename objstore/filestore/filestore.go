// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Package filestore implements the object store contract on a local
// directory. It backs tests and single-node deployments; writes go through
// a temp file and rename so a crash never leaves a partially written
// object visible.
package filestore

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// Store implements objstore.Store on a local directory.
type Store struct {
	dir string
}

var _ objstore.Store = (*Store)(nil)

// Open creates the directory if needed and returns a store rooted at it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "filestore: creating root")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Put implements objstore.Store.
func (s *Store) Put(_ context.Context, name string, data []byte) error {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "filestore: creating parent of %q", name)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "filestore: creating temp for %q", name)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "filestore: writing %q", name)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "filestore: syncing %q", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "filestore: closing %q", name)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "filestore: renaming %q", name)
	}
	return nil
}

// Get implements objstore.Store.
func (s *Store) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if oserror.IsNotExist(err) {
		return nil, errors.Mark(errors.Newf("filestore: object %q", name), base.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "filestore: reading %q", name)
	}
	return data, nil
}

// Stat implements objstore.Store.
func (s *Store) Stat(_ context.Context, name string) (objstore.ObjectInfo, error) {
	fi, err := os.Stat(s.path(name))
	if oserror.IsNotExist(err) {
		return objstore.ObjectInfo{}, errors.Mark(
			errors.Newf("filestore: object %q", name), base.ErrNotFound)
	}
	if err != nil {
		return objstore.ObjectInfo{}, errors.Wrapf(err, "filestore: stat %q", name)
	}
	return objstore.ObjectInfo{
		Name:         name,
		Size:         uint64(fi.Size()),
		LastModified: fi.ModTime(),
	}, nil
}

// Delete implements objstore.Store.
func (s *Store) Delete(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !oserror.IsNotExist(err) {
		return errors.Wrapf(err, "filestore: deleting %q", name)
	}
	return nil
}

// List implements objstore.Store.
func (s *Store) List(_ context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	var infos []objstore.ObjectInfo
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if oserror.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, objstore.ObjectInfo{
			Name:         name,
			Size:         uint64(fi.Size()),
			LastModified: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "filestore: listing")
	}
	slices.SortFunc(infos, func(a, b objstore.ObjectInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return infos, nil
}

// Close implements objstore.Store.
func (s *Store) Close() error { return nil }
