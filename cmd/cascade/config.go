// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package main

import (
	"context"
	"os"

	"github.com/cascadedb/cascade/metastore"
	"github.com/cascadedb/cascade/metastore/etcdstore"
	"github.com/cascadedb/cascade/metastore/memstore"
	"github.com/cascadedb/cascade/metastore/sqlstore"
	"github.com/cascadedb/cascade/objstore"
	"github.com/cascadedb/cascade/objstore/filestore"
	"github.com/cascadedb/cascade/objstore/s3store"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
)

// config is the YAML config file schema, overridable field by field with
// command line flags.
type config struct {
	MetaStoreType    string   `yaml:"meta-store-type"`
	EtcdEndpoints    []string `yaml:"etcd-endpoints"`
	SQLEndpoint      string   `yaml:"sql-endpoint"`
	StorageURL       string   `yaml:"hummock-storage-url"`
	BackupStorageURL string   `yaml:"backup-storage-url"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{MetaStoreType: "etcd"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %q", path)
	}
	return cfg, nil
}

// mergeFlags overlays flag values that were explicitly set.
func (c *config) mergeFlags(metaStoreType string, etcdEndpoints []string,
	sqlEndpoint, storageURL, backupStorageURL string) {
	if metaStoreType != "" {
		c.MetaStoreType = metaStoreType
	}
	if len(etcdEndpoints) > 0 {
		c.EtcdEndpoints = etcdEndpoints
	}
	if sqlEndpoint != "" {
		c.SQLEndpoint = sqlEndpoint
	}
	if storageURL != "" {
		c.StorageURL = storageURL
	}
	if backupStorageURL != "" {
		c.BackupStorageURL = backupStorageURL
	}
}

func (c *config) openMetaStore(ctx context.Context) (metastore.Store, error) {
	switch c.MetaStoreType {
	case "etcd":
		if len(c.EtcdEndpoints) == 0 {
			return nil, errors.New("etcd meta store requires --etcd-endpoints")
		}
		return etcdstore.Open(c.EtcdEndpoints)
	case "sql":
		if c.SQLEndpoint == "" {
			return nil, errors.New("sql meta store requires --sql-endpoint")
		}
		return sqlstore.Open(ctx, c.SQLEndpoint)
	case "mem":
		return memstore.New(), nil
	default:
		return nil, errors.Newf("unknown meta store type %q", c.MetaStoreType)
	}
}

func openObjectStore(rawURL string) (objstore.Store, error) {
	if rawURL == "" {
		return nil, errors.New("storage URL is required")
	}
	u, err := objstore.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file":
		return filestore.Open(u.Prefix)
	case "s3", "minio":
		return s3store.Open(s3store.Config{
			Bucket: u.Bucket,
			Prefix: u.Prefix,
			UseSSL: true,
		})
	default:
		return nil, errors.Newf("unsupported storage scheme %q", u.Scheme)
	}
}

func (c *config) openDataStore() (objstore.Store, error) {
	return openObjectStore(c.StorageURL)
}

func (c *config) openBackupStore() (objstore.Store, error) {
	if c.BackupStorageURL == "" {
		return c.openDataStore()
	}
	return openObjectStore(c.BackupStorageURL)
}
