// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

// Command cascade is the operator CLI of the storage control core: version
// and pin introspection, manual compaction and GC triggers, and metadata
// backup, deletion and restore.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cascadedb/cascade"
	"github.com/spf13/cobra"
)

var (
	flagConfig           string
	flagVerbose          bool
	flagMetaStoreType    string
	flagEtcdEndpoints    []string
	flagSQLEndpoint      string
	flagStorageURL       string
	flagBackupStorageURL string
	flagMetaSnapshotID   string
	flagGroup            uint64
	flagLevels           string
)

func main() {
	root := &cobra.Command{
		Use:           "cascade",
		Short:         "operator tool for the cascade storage control core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "YAML config file")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&flagMetaStoreType, "meta-store-type", "", "metadata store backend: etcd, sql or mem")
	pf.StringSliceVar(&flagEtcdEndpoints, "etcd-endpoints", nil, "etcd endpoints for the etcd backend")
	pf.StringVar(&flagSQLEndpoint, "sql-endpoint", "", "connection string for the sql backend")
	pf.StringVar(&flagStorageURL, "hummock-storage-url", "", "object storage URL of the data files")
	pf.StringVar(&flagBackupStorageURL, "backup-storage-url", "", "object storage URL of the backup manifests")

	root.AddCommand(
		listVersionCmd(),
		listPinnedSnapshotsCmd(),
		triggerManualCompactionCmd(),
		triggerFullGCCmd(),
		backupMetaCmd(),
		deleteMetaSnapshotsCmd(),
		restoreMetaCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cascade: %v\n", err)
		os.Exit(1)
	}
}

// withController loads config, opens the control core and runs fn.
func withController(cmd *cobra.Command, fn func(ctx context.Context, c *cascade.Controller) error) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	cfg.mergeFlags(flagMetaStoreType, flagEtcdEndpoints, flagSQLEndpoint,
		flagStorageURL, flagBackupStorageURL)

	meta, err := cfg.openMetaStore(ctx)
	if err != nil {
		return err
	}
	data, err := cfg.openDataStore()
	if err != nil {
		_ = meta.Close()
		return err
	}
	backups, err := cfg.openBackupStore()
	if err != nil {
		_ = meta.Close()
		_ = data.Close()
		return err
	}

	logger := newLogger(flagVerbose)
	c, err := cascade.Open(ctx, cascade.Stores{Meta: meta, Data: data, Backups: backups},
		&cascade.Options{
			Logger: logger,
			// The CLI only triggers work explicitly.
			DisableAutomaticCompactions: true,
			GCInterval:                  24 * time.Hour,
			EventListener:               cascade.MakeLoggingEventListener(logger),
		})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(ctx, c)
}

func listVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-version",
		Short: "print the retained versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(cmd, func(ctx context.Context, c *cascade.Controller) error {
				versions, err := c.ListVersions(ctx)
				if err != nil {
					return err
				}
				for _, v := range versions {
					fmt.Fprintln(cmd.OutOrStdout(), v)
					if !flagVerbose {
						continue
					}
					for _, g := range v.GroupIDs() {
						ls := v.Groups[g]
						fmt.Fprintf(cmd.OutOrStdout(), "  group %d: %d files, %d bytes\n",
							g, ls.NumFiles(), ls.Size())
					}
					for id, ts := range v.Tables {
						fmt.Fprintf(cmd.OutOrStdout(),
							"  table %d: committed=%d safe=%d group=%d\n",
							id, ts.CommittedEpoch, ts.SafeEpoch, ts.Group)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func listPinnedSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-pinned-snapshots",
		Short: "print the live pins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(cmd, func(_ context.Context, c *cascade.Controller) error {
				for _, pin := range c.ListPinnedSnapshots() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", pin.Holder, pin.Epoch)
				}
				return nil
			})
		},
	}
}

// parseLevels parses a "M..N" level range.
func parseLevels(s string) (start, end int, err error) {
	from, to, ok := strings.Cut(s, "..")
	if !ok {
		return 0, 0, fmt.Errorf("levels must be of the form M..N, got %q", s)
	}
	if start, err = strconv.Atoi(from); err != nil {
		return 0, 0, err
	}
	if end, err = strconv.Atoi(to); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func triggerManualCompactionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger-manual-compaction",
		Short: "compact a level range of a compaction group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := parseLevels(flagLevels)
			if err != nil {
				return err
			}
			return withController(cmd, func(ctx context.Context, c *cascade.Controller) error {
				ids, err := c.TriggerManualCompaction(ctx, cascade.GroupID(flagGroup), start, end)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ran %d compaction task(s)\n", len(ids))
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&flagGroup, "group", uint64(cascade.DefaultGroupID), "compaction group id")
	cmd.Flags().StringVar(&flagLevels, "levels", "0..1", "level range M..N to compact")
	return cmd
}

func triggerFullGCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger-full-gc",
		Short: "run a full garbage collection cycle, including the orphan sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(cmd, func(ctx context.Context, c *cascade.Controller) error {
				info, err := c.RunFullGC(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"deleted %d object(s), reclaimed %d bytes (floor %d)\n",
					info.ObjectsDeleted, info.BytesReclaimed, info.Floor)
				return nil
			})
		},
	}
}

func backupMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup-meta",
		Short: "create a metadata backup of the current version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(cmd, func(ctx context.Context, c *cascade.Controller) error {
				rec, err := c.Backup(ctx, "")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created backup %s at epoch %d (%d objects)\n",
					rec.ID, rec.CommittedEpoch, len(rec.Objects))
				return nil
			})
		},
	}
}

func deleteMetaSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-meta-snapshots <backup-id>...",
		Short: "delete metadata backups",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd, func(ctx context.Context, c *cascade.Controller) error {
				for _, id := range args {
					if err := c.DeleteBackup(ctx, cascade.BackupID(id)); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted backup %s\n", id)
				}
				return nil
			})
		},
	}
}

func restoreMetaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore-meta",
		Short: "destructively restore the metadata store from a backup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagMetaSnapshotID == "" {
				return fmt.Errorf("--meta-snapshot-id is required")
			}
			ctx := cmd.Context()
			cfg, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			cfg.mergeFlags(flagMetaStoreType, flagEtcdEndpoints, flagSQLEndpoint,
				flagStorageURL, flagBackupStorageURL)

			meta, err := cfg.openMetaStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = meta.Close() }()
			data, err := cfg.openDataStore()
			if err != nil {
				return err
			}
			defer func() { _ = data.Close() }()
			backups, err := cfg.openBackupStore()
			if err != nil {
				return err
			}
			defer func() { _ = backups.Close() }()

			logger := newLogger(flagVerbose)
			err = cascade.Restore(ctx, cascade.RestoreOptions{
				Meta:          meta,
				Data:          data,
				Backups:       backups,
				BackupID:      cascade.BackupID(flagMetaSnapshotID),
				Logger:        logger,
				EventListener: cascade.MakeLoggingEventListener(logger),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored backup %s\n", flagMetaSnapshotID)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagMetaSnapshotID, "meta-snapshot-id", "", "backup id to restore")
	return cmd
}
