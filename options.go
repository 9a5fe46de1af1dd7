// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"time"

	"github.com/cascadedb/cascade/internal/base"
	"github.com/prometheus/client_golang/prometheus"
)

// Options holds the parameters for opening a storage controller. Zero-value
// fields are populated by EnsureDefaults.
type Options struct {
	// Logger receives control-plane log messages.
	Logger Logger

	// EventListener receives notifications for significant control-plane
	// events.
	EventListener EventListener

	// MetricsRegisterer, if set, gets the controller's Prometheus collectors
	// registered on it.
	MetricsRegisterer prometheus.Registerer

	// L0CompactionThreshold is the number of level-0 files in a compaction
	// group that triggers an automatic compaction.
	L0CompactionThreshold int

	// LBaseMaxBytes is the maximum byte size of level 1. Deeper level
	// targets grow by LevelMultiplier per level.
	LBaseMaxBytes uint64

	// LevelMultiplier is the size ratio between adjacent levels.
	LevelMultiplier int

	// MaxCompactionBytes bounds the total input size of a single compaction
	// task to keep task duration predictable.
	MaxCompactionBytes uint64

	// TargetFileSize is the byte size the executor aims for when cutting
	// compaction output files.
	TargetFileSize uint64

	// CompactionWorkers is the number of compaction tasks executed in
	// parallel.
	CompactionWorkers int

	// MaxTaskRetries bounds how often a failed compaction task is retried
	// before it is marked Failed.
	MaxTaskRetries int

	// TaskRetryBackoff is the initial backoff between task retries.
	TaskRetryBackoff time.Duration

	// TaskTimeout kills and requeues a compaction task that has been
	// running longer than this.
	TaskTimeout time.Duration

	// CompactionInterval is the period of the automatic compaction debt
	// re-evaluation, in addition to the signal sent on every version
	// publish.
	CompactionInterval time.Duration

	// PinLeaseDuration is how long a pin stays live past its last renewal.
	// Expired pins no longer hold the retention floor down.
	PinLeaseDuration time.Duration

	// GCInterval is the period of the incremental garbage collection pass,
	// in addition to the wake-up signal sent on every version publish.
	GCInterval time.Duration

	// GCDeleteRate caps physical object deletions per second during a GC
	// cycle. Zero means unpaced.
	GCDeleteRate float64

	// OrphanGracePeriod protects recently written objects from the full-GC
	// orphan scan, so in-flight compaction and backup uploads are never
	// swept.
	OrphanGracePeriod time.Duration

	// DisableAutomaticCompactions turns off the automatic trigger loop.
	// Manual compactions still run. Used by tests.
	DisableAutomaticCompactions bool
}

// EnsureDefaults fills in unset options with defaults and returns opts for
// chaining.
func (o *Options) EnsureDefaults() *Options {
	if o.Logger == nil {
		o.Logger = base.DefaultLogger
	}
	if o.L0CompactionThreshold <= 0 {
		o.L0CompactionThreshold = 4
	}
	if o.LBaseMaxBytes == 0 {
		o.LBaseMaxBytes = 64 << 20 // 64 MB
	}
	if o.LevelMultiplier <= 0 {
		o.LevelMultiplier = 10
	}
	if o.MaxCompactionBytes == 0 {
		o.MaxCompactionBytes = 256 << 20 // 256 MB
	}
	if o.TargetFileSize == 0 {
		o.TargetFileSize = 32 << 20 // 32 MB
	}
	if o.CompactionWorkers <= 0 {
		o.CompactionWorkers = 4
	}
	if o.MaxTaskRetries <= 0 {
		o.MaxTaskRetries = 3
	}
	if o.TaskRetryBackoff <= 0 {
		o.TaskRetryBackoff = time.Second
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 10 * time.Minute
	}
	if o.CompactionInterval <= 0 {
		o.CompactionInterval = 30 * time.Second
	}
	if o.PinLeaseDuration <= 0 {
		o.PinLeaseDuration = time.Minute
	}
	if o.GCInterval <= 0 {
		o.GCInterval = 5 * time.Minute
	}
	if o.OrphanGracePeriod <= 0 {
		o.OrphanGracePeriod = time.Hour
	}
	return o
}
