// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"time"

	"github.com/cascadedb/cascade/internal/base"
)

// Logger exports the base.Logger type.
type Logger = base.Logger

// VersionPublishInfo contains the info for a version publish event.
type VersionPublishInfo struct {
	VersionID      base.VersionID
	CommittedEpoch base.Epoch
	SafeEpoch      base.Epoch
}

// CompactionInfo contains the info for a compaction event.
type CompactionInfo struct {
	TaskID      base.TaskID
	Group       base.GroupID
	StartLevel  int
	OutputLevel int
	InputFiles  int
	OutputFiles int
	Duration    time.Duration
	Err         error
}

// GCInfo contains the info for a garbage collection event.
type GCInfo struct {
	Full           bool
	Floor          base.Epoch
	ObjectsDeleted int
	BytesReclaimed uint64
	Duration       time.Duration
	Err            error
}

// BackupInfo contains the info for a backup creation or deletion event.
type BackupInfo struct {
	BackupID       base.BackupID
	CommittedEpoch base.Epoch
	Objects        int
	Err            error
}

// RestoreInfo contains the info for a restore event.
type RestoreInfo struct {
	BackupID base.BackupID
	Duration time.Duration
	Err      error
}

// PinExpiredInfo contains the info for a pin lease expiry event.
type PinExpiredInfo struct {
	Holder string
	Epoch  base.Epoch
}

// EventListener contains a set of functions that will be invoked when
// various significant control-plane events occur. Note that the functions
// should not run for an excessive amount of time as they are invoked
// synchronously and may block continued control-plane work.
type EventListener struct {
	VersionPublished func(VersionPublishInfo)
	CompactionEnd    func(CompactionInfo)
	GCEnd            func(GCInfo)
	BackupCreated    func(BackupInfo)
	BackupDeleted    func(BackupInfo)
	RestoreEnd       func(RestoreInfo)
	PinExpired       func(PinExpiredInfo)
}

// EnsureDefaults replaces nil callbacks with no-ops.
func (l *EventListener) EnsureDefaults() {
	if l.VersionPublished == nil {
		l.VersionPublished = func(VersionPublishInfo) {}
	}
	if l.CompactionEnd == nil {
		l.CompactionEnd = func(CompactionInfo) {}
	}
	if l.GCEnd == nil {
		l.GCEnd = func(GCInfo) {}
	}
	if l.BackupCreated == nil {
		l.BackupCreated = func(BackupInfo) {}
	}
	if l.BackupDeleted == nil {
		l.BackupDeleted = func(BackupInfo) {}
	}
	if l.RestoreEnd == nil {
		l.RestoreEnd = func(RestoreInfo) {}
	}
	if l.PinExpired == nil {
		l.PinExpired = func(PinExpiredInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	return EventListener{
		VersionPublished: func(info VersionPublishInfo) {
			logger.Infof("published version %d (committed=%d safe=%d)",
				info.VersionID, info.CommittedEpoch, info.SafeEpoch)
		},
		CompactionEnd: func(info CompactionInfo) {
			if info.Err != nil {
				logger.Errorf("compaction task %d (group %d L%d->L%d) failed: %v",
					info.TaskID, info.Group, info.StartLevel, info.OutputLevel, info.Err)
				return
			}
			logger.Infof("compaction task %d (group %d L%d->L%d) merged %d files into %d in %s",
				info.TaskID, info.Group, info.StartLevel, info.OutputLevel,
				info.InputFiles, info.OutputFiles, info.Duration)
		},
		GCEnd: func(info GCInfo) {
			if info.Err != nil {
				logger.Errorf("gc (full=%t) failed: %v", info.Full, info.Err)
				return
			}
			logger.Infof("gc (full=%t floor=%d) deleted %d objects, reclaimed %d bytes in %s",
				info.Full, info.Floor, info.ObjectsDeleted, info.BytesReclaimed, info.Duration)
		},
		BackupCreated: func(info BackupInfo) {
			if info.Err != nil {
				logger.Errorf("backup failed: %v", info.Err)
				return
			}
			logger.Infof("created backup %s at epoch %d referencing %d objects",
				info.BackupID, info.CommittedEpoch, info.Objects)
		},
		BackupDeleted: func(info BackupInfo) {
			logger.Infof("deleted backup %s", info.BackupID)
		},
		RestoreEnd: func(info RestoreInfo) {
			if info.Err != nil {
				logger.Errorf("restore of backup %s failed: %v", info.BackupID, info.Err)
				return
			}
			logger.Infof("restored backup %s in %s", info.BackupID, info.Duration)
		},
		PinExpired: func(info PinExpiredInfo) {
			logger.Infof("pin lease of holder %q (epoch %d) expired", info.Holder, info.Epoch)
		},
	}
}
