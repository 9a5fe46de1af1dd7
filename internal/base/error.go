// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package base

import (
	"github.com/cockroachdb/errors"
)

// The error taxonomy of the storage control core. Callers classify failures
// with errors.Is; wrapping with errors.Wrapf preserves the mark.
var (
	// ErrConflict means an optimistic commit lost a race. The caller should
	// refresh its base and retry.
	ErrConflict = errors.New("cascade: commit conflict")

	// ErrInvalid means a delta was malformed or epoch-inconsistent. The
	// commit attempt is fatal and must not be retried blindly.
	ErrInvalid = errors.New("cascade: invalid delta")

	// ErrEpochTooOld means the requested epoch has already been reclaimed.
	ErrEpochTooOld = errors.New("cascade: epoch too old")

	// ErrNotFound means the requested version, backup, pin or task does not
	// exist.
	ErrNotFound = errors.New("cascade: not found")

	// ErrIncomplete means a restore found referenced objects missing from
	// the object store. The target is left marked unrestored.
	ErrIncomplete = errors.New("cascade: restore incomplete")

	// ErrTransientIO means an object or metadata store operation kept
	// failing after bounded retries at the adapter boundary.
	ErrTransientIO = errors.New("cascade: transient IO")

	// ErrTaskFailed means a compaction task exhausted its retries. Committed
	// state is unaffected.
	ErrTaskFailed = errors.New("cascade: compaction task failed")
)

// MarkTransient tags err as a transient adapter failure, preserving the
// original cause.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransientIO)
}
