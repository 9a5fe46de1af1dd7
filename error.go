// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"github.com/cascadedb/cascade/internal/base"
	"github.com/cockroachdb/errors"
)

// The error taxonomy of the control core, re-exported from internal/base.
// Errors carry their kind as a cockroachdb/errors mark, so classify with
// that package's Is (the standard library's Is does not follow marks).
// Every error returned by controller operations is marked with exactly one
// of these kinds.
var (
	// ErrConflict means an optimistic commit lost a race. Retry against the
	// new current version.
	ErrConflict = base.ErrConflict

	// ErrInvalid means a malformed or epoch-inconsistent delta. Fatal to
	// that commit attempt.
	ErrInvalid = base.ErrInvalid

	// ErrEpochTooOld means a pin or query named an epoch that has already
	// been reclaimed.
	ErrEpochTooOld = base.ErrEpochTooOld

	// ErrNotFound means an unknown version, backup, pin or task id.
	ErrNotFound = base.ErrNotFound

	// ErrIncomplete means restore found referenced objects missing; the
	// target remains marked unrestored.
	ErrIncomplete = base.ErrIncomplete

	// ErrTransientIO means an adapter exhausted its internal retries.
	ErrTransientIO = base.ErrTransientIO

	// ErrTaskFailed means a compaction task exhausted its retries without
	// corrupting committed state.
	ErrTaskFailed = base.ErrTaskFailed
)

// IsConflict reports whether err is a lost optimistic-commit race.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
