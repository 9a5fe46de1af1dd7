// Copyright 2026 The Cascade Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package cascade

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorKindsClassify(t *testing.T) {
	err := errors.Mark(errors.New("boom"), ErrConflict)
	require.True(t, errors.Is(err, ErrConflict))
	require.True(t, IsConflict(err))
	require.False(t, errors.Is(err, ErrInvalid))

	// Marks survive wrapping.
	wrapped := errors.Wrap(err, "publishing version")
	require.True(t, errors.Is(wrapped, ErrConflict))
	require.True(t, IsConflict(wrapped))
}
