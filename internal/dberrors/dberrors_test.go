/*
 * Copyright (c) 2026 driftdb Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dberrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCategorization(t *testing.T) {
	err := Auth(CodePermissionDenied, "permission denied").WithHint("request a write-scoped key")

	require.True(t, IsAuth(err))
	require.False(t, IsProtocol(err))
	require.Contains(t, err.Error(), "AUTH")
	require.Equal(t, "request a write-scoped key", err.Hint)
}

func TestErrorWraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage(CodeFlushFailed, "flush failed").WithCause(cause)

	require.True(t, IsStorage(err))
	require.ErrorIs(t, err, cause)
}

func TestNoOpIsNotTreatedAsFailure(t *testing.T) {
	err := NoOp(CodeUnknownCollection, "collection not found")
	require.True(t, IsNoOp(err))
	require.False(t, IsStorage(err))
}
