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

package keys

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMasterKeyInvariants(t *testing.T) {
	r := NewRegistry("master-secret")

	entry, ok := r.Lookup("master-secret")
	require.True(t, ok)
	require.Equal(t, ReadWriteDelete, entry.Scope)
	require.False(t, entry.Deletable)

	err := r.Remove("master-secret")
	require.Error(t, err)

	err = r.Register("master-secret", ReadOnly, true)
	require.NoError(t, err)
	entry, _ = r.Lookup("master-secret")
	require.Equal(t, ReadWriteDelete, entry.Scope)
	require.False(t, entry.Deletable)
}

func TestRegisterAndRemove(t *testing.T) {
	r := NewRegistry("master-secret")
	require.NoError(t, r.Register("k2", ReadOnly, true))

	entry, ok := r.Lookup("k2")
	require.True(t, ok)
	require.Equal(t, ReadOnly, entry.Scope)

	require.NoError(t, r.Remove("k2"))
	_, ok = r.Lookup("k2")
	require.False(t, ok)
}

func TestRegisterRejectsEmptyKey(t *testing.T) {
	r := NewRegistry("master-secret")
	require.Error(t, r.Register("", ReadOnly, true))
}

func TestDeletableIsMonotonicOneWay(t *testing.T) {
	r := NewRegistry("master-secret")
	require.NoError(t, r.Register("k2", ReadOnly, false))
	require.NoError(t, r.Register("k2", ReadWrite, true))

	entry, _ := r.Lookup("k2")
	require.Equal(t, ReadWrite, entry.Scope)
	require.False(t, entry.Deletable)
}

func TestRemoveFailsForNonDeletable(t *testing.T) {
	r := NewRegistry("master-secret")
	require.NoError(t, r.Register("k2", ReadOnly, false))
	require.Error(t, r.Remove("k2"))
}

func TestScopeSatisfies(t *testing.T) {
	require.True(t, ReadOnly.Satisfies(PermRead))
	require.False(t, ReadOnly.Satisfies(PermWrite))
	require.True(t, ReadWrite.Satisfies(PermWrite))
	require.False(t, ReadWrite.Satisfies(PermDelete))
	require.True(t, ReadWriteDelete.Satisfies(PermDelete))
	require.True(t, ReadWriteDelete.Satisfies(PermManageKeys))
	require.False(t, ReadWrite.Satisfies(PermManageKeys))
}

func TestFlushNeverPersistsMasterKey(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry("master-secret")
	require.NoError(t, r.Register("k2", ReadOnly, true))

	path := filepath.Join(dir, "config", "api_keys.json")
	require.NoError(t, r.Flush(path))

	loaded := LoadRegistry(path, "master-secret")
	_, ok := loaded.Lookup("k2")
	require.True(t, ok)

	entry, _ := loaded.Lookup("master-secret")
	require.Equal(t, ReadWriteDelete, entry.Scope)
	require.False(t, entry.Deletable)
}

func TestLoadRegistryIgnoresMasterKeyInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api_keys.json")

	r := NewRegistry("old-master")
	require.NoError(t, r.Register("old-master", ReadOnly, true))
	require.NoError(t, r.Flush(path))

	loaded := LoadRegistry(path, "new-master")
	entry, ok := loaded.Lookup("new-master")
	require.True(t, ok)
	require.Equal(t, ReadWriteDelete, entry.Scope)
	require.False(t, entry.Deletable)
}

func TestLoadRegistryStartsCleanOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	loaded := LoadRegistry(filepath.Join(dir, "missing.json"), "master-secret")
	entry, ok := loaded.Lookup("master-secret")
	require.True(t, ok)
	require.Equal(t, ReadWriteDelete, entry.Scope)
}
