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

/*
Package keys implements the scoped API-key registry: the master key
invariant, registration/removal of additional keys, and the persisted
key-file round-trip.
*/
package keys

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"driftdb/internal/dberrors"
	"driftdb/internal/logging"
)

// Scope governs which message types a session may issue.
type Scope string

const (
	ReadOnly        Scope = "readonly"
	ReadWrite       Scope = "read_write"
	ReadWriteDelete Scope = "read_write_delete"
)

// Permission is a required capability a message type demands of a
// session's scope.
type Permission int

const (
	PermRead Permission = iota
	PermWrite
	PermDelete
	PermManageKeys
)

// Satisfies reports whether s grants the given permission. ManageKeys is
// granted only to the master key's own ReadWriteDelete scope, enforced by
// the registry, not by scope alone; callers needing that distinction must
// also check IsMaster.
func (s Scope) Satisfies(p Permission) bool {
	switch p {
	case PermRead:
		return s == ReadOnly || s == ReadWrite || s == ReadWriteDelete
	case PermWrite:
		return s == ReadWrite || s == ReadWriteDelete
	case PermDelete:
		return s == ReadWriteDelete
	case PermManageKeys:
		return s == ReadWriteDelete
	default:
		return false
	}
}

// Entry is one registered API key's scope and deletability.
type Entry struct {
	Scope     Scope `json:"scope"`
	Deletable bool  `json:"deletable"`
}

var log = logging.NewLogger("keys")

// Registry holds every registered API key, including the master key,
// which is never written to disk.
type Registry struct {
	mu        sync.RWMutex
	keys      map[string]Entry
	masterKey string
}

// NewRegistry creates a registry and registers masterKey with
// ReadWriteDelete, non-deletable, per I4.
func NewRegistry(masterKey string) *Registry {
	r := &Registry{
		keys:      make(map[string]Entry),
		masterKey: masterKey,
	}
	r.keys[masterKey] = Entry{Scope: ReadWriteDelete, Deletable: false}
	return r
}

// Register inserts or updates key. If key is the master key, scope is
// forced to ReadWriteDelete and deletable to false regardless of the
// arguments. deletable is monotonic: once false for an existing entry, it
// stays false.
func (r *Registry) Register(key string, scope Scope, deletable bool) error {
	if key == "" {
		return dberrors.Protocol(dberrors.CodeInvalidPayload, "empty API key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == r.masterKey {
		r.keys[key] = Entry{Scope: ReadWriteDelete, Deletable: false}
		return nil
	}

	if existing, ok := r.keys[key]; ok && !existing.Deletable {
		deletable = false
	}
	r.keys[key] = Entry{Scope: scope, Deletable: deletable}
	return nil
}

// Remove deletes key. Fails if the key is absent or not deletable
// (including the master key, which is never deletable).
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.keys[key]
	if !ok || !entry.Deletable {
		return dberrors.NoOp(dberrors.CodeUnknownAPIKey, "key not found or not deletable")
	}
	delete(r.keys, key)
	return nil
}

// Lookup returns the entry for key, if registered.
func (r *Registry) Lookup(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.keys[key]
	return e, ok
}

// ScopeOf returns the scope registered for key, or "" if unknown.
func (r *Registry) ScopeOf(key string) Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keys[key].Scope
}

// IsMaster reports whether key is the registry's master key.
func (r *Registry) IsMaster(key string) bool {
	return key == r.masterKey
}

// persistedFile is the on-disk shape of config/api_keys.json: key -> entry,
// with the master key always excluded (I4).
type persistedFile map[string]Entry

// Flush writes the non-master key set to path atomically: a temp file is
// written and renamed over the destination so a crash mid-write never
// leaves a truncated file in place.
func (r *Registry) Flush(path string) error {
	r.mu.RLock()
	out := make(persistedFile, len(r.keys))
	for k, v := range r.keys {
		if k == r.masterKey {
			continue
		}
		out[k] = v
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return dberrors.Storage(dberrors.CodeSnapshotFailed, "marshal api key registry").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dberrors.Storage(dberrors.CodeSnapshotFailed, "create config directory").WithCause(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return dberrors.Storage(dberrors.CodeSnapshotFailed, "write api key registry").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return dberrors.Storage(dberrors.CodeSnapshotFailed, "rename api key registry").WithCause(err)
	}
	return nil
}

// LoadRegistry reads the persisted key file at path (if present) and
// returns a registry seeded from it, with masterKey re-registered on top
// per its invariant. A parse failure is logged and treated as an empty
// registry, per §4.7's "log and start clean" replay policy.
func LoadRegistry(path string, masterKey string) *Registry {
	r := NewRegistry(masterKey)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read api key registry, starting clean", "path", path, "error", err)
		}
		return r
	}

	var loaded persistedFile
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Warn("failed to parse api key registry, starting clean", "path", path, "error", err)
		return r
	}

	for key, entry := range loaded {
		if key == masterKey {
			continue
		}
		r.keys[key] = entry
	}
	// Re-assert the master key invariant last, so a stale file can never
	// override it.
	r.keys[masterKey] = Entry{Scope: ReadWriteDelete, Deletable: false}
	return r
}
