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
Package collection implements Collection: a named container holding a
document map (each document a time-ordered record.Series) and a string
key/value namespace, plus its own flush-to-disk and load-from-disk
procedures.
*/
package collection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"driftdb/internal/crypto"
	"driftdb/internal/dberrors"
	"driftdb/internal/logging"
	"driftdb/internal/protocol"
	"driftdb/internal/record"

	"github.com/google/uuid"
)

var log = logging.NewLogger("collection")

// Collection is a named container of documents and a key/value namespace.
// All exported methods are safe for concurrent use; callers that need a
// wider atomic section (e.g. the dispatcher's cascading deletes) must
// still serialize at a higher level, per the single-writer model.
type Collection struct {
	mu sync.RWMutex

	name       string
	dataFolder string // empty disables persistence

	documents map[string]*record.Series
	kv        map[string]string

	kvUpdatedAt int64
	kvFlushedAt int64

	encryptor *crypto.Encryptor // nil disables at-rest encryption
}

// New creates an empty collection. dataFolder may be empty to disable
// persistence for this collection.
func New(name, dataFolder string) *Collection {
	return &Collection{
		name:       name,
		dataFolder: dataFolder,
		documents:  make(map[string]*record.Series),
		kv:         make(map[string]string),
	}
}

// SetEncryptor enables at-rest encryption of flush files and the kv
// snapshot for this collection. A nil encryptor (the default) writes
// plaintext, matching spec.md's on-disk format exactly.
func (c *Collection) SetEncryptor(e *crypto.Encryptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encryptor = e
}

// Name returns the collection's name.
func (c *Collection) Name() string {
	return c.name
}

// Insert upserts (ts, payload) into document's series, creating the
// series if this is its first record. The inserted or replaced record is
// marked dirty.
func (c *Collection) Insert(document string, ts int64, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.documents[document]
	if !ok {
		series = record.NewSeries()
		c.documents[document] = series
	}
	series.Insert(ts, payload, true)
}

// LatestRecord returns the record with the greatest ts <= pivot in
// document, if any.
func (c *Collection) LatestRecord(document string, pivot int64) (record.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	series, ok := c.documents[document]
	if !ok {
		return record.Record{}, false
	}
	return series.Latest(pivot)
}

// AllLatest returns, for every document matching filter (or every
// document if filter is FilterNone), the record with the greatest
// ts <= pivot, restricted to records whose own timestamp is >= from (0
// disables that gate).
func (c *Collection) AllLatest(pivot int64, filter protocol.Filter, from int64) map[string]record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]record.Record)
	for doc, series := range c.documents {
		if !filter.Match(doc) {
			continue
		}
		rec, ok := series.Latest(pivot)
		if !ok {
			continue
		}
		if from == 0 || rec.Timestamp >= from {
			result[doc] = rec
		}
	}
	return result
}

// DocumentRange returns every record in document with from <= ts <= to,
// ascending then reversed if requested, truncated to limit (0 =
// unlimited).
func (c *Collection) DocumentRange(document string, from, to int64, reverse bool, limit int) []record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	series, ok := c.documents[document]
	if !ok {
		return nil
	}
	records := series.Range(from, to)
	if records == nil {
		return nil
	}
	if reverse {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// Sessions returns, for every document, all records with
// from <= ts <= to.
func (c *Collection) Sessions(from, to int64) map[string][]record.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string][]record.Record)
	if from > to {
		return result
	}
	for doc, series := range c.documents {
		records := series.Range(from, to)
		if len(records) > 0 {
			result[doc] = records
		}
	}
	return result
}

// DeleteRecord removes the record at ts in document, if present. Removing
// the last record in a document removes the document's series entirely
// (I2), including its on-disk directory.
func (c *Collection) DeleteRecord(document string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteAtLocked(document, ts)
}

func (c *Collection) deleteAtLocked(document string, ts int64) {
	series, ok := c.documents[document]
	if !ok {
		return
	}
	_, empty := series.DeleteAt(ts)
	if empty {
		c.dropDocumentLocked(document)
	}
}

// DeleteRange removes every record in document with from <= ts <= to. An
// emptied document is dropped per I2.
func (c *Collection) DeleteRange(document string, from, to int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.documents[document]
	if !ok {
		return
	}
	_, empty := series.DeleteRange(from, to)
	if empty {
		c.dropDocumentLocked(document)
	}
}

// ClearDocument removes document's series entirely and, if persistence is
// enabled, recursively removes its on-disk directory.
func (c *Collection) ClearDocument(document string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropDocumentLocked(document)
}

func (c *Collection) dropDocumentLocked(document string) {
	if _, ok := c.documents[document]; !ok {
		return
	}
	delete(c.documents, document)
	if c.dataFolder != "" {
		dir := filepath.Join(c.dataFolder, c.name, document)
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("failed to remove document directory", "collection", c.name, "document", document, "error", err)
		}
	}
}

// DocumentCount returns the number of documents currently holding
// records, used by the dispatcher to decide whether a collection has
// become empty (I3).
func (c *Collection) DocumentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.documents)
}

// IsEmpty reports whether the collection has no documents and no
// key/value entries (I3).
func (c *Collection) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.documents) == 0 && len(c.kv) == 0
}

// Documents returns the set of document names currently present, for
// callers (like the dispatcher's collection-wide ddoc) that must iterate
// without holding the collection's lock across another call.
func (c *Collection) Documents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.documents))
	for name := range c.documents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetValue sets key to value in the collection's kv namespace and bumps
// kvUpdatedAt.
func (c *Collection) SetValue(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	c.kvUpdatedAt = nowMillis()
}

// GetValue returns the value for key, if set.
func (c *Collection) GetValue(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.kv[key]
	return v, ok
}

// RemoveValue deletes key from the kv namespace and bumps kvUpdatedAt.
func (c *Collection) RemoveValue(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	c.kvUpdatedAt = nowMillis()
}

// AllValues returns every key/value pair whose key matches filter (or
// every pair if filter is FilterNone).
func (c *Collection) AllValues(filter protocol.Filter) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string)
	for k, v := range c.kv {
		if filter.Match(k) {
			result[k] = v
		}
	}
	return result
}

// AllKeys returns every key in the kv namespace.
func (c *Collection) AllKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.kv))
	for k := range c.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// recordFile is the on-disk shape of one flush file: an array of
// {"ts":int64,"data":string}.
type recordFile struct {
	TS   int64  `json:"ts"`
	Data string `json:"data"`
}

// Flush writes every dirty record to a fresh, wall-clock-named file per
// document, and the kv namespace to key_value.json if it has changed
// since the last flush. A write failure is logged and swallowed (§7 kind
// 4): affected records are left dirty so the next flush retries.
func (c *Collection) Flush() {
	if c.dataFolder == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	collectionDir := filepath.Join(c.dataFolder, c.name)
	for document, series := range c.documents {
		dirty := c.collectDirtyLocked(series)
		if len(dirty) == 0 {
			continue
		}
		docDir := filepath.Join(collectionDir, document)
		if err := os.MkdirAll(docDir, 0o755); err != nil {
			log.Error("failed to create document directory", "collection", c.name, "document", document, "error", err)
			continue
		}
		data, err := json.Marshal(dirty)
		if err != nil {
			log.Error("failed to marshal flush file", "collection", c.name, "document", document, "error", err)
			continue
		}
		data, err = c.maybeEncryptLocked(data)
		if err != nil {
			log.Error("failed to encrypt flush file", "collection", c.name, "document", document, "error", err)
			continue
		}
		path := filepath.Join(docDir, flushFileName())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Error("failed to write flush file", "collection", c.name, "document", document, "error", err)
			continue
		}
		c.clearDirtyLocked(series)
	}

	if c.kvUpdatedAt > c.kvFlushedAt {
		if err := os.MkdirAll(collectionDir, 0o755); err != nil {
			log.Error("failed to create collection directory", "collection", c.name, "error", err)
			return
		}
		data, err := json.Marshal(c.kv)
		if err != nil {
			log.Error("failed to marshal kv namespace", "collection", c.name, "error", err)
			return
		}
		data, err = c.maybeEncryptLocked(data)
		if err != nil {
			log.Error("failed to encrypt kv namespace", "collection", c.name, "error", err)
			return
		}
		path := filepath.Join(collectionDir, "key_value.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Error("failed to write kv namespace", "collection", c.name, "error", err)
			return
		}
		c.kvFlushedAt = nowMillis()
	}
}

// collectDirtyLocked gathers every dirty record in series into the
// on-disk file shape, ascending by timestamp (the series is already
// sorted).
func (c *Collection) collectDirtyLocked(series *record.Series) []recordFile {
	var out []recordFile
	for i := 0; i < series.Len(); i++ {
		rec := series.At(i)
		if rec.Dirty {
			out = append(out, recordFile{TS: rec.Timestamp, Data: rec.Payload})
		}
	}
	return out
}

// maybeEncryptLocked encrypts data if an encryptor is configured,
// otherwise returns it unchanged.
func (c *Collection) maybeEncryptLocked(data []byte) ([]byte, error) {
	if c.encryptor == nil {
		return data, nil
	}
	return c.encryptor.Encrypt(data)
}

// maybeDecryptLocked decrypts data if an encryptor is configured,
// otherwise returns it unchanged.
func (c *Collection) maybeDecryptLocked(data []byte) ([]byte, error) {
	if c.encryptor == nil {
		return data, nil
	}
	return c.encryptor.Decrypt(data)
}

// clearDirtyLocked clears the dirty flag on every record just flushed.
func (c *Collection) clearDirtyLocked(series *record.Series) {
	for i := 0; i < series.Len(); i++ {
		rec := series.At(i)
		if rec.Dirty {
			series.Insert(rec.Timestamp, rec.Payload, false)
		}
	}
}

// Load replays this collection's on-disk state: every document
// subdirectory's flush files, oldest first, then the kv namespace. A
// corrupt individual file is logged and skipped (§7 kind 4); it does not
// abort the rest of the replay.
func (c *Collection) Load() error {
	if c.dataFolder == "" {
		return nil
	}
	collectionDir := filepath.Join(c.dataFolder, c.name)
	entries, err := os.ReadDir(collectionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dberrors.Storage(dberrors.CodeReplayFailed, "read collection directory").WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		document := entry.Name()
		docDir := filepath.Join(collectionDir, document)
		if err := c.loadDocumentLocked(docDir, document); err != nil {
			log.Warn("failed to load document, skipping", "collection", c.name, "document", document, "error", err)
		}
	}

	kvPath := filepath.Join(collectionDir, "key_value.json")
	data, err := os.ReadFile(kvPath)
	if err == nil {
		data, err = c.maybeDecryptLocked(data)
		if err != nil {
			log.Warn("failed to decrypt kv namespace, skipping", "collection", c.name, "error", err)
		} else {
			var kv map[string]string
			if err := json.Unmarshal(data, &kv); err != nil {
				log.Warn("failed to parse kv namespace, skipping", "collection", c.name, "error", err)
			} else {
				for k, v := range kv {
					c.kv[k] = v
				}
			}
		}
	} else if !os.IsNotExist(err) {
		log.Warn("failed to read kv namespace", "collection", c.name, "error", err)
	}

	return nil
}

func (c *Collection) loadDocumentLocked(docDir, document string) error {
	files, err := os.ReadDir(docDir)
	if err != nil {
		return err
	}

	type namedFile struct {
		name    string
		modTime time.Time
	}
	var named []namedFile
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		named = append(named, namedFile{name: f.Name(), modTime: info.ModTime()})
	}
	sort.Slice(named, func(i, j int) bool { return named[i].modTime.Before(named[j].modTime) })

	series, ok := c.documents[document]
	if !ok {
		series = record.NewSeries()
		c.documents[document] = series
	}

	for _, nf := range named {
		path := filepath.Join(docDir, nf.name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("failed to read flush file, skipping", "path", path, "error", err)
			continue
		}
		data, err = c.maybeDecryptLocked(data)
		if err != nil {
			log.Warn("failed to decrypt flush file, skipping", "path", path, "error", err)
			continue
		}
		var recs []recordFile
		if err := json.Unmarshal(data, &recs); err != nil {
			log.Warn("failed to parse flush file, skipping", "path", path, "error", err)
			continue
		}
		for _, r := range recs {
			series.Insert(r.TS, r.Data, false)
		}
	}

	if series.Len() == 0 {
		delete(c.documents, document)
	}
	return nil
}

// flushFileName names a flush file after the current wall-clock
// millisecond per §4.7, with a short uuid suffix so two flushes that land
// in the same millisecond (possible on fast test clocks, or a very short
// --flush-interval) never collide and silently overwrite one another.
func flushFileName() string {
	return fmt.Sprintf("%d-%s.json", nowMillis(), uuid.NewString()[:8])
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
