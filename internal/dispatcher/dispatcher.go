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
Package dispatcher routes a decoded envelope to the Collection/Registry
operation its type names, enforcing the session's scope and the
create-on-demand/silent-no-op/cascading-delete rules around collection
lifetime.
*/
package dispatcher

import (
	"sort"
	"sync"

	"driftdb/internal/collection"
	"driftdb/internal/crypto"
	"driftdb/internal/dberrors"
	"driftdb/internal/keys"
	"driftdb/internal/logging"
	"driftdb/internal/protocol"
)

var log = logging.NewLogger("dispatcher")

// Session is the dispatcher's view of one connected client: which API key
// authenticated it and the scope that key carries.
type Session struct {
	ID     string
	APIKey string
	Scope  keys.Scope
}

// Outcome tells the caller (internal/server) what to do after Dispatch
// returns: send Response, then close the connection if Close is true.
// Close with no Response means write nothing before closing (§7 kind 1).
type Outcome struct {
	Response protocol.Response
	Close    bool
}

// Dispatcher owns every collection, keyed by name, and the API key
// registry. Every request's operation runs under opMu, so requests from
// different sessions never interleave, per the single-writer model of
// spec.md §5. Collection-map access (create-on-demand, drop-if-empty) is
// additionally guarded by mu, and each Collection guards its own internal
// state against the periodic flush.
type Dispatcher struct {
	opMu sync.Mutex
	mu   sync.Mutex

	collections map[string]*collection.Collection
	registry    *keys.Registry

	dataDir   string
	encryptor *crypto.Encryptor
}

// New creates a Dispatcher with an empty collection set. dataDir may be
// empty to disable persistence entirely.
func New(registry *keys.Registry, dataDir string, encryptor *crypto.Encryptor) *Dispatcher {
	return &Dispatcher{
		collections: make(map[string]*collection.Collection),
		registry:    registry,
		dataDir:     dataDir,
		encryptor:   encryptor,
	}
}

// LoadAll replays every collection subdirectory under dataDir, per §4.6
// step 2. Safe to call once at startup, before Start.
func (d *Dispatcher) LoadAll(names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		c := collection.New(name, d.dataDir)
		c.SetEncryptor(d.encryptor)
		if err := c.Load(); err != nil {
			log.Warn("failed to load collection", "collection", name, "error", err)
		}
		d.collections[name] = c
	}
}

// FlushAll flushes every collection and persists the key registry, called
// by internal/server's periodic ticker (§4.6 step 6).
func (d *Dispatcher) FlushAll(keyFilePath string) {
	d.mu.Lock()
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	cols := make([]*collection.Collection, 0, len(names))
	for _, name := range names {
		cols = append(cols, d.collections[name])
	}
	d.mu.Unlock()

	for _, c := range cols {
		c.Flush()
	}
	if keyFilePath != "" {
		if err := d.registry.Flush(keyFilePath); err != nil {
			log.Warn("failed to flush api key registry", "error", err)
		}
	}
}

// getOrCreate returns the named collection, creating it if absent.
func (d *Dispatcher) getOrCreate(name string) *collection.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = collection.New(name, d.dataDir)
		c.SetEncryptor(d.encryptor)
		d.collections[name] = c
	}
	return c
}

// get returns the named collection without creating it.
func (d *Dispatcher) get(name string) (*collection.Collection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	return c, ok
}

// all returns every collection, name and handle, in a stable snapshot safe
// to range over without d.mu held.
func (d *Dispatcher) all() map[string]*collection.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*collection.Collection, len(d.collections))
	for k, v := range d.collections {
		out[k] = v
	}
	return out
}

// dropIfEmpty removes name from the collection set if it holds no
// documents and no kv entries (I3).
func (d *Dispatcher) dropIfEmpty(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if ok && c.IsEmpty() {
		delete(d.collections, name)
	}
}

// dropNamed unconditionally removes name from the collection set (dcol).
func (d *Dispatcher) dropNamed(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.collections, name)
}

// Dispatch executes §4.5's steps for one (session, envelope) pair.
func (d *Dispatcher) Dispatch(session *Session, env protocol.Envelope) Outcome {
	if env.Type == protocol.TypeAuth {
		return Outcome{Response: protocol.ErrorResponse(env.ID, "auth is handshake-only")}
	}

	if session.Scope == "" {
		return Outcome{Close: true}
	}

	perm, known := protocol.RequiredPermission(env.Type)
	if !known {
		log.Warn("unknown message type", "type", env.Type, "session", session.ID)
		return Outcome{Close: true}
	}
	if !session.Scope.Satisfies(perm) {
		return Outcome{Response: protocol.ErrorResponse(env.ID, "permission denied")}
	}
	if perm == keys.PermManageKeys && !d.registry.IsMaster(session.APIKey) {
		return Outcome{Response: protocol.ErrorResponse(env.ID, "permission denied")}
	}

	d.opMu.Lock()
	resp, err := d.execute(env)
	d.opMu.Unlock()
	if err != nil {
		if dberrors.IsProtocol(err) {
			log.Warn("malformed payload, closing connection", "type", env.Type, "error", err)
			return Outcome{Close: true}
		}
		return Outcome{Response: protocol.ErrorResponse(env.ID, err.Error())}
	}
	return Outcome{Response: resp}
}

// execute decodes env's payload and runs the named operation, returning
// the response body (ID not yet attached).
func (d *Dispatcher) execute(env protocol.Envelope) (protocol.Response, error) {
	switch env.Type {
	case protocol.TypeInsert:
		return d.handleInsert(env)
	case protocol.TypeQuerySessions:
		return d.handleQuerySessions(env)
	case protocol.TypeListCollections:
		return d.handleListCollections(env)
	case protocol.TypeQueryDocument:
		return d.handleQueryDocument(env)
	case protocol.TypeDeleteDocument:
		return d.handleDeleteDocument(env)
	case protocol.TypeDeleteCollection:
		return d.handleDeleteCollection(env)
	case protocol.TypeDeleteRecord:
		return d.handleDeleteRecord(env)
	case protocol.TypeDeleteManyRecords:
		return d.handleDeleteManyRecords(env)
	case protocol.TypeDeleteRange:
		return d.handleDeleteRange(env)
	case protocol.TypeSetValue:
		return d.handleSetValue(env)
	case protocol.TypeGetValue:
		return d.handleGetValue(env)
	case protocol.TypeGetValues:
		return d.handleGetValues(env)
	case protocol.TypeRemoveValue:
		return d.handleRemoveValue(env)
	case protocol.TypeGetKeys:
		return d.handleGetKeys(env)
	case protocol.TypeManageKeys:
		return d.handleManageKeys(env)
	default:
		return protocol.Response{}, dberrors.Protocol(dberrors.CodeUnknownMessage, "unhandled message type")
	}
}

func (d *Dispatcher) handleInsert(env protocol.Envelope) (protocol.Response, error) {
	items, err := protocol.DecodeInsert(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	for _, item := range items {
		d.getOrCreate(item.Col).Insert(item.Doc, item.TS, item.Data)
	}
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

func (d *Dispatcher) handleQuerySessions(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeQuerySessions(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	c, ok := d.get(p.Col)
	if !ok {
		return protocol.Response{ID: env.ID, Result: struct {
			Records map[string]recordView `json:"records"`
		}{Records: map[string]recordView{}}}, nil
	}
	filter := protocol.ParseDocumentFilter(p.Doc)
	latest := c.AllLatest(p.TS, filter, p.From)
	records := make(map[string]recordView, len(latest))
	for doc, rec := range latest {
		records[doc] = recordView{TS: rec.Timestamp, Data: rec.Payload}
	}
	return protocol.Response{ID: env.ID, Result: struct {
		Records map[string]recordView `json:"records"`
	}{Records: records}}, nil
}

func (d *Dispatcher) handleListCollections(env protocol.Envelope) (protocol.Response, error) {
	all := d.all()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return protocol.Response{ID: env.ID, Result: struct {
		Collections []string `json:"collections"`
	}{Collections: names}}, nil
}

func (d *Dispatcher) handleQueryDocument(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeQueryDocument(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	c, ok := d.get(p.Col)
	if !ok {
		return protocol.Response{ID: env.ID, Result: struct {
			Records []recordView `json:"records"`
		}{Records: []recordView{}}}, nil
	}
	recs := c.DocumentRange(p.Doc, p.From, p.To, p.Reverse, p.Limit)
	views := make([]recordView, 0, len(recs))
	for _, r := range recs {
		views = append(views, recordView{TS: r.Timestamp, Data: r.Payload})
	}
	return protocol.Response{ID: env.ID, Result: struct {
		Records []recordView `json:"records"`
	}{Records: views}}, nil
}

// handleDeleteDocument implements ddoc, including its two cascades (§4.5
// step 6): an empty Col clears document across every collection and drops
// any collection left empty; a named Col drops only itself if emptied.
func (d *Dispatcher) handleDeleteDocument(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeDeleteDocument(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	if p.Col == "" {
		for name, c := range d.all() {
			c.ClearDocument(p.Doc)
			d.dropIfEmpty(name)
		}
		return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
	}
	if c, ok := d.get(p.Col); ok {
		c.ClearDocument(p.Doc)
		d.dropIfEmpty(p.Col)
	}
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

func (d *Dispatcher) handleDeleteCollection(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeDeleteCollection(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	d.dropNamed(p.Col)
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

func (d *Dispatcher) handleDeleteRecord(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeDeleteRecord(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	if c, ok := d.get(p.Col); ok {
		c.DeleteRecord(p.Doc, p.TS)
		d.dropIfEmpty(p.Col)
	}
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

// handleDeleteManyRecords implements dmrec: unknown collections within the
// batch are tolerated per-item (§SUPPLEMENTED FEATURES 2).
func (d *Dispatcher) handleDeleteManyRecords(env protocol.Envelope) (protocol.Response, error) {
	items, err := protocol.DecodeDeleteManyRecords(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	touched := make(map[string]struct{})
	for _, item := range items {
		if c, ok := d.get(item.Col); ok {
			c.DeleteRecord(item.Doc, item.TS)
			touched[item.Col] = struct{}{}
		}
	}
	for name := range touched {
		d.dropIfEmpty(name)
	}
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

func (d *Dispatcher) handleDeleteRange(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeDeleteRange(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	if c, ok := d.get(p.Col); ok {
		c.DeleteRange(p.Doc, p.FromTS, p.ToTS)
		d.dropIfEmpty(p.Col)
	}
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

func (d *Dispatcher) handleSetValue(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeSetValue(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	d.getOrCreate(p.Col).SetValue(p.Key, p.Value)
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

func (d *Dispatcher) handleGetValue(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeKeyParams(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	var value string
	if c, ok := d.get(p.Col); ok {
		value, _ = c.GetValue(p.Key)
	}
	return protocol.Response{ID: env.ID, Result: struct {
		Value string `json:"value"`
	}{Value: value}}, nil
}

func (d *Dispatcher) handleGetValues(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeGetValues(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	values := map[string]string{}
	if c, ok := d.get(p.Col); ok {
		values = c.AllValues(protocol.ParseFilter(p.Key))
	}
	return protocol.Response{ID: env.ID, Result: struct {
		Values map[string]string `json:"values"`
	}{Values: values}}, nil
}

func (d *Dispatcher) handleRemoveValue(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeKeyParams(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	if c, ok := d.get(p.Col); ok {
		c.RemoveValue(p.Key)
		d.dropIfEmpty(p.Col)
	}
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

func (d *Dispatcher) handleGetKeys(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeCollectionParams(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	keyList := []string{}
	if c, ok := d.get(p.Col); ok {
		keyList = c.AllKeys()
	}
	return protocol.Response{ID: env.ID, Result: struct {
		Keys []string `json:"keys"`
	}{Keys: keyList}}, nil
}

func (d *Dispatcher) handleManageKeys(env protocol.Envelope) (protocol.Response, error) {
	p, err := protocol.DecodeManageKeys(env.Data)
	if err != nil {
		return protocol.Response{}, err
	}
	switch p.Action {
	case protocol.ManageKeysAdd:
		deletable := true
		if p.Deletable != nil {
			deletable = *p.Deletable
		}
		scope := p.Scope
		if scope == "" {
			scope = keys.ReadOnly
		}
		if err := d.registry.Register(p.Key, scope, deletable); err != nil {
			return protocol.Response{}, err
		}
	case protocol.ManageKeysRemove:
		if err := d.registry.Remove(p.Key); err != nil {
			return protocol.Response{}, err
		}
	}
	return protocol.Response{ID: env.ID, Result: struct{}{}}, nil
}

// recordView is the wire shape of one record in a qry/qdoc response.
type recordView struct {
	TS   int64  `json:"ts"`
	Data string `json:"data"`
}
