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
Package client is a Go client for driftdb's WebSocket protocol: connect
with a scoped API key, issue request/response operations keyed by
correlation id, and reconnect with backoff on an unexpected drop.
*/
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"driftdb/internal/keys"
	"driftdb/internal/protocol"

	"github.com/gorilla/websocket"
)

// Record mirrors one timestamped value in a document's series.
type Record struct {
	TS   int64  `json:"ts"`
	Data string `json:"data"`
}

// Client is a driftdb WebSocket client. A Client is safe for concurrent
// use by multiple goroutines.
type Client struct {
	url    string
	apiKey string

	connMu sync.Mutex
	conn   *websocket.Conn

	inflightMu sync.Mutex
	inflight   map[string]chan json.RawMessage

	maxReconnectAttempts int
	reconnectInterval    time.Duration
	requestTimeout       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Client for wsURL (e.g. "ws://localhost:7070") authenticating
// with apiKey. Connect must be called before issuing any operation.
func New(wsURL, apiKey string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:                   wsURL,
		apiKey:                apiKey,
		inflight:              make(map[string]chan json.RawMessage),
		maxReconnectAttempts:  5,
		reconnectInterval:     5 * time.Second,
		requestTimeout:        30 * time.Second,
		ctx:                   ctx,
		cancel:                cancel,
	}
}

// Connect dials the server, appending apiKey to the connection URL's
// api-key query parameter, per driftdb's handshake-at-URL auth model.
func (c *Client) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	q := u.Query()
	q.Set("api-key", c.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	var greeting map[string]interface{}
	if err := conn.ReadJSON(&greeting); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read handshake greeting: %w", err)
	}

	c.conn = conn
	go c.readLoop()
	return nil
}

// Close cancels the client's background loop and closes the connection.
func (c *Client) Close() {
	c.cancel()
	time.Sleep(50 * time.Millisecond)
	c.cleanup()
}

func (c *Client) cleanup() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.inflightMu.Lock()
	for id, ch := range c.inflight {
		close(ch)
		delete(c.inflight, id)
	}
	c.inflightMu.Unlock()
}

func (c *Client) readLoop() {
	defer c.cleanup()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
				go c.reconnect()
				return
			}
		}

		var envelope struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.ID == "" {
			continue
		}

		c.inflightMu.Lock()
		ch, ok := c.inflight[envelope.ID]
		if ok {
			delete(c.inflight, envelope.ID)
		}
		c.inflightMu.Unlock()
		if ok {
			ch <- raw
		}
	}
}

func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectInterval):
		}
		if err := c.Connect(); err == nil {
			return
		}
	}
}

// send marshals a request payload, writes the envelope, and waits for the
// matching-id response, unmarshaling it into result.
func (c *Client) send(msgType protocol.MessageType, payload interface{}, result interface{}) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		if err := c.Connect(); err != nil {
			return err
		}
		c.connMu.Lock()
		conn = c.conn
		c.connMu.Unlock()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	id := generateID()
	respCh := make(chan json.RawMessage, 1)
	c.inflightMu.Lock()
	c.inflight[id] = respCh
	c.inflightMu.Unlock()

	env := protocol.Envelope{ID: id, Type: msgType, Data: string(data)}
	// gorilla/websocket allows one concurrent writer per connection.
	c.connMu.Lock()
	err = conn.WriteJSON(env)
	c.connMu.Unlock()
	if err != nil {
		c.inflightMu.Lock()
		delete(c.inflight, id)
		c.inflightMu.Unlock()
		return fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case raw, ok := <-respCh:
		if !ok {
			return errors.New("connection closed while waiting for response")
		}
		var errEnvelope struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &errEnvelope); err == nil && errEnvelope.Error != "" {
			return errors.New(errEnvelope.Error)
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(raw, result)
	case <-time.After(c.requestTimeout):
		c.inflightMu.Lock()
		delete(c.inflight, id)
		c.inflightMu.Unlock()
		return errors.New("request timeout")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func generateID() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 16)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

// Insert appends one record to a document.
func (c *Client) Insert(col, doc string, ts int64, data string) error {
	return c.InsertMany([]protocol.InsertItem{{Col: col, Doc: doc, TS: ts, Data: data}})
}

// InsertMany appends several records in one round trip.
func (c *Client) InsertMany(items []protocol.InsertItem) error {
	var result struct{}
	return c.send(protocol.TypeInsert, items, &result)
}

// QuerySessions returns, for every document matching the optional doc
// filter, the latest record as of ts.
func (c *Client) QuerySessions(col string, ts int64, doc string, from int64) (map[string]Record, error) {
	params := protocol.QuerySessionsParams{Col: col, TS: ts, Doc: doc, From: from}
	var result struct {
		Records map[string]Record `json:"records"`
	}
	if err := c.send(protocol.TypeQuerySessions, params, &result); err != nil {
		return nil, err
	}
	return result.Records, nil
}

// ListCollections returns every currently non-empty collection name.
func (c *Client) ListCollections() ([]string, error) {
	var result struct {
		Collections []string `json:"collections"`
	}
	if err := c.send(protocol.TypeListCollections, struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Collections, nil
}

// QueryDocument returns every record for doc with from <= ts <= to.
func (c *Client) QueryDocument(col, doc string, from, to int64, limit int, reverse bool) ([]Record, error) {
	params := protocol.QueryDocumentParams{Col: col, Doc: doc, From: from, To: to, Limit: limit, Reverse: reverse}
	var result struct {
		Records []Record `json:"records"`
	}
	if err := c.send(protocol.TypeQueryDocument, params, &result); err != nil {
		return nil, err
	}
	return result.Records, nil
}

// DeleteDocument clears doc. An empty col clears it across every
// collection.
func (c *Client) DeleteDocument(col, doc string) error {
	params := protocol.DeleteDocumentParams{Col: col, Doc: doc}
	var result struct{}
	return c.send(protocol.TypeDeleteDocument, params, &result)
}

// DeleteCollection drops col entirely.
func (c *Client) DeleteCollection(col string) error {
	params := protocol.DeleteCollectionParams{Col: col}
	var result struct{}
	return c.send(protocol.TypeDeleteCollection, params, &result)
}

// DeleteRecord removes the record at ts in doc.
func (c *Client) DeleteRecord(col, doc string, ts int64) error {
	params := protocol.DeleteRecordParams{Col: col, Doc: doc, TS: ts}
	var result struct{}
	return c.send(protocol.TypeDeleteRecord, params, &result)
}

// DeleteManyRecords removes several records in one round trip.
func (c *Client) DeleteManyRecords(items []protocol.DeleteRecordParams) error {
	var result struct{}
	return c.send(protocol.TypeDeleteManyRecords, items, &result)
}

// DeleteRange removes every record in doc with fromTS <= ts <= toTS.
func (c *Client) DeleteRange(col, doc string, fromTS, toTS int64) error {
	params := protocol.DeleteRangeParams{Col: col, Doc: doc, FromTS: fromTS, ToTS: toTS}
	var result struct{}
	return c.send(protocol.TypeDeleteRange, params, &result)
}

// SetValue sets key to value in col's kv namespace.
func (c *Client) SetValue(col, key, value string) error {
	params := protocol.SetValueParams{Col: col, Key: key, Value: value}
	var result struct{}
	return c.send(protocol.TypeSetValue, params, &result)
}

// GetValue returns the value for key in col.
func (c *Client) GetValue(col, key string) (string, error) {
	params := protocol.KeyParams{Col: col, Key: key}
	var result struct {
		Value string `json:"value"`
	}
	if err := c.send(protocol.TypeGetValue, params, &result); err != nil {
		return "", err
	}
	return result.Value, nil
}

// GetValues returns every key/value pair in col, optionally scoped to a
// literal or /regex/ key filter.
func (c *Client) GetValues(col, keyFilter string) (map[string]string, error) {
	params := protocol.GetValuesParams{Col: col, Key: keyFilter}
	var result struct {
		Values map[string]string `json:"values"`
	}
	if err := c.send(protocol.TypeGetValues, params, &result); err != nil {
		return nil, err
	}
	return result.Values, nil
}

// RemoveValue deletes key from col's kv namespace.
func (c *Client) RemoveValue(col, key string) error {
	params := protocol.KeyParams{Col: col, Key: key}
	var result struct{}
	return c.send(protocol.TypeRemoveValue, params, &result)
}

// GetKeys returns every key in col's kv namespace.
func (c *Client) GetKeys(col string) ([]string, error) {
	params := protocol.CollectionParams{Col: col}
	var result struct {
		Keys []string `json:"keys"`
	}
	if err := c.send(protocol.TypeGetKeys, params, &result); err != nil {
		return nil, err
	}
	return result.Keys, nil
}

// AddAPIKey registers a new scoped API key. Requires the master key.
func (c *Client) AddAPIKey(key string, scope keys.Scope) error {
	params := protocol.ManageKeysParams{Action: protocol.ManageKeysAdd, Key: key, Scope: scope}
	var result struct{}
	return c.send(protocol.TypeManageKeys, params, &result)
}

// RemoveAPIKey revokes a previously registered API key. Requires the
// master key.
func (c *Client) RemoveAPIKey(key string) error {
	params := protocol.ManageKeysParams{Action: protocol.ManageKeysRemove, Key: key}
	var result struct{}
	return c.send(protocol.TypeManageKeys, params, &result)
}
