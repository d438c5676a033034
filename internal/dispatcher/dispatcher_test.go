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

package dispatcher

import (
	"testing"

	"driftdb/internal/keys"
	"driftdb/internal/protocol"

	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *Dispatcher {
	registry := keys.NewRegistry("master")
	return New(registry, "", nil)
}

func sessionWith(scope keys.Scope) *Session {
	return &Session{ID: "s1", APIKey: "key1", Scope: scope}
}

func TestDispatchAuthIsRejectedInBand(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(sessionWith(keys.ReadWriteDelete), protocol.Envelope{ID: "1", Type: protocol.TypeAuth})
	require.False(t, out.Close)
	require.NotEmpty(t, out.Response.Error)
}

func TestDispatchClosesUnscopedSession(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(&Session{ID: "s1"}, protocol.Envelope{ID: "1", Type: protocol.TypeListCollections})
	require.True(t, out.Close)
}

func TestDispatchDeniesInsufficientScope(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(sessionWith(keys.ReadOnly), protocol.Envelope{ID: "1", Type: protocol.TypeInsert, Data: `[]`})
	require.Equal(t, "permission denied", out.Response.Error)
	require.False(t, out.Close)
}

func TestDispatchClosesOnMalformedPayload(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(sessionWith(keys.ReadWriteDelete), protocol.Envelope{ID: "1", Type: protocol.TypeInsert, Data: `not json`})
	require.True(t, out.Close)
}

func TestInsertCreatesCollectionOnDemand(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(sessionWith(keys.ReadWriteDelete), protocol.Envelope{
		ID: "1", Type: protocol.TypeInsert,
		Data: `[{"col":"sensors","doc":"d1","ts":100,"data":"payload"}]`,
	})
	require.False(t, out.Close)
	require.Empty(t, out.Response.Error)

	_, ok := d.get("sensors")
	require.True(t, ok)
}

func TestQuerySessionsOnMissingCollectionReturnsEmpty(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(sessionWith(keys.ReadOnly), protocol.Envelope{
		ID: "1", Type: protocol.TypeQuerySessions, Data: `{"col":"missing","ts":100}`,
	})
	require.Empty(t, out.Response.Error)
	result, ok := out.Response.Result.(struct {
		Records map[string]recordView `json:"records"`
	})
	require.True(t, ok)
	require.Empty(t, result.Records)
}

func TestDeleteRecordOnMissingCollectionIsSilentNoOp(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch(sessionWith(keys.ReadWriteDelete), protocol.Envelope{
		ID: "1", Type: protocol.TypeDeleteRecord, Data: `{"col":"missing","doc":"d1","ts":100}`,
	})
	require.Empty(t, out.Response.Error)
	require.False(t, out.Close)
}

func TestDeleteDocumentWithoutCollectionCascadesAcrossAll(t *testing.T) {
	d := newTestDispatcher()
	session := sessionWith(keys.ReadWriteDelete)

	d.Dispatch(session, protocol.Envelope{
		ID: "1", Type: protocol.TypeInsert,
		Data: `[{"col":"a","doc":"shared","ts":1,"data":"x"},{"col":"b","doc":"shared","ts":1,"data":"y"},{"col":"b","doc":"other","ts":1,"data":"z"}]`,
	})

	out := d.Dispatch(session, protocol.Envelope{
		ID: "2", Type: protocol.TypeDeleteDocument, Data: `{"doc":"shared"}`,
	})
	require.Empty(t, out.Response.Error)

	_, aExists := d.get("a")
	require.False(t, aExists, "collection a should be dropped once emptied")

	bCol, bExists := d.get("b")
	require.True(t, bExists, "collection b retains the untouched 'other' document")
	require.Equal(t, 1, bCol.DocumentCount())
}

func TestDeleteDocumentWithCollectionDropsOnlyThatOne(t *testing.T) {
	d := newTestDispatcher()
	session := sessionWith(keys.ReadWriteDelete)

	d.Dispatch(session, protocol.Envelope{
		ID: "1", Type: protocol.TypeInsert,
		Data: `[{"col":"a","doc":"shared","ts":1,"data":"x"},{"col":"b","doc":"shared","ts":1,"data":"y"}]`,
	})

	out := d.Dispatch(session, protocol.Envelope{
		ID: "2", Type: protocol.TypeDeleteDocument, Data: `{"col":"a","doc":"shared"}`,
	})
	require.Empty(t, out.Response.Error)

	_, aExists := d.get("a")
	require.False(t, aExists)
	_, bExists := d.get("b")
	require.True(t, bExists)
}

func TestManageKeysRequiresMasterKey(t *testing.T) {
	d := newTestDispatcher()
	nonMaster := &Session{ID: "s2", APIKey: "other", Scope: keys.ReadWriteDelete}
	out := d.Dispatch(nonMaster, protocol.Envelope{
		ID: "1", Type: protocol.TypeManageKeys,
		Data: `{"action":"add","key":"newkey","scope":"readonly"}`,
	})
	require.Equal(t, "permission denied", out.Response.Error)
}

func TestManageKeysAddByMaster(t *testing.T) {
	registry := keys.NewRegistry("master")
	d := New(registry, "", nil)
	master := &Session{ID: "s1", APIKey: "master", Scope: keys.ReadWriteDelete}

	out := d.Dispatch(master, protocol.Envelope{
		ID: "1", Type: protocol.TypeManageKeys,
		Data: `{"action":"add","key":"newkey","scope":"readonly"}`,
	})
	require.Empty(t, out.Response.Error)

	entry, ok := registry.Lookup("newkey")
	require.True(t, ok)
	require.Equal(t, keys.ReadOnly, entry.Scope)
}

func TestSetAndGetValueRoundTrip(t *testing.T) {
	d := newTestDispatcher()
	session := sessionWith(keys.ReadWriteDelete)

	d.Dispatch(session, protocol.Envelope{
		ID: "1", Type: protocol.TypeSetValue, Data: `{"col":"cfg","key":"mode","value":"on"}`,
	})
	out := d.Dispatch(session, protocol.Envelope{
		ID: "2", Type: protocol.TypeGetValue, Data: `{"col":"cfg","key":"mode"}`,
	})
	result, ok := out.Response.Result.(struct {
		Value string `json:"value"`
	})
	require.True(t, ok)
	require.Equal(t, "on", result.Value)
}

func TestRemoveValueDropsEmptiedCollection(t *testing.T) {
	d := newTestDispatcher()
	session := sessionWith(keys.ReadWriteDelete)

	d.Dispatch(session, protocol.Envelope{
		ID: "1", Type: protocol.TypeSetValue, Data: `{"col":"cfg","key":"mode","value":"on"}`,
	})
	d.Dispatch(session, protocol.Envelope{
		ID: "2", Type: protocol.TypeRemoveValue, Data: `{"col":"cfg","key":"mode"}`,
	})

	_, ok := d.get("cfg")
	require.False(t, ok)
}
