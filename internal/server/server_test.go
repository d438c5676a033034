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

package server

import (
	"net"
	"net/url"
	"testing"
	"time"

	"driftdb/internal/keys"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// startTestServer binds an ephemeral port and returns a ready *Server plus
// its ws:// base URL.
func startTestServer(t *testing.T, registry *keys.Registry) (*Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv := New(Config{
		ListenAddr:    addr,
		Registry:      registry,
		FlushInterval: time.Hour,
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	// Give the accept loop a moment to be reliably dialable.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return srv, "ws://" + addr
}

func dial(t *testing.T, base, apiKey string) *websocket.Conn {
	t.Helper()
	u := base + "/?api-key=" + url.QueryEscape(apiKey)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	return conn
}

func TestHandshakeRejectsMissingAPIKey(t *testing.T) {
	registry := keys.NewRegistry("master")
	_, base := startTestServer(t, registry)

	u := base + "/"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, 401, resp.StatusCode)
	}
}

func TestHandshakeRejectsUnknownAPIKey(t *testing.T) {
	registry := keys.NewRegistry("master")
	_, base := startTestServer(t, registry)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/?api-key=nope", nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, 401, resp.StatusCode)
	}
}

func TestHandshakeSendsReadyGreeting(t *testing.T) {
	registry := keys.NewRegistry("master")
	_, base := startTestServer(t, registry)

	conn := dial(t, base, "master")
	defer conn.Close()

	var greeting map[string]string
	require.NoError(t, conn.ReadJSON(&greeting))
	require.Equal(t, "ready", greeting["type"])
}

func TestInsertAndQueryRoundTrip(t *testing.T) {
	registry := keys.NewRegistry("master")
	_, base := startTestServer(t, registry)

	conn := dial(t, base, "master")
	defer conn.Close()

	var greeting map[string]string
	require.NoError(t, conn.ReadJSON(&greeting))

	insertFrame := `{"id":"1","type":"ins","data":"[{\"col\":\"sensors\",\"doc\":\"d1\",\"ts\":100,\"data\":\"payload\"}]"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(insertFrame)))

	var insertResp map[string]interface{}
	require.NoError(t, conn.ReadJSON(&insertResp))
	require.Equal(t, "1", insertResp["id"])
	require.Nil(t, insertResp["error"])

	queryFrame := `{"id":"2","type":"qry","data":"{\"col\":\"sensors\",\"ts\":100}"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(queryFrame)))

	var queryResp map[string]interface{}
	require.NoError(t, conn.ReadJSON(&queryResp))
	require.Equal(t, "2", queryResp["id"])
	records, ok := queryResp["records"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, records, "d1")
}

func TestReadOnlyKeyCannotInsert(t *testing.T) {
	registry := keys.NewRegistry("master")
	require.NoError(t, registry.Register("readkey", keys.ReadOnly, true))
	_, base := startTestServer(t, registry)

	conn := dial(t, base, "readkey")
	defer conn.Close()

	var greeting map[string]string
	require.NoError(t, conn.ReadJSON(&greeting))

	insertFrame := `{"id":"1","type":"ins","data":"[]"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(insertFrame)))

	var resp map[string]interface{}
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "permission denied", resp["error"])
}

func TestInBandAuthMessageIsRejected(t *testing.T) {
	registry := keys.NewRegistry("master")
	_, base := startTestServer(t, registry)

	conn := dial(t, base, "master")
	defer conn.Close()

	var greeting map[string]string
	require.NoError(t, conn.ReadJSON(&greeting))

	authFrame := `{"id":"1","type":"auth","data":"{}"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(authFrame)))

	var resp map[string]interface{}
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotEmpty(t, resp["error"])
}
