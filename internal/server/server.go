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
Package server hosts driftdb's WebSocket endpoint: handshake
authentication, the per-connection read loop that feeds
internal/dispatcher, and the periodic flush ticker.
*/
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"driftdb/internal/crypto"
	"driftdb/internal/dispatcher"
	"driftdb/internal/keys"
	"driftdb/internal/logging"
	"driftdb/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var log = logging.NewLogger("server")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config configures one Server instance.
type Config struct {
	ListenAddr     string
	DataDir        string
	FlushInterval  time.Duration
	Registry       *keys.Registry
	Encryptor      *crypto.Encryptor
}

// Server accepts WebSocket connections, authenticates them against an API
// key registry, and dispatches every inbound frame through a Dispatcher.
// Only one Server instance is expected per process, matching spec.md §5's
// single-writer model: every mutation reaches collection state through
// the shared Dispatcher's own locking.
type Server struct {
	cfg        Config
	dispatcher *dispatcher.Dispatcher
	httpServer *http.Server

	listenersMu sync.Mutex
	listener    net.Listener
	stopped     bool
	stopCh      chan struct{}

	sessionsMu sync.Mutex
	sessions   map[string]*session
}

type session struct {
	id     string
	apiKey string
	scope  keys.Scope
	conn   *websocket.Conn
	send   chan protocol.Response
	once   sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// New creates a Server and its backing Dispatcher. Call LoadAll before
// Start if cfg.DataDir is non-empty, per §4.6 step 2.
func New(cfg Config) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher.New(cfg.Registry, cfg.DataDir, cfg.Encryptor),
		stopCh:     make(chan struct{}),
		sessions:   make(map[string]*session),
	}
}

// LoadAll replays every collection subdirectory under cfg.DataDir, per
// §4.6 step 2. No-op if DataDir is empty.
func (s *Server) LoadAll() error {
	if s.cfg.DataDir == "" {
		return nil
	}
	names, err := collectionSubdirs(s.cfg.DataDir)
	if err != nil {
		return err
	}
	s.dispatcher.LoadAll(names)
	return nil
}

// Start binds the listener, begins the accept loop in the background, and
// starts the flush ticker. It returns once the listener is bound
// successfully; Start does not block.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		log.Error("failed to bind listener", "address", s.cfg.ListenAddr, "error", err)
		return err
	}

	s.listenersMu.Lock()
	s.listener = ln
	s.listenersMu.Unlock()

	s.httpServer = &http.Server{Handler: mux}

	log.Info("listening", "address", s.cfg.ListenAddr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("server exited", "error", err)
		}
	}()

	go s.flushLoop()
	return nil
}

// Stop closes the listener and every active session, then performs one
// final flush, per §4.6 step 7 / §5's graceful-shutdown rule.
func (s *Server) Stop() error {
	s.listenersMu.Lock()
	if s.stopped {
		s.listenersMu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.listenersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Warn("error shutting down http server", "error", err)
		}
	}

	s.sessionsMu.Lock()
	for _, sess := range s.sessions {
		sess.conn.Close()
	}
	s.sessionsMu.Unlock()

	s.dispatcher.FlushAll(keyRegistryPath(s.cfg.DataDir))
	log.Info("server stopped, final flush complete")
	return nil
}

// flushLoop periodically flushes every collection and the key registry,
// per §4.6 step 6.
func (s *Server) flushLoop() {
	interval := s.cfg.FlushInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatcher.FlushAll(keyRegistryPath(s.cfg.DataDir))
		}
	}
}

// handleUpgrade implements §4.6 step 4: extract api-key from the query
// string; if it is absent or unknown, refuse the request with HTTP 401 and
// the text "Missing API key parameter" or "Unknown API key" before any
// upgrade, so the client sees a failed handshake and no WebSocket close
// frame (policy-violation or otherwise) is sent. Otherwise register the
// session and send the ready greeting.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api-key")
	if apiKey == "" {
		http.Error(w, "Missing API key parameter", http.StatusUnauthorized)
		return
	}
	entry, ok := s.cfg.Registry.Lookup(apiKey)
	if !ok {
		http.Error(w, "Unknown API key", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		apiKey: apiKey,
		scope:  entry.Scope,
		conn:   conn,
		send:   make(chan protocol.Response, 64),
	}
	s.registerSession(sess)

	connLog := log.With("session", sess.id, "remote_addr", r.RemoteAddr)
	connLog.Info("session authenticated")

	go s.writePump(sess, connLog)
	s.readPump(sess, connLog)
}

func (s *Server) registerSession(sess *session) {
	s.sessionsMu.Lock()
	s.sessions[sess.id] = sess
	s.sessionsMu.Unlock()
}

func (s *Server) unregisterSession(sess *session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess.id)
	s.sessionsMu.Unlock()
}

// writePump drains sess.send to the connection and sends periodic pings,
// grounded on the gorilla/websocket writer-goroutine pattern.
func (s *Server) writePump(sess *session, connLog *logging.ContextLogger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case resp, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			body, err := resp.Encode()
			if err != nil {
				connLog.Warn("failed to encode response", "error", err)
				continue
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				connLog.Warn("write error", "error", err)
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames, dispatches them, and queues responses onto
// sess.send until the connection closes or the dispatcher says to.
func (s *Server) readPump(sess *session, connLog *logging.ContextLogger) {
	start := time.Now()
	defer func() {
		s.unregisterSession(sess)
		sess.close()
		connLog.Info("session closed", "duration", time.Since(start).String())
	}()

	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.sendGreeting(sess)

	disp := &dispatcher.Session{ID: sess.id, APIKey: sess.apiKey, Scope: sess.scope}

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			break
		}
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			connLog.Warn("malformed frame, closing connection", "error", err)
			break
		}

		outcome := s.dispatcher.Dispatch(disp, env)
		if outcome.Response.ID != "" || outcome.Response.Error != "" {
			select {
			case sess.send <- outcome.Response:
			default:
				connLog.Warn("send buffer full, dropping response", "id", outcome.Response.ID)
			}
		}
		if outcome.Close {
			break
		}
	}
}

func (s *Server) sendGreeting(sess *session) {
	greeting, _ := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{Type: "ready", Message: "Authentication successful"})
	sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	sess.conn.WriteMessage(websocket.TextMessage, greeting)
}

func keyRegistryPath(dataDir string) string {
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "config", "api_keys.json")
}
