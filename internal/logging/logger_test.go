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

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: WARN, Output: &buf, JSONMode: false})
	defer Configure(DefaultConfig())

	log := NewLogger("test")
	log.Info("should not appear")
	require.Empty(t, buf.String())

	log.Warn("should appear")
	require.Contains(t, buf.String(), "should appear")
}

func TestLoggerJSONMode(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: DEBUG, Output: &buf, JSONMode: true})
	defer Configure(DefaultConfig())

	log := NewLogger("dispatcher")
	log.Info("session opened", "session", "abc-123", "scope", "rw")

	var entry Entry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "INFO", entry.Level)
	require.Equal(t, "dispatcher", entry.Component)
	require.Equal(t, "abc-123", entry.Fields["session"])
}

func TestContextLoggerMergesFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: DEBUG, Output: &buf, JSONMode: false})
	defer Configure(DefaultConfig())

	log := NewLogger("server").With("session", "s1")
	log.Error("request failed", "error", "boom")

	line := buf.String()
	require.True(t, strings.Contains(line, "session=s1"))
	require.True(t, strings.Contains(line, "error=boom"))
}
