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
Package protocol decodes and encodes driftdb's wire envelope and the
per-type payload schemas carried inside it, and parses the `/pattern/flags`
document/key filter grammar used by a handful of read operations.
*/
package protocol

import (
	"encoding/json"

	"driftdb/internal/dberrors"
	"driftdb/internal/keys"
)

// MessageType is one of the canonical short type codes in the envelope's
// "type" field.
type MessageType string

const (
	TypeInsert              MessageType = "ins"
	TypeQuerySessions        MessageType = "qry"
	TypeListCollections      MessageType = "cols"
	TypeQueryDocument        MessageType = "qdoc"
	TypeDeleteDocument       MessageType = "ddoc"
	TypeDeleteCollection     MessageType = "dcol"
	TypeDeleteRecord         MessageType = "drec"
	TypeDeleteManyRecords    MessageType = "dmrec"
	TypeDeleteRange          MessageType = "drange"
	TypeSetValue             MessageType = "sval"
	TypeGetValue             MessageType = "gval"
	TypeGetValues            MessageType = "gvals"
	TypeRemoveValue          MessageType = "rval"
	TypeGetKeys              MessageType = "gkeys"
	TypeManageKeys           MessageType = "keys"
	TypeAuth                 MessageType = "auth"
)

// RequiredPermission maps a message type to the scope it demands. Unknown
// types return (0, false).
func RequiredPermission(t MessageType) (keys.Permission, bool) {
	switch t {
	case TypeInsert, TypeSetValue:
		return keys.PermWrite, true
	case TypeQuerySessions, TypeListCollections, TypeQueryDocument,
		TypeGetValue, TypeGetValues, TypeGetKeys:
		return keys.PermRead, true
	case TypeDeleteDocument, TypeDeleteCollection, TypeDeleteRecord,
		TypeDeleteManyRecords, TypeDeleteRange, TypeRemoveValue:
		return keys.PermDelete, true
	case TypeManageKeys:
		return keys.PermManageKeys, true
	default:
		return 0, false
	}
}

// Envelope is the on-wire frame: data is itself a JSON-encoded string
// holding the type-specific payload.
type Envelope struct {
	ID   string      `json:"id"`
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

// DecodeEnvelope parses a raw text frame into an Envelope. A frame that is
// not valid JSON, or is missing id/type, is a malformed-frame protocol
// error (§7 kind 1): the caller must close the connection.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, dberrors.Protocol(dberrors.CodeMalformedFrame, "invalid envelope JSON").WithCause(err)
	}
	if env.ID == "" || env.Type == "" {
		return Envelope{}, dberrors.Protocol(dberrors.CodeMalformedFrame, "envelope missing id or type")
	}
	return env, nil
}

// Response is the outbound envelope shape. Result holds the operation's
// result fields (merged at the top level on encode); Error, when set,
// means Result is ignored.
type Response struct {
	ID     string
	Error  string
	Result interface{}
}

// Encode renders a Response as the wire JSON object: {"id":..., <result
// fields>} or {"id":..., "error":...} for a failed request.
func (r Response) Encode() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			ID    string `json:"id"`
			Error string `json:"error"`
		}{ID: r.ID, Error: r.Error})
	}

	// Merge ID into the result object by round-tripping through a map, so
	// callers can supply any result struct without needing to embed ID.
	resultBytes, err := json.Marshal(r.Result)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(resultBytes, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	idBytes, err := json.Marshal(r.ID)
	if err != nil {
		return nil, err
	}
	fields["id"] = idBytes
	return json.Marshal(fields)
}

// ErrorResponse builds a Response carrying an in-band error, per §4.5 step
// 3 ("permission denied") and similar business-level failures.
func ErrorResponse(id, message string) Response {
	return Response{ID: id, Error: message}
}
