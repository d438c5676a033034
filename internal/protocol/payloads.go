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

package protocol

import (
	"encoding/json"
	"fmt"

	"driftdb/internal/dberrors"
	"driftdb/internal/keys"
)

// InsertItem is one element of the "ins" payload array.
type InsertItem struct {
	Col  string `json:"col"`
	Doc  string `json:"doc"`
	TS   int64  `json:"ts"`
	Data string `json:"data"`
}

func (i InsertItem) validate() error {
	if i.Col == "" || i.Doc == "" {
		return dberrors.Protocol(dberrors.CodeInvalidPayload, "ins: col and doc are required")
	}
	if i.TS <= 0 {
		return dberrors.Protocol(dberrors.CodeInvalidPayload, "ins: ts must be > 0")
	}
	return nil
}

// DecodeInsert parses the "ins" payload: a JSON array of InsertItem.
func DecodeInsert(data string) ([]InsertItem, error) {
	var items []InsertItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, dberrors.Protocol(dberrors.CodeInvalidPayload, "ins: malformed payload").WithCause(err)
	}
	for _, item := range items {
		if err := item.validate(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// QuerySessionsParams is the "qry" payload: latest-per-document as of ts,
// optionally scoped to one document by literal name (see
// ParseDocumentFilter), gated to
// records whose own timestamp is >= from.
type QuerySessionsParams struct {
	Col  string `json:"col"`
	TS   int64  `json:"ts"`
	Doc  string `json:"doc"`
	From int64  `json:"from"`
}

func DecodeQuerySessions(data string) (QuerySessionsParams, error) {
	var p QuerySessionsParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "qry: malformed payload").WithCause(err)
	}
	if p.Col == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "qry: col is required")
	}
	return p, nil
}

// QueryDocumentParams is the "qdoc" payload: an inclusive range scan over
// one document.
type QueryDocumentParams struct {
	Col     string `json:"col"`
	Doc     string `json:"doc"`
	From    int64  `json:"from"`
	To      int64  `json:"to"`
	Limit   int    `json:"limit"`
	Reverse bool   `json:"reverse"`
}

func DecodeQueryDocument(data string) (QueryDocumentParams, error) {
	var p QueryDocumentParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "qdoc: malformed payload").WithCause(err)
	}
	if p.Col == "" || p.Doc == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "qdoc: col and doc are required")
	}
	if p.From > p.To {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "qdoc: from must be <= to")
	}
	return p, nil
}

// DeleteDocumentParams is the "ddoc" payload. An empty Col means "every
// collection".
type DeleteDocumentParams struct {
	Col string `json:"col"`
	Doc string `json:"doc"`
}

func DecodeDeleteDocument(data string) (DeleteDocumentParams, error) {
	var p DeleteDocumentParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "ddoc: malformed payload").WithCause(err)
	}
	if p.Doc == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "ddoc: doc is required")
	}
	return p, nil
}

// DeleteCollectionParams is the "dcol" payload.
type DeleteCollectionParams struct {
	Col string `json:"col"`
}

func DecodeDeleteCollection(data string) (DeleteCollectionParams, error) {
	var p DeleteCollectionParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "dcol: malformed payload").WithCause(err)
	}
	if p.Col == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "dcol: col is required")
	}
	return p, nil
}

// DeleteRecordParams is the "drec" payload, and each element of the
// "dmrec" payload array.
type DeleteRecordParams struct {
	Col string `json:"col"`
	Doc string `json:"doc"`
	TS  int64  `json:"ts"`
}

func (p DeleteRecordParams) validate() error {
	if p.Col == "" || p.Doc == "" {
		return dberrors.Protocol(dberrors.CodeInvalidPayload, "drec: col and doc are required")
	}
	return nil
}

func DecodeDeleteRecord(data string) (DeleteRecordParams, error) {
	var p DeleteRecordParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "drec: malformed payload").WithCause(err)
	}
	if err := p.validate(); err != nil {
		return p, err
	}
	return p, nil
}

// DecodeDeleteManyRecords parses the "dmrec" payload: a JSON array of
// DeleteRecordParams. Unknown collections/documents/timestamps within the
// batch are tolerated per-item at dispatch time (§SUPPLEMENTED FEATURES 2).
func DecodeDeleteManyRecords(data string) ([]DeleteRecordParams, error) {
	var items []DeleteRecordParams
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, dberrors.Protocol(dberrors.CodeInvalidPayload, "dmrec: malformed payload").WithCause(err)
	}
	for _, item := range items {
		if err := item.validate(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// DeleteRangeParams is the "drange" payload.
type DeleteRangeParams struct {
	Col    string `json:"col"`
	Doc    string `json:"doc"`
	FromTS int64  `json:"fromTs"`
	ToTS   int64  `json:"toTs"`
}

func DecodeDeleteRange(data string) (DeleteRangeParams, error) {
	var p DeleteRangeParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "drange: malformed payload").WithCause(err)
	}
	if p.Col == "" || p.Doc == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "drange: col and doc are required")
	}
	if p.FromTS > p.ToTS {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "drange: fromTs must be <= toTs")
	}
	return p, nil
}

// SetValueParams is the "sval" payload.
type SetValueParams struct {
	Col   string `json:"col"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func DecodeSetValue(data string) (SetValueParams, error) {
	var p SetValueParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "sval: malformed payload").WithCause(err)
	}
	if p.Col == "" || p.Key == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "sval: col and key are required")
	}
	return p, nil
}

// KeyParams is the "gval"/"rval" payload: one literal key.
type KeyParams struct {
	Col string `json:"col"`
	Key string `json:"key"`
}

func DecodeKeyParams(data string) (KeyParams, error) {
	var p KeyParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "malformed payload").WithCause(err)
	}
	if p.Col == "" || p.Key == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "col and key are required")
	}
	return p, nil
}

// GetValuesParams is the "gvals" payload: every value, optionally scoped
// to keys matching a literal or /regex/ filter.
type GetValuesParams struct {
	Col string `json:"col"`
	Key string `json:"key"`
}

func DecodeGetValues(data string) (GetValuesParams, error) {
	var p GetValuesParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "gvals: malformed payload").WithCause(err)
	}
	if p.Col == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "gvals: col is required")
	}
	return p, nil
}

// CollectionParams is the "gkeys" payload: just a collection name.
type CollectionParams struct {
	Col string `json:"col"`
}

func DecodeCollectionParams(data string) (CollectionParams, error) {
	var p CollectionParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "malformed payload").WithCause(err)
	}
	if p.Col == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "col is required")
	}
	return p, nil
}

// ManageKeysAction is the "action" field of a "keys" payload.
type ManageKeysAction string

const (
	ManageKeysAdd    ManageKeysAction = "add"
	ManageKeysRemove ManageKeysAction = "remove"
)

// ManageKeysParams is the "keys" payload (master-key only).
type ManageKeysParams struct {
	Action    ManageKeysAction `json:"action"`
	Key       string           `json:"key"`
	Scope     keys.Scope       `json:"scope,omitempty"`
	Deletable *bool            `json:"deletable,omitempty"`
}

func DecodeManageKeys(data string) (ManageKeysParams, error) {
	var p ManageKeysParams
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "keys: malformed payload").WithCause(err)
	}
	if p.Key == "" {
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, "keys: key is required")
	}
	switch p.Action {
	case ManageKeysAdd, ManageKeysRemove:
	default:
		return p, dberrors.Protocol(dberrors.CodeInvalidPayload, fmt.Sprintf("keys: unknown action %q", p.Action))
	}
	return p, nil
}
