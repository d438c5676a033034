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
	"strings"

	"github.com/dlclark/regexp2"
)

// FilterKind distinguishes an unset filter (match everything), a literal
// string match, and a compiled regex match.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterLiteral
	FilterRegex
)

// Filter is a parsed /pattern/flags (or plain literal) string, resolved
// once by the protocol layer so Collection never re-parses a raw filter
// string itself (see DESIGN.md's qry doc-vs-regex Open Question
// resolution).
type Filter struct {
	Kind    FilterKind
	Literal string
	regex   *regexp2.Regexp
}

// ParseFilter builds a Filter from raw, as used for the "gvals" key
// filter. An empty string yields FilterNone (match everything). A
// non-empty raw is tried as /pattern/flags first and falls back to a
// literal match only if it is not in that form or fails to compile. The
// "qry" document field uses ParseDocumentFilter instead, which never
// builds a regex.
func ParseFilter(raw string) Filter {
	if raw == "" {
		return Filter{Kind: FilterNone}
	}
	if re, ok := compileSlashForm(raw); ok {
		return Filter{Kind: FilterRegex, regex: re}
	}
	return Filter{Kind: FilterLiteral, Literal: raw}
}

// ParseDocumentFilter resolves the "qry" payload's doc field: a non-empty
// value is always a literal match (the regex form is never consulted when
// an explicit document name is given), per spec's resolution of the
// doc-vs-regex ambiguity.
func ParseDocumentFilter(doc string) Filter {
	if doc == "" {
		return Filter{Kind: FilterNone}
	}
	return Filter{Kind: FilterLiteral, Literal: doc}
}

// Match reports whether s satisfies the filter.
func (f Filter) Match(s string) bool {
	switch f.Kind {
	case FilterNone:
		return true
	case FilterLiteral:
		return s == f.Literal
	case FilterRegex:
		ok, _ := f.regex.MatchString(s)
		return ok
	default:
		return false
	}
}

// compileSlashForm parses a /pattern/flags string (flags subset of
// "ims") into a regexp2.Regexp. Returns ok=false if raw isn't in that
// form, or the pattern fails to compile — callers then fall back to a
// literal match, per §4.2.
func compileSlashForm(raw string) (*regexp2.Regexp, bool) {
	if len(raw) < 2 || raw[0] != '/' {
		return nil, false
	}
	lastSlash := strings.LastIndexByte(raw, '/')
	if lastSlash <= 0 {
		return nil, false
	}
	pattern := raw[1:lastSlash]
	flags := raw[lastSlash+1:]

	opts := regexp2.None
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		default:
			return nil, false
		}
	}

	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, false
	}
	return re, true
}
