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
Package record implements the time-ordered record type and the sorted,
per-document series that Collection builds on.

A Record is a (timestamp, payload) pair plus a dirty flag used by the
persistence layer: dirty is true from insertion until the next successful
flush writes it to disk, and false for anything sourced from disk. Records
are value-like; Series never mutates a Record's timestamp or payload after
insertion except by replacing the whole slot (see Series.Insert).

Series keeps its records strictly sorted by timestamp ascending with no
duplicate timestamps, and answers pivot/range queries with binary search
instead of linear scan.
*/
package record

import "sort"

// Record is a single timestamped entry in a document's series.
type Record struct {
	Timestamp int64
	Payload   string
	Dirty     bool
}

// Series is the sorted sequence of records for one document. The zero
// value is an empty series, the same value NewSeries returns.
type Series struct {
	records []Record
}

// NewSeries returns an empty series.
func NewSeries() *Series {
	return &Series{}
}

// Len returns the number of records in the series.
func (s *Series) Len() int {
	return len(s.records)
}

// Insert upserts (ts, payload, dirty) into the series, preserving sort
// order. If a record already exists at ts, it is replaced in place;
// otherwise a new record is inserted at the correct position.
func (s *Series) Insert(ts int64, payload string, dirty bool) {
	idx := lowerBound(s.records, ts)
	if idx < len(s.records) && s.records[idx].Timestamp == ts {
		s.records[idx].Payload = payload
		s.records[idx].Dirty = dirty
		return
	}
	s.records = append(s.records, Record{})
	copy(s.records[idx+1:], s.records[idx:])
	s.records[idx] = Record{Timestamp: ts, Payload: payload, Dirty: dirty}
}

// LatestIndex returns the index of the greatest record with
// Timestamp <= pivot, and true, or (0, false) if no such record exists.
func (s *Series) LatestIndex(pivot int64) (int, bool) {
	if len(s.records) == 0 {
		return 0, false
	}
	idx := upperBound(s.records, pivot)
	if idx == 0 {
		return 0, false
	}
	return idx - 1, true
}

// EarliestIndex returns the index of the smallest record with
// Timestamp >= pivot, and true, or (0, false) if no such record exists.
func (s *Series) EarliestIndex(pivot int64) (int, bool) {
	idx := lowerBound(s.records, pivot)
	if idx >= len(s.records) {
		return 0, false
	}
	return idx, true
}

// At returns the record at position i. The caller must have validated i
// via LatestIndex/EarliestIndex or a range derived from them.
func (s *Series) At(i int) Record {
	return s.records[i]
}

// Latest returns the record with the greatest Timestamp <= pivot.
func (s *Series) Latest(pivot int64) (Record, bool) {
	idx, ok := s.LatestIndex(pivot)
	if !ok {
		return Record{}, false
	}
	return s.records[idx], true
}

// Earliest returns the record with the smallest Timestamp >= pivot.
func (s *Series) Earliest(pivot int64) (Record, bool) {
	idx, ok := s.EarliestIndex(pivot)
	if !ok {
		return Record{}, false
	}
	return s.records[idx], true
}

// Range returns every record with from <= Timestamp <= to, ascending.
// Returns nil if from > to or no record falls in range.
func (s *Series) Range(from, to int64) []Record {
	if from > to {
		return nil
	}
	start := lowerBound(s.records, from)
	end := upperBound(s.records, to)
	if start >= end {
		return nil
	}
	out := make([]Record, end-start)
	copy(out, s.records[start:end])
	return out
}

// DeleteAt removes the record at ts, if present. It is a no-op otherwise.
// Reports whether a record was removed and whether the series is now empty.
func (s *Series) DeleteAt(ts int64) (removed bool, empty bool) {
	idx := lowerBound(s.records, ts)
	if idx >= len(s.records) || s.records[idx].Timestamp != ts {
		return false, len(s.records) == 0
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	s.compact()
	return true, len(s.records) == 0
}

// DeleteRange removes every record with from <= Timestamp <= to.
// Reports whether the series is now empty.
func (s *Series) DeleteRange(from, to int64) (removed bool, empty bool) {
	start := lowerBound(s.records, from)
	end := upperBound(s.records, to)
	if start >= end {
		return false, len(s.records) == 0
	}
	s.records = append(s.records[:start], s.records[end:]...)
	s.compact()
	return true, len(s.records) == 0
}

// compact rebuilds the backing array when capacity has drifted to more
// than twice the live size. This is purely a memory hint; nothing
// observable depends on when, or whether, it runs.
func (s *Series) compact() {
	if cap(s.records) > 0 && len(s.records)*2 < cap(s.records) {
		fresh := make([]Record, len(s.records))
		copy(fresh, s.records)
		s.records = fresh
	}
}

// lowerBound returns the index of the first record with Timestamp >= ts.
func lowerBound(records []Record, ts int64) int {
	return sort.Search(len(records), func(i int) bool {
		return records[i].Timestamp >= ts
	})
}

// upperBound returns the index of the first record with Timestamp > ts.
func upperBound(records []Record, ts int64) int {
	return sort.Search(len(records), func(i int) bool {
		return records[i].Timestamp > ts
	})
}
