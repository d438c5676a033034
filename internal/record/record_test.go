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

package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeriesInsertKeepsSortOrder(t *testing.T) {
	s := NewSeries()
	s.Insert(30, "c", true)
	s.Insert(10, "a", true)
	s.Insert(20, "b", true)

	require.Equal(t, 3, s.Len())
	require.Equal(t, int64(10), s.At(0).Timestamp)
	require.Equal(t, int64(20), s.At(1).Timestamp)
	require.Equal(t, int64(30), s.At(2).Timestamp)
}

func TestSeriesInsertReplacesDuplicateTimestamp(t *testing.T) {
	s := NewSeries()
	s.Insert(10, "first", true)
	s.Insert(10, "second", false)

	require.Equal(t, 1, s.Len())
	rec := s.At(0)
	require.Equal(t, "second", rec.Payload)
	require.False(t, rec.Dirty)
}

func TestSeriesLatest(t *testing.T) {
	s := NewSeries()
	s.Insert(10, "a", true)
	s.Insert(20, "b", true)
	s.Insert(30, "c", true)

	rec, ok := s.Latest(25)
	require.True(t, ok)
	require.Equal(t, int64(20), rec.Timestamp)

	rec, ok = s.Latest(30)
	require.True(t, ok)
	require.Equal(t, int64(30), rec.Timestamp)

	_, ok = s.Latest(5)
	require.False(t, ok)
}

func TestSeriesEarliest(t *testing.T) {
	s := NewSeries()
	s.Insert(10, "a", true)
	s.Insert(20, "b", true)
	s.Insert(30, "c", true)

	rec, ok := s.Earliest(15)
	require.True(t, ok)
	require.Equal(t, int64(20), rec.Timestamp)

	rec, ok = s.Earliest(10)
	require.True(t, ok)
	require.Equal(t, int64(10), rec.Timestamp)

	_, ok = s.Earliest(31)
	require.False(t, ok)
}

func TestSeriesRange(t *testing.T) {
	s := NewSeries()
	for _, ts := range []int64{10, 20, 30, 40, 50} {
		s.Insert(ts, "v", true)
	}

	got := s.Range(20, 40)
	require.Len(t, got, 3)
	require.Equal(t, int64(20), got[0].Timestamp)
	require.Equal(t, int64(40), got[2].Timestamp)

	require.Nil(t, s.Range(100, 200))
	require.Nil(t, s.Range(40, 20))
}

func TestSeriesDeleteAt(t *testing.T) {
	s := NewSeries()
	s.Insert(10, "a", true)
	s.Insert(20, "b", true)

	removed, empty := s.DeleteAt(10)
	require.True(t, removed)
	require.False(t, empty)
	require.Equal(t, 1, s.Len())

	removed, empty = s.DeleteAt(999)
	require.False(t, removed)
	require.False(t, empty)

	removed, empty = s.DeleteAt(20)
	require.True(t, removed)
	require.True(t, empty)
}

func TestSeriesDeleteRange(t *testing.T) {
	s := NewSeries()
	for _, ts := range []int64{10, 20, 30, 40} {
		s.Insert(ts, "v", true)
	}

	removed, empty := s.DeleteRange(15, 35)
	require.True(t, removed)
	require.False(t, empty)
	require.Equal(t, 2, s.Len())
	require.Equal(t, int64(10), s.At(0).Timestamp)
	require.Equal(t, int64(40), s.At(1).Timestamp)

	removed, empty = s.DeleteRange(10, 40)
	require.True(t, removed)
	require.True(t, empty)
}

func TestSeriesCompactsAfterLargeDelete(t *testing.T) {
	s := NewSeries()
	for i := int64(0); i < 100; i++ {
		s.Insert(i, "v", true)
	}
	s.DeleteRange(1, 98)
	require.Equal(t, 2, s.Len())
	require.LessOrEqual(t, cap(s.records), 4)
}
