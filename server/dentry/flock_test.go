// Copyright 2018 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package dentry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlockTableSetGetEvict(t *testing.T) {
	ft := NewFlockTable(4)

	_, ok := ft.Get(1)
	require.False(t, ok)

	ft.Set(1, []FlockEntry{{Owner: "a", Type: 2, Start: 0, Len: 10}})
	entries, ok := ft.Get(1)
	require.True(t, ok)
	require.Len(t, entries, 1)
	require.Equal(t, "a", entries[0].Owner)

	ft.Set(1, nil)
	_, ok = ft.Get(1)
	require.False(t, ok)
}

func TestFlockTableEvictForRemoval(t *testing.T) {
	ft := NewFlockTable(4)
	ft.Set(5, []FlockEntry{{Owner: "b", Type: 1}})
	ft.EvictForRemoval(5)

	_, ok := ft.Get(5)
	require.False(t, ok)
}

func TestFlockTableEvictsLeastRecentlyUsedPastCapacity(t *testing.T) {
	ft := NewFlockTable(2)
	ft.Set(1, []FlockEntry{{Owner: "a"}})
	ft.Set(2, []FlockEntry{{Owner: "b"}})
	ft.Set(3, []FlockEntry{{Owner: "c"}})

	_, ok := ft.Get(1)
	require.False(t, ok, "oldest entry should have been evicted once capacity was exceeded")
}
