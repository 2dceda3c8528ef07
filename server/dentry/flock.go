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
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// FlockEntry is one advisory lock record held against an inode.
type FlockEntry struct {
	Owner string
	Type  int // 0=unlock 1=read 2=write
	Start int64
	Len   int64
}

// FlockTable is the optional per-inode advisory lock side index
// referenced by C2: bounded so a client that opens and locks many
// inodes without ever unlocking cannot grow it unboundedly, since a
// lock's lifetime is bounded by its owning dentry's lifetime rather
// than tracked independently.
type FlockTable struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func NewFlockTable(size int) *FlockTable {
	c, _ := lru.New(size)
	return &FlockTable{cache: c}
}

func (t *FlockTable) Set(inode int64, entries []FlockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(entries) == 0 {
		t.cache.Remove(inode)
		return
	}
	t.cache.Add(inode, entries)
}

func (t *FlockTable) Get(inode int64) ([]FlockEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.cache.Get(inode)
	if !ok {
		return nil, false
	}
	return v.([]FlockEntry), true
}

// EvictForRemoval drops any advisory locks for an inode that is being
// removed; called from Engine.RemoveDentry when the entry is unlinked.
func (t *FlockTable) EvictForRemoval(inode int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(inode)
}
