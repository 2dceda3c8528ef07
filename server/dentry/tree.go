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

	"github.com/google/btree"
)

const defaultBTreeDegree = 32

// childItem is the btree.Item stored for one directory's children,
// ordered lexicographically by name as required by I3/P3.
type childItem struct {
	name   string
	dentry *Dentry
}

func (c *childItem) Less(than btree.Item) bool {
	return c.name < than.(*childItem).name
}

// childTree wraps google/btree the way the metanode package wraps it
// for its in-memory indexes: an embedded RWMutex guarding a *btree.BTree,
// typed Get/Put/Delete/Range methods boxing/unboxing btree.Item.
type childTree struct {
	sync.RWMutex
	tree *btree.BTree
}

func newChildTree() *childTree {
	return &childTree{tree: btree.New(defaultBTreeDegree)}
}

func (t *childTree) get(name string) *Dentry {
	t.RLock()
	defer t.RUnlock()
	item := t.tree.Get(&childItem{name: name})
	if item == nil {
		return nil
	}
	return item.(*childItem).dentry
}

// put inserts d keyed by name; replace selects whether an existing
// entry of the same name is overwritten. Returns the previous dentry
// if one existed.
func (t *childTree) put(name string, d *Dentry, replace bool) (prev *Dentry, existed bool) {
	t.Lock()
	defer t.Unlock()
	if !replace {
		if old := t.tree.Get(&childItem{name: name}); old != nil {
			return old.(*childItem).dentry, true
		}
	}
	old := t.tree.ReplaceOrInsert(&childItem{name: name, dentry: d})
	if old != nil {
		return old.(*childItem).dentry, true
	}
	return nil, false
}

func (t *childTree) delete(name string) *Dentry {
	t.Lock()
	defer t.Unlock()
	old := t.tree.Delete(&childItem{name: name})
	if old == nil {
		return nil
	}
	return old.(*childItem).dentry
}

func (t *childTree) len() int {
	t.RLock()
	defer t.RUnlock()
	return t.tree.Len()
}

func (t *childTree) empty() bool {
	return t.len() == 0
}

// names returns the child names in lexicographic order, the backing
// for readDir-style listing (bounded by AscendRange in the original
// metanode partition code).
func (t *childTree) names() []string {
	t.RLock()
	defer t.RUnlock()
	out := make([]string, 0, t.tree.Len())
	t.tree.Ascend(func(item btree.Item) bool {
		out = append(out, item.(*childItem).name)
		return true
	})
	return out
}

// rangeFrom lists children with name >= from, up to limit entries (0
// means unbounded), walking AscendGreaterOrEqual from from and
// stopping once limit entries have been collected.
func (t *childTree) rangeFrom(from string, limit int) []*Dentry {
	t.RLock()
	defer t.RUnlock()
	out := make([]*Dentry, 0)
	t.tree.AscendGreaterOrEqual(&childItem{name: from}, func(item btree.Item) bool {
		out = append(out, item.(*childItem).dentry)
		return limit == 0 || len(out) < limit
	})
	return out
}
