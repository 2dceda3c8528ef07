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

import "sync/atomic"

// Namespace is a disjoint directory tree identified by a short name
// (C1). It owns its root dentry and the dir/file counters used by the
// test scenarios in spec.md §8.
type Namespace struct {
	Name  string
	root  atomic.Value // *Dentry, nil until auto-vivified
	dirs  int64
	files int64
}

func NewNamespace(name string) *Namespace {
	return &Namespace{Name: name}
}

func (ns *Namespace) Root() *Dentry {
	v := ns.root.Load()
	if v == nil {
		return nil
	}
	return v.(*Dentry)
}

func (ns *Namespace) setRoot(d *Dentry) {
	ns.root.Store(d)
}

func (ns *Namespace) incCounter(mode uint32, delta int64) {
	if IsDir(mode) {
		atomic.AddInt64(&ns.dirs, delta)
	} else {
		atomic.AddInt64(&ns.files, delta)
	}
}

// Counts returns the current {dir, file} counters (S1).
func (ns *Namespace) Counts() (dirs, files int64) {
	return atomic.LoadInt64(&ns.dirs), atomic.LoadInt64(&ns.files)
}
