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

// Package dentry implements the in-memory dentry tree and inode index
// (C2/C3): per-namespace ordered children, hard-link source sharing,
// and the reference-counting discipline that lets cross-shard readers
// hold a dentry briefly without tearing it down underfoot.
package dentry

import (
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"

	"github.com/fastdir/fastdir/proto"
)

const (
	ModeDir uint32 = 1 << iota
	ModeRegular
	ModeSymlink
	ModeHardLink
)

func IsDir(mode uint32) bool       { return mode&ModeDir != 0 }
func IsSymlink(mode uint32) bool   { return mode&ModeSymlink != 0 }
func IsHardLink(mode uint32) bool  { return mode&ModeHardLink != 0 }

// Stat is the POSIX-ish attribute block carried by every dentry.
type Stat struct {
	Mode     uint32
	Uid      uint32
	Gid      uint32
	Size     int64
	Alloc    int64
	SpaceEnd int64
	Nlink    uint32
	Atime    int64
	Btime    int64
	Ctime    int64
	Mtime    int64
}

// Dentry is one filesystem entry. Only the owning shard mutates a
// dentry's fields; cross-shard holders must go through RefGet/RefPut.
type Dentry struct {
	Inode    int64
	HashCode uint32
	Name     string
	Stat     Stat

	// Parent is a non-owning back-reference; nil only for a
	// namespace root (I1).
	Parent *Dentry

	// Children is non-nil only for directories.
	Children *childTree

	// Link is the symlink target, non-empty only when IsSymlink.
	Link string

	// SrcDentry is the shared hard-link source; non-nil only when
	// IsHardLink (I2: never itself a hard link, never a directory).
	SrcDentry *Dentry

	xattrMu sync.RWMutex
	xattr   map[string]string

	refCount int32

	// loadedFlags marks which piece-fields of a disk-backed dentry
	// are currently resident in memory.
	loadedFlags *bitset.BitSet

	namespace *Namespace
}

func newDentry(ns *Namespace, inode int64, name string, hashCode uint32, mode uint32) *Dentry {
	d := &Dentry{
		Inode:       inode,
		HashCode:    hashCode,
		Name:        name,
		Stat:        Stat{Mode: mode, Nlink: 1},
		refCount:    1,
		loadedFlags: bitset.New(proto.PieceFieldCount),
		namespace:   ns,
	}
	d.loadedFlags.Set(proto.PieceFieldBasic)
	if IsDir(mode) {
		d.Children = newChildTree()
		d.loadedFlags.Set(proto.PieceFieldChildren)
	}
	return d
}

// RefGet increments the reference count for a cross-shard holder.
func (d *Dentry) RefGet() { atomic.AddInt32(&d.refCount, 1) }

// RefPut decrements the reference count and reports whether it
// reached zero, at which point the owning shard's delayed-free path
// (C5) is responsible for reclaiming d.
func (d *Dentry) RefPut() bool {
	return atomic.AddInt32(&d.refCount, -1) == 0
}

func (d *Dentry) RefCount() int32 { return atomic.LoadInt32(&d.refCount) }

func (d *Dentry) GetXattr(key string) (string, bool) {
	d.xattrMu.RLock()
	defer d.xattrMu.RUnlock()
	v, ok := d.xattr[key]
	return v, ok
}

func (d *Dentry) ListXattr() map[string]string {
	d.xattrMu.RLock()
	defer d.xattrMu.RUnlock()
	out := make(map[string]string, len(d.xattr))
	for k, v := range d.xattr {
		out[k] = v
	}
	return out
}

func (d *Dentry) setXattr(key, value string) {
	d.xattrMu.Lock()
	defer d.xattrMu.Unlock()
	if d.xattr == nil {
		d.xattr = make(map[string]string)
	}
	d.xattr[key] = value
	d.loadedFlags.Set(proto.PieceFieldXattr)
}

func (d *Dentry) removeXattr(key string) bool {
	d.xattrMu.Lock()
	defer d.xattrMu.Unlock()
	if _, ok := d.xattr[key]; !ok {
		return false
	}
	delete(d.xattr, key)
	return true
}

func (d *Dentry) xattrCount() int {
	d.xattrMu.RLock()
	defer d.xattrMu.RUnlock()
	return len(d.xattr)
}

// InodeIndex maps inode identity to its owning dentry. Reads are
// lock-free via sync.Map (a stable-snapshot discipline); writes are
// only ever performed by the shard that owns the inode.
type InodeIndex struct {
	m sync.Map // int64 -> *Dentry
}

func NewInodeIndex() *InodeIndex {
	return &InodeIndex{}
}

func (idx *InodeIndex) Get(inode int64) (*Dentry, bool) {
	v, ok := idx.m.Load(inode)
	if !ok {
		return nil, false
	}
	return v.(*Dentry), true
}

func (idx *InodeIndex) put(d *Dentry) {
	idx.m.Store(d.Inode, d)
}

func (idx *InodeIndex) delete(inode int64) {
	idx.m.Delete(inode)
}

func (idx *InodeIndex) Len() int {
	n := 0
	idx.m.Range(func(_, _ interface{}) bool { n++; return true })
	return n
}
