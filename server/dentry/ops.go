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
	"hash/fnv"
	"strings"
	"sync/atomic"

	"github.com/fastdir/fastdir/proto"
)

// Engine owns inode allocation and the inode index shared across every
// namespace; it implements the create/remove/rename/list algorithms of
// dentry.c against the in-memory tree built from childTree/Dentry.
// A single Engine is meant to back one data-thread shard (C4); callers
// above Engine are responsible for hash-routing a given namespace/
// inode to the shard that owns it.
type Engine struct {
	Inodes    *InodeIndex
	nextInode int64

	// Flocks is the optional advisory-lock side index (C2); nil unless
	// WithFlockTable is called.
	Flocks *FlockTable
}

func NewEngine(idx *InodeIndex) *Engine {
	return &Engine{Inodes: idx}
}

// WithFlockTable attaches a bounded flock side index, sized for the
// expected number of concurrently lock-held inodes.
func (e *Engine) WithFlockTable(size int) *Engine {
	e.Flocks = NewFlockTable(size)
	return e
}

func (e *Engine) allocInode() int64 {
	return atomic.AddInt64(&e.nextInode, 1)
}

// HashPath is the stable 32-bit path hash used for shard routing
// (spec.md §3, Dentry.hash_code).
func HashPath(ns *Namespace, path string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(ns.Name))
	h.Write([]byte{0})
	h.Write([]byte(path))
	return h.Sum32()
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// FindOrCheckParent resolves the directory at parentPath within ns,
// walking one child lookup per path component. Root-path auto-create:
// only forCreate callers may auto-vivify a namespace's root; every
// other caller gets not_found against a missing root (spec.md §9 Open
// Question 1, SPEC_FULL.md Supplemented Features).
func (e *Engine) FindOrCheckParent(ns *Namespace, parentPath string, forCreate bool) (*Dentry, uint8) {
	root := ns.Root()
	if root == nil {
		if !forCreate {
			return nil, proto.OpNotExistErr
		}
		root = newDentry(ns, e.allocInode(), "", HashPath(ns, "/"), ModeDir)
		ns.setRoot(root)
		e.Inodes.put(root)
	}

	cur := root
	for _, name := range splitPath(parentPath) {
		if !IsDir(cur.Stat.Mode) {
			return nil, proto.OpNotDirErr
		}
		child := cur.Children.get(name)
		if child == nil {
			return nil, proto.OpNotExistErr
		}
		cur = resolveHardLink(child)
	}
	return cur, proto.OpOk
}

// resolveHardLink follows a hard-link dentry to its source the way
// dentry_find_by_pname's SET_HARD_LINK_DENTRY macro does.
func resolveHardLink(d *Dentry) *Dentry {
	if IsHardLink(d.Stat.Mode) && d.SrcDentry != nil {
		return d.SrcDentry
	}
	return d
}

// Lookup walks an absolute path from ns's root.
func (e *Engine) Lookup(ns *Namespace, path string) (*Dentry, uint8) {
	if path == "/" || path == "" {
		root := ns.Root()
		if root == nil {
			return nil, proto.OpNotExistErr
		}
		return root, proto.OpOk
	}
	parts := splitPath(path)
	parent, status := e.FindOrCheckParent(ns, strings.Join(parts[:len(parts)-1], "/"), false)
	if status != proto.OpOk {
		return nil, status
	}
	name := parts[len(parts)-1]
	child := parent.Children.get(name)
	if child == nil {
		return nil, proto.OpNotExistErr
	}
	return child, proto.OpOk
}

// AffectedOp classifies how a side-effected dentry changed, so a
// caller building change-notify messages knows whether it needs a
// remove message or an update(basic) message for it.
type AffectedOp uint8

const (
	AffectedUpdateBasic AffectedOp = iota
	AffectedRemove
)

// Affected pairs a dentry touched as a side effect of a mutation
// (parent nlink bump, hard-link source nlink change, or a hard-link
// source's final free) with what happened to it.
type Affected struct {
	Dentry *Dentry
	Op     AffectedOp
}

// CreateOptions carries the variant payload for CreateDentry.
type CreateOptions struct {
	Mode       uint32
	Stat       Stat
	LinkTarget string // used when Mode is ModeSymlink
	SrcPath    string // used when Mode is ModeHardLink, path of the source
}

// CreateDentry implements dentry_create: validates the name is free,
// allocates the new dentry, wires hard-link/parent nlink bookkeeping
// (parent.nlink++ on every successful link regardless of the child's
// type), and updates ns's dir/file counters.
func (e *Engine) CreateDentry(ns *Namespace, parentPath, name string, opts CreateOptions) (*Dentry, []Affected, uint8) {
	parent, status := e.FindOrCheckParent(ns, parentPath, true)
	if status != proto.OpOk {
		return nil, nil, status
	}
	if !IsDir(parent.Stat.Mode) {
		return nil, nil, proto.OpNotDirErr
	}
	if parent.Children.get(name) != nil {
		return nil, nil, proto.OpExistErr
	}

	var affected []Affected
	var src *Dentry
	mode := opts.Mode
	if mode&ModeHardLink != 0 {
		var st uint8
		src, st = e.Lookup(ns, opts.SrcPath)
		if st != proto.OpOk {
			return nil, nil, st
		}
		if IsDir(src.Stat.Mode) || IsHardLink(src.Stat.Mode) {
			// I2 / dentry.c set_hdlink_src_dentry: EPERM on dir or
			// hard-link-of-hard-link source.
			return nil, nil, proto.OpPermErr
		}
		// A hard link's mode is always ModeRegular|ModeHardLink; the
		// source's file-type bit is not copied, so a link to a symlink
		// is not itself marked as a symlink.
		mode = ModeRegular | ModeHardLink
	}

	d := newDentry(ns, e.allocInode(), name, HashPath(ns, parentPath+"/"+name), mode)
	d.Stat = opts.Stat
	d.Stat.Mode = mode
	d.Stat.Nlink = 1
	d.Parent = parent

	switch {
	case mode&ModeHardLink != 0:
		d.SrcDentry = src
		src.Stat.Nlink++
		src.RefGet()
		affected = append(affected, Affected{src, AffectedUpdateBasic})
	case mode&ModeSymlink != 0:
		d.Link = opts.LinkTarget
	}

	e.Inodes.put(d)
	parent.Children.put(name, d, true)
	// Linking into the parent's children always bumps parent.nlink,
	// regardless of the child's type (dentry.c's insert path has no
	// S_ISDIR gate on this).
	parent.Stat.Nlink++
	affected = append(affected, Affected{parent, AffectedUpdateBasic})
	ns.incCounter(mode, 1)
	return d, affected, proto.OpOk
}

// RemoveDentry implements do_remove_dentry + dentry_remove: ENOTEMPTY
// for a non-empty directory, hard-link-source nlink cascade, and
// parent.nlink-- on every successful unlink regardless of the
// removed child's type.
func (e *Engine) RemoveDentry(ns *Namespace, parentPath, name string) (*Dentry, []Affected, uint8) {
	parent, status := e.FindOrCheckParent(ns, parentPath, false)
	if status != proto.OpOk {
		return nil, nil, status
	}
	d := parent.Children.get(name)
	if d == nil {
		return nil, nil, proto.OpNotExistErr
	}
	if IsDir(d.Stat.Mode) && !d.Children.empty() {
		return nil, nil, proto.OpNotEmpty
	}

	var affected []Affected
	if IsHardLink(d.Stat.Mode) && d.SrcDentry != nil {
		src := d.SrcDentry
		src.Stat.Nlink--
		op := AffectedUpdateBasic
		if src.RefPut() {
			e.Inodes.delete(src.Inode)
			op = AffectedRemove
		}
		affected = append(affected, Affected{src, op})
	} else {
		d.Stat.Nlink--
	}

	parent.Children.delete(name)
	// Unlinking from the parent's children always drops parent.nlink,
	// regardless of the child's type (dentry.c's remove path has no
	// S_ISDIR gate on this either).
	parent.Stat.Nlink--
	affected = append(affected, Affected{parent, AffectedUpdateBasic})
	e.Inodes.delete(d.Inode)
	if e.Flocks != nil {
		e.Flocks.EvictForRemoval(d.Inode)
	}
	ns.incCounter(d.Stat.Mode, -1)
	return d, affected, proto.OpOk
}

// renameCheck implements rename_check: NOREPLACE/EXCHANGE precondition
// validation and ENOTEMPTY for a non-empty destination directory.
func renameCheck(src, dst *Dentry, flag proto.RenameFlag) uint8 {
	switch flag {
	case proto.RenameNoReplace:
		if dst != nil {
			return proto.OpExistErr
		}
	case proto.RenameExchange:
		if dst == nil {
			return proto.OpNotExistErr
		}
	default:
		if dst != nil && IsDir(dst.Stat.Mode) {
			if IsDir(src.Stat.Mode) {
				if !dst.Children.empty() {
					return proto.OpNotEmpty
				}
			} else {
				return proto.OpNotDirErr
			}
		}
	}
	return proto.OpOk
}

// isAncestor reports whether a is an ancestor of b (i.e. walking up
// from b's parent reaches a), used for ELOOP detection exactly as
// dentry_is_ancestor.
func isAncestor(a, b *Dentry) bool {
	for cur := b.Parent; cur != nil; cur = cur.Parent {
		if cur == a {
			return true
		}
	}
	return false
}

// RenameDentry implements dentry_rename's dispatch to exchange_dentry
// or move_dentry. nlink bookkeeping is asymmetric on purpose: on
// overwrite only srcParent.Nlink-- is applied, since the destroyed
// overwritten entry's own removal already accounts for dstParent's
// side; without overwrite, any cross-parent move (directory or not)
// applies both srcParent.Nlink-- and dstParent.Nlink++.
func (e *Engine) RenameDentry(ns *Namespace, srcParentPath, srcName, dstParentPath, dstName string, flag proto.RenameFlag) ([]Affected, uint8) {
	srcParent, status := e.FindOrCheckParent(ns, srcParentPath, false)
	if status != proto.OpOk {
		return nil, status
	}
	dstParent, status := e.FindOrCheckParent(ns, dstParentPath, false)
	if status != proto.OpOk {
		return nil, status
	}
	src := srcParent.Children.get(srcName)
	if src == nil {
		return nil, proto.OpNotExistErr
	}
	dst := dstParent.Children.get(dstName)

	if srcParent == dstParent && srcName == dstName {
		return nil, proto.OpExistErr
	}
	if srcParent != dstParent {
		// ELOOP guard: neither side may be moved into its own subtree.
		// Checked against the *other* side's parent, matching
		// dentry_is_ancestor(src.dentry, dest.parent) and
		// dentry_is_ancestor(dest.dentry ?: dest.parent, src.parent).
		destSide := dst
		if destSide == nil {
			destSide = dstParent
		}
		if src == dstParent || isAncestor(src, dstParent) || isAncestor(destSide, srcParent) {
			return nil, proto.OpLoopErr
		}
	}
	if status := renameCheck(src, dst, flag); status != proto.OpOk {
		return nil, status
	}

	var affected []Affected
	if flag == proto.RenameExchange {
		srcParent.Children.put(srcName, dst, true)
		dstParent.Children.put(dstName, src, true)
		src.Name, dst.Name = dstName, srcName
		src.Parent, dst.Parent = dstParent, srcParent
		affected = append(affected, Affected{srcParent, AffectedUpdateBasic}, Affected{dstParent, AffectedUpdateBasic})
		return affected, proto.OpOk
	}

	overwrite := dst != nil
	if overwrite {
		e.Inodes.delete(dst.Inode)
		ns.incCounter(dst.Stat.Mode, -1)
	}

	srcParent.Children.delete(srcName)
	src.Name = dstName
	src.Parent = dstParent
	dstParent.Children.put(dstName, src, true)

	if overwrite {
		srcParent.Stat.Nlink--
		affected = append(affected, Affected{srcParent, AffectedUpdateBasic})
	} else if srcParent != dstParent {
		srcParent.Stat.Nlink--
		dstParent.Stat.Nlink++
		affected = append(affected, Affected{srcParent, AffectedUpdateBasic}, Affected{dstParent, AffectedUpdateBasic})
	}
	return affected, proto.OpOk
}

func (e *Engine) SetXattr(d *Dentry, key, value string) uint8 {
	d.setXattr(key, value)
	return proto.OpOk
}

func (e *Engine) GetXattr(d *Dentry, key string) (string, uint8) {
	v, ok := d.GetXattr(key)
	if !ok {
		return "", proto.OpNoDataErr
	}
	return v, proto.OpOk
}

func (e *Engine) RemoveXattr(d *Dentry, key string) uint8 {
	if !d.removeXattr(key) {
		return proto.OpNoDataErr
	}
	return proto.OpOk
}

// ReadDir lists a directory's children, optionally resuming from a
// name and bounded by limit (0 = unbounded), matching the
// readDirLimit AscendRange pattern.
func (e *Engine) ReadDir(d *Dentry, from string, limit int) ([]*Dentry, uint8) {
	if !IsDir(d.Stat.Mode) {
		return nil, proto.OpNotDirErr
	}
	return d.Children.rangeFrom(from, limit), proto.OpOk
}
