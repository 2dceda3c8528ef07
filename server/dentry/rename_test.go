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

	"github.com/fastdir/fastdir/proto"
)

func TestRenameSameParentLeavesNlinkUntouched(t *testing.T) {
	e, ns := newTestEngine()
	e.CreateDentry(ns, "/", "a", CreateOptions{Mode: ModeDir})
	e.CreateDentry(ns, "/a", "x", CreateOptions{Mode: ModeRegular})
	dirA, _ := e.Lookup(ns, "/a")
	before := dirA.Stat.Nlink

	affected, status := e.RenameDentry(ns, "/a", "x", "/a", "y", proto.RenameDefault)
	require.Equal(t, proto.OpOk, status)
	require.Empty(t, affected)
	require.Equal(t, before, dirA.Stat.Nlink)

	_, status = e.Lookup(ns, "/a/y")
	require.Equal(t, proto.OpOk, status)
}

func TestRenameCrossParentNonOverwriteBumpsBothParentsRegardlessOfType(t *testing.T) {
	cases := []struct {
		name string
		mode uint32
	}{
		{"regular file", ModeRegular},
		{"directory", ModeDir},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, ns := newTestEngine()
			e.CreateDentry(ns, "/", "a", CreateOptions{Mode: ModeDir})
			e.CreateDentry(ns, "/", "b", CreateOptions{Mode: ModeDir})
			e.CreateDentry(ns, "/a", "x", CreateOptions{Mode: tc.mode})
			dirA, _ := e.Lookup(ns, "/a")
			dirB, _ := e.Lookup(ns, "/b")
			aBefore, bBefore := dirA.Stat.Nlink, dirB.Stat.Nlink

			affected, status := e.RenameDentry(ns, "/a", "x", "/b", "x", proto.RenameDefault)
			require.Equal(t, proto.OpOk, status)
			require.Equal(t, aBefore-1, dirA.Stat.Nlink)
			require.Equal(t, bBefore+1, dirB.Stat.Nlink)

			require.Len(t, affected, 2)
			require.Equal(t, AffectedUpdateBasic, affected[0].Op)
			require.Equal(t, dirA.Inode, affected[0].Dentry.Inode)
			require.Equal(t, AffectedUpdateBasic, affected[1].Op)
			require.Equal(t, dirB.Inode, affected[1].Dentry.Inode)

			_, status = e.Lookup(ns, "/b/x")
			require.Equal(t, proto.OpOk, status)
		})
	}
}

func TestRenameCrossParentOverwriteOnlyDropsSrcParentNlink(t *testing.T) {
	cases := []struct {
		name string
		mode uint32
	}{
		{"regular file", ModeRegular},
		{"directory", ModeDir},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, ns := newTestEngine()
			e.CreateDentry(ns, "/", "a", CreateOptions{Mode: ModeDir})
			e.CreateDentry(ns, "/", "b", CreateOptions{Mode: ModeDir})
			e.CreateDentry(ns, "/a", "x", CreateOptions{Mode: tc.mode})
			if tc.mode == ModeDir {
				// overwriting a directory destination requires it be empty
				// and the source also be a directory (renameCheck).
				e.CreateDentry(ns, "/b", "x", CreateOptions{Mode: ModeDir})
			} else {
				e.CreateDentry(ns, "/b", "x", CreateOptions{Mode: ModeRegular})
			}
			dirA, _ := e.Lookup(ns, "/a")
			dirB, _ := e.Lookup(ns, "/b")
			aBefore, bBefore := dirA.Stat.Nlink, dirB.Stat.Nlink

			affected, status := e.RenameDentry(ns, "/a", "x", "/b", "x", proto.RenameDefault)
			require.Equal(t, proto.OpOk, status)
			require.Equal(t, aBefore-1, dirA.Stat.Nlink)
			require.Equal(t, bBefore, dirB.Stat.Nlink)

			require.Len(t, affected, 1)
			require.Equal(t, AffectedUpdateBasic, affected[0].Op)
			require.Equal(t, dirA.Inode, affected[0].Dentry.Inode)
		})
	}
}

func TestRenameIntoOwnDescendantIsELOOP(t *testing.T) {
	e, ns := newTestEngine()
	e.CreateDentry(ns, "/", "a", CreateOptions{Mode: ModeDir})
	e.CreateDentry(ns, "/a", "b", CreateOptions{Mode: ModeDir})

	_, status := e.RenameDentry(ns, "/", "a", "/a/b", "a", proto.RenameDefault)
	require.Equal(t, proto.OpLoopErr, status)

	_, status = e.Lookup(ns, "/a/b")
	require.Equal(t, proto.OpOk, status)
}

func TestRenameOverwritingAnAncestorOfSrcParentIsELOOP(t *testing.T) {
	e, ns := newTestEngine()
	e.CreateDentry(ns, "/", "x", CreateOptions{Mode: ModeDir})
	e.CreateDentry(ns, "/x", "y", CreateOptions{Mode: ModeDir})
	e.CreateDentry(ns, "/x/y", "z", CreateOptions{Mode: ModeDir})

	// Moving "/x/y/z" onto the name "x" at the root would overwrite an
	// ancestor of z's own parent ("/x/y") with z itself: the destSide
	// (the existing "x" entry) is an ancestor of srcParent ("/x/y").
	_, status := e.RenameDentry(ns, "/x/y", "z", "/", "x", proto.RenameDefault)
	require.Equal(t, proto.OpLoopErr, status)

	_, status = e.Lookup(ns, "/x/y/z")
	require.Equal(t, proto.OpOk, status)
}

func TestRenameSiblingsAreUnaffectedByELOOPGuard(t *testing.T) {
	e, ns := newTestEngine()
	e.CreateDentry(ns, "/", "a", CreateOptions{Mode: ModeDir})
	e.CreateDentry(ns, "/", "b", CreateOptions{Mode: ModeDir})

	_, status := e.RenameDentry(ns, "/", "a", "/", "c", proto.RenameDefault)
	require.Equal(t, proto.OpOk, status)
}

func TestRenameExchangeBumpsBothParentsAffected(t *testing.T) {
	e, ns := newTestEngine()
	e.CreateDentry(ns, "/", "a", CreateOptions{Mode: ModeDir})
	e.CreateDentry(ns, "/", "b", CreateOptions{Mode: ModeDir})
	e.CreateDentry(ns, "/a", "x", CreateOptions{Mode: ModeRegular})
	e.CreateDentry(ns, "/b", "y", CreateOptions{Mode: ModeRegular})
	dirA, _ := e.Lookup(ns, "/a")
	dirB, _ := e.Lookup(ns, "/b")

	affected, status := e.RenameDentry(ns, "/a", "x", "/b", "y", proto.RenameExchange)
	require.Equal(t, proto.OpOk, status)
	require.Len(t, affected, 2)
	require.Equal(t, dirA.Inode, affected[0].Dentry.Inode)
	require.Equal(t, dirB.Inode, affected[1].Dentry.Inode)
}
