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

package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/dentry"
)

func TestPackUnpackBasicRoundTrip(t *testing.T) {
	e := dentry.NewEngine(dentry.NewInodeIndex())
	ns := dentry.NewNamespace("vol1")
	e.CreateDentry(ns, "/", "a", dentry.CreateOptions{Mode: dentry.ModeDir})
	e.CreateDentry(ns, "/a", "b", dentry.CreateOptions{Mode: dentry.ModeRegular, Stat: dentry.Stat{Size: 17, Uid: 5}})
	b, status := e.Lookup(ns, "/a/b")
	require.Equal(t, proto.OpOk, status)

	buf, err := PackBasic(b)
	require.NoError(t, err)

	buf2, err := PackBasic(b)
	require.NoError(t, err)
	require.Equal(t, buf, buf2)

	fields, err := Unpack(buf)
	require.NoError(t, err)

	byID := make(map[uint8]Field)
	for _, f := range fields {
		byID[f.ID] = f
	}
	require.Equal(t, b.Inode, byID[proto.FieldIDInode].Int64)
	require.Equal(t, "b", byID[proto.FieldIDSubname].Str)
	require.Equal(t, int64(17), byID[proto.FieldIDFileSize].Int64)
	require.Equal(t, int32(5), byID[proto.FieldIDUid].Int32)
}

func TestPackChildrenEmptySkipsBuffer(t *testing.T) {
	e := dentry.NewEngine(dentry.NewInodeIndex())
	ns := dentry.NewNamespace("vol1")
	e.CreateDentry(ns, "/", "a", dentry.CreateOptions{Mode: dentry.ModeDir})
	dirA, _ := e.Lookup(ns, "/a")

	buf, err := PackChildren(dirA, nil)
	require.NoError(t, err)
	require.Nil(t, buf)
}

func TestPackXattrRoundTrip(t *testing.T) {
	e := dentry.NewEngine(dentry.NewInodeIndex())
	ns := dentry.NewNamespace("vol1")
	e.CreateDentry(ns, "/", "a", dentry.CreateOptions{Mode: dentry.ModeRegular})
	a, _ := e.Lookup(ns, "/a")
	e.SetXattr(a, "user.k1", "v1")

	buf, err := PackXattr(a)
	require.NoError(t, err)
	fields, err := Unpack(buf)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, "v1", fields[0].Map["user.k1"])
}
