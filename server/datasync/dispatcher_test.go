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

package datasync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/changenotify"
)

func TestMergeByInodeFoldsRepeatedFieldUpdates(t *testing.T) {
	ev1 := &changenotify.Event{ID: 1, Version: 1, Messages: []changenotify.Message{
		{Inode: 10, OpType: proto.OpTypeUpdate, FieldIndex: proto.PieceFieldBasic, Buffer: []byte("v1")},
	}}
	ev2 := &changenotify.Event{ID: 2, Version: 2, Messages: []changenotify.Message{
		{Inode: 10, OpType: proto.OpTypeUpdate, FieldIndex: proto.PieceFieldBasic, Buffer: []byte("v2")},
		{Inode: 11, OpType: proto.OpTypeCreate, FieldIndex: proto.PieceFieldBasic, Buffer: []byte("new")},
	}}

	entries := mergeByInode([]*changenotify.Event{ev1, ev2})
	require.Len(t, entries, 2)

	require.Equal(t, int64(10), entries[0].Inode)
	require.Equal(t, 1, entries[0].MsgCount)
	require.Equal(t, 2, entries[0].MergeCount)
	require.Equal(t, []byte("v2"), entries[0].Fields[proto.PieceFieldBasic].Buffer)

	require.Equal(t, int64(11), entries[1].Inode)
	require.Equal(t, 1, entries[1].MsgCount)
}

func TestDispatcherDeliversAllSubmittedEvents(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	d := NewDispatcher(4, func(entries []*MergedEntry) error {
		mu.Lock()
		seen += len(entries)
		mu.Unlock()
		return nil
	})
	d.Start()
	defer d.Stop()

	for i := int64(0); i < 20; i++ {
		d.Submit(&changenotify.Event{ID: i, Version: i, Messages: []changenotify.Message{
			{Inode: i, OpType: proto.OpTypeCreate, FieldIndex: proto.PieceFieldBasic},
		}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 20
	}, time.Second, time.Millisecond)
}
