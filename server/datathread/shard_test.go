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

package datathread

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/changenotify"
	"github.com/fastdir/fastdir/server/dentry"
	"github.com/fastdir/fastdir/server/serializer"
)

func newTestShard(t *testing.T) (*Shard, *dentry.Namespace, *[]changenotify.Event) {
	var version int64
	var mu sync.Mutex
	var events []changenotify.Event

	engine := dentry.NewEngine(dentry.NewInodeIndex())
	builder := changenotify.NewBuilder(&changenotify.EventIDAllocator{}, func(d *dentry.Dentry, field int) ([]byte, error) {
		if field == proto.PieceFieldXattr {
			return serializer.PackXattr(d)
		}
		return serializer.PackBasic(d)
	})
	persist := func(ev *changenotify.Event) error {
		mu.Lock()
		events = append(events, *ev)
		mu.Unlock()
		return nil
	}
	shard := NewShard(0, engine, builder, &version, persist)
	go shard.Run()
	t.Cleanup(shard.Stop)

	return shard, dentry.NewNamespace("vol1"), &events
}

func submitAndWait(t *testing.T, shard *Shard, rec *UpdateRecord) (uint8, bool) {
	t.Helper()
	done := make(chan struct{})
	var status uint8
	var isError bool
	rec.Notify = func(r *UpdateRecord, s uint8, e bool) {
		status, isError = s, e
		close(done)
	}
	shard.Submit(rec)
	<-done
	return status, isError
}

func TestShardCreateAssignsIncreasingDataVersions(t *testing.T) {
	shard, ns, events := newTestShard(t)

	status, isError := submitAndWait(t, shard, &UpdateRecord{
		OpType: proto.OpTypeCreate, Namespace: ns, ParentPath: "/", Name: "a",
		CreateOpts: dentry.CreateOptions{Mode: dentry.ModeDir},
	})
	require.Equal(t, proto.OpOk, status)
	require.False(t, isError)

	status, isError = submitAndWait(t, shard, &UpdateRecord{
		OpType: proto.OpTypeCreate, Namespace: ns, ParentPath: "/a", Name: "b",
		CreateOpts: dentry.CreateOptions{Mode: dentry.ModeRegular, Stat: dentry.Stat{Size: 17}},
	})
	require.Equal(t, proto.OpOk, status)
	require.False(t, isError)

	require.Len(t, *events, 2)
	require.Less(t, (*events)[0].Version, (*events)[1].Version)

	q := NewQueryRecord(QueryStat, ns, "/a/b")
	shard.Query(q)
	require.Equal(t, proto.OpOk, q.Status)
	require.Equal(t, int64(17), q.Result.(*dentry.Dentry).Stat.Size)
}

func TestShardLooseModeSuppressesIgnoredErrno(t *testing.T) {
	shard, ns, _ := newTestShard(t)

	submitAndWait(t, shard, &UpdateRecord{
		OpType: proto.OpTypeCreate, Namespace: ns, ParentPath: "/", Name: "a",
		CreateOpts: dentry.CreateOptions{Mode: dentry.ModeDir},
	})

	status, isError := submitAndWait(t, shard, &UpdateRecord{
		OpType: proto.OpTypeCreate, Namespace: ns, ParentPath: "/", Name: "a",
		CreateOpts:  dentry.CreateOptions{Mode: dentry.ModeDir},
		IgnoreErrno: map[uint8]bool{proto.OpExistErr: true},
	})
	require.Equal(t, proto.OpExistErr, status)
	require.False(t, isError)
}
