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

// Package datathread implements the sharded single-writer state
// machine (C4): one goroutine per shard serializes every mutation and
// query targeting the namespaces/inodes it owns, assigns data
// versions, and drives the delayed-free queue (C5) and the
// change-notify builder (C6).
package datathread

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/changenotify"
	"github.com/fastdir/fastdir/server/dentry"
	"github.com/fastdir/fastdir/server/metrics"
	"github.com/fastdir/fastdir/util/log"
)

// PersistFunc hands a change-notify event to the persistence/
// replication pipeline (C8/C9), outside this package's scope.
// Returning an error is treated as fatal, matching the original's
// sf_terminate_myself() on a full persistence queue.
type PersistFunc func(ev *changenotify.Event) error

// TerminateFunc is called in place of exiting the process on a fatal
// persistence failure, so tests and embedders can intercept it.
type TerminateFunc func(reason string)

const defaultHardLinkFreeDelaySeconds = 30

// Shard is one single-threaded partition of the namespace/inode
// space.
type Shard struct {
	ID int

	Engine    *dentry.Engine
	FreeQueue *DelayedFreeQueue
	Builder   *changenotify.Builder

	// DataVersion is shared across every shard in the pool (spec.md
	// §5: the global counter gives a total order across shards).
	DataVersion *int64

	Persist   PersistFunc
	Terminate TerminateFunc
	Now       func() int64

	updateCh chan *UpdateRecord
	queryCh  chan *QueryRecord
	stopCh   chan struct{}
}

func NewShard(id int, engine *dentry.Engine, builder *changenotify.Builder, dataVersion *int64, persist PersistFunc) *Shard {
	return &Shard{
		ID:          id,
		Engine:      engine,
		FreeQueue:   NewDelayedFreeQueue(func(d *dentry.Dentry) {}),
		Builder:     builder,
		DataVersion: dataVersion,
		Persist:     persist,
		Terminate:   func(reason string) { log.LogCriticalf("shard %d terminating: %s", id, reason) },
		Now:         func() int64 { return time.Now().Unix() },
		updateCh:    make(chan *UpdateRecord, 1024),
		queryCh:     make(chan *QueryRecord, 1024),
		stopCh:      make(chan struct{}),
	}
}

// Submit enqueues a mutation. The caller is notified asynchronously
// through rec.Notify.
func (s *Shard) Submit(rec *UpdateRecord) {
	s.updateCh <- rec
}

// Query enqueues a read and blocks until it completes.
func (s *Shard) Query(rec *QueryRecord) {
	s.queryCh <- rec
	<-rec.Done
}

func (s *Shard) Stop() {
	close(s.stopCh)
}

// nextVersion assigns a fresh monotonic data version, or CAS-bumps
// the shared counter to at least a pre-assigned one (replication
// replay), matching the original's fetch-add-or-CAS-max discipline.
func (s *Shard) nextVersion(preAssigned int64) int64 {
	if preAssigned != 0 {
		for {
			cur := atomic.LoadInt64(s.DataVersion)
			if preAssigned <= cur {
				return preAssigned
			}
			if atomic.CompareAndSwapInt64(s.DataVersion, cur, preAssigned) {
				return preAssigned
			}
		}
	}
	return atomic.AddInt64(s.DataVersion, 1)
}

// Run is the shard's worker loop: pop whatever is queued, process it
// in FIFO order, then service the free queues once per iteration.
func (s *Shard) Run() {
	shardLabel := strconv.Itoa(s.ID)
	for {
		select {
		case <-s.stopCh:
			s.drainRemaining()
			return
		case rec := <-s.updateCh:
			batch := []*UpdateRecord{rec}
			draining := true
			for draining {
				select {
				case r := <-s.updateCh:
					batch = append(batch, r)
				default:
					draining = false
				}
			}
			metrics.ShardQueueDepth.WithLabelValues(shardLabel).Set(float64(len(batch)))
			for _, r := range batch {
				s.dealUpdate(r)
			}
		case rec := <-s.queryCh:
			s.dealQuery(rec)
		}

		s.FreeQueue.DealImmediate()
		s.FreeQueue.DealDelayed(s.Now())
	}
}

func (s *Shard) drainRemaining() {
	for {
		select {
		case rec := <-s.updateCh:
			s.dealUpdate(rec)
		case rec := <-s.queryCh:
			s.dealQuery(rec)
		default:
			return
		}
	}
}

// dealUpdate is the central mutation dispatcher, grounded on
// deal_update_record: routes by op type, assigns/validates the data
// version, builds the change-notify event, hands it to persistence,
// and invokes the record's completion callback exactly once.
func (s *Shard) dealUpdate(rec *UpdateRecord) {
	var ev *changenotify.Event
	var err error

	switch rec.OpType {
	case proto.OpTypeCreate:
		d, affected, status := s.Engine.CreateDentry(rec.Namespace, rec.ParentPath, rec.Name, rec.CreateOpts)
		rec.Dentry, rec.Affected, rec.Status = d, affected, status
		if status == proto.OpOk {
			ev, err = s.Builder.BuildCreate(0, d, d.Parent, affected)
		}

	case proto.OpTypeRemove:
		d, affected, status := s.Engine.RemoveDentry(rec.Namespace, rec.ParentPath, rec.Name)
		rec.Dentry, rec.Affected, rec.Status = d, affected, status
		if status == proto.OpOk {
			ev, err = s.Builder.BuildRemove(0, d, d.Parent, affected)
			if d.RefPut() {
				s.FreeQueue.AddDelayed(d, defaultHardLinkFreeDelaySeconds, s.Now())
			}
		}

	case proto.OpTypeRename:
		oldParent, _ := s.Engine.FindOrCheckParent(rec.Namespace, rec.ParentPath, false)
		affected, status := s.Engine.RenameDentry(rec.Namespace, rec.ParentPath, rec.Name, rec.DstParentPath, rec.DstName, rec.RenameFlag)
		rec.Affected, rec.Status = affected, status
		if status == proto.OpOk {
			newParent, _ := s.Engine.FindOrCheckParent(rec.Namespace, rec.DstParentPath, false)
			d, _ := s.Engine.Lookup(rec.Namespace, rec.DstParentPath+"/"+rec.DstName)
			rec.Dentry = d
			ev, err = s.Builder.BuildRename(0, d, oldParent, newParent)
		}

	case proto.OpTypeSetXattr:
		d, status := s.Engine.Lookup(rec.Namespace, rec.ParentPath+"/"+rec.Name)
		rec.Status = status
		if status == proto.OpOk {
			rec.Status = s.Engine.SetXattr(d, rec.XattrKey, rec.XattrValue)
			rec.Dentry = d
			ev, err = s.Builder.BuildFieldUpdate(0, d, proto.PieceFieldXattr, proto.OpTypeSetXattr)
		}

	case proto.OpTypeRemoveXattr:
		d, status := s.Engine.Lookup(rec.Namespace, rec.ParentPath+"/"+rec.Name)
		rec.Status = status
		if status == proto.OpOk {
			rec.Status = s.Engine.RemoveXattr(d, rec.XattrKey)
			rec.Dentry = d
			if rec.Status == proto.OpOk {
				ev, err = s.Builder.BuildFieldUpdate(0, d, proto.PieceFieldXattr, proto.OpTypeRemoveXattr)
			}
		}

	case proto.OpTypeUpdate, proto.OpTypeSetDsize:
		d, status := s.Engine.Lookup(rec.Namespace, rec.ParentPath+"/"+rec.Name)
		rec.Status = status
		if status == proto.OpOk {
			if rec.NewStat != nil {
				d.Stat = *rec.NewStat
			}
			rec.Dentry = d
			ev, err = s.Builder.BuildFieldUpdate(0, d, proto.PieceFieldBasic, rec.OpType)
		}

	default:
		rec.Status = proto.OpArgMismatchErr
	}

	isError := rec.Status != proto.OpOk
	if isError && rec.IgnoreErrno != nil && rec.IgnoreErrno[rec.Status] {
		isError = false
	}

	if ev != nil && err == nil {
		rec.DataVersion = s.nextVersion(rec.DataVersion)
		ev.Version = rec.DataVersion
		metrics.DataVersion.Set(float64(rec.DataVersion))
		if perr := s.Persist(ev); perr != nil {
			s.Terminate("persistence enqueue failed: " + perr.Error())
		}
	} else if err != nil {
		log.LogErrorf("shard %d: build change-notify failed: %v", s.ID, err)
	}

	if rec.Notify != nil {
		rec.Notify(rec, rec.Status, isError)
	}
}

// dealQuery is the read-only dispatcher, grounded on list_dentry /
// deal_query_record.
func (s *Shard) dealQuery(rec *QueryRecord) {
	defer close(rec.Done)

	switch rec.Kind {
	case QueryStat:
		d, status := s.Engine.Lookup(rec.Namespace, rec.Path)
		rec.Result, rec.Status = d, status

	case QueryReadLink:
		d, status := s.Engine.Lookup(rec.Namespace, rec.Path)
		if status != proto.OpOk {
			rec.Status = status
			return
		}
		if !dentry.IsSymlink(d.Stat.Mode) {
			rec.Status = proto.OpArgMismatchErr
			return
		}
		rec.Result, rec.Status = d.Link, proto.OpOk

	case QueryLookupInode:
		d, status := s.Engine.Lookup(rec.Namespace, rec.Path)
		if status != proto.OpOk {
			rec.Status = status
			return
		}
		rec.Result, rec.Status = d.Inode, proto.OpOk

	case QueryGetXattr:
		d, status := s.Engine.Lookup(rec.Namespace, rec.Path)
		if status != proto.OpOk {
			rec.Status = status
			return
		}
		v, status := s.Engine.GetXattr(d, rec.XattrKey)
		rec.Result, rec.Status = v, status

	case QueryListXattr:
		d, status := s.Engine.Lookup(rec.Namespace, rec.Path)
		if status != proto.OpOk {
			rec.Status = status
			return
		}
		rec.Result, rec.Status = d.ListXattr(), proto.OpOk

	case QueryListDentry:
		d, status := s.Engine.Lookup(rec.Namespace, rec.Path)
		if status != proto.OpOk {
			rec.Status = status
			return
		}
		children, status := s.Engine.ReadDir(d, rec.ReadDirFrom, rec.ReadDirLimit)
		rec.Result, rec.Status = children, status

	default:
		rec.Status = proto.OpArgMismatchErr
	}
}
