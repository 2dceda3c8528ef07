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

// Package datasync implements the data-sync dispatcher (C10):
// sharded queues that merge change-notify messages by inode into
// FDIRDentryMergedMessages-style records before they reach
// persistence, grounded on common/fdir_server_types.h's
// FDIRDentryMergedMessages{messages[3], msg_count, merge_count}.
package datasync

import (
	"sync"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/changenotify"
)

// MergedEntry groups every message destined for one inode within a
// drained batch into at most proto.PieceFieldCount field buffers: a
// later message for the same field in the same batch overwrites an
// earlier one (only the final value needs persisting), while
// MergeCount records how many raw messages were folded in.
type MergedEntry struct {
	Inode      int64
	Fields     [proto.PieceFieldCount]*changenotify.Message
	MsgCount   int
	MergeCount int
}

// WriteFunc persists one batch's merged entries (C8's entry point).
type WriteFunc func(entries []*MergedEntry) error

type Dispatcher struct {
	numQueues int
	queues    []chan *changenotify.Event
	write     WriteFunc
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewDispatcher(numQueues int, write WriteFunc) *Dispatcher {
	d := &Dispatcher{
		numQueues: numQueues,
		queues:    make([]chan *changenotify.Event, numQueues),
		write:     write,
		stopCh:    make(chan struct{}),
	}
	for i := range d.queues {
		d.queues[i] = make(chan *changenotify.Event, 1024)
	}
	return d
}

// Submit routes ev to the queue owned by its primary inode (the first
// message's inode), hashing deterministically across restarts.
func (d *Dispatcher) Submit(ev *changenotify.Event) {
	if len(ev.Messages) == 0 {
		return
	}
	idx := int(uint64(ev.Messages[0].Inode) % uint64(d.numQueues))
	d.queues[idx] <- ev
}

func (d *Dispatcher) Start() {
	for i := range d.queues {
		d.wg.Add(1)
		go d.runQueue(i)
	}
}

func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) runQueue(idx int) {
	defer d.wg.Done()
	q := d.queues[idx]
	for {
		first, ok := d.popBlocking(q)
		if !ok {
			return
		}
		batch := []*changenotify.Event{first}
	drain:
		for {
			select {
			case ev := <-q:
				batch = append(batch, ev)
			default:
				break drain
			}
		}
		entries := mergeByInode(batch)
		d.write(entries)
	}
}

func (d *Dispatcher) popBlocking(q chan *changenotify.Event) (*changenotify.Event, bool) {
	select {
	case <-d.stopCh:
		select {
		case ev := <-q:
			return ev, true
		default:
			return nil, false
		}
	case ev := <-q:
		return ev, true
	}
}

func mergeByInode(events []*changenotify.Event) []*MergedEntry {
	order := make([]int64, 0)
	byInode := make(map[int64]*MergedEntry)

	for _, ev := range events {
		for i := range ev.Messages {
			m := &ev.Messages[i]
			entry, ok := byInode[m.Inode]
			if !ok {
				entry = &MergedEntry{Inode: m.Inode}
				byInode[m.Inode] = entry
				order = append(order, m.Inode)
			}
			if entry.Fields[clampField(m.FieldIndex)] == nil {
				entry.MsgCount++
			}
			entry.Fields[clampField(m.FieldIndex)] = m
			entry.MergeCount++
		}
	}

	out := make([]*MergedEntry, 0, len(order))
	for _, inode := range order {
		out = append(out, byInode[inode])
	}
	return out
}

// clampField maps the virtual for-remove field index onto the basic
// slot: a remove message still needs exactly one field slot in the
// fixed 3-wide array.
func clampField(fieldIndex int) int {
	if fieldIndex >= proto.PieceFieldCount {
		return proto.PieceFieldBasic
	}
	return fieldIndex
}
