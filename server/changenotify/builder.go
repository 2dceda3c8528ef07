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

// Package changenotify builds the bounded per-mutation message array
// (C6), grounded on data_thread.c's GENERATE_*_MESSAGE macros and
// pack_messages/push_to_db_update_queue. Every event carries at most
// proto.ChangeNotifyMaxMsgsPerEvent messages; the cap is relied on by
// callers that use a fixed-size array instead of growing one.
package changenotify

import (
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/dentry"
)

// PackFunc packs one piece-field of a dentry into its wire buffer
// (C7). Remove-operation and children-field messages never call it:
// pack_messages in the original skips packing a buffer for those,
// since the children field is rebuilt from the tree, not replayed.
type PackFunc func(d *dentry.Dentry, field int) ([]byte, error)

type Message struct {
	Inode      int64
	OpType     proto.OpType
	FieldIndex int
	Buffer     []byte
}

// Event is one change-notify event: a globally monotonic id, the
// data version of the mutation that produced it, and up to 4 messages.
type Event struct {
	ID       int64
	Version  int64
	Messages []Message
}

func newEvent(id, version int64) *Event {
	return &Event{ID: id, Version: version, Messages: make([]Message, 0, proto.ChangeNotifyMaxMsgsPerEvent)}
}

func (e *Event) add(msg Message) error {
	if len(e.Messages) >= proto.ChangeNotifyMaxMsgsPerEvent {
		return pkgerrors.New("change-notify event message array full")
	}
	e.Messages = append(e.Messages, msg)
	return nil
}

// EventIDAllocator hands out the globally monotonic event id shared
// across every shard (P7).
type EventIDAllocator struct {
	counter int64
}

func (a *EventIDAllocator) Next() int64 {
	return atomic.AddInt64(&a.counter, 1)
}

// Builder constructs events from mutation results using pack to
// serialize changed piece-fields.
type Builder struct {
	Alloc *EventIDAllocator
	Pack  PackFunc
}

func NewBuilder(alloc *EventIDAllocator, pack PackFunc) *Builder {
	return &Builder{Alloc: alloc, Pack: pack}
}

func (b *Builder) packBasic(d *dentry.Dentry) ([]byte, error) {
	return b.Pack(d, proto.PieceFieldBasic)
}

// addAffected emits the message an affected dentry's own op_type
// calls for: a remove message if it was freed as a side effect (a
// hard-link source losing its last reference), otherwise an
// update(basic) message for whatever field changed on it (nlink, in
// every case this package currently produces).
func (b *Builder) addAffected(ev *Event, a dentry.Affected) error {
	if a.Op == dentry.AffectedRemove {
		return ev.add(Message{Inode: a.Dentry.Inode, OpType: proto.OpTypeRemove, FieldIndex: proto.PieceFieldForRemove})
	}
	buf, err := b.packBasic(a.Dentry)
	if err != nil {
		return err
	}
	return ev.add(Message{Inode: a.Dentry.Inode, OpType: proto.OpTypeUpdate, FieldIndex: proto.PieceFieldBasic, Buffer: buf})
}

// BuildCreate implements GENERATE_DENTRY_MESSAGES + GENERATE_ADD_TO_PARENT_MESSAGE:
// the new dentry's basic field, an update(basic) or remove message
// for each dentry side-effected by the create (a hard-link source
// whose nlink changed, the parent whose nlink changed), and finally
// the real parent's children field (the children buffer itself is not
// packed here; the field is just flagged changed, matching the "skip
// buffer for children field" rule). parent is the dentry's actual
// parent, independent of whatever affected holds.
func (b *Builder) BuildCreate(version int64, d, parent *dentry.Dentry, affected []dentry.Affected) (*Event, error) {
	ev := newEvent(b.Alloc.Next(), version)
	buf, err := b.packBasic(d)
	if err != nil {
		return nil, err
	}
	if err := ev.add(Message{Inode: d.Inode, OpType: proto.OpTypeCreate, FieldIndex: proto.PieceFieldBasic, Buffer: buf}); err != nil {
		return nil, err
	}
	for _, a := range affected {
		if err := b.addAffected(ev, a); err != nil {
			return nil, err
		}
	}
	if parent != nil {
		if err := ev.add(Message{Inode: parent.Inode, OpType: proto.OpTypeUpdate, FieldIndex: proto.PieceFieldChildren}); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// BuildRemove implements GENERATE_REOMVE_DENTRY_MESSAGES +
// GENERATE_REMOVE_FROM_PARENT_MESSAGE: a remove message tagged with
// the virtual for-remove field index (no buffer, alloc-delta is
// implicitly -dentry.alloc downstream), a message per affected dentry
// as in BuildCreate, and finally the real parent's children field.
func (b *Builder) BuildRemove(version int64, d, parent *dentry.Dentry, affected []dentry.Affected) (*Event, error) {
	ev := newEvent(b.Alloc.Next(), version)
	if err := ev.add(Message{Inode: d.Inode, OpType: proto.OpTypeRemove, FieldIndex: proto.PieceFieldForRemove}); err != nil {
		return nil, err
	}
	for _, a := range affected {
		if err := b.addAffected(ev, a); err != nil {
			return nil, err
		}
	}
	if parent != nil {
		if err := ev.add(Message{Inode: parent.Inode, OpType: proto.OpTypeUpdate, FieldIndex: proto.PieceFieldChildren}); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// BuildRename implements generate_rename_messages: same-parent moves
// touch one children field, cross-parent moves touch both, and the
// moved dentry's basic field always changes (its subname changed).
func (b *Builder) BuildRename(version int64, d, oldParent, newParent *dentry.Dentry) (*Event, error) {
	ev := newEvent(b.Alloc.Next(), version)
	buf, err := b.packBasic(d)
	if err != nil {
		return nil, err
	}
	if err := ev.add(Message{Inode: d.Inode, OpType: proto.OpTypeRename, FieldIndex: proto.PieceFieldBasic, Buffer: buf}); err != nil {
		return nil, err
	}
	if err := ev.add(Message{Inode: oldParent.Inode, OpType: proto.OpTypeUpdate, FieldIndex: proto.PieceFieldChildren}); err != nil {
		return nil, err
	}
	if newParent != oldParent {
		if err := ev.add(Message{Inode: newParent.Inode, OpType: proto.OpTypeUpdate, FieldIndex: proto.PieceFieldChildren}); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

// BuildFieldUpdate covers SET_XATTR/REMOVE_XATTR/SET_DSIZE and plain
// attribute updates: a single basic or xattr message for d.
func (b *Builder) BuildFieldUpdate(version int64, d *dentry.Dentry, field int, op proto.OpType) (*Event, error) {
	ev := newEvent(b.Alloc.Next(), version)
	buf, err := b.Pack(d, field)
	if err != nil {
		return nil, err
	}
	if err := ev.add(Message{Inode: d.Inode, OpType: op, FieldIndex: field, Buffer: buf}); err != nil {
		return nil, err
	}
	return ev, nil
}
