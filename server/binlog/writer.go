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

// Package binlog implements the persistence write thread (C8),
// grounded on storage/binlog_write_thread.c: drain a batch of update
// records, write them through two redo logs (field, space), and only
// then notify every waiter for the batch.
package binlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fastdir/fastdir/server/changenotify"
	"github.com/fastdir/fastdir/server/metrics"
	"github.com/fastdir/fastdir/util/log"
)

// MaxRecordSize bounds one encoded record, matching spec.md §6's
// on-disk format constraint.
const MaxRecordSize = 128

const (
	fieldRedoFilename = "field.redo"
	fieldTmpFilename  = ".field.tmp"
	spaceRedoFilename = "space.redo"
	spaceTmpFilename  = ".space.tmp"
)

type batchItem struct {
	event *changenotify.Event
	done  func(error)
}

// Writer is the field/space redo log writer. The "space" log has no
// real trunk/space allocator behind it in this repo (out of scope per
// spec.md §1); it is kept as a parallel per-batch record counter so
// the two-log notify-after-both-flush discipline is still exercised;
// the last batch's count is kept in lastSpaceRecordCount.
type Writer struct {
	dir string

	mu    sync.Mutex
	queue []batchItem

	cond *sync.Cond

	lastFieldRecordCount int
	lastSpaceRecordCount int

	stopCh chan struct{}
}

func NewWriter(dir string) *Writer {
	w := &Writer{dir: dir, stopCh: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Push enqueues an event for durable persistence; done is invoked
// once the batch containing it has been flushed (or failed).
func (w *Writer) Push(ev *changenotify.Event, done func(error)) {
	w.mu.Lock()
	w.queue = append(w.queue, batchItem{event: ev, done: done})
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *Writer) Stop() {
	close(w.stopCh)
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Run drains the queue to completion on each iteration — the same
// pop-all-then-process shape as the data thread shard loop.
func (w *Writer) Run() {
	for {
		batch := w.popAll()
		if batch == nil {
			return
		}
		err := w.writeBatch(batch)
		if err != nil {
			log.LogCriticalf("binlog write thread: %v, program exit", err)
		}
		for _, item := range batch {
			item.done(err)
		}
	}
}

func (w *Writer) popAll() []batchItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 {
		select {
		case <-w.stopCh:
			return nil
		default:
		}
		w.cond.Wait()
		select {
		case <-w.stopCh:
			if len(w.queue) == 0 {
				return nil
			}
		default:
		}
	}
	batch := w.queue
	w.queue = nil
	return batch
}

func encodeRecord(ev *changenotify.Event) ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, ev.ID)
	binary.Write(&buf, binary.BigEndian, ev.Version)
	binary.Write(&buf, binary.BigEndian, uint8(len(ev.Messages)))
	for _, m := range ev.Messages {
		binary.Write(&buf, binary.BigEndian, m.Inode)
		binary.Write(&buf, binary.BigEndian, uint8(m.OpType))
		binary.Write(&buf, binary.BigEndian, uint8(m.FieldIndex))
		binary.Write(&buf, binary.BigEndian, uint32(len(m.Buffer)))
		buf.Write(m.Buffer)
	}
	if buf.Len() > MaxRecordSize {
		return nil, fmt.Errorf("encoded record for event %d exceeds max record size (%d > %d)", ev.ID, buf.Len(), MaxRecordSize)
	}
	return buf.Bytes(), nil
}

// writeBatch implements write_redo_logs + push_to_log_queues +
// notify_all: both logs are written to .tmp files and atomically
// renamed before any waiter is told the batch is durable.
func (w *Writer) writeBatch(batch []batchItem) error {
	var fieldBuf bytes.Buffer
	for _, item := range batch {
		rec, err := encodeRecord(item.event)
		if err != nil {
			return err
		}
		binary.Write(&fieldBuf, binary.BigEndian, uint32(len(rec)))
		fieldBuf.Write(rec)
	}

	fieldStart := time.Now()
	if err := writeViaTmpRename(w.dir, fieldTmpFilename, fieldRedoFilename, fieldBuf.Bytes()); err != nil {
		return err
	}
	metrics.RedoLogFlushSeconds.WithLabelValues("field").Observe(time.Since(fieldStart).Seconds())
	w.lastFieldRecordCount = len(batch)

	// Space log: no real trunk allocator backs this (see package doc);
	// record count only, written through the same tmp-rename discipline
	// for symmetry with the field log.
	var spaceBuf bytes.Buffer
	binary.Write(&spaceBuf, binary.BigEndian, uint32(len(batch)))
	spaceStart := time.Now()
	if err := writeViaTmpRename(w.dir, spaceTmpFilename, spaceRedoFilename, spaceBuf.Bytes()); err != nil {
		return err
	}
	metrics.RedoLogFlushSeconds.WithLabelValues("space").Observe(time.Since(spaceStart).Seconds())
	w.lastSpaceRecordCount = len(batch)

	return nil
}

func writeViaTmpRename(dir, tmpName, finalName string, data []byte) error {
	if dir == "" {
		return nil
	}
	tmpPath := filepath.Join(dir, tmpName)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, finalName))
}
