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
	"container/heap"
	"sync"

	"github.com/fastdir/fastdir/server/dentry"
)

// delayedEntry is one item waiting on the expiry-ordered heap.
type delayedEntry struct {
	d       *dentry.Dentry
	expires int64
}

type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].expires < h[j].expires }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x interface{}) { *h = append(*h, x.(*delayedEntry)) }
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DelayedFreeQueue is the per-shard two-tier reclamation structure
// (C5): an immediate queue drained every shard iteration, and a delay
// queue ordered by absolute expiry time checked at most once per
// wall-clock second (data_thread.c's add_to_delay_free_queue /
// deal_delay_free_queue / deal_immediate_free_queue).
type DelayedFreeQueue struct {
	mu              sync.Mutex
	heap            delayedHeap
	immediate       []*dentry.Dentry
	lastCheckSecond int64

	// Reclaim is invoked for every entry once its grace window has
	// elapsed (delay queue) or immediately (immediate queue).
	Reclaim func(*dentry.Dentry)
}

func NewDelayedFreeQueue(reclaim func(*dentry.Dentry)) *DelayedFreeQueue {
	return &DelayedFreeQueue{Reclaim: reclaim}
}

// AddImmediate enqueues a dentry for reclamation on the very next
// DealImmediate call, with no grace window.
func (q *DelayedFreeQueue) AddImmediate(d *dentry.Dentry) {
	q.mu.Lock()
	q.immediate = append(q.immediate, d)
	q.mu.Unlock()
}

// AddDelayed enqueues a dentry for reclamation once now+delaySeconds
// has passed, giving cross-shard readers a grace window (P9).
func (q *DelayedFreeQueue) AddDelayed(d *dentry.Dentry, delaySeconds, now int64) {
	q.mu.Lock()
	heap.Push(&q.heap, &delayedEntry{d: d, expires: now + delaySeconds})
	q.mu.Unlock()
}

// DealImmediate drains the entire immediate queue unconditionally,
// every shard iteration.
func (q *DelayedFreeQueue) DealImmediate() int {
	q.mu.Lock()
	batch := q.immediate
	q.immediate = nil
	q.mu.Unlock()

	for _, d := range batch {
		q.Reclaim(d)
	}
	return len(batch)
}

// DealDelayed pops every entry whose expiry has passed, but only does
// any work at most once per distinct value of now (wall-clock
// second), matching the last_check_time guard in the original.
func (q *DelayedFreeQueue) DealDelayed(now int64) int {
	q.mu.Lock()
	if q.lastCheckSecond == now {
		q.mu.Unlock()
		return 0
	}
	q.lastCheckSecond = now

	var reclaimed []*dentry.Dentry
	for q.heap.Len() > 0 && q.heap[0].expires < now {
		e := heap.Pop(&q.heap).(*delayedEntry)
		reclaimed = append(reclaimed, e.d)
	}
	q.mu.Unlock()

	for _, d := range reclaimed {
		q.Reclaim(d)
	}
	return len(reclaimed)
}

func (q *DelayedFreeQueue) DelayedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
