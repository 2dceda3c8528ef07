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

// Package pushresult implements the hybrid ring+ordered-queue
// push-result tracker (C9), grounded directly on
// binlog/push_result_ring.c: a contiguous ring buffer for the common
// in-order-ack case, falling back to a sorted linked queue for
// wrap conflicts or out-of-order arrivals.
package pushresult

import "sync"

// WaitingTask is the minimal contract a connection's in-flight RPC
// continuation must satisfy: a reusable slot identified by
// TaskVersion, and an outstanding-RPC counter that is decremented as
// each data version it is waiting on is acknowledged or times out.
type WaitingTask struct {
	mu              sync.Mutex
	TaskVersion     int64
	WaitingRPCCount int64
	OnDrained       func()
}

func NewWaitingTask(taskVersion int64, waitingCount int64, onDrained func()) *WaitingTask {
	return &WaitingTask{TaskVersion: taskVersion, WaitingRPCCount: waitingCount, OnDrained: onDrained}
}

func (w *WaitingTask) currentVersion() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.TaskVersion
}

func (w *WaitingTask) decrement() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.WaitingRPCCount--
	return w.WaitingRPCCount
}

type entry struct {
	dataVersion uint64
	waitingTask *WaitingTask
	taskVersion int64
	expires     int64
	next        *entry // queue linkage only
	occupied    bool
}

// Context is one follower connection's tracker: a ring sized to the
// expected in-flight window, plus an overflow queue.
type Context struct {
	mu sync.Mutex

	ring struct {
		entries []entry
		start   int
		end     int
		size    int
	}

	queue struct {
		head *entry
		tail *entry
	}

	lastCheckTimeoutTime int64

	// NetworkTimeoutSeconds is added to "now" to compute an entry's
	// expiry, mirroring SF_G_NETWORK_TIMEOUT.
	NetworkTimeoutSeconds int64
}

func NewContext(ringSize int, networkTimeoutSeconds int64) *Context {
	c := &Context{NetworkTimeoutSeconds: networkTimeoutSeconds}
	c.ring.entries = make([]entry, ringSize)
	c.ring.size = ringSize
	return c
}

func (c *Context) descTaskWaitingRPCCount(e *entry) {
	if e.waitingTask == nil {
		return
	}
	if e.taskVersion != e.waitingTask.currentVersion() {
		// Task slot was reused; this notification is stale, drop it.
		return
	}
	if e.waitingTask.decrement() == 0 && e.waitingTask.OnDrained != nil {
		e.waitingTask.OnDrained()
	}
}

// Add matches an outstanding data version against the ring, falling
// back to the sorted queue on a wrap conflict, exactly like
// push_result_ring_add.
func (c *Context) Add(dataVersion uint64, waitingTask *WaitingTask, taskVersion int64, now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.ring.size
	index := int(dataVersion % uint64(size))
	matched := false

	if c.ring.end == c.ring.start {
		// empty ring
		c.ring.start = index
		c.ring.end = (index + 1) % size
		matched = true
	} else if index == c.ring.end {
		prevIndex := (index + size - 1) % size
		nextIndex := (index + 1) % size
		if nextIndex != c.ring.start && c.ring.entries[prevIndex].occupied &&
			dataVersion == c.ring.entries[prevIndex].dataVersion+1 {
			c.ring.end = nextIndex
			matched = true
		}
	}

	if matched {
		c.ring.entries[index] = entry{
			dataVersion: dataVersion,
			waitingTask: waitingTask,
			taskVersion: taskVersion,
			expires:     now + c.NetworkTimeoutSeconds,
			occupied:    true,
		}
		return
	}

	c.addToQueue(dataVersion, waitingTask, taskVersion, now)
}

func (c *Context) addToQueue(dataVersion uint64, waitingTask *WaitingTask, taskVersion int64, now int64) {
	e := &entry{
		dataVersion: dataVersion,
		waitingTask: waitingTask,
		taskVersion: taskVersion,
		expires:     now + c.NetworkTimeoutSeconds,
	}

	if c.queue.tail == nil {
		c.queue.head, c.queue.tail = e, e
		return
	}
	if dataVersion > c.queue.tail.dataVersion {
		c.queue.tail.next = e
		c.queue.tail = e
		return
	}
	if dataVersion < c.queue.head.dataVersion {
		e.next = c.queue.head
		c.queue.head = e
		return
	}

	prev := c.queue.head
	cur := c.queue.head.next
	for cur != nil && dataVersion > cur.dataVersion {
		prev = cur
		cur = cur.next
	}
	e.next = prev.next
	prev.next = e
}

// Remove matches an acknowledged data version against the ring slot
// first, advancing ring.start past any already-cleared slots, then
// falls back to the sorted queue.
func (c *Context) Remove(dataVersion uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring.end != c.ring.start {
		size := c.ring.size
		index := int(dataVersion % uint64(size))
		e := &c.ring.entries[index]
		if e.occupied && e.dataVersion == dataVersion {
			if c.ring.start == index {
				index = (index + 1) % size
				c.ring.start = index
				for c.ring.start != c.ring.end && !c.ring.entries[c.ring.start].occupied {
					index = (index + 1) % size
					c.ring.start = index
				}
			}
			c.descTaskWaitingRPCCount(e)
			e.occupied = false
			e.waitingTask = nil
			return true
		}
	}

	return c.removeFromQueue(dataVersion)
}

func (c *Context) removeFromQueue(dataVersion uint64) bool {
	if c.queue.head == nil {
		return false
	}

	var removed *entry
	if c.queue.head.dataVersion == dataVersion {
		removed = c.queue.head
		c.queue.head = removed.next
		if c.queue.head == nil {
			c.queue.tail = nil
		}
	} else {
		prev := c.queue.head
		cur := c.queue.head.next
		for cur != nil && dataVersion > cur.dataVersion {
			prev = cur
			cur = cur.next
		}
		if cur == nil || cur.dataVersion != dataVersion {
			return false
		}
		removed = cur
		prev.next = cur.next
		if c.queue.tail == cur {
			c.queue.tail = prev
		}
	}

	c.descTaskWaitingRPCCount(removed)
	return true
}

// ClearTimeouts walks the ring head then the queue head, clearing
// entries whose expiry has passed; a no-op if already called for the
// current value of now (once-per-wall-clock-second guard).
func (c *Context) ClearTimeouts(now int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastCheckTimeoutTime == now {
		return 0
	}
	c.lastCheckTimeoutTime = now

	count := 0
	if c.ring.start != c.ring.end {
		size := c.ring.size
		index := c.ring.start
		for c.ring.start != c.ring.end && c.ring.entries[c.ring.start].occupied &&
			c.ring.entries[c.ring.start].expires < now {
			c.descTaskWaitingRPCCount(&c.ring.entries[c.ring.start])
			c.ring.entries[c.ring.start].occupied = false
			c.ring.entries[c.ring.start].waitingTask = nil
			index = (index + 1) % size
			c.ring.start = index
			count++
		}
	}

	for c.queue.head != nil && c.queue.head.expires < now {
		e := c.queue.head
		c.queue.head = e.next
		if c.queue.head == nil {
			c.queue.tail = nil
		}
		c.descTaskWaitingRPCCount(e)
		count++
	}

	return count
}

// Occupancy reports how many acks are currently outstanding: occupied
// ring slots plus overflow queue entries.
func (c *Context) Occupancy() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	if c.ring.start != c.ring.end {
		size := c.ring.size
		for i := c.ring.start; i != c.ring.end; i = (i + 1) % size {
			if c.ring.entries[i].occupied {
				n++
			}
		}
	}
	for e := c.queue.head; e != nil; e = e.next {
		n++
	}
	return n
}

// ClearAll tears down every outstanding entry, decrementing every
// waiting task's counter; used on connection teardown.
func (c *Context) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring.start != c.ring.end {
		size := c.ring.size
		for c.ring.start != c.ring.end {
			e := &c.ring.entries[c.ring.start]
			if e.occupied {
				c.descTaskWaitingRPCCount(e)
				e.occupied = false
				e.waitingTask = nil
			}
			c.ring.start = (c.ring.start + 1) % size
		}
	}

	for c.queue.head != nil {
		e := c.queue.head
		c.queue.head = e.next
		c.descTaskWaitingRPCCount(e)
	}
	c.queue.tail = nil
}
