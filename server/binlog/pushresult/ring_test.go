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

package pushresult

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRemoveBalancesWaitingRPCCount(t *testing.T) {
	ctx := NewContext(8, 30)
	drained := 0
	task := NewWaitingTask(1, 5, func() { drained++ })

	for v := uint64(100); v <= 104; v++ {
		ctx.Add(v, task, 1, 0)
	}

	order := []uint64{102, 101, 103, 100, 104}
	for _, v := range order {
		require.True(t, ctx.Remove(v))
	}

	require.Equal(t, 1, drained)
	require.Equal(t, int64(0), task.WaitingRPCCount)
}

func TestAddFallsBackToQueueOnOutOfOrderArrival(t *testing.T) {
	ctx := NewContext(4, 30)
	task := NewWaitingTask(1, 2, func() {})

	ctx.Add(10, task, 1, 0) // ring, empty -> fast path
	ctx.Add(20, task, 1, 0) // not contiguous with 10 -> queue fallback

	require.True(t, ctx.Remove(20))
	require.True(t, ctx.Remove(10))
}

func TestClearTimeoutsOncePerSecond(t *testing.T) {
	ctx := NewContext(4, -1) // expires immediately (now + -1 < now+1)
	drained := 0
	task := NewWaitingTask(1, 1, func() { drained++ })
	ctx.Add(1, task, 1, 0)

	n := ctx.ClearTimeouts(1)
	require.Equal(t, 1, n)
	require.Equal(t, 1, drained)

	// Same wall-clock second: no-op even though nothing is left.
	n = ctx.ClearTimeouts(1)
	require.Equal(t, 0, n)
}

func TestTaskVersionReuseDropsStaleNotification(t *testing.T) {
	ctx := NewContext(4, 30)
	drained := 0
	task := NewWaitingTask(1, 1, func() { drained++ })
	ctx.Add(5, task, 1, 0)

	// Task slot reused for a new request before the ack arrives.
	task.TaskVersion = 2

	ctx.Remove(5)
	require.Equal(t, 0, drained)
	require.Equal(t, int64(1), task.WaitingRPCCount)
}

func TestOccupancyCountsRingAndQueueEntries(t *testing.T) {
	ctx := NewContext(4, 30)
	task := NewWaitingTask(1, 3, func() {})

	ctx.Add(1, task, 1, 0)
	ctx.Add(2, task, 1, 0)
	ctx.Add(100, task, 1, 0) // not contiguous, falls into the queue

	require.Equal(t, 3, ctx.Occupancy())
	require.True(t, ctx.Remove(1))
	require.Equal(t, 2, ctx.Occupancy())
}

func TestClearAllDecrementsEverything(t *testing.T) {
	ctx := NewContext(4, 30)
	task := NewWaitingTask(1, 3, func() {})
	ctx.Add(1, task, 1, 0)
	ctx.Add(2, task, 1, 0)
	ctx.Add(100, task, 1, 0) // forces a queue fallback entry too

	ctx.ClearAll()
	require.Equal(t, int64(0), task.WaitingRPCCount)
}
