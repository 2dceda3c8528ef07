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

package binlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fastdir/fastdir/server/binlog/pushresult"
	"github.com/fastdir/fastdir/server/changenotify"
)

func TestProducerDispatchMatchesAckAgainstCorrectFollower(t *testing.T) {
	p := NewProducer()

	var sentA, sentB []int64
	p.AddFollower(NewFollower("a", 8, 30, func(ev *changenotify.Event) error {
		sentA = append(sentA, ev.Version)
		return nil
	}))
	p.AddFollower(NewFollower("b", 8, 30, func(ev *changenotify.Event) error {
		sentB = append(sentB, ev.Version)
		return nil
	}))

	drained := 0
	task := pushresult.NewWaitingTask(1, 2, func() { drained++ })

	ev := &changenotify.Event{ID: 1, Version: 100}
	p.Dispatch(ev, task, 1, 0)

	require.Equal(t, []int64{100}, sentA)
	require.Equal(t, []int64{100}, sentB)

	require.True(t, p.Ack("a", 100))
	require.Equal(t, int64(1), task.WaitingRPCCount)
	require.True(t, p.Ack("b", 100))
	require.Equal(t, int64(0), task.WaitingRPCCount)
	require.Equal(t, 1, drained)

	require.False(t, p.Ack("missing-follower", 100))
}

func TestProducerRemoveFollowerClearsOutstandingAcks(t *testing.T) {
	p := NewProducer()
	drained := 0
	task := pushresult.NewWaitingTask(1, 1, func() { drained++ })

	p.AddFollower(NewFollower("a", 8, 30, func(ev *changenotify.Event) error { return nil }))
	p.Dispatch(&changenotify.Event{ID: 1, Version: 1}, task, 1, 0)

	p.RemoveFollower("a")
	require.Equal(t, int64(0), task.WaitingRPCCount)
	require.Equal(t, 1, drained)

	require.False(t, p.Ack("a", 1))
}

func TestProducerCatchUpRateLimitSkipsThrottledFollower(t *testing.T) {
	p := NewProducer()
	sent := 0
	f := NewFollower("a", 8, 30, func(ev *changenotify.Event) error {
		sent++
		return nil
	}).WithCatchUpRateLimit(0, 1)
	p.AddFollower(f)

	task := pushresult.NewWaitingTask(1, 0, func() {})
	p.Dispatch(&changenotify.Event{ID: 1, Version: 1}, task, 1, 0)
	require.Equal(t, 1, sent)

	p.Dispatch(&changenotify.Event{ID: 2, Version: 2}, task, 1, 0)
	require.Equal(t, 1, sent, "second dispatch should be throttled since the burst of 1 was consumed")
}

func TestProducerOfflineFollowerIsSkipped(t *testing.T) {
	p := NewProducer()
	sent := false
	p.AddFollower(NewFollower("a", 8, 30, func(ev *changenotify.Event) error {
		sent = true
		return nil
	}))
	p.SetOnline("a", false)

	task := pushresult.NewWaitingTask(1, 0, func() {})
	p.Dispatch(&changenotify.Event{ID: 1, Version: 1}, task, 1, 0)

	require.False(t, sent)
}
