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
	"sync"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"github.com/fastdir/fastdir/server/binlog/pushresult"
	"github.com/fastdir/fastdir/server/changenotify"
	"github.com/fastdir/fastdir/server/metrics"
	"github.com/fastdir/fastdir/util/log"
)

// NewFollowerID mints a compact, sortable, time-ordered connection id
// for a newly accepted follower connection.
func NewFollowerID() string {
	return xid.New().String()
}

// SendFunc ships one record's wire buffer to a follower connection. The
// TCP framing and the follower's tail-reader for catch-up are external
// collaborators, referenced only by this contract.
type SendFunc func(ev *changenotify.Event) error

// Follower is one downstream replica, holding its own push-result
// tracker so acks for that connection are matched independently.
type Follower struct {
	ID     string
	Ctx    *pushresult.Context
	Send   SendFunc
	online bool

	// limiter throttles the catch-up replay a freshly (re)connected
	// follower pulls through its tail-reader; nil means unthrottled,
	// the steady-state case once a follower is caught up.
	limiter *rate.Limiter
}

func NewFollower(id string, ringSize int, networkTimeoutSeconds int64, send SendFunc) *Follower {
	return &Follower{
		ID:     id,
		Ctx:    pushresult.NewContext(ringSize, networkTimeoutSeconds),
		Send:   send,
		online: true,
	}
}

// WithCatchUpRateLimit bounds how fast a follower catching up after a
// reconnect is replayed to, so one slow follower's tail-reader can't
// starve the others sharing the producer's send path.
func (f *Follower) WithCatchUpRateLimit(eventsPerSecond float64, burst int) *Follower {
	f.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
	return f
}

// Producer replicates records to every follower and routes their acks
// back to the right push-result tracker, grounded on
// binlog_producer.h's init/dispatch/destroy lifecycle.
type Producer struct {
	mu        sync.RWMutex
	followers map[string]*Follower
}

func NewProducer() *Producer {
	return &Producer{followers: make(map[string]*Follower)}
}

func (p *Producer) AddFollower(f *Follower) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.followers[f.ID] = f
}

func (p *Producer) RemoveFollower(id string) {
	p.mu.Lock()
	f, ok := p.followers[id]
	delete(p.followers, id)
	p.mu.Unlock()
	if ok {
		f.Ctx.ClearAll()
	}
}

// Dispatch hands one already-durable event to every online follower,
// registering the outstanding ack against waitingTask before sending so
// a reply racing the registration can never be dropped. Per spec, only
// records with a data version already assigned (ev.Version > 0) reach
// the producer; the caller is responsible for not calling Dispatch for
// failed records.
func (p *Producer) Dispatch(ev *changenotify.Event, waitingTask *pushresult.WaitingTask, taskVersion int64, now int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, f := range p.followers {
		if !f.online {
			continue
		}
		if f.limiter != nil && !f.limiter.Allow() {
			// Follower is mid catch-up; its tail-reader will pick this
			// version up on its own, so the caller isn't kept waiting
			// on a synchronous ack for it.
			continue
		}
		f.Ctx.Add(uint64(ev.Version), waitingTask, taskVersion, now)
		if err := f.Send(ev); err != nil {
			log.LogWarnf("binlog producer: send to follower %s failed: %v", f.ID, err)
			f.Ctx.Remove(uint64(ev.Version))
		}
	}
}

// Ack matches a follower's acknowledgement of dataVersion against that
// follower's tracker, decrementing the originating request's
// outstanding count.
func (p *Producer) Ack(followerID string, dataVersion int64) bool {
	p.mu.RLock()
	f, ok := p.followers[followerID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return f.Ctx.Remove(uint64(dataVersion))
}

// ClearTimeouts sweeps every follower's tracker once, matching the
// once-per-wall-clock-second guard each Context already enforces, and
// publishes each follower's current ring occupancy.
func (p *Producer) ClearTimeouts(now int64) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for id, f := range p.followers {
		total += f.Ctx.ClearTimeouts(now)
		metrics.PushResultRingOccupancy.WithLabelValues(id).Set(float64(f.Ctx.Occupancy()))
	}
	return total
}

func (p *Producer) SetOnline(id string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.followers[id]; ok {
		f.online = online
	}
}
