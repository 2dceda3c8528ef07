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

// Package metrics registers the server's Prometheus collectors: shard
// queue depth, the global data version, redo-log flush latency, and
// push-result ring occupancy.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "fastdir"

var (
	ShardQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "datathread",
		Name:      "queue_depth",
		Help:      "Number of update records currently queued for a shard.",
	}, []string{"shard"})

	DataVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "datathread",
		Name:      "data_version",
		Help:      "Current global monotonic data version.",
	})

	RedoLogFlushSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "binlog",
		Name:      "redo_log_flush_seconds",
		Help:      "Time to write and rename one redo log batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"log"})

	PushResultRingOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pushresult",
		Name:      "ring_occupancy",
		Help:      "Number of outstanding acks for a follower: occupied push-result ring slots plus overflow queue entries.",
	}, []string{"follower"})
)

// Register adds every collector to reg. Call once at server start;
// tests construct their own prometheus.NewRegistry() to avoid
// colliding with other tests in the same process.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ShardQueueDepth, DataVersion, RedoLogFlushSeconds, PushResultRingOccupancy} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
