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

// Package server wires the data thread shards (C4), the change-notify
// builder (C6), the redo-log writer (C8), the data-sync dispatcher
// (C10) and the binlog producer (C9) into one runnable process.
package server

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/binlog"
	"github.com/fastdir/fastdir/server/changenotify"
	"github.com/fastdir/fastdir/server/datasync"
	"github.com/fastdir/fastdir/server/datathread"
	"github.com/fastdir/fastdir/server/dentry"
	"github.com/fastdir/fastdir/server/metrics"
	"github.com/fastdir/fastdir/server/namespace"
	"github.com/fastdir/fastdir/server/serializer"
	"github.com/fastdir/fastdir/util/config"
	"github.com/fastdir/fastdir/util/log"
)

// Config mirrors the JSON fields util/config.Config exposes through
// its typed getters.
type Config struct {
	DataDir       string
	LogDir        string
	LogLevel      string
	ShardCount    int
	FlockTableCap int
}

func LoadConfig(path string) (*Config, error) {
	c, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		DataDir:       c.GetString("data_dir"),
		LogDir:        c.GetString("log_dir"),
		LogLevel:      c.GetString("log_level"),
		ShardCount:    int(c.GetInt64("shard_count")),
		FlockTableCap: int(c.GetInt64("flock_table_capacity")),
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	if cfg.FlockTableCap <= 0 {
		cfg.FlockTableCap = 4096
	}
	return cfg, nil
}

// Server owns every shard, the shared data-version counter, the
// event-id allocator, the redo-log writer, the data-sync dispatcher
// and the binlog producer.
type Server struct {
	cfg *Config

	Registry    *namespace.Registry
	Inodes      *dentry.InodeIndex
	dataVersion int64

	Shards     []*datathread.Shard
	Writer     *binlog.Writer
	Dispatcher *datasync.Dispatcher
	Producer   *binlog.Producer
}

func New(cfg *Config) *Server {
	s := &Server{
		cfg:      cfg,
		Registry: namespace.NewRegistry(),
		Inodes:   dentry.NewInodeIndex(),
		Producer: binlog.NewProducer(),
	}

	alloc := &changenotify.EventIDAllocator{}
	pack := func(d *dentry.Dentry, field int) ([]byte, error) {
		switch field {
		case proto.PieceFieldBasic:
			return serializer.PackBasic(d)
		case proto.PieceFieldXattr:
			return serializer.PackXattr(d)
		default:
			return nil, nil
		}
	}
	builder := changenotify.NewBuilder(alloc, pack)

	s.Writer = binlog.NewWriter(filepath.Join(cfg.DataDir, "redo"))
	s.Dispatcher = datasync.NewDispatcher(cfg.ShardCount, s.persistMerged)

	persist := func(ev *changenotify.Event) error {
		s.Writer.Push(ev, func(err error) {
			if err != nil {
				log.LogErrorf("redo log write failed: %v", err)
				return
			}
			s.Dispatcher.Submit(ev)
		})
		return nil
	}

	for i := 0; i < cfg.ShardCount; i++ {
		engine := dentry.NewEngine(s.Inodes).WithFlockTable(cfg.FlockTableCap)
		shard := datathread.NewShard(i, engine, builder, &s.dataVersion, persist)
		s.Shards = append(s.Shards, shard)
	}

	return s
}

func (s *Server) persistMerged(entries []*datasync.MergedEntry) error {
	log.LogDebugf("datasync: persisted %d merged entries", len(entries))
	return nil
}

// ShardFor routes a namespace/path to the shard that owns its hash
// range, mirroring the data-thread hash-routing contract (spec.md §3).
func (s *Server) ShardFor(ns *dentry.Namespace, path string) *datathread.Shard {
	h := dentry.HashPath(ns, path)
	return s.Shards[int(h)%len(s.Shards)]
}

// RegisterMetrics exposes every collector on reg (typically the
// default Prometheus registry at process start).
func (s *Server) RegisterMetrics(reg prometheus.Registerer) error {
	return metrics.Register(reg)
}

// Start launches every shard goroutine plus the redo-log writer and
// data-sync dispatcher.
func (s *Server) Start() error {
	if err := log.InitLog(s.cfg.LogDir, "fastdirserver", log.ParseLevel(s.cfg.LogLevel)); err != nil {
		return fmt.Errorf("init log: %w", err)
	}
	for _, shard := range s.Shards {
		go shard.Run()
	}
	go s.Writer.Run()
	s.Dispatcher.Start()
	go s.watchTimeouts()
	return nil
}

func (s *Server) watchTimeouts() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.Producer.ClearTimeouts(time.Now().Unix())
	}
}

// Stop terminates the data-sync dispatcher first, then the redo-log
// writer, then the shards that feed them. The binlog producer is not
// stopped here.
func (s *Server) Stop() {
	s.Dispatcher.Stop()
	s.Writer.Stop()
	for _, shard := range s.Shards {
		shard.Stop()
	}
}
