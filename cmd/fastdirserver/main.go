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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fastdir/fastdir/server"
	"github.com/fastdir/fastdir/util/log"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "fastdirserver",
		Short: "fastdir metadata directory server",
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the server in the foreground",
		RunE:  runStart,
	}
	start.Flags().StringVarP(&configPath, "config", "c", "", "path to the server config file")
	start.MarkFlagRequired("config")

	root.AddCommand(start)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s := server.New(cfg)
	if err := s.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.LogInfof("fastdirserver started, shards=%d data_dir=%s", cfg.ShardCount, cfg.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.LogInfof("fastdirserver shutting down")
	s.Stop()
	return nil
}
