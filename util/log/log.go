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

// Package log is the process-wide leveled logger used by every
// component. It mirrors the call shape of the metanode/sdk packages
// (LogDebugf/LogInfof/LogWarnf/LogErrorf) and rotates files through
// lumberjack instead of hand-rolled file rolling.
package log

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	CriticalLevel
)

var levelNames = map[Level]string{
	DebugLevel:    "DEBUG",
	InfoLevel:     "INFO",
	WarnLevel:     "WARN",
	ErrorLevel:    "ERROR",
	CriticalLevel: "CRITICAL",
}

var (
	curLevel = int32(InfoLevel)
	out      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

// InitLog opens the rotating log file for module under dir and sets
// the minimum level. Safe to call once at process start.
func InitLog(dir, module string, level Level) error {
	if dir == "" {
		atomic.StoreInt32(&curLevel, int32(level))
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, module+".log"),
		MaxSize:    200,
		MaxBackups: 20,
		MaxAge:     30,
		Compress:   true,
	}
	out = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
	atomic.StoreInt32(&curLevel, int32(level))
	return nil
}

// ParseLevel maps a config string to a Level, defaulting to InfoLevel
// for an empty or unrecognized value.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "critical":
		return CriticalLevel
	default:
		return InfoLevel
	}
}

func SetLogLevel(level Level) {
	atomic.StoreInt32(&curLevel, int32(level))
}

func enabled(level Level) bool {
	return level >= Level(atomic.LoadInt32(&curLevel))
}

func output(level Level, format string, args ...interface{}) {
	if !enabled(level) {
		return
	}
	out.Output(3, fmt.Sprintf("["+levelNames[level]+"] "+format, args...))
}

func LogDebugf(format string, args ...interface{})    { output(DebugLevel, format, args...) }
func LogInfof(format string, args ...interface{})     { output(InfoLevel, format, args...) }
func LogWarnf(format string, args ...interface{})     { output(WarnLevel, format, args...) }
func LogErrorf(format string, args ...interface{})    { output(ErrorLevel, format, args...) }
func LogCriticalf(format string, args ...interface{}) { output(CriticalLevel, format, args...) }
