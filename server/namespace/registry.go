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

// Package namespace is the registry (C1): namespace string -> root
// dentry + counters. First-touch lookups that race on creating a new
// namespace are collapsed through singleflight, the same pattern
// sdk/meta/meta.go uses for its partition-view refresh.
package namespace

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fastdir/fastdir/server/dentry"
)

type Registry struct {
	mu    sync.RWMutex
	byName map[string]*dentry.Namespace
	sf    singleflight.Group

	// epoch is bumped whenever the registry's namespace set changes,
	// used as a cheap staleness token for cached listings.
	epoch string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*dentry.Namespace),
		epoch:  uuid.NewString(),
	}
}

// Get returns an existing namespace, or nil if none has been
// registered under name yet.
func (r *Registry) Get(name string) *dentry.Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// GetOrCreate returns the namespace registered under name, creating
// it on first touch. Concurrent first-touch callers for the same name
// collapse onto a single creation via singleflight.
func (r *Registry) GetOrCreate(name string) *dentry.Namespace {
	if ns := r.Get(name); ns != nil {
		return ns
	}

	v, _, _ := r.sf.Do(name, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if ns, ok := r.byName[name]; ok {
			return ns, nil
		}
		ns := dentry.NewNamespace(name)
		r.byName[name] = ns
		r.epoch = uuid.NewString()
		return ns, nil
	})
	return v.(*dentry.Namespace)
}

func (r *Registry) Epoch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
