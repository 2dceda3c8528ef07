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
	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/dentry"
)

// NotifyFunc is invoked by the owning shard exactly once per record,
// right after the record's event (if any) has been handed to the
// shard's PersistFunc; it does not wait for that event to be durable.
type NotifyFunc func(rec *UpdateRecord, status uint8, isError bool)

// UpdateRecord is one submitted mutation. The caller allocates and
// owns it; shard responsibility ends when Notify has fired once
// (spec.md §6 record enqueue contract).
type UpdateRecord struct {
	// DataVersion is 0 until the owning shard assigns one, unless
	// this record is a pre-assigned replication replay, in which
	// case the shard's global counter is CAS-bumped to at least it.
	DataVersion int64
	OpType      proto.OpType
	Namespace   *dentry.Namespace

	ParentPath string
	Name       string

	// Used only by OpTypeRename.
	DstParentPath string
	DstName       string
	RenameFlag    proto.RenameFlag

	// Used only by OpTypeCreate.
	CreateOpts dentry.CreateOptions

	// Used only by OpTypeSetXattr/OpTypeRemoveXattr.
	XattrKey   string
	XattrValue string

	// Used only by OpTypeUpdate/OpTypeSetDsize: explicit attribute
	// replacement applied in place of a fresh CreateOpts.Stat.
	NewStat *dentry.Stat

	// IgnoreErrno holds status codes that should be reported as
	// isError=false even though Status != OpOk (the "loose" retry
	// mode of spec.md §4.3/§7).
	IgnoreErrno map[uint8]bool

	Notify NotifyFunc

	// Populated by the shard while processing.
	Dentry   *dentry.Dentry
	Affected []dentry.Affected
	Status   uint8
}

// QueryKind selects the dispatch in deal_query_record.
type QueryKind int

const (
	QueryStat QueryKind = iota
	QueryReadLink
	QueryLookupInode
	QueryGetXattr
	QueryListXattr
	QueryListDentry
)

// QueryRecord is a read-only operation routed to the shard owning its
// target; Done is closed once Result/Status are populated.
type QueryRecord struct {
	Kind      QueryKind
	Namespace *dentry.Namespace
	Path      string
	XattrKey  string

	ReadDirFrom  string
	ReadDirLimit int

	Result interface{}
	Status uint8
	Done   chan struct{}
}

func NewQueryRecord(kind QueryKind, ns *dentry.Namespace, path string) *QueryRecord {
	return &QueryRecord{Kind: kind, Namespace: ns, Path: path, Done: make(chan struct{})}
}
