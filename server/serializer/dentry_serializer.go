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

// Package serializer packs one piece-field of a dentry into the
// tagged field-ID wire format of spec.md §6, grounded on
// db/dentry_serializer.c's pack_basic/pack_children and
// sf_serializer_pack_* calls.
package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fastdir/fastdir/proto"
	"github.com/fastdir/fastdir/server/dentry"
)

const (
	tagInt32     byte = 1
	tagInt64     byte = 2
	tagString    byte = 3
	tagInt64Arr  byte = 4
	tagStringMap byte = 5
)

func writeField(buf *bytes.Buffer, fieldID uint8, tag byte) {
	buf.WriteByte(fieldID)
	buf.WriteByte(tag)
}

func packInt32(buf *bytes.Buffer, fieldID uint8, v int32) {
	writeField(buf, fieldID, tagInt32)
	binary.Write(buf, binary.BigEndian, v)
}

func packInt64(buf *bytes.Buffer, fieldID uint8, v int64) {
	writeField(buf, fieldID, tagInt64)
	binary.Write(buf, binary.BigEndian, v)
}

func packString(buf *bytes.Buffer, fieldID uint8, s string) {
	writeField(buf, fieldID, tagString)
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

func packInt64Array(buf *bytes.Buffer, fieldID uint8, vs []int64) {
	writeField(buf, fieldID, tagInt64Arr)
	binary.Write(buf, binary.BigEndian, uint32(len(vs)))
	for _, v := range vs {
		binary.Write(buf, binary.BigEndian, v)
	}
}

func packStringMap(buf *bytes.Buffer, fieldID uint8, m map[string]string) {
	writeField(buf, fieldID, tagStringMap)
	binary.Write(buf, binary.BigEndian, uint32(len(m)))
	for k, v := range m {
		binary.Write(buf, binary.BigEndian, uint32(len(k)))
		buf.WriteString(k)
		binary.Write(buf, binary.BigEndian, uint32(len(v)))
		buf.WriteString(v)
	}
}

// PackBasic serializes the basic piece-field: identity, variant
// payload (hard-link source inode xor symlink target), mode, times,
// ownership, sizing and nlink.
func PackBasic(d *dentry.Dentry) ([]byte, error) {
	var buf bytes.Buffer
	packInt64(&buf, proto.FieldIDInode, d.Inode)

	var parentInode int64
	if d.Parent != nil {
		parentInode = d.Parent.Inode
	}
	packInt64(&buf, proto.FieldIDParent, parentInode)
	packString(&buf, proto.FieldIDSubname, d.Name)

	switch {
	case dentry.IsHardLink(d.Stat.Mode):
		if d.SrcDentry == nil {
			return nil, fmt.Errorf("hard-link dentry %d missing source", d.Inode)
		}
		packInt64(&buf, proto.FieldIDSrcInode, d.SrcDentry.Inode)
	case dentry.IsSymlink(d.Stat.Mode):
		packString(&buf, proto.FieldIDLink, d.Link)
	}

	packInt32(&buf, proto.FieldIDMode, int32(d.Stat.Mode))
	packInt64(&buf, proto.FieldIDAtime, d.Stat.Atime)
	packInt64(&buf, proto.FieldIDBtime, d.Stat.Btime)
	packInt64(&buf, proto.FieldIDCtime, d.Stat.Ctime)
	packInt64(&buf, proto.FieldIDMtime, d.Stat.Mtime)
	packInt32(&buf, proto.FieldIDUid, int32(d.Stat.Uid))
	packInt32(&buf, proto.FieldIDGid, int32(d.Stat.Gid))
	packInt64(&buf, proto.FieldIDFileSize, d.Stat.Size)
	packInt64(&buf, proto.FieldIDAllocSize, d.Stat.Alloc)
	packInt64(&buf, proto.FieldIDSpaceEnd, d.Stat.SpaceEnd)
	packInt32(&buf, proto.FieldIDNlink, int32(d.Stat.Nlink))
	packInt32(&buf, proto.FieldIDHashCode, int32(d.HashCode))
	return buf.Bytes(), nil
}

// PackChildren serializes the children piece-field as an int64 array
// of child inodes, in the order given. Returns (nil, nil) when
// childInodes is empty (d itself is not inspected), matching
// dentry_serializer_pack's empty-skip rule — callers must not enqueue
// a change-notify buffer in that case.
func PackChildren(d *dentry.Dentry, childInodes []int64) ([]byte, error) {
	if len(childInodes) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	packInt64Array(&buf, proto.FieldIDChildren, childInodes)
	return buf.Bytes(), nil
}

// PackXattr serializes the xattr piece-field as a single string map
// field, or (nil, nil) when there are no xattrs set.
func PackXattr(d *dentry.Dentry) ([]byte, error) {
	m := d.ListXattr()
	if len(m) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	packStringMap(&buf, proto.FieldIDXattr, m)
	return buf.Bytes(), nil
}

// Field is one decoded tagged field, used by Unpack for round-trip
// tests and recovery replay.
type Field struct {
	ID    uint8
	Tag   byte
	Int32 int32
	Int64 int64
	Str   string
	Ints  []int64
	Map   map[string]string
}

// Unpack decodes a buffer produced by one of the Pack* functions into
// its ordered list of tagged fields.
func Unpack(buf []byte) ([]Field, error) {
	r := bytes.NewReader(buf)
	var fields []Field
	for r.Len() > 0 {
		var hdr [2]byte
		if _, err := r.Read(hdr[:]); err != nil {
			return nil, err
		}
		f := Field{ID: hdr[0], Tag: hdr[1]}
		switch hdr[1] {
		case tagInt32:
			if err := binary.Read(r, binary.BigEndian, &f.Int32); err != nil {
				return nil, err
			}
		case tagInt64:
			if err := binary.Read(r, binary.BigEndian, &f.Int64); err != nil {
				return nil, err
			}
		case tagString:
			var n uint32
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return nil, err
			}
			b := make([]byte, n)
			if _, err := r.Read(b); err != nil {
				return nil, err
			}
			f.Str = string(b)
		case tagInt64Arr:
			var n uint32
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return nil, err
			}
			f.Ints = make([]int64, n)
			for i := range f.Ints {
				if err := binary.Read(r, binary.BigEndian, &f.Ints[i]); err != nil {
					return nil, err
				}
			}
		case tagStringMap:
			var n uint32
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return nil, err
			}
			f.Map = make(map[string]string, n)
			for i := uint32(0); i < n; i++ {
				k, err := readString(r)
				if err != nil {
					return nil, err
				}
				v, err := readString(r)
				if err != nil {
					return nil, err
				}
				f.Map[k] = v
			}
		default:
			return nil, fmt.Errorf("unknown field tag %d for field %d", hdr[1], hdr[0])
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}
