// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfs

import (
	"context"
	"fmt"

	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsprim"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfstree"
)

// An ObjectType is the coarse kind of an object within an objset.
type ObjectType int8

const (
	ObjectTypeUnknown = ObjectType(iota)
	ObjectTypePlainFile
	ObjectTypeDirectory
)

var _ fmt.Stringer = ObjectType(0)

// String implements fmt.Stringer.
func (t ObjectType) String() string {
	switch t {
	case ObjectTypePlainFile:
		return "plain file"
	case ObjectTypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// ObjectInfo is the per-object metadata a walk needs: what kind of
// object it is, and the dnode fields that shape its block-pointer
// tree.
type ObjectInfo struct {
	Type  ObjectType
	Dnode zfstree.DnodeInfo
}

// An Objset is an open dataset: the object container that holds a
// filesystem's files and directories.  Implementations come from
// drivers; this package and its callers stay backend-agnostic.
type Objset interface {
	zfstree.BlockReader

	// ObjsetID identifies this objset within its pool.
	ObjsetID() zfsprim.ObjsetID

	// RootObject is the object id of the filesystem's root
	// directory.
	RootObject(ctx context.Context) (zfsprim.ObjID, error)

	// LookupEntry resolves one name within a directory object.
	LookupEntry(ctx context.Context, dir zfsprim.ObjID, name string) (zfsprim.ObjID, error)

	// ObjectInfo reads an object's dnode.
	ObjectInfo(ctx context.Context, obj zfsprim.ObjID) (ObjectInfo, error)

	// FileSize is the byte length of a plain-file object.
	FileSize(ctx context.Context, obj zfsprim.ObjID) (int64, error)

	Close() error
}
