// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package zfsprim implements the primitive identifiers shared by all
// of the ZFS-facing packages.
package zfsprim

import (
	"fmt"
)

// An ObjID identifies an object (a file, a directory, the master
// node, …) within one objset.
type ObjID uint64

// An ObjsetID identifies an objset (a dataset's object container)
// within the pool.
type ObjsetID uint64

const (
	// BlkptrShift is log2 of the on-disk size of a block pointer
	// (128 bytes); an indirect block of logical size S holds
	// S>>BlkptrShift child pointers.
	BlkptrShift = 7
	// MinBlockShift is log2 of the minimum allocation unit (a
	// 512-byte sector); on-disk sizes and offsets are recorded in
	// these units.
	MinBlockShift = 9
)

// A Bookmark names a block's position within the pool-wide object
// hierarchy: which objset, which object, and where in that object's
// block-pointer tree.  Level counts up from 0 at the leaves; BlockID
// counts siblings at that level, left to right.
type Bookmark struct {
	Objset  ObjsetID
	Object  ObjID
	Level   int8
	BlockID int64
}

var _ fmt.Stringer = Bookmark{}

// String implements fmt.Stringer.
func (bk Bookmark) String() string {
	return fmt.Sprintf("{objset=%v object=%v level=%v blkid=%v}",
		uint64(bk.Objset), uint64(bk.Object), bk.Level, bk.BlockID)
}

// Child returns the bookmark of the `idx`-th child of the block at
// `bk`, for a block holding `childrenPerBlock` pointers.
func (bk Bookmark) Child(childrenPerBlock int64, idx int64) Bookmark {
	return Bookmark{
		Objset:  bk.Objset,
		Object:  bk.Object,
		Level:   bk.Level - 1,
		BlockID: bk.BlockID*childrenPerBlock + idx,
	}
}
