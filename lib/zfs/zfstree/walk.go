// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfstree

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/zfs-progs-ng/lib/containers"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsprim"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

// A LeafBlock is one level-0 block pointer encountered during a walk,
// together with where it was found and which byte range of the object
// it covers.
type LeafBlock struct {
	Bookmark   zfsprim.Bookmark
	FileOffset int64
	BP         BlockPointer
}

// A BlockReader fetches the raw bytes of the block that a pointer
// points at.  The returned slice must be at least bp.LSize long.
type BlockReader interface {
	ReadBlock(ctx context.Context, bp BlockPointer, bk zfsprim.Bookmark) ([]byte, error)
}

// DnodeInfo is the subset of an object's dnode that drives a walk of
// its block-pointer tree.
type DnodeInfo struct {
	Levels        int8             // height of the tree; 1 means the root pointers are themselves level 0
	IndirectShift int              // log2 of the logical size of indirect blocks
	DataBlockSize zfsvol.AddrDelta // logical size of level-0 blocks
	MaxBlockID    int64            // highest level-0 block id ever written
	BlockPointers []BlockPointer   // root pointers, embedded in the dnode
}

// childrenPerIndirect is how many pointers one indirect block of this
// dnode holds.
func (dn DnodeInfo) childrenPerIndirect() int64 {
	return 1 << (dn.IndirectShift - zfsprim.BlkptrShift)
}

// ErrFillMismatch is returned (wrapped) when an indirect block's fill
// count disagrees with the fill counts of its children.
var ErrFillMismatch = fmt.Errorf("fill count mismatch")

// A Walker walks one object's block-pointer tree, in file-offset
// order, returning every reachable level-0 pointer.
type Walker struct {
	Reader BlockReader
	Objset zfsprim.ObjsetID
	Object zfsprim.ObjID
	Dnode  DnodeInfo

	// CheckFill makes the walk verify each indirect block's fill
	// count against the sum of its children's, failing with
	// ErrFillMismatch on disagreement.
	CheckFill bool
}

var blkptrPool containers.SlicePool[BlockPointer]

// Walk visits the whole tree and returns its level-0 pointers in
// ascending file-offset order.  A read failure aborts the walk; the
// pointers gathered so far are discarded.
func (w *Walker) Walk(ctx context.Context) ([]LeafBlock, error) {
	var ret []LeafBlock
	rootLevel := w.Dnode.Levels - 1
	for i, bp := range w.Dnode.BlockPointers {
		bk := zfsprim.Bookmark{
			Objset:  w.Objset,
			Object:  w.Object,
			Level:   rootLevel,
			BlockID: int64(i),
		}
		leaves, err := w.visit(ctx, bp, bk)
		if err != nil {
			return nil, err
		}
		ret = append(ret, leaves...)
	}
	return ret, nil
}

// visit returns the level-0 pointers beneath `bp`, which sits at
// position `bk`.  The returned slice is freshly allocated per call;
// callers own it outright.
func (w *Walker) visit(ctx context.Context, bp BlockPointer, bk zfsprim.Bookmark) ([]LeafBlock, error) {
	if bp.Birth == 0 {
		// Never written; nothing beneath it.
		return nil, nil
	}
	if bp.IsEmbedded() {
		// The payload lives inline in the pointer itself, not
		// on any vdev; there is nothing to locate or recurse
		// into.
		return nil, nil
	}
	if bp.Level != bk.Level {
		return nil, fmt.Errorf("block at %v: pointer says level=%v", bk, bp.Level)
	}

	if bk.Level == 0 {
		return []LeafBlock{{
			Bookmark:   bk,
			FileOffset: w.blockOffset(bk),
			BP:         bp,
		}}, nil
	}

	if bp.IsHole() {
		return nil, nil
	}

	dat, err := w.Reader.ReadBlock(ctx, bp, bk)
	if err != nil {
		return nil, fmt.Errorf("block at %v: %w", bk, err)
	}
	nChildren := int64(bp.LSize) >> zfsprim.BlkptrShift
	if int64(len(dat)) < int64(bp.LSize) {
		return nil, fmt.Errorf("block at %v: short read: %v < %v", bk, len(dat), bp.LSize)
	}

	children := blkptrPool.Get(int(nChildren))
	defer blkptrPool.Put(children)
	for i := int64(0); i < nChildren; i++ {
		children[i], err = DecodeBlockPointer(dat[i<<zfsprim.BlkptrShift:])
		if err != nil {
			return nil, fmt.Errorf("block at %v: child %v: %w", bk, i, err)
		}
	}

	var ret []LeafBlock
	var fill int64
	for i, child := range children {
		leaves, err := w.visit(ctx, child, bk.Child(w.Dnode.childrenPerIndirect(), int64(i)))
		if err != nil {
			return nil, err
		}
		ret = append(ret, leaves...)
		if child.Birth != 0 {
			if child.Level == 0 {
				if !child.IsHole() {
					fill++
				}
			} else {
				fill += child.Fill
			}
		}
	}
	if w.CheckFill && fill != bp.Fill {
		dlog.Debugf(ctx, "block at %v: fill=%v but children sum to %v", bk, bp.Fill, fill)
		return nil, fmt.Errorf("block at %v: %w: fill=%v but children sum to %v",
			bk, ErrFillMismatch, bp.Fill, fill)
	}

	return ret, nil
}

// blockOffset is the byte offset within the object that the block at
// `bk` begins at.  A block id at level L spans childrenPerIndirect^L
// level-0 blocks.
func (w *Walker) blockOffset(bk zfsprim.Bookmark) int64 {
	shift := int(bk.Level) * (w.Dnode.IndirectShift - zfsprim.BlkptrShift)
	return (bk.BlockID << shift) * int64(w.Dnode.DataBlockSize)
}
