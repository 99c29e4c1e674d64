// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfstree_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsprim"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfstree"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

// mapReader serves blocks out of a map keyed by DVA offset.
type mapReader map[zfsvol.PhysicalAddr][]byte

func (r mapReader) ReadBlock(_ context.Context, bp zfstree.BlockPointer, _ zfsprim.Bookmark) ([]byte, error) {
	dat, ok := r[bp.DVAs[0].Offset]
	if !ok {
		return nil, fmt.Errorf("no block at %v", bp.DVAs[0].Offset)
	}
	return dat, nil
}

func mustDecode(t *testing.T, dat []byte) zfstree.BlockPointer {
	t.Helper()
	bp, err := zfstree.DecodeBlockPointer(dat)
	require.NoError(t, err)
	return bp
}

// buildTree returns a reader holding one indirect block with the
// given children, plus the decoded root pointer over it.
func buildTree(t *testing.T, rootFill uint64, children ...rawBP) (mapReader, zfstree.BlockPointer) {
	t.Helper()
	const indirectAt = zfsvol.PhysicalAddr(0x100000)
	// An indirect block of 8 pointers has a logical size of 1KiB.
	block := make([]byte, 8<<zfsprim.BlkptrShift)
	for i, child := range children {
		copy(block[i<<zfsprim.BlkptrShift:], child.encode())
	}
	reader := mapReader{indirectAt: block}
	root := mustDecode(t, rawBP{
		OffsetSectors: uint64(indirectAt >> 9),
		ASizeSectors:  2,
		LSize:         int64(len(block)),
		PSize:         int64(len(block)),
		Level:         1,
		Birth:         100,
		Fill:          rootFill,
	}.encode())
	return reader, root
}

func testDnode(root zfstree.BlockPointer) zfstree.DnodeInfo {
	return zfstree.DnodeInfo{
		Levels:        2,
		IndirectShift: 10, // 8 pointers per indirect block
		DataBlockSize: 4096,
		MaxBlockID:    7,
		BlockPointers: []zfstree.BlockPointer{root},
	}
}

func TestWalk(t *testing.T) {
	t.Parallel()
	reader, root := buildTree(t, 2,
		rawBP{OffsetSectors: 0x10, ASizeSectors: 8, LSize: 4096, PSize: 4096, Birth: 90, Fill: 1},
		rawBP{OffsetSectors: 0x20, ASizeSectors: 8, LSize: 4096, PSize: 4096, Birth: 91, Fill: 1},
		rawBP{}, // never written
	)
	walker := &zfstree.Walker{
		Reader:    reader,
		Objset:    51,
		Object:    8,
		Dnode:     testDnode(root),
		CheckFill: true,
	}
	leaves, err := walker.Walk(context.Background())
	require.NoError(t, err)
	require.Len(t, leaves, 2)

	assert.Equal(t, int64(0), leaves[0].FileOffset)
	assert.Equal(t, int64(4096), leaves[1].FileOffset)
	assert.Equal(t, zfsvol.PhysicalAddr(0x10<<9), leaves[0].BP.DVAs[0].Offset)
	assert.Equal(t, zfsvol.PhysicalAddr(0x20<<9), leaves[1].BP.DVAs[0].Offset)

	assert.Equal(t,
		zfsprim.Bookmark{Objset: 51, Object: 8, Level: 0, BlockID: 0},
		leaves[0].Bookmark)
	assert.Equal(t,
		zfsprim.Bookmark{Objset: 51, Object: 8, Level: 0, BlockID: 1},
		leaves[1].Bookmark)
}

func TestWalkSparse(t *testing.T) {
	t.Parallel()
	// A leaf at block id 5 with everything before it unwritten:
	// its file offset still reflects its position.
	reader, root := buildTree(t, 1,
		rawBP{}, rawBP{}, rawBP{}, rawBP{}, rawBP{},
		rawBP{OffsetSectors: 0x30, ASizeSectors: 8, LSize: 4096, PSize: 4096, Birth: 92, Fill: 1},
	)
	walker := &zfstree.Walker{
		Reader: reader,
		Objset: 51,
		Object: 8,
		Dnode:  testDnode(root),
	}
	leaves, err := walker.Walk(context.Background())
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, int64(5*4096), leaves[0].FileOffset)
	assert.Equal(t, int64(5), leaves[0].Bookmark.BlockID)
}

func TestWalkSingleLevel(t *testing.T) {
	t.Parallel()
	// Levels=1: the dnode's own pointers are level 0; no reads at
	// all.
	root := mustDecode(t, rawBP{
		OffsetSectors: 0x40, ASizeSectors: 8,
		LSize: 4096, PSize: 4096, Birth: 12, Fill: 1,
	}.encode())
	walker := &zfstree.Walker{
		Reader: mapReader{},
		Objset: 51,
		Object: 9,
		Dnode: zfstree.DnodeInfo{
			Levels:        1,
			IndirectShift: 14,
			DataBlockSize: 4096,
			MaxBlockID:    0,
			BlockPointers: []zfstree.BlockPointer{root},
		},
	}
	leaves, err := walker.Walk(context.Background())
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, int64(0), leaves[0].FileOffset)
}

func TestWalkFillMismatch(t *testing.T) {
	t.Parallel()
	reader, root := buildTree(t, 5,
		rawBP{OffsetSectors: 0x10, ASizeSectors: 8, LSize: 4096, PSize: 4096, Birth: 90, Fill: 1},
	)
	walker := &zfstree.Walker{
		Reader:    reader,
		Objset:    51,
		Object:    8,
		Dnode:     testDnode(root),
		CheckFill: true,
	}
	_, err := walker.Walk(context.Background())
	assert.ErrorIs(t, err, zfstree.ErrFillMismatch)

	// Without the check the same tree walks fine.
	walker.CheckFill = false
	leaves, err := walker.Walk(context.Background())
	assert.NoError(t, err)
	assert.Len(t, leaves, 1)
}

func TestWalkReadFailure(t *testing.T) {
	t.Parallel()
	_, root := buildTree(t, 1,
		rawBP{OffsetSectors: 0x10, ASizeSectors: 8, LSize: 4096, PSize: 4096, Birth: 90, Fill: 1},
	)
	errBroken := errors.New("device fell over")
	walker := &zfstree.Walker{
		Reader: readerFunc(func() error { return errBroken }),
		Objset: 51,
		Object: 8,
		Dnode:  testDnode(root),
	}
	_, err := walker.Walk(context.Background())
	assert.ErrorIs(t, err, errBroken)
}

type readerFunc func() error

func (f readerFunc) ReadBlock(context.Context, zfstree.BlockPointer, zfsprim.Bookmark) ([]byte, error) {
	return nil, f()
}
