// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package zfsinspect implements read-only inspection of pool
// contents, mapping files down to the byte ranges that hold them.
package zfsinspect

import (
	"git.lukeshu.com/zfs-progs-ng/lib/slices"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfstree"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

// An Extent is one level-0 block of a file, annotated with how many
// bytes of it actually hold file content.
type Extent struct {
	Leaf zfstree.LeafBlock

	// EffectiveSize is the number of content bytes this block
	// contributes: its physical size, trimmed against the next
	// block's start and against how much of the file is left.  The
	// tail block of a file is usually partial.
	EffectiveSize zfsvol.AddrDelta
}

// Reconcile annotates each leaf with its effective content size.
// Leaves must be in ascending file-offset order, as a walk returns
// them; `fileSize` bounds the final block.
//
// Written bytes past the last block boundary and compression slack
// both make a block's physical size overstate its content, so each
// block is clipped three ways: to the gap before its successor (or
// before end-of-file for the last block), to its own physical size,
// and to the file bytes not yet accounted for.  Sparse files leave
// gaps between successive leaves; the skipped logical span still
// draws down the remaining-bytes budget via each block's logical
// size.  Holes hold no content and get an effective size of 0.
func Reconcile(leaves []zfstree.LeafBlock, fileSize int64) []Extent {
	ret := make([]Extent, 0, len(leaves))
	remaining := zfsvol.AddrDelta(fileSize)
	for i, leaf := range leaves {
		nextOffset := fileSize
		if i+1 < len(leaves) {
			nextOffset = leaves[i+1].FileOffset
		}
		var effective zfsvol.AddrDelta
		if !leaf.BP.IsHole() {
			effective = slices.Min(
				zfsvol.AddrDelta(nextOffset-leaf.FileOffset),
				leaf.BP.PSize,
				remaining,
			)
			effective = slices.Max(effective, 0)
		}
		remaining -= slices.Min(remaining, leaf.BP.LSize)
		ret = append(ret, Extent{
			Leaf:          leaf,
			EffectiveSize: effective,
		})
	}
	return ret
}
