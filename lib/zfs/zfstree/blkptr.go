// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package zfstree reads the block-pointer trees that objects store
// their data in.
package zfstree

import (
	"encoding/binary"
	"fmt"
	"strings"

	"git.lukeshu.com/zfs-progs-ng/lib/fmtutil"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsprim"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

// BlockPointerSize is the on-disk size of an encoded block pointer.
const BlockPointerSize = 1 << zfsprim.BlkptrShift

// A DVA (data virtual address) names one replica of an allocation:
// which top-level vdev, where within it, and how much was allocated
// there (including any raidz parity).
type DVA struct {
	Vdev   zfsvol.VdevID       `json:"vdev"`
	Offset zfsvol.PhysicalAddr `json:"offset"`
	ASize  zfsvol.AddrDelta    `json:"asize"`
	IsGang bool                `json:"is_gang,omitempty"`
}

var _ fmt.Stringer = DVA{}

// String implements fmt.Stringer.
func (dva DVA) String() string {
	return fmt.Sprintf("<%v:%x:%x>", uint64(dva.Vdev), int64(dva.Offset), int64(dva.ASize))
}

type BlockFlags uint8

const (
	FlagEmbedded = BlockFlags(1 << iota)
	FlagGang
	FlagDedup
	FlagBigEndian
)

var blockFlagNames = []string{
	"EMBEDDED",
	"GANG",
	"DEDUP",
	"BIG_ENDIAN",
}

var _ fmt.Stringer = BlockFlags(0)

// String implements fmt.Stringer.
func (f BlockFlags) String() string {
	return fmtutil.BitfieldString(f, blockFlagNames, fmtutil.HexLower)
}

// A BlockPointer describes one block: up to three replicas of where
// it lives on disk, its logical and physical sizes, and bookkeeping
// about its place in the tree.
type BlockPointer struct {
	DVAs  []DVA       `json:"dvas"`
	Flags BlockFlags  `json:"flags,omitempty"`
	Type  uint8       `json:"type"`
	Level int8        `json:"level"`
	LSize zfsvol.AddrDelta `json:"lsize"`
	PSize zfsvol.AddrDelta `json:"psize"`
	Birth int64       `json:"birth"`
	Fill  int64       `json:"fill"`
}

// IsEmbedded reports whether the block's payload is stored inline in
// the pointer itself rather than at any DVA.
func (bp BlockPointer) IsEmbedded() bool {
	return bp.Flags&FlagEmbedded != 0
}

// IsHole reports whether the pointer is a hole: nothing was ever
// written at this position, and reads of it see zeros.
func (bp BlockPointer) IsHole() bool {
	return !bp.IsEmbedded() && (len(bp.DVAs) == 0 || bp.DVAs[0].ASize == 0)
}

var _ fmt.Stringer = BlockPointer{}

// String implements fmt.Stringer.
func (bp BlockPointer) String() string {
	if bp.IsHole() {
		return fmt.Sprintf("L%d HOLE birth=%d", bp.Level, bp.Birth)
	}
	var out strings.Builder
	fmt.Fprintf(&out, "L%d", bp.Level)
	for _, dva := range bp.DVAs {
		fmt.Fprintf(&out, " DVA%s", dva)
	}
	fmt.Fprintf(&out, " size=%xL/%xP birth=%d fill=%d flags=%v",
		int64(bp.LSize), int64(bp.PSize), bp.Birth, bp.Fill, bp.Flags)
	return out.String()
}

// DecodeBlockPointer decodes the leading BlockPointerSize bytes of
// `dat` as an on-disk block pointer.
func DecodeBlockPointer(dat []byte) (BlockPointer, error) {
	var bp BlockPointer
	if len(dat) < BlockPointerSize {
		return bp, fmt.Errorf("decode block pointer: need %v bytes, have %v",
			BlockPointerSize, len(dat))
	}

	var words [16]uint64
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(dat[i*8:])
	}

	prop := words[6]
	if prop&(1<<39) != 0 {
		bp.Flags |= FlagEmbedded
	}
	if prop&(1<<62) != 0 {
		bp.Flags |= FlagDedup
	}
	if prop&(1<<63) == 0 {
		// The byteorder bit is set for little-endian writers, so
		// a clear bit on a little-endian read means the block
		// was written big-endian.
		bp.Flags |= FlagBigEndian
	}
	bp.Type = uint8(prop >> 48)
	bp.Level = int8((prop >> 56) & 0x1f)
	bp.LSize = (zfsvol.AddrDelta(prop&0xffff) + 1) << zfsprim.MinBlockShift
	bp.PSize = (zfsvol.AddrDelta((prop>>16)&0xffff) + 1) << zfsprim.MinBlockShift

	bp.Birth = int64(words[10])
	bp.Fill = int64(words[11])

	if bp.IsEmbedded() {
		// Embedded pointers repurpose the DVA words for payload;
		// there is nothing on disk to point at.
		return bp, nil
	}

	for i := 0; i < 3; i++ {
		word0 := words[i*2]
		word1 := words[i*2+1]
		dva := DVA{
			Vdev:   zfsvol.VdevID(word0 >> 32),
			ASize:  zfsvol.AddrDelta(word0&0xffffff) << zfsprim.MinBlockShift,
			Offset: zfsvol.PhysicalAddr(word1&^(1<<63)) << zfsprim.MinBlockShift,
			IsGang: word1&(1<<63) != 0,
		}
		if dva.IsGang {
			bp.Flags |= FlagGang
		}
		if dva.ASize == 0 && i > 0 {
			break
		}
		bp.DVAs = append(bp.DVAs, dva)
	}

	return bp, nil
}
