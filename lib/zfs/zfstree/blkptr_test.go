// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfstree_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfstree"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

type rawBP struct {
	Vdev          uint64
	OffsetSectors uint64
	ASizeSectors  uint64
	Gang          bool
	Embedded      bool
	LSize         int64
	PSize         int64
	Type          uint8
	Level         uint8
	Birth         uint64
	Fill          uint64
}

func (raw rawBP) encode() []byte {
	dat := make([]byte, zfstree.BlockPointerSize)
	word := func(i int, val uint64) {
		binary.LittleEndian.PutUint64(dat[i*8:], val)
	}
	word0 := raw.ASizeSectors | raw.Vdev<<32
	word1 := raw.OffsetSectors
	if raw.Gang {
		word1 |= 1 << 63
	}
	word(0, word0)
	word(1, word1)
	prop := uint64(1 << 63) // written little-endian
	if raw.LSize > 0 {
		prop |= uint64(raw.LSize>>9) - 1
	}
	if raw.PSize > 0 {
		prop |= (uint64(raw.PSize>>9) - 1) << 16
	}
	if raw.Embedded {
		prop |= 1 << 39
	}
	prop |= uint64(raw.Type) << 48
	prop |= uint64(raw.Level) << 56
	word(6, prop)
	word(10, raw.Birth)
	word(11, raw.Fill)
	return dat
}

func TestDecodeBlockPointer(t *testing.T) {
	t.Parallel()
	dat := rawBP{
		Vdev:          1,
		OffsetSectors: 0x1000,
		ASizeSectors:  0x20,
		LSize:         0x20000,
		PSize:         0x4000,
		Type:          0x13,
		Level:         0,
		Birth:         42,
		Fill:          1,
	}.encode()

	bp, err := zfstree.DecodeBlockPointer(dat)
	require.NoError(t, err)

	require.Len(t, bp.DVAs, 1)
	assert.Equal(t, zfsvol.VdevID(1), bp.DVAs[0].Vdev)
	assert.Equal(t, zfsvol.PhysicalAddr(0x1000<<9), bp.DVAs[0].Offset)
	assert.Equal(t, zfsvol.AddrDelta(0x20<<9), bp.DVAs[0].ASize)
	assert.False(t, bp.DVAs[0].IsGang)

	assert.Equal(t, zfsvol.AddrDelta(0x20000), bp.LSize)
	assert.Equal(t, zfsvol.AddrDelta(0x4000), bp.PSize)
	assert.Equal(t, uint8(0x13), bp.Type)
	assert.Equal(t, int8(0), bp.Level)
	assert.Equal(t, int64(42), bp.Birth)
	assert.Equal(t, int64(1), bp.Fill)

	assert.False(t, bp.IsHole())
	assert.False(t, bp.IsEmbedded())
}

func TestDecodeBlockPointerMultiDVA(t *testing.T) {
	t.Parallel()
	dat := rawBP{
		Vdev:          0,
		OffsetSectors: 0x100,
		ASizeSectors:  0x8,
		LSize:         4096,
		PSize:         4096,
		Level:         1,
		Birth:         9,
		Fill:          3,
	}.encode()
	// Second replica on vdev 2.
	binary.LittleEndian.PutUint64(dat[16:], 0x8|2<<32)
	binary.LittleEndian.PutUint64(dat[24:], 0x4200)

	bp, err := zfstree.DecodeBlockPointer(dat)
	require.NoError(t, err)
	require.Len(t, bp.DVAs, 2)
	assert.Equal(t, zfsvol.VdevID(2), bp.DVAs[1].Vdev)
	assert.Equal(t, zfsvol.PhysicalAddr(0x4200<<9), bp.DVAs[1].Offset)
	assert.Equal(t, int8(1), bp.Level)
}

func TestDecodeBlockPointerHole(t *testing.T) {
	t.Parallel()
	bp, err := zfstree.DecodeBlockPointer(rawBP{Birth: 7, LSize: 4096, PSize: 512}.encode())
	require.NoError(t, err)
	assert.True(t, bp.IsHole())
	assert.Contains(t, bp.String(), "HOLE")
}

func TestDecodeBlockPointerEmbedded(t *testing.T) {
	t.Parallel()
	bp, err := zfstree.DecodeBlockPointer(rawBP{Embedded: true, LSize: 512, PSize: 512, Birth: 3}.encode())
	require.NoError(t, err)
	assert.True(t, bp.IsEmbedded())
	assert.False(t, bp.IsHole())
	assert.Empty(t, bp.DVAs)
}

func TestDecodeBlockPointerGang(t *testing.T) {
	t.Parallel()
	bp, err := zfstree.DecodeBlockPointer(rawBP{
		OffsetSectors: 0x40, ASizeSectors: 1, Gang: true,
		LSize: 512, PSize: 512, Birth: 1, Fill: 1,
	}.encode())
	require.NoError(t, err)
	require.Len(t, bp.DVAs, 1)
	assert.True(t, bp.DVAs[0].IsGang)
	assert.NotZero(t, bp.Flags&zfstree.FlagGang)
	assert.Contains(t, bp.Flags.String(), "GANG")
}

func TestDecodeBlockPointerShort(t *testing.T) {
	t.Parallel()
	_, err := zfstree.DecodeBlockPointer(make([]byte, 100))
	assert.ErrorContains(t, err, "need 128 bytes")
}
