// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfs

import (
	"context"

	"git.lukeshu.com/zfs-progs-ng/lib/containers"
	"git.lukeshu.com/zfs-progs-ng/lib/textui"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsprim"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfstree"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

var blockCacheSize = textui.Tunable(128)

type cachedObjset struct {
	Objset
	cache *containers.LRUCache[zfsvol.QualifiedPhysicalAddr, []byte]
}

var _ Objset = (*cachedObjset)(nil)

// NewCachedObjset wraps an Objset with an in-memory block cache, so
// that re-visiting an indirect block (as repeated path lookups and
// walks do) doesn't re-fetch it from the backend.
func NewCachedObjset(inner Objset) Objset {
	return &cachedObjset{
		Objset: inner,
		cache:  containers.NewLRUCache[zfsvol.QualifiedPhysicalAddr, []byte](blockCacheSize),
	}
}

// ReadBlock implements zfstree.BlockReader.
func (os *cachedObjset) ReadBlock(ctx context.Context, bp zfstree.BlockPointer, bk zfsprim.Bookmark) ([]byte, error) {
	if bp.IsEmbedded() || len(bp.DVAs) == 0 {
		return os.Objset.ReadBlock(ctx, bp, bk)
	}
	key := zfsvol.QualifiedPhysicalAddr{
		Vdev: bp.DVAs[0].Vdev,
		Addr: bp.DVAs[0].Offset,
	}
	return os.cache.GetOrCompute(key, func() ([]byte, error) {
		return os.Objset.ReadBlock(ctx, bp, bk)
	})
}
