// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfsvol

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/zfs-progs-ng/lib/slices"
)

// An IORequest is a concrete byte range on a backing device: the
// range a reader would hand to pread(2) to fetch (part of) one
// allocation.
type IORequest struct {
	Device string       `json:"device"`
	Offset PhysicalAddr `json:"offset"`
	Length AddrDelta    `json:"length"`
}

// Resolve translates a vdev-relative allocation to the per-device
// byte ranges that hold it.  `asize` is the allocated on-disk size
// (including raidz parity); `length` is the number of bytes of actual
// content, which for raidz may be smaller than the data columns'
// combined capacity.
//
// Device offsets in the returned requests are absolute: the front
// label/boot-block header is already added in.
//
// For an unknown vdev layout no requests are produced; the caller
// gets an empty (not nil-error) result so that the surrounding walk
// can continue over better-understood vdevs.
func (topo *Topology) Resolve(ctx context.Context, qaddr QualifiedPhysicalAddr, asize AddrDelta, length AddrDelta) ([]IORequest, error) {
	vdev, err := topo.Vdev(qaddr.Vdev)
	if err != nil {
		return nil, err
	}

	switch vdev.Kind {
	case KindRaidZ:
		return resolveRaidZ(vdev, qaddr.Addr, asize, length)
	case KindMirror:
		// Any one mirror side has the whole allocation; always
		// read the first.
		return []IORequest{{
			Device: vdev.Devices[0],
			Offset: qaddr.Addr.Add(LabelStart),
			Length: length,
		}}, nil
	case KindStripe:
		if len(vdev.Devices) > 1 {
			dlog.Warnf(ctx, "vdev %v is a %v-device stripe; offsets are reported against the first device only",
				uint64(qaddr.Vdev), len(vdev.Devices))
		}
		return []IORequest{{
			Device: vdev.Devices[0],
			Offset: qaddr.Addr.Add(LabelStart),
			Length: length,
		}}, nil
	default:
		dlog.Warnf(ctx, "vdev %v has an unrecognized layout; cannot resolve %v",
			uint64(qaddr.Vdev), qaddr.Addr)
		return nil, nil
	}
}

// resolveRaidZ emits parity columns whole, then data columns capped
// so that the data requests sum to exactly `length` bytes; the final
// data column is usually partial.
func resolveRaidZ(vdev Vdev, offset PhysicalAddr, asize AddrDelta, length AddrDelta) ([]IORequest, error) {
	cols, err := raidzMap(vdev, offset, asize)
	if err != nil {
		return nil, err
	}

	ret := make([]IORequest, 0, len(cols))
	remaining := length
	for i, col := range cols {
		size := col.Size
		if i >= vdev.NParity {
			size = slices.Min(size, remaining)
			remaining -= size
		}
		if size == 0 {
			continue
		}
		ret = append(ret, IORequest{
			Device: vdev.Devices[col.DevIdx],
			Offset: col.Offset.Add(LabelStart),
			Length: size,
		})
	}
	return ret, nil
}
