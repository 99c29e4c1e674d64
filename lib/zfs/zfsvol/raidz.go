// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfsvol

import (
	"fmt"
)

// A raidzCol is one column of a raidz allocation: a contiguous run of
// bytes on a single member device.
type raidzCol struct {
	DevIdx int          // index into the vdev's Devices
	Offset PhysicalAddr // device-relative, not counting the front header
	Size   AddrDelta
}

// raidzMap lays out a raidz allocation across the vdev's member
// devices.  The first NParity columns hold parity; the rest hold
// data, in column order.
//
// The column geometry is recovered from the allocation's total size:
// tot units spread round-robin over ndevs devices gives every column
// q=tot/ndevs whole units, with the first tot%ndevs columns taking
// one extra.  A remainder smaller than the parity count cannot occur
// in a well-formed allocation.
func raidzMap(vdev Vdev, offset PhysicalAddr, asize AddrDelta) ([]raidzCol, error) {
	ndevs := int64(len(vdev.Devices))
	nparity := int64(vdev.NParity)
	ashift := vdev.AShift
	if ndevs == 0 {
		return nil, fmt.Errorf("raidz map: vdev has no member devices")
	}
	if nparity < 1 || nparity >= ndevs {
		return nil, fmt.Errorf("raidz map: nparity=%v is invalid for %v devices", nparity, ndevs)
	}

	tot := int64(asize) >> ashift
	q := tot / ndevs
	rem := tot % ndevs
	var r int64
	if rem > 0 {
		if rem <= nparity {
			return nil, fmt.Errorf("raidz map: allocation of %v units across %v devices leaves %v trailing units, not enough to cover %v parity columns",
				tot, ndevs, rem, nparity)
		}
		r = rem - nparity
	}
	bc := int64(0)
	if r > 0 {
		bc = r + nparity
	}
	acols := ndevs
	if q == 0 {
		acols = bc
	}

	b := int64(offset) >> ashift
	f := b % ndevs
	o := (b / ndevs) << ashift

	cols := make([]raidzCol, 0, acols)
	for c := int64(0); c < acols; c++ {
		devIdx := (f + c) % ndevs
		colOff := PhysicalAddr(o)
		if f+c >= ndevs {
			colOff += PhysicalAddr(1) << ashift
		}
		size := q
		if c < bc {
			size = q + 1
		}
		cols = append(cols, raidzCol{
			DevIdx: int(devIdx),
			Offset: colOff,
			Size:   AddrDelta(size) << ashift,
		})
	}
	return cols, nil
}
