// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfsvol

import (
	"fmt"

	"git.lukeshu.com/zfs-progs-ng/lib/fmtutil"
)

type (
	// PhysicalAddr is a byte offset within a top-level vdev's
	// address space (past the front label/boot-block header).
	PhysicalAddr int64
	// AddrDelta is a byte count separating two PhysicalAddrs.
	AddrDelta int64
)

func formatAddr(addr int64, f fmt.State, verb rune) {
	switch verb {
	case 'v', 's', 'q':
		str := fmt.Sprintf("%#016x", addr)
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), str)
	default:
		fmt.Fprintf(f, fmtutil.FmtStateString(f, verb), addr)
	}
}

func (a PhysicalAddr) Format(f fmt.State, verb rune) { formatAddr(int64(a), f, verb) }
func (d AddrDelta) Format(f fmt.State, verb rune)    { formatAddr(int64(d), f, verb) }

func (a PhysicalAddr) Sub(b PhysicalAddr) AddrDelta { return AddrDelta(a - b) }

func (a PhysicalAddr) Add(b AddrDelta) PhysicalAddr { return a + PhysicalAddr(b) }

// A VdevID is the index of a top-level vdev within its pool's
// topology.
type VdevID uint64

// A QualifiedPhysicalAddr is a PhysicalAddr qualified with which
// top-level vdev's address space it is in.
type QualifiedPhysicalAddr struct {
	Vdev VdevID
	Addr PhysicalAddr
}

func (a QualifiedPhysicalAddr) Add(b AddrDelta) QualifiedPhysicalAddr {
	return QualifiedPhysicalAddr{
		Vdev: a.Vdev,
		Addr: a.Addr.Add(b),
	}
}

func (a QualifiedPhysicalAddr) Cmp(b QualifiedPhysicalAddr) int {
	if d := int(a.Vdev - b.Vdev); d != 0 {
		return d
	}
	return int(a.Addr - b.Addr)
}
