// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfsvol_test

import (
	"context"
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/zfs-progs-ng/lib/textui"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

const label = zfsvol.PhysicalAddr(4 << 20)

func TestResolveStripe(t *testing.T) {
	t.Parallel()
	topo := &zfsvol.Topology{
		Pool: "tank",
		Vdevs: []zfsvol.Vdev{
			{Kind: zfsvol.KindStripe, Devices: []string{"/dev/sda1"}, AShift: 12},
		},
	}
	reqs, err := topo.Resolve(testContext(t),
		zfsvol.QualifiedPhysicalAddr{Vdev: 0, Addr: 0x20000},
		0x20000, 0x1d000)
	require.NoError(t, err)
	assert.Equal(t, []zfsvol.IORequest{
		{Device: "/dev/sda1", Offset: 0x20000 + label, Length: 0x1d000},
	}, reqs)
}

func TestResolveStripeMultiDevice(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelTrace))
	topo := &zfsvol.Topology{
		Pool: "tank",
		Vdevs: []zfsvol.Vdev{
			{Kind: zfsvol.KindStripe, Devices: []string{"/dev/sda1", "/dev/sdb1"}, AShift: 12},
		},
	}
	reqs, err := topo.Resolve(ctx,
		zfsvol.QualifiedPhysicalAddr{Vdev: 0, Addr: 0x1000},
		0x1000, 0x1000)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "/dev/sda1", reqs[0].Device)
	assert.Contains(t, out.String(), "stripe")
}

func TestResolveMirror(t *testing.T) {
	t.Parallel()
	topo := &zfsvol.Topology{
		Pool: "tank",
		Vdevs: []zfsvol.Vdev{
			{Kind: zfsvol.KindMirror, Devices: []string{"/dev/sda1", "/dev/sdb1"}, AShift: 12},
		},
	}
	reqs, err := topo.Resolve(testContext(t),
		zfsvol.QualifiedPhysicalAddr{Vdev: 0, Addr: 0x3000},
		0x2000, 0x2000)
	require.NoError(t, err)
	assert.Equal(t, []zfsvol.IORequest{
		{Device: "/dev/sda1", Offset: 0x3000 + label, Length: 0x2000},
	}, reqs)
}

func TestResolveUnknown(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelTrace))
	topo := &zfsvol.Topology{
		Pool: "tank",
		Vdevs: []zfsvol.Vdev{
			{Kind: zfsvol.KindUnknown, Devices: []string{"/dev/sda1"}, AShift: 12},
		},
	}
	reqs, err := topo.Resolve(ctx,
		zfsvol.QualifiedPhysicalAddr{Vdev: 0, Addr: 0x1000},
		0x1000, 0x1000)
	assert.NoError(t, err)
	assert.Empty(t, reqs)
	assert.Contains(t, out.String(), "unrecognized layout")
}

func TestResolveBadVdev(t *testing.T) {
	t.Parallel()
	topo := &zfsvol.Topology{
		Pool: "tank",
		Vdevs: []zfsvol.Vdev{
			{Kind: zfsvol.KindStripe, Devices: []string{"/dev/sda1"}},
		},
	}
	_, err := topo.Resolve(testContext(t),
		zfsvol.QualifiedPhysicalAddr{Vdev: 3, Addr: 0},
		0x1000, 0x1000)
	assert.ErrorContains(t, err, "no vdev with id=3")
}
