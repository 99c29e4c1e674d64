// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package zfsvol models a pool's device topology, and resolves
// vdev-relative addresses to concrete per-device byte ranges.
package zfsvol

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/zfs-progs-ng/lib/maps"
)

// VdevKind is the redundancy layout of one top-level vdev.
type VdevKind int8

const (
	KindUnknown = VdevKind(iota)
	KindStripe
	KindMirror
	KindRaidZ
)

var _ fmt.Stringer = VdevKind(0)

// String implements fmt.Stringer.
func (k VdevKind) String() string {
	switch k {
	case KindStripe:
		return "stripe"
	case KindMirror:
		return "mirror"
	case KindRaidZ:
		return "raidz"
	default:
		return "unknown"
	}
}

// LabelStart is the size of the header at the front of every member
// device: two 256KiB labels followed by a 3.5MiB boot block.  A
// PhysicalAddr of 0 refers to the first byte past this header.
const LabelStart = AddrDelta(4 << 20)

// A Vdev is one top-level vdev: an ordered set of member devices plus
// the layout that distributes data across them.  Only flat top-level
// vdevs are modeled; nested hierarchies are not.
type Vdev struct {
	Kind    VdevKind
	Devices []string // ordered member device paths
	NParity int      // meaningful only for KindRaidZ
	AShift  int      // log2 of the minimum I/O alignment unit
}

// A Topology is the ordered list of a pool's top-level vdevs.  It is
// loaded once per run and is read-only thereafter.
type Topology struct {
	Pool  string
	Vdevs []Vdev
}

// Vdev returns the top-level vdev with the given ID.
func (topo *Topology) Vdev(id VdevID) (Vdev, error) {
	if int64(id) >= int64(len(topo.Vdevs)) {
		return Vdev{}, fmt.Errorf("topology of pool %q: no vdev with id=%v (have %v top-level vdevs)",
			topo.Pool, uint64(id), len(topo.Vdevs))
	}
	return topo.Vdevs[id], nil
}

// LoadTopology builds a Topology for the named pool from an unpacked
// pool-cache document.  The document is nested key/value data as
// produced by the config collaborator: pool name ⇒ config, with the
// config's "vdev_tree" member listing the top-level vdevs under
// "children".
func LoadTopology(ctx context.Context, doc map[string]any, poolName string) (*Topology, error) {
	poolDoc, ok := doc[poolName].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("load topology: pool %q not present in cache (have pools %v)",
			poolName, maps.SortedKeys(doc))
	}
	vdevTree, ok := poolDoc["vdev_tree"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("load topology: pool %q: config has no vdev tree", poolName)
	}
	children, _ := vdevTree["children"].([]any)
	if len(children) == 0 {
		return nil, fmt.Errorf("load topology: pool %q: vdev tree has no top-level vdevs", poolName)
	}

	topo := &Topology{
		Pool:  poolName,
		Vdevs: make([]Vdev, 0, len(children)),
	}
	for i, child := range children {
		childDoc, ok := child.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("load topology: pool %q: vdev %v: not a key/value document", poolName, i)
		}
		topo.Vdevs = append(topo.Vdevs, loadVdev(childDoc))
	}

	for i, vdev := range topo.Vdevs {
		dlog.Debugf(ctx, "vdev %v, ashift %v, count %v, %v%s",
			i, vdev.AShift, len(vdev.Devices), vdev.Kind, raidzSuffix(vdev))
		for j, dev := range vdev.Devices {
			dlog.Debugf(ctx, "        dev %v %s", j, dev)
		}
	}

	return topo, nil
}

func raidzSuffix(vdev Vdev) string {
	if vdev.Kind != KindRaidZ {
		return ""
	}
	return fmt.Sprintf(" %v", vdev.NParity)
}

func loadVdev(doc map[string]any) Vdev {
	var ret Vdev

	kind, _ := doc["type"].(string)
	switch kind {
	case "mirror":
		ret.Kind = KindMirror
	case "raidz":
		ret.Kind = KindRaidZ
		ret.NParity = int(docUint(doc, "nparity"))
	case "disk", "file":
		ret.Kind = KindStripe
	default:
		ret.Kind = KindUnknown
	}

	ret.AShift = int(docUint(doc, "ashift"))

	if children, ok := doc["children"].([]any); ok {
		for _, child := range children {
			childDoc, ok := child.(map[string]any)
			if !ok {
				continue
			}
			if path, ok := childDoc["path"].(string); ok {
				ret.Devices = append(ret.Devices, path)
			}
		}
	} else if path, ok := doc["path"].(string); ok {
		ret.Devices = append(ret.Devices, path)
	}

	return ret
}

// docUint reads a numeric member of a key/value document.  Different
// collaborators hand us different concrete number types (native
// unpacking gives uint64, JSON gives float64), so accept them all.
func docUint(doc map[string]any, key string) uint64 {
	switch val := doc[key].(type) {
	case uint64:
		return val
	case int64:
		return uint64(val)
	case int:
		return uint64(val)
	case float64:
		return uint64(val)
	default:
		return 0
	}
}
