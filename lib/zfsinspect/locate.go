// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package zfsinspect

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/zfs-progs-ng/lib/textui"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsprim"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfstree"
	"git.lukeshu.com/zfs-progs-ng/lib/zfs/zfsvol"
)

// A BlockReport is one level-0 block of the located file, resolved
// down to the device byte ranges that hold its content.  Vdev and
// VdevOffset come from the block's first address triple; redundant
// replica addresses are ignored.
type BlockReport struct {
	Bookmark      string              `json:"bookmark"`
	FileOffset    int64               `json:"file_offset"`
	LogicalSize   zfsvol.AddrDelta    `json:"file_data"`
	PhysicalSize  zfsvol.AddrDelta    `json:"physical_file_data"`
	Vdev          zfsvol.VdevID       `json:"vdev"`
	VdevOffset    zfsvol.PhysicalAddr `json:"io_offset"`
	EffectiveSize zfsvol.AddrDelta    `json:"effective_record_size"`
	Hole          bool                `json:"hole,omitempty"`
	Requests      []zfsvol.IORequest  `json:"requests,omitempty"`
}

// A Report is the full result of locating one file: its identity,
// size, and every block with its device ranges.
type Report struct {
	Pool     string        `json:"pool"`
	Dataset  string        `json:"dataset"`
	Path     string        `json:"path"`
	Object   zfsprim.ObjID `json:"object"`
	FileSize int64         `json:"file_size"`
	Blocks   []BlockReport `json:"blocks"`
}

type locateStats struct {
	Blocks textui.Portion[int]
}

func (s locateStats) String() string {
	return textui.Sprintf("resolved %v blocks", s.Blocks)
}

// LocateFile maps the file at `filePath` (relative to the objset's
// root directory) down to the device byte ranges that hold each of
// its blocks.  The objset must already be open and the topology
// loaded; nothing is written anywhere.
func LocateFile(ctx context.Context, objset zfs.Objset, topo *zfsvol.Topology, dataset, filePath string) (*Report, error) {
	obj, err := lookupPath(ctx, objset, filePath)
	if err != nil {
		return nil, err
	}
	ctx = dlog.WithField(ctx, "zfsinspect.locate.object", obj)

	info, err := objset.ObjectInfo(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("locate %q: %w", filePath, err)
	}
	if info.Type != zfs.ObjectTypePlainFile {
		return nil, fmt.Errorf("locate %q: object %v is a %v, not a plain file",
			filePath, obj, info.Type)
	}
	fileSize, err := objset.FileSize(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("locate %q: %w", filePath, err)
	}

	walkCtx := dlog.WithField(ctx, "zfsinspect.locate.step", "walk")
	dlog.Debugf(walkCtx, "walking object %v (%v levels, %v data blocks)",
		obj, info.Dnode.Levels, info.Dnode.MaxBlockID+1)
	walker := &zfstree.Walker{
		Reader:    objset,
		Objset:    objset.ObjsetID(),
		Object:    obj,
		Dnode:     info.Dnode,
		CheckFill: true,
	}
	leaves, err := walker.Walk(walkCtx)
	if err != nil {
		return nil, fmt.Errorf("locate %q: %w", filePath, err)
	}

	extents := Reconcile(leaves, fileSize)

	resolveCtx := dlog.WithField(ctx, "zfsinspect.locate.step", "resolve")
	progress := textui.NewProgress[locateStats](resolveCtx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
	defer progress.Done()

	ret := &Report{
		Pool:     topo.Pool,
		Dataset:  dataset,
		Path:     filePath,
		Object:   obj,
		FileSize: fileSize,
		Blocks:   make([]BlockReport, 0, len(extents)),
	}
	for i, ext := range extents {
		progress.Set(locateStats{Blocks: textui.Portion[int]{N: i, D: len(extents)}})
		block := BlockReport{
			Bookmark:      ext.Leaf.Bookmark.String(),
			FileOffset:    ext.Leaf.FileOffset,
			LogicalSize:   ext.Leaf.BP.LSize,
			EffectiveSize: ext.EffectiveSize,
			Hole:          ext.Leaf.BP.IsHole(),
		}
		if len(ext.Leaf.BP.DVAs) > 0 {
			block.Vdev = ext.Leaf.BP.DVAs[0].Vdev
			block.VdevOffset = ext.Leaf.BP.DVAs[0].Offset
		}
		if !block.Hole {
			block.PhysicalSize = ext.Leaf.BP.PSize
		}
		if ext.EffectiveSize > 0 {
			dva := ext.Leaf.BP.DVAs[0]
			reqs, err := topo.Resolve(resolveCtx,
				zfsvol.QualifiedPhysicalAddr{Vdev: dva.Vdev, Addr: dva.Offset},
				dva.ASize, ext.EffectiveSize)
			if err != nil {
				return nil, fmt.Errorf("locate %q: block at %v: %w",
					filePath, ext.Leaf.Bookmark, err)
			}
			block.Requests = reqs
		}
		ret.Blocks = append(ret.Blocks, block)
	}
	progress.Set(locateStats{Blocks: textui.Portion[int]{N: len(extents), D: len(extents)}})

	return ret, nil
}

// lookupPath resolves a slash-separated path, component by component,
// from the objset's root directory.
func lookupPath(ctx context.Context, objset zfs.Objset, filePath string) (zfsprim.ObjID, error) {
	ctx = dlog.WithField(ctx, "zfsinspect.locate.step", "lookup")
	obj, err := objset.RootObject(ctx)
	if err != nil {
		return 0, fmt.Errorf("locate %q: %w", filePath, err)
	}
	clean := path.Clean(strings.TrimLeft(filePath, "/"))
	if clean == "." {
		return 0, fmt.Errorf("locate %q: not a file path", filePath)
	}
	for _, part := range strings.Split(clean, "/") {
		dlog.Tracef(ctx, "lookup %q in object %v", part, obj)
		obj, err = objset.LookupEntry(ctx, obj, part)
		if err != nil {
			return 0, fmt.Errorf("locate %q: component %q: %w", filePath, part, err)
		}
	}
	return obj, nil
}

// EmitText writes the report in the classic line-oriented format: one
// BP line per block, each followed by its device ranges, then a file
// summary line.  The output is meant to be grep/awk-able, so numbers
// are printed plain, without locale grouping.
func (r *Report) EmitText(out io.Writer) error {
	for _, block := range r.Blocks {
		if _, err := fmt.Fprintf(out,
			"BP: file_offset=%d file_data=%d physical_file_data=%d vdev=%d io_offset=%d effective_record_size=%d\n",
			block.FileOffset, int64(block.LogicalSize), int64(block.PhysicalSize),
			uint64(block.Vdev), int64(block.VdevOffset), int64(block.EffectiveSize)); err != nil {
			return err
		}
		for _, req := range block.Requests {
			if _, err := fmt.Fprintf(out, "\tdev=%s offset=%d length=%d\n",
				req.Device, int64(req.Offset), int64(req.Length)); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(out, "file size: %d (%d L0 BPs)\n", r.FileSize, len(r.Blocks))
	return err
}
