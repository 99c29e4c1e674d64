// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package zfs defines the boundary between this tool and whatever
// component actually knows how to read pools: the configuration and
// data-access collaborators plug in here as drivers.
package zfs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"git.lukeshu.com/zfs-progs-ng/lib/maps"
)

// A PoolCache is the unpacked contents of a pool-cache file: pool
// name ⇒ pool config, as nested key/value documents.
type PoolCache = map[string]any

// A Driver is a pluggable backend that knows how to read pool
// configuration and dataset contents.
type Driver interface {
	// ReadPoolCache unpacks the pool-cache file at the given path.
	ReadPoolCache(ctx context.Context, path string) (PoolCache, error)

	// OpenObjset opens the named dataset of the named pool for
	// reading.  The returned Objset must be Closed when done.
	OpenObjset(ctx context.Context, pool, dataset string) (Objset, error)
}

// ErrNoDriver is returned (wrapped) by LookupDriver when no driver
// with the requested name has been registered.
var ErrNoDriver = errors.New("no such driver")

var (
	driversMu sync.RWMutex
	drivers   = map[string]Driver{}
)

// RegisterDriver makes a driver available under the given name.  It
// panics if called twice with the same name, or with a nil driver.
func RegisterDriver(name string, drv Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if drv == nil {
		panic("zfs: RegisterDriver driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("zfs: RegisterDriver called twice for driver %q", name))
	}
	drivers[name] = drv
}

// LookupDriver returns the driver registered under the given name.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	drv, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered drivers: %v)",
			ErrNoDriver, name, maps.SortedKeys(drivers))
	}
	return drv, nil
}
