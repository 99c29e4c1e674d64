// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a least-recently-used(ish) cache.  A zero LRUCache is
// not usable; it must be initialized with NewLRUCache.
type LRUCache[K comparable, V any] struct {
	inner *lru.ARCCache
}

func NewLRUCache[K comparable, V any](size int) *LRUCache[K, V] {
	c := new(LRUCache[K, V])
	c.inner, _ = lru.NewARC(size)
	return c
}

func (c *LRUCache[K, V]) Add(key K, value V) {
	c.inner.Add(key, value)
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	_value, ok := c.inner.Get(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

func (c *LRUCache[K, V]) Len() int {
	return c.inner.Len()
}

func (c *LRUCache[K, V]) Purge() {
	c.inner.Purge()
}

func (c *LRUCache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

// GetOrCompute returns the cached value for `key`, calling `fn` to
// produce (and record) it on a miss.  If `fn` fails, nothing is
// recorded and the error is returned as-is.
func (c *LRUCache[K, V]) GetOrCompute(key K, fn func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := fn()
	if err != nil {
		return value, err
	}
	c.Add(key, value)
	return value, nil
}
