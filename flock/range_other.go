// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build !linux

package flock

import (
	"os"
	"path/filepath"
	"sync"
)

// Platforms without open file description locks get an in-process
// range lock table keyed by file path. It coordinates the handles of
// a single process only.
var table = struct {
	sync.Mutex
	held map[string][]*heldRange
}{held: make(map[string][]*heldRange)}

type heldRange struct {
	mode     Mode
	off, end int64
}

func (h *heldRange) conflicts(mode Mode, off, end int64) bool {
	if off >= h.end || h.off >= end {
		return false
	}
	return mode == Exclusive || h.mode == Exclusive
}

func tryLockRange(f *os.File, mode Mode, off, n int64) (func() error, error) {
	key, err := filepath.Abs(f.Name())
	if err != nil {
		key = f.Name()
	}
	end := off + n
	table.Lock()
	defer table.Unlock()
	for _, h := range table.held[key] {
		if h.conflicts(mode, off, end) {
			return nil, lockedErr(f, mode, off, n)
		}
	}
	h := &heldRange{mode, off, end}
	table.held[key] = append(table.held[key], h)
	return func() error {
		table.Lock()
		defer table.Unlock()
		ranges := table.held[key]
		for i := range ranges {
			if ranges[i] == h {
				ranges = append(ranges[:i], ranges[i+1:]...)
				break
			}
		}
		if len(ranges) == 0 {
			delete(table.held, key)
		} else {
			table.held[key] = ranges
		}
		return nil
	}, nil
}
