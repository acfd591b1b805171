// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mmap maps fixed-size file prefixes, such as journal
// headers, into memory for shared read-write access.
package mmap

import (
	"fmt"
	"os"

	"github.com/grailbio/journaldb/errors"
	"golang.org/x/sys/unix"
)

// Region is a shared mapping of the first n bytes of a file. Stores
// into Bytes reach the page cache immediately and are visible to
// other handles of the file; Sync forces them to stable storage.
type Region struct {
	name string
	b    []byte
}

// Map maps the first n bytes of f for reading and writing. The file
// is extended with zeros if it is shorter than n bytes.
func Map(f *os.File, n int) (*Region, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.E("mmap", f.Name(), err)
	}
	if info.Size() < int64(n) {
		if err := f.Truncate(int64(n)); err != nil {
			return nil, errors.E("mmap: extend", f.Name(), err)
		}
	}
	b, err := unix.Mmap(int(f.Fd()), 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.E(errors.IO, fmt.Sprintf("mmap %s: %d bytes", f.Name(), n), err)
	}
	return &Region{name: f.Name(), b: b}, nil
}

// Bytes returns the mapped bytes. The slice is invalid after Close.
func (r *Region) Bytes() []byte {
	return r.b
}

// Sync forces the mapped bytes to stable storage.
func (r *Region) Sync() error {
	if r.b == nil {
		return errors.E(errors.Closed, "mmap", r.name)
	}
	if err := unix.Msync(r.b, unix.MS_SYNC); err != nil {
		return errors.E(errors.IO, "msync", r.name, err)
	}
	return nil
}

// Close unmaps the region. It does not sync.
func (r *Region) Close() error {
	if r.b == nil {
		return nil
	}
	b := r.b
	r.b = nil
	if err := unix.Munmap(b); err != nil {
		return errors.E(errors.IO, "munmap", r.name, err)
	}
	return nil
}
