// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flock

import (
	"fmt"
	"os"

	"github.com/grailbio/journaldb/errors"
)

// Mode is the mode of a byte-range lock.
type Mode int

const (
	// Shared range locks may overlap other shared locks.
	Shared Mode = iota
	// Exclusive range locks conflict with any overlapping lock.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Range is a held lock over the bytes [Off, Off+Len) of a file.
// Range locks are owned by the open file on which they were
// acquired: two handles of the same file conflict with each other
// even within one process, and closing the file releases its locks.
type Range struct {
	Mode     Mode
	Off, Len int64

	name    string
	release func() error
}

// TryLockRange acquires a lock of the given mode over [off, off+n)
// of the file f without blocking. It returns an error matching
// ErrLocked if a conflicting lock is held. Shared locks require f to
// be open for reading, exclusive locks for writing.
func TryLockRange(f *os.File, mode Mode, off, n int64) (*Range, error) {
	if n <= 0 || off < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("flock: bad range [%d, %d)", off, off+n))
	}
	release, err := tryLockRange(f, mode, off, n)
	if err != nil {
		return nil, err
	}
	return &Range{Mode: mode, Off: off, Len: n, name: f.Name(), release: release}, nil
}

// Unlock releases the range lock. Unlock is a no-op on a released
// lock.
func (r *Range) Unlock() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.release = nil
	return err
}

func (r *Range) String() string {
	return fmt.Sprintf("%s[%d, %d) %s", r.name, r.Off, r.Off+r.Len, r.Mode)
}

func lockedErr(f *os.File, mode Mode, off, n int64) error {
	return errors.E(ErrLocked, fmt.Sprintf("%s: %s range [%d, %d)", f.Name(), mode, off, off+n))
}
