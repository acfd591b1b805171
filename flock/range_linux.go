// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flock

import (
	"io"
	"os"

	"github.com/grailbio/journaldb/errors"
	"golang.org/x/sys/unix"
)

// tryLockRange uses open file description locks, which, unlike
// classic POSIX record locks, conflict between handles of the same
// process and survive the closing of unrelated handles.
func tryLockRange(f *os.File, mode Mode, off, n int64) (func() error, error) {
	lk := unix.Flock_t{
		Type:   unix.F_RDLCK,
		Whence: io.SeekStart,
		Start:  off,
		Len:    n,
	}
	if mode == Exclusive {
		lk.Type = unix.F_WRLCK
	}
	fd := f.Fd()
	switch err := unix.FcntlFlock(fd, unix.F_OFD_SETLK, &lk); err {
	case nil:
	case unix.EAGAIN, unix.EACCES:
		return nil, lockedErr(f, mode, off, n)
	default:
		return nil, errors.E(errors.IO, "fcntl", f.Name(), err)
	}
	return func() error {
		unlk := lk
		unlk.Type = unix.F_UNLCK
		if err := unix.FcntlFlock(fd, unix.F_OFD_SETLK, &unlk); err != nil {
			return errors.E(errors.IO, "fcntl unlock", f.Name(), err)
		}
		return nil
	}, nil
}
