// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package flock implements POSIX advisory file locks: whole-file
// locks, which guard a database directory, and byte-range locks,
// which coordinate record appenders with processed-state patchers.
package flock

import (
	"context"

	"github.com/grailbio/journaldb/errors"
)

// ErrLocked is returned by the try-lock functions when the lock is
// held elsewhere.
var ErrLocked = errors.E(errors.IO, errors.Temporary, "lock is held")

// FileLock is an exclusive lock over a whole file.
type FileLock interface {
	// Lock blocks until the lock is acquired or the context is done.
	Lock(ctx context.Context) error
	// TryLock acquires the lock without blocking. It returns an error
	// matching ErrLocked if the lock is held by another file
	// description.
	TryLock() error
	// Unlock releases the lock.
	Unlock() error
}

// New creates an object that locks the given path. The file is
// created if it does not exist.
func New(path string) FileLock {
	return &unixlock{name: path}
}

// IsLocked tells whether err reports a lock held elsewhere, as
// returned by TryLock or TryLockRange.
func IsLocked(err error) bool {
	return errors.Is(errors.IO, err) && errors.IsTemporary(err)
}
