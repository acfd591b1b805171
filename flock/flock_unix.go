// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build unix

package flock

import (
	"context"
	"sync"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/log"
	"golang.org/x/sys/unix"
)

type unixlock struct {
	name string
	fd   int
	mu   sync.Mutex
}

// Lock locks the file. Iff Lock() returns nil, the caller must call Unlock()
// later.
func (f *unixlock) Lock(ctx context.Context) (err error) {
	reqCh := make(chan func() error, 2)
	doneCh := make(chan error)
	go func() {
		var err error
		for req := range reqCh {
			if err == nil {
				err = req()
			}
			doneCh <- err
		}
	}()
	reqCh <- f.doLock
	select {
	case <-ctx.Done():
		reqCh <- f.doUnlock
		err = errors.E(ctx.Err())
	case err = <-doneCh:
	}
	close(reqCh)
	return err
}

// TryLock locks the file if no other file description holds it.
func (f *unixlock) TryLock() error {
	f.mu.Lock()
	if err := f.open(); err != nil {
		f.mu.Unlock()
		return err
	}
	err := unix.Flock(f.fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return nil
	}
	f.closeFd()
	f.mu.Unlock()
	if err == unix.EWOULDBLOCK {
		return errors.E(ErrLocked, f.name)
	}
	return errors.E(errors.IO, "flock", f.name, err)
}

// Unlock unlocks the file.
func (f *unixlock) Unlock() error {
	return f.doUnlock()
}

func (f *unixlock) open() error {
	var err error
	f.fd, err = unix.Open(f.name, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0644)
	if err != nil {
		return errors.E("open", f.name, err)
	}
	return nil
}

func (f *unixlock) doLock() error {
	f.mu.Lock() // Serialize the lock within one process.
	if err := f.open(); err != nil {
		f.mu.Unlock()
		return err
	}
	err := unix.Flock(f.fd, unix.LOCK_EX|unix.LOCK_NB)
	for err == unix.EWOULDBLOCK || err == unix.EINTR {
		log.Printf("waiting for lock %s", f.name)
		err = unix.Flock(f.fd, unix.LOCK_EX)
	}
	if err != nil {
		f.closeFd()
		f.mu.Unlock()
		return errors.E(errors.IO, "flock", f.name, err)
	}
	return nil
}

func (f *unixlock) doUnlock() error {
	err := unix.Flock(f.fd, unix.LOCK_UN)
	f.closeFd()
	f.mu.Unlock()
	if err != nil {
		return errors.E(errors.IO, "unlock", f.name, err)
	}
	return nil
}

func (f *unixlock) closeFd() {
	if err := unix.Close(f.fd); err != nil {
		log.Error.Printf("close %s: %v", f.name, err)
	}
}
