// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package flock_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/flock"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	ctx := context.Background()
	lockPath := tempDir + "/lock"
	lock := flock.New(lockPath)

	for i := 0; i < 3; i++ {
		require.NoError(t, lock.Lock(ctx))
		require.NoError(t, lock.Unlock())
	}

	require.NoError(t, lock.Lock(ctx))

	locked := int64(0)
	doneCh := make(chan struct{})
	go func() {
		other := flock.New(lockPath)
		if err := other.Lock(ctx); err != nil {
			t.Error(err)
		}
		atomic.StoreInt64(&locked, 1)
		other.Unlock()
		atomic.StoreInt64(&locked, 2)
		doneCh <- struct{}{}
	}()

	time.Sleep(500 * time.Millisecond)
	if atomic.LoadInt64(&locked) != 0 {
		t.Errorf("locked=%d", locked)
	}

	require.NoError(t, lock.Unlock())
	<-doneCh
	if atomic.LoadInt64(&locked) != 2 {
		t.Errorf("locked=%d", locked)
	}
}

func TestTryLock(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := filepath.Join(tempDir, "journal_meta")
	first := flock.New(path)
	require.NoError(t, first.TryLock())

	second := flock.New(path)
	err := second.TryLock()
	require.Error(t, err)
	assert.True(t, errors.Is(errors.IO, err), "err=%v", err)
	assert.True(t, errors.IsTemporary(err), "err=%v", err)

	require.NoError(t, first.Unlock())
	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}

func TestLockCanceled(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := filepath.Join(tempDir, "lock")
	held := flock.New(path)
	require.NoError(t, held.TryLock())
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := flock.New(path).Lock(ctx)
	assert.Error(t, err)
}

func openRW(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	return f
}

func TestRange(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tempDir, "journal_0.jdf")

	a, b := openRW(t, path), openRW(t, path)
	defer a.Close()
	defer b.Close()

	// Disjoint shared ranges, as held by concurrent appenders.
	ra, err := flock.TryLockRange(a, flock.Shared, 100, 63)
	require.NoError(t, err)
	rb, err := flock.TryLockRange(b, flock.Shared, 163, 63)
	require.NoError(t, err)

	// A patcher's exclusive header lock conflicts with an appender
	// that is still writing the record.
	_, err = flock.TryLockRange(b, flock.Exclusive, 100, 48)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.IO, err), "err=%v", err)

	// Overlapping shared locks coexist.
	rs, err := flock.TryLockRange(b, flock.Shared, 120, 10)
	require.NoError(t, err)
	require.NoError(t, rs.Unlock())

	require.NoError(t, ra.Unlock())
	rx, err := flock.TryLockRange(b, flock.Exclusive, 100, 48)
	require.NoError(t, err)
	require.NoError(t, rx.Unlock())
	require.NoError(t, rx.Unlock())
	require.NoError(t, rb.Unlock())

	_, err = flock.TryLockRange(a, flock.Shared, 10, 0)
	assert.True(t, errors.Is(errors.Invalid, err), "err=%v", err)
}
