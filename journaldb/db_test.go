// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journaldb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/flock"
	"github.com/grailbio/journaldb/journal"
	"github.com/grailbio/journaldb/log"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func openDB(t *testing.T, opts Options) *DB {
	t.Helper()
	db, err := Open(opts)
	require.NoError(t, err)
	return db
}

func readSegment(t *testing.T, db *DB, seq uint64, opts journal.ReaderOptions) []*journal.Entry {
	t.Helper()
	r, err := db.NewReader(seq, opts)
	require.NoError(t, err)
	defer r.Close()
	var entries []*journal.Entry
	require.NoError(t, r.ForEach(journal.EntryOptions{}, func(e *journal.Entry) error {
		entries = append(entries, e)
		return nil
	}))
	return entries
}

// crash releases the database's directory without closing its current
// segment, as if the process had died.
func crash(t *testing.T, db *DB) {
	t.Helper()
	if db.done != nil {
		close(db.done)
		<-db.monitorDone
	}
	require.NoError(t, db.release())
}

func TestOpen(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()
	dir = filepath.Join(dir, "data")

	db := openDB(t, Options{Dir: dir})
	assert.Equal(t, uint64(0), db.CurrentSequence())
	assert.Equal(t, uint64(1), db.Sequence())
	for i := 0; i < 3; i++ {
		seq, err := db.Append([]byte(fmt.Sprint(i)), false)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	require.NoError(t, db.Flush())
	segments, err := db.Segments()
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, segments)

	_, err = Open(Options{Dir: dir})
	assert.True(t, errors.Is(errors.Locked, err), "got %v", err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	_, err = db.Append([]byte("closed"), false)
	assert.True(t, errors.Is(errors.Closed, err), "got %v", err)

	// The database resumes its current segment.
	db = openDB(t, Options{Dir: dir})
	assert.Equal(t, uint64(0), db.CurrentSequence())
	assert.Equal(t, uint64(1), db.Sequence())
	seq, err := db.Append([]byte("3"), true)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	require.NoError(t, db.Close())
	entries := readSegment(t, db, 0, journal.ReaderOptions{})
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprint(i), string(e.Data))
	}
}

func TestOpenErrors(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	_, err := Open(Options{})
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)
	_, err = Open(Options{Dir: dir, MaxSize: -1})
	assert.True(t, errors.Is(errors.Invalid, err), "got %v", err)

	path := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	_, err = Open(Options{Dir: path})
	assert.True(t, errors.Is(errors.NotDir, err), "got %v", err)

	// The lock is released when Open fails.
	data := filepath.Join(dir, "data")
	db := openDB(t, Options{Dir: data})
	crash(t, db)
	_, err = Open(Options{Dir: data})
	assert.True(t, errors.Is(errors.NotClosed, err), "got %v", err)
	lock := flock.New(filepath.Join(data, MetaName))
	require.NoError(t, lock.TryLock())
	require.NoError(t, lock.Unlock())
}

func TestRelocateOnBootFailure(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	db := openDB(t, Options{Dir: dir})
	for i := 0; i < 3; i++ {
		_, err := db.Append([]byte(fmt.Sprint(i)), true)
		require.NoError(t, err)
	}
	crash(t, db)

	core, logs := observer.New(zapcore.InfoLevel)
	defer log.SetOutputter(log.SetOutputter(log.NewZapOutputterFromLogger(zap.New(core))))
	db = openDB(t, Options{Dir: dir, RelocateOnBootFailure: true})
	assert.Equal(t, uint64(1), db.CurrentSequence())
	relocated := logs.FilterMessageSnippet("cannot reopen segment 0, relocating").All()
	require.Len(t, relocated, 1)
	assert.Equal(t, zapcore.InfoLevel, relocated[0].Level)
	assert.Len(t, logs.FilterMessageSnippet("sealed").All(), 1)
	seq, err := db.Append([]byte("after"), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)
	require.NoError(t, db.Close())

	// The crashed segment was sealed.
	entries := readSegment(t, db, 0, journal.ReaderOptions{RequireArchived: true})
	require.Len(t, entries, 3)
	entries = readSegment(t, db, 1, journal.ReaderOptions{})
	require.Len(t, entries, 1)
	assert.Equal(t, "after", string(entries[0].Data))

	db = openDB(t, Options{Dir: dir})
	assert.Equal(t, uint64(1), db.CurrentSequence())
	require.NoError(t, db.Close())
}

func TestRelocate(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	db := openDB(t, Options{Dir: dir})
	_, err := db.Append([]byte("zero"), false)
	require.NoError(t, err)
	prev, err := db.Relocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), prev)
	assert.Equal(t, uint64(1), db.CurrentSequence())
	seq, err := db.Append([]byte("one"), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)

	// A segment file left behind by an interrupted rollover is
	// skipped.
	require.NoError(t, os.WriteFile(SegmentPath(dir, 2), nil, 0644))
	prev, err = db.Relocate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prev)
	assert.Equal(t, uint64(3), db.CurrentSequence())
	assert.Equal(t, uint64(4), db.Sequence())

	segments, err := db.Segments()
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3}, segments)
	require.NoError(t, db.Close())
	_, err = db.Relocate()
	assert.True(t, errors.Is(errors.Closed, err), "got %v", err)

	for seq, want := range map[uint64]string{0: "zero", 1: "one"} {
		entries := readSegment(t, db, seq, journal.ReaderOptions{RequireArchived: true})
		require.Len(t, entries, 1)
		assert.Equal(t, want, string(entries[0].Data))
	}
}

func TestRollover(t *testing.T) {
	const (
		n       = 1000
		size    = 100
		maxSize = 10000
		// Records per segment: the first append that finds the segment
		// past maxSize rolls it over.
		perSegment = (maxSize-journal.FileHeaderSize)/(journal.RecordHeaderSize+size+journal.ChecksumSize) + 1
	)
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	db := openDB(t, Options{Dir: dir, MaxSize: maxSize, MonitorInterval: time.Hour})
	for i := 0; i < n; i++ {
		_, err := db.Append(bytes.Repeat([]byte{byte(i)}, size), false)
		require.NoError(t, err)
	}
	want := uint64((n - 1) / perSegment)
	assert.Equal(t, uint64(15), want)
	assert.Equal(t, want, db.CurrentSequence())
	assert.Equal(t, want+1, db.Sequence())
	require.NoError(t, db.Close())

	segments, err := db.Segments()
	require.NoError(t, err)
	require.Len(t, segments, int(want)+1)
	var total int
	for _, seq := range segments {
		opts := journal.ReaderOptions{RequireArchived: seq < want}
		entries := readSegment(t, db, seq, opts)
		if seq < want {
			assert.Len(t, entries, perSegment)
		}
		for i, e := range entries {
			assert.Equal(t, uint64(i), e.Sequence)
			assert.Equal(t, byte(total), e.Data[0])
			total++
		}
	}
	assert.Equal(t, n, total)
}

func TestRolloverLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("writes 400MB")
	}
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	maxSize, err := ParseSize("100MB")
	require.NoError(t, err)
	// Segments hold 24085 records of 4 KiB under a decimal 100 MB
	// threshold, and 25255 under a binary one.
	for _, test := range []struct {
		maxSize int64
		current uint64
	}{
		{100e6, 4},
		{maxSize, 3},
	} {
		db := openDB(t, Options{Dir: filepath.Join(dir, fmt.Sprint(test.maxSize)), MaxSize: test.maxSize})
		p := make([]byte, 4096)
		for i := 0; i < 100000; i++ {
			_, err := db.Append(p, false)
			require.NoError(t, err)
		}
		assert.Equal(t, test.current, db.CurrentSequence())
		assert.Equal(t, test.current+1, db.Sequence())
		require.NoError(t, db.Close())
	}
}

func TestMonitor(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	db := openDB(t, Options{Dir: dir, MaxSize: 1000, MonitorInterval: time.Millisecond})
	defer db.Close()
	_, err := db.Append(make([]byte, 2000), false)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return db.CurrentSequence() == 1 }, 5*time.Second, time.Millisecond)
	entries := readSegment(t, db, 0, journal.ReaderOptions{RequireArchived: true})
	assert.Len(t, entries, 1)
}

func TestConcurrentRollover(t *testing.T) {
	const (
		nthread = 8
		n       = 500
	)
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	db := openDB(t, Options{Dir: dir, MaxSize: 4096, MonitorInterval: time.Millisecond})
	var g errgroup.Group
	for i := 0; i < nthread; i++ {
		g.Go(func() error {
			for j := 0; j < n; j++ {
				if _, err := db.Append(make([]byte, 64), false); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, db.Close())

	segments, err := db.Segments()
	require.NoError(t, err)
	var total int
	for _, seq := range segments {
		total += len(readSegment(t, db, seq, journal.ReaderOptions{}))
	}
	assert.Equal(t, nthread*n, total)
}

// blockNextAppend holds a conflicting lock over the range of the
// current segment's next record, so that the next append fails.
func blockNextAppend(t *testing.T, db *DB) func() {
	t.Helper()
	seg := db.current.Load()
	f, err := os.OpenFile(seg.w.Path(), os.O_RDWR, 0)
	require.NoError(t, err)
	lock, err := flock.TryLockRange(f, flock.Exclusive, seg.w.Size(), 1)
	require.NoError(t, err)
	return func() {
		assert.NoError(t, lock.Unlock())
		assert.NoError(t, f.Close())
	}
}

func TestRelocateOnWriteFailure(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	db := openDB(t, Options{Dir: dir, RelocateOnWriteFailure: true})
	_, err := db.Append([]byte("zero"), false)
	require.NoError(t, err)
	unblock := blockNextAppend(t, db)
	seq, err := db.Append([]byte("one"), false)
	unblock()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)
	assert.Equal(t, uint64(1), db.CurrentSequence())
	require.NoError(t, db.Close())

	entries := readSegment(t, db, 0, journal.ReaderOptions{RequireArchived: true})
	require.Len(t, entries, 1)
	assert.Equal(t, "zero", string(entries[0].Data))
	entries = readSegment(t, db, 1, journal.ReaderOptions{})
	require.Len(t, entries, 1)
	assert.Equal(t, "one", string(entries[0].Data))
}

func TestWriteFailure(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "journaldb")
	defer cleanup()

	db := openDB(t, Options{Dir: dir})
	_, err := db.Append([]byte("zero"), false)
	require.NoError(t, err)
	unblock := blockNextAppend(t, db)
	_, err = db.Append([]byte("one"), false)
	unblock()
	assert.True(t, errors.Is(errors.IO, err), "got %v", err)

	// The database closed itself, and released its directory.
	_, err = db.Append([]byte("two"), false)
	assert.True(t, errors.Is(errors.Closed, err), "got %v", err)
	_, err = Open(Options{Dir: dir})
	assert.True(t, errors.Is(errors.Archived, err), "got %v", err)
	db = openDB(t, Options{Dir: dir, RelocateOnBootFailure: true})
	assert.Equal(t, uint64(1), db.CurrentSequence())
	require.NoError(t, db.Close())
}
