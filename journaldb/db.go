// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package journaldb implements a journal database: a directory of
// journal segments, of which one, the current segment, accepts
// appends. The database rolls over to a new segment when the current
// one grows past a size threshold, and recovers the current segment
// at boot.
//
// The directory holds a metadata file, journal_meta, whose first 8
// bytes store the current segment's sequence number (big-endian), and
// segments named journal_<N>.jdf. The metadata file is locked for the
// lifetime of the database, so that a directory is owned by a single
// DB.
package journaldb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/flock"
	"github.com/grailbio/journaldb/internal/mmap"
	"github.com/grailbio/journaldb/journal"
	"github.com/grailbio/journaldb/log"
	"github.com/grailbio/journaldb/must"
)

const (
	// MetaName is the name of the metadata file.
	MetaName = "journal_meta"
	metaSize = 100

	segmentPrefix = "journal_"
	segmentSuffix = ".jdf"
)

// SegmentPath returns the path of segment seq in dir.
func SegmentPath(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", segmentPrefix, seq, segmentSuffix))
}

// ParseSegmentName returns the sequence number of the segment with
// the given file name.
func ParseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix), 10, 64)
	return seq, err == nil
}

// segment is the current segment: its writer and sequence number.
type segment struct {
	seq uint64
	w   *journal.Writer
}

// DB is a journal database. DB is safe for concurrent use.
type DB struct {
	opts     Options
	lock     flock.FileLock
	metaFile *os.File
	meta     *mmap.Region

	// metaMu serializes segment allocation, rollover and close.
	metaMu  sync.Mutex
	closed  bool
	current atomic.Pointer[segment]
	// allocated is one past the last segment recorded in the metadata.
	allocated atomic.Uint64

	done        chan struct{}
	monitorDone chan struct{}
	monitorErr  errors.Once

	closeOnce sync.Once
	closeErr  error
}

// Open opens the database in opts.Dir, creating the directory and
// its first segment if needed. Open fails with an error of kind
// Locked if another DB holds the directory, and of kind NotDir if
// opts.Dir is a regular file.
//
// The current segment is reopened for appends. If this fails (for
// example because the previous DB crashed) and
// opts.RelocateOnBootFailure is set, the segment is sealed and a new
// segment is started; otherwise the failure is returned.
func Open(opts Options) (_ *DB, err error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.MonitorInterval == 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	switch info, err := os.Stat(opts.Dir); {
	case err == nil && !info.IsDir():
		return nil, errors.E(errors.NotDir, opts.Dir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, errors.E("journaldb: create", opts.Dir, err)
		}
	case err != nil:
		return nil, errors.E("journaldb.Open", opts.Dir, err)
	}

	metaPath := filepath.Join(opts.Dir, MetaName)
	db := &DB{opts: opts, lock: flock.New(metaPath)}
	if err := db.lock.TryLock(); err != nil {
		if flock.IsLocked(err) {
			return nil, errors.E(errors.Locked, opts.Dir, err)
		}
		return nil, err
	}
	defer func() {
		if err != nil {
			errors.CleanUp(db.release, &err)
		}
	}()
	if db.metaFile, err = os.OpenFile(metaPath, os.O_RDWR|os.O_CREATE, 0644); err != nil {
		return nil, errors.E("journaldb.Open", metaPath, err)
	}
	info, err := db.metaFile.Stat()
	if err != nil {
		return nil, errors.E("journaldb.Open", metaPath, err)
	}
	isNew := info.Size() == 0
	if db.meta, err = mmap.Map(db.metaFile, metaSize); err != nil {
		return nil, err
	}
	if isNew {
		err = db.boot(0)
	} else {
		err = db.reboot(binary.BigEndian.Uint64(db.meta.Bytes()))
	}
	if err != nil {
		return nil, err
	}
	if opts.MaxSize > 0 {
		db.done = make(chan struct{})
		db.monitorDone = make(chan struct{})
		go db.monitor()
	}
	return db, nil
}

// boot starts the database on a new segment.
func (db *DB) boot(seq uint64) error {
	w, err := journal.OpenWriter(SegmentPath(db.opts.Dir, seq))
	if err != nil {
		return err
	}
	if err := db.storeMeta(seq); err != nil {
		errors.CleanUp(w.Close, &err)
		return err
	}
	db.current.Store(&segment{seq: seq, w: w})
	return nil
}

// reboot resumes the database on the recorded segment seq.
func (db *DB) reboot(seq uint64) error {
	path := SegmentPath(db.opts.Dir, seq)
	w, err := journal.OpenWriter(path)
	if err == nil {
		db.allocated.Store(seq + 1)
		db.current.Store(&segment{seq: seq, w: w})
		return nil
	}
	if !db.opts.RelocateOnBootFailure {
		return err
	}
	log.Printf("journaldb: cannot reopen segment %d, relocating: %v", seq, err)
	if errors.Is(errors.NotClosed, err) {
		if _, err := journal.Seal(path); err != nil {
			log.Error.Printf("journaldb: seal segment %d: %v", seq, err)
		}
	}
	return db.boot(db.nextSegment(seq))
}

// nextSegment returns the sequence number of the segment following
// seq, skipping any segment files left behind by an interrupted
// rollover.
func (db *DB) nextSegment(seq uint64) uint64 {
	for {
		seq++
		if _, err := os.Stat(SegmentPath(db.opts.Dir, seq)); os.IsNotExist(err) {
			return seq
		}
		log.Printf("journaldb: skipping existing segment %d", seq)
	}
}

func (db *DB) storeMeta(seq uint64) error {
	binary.BigEndian.PutUint64(db.meta.Bytes(), seq)
	if err := db.meta.Sync(); err != nil {
		return err
	}
	db.allocated.Store(seq + 1)
	return nil
}

// Append appends a record carrying data to the current segment and
// returns the record's sequence number within that segment. If sync
// is true, the record is durable when Append returns.
//
// If the append fails and the database was opened with
// RelocateOnWriteFailure, the database rolls over and the append is
// retried once on the new segment. Otherwise the database is closed
// and the failure returned.
func (db *DB) Append(data []byte, sync bool) (uint64, error) {
	relocated := false
	for {
		seg := db.current.Load()
		if db.opts.MaxSize > 0 && seg.w.Size() > db.opts.MaxSize {
			if _, err := db.rollover(seg); err != nil {
				return 0, err
			}
			continue
		}
		seq, err := seg.w.Append(data, sync)
		if err == nil {
			return seq, nil
		}
		if errors.Is(errors.Closed, err) {
			// The segment was retired by a concurrent rollover.
			if db.current.Load() != seg {
				continue
			}
			// A concurrent append failed and archived the segment, but
			// has yet to relocate.
			if db.opts.RelocateOnWriteFailure && !relocated && seg.w.State() == journal.Archived {
				if _, err := db.rollover(seg); err != nil {
					return 0, err
				}
				relocated = true
				continue
			}
			return 0, err
		}
		if !db.opts.RelocateOnWriteFailure || relocated {
			log.Error.Printf("journaldb: append to segment %d failed, closing: %v", seg.seq, err)
			errors.CleanUp(db.Close, &err)
			return 0, err
		}
		log.Printf("journaldb: append to segment %d failed, relocating: %v", seg.seq, err)
		if _, err := db.rollover(seg); err != nil {
			return 0, err
		}
		relocated = true
	}
}

// Flush forces the current segment's header to stable storage.
func (db *DB) Flush() error {
	for {
		seg := db.current.Load()
		err := seg.w.Flush()
		if err != nil && errors.Is(errors.Closed, err) && db.current.Load() != seg {
			continue
		}
		return err
	}
}

// CurrentSequence returns the sequence number of the current segment.
func (db *DB) CurrentSequence() uint64 {
	return db.current.Load().seq
}

// Sequence returns the database's segment allocation counter: the
// sequence number the next rollover starts from, one past the current
// segment. A fresh database that has never rolled over reports 1.
func (db *DB) Sequence() uint64 {
	return db.allocated.Load()
}

// Dir returns the database's data directory.
func (db *DB) Dir() string {
	return db.opts.Dir
}

// Relocate rolls the database over to a new segment: the new segment
// is installed as the current one, and the previous one is archived.
// Relocate returns the sequence number of the previous segment.
func (db *DB) Relocate() (uint64, error) {
	db.metaMu.Lock()
	defer db.metaMu.Unlock()
	return db.relocate()
}

// rollover relocates the database if seg is still current.
func (db *DB) rollover(seg *segment) (uint64, error) {
	db.metaMu.Lock()
	defer db.metaMu.Unlock()
	if db.current.Load() != seg {
		return seg.seq, nil
	}
	return db.relocate()
}

// relocate performs a rollover. It must be called with metaMu held.
func (db *DB) relocate() (uint64, error) {
	if db.closed {
		return 0, errors.E(errors.Closed, "journaldb", db.opts.Dir)
	}
	prev := db.current.Load()
	next := db.nextSegment(prev.seq)
	must.Truef(next > prev.seq, "journaldb: segment %d follows %d", next, prev.seq)
	// The new segment is created before it is recorded, so that the
	// metadata never names a segment that does not exist.
	w, err := journal.OpenWriter(SegmentPath(db.opts.Dir, next))
	if err != nil {
		return 0, err
	}
	if err := db.storeMeta(next); err != nil {
		errors.CleanUp(w.ArchiveAndClose, &err)
		return 0, err
	}
	db.current.Store(&segment{seq: next, w: w})
	if err := prev.w.ArchiveAndClose(); err != nil {
		log.Error.Printf("journaldb: archive segment %d: %v", prev.seq, err)
	}
	log.Debug.Printf("journaldb: rolled over segment %d (%d bytes) to %d", prev.seq, prev.w.Size(), next)
	return prev.seq, nil
}

// monitor rolls over the current segment once it grows past the
// size threshold, so that a segment is retired even when no further
// appends arrive.
func (db *DB) monitor() {
	defer close(db.monitorDone)
	ticker := time.NewTicker(db.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-db.done:
			return
		case <-ticker.C:
		}
		seg := db.current.Load()
		if seg.w.Size() <= db.opts.MaxSize {
			continue
		}
		if _, err := db.rollover(seg); err != nil {
			if errors.Is(errors.Closed, err) {
				return
			}
			log.Error.Printf("journaldb: rollover of segment %d: %v", seg.seq, err)
			db.monitorErr.Set(err)
		}
	}
}

// Segments returns the sequence numbers of the segments in the data
// directory, in ascending order.
func (db *DB) Segments() ([]uint64, error) {
	return ListSegments(db.opts.Dir)
}

// ListSegments returns the sequence numbers of the segments in dir,
// in ascending order.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.E("journaldb: list segments", dir, err)
	}
	var seqs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := ParseSegmentName(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// NewReader opens a reader on segment seq. The zero ReaderOptions
// admit archived and gracefully closed segments; the current segment
// requires AllowNotClosed.
func (db *DB) NewReader(seq uint64, opts journal.ReaderOptions) (*journal.Reader, error) {
	return journal.OpenReader(SegmentPath(db.opts.Dir, seq), opts)
}

// Close stops the rollover monitor, closes the current segment
// gracefully and releases the data directory. Close returns the first
// rollover failure of the monitor, if any. Close is idempotent.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closeErr = db.close()
	})
	return db.closeErr
}

func (db *DB) close() (err error) {
	if db.done != nil {
		close(db.done)
		<-db.monitorDone
	}
	db.metaMu.Lock()
	db.closed = true
	db.metaMu.Unlock()
	err = db.monitorErr.Err()
	errors.CleanUp(db.current.Load().w.Close, &err)
	errors.CleanUp(db.release, &err)
	return err
}

// release releases the metadata file and the directory lock.
func (db *DB) release() (err error) {
	if db.meta != nil {
		errors.CleanUp(db.meta.Close, &err)
	}
	if db.metaFile != nil {
		errors.CleanUp(db.metaFile.Close, &err)
	}
	errors.CleanUp(db.lock.Unlock, &err)
	return err
}
