// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journal

import (
	"fmt"
	"os"
	"sync"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/flock"
	"github.com/grailbio/journaldb/internal/mmap"
	"github.com/grailbio/journaldb/log"
	"golang.org/x/sys/unix"
)

// State is the lifecycle state of a Writer.
type State int

const (
	// Live writers accept appends.
	Live State = iota
	// Archived writers retired their segment; the segment never
	// accepts appends again.
	Archived
	// Closed writers closed their segment gracefully; the segment may
	// be reopened for appends.
	Closed
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Archived:
		return "archived"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Writer appends records to a single segment file. A Writer is safe
// for concurrent use: appends are totally ordered by sequence number
// and byte offset, but their payloads are written concurrently.
type Writer struct {
	path   string
	file   *os.File
	header *mmap.Region

	// inflight is held for reading by each append for its whole
	// duration, and for writing by Close and ArchiveAndClose, so that
	// the header forced on close covers every committed record.
	inflight sync.RWMutex

	// mu is the allocation mutex. It guards the counters below and
	// their mirror in the mapped header.
	mu    sync.Mutex
	seq   uint64
	pos   int64
	state State
}

// OpenWriter opens the segment at path for appending, creating it if
// it does not exist. An empty file is initialized with a fresh
// header. An existing segment is rejected with an error of kind
// BadMagic, Archived, or NotClosed if its header carries the wrong
// magic, is archived, or was not closed gracefully. Otherwise its
// counters are restored from the header and the segment becomes live
// again.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.E("journal.OpenWriter", path, err)
	}
	w, err := newWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(f *os.File) (*Writer, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.E("journal.OpenWriter", f.Name(), err)
	}
	isNew := info.Size() == 0
	if !isNew && info.Size() < FileHeaderSize {
		return nil, errors.E(errors.BadMagic, f.Name(), fmt.Sprintf("short header: %d bytes", info.Size()))
	}
	region, err := mmap.Map(f, FileHeaderSize)
	if err != nil {
		return nil, err
	}
	w := &Writer{path: f.Name(), file: f, header: region}
	b := region.Bytes()
	if isNew {
		h := FileHeader{Magic: FileMagic, CreatedAt: millis(), Position: FileHeaderSize}
		h.Encode(b)
		w.pos = FileHeaderSize
		log.Debug.Printf("journal: created segment %s", w.path)
	} else {
		h := DecodeFileHeader(b)
		switch {
		case h.Magic != FileMagic:
			err = errors.E(errors.BadMagic, w.path, fmt.Sprintf("magic %#x", h.Magic))
		case h.Archived:
			err = errors.E(errors.Archived, w.path)
		case !h.Closed:
			err = errors.E(errors.NotClosed, w.path)
		case h.Position < FileHeaderSize:
			err = errors.E(errors.BadMagic, w.path, fmt.Sprintf("bad position %d", h.Position))
		}
		if err != nil {
			_ = region.Close()
			return nil, err
		}
		w.seq, w.pos = h.Sequence, h.Position
		// The segment is live again: a crash from here on must be
		// detected on the next open.
		b[offClosed] = 0
	}
	if err := region.Sync(); err != nil {
		_ = region.Close()
		return nil, err
	}
	return w, nil
}

// Append writes a record carrying data and returns its sequence
// number. If sync is true the record is written through a
// data-synchronous handle, and is durable when Append returns;
// otherwise it is durable once the kernel flushes it.
//
// Any failure after the record's range is allocated, including
// contention on its range lock, archives the segment: the partial
// record is left with its integrity flag unset and the error is
// returned. Append fails with an error of kind Closed after the
// writer is closed or archived.
func (w *Writer) Append(data []byte, sync bool) (uint64, error) {
	if len(data) > MaxPayload {
		return 0, errors.E(errors.Invalid, w.path, fmt.Sprintf("payload too large: %d bytes", len(data)))
	}
	w.inflight.RLock()
	seq, start, ts, err := w.allocate(RecordSize(len(data)))
	if err != nil {
		w.inflight.RUnlock()
		return 0, err
	}
	err = w.write(data, sync, RecordHeader{Magic: RecordMagic, Sequence: seq, Timestamp: ts}, start)
	w.inflight.RUnlock()
	if err != nil {
		log.Error.Printf("journal %s: append %d failed, archiving: %v", w.path, seq, err)
		errors.CleanUp(w.ArchiveAndClose, &err)
		return 0, err
	}
	return seq, nil
}

// allocate reserves a sequence number and n bytes at the end of the
// segment, mirroring the new counters into the mapped header.
func (w *Writer) allocate(n int64) (seq uint64, start, ts int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Live {
		return 0, 0, 0, errors.E(errors.Closed, w.path, fmt.Sprintf("segment is %s", w.state))
	}
	seq, start, ts = w.seq, w.pos, millis()
	w.seq++
	w.pos += n
	b := w.header.Bytes()
	byteOrder.PutUint64(b[offSequence:], w.seq)
	byteOrder.PutUint64(b[offPosition:], uint64(w.pos))
	return seq, start, ts, nil
}

// write writes the record at start through a fresh handle holding a
// shared lock over the record's range, and then commits it.
func (w *Writer) write(data []byte, sync bool, h RecordHeader, start int64) (err error) {
	flag := os.O_RDWR
	if sync {
		flag |= unix.O_DSYNC
	}
	f, err := os.OpenFile(w.path, flag, 0)
	if err != nil {
		return errors.E(errors.IO, "journal: append", w.path, err)
	}
	defer errors.CleanUp(f.Close, &err)
	buf := AppendRecord(make([]byte, 0, RecordSize(len(data))), h, data)
	lock, err := flock.TryLockRange(f, flock.Shared, start, int64(len(buf)))
	if err != nil {
		return errors.E(errors.IO, "journal: append", err)
	}
	defer errors.CleanUp(lock.Unlock, &err)
	if _, err := f.WriteAt(buf, start); err != nil {
		return errors.E(errors.IO, "journal: append", w.path, err)
	}
	if _, err := f.WriteAt([]byte{1}, start+offIntegrity); err != nil {
		return errors.E(errors.IO, "journal: commit", w.path, err)
	}
	return nil
}

// Flush forces the segment header to stable storage. It does not
// sync record payloads.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Live {
		return errors.E(errors.Closed, w.path, fmt.Sprintf("segment is %s", w.state))
	}
	return w.header.Sync()
}

// Close marks the segment as closed gracefully, forces its header
// and releases the writer's resources. Close waits for in-flight
// appends. Closing a closed or archived writer is a no-op.
func (w *Writer) Close() error {
	return w.retire(Closed)
}

// ArchiveAndClose marks the segment archived, forces its header and
// releases the writer's resources. The segment never accepts appends
// again. ArchiveAndClose waits for in-flight appends; it is a no-op
// on a closed or archived writer.
func (w *Writer) ArchiveAndClose() error {
	return w.retire(Archived)
}

func (w *Writer) retire(state State) (err error) {
	w.inflight.Lock()
	defer w.inflight.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Live {
		return nil
	}
	w.state = state
	b := w.header.Bytes()
	switch state {
	case Archived:
		b[offArchived] = 1
		byteOrder.PutUint64(b[offArchivedAt:], uint64(millis()))
	case Closed:
		b[offClosed] = 1
	}
	defer errors.CleanUp(w.file.Close, &err)
	defer errors.CleanUp(w.header.Close, &err)
	if err = w.header.Sync(); err != nil {
		return err
	}
	log.Debug.Printf("journal: %s segment %s: sequence %d, position %d", state, w.path, w.seq, w.pos)
	return nil
}

// Size returns the size of the segment: the offset just past the last
// allocated record.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// Sequence returns the next sequence number: the number of records
// allocated in the segment.
func (w *Writer) Sequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Position is an alias of Size, in the terms of the segment header.
func (w *Writer) Position() int64 {
	return w.Size()
}

// State returns the writer's current state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Path returns the path of the writer's segment.
func (w *Writer) Path() string {
	return w.path
}
