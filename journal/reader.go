// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/journaldb/errors"
)

// ReaderOptions configures the header checks performed by
// OpenReader. The zero value checks the magic and requires a segment
// that was retired cleanly, either archived or closed gracefully.
//
// Archiving retires a segment without setting its graceful-close
// flag, so by default the close check admits archived segments.
// RequireClosed applies the close check to every segment.
type ReaderOptions struct {
	// IgnoreMagic admits segments without the journal file magic.
	IgnoreMagic bool
	// RequireArchived rejects segments that are not archived.
	RequireArchived bool
	// AllowNotClosed admits live segments: those neither archived nor
	// closed gracefully, such as the current segment of an open
	// database or the segment of a crashed writer.
	AllowNotClosed bool
	// RequireClosed rejects segments that were not closed gracefully,
	// archived or not. It takes precedence over AllowNotClosed.
	RequireClosed bool
}

// EntryOptions configures a scan over a segment's records. The zero
// value scans from the first record, checking every record's magic,
// integrity flag and checksum.
type EntryOptions struct {
	// Start is the offset of the first record to scan. It must be a
	// record boundary. Zero means FileHeaderSize.
	Start int64
	// IgnoreMagic admits records without the record magic.
	IgnoreMagic bool
	// IgnoreIntegrity admits records whose integrity flag is unset.
	IgnoreIntegrity bool
	// SkipChecksum skips payload checksum verification.
	SkipChecksum bool
	// Filter, if set, is called with each record's metadata before its
	// payload is read. Records for which it returns false are skipped.
	Filter func(RecordInfo) bool
}

// Reader reads records from a segment. Readers are independent of
// writers and may scan a segment while it is appended to; they
// observe records whose integrity flag is set.
type Reader struct {
	path   string
	file   *os.File
	header FileHeader
	// limit is the offset at which scans end.
	limit int64
}

// OpenReader opens the segment at path for reading and validates its
// header according to opts. It fails with an error of kind
// BadSignature, NotArchived or ReaderNotClosed when a check fails.
func OpenReader(path string, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E("journal.OpenReader", path, err)
	}
	r, err := newReader(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File, opts ReaderOptions) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.E("journal.OpenReader", f.Name(), err)
	}
	if info.Size() < FileHeaderSize {
		return nil, errors.E(errors.BadSignature, f.Name(), fmt.Sprintf("short header: %d bytes", info.Size()))
	}
	var b [FileHeaderSize]byte
	if _, err := f.ReadAt(b[:], 0); err != nil {
		return nil, errors.E(errors.IO, "journal.OpenReader", f.Name(), err)
	}
	r := &Reader{path: f.Name(), file: f, header: DecodeFileHeader(b[:]), limit: info.Size()}
	switch {
	case !opts.IgnoreMagic && r.header.Magic != FileMagic:
		return nil, errors.E(errors.BadSignature, r.path, fmt.Sprintf("magic %#x", r.header.Magic))
	case opts.RequireArchived && !r.header.Archived:
		return nil, errors.E(errors.NotArchived, r.path)
	case opts.RequireClosed && !r.header.Closed:
		return nil, errors.E(errors.ReaderNotClosed, r.path)
	case !opts.AllowNotClosed && !r.header.Closed && !r.header.Archived:
		return nil, errors.E(errors.ReaderNotClosed, r.path)
	}
	// Bytes past the header's position are indeterminate. A position
	// beyond the end of the file was mirrored by a writer that never
	// wrote the records behind it.
	if pos := r.header.Position; pos >= FileHeaderSize && pos < r.limit {
		r.limit = pos
	}
	return r, nil
}

// Header returns the segment's file header, as of the time the reader
// was opened.
func (r *Reader) Header() FileHeader {
	return r.header
}

// Path returns the path of the reader's segment.
func (r *Reader) Path() string {
	return r.path
}

// Limit returns the offset at which scans end.
func (r *Reader) Limit() int64 {
	return r.limit
}

// Close releases the reader's file.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return errors.E(errors.IO, "journal: close reader", r.path, err)
	}
	return nil
}

// Scan returns a scanner over the reader's records. Scanners are
// independent; a reader may be scanned any number of times.
func (r *Reader) Scan(opts EntryOptions) *Scanner {
	s := &Scanner{reader: r, opts: opts, pos: opts.Start}
	if s.pos == 0 {
		s.pos = FileHeaderSize
	}
	if s.pos < FileHeaderSize {
		s.err = errors.E(errors.Invalid, r.path, fmt.Sprintf("start %d is inside the file header", opts.Start))
		return s
	}
	if s.pos < r.limit {
		s.buf = bufio.NewReaderSize(io.NewSectionReader(r.file, s.pos, r.limit-s.pos), 1<<16)
	}
	return s
}

// ForEach calls fn for each record selected by opts, in order. It
// stops at the first error, returned by either the scan or fn.
func (r *Reader) ForEach(opts EntryOptions, fn func(*Entry) error) error {
	s := r.Scan(opts)
	for s.Scan() {
		if err := fn(s.Entry()); err != nil {
			return err
		}
	}
	return s.Err()
}

// Scanner scans the records of a segment sequentially. Scanning stops
// at the end of the segment or at the first failing record.
//
//	s := r.Scan(journal.EntryOptions{})
//	for s.Scan() {
//		e := s.Entry()
//		...
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
type Scanner struct {
	reader *Reader
	opts   EntryOptions
	buf    *bufio.Reader
	pos    int64
	entry  *Entry
	err    error
	hdr    [RecordHeaderSize]byte
}

// Scan advances to the next selected record. It returns false when
// the scan is done, either because the segment is exhausted or
// because of an error.
func (s *Scanner) Scan() bool {
	s.entry = nil
	for s.err == nil && s.pos < s.reader.limit {
		info, err := s.readHeader()
		if err != nil {
			s.err = err
			return false
		}
		if s.opts.Filter != nil && !s.opts.Filter(info) {
			if _, err := s.buf.Discard(int(info.Size) + ChecksumSize); err != nil {
				s.err = s.recordErr(errors.IO, info.Position, err.Error())
				return false
			}
			s.pos = info.End()
			continue
		}
		s.entry, s.err = s.readEntry(info)
		if s.err != nil {
			s.entry = nil
			return false
		}
		s.pos = info.End()
		return true
	}
	return false
}

func (s *Scanner) readHeader() (RecordInfo, error) {
	start := s.pos
	if s.reader.limit-start < RecordHeaderSize {
		return RecordInfo{}, s.recordErr(errors.RecordIntegrity, start, "truncated record header")
	}
	if _, err := io.ReadFull(s.buf, s.hdr[:]); err != nil {
		return RecordInfo{}, s.recordErr(errors.IO, start, err.Error())
	}
	h := DecodeRecordHeader(s.hdr[:])
	if !s.opts.IgnoreMagic && h.Magic != RecordMagic {
		return RecordInfo{}, s.recordErr(errors.RecordMagic, start, fmt.Sprintf("magic %#x", h.Magic))
	}
	if !s.opts.IgnoreIntegrity && !h.Committed {
		return RecordInfo{}, s.recordErr(errors.RecordIntegrity, start, "record is not committed")
	}
	info := RecordInfo{
		Position:    start,
		Size:        h.Size,
		Committed:   h.Committed,
		Processed:   h.Processed,
		ProcessedAt: h.ProcessedAt,
		Sequence:    h.Sequence,
		Timestamp:   h.Timestamp,
	}
	if info.End() > s.reader.limit {
		return RecordInfo{}, s.recordErr(errors.RecordIntegrity, start, fmt.Sprintf("truncated record: %d payload bytes", h.Size))
	}
	return info, nil
}

func (s *Scanner) readEntry(info RecordInfo) (*Entry, error) {
	e := &Entry{RecordInfo: info, Data: make([]byte, info.Size), Path: s.reader.path}
	if _, err := io.ReadFull(s.buf, e.Data); err != nil {
		return nil, s.recordErr(errors.IO, info.Position, err.Error())
	}
	var trailer [ChecksumSize]byte
	if _, err := io.ReadFull(s.buf, trailer[:]); err != nil {
		return nil, s.recordErr(errors.IO, info.Position, err.Error())
	}
	e.Checksum = byteOrder.Uint64(trailer[:])
	if !s.opts.SkipChecksum {
		if sum := uint64(Checksum(e.Data)); sum != e.Checksum {
			return nil, s.recordErr(errors.RecordChecksum, info.Position,
				fmt.Sprintf("checksum %d, stored %d", sum, e.Checksum))
		}
	}
	return e, nil
}

func (s *Scanner) recordErr(kind errors.Kind, pos int64, msg string) error {
	return errors.E(kind, msg, &PositionError{Path: s.reader.path, Position: pos})
}

// Entry returns the current entry. It is valid after Scan returns
// true, until the next call to Scan.
func (s *Scanner) Entry() *Entry {
	return s.entry
}

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}
