// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journal

import (
	"fmt"
	"time"
)

// RecordInfo is the metadata of a record, as decoded from its header.
// It is offered to entry filters before the payload is read.
type RecordInfo struct {
	// Position is the offset of the record in its segment.
	Position int64
	// Size is the payload size.
	Size uint32
	// Committed is the record's integrity flag.
	Committed bool
	// Processed and ProcessedAt carry the record's processed state;
	// ProcessedAt is in milliseconds since the epoch, or 0.
	Processed   bool
	ProcessedAt int64
	// Sequence is the record's sequence number within its segment.
	Sequence uint64
	// Timestamp is the record's allocation time, in milliseconds.
	Timestamp int64
}

// End returns the offset just past the record.
func (i RecordInfo) End() int64 {
	return i.Position + RecordSize(int(i.Size))
}

// Time returns the record's allocation time.
func (i RecordInfo) Time() time.Time {
	return msTime(i.Timestamp)
}

// Entry is a record read from a segment.
type Entry struct {
	RecordInfo
	// Data is the record payload. It is owned by the caller.
	Data []byte
	// Checksum is the stored checksum trailer.
	Checksum uint64
	// Path is the path of the entry's segment.
	Path string
}

// MarkProcessed sets the processed state of the entry's record in
// place, and updates the entry to match. See MarkProcessed.
func (e *Entry) MarkProcessed(state, sync bool) error {
	at, err := MarkProcessed(e.Path, e.Position, state, sync)
	if err != nil {
		return err
	}
	e.Processed, e.ProcessedAt = state, at
	return nil
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s@%d: seq %d, %d bytes", e.Path, e.Position, e.Sequence, len(e.Data))
}

// PositionError is the cause of record-level read errors. It
// identifies the offending record, and is reachable with errors.As.
type PositionError struct {
	Path string
	// Position is the offset of the record.
	Position int64
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("%s: record at offset %d", e.Path, e.Position)
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
