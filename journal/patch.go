// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journal

import (
	"fmt"
	"os"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/flock"
	"golang.org/x/sys/unix"
)

// MarkProcessed sets the processed state of the record at offset
// start of the segment at path, and returns the processed timestamp
// it stored: the current time in milliseconds if state is true, 0
// otherwise. If sync is true the patch is durable when MarkProcessed
// returns.
//
// MarkProcessed rewrites only the record's processed flag and
// timestamp, holding an exclusive lock over the record header, and
// may thus run concurrently with a writer appending to the segment.
// It fails with an error of kind IO if the lock is held, and of kind
// RecordMagic if start is not a record boundary.
func MarkProcessed(path string, start int64, state, sync bool) (at int64, err error) {
	if start < FileHeaderSize {
		return 0, errors.E(errors.Invalid, path, fmt.Sprintf("record offset %d is inside the file header", start))
	}
	flag := os.O_RDWR
	if sync {
		flag |= unix.O_DSYNC
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return 0, errors.E("journal.MarkProcessed", path, err)
	}
	defer errors.CleanUp(f.Close, &err)
	lock, err := flock.TryLockRange(f, flock.Exclusive, start, RecordHeaderSize)
	if err != nil {
		return 0, errors.E("journal.MarkProcessed", err)
	}
	defer errors.CleanUp(lock.Unlock, &err)
	var magic [1]byte
	if _, err := f.ReadAt(magic[:], start+offRecordMagic); err != nil {
		return 0, errors.E(errors.IO, "journal.MarkProcessed", path, fmt.Sprintf("offset %d", start), err)
	}
	if magic[0] != RecordMagic {
		return 0, errors.E(errors.RecordMagic, fmt.Sprintf("magic %#x", magic[0]), &PositionError{Path: path, Position: start})
	}
	if state {
		at = millis()
	}
	var b [processedPatchSize]byte
	encodeProcessed(b[:], state, at)
	if _, err := f.WriteAt(b[:], start+offProcessed); err != nil {
		return 0, errors.E(errors.IO, "journal.MarkProcessed", path, fmt.Sprintf("offset %d", start), err)
	}
	return at, nil
}
