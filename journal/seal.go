// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journal

import (
	"fmt"
	"os"

	"github.com/grailbio/journaldb/errors"
	"github.com/grailbio/journaldb/internal/mmap"
	"github.com/grailbio/journaldb/log"
)

// Seal archives a segment whose writer crashed. It scans every
// parseable record, restores the header counters from the committed
// ones (the next sequence follows the greatest committed sequence and
// the position follows the last committed record) and then archives
// the segment. Torn records past the last committed one are thereby
// excluded from reads.
//
// The scan stops at the first record it cannot parse, such as space
// allocated to an append that never wrote its header. Records past
// that point cannot be located, so they are excluded from reads even
// if committed; Seal logs the number of bytes so dropped.
//
// Seal returns the sealed header. Sealing an archived segment
// returns its header unchanged. Seal must not be called on a segment
// that has a live writer.
func Seal(path string) (header FileHeader, err error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return FileHeader{}, errors.E("journal.Seal", path, err)
	}
	defer errors.CleanUp(f.Close, &err)
	info, err := f.Stat()
	if err != nil {
		return FileHeader{}, errors.E("journal.Seal", path, err)
	}
	if info.Size() < FileHeaderSize {
		return FileHeader{}, errors.E(errors.BadMagic, path, fmt.Sprintf("short header: %d bytes", info.Size()))
	}
	region, err := mmap.Map(f, FileHeaderSize)
	if err != nil {
		return FileHeader{}, err
	}
	defer errors.CleanUp(region.Close, &err)
	header = DecodeFileHeader(region.Bytes())
	if header.Magic != FileMagic {
		return FileHeader{}, errors.E(errors.BadMagic, path, fmt.Sprintf("magic %#x", header.Magic))
	}
	if header.Archived {
		return header, nil
	}

	// Scan to the end of the file rather than the header's position:
	// the header may be stale.
	r := &Reader{path: path, file: f, header: header, limit: info.Size()}
	var (
		n    uint64
		torn int
	)
	// end follows the last committed record, and scanned the last
	// parsed one.
	end := int64(FileHeaderSize)
	scanned := end
	s := r.Scan(EntryOptions{
		IgnoreIntegrity: true,
		Filter: func(info RecordInfo) bool {
			scanned = info.End()
			if !info.Committed {
				torn++
				return false
			}
			if info.Sequence+1 > n {
				n = info.Sequence + 1
			}
			end = info.End()
			return false
		},
	})
	for s.Scan() {
	}
	if err := s.Err(); err != nil {
		if lost := info.Size() - scanned; lost > 0 {
			log.Error.Printf("journal: seal %s: dropping %d bytes past offset %d: %v", path, lost, scanned, err)
		} else {
			log.Debug.Printf("journal: seal %s: scan stopped: %v", path, err)
		}
	}
	header.Sequence = n
	header.Position = end
	header.Archived = true
	header.ArchivedAt = millis()
	header.Encode(region.Bytes())
	if err := region.Sync(); err != nil {
		return FileHeader{}, err
	}
	log.Printf("journal: sealed %s: sequence %d, position %d, %d torn records", path, header.Sequence, header.Position, torn)
	return header, nil
}
