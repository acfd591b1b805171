// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package journal implements journal segments: append-only files of
// variable-length records with per-record integrity flags, CRC-32
// checksums and mutable "processed" metadata. A segment is owned by
// at most one Writer; any number of Readers may scan it concurrently.
//
// Data layout
//
// A segment is a fixed 100-byte file header followed by records, in
// allocation order. All integers are big-endian.
//
//	header :=
//		magic uint8          // 'j'
//		archived uint8       // 1 once the segment is retired
//		closed uint8         // 1 once the segment is closed gracefully
//		createdAt int64      // milliseconds since the epoch
//		archivedAt int64     // milliseconds since the epoch, or 0
//		sequence uint64      // the next record sequence number
//		position int64       // the offset of the next record
//		reserved [65]uint8
//
//	record :=
//		magic uint8          // 'r'
//		integrity uint8      // 1 once the record is fully written
//		size uint32          // payload size n
//		sequence uint64
//		timestamp int64      // allocation time, milliseconds
//		processed uint8      // mutable
//		processedAt int64    // mutable; 0 unless processed
//		reserved [17]uint8
//		payload [n]uint8
//		checksum uint64      // CRC-32 (IEEE) of payload in the low 32 bits
//
// Appends
//
// An append allocates its sequence number and byte range under a
// short critical section, mirroring the counters into the mapped
// header. It then writes the record with integrity 0 through its own
// handle, holding a shared lock over its range, and commits it by
// setting the integrity byte. Records may thus become durable out of
// allocation order: readers treat records with integrity 0 as torn.
//
// Processed state
//
// MarkProcessed patches the processed flag and timestamp of a record
// in place, holding an exclusive lock over the record header. It
// never touches payloads, checksums or counters, and so is safe
// against an active writer.
package journal
