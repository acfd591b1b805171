// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package journal

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"time"

	"github.com/grailbio/journaldb/must"
)

const (
	// FileHeaderSize is the size of the segment file header; the
	// first record begins at this offset.
	FileHeaderSize = 100
	// RecordHeaderSize is the size of the fixed record header.
	RecordHeaderSize = 48
	// ChecksumSize is the size of the record checksum trailer.
	ChecksumSize = 8

	// FileMagic begins every segment.
	FileMagic byte = 'j'
	// RecordMagic begins every record.
	RecordMagic byte = 'r'

	// MaxPayload is the largest payload a record may carry.
	MaxPayload = math.MaxInt32
)

// File header offsets.
const (
	offFileMagic  = 0
	offArchived   = 1
	offClosed     = 2
	offCreatedAt  = 3
	offArchivedAt = 11
	offSequence   = 19
	offPosition   = 27
	offReserved   = 35
)

// Record header offsets, relative to the record start.
const (
	offRecordMagic    = 0
	offIntegrity      = 1
	offSize           = 2
	offRecordSequence = 6
	offTimestamp      = 14
	offProcessed      = 22
	offProcessedAt    = 23
	offRecordReserved = 31

	// processedPatchSize is the size of the processed flag and
	// timestamp, which are rewritten in place.
	processedPatchSize = 9
)

var byteOrder = binary.BigEndian

// now returns the wall clock used for creation, allocation, archive
// and processed timestamps.
var now = time.Now

func millis() int64 {
	return now().UnixNano() / int64(time.Millisecond)
}

// FileHeader is the decoded segment file header.
type FileHeader struct {
	Magic byte
	// Archived is set once the segment is retired; archived segments
	// never accept appends.
	Archived bool
	// Closed is set when the segment's writer closed gracefully.
	Closed bool
	// CreatedAt and ArchivedAt are in milliseconds since the epoch.
	CreatedAt, ArchivedAt int64
	// Sequence is the next record sequence number: the number of
	// records allocated in the segment.
	Sequence uint64
	// Position is the offset at which the next record is allocated.
	Position int64
}

// Encode writes the header into the first FileHeaderSize bytes of p.
// Reserved bytes are zeroed.
func (h *FileHeader) Encode(p []byte) {
	_ = p[FileHeaderSize-1]
	p[offFileMagic] = h.Magic
	p[offArchived] = encodeBool(h.Archived)
	p[offClosed] = encodeBool(h.Closed)
	byteOrder.PutUint64(p[offCreatedAt:], uint64(h.CreatedAt))
	byteOrder.PutUint64(p[offArchivedAt:], uint64(h.ArchivedAt))
	byteOrder.PutUint64(p[offSequence:], h.Sequence)
	byteOrder.PutUint64(p[offPosition:], uint64(h.Position))
	zero(p[offReserved:FileHeaderSize])
}

// DecodeFileHeader decodes the file header stored in the first
// FileHeaderSize bytes of p. It does not validate the header.
func DecodeFileHeader(p []byte) FileHeader {
	_ = p[FileHeaderSize-1]
	return FileHeader{
		Magic:      p[offFileMagic],
		Archived:   p[offArchived] == 1,
		Closed:     p[offClosed] == 1,
		CreatedAt:  int64(byteOrder.Uint64(p[offCreatedAt:])),
		ArchivedAt: int64(byteOrder.Uint64(p[offArchivedAt:])),
		Sequence:   byteOrder.Uint64(p[offSequence:]),
		Position:   int64(byteOrder.Uint64(p[offPosition:])),
	}
}

// RecordHeader is the decoded fixed-size record header.
type RecordHeader struct {
	Magic byte
	// Committed is the integrity flag: it is set only after the whole
	// record has been written.
	Committed bool
	// Size is the payload size.
	Size uint32
	// Sequence is the record's sequence number within its segment.
	Sequence uint64
	// Timestamp is the allocation time in milliseconds.
	Timestamp int64
	// Processed and ProcessedAt carry consumer acknowledgement.
	Processed   bool
	ProcessedAt int64
}

// Encode writes the header into the first RecordHeaderSize bytes of
// p. Reserved bytes are zeroed.
func (h *RecordHeader) Encode(p []byte) {
	_ = p[RecordHeaderSize-1]
	p[offRecordMagic] = h.Magic
	p[offIntegrity] = encodeBool(h.Committed)
	byteOrder.PutUint32(p[offSize:], h.Size)
	byteOrder.PutUint64(p[offRecordSequence:], h.Sequence)
	byteOrder.PutUint64(p[offTimestamp:], uint64(h.Timestamp))
	encodeProcessed(p[offProcessed:], h.Processed, h.ProcessedAt)
	zero(p[offRecordReserved:RecordHeaderSize])
}

// DecodeRecordHeader decodes the record header stored in the first
// RecordHeaderSize bytes of p. It does not validate the header.
func DecodeRecordHeader(p []byte) RecordHeader {
	_ = p[RecordHeaderSize-1]
	return RecordHeader{
		Magic:       p[offRecordMagic],
		Committed:   p[offIntegrity] == 1,
		Size:        byteOrder.Uint32(p[offSize:]),
		Sequence:    byteOrder.Uint64(p[offRecordSequence:]),
		Timestamp:   int64(byteOrder.Uint64(p[offTimestamp:])),
		Processed:   p[offProcessed] == 1,
		ProcessedAt: int64(byteOrder.Uint64(p[offProcessedAt:])),
	}
}

// RecordSize returns the on-disk size of a record carrying n payload
// bytes.
func RecordSize(n int) int64 {
	return RecordHeaderSize + int64(n) + ChecksumSize
}

// Checksum returns the CRC-32 (IEEE) of the payload.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// AppendRecord appends the encoded record (header, payload and
// checksum trailer) to p. The header's Size is taken from the
// payload.
func AppendRecord(p []byte, h RecordHeader, payload []byte) []byte {
	must.Truef(len(payload) <= MaxPayload, "journal: payload of %d bytes", len(payload))
	off := len(p)
	size := int(RecordSize(len(payload)))
	if cap(p)-off < size {
		q := make([]byte, off, off+size)
		copy(q, p)
		p = q
	}
	p = p[:off+size]
	h.Size = uint32(len(payload))
	h.Encode(p[off:])
	copy(p[off+RecordHeaderSize:], payload)
	byteOrder.PutUint64(p[off+RecordHeaderSize+len(payload):], uint64(Checksum(payload)))
	return p
}

func encodeProcessed(p []byte, processed bool, at int64) {
	p[0] = encodeBool(processed)
	byteOrder.PutUint64(p[1:], uint64(at))
}

func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
