package format

import (
	"encoding/binary"
	"fmt"
)

// RecordHeaderSize is the size of the fixed record header in bytes.
// Layout: CRC(4) + Length(4) + Sequence(8) + Timestamp(8) + Flags(1) + Compression(1) + Reserved(2)
const RecordHeaderSize = 28

// MaxRecordPayload is the largest payload length a record header may carry.
const MaxRecordPayload = 1<<31 - 1

// Record flags
const (
	RecordFlagNone uint8 = 0
)

// Record is a single queue entry as stored in a segment file.
//
// Binary format (little-endian):
//
//	[CRC32C:4][Length:4][Sequence:8][Timestamp:8][Flags:1][Compression:1][Reserved:2][Payload:Length]
//
// The CRC covers every byte after the CRC field, so length, sequence and
// payload are all protected. Length is the stored (possibly compressed)
// payload size.
type Record struct {
	// Sequence is the per-queue, gap-free record number
	Sequence uint64

	// Timestamp is the Unix time in nanoseconds when the record was enqueued
	Timestamp int64

	// Flags is reserved for record properties
	Flags uint8

	// Compression is the codec applied to Payload
	Compression CompressionType

	// Payload is the stored payload bytes
	Payload []byte
}

// RecordSize returns the encoded size of a record carrying payloadLen bytes.
func RecordSize(payloadLen int) int {
	return RecordHeaderSize + payloadLen
}

// Size returns the encoded size of the record.
func (r *Record) Size() int {
	return RecordSize(len(r.Payload))
}

// Marshal encodes the record with its CRC32C checksum.
func (r *Record) Marshal() []byte {
	buf := make([]byte, r.Size())
	r.MarshalTo(buf)
	return buf
}

// MarshalTo encodes the record into buf, which must be at least Size() bytes.
// Returns the number of bytes written.
func (r *Record) MarshalTo(buf []byte) int {
	n := r.Size()
	_ = buf[n-1]

	binary.LittleEndian.PutUint32(buf[4:], uint32(len(r.Payload))) //nolint:gosec // G115: bounded by MaxRecordPayload
	binary.LittleEndian.PutUint64(buf[8:], r.Sequence)
	binary.LittleEndian.PutUint64(buf[16:], uint64(r.Timestamp)) //nolint:gosec // G115: Safe uint64 conversion
	buf[24] = r.Flags
	buf[25] = uint8(r.Compression)
	buf[26] = 0
	buf[27] = 0
	copy(buf[RecordHeaderSize:], r.Payload)

	binary.LittleEndian.PutUint32(buf[0:], ComputeCRC32C(buf[4:n]))
	return n
}

// PeekRecordLength returns the total encoded size announced by a record header.
// It only checks that the header is complete and the length is plausible;
// the checksum is verified by DecodeRecord.
func PeekRecordLength(header []byte) (int, error) {
	if len(header) < RecordHeaderSize {
		return 0, fmt.Errorf("%w: short record header (%d of %d bytes)", ErrIntegrity, len(header), RecordHeaderSize)
	}
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > MaxRecordPayload {
		return 0, fmt.Errorf("%w: record length %d exceeds limit", ErrIntegrity, length)
	}
	return RecordHeaderSize + int(length), nil
}

// DecodeRecord decodes the record at the start of buf.
// Returns the record and the number of bytes it occupies.
//
// A buffer shorter than the header, or shorter than the length the header
// announces, is reported as ErrIntegrity before the checksum is looked at.
// The returned payload is a copy and does not alias buf.
func DecodeRecord(buf []byte) (*Record, int, error) {
	size, err := PeekRecordLength(buf)
	if err != nil {
		return nil, 0, err
	}
	if len(buf) < size {
		return nil, 0, fmt.Errorf("%w: truncated record (%d of %d bytes)", ErrIntegrity, len(buf), size)
	}

	stored := binary.LittleEndian.Uint32(buf[0:4])
	computed := ComputeCRC32C(buf[4:size])
	if stored != computed {
		return nil, 0, fmt.Errorf("%w: record CRC mismatch: stored=%08x computed=%08x", ErrIntegrity, stored, computed)
	}

	rec := &Record{
		Sequence:    binary.LittleEndian.Uint64(buf[8:16]),
		Timestamp:   int64(binary.LittleEndian.Uint64(buf[16:24])), //nolint:gosec // G115: Safe int64 conversion
		Flags:       buf[24],
		Compression: CompressionType(buf[25]),
	}
	if payloadLen := size - RecordHeaderSize; payloadLen > 0 {
		rec.Payload = make([]byte, payloadLen)
		copy(rec.Payload, buf[RecordHeaderSize:size])
	}

	return rec, size, nil
}
