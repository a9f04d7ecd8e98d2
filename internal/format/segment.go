package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// SegmentMagic identifies filequeue segment files ("FQSG").
const SegmentMagic uint32 = 0x46515347

// CurrentVersion is the on-disk format version written by this package.
const CurrentVersion uint16 = 1

// SegmentHeaderSize is the fixed size of the segment header. Records start
// immediately after it.
const SegmentHeaderSize = 64

// Field offsets inside the segment header. Bytes between hdrCreatedAt+8 and
// hdrCRC are reserved and written as zero.
const (
	hdrMagic     = 0
	hdrVersion   = 4
	hdrFlags     = 6
	hdrSegmentID = 8
	hdrBaseSeq   = 16
	hdrCapacity  = 24
	hdrCreatedAt = 32
	hdrCRC       = SegmentHeaderSize - 4
)

// SegmentHeader is the fixed 64-byte preamble of a segment file.
//
//	[Magic:4][Version:2][Flags:2][SegmentID:8][BaseSequence:8]
//	[Capacity:8][CreatedAt:8][Reserved:20][HeaderCRC:4]
//
// All integers are little-endian. HeaderCRC is the CRC32C of the first 60 bytes.
type SegmentHeader struct {
	Magic   uint32
	Version uint16
	Flags   uint16

	// SegmentID is the id the segment file is named after
	SegmentID uint64

	// BaseSequence is the sequence of the first record in the segment
	BaseSequence uint64

	// Capacity is the maximum segment file size, header included
	Capacity uint64

	// CreatedAt is the creation time in Unix nanoseconds
	CreatedAt int64

	// HeaderCRC is filled in by Marshal and DecodeSegmentHeader
	HeaderCRC uint32
}

// NewSegmentHeader returns a header for a segment created at createdAt.
func NewSegmentHeader(id, baseSequence, capacity uint64, createdAt int64) *SegmentHeader {
	return &SegmentHeader{
		Magic:        SegmentMagic,
		Version:      CurrentVersion,
		SegmentID:    id,
		BaseSequence: baseSequence,
		Capacity:     capacity,
		CreatedAt:    createdAt,
	}
}

// Marshal encodes the header and records its checksum in h.HeaderCRC.
func (h *SegmentHeader) Marshal() []byte {
	buf := make([]byte, SegmentHeaderSize)
	le := binary.LittleEndian

	le.PutUint32(buf[hdrMagic:], h.Magic)
	le.PutUint16(buf[hdrVersion:], h.Version)
	le.PutUint16(buf[hdrFlags:], h.Flags)
	le.PutUint64(buf[hdrSegmentID:], h.SegmentID)
	le.PutUint64(buf[hdrBaseSeq:], h.BaseSequence)
	le.PutUint64(buf[hdrCapacity:], h.Capacity)
	le.PutUint64(buf[hdrCreatedAt:], uint64(h.CreatedAt)) //nolint:gosec // G115: bit pattern preserved

	h.HeaderCRC = ComputeCRC32C(buf[:hdrCRC])
	le.PutUint32(buf[hdrCRC:], h.HeaderCRC)
	return buf
}

// DecodeSegmentHeader decodes a segment header from buf.
//
// A short buffer or a checksum mismatch is reported as ErrIntegrity: the
// header was never completely written. Field values are not validated.
func DecodeSegmentHeader(buf []byte) (*SegmentHeader, error) {
	if len(buf) < SegmentHeaderSize {
		return nil, fmt.Errorf("%w: short segment header (%d of %d bytes)", ErrIntegrity, len(buf), SegmentHeaderSize)
	}

	le := binary.LittleEndian
	stored := le.Uint32(buf[hdrCRC:])
	if computed := ComputeCRC32C(buf[:hdrCRC]); stored != computed {
		return nil, fmt.Errorf("%w: segment header checksum %08x, want %08x", ErrIntegrity, stored, computed)
	}

	return &SegmentHeader{
		Magic:        le.Uint32(buf[hdrMagic:]),
		Version:      le.Uint16(buf[hdrVersion:]),
		Flags:        le.Uint16(buf[hdrFlags:]),
		SegmentID:    le.Uint64(buf[hdrSegmentID:]),
		BaseSequence: le.Uint64(buf[hdrBaseSeq:]),
		Capacity:     le.Uint64(buf[hdrCapacity:]),
		CreatedAt:    int64(le.Uint64(buf[hdrCreatedAt:])), //nolint:gosec // G115: bit pattern preserved
		HeaderCRC:    stored,
	}, nil
}

// UnmarshalSegmentHeader reads a header from r. A reader that ends early
// yields ErrIntegrity rather than an I/O error.
func UnmarshalSegmentHeader(r io.Reader) (*SegmentHeader, error) {
	buf := make([]byte, SegmentHeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read segment header: %w", err)
	}
	return DecodeSegmentHeader(buf[:n])
}

// ReadSegmentHeader reads and validates the header of the segment file at path.
func ReadSegmentHeader(path string) (*SegmentHeader, error) {
	f, err := os.Open(path) //nolint:gosec // G304: queue directory is caller supplied
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	h, err := UnmarshalSegmentHeader(f)
	if err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate checks the fields a decoded header must satisfy to be usable.
func (h *SegmentHeader) Validate() error {
	switch {
	case h.Magic != SegmentMagic:
		return fmt.Errorf("not a segment file: magic %08x", h.Magic)
	case h.Version == 0 || h.Version > CurrentVersion:
		return fmt.Errorf("unsupported segment version %d (current %d)", h.Version, CurrentVersion)
	case h.Capacity < SegmentHeaderSize+RecordHeaderSize:
		return fmt.Errorf("segment capacity %d cannot hold a record", h.Capacity)
	}
	return nil
}
