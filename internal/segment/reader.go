package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/vnykmshr/filequeue/internal/format"
)

// ReadAt returns the encoded record starting at offset.
//
// Returns io.EOF when offset is at or past the published write offset.
// Bytes past the write offset are never read, so a concurrent append is
// either fully visible or not at all.
func (s *Segment) ReadAt(offset uint64) ([]byte, error) {
	end := s.writeOffset.Load()
	if offset >= end {
		return nil, io.EOF
	}
	if offset < format.SegmentHeaderSize || offset+format.RecordHeaderSize > end {
		return nil, &CorruptionError{SegmentID: s.id, Offset: offset,
			Err: fmt.Errorf("%w: offset not on a record boundary", format.ErrIntegrity)}
	}

	var hdr [format.RecordHeaderSize]byte
	if _, err := s.file.ReadAt(hdr[:], int64(offset)); err != nil { //nolint:gosec // G115: offset bounded by write offset
		return nil, fmt.Errorf("failed to read record header: %w", err)
	}

	size, err := format.PeekRecordLength(hdr[:])
	if err != nil {
		return nil, &CorruptionError{SegmentID: s.id, Offset: offset, Err: err}
	}
	if offset+uint64(size) > end {
		return nil, &CorruptionError{SegmentID: s.id, Offset: offset,
			Err: fmt.Errorf("%w: record overruns segment end", format.ErrIntegrity)}
	}

	buf := make([]byte, size)
	copy(buf, hdr[:])
	if size > format.RecordHeaderSize {
		if _, err := s.file.ReadAt(buf[format.RecordHeaderSize:], int64(offset)+format.RecordHeaderSize); err != nil { //nolint:gosec // G115: offset bounded by write offset
			return nil, fmt.Errorf("failed to read record payload: %w", err)
		}
	}

	return buf, nil
}

// RecordSizeAt returns the encoded size of the record at offset, reading
// only its header. The checksum is not verified.
func (s *Segment) RecordSizeAt(offset uint64) (int, error) {
	end := s.writeOffset.Load()
	if offset >= end {
		return 0, io.EOF
	}
	if offset < format.SegmentHeaderSize || offset+format.RecordHeaderSize > end {
		return 0, &CorruptionError{SegmentID: s.id, Offset: offset,
			Err: fmt.Errorf("%w: offset not on a record boundary", format.ErrIntegrity)}
	}

	var hdr [format.RecordHeaderSize]byte
	if _, err := s.file.ReadAt(hdr[:], int64(offset)); err != nil { //nolint:gosec // G115: offset bounded by write offset
		return 0, fmt.Errorf("failed to read record header: %w", err)
	}
	n, err := format.PeekRecordLength(hdr[:])
	if err != nil {
		return 0, &CorruptionError{SegmentID: s.id, Offset: offset, Err: err}
	}
	if offset+uint64(n) > end {
		return 0, &CorruptionError{SegmentID: s.id, Offset: offset,
			Err: fmt.Errorf("%w: record overruns segment end", format.ErrIntegrity)}
	}
	return n, nil
}

// ReadRecord reads and decodes the record at offset.
// Returns the record and the number of bytes it occupies.
func (s *Segment) ReadRecord(offset uint64) (*format.Record, int, error) {
	buf, err := s.ReadAt(offset)
	if err != nil {
		return nil, 0, err
	}

	rec, n, err := format.DecodeRecord(buf)
	if err != nil {
		return nil, 0, &CorruptionError{SegmentID: s.id, Offset: offset, Err: err}
	}
	return rec, n, nil
}

// ScanResult describes the intact prefix of a segment file.
type ScanResult struct {
	// End is the offset just past the last intact record
	End uint64

	// Records is the number of intact records
	Records uint64

	// FileSize is the size of the file when the scan started
	FileSize uint64

	// Err is the integrity failure that stopped the scan before FileSize,
	// or nil if every byte belonged to an intact record
	Err error
}

// Torn reports whether the scan stopped before the end of the file.
func (r ScanResult) Torn() bool {
	return r.Err != nil
}

// Scan reads the file sequentially from the first record, ignoring the
// published write offset, and stops at the first record that fails the
// length, checksum or sequence check. visit is called for every intact
// record; an error from visit aborts the scan and is returned as is.
func (s *Segment) Scan(visit func(offset uint64, rec *format.Record) error) (ScanResult, error) {
	info, err := s.file.Stat()
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to stat segment %d: %w", s.id, err)
	}

	size := uint64(info.Size()) //nolint:gosec // G115: file sizes are non-negative
	res := ScanResult{End: format.SegmentHeaderSize, FileSize: size}
	if size <= format.SegmentHeaderSize {
		return res, nil
	}

	r := bufio.NewReaderSize(io.NewSectionReader(s.file, format.SegmentHeaderSize, int64(size)-format.SegmentHeaderSize), 64*1024) //nolint:gosec // G115: size checked above
	var hdr [format.RecordHeaderSize]byte

	for res.End < size {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				res.Err = fmt.Errorf("%w: short record header", format.ErrIntegrity)
				return res, nil
			}
			return res, fmt.Errorf("failed to read segment %d: %w", s.id, err)
		}

		n, err := format.PeekRecordLength(hdr[:])
		if err != nil {
			res.Err = err
			return res, nil
		}
		if res.End+uint64(n) > size {
			res.Err = fmt.Errorf("%w: record length %d overruns file", format.ErrIntegrity, n-format.RecordHeaderSize)
			return res, nil
		}

		buf := make([]byte, n)
		copy(buf, hdr[:])
		if _, err := io.ReadFull(r, buf[format.RecordHeaderSize:]); err != nil {
			return res, fmt.Errorf("failed to read segment %d: %w", s.id, err)
		}

		rec, _, err := format.DecodeRecord(buf)
		if err != nil {
			res.Err = err
			return res, nil
		}
		if want := s.baseSeq + res.Records; rec.Sequence != want {
			res.Err = fmt.Errorf("%w: sequence %d, want %d", format.ErrIntegrity, rec.Sequence, want)
			return res, nil
		}

		if visit != nil {
			if err := visit(res.End, rec); err != nil {
				return res, err
			}
		}

		res.End += uint64(n)
		res.Records++
	}

	return res, nil
}
