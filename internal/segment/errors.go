package segment

import (
	"errors"
	"fmt"
)

var (
	// ErrSegmentFull is returned by Segment.Append when the record does not
	// fit in the remaining capacity. The manager handles it by rotating.
	ErrSegmentFull = errors.New("segment full")

	// ErrSealed is returned when appending to a sealed segment.
	ErrSealed = errors.New("segment sealed")

	// ErrNotFound is returned when a sequence or segment id is not held by
	// any retained segment.
	ErrNotFound = errors.New("segment not found")

	// ErrRecordTooLarge is returned when a record does not fit even an empty segment.
	ErrRecordTooLarge = errors.New("record too large for segment capacity")

	// ErrCorruption matches every *CorruptionError via errors.Is.
	ErrCorruption = errors.New("segment corruption")

	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("segment manager closed")
)

// CorruptionError reports unreadable data at a position where the log must
// be intact (anywhere but the tail of the newest segment).
type CorruptionError struct {
	SegmentID uint64
	Offset    uint64
	Err       error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt segment %d at offset %d: %v", e.SegmentID, e.Offset, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Is reports ErrCorruption as a match.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruption
}
