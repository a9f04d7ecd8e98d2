package queue

import (
	"errors"
	"fmt"

	"github.com/vnykmshr/filequeue/internal/cursor"
	"github.com/vnykmshr/filequeue/internal/segment"
)

var (
	// ErrClosed is returned by every operation on a closed queue.
	ErrClosed = errors.New("queue is closed")

	// ErrLocked is returned by Open when another handle holds the directory.
	ErrLocked = errors.New("queue directory is locked by another process")

	// ErrInvalidOptions wraps every option validation failure.
	ErrInvalidOptions = errors.New("invalid queue options")

	// ErrInsufficientSpace is returned when free disk space is below
	// Options.MinFreeDiskSpace.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrPayloadTooLarge is returned when a payload exceeds Options.MaxRecordSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum record size")

	// ErrEmptyBatch is returned by EnqueueBatch for an empty batch.
	ErrEmptyBatch = errors.New("batch cannot be empty")

	// ErrNotDelivered is returned by Ack for a sequence not yet dequeued.
	ErrNotDelivered = cursor.ErrNotDelivered

	// ErrRecordTooLarge is returned when an encoded record cannot fit an
	// empty segment.
	ErrRecordTooLarge = segment.ErrRecordTooLarge

	// ErrCorruption matches any corruption found in the retained log.
	ErrCorruption = segment.ErrCorruption
)

// DecodeError reports a record whose checksum is intact but whose payload
// cannot be decompressed. Dequeue moves the read position past it, so later
// records stay readable; it counts as delivered and is acknowledged by the
// next Ack that covers its sequence.
type DecodeError struct {
	Sequence uint64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decompress record %d: %v", e.Sequence, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
