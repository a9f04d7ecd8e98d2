package filequeue

import (
	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/queue"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// Errors returned by Queue operations. Match them with errors.Is.
var (
	// ErrClosed is returned by every operation on a closed queue.
	ErrClosed = queue.ErrClosed

	// ErrLocked is returned by Open when another handle holds the directory.
	ErrLocked = queue.ErrLocked

	// ErrInvalidOptions wraps every option validation failure.
	ErrInvalidOptions = queue.ErrInvalidOptions

	// ErrNotDelivered is returned by Ack for a sequence not yet dequeued.
	ErrNotDelivered = queue.ErrNotDelivered

	// ErrPayloadTooLarge is returned when a payload exceeds MaxRecordSize.
	ErrPayloadTooLarge = queue.ErrPayloadTooLarge

	// ErrRecordTooLarge is returned when a record cannot fit an empty segment.
	ErrRecordTooLarge = queue.ErrRecordTooLarge

	// ErrEmptyBatch is returned by EnqueueBatch for an empty batch.
	ErrEmptyBatch = queue.ErrEmptyBatch

	// ErrInsufficientSpace is returned when free disk space is below MinFreeDiskSpace.
	ErrInsufficientSpace = queue.ErrInsufficientSpace

	// ErrCorruption matches corruption found in retained segments on Open.
	// The concrete error is a *CorruptionError.
	ErrCorruption = queue.ErrCorruption

	// ErrIntegrity marks a record or header that failed its length or
	// checksum check.
	ErrIntegrity = format.ErrIntegrity
)

// CorruptionError locates corruption in a segment file.
type CorruptionError = segment.CorruptionError

// DecodeError is returned by Dequeue and Peek for a record whose payload
// cannot be decompressed. Dequeue has already moved past the record.
type DecodeError = queue.DecodeError
