package queue

import (
	"fmt"

	"github.com/vnykmshr/filequeue/internal/format"
)

// validatePayloadSize checks a payload of n bytes against the configured
// maximum. A maximum of zero still applies the record format's own limit,
// since a longer payload cannot be encoded in a record header.
func validatePayloadSize(n, maxSize int64) error {
	limit := int64(format.MaxRecordPayload)
	if maxSize > 0 && maxSize < limit {
		limit = maxSize
	}

	if n > limit {
		return fmt.Errorf("%w: %d bytes, maximum %d", ErrPayloadTooLarge, n, limit)
	}

	return nil
}

// checkDiskSpace returns ErrInsufficientSpace when the filesystem holding
// dir has less than minFreeSpace bytes available.
func checkDiskSpace(dir string, minFreeSpace int64) error {
	if minFreeSpace == 0 {
		return nil
	}

	available, err := availableBytes(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}
	if available < uint64(minFreeSpace) {
		return fmt.Errorf("%w: %d bytes available, %d bytes required",
			ErrInsufficientSpace, available, minFreeSpace)
	}
	return nil
}
