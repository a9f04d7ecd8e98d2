package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetadataFileName is the name of the cursor metadata file inside a queue directory.
const MetadataFileName = "queue.meta"

// Position addresses a record inside the queue: the segment holding it, the
// byte offset of its header within the segment file, and its sequence.
type Position struct {
	SegmentID uint64 `json:"segment_id"`
	Offset    uint64 `json:"offset"`
	Sequence  uint64 `json:"sequence"`
}

// String returns a compact representation for logs.
func (p Position) String() string {
	return fmt.Sprintf("%d@%d:%d", p.Sequence, p.SegmentID, p.Offset)
}

// QueueMetadata is the durable cursor state of a queue, stored as JSON in
// MetadataFileName.
type QueueMetadata struct {
	// Version is the metadata format version
	Version uint16 `json:"version"`

	// QueueID identifies the queue across restarts and in archive keys
	QueueID string `json:"queue_id"`

	// NextSegmentID is the id the next created segment will take
	NextSegmentID uint64 `json:"next_segment_id"`

	// Committed is the first record not yet acknowledged
	Committed Position `json:"committed"`

	// UpdatedAt is the Unix timestamp (nanoseconds) of the last write
	UpdatedAt int64 `json:"updated_at"`
}

// NewQueueMetadata returns metadata for queueID stamped with the current time.
func NewQueueMetadata(queueID string) *QueueMetadata {
	return &QueueMetadata{
		Version:   CurrentVersion,
		QueueID:   queueID,
		UpdatedAt: time.Now().UnixNano(),
	}
}

// Validate checks the invariants a stored cursor must satisfy.
func (m *QueueMetadata) Validate() error {
	switch {
	case m.Version == 0 || m.Version > CurrentVersion:
		return fmt.Errorf("unsupported metadata version %d (current %d)", m.Version, CurrentVersion)
	case m.QueueID == "":
		return errors.New("missing queue id")
	case m.Committed.Offset != 0 && m.Committed.Offset < SegmentHeaderSize:
		return fmt.Errorf("committed offset %d inside segment header", m.Committed.Offset)
	case m.NextSegmentID != 0 && m.NextSegmentID <= m.Committed.SegmentID:
		return fmt.Errorf("committed segment %d not below next segment id %d", m.Committed.SegmentID, m.NextSegmentID)
	}
	return nil
}

// ReadMetadata reads and validates the metadata file at path.
func ReadMetadata(path string) (*QueueMetadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: queue directory is caller supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	var meta QueueMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return &meta, nil
}

// WriteMetadata replaces the metadata file at path so that a crash leaves
// either the previous or the new contents, never a mix: the JSON goes to a
// sibling .tmp file, is fsynced, renamed over path, and the directory is
// fsynced to make the rename durable.
func WriteMetadata(path string, meta *QueueMetadata) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tmp := path + ".tmp"
	if err := writeSynced(tmp, data); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}
	if err := SyncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // G304: queue directory is caller supplied
	if err != nil {
		return fmt.Errorf("failed to create temporary metadata file: %w", err)
	}
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// SyncDir fsyncs a directory so that file creations, renames and removals
// inside it are durable.
func SyncDir(path string) error {
	d, err := os.Open(path) //nolint:gosec // G304: queue directory is caller supplied
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	return d.Sync()
}
