package recovery

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/segment"
)

func TestRecover_EmptyDirectory(t *testing.T) {
	st, err := recoverDir(t, t.TempDir(), nil)
	require.NoError(t, err)

	assert.Empty(t, st.Segments)
	assert.Equal(t, format.Position{SegmentID: 0, Offset: format.SegmentHeaderSize, Sequence: 0}, st.Committed)
	assert.Equal(t, uint64(0), st.NextSequence)
	assert.Equal(t, uint64(0), st.NextSegmentID)
	assert.NotEmpty(t, st.QueueID)
	assert.True(t, st.Dirty)
	assert.False(t, st.MetadataReset)
}

func TestRecover_MetadataWithoutSegments(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, format.Position{SegmentID: 4, Offset: 200, Sequence: 17}, 5)

	st, err := recoverDir(t, dir, nil)
	require.NoError(t, err)

	assert.Equal(t, "queue-under-test", st.QueueID)
	assert.Equal(t, uint64(17), st.NextSequence)
	assert.Equal(t, uint64(5), st.NextSegmentID)
	assert.Equal(t, format.Position{SegmentID: 5, Offset: format.SegmentHeaderSize, Sequence: 17}, st.Committed)
	assert.True(t, st.Dirty)
}

func TestRecover_RebuildsSegments(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 8) // segments 0..2 holding 3, 3, 2 records
	writeMeta(t, dir, format.Position{SegmentID: 1, Offset: recordOffset(1), Sequence: 4}, 3)

	st, err := recoverDir(t, dir, nil)
	require.NoError(t, err)

	require.Len(t, st.Segments, 3)
	for i, seg := range st.Segments {
		assert.Equal(t, uint64(i*perSegment), seg.BaseSequence()) //nolint:gosec // G115: test values
		assert.Equal(t, i < 2, seg.IsSealed(), "segment %d", i)
	}
	assert.Equal(t, uint64(2), st.Segments[2].Count())
	assert.Equal(t, uint64(8), st.NextSequence)
	assert.Equal(t, uint64(3), st.NextSegmentID)
	assert.Equal(t, format.Position{SegmentID: 1, Offset: recordOffset(1), Sequence: 4}, st.Committed)
	assert.Equal(t, "queue-under-test", st.QueueID)
	assert.Equal(t, 2*recordOffset(perSegment)+recordOffset(2), st.RecoveredBytes)
	assert.False(t, st.Dirty)
	assert.False(t, st.MetadataReset)
	assert.Zero(t, st.TruncatedBytes)

	// The newest segment accepts appends again.
	_, err = st.Segments[2].Append(encode(8))
	require.NoError(t, err)
}

func TestRecover_CommittedAtSegmentEnd(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 5)
	tail := format.Position{SegmentID: 1, Offset: recordOffset(2), Sequence: 5}
	writeMeta(t, dir, tail, 2)

	st, err := recoverDir(t, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, tail, st.Committed)
	assert.False(t, st.MetadataReset)
}

func TestRecover_TruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 5)
	writeMeta(t, dir, format.Position{SegmentID: 0, Offset: format.SegmentHeaderSize, Sequence: 0}, 2)

	torn := encode(5)[:20]
	appendBytes(t, segmentPath(dir, 1), torn)

	var logs bytes.Buffer
	st, err := recoverDir(t, dir, logging.NewWriterLogger(&logs, logging.LevelWarn))
	require.NoError(t, err)

	assert.Equal(t, uint64(len(torn)), st.TruncatedBytes)
	assert.Equal(t, uint64(5), st.NextSequence)
	assert.Equal(t, recordOffset(2), st.Segments[1].WriteOffset())
	assert.Contains(t, logs.String(), "truncating torn tail")

	info, err := os.Stat(segmentPath(dir, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(recordOffset(2)), info.Size()) //nolint:gosec // G115: test values
}

func TestRecover_TruncatesCorruptTailRecord(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 5)

	// Flip a payload byte of the last record: the checksum no longer matches.
	path := segmentPath(dir, 1)
	data, err := os.ReadFile(path) //nolint:gosec // G304: test path
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644)) //nolint:gosec // G306: test file

	st, err := recoverDir(t, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.NextSequence)
	assert.Equal(t, uint64(format.RecordSize(payloadLen)), st.TruncatedBytes)
}

func TestRecover_CorruptSealedSegment(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 8)

	path := segmentPath(dir, 0)
	data, err := os.ReadFile(path) //nolint:gosec // G304: test path
	require.NoError(t, err)
	data[recordOffset(1)+format.RecordHeaderSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644)) //nolint:gosec // G306: test file

	st, err := recoverDir(t, dir, nil)
	require.Error(t, err)
	assert.Nil(t, st)
	assert.ErrorIs(t, err, segment.ErrCorruption)
	assert.ErrorIs(t, err, format.ErrIntegrity)

	var ce *segment.CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(0), ce.SegmentID)
	assert.Equal(t, recordOffset(1), ce.Offset)
}

func TestRecover_SequenceGapIsCorruption(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 8)
	require.NoError(t, os.Remove(segmentPath(dir, 1)))

	_, err := recoverDir(t, dir, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, segment.ErrCorruption)
}

func TestRecover_DiscardsTornNewestHeader(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 5)
	require.NoError(t, os.WriteFile(segmentPath(dir, 2), []byte("FQSG"), 0644)) //nolint:gosec // G306: test file

	st, err := recoverDir(t, dir, nil)
	require.NoError(t, err)

	require.Len(t, st.Segments, 2)
	assert.Equal(t, uint64(5), st.NextSequence)
	_, err = os.Stat(segmentPath(dir, 2))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRecover_TornHeaderInOlderSegmentIsCorruption(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 5)
	require.NoError(t, os.Truncate(segmentPath(dir, 0), 10))

	_, err := recoverDir(t, dir, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, segment.ErrCorruption)
}

func TestRecover_MissingMetadataResets(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 5)

	var logs bytes.Buffer
	st, err := recoverDir(t, dir, logging.NewWriterLogger(&logs, logging.LevelWarn))
	require.NoError(t, err)

	assert.Equal(t, format.Position{SegmentID: 0, Offset: format.SegmentHeaderSize, Sequence: 0}, st.Committed)
	assert.True(t, st.MetadataReset)
	assert.True(t, st.Dirty)
	assert.NotEmpty(t, st.QueueID)
	assert.Contains(t, logs.String(), "resetting committed position")
}

func TestRecover_UnreadableMetadataResets(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, format.MetadataFileName), []byte("{not json"), 0644)) //nolint:gosec // G306: test file

	st, err := recoverDir(t, dir, nil)
	require.NoError(t, err)
	assert.True(t, st.MetadataReset)
	assert.Equal(t, uint64(0), st.Committed.Sequence)
}

func TestRecover_CommittedNotOnBoundaryResets(t *testing.T) {
	tests := []struct {
		name      string
		committed format.Position
	}{
		{"wrong sequence", format.Position{SegmentID: 0, Offset: format.SegmentHeaderSize, Sequence: 2}},
		{"mid record", format.Position{SegmentID: 0, Offset: recordOffset(1) + 3, Sequence: 1}},
		{"sealed segment overrun", format.Position{SegmentID: 0, Offset: recordOffset(perSegment) + 1, Sequence: 3}},
		{"end with wrong sequence", format.Position{SegmentID: 1, Offset: recordOffset(2), Sequence: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			buildQueue(t, dir, 5)
			writeMeta(t, dir, tt.committed, 2)

			st, err := recoverDir(t, dir, nil)
			require.NoError(t, err)
			assert.True(t, st.MetadataReset)
			assert.Equal(t, format.Position{SegmentID: 0, Offset: format.SegmentHeaderSize, Sequence: 0}, st.Committed)
			assert.Equal(t, "queue-under-test", st.QueueID)
		})
	}
}

func TestRecover_CommittedSegmentNoLongerRetained(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 8)
	writeMeta(t, dir, format.Position{SegmentID: 0, Offset: recordOffset(1), Sequence: 1}, 3)
	require.NoError(t, os.Remove(segmentPath(dir, 0)))

	st, err := recoverDir(t, dir, nil)
	require.NoError(t, err)
	assert.True(t, st.MetadataReset)
	assert.Equal(t, format.Position{SegmentID: 1, Offset: format.SegmentHeaderSize, Sequence: 3}, st.Committed)
}

func TestRecover_CommittedBeyondTailIsClamped(t *testing.T) {
	tail := format.Position{SegmentID: 1, Offset: recordOffset(2), Sequence: 5}
	tests := []struct {
		name      string
		committed format.Position
		next      uint64
		wantNext  uint64
	}{
		{"offset past torn tail", format.Position{SegmentID: 1, Offset: recordOffset(3), Sequence: 6}, 2, 2},
		{"segment past newest", format.Position{SegmentID: 7, Offset: format.SegmentHeaderSize, Sequence: 40}, 8, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			buildQueue(t, dir, 5)
			writeMeta(t, dir, tt.committed, tt.next)

			st, err := recoverDir(t, dir, nil)
			require.NoError(t, err)
			assert.Equal(t, tail, st.Committed)
			assert.False(t, st.MetadataReset)
			assert.True(t, st.Dirty)
			assert.Equal(t, tt.wantNext, st.NextSegmentID)
		})
	}
}

func TestRecover_RemovesStaleMetadataTemp(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, format.MetadataFileName+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0644)) //nolint:gosec // G306: test file

	_, err := recoverDir(t, dir, nil)
	require.NoError(t, err)

	_, err = os.Stat(tmp)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRecover_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	buildQueue(t, dir, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Recover(ctx, Options{Directory: dir})
	assert.ErrorIs(t, err, context.Canceled)
}
