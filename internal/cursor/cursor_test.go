package cursor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/filequeue/internal/format"
)

func TestCursor_EmptyQueue(t *testing.T) {
	f := newFixture(t, 4, 8)

	rec, err := f.cursor.Peek()
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = f.cursor.Next()
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, f.cursor.Advance())
	assert.Equal(t, start, f.cursor.Read())
}

func TestCursor_FIFOAcrossSegments(t *testing.T) {
	f := newFixture(t, 3, 8)
	f.enqueue(t, 10)

	for seq := uint64(0); seq < 10; seq++ {
		f.next(t, seq)
	}

	rec, err := f.cursor.Next()
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, uint64(10), f.cursor.Unacked())
}

func TestCursor_PeekIsIdempotent(t *testing.T) {
	f := newFixture(t, 4, 8)
	f.enqueue(t, 2)

	first, err := f.cursor.Peek()
	require.NoError(t, err)
	second, err := f.cursor.Peek()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(0), first.Sequence)
	assert.Equal(t, uint64(0), f.cursor.Read().Sequence)

	require.NoError(t, f.cursor.Advance())
	rec, err := f.cursor.Peek()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)
}

func TestCursor_SeesRecordsAppendedAfterEmptyPeek(t *testing.T) {
	f := newFixture(t, 4, 8)

	rec, err := f.cursor.Peek()
	require.NoError(t, err)
	require.Nil(t, rec)

	f.enqueue(t, 1)
	f.next(t, 0)
}

func TestCursor_CrossesIntoSegmentCreatedLater(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.enqueue(t, 2)
	f.next(t, 0)
	f.next(t, 1)

	// Segment 0 is full but still active: nothing more to read yet.
	rec, err := f.cursor.Peek()
	require.NoError(t, err)
	assert.Nil(t, rec)

	f.enqueue(t, 1) // rotates
	f.next(t, 2)
	assert.Equal(t, uint64(1), f.cursor.Read().SegmentID)
}

func TestCursor_Commit(t *testing.T) {
	f := newFixture(t, 4, 8)
	f.enqueue(t, 3)
	f.next(t, 0)
	f.next(t, 1)

	moved, err := f.cursor.Commit(0)
	require.NoError(t, err)
	assert.True(t, moved)

	committed := f.cursor.Committed()
	assert.Equal(t, uint64(1), committed.Sequence)
	assert.Equal(t, uint64(0), committed.SegmentID)
	assert.Equal(t, uint64(format.SegmentHeaderSize+format.RecordSize(8)), committed.Offset)
	assert.Equal(t, uint64(1), f.cursor.Unacked())

	meta, err := format.ReadMetadata(filepath.Join(f.dir, format.MetadataFileName))
	require.NoError(t, err)
	assert.Equal(t, committed, meta.Committed)
	assert.Equal(t, "cursor-test", meta.QueueID)
	assert.Equal(t, f.mgr.NextID(), meta.NextSegmentID)
}

func TestCursor_CommitIsMonotonic(t *testing.T) {
	f := newFixture(t, 4, 8)
	f.enqueue(t, 3)
	f.next(t, 0)
	f.next(t, 1)

	_, err := f.cursor.Commit(1)
	require.NoError(t, err)
	before := f.cursor.Committed()

	for _, seq := range []uint64{1, 0} {
		moved, err := f.cursor.Commit(seq)
		require.NoError(t, err)
		assert.False(t, moved, "commit(%d) must be a no-op", seq)
		assert.Equal(t, before, f.cursor.Committed())
	}
}

func TestCursor_CommitNotDelivered(t *testing.T) {
	f := newFixture(t, 4, 8)
	f.enqueue(t, 3)
	f.next(t, 0)

	// Peeked but not advanced is not delivered.
	_, err := f.cursor.Peek()
	require.NoError(t, err)

	_, err = f.cursor.Commit(1)
	assert.ErrorIs(t, err, ErrNotDelivered)

	_, err = f.cursor.Commit(100)
	assert.ErrorIs(t, err, ErrNotDelivered)

	assert.Equal(t, uint64(0), f.cursor.Committed().Sequence)
}

func TestCursor_CommitBatch(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.enqueue(t, 6)
	for seq := uint64(0); seq < 5; seq++ {
		f.next(t, seq)
	}

	_, err := f.cursor.Commit(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), f.cursor.Committed().Sequence)
	assert.Equal(t, uint64(2), f.cursor.Committed().SegmentID)
	assert.Equal(t, uint64(1), f.cursor.Unacked())

	_, err = f.cursor.Commit(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.cursor.Unacked())
}

func TestCursor_CommitLocatesPositionInsideDeliveredRun(t *testing.T) {
	f := newFixture(t, 4, 8)
	f.enqueue(t, 12) // segments 0: 0-3  1: 4-7  2: 8-11
	for seq := uint64(0); seq < 11; seq++ {
		f.next(t, seq)
	}
	size := uint64(format.RecordSize(8))

	// Walks segment 1 from its first record.
	_, err := f.cursor.Commit(5)
	require.NoError(t, err)
	want := format.Position{SegmentID: 1, Offset: format.SegmentHeaderSize + 2*size, Sequence: 6}
	assert.Equal(t, want, f.cursor.Committed())

	// Walks on from the committed position and lands on the next segment.
	_, err = f.cursor.Commit(7)
	require.NoError(t, err)
	want = format.Position{SegmentID: 2, Offset: format.SegmentHeaderSize, Sequence: 8}
	assert.Equal(t, want, f.cursor.Committed())

	_, err = f.cursor.Commit(9)
	require.NoError(t, err)
	want = format.Position{SegmentID: 2, Offset: format.SegmentHeaderSize + 2*size, Sequence: 10}
	assert.Equal(t, want, f.cursor.Committed())
	assert.Equal(t, uint64(1), f.cursor.Unacked())

	// A rewind after the partial commit redelivers from the walked position.
	assert.Equal(t, uint64(1), f.cursor.Rewind())
	f.next(t, 10)
	f.next(t, 11)
	_, err = f.cursor.Commit(11)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.cursor.Unacked())
}

func TestCursor_CommitNormalizesSegmentEnd(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.enqueue(t, 3) // segment 0: 0,1  segment 1: 2
	f.next(t, 0)
	f.next(t, 1)

	_, err := f.cursor.Commit(1)
	require.NoError(t, err)

	want := format.Position{SegmentID: 1, Offset: format.SegmentHeaderSize, Sequence: 2}
	assert.Equal(t, want, f.cursor.Committed())
	assert.Equal(t, want, f.cursor.Read(), "read position follows the committed one")

	res := f.reclaim(t)
	assert.Equal(t, 1, res.Segments)

	// Reading continues on the surviving segment.
	f.next(t, 2)
}

func TestCursor_CommitAtActiveSegmentEndIsNotNormalized(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.enqueue(t, 2)
	f.next(t, 0)
	f.next(t, 1)

	_, err := f.cursor.Commit(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.cursor.Committed().SegmentID)

	// Once the next append rotates, Flush moves the committed position on.
	f.enqueue(t, 1)
	require.NoError(t, f.cursor.Flush())
	assert.Equal(t, uint64(1), f.cursor.Committed().SegmentID)
	assert.Equal(t, 1, f.reclaim(t).Segments)
	f.next(t, 2)
}

func TestCursor_Rewind(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.enqueue(t, 5)
	for seq := uint64(0); seq < 4; seq++ {
		f.next(t, seq)
	}
	_, err := f.cursor.Commit(0)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), f.cursor.Rewind())
	assert.Equal(t, f.cursor.Committed(), f.cursor.Read())

	for seq := uint64(1); seq < 5; seq++ {
		f.next(t, seq)
	}

	// Commits after a rewind address the redelivered records.
	_, err = f.cursor.Commit(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), f.cursor.Committed().Sequence)
	assert.Equal(t, uint64(0), f.cursor.Rewind())
}

func TestCursor_ResumesFromCommitted(t *testing.T) {
	f := newFixture(t, 2, 8)
	f.enqueue(t, 5)
	f.next(t, 0)
	f.next(t, 1)
	f.next(t, 2)
	_, err := f.cursor.Commit(2)
	require.NoError(t, err)

	resumed := New(f.mgr, Options{Directory: f.dir, QueueID: "cursor-test"}, f.cursor.Committed())
	rec, err := resumed.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(3), rec.Sequence)
}

func TestCursor_SequenceMismatchIsCorruption(t *testing.T) {
	f := newFixture(t, 4, 8)
	f.enqueue(t, 2)

	bad := New(f.mgr, Options{Directory: f.dir, QueueID: "cursor-test"},
		format.Position{SegmentID: 0, Offset: format.SegmentHeaderSize, Sequence: 7})
	_, err := bad.Peek()
	require.Error(t, err)
	assert.ErrorIs(t, err, format.ErrIntegrity)
}
