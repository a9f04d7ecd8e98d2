package cursor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// start is the committed position of a fresh queue.
var start = format.Position{SegmentID: 0, Offset: format.SegmentHeaderSize, Sequence: 0}

// fixture is a manager with a cursor over it, in a fresh directory.
type fixture struct {
	dir    string
	mgr    *segment.Manager
	cursor *Cursor
}

// newFixture creates a queue directory whose segments hold perSegment records of payloadLen bytes.
func newFixture(t *testing.T, perSegment, payloadLen int) *fixture {
	t.Helper()
	dir := t.TempDir()

	opts := segment.DefaultManagerOptions(dir)
	opts.QueueID = "cursor-test"
	opts.SegmentCapacity = uint64(format.SegmentHeaderSize + perSegment*format.RecordSize(payloadLen)) //nolint:gosec // G115: test values
	mgr, err := segment.NewManager(opts, nil, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	return &fixture{
		dir:    dir,
		mgr:    mgr,
		cursor: New(mgr, Options{Directory: dir, QueueID: "cursor-test"}, start),
	}
}

// payload returns the fixed-width payload for seq.
func payload(seq uint64) string {
	return fmt.Sprintf("rec-%04d", seq)
}

// enqueue appends n records carrying payload(seq).
func (f *fixture) enqueue(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		seq := f.mgr.NextSequence()
		rec := &format.Record{Sequence: seq, Payload: []byte(payload(seq))}
		_, err := f.mgr.Append(seq, rec.Marshal())
		require.NoError(t, err)
	}
}

// next reads one record and asserts it carries seq.
func (f *fixture) next(t *testing.T, seq uint64) {
	t.Helper()
	rec, err := f.cursor.Next()
	require.NoError(t, err)
	require.NotNil(t, rec, "expected sequence %d", seq)
	require.Equal(t, seq, rec.Sequence)
	require.Equal(t, payload(seq), string(rec.Payload))
}

// reclaim runs a reclamation pass up to the committed segment.
func (f *fixture) reclaim(t *testing.T) segment.ReclaimResult {
	t.Helper()
	res, err := f.mgr.Reclaim(context.Background(), f.cursor.Committed().SegmentID)
	require.NoError(t, err)
	return res
}
