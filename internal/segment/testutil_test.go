package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/filequeue/internal/format"
)

// encode builds an encoded record carrying seq and payload.
func encode(seq uint64, payload string) []byte {
	rec := &format.Record{Sequence: seq, Timestamp: int64(seq) + 1, Payload: []byte(payload)} //nolint:gosec // G115: test values
	return rec.Marshal()
}

// newSegment creates an active segment in a fresh directory.
func newSegment(t *testing.T, capacity uint64) *Segment {
	t.Helper()
	seg, err := Create(t.TempDir(), 0, 0, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })
	return seg
}

// appendN appends records with sequences base..base+n-1.
func appendN(t *testing.T, seg *Segment, base uint64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := seg.Append(encode(base+uint64(i), "payload")) //nolint:gosec // G115: test values
		require.NoError(t, err)
	}
}

func newManager(t *testing.T, capacity uint64, mutate ...func(*ManagerOptions)) *Manager {
	t.Helper()
	opts := DefaultManagerOptions(t.TempDir())
	opts.QueueID = "test-queue"
	opts.SegmentCapacity = capacity
	for _, fn := range mutate {
		fn(opts)
	}
	m, err := NewManager(opts, nil, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// fill appends n records through the manager starting at the next sequence.
func fill(t *testing.T, m *Manager, n int, payload string) {
	t.Helper()
	for i := 0; i < n; i++ {
		seq := m.NextSequence()
		_, err := m.Append(seq, encode(seq, payload))
		require.NoError(t, err)
	}
}
