package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// perSegment records fit in each segment built by buildQueue.
const perSegment = 3

// payloadLen is the size of every payload written by buildQueue.
const payloadLen = 8

func payload(seq uint64) []byte {
	return []byte(fmt.Sprintf("p%07d", seq))
}

func encode(seq uint64) []byte {
	rec := &format.Record{Sequence: seq, Payload: payload(seq)}
	return rec.Marshal()
}

// recordOffset is the offset of the i-th record of a segment.
func recordOffset(i int) uint64 {
	return uint64(format.SegmentHeaderSize + i*format.RecordSize(payloadLen)) //nolint:gosec // G115: test values
}

// buildQueue writes n records into segments of perSegment records each and
// closes them, leaving no metadata file.
func buildQueue(t *testing.T, dir string, n int) {
	t.Helper()
	opts := segment.DefaultManagerOptions(dir)
	opts.SegmentCapacity = recordOffset(perSegment)
	mgr, err := segment.NewManager(opts, nil, 0, 0)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		seq := mgr.NextSequence()
		_, err := mgr.Append(seq, encode(seq))
		require.NoError(t, err)
	}
	require.NoError(t, mgr.Close())
}

func writeMeta(t *testing.T, dir string, committed format.Position, nextSegmentID uint64) {
	t.Helper()
	meta := format.NewQueueMetadata("queue-under-test")
	meta.Committed = committed
	meta.NextSegmentID = nextSegmentID
	require.NoError(t, format.WriteMetadata(filepath.Join(dir, format.MetadataFileName), meta))
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, segment.FormatSegmentName(id))
}

// recoverDir runs Recover and closes the recovered segments at test end.
func recoverDir(t *testing.T, dir string, logger logging.Logger) (*State, error) {
	t.Helper()
	st, err := Recover(context.Background(), Options{Directory: dir, Logger: logger})
	if st != nil {
		t.Cleanup(st.Close)
	}
	return st, err
}

// appendBytes appends raw bytes to a file.
func appendBytes(t *testing.T, path string, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // G304: test path
	require.NoError(t, err)
	_, err = f.Write(b)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
