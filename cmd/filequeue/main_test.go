package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/filequeue/pkg/filequeue"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, filequeue.Version)
}

func TestRun_Usage(t *testing.T) {
	code, _, errOut := runCLI(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Commands:")

	code, _, errOut = runCLI(t, "compact", "/tmp/q")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command: compact")

	code, _, errOut = runCLI(t, "stats")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "queue directory required")
}

func TestRun_EnqueuePeekStats(t *testing.T) {
	dir := t.TempDir()

	code, out, errOut := runCLI(t, "enqueue", dir, "first", "second", "third")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Enqueued 3 record(s), sequences 0..2")

	code, out, errOut = runCLI(t, "peek", dir, "2")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Record 0:")
	assert.Contains(t, out, `"second"`)
	assert.NotContains(t, out, "Record 2:")

	// peek leaves every record pending
	code, out, errOut = runCLI(t, "stats", dir)
	require.Equal(t, 0, code, errOut)
	assert.Regexp(t, `Pending Records:\s+3\n`, out)
	assert.Regexp(t, `Next Sequence:\s+3\n`, out)

	code, _, errOut = runCLI(t, "peek", dir, "zero")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid count")
}

func TestRun_Inspect(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := runCLI(t, "enqueue", dir, "payload")
	require.Equal(t, 0, code, errOut)

	code, out, errOut := runCLI(t, "inspect", dir)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"segments"`)
	assert.Contains(t, out, `"NextSequence": 1`)
	assert.Contains(t, out, `"file": "00000000000000000000.seg"`)
}

func TestRun_Reclaim(t *testing.T) {
	dir := t.TempDir()
	archiveDir := t.TempDir()
	cfg := writeConfig(t, `
segment_capacity_bytes: 256
sync_policy: every-write
min_free_disk_space: 0
archive:
  type: local
  dir: `+archiveDir+`
`)

	opts, err := mustConfig(t, cfg).Options(nil)
	require.NoError(t, err)
	opts.AutoReclaim = false
	q, err := filequeue.Open(dir, opts)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err := q.Enqueue([]byte("archived-record"))
		require.NoError(t, err)
	}
	var last uint64
	for i := 0; i < 12; i++ {
		rec, err := q.Dequeue()
		require.NoError(t, err)
		last = rec.Sequence
	}
	require.NoError(t, q.Ack(last))
	id := q.ID()
	require.NoError(t, q.Close())

	code, out, errOut := runCLI(t, "reclaim", "-config", cfg, dir)
	require.Equal(t, 0, code, errOut)
	assert.Regexp(t, `Segments Removed:\s+2\n`, out)

	archived, err := filepath.Glob(filepath.Join(archiveDir, id, "*.seg"))
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}

func TestRun_Verify(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, "segment_capacity_bytes: 256\nmin_free_disk_space: 0\n")

	payloads := make([]string, 12)
	for i := range payloads {
		payloads[i] = "archived-record"
	}
	code, _, errOut := runCLI(t, append([]string{"enqueue", "-config", cfg, dir}, payloads...)...)
	require.Equal(t, 0, code, errOut)

	code, out, errOut := runCLI(t, "verify", dir)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, 3, strings.Count(out, " ok\n"))

	// flip a payload byte in the first, sealed segment
	first := filepath.Join(dir, "00000000000000000000.seg")
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	data[64+30] ^= 0xff
	require.NoError(t, os.WriteFile(first, data, 0o600))

	report, err := verifyQueue(dir)
	require.NoError(t, err)
	require.Len(t, report.Segments, 3)
	assert.NotEmpty(t, report.Segments[0].Problem)
	assert.Equal(t, uint64(0), report.Segments[0].Records)
	assert.True(t, report.Damaged())

	code, _, errOut = runCLI(t, "verify", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "sealed segments are damaged")
}

func TestVerify_TornTailIsNotDamage(t *testing.T) {
	dir := t.TempDir()
	code, _, errOut := runCLI(t, "enqueue", dir, "one", "two")
	require.Equal(t, 0, code, errOut)

	f, err := os.OpenFile(filepath.Join(dir, "00000000000000000000.seg"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := verifyQueue(dir)
	require.NoError(t, err)
	require.Len(t, report.Segments, 1)
	assert.Equal(t, uint64(2), report.Segments[0].Records)
	assert.NotEmpty(t, report.Segments[0].Problem)
	assert.False(t, report.Damaged())
}

func TestRun_LogDir(t *testing.T) {
	dir := t.TempDir()
	logDir := t.TempDir()

	code, _, errOut := runCLI(t, "stats", "-log-dir", logDir, dir)
	require.Equal(t, 0, code, errOut)

	data, err := os.ReadFile(filepath.Join(logDir, "filequeue.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"queue opened"`)
}

func TestRun_Locked(t *testing.T) {
	dir := t.TempDir()
	q, err := filequeue.Open(dir, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	code, _, errOut := runCLI(t, "stats", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "in use by another process")
}

func TestBuildArchiver(t *testing.T) {
	ctx := context.Background()

	a, err := buildArchiver(ctx, filequeue.ArchiveConfig{})
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = buildArchiver(ctx, filequeue.ArchiveConfig{Type: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, a, "local archives are built by Config.Options")

	_, err = buildArchiver(ctx, filequeue.ArchiveConfig{Type: "s3"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = buildArchiver(ctx, filequeue.ArchiveConfig{Type: "minio", Bucket: "b"})
	assert.ErrorContains(t, err, "endpoint are required")

	a, err = buildArchiver(ctx, filequeue.ArchiveConfig{
		Type:            "minio",
		Endpoint:        "localhost:9000",
		Bucket:          "queue-archive",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		BytesPerSecond:  1 << 20,
	})
	require.NoError(t, err)
	assert.NotNil(t, a)

	a, err = buildArchiver(ctx, filequeue.ArchiveConfig{
		Type:            "s3",
		Bucket:          "queue-archive",
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func mustConfig(t *testing.T, path string) *filequeue.Config {
	t.Helper()
	cfg, err := filequeue.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}
