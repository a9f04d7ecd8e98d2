// Package filequeue provides a persistent, disk-backed FIFO queue.
//
// Records are appended to bounded segment files and survive process
// restarts and crashes. Consumers dequeue records and acknowledge them
// explicitly; acknowledged records are never delivered again, and records
// dequeued but not acknowledged are delivered again after a restart.
//
// Example usage:
//
//	q, err := filequeue.Open("/path/to/queue", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	seq, err := q.Enqueue([]byte("Hello, World!"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := q.Dequeue()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if rec != nil {
//	    fmt.Printf("Record %d: %s\n", rec.Sequence, rec.Payload)
//	    _ = q.Ack(rec.Sequence)
//	}
package filequeue

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnykmshr/filequeue/archive"
	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/metrics"
	"github.com/vnykmshr/filequeue/internal/queue"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// Version is the current version of filequeue.
// This is the single source of truth for the application version.
const Version = "0.4.0"

// Queue represents a persistent FIFO queue.
type Queue struct {
	q *queue.Queue
}

// Record represents a dequeued record.
type Record struct {
	// Sequence identifies the record; pass it to Ack
	Sequence uint64

	// Timestamp is when the record was enqueued (Unix nanoseconds)
	Timestamp int64

	// Payload is the record data
	Payload []byte
}

// SyncPolicy controls when appended records are fsynced.
type SyncPolicy = queue.SyncPolicy

const (
	// SyncEveryWrite fsyncs after every enqueue call
	SyncEveryWrite = queue.SyncEveryWrite

	// SyncInterval fsyncs on the append path once the previous fsync is
	// older than Options.SyncInterval
	SyncInterval = queue.SyncIntervalPolicy

	// SyncOnClose fsyncs only on rotation, Sync and Close
	SyncOnClose = queue.SyncOnClose
)

// ParseSyncPolicy parses "every-write", "interval" or "on-close".
func ParseSyncPolicy(name string) (SyncPolicy, error) {
	return queue.ParseSyncPolicy(name)
}

// CompressionType selects the codec applied to stored payloads.
type CompressionType = format.CompressionType

const (
	// CompressionNone stores payloads as is (default)
	CompressionNone = format.CompressionNone

	// CompressionGzip uses GZIP
	CompressionGzip = format.CompressionGzip

	// CompressionZstd uses Zstandard
	CompressionZstd = format.CompressionZstd

	// CompressionS2 uses S2, a faster Snappy extension
	CompressionS2 = format.CompressionS2

	// CompressionLZ4 uses LZ4 frames
	CompressionLZ4 = format.CompressionLZ4
)

// ParseCompressionType parses "none", "gzip", "zstd", "s2" or "lz4".
func ParseCompressionType(name string) (CompressionType, error) {
	return format.ParseCompressionType(name)
}

// Archiver stores a segment file before reclamation deletes it.
// See the archive package and its s3 and minio subpackages.
type Archiver = archive.Archiver

// NewLocalArchiver returns an Archiver copying segments to
// dir/<queue id>/<segment file>.
func NewLocalArchiver(dir string) Archiver {
	return archive.NewLocalArchiver(dir)
}

// RetentionPolicy controls which fully acknowledged segments are deleted.
type RetentionPolicy struct {
	// KeepSegments is the number of newest consumed segments kept on disk
	KeepSegments int

	// KeepFor keeps consumed segments sealed less than this long ago. With
	// AutoReclaim, the first Ack after a segment ages out reclaims it.
	KeepFor time.Duration

	// Archiver, if set, receives each segment before it is deleted
	Archiver Archiver
}

// Options configures queue behavior.
type Options struct {
	// SegmentCapacity is the maximum size of a segment file in bytes
	// Default: 64MB
	SegmentCapacity uint64

	// SyncPolicy controls when appends are fsynced
	// Default: SyncInterval
	SyncPolicy SyncPolicy

	// SyncInterval is the maximum age of unsynced appends under SyncInterval
	// Default: 1 second
	SyncInterval time.Duration

	// AutoReclaim deletes consumed segments when an Ack moves past them
	// Default: true
	AutoReclaim bool

	// Retention configures which consumed segments are kept or archived
	// Default: nil (delete consumed segments immediately)
	Retention *RetentionPolicy

	// Compression is the codec applied to payloads
	// Default: CompressionNone
	Compression CompressionType

	// CompressionLevel is passed to the codec, 0 = codec default
	CompressionLevel int

	// MinCompressionSize is the minimum payload size to compress
	// Default: 1KB
	MinCompressionSize int

	// MaxRecordSize is the maximum payload size in bytes, 0 = only the
	// segment capacity and the 2 GiB record format limit apply
	// Default: 10MB
	MaxRecordSize int64

	// MinFreeDiskSpace is the free space required before a new segment is
	// created, 0 = no check
	// Default: 100MB
	MinFreeDiskSpace int64

	// StreamPollInterval is how often Stream polls an empty queue
	// Default: 100ms
	StreamPollInterval time.Duration

	// Logger for structured logging (nil = no logging)
	Logger Logger

	// MetricsCollector for collecting queue metrics (nil = no metrics)
	MetricsCollector MetricsCollector

	// Tracer for recovery and reclamation spans (nil = no tracing)
	Tracer trace.Tracer
}

// MetricsCollector defines the interface for recording queue metrics.
// NewMetricsCollector and NewPrometheusCollector return implementations.
type MetricsCollector = queue.MetricsCollector

// MetricsSnapshot is a point-in-time copy of an in-memory collector.
type MetricsSnapshot = metrics.Snapshot

// NewMetricsCollector creates an in-memory metrics collector.
func NewMetricsCollector(queueName string) *metrics.Collector {
	return metrics.NewCollector(queueName)
}

// NewPrometheusCollector creates a collector exporting Prometheus metrics
// labeled with queueName. A nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(queueName string, registerer prometheus.Registerer) *metrics.PrometheusCollector {
	return metrics.NewPrometheusCollector(queueName, registerer)
}

// GetMetricsSnapshot returns a snapshot from a collector created by
// NewMetricsCollector, or nil for any other collector.
func GetMetricsSnapshot(collector MetricsCollector) *MetricsSnapshot {
	if c, ok := collector.(*metrics.Collector); ok {
		return c.GetSnapshot()
	}
	return nil
}

// DefaultOptions returns sensible defaults for queue configuration.
func DefaultOptions() *Options {
	return &Options{
		SegmentCapacity:    64 * 1024 * 1024,       // 64MB
		SyncPolicy:         SyncInterval,           // Bounded loss window
		SyncInterval:       1 * time.Second,        // 1 second
		AutoReclaim:        true,                   // Delete consumed segments on Ack
		Retention:          nil,                    // No retention
		Compression:        CompressionNone,        // No compression
		MinCompressionSize: 1024,                   // 1KB
		MaxRecordSize:      10 * 1024 * 1024,       // 10MB
		MinFreeDiskSpace:   100 * 1024 * 1024,      // 100MB
		StreamPollInterval: 100 * time.Millisecond, // 100ms
		Logger:             nil,                    // No logging
		MetricsCollector:   nil,                    // No metrics
	}
}

// Open opens or creates a queue at the specified directory.
// A nil opts uses DefaultOptions.
func Open(dir string, opts *Options) (*Queue, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	q, err := queue.Open(dir, convertOptions(dir, opts))
	if err != nil {
		return nil, err
	}

	return &Queue{q: q}, nil
}

// ID returns the persistent identity of the queue.
func (q *Queue) ID() string {
	return q.q.ID()
}

// Enqueue appends a payload and returns its sequence number.
func (q *Queue) Enqueue(payload []byte) (uint64, error) {
	return q.q.Enqueue(payload)
}

// EnqueueBatch appends payloads in order with a single sync.
func (q *Queue) EnqueueBatch(payloads [][]byte) ([]uint64, error) {
	return q.q.EnqueueBatch(payloads)
}

// Dequeue returns the oldest unread record, or nil when every record has
// been read. The record is delivered again after a restart until it is
// acknowledged with Ack. A record that cannot be decompressed is reported
// as a *DecodeError and skipped.
func (q *Queue) Dequeue() (*Record, error) {
	rec, err := q.q.Dequeue()
	if err != nil || rec == nil {
		return nil, err
	}
	return convertRecord(rec), nil
}

// Peek returns the oldest unread record without consuming it, or nil when
// every record has been read.
func (q *Queue) Peek() (*Record, error) {
	rec, err := q.q.Peek()
	if err != nil || rec == nil {
		return nil, err
	}
	return convertRecord(rec), nil
}

// Ack acknowledges every dequeued record up to and including seq.
func (q *Queue) Ack(seq uint64) error {
	return q.q.Ack(seq)
}

// Rewind makes every record dequeued but not acknowledged readable again.
// Returns the number of such records.
func (q *Queue) Rewind() (uint64, error) {
	return q.q.Rewind()
}

// Sync makes every enqueued record durable.
func (q *Queue) Sync() error {
	return q.q.Sync()
}

// ReclaimResult summarizes a reclamation pass.
type ReclaimResult = segment.ReclaimResult

// Reclaim deletes fully acknowledged segments, subject to the retention policy.
func (q *Queue) Reclaim(ctx context.Context) (ReclaimResult, error) {
	return q.q.Reclaim(ctx)
}

// Stats is a point-in-time view of the queue.
type Stats = queue.Stats

// Stats returns current queue statistics.
func (q *Queue) Stats() *Stats {
	return q.q.Stats()
}

// Len returns the number of records Dequeue would still return.
func (q *Queue) Len() uint64 {
	return q.q.Len()
}

// Empty reports whether Dequeue would return nil.
func (q *Queue) Empty() bool {
	return q.q.Empty()
}

// TotalBytes returns the combined size of the segment files.
func (q *Queue) TotalBytes() uint64 {
	return q.q.TotalBytes()
}

// StreamHandler is called for each record in the stream.
// Return an error to stop streaming.
type StreamHandler func(*Record) error

// Stream dequeues records continuously, calls handler for each and
// acknowledges it once handler returns nil. It returns when ctx is done or
// on the first error.
func (q *Queue) Stream(ctx context.Context, handler StreamHandler) error {
	var internalHandler queue.StreamHandler
	if handler != nil {
		internalHandler = func(rec *queue.Record) error {
			return handler(convertRecord(rec))
		}
	}
	return q.q.Stream(ctx, internalHandler)
}

// Close seals the active segment, persists the committed position and
// releases the directory lock.
func (q *Queue) Close() error {
	return q.q.Close()
}

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, fields ...LogField)
}

// LogField represents a structured logging field.
type LogField struct {
	Key   string
	Value interface{}
}

// NewSlogLogger returns a Logger writing to l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	return &internalLogger{l: logging.NewSlogLogger(l)}
}

// Helper functions to convert between public and internal types

func convertRecord(rec *queue.Record) *Record {
	return &Record{
		Sequence:  rec.Sequence,
		Timestamp: rec.Timestamp,
		Payload:   rec.Payload,
	}
}

func convertOptions(dir string, opts *Options) *queue.Options {
	qopts := queue.DefaultOptions(dir)

	if opts.SegmentCapacity > 0 {
		qopts.SegmentOptions.SegmentCapacity = opts.SegmentCapacity
	}
	if opts.Retention != nil {
		qopts.SegmentOptions.Retention = segment.RetentionPolicy{
			KeepSegments: opts.Retention.KeepSegments,
			KeepFor:      opts.Retention.KeepFor,
			Archiver:     opts.Retention.Archiver,
		}
	}

	qopts.SyncPolicy = opts.SyncPolicy
	qopts.SyncInterval = opts.SyncInterval
	qopts.AutoReclaim = opts.AutoReclaim
	qopts.Compression = opts.Compression
	qopts.CompressionLevel = opts.CompressionLevel
	qopts.MinCompressionSize = opts.MinCompressionSize
	qopts.MaxRecordSize = opts.MaxRecordSize
	qopts.MinFreeDiskSpace = opts.MinFreeDiskSpace
	qopts.StreamPollInterval = opts.StreamPollInterval
	qopts.Logger = convertLogger(opts.Logger)

	if opts.MetricsCollector != nil {
		qopts.MetricsCollector = opts.MetricsCollector
	}
	if opts.Tracer != nil {
		qopts.Tracer = opts.Tracer
	}

	return qopts
}

func convertLogger(l Logger) logging.Logger {
	switch l := l.(type) {
	case nil:
		return logging.NoopLogger{}
	case *internalLogger:
		return l.l
	default:
		return &loggerAdapter{l: l}
	}
}

// loggerAdapter adapts public Logger to internal logging.Logger
type loggerAdapter struct {
	l Logger
}

func (a *loggerAdapter) Debug(msg string, fields ...logging.Field) {
	a.l.Debug(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Info(msg string, fields ...logging.Field) {
	a.l.Info(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Warn(msg string, fields ...logging.Field) {
	a.l.Warn(msg, convertFields(fields)...)
}

func (a *loggerAdapter) Error(msg string, fields ...logging.Field) {
	a.l.Error(msg, convertFields(fields)...)
}

func convertFields(fields []logging.Field) []LogField {
	result := make([]LogField, len(fields))
	for i, f := range fields {
		result[i] = LogField{Key: f.Key, Value: f.Value}
	}
	return result
}

// internalLogger exposes an internal logger through the public interface.
type internalLogger struct {
	l logging.Logger
}

func (a *internalLogger) Debug(msg string, fields ...LogField) {
	a.l.Debug(msg, unconvertFields(fields)...)
}

func (a *internalLogger) Info(msg string, fields ...LogField) {
	a.l.Info(msg, unconvertFields(fields)...)
}

func (a *internalLogger) Warn(msg string, fields ...LogField) {
	a.l.Warn(msg, unconvertFields(fields)...)
}

func (a *internalLogger) Error(msg string, fields ...LogField) {
	a.l.Error(msg, unconvertFields(fields)...)
}

func unconvertFields(fields []LogField) []logging.Field {
	result := make([]logging.Field, len(fields))
	for i, f := range fields {
		result[i] = logging.F(f.Key, f.Value)
	}
	return result
}
