// Package queue provides configuration and validation for queue options.
// This file contains the Options struct and related functions.
package queue

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnykmshr/filequeue/internal/format"
	"github.com/vnykmshr/filequeue/internal/logging"
	"github.com/vnykmshr/filequeue/internal/metrics"
	"github.com/vnykmshr/filequeue/internal/segment"
)

// SyncPolicy controls when appended records are fsynced.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every Enqueue and EnqueueBatch call.
	// A successful enqueue is durable.
	SyncEveryWrite SyncPolicy = iota

	// SyncIntervalPolicy fsyncs on the append path once the previous fsync
	// is older than Options.SyncInterval. Records appended since the last
	// fsync may be lost on a crash; call Sync to bound that window when
	// appends stop.
	SyncIntervalPolicy

	// SyncOnClose fsyncs only on rotation, Sync and Close.
	SyncOnClose
)

// String returns the string representation of the policy.
func (p SyncPolicy) String() string {
	switch p {
	case SyncEveryWrite:
		return "every-write"
	case SyncIntervalPolicy:
		return "interval"
	case SyncOnClose:
		return "on-close"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseSyncPolicy parses a policy name as produced by String.
func ParseSyncPolicy(name string) (SyncPolicy, error) {
	switch strings.ToLower(name) {
	case "every-write", "always":
		return SyncEveryWrite, nil
	case "", "interval":
		return SyncIntervalPolicy, nil
	case "on-close", "never":
		return SyncOnClose, nil
	default:
		return SyncIntervalPolicy, fmt.Errorf("unknown sync policy: %q", name)
	}
}

// Options configures queue behavior.
type Options struct {
	// SegmentOptions configures segment management: capacity and retention
	SegmentOptions *segment.ManagerOptions

	// SyncPolicy controls when appends are fsynced
	SyncPolicy SyncPolicy

	// SyncInterval is the maximum age of unsynced appends under SyncIntervalPolicy
	SyncInterval time.Duration

	// AutoReclaim runs a reclamation pass whenever an Ack moves the
	// committed position into a newer segment
	AutoReclaim bool

	// Compression is the codec applied to payloads on enqueue.
	// Default: CompressionNone
	Compression format.CompressionType

	// CompressionLevel is passed to the codec, 0 = codec default
	CompressionLevel int

	// MinCompressionSize is the minimum payload size to compress.
	// Default: 1024 bytes (1KB)
	MinCompressionSize int

	// MaxRecordSize is the maximum payload size in bytes.
	// Set to 0 for no limit beyond the segment capacity and the record
	// format limit (format.MaxRecordPayload, 2 GiB - 1).
	// Default: 10 MB
	MaxRecordSize int64

	// MinFreeDiskSpace is the free space in bytes required before an
	// enqueue creates a new segment file. Set to 0 to disable.
	// Default: 100 MB
	MinFreeDiskSpace int64

	// RecoveryConcurrency bounds how many sealed segments are verified at once on open
	RecoveryConcurrency int

	// StreamPollInterval is how often Stream polls an empty queue
	StreamPollInterval time.Duration

	// Logger for structured logging (nil = no logging)
	Logger logging.Logger

	// MetricsCollector for collecting queue metrics (nil = no metrics)
	MetricsCollector MetricsCollector

	// Tracer for recovery and reclamation spans (nil = no tracing)
	Tracer trace.Tracer
}

// MetricsCollector defines the interface for recording queue metrics.
type MetricsCollector interface {
	RecordEnqueue(payloadSize int, duration time.Duration)
	RecordEnqueueBatch(count, totalPayloadSize int, duration time.Duration)
	RecordDequeue(payloadSize int, duration time.Duration)
	RecordAck(count uint64)
	RecordRewind()
	RecordEnqueueError()
	RecordDequeueError()
	RecordRotation()
	RecordReclaim(segmentsRemoved int, bytesFreed uint64, duration time.Duration)
	RecordReclaimError()
	RecordRecovery(recoveredBytes, truncatedBytes uint64, metadataReset bool, duration time.Duration)
	UpdateQueueState(state metrics.QueueState)
}

// DefaultOptions returns sensible defaults for queue configuration.
func DefaultOptions(dir string) *Options {
	return &Options{
		SegmentOptions:      segment.DefaultManagerOptions(dir),
		SyncPolicy:          SyncIntervalPolicy,
		SyncInterval:        1 * time.Second,
		AutoReclaim:         true,
		Compression:         format.CompressionNone,  // No compression by default
		CompressionLevel:    0,                       // Codec default
		MinCompressionSize:  1024,                    // 1KB minimum for compression
		MaxRecordSize:       10 * 1024 * 1024,        // 10 MB max record size
		MinFreeDiskSpace:    100 * 1024 * 1024,       // 100 MB minimum free space
		RecoveryConcurrency: 4,                       // Sealed segments verified in parallel
		StreamPollInterval:  100 * time.Millisecond,  // Stream poll interval
		Logger:              logging.NoopLogger{},    // No logging by default
		MetricsCollector:    metrics.NoopCollector{}, // No metrics by default
		Tracer:              noop.NewTracerProvider().Tracer("filequeue"),
	}
}

// Validate checks if the options are valid and safe to use.
// Every failure wraps ErrInvalidOptions.
func (o *Options) Validate() error {
	if err := o.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

func (o *Options) validate() error {
	if o.SegmentOptions == nil {
		return fmt.Errorf("segment options cannot be nil")
	}

	dir := o.SegmentOptions.Directory
	if dir == "" {
		return fmt.Errorf("queue directory path cannot be empty")
	}
	if _, err := validatePath(dir, "queue directory"); err != nil {
		return err
	}

	if minCap := uint64(format.SegmentHeaderSize + format.RecordHeaderSize); o.SegmentOptions.SegmentCapacity < minCap {
		return fmt.Errorf("segment capacity %d below minimum %d", o.SegmentOptions.SegmentCapacity, minCap)
	}

	if err := validateSyncPolicy(o); err != nil {
		return err
	}
	if err := validateNumericLimits(o); err != nil {
		return err
	}
	return validateCompressionSettings(o)
}

// validatePath validates a path for security issues
func validatePath(path, pathType string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed in %s: %s", pathType, path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %s: %w", pathType, err)
	}

	return filepath.Clean(absPath), nil
}

func validateSyncPolicy(o *Options) error {
	switch o.SyncPolicy {
	case SyncEveryWrite, SyncOnClose:
		return nil
	case SyncIntervalPolicy:
		if o.SyncInterval <= 0 {
			return fmt.Errorf("sync interval must be positive, got %s", o.SyncInterval)
		}
		return nil
	default:
		return fmt.Errorf("invalid sync policy: %d", int(o.SyncPolicy))
	}
}

// validateNumericLimits validates numeric configuration options
func validateNumericLimits(o *Options) error {
	if o.MaxRecordSize < 0 {
		return fmt.Errorf("max record size cannot be negative")
	}
	if o.MaxRecordSize > format.MaxRecordPayload {
		return fmt.Errorf("max record size %d exceeds the record format limit %d", o.MaxRecordSize, format.MaxRecordPayload)
	}
	if o.MinFreeDiskSpace < 0 {
		return fmt.Errorf("min free disk space cannot be negative")
	}
	if o.MinCompressionSize < 0 {
		return fmt.Errorf("min compression size cannot be negative")
	}
	if o.RecoveryConcurrency < 0 {
		return fmt.Errorf("recovery concurrency cannot be negative")
	}
	if o.StreamPollInterval < 0 {
		return fmt.Errorf("stream poll interval cannot be negative")
	}
	if o.SegmentOptions.Retention.KeepSegments < 0 {
		return fmt.Errorf("retention keep segments cannot be negative")
	}
	if o.SegmentOptions.Retention.KeepFor < 0 {
		return fmt.Errorf("retention keep duration cannot be negative")
	}
	return nil
}

// validateCompressionSettings validates compression configuration
func validateCompressionSettings(o *Options) error {
	if !o.Compression.Valid() {
		return fmt.Errorf("invalid compression type: %d", o.Compression)
	}
	if o.CompressionLevel == 0 {
		return nil
	}

	var lo, hi int
	switch o.Compression {
	case format.CompressionGzip:
		lo, hi = gzip.HuffmanOnly, gzip.BestCompression
	case format.CompressionZstd:
		lo, hi = 1, 22
	case format.CompressionLZ4:
		lo, hi = 1, 9
	default:
		return fmt.Errorf("compression %s takes no level, got %d", o.Compression, o.CompressionLevel)
	}
	if o.CompressionLevel < lo || o.CompressionLevel > hi {
		return fmt.Errorf("invalid compression level: %d (valid range for %s: %d-%d)",
			o.CompressionLevel, o.Compression, lo, hi)
	}
	return nil
}
