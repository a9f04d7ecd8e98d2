// Package metrics provides queue metrics collection for filequeue.
//
// Collector keeps in-process counters and a coarse latency histogram and
// needs no external system. PrometheusCollector records the same events into
// Prometheus metrics registered on a caller-supplied registerer.
//
// Usage:
//
//	collector := metrics.NewCollector("orders")
//	opts.MetricsCollector = collector
//	...
//	snap := collector.GetSnapshot()
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector tracks queue metrics in memory.
type Collector struct {
	queueName string

	// Operation counters
	enqueueTotal  atomic.Uint64
	dequeueTotal  atomic.Uint64
	enqueueBatch  atomic.Uint64
	ackTotal      atomic.Uint64
	rewindTotal   atomic.Uint64
	enqueueErrors atomic.Uint64
	dequeueErrors atomic.Uint64

	// Payload metrics
	enqueueBytes atomic.Uint64
	dequeueBytes atomic.Uint64

	// Duration histograms
	enqueueDurations *durationHistogram
	dequeueDurations *durationHistogram

	// Queue state (updated after each operation)
	pendingRecords atomic.Uint64
	unreadRecords  atomic.Uint64
	segmentCount   atomic.Uint64
	totalBytes     atomic.Uint64
	nextSequence   atomic.Uint64
	committedSeq   atomic.Uint64

	// Segment lifecycle
	rotationsTotal   atomic.Uint64
	reclaimsTotal    atomic.Uint64
	segmentsRemoved  atomic.Uint64
	bytesFreed       atomic.Uint64
	reclaimErrors    atomic.Uint64
	lastReclaimSec   atomic.Int64 // Unix seconds
	recoveredBytes   atomic.Uint64
	truncatedBytes   atomic.Uint64
	metadataResets   atomic.Uint64
	recoveryDuration atomic.Int64 // nanoseconds
}

// NewCollector creates a new metrics collector for a queue.
func NewCollector(queueName string) *Collector {
	return &Collector{
		queueName:        queueName,
		enqueueDurations: newDurationHistogram(),
		dequeueDurations: newDurationHistogram(),
	}
}

// RecordEnqueue records a successful enqueue operation.
func (c *Collector) RecordEnqueue(payloadSize int, duration time.Duration) {
	c.enqueueTotal.Add(1)
	c.enqueueBytes.Add(uint64(payloadSize)) //nolint:gosec // G115: sizes are non-negative
	c.enqueueDurations.observe(duration)
}

// RecordEnqueueBatch records a successful batch enqueue operation.
func (c *Collector) RecordEnqueueBatch(count, totalPayloadSize int, duration time.Duration) {
	c.enqueueBatch.Add(1)
	c.enqueueTotal.Add(uint64(count))            //nolint:gosec // G115: counts are non-negative
	c.enqueueBytes.Add(uint64(totalPayloadSize)) //nolint:gosec // G115: sizes are non-negative
	c.enqueueDurations.observe(duration)
}

// RecordDequeue records a successful dequeue operation.
func (c *Collector) RecordDequeue(payloadSize int, duration time.Duration) {
	c.dequeueTotal.Add(1)
	c.dequeueBytes.Add(uint64(payloadSize)) //nolint:gosec // G115: sizes are non-negative
	c.dequeueDurations.observe(duration)
}

// RecordAck records that count more records were acknowledged.
func (c *Collector) RecordAck(count uint64) {
	c.ackTotal.Add(count)
}

// RecordRewind records a rewind to the committed position.
func (c *Collector) RecordRewind() {
	c.rewindTotal.Add(1)
}

// RecordEnqueueError records an enqueue failure.
func (c *Collector) RecordEnqueueError() {
	c.enqueueErrors.Add(1)
}

// RecordDequeueError records a dequeue failure.
func (c *Collector) RecordDequeueError() {
	c.dequeueErrors.Add(1)
}

// RecordRotation records a segment rotation.
func (c *Collector) RecordRotation() {
	c.rotationsTotal.Add(1)
}

// RecordReclaim records a reclamation pass.
func (c *Collector) RecordReclaim(segmentsRemoved int, bytesFreed uint64, _ time.Duration) {
	c.reclaimsTotal.Add(1)
	c.segmentsRemoved.Add(uint64(segmentsRemoved)) //nolint:gosec // G115: counts are non-negative
	c.bytesFreed.Add(bytesFreed)
	c.lastReclaimSec.Store(time.Now().Unix())
}

// RecordReclaimError records a failed reclamation pass.
func (c *Collector) RecordReclaimError() {
	c.reclaimErrors.Add(1)
}

// RecordRecovery records the outcome of opening a queue.
func (c *Collector) RecordRecovery(recoveredBytes, truncatedBytes uint64, metadataReset bool, duration time.Duration) {
	c.recoveredBytes.Store(recoveredBytes)
	c.truncatedBytes.Add(truncatedBytes)
	if metadataReset {
		c.metadataResets.Add(1)
	}
	c.recoveryDuration.Store(int64(duration))
}

// UpdateQueueState updates queue state metrics.
func (c *Collector) UpdateQueueState(s QueueState) {
	c.pendingRecords.Store(s.Pending)
	c.unreadRecords.Store(s.Unread)
	c.segmentCount.Store(s.Segments)
	c.totalBytes.Store(s.TotalBytes)
	c.nextSequence.Store(s.NextSequence)
	c.committedSeq.Store(s.CommittedSequence)
}

// QueueState is the gauge set reported by UpdateQueueState.
type QueueState struct {
	Pending           uint64
	Unread            uint64
	Segments          uint64
	TotalBytes        uint64
	NextSequence      uint64
	CommittedSequence uint64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() *Snapshot {
	return &Snapshot{
		QueueName:          c.queueName,
		EnqueueTotal:       c.enqueueTotal.Load(),
		DequeueTotal:       c.dequeueTotal.Load(),
		EnqueueBatch:       c.enqueueBatch.Load(),
		AckTotal:           c.ackTotal.Load(),
		RewindTotal:        c.rewindTotal.Load(),
		EnqueueErrors:      c.enqueueErrors.Load(),
		DequeueErrors:      c.dequeueErrors.Load(),
		EnqueueBytes:       c.enqueueBytes.Load(),
		DequeueBytes:       c.dequeueBytes.Load(),
		EnqueueDurationP50: c.enqueueDurations.percentile(0.50),
		EnqueueDurationP95: c.enqueueDurations.percentile(0.95),
		EnqueueDurationP99: c.enqueueDurations.percentile(0.99),
		DequeueDurationP50: c.dequeueDurations.percentile(0.50),
		DequeueDurationP95: c.dequeueDurations.percentile(0.95),
		DequeueDurationP99: c.dequeueDurations.percentile(0.99),
		PendingRecords:     c.pendingRecords.Load(),
		UnreadRecords:      c.unreadRecords.Load(),
		SegmentCount:       c.segmentCount.Load(),
		TotalBytes:         c.totalBytes.Load(),
		NextSequence:       c.nextSequence.Load(),
		CommittedSequence:  c.committedSeq.Load(),
		RotationsTotal:     c.rotationsTotal.Load(),
		ReclaimsTotal:      c.reclaimsTotal.Load(),
		SegmentsRemoved:    c.segmentsRemoved.Load(),
		BytesFreed:         c.bytesFreed.Load(),
		ReclaimErrors:      c.reclaimErrors.Load(),
		LastReclaimUnixSec: c.lastReclaimSec.Load(),
		RecoveredBytes:     c.recoveredBytes.Load(),
		TruncatedBytes:     c.truncatedBytes.Load(),
		MetadataResets:     c.metadataResets.Load(),
		RecoveryDuration:   time.Duration(c.recoveryDuration.Load()),
	}
}

// Reset resets all metrics (useful for testing).
func (c *Collector) Reset() {
	c.enqueueTotal.Store(0)
	c.dequeueTotal.Store(0)
	c.enqueueBatch.Store(0)
	c.ackTotal.Store(0)
	c.rewindTotal.Store(0)
	c.enqueueErrors.Store(0)
	c.dequeueErrors.Store(0)
	c.enqueueBytes.Store(0)
	c.dequeueBytes.Store(0)
	c.enqueueDurations = newDurationHistogram()
	c.dequeueDurations = newDurationHistogram()
	c.pendingRecords.Store(0)
	c.unreadRecords.Store(0)
	c.segmentCount.Store(0)
	c.totalBytes.Store(0)
	c.nextSequence.Store(0)
	c.committedSeq.Store(0)
	c.rotationsTotal.Store(0)
	c.reclaimsTotal.Store(0)
	c.segmentsRemoved.Store(0)
	c.bytesFreed.Store(0)
	c.reclaimErrors.Store(0)
	c.lastReclaimSec.Store(0)
	c.recoveredBytes.Store(0)
	c.truncatedBytes.Store(0)
	c.metadataResets.Store(0)
	c.recoveryDuration.Store(0)
}

// Snapshot is a point-in-time view of metrics.
type Snapshot struct {
	QueueName string

	// Operation counters
	EnqueueTotal  uint64
	DequeueTotal  uint64
	EnqueueBatch  uint64
	AckTotal      uint64
	RewindTotal   uint64
	EnqueueErrors uint64
	DequeueErrors uint64

	// Payload metrics
	EnqueueBytes uint64
	DequeueBytes uint64

	// Duration percentiles
	EnqueueDurationP50 time.Duration
	EnqueueDurationP95 time.Duration
	EnqueueDurationP99 time.Duration
	DequeueDurationP50 time.Duration
	DequeueDurationP95 time.Duration
	DequeueDurationP99 time.Duration

	// Queue state
	PendingRecords    uint64
	UnreadRecords     uint64
	SegmentCount      uint64
	TotalBytes        uint64
	NextSequence      uint64
	CommittedSequence uint64

	// Segment lifecycle
	RotationsTotal     uint64
	ReclaimsTotal      uint64
	SegmentsRemoved    uint64
	BytesFreed         uint64
	ReclaimErrors      uint64
	LastReclaimUnixSec int64

	// Recovery
	RecoveredBytes   uint64
	TruncatedBytes   uint64
	MetadataResets   uint64
	RecoveryDuration time.Duration
}

// durationHistogram is a simple histogram for tracking durations.
// Uses fixed decade buckets.
type durationHistogram struct {
	buckets [10]atomic.Uint64
}

func newDurationHistogram() *durationHistogram {
	return &durationHistogram{}
}

// bucketUpperBounds are representative values reported for each bucket.
var bucketUpperBounds = [10]time.Duration{
	500 * time.Nanosecond,
	5 * time.Microsecond,
	50 * time.Microsecond,
	500 * time.Microsecond,
	5 * time.Millisecond,
	50 * time.Millisecond,
	500 * time.Millisecond,
	5 * time.Second,
	50 * time.Second,
	100 * time.Second,
}

// observe records a duration in the appropriate bucket.
func (h *durationHistogram) observe(d time.Duration) {
	micros := d.Microseconds()

	// Bucket boundaries (microseconds):
	// 0: < 1μs, 1: 1-10μs, 2: 10-100μs, 3: 100μs-1ms
	// 4: 1-10ms, 5: 10-100ms, 6: 100ms-1s, 7: 1-10s, 8: 10-100s, 9: >100s
	bucket := 0
	for limit := int64(1); bucket < 9 && micros >= limit; limit *= 10 {
		bucket++
	}

	h.buckets[bucket].Add(1)
}

// percentile approximates a percentile from histogram buckets.
func (h *durationHistogram) percentile(p float64) time.Duration {
	var total uint64
	for i := range h.buckets {
		total += h.buckets[i].Load()
	}

	if total == 0 {
		return 0
	}

	target := uint64(float64(total) * p)
	var count uint64
	for i := range h.buckets {
		count += h.buckets[i].Load()
		if count >= target {
			return bucketUpperBounds[i]
		}
	}

	return 0
}

// NoopCollector is a metrics collector that does nothing.
// Useful when metrics are disabled.
type NoopCollector struct{}

func (NoopCollector) RecordEnqueue(int, time.Duration)                   {}
func (NoopCollector) RecordEnqueueBatch(int, int, time.Duration)         {}
func (NoopCollector) RecordDequeue(int, time.Duration)                   {}
func (NoopCollector) RecordAck(uint64)                                   {}
func (NoopCollector) RecordRewind()                                      {}
func (NoopCollector) RecordEnqueueError()                                {}
func (NoopCollector) RecordDequeueError()                                {}
func (NoopCollector) RecordRotation()                                    {}
func (NoopCollector) RecordReclaim(int, uint64, time.Duration)           {}
func (NoopCollector) RecordReclaimError()                                {}
func (NoopCollector) RecordRecovery(uint64, uint64, bool, time.Duration) {}
func (NoopCollector) UpdateQueueState(QueueState)                        {}
