package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records queue metrics into Prometheus collectors.
// Every series carries a "queue" label with the queue name.
type PrometheusCollector struct {
	queueName string

	operationsTotal   *prometheus.CounterVec
	operationErrors   *prometheus.CounterVec
	payloadBytes      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	acksTotal         *prometheus.CounterVec
	rewindsTotal      *prometheus.CounterVec

	rotationsTotal  *prometheus.CounterVec
	reclaimsTotal   *prometheus.CounterVec
	reclaimErrors   *prometheus.CounterVec
	segmentsRemoved *prometheus.CounterVec
	bytesFreed      *prometheus.CounterVec
	reclaimDuration *prometheus.HistogramVec

	truncatedBytes   *prometheus.CounterVec
	metadataResets   *prometheus.CounterVec
	recoveryDuration *prometheus.GaugeVec

	pendingRecords    *prometheus.GaugeVec
	unreadRecords     *prometheus.GaugeVec
	segments          *prometheus.GaugeVec
	diskBytes         *prometheus.GaugeVec
	nextSequence      *prometheus.GaugeVec
	committedSequence *prometheus.GaugeVec
}

// NewPrometheusCollector registers the queue metrics on registerer.
// A nil registerer uses prometheus.DefaultRegisterer.
//
// Registering two collectors for the same registerer panics; give each
// queue its own registry or wrap the registerer with distinct const labels.
func NewPrometheusCollector(queueName string, registerer prometheus.Registerer) *PrometheusCollector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusCollector{
		queueName: queueName,

		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_operations_total",
				Help: "Total number of records enqueued or dequeued",
			},
			[]string{"queue", "op"}, // op: enqueue, dequeue
		),
		operationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_operation_errors_total",
				Help: "Total number of failed enqueue or dequeue operations",
			},
			[]string{"queue", "op"},
		),
		payloadBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_payload_bytes_total",
				Help: "Total payload bytes enqueued or dequeued",
			},
			[]string{"queue", "op"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filequeue_operation_duration_seconds",
				Help:    "Enqueue and dequeue latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
			[]string{"queue", "op"},
		),
		acksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_acks_total",
				Help: "Total number of records acknowledged",
			},
			[]string{"queue"},
		),
		rewindsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_rewinds_total",
				Help: "Total number of rewinds to the committed position",
			},
			[]string{"queue"},
		),

		rotationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_segment_rotations_total",
				Help: "Total number of segment rotations",
			},
			[]string{"queue"},
		),
		reclaimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_reclaims_total",
				Help: "Total number of reclamation passes",
			},
			[]string{"queue"},
		),
		reclaimErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_reclaim_errors_total",
				Help: "Total number of failed reclamation passes",
			},
			[]string{"queue"},
		),
		segmentsRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_segments_reclaimed_total",
				Help: "Total number of segment files removed",
			},
			[]string{"queue"},
		),
		bytesFreed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_reclaimed_bytes_total",
				Help: "Total bytes freed by reclamation",
			},
			[]string{"queue"},
		),
		reclaimDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filequeue_reclaim_duration_seconds",
				Help:    "Reclamation pass duration in seconds, archiving included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),

		truncatedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_recovery_truncated_bytes_total",
				Help: "Bytes of torn tail discarded by recovery",
			},
			[]string{"queue"},
		),
		metadataResets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filequeue_recovery_metadata_resets_total",
				Help: "Number of opens that had to rebuild the committed position",
			},
			[]string{"queue"},
		),
		recoveryDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filequeue_recovery_duration_seconds",
				Help: "Duration of the last recovery in seconds",
			},
			[]string{"queue"},
		),

		pendingRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filequeue_pending_records",
				Help: "Records enqueued and not yet acknowledged",
			},
			[]string{"queue"},
		),
		unreadRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filequeue_unread_records",
				Help: "Records enqueued and not yet delivered",
			},
			[]string{"queue"},
		),
		segments: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filequeue_segments",
				Help: "Number of segment files on disk",
			},
			[]string{"queue"},
		),
		diskBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filequeue_disk_bytes",
				Help: "Bytes used by segment files",
			},
			[]string{"queue"},
		),
		nextSequence: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filequeue_next_sequence",
				Help: "Sequence the next enqueued record will carry",
			},
			[]string{"queue"},
		),
		committedSequence: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filequeue_committed_sequence",
				Help: "First sequence not yet acknowledged",
			},
			[]string{"queue"},
		),
	}
}

// RecordEnqueue records a successful enqueue operation.
func (p *PrometheusCollector) RecordEnqueue(payloadSize int, duration time.Duration) {
	p.observeOp("enqueue", 1, payloadSize, duration)
}

// RecordEnqueueBatch records a successful batch enqueue operation.
func (p *PrometheusCollector) RecordEnqueueBatch(count, totalPayloadSize int, duration time.Duration) {
	p.observeOp("enqueue", count, totalPayloadSize, duration)
}

// RecordDequeue records a successful dequeue operation.
func (p *PrometheusCollector) RecordDequeue(payloadSize int, duration time.Duration) {
	p.observeOp("dequeue", 1, payloadSize, duration)
}

func (p *PrometheusCollector) observeOp(op string, count, size int, duration time.Duration) {
	p.operationsTotal.WithLabelValues(p.queueName, op).Add(float64(count))
	p.payloadBytes.WithLabelValues(p.queueName, op).Add(float64(size))
	p.operationDuration.WithLabelValues(p.queueName, op).Observe(duration.Seconds())
}

// RecordAck records that count more records were acknowledged.
func (p *PrometheusCollector) RecordAck(count uint64) {
	p.acksTotal.WithLabelValues(p.queueName).Add(float64(count))
}

// RecordRewind records a rewind to the committed position.
func (p *PrometheusCollector) RecordRewind() {
	p.rewindsTotal.WithLabelValues(p.queueName).Inc()
}

// RecordEnqueueError records an enqueue failure.
func (p *PrometheusCollector) RecordEnqueueError() {
	p.operationErrors.WithLabelValues(p.queueName, "enqueue").Inc()
}

// RecordDequeueError records a dequeue failure.
func (p *PrometheusCollector) RecordDequeueError() {
	p.operationErrors.WithLabelValues(p.queueName, "dequeue").Inc()
}

// RecordRotation records a segment rotation.
func (p *PrometheusCollector) RecordRotation() {
	p.rotationsTotal.WithLabelValues(p.queueName).Inc()
}

// RecordReclaim records a reclamation pass.
func (p *PrometheusCollector) RecordReclaim(segmentsRemoved int, bytesFreed uint64, duration time.Duration) {
	p.reclaimsTotal.WithLabelValues(p.queueName).Inc()
	p.segmentsRemoved.WithLabelValues(p.queueName).Add(float64(segmentsRemoved))
	p.bytesFreed.WithLabelValues(p.queueName).Add(float64(bytesFreed))
	p.reclaimDuration.WithLabelValues(p.queueName).Observe(duration.Seconds())
}

// RecordReclaimError records a failed reclamation pass.
func (p *PrometheusCollector) RecordReclaimError() {
	p.reclaimErrors.WithLabelValues(p.queueName).Inc()
}

// RecordRecovery records the outcome of opening a queue.
func (p *PrometheusCollector) RecordRecovery(_, truncatedBytes uint64, metadataReset bool, duration time.Duration) {
	p.truncatedBytes.WithLabelValues(p.queueName).Add(float64(truncatedBytes))
	if metadataReset {
		p.metadataResets.WithLabelValues(p.queueName).Inc()
	}
	p.recoveryDuration.WithLabelValues(p.queueName).Set(duration.Seconds())
}

// UpdateQueueState updates queue state gauges.
func (p *PrometheusCollector) UpdateQueueState(s QueueState) {
	p.pendingRecords.WithLabelValues(p.queueName).Set(float64(s.Pending))
	p.unreadRecords.WithLabelValues(p.queueName).Set(float64(s.Unread))
	p.segments.WithLabelValues(p.queueName).Set(float64(s.Segments))
	p.diskBytes.WithLabelValues(p.queueName).Set(float64(s.TotalBytes))
	p.nextSequence.WithLabelValues(p.queueName).Set(float64(s.NextSequence))
	p.committedSequence.WithLabelValues(p.queueName).Set(float64(s.CommittedSequence))
}
