package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_BasicOperations(t *testing.T) {
	c := NewCollector("test_queue")

	c.RecordEnqueue(100, 500*time.Microsecond)
	c.RecordEnqueue(200, 1*time.Millisecond)
	c.RecordDequeue(100, 2*time.Millisecond)

	snap := c.GetSnapshot()
	assert.Equal(t, "test_queue", snap.QueueName)
	assert.Equal(t, uint64(2), snap.EnqueueTotal)
	assert.Equal(t, uint64(1), snap.DequeueTotal)
	assert.Equal(t, uint64(300), snap.EnqueueBytes)
	assert.Equal(t, uint64(100), snap.DequeueBytes)
}

func TestCollector_BatchOperations(t *testing.T) {
	c := NewCollector("test_queue")

	c.RecordEnqueueBatch(10, 1000, 5*time.Millisecond)

	snap := c.GetSnapshot()
	assert.Equal(t, uint64(1), snap.EnqueueBatch)
	assert.Equal(t, uint64(10), snap.EnqueueTotal)
	assert.Equal(t, uint64(1000), snap.EnqueueBytes)
}

func TestCollector_AckAndRewind(t *testing.T) {
	c := NewCollector("test_queue")

	c.RecordAck(3)
	c.RecordAck(2)
	c.RecordRewind()

	snap := c.GetSnapshot()
	assert.Equal(t, uint64(5), snap.AckTotal)
	assert.Equal(t, uint64(1), snap.RewindTotal)
}

func TestCollector_Errors(t *testing.T) {
	c := NewCollector("test_queue")

	c.RecordEnqueueError()
	c.RecordEnqueueError()
	c.RecordDequeueError()

	snap := c.GetSnapshot()
	assert.Equal(t, uint64(2), snap.EnqueueErrors)
	assert.Equal(t, uint64(1), snap.DequeueErrors)
}

func TestCollector_QueueState(t *testing.T) {
	c := NewCollector("test_queue")

	c.UpdateQueueState(QueueState{
		Pending:           10,
		Unread:            4,
		Segments:          3,
		TotalBytes:        4096,
		NextSequence:      110,
		CommittedSequence: 100,
	})

	snap := c.GetSnapshot()
	assert.Equal(t, uint64(10), snap.PendingRecords)
	assert.Equal(t, uint64(4), snap.UnreadRecords)
	assert.Equal(t, uint64(3), snap.SegmentCount)
	assert.Equal(t, uint64(4096), snap.TotalBytes)
	assert.Equal(t, uint64(110), snap.NextSequence)
	assert.Equal(t, uint64(100), snap.CommittedSequence)
}

func TestCollector_SegmentLifecycle(t *testing.T) {
	c := NewCollector("test_queue")

	c.RecordRotation()
	c.RecordRotation()
	c.RecordReclaim(2, 2048, time.Millisecond)
	c.RecordReclaimError()

	snap := c.GetSnapshot()
	assert.Equal(t, uint64(2), snap.RotationsTotal)
	assert.Equal(t, uint64(1), snap.ReclaimsTotal)
	assert.Equal(t, uint64(2), snap.SegmentsRemoved)
	assert.Equal(t, uint64(2048), snap.BytesFreed)
	assert.Equal(t, uint64(1), snap.ReclaimErrors)
	assert.NotZero(t, snap.LastReclaimUnixSec)
}

func TestCollector_Recovery(t *testing.T) {
	c := NewCollector("test_queue")

	c.RecordRecovery(1000, 12, true, 3*time.Millisecond)
	c.RecordRecovery(1000, 0, false, time.Millisecond)

	snap := c.GetSnapshot()
	assert.Equal(t, uint64(1000), snap.RecoveredBytes)
	assert.Equal(t, uint64(12), snap.TruncatedBytes)
	assert.Equal(t, uint64(1), snap.MetadataResets)
	assert.Equal(t, time.Millisecond, snap.RecoveryDuration)
}

func TestCollector_DurationPercentiles(t *testing.T) {
	c := NewCollector("test_queue")

	for i := 0; i < 90; i++ {
		c.RecordEnqueue(1, 50*time.Microsecond)
	}
	for i := 0; i < 10; i++ {
		c.RecordEnqueue(1, 50*time.Millisecond)
	}

	snap := c.GetSnapshot()
	assert.Equal(t, 50*time.Microsecond, snap.EnqueueDurationP50)
	assert.Equal(t, 50*time.Millisecond, snap.EnqueueDurationP99)
	assert.Zero(t, snap.DequeueDurationP50)
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector("test_queue")

	c.RecordEnqueue(100, time.Millisecond)
	c.RecordAck(1)
	c.RecordReclaim(1, 10, time.Millisecond)
	c.Reset()

	snap := c.GetSnapshot()
	assert.Equal(t, "test_queue", snap.QueueName)
	assert.Zero(t, snap.EnqueueTotal)
	assert.Zero(t, snap.AckTotal)
	assert.Zero(t, snap.ReclaimsTotal)
	assert.Zero(t, snap.EnqueueDurationP50)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector("test_queue")

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.RecordEnqueue(10, time.Microsecond)
				c.RecordDequeue(10, time.Microsecond)
			}
		}()
	}
	wg.Wait()

	snap := c.GetSnapshot()
	require.Equal(t, uint64(workers*perWorker), snap.EnqueueTotal)
	require.Equal(t, uint64(workers*perWorker), snap.DequeueTotal)
	assert.Equal(t, uint64(workers*perWorker*10), snap.EnqueueBytes)
}

func TestNoopCollector(t *testing.T) {
	var n NoopCollector
	assert.NotPanics(t, func() {
		n.RecordEnqueue(1, time.Millisecond)
		n.RecordEnqueueBatch(1, 1, time.Millisecond)
		n.RecordDequeue(1, time.Millisecond)
		n.RecordAck(1)
		n.RecordRewind()
		n.RecordEnqueueError()
		n.RecordDequeueError()
		n.RecordRotation()
		n.RecordReclaim(1, 1, time.Millisecond)
		n.RecordReclaimError()
		n.RecordRecovery(1, 1, true, time.Millisecond)
		n.UpdateQueueState(QueueState{})
	})
}
