package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStream(t *testing.T) {
	q := setupQueue(t, func(o *Options) { o.StreamPollInterval = 5 * time.Millisecond })
	enqueueN(t, q, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []uint64
	err := q.Stream(ctx, func(rec *Record) error {
		if string(rec.Payload) != msg(len(got)) {
			t.Errorf("record %d payload = %q, want %q", rec.Sequence, rec.Payload, msg(len(got)))
		}
		got = append(got, rec.Sequence)
		if len(got) == 5 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream() error = %v, want context.Canceled", err)
	}

	for i, seq := range got {
		if seq != uint64(i) { //nolint:gosec // G115: test values
			t.Errorf("streamed #%d = %d, want %d", i, seq, i)
		}
	}

	// Every handled record was acknowledged
	if stats := q.Stats(); stats.CommittedSequence != 5 {
		t.Errorf("CommittedSequence = %d, want 5", stats.CommittedSequence)
	}
}

func TestStream_ReceivesLateRecords(t *testing.T) {
	q := setupQueue(t, func(o *Options) { o.StreamPollInterval = 5 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		for i := 0; i < 3; i++ {
			if _, err := q.Enqueue([]byte(msg(i))); err != nil {
				t.Errorf("Enqueue() error = %v", err)
			}
		}
	}()

	count := 0
	err := q.Stream(ctx, func(*Record) error {
		count++
		if count == 3 {
			cancel()
		}
		return nil
	})
	wg.Wait()

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream() error = %v, want context.Canceled", err)
	}
	if count != 3 {
		t.Errorf("handled %d records, want 3", count)
	}
}

func TestStream_HandlerError(t *testing.T) {
	q := setupQueue(t, func(o *Options) { o.StreamPollInterval = 5 * time.Millisecond })
	enqueueN(t, q, 3)

	boom := errors.New("handler failed")
	err := q.Stream(context.Background(), func(rec *Record) error {
		if rec.Sequence == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Stream() error = %v, want handler error", err)
	}

	// Record 1 was delivered but not acknowledged
	stats := q.Stats()
	if stats.CommittedSequence != 1 || stats.Unacked != 1 {
		t.Errorf("CommittedSequence = %d, Unacked = %d, want 1 and 1", stats.CommittedSequence, stats.Unacked)
	}

	_, err = q.Rewind()
	assertNoError(t, err)
	assertDequeue(t, q, 1, msg(1))
}

func TestStream_NilHandler(t *testing.T) {
	q := setupQueue(t)

	if err := q.Stream(context.Background(), nil); err == nil {
		t.Error("Stream(nil) error = nil, want error")
	}
}

func TestStream_ClosedQueue(t *testing.T) {
	q := setupQueue(t, func(o *Options) { o.StreamPollInterval = 5 * time.Millisecond })
	assertNoError(t, q.Close())

	err := q.Stream(context.Background(), func(*Record) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Stream() error = %v, want ErrClosed", err)
	}
}
