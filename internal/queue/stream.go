package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StreamHandler is called for each record in the stream.
// Return an error to stop streaming.
type StreamHandler func(*Record) error

// Stream continuously dequeues records and calls the handler for each, in
// order, acknowledging each record once the handler returns nil.
// Streaming continues until the context is cancelled or an error occurs.
//
// When the queue is empty, Stream polls every Options.StreamPollInterval.
//
// Context cancellation stops streaming and returns the context error.
// A handler error stops streaming and is returned wrapped; the record it
// was called with stays unacknowledged and is delivered again after Rewind
// or after the queue is reopened. A *DecodeError also stops streaming, but
// the undecodable record has been read past, so calling Stream again
// continues with the record after it.
//
// Example usage:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//
//	err := q.Stream(ctx, func(rec *Record) error {
//	    fmt.Printf("Received: %s\n", rec.Payload)
//	    return nil
//	})
func (q *Queue) Stream(ctx context.Context, handler StreamHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	idle := time.NewTimer(q.opts.StreamPollInterval)
	defer idle.Stop()

	for {
		if err := q.drain(ctx, handler); err != nil {
			return err
		}

		idle.Reset(q.opts.StreamPollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
		}
	}
}

// drain delivers records until the queue has nothing unread.
func (q *Queue) drain(ctx context.Context, handler StreamHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := q.Dequeue()
		if err != nil {
			return fmt.Errorf("stream dequeue error: %w", err)
		}
		if rec == nil {
			return nil
		}

		if err := handler(rec); err != nil {
			return fmt.Errorf("handler error: %w", err)
		}
		if err := q.Ack(rec.Sequence); err != nil {
			return fmt.Errorf("stream ack error: %w", err)
		}
	}
}
