package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/vnykmshr/filequeue/pkg/filequeue"
)

func runStats(env *cmdEnv, args []string) error {
	queueDir := args[0]

	q, err := env.open(context.Background(), queueDir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	stats := q.Stats()

	w := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Queue Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintf(w, "Directory:\t%s\n", queueDir)
	fmt.Fprintf(w, "Queue ID:\t%s\n", stats.QueueID)
	fmt.Fprintf(w, "Pending Records:\t%d\n", stats.Pending)
	fmt.Fprintf(w, "Next Sequence:\t%d\n", stats.NextSequence)
	fmt.Fprintf(w, "Committed Sequence:\t%d\n", stats.CommittedSequence)
	fmt.Fprintf(w, "Oldest Sequence:\t%d\n", stats.OldestSequence)
	fmt.Fprintf(w, "Segment Count:\t%d\n", stats.SegmentCount)
	fmt.Fprintf(w, "Active Segment:\t%d\n", stats.ActiveSegmentID)
	fmt.Fprintf(w, "Total Bytes:\t%d (%.2f MB)\n", stats.TotalBytes, float64(stats.TotalBytes)/1024/1024)

	if stats.NextSequence > 0 {
		consumedPct := float64(stats.CommittedSequence) / float64(stats.NextSequence) * 100
		fmt.Fprintf(w, "Consumed:\t%.1f%%\n", consumedPct)
	}

	return w.Flush()
}

func runInspect(env *cmdEnv, args []string) error {
	queueDir := args[0]

	// scan before Open so the report shows any torn tail Open would repair
	report, err := verifyQueue(queueDir)
	if err != nil {
		return err
	}

	q, err := env.open(context.Background(), queueDir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	inspection := map[string]interface{}{
		"directory": queueDir,
		"stats":     q.Stats(),
		"segments":  report.Segments,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(env.stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(inspection); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func runVerify(env *cmdEnv, args []string) error {
	report, err := verifyQueue(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEGMENT\tBASE\tRECORDS\tBYTES\tSTATUS")
	for _, s := range report.Segments {
		status := "ok"
		if s.Problem != "" {
			status = s.Problem
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d/%d\t%s\n", s.File, s.BaseSequence, s.Records, s.End, s.FileSize, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if report.Metadata != "" {
		fmt.Fprintf(env.stdout, "\nMetadata: %s (the next open starts a new queue identity)\n", report.Metadata)
	} else {
		fmt.Fprintf(env.stdout, "\nQueue %s committed at %s\n", report.QueueID, report.Committed)
	}

	if report.Damaged() {
		return fmt.Errorf("%w: sealed segments are damaged", filequeue.ErrCorruption)
	}
	return nil
}

func runPeek(env *cmdEnv, args []string) error {
	queueDir := args[0]
	count := 10 // default

	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count: %w", err)
		}
		count = n
	}
	if count <= 0 {
		return fmt.Errorf("count must be positive")
	}

	q, err := env.open(context.Background(), queueDir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	records := make([]*filequeue.Record, 0, count)
	for len(records) < count {
		rec, err := q.Dequeue()
		if err != nil {
			return fmt.Errorf("failed to read records: %w", err)
		}
		if rec == nil {
			break
		}
		records = append(records, rec)
	}

	// nothing was acknowledged, so every record read here is unread again
	if _, err := q.Rewind(); err != nil {
		return fmt.Errorf("failed to restore read position: %w", err)
	}

	fmt.Fprintf(env.stdout, "Peeking at next %d record(s):\n\n", len(records))

	for _, rec := range records {
		ts := time.Unix(0, rec.Timestamp).Format(time.RFC3339)
		fmt.Fprintf(env.stdout, "Record %d:\n", rec.Sequence)
		fmt.Fprintf(env.stdout, "  Timestamp: %s\n", ts)
		fmt.Fprintf(env.stdout, "  Size:      %d bytes\n", len(rec.Payload))

		// Show payload preview (first 100 chars)
		payload := string(rec.Payload)
		if len(payload) > 100 {
			payload = payload[:100] + "..."
		}
		fmt.Fprintf(env.stdout, "  Payload:   %q\n", payload)
		fmt.Fprintln(env.stdout)
	}

	return nil
}

func runEnqueue(env *cmdEnv, args []string) error {
	queueDir := args[0]

	var payloads [][]byte
	for _, a := range args[1:] {
		payloads = append(payloads, []byte(a))
	}
	if env.stdin {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			payloads = append(payloads, append([]byte(nil), scanner.Bytes()...))
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}
	if len(payloads) == 0 {
		return fmt.Errorf("no payloads given")
	}

	q, err := env.open(context.Background(), queueDir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	seqs, err := q.EnqueueBatch(payloads)
	if err != nil {
		return fmt.Errorf("enqueued %d of %d records: %w", len(seqs), len(payloads), err)
	}
	if err := q.Sync(); err != nil {
		return err
	}

	fmt.Fprintf(env.stdout, "Enqueued %d record(s), sequences %d..%d\n", len(seqs), seqs[0], seqs[len(seqs)-1])
	return nil
}

func runReclaim(env *cmdEnv, args []string) error {
	queueDir := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	q, err := env.open(ctx, queueDir)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	fmt.Fprintf(env.stdout, "Reclaiming consumed segments at %s...\n", queueDir)

	result, err := q.Reclaim(ctx)
	if err != nil {
		return fmt.Errorf("reclaim stopped after %d segment(s): %w", result.Segments, err)
	}

	w := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nReclaim Result")
	fmt.Fprintln(w, "==============")
	fmt.Fprintf(w, "Segments Removed:\t%d\n", result.Segments)
	fmt.Fprintf(w, "Records Removed:\t%d\n", result.Records)
	fmt.Fprintf(w, "Bytes Freed:\t%d (%.2f MB)\n", result.Bytes, float64(result.Bytes)/1024/1024)
	if err := w.Flush(); err != nil {
		return err
	}

	if result.Segments == 0 {
		fmt.Fprintln(env.stdout, "\nNo segments were eligible for removal.")
	}
	return nil
}
