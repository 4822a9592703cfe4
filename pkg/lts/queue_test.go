package lts

import (
	"testing"

	"github.com/libreqos/lqosd/pkg/collator"
)

func TestQueueDropsOldestAtWatermark(t *testing.T) {
	q := NewQueue()
	for i := 0; i < watermark+5; i++ {
		q.Enqueue(collator.StatsSubmission{Timestamp: int64(i)})
	}
	if q.Len() != watermark {
		t.Fatalf("expected length capped at %d, got %d", watermark, q.Len())
	}
	batch := q.Drain()
	if batch[0].submission.Timestamp != 5 {
		t.Errorf("expected oldest-surviving timestamp 5, got %d", batch[0].submission.Timestamp)
	}
}

func TestQueueDrainTagsAttempts(t *testing.T) {
	q := NewQueue()
	q.Enqueue(collator.StatsSubmission{Timestamp: 1})
	batch := q.Drain()
	if len(batch) != 1 || batch[0].attempts != 1 {
		t.Fatalf("expected attempts=1 on first drain, got %+v", batch)
	}
	if q.Len() != 0 {
		t.Errorf("expected queue cleared after drain, got %d", q.Len())
	}
}

func TestQueueRequeuePreservesOrder(t *testing.T) {
	q := NewQueue()
	q.Enqueue(collator.StatsSubmission{Timestamp: 1})
	q.Enqueue(collator.StatsSubmission{Timestamp: 2})
	batch := q.Drain()
	q.Enqueue(collator.StatsSubmission{Timestamp: 3})
	q.Requeue(batch)
	final := q.Drain()
	if len(final) != 3 || final[0].submission.Timestamp != 1 || final[2].submission.Timestamp != 3 {
		t.Errorf("expected order [1,2,3], got %+v", final)
	}
}
