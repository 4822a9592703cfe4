package lts

import (
	"sync"

	"github.com/libreqos/lqosd/pkg/collator"
	"github.com/libreqos/lqosd/pkg/log"
)

// watermark is the bounded queue's high-water mark: once length
// reaches this, the oldest entry is dropped before enqueueing a new
// one.
const watermark = 50

// pendingSubmission tags a queued envelope with how many delivery
// attempts have been made.
type pendingSubmission struct {
	submission collator.StatsSubmission
	attempts   int
}

// Queue is the bounded in-memory reliability queue. It also satisfies
// collator.Sink so a Collator can enqueue directly.
type Queue struct {
	mu      sync.Mutex
	pending []pendingSubmission
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue implements collator.Sink.
func (q *Queue) Enqueue(s collator.StatsSubmission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= watermark {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		log.Logger.Warn().Int64("timestamp", dropped.submission.Timestamp).Msg("lts queue full, dropping oldest submission")
	}
	q.pending = append(q.pending, pendingSubmission{submission: s})
}

// Len reports the number of pending submissions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain returns every pending submission in enqueue order, tagging
// each with its attempt count incremented by one, and clears the
// queue. Callers that fail to deliver the batch must call Requeue to
// return it; the queue stays cleared on success only.
func (q *Queue) Drain() []pendingSubmission {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := make([]pendingSubmission, len(q.pending))
	for i, p := range q.pending {
		out[i] = pendingSubmission{submission: p.submission, attempts: p.attempts + 1}
	}
	q.pending = nil
	return out
}

// Requeue puts a previously drained batch back at the front of the
// queue, preserving enqueue order, on a failed delivery attempt.
func (q *Queue) Requeue(batch []pendingSubmission) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(batch, q.pending...)
	if len(q.pending) > watermark {
		excess := len(q.pending) - watermark
		q.pending = q.pending[excess:]
	}
}
