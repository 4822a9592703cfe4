package collator

import "sync"

// warmupDrop is the number of entries silently dropped right after
// startup, so warm-up artifacts never reach a submission.
const warmupDrop = 5

// SessionBuffer is the shared append-only/drain-and-clear structure
// between samplers and the Collator: producers append every tick; the
// Collator is the sole consumer and drains it atomically at each
// collation period.
type SessionBuffer struct {
	mu       sync.Mutex
	entries  []SessionEntry
	seenTotal int
}

// NewSessionBuffer returns an empty buffer.
func NewSessionBuffer() *SessionBuffer {
	return &SessionBuffer{}
}

// Append records one entry. The first warmupDrop entries ever seen by
// this buffer are discarded rather than stored.
func (b *SessionBuffer) Append(e SessionEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seenTotal++
	if b.seenTotal <= warmupDrop {
		return
	}
	b.entries = append(b.entries, e)
}

// DrainAndClear atomically removes and returns every buffered entry.
// It returns nil if the buffer is empty, in which case the collation
// tick produces nothing.
func (b *SessionBuffer) DrainAndClear() []SessionEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	out := b.entries
	b.entries = nil
	return out
}
