package collator

import (
	"sync"
	"time"
)

const (
	asnInactivityLimit = 15 * time.Minute
	asnCap             = 1000
)

type asnBucket struct {
	heatmap    Heatmap
	lastActive time.Time
}

// ASNStore holds one Heatmap per traffic-classification ASN, evicting
// buckets inactive for more than 15 minutes and capping itself at 1000
// entries by pruning the oldest-inactive bucket first.
type ASNStore struct {
	mu      sync.Mutex
	buckets map[uint32]*asnBucket
}

// NewASNStore returns an empty store.
func NewASNStore() *ASNStore {
	return &ASNStore{buckets: make(map[uint32]*asnBucket)}
}

// Observe records one sample for the given ASN at time now, creating
// the bucket if needed, and enforces the eviction policy.
func (s *ASNStore) Observe(asn uint32, value float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[asn]
	if !ok {
		b = &asnBucket{}
		s.buckets[asn] = b
	}
	b.heatmap.Add(value)
	b.lastActive = now
	s.evictLocked(now)
}

// Snapshot returns the heatmap for one ASN, if present.
func (s *ASNStore) Snapshot(asn uint32) ([]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[asn]
	if !ok {
		return nil, false
	}
	return b.heatmap.Snapshot(), true
}

// Len reports the number of tracked ASNs.
func (s *ASNStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *ASNStore) evictLocked(now time.Time) {
	for asn, b := range s.buckets {
		if now.Sub(b.lastActive) > asnInactivityLimit {
			delete(s.buckets, asn)
		}
	}
	for len(s.buckets) > asnCap {
		var oldestASN uint32
		var oldestTime time.Time
		first := true
		for asn, b := range s.buckets {
			if first || b.lastActive.Before(oldestTime) {
				oldestASN = asn
				oldestTime = b.lastActive
				first = false
			}
		}
		delete(s.buckets, oldestASN)
	}
}
