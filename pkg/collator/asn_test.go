package collator

import (
	"testing"
	"time"
)

func TestASNStoreObserveAndSnapshot(t *testing.T) {
	s := NewASNStore()
	now := time.Unix(1000, 0)
	s.Observe(64512, 100, now)
	snap, ok := s.Snapshot(64512)
	if !ok {
		t.Fatal("expected bucket to exist")
	}
	if len(snap) != 1 || snap[0] != 100 {
		t.Errorf("snapshot = %v, want [100]", snap)
	}
}

func TestASNStoreEvictsInactiveBuckets(t *testing.T) {
	s := NewASNStore()
	base := time.Unix(1000, 0)
	s.Observe(1, 1, base)
	s.Observe(2, 1, base.Add(20*time.Minute))
	if _, ok := s.Snapshot(1); ok {
		t.Error("expected ASN 1 to be evicted after 15 minutes of inactivity")
	}
	if _, ok := s.Snapshot(2); !ok {
		t.Error("expected ASN 2 to remain")
	}
}

func TestASNStoreCapsAtThousand(t *testing.T) {
	s := NewASNStore()
	base := time.Unix(1000, 0)
	for i := uint32(0); i < asnCap+10; i++ {
		s.Observe(i, 1, base.Add(time.Duration(i)*time.Second))
	}
	if s.Len() > asnCap {
		t.Errorf("expected at most %d buckets, got %d", asnCap, s.Len())
	}
}
