package lts

import (
	"context"
	"testing"
	"time"
)

type fakeChecker struct {
	calls int
	state LicenseState
	err   error
}

func (f *fakeChecker) Check(_ context.Context, _ string) (LicenseState, error) {
	f.calls++
	return f.state, f.err
}

func TestSentinelLicenseIsValidImmediately(t *testing.T) {
	l := NewLicense(sentinelLicenseKey, nil, "http://127.0.0.1:9999")
	if !l.SubmissionAllowed() {
		t.Error("expected sentinel license to allow submission")
	}
	if l.Endpoint() == "" {
		t.Error("expected sentinel license to carry a local endpoint")
	}
}

func TestUnknownLicenseChecksAndTransitions(t *testing.T) {
	checker := &fakeChecker{state: Valid}
	l := NewLicense("real-key", checker, "")
	now := time.Unix(0, 0)
	if err := l.MaybeCheck(context.Background(), now); err != nil {
		t.Fatalf("MaybeCheck: %v", err)
	}
	if !l.SubmissionAllowed() {
		t.Error("expected license to become Valid")
	}
	if checker.calls != 1 {
		t.Errorf("expected exactly 1 check, got %d", checker.calls)
	}
}

func TestUnknownLicenseRetriesHourly(t *testing.T) {
	checker := &fakeChecker{state: Unknown}
	l := NewLicense("real-key", checker, "")
	now := time.Unix(0, 0)
	l.MaybeCheck(context.Background(), now)
	l.MaybeCheck(context.Background(), now.Add(10*time.Minute))
	if checker.calls != 1 {
		t.Errorf("expected no re-check before an hour elapses, got %d calls", checker.calls)
	}
	l.MaybeCheck(context.Background(), now.Add(61*time.Minute))
	if checker.calls != 2 {
		t.Errorf("expected a re-check after an hour, got %d calls", checker.calls)
	}
}

func TestDeniedLicenseStopsSubmission(t *testing.T) {
	checker := &fakeChecker{state: Denied}
	l := NewLicense("real-key", checker, "")
	l.MaybeCheck(context.Background(), time.Unix(0, 0))
	if l.SubmissionAllowed() {
		t.Error("expected Denied license to block submission")
	}
	// Denied is terminal: a later MaybeCheck must not re-invoke the checker.
	l.MaybeCheck(context.Background(), time.Unix(0, 0).Add(2*time.Hour))
	if checker.calls != 1 {
		t.Errorf("expected Denied to be terminal, got %d calls", checker.calls)
	}
}
