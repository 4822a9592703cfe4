package datapath

import "testing"

func TestCanonicalKeyHostRoutes(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1":       "192.0.2.1",
		"192.0.2.1/32":    "192.0.2.1",
		"2001:db8::1":     "2001:db8::1",
		"2001:db8::1/128": "2001:db8::1",
	}
	for in, want := range cases {
		got, err := CanonicalKey(in)
		if err != nil {
			t.Fatalf("CanonicalKey(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("CanonicalKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalKeyNonHostPrefix(t *testing.T) {
	got, err := CanonicalKey("192.0.2.0/24")
	if err != nil {
		t.Fatalf("CanonicalKey: %v", err)
	}
	if got != "192.0.2.0/24" {
		t.Errorf("got %q, want 192.0.2.0/24", got)
	}
}

func TestCanonicalKeyPreservesUnalignedAddress(t *testing.T) {
	got, err := CanonicalKey("10.0.0.3/31")
	if err != nil {
		t.Fatalf("CanonicalKey: %v", err)
	}
	if got != "10.0.0.3/31" {
		t.Errorf("got %q, want 10.0.0.3/31 (literal address, not masked to 10.0.0.2/31)", got)
	}
}

func TestCanonicalKeyInvalid(t *testing.T) {
	if _, err := CanonicalKey("not-an-ip"); err == nil {
		t.Error("expected error for invalid token")
	}
	if _, err := CanonicalKey(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestToPrefixRoundTrip(t *testing.T) {
	p, err := ToPrefix("192.0.2.1")
	if err != nil {
		t.Fatalf("ToPrefix: %v", err)
	}
	if p.Bits() != 32 {
		t.Errorf("expected /32, got /%d", p.Bits())
	}
}
