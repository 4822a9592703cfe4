package lts

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestHeaderRoundTrip(t *testing.T) {
	in := Header{LicenseKey: "abc123"}
	copy(in.NodeID[:], []byte("0123456789abcdef"))
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	in.Nonce = nonce

	buf := in.MarshalMsg(nil)
	var out Header
	rest, err := out.UnmarshalMsg(buf)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("expected no leftover bytes, got %d", len(rest))
	}
	if out.NodeID != in.NodeID || out.LicenseKey != in.LicenseKey || out.Nonce != in.Nonce {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func genBoxKeypair(t *testing.T) (pub, priv [32]byte) {
	t.Helper()
	if _, err := rand.Read(priv[:]); err != nil {
		t.Fatalf("random: %v", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	copy(pub[:], p)
	return pub, priv
}

func TestSealAndOpenBodyRoundTrip(t *testing.T) {
	serverPub, serverPriv := genBoxKeypair(t)
	clientPub, clientPriv := genBoxKeypair(t)
	_ = clientPub

	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	plaintext := []byte(`{"hello":"world","n":12345}`)
	sealed, err := SealBody(plaintext, nonce, &serverPub, &clientPriv)
	if err != nil {
		t.Fatalf("SealBody: %v", err)
	}
	opened, err := OpenBody(sealed, nonce, &clientPub, &serverPriv)
	if err != nil {
		t.Fatalf("OpenBody: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("OpenBody = %q, want %q", opened, plaintext)
	}
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	for _, version := range []uint16{SubmitVersion, HelloVersion} {
		var buf bytes.Buffer
		header := []byte("header-bytes")
		body := []byte("body-bytes")
		if err := WriteFrame(&buf, version, header, body); err != nil {
			t.Fatalf("WriteFrame(v%d): %v", version, err)
		}
		gotVersion, gotHeader, gotBody, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame(v%d): %v", version, err)
		}
		if gotVersion != version {
			t.Errorf("version = %d, want %d", gotVersion, version)
		}
		if !bytes.Equal(gotHeader, header) || !bytes.Equal(gotBody, body) {
			t.Errorf("round trip mismatch: header=%q body=%q", gotHeader, gotBody)
		}
	}
}

func TestCommandRoundTripHello(t *testing.T) {
	var pub [32]byte
	copy(pub[:], []byte("0123456789abcdef0123456789ab"))
	in := HelloCommand{BoxPublic: pub}
	cmd, err := UnmarshalCommand(MarshalCommand(in))
	if err != nil {
		t.Fatalf("UnmarshalCommand: %v", err)
	}
	out, ok := cmd.(HelloCommand)
	if !ok {
		t.Fatalf("got %T, want HelloCommand", cmd)
	}
	if out.BoxPublic != in.BoxPublic {
		t.Errorf("round trip mismatch: got %x, want %x", out.BoxPublic, in.BoxPublic)
	}
}

func TestCommandRoundTripSubmit(t *testing.T) {
	in := SubmitCommand{Payload: []byte(`[{"timestamp":1}]`)}
	cmd, err := UnmarshalCommand(MarshalCommand(in))
	if err != nil {
		t.Fatalf("UnmarshalCommand: %v", err)
	}
	out, ok := cmd.(SubmitCommand)
	if !ok {
		t.Fatalf("got %T, want SubmitCommand", cmd)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("round trip mismatch: got %q, want %q", out.Payload, in.Payload)
	}
}

func TestReadFrameRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x03}) // version 3: neither submit nor hello
	if _, _, _, err := ReadFrame(&buf); err == nil {
		t.Error("expected an error for an unknown protocol version")
	}
}

func TestOpenBodyRejectsOversizedDecompression(t *testing.T) {
	serverPub, serverPriv := genBoxKeypair(t)
	clientPub, clientPriv := genBoxKeypair(t)
	_ = clientPub

	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	plaintext := bytes.Repeat([]byte{'a'}, maxDecompressedBody+1)
	sealed, err := SealBody(plaintext, nonce, &serverPub, &clientPriv)
	if err != nil {
		t.Fatalf("SealBody: %v", err)
	}
	if _, err := OpenBody(sealed, nonce, &clientPub, &serverPriv); err == nil {
		t.Error("expected OpenBody to reject a body over the decompression limit")
	}
}

// TestReadFrameRejectsOversizedLengthPrefix guards against a
// corrupted or hostile length prefix driving readLengthPrefixed's
// allocation before any bytes have even arrived: the prefix alone
// claims far more than maxFrameSection, and the read must fail before
// attempting to size a buffer for it.
func TestReadFrameRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01}) // protocol version 1
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], maxFrameSection+1)
	buf.Write(lenBuf[:])
	if _, _, _, err := ReadFrame(&buf); err == nil {
		t.Error("expected ReadFrame to reject an oversized header length prefix")
	}
}

func TestCommandRoundTripReplies(t *testing.T) {
	for _, in := range []Command{AckCommand{}, NotReadyYetCommand{}, FailCommand{Msg: "no such license"}} {
		out, err := UnmarshalCommand(MarshalCommand(in))
		if err != nil {
			t.Fatalf("UnmarshalCommand(%T): %v", in, err)
		}
		if out != in {
			t.Errorf("round trip mismatch: got %#v, want %#v", out, in)
		}
	}
}
