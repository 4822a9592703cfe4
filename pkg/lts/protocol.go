package lts

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/tinylib/msgp/msgp"
	"golang.org/x/crypto/nacl/box"
)

// Wire protocol versions. Version 1 frames a sealed submission;
// version 2 frames the hello handshake that carries a box public key.
// A peer receiving any other value closes the connection.
const (
	SubmitVersion uint16 = 1
	HelloVersion  uint16 = 2
)

// flateLevel is the body compression level.
const flateLevel = 8

// maxDecompressedBody caps OpenBody's output: a submission whose
// decompressed body exceeds this is rejected rather than allowed to
// exhaust memory.
const maxDecompressedBody = 16 * 1024 * 1024

// Header is the deterministically serialized record sent as the frame
// header.
type Header struct {
	NodeID     [16]byte
	LicenseKey string
	Nonce      [24]byte
}

// MarshalMsg appends the msgpack encoding of the header to b, using
// tinylib/msgp's low-level Append helpers directly rather than
// generated code.
func (h Header) MarshalMsg(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendBytes(b, h.NodeID[:])
	b = msgp.AppendString(b, h.LicenseKey)
	b = msgp.AppendBytes(b, h.Nonce[:])
	return b
}

// UnmarshalMsg decodes a Header previously written by MarshalMsg,
// returning the unconsumed remainder of b.
func (h *Header) UnmarshalMsg(b []byte) ([]byte, error) {
	size, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, fmt.Errorf("lts: read header array: %w", err)
	}
	if size != 3 {
		return b, fmt.Errorf("lts: header array has %d elements, want 3", size)
	}
	nodeID, b, err := msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, fmt.Errorf("lts: read node_id: %w", err)
	}
	if len(nodeID) != 16 {
		return b, fmt.Errorf("lts: node_id is %d bytes, want 16", len(nodeID))
	}
	licenseKey, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return b, fmt.Errorf("lts: read license_key: %w", err)
	}
	nonce, b, err := msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, fmt.Errorf("lts: read nonce: %w", err)
	}
	if len(nonce) != 24 {
		return b, fmt.Errorf("lts: nonce is %d bytes, want 24", len(nonce))
	}
	copy(h.NodeID[:], nodeID)
	h.LicenseKey = licenseKey
	copy(h.Nonce[:], nonce)
	return b, nil
}

// NewNonce returns 24 cryptographically random bytes, one fresh nonce
// per message.
func NewNonce() ([24]byte, error) {
	var n [24]byte
	_, err := rand.Read(n[:])
	return n, err
}

// deflateBody compresses plaintext with deflate at flateLevel, shared
// by SealBody and the cleartext hello exchange.
func deflateBody(plaintext []byte) ([]byte, error) {
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flateLevel)
	if err != nil {
		return nil, fmt.Errorf("lts: new flate writer: %w", err)
	}
	if _, err := fw.Write(plaintext); err != nil {
		return nil, fmt.Errorf("lts: compress body: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("lts: flush compressed body: %w", err)
	}
	return compressed.Bytes(), nil
}

func inflateBody(compressed []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(compressed))
	defer fr.Close()
	limited := io.LimitReader(fr, maxDecompressedBody+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("lts: decompress body: %w", err)
	}
	if len(out) > maxDecompressedBody {
		return nil, fmt.Errorf("lts: body too large (decompression limit %d bytes)", maxDecompressedBody)
	}
	return out, nil
}

// SealBody compresses plaintext with deflate at flateLevel, then
// seals it with curve25519 authenticated encryption keyed by nonce,
// the sender's secret key, and the recipient's public key.
func SealBody(plaintext []byte, nonce [24]byte, peerPublic, ourPrivate *[32]byte) ([]byte, error) {
	compressed, err := deflateBody(plaintext)
	if err != nil {
		return nil, err
	}
	return box.Seal(nil, compressed, &nonce, peerPublic, ourPrivate), nil
}

// OpenBody reverses SealBody.
func OpenBody(sealed []byte, nonce [24]byte, peerPublic, ourPrivate *[32]byte) ([]byte, error) {
	compressed, ok := box.Open(nil, sealed, &nonce, peerPublic, ourPrivate)
	if !ok {
		return nil, fmt.Errorf("lts: box authentication failed")
	}
	return inflateBody(compressed)
}

// Command is the application-level envelope carried inside a frame's
// body. SubmitCommand carries a stats batch; HelloCommand is carried
// by the hello that opens a connection before either side knows the
// other's box public key.
type Command interface {
	isCommand()
	commandKind() string
}

// HelloCommand carries the sender's curve25519 box public key. It is
// the only command ever sent compressed-but-unsealed, since the
// whole point of exchanging it is that no shared key exists yet.
type HelloCommand struct {
	BoxPublic [32]byte
}

func (HelloCommand) isCommand()          {}
func (HelloCommand) commandKind() string { return "hello" }

// SubmitCommand carries one sealed batch's JSON-encoded submissions.
// The command envelope framing is msgp (matching Header); the
// submission payload itself is plain JSON.
type SubmitCommand struct {
	Payload []byte
}

func (SubmitCommand) isCommand()          {}
func (SubmitCommand) commandKind() string { return "submit" }

// AckCommand, NotReadyYetCommand, and FailCommand are the server's
// replies to a submission. Only Ack counts as delivery; the other two
// leave the batch queued for retry.
type AckCommand struct{}

func (AckCommand) isCommand()          {}
func (AckCommand) commandKind() string { return "ack" }

type NotReadyYetCommand struct{}

func (NotReadyYetCommand) isCommand()          {}
func (NotReadyYetCommand) commandKind() string { return "not_ready_yet" }

type FailCommand struct {
	Msg string
}

func (FailCommand) isCommand()          {}
func (FailCommand) commandKind() string { return "fail" }

// MarshalCommand appends the msgpack encoding of a Command envelope,
// a 2-element array of {kind, data}, using the same hand-written
// msgp.Append* calls as Header.MarshalMsg.
func MarshalCommand(c Command) []byte {
	var b []byte
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendString(b, c.commandKind())
	switch v := c.(type) {
	case HelloCommand:
		b = msgp.AppendBytes(b, v.BoxPublic[:])
	case SubmitCommand:
		b = msgp.AppendBytes(b, v.Payload)
	case AckCommand, NotReadyYetCommand:
		b = msgp.AppendBytes(b, nil)
	case FailCommand:
		b = msgp.AppendBytes(b, []byte(v.Msg))
	default:
		panic(fmt.Sprintf("lts: unknown command type %T", c))
	}
	return b
}

// UnmarshalCommand decodes a Command envelope written by MarshalCommand.
func UnmarshalCommand(b []byte) (Command, error) {
	size, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("lts: read command array: %w", err)
	}
	if size != 2 {
		return nil, fmt.Errorf("lts: command array has %d elements, want 2", size)
	}
	kind, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return nil, fmt.Errorf("lts: read command kind: %w", err)
	}
	data, _, err := msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return nil, fmt.Errorf("lts: read command data: %w", err)
	}
	switch kind {
	case "hello":
		if len(data) != 32 {
			return nil, fmt.Errorf("lts: hello command key is %d bytes, want 32", len(data))
		}
		var h HelloCommand
		copy(h.BoxPublic[:], data)
		return h, nil
	case "submit":
		return SubmitCommand{Payload: data}, nil
	case "ack":
		return AckCommand{}, nil
	case "not_ready_yet":
		return NotReadyYetCommand{}, nil
	case "fail":
		return FailCommand{Msg: string(data)}, nil
	default:
		return nil, fmt.Errorf("lts: unknown command kind %q", kind)
	}
}

// WriteFrame writes one frame: the protocol version, then a
// length-prefixed header, then a length-prefixed body. version is
// SubmitVersion for sealed submissions and HelloVersion for the
// handshake.
func WriteFrame(w io.Writer, version uint16, header []byte, body []byte) error {
	var lenBuf [8]byte

	if err := binary.Write(w, binary.BigEndian, version); err != nil {
		return fmt.Errorf("lts: write version: %w", err)
	}
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(header)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("lts: write header length: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("lts: write header: %w", err)
	}
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("lts: write body length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("lts: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame, returning its
// protocol version. SubmitVersion and HelloVersion are the only known
// values; anything else is an unknown-version error.
func ReadFrame(r io.Reader) (version uint16, header, body []byte, err error) {
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return 0, nil, nil, fmt.Errorf("lts: read version: %w", err)
	}
	if version != SubmitVersion && version != HelloVersion {
		return 0, nil, nil, fmt.Errorf("lts: unknown protocol version %d", version)
	}
	header, err = readLengthPrefixed(r)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("lts: read header: %w", err)
	}
	body, err = readLengthPrefixed(r)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("lts: read body: %w", err)
	}
	return version, header, body, nil
}

// maxFrameSection bounds a single length-prefixed header or body
// section before it's allocated, so a corrupted or hostile length
// prefix can't make readLengthPrefixed attempt a multi-exabyte
// allocation. The wire body is compressed and separately capped by
// maxDecompressedBody after inflation; this is the pre-allocation
// guard on the compressed bytes themselves.
const maxFrameSection = 64 * 1024 * 1024

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	if n > maxFrameSection {
		return nil, fmt.Errorf("lts: frame section too large (%d bytes, limit %d)", n, maxFrameSection)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
