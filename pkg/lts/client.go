package lts

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/libreqos/lqosd/pkg/log"
)

// defaultRetryInterval is how long Run waits between drain attempts
// when the queue is empty or a send just failed.
const defaultRetryInterval = 10 * time.Second

// Client drains the reliability Queue and delivers each batch to a
// remote LTS endpoint over the framed protocol in protocol.go.
// It owns the only code path that reads pendingSubmission, so
// callers outside this package never see the queue's internal type:
// they construct a Client and call Run.
type Client struct {
	Identity *Identity
	License  *License
	Queue    *Queue

	// Dial opens a fresh connection to the submission endpoint.
	Dial func(ctx context.Context) (net.Conn, error)
	// ServerBoxPublic is the server's curve25519 public key. A zero
	// value means it hasn't been learned yet; send performs the hello
	// exchange on the next connection and fills it in before sealing
	// any Submit command.
	ServerBoxPublic [32]byte

	RetryInterval time.Duration
}

// NewClient returns a Client with RetryInterval defaulted.
func NewClient(identity *Identity, license *License, queue *Queue, dial func(ctx context.Context) (net.Conn, error), serverBoxPublic [32]byte) *Client {
	return &Client{
		Identity:        identity,
		License:         license,
		Queue:           queue,
		Dial:            dial,
		ServerBoxPublic: serverBoxPublic,
		RetryInterval:   defaultRetryInterval,
	}
}

// Run drains and delivers batches until ctx is canceled. It polls at
// RetryInterval rather than waiting on a notification channel, since
// nothing else in this queue's API signals readiness; the effect on
// delivery semantics is the same.
func (c *Client) Run(ctx context.Context) error {
	interval := c.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.License.MaybeCheck(ctx, time.Now()); err != nil {
			log.Logger.Warn().Err(err).Msg("lts license check failed")
		}
		if c.License.SubmissionAllowed() {
			c.flush(ctx)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// flush drains the queue once and attempts delivery, requeueing the
// whole batch on any failure; the queue stays cleared on success only.
func (c *Client) flush(ctx context.Context) {
	batch := c.Queue.Drain()
	if len(batch) == 0 {
		return
	}
	if err := c.send(ctx, batch); err != nil {
		log.Logger.Warn().Err(err).Int("batch", len(batch)).Msg("lts submission failed, rotating box key and retrying")
		if rerr := c.Identity.RotateBoxKey(); rerr != nil {
			log.Logger.Error().Err(rerr).Msg("lts box key rotation failed")
		}
		// The server only ever learned the pre-rotation public key via
		// hello; sealing with the new private key against a stale
		// ServerBoxPublic would never decrypt. Forget it so the next
		// send redoes the hello exchange.
		c.ServerBoxPublic = [32]byte{}
		c.Queue.Requeue(batch)
	}
}

// send delivers one batch as a single sealed frame per connection,
// then waits for the server's reply; only an Ack counts as delivered.
// If the server's box public key hasn't been learned yet, it first
// runs the hello exchange over the same connection.
func (c *Client) send(ctx context.Context, batch []pendingSubmission) error {
	conn, err := c.Dial(ctx)
	if err != nil {
		return fmt.Errorf("lts: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if c.ServerBoxPublic == ([32]byte{}) {
		if err := c.hello(conn); err != nil {
			return fmt.Errorf("lts: hello: %w", err)
		}
	}

	submissions := make([]interface{}, len(batch))
	for i, p := range batch {
		submissions[i] = p.submission
	}
	plaintext, err := json.Marshal(submissions)
	if err != nil {
		return fmt.Errorf("lts: marshal batch: %w", err)
	}
	cmdBytes := MarshalCommand(SubmitCommand{Payload: plaintext})

	nonce, err := NewNonce()
	if err != nil {
		return fmt.Errorf("lts: new nonce: %w", err)
	}
	body, err := SealBody(cmdBytes, nonce, &c.ServerBoxPublic, &c.Identity.boxPrivate)
	if err != nil {
		return fmt.Errorf("lts: seal body: %w", err)
	}

	header := Header{
		NodeID:     [16]byte(c.Identity.NodeID),
		LicenseKey: c.License.Key,
		Nonce:      nonce,
	}
	headerBytes := header.MarshalMsg(nil)

	if err := WriteFrame(conn, SubmitVersion, headerBytes, body); err != nil {
		return fmt.Errorf("lts: write frame: %w", err)
	}
	return c.readSubmitReply(conn)
}

// readSubmitReply reads the server's reply to a submission and treats
// anything other than Ack as a failed delivery, so the batch is
// requeued instead of dropped on a reply the server never accepted.
func (c *Client) readSubmitReply(conn net.Conn) error {
	version, headerBytes, body, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("lts: read reply: %w", err)
	}
	if version != SubmitVersion {
		return fmt.Errorf("lts: reply version %d, want %d", version, SubmitVersion)
	}
	var header Header
	if _, err := header.UnmarshalMsg(headerBytes); err != nil {
		return fmt.Errorf("lts: decode reply header: %w", err)
	}
	plaintext, err := OpenBody(body, header.Nonce, &c.ServerBoxPublic, &c.Identity.boxPrivate)
	if err != nil {
		return fmt.Errorf("lts: open reply: %w", err)
	}
	cmd, err := UnmarshalCommand(plaintext)
	if err != nil {
		return fmt.Errorf("lts: decode reply: %w", err)
	}
	switch v := cmd.(type) {
	case AckCommand:
		return nil
	case NotReadyYetCommand:
		return fmt.Errorf("lts: server not ready yet")
	case FailCommand:
		return fmt.Errorf("lts: server rejected submission: %s", v.Msg)
	default:
		return fmt.Errorf("lts: unexpected reply %T", cmd)
	}
}

// hello exchanges HelloCommand envelopes with the server over conn,
// learning its box public key and storing it on c for the sealed
// Submit frame that follows on the same connection.
func (c *Client) hello(conn net.Conn) error {
	nonce, err := NewNonce()
	if err != nil {
		return fmt.Errorf("new nonce: %w", err)
	}
	cmdBytes := MarshalCommand(HelloCommand{BoxPublic: c.Identity.BoxPublic})
	body, err := deflateBody(cmdBytes)
	if err != nil {
		return fmt.Errorf("compress hello: %w", err)
	}
	header := Header{
		NodeID:     [16]byte(c.Identity.NodeID),
		LicenseKey: c.License.Key,
		Nonce:      nonce,
	}
	if err := WriteFrame(conn, HelloVersion, header.MarshalMsg(nil), body); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	version, _, respBody, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read hello reply: %w", err)
	}
	if version != HelloVersion {
		return fmt.Errorf("hello reply version %d, want %d", version, HelloVersion)
	}
	plaintext, err := inflateBody(respBody)
	if err != nil {
		return fmt.Errorf("decompress hello reply: %w", err)
	}
	cmd, err := UnmarshalCommand(plaintext)
	if err != nil {
		return fmt.Errorf("decode hello reply: %w", err)
	}
	reply, ok := cmd.(HelloCommand)
	if !ok {
		return fmt.Errorf("expected hello reply, got %T", cmd)
	}
	c.ServerBoxPublic = reply.BoxPublic
	return nil
}
