// Package lts implements the long-term-stats submission client: the
// wire protocol, reliability queue, and license gate that deliver
// StatsSubmission envelopes to a remote ingestion endpoint.
package lts

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
)

// Identity is a node's ed25519/curve25519 keypair plus its node id.
// It lives in memory only: nothing here saves or loads it, so every
// NewIdentity call yields a fresh keypair and node id.
type Identity struct {
	NodeID uuid.UUID

	SigningPublic  ed25519.PublicKey
	signingPrivate ed25519.PrivateKey

	BoxPublic  [32]byte
	boxPrivate [32]byte
}

// NewIdentity generates a fresh node identity: a random node_id, an
// ed25519 signing keypair, and a curve25519 box keypair derived from
// an independent random scalar.
func NewIdentity() (*Identity, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("lts: generate signing key: %w", err)
	}
	var boxPriv [32]byte
	if _, err := rand.Read(boxPriv[:]); err != nil {
		return nil, fmt.Errorf("lts: generate box key: %w", err)
	}
	boxPub, err := curve25519.X25519(boxPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("lts: derive box public key: %w", err)
	}
	id := &Identity{
		NodeID:         uuid.New(),
		SigningPublic:  signPub,
		signingPrivate: signPriv,
	}
	copy(id.BoxPublic[:], boxPub)
	id.boxPrivate = boxPriv
	return id, nil
}

// Sign signs a message with the node's ed25519 key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.signingPrivate, msg)
}

// RotateBoxKey replaces the curve25519 keypair, used on a key-exchange
// retry after a failed write.
func (id *Identity) RotateBoxKey() error {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return fmt.Errorf("lts: rotate box key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("lts: derive rotated public key: %w", err)
	}
	id.boxPrivate = priv
	copy(id.BoxPublic[:], pub)
	return nil
}
