package record

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/karstnet/karst/pkg/xor"
)

// RegisterOp is one operation in a register's history. A create op has
// a zero Predecessor; an edit references the op id it causally
// follows. The op id is the content hash of the operation, so
// identical ops dedupe and the history forms a DAG keyed by id.
type RegisterOp struct {
	Register    xor.Address `json:"register"`
	Author      []byte      `json:"author"` // ed25519 public key
	Predecessor xor.Address `json:"predecessor,omitempty"`
	Value       []byte      `json:"value"`
	Signature   []byte      `json:"signature"`
}

func (op RegisterOp) IsCreate() bool { return op.Predecessor.IsZero() }

// ID is the operation's content hash, excluding the signature so the
// id is fixed before signing.
func (op RegisterOp) ID() xor.Address {
	return xor.HashOf(op.signingBytes())
}

func (op RegisterOp) signingBytes() []byte {
	buf := make([]byte, 0, 2*xor.Size+len(op.Author)+len(op.Value)+16)
	buf = append(buf, "karst/register-op/v1"...)
	buf = append(buf, op.Register[:]...)
	buf = append(buf, op.Predecessor[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(op.Author)))
	buf = append(buf, op.Author...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(op.Value)))
	buf = append(buf, op.Value...)
	return buf
}

// Verify checks the author signature over the op's canonical bytes.
func (op RegisterOp) Verify() error {
	if len(op.Author) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: register op author key length %d", ErrMalformed, len(op.Author))
	}
	if !ed25519.Verify(ed25519.PublicKey(op.Author), op.signingBytes(), op.Signature) {
		return fmt.Errorf("%w: register op %s", ErrBadSignature, op.ID().Short())
	}
	return nil
}

// SignOp fills in Author and Signature from the given key.
func SignOp(op RegisterOp, priv ed25519.PrivateKey) RegisterOp {
	op.Author = append([]byte(nil), priv.Public().(ed25519.PublicKey)...)
	op.Signature = ed25519.Sign(priv, op.signingBytes())
	return op
}

// NewRegisterAddress derives the fixed address of a register from its
// creator and a caller-chosen nonce. The address never changes after
// creation even though the content does.
func NewRegisterAddress(creator ed25519.PublicKey, nonce []byte) xor.Address {
	buf := make([]byte, 0, len(creator)+len(nonce)+24)
	buf = append(buf, "karst/register-addr/v1"...)
	buf = append(buf, creator...)
	buf = append(buf, nonce...)
	return xor.HashOf(buf)
}
