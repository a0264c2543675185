package record

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/karstnet/karst/pkg/xor"
)

// SpendOutput is value produced by a spend: a fresh output address and
// the amount assigned to it.
type SpendOutput struct {
	Address xor.Address `json:"address"`
	Amount  uint64      `json:"amount"`
}

// Spend is an immutable, signed transfer: it consumes a set of prior
// output addresses and produces new outputs. A spend is stored at each
// input's address, so all spends of the same output land on the same
// close group and conflicts are a local lookup, not a global search.
type Spend struct {
	Inputs    []xor.Address `json:"inputs"`
	Outputs   []SpendOutput `json:"outputs"`
	Author    []byte        `json:"author"` // ed25519 public key
	Signature []byte        `json:"signature"`
}

// ID is the spend's content hash, excluding the signature.
func (s Spend) ID() xor.Address {
	return xor.HashOf(s.signingBytes())
}

func (s Spend) signingBytes() []byte {
	buf := make([]byte, 0, (len(s.Inputs)+len(s.Outputs)+1)*xor.Size+len(s.Author)+32)
	buf = append(buf, "karst/spend/v1"...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.Inputs)))
	for _, in := range s.Inputs {
		buf = append(buf, in[:]...)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.Outputs)))
	for _, out := range s.Outputs {
		buf = append(buf, out.Address[:]...)
		buf = binary.BigEndian.AppendUint64(buf, out.Amount)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.Author)))
	buf = append(buf, s.Author...)
	return buf
}

// Consumes reports whether addr is one of the spend's inputs.
func (s Spend) Consumes(addr xor.Address) bool {
	for _, in := range s.Inputs {
		if in == addr {
			return true
		}
	}
	return false
}

// Verify checks structural validity and the author signature. Amount
// balancing is wallet-layer policy and is not checked here.
func (s Spend) Verify() error {
	if len(s.Inputs) == 0 {
		return fmt.Errorf("%w: spend with no inputs", ErrMalformed)
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("%w: spend with no outputs", ErrMalformed)
	}
	if len(s.Author) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: spend author key length %d", ErrMalformed, len(s.Author))
	}
	if !ed25519.Verify(ed25519.PublicKey(s.Author), s.signingBytes(), s.Signature) {
		return fmt.Errorf("%w: spend %s", ErrBadSignature, s.ID().Short())
	}
	return nil
}

// SignSpend fills in Author and Signature from the given key.
func SignSpend(s Spend, priv ed25519.PrivateKey) Spend {
	s.Author = append([]byte(nil), priv.Public().(ed25519.PublicKey)...)
	s.Signature = ed25519.Sign(priv, s.signingBytes())
	return s
}

// OutputAddress derives the address of the i-th output a spend with
// the given id produces. Wallets use it when building the next spend's
// inputs.
func OutputAddress(spendID xor.Address, index uint32) xor.Address {
	buf := make([]byte, 0, xor.Size+24)
	buf = append(buf, "karst/output/v1"...)
	buf = append(buf, spendID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, index)
	return xor.HashOf(buf)
}
