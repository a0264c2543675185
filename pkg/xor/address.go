package xor

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Size is the number of bytes in an Address (256-bit name space).
const Size = 32

// Address is a fixed-length name in the shared XOR metric space.
// Peers and records use the same space: a peer's identity and a
// record's location are both addresses.
type Address [Size]byte

var Zero Address

// HashOf derives the content address of a byte payload (sha3-256).
func HashOf(content []byte) Address {
	return Address(sha3.Sum256(content))
}

// FromHex parses a 64-char hex string into an Address.
func FromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("address hex: %w", err)
	}
	if len(b) != Size {
		return Zero, fmt.Errorf("address hex: want %d bytes, got %d", Size, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// Random returns a uniformly random address.
func Random() Address {
	var a Address
	_, _ = rand.Read(a[:])
	return a
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 hex chars, for log fields.
func (a Address) Short() string {
	return hex.EncodeToString(a[:4])
}

func (a Address) Equal(b Address) bool {
	return a == b
}

func (a Address) IsZero() bool {
	return a == Zero
}

// Less orders addresses lexicographically, which for fixed-length
// big-endian byte strings is the numeric order.
func (a Address) Less(b Address) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Distance returns the XOR distance between two addresses.
func (a Address) Distance(b Address) Address {
	var d Address
	for i := 0; i < Size; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CommonPrefixLen counts the leading zero bits of the XOR distance
// between a and b, which is the shared prefix length of the two names.
func (a Address) CommonPrefixLen(b Address) int {
	for i := 0; i < Size; i++ {
		d := a[i] ^ b[i]
		if d == 0 {
			continue
		}
		n := i * 8
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if d&mask != 0 {
				return n
			}
			n++
		}
	}
	return Size * 8
}

// CloserTo reports whether a is strictly closer to target than b is.
func (a Address) CloserTo(target, b Address) bool {
	return a.Distance(target).Less(b.Distance(target))
}

// MarshalText / UnmarshalText make addresses hex in JSON and YAML.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
