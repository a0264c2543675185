package record

import "errors"

var (
	// ErrMalformed covers hash and signature mismatches. Malformed
	// records are rejected and never stored.
	ErrMalformed = errors.New("malformed record")

	// ErrHashMismatch means a chunk's claimed address is not the hash
	// of its content.
	ErrHashMismatch = errors.New("chunk address does not match content hash")

	// ErrBadSignature means an op or spend signature failed to verify.
	ErrBadSignature = errors.New("invalid signature")
)
