// Package arc validates Authenticated Received Chain (RFC 8617) header sets.
//
// Only the verifying side is implemented. The Verifier checks the chain
// structure, the cv= tags of every ARC-Seal, the most recent
// ARC-Message-Signature and every ARC-Seal signature, and reports the
// chain validation result as none, pass or fail.
package arc

import (
	"crypto"
	"errors"
)

// Status is the chain validation result.
type Status string

const (
	// StatusNone means the message carries no ARC headers.
	StatusNone Status = "none"

	// StatusPass means every ARC set validated.
	StatusPass Status = "pass"

	// StatusFail means the chain is broken or a signature did not validate.
	StatusFail Status = "fail"
)

// MaxInstance is the highest instance number RFC 8617 allows.
const MaxInstance = 50

var (
	ErrInvalidChain     = errors.New("arc: invalid chain structure")
	ErrCVMismatch       = errors.New("arc: chain validation status mismatch")
	ErrSyntax           = errors.New("arc: syntax error")
	ErrMissingTag       = errors.New("arc: missing required tag")
	ErrAlgorithmUnknown = errors.New("arc: unknown algorithm")
	ErrNoRecord         = errors.New("arc: no key record found")
	ErrDNS              = errors.New("arc: DNS lookup error")
	ErrKeyRevoked       = errors.New("arc: key has been revoked")
	ErrWeakKey          = errors.New("arc: key is too weak")
	ErrTLD              = errors.New("arc: signing domain is a public suffix")
	ErrBodyHashMismatch = errors.New("arc: body hash mismatch")
	ErrSignatureFailed  = errors.New("arc: signature verification failed")
)

// Result describes the outcome of validating a chain.
type Result struct {
	Status Status

	// Instances is the number of ARC sets found.
	Instances int

	// FailedInstance is the set that broke the chain, zero otherwise.
	FailedInstance int

	// Reason explains a fail result.
	Reason string

	// Err is the underlying cause of a fail result.
	Err error
}

func hashFor(alg string) (crypto.Hash, string, error) {
	switch alg {
	case "rsa-sha256":
		return crypto.SHA256, "rsa", nil
	case "rsa-sha1":
		return crypto.SHA1, "rsa", nil
	case "ed25519-sha256":
		return crypto.SHA256, "ed25519", nil
	default:
		return 0, "", ErrAlgorithmUnknown
	}
}
