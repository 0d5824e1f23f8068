// Package commitment binds a revealed secret to the digest published when a
// swap was created. Every function here is pure.
package commitment

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/sha3"

	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
)

// SecretSize is the size of secrets produced by NewSecret.
const SecretSize = 32

// Commitment errors
var (
	ErrUnknownScheme    = errors.New("unknown commitment scheme")
	ErrEmptyCommitment  = errors.New("commitment is empty")
	ErrCommitmentLength = errors.New("commitment length does not match scheme")
	ErrEmptySecret      = errors.New("secret is empty")
	ErrMismatch         = errors.New("secret does not match commitment")
)

// Scheme names a one-way digest function.
type Scheme string

const (
	SchemeSHA256    Scheme = "sha256"    // SHA256(secret), used by HTLC contracts and scripts
	SchemeSHA256d   Scheme = "sha256d"   // SHA256(SHA256(secret))
	SchemeHash160   Scheme = "hash160"   // RIPEMD160(SHA256(secret))
	SchemeKeccak256 Scheme = "keccak256" // legacy Keccak-256, as used on EVM chains
)

// DefaultScheme is used when a swap does not name one.
const DefaultScheme = SchemeSHA256

// Schemes lists every supported scheme.
func Schemes() []Scheme {
	return []Scheme{SchemeSHA256, SchemeSHA256d, SchemeHash160, SchemeKeccak256}
}

// ParseScheme parses a scheme name. The empty string yields DefaultScheme.
func ParseScheme(s string) (Scheme, error) {
	if s == "" {
		return DefaultScheme, nil
	}
	scheme := Scheme(strings.ToLower(s))
	if _, err := scheme.Size(); err != nil {
		return "", err
	}
	return scheme, nil
}

// Size returns the digest length of the scheme in bytes.
func (s Scheme) Size() (int, error) {
	switch s {
	case SchemeSHA256, SchemeSHA256d, SchemeKeccak256:
		return 32, nil
	case SchemeHash160:
		return 20, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, string(s))
	}
}

// Digest computes the commitment of secret under the scheme.
func (s Scheme) Digest(secret []byte) ([]byte, error) {
	switch s {
	case SchemeSHA256:
		h := sha256.Sum256(secret)
		return h[:], nil
	case SchemeSHA256d:
		return chainhash.DoubleHashB(secret), nil
	case SchemeHash160:
		return btcutil.Hash160(secret), nil
	case SchemeKeccak256:
		h := sha3.NewLegacyKeccak256()
		h.Write(secret)
		return h.Sum(nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, string(s))
	}
}

// CheckCommitment validates that a commitment is well formed for the scheme.
func (s Scheme) CheckCommitment(commitment []byte) error {
	size, err := s.Size()
	if err != nil {
		return err
	}
	if len(commitment) == 0 {
		return ErrEmptyCommitment
	}
	if len(commitment) != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrCommitmentLength, len(commitment), size)
	}
	return nil
}

// Verify reports whether secret hashes to commitment under the scheme.
// It returns ErrMismatch on a wrong secret and other errors for malformed input.
func (s Scheme) Verify(secret, commitment []byte) error {
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	if err := s.CheckCommitment(commitment); err != nil {
		return err
	}
	digest, err := s.Digest(secret)
	if err != nil {
		return err
	}
	if !helpers.ConstantTimeCompare(digest, commitment) {
		return ErrMismatch
	}
	return nil
}

// NewSecret generates a random secret and its commitment under the scheme.
func NewSecret(s Scheme) (secret, commitment []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(SecretSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	commitment, err = s.Digest(secret)
	if err != nil {
		return nil, nil, err
	}
	return secret, commitment, nil
}
