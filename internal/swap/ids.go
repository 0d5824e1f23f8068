package swap

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// IDScheme selects how swap ids are derived.
type IDScheme string

const (
	// IDLegacy hashes only the parties and the commitment. Two swaps between
	// the same pair with the same commitment collide.
	IDLegacy IDScheme = "legacy"
	// IDCounter adds a registry nonce.
	IDCounter IDScheme = "counter"
	// IDRandom adds a random uuid.
	IDRandom IDScheme = "random"
)

// DefaultIDScheme is used when none is configured.
const DefaultIDScheme = IDCounter

// ParseIDScheme parses an id scheme name. Empty means the default.
func ParseIDScheme(s string) (IDScheme, error) {
	switch IDScheme(s) {
	case "":
		return DefaultIDScheme, nil
	case IDLegacy, IDCounter, IDRandom:
		return IDScheme(s), nil
	default:
		return "", fmt.Errorf("unknown id scheme %q", s)
	}
}

// DeriveID computes keccak256 over the length-prefixed parties, commitment
// and nonce, rendered as 0x-prefixed hex.
func DeriveID(initiator, participant string, commitment, nonce []byte) string {
	parts := [][]byte{
		lengthPrefixed([]byte(initiator)),
		lengthPrefixed([]byte(participant)),
		lengthPrefixed(commitment),
	}
	if len(nonce) > 0 {
		parts = append(parts, lengthPrefixed(nonce))
	}
	return crypto.Keccak256Hash(parts...).Hex()
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

func counterNonce(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func randomNonce() []byte {
	u := uuid.New()
	return u[:]
}
