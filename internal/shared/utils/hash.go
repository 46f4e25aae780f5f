package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// Hasher provides deterministic content hashing
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

// Hash computes a hash of the input data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HashJSON hashes the JSON encoding of v. Map keys are sorted by encoding/json.
func (h *Hasher) HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return h.Hash(data), nil
}

// HashOrdered hashes fields in the given order
func (h *Hasher) HashOrdered(fields ...string) string {
	return h.Hash([]byte(strings.Join(fields, "|")))
}

// SlotVersion derives the optimistic version token of a slot from its ordered
// member ids. Any reorder, insert or removal changes the token.
func SlotVersion(parentID, slot string, memberIDs []string) string {
	fields := make([]string, 0, len(memberIDs)+2)
	fields = append(fields, parentID, slot)
	fields = append(fields, memberIDs...)
	return DefaultHasher().HashOrdered(fields...)[:16]
}
