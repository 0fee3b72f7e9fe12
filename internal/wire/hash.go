package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/sieve/internal/condtree"
)

// DomainConditionTree separates tree fingerprints from any other hash of
// the same bytes. The suffix versions the encoding.
const DomainConditionTree = "sieve/condition-tree/v1"

// Fingerprint returns the hex SHA-256 of a tree's canonical JSON. Trees
// that differ only in key order, Unicode normalization or integral float
// spelling share a fingerprint.
func Fingerprint(tree condtree.Node) (string, error) {
	canonical, err := MarshalCanonical(tree)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainConditionTree, canonical), nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
