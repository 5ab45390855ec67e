package license

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Issuer derives license keys deterministically from an identity and a
// server-held salt. The key is a convenience token mirroring the ledger's
// premium flag, not a credential: the gate never consults it.
type Issuer struct {
	salt string
}

func NewIssuer(salt string) *Issuer {
	return &Issuer{salt: salt}
}

// Derive returns the license key for an identity: the upper-cased first 16
// hex characters of sha256(identity + "-" + salt).
func (i *Issuer) Derive(identity string) string {
	sum := sha256.Sum256([]byte(identity + "-" + i.salt))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:16])
}

// Validate reports whether key matches the derived key for identity.
// Comparison is case-insensitive; an empty key never validates.
func (i *Issuer) Validate(identity, key string) bool {
	if key == "" {
		return false
	}
	return strings.EqualFold(key, i.Derive(identity))
}
