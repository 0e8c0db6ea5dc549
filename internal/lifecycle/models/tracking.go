package models

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// NewTrackingCode generates an immutable tracking identifier like
// PKG-7Q3M2F9ZKT4A. The 7 random bytes give enough space that reuse is
// not a practical concern; the store's unique constraint is the
// backstop.
func NewTrackingCode(prefix string) (string, error) {
	buf := make([]byte, 7)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate tracking code: %w", err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return prefix + "-" + encoded, nil
}
