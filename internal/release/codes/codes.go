// Package codes generates and checks one-time release codes. Only a
// bcrypt hash of a code is ever stored; a separate keyed fingerprint
// supports the warehouse-wide active-code uniqueness check without a
// scan over every stored hash.
package codes

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Length is the number of digits in a release code.
const Length = 6

var codeSpace = big.NewInt(1_000_000)

// Generate returns a cryptographically random zero-padded 6-digit code.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("could not generate release code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Hash returns a salted one-way hash of the code for storage.
func Hash(code string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash release code: %w", err)
	}
	return string(hashed), nil
}

// Verify compares a presented code against a stored hash in constant
// time.
func Verify(storedHash, presented string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(presented)) == nil
}

// Fingerprint computes a keyed digest of the code. Equal codes yield
// equal fingerprints under the same pepper, which is exactly what the
// active-code collision check needs; without the pepper the digest
// reveals nothing about the 6-digit space.
func Fingerprint(pepper []byte, code string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}
