package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted by the strength policy.
const MinPasswordLength = 6

// MaxPasswordLength is bcrypt's input limit; longer passwords would fail at
// hash time, so the policy rejects them up front.
const MaxPasswordLength = 72

// resetTokenBytes yields 160 bits of entropy per reset token.
const resetTokenBytes = 20

// ErrWeakPassword signals that a candidate password fails the strength policy.
var ErrWeakPassword = errors.New("password must be at least 6 characters and contain a letter, a number, and a symbol")

// ErrPasswordTooLong signals a password beyond the hashable length.
var ErrPasswordTooLong = errors.New("password must be at most 72 bytes")

// ValidatePassword enforces the password strength policy: length bounds plus
// at least one letter, one digit, and one symbol.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}

	var hasLetter, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if !hasLetter || !hasDigit || !hasSymbol {
		return ErrWeakPassword
	}
	return nil
}

// HashPassword returns a bcrypt hash of the supplied password. The salt is
// generated per call, so hashing the same password twice yields different
// outputs.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
// It returns false on any mismatch and never fails with an error.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// GenerateVerificationCode returns a 6-digit numeric code drawn uniformly
// from crypto/rand.
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// GenerateResetToken returns a hex-encoded high-entropy single-use token.
func GenerateResetToken() (string, error) {
	buffer := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buffer), nil
}

// HashToken returns the hex SHA-256 digest of a token for at-rest storage.
// Lookups compare digests, so the raw token never touches the database.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
