package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the central identity record. The password column always holds a
// bcrypt hash, never plaintext, and is excluded from JSON serialization.
//
// The verification and reset challenge fields travel in pairs: a code/token
// is present together with its expiry while an unconsumed challenge exists,
// and both columns are cleared atomically when the challenge is consumed.
// The reset token itself is never stored, only its SHA-256 digest.
type Account struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`
	Name     string `gorm:"not null" json:"name"`

	IsVerified bool `gorm:"default:false" json:"is_verified"`

	VerificationCode      *string    `gorm:"index" json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`

	ResetTokenHash *string    `gorm:"index" json:"-"`
	ResetExpiresAt *time.Time `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// HasActiveVerification reports whether an unconsumed verification challenge
// exists at the given instant.
func (a *Account) HasActiveVerification(now time.Time) bool {
	return a.VerificationCode != nil && a.VerificationExpiresAt != nil && a.VerificationExpiresAt.After(now)
}

// HasActiveReset reports whether an unconsumed reset challenge exists at the
// given instant.
func (a *Account) HasActiveReset(now time.Time) bool {
	return a.ResetTokenHash != nil && a.ResetExpiresAt != nil && a.ResetExpiresAt.After(now)
}
