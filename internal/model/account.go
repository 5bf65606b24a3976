package model

import "time"

type Account struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	EmailVerified      bool       `json:"email_verified"`
	VerificationToken  *string    `json:"-"`
	VerificationSentAt *time.Time `json:"-"`
	IsAdmin            bool       `json:"is_admin"`
	CreatedAt          time.Time  `json:"created_at"`
}

// HasPendingVerification reports whether a verification token is outstanding.
func (a *Account) HasPendingVerification() bool {
	return a.VerificationToken != nil
}
