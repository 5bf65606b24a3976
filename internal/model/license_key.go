package model

import "time"

type LicenseKey struct {
	ID         int64      `json:"id"`
	AccountID  int64      `json:"account_id"`
	Key        string     `json:"key"`
	IsUsed     bool       `json:"is_used"`
	IssuedAt   time.Time  `json:"issued_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

// KeyInfo is what a successful key validation reveals about a key.
type KeyInfo struct {
	Key           string    `json:"key"`
	OwnerUsername string    `json:"owner_username"`
	IssuedAt      time.Time `json:"issued_at"`
}
