package model

import "time"

// Session is a row of the server-side session store. The default capsule
// backend never writes these.
type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	AccountID int64     `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
