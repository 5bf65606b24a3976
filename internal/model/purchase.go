package model

import (
	"fmt"
	"time"
)

type Purchase struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	Plan        string    `json:"plan"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paid_at"`
}

// Amount formats the amount in major currency units, e.g. "19.99".
func (p *Purchase) Amount() string {
	return FormatCents(p.AmountCents)
}

// FormatCents renders an amount of minor units with two decimals.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
