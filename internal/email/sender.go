// Package email delivers account mail: the Postmark client, a logging
// fallback for development, and a queue that retries failed sends.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs messages instead of sending them. It is used when no
// Postmark token is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.Logger.InfoContext(ctx, "email not sent, no provider configured", "to", to, "subject", subject, "body", body)
	return nil
}

// VerificationLink builds the link a user follows to verify their email.
func VerificationLink(baseURL, addr, token string) string {
	q := url.Values{}
	q.Set("email", addr)
	q.Set("token", token)
	return baseURL + "/verify?" + q.Encode()
}

// VerificationMessage returns the subject and body of the verification
// email. A zero ttl means the link does not expire.
func VerificationMessage(productName, baseURL, addr, token string, ttl time.Duration) (subject, body string) {
	validity := "The link does not expire."
	if ttl > 0 {
		validity = fmt.Sprintf("The link is valid for %s.", formatTTL(ttl))
	}
	subject = fmt.Sprintf("Confirm your email for %s", productName)
	body = fmt.Sprintf(`Hello,

To finish registering, confirm your email address by opening this link:
%s

%s

If you did not sign up for %s, you can ignore this message.
`, VerificationLink(baseURL, addr, token), validity, productName)
	return subject, body
}

func formatTTL(d time.Duration) string {
	unit := func(n int64, name string) string {
		if n == 1 {
			return "1 " + name
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	switch {
	case d%(24*time.Hour) == 0:
		return unit(int64(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return unit(int64(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return unit(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}
