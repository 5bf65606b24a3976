package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dukerupert/keyledger/internal/model"
)

// MinSecretLength is the shortest HMAC secret a Capsule accepts.
const MinSecretLength = 32

// Capsule encodes sessions as HS256-signed JWTs held by the client. No
// server state is kept, so Revoke cannot invalidate a token before it
// expires.
type Capsule struct {
	secret []byte
}

func NewCapsule(secret []byte) (*Capsule, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	return &Capsule{secret: secret}, nil
}

// capsuleClaims carries iat and exp at nanosecond precision next to the
// registered claims, which jwt truncates to whole seconds.
type capsuleClaims struct {
	jwt.RegisteredClaims
	IssuedAtNano  int64 `json:"iat_ns"`
	ExpiresAtNano int64 `json:"exp_ns"`
}

func (c *Capsule) Issue(_ context.Context, accountID int64, issuedAt, expiresAt time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, capsuleClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedAtNano:  issuedAt.UnixNano(),
		ExpiresAtNano: expiresAt.UnixNano(),
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

func (c *Capsule) Lookup(_ context.Context, token string) (Claims, error) {
	var cc capsuleClaims
	// Expiry is judged by the Manager's clock, so only the signature is
	// checked here.
	_, err := jwt.ParseWithClaims(token, &cc, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", model.ErrInvalidSession, err)
	}
	rc := cc.RegisteredClaims
	if rc.IssuedAt == nil || rc.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing iat or exp", model.ErrInvalidSession)
	}
	accountID, err := strconv.ParseInt(rc.Subject, 10, 64)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: bad subject", model.ErrInvalidSession)
	}
	claims := Claims{
		ID:        rc.ID,
		AccountID: accountID,
		IssuedAt:  rc.IssuedAt.Time,
		ExpiresAt: rc.ExpiresAt.Time,
	}
	if cc.IssuedAtNano != 0 && cc.ExpiresAtNano != 0 {
		claims.IssuedAt = time.Unix(0, cc.IssuedAtNano).UTC()
		claims.ExpiresAt = time.Unix(0, cc.ExpiresAtNano).UTC()
	}
	return claims, nil
}

// Revoke is a no-op; the client discards the token.
func (c *Capsule) Revoke(context.Context, string) error {
	return nil
}
