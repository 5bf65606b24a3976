// Package token mints the two kinds of identifiers the service hands out:
// opaque verification tokens and license-key strings.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLength is the length of verification tokens.
	DefaultLength = 32

	// KeyLength is the width of a license key.
	KeyLength = 20

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// maxByte is the largest byte value that maps uniformly onto alphabet.
const maxByte = 256 - (256 % len(alphabet))

// GenerateOpaque returns a random alphanumeric string of the given length
// drawn from crypto/rand.
func GenerateOpaque(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("generate token: invalid length %d", length)
	}
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// Generator derives license keys from a username and the current time.
type Generator struct {
	now func() time.Time
}

// NewGenerator returns a Generator reading time from now, or time.Now if nil.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// LicenseKey hashes username and the nanosecond timestamp with SHA-256 and
// returns the first KeyLength hex digits in upper case. Keys are not
// guaranteed unique; storage enforces that.
func (g *Generator) LicenseKey(username string) string {
	seed := username + strconv.FormatInt(g.now().UnixNano(), 10)
	sum := sha256.Sum256([]byte(seed))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:KeyLength]
}
