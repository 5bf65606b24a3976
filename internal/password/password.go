// Package password produces and checks salted, slow password hashes.
//
// Two encodings are understood: bcrypt ("$2a$...") and argon2id in PHC
// string form ("$argon2id$v=19$m=...,t=...,p=...$salt$hash"). Verify accepts
// either, so the algorithm can change without invalidating stored hashes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// Bcrypt hashes with bcrypt at the given cost.
type Bcrypt struct {
	Cost int
}

// NewBcrypt returns a bcrypt Hasher. A zero cost means bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{Cost: cost}
}

func (b *Bcrypt) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (b *Bcrypt) Verify(hash, password string) bool {
	return Verify(hash, password)
}

const (
	saltSize = 16
	keySize  = 32
)

// Argon2id hashes with Argon2id.
type Argon2id struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// NewArgon2id returns an Argon2id Hasher with interactive-login parameters.
func NewArgon2id() *Argon2id {
	return &Argon2id{Time: 3, Memory: 64 * 1024, Threads: 4}
}

func (a *Argon2id) Hash(password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, a.Time, a.Memory, a.Threads, keySize)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, a.Memory, a.Time, a.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a *Argon2id) Verify(hash, password string) bool {
	return Verify(hash, password)
}

var errMalformed = errors.New("malformed argon2id hash")

// Verify reports whether password matches hash, whichever supported
// algorithm produced it.
func Verify(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		ok, err := verifyArgon2id(hash, password)
		return err == nil && ok
	case strings.HasPrefix(hash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	default:
		return false
	}
}

func verifyArgon2id(hash, password string) (bool, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return false, errMalformed
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errMalformed
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, errMalformed
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errMalformed
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errMalformed
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// New returns the Hasher for algorithm ("bcrypt" or "argon2id").
func New(algorithm string, bcryptCost int) (Hasher, error) {
	switch algorithm {
	case "", "bcrypt":
		return NewBcrypt(bcryptCost), nil
	case "argon2id":
		return NewArgon2id(), nil
	default:
		return nil, fmt.Errorf("unknown password algorithm %q", algorithm)
	}
}
