// Package account owns the account lifecycle: registration, password
// authentication, email verification and administrative deletion.
package account

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/email"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/password"
	"github.com/dukerupert/keyledger/internal/store"
	"github.com/dukerupert/keyledger/internal/token"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 64
)

type Config struct {
	BaseURL     string
	ProductName string
	// VerificationTTL bounds how long a verification token is accepted.
	// Zero disables the check.
	VerificationTTL time.Duration
}

type Service struct {
	db        *sql.DB
	accounts  *store.AccountStore
	keys      *store.LicenseKeyStore
	purchases *store.PurchaseStore
	sessions  *store.SessionStore
	hasher    password.Hasher
	mailer    email.Sender
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *sql.DB, hasher password.Hasher, mailer email.Sender, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:        db,
		accounts:  store.NewAccountStore(db),
		keys:      store.NewLicenseKeyStore(db),
		purchases: store.NewPurchaseStore(db),
		sessions:  store.NewSessionStore(db),
		hasher:    hasher,
		mailer:    mailer,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "account"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateRegistration(username, addr, pw string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return fmt.Errorf("%w: username must be %d-%d characters", model.ErrInvalidInput, MinUsernameLength, MaxUsernameLength)
	}
	if strings.TrimSpace(username) != username {
		return fmt.Errorf("%w: username must not start or end with spaces", model.ErrInvalidInput)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return fmt.Errorf("%w: malformed email address", model.ErrInvalidInput)
	}
	if pw == "" {
		return fmt.Errorf("%w: password is required", model.ErrInvalidInput)
	}
	return nil
}

// Register creates an unverified account and emails it a verification link.
// When the email cannot be sent the account is still returned, together
// with an error wrapping model.ErrDispatchFailure.
func (s *Service) Register(ctx context.Context, username, addr, pw string) (*model.Account, error) {
	if err := validateRegistration(username, addr, pw); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	tok, err := token.GenerateOpaque(token.DefaultLength)
	if err != nil {
		return nil, err
	}
	sentAt := s.now().UTC()

	acct, err := s.accounts.Create(ctx, store.NewAccount{
		Username:           username,
		Email:              addr,
		PasswordHash:       hash,
		VerificationToken:  &tok,
		VerificationSentAt: &sentAt,
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateUsername) || errors.Is(err, model.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, model.Storage("register", err)
	}
	s.logger.InfoContext(ctx, "account registered", "account_id", acct.ID, "username", acct.Username)

	if err := s.sendVerification(ctx, acct.Email, tok); err != nil {
		return acct, err
	}
	return acct, nil
}

func (s *Service) sendVerification(ctx context.Context, addr, tok string) error {
	subject, body := email.VerificationMessage(s.cfg.ProductName, s.cfg.BaseURL, addr, tok, s.cfg.VerificationTTL)
	if err := s.mailer.Send(ctx, addr, subject, body); err != nil {
		s.logger.WarnContext(ctx, "verification email failed", "to", addr, "error", err)
		return fmt.Errorf("send verification email: %w: %w", model.ErrDispatchFailure, err)
	}
	return nil
}

// Authenticate returns the account whose username or email equals identifier
// and whose password digest matches pw.
func (s *Service) Authenticate(ctx context.Context, identifier, pw string) (*model.Account, error) {
	candidates, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, model.Storage("authenticate", err)
	}
	for i := range candidates {
		if password.Verify(candidates[i].PasswordHash, pw) {
			return &candidates[i], nil
		}
	}
	return nil, model.ErrInvalidCredentials
}

// VerifyEmail consumes the pending verification token of the account with
// the given email. Every failure satisfies errors.Is(err, model.ErrInvalidToken).
func (s *Service) VerifyEmail(ctx context.Context, addr, tok string) (*model.Account, error) {
	acct, err := s.accounts.GetByEmail(ctx, addr)
	if err != nil {
		return nil, model.Storage("verify email", err)
	}
	if acct == nil {
		return nil, model.ErrInvalidToken
	}
	if acct.EmailVerified {
		return nil, model.ErrAlreadyVerified
	}
	if acct.VerificationToken == nil || tok == "" ||
		subtle.ConstantTimeCompare([]byte(*acct.VerificationToken), []byte(tok)) != 1 {
		return nil, model.ErrInvalidToken
	}
	if s.cfg.VerificationTTL > 0 && acct.VerificationSentAt != nil &&
		s.now().Sub(*acct.VerificationSentAt) > s.cfg.VerificationTTL {
		return nil, model.ErrVerificationExpired
	}

	ok, err := s.accounts.MarkVerified(ctx, acct.ID, tok)
	if err != nil {
		return nil, model.Storage("verify email", err)
	}
	if !ok {
		// Token was replaced or consumed since it was read.
		return nil, model.ErrInvalidToken
	}
	s.logger.InfoContext(ctx, "email verified", "account_id", acct.ID)

	verified, err := s.accounts.GetByID(ctx, acct.ID)
	if err != nil {
		return nil, model.Storage("verify email", err)
	}
	if verified == nil {
		return nil, model.ErrInvalidToken
	}
	return verified, nil
}

// ResendVerification replaces the pending token and sends a new link. The
// previous token stops working.
func (s *Service) ResendVerification(ctx context.Context, accountID int64) error {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.EmailVerified {
		return model.ErrAlreadyVerified
	}

	tok, err := token.GenerateOpaque(token.DefaultLength)
	if err != nil {
		return err
	}
	if err := s.accounts.SetVerificationToken(ctx, acct.ID, tok, s.now()); err != nil {
		return model.Storage("resend verification", err)
	}
	return s.sendVerification(ctx, acct.Email, tok)
}

func (s *Service) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, model.Storage("get account", err)
	}
	if acct == nil {
		return nil, model.ErrNotFound
	}
	return acct, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, model.Storage("list accounts", err)
	}
	return accounts, nil
}

// DeleteAccount removes targetID together with its purchases, license keys
// and stored sessions. An actor cannot delete their own account.
func (s *Service) DeleteAccount(ctx context.Context, actorID, targetID int64) error {
	if actorID == targetID {
		return model.ErrCannotDeleteSelf
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		accounts := s.accounts.WithTx(tx)
		target, err := accounts.GetByID(ctx, targetID)
		if err != nil {
			return model.Storage("delete account", err)
		}
		if target == nil {
			return model.ErrNotFound
		}
		if err := s.purchases.WithTx(tx).DeleteByAccountID(ctx, targetID); err != nil {
			return model.Storage("delete account", err)
		}
		if err := s.keys.WithTx(tx).DeleteByAccountID(ctx, targetID); err != nil {
			return model.Storage("delete account", err)
		}
		if err := s.sessions.WithTx(tx).DeleteByAccountID(ctx, targetID); err != nil {
			return model.Storage("delete account", err)
		}
		if err := accounts.Delete(ctx, targetID); err != nil {
			return model.Storage("delete account", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrStorageFailure) {
			err = model.Storage("delete account", err)
		}
		return err
	}
	s.logger.InfoContext(ctx, "account deleted", "account_id", targetID, "actor_id", actorID)
	return nil
}

// EnsureAdmin creates a verified administrator unless an account with the
// username already exists. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, addr, pw string) (*model.Account, bool, error) {
	existing, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		return nil, false, model.Storage("ensure admin", err)
	}
	if existing != nil {
		if !existing.IsAdmin {
			s.logger.WarnContext(ctx, "seed admin username belongs to a regular account", "username", username)
		}
		return existing, false, nil
	}
	if err := validateRegistration(username, addr, pw); err != nil {
		return nil, false, err
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, false, fmt.Errorf("hash password: %w", err)
	}
	acct, err := s.accounts.Create(ctx, store.NewAccount{
		Username:      username,
		Email:         addr,
		PasswordHash:  hash,
		EmailVerified: true,
		IsAdmin:       true,
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEmail) {
			return nil, false, err
		}
		return nil, false, model.Storage("ensure admin", err)
	}
	s.logger.InfoContext(ctx, "admin account created", "account_id", acct.ID, "username", username)
	return acct, true, nil
}
