package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/logger"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	MinPasswordLength = 6

	msgInvalidCredentials = "invalid email or password"
	msgInvalidResetToken  = "invalid or expired reset token"
	msgUnauthenticated    = "unauthenticated"
)

var validate = validator.New()

type Options struct {
	BcryptCost        int
	RequireResetToken bool
}

// Service registers users, checks credentials and issues tokens.
type Service struct {
	db       *gorm.DB
	tokens   *Tokens
	notifier Notifier
	opts     Options

	// dummyHash is compared against when the email is unknown so that both
	// login failures cost one bcrypt comparison.
	dummyHash []byte
}

func NewService(gdb *gorm.DB, tokens *Tokens, notifier Notifier, opts Options) (*Service, error) {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("flashdeck-dummy-password"), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &Service{db: gdb, tokens: tokens, notifier: notifier, opts: opts, dummyHash: dummy}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperr.Validationf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > 72 {
		return apperr.Validation("password must be at most 72 bytes")
	}
	return nil
}

// Register creates a user and returns it with an access token.
func (s *Service) Register(ctx context.Context, email, password string) (db.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return db.User{}, "", apperr.Validation("email and password are required")
	}
	if err := validate.Var(email, "email"); err != nil {
		return db.User{}, "", apperr.Validation("email is malformed")
	}
	if err := validatePassword(password); err != nil {
		return db.User{}, "", err
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&db.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return db.User{}, "", fmt.Errorf("failed to check email: %w", db.Classify(err))
	}
	if existing > 0 {
		return db.User{}, "", apperr.Conflict("email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return db.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := db.User{Email: email, PasswordHash: string(hash), CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		classified := db.Classify(err)
		if apperr.Is(classified, apperr.KindConflict) {
			return db.User{}, "", apperr.Conflict("email is already registered").WithCause(err)
		}
		logger.Error("failed to create user", "error", err)
		return db.User{}, "", fmt.Errorf("failed to create user: %w", classified)
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return db.User{}, "", err
	}
	logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login checks the credentials and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (db.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return db.User{}, "", apperr.Validation("email and password are required")
	}

	var user db.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return db.User{}, "", fmt.Errorf("failed to load user: %w", db.Classify(err))
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		logger.Debug("login failed", "reason", "unknown email")
		return db.User{}, "", apperr.Auth(msgInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Debug("login failed", "reason", "password mismatch", "user_id", user.ID)
		return db.User{}, "", apperr.Auth(msgInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return db.User{}, "", err
	}
	return user, token, nil
}

// RequestPasswordReset mails a reset token when the email is registered.
// Unknown emails succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperr.Validation("email is required")
	}

	var user db.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Debug("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", db.Classify(err))
	}

	token, err := s.tokens.IssueReset(user.ID, user.Email, user.PasswordHash)
	if err != nil {
		return err
	}
	expires := time.Now().UTC().Add(s.tokens.resetTTL)
	if err := s.notifier.SendPasswordReset(ctx, user.Email, token, expires); err != nil {
		logger.Error("failed to deliver password reset", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to deliver password reset: %w", err)
	}
	return nil
}

// ResetPassword overwrites the password of the account. When reset tokens
// are required, resetToken must be a live reset token for this account that
// was issued against its current password.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword, resetToken string) error {
	email = normalizeEmail(email)
	if email == "" || newPassword == "" {
		return apperr.Validation("email and new password are required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			user db.User
			err  error
		)
		if s.opts.RequireResetToken {
			user, err = s.userForResetToken(tx, email, resetToken)
		} else {
			user, err = userByEmail(tx, email)
		}
		if err != nil {
			return err
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.opts.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		if err := tx.Model(&db.User{}).Where("id = ?", user.ID).Update("password_hash", string(hash)).Error; err != nil {
			return fmt.Errorf("failed to update password: %w", db.Classify(err))
		}
		logger.Info("password reset", "user_id", user.ID)
		return nil
	})
}

// userForResetToken resolves the account from the token rather than the
// email, so unknown and known emails fail the same way.
func (s *Service) userForResetToken(tx *gorm.DB, email, resetToken string) (db.User, error) {
	claims, err := s.tokens.Parse(resetToken, PurposePasswordReset)
	if err != nil {
		return db.User{}, apperr.Auth(msgInvalidResetToken).WithCause(err)
	}
	var user db.User
	if err := tx.Where("id = ?", claims.UserID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.User{}, apperr.Auth(msgInvalidResetToken)
		}
		return db.User{}, fmt.Errorf("failed to load user: %w", db.Classify(err))
	}
	if user.Email != email || claims.Fingerprint != fingerprint(user.PasswordHash) {
		return db.User{}, apperr.Auth(msgInvalidResetToken)
	}
	return user, nil
}

func userByEmail(tx *gorm.DB, email string) (db.User, error) {
	var user db.User
	if err := tx.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.User{}, apperr.NotFound("user not found")
		}
		return db.User{}, fmt.Errorf("failed to load user: %w", db.Classify(err))
	}
	return user, nil
}

// Verify checks an access token.
func (s *Service) Verify(token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token, PurposeAccess)
	if err != nil {
		return nil, apperr.Auth(msgUnauthenticated).WithCause(err)
	}
	return claims, nil
}
