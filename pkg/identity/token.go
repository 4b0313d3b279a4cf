package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	PurposeAccess        = "access"
	PurposePasswordReset = "password-reset"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the payload of access and reset tokens.
type Claims struct {
	UserID  uint   `json:"userId"`
	Email   string `json:"email"`
	Purpose string `json:"purpose"`

	// Fingerprint binds a reset token to the password hash it was issued
	// against.
	Fingerprint string `json:"fp,omitempty"`

	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret   []byte
	ttl      time.Duration
	resetTTL time.Duration
	now      func() time.Time
}

func NewTokens(secret string, ttl, resetTTL time.Duration) *Tokens {
	return &Tokens{
		secret:   []byte(secret),
		ttl:      ttl,
		resetTTL: resetTTL,
		now:      time.Now,
	}
}

// Issue returns an access token for the user.
func (t *Tokens) Issue(userID uint, email string) (string, error) {
	return t.sign(Claims{UserID: userID, Email: email, Purpose: PurposeAccess}, t.ttl)
}

// IssueReset returns a password reset token bound to passwordHash.
func (t *Tokens) IssueReset(userID uint, email, passwordHash string) (string, error) {
	return t.sign(Claims{
		UserID:      userID,
		Email:       email,
		Purpose:     PurposePasswordReset,
		Fingerprint: fingerprint(passwordHash),
	}, t.resetTTL)
}

func (t *Tokens) sign(claims Claims, ttl time.Duration) (string, error) {
	now := t.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatUint(uint64(claims.UserID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, expiry and purpose of token.
//
// # Returns
//
// - *Claims: the verified claims
//
// - error: ErrTokenExpired when the token is past its expiry, ErrInvalidToken
// for any other failure.
func (t *Tokens) Parse(token, purpose string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: purpose %q, want %q", ErrInvalidToken, claims.Purpose, purpose)
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}

func fingerprint(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return hex.EncodeToString(sum[:8])
}
