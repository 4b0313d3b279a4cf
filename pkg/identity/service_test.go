package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smith3v/flashdeck/pkg/apperr"
	"github.com/smith3v/flashdeck/pkg/db"
	"github.com/smith3v/flashdeck/pkg/internal/testutil"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "identity-test-secret-0123456789"

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, email, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = map[string]string{}
	}
	n.tokens[email] = token
	return nil
}

func (n *captureNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

func newTestService(t *testing.T, requireResetToken bool) (*Service, *captureNotifier) {
	t.Helper()
	gdb := testutil.SetupTestDB(t)
	notifier := &captureNotifier{}
	svc, err := NewService(gdb, NewTokens(testSecret, 7*24*time.Hour, 30*time.Minute), notifier, Options{
		BcryptCost:        bcrypt.MinCost,
		RequireResetToken: requireResetToken,
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc, notifier
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "  Learner@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if user.Email != "learner@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if user.PasswordHash == "secret1" || user.PasswordHash == "" {
		t.Fatalf("expected a password hash to be stored")
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.UserID != user.ID || claims.Email != user.Email {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	loggedIn, loginToken, err := svc.Login(ctx, "learner@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if loggedIn.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, loggedIn.ID)
	}
	loginClaims, err := svc.Verify(loginToken)
	if err != nil || loginClaims.UserID != user.ID {
		t.Fatalf("login token does not verify to the user: %+v, %v", loginClaims, err)
	}
	if loginClaims.ID == claims.ID {
		t.Fatalf("expected distinct token ids")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"missing email", "", "secret1"},
		{"missing password", "a@example.com", ""},
		{"malformed email", "not-an-email", "secret1"},
		{"short password", "a@example.com", "12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, tt.email, tt.password)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "dup@example.com", "secret1"); err != nil {
		t.Fatalf("first Register returned error: %v", err)
	}
	_, _, err := svc.Register(ctx, "DUP@example.com", "other-secret")
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	var count int64
	svc.db.Model(&db.User{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one user row, got %d", count)
	}
}

func TestLoginUniformFailure(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "known@example.com", "secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	_, _, wrongPassword := svc.Login(ctx, "known@example.com", "wrong-password")
	_, _, unknownEmail := svc.Login(ctx, "nobody@example.com", "secret1")

	for _, err := range []error{wrongPassword, unknownEmail} {
		appErr, ok := apperr.As(err)
		if !ok || appErr.Kind != apperr.KindAuth {
			t.Fatalf("expected auth error, got %v", err)
		}
		if appErr.Message != msgInvalidCredentials {
			t.Fatalf("expected uniform message, got %q", appErr.Message)
		}
	}

	if _, _, err := svc.Login(ctx, "", ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
}

func TestPasswordResetWithToken(t *testing.T) {
	svc, notifier := newTestService(t, true)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "reset@example.com", "old-secret"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	err := svc.ResetPassword(ctx, "reset@example.com", "new-secret", "")
	if !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("expected auth error without token, got %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "reset@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	resetToken := notifier.token("reset@example.com")
	if resetToken == "" {
		t.Fatal("expected a reset token to be delivered")
	}

	if _, err := svc.Verify(resetToken); err == nil {
		t.Fatal("reset token must not work as an access token")
	}

	if err := svc.ResetPassword(ctx, "reset@example.com", "new-secret", resetToken); err != nil {
		t.Fatalf("ResetPassword returned error: %v", err)
	}

	if _, _, err := svc.Login(ctx, "reset@example.com", "old-secret"); !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "reset@example.com", "new-secret"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}

	err = svc.ResetPassword(ctx, "reset@example.com", "third-secret", resetToken)
	if !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("expected reset token to be single use, got %v", err)
	}
}

func TestPasswordResetTokenForOtherAccount(t *testing.T) {
	svc, notifier := newTestService(t, true)
	ctx := context.Background()

	svc.Register(ctx, "alice@example.com", "secret1")
	svc.Register(ctx, "bob@example.com", "secret2")
	if err := svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}

	err := svc.ResetPassword(ctx, "bob@example.com", "hijacked", notifier.token("alice@example.com"))
	if !apperr.Is(err, apperr.KindAuth) {
		t.Fatalf("expected auth error for foreign token, got %v", err)
	}
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	svc, notifier := newTestService(t, true)
	ctx := context.Background()

	if err := svc.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("request for unknown email must succeed, got %v", err)
	}
	if notifier.token("ghost@example.com") != "" {
		t.Fatal("no token may be issued for unknown emails")
	}

	if _, _, err := svc.Register(ctx, "known@example.com", "secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	unknownErr := svc.ResetPassword(ctx, "ghost@example.com", "secret2", "whatever")
	knownErr := svc.ResetPassword(ctx, "known@example.com", "secret2", "whatever")
	for name, err := range map[string]error{"unknown": unknownErr, "known": knownErr} {
		if !apperr.Is(err, apperr.KindAuth) {
			t.Fatalf("%s email: expected auth error, got %v", name, err)
		}
	}
	u, _ := apperr.As(unknownErr)
	k, _ := apperr.As(knownErr)
	if u.Message != k.Message {
		t.Fatalf("reset must not reveal accounts: %q vs %q", u.Message, k.Message)
	}

	legacy, _ := newTestService(t, false)
	if err := legacy.ResetPassword(ctx, "ghost@example.com", "secret1", ""); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found without token requirement, got %v", err)
	}
}

func TestPasswordResetWithoutTokenRequirement(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	svc.Register(ctx, "legacy@example.com", "secret1")

	if err := svc.ResetPassword(ctx, "legacy@example.com", "123", ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
	if err := svc.ResetPassword(ctx, "legacy@example.com", "new-secret", ""); err != nil {
		t.Fatalf("ResetPassword returned error: %v", err)
	}
	if _, _, err := svc.Login(ctx, "legacy@example.com", "new-secret"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	svc, _ := newTestService(t, true)

	other := NewTokens("another-secret-0123456789", time.Hour, time.Hour)
	foreign, _ := other.Issue(1, "a@example.com")

	expiredIssuer := NewTokens(testSecret, time.Hour, time.Hour)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := expiredIssuer.Issue(1, "a@example.com")

	for name, token := range map[string]string{
		"empty":     "",
		"malformed": "not.a.jwt",
		"foreign":   foreign,
		"expired":   expired,
	} {
		claims, err := svc.Verify(token)
		if claims != nil || !apperr.Is(err, apperr.KindAuth) {
			t.Fatalf("%s: expected auth error, got %+v, %v", name, claims, err)
		}
	}

	_, err := svc.tokens.Parse(expired, PurposeAccess)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
