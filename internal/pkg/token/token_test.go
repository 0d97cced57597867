package token

import (
	"errors"
	"testing"
	"time"

	"taskmanager/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestService_IssueValidateRoundTrip(t *testing.T) {
	svc, err := NewService(testSecret, "HS256", 30)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	tok, err := svc.Issue(42, model.RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := svc.Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id.UserID != 42 || id.Role != model.RoleAdmin {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestService_ExpiryIsIssuePlusLifetime(t *testing.T) {
	issuedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc, err := NewService(testSecret, "HS256", 15, WithClock(fixedClock(issuedAt)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	tok, err := svc.Issue(7, model.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims := &customClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok, claims)
	if err != nil {
		t.Fatalf("parse unverified: %v", err)
	}
	if svc.Lifetime() != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %v", svc.Lifetime())
	}
	want := issuedAt.Add(svc.Lifetime())
	if !claims.ExpiresAt.Time.Equal(want) {
		t.Fatalf("expected exp %v, got %v", want, claims.ExpiresAt.Time)
	}
	if claims.Subject != "7" {
		t.Fatalf("expected subject 7, got %q", claims.Subject)
	}
}

func TestService_RejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer, err := NewService(testSecret, "HS256", 1, WithClock(fixedClock(issuedAt)))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	tok, err := issuer.Issue(1, model.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for _, at := range []time.Time{issuedAt.Add(time.Minute), issuedAt.Add(time.Hour)} {
		validator, err := NewService(testSecret, "HS256", 1, WithClock(fixedClock(at)))
		if err != nil {
			t.Fatalf("new validator: %v", err)
		}
		if _, err := validator.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken at %v, got %v", at, err)
		}
	}

	validator, _ := NewService(testSecret, "HS256", 1, WithClock(fixedClock(issuedAt.Add(59*time.Second))))
	if _, err := validator.Validate(tok); err != nil {
		t.Fatalf("expected token to be valid before expiry, got %v", err)
	}
}

func TestService_RejectsWrongSecret(t *testing.T) {
	a, _ := NewService("secret-a", "HS256", 5)
	b, _ := NewService("secret-b", "HS256", 5)
	tok, err := a.Issue(1, model.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_RejectsOtherAlgorithm(t *testing.T) {
	hs512, _ := NewService(testSecret, "HS512", 5)
	hs256, _ := NewService(testSecret, "HS256", 5)
	tok, err := hs512.Issue(1, model.RoleUser)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := hs256.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected algorithm mismatch to be rejected, got %v", err)
	}
}

func TestService_RejectsNonIntegerSubject(t *testing.T) {
	svc, _ := NewService(testSecret, "HS256", 5)
	claims := customClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: model.RoleUser,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_RejectsMissingExpiry(t *testing.T) {
	svc, _ := NewService(testSecret, "HS256", 5)
	claims := customClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Validate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_RejectsMalformedToken(t *testing.T) {
	svc, _ := NewService(testSecret, "HS256", 5)
	for _, raw := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.Validate(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", raw, err)
		}
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService("", "HS256", 5); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewService(testSecret, "RS256", 5); err == nil {
		t.Fatalf("expected error for non-HMAC algorithm")
	}
	if _, err := NewService(testSecret, "none", 5); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
	if _, err := NewService(testSecret, "HS256", 0); err == nil {
		t.Fatalf("expected error for zero lifetime")
	}
	svc, err := NewService(testSecret, "", 5)
	if err != nil {
		t.Fatalf("expected default algorithm, got %v", err)
	}
	if svc.method.Alg() != DefaultAlgorithm {
		t.Fatalf("expected %s, got %s", DefaultAlgorithm, svc.method.Alg())
	}
}
