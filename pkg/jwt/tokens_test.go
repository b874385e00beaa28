package jwt

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("ops", []string{ScopePull}, "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if claims.Operator != "ops" || !claims.HasScope(ScopePull) {
		t.Fatalf("expected operator ops with pull scope, got %+v", claims)
	}
}

func TestParseRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := GenerateToken("ops", nil, "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatalf("expected signature error")
	}

	expired, err := GenerateToken("ops", nil, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	if _, err := Parse(expired, "secret"); !errors.Is(err, jwtlib.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}
