package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ScopePull allows triggering pulls through the API.
const ScopePull = "pull"

// ErrMissingScope is returned when a valid token lacks the required scope.
var ErrMissingScope = errors.New("token lacks required scope")

// Claims defines JWT payload for operator tokens.
type Claims struct {
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes,omitempty"`
	jwtlib.RegisteredClaims
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if strings.EqualFold(s, scope) {
			return true
		}
	}
	return false
}

// GenerateToken issues a signed JWT with provided secret and ttl.
func GenerateToken(operator string, scopes []string, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Operator: operator,
		Scopes:   scopes,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "ec-bot",
			Subject:   operator,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer("ec-bot"))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
