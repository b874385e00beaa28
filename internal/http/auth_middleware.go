package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/141JosephAlen/ec-bot/pkg/jwt"
)

type authContextKey string

type authInfo struct {
	Operator string
}

const contextKeyAuth authContextKey = "ec-bot-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// requireScope ensures the request carries a valid bearer token granting
// scope before invoking the handler.
func (r *Router) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, ok := r.ensureAuth(w, req, scope)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request, scope string) (context.Context, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), false
	}
	if r.jwtSecret == "" {
		r.logger.Error("jwt secret not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authentication misconfigured")
		return req.Context(), false
	}
	claims, err := jwt.Parse(token, r.jwtSecret)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), false
	}
	if !claims.HasScope(scope) {
		r.logger.Warn("token scope rejected", "error", jwt.ErrMissingScope, "operator", claims.Operator, "scope", scope)
		writeError(w, http.StatusForbidden, "token lacks "+scope+" scope")
		return req.Context(), false
	}
	ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{Operator: claims.Operator})
	return ctx, true
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
